// Package worker executes single fetch targets: tier strategy, record
// normalization and delivery to the output sink.
package worker

import (
	"context"
	"fmt"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/JakeFAU/directory-crawler/internal/crawler"
	"github.com/JakeFAU/directory-crawler/internal/metrics"
	"github.com/JakeFAU/directory-crawler/internal/strategy"
	"github.com/JakeFAU/directory-crawler/internal/telemetry"
)

// Runner walks one target through the tiers.
type Runner interface {
	Run(ctx context.Context, target crawler.FetchTarget) strategy.Result
}

// Normalizer merges candidates into the emitted record.
type Normalizer interface {
	Normalize(target crawler.FetchTarget, candidates []crawler.Candidate, channel crawler.Channel) (crawler.Record, error)
}

// Stats accumulates the run summary. It is safe for concurrent use.
type Stats struct {
	mu      sync.Mutex
	summary crawler.Summary
}

func (s *Stats) update(fn func(*crawler.Summary)) {
	s.mu.Lock()
	fn(&s.summary)
	s.mu.Unlock()
}

// Summary returns a copy of the counters.
func (s *Stats) Summary() crawler.Summary {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.summary
}

// Worker is shared by all in-flight targets of a run.
type Worker struct {
	runner     Runner
	normalizer Normalizer
	sink       crawler.RecordSink
	stats      *Stats
	logger     *zap.Logger
}

// New constructs a Worker. A nil stats allocates a fresh one.
func New(runner Runner, normalizer Normalizer, sink crawler.RecordSink, stats *Stats, logger *zap.Logger) *Worker {
	if stats == nil {
		stats = &Stats{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Worker{
		runner:     runner,
		normalizer: normalizer,
		sink:       sink,
		stats:      stats,
		logger:     logger.Named("worker"),
	}
}

// Stats exposes the run counters.
func (w *Worker) Stats() *Stats {
	return w.stats
}

// Listing fetches one listing page and returns the profile seeds found on
// it. A failed page yields nil.
func (w *Worker) Listing(ctx context.Context, pageURL string) []crawler.Fields {
	res := w.runner.Run(ctx, crawler.FetchTarget{CanonicalURL: pageURL, Kind: crawler.KindListing})
	seeds := make([]crawler.Fields, 0, len(res.Candidates))
	if res.State == strategy.Done {
		for _, c := range res.Candidates {
			if c.Fields.URL != "" {
				seeds = append(seeds, c.Fields)
			}
		}
	}
	w.stats.update(func(s *crawler.Summary) {
		s.ListingPages++
		s.ListingCandidates += len(seeds)
		tally(s, res)
	})
	w.logResult(crawler.KindListing, pageURL, res)
	return seeds
}

// Process runs a detail target and normalizes the outcome. The bool is false
// when the target failed; per-target errors never escape.
func (w *Worker) Process(ctx context.Context, target crawler.FetchTarget) (crawler.Record, bool) {
	metrics.IncActiveWorkers()
	defer metrics.DecActiveWorkers()

	ctx, span := telemetry.Tracer().Start(ctx, "detail")
	defer span.End()
	span.SetAttributes(attribute.String("url", target.CanonicalURL))

	res := w.runner.Run(ctx, target)
	span.SetAttributes(attribute.String("state", res.State.String()), attribute.String("channel", string(res.Channel)))
	if res.State != strategy.Done {
		span.SetStatus(codes.Error, "target failed")
	}
	w.stats.update(func(s *crawler.Summary) {
		s.DetailPages++
		tally(s, res)
	})
	w.logResult(target.Kind, target.CanonicalURL, res)
	if res.State != strategy.Done {
		return crawler.Record{}, false
	}

	record, err := w.normalizer.Normalize(target, res.Candidates, res.Channel)
	if err != nil {
		w.stats.update(func(s *crawler.Summary) { s.Errors++; s.Failed++ })
		w.logger.Warn("normalize failed", zap.String("url", target.CanonicalURL), zap.Error(err))
		return crawler.Record{}, false
	}
	return record, true
}

// Seeded turns a listing seed straight into a record without a detail fetch.
func (w *Worker) Seeded(seed crawler.Fields) (crawler.Record, error) {
	target := crawler.FetchTarget{CanonicalURL: seed.URL, Kind: crawler.KindListing, Seed: seed}
	record, err := w.normalizer.Normalize(target, nil, crawler.ChannelDocument)
	if err != nil {
		return crawler.Record{}, fmt.Errorf("normalize listing seed: %w", err)
	}
	return record, nil
}

// Save appends record to the sink.
func (w *Worker) Save(ctx context.Context, record crawler.Record) error {
	if err := w.sink.Append(ctx, record); err != nil {
		w.stats.update(func(s *crawler.Summary) { s.Errors++ })
		return fmt.Errorf("append record %s: %w", record.ID, err)
	}
	w.stats.update(func(s *crawler.Summary) { s.Saved++ })
	metrics.ObserveRecord(record.Provenance)
	w.logger.Debug("record saved", zap.String("id", record.ID), zap.String("source", record.Provenance))
	return nil
}

func (w *Worker) logResult(kind crawler.Kind, url string, res strategy.Result) {
	if res.State == strategy.Done {
		w.logger.Debug("target done",
			zap.String("kind", kind.String()),
			zap.String("url", url),
			zap.String("channel", string(res.Channel)),
			zap.Int("candidates", len(res.Candidates)),
		)
		return
	}
	w.logger.Warn("target failed",
		zap.String("kind", kind.String()),
		zap.String("url", url),
		zap.Stringer("trace", res),
		zap.Error(res.Err),
	)
}

func tally(s *crawler.Summary, res strategy.Result) {
	s.Blocked += res.Blocked
	s.Errors += res.Errors
	if res.State != strategy.Done {
		s.Failed++
		return
	}
	switch res.Channel {
	case crawler.ChannelDataEndpoint:
		s.DataEndpointHits++
	case crawler.ChannelDocument:
		s.DocumentHits++
	case crawler.ChannelBrowser:
		s.BrowserHits++
	}
}

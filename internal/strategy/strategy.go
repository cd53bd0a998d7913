package strategy

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/JakeFAU/directory-crawler/internal/crawler"
	"github.com/JakeFAU/directory-crawler/internal/extract"
	"github.com/JakeFAU/directory-crawler/internal/metrics"
)

const acceptJSON = "application/json,*/*;q=0.8"

// Extractor turns tier payloads into candidates.
type Extractor interface {
	BuildID(body []byte) string
	FromDataEndpoint(kind crawler.Kind, body []byte) ([]crawler.Candidate, error)
	FromDocument(kind crawler.Kind, body []byte) ([]crawler.Candidate, error)
}

// BuildIDStore holds the run's content build identifier.
type BuildIDStore interface {
	BuildID() string
	SetBuildID(id string)
}

// Config tunes the tiers.
type Config struct {
	// MaxRetries is the transport attempt budget for tier fetches.
	MaxRetries int
	// DiscoveryRetries is the attempt budget for the build id probe.
	DiscoveryRetries int
	// RotateAlways rotates identity on every failed attempt.
	RotateAlways bool
	// DiscoveryTimeout bounds the browser used to find a build id.
	DiscoveryTimeout time.Duration
	// FallbackTimeout bounds the browser used as the last tier.
	FallbackTimeout time.Duration
}

// Strategy runs targets through the tier state machine. It is safe for
// concurrent use by multiple workers.
type Strategy struct {
	cfg          Config
	fetcher      crawler.Fetcher
	bootstrapper crawler.Bootstrapper
	extractor    Extractor
	builds       BuildIDStore
	budget       *Budget
	logger       *zap.Logger

	discovery singleflight.Group
}

// New wires a Strategy. A nil bootstrapper disables the browser tier.
func New(
	cfg Config,
	fetcher crawler.Fetcher,
	bootstrapper crawler.Bootstrapper,
	extractor Extractor,
	builds BuildIDStore,
	budget *Budget,
	logger *zap.Logger,
) *Strategy {
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if cfg.DiscoveryRetries <= 0 {
		cfg.DiscoveryRetries = 2
	}
	if cfg.DiscoveryTimeout <= 0 {
		cfg.DiscoveryTimeout = 90 * time.Second
	}
	if cfg.FallbackTimeout <= 0 {
		cfg.FallbackTimeout = 60 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Strategy{
		cfg:          cfg,
		fetcher:      fetcher,
		bootstrapper: bootstrapper,
		extractor:    extractor,
		builds:       builds,
		budget:       budget,
		logger:       logger.Named("strategy"),
	}
}

// Result is the outcome of one target.
type Result struct {
	State      State
	Candidates []crawler.Candidate
	Channel    crawler.Channel

	// Trace lists the non-terminal states visited, in order.
	Trace []State

	Blocked int
	Errors  int

	// Err is the last tier error seen, if any.
	Err error
}

type execution struct {
	target   crawler.FetchTarget
	document []byte
	result   *Result
}

// Run walks target through the tiers until Done or Failed. Per-target
// failures never escape as errors; they are reported in the Result.
func (s *Strategy) Run(ctx context.Context, target crawler.FetchTarget) Result {
	var result Result
	run := &execution{target: target, result: &result}
	state := NeedBuildID
	for !state.Terminal() {
		result.Trace = append(result.Trace, state)
		state = Next(state, s.step(ctx, state, run))
	}
	result.State = state
	metrics.ObserveTarget(target.Kind.String(), state.String())
	return result
}

func (s *Strategy) step(ctx context.Context, state State, run *execution) Event {
	switch state {
	case NeedBuildID:
		return Event{BuildIDKnown: s.ensureBuildID(ctx, run)}
	case TryDataEndpoint:
		return Event{Candidates: s.tryDataEndpoint(ctx, run)}
	case TryDocument:
		return Event{Candidates: s.tryDocument(ctx, run), BrowserAvailable: s.browserAvailable()}
	case TryBrowser:
		return Event{Candidates: s.tryBrowser(ctx, run)}
	}
	return Event{}
}

func (s *Strategy) browserAvailable() bool {
	return s.bootstrapper != nil && s.budget.Remaining() > 0
}

// ensureBuildID probes the target document for a build id and, failing
// that, launches one shared browser to obtain it.
func (s *Strategy) ensureBuildID(ctx context.Context, run *execution) bool {
	if s.builds.BuildID() != "" {
		return true
	}
	resp, err := s.fetcher.Fetch(ctx, crawler.FetchRequest{
		URL:          run.target.CanonicalURL,
		Channel:      crawler.ChannelDocument,
		MaxRetries:   s.cfg.DiscoveryRetries,
		RotateAlways: s.cfg.RotateAlways,
	})
	if err == nil {
		run.document = resp.Body
		if id := s.extractor.BuildID(resp.Body); id != "" {
			s.builds.SetBuildID(id)
			return true
		}
	} else {
		s.noteError(run, err)
		s.logger.Debug("build id probe failed", zap.String("url", run.target.CanonicalURL), zap.Error(err))
	}

	if !s.browserAvailable() {
		return s.builds.BuildID() != ""
	}
	_, err, _ = s.discovery.Do("build-id", func() (any, error) {
		if id := s.builds.BuildID(); id != "" {
			return id, nil
		}
		res, err := s.bootstrap(ctx, run.target.CanonicalURL, s.cfg.DiscoveryTimeout)
		if err != nil {
			return "", err
		}
		return res.BuildID, nil
	})
	if err != nil {
		s.noteError(run, err)
		s.logger.Warn("build id bootstrap failed", zap.String("url", run.target.CanonicalURL), zap.Error(err))
	}
	return s.builds.BuildID() != ""
}

func (s *Strategy) tryDataEndpoint(ctx context.Context, run *execution) int {
	buildID := s.builds.BuildID()
	if buildID == "" {
		metrics.ObserveTier(TryDataEndpoint.String(), "skipped")
		return 0
	}
	endpoint, err := extract.DataEndpointURL(buildID, run.target.CanonicalURL)
	if err != nil {
		s.noteError(run, err)
		return 0
	}
	resp, err := s.fetcher.Fetch(ctx, crawler.FetchRequest{
		URL:          endpoint,
		Headers:      http.Header{"Accept": {acceptJSON}},
		Channel:      crawler.ChannelDataEndpoint,
		MaxRetries:   s.cfg.MaxRetries,
		RotateAlways: s.cfg.RotateAlways,
	})
	if err != nil {
		s.noteError(run, err)
		metrics.ObserveTier(TryDataEndpoint.String(), "error")
		return 0
	}
	candidates, err := s.extractor.FromDataEndpoint(run.target.Kind, resp.Body)
	return s.accept(run, TryDataEndpoint, crawler.ChannelDataEndpoint, candidates, err)
}

func (s *Strategy) tryDocument(ctx context.Context, run *execution) int {
	body := run.document
	if body == nil {
		resp, err := s.fetcher.Fetch(ctx, crawler.FetchRequest{
			URL:          run.target.CanonicalURL,
			Channel:      crawler.ChannelDocument,
			MaxRetries:   s.cfg.MaxRetries,
			RotateAlways: s.cfg.RotateAlways,
		})
		if err != nil {
			s.noteError(run, err)
			metrics.ObserveTier(TryDocument.String(), "error")
			return 0
		}
		body = resp.Body
	}
	s.builds.SetBuildID(s.extractor.BuildID(body))
	candidates, err := s.extractor.FromDocument(run.target.Kind, body)
	return s.accept(run, TryDocument, crawler.ChannelDocument, candidates, err)
}

func (s *Strategy) tryBrowser(ctx context.Context, run *execution) int {
	res, err := s.bootstrap(ctx, run.target.CanonicalURL, s.cfg.FallbackTimeout)
	if err != nil {
		s.noteError(run, err)
		metrics.ObserveTier(TryBrowser.String(), "error")
		return 0
	}
	candidates, err := s.extractor.FromDocument(run.target.Kind, []byte(res.HTML))
	return s.accept(run, TryBrowser, crawler.ChannelBrowser, candidates, err)
}

func (s *Strategy) bootstrap(ctx context.Context, url string, hardTimeout time.Duration) (crawler.BootstrapResult, error) {
	if s.bootstrapper == nil {
		return crawler.BootstrapResult{}, crawler.ErrBootstrapDisabled
	}
	if !s.budget.Acquire() {
		metrics.ObserveBootstrap("skipped")
		return crawler.BootstrapResult{}, crawler.ErrBootstrapBudgetExhausted
	}
	res, err := s.bootstrapper.Bootstrap(ctx, crawler.BootstrapRequest{URL: url, HardTimeout: hardTimeout})
	if err != nil {
		metrics.ObserveBootstrap("error")
		return crawler.BootstrapResult{}, err
	}
	metrics.ObserveBootstrap("ok")
	s.logger.Info("browser bootstrap",
		zap.String("url", url),
		zap.Int("cookies", res.CookieCount),
		zap.String("build_id", res.BuildID),
	)
	return res, nil
}

func (s *Strategy) accept(run *execution, state State, channel crawler.Channel, candidates []crawler.Candidate, err error) int {
	if err != nil {
		// Malformed payloads count as empty.
		s.logger.Debug("extraction failed", zap.String("tier", state.String()), zap.Error(err))
	}
	if len(candidates) == 0 {
		metrics.ObserveTier(state.String(), "empty")
		run.result.Err = crawler.ErrExtractionEmpty
		return 0
	}
	metrics.ObserveTier(state.String(), "hit")
	run.result.Candidates = candidates
	run.result.Channel = channel
	run.result.Err = nil
	return len(candidates)
}

func (s *Strategy) noteError(run *execution, err error) {
	run.result.Err = err
	var parseErr *crawler.ParseError
	switch {
	case crawler.IsBlocked(err):
		run.result.Blocked++
	case errors.Is(err, crawler.ErrBootstrapBudgetExhausted), errors.As(err, &parseErr):
	default:
		run.result.Errors++
	}
}

// String renders a trace for logs.
func (r Result) String() string {
	return fmt.Sprintf("%s via %v", r.State, r.Trace)
}

package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/JakeFAU/directory-crawler/internal/clock/system"
	"github.com/JakeFAU/directory-crawler/internal/config"
	"github.com/JakeFAU/directory-crawler/internal/crawler"
	"github.com/JakeFAU/directory-crawler/internal/detector"
	"github.com/JakeFAU/directory-crawler/internal/dispatcher"
	"github.com/JakeFAU/directory-crawler/internal/extract"
	collyfetcher "github.com/JakeFAU/directory-crawler/internal/fetcher/colly"
	"github.com/JakeFAU/directory-crawler/internal/fetcher/headless"
	"github.com/JakeFAU/directory-crawler/internal/id/uuid"
	"github.com/JakeFAU/directory-crawler/internal/metrics"
	"github.com/JakeFAU/directory-crawler/internal/normalize"
	"github.com/JakeFAU/directory-crawler/internal/policy/ratelimit"
	"github.com/JakeFAU/directory-crawler/internal/proxy"
	"github.com/JakeFAU/directory-crawler/internal/seed"
	"github.com/JakeFAU/directory-crawler/internal/session"
	"github.com/JakeFAU/directory-crawler/internal/strategy"
	"github.com/JakeFAU/directory-crawler/internal/telemetry"
	"github.com/JakeFAU/directory-crawler/internal/worker"
)

// ErrNoListings is returned when the listing phase found no profiles.
var ErrNoListings = fmt.Errorf("no profiles found on listing pages: %w", crawler.ErrNoResults)

const persistTimeout = 15 * time.Second

// Clock tells time and waits.
type Clock interface {
	Now() time.Time
	Sleep(ctx context.Context, d time.Duration) error
}

// Transport bundles what the fetch collaborators share for one run.
type Transport struct {
	State    *session.State
	Proxies  crawler.ProxyProvider
	Detector crawler.BlockDetector
}

// FetcherFactory builds the HTTP transport for a run.
type FetcherFactory func(t Transport) crawler.Fetcher

// BootstrapperFactory builds the browser bootstrap for a run. Returning nil
// disables the browser tier.
type BootstrapperFactory func(t Transport) crawler.Bootstrapper

// Crawl runs one search: listing phase, then detail phase, then summary.
type Crawl struct {
	cfg      config.Config
	sessions crawler.SessionStore
	sink     crawler.RecordSink
	clock    Clock
	logger   *zap.Logger

	newFetcher      FetcherFactory
	newBootstrapper BootstrapperFactory
}

// Option customizes a Crawl.
type Option func(*Crawl)

// WithClock replaces the system clock.
func WithClock(c Clock) Option {
	return func(cr *Crawl) { cr.clock = c }
}

// WithFetcher replaces the colly transport.
func WithFetcher(f FetcherFactory) Option {
	return func(cr *Crawl) { cr.newFetcher = f }
}

// WithBootstrapper replaces the chromedp bootstrap.
func WithBootstrapper(f BootstrapperFactory) Option {
	return func(cr *Crawl) { cr.newBootstrapper = f }
}

// NewCrawl builds a Crawl over the given store and sink.
func NewCrawl(cfg config.Config, sessions crawler.SessionStore, sink crawler.RecordSink, logger *zap.Logger, opts ...Option) *Crawl {
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &Crawl{
		cfg:      cfg,
		sessions: sessions,
		sink:     sink,
		clock:    system.New(),
		logger:   logger,
	}
	c.newFetcher = c.collyFetcher
	c.newBootstrapper = c.chromeBootstrapper
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Crawl) collyFetcher(t Transport) crawler.Fetcher {
	limiter := ratelimit.New(ratelimit.Config{
		RequestsPerSecond: c.cfg.Crawler.RequestsPerSecond,
		Burst:             c.cfg.Crawler.Burst,
	})
	return collyfetcher.New(collyfetcher.Config{
		Timeout:           c.cfg.Crawler.RequestTimeout,
		DefaultMaxRetries: c.cfg.Crawler.MaxRetries,
		RetryDelay:        c.cfg.RetryDelay(),
		MaxBodyBytes:      c.cfg.Crawler.MaxBodyBytes,
		DisableTLSMimicry: c.cfg.Crawler.DisableTLSMimicry,
	}, t.State, t.Proxies, t.Detector, c.logger,
		collyfetcher.WithLimiter(limiter),
		collyfetcher.WithSleeper(c.clock.Sleep),
	)
}

func (c *Crawl) chromeBootstrapper(t Transport) crawler.Bootstrapper {
	if !c.cfg.Browser.Enabled {
		return nil
	}
	return headless.New(headless.Config{
		ExecPath:           c.cfg.Browser.ExecPath,
		NavigationTimeout:  c.cfg.Browser.NavTimeout,
		PollInterval:       c.cfg.Browser.PollInterval,
		DefaultHardTimeout: c.cfg.Browser.HardTimeout,
	}, t.State, t.Proxies, t.Detector, c.logger)
}

// Run executes the crawl. The session is persisted on every exit path once
// it has been restored. A run that saves nothing returns an error wrapping
// crawler.ErrNoResults together with the partial summary.
func (c *Crawl) Run(ctx context.Context) (summary crawler.Summary, err error) {
	start := c.clock.Now()
	deadline := start.Add(c.cfg.Crawler.Deadline)
	search := c.cfg.Search

	ctx, span := telemetry.Tracer().Start(ctx, "crawl")
	defer span.End()
	span.SetAttributes(
		attribute.String("specialty", search.Specialty),
		attribute.String("location", search.Location),
		attribute.Int("results_wanted", search.ResultsWanted),
	)

	if c.cfg.Metrics.Addr != "" {
		metricsCtx, stopMetrics := context.WithCancel(ctx)
		defer stopMetrics()
		go func() {
			if err := metrics.Serve(metricsCtx, c.cfg.Metrics.Addr, c.logger); err != nil {
				c.logger.Warn("metrics endpoint stopped", zap.Error(err))
			}
		}()
	}

	c.logger.Info("crawl starting",
		zap.String("specialty", search.Specialty),
		zap.String("location", search.Location),
		zap.String("start_url", search.StartURL),
		zap.Int("results_wanted", search.ResultsWanted),
		zap.Int("max_pages", search.MaxPages),
		zap.Bool("collect_details", search.CollectDetails),
		zap.Int("concurrency", c.cfg.Crawler.Concurrency),
	)

	state, err := session.Restore(ctx, c.sessions, c.cfg.Session.Key, uuid.New())
	if err != nil {
		return summary, err
	}
	defer func() {
		persistCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), persistTimeout)
		defer cancel()
		if perr := session.Persist(persistCtx, c.sessions, c.cfg.Session.Key, state, c.clock.Now()); perr != nil {
			c.logger.Error("session not saved", zap.Error(perr))
			err = errors.Join(err, perr)
		}
	}()

	proxies, err := proxy.New(proxy.Config{Template: c.cfg.Proxy.URL, Fallback: c.cfg.Proxy.Fallback})
	if err != nil {
		return summary, err
	}
	extractor, err := extract.New(c.cfg.Site.BaseURL)
	if err != nil {
		return summary, fmt.Errorf("build extractor: %w", err)
	}

	transport := Transport{State: state, Proxies: proxies, Detector: detector.NewHeuristic(detector.DefaultPrefixBytes)}
	budget := strategy.NewBudget(c.cfg.Browser.Budget)
	strat := strategy.New(strategy.Config{
		MaxRetries:       c.cfg.Crawler.MaxRetries,
		RotateAlways:     c.cfg.RotateAlways(),
		DiscoveryTimeout: c.cfg.Browser.HardTimeout,
		FallbackTimeout:  c.cfg.Browser.DetailHardTimeout,
	}, c.newFetcher(transport), c.newBootstrapper(transport), extractor, state, budget, c.logger)

	normalizer := normalize.New(normalize.Defaults{Specialty: search.Specialty, Location: search.Location}, c.clock)
	w := worker.New(strat, normalizer, c.sink, nil, c.logger)

	finish := func() crawler.Summary {
		s := w.Stats().Summary()
		s.Bootstraps = budget.Used()
		s.Wanted = search.ResultsWanted
		s.Runtime = c.clock.Now().Sub(start)
		return s
	}

	seeds := c.listing(ctx, w, deadline)
	if len(seeds) == 0 {
		summary = finish()
		c.logSummary(summary)
		return summary, ErrNoListings
	}

	if search.CollectDetails {
		c.details(ctx, w, seeds, deadline)
	} else {
		c.emitSeeds(ctx, w, seeds)
	}

	summary = finish()
	c.logSummary(summary)
	metrics.ObserveRun(summary.Runtime, summary.Saved, summary.Wanted)
	span.SetAttributes(attribute.Int("saved", summary.Saved))
	if summary.Saved == 0 {
		return summary, crawler.ErrNoResults
	}
	return summary, nil
}

// listing walks the listing pages in order and collects unique profile
// seeds until enough are found, the pages run out or the deadline passes.
func (c *Crawl) listing(ctx context.Context, w *worker.Worker, deadline time.Time) []crawler.Fields {
	search := c.cfg.Search
	pages := seed.ListingURLs(c.cfg.Site.BaseURL, search.StartURL, search.Specialty, search.Location, search.MaxPages)
	seen := make(map[string]struct{})
	var seeds []crawler.Fields

	for _, page := range pages {
		if len(seeds) >= search.ResultsWanted || !c.clock.Now().Before(deadline) || ctx.Err() != nil {
			break
		}
		c.logger.Info("listing", zap.String("url", page))
		for _, s := range w.Listing(ctx, page) {
			if _, dup := seen[s.URL]; dup {
				continue
			}
			seen[s.URL] = struct{}{}
			seeds = append(seeds, s)
			if len(seeds) >= search.ResultsWanted {
				break
			}
		}
		if err := c.clock.Sleep(ctx, c.cfg.ListingDelay().Sample()); err != nil {
			break
		}
	}
	c.logger.Info("listing phase done", zap.Int("profiles", len(seeds)), zap.Int("pages", len(pages)))
	return seeds
}

func (c *Crawl) details(ctx context.Context, w *worker.Worker, seeds []crawler.Fields, deadline time.Time) {
	targets := make([]crawler.FetchTarget, 0, len(seeds))
	for _, s := range seeds {
		targets = append(targets, crawler.FetchTarget{CanonicalURL: s.URL, Kind: crawler.KindDetail, Seed: s})
	}
	d := dispatcher.New(dispatcher.Config{
		Width:          c.cfg.Crawler.Concurrency,
		Cap:            c.cfg.Search.ResultsWanted,
		Deadline:       deadline,
		AdmissionDelay: c.cfg.AdmissionDelay(),
	}, w, c.clock, c.clock.Sleep, c.logger)
	report := d.Run(ctx, targets)
	c.logger.Info("detail phase done",
		zap.Int("admitted", report.Admitted),
		zap.Int("saved", report.Saved),
		zap.Int("dropped", report.Dropped),
		zap.Bool("deadline_hit", report.DeadlineHit),
	)
}

// emitSeeds saves listing seeds directly, up to the cap.
func (c *Crawl) emitSeeds(ctx context.Context, w *worker.Worker, seeds []crawler.Fields) {
	for _, s := range seeds {
		if w.Stats().Summary().Saved >= c.cfg.Search.ResultsWanted {
			return
		}
		rec, err := w.Seeded(s)
		if err != nil {
			c.logger.Warn("listing record skipped", zap.String("url", s.URL), zap.Error(err))
			continue
		}
		if err := w.Save(ctx, rec); err != nil {
			c.logger.Error("save listing record", zap.String("url", s.URL), zap.Error(err))
		}
	}
}

func (c *Crawl) logSummary(s crawler.Summary) {
	c.logger.Info("execution summary",
		zap.Int("listing_pages", s.ListingPages),
		zap.Int("listing_candidates", s.ListingCandidates),
		zap.Int("detail_pages", s.DetailPages),
		zap.Int("saved", s.Saved),
		zap.Int("wanted", s.Wanted),
		zap.Int("data_endpoint_hits", s.DataEndpointHits),
		zap.Int("document_hits", s.DocumentHits),
		zap.Int("browser_hits", s.BrowserHits),
		zap.Int("bootstraps", s.Bootstraps),
		zap.Int("blocked", s.Blocked),
		zap.Int("errors", s.Errors),
		zap.Duration("runtime", s.Runtime),
		zap.Float64("records_per_second", s.RecordsPerSecond()),
	)
}

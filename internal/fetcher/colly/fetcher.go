// Package collyfetcher implements the retrying session-aware Transport using gocolly.
package collyfetcher

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"time"

	cloudflarebp "github.com/DaRealFreak/cloudflare-bp-go"
	"github.com/gocolly/colly/v2"
	"go.uber.org/zap"

	"github.com/JakeFAU/directory-crawler/internal/clock/system"
	"github.com/JakeFAU/directory-crawler/internal/crawler"
	"github.com/JakeFAU/directory-crawler/internal/metrics"
	"github.com/JakeFAU/directory-crawler/internal/policy/backoff"
	"github.com/JakeFAU/directory-crawler/internal/policy/ratelimit"
	"github.com/JakeFAU/directory-crawler/internal/session"
)

// Baseline header values sent with every request.
const (
	AcceptDocument = "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8"
	AcceptJSON     = "application/json,*/*;q=0.8"
	AcceptLanguage = "en-US,en;q=0.9"
)

// Config controls collector behavior.
type Config struct {
	Timeout           time.Duration
	DefaultMaxRetries int
	RetryDelay        backoff.Range
	MaxBodyBytes      int
	// DisableTLSMimicry skips the browser-like TLS fingerprint wrapper.
	DisableTLSMimicry bool
}

// Sleeper waits between attempts.
type Sleeper func(ctx context.Context, d time.Duration) error

// Fetcher implements crawler.Fetcher using a fresh Colly collector per attempt.
type Fetcher struct {
	cfg      Config
	state    *session.State
	proxies  crawler.ProxyProvider
	detector crawler.BlockDetector
	limiter  *ratelimit.Limiter
	sleep    Sleeper
	logger   *zap.Logger

	newTransport func(proxyURL string) (http.RoundTripper, func(), error)
}

type collectorHooks interface {
	OnRequest(colly.RequestCallback)
	OnResponse(colly.ResponseCallback)
	OnError(colly.ErrorCallback)
}

// Option customizes a Fetcher.
type Option func(*Fetcher)

// WithLimiter paces requests through l.
func WithLimiter(l *ratelimit.Limiter) Option {
	return func(f *Fetcher) { f.limiter = l }
}

// WithSleeper replaces the inter-attempt sleep (tests use a no-op).
func WithSleeper(s Sleeper) Option {
	return func(f *Fetcher) { f.sleep = s }
}

// New builds a Fetcher bound to the run's session state.
func New(
	cfg Config,
	state *session.State,
	proxies crawler.ProxyProvider,
	detector crawler.BlockDetector,
	logger *zap.Logger,
	opts ...Option,
) *Fetcher {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 45 * time.Second
	}
	if cfg.DefaultMaxRetries <= 0 {
		cfg.DefaultMaxRetries = 3
	}
	if cfg.RetryDelay.Max == 0 && cfg.RetryDelay.Min == 0 {
		cfg.RetryDelay = backoff.Range{Min: 800 * time.Millisecond, Max: 1600 * time.Millisecond}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	f := &Fetcher{
		cfg:      cfg,
		state:    state,
		proxies:  proxies,
		detector: detector,
		sleep:    system.New().Sleep,
		logger:   logger.Named("transport"),
	}
	f.newTransport = f.buildTransport
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Fetch performs up to MaxRetries attempts and returns the first response not
// classified as blocked. Set-Cookie directives are merged into the session on
// every response, blocked or not.
func (f *Fetcher) Fetch(ctx context.Context, request crawler.FetchRequest) (crawler.RawResponse, error) {
	maxRetries := request.MaxRetries
	if maxRetries <= 0 {
		maxRetries = f.cfg.DefaultMaxRetries
	}
	channel := request.Channel
	if channel == "" {
		channel = crawler.ChannelDocument
	}

	var (
		lastErr       error
		lastSessionID string
		rotatedOnLast bool
	)
	for attempt := 1; attempt <= maxRetries; attempt++ {
		rotatedOnLast = false
		sessionID := f.state.SessionID()
		lastSessionID = sessionID
		if err := f.limiter.Wait(ctx, request.URL); err != nil {
			return crawler.RawResponse{}, &crawler.TransportError{URL: request.URL, Attempts: attempt - 1, Err: err}
		}

		start := time.Now()
		resp, err := f.attempt(ctx, request, sessionID)
		switch {
		case err != nil:
			if !backoff.Retryable(err) || ctx.Err() != nil {
				return crawler.RawResponse{}, &crawler.TransportError{URL: request.URL, Attempts: attempt, Err: err}
			}
			metrics.ObserveFetch(string(channel), "error", time.Since(start))
			f.logger.Debug("fetch attempt failed",
				zap.String("url", request.URL),
				zap.Int("attempt", attempt),
				zap.Error(err),
			)
			lastErr = err
		default:
			f.state.MergeCookies(resp.Headers.Values("Set-Cookie"))
			if !f.detector.IsBlocked(resp.StatusCode, resp.Body) {
				metrics.ObserveFetch(string(channel), "ok", time.Since(start))
				resp.Channel = channel
				return resp, nil
			}
			metrics.ObserveFetch(string(channel), "blocked", time.Since(start))
			f.logger.Debug("fetch attempt blocked",
				zap.String("url", request.URL),
				zap.Int("attempt", attempt),
				zap.Int("status", resp.StatusCode),
			)
			lastErr = &crawler.BlockedError{URL: request.URL, StatusCode: resp.StatusCode}
		}

		if backoff.RotateAt(attempt, maxRetries, request.RotateAlways) {
			f.rotate(sessionID)
			rotatedOnLast = true
		}
		if attempt < maxRetries {
			if err := f.sleep(ctx, f.cfg.RetryDelay.Sample()); err != nil {
				return crawler.RawResponse{}, &crawler.TransportError{URL: request.URL, Attempts: attempt, Err: err}
			}
		}
	}

	// A blocked identity is never carried past an exhausted retry cycle.
	if crawler.IsBlocked(lastErr) && !rotatedOnLast {
		f.rotate(lastSessionID)
	}
	return crawler.RawResponse{}, &crawler.TransportError{URL: request.URL, Attempts: maxRetries, Err: lastErr}
}

func (f *Fetcher) rotate(from string) {
	rotated, err := f.state.RotateFrom(from)
	if err != nil {
		f.logger.Warn("session rotation failed", zap.Error(err))
		return
	}
	if rotated {
		metrics.ObserveRotation()
		f.logger.Debug("session rotated", zap.String("from", from))
	}
}

func (f *Fetcher) attempt(ctx context.Context, request crawler.FetchRequest, sessionID string) (crawler.RawResponse, error) {
	proxyURL := f.proxyFor(sessionID)
	transport, release, err := f.newTransport(proxyURL)
	if err != nil {
		return crawler.RawResponse{}, fmt.Errorf("build transport: %w", err)
	}
	defer release()

	var (
		result   crawler.RawResponse
		fetchErr error
	)
	collector := f.buildCollector(transport)
	f.configureCollectorHooks(collector, f.BuildHeaders(request.Headers), &result, &fetchErr)
	if err := f.runCollector(ctx, collector, request.URL, &fetchErr); err != nil {
		return crawler.RawResponse{}, err
	}
	return result, nil
}

// proxyFor resolves the keyed proxy, falling back to the unkeyed endpoint.
func (f *Fetcher) proxyFor(sessionID string) string {
	if f.proxies == nil {
		return ""
	}
	proxyURL, err := f.proxies.URLFor(sessionID)
	if err == nil {
		return proxyURL
	}
	f.logger.Debug("keyed proxy unavailable, using unkeyed", zap.Error(err))
	proxyURL, err = f.proxies.URLFor("")
	if err != nil {
		f.logger.Warn("unkeyed proxy unavailable, connecting directly", zap.Error(err))
		return ""
	}
	return proxyURL
}

func (f *Fetcher) buildCollector(transport http.RoundTripper) *colly.Collector {
	collector := colly.NewCollector(
		colly.Async(false),
		colly.AllowURLRevisit(),
		colly.ParseHTTPErrorResponse(),
		colly.IgnoreRobotsTxt(),
	)
	collector.DisableCookies()
	collector.UserAgent = f.state.UserAgent()
	collector.SetRequestTimeout(f.cfg.Timeout)
	if f.cfg.MaxBodyBytes > 0 {
		collector.MaxBodySize = f.cfg.MaxBodyBytes
	}
	collector.WithTransport(transport)
	return collector
}

func (f *Fetcher) configureCollectorHooks(
	hooks collectorHooks,
	headers http.Header,
	result *crawler.RawResponse,
	fetchErr *error,
) {
	hooks.OnRequest(func(r *colly.Request) {
		for key, values := range headers {
			r.Headers.Del(key)
			for _, v := range values {
				r.Headers.Add(key, v)
			}
		}
	})

	hooks.OnResponse(func(r *colly.Response) {
		finalURL := ""
		if r.Request != nil && r.Request.URL != nil {
			finalURL = r.Request.URL.String()
		}
		respHeaders := http.Header{}
		if r.Headers != nil {
			respHeaders = r.Headers.Clone()
		}
		*result = crawler.RawResponse{
			URL:        finalURL,
			StatusCode: r.StatusCode,
			Headers:    respHeaders,
			Body:       append([]byte(nil), r.Body...),
		}
	})

	hooks.OnError(func(_ *colly.Response, err error) {
		*fetchErr = err
	})
}

func (f *Fetcher) runCollector(ctx context.Context, collector *colly.Collector, target string, fetchErr *error) error {
	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(target)
	}()

	select {
	case <-ctx.Done():
		return fmt.Errorf("colly fetch canceled: %w", ctx.Err())
	case err := <-done:
		if err != nil {
			return fmt.Errorf("colly visit failed: %w", err)
		}
		if *fetchErr != nil {
			return fmt.Errorf("colly response failed: %w", *fetchErr)
		}
		return nil
	}
}

// BuildHeaders merges caller headers over the session baseline. The cookie
// header is only present when the jar is non-empty.
func (f *Fetcher) BuildHeaders(overrides http.Header) http.Header {
	h := http.Header{}
	h.Set("Accept", AcceptDocument)
	h.Set("Accept-Language", AcceptLanguage)
	h.Set("Cache-Control", "no-cache")
	h.Set("Pragma", "no-cache")
	h.Set("User-Agent", f.state.UserAgent())
	if cookie := f.state.CookieHeader(); cookie != "" {
		h.Set("Cookie", cookie)
	}
	for key, values := range overrides {
		h.Del(key)
		for _, v := range values {
			h.Add(key, v)
		}
	}
	return h
}

// buildTransport creates a per-attempt transport so each attempt goes out
// through the proxy bound to the session id current at that moment.
func (f *Fetcher) buildTransport(proxyURL string) (http.RoundTripper, func(), error) {
	base := newHTTPTransport()
	if proxyURL != "" {
		u, err := url.Parse(proxyURL)
		if err != nil {
			return nil, nil, fmt.Errorf("parse proxy url: %w", err)
		}
		base.Proxy = http.ProxyURL(u)
	}
	if f.cfg.DisableTLSMimicry {
		return base, base.CloseIdleConnections, nil
	}
	return cloudflarebp.AddCloudFlareByPass(base), base.CloseIdleConnections, nil
}

func newHTTPTransport() *http.Transport {
	return &http.Transport{
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          10,
		IdleConnTimeout:       30 * time.Second,
	}
}

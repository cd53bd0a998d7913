// Package headless drives a real Chrome instance to refresh the session
// identity when plain HTTP keeps getting blocked.
package headless

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/fetch"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/JakeFAU/directory-crawler/internal/crawler"
	"github.com/JakeFAU/directory-crawler/internal/extract"
	"github.com/JakeFAU/directory-crawler/internal/policy/backoff"
	"github.com/JakeFAU/directory-crawler/internal/session"
)

const webdriverOverride = `Object.defineProperty(navigator, 'webdriver', {get: () => undefined});`

const acceptLanguage = "en-US,en;q=0.9"

var blockedHosts = []string{"googletagmanager", "google-analytics", "doubleclick"}

// Config controls browser launches.
type Config struct {
	// ExecPath overrides the Chrome binary. Empty uses the chromedp lookup.
	ExecPath string
	// NavigationTimeout bounds the initial page load.
	NavigationTimeout time.Duration
	// SettleDelay is waited after navigation before the first content check.
	SettleDelay time.Duration
	// PollInterval is the gap between block checks.
	PollInterval time.Duration
	// DefaultHardTimeout is used when a request carries none.
	DefaultHardTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.NavigationTimeout <= 0 {
		c.NavigationTimeout = 60 * time.Second
	}
	if c.SettleDelay <= 0 {
		c.SettleDelay = 2 * time.Second
	}
	if c.PollInterval <= 0 {
		c.PollInterval = 1500 * time.Millisecond
	}
	if c.DefaultHardTimeout <= 0 {
		c.DefaultHardTimeout = 90 * time.Second
	}
	return c
}

// launchPlan is everything one browser launch needs.
type launchPlan struct {
	url         string
	userAgent   string
	proxy       proxyEndpoint
	width       int
	height      int
	hardTimeout time.Duration
}

// snapshot is what a launch read back from the page.
type snapshot struct {
	html      string
	cookies   []crawler.Cookie
	userAgent string
}

type runner func(ctx context.Context, plan launchPlan) (snapshot, error)

// Bootstrapper implements crawler.Bootstrapper with one isolated Chrome
// process per call.
type Bootstrapper struct {
	cfg      Config
	state    *session.State
	proxies  crawler.ProxyProvider
	detector crawler.BlockDetector
	logger   *zap.Logger
	run      runner
}

// New builds a Bootstrapper. proxies may be nil for direct connections.
func New(
	cfg Config,
	state *session.State,
	proxies crawler.ProxyProvider,
	detector crawler.BlockDetector,
	logger *zap.Logger,
) *Bootstrapper {
	if logger == nil {
		logger = zap.NewNop()
	}
	b := &Bootstrapper{
		cfg:      cfg.withDefaults(),
		state:    state,
		proxies:  proxies,
		detector: detector,
		logger:   logger.Named("bootstrap"),
	}
	b.run = b.launch
	return b
}

// Bootstrap navigates request.URL, waits out any challenge and copies the
// browser identity into the session state. Reaching the hard timeout is not
// an error; the page content at that point is returned.
func (b *Bootstrapper) Bootstrap(ctx context.Context, request crawler.BootstrapRequest) (crawler.BootstrapResult, error) {
	hardTimeout := request.HardTimeout
	if hardTimeout <= 0 {
		hardTimeout = b.cfg.DefaultHardTimeout
	}
	endpoint, err := splitProxy(b.proxyFor(b.state.SessionID()))
	if err != nil {
		return crawler.BootstrapResult{}, &crawler.BootstrapError{URL: request.URL, Err: err}
	}
	width, height := viewport()
	plan := launchPlan{
		url:         request.URL,
		userAgent:   b.state.UserAgent(),
		proxy:       endpoint,
		width:       width,
		height:      height,
		hardTimeout: hardTimeout,
	}

	start := time.Now()
	snap, err := b.run(ctx, plan)
	if err != nil {
		return crawler.BootstrapResult{}, &crawler.BootstrapError{URL: request.URL, Err: err}
	}

	b.state.PutCookies(snap.cookies)
	b.state.SetUserAgent(snap.userAgent)
	b.state.SetBuildID(extract.BuildID([]byte(snap.html)))

	b.logger.Debug("browser session finished",
		zap.String("url", request.URL),
		zap.Duration("elapsed", time.Since(start)),
		zap.Int("cookies", len(snap.cookies)),
		zap.Bool("proxied", endpoint.server != ""),
	)
	return crawler.BootstrapResult{
		URL:         request.URL,
		HTML:        snap.html,
		BuildID:     b.state.BuildID(),
		CookieCount: len(snap.cookies),
		UserAgent:   b.state.UserAgent(),
	}, nil
}

func (b *Bootstrapper) proxyFor(sessionID string) string {
	if b.proxies == nil {
		return ""
	}
	proxyURL, err := b.proxies.URLFor(sessionID)
	if err == nil {
		return proxyURL
	}
	b.logger.Debug("keyed proxy unavailable, using unkeyed", zap.Error(err))
	proxyURL, err = b.proxies.URLFor("")
	if err != nil {
		b.logger.Warn("unkeyed proxy unavailable, launching direct", zap.Error(err))
		return ""
	}
	return proxyURL
}

// launch runs one Chrome process. Cancelling the allocator context kills
// the process, so every return path releases it.
func (b *Bootstrapper) launch(ctx context.Context, plan launchPlan) (snapshot, error) {
	allocCtx, cancelAlloc := chromedp.NewExecAllocator(ctx, b.allocatorOptions(plan)...)
	defer cancelAlloc()
	tabCtx, cancelTab := chromedp.NewContext(allocCtx)
	defer cancelTab()

	runCtx, cancel := context.WithTimeout(tabCtx, b.cfg.NavigationTimeout+b.cfg.SettleDelay+plan.hardTimeout)
	defer cancel()

	chromedp.ListenTarget(runCtx, func(ev any) {
		switch e := ev.(type) {
		case *fetch.EventRequestPaused:
			go b.resolvePaused(runCtx, e)
		case *fetch.EventAuthRequired:
			go b.answerAuth(runCtx, e, plan.proxy)
		}
	})

	deadline := time.Now().Add(plan.hardTimeout)
	err := chromedp.Run(runCtx,
		fetch.Enable().
			WithPatterns([]*fetch.RequestPattern{{URLPattern: "*"}}).
			WithHandleAuthRequests(plan.proxy.username != ""),
		chromedp.ActionFunc(func(ctx context.Context) error {
			if _, err := page.AddScriptToEvaluateOnNewDocument(webdriverOverride).Do(ctx); err != nil {
				return fmt.Errorf("install webdriver override: %w", err)
			}
			if plan.userAgent != "" {
				if err := emulation.SetUserAgentOverride(plan.userAgent).WithAcceptLanguage(acceptLanguage).Do(ctx); err != nil {
					return fmt.Errorf("set user-agent: %w", err)
				}
			}
			return nil
		}),
		chromedp.ActionFunc(func(ctx context.Context) error {
			navCtx, cancel := context.WithTimeout(ctx, b.cfg.NavigationTimeout)
			defer cancel()
			if err := chromedp.Navigate(plan.url).Do(navCtx); err != nil {
				return fmt.Errorf("navigate: %w", err)
			}
			return nil
		}),
		chromedp.Sleep(b.cfg.SettleDelay),
	)
	if err != nil {
		return snapshot{}, err
	}

	html, err := pollUnblocked(runCtx, deadline, b.cfg.PollInterval, b.detector, func(ctx context.Context) (string, error) {
		var out string
		err := chromedp.Run(ctx, chromedp.OuterHTML("html", &out, chromedp.ByQuery))
		return out, err
	})
	if err != nil {
		return snapshot{}, err
	}

	snap := snapshot{html: html}
	err = chromedp.Run(runCtx,
		chromedp.ActionFunc(func(ctx context.Context) error {
			cookies, err := network.GetCookies().Do(ctx)
			if err != nil {
				return fmt.Errorf("read cookies: %w", err)
			}
			snap.cookies = toCookies(cookies)
			return nil
		}),
		chromedp.Evaluate(`navigator.userAgent`, &snap.userAgent),
	)
	if err != nil {
		return snapshot{}, err
	}
	return snap, nil
}

func (b *Bootstrapper) allocatorOptions(plan launchPlan) []chromedp.ExecAllocatorOption {
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", "new"),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("hide-scrollbars", true),
		chromedp.Flag("enable-automation", false),
		chromedp.Flag("disable-blink-features", "AutomationControlled"),
		chromedp.Flag("lang", "en-US"),
		chromedp.NoSandbox,
		chromedp.WindowSize(plan.width, plan.height),
	)
	if plan.userAgent != "" {
		opts = append(opts, chromedp.UserAgent(plan.userAgent))
	}
	if plan.proxy.server != "" {
		opts = append(opts, chromedp.ProxyServer(plan.proxy.server))
	}
	if b.cfg.ExecPath != "" {
		opts = append(opts, chromedp.ExecPath(b.cfg.ExecPath))
	}
	return opts
}

func (b *Bootstrapper) resolvePaused(ctx context.Context, ev *fetch.EventRequestPaused) {
	ctx = cdp.WithExecutor(ctx, chromedp.FromContext(ctx).Target)
	var err error
	if ev.Request != nil && shouldBlock(ev.ResourceType, ev.Request.URL) {
		err = fetch.FailRequest(ev.RequestID, network.ErrorReasonBlockedByClient).Do(ctx)
	} else {
		err = fetch.ContinueRequest(ev.RequestID).Do(ctx)
	}
	if err != nil && !errors.Is(err, context.Canceled) {
		b.logger.Debug("resolve paused request", zap.Error(err))
	}
}

func (b *Bootstrapper) answerAuth(ctx context.Context, ev *fetch.EventAuthRequired, proxy proxyEndpoint) {
	ctx = cdp.WithExecutor(ctx, chromedp.FromContext(ctx).Target)
	resp := &fetch.AuthChallengeResponse{Response: fetch.AuthChallengeResponseResponseDefault}
	if proxy.username != "" {
		resp = &fetch.AuthChallengeResponse{
			Response: fetch.AuthChallengeResponseResponseProvideCredentials,
			Username: proxy.username,
			Password: proxy.password,
		}
	}
	if err := fetch.ContinueWithAuth(ev.RequestID, resp).Do(ctx); err != nil && !errors.Is(err, context.Canceled) {
		b.logger.Debug("answer proxy auth", zap.Error(err))
	}
}

// pollUnblocked re-reads the page until the detector clears it or deadline
// passes. The last content read is returned either way.
func pollUnblocked(
	ctx context.Context,
	deadline time.Time,
	interval time.Duration,
	detector crawler.BlockDetector,
	content func(context.Context) (string, error),
) (string, error) {
	for {
		html, err := content(ctx)
		if err != nil {
			return "", fmt.Errorf("read page: %w", err)
		}
		if detector == nil || !detector.IsBlocked(200, []byte(html)) {
			return html, nil
		}
		wait := time.Until(deadline)
		if wait <= 0 {
			return html, nil
		}
		if wait > interval {
			wait = interval
		}
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return html, nil
		case <-timer.C:
		}
	}
}

type proxyEndpoint struct {
	server   string
	username string
	password string
}

// splitProxy separates credentials from a proxy URL, since Chrome only
// accepts scheme://host:port on its command line.
func splitProxy(raw string) (proxyEndpoint, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return proxyEndpoint{}, nil
	}
	u, err := url.Parse(raw)
	if err != nil {
		return proxyEndpoint{}, fmt.Errorf("parse proxy url: %w", err)
	}
	if u.Host == "" {
		return proxyEndpoint{}, fmt.Errorf("proxy url %q has no host", raw)
	}
	scheme := u.Scheme
	if scheme == "" {
		scheme = "http"
	}
	out := proxyEndpoint{server: scheme + "://" + u.Host}
	if u.User != nil {
		out.username = u.User.Username()
		out.password, _ = u.User.Password()
	}
	return out, nil
}

func shouldBlock(resourceType network.ResourceType, rawURL string) bool {
	switch resourceType {
	case network.ResourceTypeImage, network.ResourceTypeFont, network.ResourceTypeMedia:
		return true
	}
	lower := strings.ToLower(rawURL)
	for _, host := range blockedHosts {
		if strings.Contains(lower, host) {
			return true
		}
	}
	return false
}

func viewport() (int, int) {
	return backoff.IntBetween(1880, 1960), backoff.IntBetween(1050, 1110)
}

func toCookies(in []*network.Cookie) []crawler.Cookie {
	out := make([]crawler.Cookie, 0, len(in))
	for _, c := range in {
		if c == nil || c.Name == "" {
			continue
		}
		out = append(out, crawler.Cookie{Name: c.Name, Value: c.Value})
	}
	return out
}

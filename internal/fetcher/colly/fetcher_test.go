package collyfetcher

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gocolly/colly/v2"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/directory-crawler/internal/crawler"
	"github.com/JakeFAU/directory-crawler/internal/detector"
	"github.com/JakeFAU/directory-crawler/internal/id/uuid"
	"github.com/JakeFAU/directory-crawler/internal/session"
)

func newTestFetcher(t *testing.T, proxies crawler.ProxyProvider) (*Fetcher, *session.State) {
	t.Helper()
	state, err := session.Load(nil, uuid.New(), nil)
	require.NoError(t, err)
	f := New(
		Config{Timeout: 5 * time.Second, DisableTLSMimicry: true},
		state,
		proxies,
		detector.NewHeuristic(0),
		zap.NewNop(),
		WithSleeper(func(context.Context, time.Duration) error { return nil }),
	)
	return f, state
}

func TestFetchMergesCookiesAndSendsBaselineHeaders(t *testing.T) {
	t.Parallel()

	var gotUA, gotLang, gotCookie atomic.Value
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUA.Store(r.Header.Get("User-Agent"))
		gotLang.Store(r.Header.Get("Accept-Language"))
		gotCookie.Store(r.Header.Get("Cookie"))
		http.SetCookie(w, &http.Cookie{Name: "__cf_bm", Value: "token", Path: "/"})
		_, _ = w.Write([]byte("<html><body>Dr. Smith</body></html>"))
	}))
	defer srv.Close()

	f, state := newTestFetcher(t, nil)
	resp, err := f.Fetch(context.Background(), crawler.FetchRequest{URL: srv.URL + "/doctors/dr-smith"})
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, crawler.ChannelDocument, resp.Channel)
	require.Contains(t, string(resp.Body), "Dr. Smith")

	require.Equal(t, state.UserAgent(), gotUA.Load())
	require.Equal(t, AcceptLanguage, gotLang.Load())
	require.Empty(t, gotCookie.Load(), "no cookie header with an empty jar")
	require.Equal(t, "__cf_bm=token", state.CookieHeader())
}

func TestFetchBlockedRotatesAndClearsJar(t *testing.T) {
	t.Parallel()

	var mu sync.Mutex
	var cookies []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		cookies = append(cookies, r.Header.Get("Cookie"))
		mu.Unlock()
		http.SetCookie(w, &http.Cookie{Name: "cf", Value: "1"})
		w.WriteHeader(http.StatusForbidden)
		_, _ = w.Write([]byte("Attention Required! | Cloudflare"))
	}))
	defer srv.Close()

	f, state := newTestFetcher(t, nil)
	before := state.SessionID()

	_, err := f.Fetch(context.Background(), crawler.FetchRequest{URL: srv.URL, MaxRetries: 3})
	require.Error(t, err)
	require.True(t, crawler.IsBlocked(err))
	var transportErr *crawler.TransportError
	require.True(t, errors.As(err, &transportErr))
	require.Equal(t, 3, transportErr.Attempts)

	require.NotEqual(t, before, state.SessionID())
	require.Zero(t, state.CookieCount())

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, []string{"", "cf=1", ""}, cookies, "rotation happens at the midpoint attempt")
}

func TestFetchRotateAlways(t *testing.T) {
	t.Parallel()

	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if hits.Add(1) == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		_, _ = w.Write([]byte("ok"))
	}))
	defer srv.Close()

	f, state := newTestFetcher(t, nil)
	before := state.SessionID()
	resp, err := f.Fetch(context.Background(), crawler.FetchRequest{URL: srv.URL, MaxRetries: 4, RotateAlways: true})
	require.NoError(t, err)
	require.Equal(t, "ok", string(resp.Body))
	require.EqualValues(t, 2, hits.Load())
	require.NotEqual(t, before, state.SessionID())
}

func TestFetchHeaderOverridesAndChannel(t *testing.T) {
	t.Parallel()

	var accept atomic.Value
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		accept.Store(r.Header.Get("Accept"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"pageProps":{}}`))
	}))
	defer srv.Close()

	f, _ := newTestFetcher(t, nil)
	resp, err := f.Fetch(context.Background(), crawler.FetchRequest{
		URL:     srv.URL + "/_next/data/b1/doctors.json",
		Headers: http.Header{"Accept": {AcceptJSON}},
		Channel: crawler.ChannelDataEndpoint,
	})
	require.NoError(t, err)
	require.Equal(t, AcceptJSON, accept.Load())
	require.Equal(t, crawler.ChannelDataEndpoint, resp.Channel)
}

func TestFetchStopsOnContextCancel(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		<-release
		_, _ = w.Write([]byte("late"))
	}))
	defer srv.Close()
	defer close(release)

	f, _ := newTestFetcher(t, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := f.Fetch(ctx, crawler.FetchRequest{URL: srv.URL, MaxRetries: 3})
	require.Error(t, err)
	var transportErr *crawler.TransportError
	require.True(t, errors.As(err, &transportErr))
	require.Equal(t, 1, transportErr.Attempts)
}

func TestProxyForFallsBackToUnkeyed(t *testing.T) {
	t.Parallel()

	f, state := newTestFetcher(t, &fakeProxies{keyedErr: errors.New("no sessions"), unkeyed: "http://proxy.local:8000"})
	require.Equal(t, "http://proxy.local:8000", f.proxyFor(state.SessionID()))

	f2, state2 := newTestFetcher(t, &fakeProxies{keyed: "http://session.local:8000"})
	require.Equal(t, "http://session.local:8000", f2.proxyFor(state2.SessionID()))

	f3, _ := newTestFetcher(t, &fakeProxies{keyedErr: errors.New("x"), unkeyedErr: errors.New("y")})
	require.Empty(t, f3.proxyFor("s"))
}

func TestBuildTransportAppliesProxy(t *testing.T) {
	t.Parallel()

	f, _ := newTestFetcher(t, nil)
	rt, release, err := f.buildTransport("http://user:pw@proxy.local:8000")
	require.NoError(t, err)
	defer release()
	transport, ok := rt.(*http.Transport)
	require.True(t, ok)
	req, err := http.NewRequest(http.MethodGet, "https://www.vitals.com", nil)
	require.NoError(t, err)
	proxyURL, err := transport.Proxy(req)
	require.NoError(t, err)
	require.Equal(t, "proxy.local:8000", proxyURL.Host)

	_, _, err = f.buildTransport("http://%zz")
	require.Error(t, err)

	mimic := New(Config{}, nil, nil, detector.NewHeuristic(0), nil)
	rt, release2, err := mimic.buildTransport("")
	require.NoError(t, err)
	defer release2()
	require.NotNil(t, rt)
}

func TestConfigureCollectorHooks(t *testing.T) {
	t.Parallel()

	f, _ := newTestFetcher(t, nil)
	var result crawler.RawResponse
	var fetchErr error

	hooks := &stubHooks{}
	f.configureCollectorHooks(hooks, http.Header{"X-Trace": {"yes"}}, &result, &fetchErr)
	require.NotNil(t, hooks.onRequest)
	require.NotNil(t, hooks.onResponse)
	require.NotNil(t, hooks.onError)

	collyReq := &colly.Request{Headers: &http.Header{"X-Trace": {"old"}}}
	hooks.onRequest(collyReq)
	require.Equal(t, []string{"yes"}, collyReq.Headers.Values("X-Trace"))

	hooks.onResponse(&colly.Response{
		StatusCode: http.StatusCreated,
		Body:       []byte("body"),
		Headers:    &http.Header{"Set-Cookie": {"a=1"}},
		Request:    &colly.Request{URL: mustParseURL(t, "https://example.com/final")},
	})
	require.Equal(t, http.StatusCreated, result.StatusCode)
	require.Equal(t, "https://example.com/final", result.URL)
	require.Equal(t, "a=1", result.Headers.Get("Set-Cookie"))

	hooks.onError(nil, errors.New("boom"))
	require.EqualError(t, fetchErr, "boom")
}

func TestBuildHeadersIncludesCookieOnlyWhenPresent(t *testing.T) {
	t.Parallel()

	f, state := newTestFetcher(t, nil)
	h := f.BuildHeaders(nil)
	require.Empty(t, h.Get("Cookie"))
	require.Equal(t, AcceptDocument, h.Get("Accept"))
	require.Equal(t, "no-cache", h.Get("Cache-Control"))

	state.MergeCookies([]string{"a=1", "b=2"})
	h = f.BuildHeaders(http.Header{"Accept": {AcceptJSON}})
	require.Equal(t, "a=1; b=2", h.Get("Cookie"))
	require.Equal(t, AcceptJSON, h.Get("Accept"))
}

func mustParseURL(t *testing.T, raw string) *url.URL {
	t.Helper()
	u, err := url.Parse(raw)
	require.NoError(t, err)
	return u
}

type stubHooks struct {
	onRequest  colly.RequestCallback
	onResponse colly.ResponseCallback
	onError    colly.ErrorCallback
}

func (s *stubHooks) OnRequest(cb colly.RequestCallback) {
	s.onRequest = cb
}

func (s *stubHooks) OnResponse(cb colly.ResponseCallback) {
	s.onResponse = cb
}

func (s *stubHooks) OnError(cb colly.ErrorCallback) {
	s.onError = cb
}

type fakeProxies struct {
	keyed      string
	keyedErr   error
	unkeyed    string
	unkeyedErr error
}

func (p *fakeProxies) URLFor(key string) (string, error) {
	if key == "" {
		return p.unkeyed, p.unkeyedErr
	}
	return p.keyed, p.keyedErr
}

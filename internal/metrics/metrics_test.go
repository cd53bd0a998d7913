package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestSanitizeSite(t *testing.T) {
	testCases := []struct {
		name     string
		input    string
		expected string
	}{
		{"standard https", "https://Www.Vitals.com/doctors", "www.vitals.com"},
		{"no scheme", "example.com/path", "example.com"},
		{"host with port", "example.com:8080", "example.com"},
		{"invalid url", "http://%", "unknown"},
		{"empty string", "", "unknown"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.expected, SanitizeSite(tc.input))
		})
	}
}

func TestObserversIncrementCollectors(t *testing.T) {
	Init()
	Init()

	before := testutil.ToFloat64(recordsSavedTotal.WithLabelValues("json"))
	ObserveRecord("json")
	require.InDelta(t, before+1, testutil.ToFloat64(recordsSavedTotal.WithLabelValues("json")), 0.001)

	rotations := testutil.ToFloat64(sessionRotationsTotal)
	ObserveRotation()
	require.InDelta(t, rotations+1, testutil.ToFloat64(sessionRotationsTotal), 0.001)

	blocked := testutil.ToFloat64(fetchAttemptsTotal.WithLabelValues("document", "blocked"))
	ObserveFetch("document", "blocked", 20*time.Millisecond)
	require.InDelta(t, blocked+1, testutil.ToFloat64(fetchAttemptsTotal.WithLabelValues("document", "blocked")), 0.001)

	IncActiveWorkers()
	DecActiveWorkers()
	require.InDelta(t, 0, testutil.ToFloat64(activeWorkers), 0.001)

	ObserveRun(4*time.Second, 3, 4)
	require.InDelta(t, 4, testutil.ToFloat64(runDurationSeconds), 0.001)
	require.InDelta(t, 0.75, testutil.ToFloat64(runSavedRatio), 0.001)
}

func TestRouterServesMetricsAndHealth(t *testing.T) {
	ts := httptest.NewServer(NewRouter())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/healthz")
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.NoError(t, resp.Body.Close())
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "ok", string(body))

	ObserveBootstrap("ok")
	resp, err = http.Get(ts.URL + "/metrics")
	require.NoError(t, err)
	body, err = io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.NoError(t, resp.Body.Close())
	require.Contains(t, string(body), "dircrawler_browser_bootstraps_total")
	require.Contains(t, string(body), "dircrawler_http_requests_total")
}

// Package metrics exposes Prometheus collectors for the crawler.
package metrics

import (
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	fetchAttemptsTotal        *prometheus.CounterVec
	fetchDurationSeconds      *prometheus.HistogramVec
	sessionRotationsTotal     prometheus.Counter
	bootstrapsTotal           *prometheus.CounterVec
	tierOutcomesTotal         *prometheus.CounterVec
	targetsTotal              *prometheus.CounterVec
	recordsSavedTotal         *prometheus.CounterVec
	activeWorkers             prometheus.Gauge
	rateLimitDelaysSeconds    *prometheus.HistogramVec
	runDurationSeconds        prometheus.Gauge
	runSavedRatio             prometheus.Gauge
	httpRequestsTotal         *prometheus.CounterVec
	httpRequestDurationSecond *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		fetchAttemptsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dircrawler_fetch_attempts_total",
				Help: "Fetch attempts, labeled by channel and outcome (ok, blocked, error).",
			},
			[]string{"channel", "outcome"},
		)
		fetchDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "dircrawler_fetch_duration_seconds",
				Help:    "Latency of individual fetch attempts.",
				Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30, 60},
			},
			[]string{"channel"},
		)
		sessionRotationsTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "dircrawler_session_rotations_total",
				Help: "Number of session identity rotations.",
			},
		)
		bootstrapsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dircrawler_browser_bootstraps_total",
				Help: "Browser bootstrap invocations, labeled by outcome.",
			},
			[]string{"outcome"},
		)
		tierOutcomesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dircrawler_tier_outcomes_total",
				Help: "Tier results, labeled by tier and outcome (hit, empty, error, skipped).",
			},
			[]string{"tier", "outcome"},
		)
		targetsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dircrawler_targets_total",
				Help: "Fetch targets processed, labeled by kind and final state.",
			},
			[]string{"kind", "state"},
		)
		recordsSavedTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dircrawler_records_saved_total",
				Help: "Records appended to the sink, labeled by provenance.",
			},
			[]string{"provenance"},
		)
		activeWorkers = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "dircrawler_active_workers",
				Help: "Number of targets currently in flight.",
			},
		)
		rateLimitDelaysSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "dircrawler_rate_limit_delays_seconds",
				Help:    "Histogram of rate limit wait durations.",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"domain"},
		)
		runDurationSeconds = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "dircrawler_run_duration_seconds",
				Help: "Wall-clock duration of the last finished run.",
			},
		)
		runSavedRatio = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "dircrawler_run_saved_ratio",
				Help: "Saved records over results wanted for the last finished run.",
			},
		)
		httpRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dircrawler_http_requests_total",
				Help: "Requests served by the metrics endpoint, labeled by route and code.",
			},
			[]string{"route", "code"},
		)
		httpRequestDurationSecond = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "dircrawler_http_request_duration_seconds",
				Help:    "Latency of requests served by the metrics endpoint.",
				Buckets: []float64{0.005, 0.01, 0.05, 0.1, 0.5, 1},
			},
			[]string{"route"},
		)
	})
}

// SanitizeSite extracts a lowercase hostname, or "unknown".
func SanitizeSite(rawURL string) string {
	if !strings.HasPrefix(rawURL, "http") {
		rawURL = "http://" + rawURL
	}
	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" {
		return "unknown"
	}
	return strings.ToLower(u.Hostname())
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveFetch records one transport attempt.
func ObserveFetch(channel, outcome string, duration time.Duration) {
	Init()
	fetchAttemptsTotal.WithLabelValues(channel, outcome).Inc()
	fetchDurationSeconds.WithLabelValues(channel).Observe(duration.Seconds())
}

// ObserveRotation counts a session rotation.
func ObserveRotation() {
	Init()
	sessionRotationsTotal.Inc()
}

// ObserveBootstrap counts a browser bootstrap.
func ObserveBootstrap(outcome string) {
	Init()
	bootstrapsTotal.WithLabelValues(outcome).Inc()
}

// ObserveTier counts a tier result.
func ObserveTier(tier, outcome string) {
	Init()
	tierOutcomesTotal.WithLabelValues(tier, outcome).Inc()
}

// ObserveTarget counts a finished target.
func ObserveTarget(kind, state string) {
	Init()
	targetsTotal.WithLabelValues(kind, state).Inc()
}

// ObserveRecord counts a saved record.
func ObserveRecord(provenance string) {
	Init()
	recordsSavedTotal.WithLabelValues(provenance).Inc()
}

// IncActiveWorkers increments the active workers gauge.
func IncActiveWorkers() {
	Init()
	activeWorkers.Inc()
}

// DecActiveWorkers decrements the active workers gauge.
func DecActiveWorkers() {
	Init()
	activeWorkers.Dec()
}

// ObserveRateLimitDelay records the duration of a rate limit wait.
func ObserveRateLimitDelay(domain string, duration time.Duration) {
	Init()
	rateLimitDelaysSeconds.WithLabelValues(domain).Observe(duration.Seconds())
}

// ObserveRun records the outcome of a finished run.
func ObserveRun(runtime time.Duration, saved, wanted int) {
	Init()
	runDurationSeconds.Set(runtime.Seconds())
	if wanted > 0 {
		runSavedRatio.Set(float64(saved) / float64(wanted))
	}
}

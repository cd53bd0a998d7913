// Package config loads and validates crawler configuration via Viper.
package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/JakeFAU/directory-crawler/internal/extract"
	"github.com/JakeFAU/directory-crawler/internal/policy/backoff"
)

// EnvPrefix namespaces environment overrides, e.g. DIRCRAWLER_SEARCH_LOCATION.
const EnvPrefix = "DIRCRAWLER"

// MaxConcurrency is the hard ceiling on parallel detail targets.
const MaxConcurrency = 10

// Session store kinds.
const (
	StoreMemory = "memory"
	StoreSQLite = "sqlite"
	StoreGCS    = "gcs"
)

// Record sink kinds.
const (
	SinkMemory   = "memory"
	SinkJSONL    = "jsonl"
	SinkPostgres = "postgres"
	SinkPubSub   = "pubsub"
)

// Rotation modes.
const (
	RotateMidpoint = "midpoint"
	RotateAlways   = "always"
)

// Config captures all knobs loaded via Viper.
type Config struct {
	Search  SearchConfig  `mapstructure:"search"`
	Crawler CrawlerConfig `mapstructure:"crawler"`
	Browser BrowserConfig `mapstructure:"browser"`
	Proxy   ProxyConfig   `mapstructure:"proxy"`
	Session SessionConfig `mapstructure:"session"`
	Sink    SinkConfig    `mapstructure:"sink"`
	Metrics MetricsConfig `mapstructure:"metrics"`
	Logging LoggingConfig `mapstructure:"logging"`
	Site    SiteConfig    `mapstructure:"site"`
}

// SearchConfig describes what to crawl.
type SearchConfig struct {
	Specialty      string `mapstructure:"specialty"`
	Location       string `mapstructure:"location"`
	StartURL       string `mapstructure:"start_url"`
	ResultsWanted  int    `mapstructure:"results_wanted"`
	MaxPages       int    `mapstructure:"max_pages"`
	CollectDetails bool   `mapstructure:"collect_details"`
}

// CrawlerConfig governs pacing, retries and the run deadline.
type CrawlerConfig struct {
	Concurrency       int           `mapstructure:"concurrency"`
	Deadline          time.Duration `mapstructure:"deadline"`
	RequestTimeout    time.Duration `mapstructure:"request_timeout"`
	MaxRetries        int           `mapstructure:"max_retries"`
	RotateMode        string        `mapstructure:"rotate_mode"`
	RetryDelayMin     time.Duration `mapstructure:"retry_delay_min"`
	RetryDelayMax     time.Duration `mapstructure:"retry_delay_max"`
	AdmissionDelayMin time.Duration `mapstructure:"admission_delay_min"`
	AdmissionDelayMax time.Duration `mapstructure:"admission_delay_max"`
	ListingDelayMin   time.Duration `mapstructure:"listing_delay_min"`
	ListingDelayMax   time.Duration `mapstructure:"listing_delay_max"`
	RequestsPerSecond float64       `mapstructure:"requests_per_second"`
	Burst             int           `mapstructure:"burst"`
	MaxBodyBytes      int           `mapstructure:"max_body_bytes"`
	DisableTLSMimicry bool          `mapstructure:"disable_tls_mimicry"`
}

// BrowserConfig configures the headless bootstrap.
type BrowserConfig struct {
	Enabled           bool          `mapstructure:"enabled"`
	Budget            int           `mapstructure:"budget"`
	HardTimeout       time.Duration `mapstructure:"hard_timeout"`
	DetailHardTimeout time.Duration `mapstructure:"detail_hard_timeout"`
	PollInterval      time.Duration `mapstructure:"poll_interval"`
	NavTimeout        time.Duration `mapstructure:"nav_timeout"`
	ExecPath          string        `mapstructure:"exec_path"`
}

// ProxyConfig holds the session-keyed proxy template.
type ProxyConfig struct {
	URL      string `mapstructure:"url"`
	Fallback string `mapstructure:"fallback"`
}

// SessionConfig selects where the identity is persisted between runs.
type SessionConfig struct {
	Store      string `mapstructure:"store"`
	Key        string `mapstructure:"key"`
	SQLitePath string `mapstructure:"sqlite_path"`
	GCSBucket  string `mapstructure:"gcs_bucket"`
	GCSPrefix  string `mapstructure:"gcs_prefix"`
}

// SinkConfig selects where records go.
type SinkConfig struct {
	Kind     string `mapstructure:"kind"`
	Path     string `mapstructure:"path"`
	Truncate bool   `mapstructure:"truncate"`
	DSN      string `mapstructure:"dsn"`
	Table    string `mapstructure:"table"`
	Project  string `mapstructure:"project"`
	Topic    string `mapstructure:"topic"`
}

// MetricsConfig enables the /metrics endpoint when Addr is set.
type MetricsConfig struct {
	Addr string `mapstructure:"addr"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// SiteConfig points the crawler at the directory.
type SiteConfig struct {
	BaseURL string `mapstructure:"base_url"`
}

// Load builds a Config from disk/environment. An empty path skips the file.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}
	cfg.Clamp()

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("search.specialty", "Cardiovascular Disease")
	v.SetDefault("search.location", "New York, NY")
	v.SetDefault("search.start_url", "")
	v.SetDefault("search.results_wanted", 50)
	v.SetDefault("search.max_pages", 5)
	v.SetDefault("search.collect_details", true)

	v.SetDefault("crawler.concurrency", 5)
	v.SetDefault("crawler.deadline", "4m30s")
	v.SetDefault("crawler.request_timeout", "45s")
	v.SetDefault("crawler.max_retries", 3)
	v.SetDefault("crawler.rotate_mode", RotateMidpoint)
	v.SetDefault("crawler.retry_delay_min", "800ms")
	v.SetDefault("crawler.retry_delay_max", "1600ms")
	v.SetDefault("crawler.admission_delay_min", "80ms")
	v.SetDefault("crawler.admission_delay_max", "200ms")
	v.SetDefault("crawler.listing_delay_min", "200ms")
	v.SetDefault("crawler.listing_delay_max", "600ms")
	v.SetDefault("crawler.requests_per_second", 0)
	v.SetDefault("crawler.burst", 1)
	v.SetDefault("crawler.max_body_bytes", 0)
	v.SetDefault("crawler.disable_tls_mimicry", false)

	v.SetDefault("browser.enabled", true)
	v.SetDefault("browser.budget", 3)
	v.SetDefault("browser.hard_timeout", "90s")
	v.SetDefault("browser.detail_hard_timeout", "60s")
	v.SetDefault("browser.poll_interval", "1500ms")
	v.SetDefault("browser.nav_timeout", "60s")
	v.SetDefault("browser.exec_path", "")

	v.SetDefault("proxy.url", "")
	v.SetDefault("proxy.fallback", "")

	v.SetDefault("session.store", StoreSQLite)
	v.SetDefault("session.key", "VITALS_STATE_V1")
	v.SetDefault("session.sqlite_path", "data/session.db")
	v.SetDefault("session.gcs_bucket", "")
	v.SetDefault("session.gcs_prefix", "sessions")

	v.SetDefault("sink.kind", SinkJSONL)
	v.SetDefault("sink.path", "data/records.jsonl")
	v.SetDefault("sink.truncate", false)
	v.SetDefault("sink.dsn", "")
	v.SetDefault("sink.table", "provider_profiles")
	v.SetDefault("sink.project", "")
	v.SetDefault("sink.topic", "")

	v.SetDefault("metrics.addr", "")
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.level", "info")
	v.SetDefault("site.base_url", extract.DefaultBaseURL)
}

// Clamp pulls numeric inputs back into their usable ranges. Load calls it;
// callers that override fields afterwards call it again.
func (c *Config) Clamp() {
	if c.Search.ResultsWanted < 1 {
		c.Search.ResultsWanted = 1
	}
	if c.Search.MaxPages < 1 {
		c.Search.MaxPages = 1
	}
	if c.Crawler.Concurrency < 1 {
		c.Crawler.Concurrency = 1
	}
	if c.Crawler.Concurrency > MaxConcurrency {
		c.Crawler.Concurrency = MaxConcurrency
	}
	if c.Browser.Budget < 0 {
		c.Browser.Budget = 0
	}
	c.Search.Specialty = strings.TrimSpace(c.Search.Specialty)
	c.Search.Location = strings.TrimSpace(c.Search.Location)
	c.Search.StartURL = strings.TrimSpace(c.Search.StartURL)
	c.Crawler.RotateMode = strings.ToLower(strings.TrimSpace(c.Crawler.RotateMode))
	c.Session.Store = strings.ToLower(strings.TrimSpace(c.Session.Store))
	c.Sink.Kind = strings.ToLower(strings.TrimSpace(c.Sink.Kind))
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Crawler.Deadline <= 0 {
		return fmt.Errorf("crawler.deadline must be > 0")
	}
	if c.Crawler.RequestTimeout <= 0 {
		return fmt.Errorf("crawler.request_timeout must be > 0")
	}
	if c.Crawler.MaxRetries <= 0 {
		return fmt.Errorf("crawler.max_retries must be > 0")
	}
	switch c.Crawler.RotateMode {
	case RotateMidpoint, RotateAlways:
	default:
		return fmt.Errorf("crawler.rotate_mode must be %q or %q, got %q", RotateMidpoint, RotateAlways, c.Crawler.RotateMode)
	}
	for name, r := range map[string]backoff.Range{
		"retry_delay":     c.RetryDelay(),
		"admission_delay": c.AdmissionDelay(),
		"listing_delay":   c.ListingDelay(),
	} {
		if r.Min < 0 || r.Max < r.Min {
			return fmt.Errorf("crawler.%s_min/max must satisfy 0 <= min <= max", name)
		}
	}
	if err := validateURL("site.base_url", c.Site.BaseURL); err != nil {
		return err
	}
	if c.Search.StartURL != "" {
		if err := validateURL("search.start_url", c.Search.StartURL); err != nil {
			return err
		}
	}
	if c.Session.Key == "" {
		return fmt.Errorf("session.key is required")
	}
	switch c.Session.Store {
	case StoreMemory:
	case StoreSQLite:
		if c.Session.SQLitePath == "" {
			return fmt.Errorf("session.sqlite_path is required for the sqlite store")
		}
	case StoreGCS:
		if c.Session.GCSBucket == "" {
			return fmt.Errorf("session.gcs_bucket is required for the gcs store")
		}
	default:
		return fmt.Errorf("unknown session.store %q", c.Session.Store)
	}
	switch c.Sink.Kind {
	case SinkMemory:
	case SinkJSONL:
		if c.Sink.Path == "" {
			return fmt.Errorf("sink.path is required for the jsonl sink")
		}
	case SinkPostgres:
		if c.Sink.DSN == "" {
			return fmt.Errorf("sink.dsn is required for the postgres sink")
		}
	case SinkPubSub:
		if c.Sink.Project == "" || c.Sink.Topic == "" {
			return fmt.Errorf("sink.project and sink.topic are required for the pubsub sink")
		}
	default:
		return fmt.Errorf("unknown sink.kind %q", c.Sink.Kind)
	}
	return nil
}

// RetryDelay is the randomized gap between transport attempts.
func (c Config) RetryDelay() backoff.Range {
	return backoff.Range{Min: c.Crawler.RetryDelayMin, Max: c.Crawler.RetryDelayMax}
}

// AdmissionDelay is the randomized gap between detail admissions.
func (c Config) AdmissionDelay() backoff.Range {
	return backoff.Range{Min: c.Crawler.AdmissionDelayMin, Max: c.Crawler.AdmissionDelayMax}
}

// ListingDelay is the randomized gap between listing pages.
func (c Config) ListingDelay() backoff.Range {
	return backoff.Range{Min: c.Crawler.ListingDelayMin, Max: c.Crawler.ListingDelayMax}
}

// RotateAlways reports whether every failed attempt rotates the identity.
func (c Config) RotateAlways() bool {
	return c.Crawler.RotateMode == RotateAlways
}

func validateURL(key, raw string) error {
	u, err := url.Parse(raw)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("%s must be an absolute URL, got %q", key, raw)
	}
	return nil
}

package crawler

import (
	"context"
	"net/http"
	"time"
)

// ProxyProvider hands out proxy endpoints keyed by session.
type ProxyProvider interface {
	URLFor(sessionKey string) (string, error)
}

// SessionStore persists session snapshots between runs.
type SessionStore interface {
	Get(ctx context.Context, key string) (*SessionSnapshot, error)
	Put(ctx context.Context, key string, snapshot SessionSnapshot) error
	Delete(ctx context.Context, key string) error
}

// RecordSink receives each normalized record exactly once.
type RecordSink interface {
	Append(ctx context.Context, record Record) error
}

// Fetcher performs a retrying HTTP fetch through the session identity.
type Fetcher interface {
	Fetch(ctx context.Context, request FetchRequest) (RawResponse, error)
}

// Bootstrapper drives a real browser to refresh the session identity.
type Bootstrapper interface {
	Bootstrap(ctx context.Context, request BootstrapRequest) (BootstrapResult, error)
}

// BootstrapRequest describes one browser navigation. HardTimeout bounds the
// unblock polling; reaching it returns best-effort content, not an error.
type BootstrapRequest struct {
	URL         string
	HardTimeout time.Duration
}

// BlockDetector classifies responses as anti-bot blocks.
type BlockDetector interface {
	IsBlocked(statusCode int, body []byte) bool
}

// Clock abstracts time for deterministic tests.
type Clock interface {
	Now() time.Time
}

// FetchRequest describes one logical fetch.
type FetchRequest struct {
	URL        string
	Headers    http.Header
	Channel    Channel
	MaxRetries int
	// RotateAlways rotates the session on every blocked attempt instead of only at the midpoint.
	RotateAlways bool
}

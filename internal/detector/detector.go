// Package detector classifies responses as anti-bot blocks.
package detector

import (
	"bytes"
	"net/http"
)

// DefaultPrefixBytes bounds how much of a body is inspected.
const DefaultPrefixBytes = 64 * 1024

// Heuristic implements marker-based block detection over a body prefix.
type Heuristic struct {
	PrefixBytes int
}

// NewHeuristic creates a new detector.
func NewHeuristic(prefix int) *Heuristic {
	if prefix <= 0 {
		prefix = DefaultPrefixBytes
	}
	return &Heuristic{PrefixBytes: prefix}
}

var blockedStatuses = map[int]struct{}{
	http.StatusUnauthorized:       {},
	http.StatusForbidden:          {},
	http.StatusTooManyRequests:    {},
	http.StatusServiceUnavailable: {},
}

var (
	challengeMarker = []byte("attention required")
	edgeMarker      = []byte("cloudflare")
	apologyMarker   = []byte("sorry, you have been blocked")
	traceMarker     = []byte("cf-ray")
)

// IsBlocked reports whether the response looks like an anti-bot block.
func (h *Heuristic) IsBlocked(statusCode int, body []byte) bool {
	if _, ok := blockedStatuses[statusCode]; ok {
		return true
	}
	limit := h.PrefixBytes
	if limit <= 0 {
		limit = DefaultPrefixBytes
	}
	if len(body) > limit {
		body = body[:limit]
	}
	lower := bytes.ToLower(body)
	edge := bytes.Contains(lower, edgeMarker)
	switch {
	case edge && bytes.Contains(lower, challengeMarker):
		return true
	case bytes.Contains(lower, apologyMarker):
		return true
	case edge && bytes.Contains(lower, traceMarker):
		return true
	}
	return false
}

var defaultHeuristic = NewHeuristic(DefaultPrefixBytes)

// IsBlocked classifies with the default prefix length.
func IsBlocked(statusCode int, body []byte) bool {
	return defaultHeuristic.IsBlocked(statusCode, body)
}

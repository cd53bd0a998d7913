// Package backoff produces randomized delays for retries and pacing.
package backoff

import (
	"context"
	"crypto/rand"
	"errors"
	"math/big"
	"time"
)

// Range is an inclusive [Min, Max] delay window.
type Range struct {
	Min time.Duration
	Max time.Duration
}

// Sample returns a uniformly random duration inside the range.
func (r Range) Sample() time.Duration {
	if r.Max <= r.Min {
		return r.Min
	}
	return r.Min + randomJitter(r.Max-r.Min)
}

// Between is shorthand for Range{min, max}.Sample().
func Between(minDelay, maxDelay time.Duration) time.Duration {
	return Range{Min: minDelay, Max: maxDelay}.Sample()
}

// IntBetween returns a random int in [lo, hi].
func IntBetween(lo, hi int) int {
	if hi <= lo {
		return lo
	}
	n, err := rand.Int(rand.Reader, big.NewInt(int64(hi-lo+1)))
	if err != nil {
		return lo + (hi-lo)/2
	}
	return lo + int(n.Int64())
}

// Retryable reports whether err is worth another attempt.
func Retryable(err error) bool {
	if err == nil {
		return false
	}
	return !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded)
}

// RotateAt reports whether a session rotation is due on this 1-based attempt.
// Midpoint mode rotates once at ceil(maxRetries/2).
func RotateAt(attempt, maxRetries int, always bool) bool {
	if always {
		return true
	}
	if maxRetries <= 0 {
		return false
	}
	return attempt == (maxRetries+1)/2
}

func randomJitter(limit time.Duration) time.Duration {
	if limit <= 0 {
		return 0
	}
	n, err := rand.Int(rand.Reader, big.NewInt(int64(limit)+1))
	if err != nil {
		return limit / 2
	}
	return time.Duration(n.Int64())
}

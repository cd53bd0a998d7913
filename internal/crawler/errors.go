package crawler

import (
	"errors"
	"fmt"
)

var (
	// ErrExtractionEmpty signals that a tier produced zero candidates.
	ErrExtractionEmpty = errors.New("extraction produced no candidates")
	// ErrBootstrapBudgetExhausted is returned once the per-run browser budget is spent.
	ErrBootstrapBudgetExhausted = errors.New("browser bootstrap budget exhausted")
	// ErrBootstrapDisabled is returned when no browser is configured.
	ErrBootstrapDisabled = errors.New("browser bootstrap disabled")
	// ErrNoBuildID signals that no content build identifier is known.
	ErrNoBuildID = errors.New("no content build identifier")
	// ErrNoResults is returned when a run saved nothing.
	ErrNoResults = errors.New("no results scraped; the source is likely blocking this traffic, try a residential proxy group and lower concurrency")
)

// BlockedError reports a response classified as an anti-bot block.
type BlockedError struct {
	URL        string
	StatusCode int
}

func (e *BlockedError) Error() string {
	return fmt.Sprintf("blocked (%d) fetching %s", e.StatusCode, e.URL)
}

// TransportError reports a fetch that exhausted its retries.
type TransportError struct {
	URL      string
	Attempts int
	Err      error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("fetch %s failed after %d attempts: %v", e.URL, e.Attempts, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// BootstrapError reports a failed browser navigation.
type BootstrapError struct {
	URL string
	Err error
}

func (e *BootstrapError) Error() string {
	return fmt.Sprintf("browser bootstrap %s: %v", e.URL, e.Err)
}

func (e *BootstrapError) Unwrap() error { return e.Err }

// ParseError reports a malformed structured payload.
type ParseError struct {
	Source Source
	Err    error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse %s payload: %v", e.Source, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// IsBlocked reports whether err wraps a BlockedError.
func IsBlocked(err error) bool {
	var blocked *BlockedError
	return errors.As(err, &blocked)
}

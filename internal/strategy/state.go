// Package strategy walks one fetch target through the acquisition tiers:
// data endpoint, server-rendered document, then a real browser.
package strategy

import "sync/atomic"

// State is a tier state of one target.
type State int

// Tier states. Done and Failed are terminal.
const (
	NeedBuildID State = iota
	TryDataEndpoint
	TryDocument
	TryBrowser
	Done
	Failed
)

func (s State) String() string {
	switch s {
	case NeedBuildID:
		return "need_build_id"
	case TryDataEndpoint:
		return "data_endpoint"
	case TryDocument:
		return "document"
	case TryBrowser:
		return "browser"
	case Done:
		return "done"
	case Failed:
		return "failed"
	}
	return "unknown"
}

// Terminal reports whether s ends the walk.
func (s State) Terminal() bool {
	return s == Done || s == Failed
}

// Event is what a tier step observed.
type Event struct {
	// BuildIDKnown reports whether a content build identifier is available.
	BuildIDKnown bool
	// Candidates is how many candidates the step extracted.
	Candidates int
	// BrowserAvailable reports whether a browser launch may still happen.
	BrowserAvailable bool
}

// Next is the transition function. The data endpoint tier is only ever
// entered with a known build identifier.
func Next(state State, ev Event) State {
	switch state {
	case NeedBuildID:
		if ev.BuildIDKnown {
			return TryDataEndpoint
		}
		return TryDocument
	case TryDataEndpoint:
		if ev.Candidates > 0 {
			return Done
		}
		return TryDocument
	case TryDocument:
		if ev.Candidates > 0 {
			return Done
		}
		if ev.BrowserAvailable {
			return TryBrowser
		}
		return Failed
	case TryBrowser:
		if ev.Candidates > 0 {
			return Done
		}
		return Failed
	}
	return state
}

// Budget caps browser launches for a run.
type Budget struct {
	remaining atomic.Int64
	used      atomic.Int64
}

// NewBudget allows n launches. Negative n is treated as zero.
func NewBudget(n int) *Budget {
	b := &Budget{}
	if n > 0 {
		b.remaining.Store(int64(n))
	}
	return b
}

// Acquire takes one launch from the budget.
func (b *Budget) Acquire() bool {
	if b == nil {
		return false
	}
	for {
		cur := b.remaining.Load()
		if cur <= 0 {
			return false
		}
		if b.remaining.CompareAndSwap(cur, cur-1) {
			b.used.Add(1)
			return true
		}
	}
}

// Remaining reports launches left.
func (b *Budget) Remaining() int {
	if b == nil {
		return 0
	}
	return int(b.remaining.Load())
}

// Used reports launches taken.
func (b *Budget) Used() int {
	if b == nil {
		return 0
	}
	return int(b.used.Load())
}

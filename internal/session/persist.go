package session

import (
	"context"
	"fmt"
	"time"

	"github.com/JakeFAU/directory-crawler/internal/crawler"
)

// Restore loads the persisted identity under key, or starts a fresh one.
// Store failures are returned: an unreachable store is fatal at run setup.
func Restore(ctx context.Context, store crawler.SessionStore, key string, ids IDSource) (*State, error) {
	snap, err := store.Get(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("load session %q: %w", key, err)
	}
	return Load(snap, ids, nil)
}

// Persist writes the current identity under key.
func Persist(ctx context.Context, store crawler.SessionStore, key string, state *State, now time.Time) error {
	snap := state.Snapshot()
	snap.SavedAt = now
	if err := store.Put(ctx, key, snap); err != nil {
		return fmt.Errorf("save session %q: %w", key, err)
	}
	return nil
}

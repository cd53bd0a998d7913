// Package sqlite persists session snapshots in a local SQLite database.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	_ "modernc.org/sqlite" // registers the "sqlite" driver

	"github.com/JakeFAU/directory-crawler/internal/crawler"
)

const migration = `
CREATE TABLE IF NOT EXISTS sessions (
	key        TEXT PRIMARY KEY,
	snapshot   TEXT NOT NULL,
	updated_at DATETIME NOT NULL DEFAULT (datetime('now'))
);
`

// SessionStore implements crawler.SessionStore.
type SessionStore struct {
	db *sql.DB
}

// Open opens the database at path, applies pragmas and migrates.
func Open(ctx context.Context, path string) (*SessionStore, error) {
	if path == "" {
		return nil, fmt.Errorf("sqlite path is required")
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open: %w", err)
	}
	db.SetMaxOpenConns(1)
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("sqlite: exec %s: %w", pragma, err)
		}
	}
	if _, err := db.ExecContext(ctx, migration); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite: migrate: %w", err)
	}
	return &SessionStore{db: db}, nil
}

// Get returns the snapshot under key, or nil when none is stored.
func (s *SessionStore) Get(ctx context.Context, key string) (*crawler.SessionSnapshot, error) {
	var raw string
	err := s.db.QueryRowContext(ctx, `SELECT snapshot FROM sessions WHERE key = ?`, key).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite: get session %q: %w", key, err)
	}
	var snap crawler.SessionSnapshot
	if err := json.Unmarshal([]byte(raw), &snap); err != nil {
		return nil, fmt.Errorf("sqlite: decode session %q: %w", key, err)
	}
	return &snap, nil
}

// Put upserts the snapshot under key.
func (s *SessionStore) Put(ctx context.Context, key string, snapshot crawler.SessionSnapshot) error {
	raw, err := json.Marshal(snapshot)
	if err != nil {
		return fmt.Errorf("sqlite: encode session: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
INSERT INTO sessions (key, snapshot, updated_at) VALUES (?, ?, datetime('now'))
ON CONFLICT(key) DO UPDATE SET snapshot = excluded.snapshot, updated_at = excluded.updated_at`,
		key, string(raw))
	if err != nil {
		return fmt.Errorf("sqlite: put session %q: %w", key, err)
	}
	return nil
}

// Delete removes the snapshot under key. Deleting a missing key is not an error.
func (s *SessionStore) Delete(ctx context.Context, key string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE key = ?`, key); err != nil {
		return fmt.Errorf("sqlite: delete session %q: %w", key, err)
	}
	return nil
}

// Close closes the database.
func (s *SessionStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("sqlite: close: %w", err)
	}
	return nil
}

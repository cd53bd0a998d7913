// Package memory keeps sessions and records in-process for development and tests.
package memory

import (
	"context"
	"sync"

	"github.com/JakeFAU/directory-crawler/internal/crawler"
)

// SessionStore stores session snapshots in a map.
type SessionStore struct {
	mu   sync.RWMutex
	data map[string]crawler.SessionSnapshot
}

// NewSessionStore creates a new in-memory session store.
func NewSessionStore() *SessionStore {
	return &SessionStore{data: make(map[string]crawler.SessionSnapshot)}
}

// Get returns a copy of the snapshot under key, or nil if absent.
func (s *SessionStore) Get(_ context.Context, key string) (*crawler.SessionSnapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snap, ok := s.data[key]
	if !ok {
		return nil, nil
	}
	snap.Cookies = append([]crawler.Cookie(nil), snap.Cookies...)
	return &snap, nil
}

// Put stores a copy of the snapshot.
func (s *SessionStore) Put(_ context.Context, key string, snapshot crawler.SessionSnapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	snapshot.Cookies = append([]crawler.Cookie(nil), snapshot.Cookies...)
	s.data[key] = snapshot
	return nil
}

// Delete removes the snapshot under key.
func (s *SessionStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.data, key)
	return nil
}

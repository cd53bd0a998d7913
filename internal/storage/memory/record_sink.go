package memory

import (
	"context"
	"sync"

	"github.com/JakeFAU/directory-crawler/internal/crawler"
)

// RecordSink collects appended records.
type RecordSink struct {
	mu      sync.RWMutex
	records []crawler.Record
}

// NewRecordSink constructs a RecordSink.
func NewRecordSink() *RecordSink {
	return &RecordSink{}
}

// Append stores the record.
func (s *RecordSink) Append(_ context.Context, record crawler.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = append(s.records, record)
	return nil
}

// Records returns a copy of everything appended so far.
func (s *RecordSink) Records() []crawler.Record {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]crawler.Record(nil), s.records...)
}

// Close is a no-op.
func (s *RecordSink) Close() error { return nil }

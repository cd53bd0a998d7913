// Package local writes records to a JSON Lines file on the local filesystem.
package local

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/JakeFAU/directory-crawler/internal/crawler"
)

// Config captures the parameters for the JSONL sink.
type Config struct {
	// Path is the output file. Parent directories are created.
	Path string `mapstructure:"path" yaml:"path"`
	// Truncate starts a fresh file instead of appending.
	Truncate bool `mapstructure:"truncate" yaml:"truncate"`
}

// RecordSink appends one JSON object per line.
type RecordSink struct {
	mu   sync.Mutex
	file *os.File
	buf  *bufio.Writer
}

// New opens (or creates) the output file.
func New(cfg Config) (*RecordSink, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, fmt.Errorf("sink path is required")
	}
	if info, err := os.Stat(path); err == nil && info.IsDir() {
		return nil, fmt.Errorf("sink path %s is a directory", path)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return nil, fmt.Errorf("create parent directories: %w", err)
	}
	flags := os.O_CREATE | os.O_WRONLY | os.O_APPEND
	if cfg.Truncate {
		flags = os.O_CREATE | os.O_WRONLY | os.O_TRUNC
	}
	// #nosec G304 -- the output path is operator configuration.
	file, err := os.OpenFile(path, flags, 0o600)
	if err != nil {
		return nil, fmt.Errorf("open sink file: %w", err)
	}
	return &RecordSink{file: file, buf: bufio.NewWriter(file)}, nil
}

// Append writes record as one line and flushes it.
func (s *RecordSink) Append(_ context.Context, record crawler.Record) error {
	line, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("marshal record: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.file == nil {
		return fmt.Errorf("sink is closed")
	}
	if _, err := s.buf.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("write record: %w", err)
	}
	if err := s.buf.Flush(); err != nil {
		return fmt.Errorf("flush record: %w", err)
	}
	return nil
}

// Close flushes and closes the file.
func (s *RecordSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.file == nil {
		return nil
	}
	flushErr := s.buf.Flush()
	closeErr := s.file.Close()
	s.file = nil
	if flushErr != nil {
		return fmt.Errorf("flush sink: %w", flushErr)
	}
	if closeErr != nil {
		return fmt.Errorf("close sink: %w", closeErr)
	}
	return nil
}

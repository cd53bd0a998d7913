// Package gcs stores session snapshots as JSON objects in Google Cloud Storage.
package gcs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"

	"cloud.google.com/go/storage"

	"github.com/JakeFAU/directory-crawler/internal/crawler"
)

// Config captures the bucket and object prefix.
type Config struct {
	Bucket string
	Prefix string
}

// SessionStore implements crawler.SessionStore on a GCS bucket.
type SessionStore struct {
	client *storage.Client
	bucket string
	prefix string
}

// New creates a GCS-backed session store.
func New(client *storage.Client, cfg Config) (*SessionStore, error) {
	if client == nil {
		return nil, fmt.Errorf("storage client is required")
	}
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("bucket name is required")
	}
	return &SessionStore{
		client: client,
		bucket: cfg.Bucket,
		prefix: cfg.Prefix,
	}, nil
}

// ObjectName maps a session key to its object path.
func ObjectName(prefix, key string) string {
	key = strings.Trim(strings.TrimSpace(key), "/")
	prefix = strings.Trim(strings.TrimSpace(prefix), "/")
	if prefix == "" {
		return key + ".json"
	}
	return path.Join(prefix, key+".json")
}

func (s *SessionStore) object(key string) *storage.ObjectHandle {
	return s.client.Bucket(s.bucket).Object(ObjectName(s.prefix, key))
}

// Get reads the snapshot under key. A missing object yields nil.
func (s *SessionStore) Get(ctx context.Context, key string) (*crawler.SessionSnapshot, error) {
	reader, err := s.object(key).NewReader(ctx)
	if errors.Is(err, storage.ErrObjectNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("open session object: %w", err)
	}
	defer func() { _ = reader.Close() }()

	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("read session object: %w", err)
	}
	var snap crawler.SessionSnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("decode session object: %w", err)
	}
	return &snap, nil
}

// Put overwrites the snapshot under key.
func (s *SessionStore) Put(ctx context.Context, key string, snapshot crawler.SessionSnapshot) error {
	if strings.TrimSpace(key) == "" {
		return fmt.Errorf("session key is required")
	}
	data, err := json.Marshal(snapshot)
	if err != nil {
		return fmt.Errorf("encode session: %w", err)
	}
	writer := s.object(key).NewWriter(ctx)
	writer.ContentType = "application/json"
	if _, err := writer.Write(data); err != nil {
		if closeErr := writer.Close(); closeErr != nil {
			return fmt.Errorf("write session object: %w (close writer: %v)", err, closeErr)
		}
		return fmt.Errorf("write session object: %w", err)
	}
	if err := writer.Close(); err != nil {
		return fmt.Errorf("close writer: %w", err)
	}
	return nil
}

// Delete removes the snapshot under key. A missing object is not an error.
func (s *SessionStore) Delete(ctx context.Context, key string) error {
	err := s.object(key).Delete(ctx)
	if err != nil && !errors.Is(err, storage.ErrObjectNotExist) {
		return fmt.Errorf("delete session object: %w", err)
	}
	return nil
}

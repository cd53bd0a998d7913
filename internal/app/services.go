// Package app wires configuration into long-lived services and runs crawls.
package app

import (
	"context"
	"errors"
	"fmt"

	pubsub "cloud.google.com/go/pubsub/v2"
	"cloud.google.com/go/storage"
	"go.uber.org/zap"

	"github.com/JakeFAU/directory-crawler/internal/config"
	"github.com/JakeFAU/directory-crawler/internal/crawler"
	gcppublisher "github.com/JakeFAU/directory-crawler/internal/publisher/pubsub"
	gcsstorage "github.com/JakeFAU/directory-crawler/internal/storage/gcs"
	localstorage "github.com/JakeFAU/directory-crawler/internal/storage/local"
	memorystorage "github.com/JakeFAU/directory-crawler/internal/storage/memory"
	pgstore "github.com/JakeFAU/directory-crawler/internal/storage/postgres"
	sqlitestore "github.com/JakeFAU/directory-crawler/internal/storage/sqlite"
)

// Services holds the session store and record sink a run writes to, plus
// whatever clients back them.
type Services struct {
	Sessions crawler.SessionStore
	Sink     crawler.RecordSink

	logger  *zap.Logger
	closers []func() error
}

// NewServices opens the configured session store and record sink. Anything
// opened before a failure is closed again.
func NewServices(ctx context.Context, cfg config.Config, logger *zap.Logger) (_ *Services, err error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Services{logger: logger.Named("services")}
	defer func() {
		if err != nil {
			_ = s.Close()
		}
	}()

	if err = s.setupSessions(ctx, cfg.Session); err != nil {
		return nil, err
	}
	if err = s.setupSink(ctx, cfg.Sink); err != nil {
		return nil, err
	}
	return s, nil
}

// OpenSessions opens only the session store, for maintenance commands.
func OpenSessions(ctx context.Context, cfg config.Config, logger *zap.Logger) (*Services, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Services{logger: logger.Named("services")}
	if err := s.setupSessions(ctx, cfg.Session); err != nil {
		_ = s.Close()
		return nil, err
	}
	return s, nil
}

func (s *Services) setupSessions(ctx context.Context, cfg config.SessionConfig) error {
	switch cfg.Store {
	case config.StoreSQLite:
		store, err := sqlitestore.Open(ctx, cfg.SQLitePath)
		if err != nil {
			return fmt.Errorf("sqlite session store init failed: %w", err)
		}
		s.Sessions = store
		s.closers = append(s.closers, store.Close)
		s.logger.Debug("sqlite session store", zap.String("path", cfg.SQLitePath))
	case config.StoreGCS:
		client, err := storage.NewClient(ctx)
		if err != nil {
			return fmt.Errorf("gcs client init failed: %w", err)
		}
		s.closers = append(s.closers, client.Close)
		store, err := gcsstorage.New(client, gcsstorage.Config{Bucket: cfg.GCSBucket, Prefix: cfg.GCSPrefix})
		if err != nil {
			return fmt.Errorf("gcs session store init failed: %w", err)
		}
		s.Sessions = store
		s.logger.Debug("gcs session store", zap.String("bucket", cfg.GCSBucket))
	default:
		s.logger.Info("using in-memory session store; the identity will not survive the run")
		s.Sessions = memorystorage.NewSessionStore()
	}
	return nil
}

func (s *Services) setupSink(ctx context.Context, cfg config.SinkConfig) error {
	switch cfg.Kind {
	case config.SinkJSONL:
		sink, err := localstorage.New(localstorage.Config{Path: cfg.Path, Truncate: cfg.Truncate})
		if err != nil {
			return fmt.Errorf("jsonl sink init failed: %w", err)
		}
		s.Sink = sink
		s.closers = append(s.closers, sink.Close)
		s.logger.Debug("jsonl sink", zap.String("path", cfg.Path))
	case config.SinkPostgres:
		sink, err := pgstore.New(ctx, pgstore.Config{DSN: cfg.DSN, Table: cfg.Table})
		if err != nil {
			return fmt.Errorf("postgres sink init failed: %w", err)
		}
		s.closers = append(s.closers, sink.Close)
		if err := sink.EnsureTable(ctx); err != nil {
			return fmt.Errorf("postgres sink init failed: %w", err)
		}
		s.Sink = sink
		s.logger.Debug("postgres sink", zap.String("table", cfg.Table))
	case config.SinkPubSub:
		client, err := pubsub.NewClient(ctx, cfg.Project)
		if err != nil {
			return fmt.Errorf("pubsub client init failed: %w", err)
		}
		s.closers = append(s.closers, client.Close)
		sink := gcppublisher.New(client.Publisher(cfg.Topic))
		// Stop the publisher before its client closes.
		s.closers = append(s.closers, sink.Close)
		s.Sink = sink
		s.logger.Info("pubsub sink", zap.String("project", cfg.Project), zap.String("topic", cfg.Topic))
	default:
		s.logger.Info("using in-memory record sink; records are discarded at exit")
		s.Sink = memorystorage.NewRecordSink()
	}
	return nil
}

// Close releases everything in reverse open order.
func (s *Services) Close() error {
	var errs []error
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	s.closers = nil
	return errors.Join(errs...)
}

// Package postgres writes normalized profile records to Postgres.
package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/directory-crawler/internal/crawler"
)

// DefaultTable receives records when no table is configured.
const DefaultTable = "provider_profiles"

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// Config controls the Postgres connection pool.
type Config struct {
	DSN             string
	Table           string
	MaxConns        int32
	MaxConnLifetime time.Duration
}

type execCloser interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Close()
}

// RecordSink upserts one row per canonical URL. The full record is kept in a
// jsonb payload column next to the commonly queried fields.
type RecordSink struct {
	pool  execCloser
	table string
}

// New connects a pool and returns a RecordSink.
func New(ctx context.Context, cfg Config) (*RecordSink, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("sink.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	sink, err := NewWithPool(pool, cfg.Table)
	if err != nil {
		pool.Close()
		return nil, err
	}
	return sink, nil
}

// NewWithPool wraps an existing pool.
func NewWithPool(pool execCloser, table string) (*RecordSink, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if table == "" {
		table = DefaultTable
	}
	if !validTableName.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	return &RecordSink{pool: pool, table: table}, nil
}

// EnsureTable creates the destination table if it does not exist.
func (s *RecordSink) EnsureTable(ctx context.Context) error {
	query := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
	id          TEXT PRIMARY KEY,
	provider_id TEXT,
	name        TEXT,
	specialty   TEXT,
	location    TEXT,
	phone       TEXT,
	rating      DOUBLE PRECISION,
	reviews     INTEGER,
	source      TEXT NOT NULL,
	fetched_at  TIMESTAMPTZ NOT NULL,
	payload     JSONB NOT NULL
)`, s.table)
	if _, err := s.pool.Exec(ctx, query); err != nil {
		return fmt.Errorf("create table %s: %w", s.table, err)
	}
	return nil
}

// Append upserts record.
func (s *RecordSink) Append(ctx context.Context, record crawler.Record) error {
	if record.ID == "" {
		return fmt.Errorf("record id is required")
	}
	payload, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("marshal record: %w", err)
	}
	query := fmt.Sprintf(`
INSERT INTO %s (
	id,
	provider_id,
	name,
	specialty,
	location,
	phone,
	rating,
	reviews,
	source,
	fetched_at,
	payload
) VALUES (
	$1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11
)
ON CONFLICT (id) DO UPDATE SET
	provider_id = EXCLUDED.provider_id,
	name        = EXCLUDED.name,
	specialty   = EXCLUDED.specialty,
	location    = EXCLUDED.location,
	phone       = EXCLUDED.phone,
	rating      = EXCLUDED.rating,
	reviews     = EXCLUDED.reviews,
	source      = EXCLUDED.source,
	fetched_at  = EXCLUDED.fetched_at,
	payload     = EXCLUDED.payload`, s.table)

	args := []any{
		record.ID,
		nullable(record.ProviderID),
		nullable(record.Name),
		nullable(record.Specialty),
		nullable(record.Location),
		nullable(record.Phone),
		record.Rating,
		record.ReviewCount,
		record.Provenance,
		record.FetchedAt,
		payload,
	}
	if _, err := s.pool.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("upsert record: %w", err)
	}
	return nil
}

// Close releases the pool.
func (s *RecordSink) Close() error {
	if s == nil || s.pool == nil {
		return nil
	}
	s.pool.Close()
	return nil
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// Package postgres provides a snapshot store backed by Postgres.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// Config controls the Postgres connection pool used for snapshots.
type Config struct {
	DSN   string
	Table string
}

type pool interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	QueryRow(context.Context, string, ...any) pgx.Row
	Close()
}

// Store keeps the dedup snapshot in a single-row table keyed by a
// constant id, overwritten by upsert on each save.
type Store struct {
	pool  pool
	table string
}

// New creates a Postgres-backed snapshot store using the provided config.
func New(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("ledger.postgres.dsn is required")
	}
	table := cfg.Table
	if table == "" {
		table = "dedup_snapshots"
	}
	if !validTableName.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	p, err := pgxpool.New(ctx, cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &Store{pool: p, table: table}, nil
}

// NewWithPool constructs a store from an existing pool (primarily for testing).
func NewWithPool(p pool, table string) (*Store, error) {
	if p == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if table == "" {
		return nil, fmt.Errorf("table is required")
	}
	if !validTableName.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	return &Store{pool: p, table: table}, nil
}

// Save upserts the fingerprint list as a JSONB document.
func (s *Store) Save(ctx context.Context, fingerprints []string) error {
	if fingerprints == nil {
		fingerprints = []string{}
	}
	data, err := json.Marshal(fingerprints)
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}
	query := fmt.Sprintf(`
		INSERT INTO %s (id, fingerprints, updated_at)
		VALUES (1, $1, now())
		ON CONFLICT (id)
		DO UPDATE SET fingerprints = EXCLUDED.fingerprints, updated_at = now()
	`, s.table)
	if _, err := s.pool.Exec(ctx, query, data); err != nil {
		return fmt.Errorf("upsert snapshot: %w", err)
	}
	return nil
}

// Load reads the snapshot row. A missing row yields an empty slice.
func (s *Store) Load(ctx context.Context) ([]string, error) {
	query := fmt.Sprintf(`SELECT fingerprints FROM %s WHERE id = 1`, s.table)
	var data []byte
	if err := s.pool.QueryRow(ctx, query).Scan(&data); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("select snapshot: %w", err)
	}
	var fingerprints []string
	if err := json.Unmarshal(data, &fingerprints); err != nil {
		return nil, fmt.Errorf("decode snapshot: %w", err)
	}
	return fingerprints, nil
}

// Close releases the connection pool.
func (s *Store) Close() {
	s.pool.Close()
}

// Package postgres provides Postgres-backed run-history persistence.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/kbrapp1/sourcebatch/internal/batch"
	"github.com/kbrapp1/sourcebatch/internal/store"
)

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// Config controls the Postgres connection pool used for run rows.
type Config struct {
	DSN             string
	Table           string
	MaxConns        int32
	MaxConnLifetime time.Duration
}

type dbPool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Close()
}

// Store writes run summaries into Postgres.
type Store struct {
	pool  dbPool
	table string
}

// NewStore creates a Postgres-backed Store using the provided config.
func NewStore(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("db.dsn is required")
	}
	table, err := resolveTable(cfg.Table)
	if err != nil {
		return nil, err
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
	return &Store{pool: pool, table: table}, nil
}

// NewStoreWithPool constructs a Store from an existing pool (primarily for
// testing with pgxmock).
func NewStoreWithPool(pool dbPool, table string) (*Store, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	resolved, err := resolveTable(table)
	if err != nil {
		return nil, err
	}
	return &Store{pool: pool, table: resolved}, nil
}

func resolveTable(table string) (string, error) {
	if table == "" {
		table = "batch_runs"
	}
	if !validTableName.MatchString(table) {
		return "", fmt.Errorf("invalid table name %q", table)
	}
	return table, nil
}

// Close releases the underlying pool resources.
func (s *Store) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// SaveRun inserts one completed run row.
func (s *Store) SaveRun(ctx context.Context, record store.RunRecord) error {
	if record.ID == "" {
		return fmt.Errorf("run id is required")
	}
	summaryJSON, err := json.Marshal(record.Summary)
	if err != nil {
		return fmt.Errorf("marshal summary: %w", err)
	}
	query := fmt.Sprintf(
		`INSERT INTO %s (id, created_at, summary) VALUES ($1, $2, $3)`,
		s.table,
	)
	if _, err := s.pool.Exec(ctx, query, record.ID, record.CreatedAt, summaryJSON); err != nil {
		return fmt.Errorf("insert run: %w", err)
	}
	return nil
}

// GetRun fetches one run row by ID.
func (s *Store) GetRun(ctx context.Context, id string) (store.RunRecord, error) {
	query := fmt.Sprintf(
		`SELECT id, created_at, summary FROM %s WHERE id = $1`,
		s.table,
	)
	record, err := scanRun(s.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return store.RunRecord{}, store.ErrNotFound
		}
		return store.RunRecord{}, fmt.Errorf("select run: %w", err)
	}
	return record, nil
}

// ListRuns returns a newest-first page of run history using keyset
// pagination on created_at.
func (s *Store) ListRuns(ctx context.Context, query store.ListQuery) ([]store.RunRecord, error) {
	limit := store.ClampLimit(query.Limit)

	var (
		rows pgx.Rows
		err  error
	)
	if query.Before.IsZero() {
		sql := fmt.Sprintf(
			`SELECT id, created_at, summary FROM %s ORDER BY created_at DESC LIMIT $1`,
			s.table,
		)
		rows, err = s.pool.Query(ctx, sql, limit)
	} else {
		sql := fmt.Sprintf(
			`SELECT id, created_at, summary FROM %s WHERE created_at < $1 ORDER BY created_at DESC LIMIT $2`,
			s.table,
		)
		rows, err = s.pool.Query(ctx, sql, query.Before, limit)
	}
	if err != nil {
		return nil, fmt.Errorf("select runs: %w", err)
	}
	defer rows.Close()

	records := make([]store.RunRecord, 0, limit)
	for rows.Next() {
		record, scanErr := scanRun(rows)
		if scanErr != nil {
			return nil, fmt.Errorf("scan run: %w", scanErr)
		}
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate runs: %w", err)
	}
	return records, nil
}

func scanRun(row pgx.Row) (store.RunRecord, error) {
	var (
		record      store.RunRecord
		summaryJSON []byte
	)
	if err := row.Scan(&record.ID, &record.CreatedAt, &summaryJSON); err != nil {
		return store.RunRecord{}, err
	}
	var summary batch.Summary
	if err := json.Unmarshal(summaryJSON, &summary); err != nil {
		return store.RunRecord{}, fmt.Errorf("unmarshal summary: %w", err)
	}
	record.Summary = summary
	return record, nil
}

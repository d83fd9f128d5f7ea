package store

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

// DBPool is an interface that abstracts the pgxpool.Pool to allow for mocking in tests.
type DBPool interface {
	Ping(ctx context.Context) error
	Begin(ctx context.Context) (pgx.Tx, error)
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Close()
}

const (
	pgCreateTable = `
        CREATE TABLE IF NOT EXISTS kv_store (
            key TEXT PRIMARY KEY,
            value TEXT NOT NULL,
            updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
        );`
	pgSelect          = `SELECT key, value FROM kv_store WHERE key = ANY($1)`
	pgSelectForUpdate = `SELECT key, value FROM kv_store WHERE key = ANY($1) FOR UPDATE`
	pgUpsert          = `
        INSERT INTO kv_store (key, value, updated_at)
        VALUES ($1, $2, now())
        ON CONFLICT (key) DO UPDATE SET
            value = EXCLUDED.value,
            updated_at = EXCLUDED.updated_at;`
	pgDelete = `DELETE FROM kv_store WHERE key = ANY($1)`
)

// PostgresBackend keeps the key-value table in PostgreSQL.
type PostgresBackend struct {
	pool DBPool
	log  *zap.Logger
}

// NewPostgresBackend verifies the connection and creates the table if needed.
func NewPostgresBackend(ctx context.Context, pool DBPool, logger *zap.Logger) (*PostgresBackend, error) {
	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	if _, err := pool.Exec(ctx, pgCreateTable); err != nil {
		return nil, fmt.Errorf("failed to create kv_store table: %w", err)
	}
	return &PostgresBackend{pool: pool, log: logger.Named("postgres")}, nil
}

func openPostgres(ctx context.Context, dsn string, logger *zap.Logger) (Backend, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}
	b, err := NewPostgresBackend(ctx, pool, logger)
	if err != nil {
		pool.Close()
		return nil, err
	}
	return b, nil
}

func (p *PostgresBackend) Get(ctx context.Context, keys ...string) (map[string]string, error) {
	rows, err := p.pool.Query(ctx, pgSelect, keys)
	if err != nil {
		return nil, fmt.Errorf("failed to query keys: %w", err)
	}
	return collectRows(rows)
}

func (p *PostgresBackend) Set(ctx context.Context, values map[string]string) (err error) {
	if len(values) == 0 {
		return nil
	}
	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			p.rollback(ctx, tx)
		}
	}()

	for _, k := range sortedKeys(values) {
		if _, err = tx.Exec(ctx, pgUpsert, k, values[k]); err != nil {
			return fmt.Errorf("failed to upsert %q: %w", k, err)
		}
	}
	if err = tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func (p *PostgresBackend) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	if _, err := p.pool.Exec(ctx, pgDelete, keys); err != nil {
		return fmt.Errorf("failed to delete keys: %w", err)
	}
	return nil
}

// Take locks the rows, reads them and deletes them before committing.
func (p *PostgresBackend) Take(ctx context.Context, keys ...string) (out map[string]string, err error) {
	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			p.rollback(ctx, tx)
		}
	}()

	rows, err := tx.Query(ctx, pgSelectForUpdate, keys)
	if err != nil {
		return nil, fmt.Errorf("failed to lock keys: %w", err)
	}
	if out, err = collectRows(rows); err != nil {
		return nil, err
	}
	if len(out) > 0 {
		if _, err = tx.Exec(ctx, pgDelete, keys); err != nil {
			return nil, fmt.Errorf("failed to delete taken keys: %w", err)
		}
	}
	if err = tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}
	return out, nil
}

func (p *PostgresBackend) Close() error {
	p.pool.Close()
	return nil
}

func (p *PostgresBackend) rollback(ctx context.Context, tx pgx.Tx) {
	if rbErr := tx.Rollback(ctx); rbErr != nil && !errors.Is(rbErr, pgx.ErrTxClosed) {
		p.log.Error("Failed to rollback transaction", zap.Error(rbErr))
	}
}

func collectRows(rows pgx.Rows) (map[string]string, error) {
	defer rows.Close()
	out := make(map[string]string)
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		out[k] = v
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read rows: %w", err)
	}
	return out, nil
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

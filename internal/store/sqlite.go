package store

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"
	_ "modernc.org/sqlite"
)

const (
	sqliteCreateTable = `
        CREATE TABLE IF NOT EXISTS kv_store (
            key TEXT PRIMARY KEY,
            value TEXT NOT NULL,
            updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
        );`
	sqliteUpsert = `
        INSERT INTO kv_store (key, value, updated_at)
        VALUES (?, ?, CURRENT_TIMESTAMP)
        ON CONFLICT (key) DO UPDATE SET
            value = excluded.value,
            updated_at = excluded.updated_at;`
)

// SQLiteBackend keeps the key-value table in a local sqlite file.
type SQLiteBackend struct {
	db  *sql.DB
	log *zap.Logger
}

// NewSQLiteBackend opens (creating if needed) the database at path.
func NewSQLiteBackend(ctx context.Context, path string, logger *zap.Logger) (*SQLiteBackend, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, fmt.Errorf("failed to create store directory: %w", err)
		}
	}

	// Immediate transactions take the write lock up front, which is what makes
	// Take safe across processes.
	q := url.Values{}
	q.Add("_pragma", "busy_timeout(5000)")
	q.Add("_pragma", "journal_mode(WAL)")
	q.Set("_txlock", "immediate")
	db, err := sql.Open("sqlite", "file:"+path+"?"+q.Encode())
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database: %w", err)
	}
	// One connection serializes writers inside this process.
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	if _, err := db.ExecContext(ctx, sqliteCreateTable); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create kv_store table: %w", err)
	}
	return &SQLiteBackend{db: db, log: logger.Named("sqlite")}, nil
}

func (s *SQLiteBackend) Get(ctx context.Context, keys ...string) (map[string]string, error) {
	if len(keys) == 0 {
		return map[string]string{}, nil
	}
	rows, err := s.db.QueryContext(ctx, "SELECT key, value FROM kv_store WHERE key IN ("+placeholders(len(keys))+")", anyArgs(keys)...)
	if err != nil {
		return nil, fmt.Errorf("failed to query keys: %w", err)
	}
	return scanSQLRows(rows)
}

func (s *SQLiteBackend) Set(ctx context.Context, values map[string]string) (err error) {
	if len(values) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			s.rollback(tx)
		}
	}()

	for _, k := range sortedKeys(values) {
		if _, err = tx.ExecContext(ctx, sqliteUpsert, k, values[k]); err != nil {
			return fmt.Errorf("failed to upsert %q: %w", k, err)
		}
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func (s *SQLiteBackend) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	if _, err := s.db.ExecContext(ctx, "DELETE FROM kv_store WHERE key IN ("+placeholders(len(keys))+")", anyArgs(keys)...); err != nil {
		return fmt.Errorf("failed to delete keys: %w", err)
	}
	return nil
}

func (s *SQLiteBackend) Take(ctx context.Context, keys ...string) (out map[string]string, err error) {
	if len(keys) == 0 {
		return map[string]string{}, nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			s.rollback(tx)
		}
	}()

	in := placeholders(len(keys))
	rows, err := tx.QueryContext(ctx, "SELECT key, value FROM kv_store WHERE key IN ("+in+")", anyArgs(keys)...)
	if err != nil {
		return nil, fmt.Errorf("failed to read keys: %w", err)
	}
	if out, err = scanSQLRows(rows); err != nil {
		return nil, err
	}
	if len(out) > 0 {
		if _, err = tx.ExecContext(ctx, "DELETE FROM kv_store WHERE key IN ("+in+")", anyArgs(keys)...); err != nil {
			return nil, fmt.Errorf("failed to delete taken keys: %w", err)
		}
	}
	if err = tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}
	return out, nil
}

func (s *SQLiteBackend) Close() error {
	return s.db.Close()
}

func (s *SQLiteBackend) rollback(tx *sql.Tx) {
	if err := tx.Rollback(); err != nil && err != sql.ErrTxDone {
		s.log.Error("Failed to rollback transaction", zap.Error(err))
	}
}

func scanSQLRows(rows *sql.Rows) (map[string]string, error) {
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

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

func anyArgs(keys []string) []any {
	args := make([]any, len(keys))
	for i, k := range keys {
		args[i] = k
	}
	return args
}

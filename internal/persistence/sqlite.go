package persistence

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteAdapter is a SQLite-backed Adapter, following the
// graph/store.SQLiteStore idiom: a single-file WAL-mode database, auto
// migrated on open, suitable for single-node production deployments.
type SQLiteAdapter struct {
	db *sql.DB
	mu sync.Mutex
}

// NewSQLiteAdapter opens (creating if absent) a SQLite database at path and
// ensures the kv_rows schema exists.
func NewSQLiteAdapter(path string) (*SQLiteAdapter, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1) // modernc.org/sqlite is not safe for concurrent writers across connections
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL;"); err != nil {
		return nil, fmt.Errorf("enable WAL: %w", err)
	}
	if _, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS kv_rows (
			key TEXT PRIMARY KEY,
			value BLOB NOT NULL,
			version INTEGER NOT NULL
		);
	`); err != nil {
		return nil, fmt.Errorf("create kv_rows: %w", err)
	}

	return &SQLiteAdapter{db: db}, nil
}

func (s *SQLiteAdapter) Put(ctx context.Context, key string, value []byte) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var current int64
	row := s.db.QueryRowContext(ctx, "SELECT version FROM kv_rows WHERE key = ?", key)
	_ = row.Scan(&current) // zero value on no rows is fine

	next := current + 1
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO kv_rows(key, value, version) VALUES (?, ?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value, version = excluded.version`,
		key, value, next)
	if err != nil {
		return 0, fmt.Errorf("put %s: %w", key, err)
	}
	return next, nil
}

func (s *SQLiteAdapter) Get(ctx context.Context, key string) (Row, error) {
	var value []byte
	var version int64
	err := s.db.QueryRowContext(ctx, "SELECT value, version FROM kv_rows WHERE key = ?", key).Scan(&value, &version)
	if errors.Is(err, sql.ErrNoRows) {
		return Row{}, ErrNotFound
	}
	if err != nil {
		return Row{}, fmt.Errorf("get %s: %w", key, err)
	}
	return Row{Key: key, Value: value, Version: version}, nil
}

func (s *SQLiteAdapter) ScanByPrefix(ctx context.Context, prefix string) ([]Row, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT key, value, version FROM kv_rows WHERE key >= ? AND key < ? ORDER BY key",
		prefix, prefix+"￿")
	if err != nil {
		return nil, fmt.Errorf("scan %s: %w", prefix, err)
	}
	defer rows.Close()

	out := make([]Row, 0)
	for rows.Next() {
		var r Row
		if err := rows.Scan(&r.Key, &r.Value, &r.Version); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *SQLiteAdapter) CompareAndSwap(ctx context.Context, key string, expectedVersion int64, value []byte) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback() //nolint:errcheck

	var current int64
	err = tx.QueryRowContext(ctx, "SELECT version FROM kv_rows WHERE key = ?", key).Scan(&current)
	exists := !errors.Is(err, sql.ErrNoRows)
	if err != nil && exists {
		return 0, fmt.Errorf("cas read %s: %w", key, err)
	}

	if expectedVersion == 0 && exists {
		return 0, ErrVersionConflict
	}
	if expectedVersion != 0 && (!exists || current != expectedVersion) {
		return 0, ErrVersionConflict
	}

	next := expectedVersion + 1
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO kv_rows(key, value, version) VALUES (?, ?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value, version = excluded.version`,
		key, value, next); err != nil {
		return 0, fmt.Errorf("cas write %s: %w", key, err)
	}

	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return next, nil
}

func (s *SQLiteAdapter) Delete(ctx context.Context, key string) error {
	_, err := s.db.ExecContext(ctx, "DELETE FROM kv_rows WHERE key = ?", key)
	return err
}

func (s *SQLiteAdapter) Close() error {
	return s.db.Close()
}

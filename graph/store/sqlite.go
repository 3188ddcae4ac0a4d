package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore is the durable Store for single-node deployments: a
// single-file WAL-mode database, auto-migrated on open, the default
// backend cmd/orchestratord wires when store.driver is unset.
type SQLiteStore[S any] struct {
	db *sql.DB
}

// NewSQLiteStore opens (creating if absent) the database at path and
// ensures the checkpoints table exists.
func NewSQLiteStore[S any](path string) (*SQLiteStore[S], error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// modernc.org/sqlite is not safe for concurrent writers across
	// connections.
	db.SetMaxOpenConns(1)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL;"); err != nil {
		return nil, fmt.Errorf("enable WAL: %w", err)
	}
	if _, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS checkpoints (
			run_id     TEXT    NOT NULL,
			step       INTEGER NOT NULL,
			node_id    TEXT    NOT NULL,
			state      BLOB    NOT NULL,
			created_at TEXT    NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ','now')),
			PRIMARY KEY (run_id, step)
		);`); err != nil {
		return nil, fmt.Errorf("migrate checkpoints: %w", err)
	}
	return &SQLiteStore[S]{db: db}, nil
}

// SaveStep implements Store.
func (s *SQLiteStore[S]) SaveStep(ctx context.Context, runID string, step int, nodeID string, state S) error {
	payload, err := json.Marshal(state)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO checkpoints (run_id, step, node_id, state) VALUES (?, ?, ?, ?)
		ON CONFLICT (run_id, step) DO UPDATE SET node_id = excluded.node_id, state = excluded.state;`,
		runID, step, nodeID, payload)
	if err != nil {
		return fmt.Errorf("save step: %w", err)
	}
	return nil
}

// LoadLatest implements Store.
func (s *SQLiteStore[S]) LoadLatest(ctx context.Context, runID string) (S, int, error) {
	var zero S
	var step int
	var payload []byte
	err := s.db.QueryRowContext(ctx,
		"SELECT step, state FROM checkpoints WHERE run_id = ? ORDER BY step DESC LIMIT 1;", runID).
		Scan(&step, &payload)
	if err == sql.ErrNoRows {
		return zero, 0, ErrNotFound
	}
	if err != nil {
		return zero, 0, fmt.Errorf("load latest: %w", err)
	}

	var state S
	if err := json.Unmarshal(payload, &state); err != nil {
		return zero, 0, err
	}
	return state, step, nil
}

// Close releases the underlying database handle.
func (s *SQLiteStore[S]) Close() error {
	return s.db.Close()
}

package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/go-sql-driver/mysql"
)

// MySQLStore is the durable Store for multi-node deployments, selected by
// cmd/orchestratord when store.driver is "mysql". Schema mirrors
// SQLiteStore's checkpoints table in MySQL dialect.
type MySQLStore[S any] struct {
	db *sql.DB
}

// NewMySQLStore dials dsn, verifies connectivity, and ensures the
// checkpoints table exists.
func NewMySQLStore[S any](dsn string) (*MySQLStore[S], error) {
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("open mysql: %w", err)
	}
	db.SetMaxOpenConns(16)
	db.SetConnMaxLifetime(time.Hour)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("ping mysql: %w", err)
	}
	if _, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS checkpoints (
			run_id     VARCHAR(255) NOT NULL,
			step       INT          NOT NULL,
			node_id    VARCHAR(255) NOT NULL,
			state      MEDIUMBLOB   NOT NULL,
			created_at TIMESTAMP    NOT NULL DEFAULT CURRENT_TIMESTAMP,
			PRIMARY KEY (run_id, step)
		);`); err != nil {
		return nil, fmt.Errorf("migrate checkpoints: %w", err)
	}
	return &MySQLStore[S]{db: db}, nil
}

// SaveStep implements Store.
func (s *MySQLStore[S]) SaveStep(ctx context.Context, runID string, step int, nodeID string, state S) error {
	payload, err := json.Marshal(state)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO checkpoints (run_id, step, node_id, state) VALUES (?, ?, ?, ?)
		ON DUPLICATE KEY UPDATE node_id = VALUES(node_id), state = VALUES(state);`,
		runID, step, nodeID, payload)
	if err != nil {
		return fmt.Errorf("save step: %w", err)
	}
	return nil
}

// LoadLatest implements Store.
func (s *MySQLStore[S]) LoadLatest(ctx context.Context, runID string) (S, int, error) {
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

// Close releases the connection pool.
func (s *MySQLStore[S]) Close() error {
	return s.db.Close()
}

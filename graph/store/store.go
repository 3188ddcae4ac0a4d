// Package store persists workflow checkpoints: one row per executed node,
// append-ordered by step, with the latest row per run being the resumption
// point. MemStore backs tests and single-process runs, SQLiteStore the
// single-node daemon, MySQLStore multi-node deployments; the daemon picks
// between the latter two via its store.driver configuration.
package store

import (
	"context"
	"errors"
)

// ErrNotFound is returned by LoadLatest for a run with no checkpoints.
var ErrNotFound = errors.New("store: run not found")

// Store persists and recalls per-run checkpoints. S must be
// JSON-serializable; every implementation snapshots state through JSON so
// a stored checkpoint never aliases the caller's maps or slices.
type Store[S any] interface {
	// SaveStep persists the accumulated state after one node execution.
	// Writing the same (runID, step) again replaces the earlier row, which
	// makes a retried resume idempotent.
	SaveStep(ctx context.Context, runID string, step int, nodeID string, state S) error

	// LoadLatest returns the most recent state and its step number for a
	// run, or ErrNotFound.
	LoadLatest(ctx context.Context, runID string) (state S, step int, err error)
}

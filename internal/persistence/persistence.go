// Package persistence provides the typed key-value adapter over a durable
// store used for approvals, workflow-TTL bookkeeping, and agent-registry
// rows (workflow checkpoints themselves live in graph/store, keyed by the
// engine's own run/step identifiers). It follows the database/sql +
// modernc.org/sqlite idiom from graph/store/sqlite.go, generalized from a
// single state-blob table to an arbitrary-prefix key-value row store with
// compare-and-swap.
package persistence

import (
	"context"
	"errors"
)

// ErrNotFound is returned when Get targets a missing key (CompareAndSwap
// reports a missing key with a nonzero expected version as
// ErrVersionConflict).
var ErrNotFound = errors.New("persistence: key not found")

// ErrVersionConflict is returned by CompareAndSwap when expectedVersion does
// not match the stored version; contended writers retry on version mismatch
// up to CASRetries times before failing with <ConcurrencyError>.
var ErrVersionConflict = errors.New("persistence: version conflict")

// Row is one versioned key-value record.
type Row struct {
	Key     string
	Value   []byte
	Version int64
}

// Adapter is the transactional put/get/scan/CAS interface backing this
// package's callers. Keys follow a "workflows/{id}", "approvals/{id}",
// "agents/{id}" style layout; values are caller-defined JSON blobs.
type Adapter interface {
	// Put unconditionally writes key, assigning it a new version.
	Put(ctx context.Context, key string, value []byte) (version int64, err error)

	// Get returns the current value and version for key, or ErrNotFound.
	Get(ctx context.Context, key string) (Row, error)

	// ScanByPrefix returns all rows whose key has the given prefix, ordered
	// by key, for lookups such as "approvals/" (list_pending) or
	// "agents/" (registry enumeration).
	ScanByPrefix(ctx context.Context, prefix string) ([]Row, error)

	// CompareAndSwap writes value to key only if the stored version equals
	// expectedVersion (0 meaning "key must not yet exist"). Returns
	// ErrVersionConflict on mismatch.
	CompareAndSwap(ctx context.Context, key string, expectedVersion int64, value []byte) (newVersion int64, err error)

	// Delete removes key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error

	Close() error
}

// CASRetries is the default retry budget for version-mismatch writers
// before they fail with <ConcurrencyError>.
const CASRetries = 3

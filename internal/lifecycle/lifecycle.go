// Package lifecycle implements the Workflow Lifecycle Manager: TTL tracking
// and expiry sweep, parent-chain traversal with cycle detection, and
// newest-first resource deduplication over accumulated workflow events.
// Cycle detection walks parent_workflow_id chains with a visited set until
// exhaustion or a repeat.
package lifecycle

import (
	"context"
	"encoding/json"
	"sort"
	"time"

	"github.com/orchestrator/taskorch/internal/domain"
	"github.com/orchestrator/taskorch/internal/eventbus"
	"github.com/orchestrator/taskorch/internal/orcherr"
	"github.com/orchestrator/taskorch/internal/persistence"
)

// DefaultMaxChainDepth is chain.max_depth's default.
const DefaultMaxChainDepth = 20

// DefaultTTL is workflow.ttl_hours' default; callers should use
// Environment-scoped values from internal/config instead where available.
const DefaultTTL = 24 * time.Hour

const workflowKeyPrefix = "workflows/"

// Manager owns TTL bookkeeping, chain traversal, and dedup helpers.
type Manager struct {
	adapter      persistence.Adapter
	bus          *eventbus.Bus
	ttl          time.Duration
	maxChainDepth int
}

// New constructs a Manager with the given TTL and max chain depth.
func New(adapter persistence.Adapter, bus *eventbus.Bus, ttl time.Duration, maxChainDepth int) *Manager {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if maxChainDepth <= 0 {
		maxChainDepth = DefaultMaxChainDepth
	}
	return &Manager{adapter: adapter, bus: bus, ttl: ttl, maxChainDepth: maxChainDepth}
}

// Touch bumps expires_at = now + ttl for instance and persists the row.
func (m *Manager) Touch(ctx context.Context, instance domain.WorkflowInstance) (domain.WorkflowInstance, error) {
	instance.ExpiresAt = time.Now().Add(m.ttl)
	if err := m.save(ctx, instance); err != nil {
		return instance, err
	}
	return instance, nil
}

func (m *Manager) save(ctx context.Context, instance domain.WorkflowInstance) error {
	payload, err := json.Marshal(instance)
	if err != nil {
		return err
	}
	key := workflowKeyPrefix + instance.WorkflowID
	for attempt := 0; attempt < persistence.CASRetries; attempt++ {
		existing, getErr := m.adapter.Get(ctx, key)
		expected := int64(0)
		if getErr == nil {
			expected = existing.Version
		} else if getErr != persistence.ErrNotFound {
			return getErr
		}
		version, err := m.adapter.CompareAndSwap(ctx, key, expected, payload)
		if err == nil {
			instance.Version = version
			return nil
		}
		if err != persistence.ErrVersionConflict {
			return err
		}
	}
	return orcherr.New(orcherr.KindConcurrency, "workflow version conflict after retries")
}

// Sweep walks all persisted workflow instances and moves terminal/
// waiting-approval workflows past their expiry to "expired", emitting a
// lifecycle event for each. Boundary rule: expires_at == now is NOT yet
// expired; only strictly-less-than triggers expiry.
func (m *Manager) Sweep(ctx context.Context) (int, error) {
	rows, err := m.adapter.ScanByPrefix(ctx, workflowKeyPrefix)
	if err != nil {
		return 0, err
	}

	now := time.Now()
	expiredCount := 0
	for _, row := range rows {
		var inst domain.WorkflowInstance
		if err := json.Unmarshal(row.Value, &inst); err != nil {
			continue
		}
		if !inst.ExpiresAt.Before(now) {
			continue // equals or in the future: not expired
		}
		if !isSweepable(inst.Status) {
			continue
		}
		inst.Status = domain.WorkflowExpired
		if err := m.save(ctx, inst); err != nil {
			continue
		}
		expiredCount++
		if m.bus != nil {
			m.bus.Emit("workflow_expired", map[string]any{"workflow_id": inst.WorkflowID}, "lifecycle-manager", inst.WorkflowID)
		}
	}
	return expiredCount, nil
}

func isSweepable(status domain.WorkflowStatus) bool {
	switch status {
	case domain.WorkflowCompleted, domain.WorkflowFailed, domain.WorkflowCancelled, domain.WorkflowWaitingApproval:
		return true
	default:
		return false
	}
}

// GetChain walks parent_workflow_id references from workflowID to the
// root, detecting cycles via a visited set and failing with <ChainError>
// if depth exceeds maxChainDepth.
func (m *Manager) GetChain(ctx context.Context, workflowID string) ([]domain.WorkflowInstance, error) {
	visited := make(map[string]bool)
	chain := make([]domain.WorkflowInstance, 0)

	current := workflowID
	for {
		if visited[current] {
			return nil, orcherr.New(orcherr.KindChain, "cycle detected in parent_workflow_id chain")
		}
		visited[current] = true

		row, err := m.adapter.Get(ctx, workflowKeyPrefix+current)
		if err == persistence.ErrNotFound {
			break
		}
		if err != nil {
			return nil, err
		}
		var inst domain.WorkflowInstance
		if err := json.Unmarshal(row.Value, &inst); err != nil {
			return nil, err
		}
		chain = append(chain, inst)

		if len(chain) > m.maxChainDepth {
			return nil, orcherr.New(orcherr.KindChain, "parent chain exceeds max depth")
		}
		if inst.ParentWorkflowID == "" {
			break
		}
		current = inst.ParentWorkflowID
	}
	return chain, nil
}

// Dedup walks events newest-first and keeps only the first occurrence of
// each resource_id, preserving newest-first order in the output. Invariant:
// output is a subset of input, and for each resource_id the surviving entry
// has the maximal emitted_at among duplicates.
func Dedup(events []domain.Event) []domain.Event {
	sorted := make([]domain.Event, len(events))
	copy(sorted, events)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].EmittedAt.After(sorted[j].EmittedAt)
	})

	seen := make(map[string]bool)
	out := make([]domain.Event, 0, len(sorted))
	for _, evt := range sorted {
		id, ok := evt.Payload["resource_id"].(string)
		if !ok || id == "" {
			out = append(out, evt)
			continue
		}
		if seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, evt)
	}
	return out
}

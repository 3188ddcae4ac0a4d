// Package agents implements the Agent Registry: an in-memory, persisted
// table of specialist endpoints, their capability tags, health, and last
// heartbeat. A Registry type wraps a replicated map with CAS writes,
// simplified to the single-process deployment this repo targets: writes
// go through persistence.Adapter's compare-and-swap, and reads snapshot an
// atomic pointer rather than taking a lock, so heartbeat updates serialize
// on the write path while reads stay lock-free.
package agents

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"github.com/orchestrator/taskorch/internal/domain"
	"github.com/orchestrator/taskorch/internal/eventbus"
	"github.com/orchestrator/taskorch/internal/persistence"
)

// HeartbeatTTL is the default window after which a missed heartbeat marks
// an agent offline.
const HeartbeatTTL = 60 * time.Second

const keyPrefix = "agents/"

// Registry tracks specialist agent endpoints.
type Registry struct {
	adapter persistence.Adapter
	bus     *eventbus.Bus

	mu       sync.Mutex // serializes heartbeat and mark-offline CAS writes across all agents
	snapshot atomic.Pointer[map[string]domain.AgentRecord]
}

// New constructs a Registry backed by adapter, publishing status-change
// events on bus (bus may be nil).
func New(adapter persistence.Adapter, bus *eventbus.Bus) *Registry {
	r := &Registry{adapter: adapter, bus: bus}
	empty := make(map[string]domain.AgentRecord)
	r.snapshot.Store(&empty)
	return r
}

// Load hydrates the in-memory snapshot from the persisted rows; call once
// at startup.
func (r *Registry) Load(ctx context.Context) error {
	rows, err := r.adapter.ScanByPrefix(ctx, keyPrefix)
	if err != nil {
		return err
	}
	next := make(map[string]domain.AgentRecord, len(rows))
	for _, row := range rows {
		var rec domain.AgentRecord
		if err := json.Unmarshal(row.Value, &rec); err != nil {
			continue
		}
		rec.Version = row.Version
		next[rec.AgentID] = rec
	}
	r.snapshot.Store(&next)
	return nil
}

// Heartbeat upserts an agent record, marking it active and refreshing
// LastHeartbeat. Write path is transactional CAS on agent_id.
func (r *Registry) Heartbeat(ctx context.Context, rec domain.AgentRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := keyPrefix + rec.AgentID
	rec.LastHeartbeat = time.Now()
	if rec.Status == "" {
		rec.Status = domain.AgentActive
	}

	existing, err := r.adapter.Get(ctx, key)
	expectedVersion := int64(0)
	if err == nil {
		expectedVersion = existing.Version
	} else if err != persistence.ErrNotFound {
		return err
	}

	payload, err := json.Marshal(rec)
	if err != nil {
		return err
	}

	newVersion, err := r.adapter.CompareAndSwap(ctx, key, expectedVersion, payload)
	if err != nil {
		return err
	}
	rec.Version = newVersion

	r.updateSnapshot(rec)
	if r.bus != nil {
		r.bus.Emit("agent_heartbeat", map[string]any{"agent_id": rec.AgentID, "status": string(rec.Status)}, "agent-registry", rec.AgentID)
	}
	return nil
}

func (r *Registry) updateSnapshot(rec domain.AgentRecord) {
	for {
		old := r.snapshot.Load()
		next := make(map[string]domain.AgentRecord, len(*old)+1)
		for k, v := range *old {
			next[k] = v
		}
		next[rec.AgentID] = rec
		if r.snapshot.CompareAndSwap(old, &next) {
			return
		}
	}
}

// SweepOffline marks agents whose last heartbeat is older than ttl as
// offline; intended to run on the same periodic cadence as the lifecycle
// sweeper.
func (r *Registry) SweepOffline(ctx context.Context, ttl time.Duration) error {
	snap := *r.snapshot.Load()
	cutoff := time.Now().Add(-ttl)
	for id, rec := range snap {
		if rec.Status != domain.AgentOffline && rec.LastHeartbeat.Before(cutoff) {
			if err := r.markOffline(ctx, rec); err != nil {
				return err
			}
			if r.bus != nil {
				r.bus.Emit("agent_offline", map[string]any{"agent_id": id}, "agent-registry", id)
			}
		}
	}
	return nil
}

// markOffline flips rec's Status to offline via the same CAS write path as
// Heartbeat, but — unlike Heartbeat — leaves LastHeartbeat untouched. The
// sweep observing a stale agent is not a sighting of that agent; stamping
// LastHeartbeat with the sweep time would make a dead agent look recently
// alive to anyone reading the record.
func (r *Registry) markOffline(ctx context.Context, rec domain.AgentRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := keyPrefix + rec.AgentID
	rec.Status = domain.AgentOffline

	existing, err := r.adapter.Get(ctx, key)
	expectedVersion := int64(0)
	if err == nil {
		expectedVersion = existing.Version
	} else if err != persistence.ErrNotFound {
		return err
	}

	payload, err := json.Marshal(rec)
	if err != nil {
		return err
	}

	newVersion, err := r.adapter.CompareAndSwap(ctx, key, expectedVersion, payload)
	if err != nil {
		return err
	}
	rec.Version = newVersion

	r.updateSnapshot(rec)
	return nil
}

// ByName returns the record for agentID, lock-free.
func (r *Registry) ByName(agentID string) (domain.AgentRecord, bool) {
	snap := *r.snapshot.Load()
	rec, ok := snap[agentID]
	return rec, ok
}

// ByCapability returns all agents declaring tag, lock-free.
func (r *Registry) ByCapability(tag string) []domain.AgentRecord {
	snap := *r.snapshot.Load()
	out := make([]domain.AgentRecord, 0)
	for _, rec := range snap {
		for _, t := range rec.CapabilityTags {
			if t == tag {
				out = append(out, rec)
				break
			}
		}
	}
	return out
}

// Healthy returns all agents whose status is active or busy, lock-free.
func (r *Registry) Healthy() []domain.AgentRecord {
	snap := *r.snapshot.Load()
	out := make([]domain.AgentRecord, 0)
	for _, rec := range snap {
		if rec.Status != domain.AgentOffline {
			out = append(out, rec)
		}
	}
	return out
}

// All returns every registered agent, lock-free, for GET /agents.
func (r *Registry) All() []domain.AgentRecord {
	snap := *r.snapshot.Load()
	out := make([]domain.AgentRecord, 0, len(snap))
	for _, rec := range snap {
		out = append(out, rec)
	}
	return out
}

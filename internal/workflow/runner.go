package workflow

import (
	"context"
	"time"

	"github.com/orchestrator/taskorch/graph"
	"github.com/orchestrator/taskorch/graph/store"
	"github.com/orchestrator/taskorch/internal/domain"
)

// EngineRunner adapts a graph.Engine[State] to the narrow Start/Resume/
// Latest surface the HTTP layer needs, so internal/api never imports the
// generic engine package directly.
type EngineRunner struct {
	Engine *graph.Engine[State]
	Store  store.Store[State]
}

// Start runs a fresh workflow to completion or its first interrupt.
func (r *EngineRunner) Start(ctx context.Context, taskID string, initial State) (State, error) {
	final, err := r.Engine.Run(ctx, taskID, initial)
	if err != nil && ctx.Err() != nil {
		r.recordCancelled(taskID)
	}
	return final, err
}

// recordCancelled appends a final checkpoint with status cancelled after a
// run is torn down by context cancellation, so the last persisted state
// reflects the cancellation rather than silently ending at the last
// completed node. Runs against a fresh context because the caller's is
// already dead.
func (r *EngineRunner) recordCancelled(taskID string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	state, step, err := r.Store.LoadLatest(ctx, taskID)
	if err != nil || state.Status == domain.WorkflowCancelled {
		return
	}
	state.Status = domain.WorkflowCancelled
	_ = r.Store.SaveStep(ctx, taskID, step+1, "cancel", state)
}

// Resume continues a previously interrupted workflow from its latest
// persisted step, with updated carrying the caller's state changes (e.g.
// an approval decision). It re-enters the graph at the router so subtask
// readiness and any still-gated actions are re-evaluated against the
// updated state.
func (r *EngineRunner) Resume(ctx context.Context, taskID string, updated State) (State, error) {
	_, step, err := r.Store.LoadLatest(ctx, taskID)
	if err != nil {
		return State{}, err
	}
	final, err := r.Engine.RunFrom(ctx, taskID, step, nodeRouter, updated)
	if err != nil && ctx.Err() != nil {
		r.recordCancelled(taskID)
	}
	return final, err
}

// Latest returns the most recently persisted state for a run.
func (r *EngineRunner) Latest(ctx context.Context, taskID string) (State, error) {
	state, _, err := r.Store.LoadLatest(ctx, taskID)
	return state, err
}

package workflow

import (
	"fmt"

	"github.com/orchestrator/taskorch/graph"
	"github.com/orchestrator/taskorch/graph/emit"
	"github.com/orchestrator/taskorch/graph/store"
	"github.com/orchestrator/taskorch/internal/domain"
)

// Build wires reducer, nodes, and routing into a graph.Engine[State] ready
// to Run/RunFrom: add every node, then declare the single start node
// (routing after that is entirely node-returned graph.Next values, not
// static edges, since which node runs next depends on subtask readiness
// computed at runtime).
func Build(st store.Store[State], emitter emit.Emitter, nodes Nodes, opts graph.Options) (*graph.Engine[State], error) {
	engine := graph.New(Reducer, st, emitter, opts)

	if err := engine.Add(nodeRouter, graph.NodeFunc[State](nodes.RouterNode)); err != nil {
		return nil, fmt.Errorf("add router node: %w", err)
	}
	if err := engine.Add(nodeSpecialist, graph.NodeFunc[State](nodes.SpecialistNode)); err != nil {
		return nil, fmt.Errorf("add specialist node: %w", err)
	}
	if err := engine.Add(nodeApproval, graph.NodeFunc[State](nodes.ApprovalGateNode)); err != nil {
		return nil, fmt.Errorf("add approval node: %w", err)
	}
	if err := engine.Add(nodeFinalize, graph.NodeFunc[State](FinalizeNode)); err != nil {
		return nil, fmt.Errorf("add finalize node: %w", err)
	}

	if err := engine.StartAt(nodeRouter); err != nil {
		return nil, fmt.Errorf("set start node: %w", err)
	}

	return engine, nil
}

// NewInitialState builds the State a fresh run starts from, given a
// decomposed (already DAG-validated) subtask list.
func NewInitialState(taskID string, subtasks []domain.Subtask) State {
	return State{
		TaskID:     taskID,
		Subtasks:   subtasks,
		Status:     domain.WorkflowCreated,
		RAGContext: make(map[string]RAGItem),
	}
}

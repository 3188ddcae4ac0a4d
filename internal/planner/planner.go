// Package planner implements the decomposition router: turning a free-form
// task description into a DAG of domain.Subtask. Real decomposition is an
// LLM call, which stays out of scope for this package; Decompose instead
// takes a Proposer that returns raw, possibly-malformed subtask drafts, and
// this package's job is entirely the schema check and noisy-output
// resilience rule around it: indices that are not non-negative integers, or
// depends_on entries pointing forward/out of range, are dropped with a
// logged PlannerWarning rather than failing the whole decomposition.
package planner

import (
	"context"

	"github.com/orchestrator/taskorch/internal/domain"
	"github.com/orchestrator/taskorch/internal/eventbus"
	"github.com/orchestrator/taskorch/internal/orcherr"
)

// Draft is a raw, not-yet-validated subtask proposal. DependsOn carries
// interface{} values deliberately: planner output is untrusted JSON and a
// dependency index may arrive as a float64, a string, or a malformed
// object.
type Draft struct {
	AgentKind   string
	Description string
	ActionType  string
	DependsOn   []any
}

// Proposer produces a raw decomposition for a task description. Supplied
// by the caller; this package never talks to a model itself.
type Proposer func(ctx context.Context, taskID, title, description string) ([]Draft, error)

// HighRiskActionTypes names action types that require approval before
// dispatch.
var HighRiskActionTypes = map[string]bool{
	"delete":            true,
	"payment":           true,
	"external_send":     true,
	"infra_change":      true,
	"deploy_production": true,
}

// Planner decomposes tasks and reports resilience warnings via the event
// bus rather than failing the caller.
type Planner struct {
	propose Proposer
	bus     *eventbus.Bus
}

// New constructs a Planner.
func New(propose Proposer, bus *eventbus.Bus) *Planner {
	return &Planner{propose: propose, bus: bus}
}

// Decompose runs propose, validates the result against the subtask schema,
// and returns a DAG-clean subtask list. It never errors on malformed
// dependency fields: those are dropped and a PlannerWarning is emitted. It
// does error if the proposer itself fails, or if the filtered result still
// fails domain.ValidateDAG (a defect in the filtering logic, not in planner
// output, since filtering is supposed to guarantee exactly this).
func (p *Planner) Decompose(ctx context.Context, taskID, title, description string) ([]domain.Subtask, error) {
	drafts, err := p.propose(ctx, taskID, title, description)
	if err != nil {
		return nil, orcherr.Wrap(orcherr.KindNodeUpstream, "decomposition proposer failed", err)
	}

	subtasks := make([]domain.Subtask, 0, len(drafts))
	for i, d := range drafts {
		deps := p.filterDependsOn(taskID, i, d.DependsOn)
		subtasks = append(subtasks, domain.Subtask{
			Index:       i,
			TaskID:      taskID,
			AgentKind:   d.AgentKind,
			Description: d.Description,
			ActionType:  d.ActionType,
			DependsOn:   deps,
			State:       domain.SubtaskPlanned,
		})
	}

	if err := domain.ValidateDAG(subtasks); err != nil {
		return nil, orcherr.Wrap(orcherr.KindNodeInternal, "decomposition still invalid after filtering", err)
	}
	return subtasks, nil
}

// filterDependsOn keeps only entries that decode to a non-negative integer
// smaller than ownIndex, dropping and warning about everything else.
func (p *Planner) filterDependsOn(taskID string, ownIndex int, raw []any) []int {
	out := make([]int, 0, len(raw))
	for _, v := range raw {
		idx, ok := asIndex(v)
		if !ok || idx < 0 || idx >= ownIndex {
			p.warn(taskID, ownIndex, v)
			continue
		}
		out = append(out, idx)
	}
	return out
}

func asIndex(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case float64:
		if n != float64(int(n)) {
			return 0, false
		}
		return int(n), true
	default:
		return 0, false
	}
}

func (p *Planner) warn(taskID string, subtaskIndex int, badValue any) {
	if p.bus == nil {
		return
	}
	p.bus.Emit("planner_warning", map[string]any{
		"task_id":       taskID,
		"subtask_index": subtaskIndex,
		"bad_value":     badValue,
		"reason":        "depends_on entry is not a valid earlier subtask index",
	}, "planner", taskID)
}

// IsHighRisk reports whether a subtask's action type requires an approval
// gate before dispatch.
func IsHighRisk(st domain.Subtask) bool {
	return HighRiskActionTypes[st.ActionType]
}

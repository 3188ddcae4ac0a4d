package workflow

import (
	"context"
	"time"

	"github.com/orchestrator/taskorch/graph"
	"github.com/orchestrator/taskorch/internal/domain"
)

// Dispatcher executes one subtask against its assigned specialist and
// returns the resulting message/tool-use delta. Supplied by the caller
// wiring the engine; the engine itself has no opinion on how a specialist
// is invoked, or on individual specialist prompts and tool implementations,
// which stay out of this package's scope.
type Dispatcher func(ctx context.Context, st domain.Subtask, s State) (domain.Subtask, Message, error)

// ApprovalRequester raises an approval request for a risky subtask and
// returns its ID; the workflow pauses (graph.Stop()) until a later resume
// carries a decision for that ID, generalizing a human-in-the-loop pause
// from a single boolean field to an external approval store.
type ApprovalRequester func(ctx context.Context, s State, st domain.Subtask) (approvalID string, required bool, err error)

// RiskClassifier decides whether a subtask needs human approval before
// dispatch, based on its action type's risk classification.
type RiskClassifier func(st domain.Subtask) bool

// Nodes bundles the callbacks a running workflow needs from the rest of the
// system, so RouterNode/SpecialistNode/ApprovalGateNode stay pure functions
// of (ctx, State) as graph.Node requires.
type Nodes struct {
	Dispatch        Dispatcher
	RequestApproval ApprovalRequester
	NeedsApproval   RiskClassifier
}

const (
	nodeRouter     = "router"
	nodeSpecialist = "specialist"
	nodeApproval   = "approval-gate"
	nodeFinalize   = "finalize"
)

// nextRunnableSubtask returns the lowest-indexed subtask whose dependencies
// are all completed and which is itself still planned, or -1 if none is
// ready (either everything is done, or the DAG is blocked on a failure).
func nextRunnableSubtask(subtasks []domain.Subtask) int {
	completed := make(map[int]bool, len(subtasks))
	for _, st := range subtasks {
		if st.State == domain.SubtaskCompleted {
			completed[st.Index] = true
		}
	}
	for _, st := range subtasks {
		if st.State != domain.SubtaskPlanned {
			continue
		}
		ready := true
		for _, dep := range st.DependsOn {
			if !completed[dep] {
				ready = false
				break
			}
		}
		if ready {
			return st.Index
		}
	}
	return -1
}

func allTerminal(subtasks []domain.Subtask) bool {
	for _, st := range subtasks {
		if st.State != domain.SubtaskCompleted && st.State != domain.SubtaskFailed {
			return false
		}
	}
	return true
}

// RouterNode picks the next runnable subtask and routes to the approval
// gate or straight to the specialist node, or to finalize once the DAG is
// exhausted.
func (n Nodes) RouterNode(_ context.Context, s State) graph.NodeResult[State] {
	if allTerminal(s.Subtasks) {
		return graph.NodeResult[State]{
			Delta: State{Status: domain.WorkflowCompleted},
			Route: graph.Goto(nodeFinalize),
		}
	}

	idx := nextRunnableSubtask(s.Subtasks)
	if idx < 0 {
		// Nothing runnable and not all terminal: every remaining subtask
		// is blocked on a failed dependency.
		return graph.NodeResult[State]{
			Delta: State{Status: domain.WorkflowFailed},
			Route: graph.Goto(nodeFinalize),
		}
	}

	if n.NeedsApproval != nil && n.NeedsApproval(s.Subtasks[idx]) {
		return graph.NodeResult[State]{
			Delta: State{Status: domain.WorkflowRunning},
			Route: graph.Goto(nodeApproval),
		}
	}

	return graph.NodeResult[State]{
		Delta: State{Status: domain.WorkflowRunning},
		Route: graph.Goto(nodeSpecialist),
	}
}

// ApprovalGateNode consults RequestApproval for the next runnable subtask
// each time it runs: the requester is idempotent per action, so a fresh run
// raises the request and pauses (graph.Stop()), while a resumed run sees
// the recorded decision and either passes through to the specialist or
// fails the workflow on rejection.
func (n Nodes) ApprovalGateNode(ctx context.Context, s State) graph.NodeResult[State] {
	idx := nextRunnableSubtask(s.Subtasks)
	if idx < 0 {
		return graph.NodeResult[State]{Route: graph.Goto(nodeRouter)}
	}
	if n.RequestApproval == nil {
		return graph.NodeResult[State]{Route: graph.Goto(nodeSpecialist)}
	}

	approvalID, waiting, err := n.RequestApproval(ctx, s, s.Subtasks[idx])
	if err != nil {
		return graph.NodeResult[State]{Err: err}
	}
	if !waiting {
		return graph.NodeResult[State]{Route: graph.Goto(nodeSpecialist)}
	}
	return graph.NodeResult[State]{
		Delta: State{
			Status:            domain.WorkflowWaitingApproval,
			PendingApprovalID: approvalID,
		},
		Route: graph.Stop(),
	}
}

// SpecialistNode dispatches the next runnable subtask and folds its result
// back into State.Subtasks and State.Messages.
func (n Nodes) SpecialistNode(ctx context.Context, s State) graph.NodeResult[State] {
	idx := nextRunnableSubtask(s.Subtasks)
	if idx < 0 {
		return graph.NodeResult[State]{Route: graph.Goto(nodeRouter)}
	}
	subtask := s.Subtasks[idx]
	subtask.State = domain.SubtaskRunning
	subtask.Attempts++

	updated, msg, err := n.Dispatch(ctx, subtask, s)
	if err != nil {
		updated.State = domain.SubtaskFailed
		return graph.NodeResult[State]{
			Delta: State{
				Subtasks: []domain.Subtask{updated},
				LastError: &ErrorInfo{
					NodeID:  nodeSpecialist,
					Message: err.Error(),
					Kind:    "NodeError.Upstream",
					At:      time.Now(),
				},
			},
			Route: graph.Goto(nodeRouter),
		}
	}

	return graph.NodeResult[State]{
		Delta: State{
			Subtasks:     []domain.Subtask{updated},
			Messages:     []Message{msg},
			CurrentAgent: updated.AgentKind,
		},
		Route: graph.Goto(nodeRouter),
	}
}

// FinalizeNode is the terminal node; it performs no further state changes.
func FinalizeNode(_ context.Context, _ State) graph.NodeResult[State] {
	return graph.NodeResult[State]{Route: graph.Stop()}
}

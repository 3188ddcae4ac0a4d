package main

import (
	"context"

	"github.com/orchestrator/taskorch/internal/approval"
	"github.com/orchestrator/taskorch/internal/domain"
	"github.com/orchestrator/taskorch/internal/gateway"
	"github.com/orchestrator/taskorch/internal/planner"
	"github.com/orchestrator/taskorch/internal/workflow"
)

// stubProposer is the default decomposition proposer wired by the daemon
// when no model-backed planner is configured: it emits a single
// generalist subtask covering the whole task description. Actual task
// decomposition prompts are intentionally out of scope here; a
// production deployment replaces this with a call into its own planning
// model and passes the result through planner.Planner's schema filter
// unchanged.
func stubProposer(_ context.Context, _, _, description string) ([]planner.Draft, error) {
	return []planner.Draft{
		{AgentKind: "generalist", Description: description, ActionType: "respond"},
	}, nil
}

// makeChatSource adapts a single engine Start call into the gateway's
// streaming Source contract by running the workflow synchronously and
// replaying its transcript as content chunks. A production deployment
// would instead wire the engine's own emitter to push chunks live as
// nodes complete; this default keeps the gateway independently testable
// without a live model backend.
func makeChatSource(runner *workflow.EngineRunner) gateway.Source {
	return func(ctx context.Context, sessionID, message string) (<-chan gateway.Chunk, error) {
		out := make(chan gateway.Chunk, 8)
		go func() {
			defer close(out)
			initial := workflow.NewInitialState(sessionID, []domain.Subtask{
				{Index: 0, TaskID: sessionID, AgentKind: "generalist", Description: message, State: domain.SubtaskPlanned},
			})
			final, err := runner.Start(ctx, sessionID, initial)
			if err != nil {
				out <- gateway.Chunk{Type: gateway.ChunkError, Error: err.Error()}
				out <- gateway.Chunk{Type: gateway.ChunkDone}
				return
			}
			for _, msg := range final.Messages {
				out <- gateway.Chunk{Type: gateway.ChunkContent, Content: msg.Content}
			}
			out <- gateway.Chunk{Type: gateway.ChunkAgentComplete, Agent: final.CurrentAgent}
			out <- gateway.Chunk{Type: gateway.ChunkDone}
		}()
		return out, nil
	}
}

func makeApprovalRequester(gate *approval.Gate) workflow.ApprovalRequester {
	return func(ctx context.Context, s workflow.State, st domain.Subtask) (string, bool, error) {
		if !planner.IsHighRisk(st) {
			return "", false, nil
		}
		return gate.Resolve(ctx, s.TaskID, "high", st.ActionType, st.Description)
	}
}

// Package workflow instantiates the engine for this orchestrator's domain:
// the concrete State carried through graph.Engine[State], its reducer, and
// the node set a decomposed task runs through (router, specialist dispatch,
// approval interrupt, finalize). Approvals are modeled as a Stop() return
// value resumed later via a checkpoint update, never as a thrown exception.
package workflow

import (
	"time"

	"github.com/orchestrator/taskorch/internal/domain"
)

// Message is one turn of the run's transcript; State.Messages only ever
// grows — the merge rule is append, never replace.
type Message struct {
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	AgentKind string    `json:"agent_kind,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// RAGItem is one retrieved context fragment, keyed by ID so later deltas for
// the same ID replace rather than duplicate it — merge by id, newest wins.
type RAGItem struct {
	ID        string    `json:"id"`
	Content   string    `json:"content"`
	Source    string    `json:"source"`
	FetchedAt time.Time `json:"fetched_at"`
}

// ErrorInfo captures the last node failure for surfacing on GET /tasks/{id}.
type ErrorInfo struct {
	NodeID  string    `json:"node_id"`
	Message string    `json:"message"`
	Kind    string    `json:"kind"`
	At      time.Time `json:"at"`
}

// State is the S type parameter for this orchestrator's graph.Engine. The
// fields' merge rules are documented on Reducer below, the single place all
// of them are applied.
type State struct {
	TaskID            string
	Messages          []Message
	CurrentAgent      string
	RAGContext        map[string]RAGItem
	MCPToolsUsed      []string
	Subtasks          []domain.Subtask
	Status            domain.WorkflowStatus
	PendingApprovalID string
	LastError         *ErrorInfo
}

// Reducer merges a node's delta into the previous accumulated state: messages
// append, current_agent replaces if nonempty, rag_context merges by id,
// mcp_tools_used appends with dedupe, and subtasks replace by index.
func Reducer(prev, delta State) State {
	if delta.TaskID != "" {
		prev.TaskID = delta.TaskID
	}

	if len(delta.Messages) > 0 {
		prev.Messages = append(prev.Messages, delta.Messages...)
	}

	if delta.CurrentAgent != "" {
		prev.CurrentAgent = delta.CurrentAgent
	}

	if len(delta.RAGContext) > 0 {
		merged := make(map[string]RAGItem, len(prev.RAGContext)+len(delta.RAGContext))
		for k, v := range prev.RAGContext {
			merged[k] = v
		}
		for k, v := range delta.RAGContext {
			merged[k] = v // newest wins: delta always overwrites
		}
		prev.RAGContext = merged
	}

	if len(delta.MCPToolsUsed) > 0 {
		seen := make(map[string]bool, len(prev.MCPToolsUsed))
		merged := make([]string, 0, len(prev.MCPToolsUsed)+len(delta.MCPToolsUsed))
		for _, t := range prev.MCPToolsUsed {
			if !seen[t] {
				seen[t] = true
				merged = append(merged, t)
			}
		}
		for _, t := range delta.MCPToolsUsed {
			if !seen[t] {
				seen[t] = true
				merged = append(merged, t)
			}
		}
		prev.MCPToolsUsed = merged
	}

	if len(delta.Subtasks) > 0 {
		prev.Subtasks = replaceByIndex(prev.Subtasks, delta.Subtasks)
	}

	if delta.Status != "" {
		prev.Status = delta.Status
	}

	if delta.PendingApprovalID != "" {
		prev.PendingApprovalID = delta.PendingApprovalID
	}
	if delta.LastError != nil {
		prev.LastError = delta.LastError
	}

	return prev
}

func replaceByIndex(prev, delta []domain.Subtask) []domain.Subtask {
	byIndex := make(map[int]domain.Subtask, len(prev))
	maxIndex := -1
	for _, st := range prev {
		byIndex[st.Index] = st
		if st.Index > maxIndex {
			maxIndex = st.Index
		}
	}
	for _, st := range delta {
		byIndex[st.Index] = st
		if st.Index > maxIndex {
			maxIndex = st.Index
		}
	}
	out := make([]domain.Subtask, 0, len(byIndex))
	for i := 0; i <= maxIndex; i++ {
		if st, ok := byIndex[i]; ok {
			out = append(out, st)
		}
	}
	return out
}

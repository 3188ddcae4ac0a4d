// Package domain holds the entities shared across the orchestrator: tasks,
// subtasks, workflow instances, approvals, agent records and tool
// descriptors. None of these types own behavior; the owning component for
// each is named in its doc comment.
package domain

import "time"

// Priority is the caller-declared urgency of a Task.
type Priority string

const (
	PriorityLow      Priority = "low"
	PriorityMedium   Priority = "med"
	PriorityHigh     Priority = "high"
	PriorityCritical Priority = "critical"
)

// Task is created at POST /orchestrate and owned by the Task API; it is
// mutated only in response to engine-emitted events.
type Task struct {
	TaskID        string         `json:"task_id"`
	Title         string         `json:"title"`
	Description   string         `json:"description"`
	Priority      Priority       `json:"priority"`
	Requester     string         `json:"requester"`
	CreatedAt     time.Time      `json:"created_at"`
	ParentTaskID  string         `json:"parent_task_id,omitempty"`
	Metadata      map[string]any `json:"metadata,omitempty"`
	Status        string         `json:"status"`
	ApprovalID    string         `json:"approval_request_id,omitempty"`
	Subtasks      []Subtask      `json:"subtasks,omitempty"`
	StartedAt     time.Time      `json:"started_at,omitempty"`
	CompletedAt   time.Time      `json:"completed_at,omitempty"`
	FailureReason string         `json:"failure_reason,omitempty"`
}

// ElapsedSeconds reports task age for GET /tasks/{id} status snapshots.
func (t Task) ElapsedSeconds() float64 {
	if t.StartedAt.IsZero() {
		return 0
	}
	end := t.CompletedAt
	if end.IsZero() {
		end = time.Now()
	}
	return end.Sub(t.StartedAt).Seconds()
}

// SubtaskState is the lifecycle of one planned unit of work.
type SubtaskState string

const (
	SubtaskPlanned   SubtaskState = "planned"
	SubtaskRunning   SubtaskState = "running"
	SubtaskCompleted SubtaskState = "completed"
	SubtaskFailed    SubtaskState = "failed"
	SubtaskBlocked   SubtaskState = "blocked"
)

// Subtask is one node of the decomposition DAG; depends_on indices must all
// be smaller than the subtask's own index (see domain.ValidateDAG).
type Subtask struct {
	Index      int            `json:"subtask_index"`
	TaskID     string         `json:"task_id"`
	AgentKind  string         `json:"agent_kind"`
	Description string        `json:"description"`
	DependsOn  []int          `json:"depends_on"`
	State      SubtaskState   `json:"state"`
	Outputs    map[string]any `json:"outputs,omitempty"`
	Attempts   int            `json:"attempts"`
	ActionType string         `json:"action_type,omitempty"`
}

// ID renders the "agent_kind::task_id::n" label used in seed scenarios,
// where n is the 1-based position (Index+1).
func (s Subtask) ID() string {
	return s.AgentKind + "::" + s.TaskID + "::" + itoa(s.Index+1)
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}

// ValidateDAG enforces the invariant that depends_on is a subset of earlier
// indices, so the dependency graph is acyclic by construction.
func ValidateDAG(subtasks []Subtask) error {
	for _, st := range subtasks {
		for _, dep := range st.DependsOn {
			if dep < 0 || dep >= st.Index {
				return &DAGError{Index: st.Index, BadDependency: dep}
			}
		}
	}
	return nil
}

// DAGError reports a depends_on entry that violates acyclicity.
type DAGError struct {
	Index         int
	BadDependency int
}

func (e *DAGError) Error() string {
	return "subtask dependency points forward or out of range"
}

// WorkflowStatus is the workflow instance's state machine.
type WorkflowStatus string

const (
	WorkflowCreated         WorkflowStatus = "created"
	WorkflowRunning         WorkflowStatus = "running"
	WorkflowWaitingApproval WorkflowStatus = "waiting_approval"
	WorkflowCompleted       WorkflowStatus = "completed"
	WorkflowFailed          WorkflowStatus = "failed"
	WorkflowCancelled       WorkflowStatus = "cancelled"
	WorkflowExpired         WorkflowStatus = "expired"
)

// WorkflowInstance tracks the engine-owned bookkeeping row for one task's
// graph execution.
type WorkflowInstance struct {
	WorkflowID       string         `json:"workflow_id"`
	GraphName        string         `json:"graph_name"`
	CurrentNode      string         `json:"current_node"`
	Status           WorkflowStatus `json:"status"`
	ParentWorkflowID string         `json:"parent_workflow_id,omitempty"`
	ExpiresAt        time.Time      `json:"expires_at"`
	Version          int64          `json:"version"`
	Refcount         int            `json:"refcount"`
}

// ApprovalState is the Approval Request's lifecycle.
type ApprovalState string

const (
	ApprovalPending  ApprovalState = "pending"
	ApprovalApproved ApprovalState = "approved"
	ApprovalRejected ApprovalState = "rejected"
	ApprovalExpired  ApprovalState = "expired"
)

// ApprovalRequest is owned exclusively by the Approval Gate.
type ApprovalRequest struct {
	ApprovalID  string        `json:"approval_id"`
	WorkflowID  string        `json:"workflow_id"`
	RiskLevel   string        `json:"risk_level"`
	ActionType  string        `json:"action_type"`
	Description string        `json:"description"`
	State       ApprovalState `json:"state"`
	DecidedBy   string        `json:"decided_by,omitempty"`
	Reason      string        `json:"reason,omitempty"`
	CreatedAt   time.Time     `json:"created_at"`
	ExpiresAt   time.Time     `json:"expires_at"`
}

// AgentStatus is the health of a registered specialist endpoint.
type AgentStatus string

const (
	AgentActive  AgentStatus = "active"
	AgentBusy    AgentStatus = "busy"
	AgentOffline AgentStatus = "offline"
)

// AgentRecord is owned exclusively by the Agent Registry.
type AgentRecord struct {
	AgentID        string      `json:"agent_id"`
	DisplayName    string      `json:"display_name"`
	BaseURL        string      `json:"base_url"`
	CapabilityTags []string    `json:"capability_tags"`
	Status         AgentStatus `json:"status"`
	LastHeartbeat  time.Time   `json:"last_heartbeat"`
	Version        int64       `json:"version"`
}

// ToolDescriptor is immutable at runtime once loaded from the manifest.
type ToolDescriptor struct {
	ServerName string         `json:"server_name"`
	ToolName   string         `json:"tool_name"`
	Parameters map[string]any `json:"parameters"`
	Keywords   []string       `json:"keywords"`
	CostClass  string         `json:"cost_class"`
}

// Event is the in-memory-only record published on the Event Bus.
type Event struct {
	Kind          string         `json:"kind"`
	Payload       map[string]any `json:"payload"`
	Source        string         `json:"source"`
	CorrelationID string         `json:"correlation_id"`
	EmittedAt     time.Time      `json:"emitted_at"`
}

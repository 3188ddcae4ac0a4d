package workflow

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orchestrator/taskorch/internal/domain"
)

func TestReducerMessagesAppend(t *testing.T) {
	prev := State{Messages: []Message{{Role: "user", Content: "hi"}}}
	delta := State{Messages: []Message{{Role: "assistant", Content: "hello"}}}
	got := Reducer(prev, delta)
	require.Len(t, got.Messages, 2)
	assert.Equal(t, "hi", got.Messages[0].Content)
	assert.Equal(t, "hello", got.Messages[1].Content)
}

func TestReducerCurrentAgentReplaceIfNonEmpty(t *testing.T) {
	prev := State{CurrentAgent: "feature-dev"}
	got := Reducer(prev, State{})
	assert.Equal(t, "feature-dev", got.CurrentAgent, "empty delta should not clear CurrentAgent")

	got = Reducer(prev, State{CurrentAgent: "code-review"})
	assert.Equal(t, "code-review", got.CurrentAgent)
}

func TestReducerRAGContextMergeByIDNewestWins(t *testing.T) {
	old := time.Now().Add(-time.Hour)
	newer := time.Now()
	prev := State{RAGContext: map[string]RAGItem{
		"doc1": {ID: "doc1", Content: "old version", FetchedAt: old},
	}}
	delta := State{RAGContext: map[string]RAGItem{
		"doc1": {ID: "doc1", Content: "new version", FetchedAt: newer},
		"doc2": {ID: "doc2", Content: "fresh"},
	}}
	got := Reducer(prev, delta)
	require.Len(t, got.RAGContext, 2)
	assert.Equal(t, "new version", got.RAGContext["doc1"].Content, "expected newest version to win")
}

func TestReducerMCPToolsDeduplicate(t *testing.T) {
	prev := State{MCPToolsUsed: []string{"read_file", "git_diff"}}
	delta := State{MCPToolsUsed: []string{"git_diff", "write_file"}}
	got := Reducer(prev, delta)
	want := []string{"read_file", "git_diff", "write_file"}
	require.Equal(t, len(want), len(got.MCPToolsUsed))
	for i, w := range want {
		assert.Equalf(t, w, got.MCPToolsUsed[i], "MCPToolsUsed[%d]", i)
	}
}

func TestReducerSubtasksReplaceByIndex(t *testing.T) {
	prev := State{Subtasks: []domain.Subtask{
		{Index: 0, State: domain.SubtaskPlanned},
		{Index: 1, State: domain.SubtaskPlanned},
	}}
	delta := State{Subtasks: []domain.Subtask{
		{Index: 0, State: domain.SubtaskCompleted},
	}}
	got := Reducer(prev, delta)
	assert.Equal(t, domain.SubtaskCompleted, got.Subtasks[0].State)
	assert.Equal(t, domain.SubtaskPlanned, got.Subtasks[1].State, "subtask 1 should be untouched")
}

func TestReducerStatusAndErrorReplace(t *testing.T) {
	prev := State{Status: domain.WorkflowRunning}
	errInfo := &ErrorInfo{NodeID: "specialist", Message: "boom"}
	got := Reducer(prev, State{Status: domain.WorkflowFailed, LastError: errInfo})
	assert.Equal(t, domain.WorkflowFailed, got.Status)
	assert.Same(t, errInfo, got.LastError, "LastError not propagated")
}

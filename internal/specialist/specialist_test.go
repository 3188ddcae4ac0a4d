package specialist

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orchestrator/taskorch/graph/model"
	"github.com/orchestrator/taskorch/internal/config"
	"github.com/orchestrator/taskorch/internal/domain"
	"github.com/orchestrator/taskorch/internal/tools"
	"github.com/orchestrator/taskorch/internal/workflow"
)

func newTestCatalogue(t *testing.T) *tools.Catalogue {
	t.Helper()
	c := tools.NewCatalogue()
	require.NoError(t, c.LoadBytes([]byte(`
servers:
  - name: fs
    tools:
      - name: read_file
        keywords: ["read", "file"]
        cost_class: low
agent_profiles:
  feature-dev: ["read_file"]
`)))
	return c
}

func TestDispatchReturnsModelTextAndCompletesSubtask(t *testing.T) {
	catalogue := newTestCatalogue(t)
	mock := &model.MockChatModel{Responses: []model.ChatOut{{Text: "implemented the feature"}}}
	d := &Dispatcher{
		Model:     mock,
		Catalogue: catalogue,
		Tools:     NewRegistry(catalogue),
		Strategy:  tools.StrategyAgentProfile,
		MaxTools:  10,
	}

	st := domain.Subtask{AgentKind: "feature-dev", Description: "open main.go"}
	updated, msg, err := d.Dispatch(context.Background(), st, workflow.State{})
	require.NoError(t, err)
	assert.Equal(t, domain.SubtaskCompleted, updated.State)
	assert.Equal(t, "implemented the feature", msg.Content)
	assert.Equal(t, "feature-dev", msg.AgentKind)
	require.Len(t, mock.Calls, 1)
	assert.NotEmpty(t, mock.Calls[0].Tools, "expected the feature-dev profile's tools to be disclosed")
}

func TestDispatchExecutesRequestedToolCalls(t *testing.T) {
	catalogue := newTestCatalogue(t)
	mock := &model.MockChatModel{Responses: []model.ChatOut{{
		ToolCalls: []model.ToolCall{{Name: "read_file", Input: map[string]interface{}{"path": "main.go"}}},
	}}}
	registry := NewRegistry(catalogue)
	d := &Dispatcher{Model: mock, Catalogue: catalogue, Tools: registry, Strategy: tools.StrategyFull, MaxTools: 10}

	st := domain.Subtask{AgentKind: "feature-dev", Description: "read main.go"}
	_, msg, err := d.Dispatch(context.Background(), st, workflow.State{})
	require.NoError(t, err)
	assert.Contains(t, msg.Content, "read_file")
}

func TestDispatchPropagatesChatError(t *testing.T) {
	catalogue := newTestCatalogue(t)
	mock := &model.MockChatModel{Err: assert.AnError}
	d := &Dispatcher{Model: mock, Catalogue: catalogue, Tools: NewRegistry(catalogue), Strategy: tools.StrategyMinimal, MaxTools: 10}

	_, _, err := d.Dispatch(context.Background(), domain.Subtask{Description: "x"}, workflow.State{})
	assert.Error(t, err)
}

func TestNewChatModelDefaultsToMock(t *testing.T) {
	m := NewChatModel(config.Config{})
	_, ok := m.(*model.MockChatModel)
	assert.True(t, ok, "expected an unconfigured provider to fall back to MockChatModel")
}

package model

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubChatModel struct {
	response ChatOut
	err      error
}

func (m *stubChatModel) Chat(ctx context.Context, messages []Message, tools []ToolSpec) (ChatOut, error) {
	if ctx.Err() != nil {
		return ChatOut{}, ctx.Err()
	}
	if m.err != nil {
		return ChatOut{}, m.err
	}
	return m.response, nil
}

func TestRoleConstantsMatchProviderConventions(t *testing.T) {
	assert.Equal(t, "system", RoleSystem)
	assert.Equal(t, "user", RoleUser)
	assert.Equal(t, "assistant", RoleAssistant)
}

func TestChatModelReturnsTextOrToolCallsOrBoth(t *testing.T) {
	var m ChatModel = &stubChatModel{response: ChatOut{
		Text:      "found it",
		ToolCalls: []ToolCall{{Name: "search_web", Input: map[string]interface{}{"query": "Go"}}},
	}}

	out, err := m.Chat(context.Background(), []Message{{Role: RoleUser, Content: "search for Go"}}, []ToolSpec{
		{Name: "search_web", Description: "search the web"},
	})
	require.NoError(t, err)
	assert.Equal(t, "found it", out.Text)
	require.Len(t, out.ToolCalls, 1)
	assert.Equal(t, "search_web", out.ToolCalls[0].Name)
}

func TestChatModelWorksWithNilTools(t *testing.T) {
	var m ChatModel = &stubChatModel{response: ChatOut{Text: "no tools needed"}}
	out, err := m.Chat(context.Background(), []Message{{Role: RoleUser, Content: "hi"}}, nil)
	require.NoError(t, err)
	assert.Equal(t, "no tools needed", out.Text)
}

func TestChatModelPropagatesError(t *testing.T) {
	wantErr := assert.AnError
	var m ChatModel = &stubChatModel{err: wantErr}
	_, err := m.Chat(context.Background(), []Message{{Role: RoleUser, Content: "x"}}, nil)
	assert.ErrorIs(t, err, wantErr)
}

func TestChatModelRespectsCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	var m ChatModel = &stubChatModel{response: ChatOut{Text: "should not return"}}
	_, err := m.Chat(ctx, []Message{{Role: RoleUser, Content: "x"}}, nil)
	assert.ErrorIs(t, err, context.Canceled)
}

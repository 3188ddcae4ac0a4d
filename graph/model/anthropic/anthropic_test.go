package anthropic

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orchestrator/taskorch/graph/model"
)

// fakeCaller records what Chat hands the wire layer and plays back a
// scripted result, standing in for the SDK round trip.
type fakeCaller struct {
	out          model.ChatOut
	err          error
	callCount    int
	lastSystem   string
	lastMessages []model.Message
}

func (f *fakeCaller) call(_ context.Context, system string, messages []model.Message, _ []model.ToolSpec) (model.ChatOut, error) {
	f.callCount++
	f.lastSystem = system
	f.lastMessages = messages
	return f.out, f.err
}

func newTestModel(f *fakeCaller) *ChatModel {
	return &ChatModel{modelName: "claude-3-opus-20240229", call: f.call}
}

func TestNewChatModelDefaultsModelName(t *testing.T) {
	m := NewChatModel("test-api-key", "")
	require.NotNil(t, m)
	assert.Equal(t, defaultModel, m.modelName)
}

func TestChatSendsMessagesAndReturnsResponse(t *testing.T) {
	fake := &fakeCaller{out: model.ChatOut{Text: "Hello! I'm Claude, an AI assistant."}}
	m := newTestModel(fake)

	out, err := m.Chat(context.Background(), []model.Message{{Role: model.RoleUser, Content: "Hi there!"}}, nil)
	require.NoError(t, err)
	assert.Equal(t, "Hello! I'm Claude, an AI assistant.", out.Text)
	assert.Equal(t, 1, fake.callCount)
}

func TestChatReturnsRequestedToolCalls(t *testing.T) {
	fake := &fakeCaller{out: model.ChatOut{
		ToolCalls: []model.ToolCall{{Name: "search", Input: map[string]interface{}{"query": "test"}}},
	}}
	m := newTestModel(fake)

	out, err := m.Chat(context.Background(),
		[]model.Message{{Role: model.RoleUser, Content: "Search for test"}},
		[]model.ToolSpec{{Name: "search", Description: "Search the web"}})
	require.NoError(t, err)
	require.Len(t, out.ToolCalls, 1)
	assert.Equal(t, "search", out.ToolCalls[0].Name)
}

func TestChatRespectsCancelledContext(t *testing.T) {
	m := newTestModel(&fakeCaller{out: model.ChatOut{Text: "x"}})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := m.Chat(ctx, []model.Message{{Role: model.RoleUser, Content: "Test"}}, nil)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestChatPropagatesCallErrors(t *testing.T) {
	m := newTestModel(&fakeCaller{err: assert.AnError})
	_, err := m.Chat(context.Background(), []model.Message{{Role: model.RoleUser, Content: "Test"}}, nil)
	assert.ErrorIs(t, err, assert.AnError)
}

func TestChatRejectsEmptyAPIKey(t *testing.T) {
	m := NewChatModel("", "claude-3-opus-20240229")
	_, err := m.Chat(context.Background(), []model.Message{{Role: model.RoleUser, Content: "Test"}}, nil)
	assert.Error(t, err)
}

func TestChatLiftsSystemMessagesOutOfTheTranscript(t *testing.T) {
	fake := &fakeCaller{out: model.ChatOut{Text: "ok"}}
	m := newTestModel(fake)

	_, err := m.Chat(context.Background(), []model.Message{
		{Role: model.RoleSystem, Content: "You are helpful"},
		{Role: model.RoleUser, Content: "User message"},
	}, nil)
	require.NoError(t, err)

	assert.Equal(t, "You are helpful", fake.lastSystem)
	require.Len(t, fake.lastMessages, 1)
	assert.Equal(t, model.RoleUser, fake.lastMessages[0].Role)
}

func TestSplitSystemConcatenatesMultipleSystemMessages(t *testing.T) {
	system, rest := splitSystem([]model.Message{
		{Role: model.RoleSystem, Content: "one"},
		{Role: model.RoleUser, Content: "u"},
		{Role: model.RoleSystem, Content: "two"},
	})
	assert.Equal(t, "one\n\ntwo", system)
	require.Len(t, rest, 1)
}

func TestStringListCoercesBothJSONShapes(t *testing.T) {
	assert.Equal(t, []string{"a", "b"}, stringList([]string{"a", "b"}))
	assert.Equal(t, []string{"a", "b"}, stringList([]interface{}{"a", "b"}))
	assert.Nil(t, stringList(42))
}

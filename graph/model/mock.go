package model

import (
	"context"
	"sync"
)

// MockChatModel is the ChatModel NewChatModel falls back to when no live
// provider is configured (Config.ModelProvider unset): a scripted sequence
// of responses plus call-history tracking, so internal/specialist's own
// tests and an uncredentialed daemon run can both exercise dispatch
// without a network call.
type MockChatModel struct {
	// Responses plays back in order; the last one repeats once exhausted.
	// With none configured, Chat returns a zero ChatOut.
	Responses []ChatOut

	// Err, when set, is returned instead of a response.
	Err error

	// Calls records every invocation, for assertions on what a node
	// actually sent the model.
	Calls []MockChatCall

	mu sync.Mutex
}

// MockChatCall records a single invocation of Chat.
type MockChatCall struct {
	Messages []Message
	Tools    []ToolSpec
}

// Chat implements ChatModel: it records the call (error or not) and plays
// back the next scripted response. The replay position is derived from
// the recorded history, so Reset rewinds both together.
func (m *MockChatModel) Chat(ctx context.Context, messages []Message, tools []ToolSpec) (ChatOut, error) {
	if err := ctx.Err(); err != nil {
		return ChatOut{}, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.Calls = append(m.Calls, MockChatCall{Messages: messages, Tools: tools})

	if m.Err != nil {
		return ChatOut{}, m.Err
	}
	if len(m.Responses) == 0 {
		return ChatOut{}, nil
	}
	idx := len(m.Calls) - 1
	if idx >= len(m.Responses) {
		idx = len(m.Responses) - 1
	}
	return m.Responses[idx], nil
}

// Reset clears the history and rewinds the response sequence, for reuse
// across test cases.
func (m *MockChatModel) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Calls = nil
}

// CallCount reports how many times Chat ran.
func (m *MockChatModel) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Calls)
}

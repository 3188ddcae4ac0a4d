package tool

import (
	"context"
	"sync"
)

// MockTool backs every catalogue entry internal/specialist.Registry has no
// live process for (anything but http_request): a scripted response
// sequence plus call-history tracking, so a dispatch naming the tool still
// returns a structured result instead of failing the subtask.
type MockTool struct {
	// ToolName is returned by Name().
	ToolName string

	// Responses plays back in order; the last one repeats once exhausted.
	// With none configured, Call returns an empty map.
	Responses []map[string]interface{}

	// Err, when set, is returned instead of a response.
	Err error

	// Calls records every invocation, for assertions on what a dispatch
	// actually called the tool with.
	Calls []MockToolCall

	mu sync.Mutex
}

// MockToolCall records a single invocation of Call.
type MockToolCall struct {
	Input map[string]interface{}
}

// Name implements Tool.
func (m *MockTool) Name() string { return m.ToolName }

// Call implements Tool: it records the invocation and plays back the next
// scripted response. The replay position is derived from the recorded
// history, so Reset rewinds both together.
func (m *MockTool) Call(ctx context.Context, input map[string]interface{}) (map[string]interface{}, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.Calls = append(m.Calls, MockToolCall{Input: input})

	if m.Err != nil {
		return nil, m.Err
	}
	if len(m.Responses) == 0 {
		return map[string]interface{}{}, nil
	}
	idx := len(m.Calls) - 1
	if idx >= len(m.Responses) {
		idx = len(m.Responses) - 1
	}
	return m.Responses[idx], nil
}

// Reset clears the history and rewinds the response sequence, for reuse
// across test cases.
func (m *MockTool) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Calls = nil
}

// CallCount reports how many times Call ran.
func (m *MockTool) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Calls)
}

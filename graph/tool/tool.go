// Package tool defines the executable-tool contract internal/specialist's
// Registry resolves catalogue entries against. http.go holds the one live
// implementation (HTTPTool); mock.go holds the test double used for
// catalogue entries with no live backend process.
package tool

import "context"

// Tool is one callable a ChatModel's tool call can be dispatched to: Name
// must match the corresponding model.ToolSpec.Name a Registry disclosed,
// and Call executes it.
type Tool interface {
	Name() string

	// Call executes the tool against input (matching the ToolSpec's
	// Schema; may be nil for a parameterless tool) and returns a
	// structured result or an execution error.
	Call(ctx context.Context, input map[string]interface{}) (map[string]interface{}, error)
}

// Package specialist dispatches a runnable subtask to a chat model and
// executes any tool calls the model requests, grounded on graph/model's
// provider-agnostic ChatModel interface and graph/tool's Tool interface
// rather than hand-rolling either concern.
package specialist

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/orchestrator/taskorch/graph/model"
	"github.com/orchestrator/taskorch/graph/model/anthropic"
	"github.com/orchestrator/taskorch/graph/model/google"
	"github.com/orchestrator/taskorch/graph/model/openai"
	"github.com/orchestrator/taskorch/graph/tool"
	"github.com/orchestrator/taskorch/internal/config"
	"github.com/orchestrator/taskorch/internal/domain"
	"github.com/orchestrator/taskorch/internal/tools"
	"github.com/orchestrator/taskorch/internal/workflow"
)

// NewChatModel selects the ChatModel a Dispatcher talks to, based on
// cfg.ModelProvider. An empty or unrecognized provider falls back to a
// MockChatModel so the daemon runs end to end without live provider
// credentials configured.
func NewChatModel(cfg config.Config) model.ChatModel {
	switch cfg.ModelProvider {
	case "anthropic":
		return anthropic.NewChatModel(cfg.ModelAPIKey, cfg.ModelName)
	case "google":
		return google.NewChatModel(cfg.ModelAPIKey, cfg.ModelName)
	case "openai":
		return openai.NewChatModel(cfg.ModelAPIKey, cfg.ModelName)
	default:
		return &model.MockChatModel{}
	}
}

// Registry resolves the tool.Tool implementation backing a catalogue
// entry's name. http_request is always backed by a live HTTPTool; every
// other catalogue entry (MCP-server tools this deployment has no live
// backend process for, e.g. read_file, git_commit) resolves to a MockTool
// so a dispatch naming it still returns a structured result instead of
// failing the subtask.
type Registry struct {
	tools map[string]tool.Tool
}

// NewRegistry builds a Registry covering every tool the catalogue
// discloses plus the built-in http_request tool.
func NewRegistry(catalogue *tools.Catalogue) *Registry {
	r := &Registry{tools: make(map[string]tool.Tool)}
	r.tools["http_request"] = tool.NewHTTPTool()
	for _, d := range catalogue.All() {
		if _, exists := r.tools[d.ToolName]; !exists {
			r.tools[d.ToolName] = &tool.MockTool{ToolName: d.ToolName}
		}
	}
	return r
}

func (r *Registry) resolve(name string) tool.Tool {
	if t, ok := r.tools[name]; ok {
		return t
	}
	return &tool.MockTool{ToolName: name}
}

// Dispatcher wires a ChatModel and a tool Registry into a
// workflow.Dispatcher: it discloses a subset of the tool catalogue to the
// model per the configured disclosure strategy, asks the model to
// respond, and executes any tool calls the model requests before folding
// the result into the subtask's transcript message.
type Dispatcher struct {
	Model     model.ChatModel
	Catalogue *tools.Catalogue
	Tools     *Registry
	Strategy  tools.Strategy
	MaxTools  int
}

// Dispatch implements workflow.Dispatcher.
func (d *Dispatcher) Dispatch(ctx context.Context, st domain.Subtask, s workflow.State) (domain.Subtask, workflow.Message, error) {
	messages := make([]model.Message, 0, len(s.Messages)+1)
	for _, m := range s.Messages {
		messages = append(messages, model.Message{Role: m.Role, Content: m.Content})
	}
	messages = append(messages, model.Message{Role: model.RoleUser, Content: st.Description})

	descriptors := d.Catalogue.Disclose(d.Strategy, st.Description, st.AgentKind, d.MaxTools)
	specs := make([]model.ToolSpec, len(descriptors))
	for i, desc := range descriptors {
		specs[i] = model.ToolSpec{
			Name:        desc.ToolName,
			Description: strings.Join(desc.Keywords, ", "),
			Schema:      desc.Parameters,
		}
	}

	out, err := d.Model.Chat(ctx, messages, specs)
	if err != nil {
		return st, workflow.Message{}, fmt.Errorf("specialist chat: %w", err)
	}

	content := out.Text
	for _, call := range out.ToolCalls {
		result, callErr := d.Tools.resolve(call.Name).Call(ctx, call.Input)
		if callErr != nil {
			return st, workflow.Message{}, fmt.Errorf("tool %s: %w", call.Name, callErr)
		}
		content += fmt.Sprintf("\n[%s] %v", call.Name, result)
	}
	if content == "" {
		content = "completed: " + st.Description
	}

	st.State = domain.SubtaskCompleted
	msg := workflow.Message{
		Role:      model.RoleAssistant,
		Content:   content,
		AgentKind: st.AgentKind,
		Timestamp: time.Now(),
	}
	return st, msg, nil
}

// Package anthropic adapts Claude to model.ChatModel: one of the three
// providers internal/specialist.NewChatModel selects between via
// Config.ModelProvider == "anthropic".
package anthropic

import (
	"context"
	"errors"
	"fmt"

	anthropicsdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/orchestrator/taskorch/graph/model"
)

// defaultModel is used when the configuration leaves model.name empty.
const defaultModel = "claude-sonnet-4-5-20250929"

// caller performs one Messages API round trip. Production uses the SDK;
// tests substitute a fake so no live key is needed.
type caller func(ctx context.Context, system string, messages []model.Message, tools []model.ToolSpec) (model.ChatOut, error)

// ChatModel implements model.ChatModel against Claude's Messages API.
// System-role messages are lifted out of the transcript into the separate
// system parameter Anthropic's wire format requires.
type ChatModel struct {
	modelName string
	call      caller
}

// NewChatModel builds a Claude-backed ChatModel. An empty modelName falls
// back to the current default Sonnet release.
func NewChatModel(apiKey, modelName string) *ChatModel {
	if modelName == "" {
		modelName = defaultModel
	}
	return &ChatModel{
		modelName: modelName,
		call:      sdkCaller(apiKey, modelName),
	}
}

// Chat implements model.ChatModel.
func (m *ChatModel) Chat(ctx context.Context, messages []model.Message, tools []model.ToolSpec) (model.ChatOut, error) {
	if err := ctx.Err(); err != nil {
		return model.ChatOut{}, err
	}
	system, conversation := splitSystem(messages)
	return m.call(ctx, system, conversation, tools)
}

// splitSystem lifts system-role messages out of the transcript,
// concatenating multiples into one system prompt.
func splitSystem(messages []model.Message) (string, []model.Message) {
	var system string
	var rest []model.Message
	for _, msg := range messages {
		if msg.Role == model.RoleSystem {
			if system != "" {
				system += "\n\n"
			}
			system += msg.Content
			continue
		}
		rest = append(rest, msg)
	}
	return system, rest
}

func sdkCaller(apiKey, modelName string) caller {
	return func(ctx context.Context, system string, messages []model.Message, tools []model.ToolSpec) (model.ChatOut, error) {
		if apiKey == "" {
			return model.ChatOut{}, errors.New("anthropic API key is required")
		}

		client := anthropicsdk.NewClient(option.WithAPIKey(apiKey))
		params := anthropicsdk.MessageNewParams{
			Model:     anthropicsdk.Model(modelName),
			Messages:  toSDKMessages(messages),
			MaxTokens: 4096,
		}
		if system != "" {
			params.System = []anthropicsdk.TextBlockParam{{Text: system}}
		}
		if len(tools) > 0 {
			params.Tools = toSDKTools(tools)
		}

		resp, err := client.Messages.New(ctx, params)
		if err != nil {
			return model.ChatOut{}, fmt.Errorf("anthropic API error: %w", err)
		}
		return fromSDKResponse(resp), nil
	}
}

func toSDKMessages(messages []model.Message) []anthropicsdk.MessageParam {
	out := make([]anthropicsdk.MessageParam, len(messages))
	for i, msg := range messages {
		block := anthropicsdk.NewTextBlock(msg.Content)
		if msg.Role == model.RoleAssistant {
			out[i] = anthropicsdk.NewAssistantMessage(block)
			continue
		}
		out[i] = anthropicsdk.NewUserMessage(block)
	}
	return out
}

func toSDKTools(tools []model.ToolSpec) []anthropicsdk.ToolUnionParam {
	out := make([]anthropicsdk.ToolUnionParam, len(tools))
	for i, spec := range tools {
		var properties any
		var required []string
		if spec.Schema != nil {
			properties = spec.Schema["properties"]
			required = stringList(spec.Schema["required"])
		}
		out[i] = anthropicsdk.ToolUnionParam{
			OfTool: &anthropicsdk.ToolParam{
				Name:        spec.Name,
				Description: anthropicsdk.String(spec.Description),
				InputSchema: anthropicsdk.ToolInputSchemaParam{
					Properties: properties,
					Required:   required,
				},
			},
		}
	}
	return out
}

// stringList coerces a JSON-schema "required" value ([]string directly, or
// []interface{} after a JSON round trip) into []string.
func stringList(v any) []string {
	switch list := v.(type) {
	case []string:
		return list
	case []interface{}:
		out := make([]string, 0, len(list))
		for _, item := range list {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}

func fromSDKResponse(resp *anthropicsdk.Message) model.ChatOut {
	var out model.ChatOut
	for _, block := range resp.Content {
		switch b := block.AsAny().(type) {
		case anthropicsdk.TextBlock:
			if out.Text != "" {
				out.Text += "\n"
			}
			out.Text += b.Text
		case anthropicsdk.ToolUseBlock:
			out.ToolCalls = append(out.ToolCalls, model.ToolCall{
				Name:  b.Name,
				Input: toolInput(b.Input),
			})
		}
	}
	return out
}

func toolInput(input interface{}) map[string]interface{} {
	if input == nil {
		return nil
	}
	if m, ok := input.(map[string]interface{}); ok {
		return m
	}
	return map[string]interface{}{"_raw": input}
}

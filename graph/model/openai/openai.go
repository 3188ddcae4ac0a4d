// Package openai adapts OpenAI's chat completions API to model.ChatModel:
// one of the three providers internal/specialist.NewChatModel selects
// between via Config.ModelProvider == "openai".
package openai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	openaisdk "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/shared"

	"github.com/orchestrator/taskorch/graph/model"
)

// defaultModel is used when the configuration leaves model.name empty.
const defaultModel = "gpt-4o"

// caller performs one chat-completions round trip. Production uses the
// SDK; tests substitute a fake so no live key is needed.
type caller func(ctx context.Context, messages []model.Message, tools []model.ToolSpec) (model.ChatOut, error)

// ChatModel implements model.ChatModel against OpenAI's chat completions
// API, retrying transient (rate-limit, 5xx, network) errors with a short
// delay before giving up.
type ChatModel struct {
	modelName  string
	call       caller
	maxRetries int
	retryDelay time.Duration
}

// NewChatModel builds an OpenAI-backed ChatModel with 3 retries at a 1s
// base delay for transient errors. An empty modelName falls back to the
// current default GPT-4o release.
func NewChatModel(apiKey, modelName string) *ChatModel {
	if modelName == "" {
		modelName = defaultModel
	}
	return &ChatModel{
		modelName:  modelName,
		call:       sdkCaller(apiKey, modelName),
		maxRetries: 3,
		retryDelay: time.Second,
	}
}

// Chat implements model.ChatModel, retrying transient errors up to
// maxRetries times before returning the last error.
func (m *ChatModel) Chat(ctx context.Context, messages []model.Message, tools []model.ToolSpec) (model.ChatOut, error) {
	if err := ctx.Err(); err != nil {
		return model.ChatOut{}, err
	}

	var lastErr error
	for attempt := 0; attempt <= m.maxRetries; attempt++ {
		out, err := m.call(ctx, messages, tools)
		if err == nil {
			return out, nil
		}
		lastErr = err
		if !transient(err) || attempt >= m.maxRetries {
			break
		}
		select {
		case <-time.After(m.retryDelay * time.Duration(attempt+1)):
		case <-ctx.Done():
			return model.ChatOut{}, ctx.Err()
		}
	}

	if !transient(lastErr) {
		return model.ChatOut{}, lastErr
	}
	return model.ChatOut{}, fmt.Errorf("openai API failed after %d retries: %w", m.maxRetries, lastErr)
}

// transient reports whether the error is worth another attempt: rate
// limits, 5xx responses, and network-level failures.
func transient(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, marker := range []string{"rate limit", "429", "timeout", "network", "connection", "temporary", "500", "502", "503"} {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}

func sdkCaller(apiKey, modelName string) caller {
	return func(ctx context.Context, messages []model.Message, tools []model.ToolSpec) (model.ChatOut, error) {
		if apiKey == "" {
			return model.ChatOut{}, errors.New("openai API key is required")
		}

		client := openaisdk.NewClient(option.WithAPIKey(apiKey))
		params := openaisdk.ChatCompletionNewParams{
			Model:    openaisdk.ChatModel(modelName),
			Messages: toSDKMessages(messages),
		}
		if len(tools) > 0 {
			params.Tools = toSDKTools(tools)
		}

		resp, err := client.Chat.Completions.New(ctx, params)
		if err != nil {
			return model.ChatOut{}, fmt.Errorf("openai API error: %w", err)
		}
		return fromSDKResponse(resp), nil
	}
}

func toSDKMessages(messages []model.Message) []openaisdk.ChatCompletionMessageParamUnion {
	out := make([]openaisdk.ChatCompletionMessageParamUnion, len(messages))
	for i, msg := range messages {
		switch msg.Role {
		case model.RoleSystem:
			out[i] = openaisdk.SystemMessage(msg.Content)
		case model.RoleAssistant:
			out[i] = openaisdk.AssistantMessage(msg.Content)
		default:
			out[i] = openaisdk.UserMessage(msg.Content)
		}
	}
	return out
}

func toSDKTools(tools []model.ToolSpec) []openaisdk.ChatCompletionToolParam {
	out := make([]openaisdk.ChatCompletionToolParam, len(tools))
	for i, spec := range tools {
		out[i] = openaisdk.ChatCompletionToolParam{
			Function: shared.FunctionDefinitionParam{
				Name:        spec.Name,
				Description: openaisdk.String(spec.Description),
				Parameters:  shared.FunctionParameters(spec.Schema),
			},
		}
	}
	return out
}

func fromSDKResponse(resp *openaisdk.ChatCompletion) model.ChatOut {
	var out model.ChatOut
	if len(resp.Choices) == 0 {
		return out
	}

	msg := resp.Choices[0].Message
	out.Text = msg.Content
	for _, tc := range msg.ToolCalls {
		out.ToolCalls = append(out.ToolCalls, model.ToolCall{
			Name:  tc.Function.Name,
			Input: parseArguments(tc.Function.Arguments),
		})
	}
	return out
}

// parseArguments decodes the function-call arguments JSON; input that
// doesn't decode as an object is preserved raw rather than dropped.
func parseArguments(raw string) map[string]interface{} {
	if raw == "" {
		return nil
	}
	var args map[string]interface{}
	if err := json.Unmarshal([]byte(raw), &args); err != nil {
		return map[string]interface{}{"_raw": raw}
	}
	return args
}

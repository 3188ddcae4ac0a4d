// Package google adapts Gemini to model.ChatModel: one of the three
// providers internal/specialist.NewChatModel selects between via
// Config.ModelProvider == "google".
package google

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"

	"github.com/orchestrator/taskorch/graph/model"
)

// defaultModel is used when the configuration leaves model.name empty.
const defaultModel = "gemini-2.5-flash"

// caller performs one generateContent round trip. Production uses the
// SDK; tests substitute a fake so no live key is needed.
type caller func(ctx context.Context, messages []model.Message, tools []model.ToolSpec) (model.ChatOut, error)

// ChatModel implements model.ChatModel against Gemini's generateContent
// API. Blocked-content responses surface as *SafetyFilterError so callers
// can distinguish a safety block from a transport failure.
type ChatModel struct {
	modelName string
	call      caller
}

// NewChatModel builds a Gemini-backed ChatModel. An empty modelName falls
// back to the current default Flash release.
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
	return m.call(ctx, messages, tools)
}

func sdkCaller(apiKey, modelName string) caller {
	return func(ctx context.Context, messages []model.Message, tools []model.ToolSpec) (model.ChatOut, error) {
		if apiKey == "" {
			return model.ChatOut{}, errors.New("google API key is required")
		}

		client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
		if err != nil {
			return model.ChatOut{}, fmt.Errorf("create google client: %w", err)
		}
		defer func() { _ = client.Close() }()

		genModel := client.GenerativeModel(modelName)
		if len(tools) > 0 {
			genModel.Tools = toSDKTools(tools)
		}

		resp, err := genModel.GenerateContent(ctx, toSDKParts(messages)...)
		if err != nil {
			return model.ChatOut{}, fmt.Errorf("google API error: %w", err)
		}
		return fromSDKResponse(resp)
	}
}

// toSDKParts flattens the transcript into text parts; Gemini has no
// per-message role field on generateContent input.
func toSDKParts(messages []model.Message) []genai.Part {
	var parts []genai.Part
	for _, msg := range messages {
		if msg.Content != "" {
			parts = append(parts, genai.Text(msg.Content))
		}
	}
	return parts
}

func toSDKTools(tools []model.ToolSpec) []*genai.Tool {
	declarations := make([]*genai.FunctionDeclaration, len(tools))
	for i, spec := range tools {
		declarations[i] = &genai.FunctionDeclaration{
			Name:        spec.Name,
			Description: spec.Description,
			Parameters:  toSDKSchema(spec.Schema),
		}
	}
	return []*genai.Tool{{FunctionDeclarations: declarations}}
}

// toSDKSchema converts a JSON-schema map into genai.Schema, covering the
// object/properties/required subset the tool catalogue produces.
func toSDKSchema(schema map[string]interface{}) *genai.Schema {
	if schema == nil {
		return nil
	}
	out := &genai.Schema{Type: genai.TypeObject}

	if props, ok := schema["properties"].(map[string]interface{}); ok {
		out.Properties = make(map[string]*genai.Schema, len(props))
		for key, val := range props {
			prop, ok := val.(map[string]interface{})
			if !ok {
				continue
			}
			sub := &genai.Schema{}
			if typeStr, ok := prop["type"].(string); ok {
				sub.Type = schemaType(typeStr)
			}
			if desc, ok := prop["description"].(string); ok {
				sub.Description = desc
			}
			out.Properties[key] = sub
		}
	}

	switch required := schema["required"].(type) {
	case []string:
		out.Required = required
	case []interface{}:
		for _, v := range required {
			if s, ok := v.(string); ok {
				out.Required = append(out.Required, s)
			}
		}
	}
	return out
}

func schemaType(typeStr string) genai.Type {
	switch typeStr {
	case "string":
		return genai.TypeString
	case "number":
		return genai.TypeNumber
	case "integer":
		return genai.TypeInteger
	case "boolean":
		return genai.TypeBoolean
	case "array":
		return genai.TypeArray
	case "object":
		return genai.TypeObject
	default:
		return genai.TypeUnspecified
	}
}

func fromSDKResponse(resp *genai.GenerateContentResponse) (model.ChatOut, error) {
	var out model.ChatOut
	if len(resp.Candidates) == 0 {
		if resp.PromptFeedback != nil && resp.PromptFeedback.BlockReason != genai.BlockReasonUnspecified {
			return out, &SafetyFilterError{reason: resp.PromptFeedback.BlockReason.String()}
		}
		return out, nil
	}

	candidate := resp.Candidates[0]
	if candidate.FinishReason == genai.FinishReasonSafety {
		return out, &SafetyFilterError{reason: candidate.FinishReason.String()}
	}
	if candidate.Content == nil {
		return out, nil
	}

	for _, part := range candidate.Content.Parts {
		switch p := part.(type) {
		case genai.Text:
			if out.Text != "" {
				out.Text += "\n"
			}
			out.Text += string(p)
		case genai.FunctionCall:
			out.ToolCalls = append(out.ToolCalls, model.ToolCall{Name: p.Name, Input: p.Args})
		}
	}
	return out, nil
}

// SafetyFilterError reports a Gemini safety block, recoverable via
// errors.As.
type SafetyFilterError struct {
	reason string
}

// Error implements the error interface.
func (e *SafetyFilterError) Error() string {
	return "content blocked by safety filter: " + e.reason
}

// Reason returns why the content was blocked.
func (e *SafetyFilterError) Reason() string { return e.reason }

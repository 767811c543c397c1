package openrouter

import (
	"encoding/json"

	"github.com/pkg/errors"

	"github.com/go-go-golems/grillo/pkg/chat"
	"github.com/go-go-golems/grillo/pkg/inference/engine"
)

// Wire DTOs for the OpenRouter chat completions API. The upstream docs are
// incomplete; the undocumented fields below were observed on real responses
// and are kept so payload persistence does not silently drop them.

type wireFunctionDef struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Parameters  json.RawMessage `json:"parameters"`
}

type wireTool struct {
	Type     string          `json:"type"`
	Function wireFunctionDef `json:"function"`
}

type wireFunctionCall struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

type wireToolCall struct {
	ID       string           `json:"id"`
	Type     string           `json:"type"`
	Function wireFunctionCall `json:"function"`
	Index    *int             `json:"index,omitempty"`
}

type wireMessage struct {
	Role       string         `json:"role"`
	Content    string         `json:"content"`
	Name       string         `json:"name,omitempty"`
	ToolCalls  []wireToolCall `json:"tool_calls,omitempty"`
	ToolCallID string         `json:"tool_call_id,omitempty"`
}

type wireResponseFormat struct {
	Type       string          `json:"type"`
	JSONSchema json.RawMessage `json:"json_schema"`
}

type wireRequest struct {
	Model          string                      `json:"model"`
	Messages       []wireMessage               `json:"messages"`
	ResponseFormat *wireResponseFormat         `json:"response_format,omitempty"`
	MaxTokens      *int                        `json:"max_tokens,omitempty"`
	Temperature    *float64                    `json:"temperature,omitempty"`
	TopP           *float64                    `json:"top_p,omitempty"`
	Seed           *int                        `json:"seed,omitempty"`
	Tools          []wireTool                  `json:"tools,omitempty"`
	ToolChoice     string                      `json:"tool_choice,omitempty"`
	Provider       *engine.ProviderPreferences `json:"provider,omitempty"`
	Plugins        []engine.Plugin             `json:"plugins,omitempty"`

	// always present: an empty list disables OpenRouter's automatic
	// middle-out prompt compression
	Transforms []string `json:"transforms"`
}

type wireError struct {
	Code     int            `json:"code"`
	Message  string         `json:"message"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

type wireErrorEnvelope struct {
	Error  *wireError `json:"error"`
	UserID string     `json:"user_id,omitempty"`
}

type wireResponseMessage struct {
	Role      string         `json:"role"`
	Content   string         `json:"content"`
	ToolCalls []wireToolCall `json:"tool_calls,omitempty"`
	Refusal   *string        `json:"refusal,omitempty"`
	Reasoning *string        `json:"reasoning,omitempty"`
}

type wireChoice struct {
	FinishReason       string              `json:"finish_reason"`
	NativeFinishReason string              `json:"native_finish_reason,omitempty"`
	Message            wireResponseMessage `json:"message"`
	Error              *wireError          `json:"error,omitempty"`
	Index              *int                `json:"index,omitempty"`
}

type wireResponse struct {
	ID        string       `json:"id"`
	Choices   []wireChoice `json:"choices"`
	Created   int64        `json:"created"`
	Model     string       `json:"model"`
	Object    string       `json:"object"`
	Usage     *engine.Usage `json:"usage,omitempty"`
	Provider  string       `json:"provider,omitempty"`
	Citations []string     `json:"citations,omitempty"`

	// some failures come back embedded in a 200 body
	Error *wireError `json:"error,omitempty"`
}

func toWireRequest(req *engine.Request) (*wireRequest, error) {
	wr := &wireRequest{
		Model:       req.Model,
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
		TopP:        req.TopP,
		Seed:        req.Seed,
		Provider:    req.Provider,
		Plugins:     req.Plugins,
		Transforms:  []string{},
	}
	if len(req.Transforms) > 0 {
		wr.Transforms = req.Transforms
	}

	wr.Messages = make([]wireMessage, 0, len(req.Messages))
	for _, m := range req.Messages {
		wr.Messages = append(wr.Messages, toWireMessage(m))
	}

	if req.StructuredOutput != nil {
		js, err := json.Marshal(req.StructuredOutput)
		if err != nil {
			return nil, errors.Wrap(err, "marshaling structured output schema")
		}
		wr.ResponseFormat = &wireResponseFormat{
			Type:       "json_schema",
			JSONSchema: js,
		}
	}

	for _, t := range req.Tools {
		params, err := json.Marshal(t.Parameters)
		if err != nil {
			return nil, errors.Wrapf(err, "marshaling parameters for tool %s", t.Name)
		}
		wr.Tools = append(wr.Tools, wireTool{
			Type: "function",
			Function: wireFunctionDef{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  params,
			},
		})
	}
	if req.ToolChoice != "" {
		wr.ToolChoice = string(req.ToolChoice)
	}

	return wr, nil
}

func toWireMessage(m chat.Message) wireMessage {
	wm := wireMessage{
		Role:       string(m.Role),
		Content:    m.Content,
		ToolCallID: m.ToolCallID,
	}
	if m.Role == chat.RoleTool {
		wm.Name = m.ToolName
	}
	for _, tc := range m.ToolCalls {
		wm.ToolCalls = append(wm.ToolCalls, wireToolCall{
			ID:   tc.ID,
			Type: "function",
			Function: wireFunctionCall{
				Name:      tc.Name,
				Arguments: string(tc.Arguments),
			},
		})
	}
	return wm
}

func fromWireMessage(wm wireResponseMessage) chat.Message {
	msg := chat.Message{
		Role:    chat.RoleAssistant,
		Content: wm.Content,
	}
	for _, tc := range wm.ToolCalls {
		msg.ToolCalls = append(msg.ToolCalls, chat.ToolCall{
			ID:        tc.ID,
			Name:      tc.Function.Name,
			Arguments: json.RawMessage(tc.Function.Arguments),
		})
	}
	return msg
}

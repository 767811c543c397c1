package openaichat

import (
	"context"
	"encoding/json"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	go_openai "github.com/sashabaranov/go-openai"

	"github.com/go-go-golems/grillo/pkg/chat"
	"github.com/go-go-golems/grillo/pkg/inference/engine"
)

// Engine runs chat completions against OpenAI or any OpenAI-compatible
// endpoint via a base URL override. It cannot express OpenRouter's extensions
// (plugins, provider preferences, transforms); configuring those with this
// engine is rejected up front rather than silently dropped.
type Engine struct {
	client *go_openai.Client
}

var _ engine.Engine = (*Engine)(nil)

func New(apiKey string, baseURL string) *Engine {
	cfg := go_openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	return &Engine{client: go_openai.NewClientWithConfig(cfg)}
}

func (e *Engine) Name() string {
	return "openai"
}

func (e *Engine) Complete(ctx context.Context, req *engine.Request) (*engine.Response, error) {
	if len(req.Plugins) > 0 || req.Provider != nil || len(req.Transforms) > 0 {
		return nil, errors.New("openai engine does not support plugins, provider preferences or transforms")
	}

	oaReq, err := toOpenAIRequest(req)
	if err != nil {
		return nil, err
	}

	log.Debug().
		Str("model", req.Model).
		Int("messages", len(req.Messages)).
		Int("tools", len(req.Tools)).
		Msg("sending chat completion request")

	start := time.Now()
	oaResp, err := e.client.CreateChatCompletion(ctx, *oaReq)
	elapsed := time.Since(start)
	if err != nil {
		return nil, mapError(err)
	}
	if len(oaResp.Choices) == 0 {
		return nil, errors.New("chat completion response contained no choices")
	}

	choice := oaResp.Choices[0]
	msg := chat.Message{
		Role:    chat.RoleAssistant,
		Content: choice.Message.Content,
	}
	for _, tc := range choice.Message.ToolCalls {
		msg.ToolCalls = append(msg.ToolCalls, chat.ToolCall{
			ID:        tc.ID,
			Name:      tc.Function.Name,
			Arguments: json.RawMessage(tc.Function.Arguments),
		})
	}

	rawReq, _ := json.Marshal(oaReq)
	rawResp, _ := json.Marshal(oaResp)

	resp := &engine.Response{
		Message:            msg,
		FinishReason:       normalizeFinishReason(choice.FinishReason),
		NativeFinishReason: string(choice.FinishReason),
		Usage: &engine.Usage{
			PromptTokens:     oaResp.Usage.PromptTokens,
			CompletionTokens: oaResp.Usage.CompletionTokens,
			TotalTokens:      oaResp.Usage.TotalTokens,
		},
		Raw: engine.RawExchange{
			Request:  rawReq,
			Response: rawResp,
			Elapsed:  elapsed,
		},
	}

	log.Debug().
		Str("finish_reason", string(choice.FinishReason)).
		Int("tool_calls", len(msg.ToolCalls)).
		Dur("elapsed", elapsed).
		Msg("received chat completion response")

	return resp, nil
}

func toOpenAIRequest(req *engine.Request) (*go_openai.ChatCompletionRequest, error) {
	oaReq := &go_openai.ChatCompletionRequest{
		Model: req.Model,
	}
	if req.Temperature != nil {
		oaReq.Temperature = float32(*req.Temperature)
	}
	if req.TopP != nil {
		oaReq.TopP = float32(*req.TopP)
	}
	if req.MaxTokens != nil {
		oaReq.MaxTokens = *req.MaxTokens
	}
	if req.Seed != nil {
		oaReq.Seed = req.Seed
	}

	for _, m := range req.Messages {
		oaMsg := go_openai.ChatCompletionMessage{
			Role:       string(m.Role),
			Content:    m.Content,
			ToolCallID: m.ToolCallID,
		}
		if m.Role == chat.RoleTool {
			oaMsg.Name = m.ToolName
		}
		for _, tc := range m.ToolCalls {
			oaMsg.ToolCalls = append(oaMsg.ToolCalls, go_openai.ToolCall{
				ID:   tc.ID,
				Type: go_openai.ToolTypeFunction,
				Function: go_openai.FunctionCall{
					Name:      tc.Name,
					Arguments: string(tc.Arguments),
				},
			})
		}
		oaReq.Messages = append(oaReq.Messages, oaMsg)
	}

	for _, t := range req.Tools {
		oaReq.Tools = append(oaReq.Tools, go_openai.Tool{
			Type: go_openai.ToolTypeFunction,
			Function: &go_openai.FunctionDefinition{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  t.Parameters,
			},
		})
	}
	switch req.ToolChoice {
	case engine.ToolChoiceNone:
		oaReq.ToolChoice = "none"
	case engine.ToolChoiceRequired:
		oaReq.ToolChoice = "required"
	case engine.ToolChoiceAuto:
		oaReq.ToolChoice = "auto"
	case "":
		// leave the provider default
	default:
		return nil, errors.Errorf("unsupported tool choice %q", req.ToolChoice)
	}

	if req.StructuredOutput != nil {
		oaReq.ResponseFormat = &go_openai.ChatCompletionResponseFormat{
			Type: go_openai.ChatCompletionResponseFormatTypeJSONSchema,
			JSONSchema: &go_openai.ChatCompletionResponseFormatJSONSchema{
				Name:   req.StructuredOutput.Name,
				Schema: req.StructuredOutput.Schema,
				Strict: req.StructuredOutput.Strict,
			},
		}
	}

	return oaReq, nil
}

func normalizeFinishReason(fr go_openai.FinishReason) engine.FinishReason {
	switch fr {
	case go_openai.FinishReasonStop:
		return engine.FinishStop
	case go_openai.FinishReasonToolCalls:
		return engine.FinishToolCalls
	default:
		return engine.FinishReason(fr)
	}
}

func mapError(err error) error {
	var apiErr *go_openai.APIError
	if errors.As(err, &apiErr) {
		return &engine.ProviderError{
			StatusCode: apiErr.HTTPStatusCode,
			Type:       apiErr.Type,
			Message:    apiErr.Message,
		}
	}
	var reqErr *go_openai.RequestError
	if errors.As(err, &reqErr) {
		return &engine.ProviderError{
			StatusCode: reqErr.HTTPStatusCode,
			Message:    reqErr.Error(),
		}
	}
	return err
}

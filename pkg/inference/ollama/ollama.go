package ollama

import (
	"context"
	"encoding/json"
	"net/url"
	"os"
	"time"

	"github.com/jmorganca/ollama/api"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/go-go-golems/grillo/pkg/chat"
	"github.com/go-go-golems/grillo/pkg/inference/engine"
)

// Engine runs chat completions against a local ollama daemon, mainly for dry
// runs without API spend. Ollama has no tool calling; requests that advertise
// tools are rejected. When structured output is requested the daemon is put
// into JSON mode, but the schema itself cannot be enforced server-side.
type Engine struct {
	client *api.Client
}

var _ engine.Engine = (*Engine)(nil)

// New wraps an existing ollama API client.
func New(client *api.Client) *Engine {
	return &Engine{client: client}
}

// NewFromURL connects to the daemon at baseURL, or to OLLAMA_HOST when
// baseURL is empty. The client library is only configurable through the
// environment, so a non-empty baseURL is exported as OLLAMA_HOST first.
func NewFromURL(baseURL string) (*Engine, error) {
	if baseURL != "" {
		if _, err := url.Parse(baseURL); err != nil {
			return nil, errors.Wrapf(err, "parsing ollama base url %s", baseURL)
		}
		if err := os.Setenv("OLLAMA_HOST", baseURL); err != nil {
			return nil, errors.Wrap(err, "exporting OLLAMA_HOST")
		}
	}
	client, err := api.ClientFromEnvironment()
	if err != nil {
		return nil, errors.Wrap(err, "creating ollama client from environment")
	}
	return New(client), nil
}

func (e *Engine) Name() string {
	return "ollama"
}

func (e *Engine) Complete(ctx context.Context, req *engine.Request) (*engine.Response, error) {
	if len(req.Tools) > 0 {
		return nil, errors.New("ollama engine does not support tool calling")
	}
	if len(req.Plugins) > 0 || req.Provider != nil || len(req.Transforms) > 0 {
		return nil, errors.New("ollama engine does not support plugins, provider preferences or transforms")
	}

	ollamaMessages := make([]api.Message, 0, len(req.Messages))
	for _, m := range req.Messages {
		ollamaMessages = append(ollamaMessages, api.Message{
			Role:    string(m.Role),
			Content: m.Content,
		})
	}

	options := map[string]interface{}{}
	if req.Temperature != nil {
		options["temperature"] = *req.Temperature
	}
	if req.TopP != nil {
		options["top_p"] = *req.TopP
	}
	if req.Seed != nil {
		options["seed"] = *req.Seed
	}
	if req.MaxTokens != nil {
		options["num_predict"] = *req.MaxTokens
	}

	stream := false
	chatReq := &api.ChatRequest{
		Model:    req.Model,
		Messages: ollamaMessages,
		Stream:   &stream,
		Options:  options,
	}
	if req.StructuredOutput != nil {
		chatReq.Format = "json"
	}

	log.Debug().
		Str("model", req.Model).
		Int("messages", len(req.Messages)).
		Bool("json_mode", chatReq.Format == "json").
		Msg("sending ollama chat request")

	var final *api.ChatResponse
	content := ""

	start := time.Now()
	err := e.client.Chat(ctx, chatReq, func(resp api.ChatResponse) error {
		content += resp.Message.Content
		if resp.Done {
			final = &resp
		}
		return nil
	})
	elapsed := time.Since(start)
	if err != nil {
		return nil, errors.Wrap(err, "ollama chat request")
	}
	if final == nil {
		return nil, errors.New("ollama chat request finished without a final response")
	}

	rawReq, _ := json.Marshal(chatReq)
	rawResp, _ := json.Marshal(final)

	resp := &engine.Response{
		Message:      chat.NewAssistantMessage(content),
		FinishReason: engine.FinishStop,
		// the daemon reports no finish reason of its own
		NativeFinishReason: string(engine.FinishStop),
		Usage: &engine.Usage{
			PromptTokens:     final.PromptEvalCount,
			CompletionTokens: final.EvalCount,
			TotalTokens:      final.PromptEvalCount + final.EvalCount,
		},
		Raw: engine.RawExchange{
			Request:  rawReq,
			Response: rawResp,
			Elapsed:  elapsed,
		},
	}

	log.Debug().
		Int("prompt_tokens", resp.Usage.PromptTokens).
		Int("completion_tokens", resp.Usage.CompletionTokens).
		Dur("elapsed", elapsed).
		Msg("received ollama chat response")

	return resp, nil
}

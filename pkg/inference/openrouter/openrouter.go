package openrouter

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/go-go-golems/grillo/pkg/inference/engine"
)

const (
	DefaultBaseURL = "https://openrouter.ai/api/v1"

	defaultTimeout = 30 * time.Second
	maxErrorBody   = 512
)

// Engine talks to the OpenRouter chat completions API directly. A dedicated
// wire client is used instead of an OpenAI SDK because OpenRouter extends the
// OpenAI format with plugins, provider routing preferences, transforms and
// native_finish_reason, none of which the SDKs can express.
type Engine struct {
	baseURL string
	apiKey  string
	client  *http.Client

	keyMu   sync.Mutex
	keyInfo *KeyInfo
}

var _ engine.Engine = (*Engine)(nil)

type Option func(*Engine)

func WithBaseURL(u string) Option {
	return func(e *Engine) {
		e.baseURL = u
	}
}

func WithHTTPClient(c *http.Client) Option {
	return func(e *Engine) {
		e.client = c
	}
}

func New(apiKey string, opts ...Option) *Engine {
	e := &Engine{
		baseURL: DefaultBaseURL,
		apiKey:  apiKey,
		client:  &http.Client{Timeout: defaultTimeout},
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *Engine) Name() string {
	return "openrouter"
}

func (e *Engine) Complete(ctx context.Context, req *engine.Request) (*engine.Response, error) {
	wr, err := toWireRequest(req)
	if err != nil {
		return nil, err
	}
	body, err := json.Marshal(wr)
	if err != nil {
		return nil, errors.Wrap(err, "marshaling chat completion request")
	}

	log.Debug().
		Str("model", req.Model).
		Int("messages", len(req.Messages)).
		Int("tools", len(req.Tools)).
		Bool("structured_output", req.StructuredOutput != nil).
		Msg("sending chat completion request")

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, e.endpoint("chat/completions"), bytes.NewReader(body))
	if err != nil {
		return nil, errors.Wrap(err, "building chat completion request")
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+e.apiKey)

	start := time.Now()
	httpResp, err := e.client.Do(httpReq)
	if err != nil {
		return nil, errors.Wrap(err, "sending chat completion request")
	}
	defer func() {
		_ = httpResp.Body.Close()
	}()
	respBody, err := io.ReadAll(httpResp.Body)
	elapsed := time.Since(start)
	if err != nil {
		return nil, errors.Wrap(err, "reading chat completion response")
	}

	if httpResp.StatusCode != http.StatusOK {
		return nil, httpError(httpResp.StatusCode, respBody)
	}

	var wresp wireResponse
	if err := json.Unmarshal(respBody, &wresp); err != nil {
		return nil, errors.Wrap(err, "decoding chat completion response")
	}
	if wresp.Error != nil {
		// OpenRouter reports some upstream failures inside a 200 body
		return nil, envelopeError(wresp.Error)
	}
	if len(wresp.Choices) == 0 {
		return nil, errors.New("chat completion response contained no choices")
	}

	choice := wresp.Choices[0]
	if choice.Error != nil {
		return nil, envelopeError(choice.Error)
	}

	native := choice.NativeFinishReason
	if native == "" {
		native = choice.FinishReason
	}

	resp := &engine.Response{
		Message:            fromWireMessage(choice.Message),
		FinishReason:       engine.FinishReason(choice.FinishReason),
		NativeFinishReason: native,
		Usage:              wresp.Usage,
		Raw: engine.RawExchange{
			Request:  json.RawMessage(body),
			Response: json.RawMessage(respBody),
			Elapsed:  elapsed,
		},
	}

	log.Debug().
		Str("model", wresp.Model).
		Str("provider", wresp.Provider).
		Str("finish_reason", choice.FinishReason).
		Int("tool_calls", len(resp.Message.ToolCalls)).
		Dur("elapsed", elapsed).
		Msg("received chat completion response")

	return resp, nil
}

func (e *Engine) endpoint(path string) string {
	return strings.TrimSuffix(e.baseURL, "/") + "/" + path
}

// httpError turns a non-200 response into a ProviderError, preferring the
// HTTP status code so rate-limit detection stays reliable.
func httpError(status int, body []byte) error {
	var env wireErrorEnvelope
	if err := json.Unmarshal(body, &env); err == nil && env.Error != nil {
		return &engine.ProviderError{StatusCode: status, Message: env.Error.Message}
	}
	msg := string(body)
	if len(msg) > maxErrorBody {
		msg = msg[:maxErrorBody]
	}
	return &engine.ProviderError{StatusCode: status, Message: msg}
}

// envelopeError maps an embedded error object to a ProviderError using the
// code OpenRouter relays from the upstream provider.
func envelopeError(we *wireError) error {
	pe := &engine.ProviderError{StatusCode: we.Code, Message: we.Message}
	if raw, ok := we.Metadata["provider_name"].(string); ok {
		pe.Type = raw
	}
	return pe
}

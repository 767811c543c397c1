package engine

import (
	"encoding/json"
	"time"

	"github.com/go-go-golems/grillo/pkg/chat"
)

// FinishReason is the provider's normalized stop condition. Anything other
// than FinishStop or FinishToolCalls means the reply was cut short and the
// turn must not proceed as if it were complete.
type FinishReason string

const (
	FinishStop      FinishReason = "stop"
	FinishToolCalls FinishReason = "tool_calls"
)

// Known reports whether the reason is one a turn is allowed to continue on.
func (f FinishReason) Known() bool {
	return f == FinishStop || f == FinishToolCalls
}

// Usage is the token accounting reported by the provider for one call.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// RawExchange keeps the request and response bodies exactly as they crossed
// the wire, for payload persistence and debugging. Elapsed measures the HTTP
// round trip only.
type RawExchange struct {
	Request  json.RawMessage `json:"request,omitempty"`
	Response json.RawMessage `json:"response,omitempty"`
	Elapsed  time.Duration   `json:"-"`
}

// Response is the assistant's reply to a single Request.
type Response struct {
	// Message is the assistant message: content, tool calls, or both.
	Message chat.Message

	FinishReason FinishReason

	// NativeFinishReason is the provider's own unnormalized reason, e.g.
	// "MALFORMED_FUNCTION_CALL" from some upstream models.
	NativeFinishReason string

	Usage *Usage
	Raw   RawExchange
}

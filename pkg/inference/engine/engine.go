package engine

import (
	"context"
)

// Engine is a chat-completion provider. Implementations handle the
// provider-specific wire format for services like OpenRouter, OpenAI or a
// local ollama daemon.
//
// Complete sends one request and returns the assistant's reply. It does not
// retry and it does not rate limit; both are the caller's job. Implementations
// must return a *ProviderError for provider-side failures so callers can
// distinguish transient rejections from permanent ones.
type Engine interface {
	Complete(ctx context.Context, req *Request) (*Response, error)

	// Name identifies the engine in logs and reports, e.g. "openrouter".
	Name() string
}

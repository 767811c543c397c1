package handlers

import (
	"context"

	"github.com/pkg/errors"

	"github.com/go-go-golems/grillo/pkg/inference/engine"
)

const webPluginID = "web"

// WebSearchConfig configures a WebSearchHandler.
type WebSearchConfig struct {
	// MaxResults caps the number of search results injected; zero leaves
	// the provider default.
	MaxResults int `yaml:"max_results,omitempty"`
	// SearchPrompt overrides the provider's search query prompt.
	SearchPrompt string `yaml:"search_prompt,omitempty"`
	// ApplyInToolCycle keeps the plugin attached on tool-cycle passes.
	ApplyInToolCycle bool `yaml:"apply_in_tool_cycle,omitempty"`
}

// WebSearchHandler attaches the provider's web search plugin to the outgoing
// request. Request side only; the provider injects results into the model's
// context on its own.
type WebSearchHandler struct {
	plugin           engine.Plugin
	applyInToolCycle bool
}

var _ RequestHandler = (*WebSearchHandler)(nil)

func NewWebSearchHandler(cfg WebSearchConfig) (*WebSearchHandler, error) {
	if cfg.MaxResults < 0 {
		return nil, NewConfigError(TypeWebSearch, errors.Errorf("max_results must not be negative, got %d", cfg.MaxResults))
	}
	return &WebSearchHandler{
		plugin: engine.Plugin{
			ID:           webPluginID,
			MaxResults:   cfg.MaxResults,
			SearchPrompt: cfg.SearchPrompt,
		},
		applyInToolCycle: cfg.ApplyInToolCycle,
	}, nil
}

func (h *WebSearchHandler) Name() string {
	return TypeWebSearch
}

func (h *WebSearchHandler) AppliesInToolCycle() bool {
	return h.applyInToolCycle
}

func (h *WebSearchHandler) OnRequest(ctx context.Context, state *State, req *engine.Request) error {
	for _, p := range req.Plugins {
		if p.ID == webPluginID {
			return NewConfigError(h.Name(), errors.New("web plugin already attached"))
		}
	}
	req.Plugins = append(req.Plugins, h.plugin)
	return nil
}

package factory

import (
	"strings"

	"github.com/pkg/errors"

	"github.com/go-go-golems/grillo/pkg/inference/engine"
	"github.com/go-go-golems/grillo/pkg/inference/ollama"
	"github.com/go-go-golems/grillo/pkg/inference/openaichat"
	"github.com/go-go-golems/grillo/pkg/inference/openrouter"
)

const (
	ProviderOpenRouter = "openrouter"
	ProviderOpenAI     = "openai"
	ProviderOllama     = "ollama"
)

// Config selects and parameterizes the provider transport. The model and the
// sampling parameters travel with each request instead, so one engine can
// serve any number of turns.
type Config struct {
	Provider string `yaml:"provider"`
	APIKey   string `yaml:"api_key,omitempty"`
	BaseURL  string `yaml:"base_url,omitempty"`
}

// NewEngine builds the engine for cfg. Unknown providers and missing
// credentials fail here, before any conversation starts.
func NewEngine(cfg Config) (engine.Engine, error) {
	provider := strings.ToLower(strings.TrimSpace(cfg.Provider))
	switch provider {
	case "", ProviderOpenRouter:
		if cfg.APIKey == "" {
			return nil, errors.New("openrouter provider requires an api key")
		}
		opts := []openrouter.Option{}
		if cfg.BaseURL != "" {
			opts = append(opts, openrouter.WithBaseURL(cfg.BaseURL))
		}
		return openrouter.New(cfg.APIKey, opts...), nil

	case ProviderOpenAI:
		if cfg.APIKey == "" {
			return nil, errors.New("openai provider requires an api key")
		}
		return openaichat.New(cfg.APIKey, cfg.BaseURL), nil

	case ProviderOllama:
		return ollama.NewFromURL(cfg.BaseURL)

	default:
		return nil, errors.Errorf("unknown provider %q (supported: openrouter, openai, ollama)", cfg.Provider)
	}
}

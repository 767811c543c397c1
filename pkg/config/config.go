// Package config loads and validates experiment configuration. Validation is
// fail-fast and eager: every handler, strategy and template is constructed at
// load time, so a misconfigured experiment is rejected before any network
// call is made.
package config

import (
	"os"
	"regexp"
	"time"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"github.com/go-go-golems/grillo/pkg/turns"
)

// EngineConfig selects the provider and the per-request model parameters.
type EngineConfig struct {
	// Provider is one of openrouter (default), openai, ollama.
	Provider string `yaml:"provider,omitempty"`
	APIKey   string `yaml:"api_key,omitempty"`
	BaseURL  string `yaml:"base_url,omitempty"`

	Model string `yaml:"model"`

	// Providers pins upstream routing order on gateways like OpenRouter.
	Providers []string `yaml:"providers,omitempty"`

	Temperature *float64 `yaml:"temperature,omitempty"`
	TopP        *float64 `yaml:"top_p,omitempty"`
	MaxTokens   *int     `yaml:"max_tokens,omitempty"`
	Seed        *int     `yaml:"seed,omitempty"`
}

// RateLimitConfig is the single shared ceiling for all outbound traffic, LLM
// and entity lookups alike.
type RateLimitConfig struct {
	// Calls per Interval.
	Calls    int           `yaml:"calls"`
	Interval time.Duration `yaml:"interval"`

	// AdaptiveFloor enables adaptive mode: on provider rate-limit errors
	// the rate shrinks toward this many calls per interval, recovering
	// after sustained successes. Zero keeps the rate fixed.
	AdaptiveFloor int `yaml:"adaptive_floor,omitempty"`
}

func (c *RateLimitConfig) UnmarshalYAML(value *yaml.Node) error {
	var raw struct {
		Calls         int    `yaml:"calls"`
		Interval      string `yaml:"interval"`
		AdaptiveFloor int    `yaml:"adaptive_floor"`
	}
	if err := value.Decode(&raw); err != nil {
		return err
	}
	c.Calls = raw.Calls
	c.AdaptiveFloor = raw.AdaptiveFloor
	if raw.Interval != "" {
		d, err := time.ParseDuration(raw.Interval)
		if err != nil {
			return errors.Wrapf(err, "parsing rate limit interval %q", raw.Interval)
		}
		c.Interval = d
	}
	return nil
}

// CorpusConfig points at the document directory and narrows it down.
type CorpusConfig struct {
	Dir     string   `yaml:"dir"`
	Include []string `yaml:"include,omitempty"`
	Exclude []string `yaml:"exclude,omitempty"`
}

// HandlerSpec names a handler type and keeps its raw configuration node for
// the registry constructor.
type HandlerSpec struct {
	Type string

	node yaml.Node
}

func (s *HandlerSpec) UnmarshalYAML(value *yaml.Node) error {
	var head struct {
		Type string `yaml:"type"`
	}
	if err := value.Decode(&head); err != nil {
		return err
	}
	if head.Type == "" {
		return errors.New("handler spec needs a type")
	}
	s.Type = head.Type
	s.node = *value
	return nil
}

// TurnSpec is one turn as written in the experiment file.
type TurnSpec struct {
	Name             string        `yaml:"name"`
	RequestHandlers  []HandlerSpec `yaml:"request_handlers"`
	ResponseHandlers []HandlerSpec `yaml:"response_handlers,omitempty"`
}

// Config is a whole experiment file.
type Config struct {
	Engine    EngineConfig    `yaml:"engine"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`

	// Retry and MaxToolCycles are required; there are no safe defaults for
	// how often a provider may be hit.
	Retry         turns.RetryConfig `yaml:"retry"`
	MaxToolCycles int               `yaml:"max_tool_cycles"`

	// Trials repeats every document's conversation; defaults to 1.
	Trials int `yaml:"trials,omitempty"`
	// Concurrency caps in-flight conversations; defaults to 8.
	Concurrency int64 `yaml:"concurrency,omitempty"`

	Corpus CorpusConfig `yaml:"corpus"`

	// Reference is an optional experiment-wide reference collection file,
	// used for documents without their own.
	Reference string `yaml:"reference,omitempty"`

	// Output is the run directory; the CLI may override it.
	Output string `yaml:"output,omitempty"`

	Turns []TurnSpec `yaml:"turns"`
}

const (
	defaultTrials      = 1
	defaultConcurrency = 8
)

// Load reads an experiment file. `${VAR}` references are expanded from the
// environment before parsing, so secrets like API keys stay out of the file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "reading experiment config %s", path)
	}
	return Parse(data)
}

// envRef only matches the explicit ${VAR} form, so dollar signs in prompt
// templates survive expansion untouched.
var envRef = regexp.MustCompile(`\$\{[A-Za-z_][A-Za-z0-9_]*\}`)

func Parse(data []byte) (*Config, error) {
	expanded := envRef.ReplaceAllStringFunc(string(data), func(ref string) string {
		return os.Getenv(ref[2 : len(ref)-1])
	})

	cfg := &Config{}
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, errors.Wrap(err, "parsing experiment config")
	}

	if cfg.Trials == 0 {
		cfg.Trials = defaultTrials
	}
	if cfg.Concurrency == 0 {
		cfg.Concurrency = defaultConcurrency
	}
	return cfg, nil
}

package turns

import (
	"time"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"github.com/go-go-golems/grillo/pkg/handlers"
)

// Config is one configured turn: a name and the ordered handler chains that
// build its request and parse its reply. Configs are immutable and shared by
// every conversation of an experiment, so handlers must be safe for
// concurrent use.
type Config struct {
	Name             string
	RequestHandlers  []handlers.RequestHandler
	ResponseHandlers []handlers.ResponseHandler
}

func (c *Config) Validate() error {
	if c.Name == "" {
		return errors.New("turn needs a name")
	}
	if len(c.RequestHandlers) == 0 {
		return errors.Errorf("turn %q has no request handlers, it would send an unchanged transcript", c.Name)
	}
	return nil
}

// RetryConfig bounds the retry loop around a single completion call. There
// are no defaults: every field is required configuration, and a zero value
// fails validation.
type RetryConfig struct {
	// MaxAttempts is the total number of tries, including the first one.
	MaxAttempts int `yaml:"max_attempts"`
	// InitialBackoff is the delay after the first failed attempt.
	InitialBackoff time.Duration `yaml:"initial_backoff"`
	// BackoffMultiplier scales the delay after each further failure.
	BackoffMultiplier float64 `yaml:"backoff_multiplier"`
	// MaxBackoff caps the grown delay.
	MaxBackoff time.Duration `yaml:"max_backoff"`
}

// UnmarshalYAML accepts the backoff durations in Go notation ("2s", "500ms").
func (c *RetryConfig) UnmarshalYAML(value *yaml.Node) error {
	var raw struct {
		MaxAttempts       int     `yaml:"max_attempts"`
		InitialBackoff    string  `yaml:"initial_backoff"`
		BackoffMultiplier float64 `yaml:"backoff_multiplier"`
		MaxBackoff        string  `yaml:"max_backoff"`
	}
	if err := value.Decode(&raw); err != nil {
		return err
	}
	c.MaxAttempts = raw.MaxAttempts
	c.BackoffMultiplier = raw.BackoffMultiplier

	var err error
	if raw.InitialBackoff != "" {
		if c.InitialBackoff, err = time.ParseDuration(raw.InitialBackoff); err != nil {
			return errors.Wrapf(err, "parsing initial_backoff %q", raw.InitialBackoff)
		}
	}
	if raw.MaxBackoff != "" {
		if c.MaxBackoff, err = time.ParseDuration(raw.MaxBackoff); err != nil {
			return errors.Wrapf(err, "parsing max_backoff %q", raw.MaxBackoff)
		}
	}
	return nil
}

func (c RetryConfig) Validate() error {
	if c.MaxAttempts <= 0 {
		return errors.Errorf("retry max_attempts must be positive, got %d", c.MaxAttempts)
	}
	if c.InitialBackoff <= 0 {
		return errors.Errorf("retry initial_backoff must be positive, got %s", c.InitialBackoff)
	}
	if c.BackoffMultiplier < 1 {
		return errors.Errorf("retry backoff_multiplier must be >= 1, got %f", c.BackoffMultiplier)
	}
	if c.MaxBackoff < c.InitialBackoff {
		return errors.Errorf("retry max_backoff %s is below initial_backoff %s", c.MaxBackoff, c.InitialBackoff)
	}
	return nil
}

// Sampling carries the per-request model parameters. Nil fields are left to
// the provider's defaults.
type Sampling struct {
	Temperature *float64 `yaml:"temperature,omitempty"`
	TopP        *float64 `yaml:"top_p,omitempty"`
	MaxTokens   *int     `yaml:"max_tokens,omitempty"`
	Seed        *int     `yaml:"seed,omitempty"`
}

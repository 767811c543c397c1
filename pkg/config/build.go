package config

import (
	"encoding/json"
	"os"
	"strings"

	"github.com/pkg/errors"

	"github.com/go-go-golems/grillo/pkg/conversation"
	"github.com/go-go-golems/grillo/pkg/corpus"
	"github.com/go-go-golems/grillo/pkg/events"
	"github.com/go-go-golems/grillo/pkg/experiment"
	"github.com/go-go-golems/grillo/pkg/handlers"
	"github.com/go-go-golems/grillo/pkg/inference/engine"
	"github.com/go-go-golems/grillo/pkg/inference/factory"
	"github.com/go-go-golems/grillo/pkg/lookup"
	"github.com/go-go-golems/grillo/pkg/lookup/pubtator"
	"github.com/go-go-golems/grillo/pkg/ratelimit"
	"github.com/go-go-golems/grillo/pkg/security"
	"github.com/go-go-golems/grillo/pkg/turns"
)

// Runtime is a fully wired experiment: everything Build constructed from the
// configuration, ready to be handed to the orchestrator.
type Runtime struct {
	Engine    engine.Engine
	Limiter   *ratelimit.Limiter
	Runner    *turns.Runner
	Turns     []turns.Config
	Reference *corpus.ReferenceCollection

	Experiment experiment.Config
}

type BuildOption func(*buildOptions)

type buildOptions struct {
	emitter *events.Emitter
}

// WithEmitter wires run events through the built turn runner.
func WithEmitter(e *events.Emitter) BuildOption {
	return func(o *buildOptions) {
		o.emitter = e
	}
}

// Build constructs and validates the whole experiment. Every handler and
// strategy is built eagerly and the context key flow across turns is checked,
// so all configuration errors surface here, before any network call.
func (c *Config) Build(opts ...BuildOption) (*Runtime, error) {
	bo := &buildOptions{}
	for _, opt := range opts {
		opt(bo)
	}

	var problems []string
	collect := func(err error) {
		if err != nil {
			problems = append(problems, err.Error())
		}
	}

	collect(c.Retry.Validate())
	if c.MaxToolCycles <= 0 {
		collect(errors.Errorf("max_tool_cycles must be positive, got %d", c.MaxToolCycles))
	}
	if c.Corpus.Dir == "" {
		collect(errors.New("corpus.dir is required"))
	}
	if len(c.Turns) == 0 {
		collect(errors.New("at least one turn is required"))
	}
	if c.Engine.Model == "" {
		collect(errors.New("engine.model is required"))
	}
	if c.Engine.BaseURL != "" {
		// local deployments talk plain http to their own network
		urlOpts := security.OutboundURLOptions{}
		if c.Engine.Provider == "ollama" {
			urlOpts.AllowHTTP = true
			urlOpts.AllowLocalNetworks = true
		}
		collect(errors.Wrap(security.ValidateOutboundURL(c.Engine.BaseURL, urlOpts), "engine.base_url"))
	}

	limiter, err := c.buildLimiter()
	collect(err)

	eng, err := factory.NewEngine(factory.Config{
		Provider: c.Engine.Provider,
		APIKey:   c.Engine.APIKey,
		BaseURL:  c.Engine.BaseURL,
	})
	collect(err)

	turnCfgs, err := c.buildTurns(limiter)
	collect(err)
	if err == nil {
		collect(checkKeyFlow(turnCfgs))
	}

	reference, err := c.loadReference()
	collect(err)

	expCfg := experiment.Config{Trials: c.Trials, Concurrency: c.Concurrency}
	collect(expCfg.Validate())

	if len(problems) > 0 {
		return nil, errors.Errorf("invalid experiment configuration:\n  - %s",
			strings.Join(problems, "\n  - "))
	}

	runnerOpts := []turns.RunnerOption{}
	if bo.emitter != nil {
		runnerOpts = append(runnerOpts, turns.WithEmitter(bo.emitter))
	}
	runner, err := turns.NewRunner(eng, limiter, turns.RunnerConfig{
		Model: c.Engine.Model,
		Sampling: turns.Sampling{
			Temperature: c.Engine.Temperature,
			TopP:        c.Engine.TopP,
			MaxTokens:   c.Engine.MaxTokens,
			Seed:        c.Engine.Seed,
		},
		Providers:     c.Engine.Providers,
		Retry:         c.Retry,
		MaxToolCycles: c.MaxToolCycles,
	}, runnerOpts...)
	if err != nil {
		return nil, err
	}

	return &Runtime{
		Engine:     eng,
		Limiter:    limiter,
		Runner:     runner,
		Turns:      turnCfgs,
		Reference:  reference,
		Experiment: expCfg,
	}, nil
}

// Validate builds the experiment and discards the result. The returned error
// lists every configuration problem found, not just the first.
func (c *Config) Validate() error {
	_, err := c.Build()
	return err
}

func (c *Config) buildLimiter() (*ratelimit.Limiter, error) {
	opts := []ratelimit.Option{}
	if c.RateLimit.AdaptiveFloor > 0 {
		opts = append(opts, ratelimit.WithAdaptive(c.RateLimit.AdaptiveFloor))
	}
	limiter, err := ratelimit.New(c.RateLimit.Calls, c.RateLimit.Interval, opts...)
	return limiter, errors.Wrap(err, "rate_limit")
}

// buildTurns constructs every configured handler through the registries. The
// lookup strategies share the experiment's rate limiter, so lookup traffic
// counts against the same ceiling as completion calls.
func (c *Config) buildTurns(limiter *ratelimit.Limiter) ([]turns.Config, error) {
	strategies := lookup.NewRegistry()
	pubtator.RegisterStrategies(strategies, pubtator.NewClient(limiter))

	registry := handlers.NewRegistry()
	handlers.RegisterBuiltins(registry, strategies)

	turnCfgs := make([]turns.Config, 0, len(c.Turns))
	for i, spec := range c.Turns {
		if spec.Name == "" {
			return nil, errors.Errorf("turn %d needs a name", i)
		}
		cfg := turns.Config{Name: spec.Name}

		for _, hs := range spec.RequestHandlers {
			h, err := registry.New(hs.Type, &hs.node)
			if err != nil {
				return nil, errors.Wrapf(err, "turn %q", spec.Name)
			}
			rh, ok := h.(handlers.RequestHandler)
			if !ok {
				return nil, errors.Errorf("turn %q: handler %s cannot build requests", spec.Name, hs.Type)
			}
			cfg.RequestHandlers = append(cfg.RequestHandlers, rh)
		}
		for _, hs := range spec.ResponseHandlers {
			h, err := registry.New(hs.Type, &hs.node)
			if err != nil {
				return nil, errors.Wrapf(err, "turn %q", spec.Name)
			}
			rh, ok := h.(handlers.ResponseHandler)
			if !ok {
				return nil, errors.Errorf("turn %q: handler %s cannot parse responses", spec.Name, hs.Type)
			}
			cfg.ResponseHandlers = append(cfg.ResponseHandlers, rh)
		}

		if err := cfg.Validate(); err != nil {
			return nil, err
		}
		turnCfgs = append(turnCfgs, cfg)
	}
	return turnCfgs, nil
}

// contextReader is implemented by handlers whose templates read context keys.
type contextReader interface {
	RequiredContextKeys() []string
}

// contextWriter is implemented by handlers that store a parsed result.
type contextWriter interface {
	WritesContextKey() string
}

// kindedWriter additionally declares the shape of the stored value.
type kindedWriter interface {
	WritesKeyKind() conversation.KeyKind
}

// checkKeyFlow verifies that every context key a turn reads was seeded by the
// conversation or written by an earlier handler in the configured sequence,
// and that no handler redeclares a key at a conflicting kind. The ordering
// contract of the turn list becomes a load-time check instead of a mid-run
// surprise.
func checkKeyFlow(turnCfgs []turns.Config) error {
	available := map[string]conversation.KeyKind{
		conversation.KeyDocument.String():      conversation.KindText,
		conversation.KeySupplementary.String(): conversation.KindText,
		conversation.KeyReference.String():     conversation.KindText,
	}

	var problems []string
	for _, cfg := range turnCfgs {
		for _, h := range cfg.RequestHandlers {
			reader, ok := h.(contextReader)
			if !ok {
				continue
			}
			for _, key := range reader.RequiredContextKeys() {
				if _, ok := available[key]; !ok {
					problems = append(problems,
						errors.Errorf("turn %q reads context key %q before anything writes it", cfg.Name, key).Error())
				}
			}
		}

		// response handlers write after the turn's requests were built,
		// so their keys only become readable from the next turn on
		for _, h := range cfg.ResponseHandlers {
			writer, ok := h.(contextWriter)
			if !ok {
				continue
			}
			key := writer.WritesContextKey()
			kind := conversation.KindAny
			if kw, ok := h.(kindedWriter); ok {
				kind = kw.WritesKeyKind()
			}

			prev, seen := available[key]
			if seen && prev != kind && prev != conversation.KindAny && kind != conversation.KindAny {
				problems = append(problems,
					errors.Errorf("turn %q writes context key %q as %s, but it was declared %s",
						cfg.Name, key, kind, prev).Error())
				continue
			}
			if !seen || prev == conversation.KindAny {
				available[key] = kind
			}
		}
	}

	if len(problems) > 0 {
		return errors.New(strings.Join(problems, "; "))
	}
	return nil
}

func (c *Config) loadReference() (*corpus.ReferenceCollection, error) {
	if c.Reference == "" {
		return nil, nil
	}
	data, err := os.ReadFile(c.Reference)
	if err != nil {
		return nil, errors.Wrapf(err, "reading reference collection %s", c.Reference)
	}
	rc := &corpus.ReferenceCollection{}
	if err := json.Unmarshal(data, rc); err != nil {
		return nil, errors.Wrapf(err, "parsing reference collection %s", c.Reference)
	}
	return rc, nil
}

// LoadDocuments reads the configured corpus.
func (c *Config) LoadDocuments() ([]*corpus.Document, error) {
	return corpus.LoadDir(c.Corpus.Dir, corpus.LoadOptions{
		Include: c.Corpus.Include,
		Exclude: c.Corpus.Exclude,
	})
}

package turns

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/go-go-golems/grillo/pkg/conversation"
	"github.com/go-go-golems/grillo/pkg/events"
	"github.com/go-go-golems/grillo/pkg/handlers"
	"github.com/go-go-golems/grillo/pkg/inference/engine"
)

// Phase is the runner's position in the turn state machine, for logging.
type Phase string

const (
	PhaseBuilding  Phase = "building"
	PhaseSent      Phase = "sent"
	PhaseParsing   Phase = "parsing"
	PhaseToolCycle Phase = "tool_cycle"
	PhaseDone      Phase = "done"
	PhaseFailed    Phase = "failed"
)

// Limiter is the admission side of the shared rate limiter plus the feedback
// channel for adaptive mode.
type Limiter interface {
	Wait(ctx context.Context) error
	Report(ok bool)
}

// RunnerConfig parameterizes turn execution. Retry and MaxToolCycles are
// required: the runner refuses to guess how often it may hit a provider.
type RunnerConfig struct {
	Model    string
	Sampling Sampling

	// Providers pins the upstream provider order for gateways that route
	// one model name to several providers. Empty leaves routing to the
	// gateway.
	Providers []string

	Retry         RetryConfig
	MaxToolCycles int
}

func (c RunnerConfig) Validate() error {
	if c.Model == "" {
		return errors.New("runner needs a model")
	}
	if err := c.Retry.Validate(); err != nil {
		return err
	}
	if c.MaxToolCycles <= 0 {
		return errors.Errorf("max_tool_cycles must be positive, got %d", c.MaxToolCycles)
	}
	return nil
}

// Runner executes turns against one engine under the shared rate limiter. It
// is stateless across calls and safe for concurrent use by many
// conversations.
type Runner struct {
	engine  engine.Engine
	limiter Limiter
	cfg     RunnerConfig
	emitter *events.Emitter
}

type RunnerOption func(*Runner)

// WithEmitter publishes turn lifecycle events to the run event router.
func WithEmitter(e *events.Emitter) RunnerOption {
	return func(r *Runner) {
		r.emitter = e
	}
}

func NewRunner(eng engine.Engine, limiter Limiter, cfg RunnerConfig, opts ...RunnerOption) (*Runner, error) {
	if eng == nil {
		return nil, errors.New("runner needs an engine")
	}
	if limiter == nil {
		return nil, errors.New("runner needs the shared rate limiter")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	r := &Runner{engine: eng, limiter: limiter, cfg: cfg}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// RunConversation executes the conversation's turns strictly in order. The
// first turn failure marks the conversation failed and stops it; sibling
// conversations are unaffected because nothing here is shared except the
// limiter. The final status is set exactly once.
func (r *Runner) RunConversation(ctx context.Context, conv *conversation.Conversation, cfgs []Config) error {
	for _, cfg := range cfgs {
		outcome, err := r.Run(ctx, conv, cfg)
		conv.RecordOutcome(outcome)
		if err != nil {
			status := conversation.StatusFailed
			var cfgErr *handlers.ConfigError
			if errors.As(err, &cfgErr) {
				status = conversation.StatusRejected
			}
			if ctx.Err() != nil {
				status = conversation.StatusCancelled
			}
			conv.Finish(status, errors.Wrapf(err, "turn %s", cfg.Name))
			return err
		}
	}
	conv.Finish(conversation.StatusSucceeded, nil)
	return nil
}

// Run executes one turn: BUILDING → SENT → PARSING, repeated through tool
// cycles while a handler keeps signalling one, up to the configured cap. The
// returned outcome is recorded whether or not the turn failed.
func (r *Runner) Run(ctx context.Context, conv *conversation.Conversation, cfg Config) (conversation.TurnOutcome, error) {
	outcome := conversation.TurnOutcome{
		Turn:      cfg.Name,
		StartedAt: time.Now(),
	}
	logger := log.With().
		Str("conversation", conv.ID.String()).
		Str("document", conv.DocumentID()).
		Str("turn", cfg.Name).
		Logger()

	r.emit(conv, events.Event{Type: events.TypeTurnStarted, Turn: cfg.Name})

	fail := func(phase Phase, err error) (conversation.TurnOutcome, error) {
		logger.Warn().Err(err).Str("phase", string(phase)).Msg("turn failed")
		outcome.Success = false
		outcome.Error = err.Error()
		outcome.FinishedAt = time.Now()
		r.emit(conv, events.Event{Type: events.TypeTurnFinished, Turn: cfg.Name, Status: string(PhaseFailed), Error: err.Error()})
		return outcome, err
	}

	if err := cfg.Validate(); err != nil {
		return fail(PhaseBuilding, err)
	}

	cycle := 0
	for {
		if cycle > 0 {
			logger.Debug().Int("cycle", cycle).Msg("entering tool cycle")
			r.emit(conv, events.Event{Type: events.TypeToolCycle, Turn: cfg.Name, Cycle: cycle})
		}

		// BUILDING: one request from empty, full transcript replay, then
		// the ordered request handlers.
		history := conv.History.Messages()
		state := handlers.NewState(conv.Context, history, cycle)
		req := r.newRequest()
		req.AppendMessages(history...)

		for _, h := range cfg.RequestHandlers {
			if cycle > 0 && !h.AppliesInToolCycle() {
				continue
			}
			if err := h.OnRequest(ctx, state, req); err != nil {
				return fail(PhaseBuilding, errors.Wrapf(err, "request handler %s", h.Name()))
			}
		}
		outbound := req.Messages[len(history):]

		// SENT: through the shared limiter, with bounded backoff on
		// transient provider errors.
		resp, attempts, err := r.send(ctx, &logger, req)
		outcome.Attempts += attempts
		if err != nil {
			return fail(PhaseSent, err)
		}
		conv.AddUsage(resp.Usage)
		conv.AddExchange(resp.Raw)

		if !resp.FinishReason.Known() {
			return fail(PhaseParsing, &engine.UnexpectedFinishError{
				FinishReason: string(resp.FinishReason),
				Native:       resp.NativeFinishReason,
			})
		}

		// PARSING: ordered response handlers over the reply.
		for _, h := range cfg.ResponseHandlers {
			if cycle > 0 && !h.AppliesInToolCycle() {
				continue
			}
			if err := h.OnResponse(ctx, state, resp); err != nil {
				return fail(PhaseParsing, errors.Wrapf(err, "response handler %s", h.Name()))
			}
		}

		// Commit this cycle's exchange to the transcript exactly once: the
		// new outbound messages, the assistant reply, then any staged tool
		// results.
		conv.History.Append(outbound...)
		conv.History.Append(resp.Message)
		conv.History.Append(state.Staged()...)

		if !state.CycleRequested() {
			break
		}
		cycle++
		outcome.ToolCycles = cycle
		if cycle > r.cfg.MaxToolCycles {
			return fail(PhaseToolCycle, &CycleCapError{Turn: cfg.Name, Cap: r.cfg.MaxToolCycles})
		}
	}

	outcome.Success = true
	outcome.FinishedAt = time.Now()
	logger.Debug().
		Int("attempts", outcome.Attempts).
		Int("tool_cycles", outcome.ToolCycles).
		Dur("elapsed", outcome.FinishedAt.Sub(outcome.StartedAt)).
		Msg("turn done")
	r.emit(conv, events.Event{Type: events.TypeTurnFinished, Turn: cfg.Name, Status: string(PhaseDone), Cycle: outcome.ToolCycles})
	return outcome, nil
}

func (r *Runner) newRequest() *engine.Request {
	req := engine.NewRequest(r.cfg.Model)
	req.Temperature = r.cfg.Sampling.Temperature
	req.TopP = r.cfg.Sampling.TopP
	req.MaxTokens = r.cfg.Sampling.MaxTokens
	req.Seed = r.cfg.Sampling.Seed

	// require_parameters keeps gateways from routing to an upstream that
	// silently drops structured output or tool declarations.
	prefs := &engine.ProviderPreferences{RequireParameters: true}
	if len(r.cfg.Providers) > 0 {
		no := false
		prefs.Order = append([]string(nil), r.cfg.Providers...)
		prefs.AllowFallbacks = &no
	}
	req.Provider = prefs
	return req
}

// send performs one completion call with the bounded retry policy. Every
// attempt passes the shared limiter first; adaptive limiters get per-attempt
// feedback.
func (r *Runner) send(ctx context.Context, logger *zerolog.Logger, req *engine.Request) (*engine.Response, int, error) {
	backoff := r.cfg.Retry.InitialBackoff

	for attempt := 1; ; attempt++ {
		if err := r.limiter.Wait(ctx); err != nil {
			return nil, attempt, errors.Wrap(err, "waiting for rate limiter")
		}

		resp, err := r.engine.Complete(ctx, req)
		if err == nil {
			r.limiter.Report(true)
			return resp, attempt, nil
		}

		if engine.IsRateLimited(err) {
			r.limiter.Report(false)
		}
		if !engine.IsTransient(err) {
			return nil, attempt, err
		}
		if attempt >= r.cfg.Retry.MaxAttempts {
			return nil, attempt, errors.Wrapf(err, "%d attempts exhausted", attempt)
		}

		logger.Debug().
			Err(err).
			Int("attempt", attempt).
			Dur("backoff", backoff).
			Msg("transient provider error, backing off")

		select {
		case <-ctx.Done():
			return nil, attempt, errors.Wrap(ctx.Err(), "cancelled during backoff")
		case <-time.After(backoff):
		}

		backoff = time.Duration(float64(backoff) * r.cfg.Retry.BackoffMultiplier)
		if backoff > r.cfg.Retry.MaxBackoff {
			backoff = r.cfg.Retry.MaxBackoff
		}
	}
}

func (r *Runner) emit(conv *conversation.Conversation, e events.Event) {
	if r.emitter == nil {
		return
	}
	e.Time = time.Now()
	e.ConversationID = conv.ID.String()
	e.DocumentID = conv.DocumentID()
	e.Trial = conv.Trial
	r.emitter.Emit(e)
}

package handlers

import (
	"context"
	"fmt"

	"github.com/go-go-golems/grillo/pkg/chat"
	"github.com/go-go-golems/grillo/pkg/conversation"
	"github.com/go-go-golems/grillo/pkg/inference/engine"
)

// Handler is the common surface of every handler variant. A handler declares
// whether it participates in tool-cycle passes or only on a turn's initial
// pass.
type Handler interface {
	Name() string
	AppliesInToolCycle() bool
}

// RequestHandler mutates the outgoing request during the BUILDING phase.
// Handlers read the Context and the request under construction; they never
// touch History.
type RequestHandler interface {
	Handler
	OnRequest(ctx context.Context, state *State, req *engine.Request) error
}

// ResponseHandler inspects the assistant reply during the PARSING phase. It
// may write parsed values into the Context, rewrite the reply content before
// it is committed, stage tool messages and request another cycle.
type ResponseHandler interface {
	Handler
	OnResponse(ctx context.Context, state *State, resp *engine.Response) error
}

// State is the per-pass view handed to handlers. The turn runner builds a
// fresh State for the initial pass and for every tool cycle; the Context
// pointer is shared across passes, everything else is pass-local.
type State struct {
	// Context is the owning conversation's context.
	Context *conversation.Context

	// History is a read-only snapshot of the conversation transcript at
	// the start of the pass.
	History []chat.Message

	// Cycle is 0 on the initial pass and counts up per tool cycle.
	Cycle int

	staged        []chat.Message
	continueCycle bool
}

func NewState(c *conversation.Context, history []chat.Message, cycle int) *State {
	return &State{Context: c, History: history, Cycle: cycle}
}

// StageMessage queues a tool-role message. The runner appends staged messages
// to History after the assistant reply, in staging order.
func (s *State) StageMessage(msg chat.Message) {
	s.staged = append(s.staged, msg)
}

func (s *State) Staged() []chat.Message {
	return s.staged
}

// SignalCycle asks the runner to run another tool cycle after this pass.
func (s *State) SignalCycle() {
	s.continueCycle = true
}

func (s *State) CycleRequested() bool {
	return s.continueCycle
}

// ConfigError marks a handler configuration problem: bad handler config at
// construction, or a missing Context key discovered while building a
// request. It always surfaces before any network call and is never retried.
type ConfigError struct {
	Handler string
	Err     error
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("handler %s: %v", e.Handler, e.Err)
}

func (e *ConfigError) Unwrap() error {
	return e.Err
}

func NewConfigError(handler string, err error) *ConfigError {
	return &ConfigError{Handler: handler, Err: err}
}

// ValidationError marks an assistant reply that did not conform to the
// declared output shape even after lenient repair. It fails the turn; the
// runner does not re-prompt the model on its own.
type ValidationError struct {
	Handler string
	Err     error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("handler %s: invalid output: %v", e.Handler, e.Err)
}

func (e *ValidationError) Unwrap() error {
	return e.Err
}

func NewValidationError(handler string, err error) *ValidationError {
	return &ValidationError{Handler: handler, Err: err}
}

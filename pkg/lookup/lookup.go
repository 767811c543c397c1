package lookup

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/go-go-golems/grillo/pkg/inference/engine"
)

// Strategy is one way of answering an entity-lookup tool call. A strategy
// owns the tool definition it advertises to the model and the full path from
// raw tool-call arguments to a formatted result string.
//
// Strategies must be safe for concurrent use: one conversation can dispatch
// several tool calls from the same reply in parallel.
type Strategy interface {
	// Tool is the definition advertised to the model.
	Tool() engine.ToolDef

	// Lookup parses the raw tool-call arguments, performs the search and
	// formats the outcome for the model.
	Lookup(ctx context.Context, arguments json.RawMessage) (*Result, error)
}

// Result carries both the model-facing text and the structured data recorded
// in the conversation context.
type Result struct {
	// Formatted is the text returned to the model in the tool message.
	Formatted string

	// Arguments is the parsed argument struct.
	Arguments any

	// Results is the structured search outcome.
	Results any
}

// ErrorKind classifies lookup failures for logging. All of them are
// recoverable from the conversation's point of view: the turn surfaces them
// to the model as a corrective tool message.
type ErrorKind string

const (
	// ErrBadArguments means the model supplied arguments the strategy
	// cannot use.
	ErrBadArguments ErrorKind = "bad_arguments"
	// ErrUnavailable means the lookup service could not be reached or
	// answered with an error status.
	ErrUnavailable ErrorKind = "unavailable"
	// ErrDecode means the service answered with a payload that could not
	// be parsed.
	ErrDecode ErrorKind = "decode"
)

// Error is a classified lookup failure.
type Error struct {
	Strategy string
	Kind     ErrorKind
	Err      error
}

func (e *Error) Error() string {
	return fmt.Sprintf("lookup %s (%s): %v", e.Strategy, e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// NewError wraps err with its strategy and classification.
func NewError(strategy string, kind ErrorKind, err error) *Error {
	return &Error{Strategy: strategy, Kind: kind, Err: err}
}

var _ error = (*Error)(nil)

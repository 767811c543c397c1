package conversation

import (
	"time"

	"github.com/google/uuid"

	"github.com/go-go-golems/grillo/pkg/chat"
	"github.com/go-go-golems/grillo/pkg/corpus"
	"github.com/go-go-golems/grillo/pkg/inference/engine"
)

// Status is the final state of a conversation.
type Status string

const (
	// StatusRunning is the in-memory state before the conversation finishes.
	StatusRunning Status = "running"
	// StatusSucceeded means every configured turn completed.
	StatusSucceeded Status = "succeeded"
	// StatusFailed means a turn failed; earlier turns' work is preserved.
	StatusFailed Status = "failed"
	// StatusRejected means configuration validation failed before any
	// network call was made for this conversation.
	StatusRejected Status = "rejected"
	// StatusCancelled means the experiment was cancelled mid-flight.
	StatusCancelled Status = "cancelled"
)

// TurnOutcome is the per-turn entry in the conversation's outcome log.
type TurnOutcome struct {
	Turn       string    `json:"turn"`
	Success    bool      `json:"success"`
	Error      string    `json:"error,omitempty"`
	Attempts   int       `json:"attempts"`
	ToolCycles int       `json:"tool_cycles"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
}

// Conversation owns the mutable state of one document×trial run: the Context,
// the append-only History, the outcome log and the usage accounting. It is
// created by the orchestrator, mutated only by its own strictly sequential
// turn executions, and persisted exactly once when it finishes.
type Conversation struct {
	ID       uuid.UUID
	Document *corpus.Document
	Trial    int

	// Reference is the collection entities are checked against; the
	// document's own collection wins over the experiment-wide one.
	Reference *corpus.ReferenceCollection

	Context *Context
	History *chat.History

	Outcomes []TurnOutcome
	Status   Status
	Err      error

	StartedAt  time.Time
	FinishedAt time.Time

	Usage     engine.Usage
	Exchanges []engine.RawExchange
}

type Option func(*Conversation)

// WithReference sets the experiment-wide reference collection. A collection
// attached to the document itself takes precedence.
func WithReference(rc *corpus.ReferenceCollection) Option {
	return func(c *Conversation) {
		if c.Document == nil || c.Document.Reference == nil {
			c.Reference = rc
		}
	}
}

// New creates the conversation for one (document, trial) pair and seeds its
// context with the document's fields.
func New(doc *corpus.Document, trial int, opts ...Option) *Conversation {
	c := &Conversation{
		ID:        uuid.New(),
		Document:  doc,
		Trial:     trial,
		Context:   NewContext(),
		History:   chat.NewHistory(),
		Status:    StatusRunning,
		StartedAt: time.Now(),
	}
	if doc != nil && doc.Reference != nil {
		c.Reference = doc.Reference
	}
	for _, opt := range opts {
		opt(c)
	}

	if doc != nil {
		c.Context.Set(KeyDocument, doc.Text)
		if doc.HasSupplementary() {
			c.Context.Set(KeySupplementary, doc.Supplementary)
		}
	}
	if c.Reference != nil {
		c.Context.Set(KeyReference, c.Reference.Format())
	}
	return c
}

func (c *Conversation) DocumentID() string {
	if c.Document == nil {
		return ""
	}
	return c.Document.ID
}

// RecordOutcome appends one turn's outcome to the log.
func (c *Conversation) RecordOutcome(o TurnOutcome) {
	c.Outcomes = append(c.Outcomes, o)
}

// AddUsage accumulates provider token accounting across turns and cycles.
func (c *Conversation) AddUsage(u *engine.Usage) {
	if u == nil {
		return
	}
	c.Usage.PromptTokens += u.PromptTokens
	c.Usage.CompletionTokens += u.CompletionTokens
	c.Usage.TotalTokens += u.TotalTokens
}

// AddExchange keeps one raw request/response pair for payload persistence.
func (c *Conversation) AddExchange(x engine.RawExchange) {
	c.Exchanges = append(c.Exchanges, x)
}

// Finish marks the conversation's final status. The first call wins; later
// calls are ignored so a cancellation cannot overwrite a completed state.
func (c *Conversation) Finish(status Status, err error) {
	if c.Status != StatusRunning {
		return
	}
	c.Status = status
	c.Err = err
	c.FinishedAt = time.Now()
}

func (c *Conversation) Succeeded() bool {
	return c.Status == StatusSucceeded
}

// Record is the persisted form of a finished conversation, consumed by
// downstream evaluation tooling.
type Record struct {
	ID         string         `json:"id"`
	DocumentID string         `json:"document_id"`
	Trial      int            `json:"trial"`
	Status     Status         `json:"status"`
	Error      string         `json:"error,omitempty"`
	StartedAt  time.Time      `json:"started_at"`
	FinishedAt time.Time      `json:"finished_at"`
	Messages   []chat.Message `json:"messages"`
	Context    map[string]any `json:"context"`
	Outcomes   []TurnOutcome  `json:"turn_outcomes"`
	Usage      engine.Usage   `json:"usage"`
}

// Record snapshots the conversation for persistence.
func (c *Conversation) Record() *Record {
	r := &Record{
		ID:         c.ID.String(),
		DocumentID: c.DocumentID(),
		Trial:      c.Trial,
		Status:     c.Status,
		StartedAt:  c.StartedAt,
		FinishedAt: c.FinishedAt,
		Messages:   c.History.Messages(),
		Context:    c.Context.Snapshot(),
		Outcomes:   append([]TurnOutcome(nil), c.Outcomes...),
		Usage:      c.Usage,
	}
	if c.Err != nil {
		r.Error = c.Err.Error()
	}
	return r
}

package events

import (
	"time"
)

// Topic is the watermill topic all run events are published on.
const Topic = "grillo.run"

type Type string

const (
	TypeRunStarted  Type = "run.started"
	TypeRunFinished Type = "run.finished"

	TypeConversationStarted  Type = "conversation.started"
	TypeConversationFinished Type = "conversation.finished"

	TypeTurnStarted  Type = "turn.started"
	TypeTurnFinished Type = "turn.finished"

	// TypeToolCycle marks the start of one bounded tool sub-loop iteration
	// within a turn.
	TypeToolCycle Type = "turn.tool_cycle"
)

// Event is the envelope for everything the run reports about itself. Events
// are observability only: no core control flow depends on them, and a run
// without any subscriber behaves identically.
type Event struct {
	Type Type      `json:"type"`
	Time time.Time `json:"time"`

	ConversationID string `json:"conversation_id,omitempty"`
	DocumentID     string `json:"document_id,omitempty"`
	Trial          int    `json:"trial,omitempty"`

	Turn  string `json:"turn,omitempty"`
	Cycle int    `json:"cycle,omitempty"`

	Status string `json:"status,omitempty"`
	Error  string `json:"error,omitempty"`

	// Run-level counters, set on run.started / run.finished.
	Total     int `json:"total,omitempty"`
	Succeeded int `json:"succeeded,omitempty"`
	Failed    int `json:"failed,omitempty"`
}

func New(t Type) Event {
	return Event{Type: t, Time: time.Now()}
}

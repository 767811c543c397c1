package experiment

import (
	"time"

	"github.com/go-go-golems/grillo/pkg/conversation"
	"github.com/go-go-golems/grillo/pkg/inference/engine"
)

// Summary is one conversation's line in the run report.
type Summary struct {
	DocumentID string              `json:"document_id"`
	Trial      int                 `json:"trial"`
	Status     conversation.Status `json:"status"`
	Error      string              `json:"error,omitempty"`
	TurnsDone  int                 `json:"turns_done"`
}

// Report aggregates a whole run. Failed conversations with at least one
// completed turn also count as partially completed: their context and
// history up to the failure were persisted.
type Report struct {
	Attempted          int `json:"attempted"`
	Succeeded          int `json:"succeeded"`
	Failed             int `json:"failed"`
	Rejected           int `json:"rejected"`
	Cancelled          int `json:"cancelled"`
	PartiallyCompleted int `json:"partially_completed"`

	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`

	Usage engine.Usage `json:"usage"`

	Conversations []Summary `json:"conversations"`
}

func (r *Report) add(conv *conversation.Conversation) {
	r.Attempted++
	switch conv.Status {
	case conversation.StatusSucceeded:
		r.Succeeded++
	case conversation.StatusFailed:
		r.Failed++
	case conversation.StatusRejected:
		r.Rejected++
	case conversation.StatusCancelled:
		r.Cancelled++
	}

	turnsDone := 0
	for _, o := range conv.Outcomes {
		if o.Success {
			turnsDone++
		}
	}
	if conv.Status == conversation.StatusFailed && turnsDone > 0 {
		r.PartiallyCompleted++
	}

	r.Usage.PromptTokens += conv.Usage.PromptTokens
	r.Usage.CompletionTokens += conv.Usage.CompletionTokens
	r.Usage.TotalTokens += conv.Usage.TotalTokens

	summary := Summary{
		DocumentID: conv.DocumentID(),
		Trial:      conv.Trial,
		Status:     conv.Status,
		TurnsDone:  turnsDone,
	}
	if conv.Err != nil {
		summary.Error = conv.Err.Error()
	}
	r.Conversations = append(r.Conversations, summary)
}

// AllSucceeded reports whether every attempted conversation completed.
func (r *Report) AllSucceeded() bool {
	return r.Attempted > 0 && r.Succeeded == r.Attempted
}

package events

import (
	"context"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/schollz/progressbar/v3"
)

// LogHandler writes every event to the global zerolog logger. Conversation
// failures log at warn so they stand out of a debug-level stream.
func LogHandler(ctx context.Context, e Event) error {
	var ev *zerolog.Event
	if e.Type == TypeConversationFinished && e.Error != "" {
		ev = log.Warn()
	} else {
		ev = log.Debug()
	}

	ev = ev.Str("event", string(e.Type))
	if e.DocumentID != "" {
		ev = ev.Str("document", e.DocumentID).Int("trial", e.Trial)
	}
	if e.Turn != "" {
		ev = ev.Str("turn", e.Turn)
	}
	if e.Type == TypeToolCycle {
		ev = ev.Int("cycle", e.Cycle)
	}
	if e.Status != "" {
		ev = ev.Str("status", e.Status)
	}
	if e.Error != "" {
		ev = ev.Str("error", e.Error)
	}
	if e.Type == TypeRunFinished {
		ev = ev.Int("total", e.Total).Int("succeeded", e.Succeeded).Int("failed", e.Failed)
	}
	ev.Msg("run event")
	return nil
}

// NewProgressHandler renders a terminal progress bar advanced by finished
// conversations. total is the number of conversations the run will attempt.
func NewProgressHandler(total int) func(ctx context.Context, e Event) error {
	bar := progressbar.NewOptions(total,
		progressbar.OptionSetDescription("conversations"),
		progressbar.OptionShowCount(),
		progressbar.OptionSetRenderBlankState(true),
		progressbar.OptionClearOnFinish(),
	)

	return func(ctx context.Context, e Event) error {
		switch e.Type {
		case TypeConversationFinished:
			_ = bar.Add(1)
		case TypeRunFinished:
			_ = bar.Finish()
		}
		return nil
	}
}

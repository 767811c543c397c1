package experiment

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/go-go-golems/grillo/pkg/conversation"
	"github.com/go-go-golems/grillo/pkg/corpus"
	"github.com/go-go-golems/grillo/pkg/events"
	"github.com/go-go-golems/grillo/pkg/store"
	"github.com/go-go-golems/grillo/pkg/turns"
)

// Config bounds the orchestrator's fan-out.
type Config struct {
	// Trials repeats every document's conversation to estimate model
	// randomness.
	Trials int
	// Concurrency caps the number of in-flight conversations. The shared
	// rate limiter still governs the actual outbound call rate.
	Concurrency int64
}

func (c Config) Validate() error {
	if c.Trials <= 0 {
		return errors.Errorf("trials must be positive, got %d", c.Trials)
	}
	if c.Concurrency <= 0 {
		return errors.Errorf("concurrency must be positive, got %d", c.Concurrency)
	}
	return nil
}

// Orchestrator fans one conversation per (document, trial) pair out over a
// bounded pool of goroutines. Conversations are mutually independent: they
// share only the rate limiter inside the runner, and one conversation's
// failure never cancels or blocks a sibling.
type Orchestrator struct {
	runner    *turns.Runner
	turnCfgs  []turns.Config
	store     store.Store
	cfg       Config
	reference *corpus.ReferenceCollection
	emitter   *events.Emitter
}

type Option func(*Orchestrator)

// WithReference sets the experiment-wide reference collection seeded into
// every conversation that has no document-level one.
func WithReference(rc *corpus.ReferenceCollection) Option {
	return func(o *Orchestrator) {
		o.reference = rc
	}
}

// WithEmitter publishes run and conversation lifecycle events.
func WithEmitter(e *events.Emitter) Option {
	return func(o *Orchestrator) {
		o.emitter = e
	}
}

func New(runner *turns.Runner, turnCfgs []turns.Config, st store.Store, cfg Config, opts ...Option) (*Orchestrator, error) {
	if runner == nil {
		return nil, errors.New("orchestrator needs a turn runner")
	}
	if len(turnCfgs) == 0 {
		return nil, errors.New("orchestrator needs at least one configured turn")
	}
	if st == nil {
		return nil, errors.New("orchestrator needs a store")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	o := &Orchestrator{
		runner:   runner,
		turnCfgs: turnCfgs,
		store:    st,
		cfg:      cfg,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o, nil
}

// Run executes one conversation per (document, trial) pair and aggregates the
// outcomes. The returned error covers orchestration only; individual
// conversation failures land in the report, not here. Cancelling ctx abandons
// in-flight conversations as cancelled and preserves finished ones.
func (o *Orchestrator) Run(ctx context.Context, docs []*corpus.Document) (*Report, error) {
	if len(docs) == 0 {
		return nil, errors.New("no documents to run")
	}

	report := &Report{StartedAt: time.Now()}
	total := len(docs) * o.cfg.Trials

	log.Info().
		Int("documents", len(docs)).
		Int("trials", o.cfg.Trials).
		Int("conversations", total).
		Int64("concurrency", o.cfg.Concurrency).
		Msg("starting experiment")
	o.emit(events.Event{Type: events.TypeRunStarted, Total: total})

	var mu sync.Mutex
	sem := semaphore.NewWeighted(o.cfg.Concurrency)
	eg := &errgroup.Group{}

	for _, doc := range docs {
		for trial := 0; trial < o.cfg.Trials; trial++ {
			eg.Go(func() error {
				conv := o.newConversation(doc, trial)

				if err := sem.Acquire(ctx, 1); err != nil {
					conv.Finish(conversation.StatusCancelled, errors.Wrap(err, "cancelled before start"))
					o.finish(conv, report, &mu)
					return nil
				}
				defer sem.Release(1)

				o.emit(events.Event{
					Type:           events.TypeConversationStarted,
					ConversationID: conv.ID.String(),
					DocumentID:     conv.DocumentID(),
					Trial:          trial,
				})

				// conversation errors are contained in the conversation
				// itself; returning them would cancel the whole group
				_ = o.runner.RunConversation(ctx, conv, o.turnCfgs)
				o.finish(conv, report, &mu)
				return nil
			})
		}
	}
	_ = eg.Wait()

	report.FinishedAt = time.Now()
	report.sort()

	o.emit(events.Event{
		Type:      events.TypeRunFinished,
		Total:     report.Attempted,
		Succeeded: report.Succeeded,
		Failed:    report.Failed,
	})
	log.Info().
		Int("attempted", report.Attempted).
		Int("succeeded", report.Succeeded).
		Int("failed", report.Failed).
		Int("cancelled", report.Cancelled).
		Msg("experiment finished")

	if err := o.store.SaveReport(report); err != nil {
		return report, errors.Wrap(err, "saving report")
	}
	return report, nil
}

func (o *Orchestrator) newConversation(doc *corpus.Document, trial int) *conversation.Conversation {
	opts := []conversation.Option{}
	if o.reference != nil {
		opts = append(opts, conversation.WithReference(o.reference))
	}
	return conversation.New(doc, trial, opts...)
}

// finish persists the conversation exactly once and folds it into the report.
func (o *Orchestrator) finish(conv *conversation.Conversation, report *Report, mu *sync.Mutex) {
	rec := conv.Record()
	if err := o.store.SaveConversation(rec, conv.Exchanges); err != nil {
		log.Error().Err(err).
			Str("document", rec.DocumentID).
			Int("trial", rec.Trial).
			Msg("failed to persist conversation")
	}

	mu.Lock()
	report.add(conv)
	mu.Unlock()

	e := events.Event{
		Type:           events.TypeConversationFinished,
		ConversationID: rec.ID,
		DocumentID:     rec.DocumentID,
		Trial:          rec.Trial,
		Status:         string(rec.Status),
		Error:          rec.Error,
	}
	o.emit(e)
}

func (o *Orchestrator) emit(e events.Event) {
	if o.emitter == nil {
		return
	}
	e.Time = time.Now()
	o.emitter.Emit(e)
}

// sort orders the per-conversation summaries for deterministic reports.
func (r *Report) sort() {
	sort.Slice(r.Conversations, func(i, j int) bool {
		a, b := r.Conversations[i], r.Conversations[j]
		if a.DocumentID != b.DocumentID {
			return a.DocumentID < b.DocumentID
		}
		return a.Trial < b.Trial
	})
}

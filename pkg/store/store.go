package store

import (
	"sync"

	"github.com/go-go-golems/grillo/pkg/conversation"
	"github.com/go-go-golems/grillo/pkg/inference/engine"
)

// Store receives finished conversations and the final run report. The
// conversation lifecycle guarantees SaveConversation is called exactly once
// per conversation; implementations must tolerate concurrent calls from
// sibling conversations.
type Store interface {
	SaveConversation(rec *conversation.Record, exchanges []engine.RawExchange) error

	// SaveReport persists the run summary. It is called once, after every
	// conversation has been saved, and flushes any buffered state.
	SaveReport(report any) error
}

// Memory buffers everything in process, for tests and dry runs.
type Memory struct {
	mu      sync.Mutex
	records []*conversation.Record
	reports []any
}

var _ Store = (*Memory)(nil)

func NewMemory() *Memory {
	return &Memory{}
}

func (m *Memory) SaveConversation(rec *conversation.Record, _ []engine.RawExchange) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records = append(m.records, rec)
	return nil
}

func (m *Memory) SaveReport(report any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reports = append(m.reports, report)
	return nil
}

func (m *Memory) Records() []*conversation.Record {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*conversation.Record(nil), m.records...)
}

func (m *Memory) ReportCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.reports)
}

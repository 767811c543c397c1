package store

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/go-go-golems/grillo/pkg/conversation"
	"github.com/go-go-golems/grillo/pkg/inference/engine"
)

const (
	conversationsFilename = "conversations.json"
	contextsFilename      = "data.json"
	reportFilename        = "report.json"
	payloadsFolder        = "payloads"
)

// FS writes a run directory:
//
//	conversations.json          document id -> per-trial message transcripts
//	data.json                   document id -> per-trial context snapshots
//	payloads/<doc>_<trial>.json raw request/response pairs, written eagerly
//	report.json                 the run summary
//
// Payload files land on disk as conversations finish, so a crashed run still
// leaves its wire traffic behind; the aggregate files are written with the
// report at the end.
type FS struct {
	dir string

	mu      sync.Mutex
	records []*conversation.Record
}

var _ Store = (*FS)(nil)

func NewFS(dir string) (*FS, error) {
	if dir == "" {
		return nil, errors.New("store needs an output directory")
	}
	if err := os.MkdirAll(filepath.Join(dir, payloadsFolder), 0o755); err != nil {
		return nil, errors.Wrapf(err, "creating run directory %s", dir)
	}
	return &FS{dir: dir}, nil
}

func (s *FS) Dir() string {
	return s.dir
}

func (s *FS) SaveConversation(rec *conversation.Record, exchanges []engine.RawExchange) error {
	s.mu.Lock()
	s.records = append(s.records, rec)
	s.mu.Unlock()

	name := fmt.Sprintf("%s_%d.json", rec.DocumentID, rec.Trial)
	path := filepath.Join(s.dir, payloadsFolder, name)
	if err := writeJSON(path, exchanges); err != nil {
		return errors.Wrapf(err, "saving payloads for %s", rec.DocumentID)
	}

	log.Debug().
		Str("document", rec.DocumentID).
		Int("trial", rec.Trial).
		Str("status", string(rec.Status)).
		Msg("conversation saved")
	return nil
}

func (s *FS) SaveReport(report any) error {
	s.mu.Lock()
	records := append([]*conversation.Record(nil), s.records...)
	s.mu.Unlock()

	transcripts := map[string][][]any{}
	contexts := map[string][]map[string]any{}
	for _, rec := range records {
		msgs := make([]any, len(rec.Messages))
		for i, m := range rec.Messages {
			msgs[i] = m
		}
		transcripts[rec.DocumentID] = append(transcripts[rec.DocumentID], msgs)
		contexts[rec.DocumentID] = append(contexts[rec.DocumentID], rec.Context)
	}

	if err := writeJSON(filepath.Join(s.dir, conversationsFilename), transcripts); err != nil {
		return errors.Wrap(err, "saving conversations")
	}
	if err := writeJSON(filepath.Join(s.dir, contextsFilename), contexts); err != nil {
		return errors.Wrap(err, "saving contexts")
	}
	if err := writeJSON(filepath.Join(s.dir, reportFilename), report); err != nil {
		return errors.Wrap(err, "saving report")
	}

	log.Info().Str("dir", s.dir).Int("conversations", len(records)).Msg("run results saved")
	return nil
}

func writeJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return errors.Wrapf(err, "encoding %s", filepath.Base(path))
	}
	return errors.Wrapf(os.WriteFile(path, data, 0o644), "writing %s", path)
}

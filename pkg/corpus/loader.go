package corpus

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/mb0/glob"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

const (
	textSuffix      = ".txt"
	suppSuffix      = ".supp.txt"
	referenceSuffix = ".reference.json"
)

// LoadOptions narrows a directory down to a document subset. Patterns are
// globs matched against document IDs; an empty Include list selects
// everything, Exclude wins over Include.
type LoadOptions struct {
	Include []string
	Exclude []string
}

// LoadDir reads every document under dir. A document is a `<id>.txt` file
// with an optional `<id>.supp.txt` and an optional `<id>.reference.json`
// next to it. The result is sorted by ID so experiment runs are
// deterministic.
func LoadDir(dir string, opts LoadOptions) ([]*Document, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, errors.Wrapf(err, "reading corpus directory %s", dir)
	}

	docs := []*Document{}
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		if !strings.HasSuffix(name, textSuffix) || strings.HasSuffix(name, suppSuffix) {
			continue
		}
		id := strings.TrimSuffix(name, textSuffix)

		selected, err := selectID(id, opts)
		if err != nil {
			return nil, err
		}
		if !selected {
			log.Debug().Str("document", id).Msg("document excluded by corpus patterns")
			continue
		}

		doc, err := loadDocument(dir, id)
		if err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}

	sort.Slice(docs, func(i, j int) bool {
		return docs[i].ID < docs[j].ID
	})

	log.Info().Int("documents", len(docs)).Str("dir", dir).Msg("corpus loaded")
	return docs, nil
}

func loadDocument(dir, id string) (*Document, error) {
	text, err := os.ReadFile(filepath.Join(dir, id+textSuffix))
	if err != nil {
		return nil, errors.Wrapf(err, "reading document %s", id)
	}
	doc := &Document{
		ID:   id,
		Text: string(text),
	}

	supp, err := os.ReadFile(filepath.Join(dir, id+suppSuffix))
	switch {
	case err == nil:
		doc.Supplementary = string(supp)
	case !os.IsNotExist(err):
		return nil, errors.Wrapf(err, "reading supplementary material for %s", id)
	}

	refData, err := os.ReadFile(filepath.Join(dir, id+referenceSuffix))
	switch {
	case err == nil:
		rc := &ReferenceCollection{}
		if err := json.Unmarshal(refData, rc); err != nil {
			return nil, errors.Wrapf(err, "parsing reference collection for %s", id)
		}
		doc.Reference = rc
	case !os.IsNotExist(err):
		return nil, errors.Wrapf(err, "reading reference collection for %s", id)
	}

	return doc, nil
}

func selectID(id string, opts LoadOptions) (bool, error) {
	if len(opts.Include) > 0 {
		included, err := matchAny(opts.Include, id)
		if err != nil {
			return false, err
		}
		if !included {
			return false, nil
		}
	}
	if len(opts.Exclude) > 0 {
		excluded, err := matchAny(opts.Exclude, id)
		if err != nil {
			return false, err
		}
		if excluded {
			return false, nil
		}
	}
	return true, nil
}

func matchAny(patterns []string, id string) (bool, error) {
	for _, p := range patterns {
		matching, err := glob.Match(p, id)
		if err != nil {
			return false, errors.Wrapf(err, "invalid corpus pattern %q", p)
		}
		if matching {
			return true, nil
		}
	}
	return false, nil
}

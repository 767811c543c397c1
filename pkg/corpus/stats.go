package corpus

import (
	"github.com/pkg/errors"
	"github.com/tiktoken-go/tokenizer"
)

// DocumentTokens is the token footprint of a single document.
type DocumentTokens struct {
	ID                  string
	TextTokens          int
	SupplementaryTokens int
}

func (dt DocumentTokens) Total() int {
	return dt.TextTokens + dt.SupplementaryTokens
}

// TokenStats summarizes how much prompt budget a corpus will consume,
// counted with the cl100k_base encoding.
type TokenStats struct {
	Documents []DocumentTokens
	Total     int
}

// Largest returns the document with the highest token count, or false for an
// empty corpus.
func (ts *TokenStats) Largest() (DocumentTokens, bool) {
	if len(ts.Documents) == 0 {
		return DocumentTokens{}, false
	}
	largest := ts.Documents[0]
	for _, dt := range ts.Documents[1:] {
		if dt.Total() > largest.Total() {
			largest = dt
		}
	}
	return largest, true
}

// ComputeTokenStats tokenizes every document once and aggregates the counts.
func ComputeTokenStats(docs []*Document) (*TokenStats, error) {
	codec, err := tokenizer.Get(tokenizer.Cl100kBase)
	if err != nil {
		return nil, errors.Wrap(err, "creating cl100k tokenizer")
	}

	stats := &TokenStats{}
	for _, doc := range docs {
		ids, _, err := codec.Encode(doc.Text)
		if err != nil {
			return nil, errors.Wrapf(err, "tokenizing document %s", doc.ID)
		}
		dt := DocumentTokens{
			ID:         doc.ID,
			TextTokens: len(ids),
		}
		if doc.HasSupplementary() {
			suppIDs, _, err := codec.Encode(doc.Supplementary)
			if err != nil {
				return nil, errors.Wrapf(err, "tokenizing supplementary material of %s", doc.ID)
			}
			dt.SupplementaryTokens = len(suppIDs)
		}
		stats.Documents = append(stats.Documents, dt)
		stats.Total += dt.Total()
	}
	return stats, nil
}

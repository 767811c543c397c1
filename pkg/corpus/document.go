package corpus

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// Document is one immutable input unit of an experiment: the primary text,
// optional supplementary material, and an optional reference collection of
// known-good entities per category. Documents are read-only once loaded.
type Document struct {
	ID            string
	Text          string
	Supplementary string
	Reference     *ReferenceCollection
}

func (d *Document) HasSupplementary() bool {
	return d.Supplementary != ""
}

func (d *Document) HasReference() bool {
	return d.Reference != nil && d.Reference.Len() > 0
}

// ReferenceCollection maps category names to the canonical entities a
// document is known to contain. Entities form a set: duplicates are folded
// and ordering is normalized so formatting is deterministic.
type ReferenceCollection struct {
	categories map[string][]string
}

func NewReferenceCollection(categories map[string][]string) *ReferenceCollection {
	rc := &ReferenceCollection{categories: map[string][]string{}}
	for name, entities := range categories {
		rc.categories[name] = normalizeEntities(entities)
	}
	return rc
}

func normalizeEntities(entities []string) []string {
	seen := map[string]struct{}{}
	out := []string{}
	for _, e := range entities {
		e = strings.TrimSpace(e)
		if e == "" {
			continue
		}
		if _, ok := seen[e]; ok {
			continue
		}
		seen[e] = struct{}{}
		out = append(out, e)
	}
	sort.Strings(out)
	return out
}

// Categories returns the category names in sorted order.
func (rc *ReferenceCollection) Categories() []string {
	names := make([]string, 0, len(rc.categories))
	for name := range rc.categories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Entities returns the sorted entity set for one category.
func (rc *ReferenceCollection) Entities(category string) []string {
	return append([]string(nil), rc.categories[category]...)
}

// Len is the number of categories.
func (rc *ReferenceCollection) Len() int {
	return len(rc.categories)
}

// Format renders the collection as a markdown listing suitable for seeding a
// conversation context. Output is deterministic for a given collection.
func (rc *ReferenceCollection) Format() string {
	var sb strings.Builder
	for i, name := range rc.Categories() {
		if i > 0 {
			sb.WriteString("\n")
		}
		fmt.Fprintf(&sb, "## %s\n", name)
		for _, e := range rc.categories[name] {
			fmt.Fprintf(&sb, "- %s\n", e)
		}
	}
	return sb.String()
}

func (rc *ReferenceCollection) MarshalJSON() ([]byte, error) {
	return json.Marshal(rc.categories)
}

func (rc *ReferenceCollection) UnmarshalJSON(data []byte) error {
	var categories map[string][]string
	if err := json.Unmarshal(data, &categories); err != nil {
		return err
	}
	rc.categories = map[string][]string{}
	for name, entities := range categories {
		rc.categories[name] = normalizeEntities(entities)
	}
	return nil
}

package pubtator

import "strings"

const (
	nameDelimiter = "@@@"
	markerOpen    = "<m>"
	markerClose   = "</m>"
)

// ExtractedEntity is one annotation group recovered from a highlighted
// publication snippet: the normalized entity name plus the PubTator IDs that
// precede it.
type ExtractedEntity struct {
	NormalizedName string   `json:"normalized_name"`
	PubtatorIDs    []string `json:"pubtator_ids"`
}

func removeMarker(s string) string {
	s = strings.ReplaceAll(s, markerOpen, "")
	return strings.ReplaceAll(s, markerClose, "")
}

// extractIDText pulls the ID out of text starting at an "@". A trailing space
// is required so a snippet truncated mid-ID does not yield half an ID.
func extractIDText(text string) (string, bool) {
	id, _, found := strings.Cut(strings.TrimPrefix(text, "@"), " ")
	if !found {
		return "", false
	}
	return "@" + id, true
}

// extractIDs walks backwards through the text preceding a normalized name and
// collects the run of IDs attached to it, last one first. The walk stops at
// the first token that is not a PubTator ID, which bounds the group.
func extractIDs(text string) []string {
	var ids []string
	for {
		idx := strings.LastIndex(text, "@")
		if idx == -1 {
			break
		}
		id, ok := extractIDText(text[idx:])
		if !ok || !idHasValidPrefix(removeMarker(id)) {
			break
		}
		ids = append(ids, id)
		text = text[:idx]
	}
	return ids
}

// createEntityIfMarked keeps a group only when the query highlight touches
// the name or one of its IDs, then strips the highlight markers.
func createEntityIfMarked(name string, ids []string) (ExtractedEntity, bool) {
	marked := strings.Contains(name, markerOpen)
	if !marked {
		for _, id := range ids {
			if strings.Contains(id, markerOpen) {
				marked = true
				break
			}
		}
	}
	if !marked {
		return ExtractedEntity{}, false
	}

	cleaned := make([]string, 0, len(ids))
	for _, id := range ids {
		cleaned = append(cleaned, removeMarker(id))
	}
	return ExtractedEntity{
		NormalizedName: removeMarker(name),
		PubtatorIDs:    cleaned,
	}, true
}

// extractEntities parses a text_hl snippet. Annotation groups look like
//
//	@CELLLINE_CVCL:0030 @@@<m>HeLa</m>@@@
//
// with one or more IDs directly in front of the delimited normalized name
// and <m>...</m> markers around whatever matched the query.
func extractEntities(textHL string) []ExtractedEntity {
	var entities []ExtractedEntity
	rest := textHL
	for {
		start := strings.Index(rest, nameDelimiter)
		if start == -1 {
			break
		}
		end := strings.Index(rest[start+len(nameDelimiter):], nameDelimiter)
		if end == -1 {
			break
		}
		end += start + len(nameDelimiter)

		name := rest[start+len(nameDelimiter) : end]
		ids := extractIDs(rest[:start])
		if entity, ok := createEntityIfMarked(name, ids); ok {
			entities = append(entities, entity)
		}
		rest = rest[end+len(nameDelimiter):]
	}
	return entities
}

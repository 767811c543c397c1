package pubtator

import "strings"

// EntityType enumerates the prefixes used in PubTator IDs. The same values
// are accepted by the autocomplete concept filter, except that species and
// cell lines are not served there.
type EntityType string

const (
	EntityGene     EntityType = "GENE"
	EntityDisease  EntityType = "DISEASE"
	EntityChemical EntityType = "CHEMICAL"
	EntityVariant  EntityType = "VARIANT"
	EntitySpecies  EntityType = "SPECIES"
	EntityCellLine EntityType = "CELLLINE"
)

// The tool name and description are shared by both strategies, so an
// experiment can swap the strategy without changing what the model sees and
// results stay comparable.
const (
	ToolName = "pubtator_id_search"

	ToolDescription = "Given an entity, return its associated entity IDs. Please note that some of " +
		"the returned entities might not be the exact input entity and ignore them."
)

// ValidEntityType reports whether s names an entity type, ignoring case.
func ValidEntityType(s string) bool {
	switch EntityType(strings.ToUpper(s)) {
	case EntityGene, EntityDisease, EntityChemical, EntityVariant, EntitySpecies, EntityCellLine:
		return true
	}
	return false
}

// idHasValidPrefix reports whether id starts with an entity-type prefix, with
// or without the leading "@".
func idHasValidPrefix(id string) bool {
	prefix, _, _ := strings.Cut(id, "_")
	prefix = strings.TrimPrefix(prefix, "@")
	return ValidEntityType(prefix)
}

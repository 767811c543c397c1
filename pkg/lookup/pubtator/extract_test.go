package pubtator

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractEntitiesSingleGroup(t *testing.T) {
	textHL := "Cultured @CELLLINE_CVCL:0030 @@@<m>HeLa</m>@@@ cells were infected."

	entities := extractEntities(textHL)
	require.Len(t, entities, 1)
	assert.Equal(t, "HeLa", entities[0].NormalizedName)
	assert.Equal(t, []string{"@CELLLINE_CVCL:0030"}, entities[0].PubtatorIDs)
}

func TestExtractEntitiesMultipleIDsLastFirst(t *testing.T) {
	textHL := "binds @GENE_59272 @SPECIES_9606 @@@<m>ACE2</m>@@@ receptors"

	entities := extractEntities(textHL)
	require.Len(t, entities, 1)
	assert.Equal(t, []string{"@SPECIES_9606", "@GENE_59272"}, entities[0].PubtatorIDs)
}

func TestExtractEntitiesStopsAtInvalidID(t *testing.T) {
	textHL := "mail x@example.com about @GENE_7157 @@@<m>TP53</m>@@@"

	entities := extractEntities(textHL)
	require.Len(t, entities, 1)
	assert.Equal(t, []string{"@GENE_7157"}, entities[0].PubtatorIDs)
}

func TestExtractEntitiesSkipsUnmarkedGroups(t *testing.T) {
	textHL := "@GENE_2064 @@@ERBB2@@@ signaling and @GENE_1956 @@@<m>EGFR</m>@@@"

	entities := extractEntities(textHL)
	require.Len(t, entities, 1)
	assert.Equal(t, "EGFR", entities[0].NormalizedName)
}

func TestExtractEntitiesMarkerInsideID(t *testing.T) {
	textHL := "@CHEMICAL_MESH:<m>D000068877</m> @@@imatinib mesylate@@@ therapy"

	entities := extractEntities(textHL)
	require.Len(t, entities, 1)
	assert.Equal(t, "imatinib mesylate", entities[0].NormalizedName)
	assert.Equal(t, []string{"@CHEMICAL_MESH:D000068877"}, entities[0].PubtatorIDs)
}

func TestExtractEntitiesRequiresTrailingSpaceAfterID(t *testing.T) {
	textHL := "@GENE_7157@@@<m>TP53</m>@@@"

	entities := extractEntities(textHL)
	require.Len(t, entities, 1)
	assert.Equal(t, "TP53", entities[0].NormalizedName)
	assert.Empty(t, entities[0].PubtatorIDs)
}

func TestExtractEntitiesMultipleGroups(t *testing.T) {
	textHL := "@SPECIES_2697049 @@@<m>SARS-CoV-2</m>@@@ spike binds @GENE_59272 @@@<m>ACE2</m>@@@."

	entities := extractEntities(textHL)
	require.Len(t, entities, 2)
	assert.Equal(t, "SARS-CoV-2", entities[0].NormalizedName)
	assert.Equal(t, []string{"@SPECIES_2697049"}, entities[0].PubtatorIDs)
	assert.Equal(t, "ACE2", entities[1].NormalizedName)
	assert.Equal(t, []string{"@GENE_59272"}, entities[1].PubtatorIDs)
}

func TestExtractEntitiesIgnoresUnterminatedName(t *testing.T) {
	assert.Empty(t, extractEntities("@GENE_1 @@@<m>truncated"))
	assert.Empty(t, extractEntities("no annotations at all"))
}

func TestIDHasValidPrefix(t *testing.T) {
	cases := map[string]bool{
		"@GENE_59272":           true,
		"@CELLLINE_CVCL:0030":   true,
		"@DISEASE_MESH:D009369": true,
		"GENE_59272":            true,
		"@gene_59272":           true,
		"@PROTEIN_1":            false,
		"@example.com":          false,
		"":                      false,
	}
	for id, want := range cases {
		assert.Equalf(t, want, idHasValidPrefix(id), "id %q", id)
	}
}

func TestFormatExtractedEntitiesDedupes(t *testing.T) {
	entities := []ExtractedEntity{
		{NormalizedName: "HeLa", PubtatorIDs: []string{"@CELLLINE_CVCL:0030"}},
		{NormalizedName: "TP53", PubtatorIDs: []string{"@GENE_7157"}},
		{NormalizedName: "HeLa", PubtatorIDs: []string{"@CELLLINE_CVCL:0030"}},
	}

	out := formatExtractedEntities("HeLa", entities)
	assert.Equal(t,
		"Pubtator entity search results for query 'HeLa':\n"+
			"- HeLa: @CELLLINE_CVCL:0030\n"+
			"- TP53: @GENE_7157",
		out)
}

func TestFormatExtractedEntitiesEmptyKeepsQueryHeader(t *testing.T) {
	assert.Equal(t,
		"Pubtator entity search results for query 'unknown':\nNo IDs found.",
		formatExtractedEntities("unknown", nil))
}

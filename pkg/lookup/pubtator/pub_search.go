package pubtator

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/go-go-golems/grillo/pkg/inference/engine"
	"github.com/go-go-golems/grillo/pkg/lookup"
	"github.com/invopop/jsonschema"
	"github.com/pkg/errors"
)

// PubSearchArguments is the argument payload for the publication-search
// variant of the tool.
type PubSearchArguments struct {
	Text string `json:"text" jsonschema:"description=The free text query representing the bioconcept entity name to search for"`
}

// FindEntityByPubSearchStrategy resolves entity names by searching PubTator
// publications and harvesting entity annotations from the highlighted
// snippets. Unlike autocomplete this also covers species and cell lines.
type FindEntityByPubSearchStrategy struct {
	client *Client
	tool   engine.ToolDef
}

var _ lookup.Strategy = (*FindEntityByPubSearchStrategy)(nil)

func NewFindEntityByPubSearchStrategy(client *Client) (*FindEntityByPubSearchStrategy, error) {
	if client == nil {
		return nil, errors.New("pub_search: client is required")
	}

	reflector := jsonschema.Reflector{DoNotReference: true}
	schema := reflector.Reflect(&PubSearchArguments{})

	return &FindEntityByPubSearchStrategy{
		client: client,
		tool: engine.ToolDef{
			Name:        ToolName,
			Description: ToolDescription,
			Parameters:  schema,
		},
	}, nil
}

func (s *FindEntityByPubSearchStrategy) Tool() engine.ToolDef {
	return s.tool
}

// Lookup searches publications for the query text and extracts every marked
// annotation group from the highlighted snippets.
func (s *FindEntityByPubSearchStrategy) Lookup(ctx context.Context, arguments json.RawMessage) (*lookup.Result, error) {
	var args PubSearchArguments
	if err := json.Unmarshal(arguments, &args); err != nil {
		return nil, lookup.NewError(StrategyPubSearch, lookup.ErrBadArguments,
			errors.Wrap(err, "parsing arguments"))
	}
	if strings.TrimSpace(args.Text) == "" {
		return nil, lookup.NewError(StrategyPubSearch, lookup.ErrBadArguments,
			errors.New("text must not be empty"))
	}

	publications, err := s.client.SearchPublications(ctx, args.Text)
	if err != nil {
		return nil, err
	}

	var entities []ExtractedEntity
	for _, pub := range publications {
		if pub.TextHL == nil {
			continue
		}
		entities = append(entities, extractEntities(*pub.TextHL)...)
	}

	return &lookup.Result{
		Formatted: formatExtractedEntities(args.Text, entities),
		Arguments: args,
		Results:   entities,
	}, nil
}

// formatExtractedEntities renders one "- name: ids" line per entity. Repeated
// lines are dropped keeping first appearance, so the output is stable for a
// given search response.
func formatExtractedEntities(query string, entities []ExtractedEntity) string {
	seen := make(map[string]struct{}, len(entities))
	lines := make([]string, 0, len(entities))
	for _, entity := range entities {
		line := fmt.Sprintf("- %s: %s", entity.NormalizedName, strings.Join(entity.PubtatorIDs, " "))
		if _, ok := seen[line]; ok {
			continue
		}
		seen[line] = struct{}{}
		lines = append(lines, line)
	}
	body := "No IDs found."
	if len(lines) > 0 {
		body = strings.Join(lines, "\n")
	}
	return fmt.Sprintf("Pubtator entity search results for query '%s':\n%s", query, body)
}

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

const defaultSuggestionLimit = 10

// FindEntityIDArguments is the argument payload the model fills in when it
// calls the autocomplete-backed tool.
type FindEntityIDArguments struct {
	Query   string `json:"query" jsonschema:"description=The free text query representing the bioconcept entity name to search for"`
	Concept string `json:"concept,omitempty" jsonschema:"enum=GENE,enum=DISEASE,enum=CHEMICAL,enum=VARIANT,enum=SPECIES,enum=CELLLINE"`
	Limit   int    `json:"limit,omitempty" jsonschema:"description=Maximum number of suggestions to return"`
}

// FindEntityIDConfig configures a FindEntityIDStrategy.
//
// Concept pins the autocomplete concept filter. When set, it overrides
// whatever concept the model passes, which keeps an experiment focused on a
// single entity type. Limit is the suggestion count used when the model does
// not ask for one; zero means the default of 10.
type FindEntityIDConfig struct {
	Concept string `yaml:"concept,omitempty" json:"concept,omitempty"`
	Limit   int    `yaml:"limit,omitempty" json:"limit,omitempty"`
}

// FindEntityIDStrategy resolves entity names through the PubTator
// autocomplete endpoint.
type FindEntityIDStrategy struct {
	client  *Client
	tool    engine.ToolDef
	concept string
	limit   int
}

var _ lookup.Strategy = (*FindEntityIDStrategy)(nil)

// NewFindEntityIDStrategy validates cfg and builds the strategy. Pinning
// SPECIES or CELLLINE is rejected because the autocomplete endpoint does not
// serve those concepts.
func NewFindEntityIDStrategy(client *Client, cfg FindEntityIDConfig) (*FindEntityIDStrategy, error) {
	if client == nil {
		return nil, errors.New("find_entity_id: client is required")
	}

	concept := strings.ToUpper(strings.TrimSpace(cfg.Concept))
	if concept != "" {
		if !ValidEntityType(concept) {
			return nil, errors.Errorf("find_entity_id: unknown concept %q", cfg.Concept)
		}
		if concept == string(EntitySpecies) || concept == string(EntityCellLine) {
			return nil, errors.Errorf(
				"find_entity_id: the autocomplete endpoint does not serve concept %s, use the pub_search strategy for it",
				concept)
		}
	}

	limit := cfg.Limit
	if limit <= 0 {
		limit = defaultSuggestionLimit
	}

	reflector := jsonschema.Reflector{DoNotReference: true}
	schema := reflector.Reflect(&FindEntityIDArguments{})

	return &FindEntityIDStrategy{
		client: client,
		tool: engine.ToolDef{
			Name:        ToolName,
			Description: ToolDescription,
			Parameters:  schema,
		},
		concept: concept,
		limit:   limit,
	}, nil
}

func (s *FindEntityIDStrategy) Tool() engine.ToolDef {
	return s.tool
}

// Lookup runs one autocomplete query. Bad arguments from the model come back
// as recoverable lookup errors so the caller can stage them as tool output
// instead of failing the turn.
func (s *FindEntityIDStrategy) Lookup(ctx context.Context, arguments json.RawMessage) (*lookup.Result, error) {
	var args FindEntityIDArguments
	if err := json.Unmarshal(arguments, &args); err != nil {
		return nil, lookup.NewError(StrategyFindEntityID, lookup.ErrBadArguments,
			errors.Wrap(err, "parsing arguments"))
	}
	if strings.TrimSpace(args.Query) == "" {
		return nil, lookup.NewError(StrategyFindEntityID, lookup.ErrBadArguments,
			errors.New("query must not be empty"))
	}

	concept := s.concept
	if concept == "" && args.Concept != "" {
		concept = strings.ToUpper(strings.TrimSpace(args.Concept))
		if !ValidEntityType(concept) {
			return nil, lookup.NewError(StrategyFindEntityID, lookup.ErrBadArguments,
				errors.Errorf("unknown concept %q", args.Concept))
		}
	}
	args.Concept = concept

	if args.Limit <= 0 {
		args.Limit = s.limit
	}

	results, err := s.client.Autocomplete(ctx, args.Query, concept, args.Limit)
	if err != nil {
		return nil, err
	}

	formatted, err := formatAutocompleteResults(args.Query, results)
	if err != nil {
		return nil, lookup.NewError(StrategyFindEntityID, lookup.ErrDecode, err)
	}

	return &lookup.Result{
		Formatted: formatted,
		Arguments: args,
		Results:   results,
	}, nil
}

type autocompleteEnvelope struct {
	Results []AutocompleteResult `json:"results"`
}

func formatAutocompleteResults(query string, results []AutocompleteResult) (string, error) {
	if results == nil {
		results = []AutocompleteResult{}
	}
	data, err := json.MarshalIndent(autocompleteEnvelope{Results: results}, "", "  ")
	if err != nil {
		return "", errors.Wrap(err, "encoding autocomplete results")
	}
	return fmt.Sprintf("PubTator entity search results for query: '%s'\n```json \n%s\n```", query, data), nil
}

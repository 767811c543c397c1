package handlers

import (
	"context"
	"strings"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/xeipuuv/gojsonschema"
	"gopkg.in/yaml.v3"

	"github.com/go-go-golems/grillo/pkg/conversation"
	"github.com/go-go-golems/grillo/pkg/inference/engine"
)

// FencedJSONConfig configures a FencedJSONHandler.
type FencedJSONConfig struct {
	// Key is the Context key the parsed object is stored under.
	Key string `yaml:"key"`
	// Schema optionally validates the extracted object; inline YAML.
	Schema yaml.Node `yaml:"schema,omitempty"`
	// FailOnParseError fails the turn when no usable block is found;
	// defaults to true. When false, misses are logged and skipped.
	FailOnParseError *bool `yaml:"fail_on_parse_error,omitempty"`
	// ApplyInToolCycle runs the handler on tool-cycle passes too.
	ApplyInToolCycle bool `yaml:"apply_in_tool_cycle,omitempty"`
}

// FencedJSONHandler extracts exactly one fenced ```json block from the
// assistant reply and stores the parsed object in the Context. Unlike
// StructuredOutputHandler it sends no response-format constraint, so it works
// with providers and models that ignore json_schema.
type FencedJSONHandler struct {
	key              conversation.Key
	kind             conversation.KeyKind
	schema           *gojsonschema.Schema
	failOnParseError bool
	applyInToolCycle bool
}

var _ ResponseHandler = (*FencedJSONHandler)(nil)

func NewFencedJSONHandler(cfg FencedJSONConfig) (*FencedJSONHandler, error) {
	if strings.TrimSpace(cfg.Key) == "" {
		return nil, NewConfigError(TypeFencedJSON, errors.New("key must not be empty"))
	}

	var schema *gojsonschema.Schema
	kind := conversation.KindAny
	if cfg.Schema.Kind != 0 {
		schemaJSON, err := schemaNodeToJSON(&cfg.Schema)
		if err != nil {
			return nil, NewConfigError(TypeFencedJSON, err)
		}
		schema, err = gojsonschema.NewSchema(gojsonschema.NewBytesLoader(schemaJSON))
		if err != nil {
			return nil, NewConfigError(TypeFencedJSON, errors.Wrap(err, "compiling schema"))
		}
		kind = kindFromSchema(schemaJSON)
	}

	failOnParseError := true
	if cfg.FailOnParseError != nil {
		failOnParseError = *cfg.FailOnParseError
	}

	return &FencedJSONHandler{
		key:              conversation.Key(cfg.Key),
		kind:             kind,
		schema:           schema,
		failOnParseError: failOnParseError,
		applyInToolCycle: cfg.ApplyInToolCycle,
	}, nil
}

func (h *FencedJSONHandler) Name() string {
	return TypeFencedJSON
}

func (h *FencedJSONHandler) AppliesInToolCycle() bool {
	return h.applyInToolCycle
}

func (h *FencedJSONHandler) WritesContextKey() string {
	return h.key.String()
}

// WritesKeyKind follows the schema's top-level type when one is declared.
func (h *FencedJSONHandler) WritesKeyKind() conversation.KeyKind {
	return h.kind
}

func (h *FencedJSONHandler) OnResponse(ctx context.Context, state *State, resp *engine.Response) error {
	if resp.Message.HasToolCalls() {
		log.Debug().Str("handler", h.Name()).Msg("skipping tool-call reply")
		return nil
	}

	value, err := h.parse(resp.Message.Content)
	if err != nil {
		if h.failOnParseError {
			return NewValidationError(h.Name(), err)
		}
		log.Warn().Err(err).Str("handler", h.Name()).Msg("no usable fenced JSON block, skipping")
		return nil
	}

	state.Context.Set(h.key, value)
	return nil
}

func (h *FencedJSONHandler) parse(content string) (any, error) {
	block, err := extractFencedJSON(content)
	if err != nil {
		return nil, err
	}
	value, err := parseLenientJSON(block)
	if err != nil {
		return nil, err
	}
	if h.schema != nil {
		result, err := h.schema.Validate(gojsonschema.NewGoLoader(value))
		if err != nil {
			return nil, errors.Wrap(err, "validating against schema")
		}
		if !result.Valid() {
			descs := make([]string, 0, len(result.Errors()))
			for _, verr := range result.Errors() {
				descs = append(descs, verr.String())
			}
			return nil, errors.Errorf("schema violations: %s", strings.Join(descs, "; "))
		}
	}
	return value, nil
}

// extractFencedJSON returns the body of the single ```json block in content.
// Zero blocks, an unterminated block or more than one block are errors.
func extractFencedJSON(content string) (string, error) {
	const opening = "```json"
	start := strings.Index(content, opening)
	if start == -1 {
		return "", errors.New("no ```json block found")
	}
	rest := content[start+len(opening):]
	end := strings.Index(rest, "```")
	if end == -1 {
		return "", errors.New("unterminated ```json block")
	}
	if strings.Contains(rest[end+3:], opening) {
		return "", errors.New("more than one ```json block found")
	}
	return strings.TrimSpace(rest[:end]), nil
}

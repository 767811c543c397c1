package handlers

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/kaptinlin/jsonrepair"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/xeipuuv/gojsonschema"
	"gopkg.in/yaml.v3"

	"github.com/go-go-golems/grillo/pkg/conversation"
	"github.com/go-go-golems/grillo/pkg/inference/engine"
)

// StructuredOutputConfig configures a StructuredOutputHandler.
type StructuredOutputConfig struct {
	// Key is the Context key the validated object is stored under.
	Key string `yaml:"key"`
	// Schema is the JSON schema, written inline as YAML.
	Schema yaml.Node `yaml:"schema"`
	// Name labels the schema towards the provider; defaults to "response".
	Name string `yaml:"name,omitempty"`
	// Strict asks the provider for strict schema adherence; defaults to
	// true.
	Strict *bool `yaml:"strict,omitempty"`
	// ApplyInToolCycle runs the handler on tool-cycle passes too; defaults
	// to true, since the final answer usually arrives after the cycles.
	ApplyInToolCycle *bool `yaml:"apply_in_tool_cycle,omitempty"`
}

// StructuredOutputHandler constrains the model to a JSON schema and validates
// the reply against it. The request side attaches a json_schema response
// format; the response side parses the assistant text (strict first, lenient
// repair second), validates, stores the object in the Context and rewrites
// the assistant content as a pretty-printed fenced block. Nothing is ever
// stored unless validation passed in full.
type StructuredOutputHandler struct {
	key              conversation.Key
	kind             conversation.KeyKind
	schemaName       string
	schemaJSON       json.RawMessage
	schema           *gojsonschema.Schema
	strict           bool
	applyInToolCycle bool
}

var (
	_ RequestHandler  = (*StructuredOutputHandler)(nil)
	_ ResponseHandler = (*StructuredOutputHandler)(nil)
)

func NewStructuredOutputHandler(cfg StructuredOutputConfig) (*StructuredOutputHandler, error) {
	if strings.TrimSpace(cfg.Key) == "" {
		return nil, NewConfigError(TypeStructuredOutput, errors.New("key must not be empty"))
	}

	schemaJSON, err := schemaNodeToJSON(&cfg.Schema)
	if err != nil {
		return nil, NewConfigError(TypeStructuredOutput, err)
	}

	schema, err := gojsonschema.NewSchema(gojsonschema.NewBytesLoader(schemaJSON))
	if err != nil {
		return nil, NewConfigError(TypeStructuredOutput, errors.Wrap(err, "compiling schema"))
	}

	name := cfg.Name
	if name == "" {
		name = "response"
	}

	strict := true
	if cfg.Strict != nil {
		strict = *cfg.Strict
	}
	applyInToolCycle := true
	if cfg.ApplyInToolCycle != nil {
		applyInToolCycle = *cfg.ApplyInToolCycle
	}

	return &StructuredOutputHandler{
		key:              conversation.Key(cfg.Key),
		kind:             kindFromSchema(schemaJSON),
		schemaName:       name,
		schemaJSON:       schemaJSON,
		schema:           schema,
		strict:           strict,
		applyInToolCycle: applyInToolCycle,
	}, nil
}

func (h *StructuredOutputHandler) Name() string {
	return TypeStructuredOutput
}

func (h *StructuredOutputHandler) AppliesInToolCycle() bool {
	return h.applyInToolCycle
}

// WritesContextKey names the key this handler writes, for the configuration
// flow check.
func (h *StructuredOutputHandler) WritesContextKey() string {
	return h.key.String()
}

// WritesKeyKind reports the shape of the stored value, taken from the
// schema's top-level type.
func (h *StructuredOutputHandler) WritesKeyKind() conversation.KeyKind {
	return h.kind
}

func (h *StructuredOutputHandler) OnRequest(ctx context.Context, state *State, req *engine.Request) error {
	if req.StructuredOutput != nil {
		return NewConfigError(h.Name(), errors.New("request already carries a structured output constraint"))
	}
	req.StructuredOutput = &engine.StructuredOutput{
		Name:   h.schemaName,
		Strict: h.strict,
		Schema: h.schemaJSON,
	}
	return nil
}

func (h *StructuredOutputHandler) OnResponse(ctx context.Context, state *State, resp *engine.Response) error {
	if resp.Message.HasToolCalls() {
		// the final answer arrives after the tool cycles
		log.Debug().Str("handler", h.Name()).Msg("skipping tool-call reply")
		return nil
	}

	value, err := parseLenientJSON(resp.Message.Content)
	if err != nil {
		return NewValidationError(h.Name(), err)
	}

	if err := h.validate(value); err != nil {
		return NewValidationError(h.Name(), err)
	}

	state.Context.Set(h.key, value)

	if pretty, err := json.MarshalIndent(value, "", "  "); err == nil {
		resp.Message.Content = "```json\n" + string(pretty) + "\n```"
	}
	return nil
}

func (h *StructuredOutputHandler) validate(value any) error {
	result, err := h.schema.Validate(gojsonschema.NewGoLoader(value))
	if err != nil {
		return errors.Wrap(err, "validating against schema")
	}
	if !result.Valid() {
		descs := make([]string, 0, len(result.Errors()))
		for _, verr := range result.Errors() {
			descs = append(descs, verr.String())
		}
		return errors.Errorf("schema violations: %s", strings.Join(descs, "; "))
	}
	return nil
}

// parseLenientJSON parses text as JSON, falling back to jsonrepair for
// near-JSON replies (trailing commas, fenced blocks, single quotes).
func parseLenientJSON(text string) (any, error) {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return nil, errors.New("empty assistant reply")
	}

	var value any
	if err := json.Unmarshal([]byte(trimmed), &value); err == nil {
		return value, nil
	}

	repaired, err := jsonrepair.JSONRepair(trimmed)
	if err != nil {
		return nil, errors.Wrap(err, "reply is not JSON and could not be repaired")
	}
	if err := json.Unmarshal([]byte(repaired), &value); err != nil {
		return nil, errors.Wrap(err, "repaired reply is still not JSON")
	}
	log.Debug().Msg("assistant reply required JSON repair")
	return value, nil
}

// kindFromSchema maps a schema's top-level type onto the context key kind
// the stored value will have.
func kindFromSchema(schemaJSON json.RawMessage) conversation.KeyKind {
	var head struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(schemaJSON, &head); err != nil {
		return conversation.KindAny
	}
	switch head.Type {
	case "object":
		return conversation.KindObject
	case "array":
		return conversation.KindList
	case "string":
		return conversation.KindText
	default:
		return conversation.KindAny
	}
}

// schemaNodeToJSON converts an inline YAML schema into canonical JSON.
func schemaNodeToJSON(node *yaml.Node) (json.RawMessage, error) {
	if node == nil || node.Kind == 0 {
		return nil, errors.New("schema must not be empty")
	}
	var raw any
	if err := node.Decode(&raw); err != nil {
		return nil, errors.Wrap(err, "decoding schema")
	}
	if raw == nil {
		return nil, errors.New("schema must not be empty")
	}
	data, err := json.Marshal(raw)
	if err != nil {
		return nil, errors.Wrap(err, "encoding schema as JSON")
	}
	return data, nil
}

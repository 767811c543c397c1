package engine

import (
	"encoding/json"

	"github.com/invopop/jsonschema"

	"github.com/go-go-golems/grillo/pkg/chat"
)

// ToolChoice defines how the model should choose among advertised tools.
type ToolChoice string

const (
	ToolChoiceAuto     ToolChoice = "auto"     // let the model decide
	ToolChoiceNone     ToolChoice = "none"     // never call tools
	ToolChoiceRequired ToolChoice = "required" // must call at least one tool
)

// ToolDef advertises a single callable tool to the model.
type ToolDef struct {
	Name        string             `json:"name"`
	Description string             `json:"description"`
	Parameters  *jsonschema.Schema `json:"parameters"`
}

// StructuredOutput asks the provider to constrain the reply to a JSON schema.
// Schema is the raw schema document as it should appear on the wire.
type StructuredOutput struct {
	Name   string          `json:"name"`
	Strict bool            `json:"strict"`
	Schema json.RawMessage `json:"schema"`
}

// Plugin is a provider-side extension activated for a single request, e.g.
// OpenRouter's web search plugin.
type Plugin struct {
	ID           string `json:"id"`
	MaxResults   int    `json:"max_results,omitempty"`
	SearchPrompt string `json:"search_prompt,omitempty"`
}

// ProviderPreferences controls upstream routing for gateways that multiplex
// several providers behind one model name.
type ProviderPreferences struct {
	Order             []string `json:"order,omitempty"`
	AllowFallbacks    *bool    `json:"allow_fallbacks,omitempty"`
	RequireParameters bool     `json:"require_parameters,omitempty"`
}

// Request is a single chat-completion call. Messages carries the full
// transcript so far; handlers append to it while a request is being built.
type Request struct {
	Model    string
	Messages []chat.Message

	Temperature *float64
	TopP        *float64
	MaxTokens   *int
	Seed        *int

	StructuredOutput *StructuredOutput
	Tools            []ToolDef
	ToolChoice       ToolChoice
	Plugins          []Plugin
	Provider         *ProviderPreferences
	Transforms       []string
}

// NewRequest returns an empty request for the given model.
func NewRequest(model string) *Request {
	return &Request{Model: model}
}

func (r *Request) AppendMessages(msgs ...chat.Message) {
	r.Messages = append(r.Messages, msgs...)
}

// HasTool reports whether a tool with the given name is advertised.
func (r *Request) HasTool(name string) bool {
	for _, t := range r.Tools {
		if t.Name == name {
			return true
		}
	}
	return false
}

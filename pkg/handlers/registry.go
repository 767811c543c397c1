package handlers

import (
	"sort"
	"sync"

	"github.com/iancoleman/strcase"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"github.com/go-go-golems/grillo/pkg/lookup"
)

// Canonical handler type names.
const (
	TypeComposeMessage   = "compose_message"
	TypeStructuredOutput = "structured_output"
	TypeFencedJSON       = "fenced_json"
	TypeToolLookup       = "tool_lookup"
	TypeWebSearch        = "web_search"
)

// Constructor builds a handler from its raw YAML configuration. Constructors
// validate eagerly: a handler that constructs without error will not fail on
// configuration grounds later.
type Constructor func(cfg *yaml.Node) (Handler, error)

// Registry maps canonical handler type names to constructors. Names are
// normalized to snake_case, so "ComposeMessage" and "compose-message" both
// resolve the same type.
type Registry struct {
	mu           sync.RWMutex
	constructors map[string]Constructor
}

func NewRegistry() *Registry {
	return &Registry{constructors: map[string]Constructor{}}
}

func (r *Registry) Register(name string, c Constructor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.constructors[strcase.ToSnake(name)] = c
}

func (r *Registry) New(name string, cfg *yaml.Node) (Handler, error) {
	r.mu.RLock()
	c, ok := r.constructors[strcase.ToSnake(name)]
	r.mu.RUnlock()
	if !ok {
		return nil, errors.Errorf("unknown handler type %q, registered types: %v", name, r.Names())
	}
	return c(cfg)
}

func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.constructors))
	for name := range r.constructors {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// RegisterBuiltins registers every handler type shipped with the runner.
// tool_lookup resolves its strategies through strategies.
func RegisterBuiltins(reg *Registry, strategies *lookup.Registry) {
	reg.Register(TypeComposeMessage, func(cfg *yaml.Node) (Handler, error) {
		var c ComposeMessageConfig
		if err := decodeConfig(cfg, &c); err != nil {
			return nil, NewConfigError(TypeComposeMessage, err)
		}
		return NewComposeMessageHandler(c)
	})
	reg.Register(TypeStructuredOutput, func(cfg *yaml.Node) (Handler, error) {
		var c StructuredOutputConfig
		if err := decodeConfig(cfg, &c); err != nil {
			return nil, NewConfigError(TypeStructuredOutput, err)
		}
		return NewStructuredOutputHandler(c)
	})
	reg.Register(TypeFencedJSON, func(cfg *yaml.Node) (Handler, error) {
		var c FencedJSONConfig
		if err := decodeConfig(cfg, &c); err != nil {
			return nil, NewConfigError(TypeFencedJSON, err)
		}
		return NewFencedJSONHandler(c)
	})
	reg.Register(TypeToolLookup, func(cfg *yaml.Node) (Handler, error) {
		var c ToolLookupConfig
		if err := decodeConfig(cfg, &c); err != nil {
			return nil, NewConfigError(TypeToolLookup, err)
		}
		return NewToolLookupHandler(strategies, c)
	})
	reg.Register(TypeWebSearch, func(cfg *yaml.Node) (Handler, error) {
		var c WebSearchConfig
		if err := decodeConfig(cfg, &c); err != nil {
			return nil, NewConfigError(TypeWebSearch, err)
		}
		return NewWebSearchHandler(c)
	})
}

func decodeConfig(node *yaml.Node, out any) error {
	if node == nil || node.Kind == 0 {
		return nil
	}
	return errors.Wrap(node.Decode(out), "decoding handler config")
}

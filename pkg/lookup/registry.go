package lookup

import (
	"sort"
	"sync"

	"github.com/iancoleman/strcase"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// Factory builds a strategy from its (possibly nil) YAML configuration node.
type Factory func(cfg *yaml.Node) (Strategy, error)

// Registry maps strategy type names to factories. Names are normalized to
// snake_case so configuration may spell them in any case style.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

func NewRegistry() *Registry {
	return &Registry{factories: map[string]Factory{}}
}

func (r *Registry) Register(name string, f Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[strcase.ToSnake(name)] = f
}

// New constructs the strategy registered under name. Unknown names are a
// configuration error listing what is available.
func (r *Registry) New(name string, cfg *yaml.Node) (Strategy, error) {
	r.mu.RLock()
	f, ok := r.factories[strcase.ToSnake(name)]
	r.mu.RUnlock()
	if !ok {
		return nil, errors.Errorf("unknown lookup strategy %q (available: %v)", name, r.Names())
	}
	return f(cfg)
}

// Names lists the registered strategy types in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

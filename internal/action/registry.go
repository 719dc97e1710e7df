package action

import (
	"fmt"
	"sort"
)

// Factory builds one action bound to the per-request services.
type Factory func(b *Base) Action

// Registry maps action names ("collection.verb") to factories. Concrete
// actions register themselves at init; the set is immutable afterwards.
type Registry struct {
	factories map[string]Factory
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]Factory)}
}

// Register adds a factory. A duplicate name is a programmer error.
func (r *Registry) Register(name string, factory Factory) {
	if _, ok := r.factories[name]; ok {
		panic(fmt.Sprintf("action %q registered twice", name))
	}
	r.factories[name] = factory
}

// Has reports whether the name is registered.
func (r *Registry) Has(name string) bool {
	_, ok := r.factories[name]
	return ok
}

// New builds the named action.
func (r *Registry) New(name string, b *Base) (Action, error) {
	factory, ok := r.factories[name]
	if !ok {
		return nil, errorf("Action %s does not exist.", name)
	}
	return factory(b), nil
}

// Names returns all registered action names sorted.
func (r *Registry) Names() []string {
	out := make([]string, 0, len(r.factories))
	for name := range r.factories {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

var defaultRegistry = NewRegistry()

// Default returns the process-wide registry holding every action the
// package registers at init.
func Default() *Registry {
	return defaultRegistry
}

// Register adds a factory to the default registry.
func Register(name string, factory Factory) {
	defaultRegistry.Register(name, factory)
}

package aspects

import (
	"encoding/gob"
	"fmt"
	"reflect"
	"sort"
	"sync"
)

// Factory builds an aspect instance from the positional and named arguments
// of the attribute (or project entry) that applied it.
type Factory func(args []any, named map[string]any) (any, error)

// Registry maps aspect type names to factories. Aspect values built by a
// registered factory can be serialized into woven modules.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
	names     map[reflect.Type]string
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]Factory), names: make(map[reflect.Type]string)}
}

// Register binds typeName to factory. prototype is a value of the concrete
// Go type the factory returns; it is registered for serialization.
func (r *Registry) Register(typeName string, prototype any, factory Factory) {
	if prototype != nil {
		gob.RegisterName(typeName, prototype)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[typeName] = factory
	if prototype != nil {
		r.names[reflect.TypeOf(prototype)] = typeName
	}
}

// NameOf returns the type name the Go type of aspect was registered under.
func (r *Registry) NameOf(aspect any) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	name, ok := r.names[reflect.TypeOf(aspect)]
	return name, ok
}

// Lookup returns the factory bound to typeName.
func (r *Registry) Lookup(typeName string) (Factory, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	f, ok := r.factories[typeName]
	return f, ok
}

// Create instantiates the aspect registered under typeName.
func (r *Registry) Create(typeName string, args []any, named map[string]any) (any, error) {
	f, ok := r.Lookup(typeName)
	if !ok {
		return nil, fmt.Errorf("aspect type %s is not registered", typeName)
	}
	return f(args, named)
}

// Names returns the registered type names in sorted order.
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

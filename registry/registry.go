// Package registry maps processor kind names to factories so graphs can be
// built from configuration files. Factories receive the instance name, the
// raw JSON config block, and shared runtime dependencies.
package registry

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/nats-io/nats.go"

	"github.com/c360/routekit/errors"
	"github.com/c360/routekit/metric"
	"github.com/c360/routekit/processor"
)

// Deps holds the runtime dependencies shared by every factory-created
// processor. Fields may be nil when a deployment does not use them; a
// factory that requires one fails with a config error.
type Deps struct {
	Logger          *slog.Logger
	MetricsRegistry *metric.MetricsRegistry
	NATSConn        *nats.Conn
}

// GetLogger returns the configured logger or the process default.
func (d Deps) GetLogger() *slog.Logger {
	if d.Logger != nil {
		return d.Logger
	}
	return slog.Default()
}

// Factory creates a processor instance from its raw config block.
type Factory func(name string, rawConfig json.RawMessage, deps Deps) (processor.Processor, error)

// Registry holds registered processor kinds.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{factories: make(map[string]Factory)}
}

// Register adds a factory under a kind name. Registering the same kind
// twice is invalid.
func (r *Registry) Register(kind string, factory Factory) error {
	if kind == "" || factory == nil {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Registry", "Register",
			"kind and factory required")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.factories[kind]; exists {
		return errors.WrapInvalid(
			fmt.Errorf("kind %q already registered", kind),
			"Registry", "Register", "duplicate kind check")
	}
	r.factories[kind] = factory
	return nil
}

// Create instantiates a processor of the given kind.
func (r *Registry) Create(kind, name string, rawConfig json.RawMessage, deps Deps) (processor.Processor, error) {
	r.mu.RLock()
	factory, ok := r.factories[kind]
	r.mu.RUnlock()

	if !ok {
		return nil, errors.WrapInvalid(
			fmt.Errorf("%w: kind %q", errors.ErrUnknownProcessor, kind),
			"Registry", "Create", "kind lookup")
	}
	p, err := factory(name, rawConfig, deps)
	if err != nil {
		return nil, errors.Wrap(err, "Registry", "Create", "instantiate "+kind)
	}
	return p, nil
}

// Kinds returns the registered kind names, sorted.
func (r *Registry) Kinds() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	kinds := make([]string, 0, len(r.factories))
	for k := range r.factories {
		kinds = append(kinds, k)
	}
	sort.Strings(kinds)
	return kinds
}

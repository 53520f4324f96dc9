// ABOUTME: Thread-safe registry mapping tool names to definitions and capabilities.
// ABOUTME: Preserves registration order for listing and rejects duplicate names.

package tools

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
)

// ErrToolExists indicates a tool with the same name is already registered.
var ErrToolExists = errors.New("tool already registered")

// ErrInvalidTool indicates a definition that cannot be registered.
var ErrInvalidTool = errors.New("invalid tool definition")

// defaultInputSchema is used for tools registered without a schema.
var defaultInputSchema = json.RawMessage(`{"type":"object"}`)

// Definition describes a tool as advertised by tools/list.
type Definition struct {
	Name        string
	Description string
	InputSchema json.RawMessage
}

type entry struct {
	def        Definition
	capability Capability
}

// Registry holds the registered tools.
type Registry struct {
	mu     sync.RWMutex
	order  []string
	tools  map[string]*entry
	logger *slog.Logger
}

// NewRegistry creates an empty Registry. Pass nil logger for default.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		tools:  make(map[string]*entry),
		logger: logger.With("component", "tools"),
	}
}

// Register adds a tool. Returns ErrToolExists if the name is taken, in which
// case the existing registration is kept.
func (r *Registry) Register(def Definition, c Capability) error {
	if def.Name == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidTool)
	}
	if c == nil {
		return fmt.Errorf("%w: tool '%s' has no capability", ErrInvalidTool, def.Name)
	}
	if len(def.InputSchema) == 0 {
		def.InputSchema = defaultInputSchema
	} else if !json.Valid(def.InputSchema) {
		return fmt.Errorf("%w: tool '%s' has a malformed input schema", ErrInvalidTool, def.Name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.tools[def.Name]; exists {
		return fmt.Errorf("%w: '%s'", ErrToolExists, def.Name)
	}

	r.tools[def.Name] = &entry{def: def, capability: c}
	r.order = append(r.order, def.Name)

	r.logger.Debug("tool registered", "tool_name", def.Name, "total_tools", len(r.order))
	return nil
}

// Unregister removes a tool. Returns false if it was not registered.
func (r *Registry) Unregister(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.tools[name]; !exists {
		return false
	}
	delete(r.tools, name)
	for i, n := range r.order {
		if n == name {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}

	r.logger.Debug("tool unregistered", "tool_name", name, "total_tools", len(r.order))
	return true
}

// Get returns the capability registered under name.
func (r *Registry) Get(name string) (Capability, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.tools[name]
	if !ok {
		return nil, false
	}
	return e.capability, true
}

// Definition returns the definition registered under name.
func (r *Registry) Definition(name string) (Definition, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.tools[name]
	if !ok {
		return Definition{}, false
	}
	return e.def, true
}

// List returns a snapshot of all definitions in registration order.
func (r *Registry) List() []Definition {
	r.mu.RLock()
	defer r.mu.RUnlock()

	defs := make([]Definition, len(r.order))
	for i, name := range r.order {
		defs[i] = r.tools[name].def
	}
	return defs
}

// Len returns the number of registered tools.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.order)
}

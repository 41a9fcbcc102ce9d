package tool

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
)

var (
	// ErrUnknownTool marks an invocation of a name the registry never saw.
	ErrUnknownTool = errors.New("unknown tool")
	// ErrInvalidArgs marks arguments that failed to decode or validate.
	ErrInvalidArgs = errors.New("invalid tool arguments")
)

// Handler executes one tool call. Handlers hold no cross-call state.
type Handler func(ctx context.Context, rawArgs json.RawMessage) (json.RawMessage, error)

// Definition describes one named capability offered to agent sessions.
type Definition struct {
	Name        string
	Description string
	Sensitive   bool
	Schema      json.RawMessage
	Handler     Handler
}

// Registry holds the capabilities agents may invoke by name.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]Definition
}

func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]Definition)}
}

func (r *Registry) Register(def Definition) error {
	if def.Name == "" {
		return fmt.Errorf("tool definition requires a name")
	}
	if def.Handler == nil {
		return fmt.Errorf("tool %q requires a handler", def.Name)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tools[def.Name]; exists {
		return fmt.Errorf("tool %q already registered", def.Name)
	}
	r.tools[def.Name] = def
	return nil
}

// Lookup returns the definition for name, reporting whether it exists.
func (r *Registry) Lookup(name string) (Definition, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	def, ok := r.tools[name]
	return def, ok
}

// Names returns every registered tool name, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Definitions returns the definitions for the given names, skipping unknowns.
func (r *Registry) Definitions(names []string) []Definition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	defs := make([]Definition, 0, len(names))
	for _, name := range names {
		if def, ok := r.tools[name]; ok {
			defs = append(defs, def)
		}
	}
	return defs
}

// Invoke runs the named tool with rawArgs. Unknown names and malformed
// arguments return recoverable errors the caller can feed back to the
// completion engine.
func (r *Registry) Invoke(ctx context.Context, name string, rawArgs json.RawMessage) (json.RawMessage, error) {
	def, ok := r.Lookup(name)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownTool, name)
	}
	if len(rawArgs) == 0 {
		rawArgs = json.RawMessage(`{}`)
	}
	if !json.Valid(rawArgs) {
		return nil, fmt.Errorf("%w: malformed json for %q", ErrInvalidArgs, name)
	}
	return def.Handler(ctx, rawArgs)
}

// decodeArgs strictly decodes rawArgs into dst, mapping failures to
// ErrInvalidArgs.
func decodeArgs(rawArgs json.RawMessage, dst any) error {
	if err := json.Unmarshal(rawArgs, dst); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidArgs, err)
	}
	return nil
}

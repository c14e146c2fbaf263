package tools

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"gptbridge/pkg/llm"

	"github.com/google/jsonschema-go/jsonschema"
	jsoniter "github.com/json-iterator/go"
)

type entry struct {
	tool     Tool
	resolved *jsonschema.Resolved
}

// Registry acts as a central inventory for all tools available to the Agent.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]*entry
	order   []string
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{entries: make(map[string]*entry)}
}

// Register adds a tool. Names must be unique and every tool needs a handler.
func (r *Registry) Register(t Tool) error {
	if t.Name == "" {
		return fmt.Errorf("tool name is required")
	}
	if t.Handler == nil {
		return fmt.Errorf("tool %q has no handler", t.Name)
	}

	var resolved *jsonschema.Resolved
	if t.Schema != nil {
		var err error
		if resolved, err = t.Schema.Resolve(nil); err != nil {
			return fmt.Errorf("tool %q has an invalid schema: %w", t.Name, err)
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.entries[t.Name]; exists {
		return fmt.Errorf("tool %q already registered", t.Name)
	}
	r.entries[t.Name] = &entry{tool: t, resolved: resolved}
	r.order = append(r.order, t.Name)
	return nil
}

// MustRegister is Register for static wiring; it panics on error.
func (r *Registry) MustRegister(t Tool) {
	if err := r.Register(t); err != nil {
		panic(err)
	}
}

// Get retrieves a tool by name.
func (r *Registry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[name]
	if !ok {
		return Tool{}, false
	}
	return e.tool, true
}

// List returns the registered tools in registration order.
func (r *Registry) List() []Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Tool, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.entries[name].tool)
	}
	return out
}

// Names returns the registered tool names in registration order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]string(nil), r.order...)
}

// Specs advertises the named tools to a model. No names means every tool.
func (r *Registry) Specs(names ...string) ([]llm.ToolSpec, error) {
	if len(names) == 0 {
		names = r.Names()
	}

	specs := make([]llm.ToolSpec, 0, len(names))
	for _, name := range names {
		t, ok := r.Get(name)
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrUnknownTool, name)
		}
		params, err := t.Parameters()
		if err != nil {
			return nil, fmt.Errorf("tool %q: %w", name, err)
		}
		specs = append(specs, llm.ToolSpec{
			Name:        t.Name,
			Description: t.Description,
			Parameters:  params,
		})
	}
	return specs, nil
}

// Validate checks args against the schema of name without running it.
func (r *Registry) Validate(name string, args jsoniter.RawMessage) error {
	r.mu.RLock()
	e, ok := r.entries[name]
	r.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownTool, name)
	}
	return e.validate(args)
}

func (e *entry) validate(args jsoniter.RawMessage) error {
	if len(args) == 0 {
		args = jsoniter.RawMessage("{}")
	}

	var instance map[string]any
	if err := json.Unmarshal(args, &instance); err != nil {
		return fmt.Errorf("%w: %s: arguments must be a JSON object: %v", ErrInvalidArguments, e.tool.Name, err)
	}
	if instance == nil {
		instance = map[string]any{}
	}

	if e.resolved == nil {
		return nil
	}
	if err := e.resolved.Validate(instance); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrInvalidArguments, e.tool.Name, err)
	}
	return nil
}

// Invoke validates args and runs the tool.
func (r *Registry) Invoke(ctx context.Context, name string, args jsoniter.RawMessage) (string, error) {
	r.mu.RLock()
	e, ok := r.entries[name]
	r.mu.RUnlock()
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnknownTool, name)
	}

	if err := e.validate(args); err != nil {
		return "", err
	}
	if len(args) == 0 {
		args = jsoniter.RawMessage("{}")
	}

	slog.DebugContext(ctx, "Invoking tool", "tool", name, "args", string(args))
	return e.tool.Handler(ctx, args)
}

// Package toolregistry is the single dispatch point for model-invoked
// tools: a named handler plus a JSON-schema input descriptor per tool.
package toolregistry

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/nextlevelbuilder/agentgateway/internal/backend"
)

const defaultTruncateChars = 50000

// Handler executes one tool call. It must never panic for ordinary failures;
// return an error instead and the registry converts it to a result string.
type Handler func(ctx context.Context, args map[string]any) (Result, error)

// Property describes one JSON-schema property of a tool's input object.
type Property struct {
	Type        string
	Description string
}

// Schema is the JSON-schema input descriptor for one tool: an object with
// named, typed properties and an optional required list.
type Schema struct {
	Properties map[string]Property
	Required   []string
}

type entry struct {
	name        string
	description string
	schema      Schema
	handler     Handler
}

// Registry is the single dispatch point for named tool handlers.
type Registry struct {
	mu             sync.RWMutex
	tools          map[string]entry
	truncateChars  int
}

func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]entry), truncateChars: defaultTruncateChars}
}

// SetTruncateChars overrides the default 50,000-character output cap.
func (r *Registry) SetTruncateChars(n int) {
	if n <= 0 {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.truncateChars = n
}

// Register adds or replaces a tool's descriptor and handler.
func (r *Registry) Register(name, description string, schema Schema, handler Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[name] = entry{name: name, description: description, schema: schema, handler: handler}
}

// Execute looks up name and invokes its handler synchronously. Handler
// errors and unknown names are converted to an "Error: ..." string rather
// than propagated — per the tool-registry contract, execution failures are
// never exceptions.
func (r *Registry) Execute(ctx context.Context, name string, args map[string]any) string {
	r.mu.RLock()
	e, ok := r.tools[name]
	cap := r.truncateChars
	r.mu.RUnlock()

	if !ok {
		return fmt.Sprintf("Error: Unknown tool '%s'", name)
	}

	result, err := safeInvoke(ctx, e.handler, args)
	if err != nil {
		return fmt.Sprintf("Error: %s failed: %s", name, err.Error())
	}

	return truncate(result.Output, cap)
}

// safeInvoke recovers from handler panics so they never escape the registry,
// matching the contract that tool handlers never propagate exceptions.
func safeInvoke(ctx context.Context, h Handler, args map[string]any) (result Result, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("panic: %v", p)
		}
	}()
	return h(ctx, args)
}

func truncate(s string, max int) string {
	if max <= 0 || len(s) <= max {
		return s
	}
	total := len(s)
	return fmt.Sprintf("%s... [truncated, %d total chars]", s[:max], total)
}

// Describe returns the tool descriptors in a stable (name-sorted) order,
// ready to hand to the backend client as ChatRequest.Tools.
func (r *Registry) Describe() []backend.ToolDefinition {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	sort.Strings(names)

	defs := make([]backend.ToolDefinition, 0, len(names))
	for _, name := range names {
		e := r.tools[name]
		defs = append(defs, backend.ToolDefinition{
			Name:        e.name,
			Description: e.description,
			Parameters:  schemaToJSON(e.schema),
		})
	}
	return defs
}

func schemaToJSON(s Schema) map[string]any {
	props := make(map[string]any, len(s.Properties))
	for name, p := range s.Properties {
		props[name] = map[string]any{
			"type":        p.Type,
			"description": p.Description,
		}
	}
	out := map[string]any{
		"type":       "object",
		"properties": props,
	}
	if len(s.Required) > 0 {
		out["required"] = s.Required
	}
	return out
}

// Package gateway exposes every subsystem (session store, router,
// scheduler, delivery queue, memory store, souls, the agent loop) through
// one named-method dispatcher. The transport that carries requests to
// Dispatch is out of this package's scope; Server in this package wires a
// thin gorilla/websocket JSON-RPC-ish frontend as one possible transport.
package gateway

import (
	"context"
	"fmt"
	"sync"
)

// MethodError is returned for a dispatch failure the caller should surface
// distinctly from an ordinary Go error: either the method name is unknown,
// or the handler itself failed.
type MethodError struct {
	Code    string // "method_not_found" | "internal_error"
	Message string
}

func (e *MethodError) Error() string { return fmt.Sprintf("%s: %s", e.Code, e.Message) }

func methodNotFound(name string) *MethodError {
	return &MethodError{Code: "method_not_found", Message: fmt.Sprintf("unknown method %q", name)}
}

func internalError(name string, err error) *MethodError {
	return &MethodError{Code: "internal_error", Message: fmt.Sprintf("%s: %s", name, err.Error())}
}

// Handler is one gateway method: it receives a loosely-typed parameter map
// and returns a loosely-typed result, or an error.
type Handler func(ctx context.Context, params map[string]any) (any, error)

// Dispatcher is the single entry point every gateway method goes through.
type Dispatcher struct {
	mu       sync.RWMutex
	handlers map[string]Handler
}

func NewDispatcher() *Dispatcher {
	return &Dispatcher{handlers: make(map[string]Handler)}
}

// Register adds (or replaces) the handler for name.
func (d *Dispatcher) Register(name string, h Handler) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.handlers[name] = h
}

// Dispatch looks up name and invokes its handler. An unknown method
// returns a method_not_found MethodError; a handler error is wrapped as
// internal_error rather than propagated raw.
func (d *Dispatcher) Dispatch(ctx context.Context, name string, params map[string]any) (any, error) {
	d.mu.RLock()
	h, ok := d.handlers[name]
	d.mu.RUnlock()
	if !ok {
		return nil, methodNotFound(name)
	}

	result, err := h(ctx, params)
	if err != nil {
		return nil, internalError(name, err)
	}
	return result, nil
}

// Methods returns the registered method names, for introspection/docs.
func (d *Dispatcher) Methods() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	names := make([]string, 0, len(d.handlers))
	for name := range d.handlers {
		names = append(names, name)
	}
	return names
}

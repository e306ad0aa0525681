// Package bus broadcasts server-side events to every subscribed gateway
// connection, independent of the request/response dispatch path.
package bus

import (
	"sync"

	"github.com/nextlevelbuilder/agentgateway/pkg/protocol"
)

// Handler receives one broadcast event. Subscribers must not block for long;
// the bus delivers synchronously to every handler in Broadcast's goroutine.
type Handler func(protocol.EventFrame)

// Bus is a simple pub/sub broadcaster for unsolicited gateway events
// (job executions, delivery outcomes) pushed to every connected client.
type Bus struct {
	mu       sync.RWMutex
	handlers map[string]Handler
}

// New returns an empty Bus.
func New() *Bus {
	return &Bus{handlers: make(map[string]Handler)}
}

// Subscribe registers handler under id, replacing any existing handler
// with the same id.
func (b *Bus) Subscribe(id string, handler Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[id] = handler
}

// Unsubscribe removes the handler registered under id, if any.
func (b *Bus) Unsubscribe(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.handlers, id)
}

// Broadcast delivers event to every subscribed handler.
func (b *Bus) Broadcast(event protocol.EventFrame) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, h := range b.handlers {
		h(event)
	}
}

// Event name constants for the events the gateway actually emits.
const (
	EventJobExecuted      = "job_executed"
	EventMessageDelivered = "message_delivered"
	EventMessageFailed    = "message_failed"
)

// Package backend talks to the OpenAI-compatible chat-completions endpoint
// that drives the agent loop, translating the internal message/content-block
// model to and from the wire format.
package backend

import (
	"context"

	"github.com/nextlevelbuilder/agentgateway/internal/message"
)

// Client is the interface the agent loop drives. A single Client is shared
// across concurrent turns and must be safe for concurrent use.
type Client interface {
	Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error)
	DefaultModel() string
}

// ChatRequest is one turn of input sent to the backend.
type ChatRequest struct {
	Model    string
	System   string
	Messages []message.Message
	Tools    []ToolDefinition
}

// ToolDefinition describes one tool available to the model, in the shape
// the agent loop's tool registry produces (see internal/toolregistry).
type ToolDefinition struct {
	Name        string
	Description string
	Parameters  map[string]any
}

// StopReason mirrors the backend's finish_reason field. "tool_calls" is the
// one value the agent loop's fixed-point algorithm treats specially.
type StopReason string

const (
	StopEndTurn   StopReason = "stop"
	StopLength    StopReason = "length"
	StopToolCalls StopReason = "tool_calls"
)

// ChatResponse is the parsed result of one backend call.
type ChatResponse struct {
	Blocks     []message.Block
	StopReason StopReason
	Usage      Usage
}

// Usage tracks token consumption reported by the backend.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

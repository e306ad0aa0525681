package agent

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nextlevelbuilder/agentgateway/internal/backend"
	"github.com/nextlevelbuilder/agentgateway/internal/memory"
	"github.com/nextlevelbuilder/agentgateway/internal/message"
	"github.com/nextlevelbuilder/agentgateway/internal/sessionstore"
	"github.com/nextlevelbuilder/agentgateway/internal/soul"
	"github.com/nextlevelbuilder/agentgateway/internal/toolregistry"
)

// scriptedBackend replays a fixed sequence of responses, one per call,
// regardless of what messages it is given.
type scriptedBackend struct {
	responses []*backend.ChatResponse
	calls     int
}

func (b *scriptedBackend) Chat(ctx context.Context, req backend.ChatRequest) (*backend.ChatResponse, error) {
	if b.calls >= len(b.responses) {
		return nil, assert.AnError
	}
	resp := b.responses[b.calls]
	b.calls++
	return resp, nil
}

func (b *scriptedBackend) DefaultModel() string { return "test-model" }

func newStores(t *testing.T) (*sessionstore.Store, *memory.Store) {
	t.Helper()
	dir := t.TempDir()
	sessions, err := sessionstore.Open(dir)
	require.NoError(t, err)
	memories, err := memory.Open(dir)
	require.NoError(t, err)
	return sessions, memories
}

func TestRunWithoutToolCallsReturnsTextAndPersistsTurn(t *testing.T) {
	t.Parallel()
	sessions, memories := newStores(t)
	be := &scriptedBackend{responses: []*backend.ChatResponse{
		{Blocks: []message.Block{message.TextBlock("hello there")}, StopReason: backend.StopEndTurn},
	}}
	loop := New(be, toolregistry.NewRegistry(), sessions, memories)

	out, err := loop.Run(context.Background(), "agent:file:direct:u1", "hi", soul.Soul{Name: "Atlas"})
	require.NoError(t, err)
	assert.Equal(t, "hello there", out)
	assert.Equal(t, 1, memories.Count())

	_, history, err := sessions.Load("agent:file:direct:u1")
	require.NoError(t, err)
	assert.Len(t, history, 2)
}

func TestRunExecutesToolCallThenReturnsFinalText(t *testing.T) {
	t.Parallel()
	sessions, memories := newStores(t)

	reg := toolregistry.NewRegistry()
	reg.Register("echo", "echoes input", toolregistry.Schema{
		Properties: map[string]toolregistry.Property{"text": {Type: "string"}},
	}, func(ctx context.Context, args map[string]any) (toolregistry.Result, error) {
		return toolregistry.NewResult(args["text"].(string)), nil
	})

	be := &scriptedBackend{responses: []*backend.ChatResponse{
		{
			Blocks:     []message.Block{message.ToolUseBlock("call1", "echo", map[string]any{"text": "ping"})},
			StopReason: backend.StopToolCalls,
		},
		{
			Blocks:     []message.Block{message.TextBlock("done")},
			StopReason: backend.StopEndTurn,
		},
	}}
	loop := New(be, reg, sessions, memories)

	out, err := loop.Run(context.Background(), "agent:file:direct:u2", "please ping", soul.Soul{Name: "Atlas"})
	require.NoError(t, err)
	assert.Equal(t, "done", out)
	assert.Equal(t, 2, be.calls)
}

func TestRunAbortsWithoutPersistingOnBackendError(t *testing.T) {
	t.Parallel()
	sessions, memories := newStores(t)
	be := &scriptedBackend{responses: nil}
	loop := New(be, toolregistry.NewRegistry(), sessions, memories)

	_, err := loop.Run(context.Background(), "agent:file:direct:u3", "hi", soul.Soul{Name: "Atlas"})
	require.Error(t, err)

	_, history, loadErr := sessions.Load("agent:file:direct:u3")
	require.NoError(t, loadErr)
	assert.Empty(t, history)
}

func TestRunHitsIterationLimitWhenToolCallsNeverStop(t *testing.T) {
	t.Parallel()
	sessions, memories := newStores(t)

	reg := toolregistry.NewRegistry()
	reg.Register("loop", "never terminates", toolregistry.Schema{}, func(ctx context.Context, args map[string]any) (toolregistry.Result, error) {
		return toolregistry.NewResult("again"), nil
	})

	responses := make([]*backend.ChatResponse, 0, maxIterations+1)
	for i := 0; i < maxIterations+1; i++ {
		responses = append(responses, &backend.ChatResponse{
			Blocks:     []message.Block{message.ToolUseBlock("id", "loop", map[string]any{})},
			StopReason: backend.StopToolCalls,
		})
	}
	be := &scriptedBackend{responses: responses}
	loop := New(be, reg, sessions, memories)

	_, err := loop.Run(context.Background(), "agent:file:direct:u4", "go", soul.Soul{Name: "Atlas"})
	assert.ErrorIs(t, err, ErrIterationLimit)
}

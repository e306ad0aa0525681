package gateway

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nextlevelbuilder/agentgateway/internal/channel"
	"github.com/nextlevelbuilder/agentgateway/internal/memory"
	"github.com/nextlevelbuilder/agentgateway/internal/queue"
	"github.com/nextlevelbuilder/agentgateway/internal/router"
	"github.com/nextlevelbuilder/agentgateway/internal/scheduler"
	"github.com/nextlevelbuilder/agentgateway/internal/sessionstore"
	"github.com/nextlevelbuilder/agentgateway/internal/soul"
)

func newTestDeps(t *testing.T) Deps {
	t.Helper()
	dir := t.TempDir()

	sessions, err := sessionstore.Open(dir)
	require.NoError(t, err)
	rt, err := router.Open(dir, "default")
	require.NoError(t, err)
	sch, err := scheduler.Open(dir)
	require.NoError(t, err)
	q, err := queue.Open(dir)
	require.NoError(t, err)
	mem, err := memory.Open(dir)
	require.NoError(t, err)
	fc, err := channel.NewFileChannel(dir)
	require.NoError(t, err)

	return Deps{
		WorkspaceDir: dir,
		Sessions:     sessions,
		Router:       rt,
		Scheduler:    sch,
		Queue:        q,
		Memories:     mem,
		Channels:     map[string]channel.Channel{"file": fc},
	}
}

func TestDispatchUnknownMethodReturnsMethodNotFound(t *testing.T) {
	t.Parallel()
	d := NewDispatcher()
	RegisterAll(d, newTestDeps(t))

	_, err := d.Dispatch(context.Background(), "nonexistent", nil)
	require.Error(t, err)
	me, ok := err.(*MethodError)
	require.True(t, ok)
	assert.Equal(t, "method_not_found", me.Code)
}

func TestQueueMessageThenQueueStats(t *testing.T) {
	t.Parallel()
	d := NewDispatcher()
	deps := newTestDeps(t)
	RegisterAll(d, deps)
	ctx := context.Background()

	_, err := d.Dispatch(ctx, "queue_message", map[string]any{
		"channel": "file", "recipient": "u1", "content": "hi",
	})
	require.NoError(t, err)

	result, err := d.Dispatch(ctx, "queue_stats", nil)
	require.NoError(t, err)
	stats := result.(queue.Stats)
	assert.Equal(t, 1, stats.Pending)
	assert.Equal(t, 1, stats.Total)
}

func TestCreateBindingThenListBindings(t *testing.T) {
	t.Parallel()
	d := NewDispatcher()
	deps := newTestDeps(t)
	RegisterAll(d, deps)
	ctx := context.Background()

	_, err := d.Dispatch(ctx, "create_binding", map[string]any{
		"agent_id": "atlas", "channel": "file", "peer": "*", "priority": 1,
	})
	require.NoError(t, err)

	result, err := d.Dispatch(ctx, "list_bindings", nil)
	require.NoError(t, err)
	bindings := result.([]router.Binding)
	require.Len(t, bindings, 1)
	assert.Equal(t, "atlas", bindings[0].AgentID)
}

func TestSendMessageThroughUnknownChannelFails(t *testing.T) {
	t.Parallel()
	d := NewDispatcher()
	RegisterAll(d, newTestDeps(t))

	_, err := d.Dispatch(context.Background(), "send_message", map[string]any{
		"channel": "discord", "recipient": "u1", "text": "hi",
	})
	require.Error(t, err)
	me, ok := err.(*MethodError)
	require.True(t, ok)
	assert.Equal(t, "internal_error", me.Code)
}

func TestUpdateSoulThenGetSoul(t *testing.T) {
	t.Parallel()
	d := NewDispatcher()
	RegisterAll(d, newTestDeps(t))
	ctx := context.Background()

	_, err := d.Dispatch(ctx, "update_soul", map[string]any{
		"agent_id": "atlas", "text": "---\nname: Atlas\n---\nA helpful assistant.",
	})
	require.NoError(t, err)

	result, err := d.Dispatch(ctx, "get_soul", map[string]any{"agent_id": "atlas"})
	require.NoError(t, err)
	assert.Equal(t, "Atlas", result.(soul.Soul).Name)
}

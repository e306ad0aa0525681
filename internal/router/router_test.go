package router

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolvePrecedence(t *testing.T) {
	t.Parallel()
	r, err := Open(t.TempDir(), "default-agent")
	require.NoError(t, err)

	b1, err := r.CreateBinding("a1", "C", "P", 10)
	require.NoError(t, err)
	b2, err := r.CreateBinding("a2", "C", "*", 5)
	require.NoError(t, err)
	b3, err := r.CreateBinding("a3", "C", "P", 1)
	require.NoError(t, err)

	assert.Equal(t, "a3", r.Resolve("C", "P").AgentID)

	require.NoError(t, r.SetEnabled(b3.ID, false))
	assert.Equal(t, "a1", r.Resolve("C", "P").AgentID)

	require.NoError(t, r.SetEnabled(b1.ID, false))
	assert.Equal(t, "a2", r.Resolve("C", "P").AgentID)

	require.NoError(t, r.SetEnabled(b2.ID, false))
	assert.Equal(t, "default-agent", r.Resolve("C", "P").AgentID)
}

func TestCreateBindingIsIdempotent(t *testing.T) {
	t.Parallel()
	r, err := Open(t.TempDir(), "default-agent")
	require.NoError(t, err)

	first, err := r.CreateBinding("a1", "C", "P", 10)
	require.NoError(t, err)
	second, err := r.CreateBinding("a1", "C", "P", 3)
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
	assert.Len(t, r.List(), 1)
	assert.Equal(t, 3, r.List()[0].Priority)
}

func TestSessionKeyUsesResolvedAgentEvenWithoutBinding(t *testing.T) {
	t.Parallel()
	r, err := Open(t.TempDir(), "default-agent")
	require.NoError(t, err)

	res := r.Resolve("telegram", "12345")
	assert.Equal(t, "default-agent:telegram:12345", res.SessionKey)
}

package sessionstore

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nextlevelbuilder/agentgateway/internal/message"
)

func TestCreateIsIdempotent(t *testing.T) {
	t.Parallel()
	store, err := Open(t.TempDir())
	require.NoError(t, err)

	a, err := store.Create("agent1:file:alice")
	require.NoError(t, err)
	b, err := store.Create("agent1:file:alice")
	require.NoError(t, err)

	assert.Equal(t, a.SessionID, b.SessionID)
	assert.True(t, store.Exists("agent1:file:alice"))
}

func TestSaveTurnThenLoadReplaysHistory(t *testing.T) {
	t.Parallel()
	store, err := Open(t.TempDir())
	require.NoError(t, err)

	key := "agent1:file:alice"
	_, err = store.Create(key)
	require.NoError(t, err)

	blocks := []message.Block{
		message.ToolUseBlock("tu-1", "shell", map[string]any{"command": "ls"}),
	}
	require.NoError(t, store.SaveTurn(key, "list the files", blocks))
	require.NoError(t, store.SaveToolResult(key, "tu-1", "a.txt\nb.txt"))
	require.NoError(t, store.SaveTurn(key, "now summarize", []message.Block{
		message.TextBlock("there are two files"),
	}))

	meta, history, err := store.Load(key)
	require.NoError(t, err)
	assert.Equal(t, 2, meta.MessageCount)

	require.Len(t, history, 4)
	assert.Equal(t, message.RoleUser, history[0].Role)
	assert.Equal(t, "list the files", history[0].Text)

	assert.Equal(t, message.RoleAssistant, history[1].Role)
	toolUse, ok := history[1].LastBlock()
	require.True(t, ok)
	assert.Equal(t, message.BlockToolUse, toolUse.Type)
	assert.Equal(t, "tu-1", toolUse.ToolUseID)

	assert.Equal(t, message.RoleUser, history[2].Role)
	require.Len(t, history[2].Blocks, 1)
	assert.Equal(t, message.BlockToolResult, history[2].Blocks[0].Type)
	assert.Equal(t, "a.txt\nb.txt", history[2].Blocks[0].Output)

	assert.Equal(t, message.RoleUser, history[3].Role)
	assert.Equal(t, "now summarize", history[3].Text)
}

func TestDeleteRemovesTranscriptAndIndexEntry(t *testing.T) {
	t.Parallel()
	store, err := Open(t.TempDir())
	require.NoError(t, err)

	key := "agent1:file:bob"
	_, err = store.Create(key)
	require.NoError(t, err)
	require.NoError(t, store.Delete(key))

	assert.False(t, store.Exists(key))
}

func TestListSortsByKey(t *testing.T) {
	t.Parallel()
	store, err := Open(t.TempDir())
	require.NoError(t, err)

	_, err = store.Create("agent1:file:zed")
	require.NoError(t, err)
	_, err = store.Create("agent1:file:amy")
	require.NoError(t, err)

	list := store.List()
	require.Len(t, list, 2)
	assert.Equal(t, "agent1:file:amy", list[0].Key)
	assert.Equal(t, "agent1:file:zed", list[1].Key)
}

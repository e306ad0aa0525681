package memory

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRetrieveRanksBySubstringScore(t *testing.T) {
	t.Parallel()
	store, err := Open(t.TempDir())
	require.NoError(t, err)

	imp := 0.5
	_, err = store.Add("the user likes golang and rust programming", "s1", nil, &imp)
	require.NoError(t, err)
	_, err = store.Add("the weather today is sunny", "s1", nil, nil)
	require.NoError(t, err)

	results := store.Retrieve("tell me about golang programming", 3)
	require.NotEmpty(t, results)
	assert.Contains(t, results[0].Record.Content, "golang")
}

func TestRetrieveExcludesNonPositiveScores(t *testing.T) {
	t.Parallel()
	store, err := Open(t.TempDir())
	require.NoError(t, err)

	_, err = store.Add("completely unrelated content about cooking", "s1", nil, nil)
	require.NoError(t, err)

	results := store.Retrieve("golang rust programming", 3)
	assert.Empty(t, results)
}

func TestCapacityEvictsOldestRecord(t *testing.T) {
	t.Parallel()
	store, err := Open(t.TempDir())
	require.NoError(t, err)

	for i := 0; i < capacity+1; i++ {
		_, err := store.Add(fmt.Sprintf("memory number %d", i), "s1", nil, nil)
		require.NoError(t, err)
	}

	assert.Equal(t, capacity, store.Count())

	results := store.Retrieve("memory number 0", 5)
	for _, r := range results {
		assert.NotEqual(t, "memory number 0", r.Record.Content)
	}
}

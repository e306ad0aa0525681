package scheduler

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAtJobFiresOnceThenExpires(t *testing.T) {
	t.Parallel()
	s, err := Open(t.TempDir())
	require.NoError(t, err)

	past := time.Now().UTC().Add(-time.Minute)
	j, err := s.CreateAt("agent1", "ping", "say hi", past)
	require.NoError(t, err)

	due := s.GetDue(time.Now().UTC())
	require.Len(t, due, 1)
	assert.Equal(t, j.ID, due[0].ID)

	require.NoError(t, s.MarkExecuted(j.ID, "ok", nil))

	due = s.GetDue(time.Now().UTC())
	assert.Empty(t, due)

	// The executed at-job is expired and pruned by MarkExecuted's rewrite.
	all := s.GetAll()
	require.Len(t, all, 0)
	assert.True(t, j.Expired())
}

func TestEveryJobReschedulesAfterExecution(t *testing.T) {
	t.Parallel()
	s, err := Open(t.TempDir())
	require.NoError(t, err)

	j, err := s.CreateEvery("agent1", "tick", "tick prompt", "1s", nil)
	require.NoError(t, err)

	time.Sleep(1100 * time.Millisecond)
	due := s.GetDue(time.Now().UTC())
	require.Len(t, due, 1)

	require.NoError(t, s.MarkExecuted(j.ID, "done", nil))
	all := s.GetAll()
	require.Len(t, all, 1)
	assert.Equal(t, 1, all[0].RunCount)
	require.NotNil(t, all[0].NextRun)
	assert.True(t, all[0].NextRun.After(time.Now().UTC().Add(-time.Second)))
}

func TestMaxRunsExcludesJobFromDue(t *testing.T) {
	t.Parallel()
	s, err := Open(t.TempDir())
	require.NoError(t, err)

	maxRuns := 1
	j, err := s.CreateEvery("agent1", "tick", "tick prompt", "1s", &maxRuns)
	require.NoError(t, err)

	require.NoError(t, s.MarkExecuted(j.ID, "done", nil))
	all := s.GetAll()
	require.Len(t, all, 1)
	assert.Equal(t, 1, all[0].RunCount)

	due := s.GetDue(time.Now().UTC().Add(time.Hour))
	assert.Empty(t, due)
}

func TestJobFailureIsRecordedButJobStaysSchedulable(t *testing.T) {
	t.Parallel()
	s, err := Open(t.TempDir())
	require.NoError(t, err)

	j, err := s.CreateEvery("agent1", "tick", "tick prompt", "1s", nil)
	require.NoError(t, err)

	require.NoError(t, s.MarkExecuted(j.ID, "", errors.New("backend unreachable")))

	result, ok := s.GetLastResult(j.ID)
	require.True(t, ok)
	assert.Equal(t, "backend unreachable", result.Err)

	all := s.GetAll()
	assert.True(t, all[0].Enabled)
}

func TestInvalidIntervalGrammarIsRejected(t *testing.T) {
	t.Parallel()
	s, err := Open(t.TempDir())
	require.NoError(t, err)

	_, err = s.CreateEvery("agent1", "bad", "prompt", "5x", nil)
	assert.Error(t, err)
}

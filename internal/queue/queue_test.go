package queue

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnqueueAndGetPending(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	q, err := Open(t.TempDir())
	require.NoError(t, err)
	defer q.Close()

	id, err := q.Enqueue(ctx, "file", "alice", "hello", EnqueueOptions{})
	require.NoError(t, err)

	pending, err := q.GetPending(ctx, 10)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, id, pending[0].ID)
	assert.Equal(t, Pending, pending[0].Status)
}

func TestScheduledMessageNotReadyBeforeItsTime(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	q, err := Open(t.TempDir())
	require.NoError(t, err)
	defer q.Close()

	future := time.Now().UTC().Add(time.Minute)
	_, err = q.Enqueue(ctx, "file", "alice", "later", EnqueueOptions{ScheduledAt: &future})
	require.NoError(t, err)

	pending, err := q.GetPending(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestFSMReachesDeadLetterAfterMaxAttempts(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	q, err := Open(t.TempDir())
	require.NoError(t, err)
	defer q.Close()

	id, err := q.Enqueue(ctx, "file", "alice", "hello", EnqueueOptions{})
	require.NoError(t, err)

	for i := 0; i < defaultMaxAttempts; i++ {
		require.NoError(t, q.MarkProcessing(ctx, id))
		require.NoError(t, q.MarkFailed(ctx, id, errors.New("send failed")))
	}

	stats, err := q.GetStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.DeadLetter)

	dead, err := q.GetDeadLetters(ctx, 10)
	require.NoError(t, err)
	require.Len(t, dead, 1)
	assert.Nil(t, dead[0].NextAttemptAt)

	require.NoError(t, q.RetryDeadLetter(ctx, id))
	stats, err = q.GetStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Pending)
	assert.Equal(t, 0, stats.DeadLetter)
}

func TestBackoffScheduleIsMonotonic(t *testing.T) {
	t.Parallel()
	assert.Equal(t, 1*time.Second, backoffFor(1))
	assert.Equal(t, 5*time.Second, backoffFor(2))
	assert.Equal(t, 15*time.Second, backoffFor(3))
	assert.Equal(t, 60*time.Second, backoffFor(4))
	assert.Equal(t, 300*time.Second, backoffFor(5))
	assert.Equal(t, 300*time.Second, backoffFor(6))
}

func TestMarkDeliveredIsTerminal(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	q, err := Open(t.TempDir())
	require.NoError(t, err)
	defer q.Close()

	id, err := q.Enqueue(ctx, "file", "alice", "hi", EnqueueOptions{})
	require.NoError(t, err)
	require.NoError(t, q.MarkProcessing(ctx, id))
	require.NoError(t, q.MarkDelivered(ctx, id))

	stats, err := q.GetStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Delivered)
}

package channel

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestRateLimitedSendThrottlesBursts(t *testing.T) {
	t.Parallel()
	fc, err := NewFileChannel(t.TempDir())
	require.NoError(t, err)

	rl := NewRateLimited(fc, 10, 1) // burst of 1: second call must wait

	ctx := context.Background()
	require.NoError(t, rl.Send(ctx, "u1", "first", ""))

	start := time.Now()
	require.NoError(t, rl.Send(ctx, "u1", "second", ""))
	require.GreaterOrEqual(t, time.Since(start), 50*time.Millisecond)
}

func TestRateLimitedSendRespectsContextCancellation(t *testing.T) {
	t.Parallel()
	fc, err := NewFileChannel(t.TempDir())
	require.NoError(t, err)

	rl := NewRateLimited(fc, 0.001, 1)
	ctx := context.Background()
	require.NoError(t, rl.Send(ctx, "u1", "first", ""))

	cancelCtx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err = rl.Send(cancelCtx, "u1", "second", "")
	require.Error(t, err)
}

func TestLimiterSetReusesWrapperPerChannelID(t *testing.T) {
	t.Parallel()
	fc, err := NewFileChannel(t.TempDir())
	require.NoError(t, err)

	set := NewLimiterSet(5, 5)
	a := set.Wrap(fc)
	b := set.Wrap(fc)
	require.Same(t, a, b)
}

package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestWatchReloadsOnFileWrite(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json5")
	require.NoError(t, os.WriteFile(path, []byte(`{backend: {model: "initial"}}`), 0o644))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	updates, err := Watch(ctx, path)
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(path, []byte(`{backend: {model: "updated"}}`), 0o644))

	select {
	case cfg := <-updates:
		require.Equal(t, "updated", cfg.Backend.Model)
	case <-time.After(5 * time.Second):
		t.Fatal("no reload observed after config write")
	}
}

func TestWatchClosesChannelOnContextCancellation(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json5")
	require.NoError(t, os.WriteFile(path, []byte(`{}`), 0o644))

	ctx, cancel := context.WithCancel(context.Background())
	updates, err := Watch(ctx, path)
	require.NoError(t, err)

	cancel()

	select {
	case _, ok := <-updates:
		require.False(t, ok)
	case <-time.After(5 * time.Second):
		t.Fatal("channel was never closed after cancellation")
	}
}

package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	t.Parallel()
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.json5"))
	require.NoError(t, err)
	assert.Equal(t, "deepseek-chat", cfg.Backend.Model)
	assert.Equal(t, "https://api.deepseek.com/v1", cfg.Backend.APIBase)
	assert.True(t, cfg.Channels.File.Enabled)
}

func TestLoadParsesJSON5WithComments(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json5")
	require.NoError(t, os.WriteFile(path, []byte(`{
		// trailing commas and comments are valid JSON5
		backend: { model: "deepseek-reasoner", },
		default_agent: "atlas",
	}`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "deepseek-reasoner", cfg.Backend.Model)
	assert.Equal(t, "atlas", cfg.DefaultAgent)
}

func TestEnvOverridesTakePrecedenceOverFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json5")
	require.NoError(t, os.WriteFile(path, []byte(`{backend: {model: "from-file"}}`), 0o644))

	t.Setenv("AGENTGATEWAY_BACKEND_MODEL", "from-env")
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "from-env", cfg.Backend.Model)
}

func TestTelegramTokenFromEnvAutoEnablesChannel(t *testing.T) {
	t.Setenv("AGENTGATEWAY_TELEGRAM_TOKEN", "abc123")
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.json5"))
	require.NoError(t, err)
	assert.True(t, cfg.Channels.Telegram.Enabled)
	assert.Equal(t, "abc123", cfg.Channels.Telegram.Token)
}

func TestSaveThenLoadRoundTrips(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")

	cfg := Default()
	cfg.DefaultAgent = "atlas"
	require.NoError(t, Save(path, cfg))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "atlas", loaded.DefaultAgent)
}

// Package config loads the gateway's JSON5 configuration file and overlays
// environment variables on top of it, following the same two-step
// load-then-override shape as the corpus's managed-mode gateway config.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/titanous/json5"
)

// BackendConfig points at the OpenAI-compatible chat-completions endpoint
// that drives every agent's loop.
type BackendConfig struct {
	APIKey  string `json:"api_key,omitempty"`
	APIBase string `json:"api_base,omitempty"`
	Model   string `json:"model,omitempty"`
}

// TelegramConfig configures the optional Telegram channel.
type TelegramConfig struct {
	Enabled bool   `json:"enabled,omitempty"`
	Token   string `json:"token,omitempty"`
}

// DiscordConfig configures the optional Discord channel.
type DiscordConfig struct {
	Enabled bool   `json:"enabled,omitempty"`
	Token   string `json:"token,omitempty"`
}

// FileChannelConfig configures the file-based channel (enabled by default),
// useful for local testing without a real chat platform.
type FileChannelConfig struct {
	Enabled bool `json:"enabled"`
}

// ChannelsConfig groups every channel's configuration.
type ChannelsConfig struct {
	Telegram TelegramConfig    `json:"telegram,omitempty"`
	Discord  DiscordConfig     `json:"discord,omitempty"`
	File     FileChannelConfig `json:"file,omitempty"`
}

// GatewayConfig configures the WebSocket JSON-RPC frontend.
type GatewayConfig struct {
	Host string `json:"host,omitempty"`
	Port int    `json:"port,omitempty"`
}

// ToolsConfig configures the builtin tool registry.
type ToolsConfig struct {
	ShellTimeoutSec int `json:"shell_timeout_sec,omitempty"`
	TruncateChars   int `json:"truncate_chars,omitempty"`
	WebFetchMaxChars int `json:"web_fetch_max_chars,omitempty"`
}

// Config is the gateway's root configuration.
type Config struct {
	Workspace    string         `json:"workspace,omitempty"`
	DefaultAgent string         `json:"default_agent,omitempty"`
	Backend      BackendConfig  `json:"backend,omitempty"`
	Channels     ChannelsConfig `json:"channels,omitempty"`
	Gateway      GatewayConfig  `json:"gateway,omitempty"`
	Tools        ToolsConfig    `json:"tools,omitempty"`
}

// Default returns a Config with the spec's documented defaults.
func Default() *Config {
	cwd, err := os.Getwd()
	if err != nil {
		cwd = "."
	}
	return &Config{
		Workspace:    filepath.Join(cwd, "workspace"),
		DefaultAgent: "default",
		Backend: BackendConfig{
			APIBase: "https://api.deepseek.com/v1",
			Model:   "deepseek-chat",
		},
		Channels: ChannelsConfig{
			File: FileChannelConfig{Enabled: true},
		},
		Gateway: GatewayConfig{
			Host: "0.0.0.0",
			Port: 18790,
		},
		Tools: ToolsConfig{
			ShellTimeoutSec:  30,
			TruncateChars:    50000,
			WebFetchMaxChars: 20000,
		},
	}
}

// Load reads a JSON5 config file, then overlays environment variables. A
// missing file is not an error: defaults plus env overrides are returned.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.applyEnvOverrides()
			return cfg, nil
		}
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	if err := json5.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}

	cfg.applyEnvOverrides()
	return cfg, nil
}

// applyEnvOverrides overlays environment variables onto cfg. Env vars take
// precedence over file values, matching the corpus's config-then-env
// layering.
func (c *Config) applyEnvOverrides() {
	envStr := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}

	envStr("AGENTGATEWAY_BACKEND_API_KEY", &c.Backend.APIKey)
	envStr("AGENTGATEWAY_BACKEND_API_BASE", &c.Backend.APIBase)
	envStr("AGENTGATEWAY_BACKEND_MODEL", &c.Backend.Model)
	envStr("AGENTGATEWAY_WORKSPACE", &c.Workspace)
	envStr("AGENTGATEWAY_DEFAULT_AGENT", &c.DefaultAgent)
	envStr("AGENTGATEWAY_TELEGRAM_TOKEN", &c.Channels.Telegram.Token)
	envStr("AGENTGATEWAY_DISCORD_TOKEN", &c.Channels.Discord.Token)
	envStr("AGENTGATEWAY_GATEWAY_HOST", &c.Gateway.Host)

	if c.Channels.Telegram.Token != "" {
		c.Channels.Telegram.Enabled = true
	}
	if c.Channels.Discord.Token != "" {
		c.Channels.Discord.Enabled = true
	}

	if v := os.Getenv("AGENTGATEWAY_GATEWAY_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil && port > 0 {
			c.Gateway.Port = port
		}
	}
}

// Save writes cfg to path as indented JSON (JSON5 is a read-time
// convenience; written files stay valid plain JSON).
func Save(path string, cfg *Config) error {
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("config: marshal: %w", err)
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("config: create dir: %w", err)
		}
	}
	return os.WriteFile(path, data, 0o644)
}

package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/titanous/json5"
)

// Default returns a Config with sensible defaults, matching spec.md §6's
// documented tunable defaults.
func Default() *Config {
	return &Config{
		Workspace: WorkspaceConfig{Path: "~/.corelay/workspace"},
		Agents:    map[string]AgentSpec{},
		Teams:     map[string]TeamSpec{},
		Database:  DatabaseConfig{Path: "~/.corelay/corelay.db"},
		Retry: RetryConfig{
			MaxRetries:              5,
			StaleClaimThresholdSec:  10 * 60,
			ResponseRetentionSec:    24 * 60 * 60,
			CompletedRetentionSec:   24 * 60 * 60,
			ConversationTTLSec:      30 * 60,
			ConversationMaxMessages: 20,
		},
		HTTP: HTTPConfig{
			Host:            "0.0.0.0",
			Port:            8780,
			MaxMessageChars: 32000,
			RateLimitRPM:    30,
		},
		Telemetry: TelemetryConfig{ServiceName: "corelay"},
	}
}

// Load reads config from a JSON5 file (comments and trailing commas
// allowed, matching goclaw's config.json ergonomics), then overlays
// environment-variable secrets. A missing file is not an error: Default()
// is returned unmodified except for env overrides.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.applyEnvOverrides()
			return cfg, nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}

	if err := json5.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	cfg.applyEnvOverrides()
	return cfg, nil
}

// applyEnvOverrides overlays values from the environment: the HTTP and
// channel tokens, which are never read from config.json (see their
// json:"-" tags), and overrides for the database path, workspace path and
// HTTP port.
func (c *Config) applyEnvOverrides() {
	envStr := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	envStr("CORELAY_API_TOKEN", &c.HTTP.Token)
	envStr("CORELAY_DISCORD_TOKEN", &c.Channels.Discord.Token)
	envStr("CORELAY_TELEGRAM_TOKEN", &c.Channels.Telegram.Token)

	if c.Channels.Discord.Token != "" {
		c.Channels.Discord.Enabled = true
	}
	if c.Channels.Telegram.Token != "" {
		c.Channels.Telegram.Enabled = true
	}

	if v := os.Getenv("CORELAY_DB_PATH"); v != "" {
		c.Database.Path = v
	}
	if v := os.Getenv("CORELAY_WORKSPACE"); v != "" {
		c.Workspace.Path = v
	}
	if v := os.Getenv("CORELAY_HTTP_PORT"); v != "" {
		if p, err := strconv.Atoi(v); err == nil {
			c.HTTP.Port = p
		}
	}
}

// ExpandHome expands a leading "~" to the user's home directory, matching
// goclaw's config.ExpandHome helper.
func ExpandHome(path string) string {
	if len(path) == 0 || path[0] != '~' {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	if len(path) == 1 {
		return home
	}
	if path[1] == '/' {
		return home + path[1:]
	}
	return path
}

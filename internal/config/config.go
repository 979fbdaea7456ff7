// Package config loads and validates the daemon's JSON configuration.
package config

import (
	"fmt"
	"sort"
	"sync"
)

// Config is the root configuration for the corelay daemon.
type Config struct {
	Workspace  WorkspaceConfig       `json:"workspace"`
	Agents     map[string]AgentSpec  `json:"agents"`
	Teams      map[string]TeamSpec   `json:"teams"`
	Monitoring MonitoringConfig      `json:"monitoring"`
	Database   DatabaseConfig        `json:"database"`
	Retry      RetryConfig           `json:"retry"`
	HTTP       HTTPConfig            `json:"http"`
	Telemetry  TelemetryConfig       `json:"telemetry,omitempty"`
	Hooks      HooksConfig           `json:"hooks,omitempty"`
	Channels   ChannelsConfig        `json:"channels,omitempty"`

	mu sync.RWMutex
}

// WorkspaceConfig is the root directory agents and artifacts live under.
type WorkspaceConfig struct {
	Path string `json:"path"`
}

// AgentSpec is one agent's immutable-per-process configuration.
type AgentSpec struct {
	Name             string `json:"name"`
	Provider         string `json:"provider"`
	Model            string `json:"model"`
	WorkingDirectory string `json:"working_directory,omitempty"`
	SystemPrompt     string `json:"system_prompt,omitempty"`
	PromptFile       string `json:"prompt_file,omitempty"`
}

// TeamSpec is one team's configuration: an ordered membership and a leader.
type TeamSpec struct {
	Name    string   `json:"name"`
	Agents  []string `json:"agents"`
	Leader  string   `json:"leader_agent"`
}

// MonitoringConfig configures ambient, non-core monitoring producers.
type MonitoringConfig struct {
	HeartbeatInterval int `json:"heartbeat_interval,omitempty"` // seconds; 0 disables
}

// DatabaseConfig configures the embedded queue store.
type DatabaseConfig struct {
	Path string `json:"path"`
}

// RetryConfig holds the tunables spec.md §6 says SHOULD be configurable.
type RetryConfig struct {
	MaxRetries               int `json:"max_retries,omitempty"`
	StaleClaimThresholdSec    int `json:"stale_claim_threshold_seconds,omitempty"`
	ResponseRetentionSec      int `json:"response_retention_seconds,omitempty"`
	CompletedRetentionSec     int `json:"completed_message_retention_seconds,omitempty"`
	ConversationTTLSec        int `json:"conversation_ttl_seconds,omitempty"`
	ConversationMaxMessages   int `json:"conversation_max_messages,omitempty"`
}

// HTTPConfig configures the inbound HTTP API.
type HTTPConfig struct {
	Host             string `json:"host"`
	Port             int    `json:"port"`
	MaxMessageChars  int    `json:"max_message_chars,omitempty"`
	RateLimitRPM     int    `json:"rate_limit_rpm,omitempty"`
	// Token is never read from config.json; see applyEnvOverrides.
	Token string `json:"-"`
}

// TelemetryConfig configures the OTLP trace exporter.
type TelemetryConfig struct {
	Enabled     bool   `json:"enabled,omitempty"`
	OTLPHTTPURL string `json:"otlp_http_url,omitempty"`
	ServiceName string `json:"service_name,omitempty"`
}

// HooksConfig names the built-in hook ids to apply, in order.
type HooksConfig struct {
	Incoming []string `json:"incoming,omitempty"`
	Outgoing []string `json:"outgoing,omitempty"`
}

// ChannelsConfig configures the reference channel adapters.
type ChannelsConfig struct {
	Discord  DiscordConfig  `json:"discord,omitempty"`
	Telegram TelegramConfig `json:"telegram,omitempty"`
}

// DiscordConfig configures the Discord reference adapter.
type DiscordConfig struct {
	Enabled bool   `json:"enabled,omitempty"`
	Token   string `json:"-"`
}

// TelegramConfig configures the Telegram reference adapter.
type TelegramConfig struct {
	Enabled bool   `json:"enabled,omitempty"`
	Token   string `json:"-"`
}

// ResolveDefaultAgentID returns the id to use when no routing target is
// given: "default" if it exists, else the first configured agent id in
// stable (sorted) order, else "".
func (c *Config) ResolveDefaultAgentID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if _, ok := c.Agents["default"]; ok {
		return "default"
	}
	ids := make([]string, 0, len(c.Agents))
	for id := range c.Agents {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	if len(ids) == 0 {
		return ""
	}
	return ids[0]
}

// Agent returns the named agent spec and whether it exists.
func (c *Config) Agent(id string) (AgentSpec, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	a, ok := c.Agents[id]
	return a, ok
}

// Team returns the named team spec and whether it exists.
func (c *Config) Team(id string) (TeamSpec, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	t, ok := c.Teams[id]
	return t, ok
}

// TeamForAgent returns the first team (by sorted id) of which agentID is a
// member, matching spec.md §4.4 step 4's "first team of which the agent is
// a member" tie-break.
func (c *Config) TeamForAgent(agentID string) (string, TeamSpec, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	ids := make([]string, 0, len(c.Teams))
	for id := range c.Teams {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		t := c.Teams[id]
		for _, m := range t.Agents {
			if m == agentID {
				return id, t, true
			}
		}
	}
	return "", TeamSpec{}, false
}

// Validate checks every invariant spec.md §3 and §7 require at load time,
// collecting all violations instead of stopping at the first.
func (c *Config) Validate() error {
	var errs []string

	if c.Workspace.Path == "" {
		errs = append(errs, "workspace.path is required")
	}
	if len(c.Agents) == 0 {
		errs = append(errs, "at least one agent must be configured")
	}
	for id, a := range c.Agents {
		if a.Provider == "" {
			errs = append(errs, fmt.Sprintf("agent %q: provider is required", id))
		}
		if a.SystemPrompt != "" && a.PromptFile != "" {
			errs = append(errs, fmt.Sprintf("agent %q: system_prompt and prompt_file are mutually exclusive", id))
		}
	}
	for id, t := range c.Teams {
		if len(t.Agents) == 0 {
			errs = append(errs, fmt.Sprintf("team %q: must have at least one member", id))
		}
		seen := make(map[string]bool, len(t.Agents))
		isMember := false
		for _, m := range t.Agents {
			if seen[m] {
				errs = append(errs, fmt.Sprintf("team %q: duplicate member %q", id, m))
			}
			seen[m] = true
			if _, ok := c.Agents[m]; !ok {
				errs = append(errs, fmt.Sprintf("team %q: member %q is not a configured agent", id, m))
			}
			if m == t.Leader {
				isMember = true
			}
		}
		if t.Leader == "" {
			errs = append(errs, fmt.Sprintf("team %q: leader_agent is required", id))
		} else if !isMember {
			errs = append(errs, fmt.Sprintf("team %q: leader %q must be a member", id, t.Leader))
		}
	}

	if len(errs) == 0 {
		return nil
	}
	msg := "invalid configuration:"
	for _, e := range errs {
		msg += "\n  - " + e
	}
	return fmt.Errorf("%s", msg)
}

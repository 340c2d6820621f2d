package config

import (
	"encoding/json"
	"fmt"
	"sync"
)

// FlexibleStringSlice accepts both ["str"] and [123] in JSON.
type FlexibleStringSlice []string

func (f *FlexibleStringSlice) UnmarshalJSON(data []byte) error {
	var ss []string
	if err := json.Unmarshal(data, &ss); err == nil {
		*f = ss
		return nil
	}
	var raw []interface{}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	result := make([]string, 0, len(raw))
	for _, v := range raw {
		switch val := v.(type) {
		case string:
			result = append(result, val)
		case float64:
			result = append(result, fmt.Sprintf("%.0f", val))
		default:
			result = append(result, fmt.Sprintf("%v", val))
		}
	}
	*f = result
	return nil
}

// Config is the root configuration for the machina autonomic runtime
// (spec.md §6 "environment variable driven, with persisted overlay").
type Config struct {
	Workspace   WorkspaceConfig   `json:"workspace"`
	Brain       BrainConfig       `json:"brain"`
	Permissions PermissionsConfig `json:"permissions"`
	Autonomic   AutonomicConfig   `json:"autonomic"`
	Pulse       PulseConfig       `json:"pulse"`
	Tools       ToolsConfig       `json:"tools"`
	ToolHost    ToolHostConfig    `json:"tool_host,omitempty"`
	Regression  RegressionConfig  `json:"regression,omitempty"`
	Budgets     BudgetsConfig     `json:"budgets"`
	Telemetry   TelemetryConfig   `json:"telemetry,omitempty"`
	Gateway     GatewayConfig     `json:"gateway,omitempty"`

	mu sync.RWMutex
}

// WorkspaceConfig points at the persistent state root (spec.md §6
// "Persistent state layout" — directory work/ under a configurable root).
type WorkspaceConfig struct {
	Root             string `json:"root"`                        // default "~/.machina"
	RestrictToRoot   bool   `json:"restrict_to_root"`             // deny FS ops outside Root (default true)
}

// BrainConfig selects the LLM backend used by the direct HTTP LLM client,
// internal/brain.HTTPClient (spec.md §6 "selected LLM backend, model name, base URL, api key").
type BrainConfig struct {
	Provider    string  `json:"provider"`               // "anthropic", "openai", "openrouter", ...
	Model       string  `json:"model"`
	APIBase     string  `json:"api_base,omitempty"`
	APIKey      string  `json:"-"`                      // from env only, never persisted
	Temperature float64 `json:"temperature"`
	MaxTokens   int     `json:"max_tokens"`
	TimeoutSec  int     `json:"timeout_sec,omitempty"` // default 60
}

// PermissionsConfig seeds internal/permissions.Engine (spec.md §4.3).
type PermissionsConfig struct {
	Mode      string            `json:"mode"`                // "open", "locked", "supervised", "standard" (default)
	Defaults  map[string]string `json:"defaults,omitempty"`  // action_id -> "allow"|"ask"|"deny"
	Overrides map[string]string `json:"overrides,omitempty"` // env-sourced overrides, same shape
}

// AutonomicConfig holds the timing profile driving the heartbeat scheduler
// (spec.md §6 "Timing profile (two modes)").
type AutonomicConfig struct {
	Profile      string           `json:"profile,omitempty"` // "normal" (default) or "dev-explore"
	HeartbeatSec int              `json:"heartbeat_sec,omitempty"`
	Reflect      LevelTiming      `json:"reflect,omitempty"`
	Test         LevelTiming      `json:"test,omitempty"`
	Heal         LevelTiming      `json:"heal,omitempty"`
	Hygiene      LevelTiming      `json:"hygiene,omitempty"`
	Curiosity    LevelTiming      `json:"curiosity,omitempty"`
	WebExplore   LevelTiming      `json:"web_explore,omitempty"`
	Burst        BurstTiming      `json:"burst,omitempty"`
	Stasis       StasisConfig     `json:"stasis,omitempty"`
	// MaintenanceWindows gates Heal/Curiosity to the given cron expressions
	// (github.com/adhocore/gronx); empty = always allowed.
	MaintenanceWindows FlexibleStringSlice `json:"maintenance_windows,omitempty"`
}

// LevelTiming is the idle-before-eligible / min-rate-interval pair shared
// by every leveled activity (spec.md §6 timing table).
type LevelTiming struct {
	IdleSec int `json:"idle_sec,omitempty"`
	RateSec int `json:"rate_sec,omitempty"`
}

// BurstTiming additionally bounds a burst episode's wall-clock and
// no-progress stall count.
type BurstTiming struct {
	IdleSec        int `json:"idle_sec,omitempty"`
	RateSec        int `json:"rate_sec,omitempty"`
	MaxDurationSec int `json:"max_duration_sec,omitempty"`
	StallMax       int `json:"stall_max,omitempty"`
}

// StasisConfig bounds the stasis detector's consecutive-match window.
type StasisConfig struct {
	Threshold int `json:"threshold,omitempty"`
	Max       int `json:"max,omitempty"`
}

// PulseConfig controls the per-request Pulse Executor (spec.md §4.10
// "Budgets: MAX_CYCLES (30 prod / 100 dev), TOTAL_BUDGET_SEC (600 / 3600)").
type PulseConfig struct {
	MaxCycles      int  `json:"max_cycles,omitempty"`       // default 30 prod / 100 dev
	TotalBudgetSec int  `json:"total_budget_sec,omitempty"` // default 600 prod / 3600 dev
	AutoRoute      bool `json:"auto_route"`                 // auto-select intent route vs. ask the brain
	DevMode        bool `json:"dev_mode,omitempty"`         // picks the dev defaults (100 / 3600 s) when MaxCycles/TotalBudgetSec are unset
}

// ToolHostConfig configures the external tool-host subprocess
// (spec.md §6 "Tool host subprocess").
type ToolHostConfig struct {
	Command    string   `json:"command,omitempty"`
	Args       []string `json:"args,omitempty"`
	TimeoutSec int      `json:"timeout_sec,omitempty"` // default 90
}

// BudgetsConfig caps daily LLM usage (spec.md §6 "daily budget caps for
// LLM calls and tokens").
type BudgetsConfig struct {
	DailyLLMCalls int `json:"daily_llm_calls,omitempty"`
	DailyTokens   int `json:"daily_tokens,omitempty"`
}

// RegressionConfig configures the external end-to-end test suite the
// Regression Gate invokes (spec.md §4.6 "invokes the external end-to-end
// test suite and parses its summary line").
type RegressionConfig struct {
	Command string   `json:"command,omitempty"`
	Args    []string `json:"args,omitempty"`
}

// TelemetryConfig configures OpenTelemetry export for traces and spans.
// When enabled, spans are exported to an OTLP-compatible backend in
// addition to local JSONL storage.
type TelemetryConfig struct {
	Enabled     bool              `json:"enabled,omitempty"`
	Endpoint    string            `json:"endpoint,omitempty"`
	Protocol    string            `json:"protocol,omitempty"` // "grpc" (default) or "http"
	Insecure    bool              `json:"insecure,omitempty"`
	ServiceName string            `json:"service_name,omitempty"`
	Headers     map[string]string `json:"headers,omitempty"`
}

// GatewayConfig configures the thin operator surface (status/stop/tools/
// dev-mode over a small HTTP+WS endpoint; spec.md §6 "Operator surface").
type GatewayConfig struct {
	Host           string   `json:"host,omitempty"`
	Port           int      `json:"port,omitempty"`
	Token          string   `json:"-"` // bearer token, env only
	AllowedOrigins []string `json:"allowed_origins,omitempty"`
}

// ReplaceFrom copies all data fields from src into c, preserving c's mutex.
func (c *Config) ReplaceFrom(src *Config) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Workspace = src.Workspace
	c.Brain = src.Brain
	c.Permissions = src.Permissions
	c.Autonomic = src.Autonomic
	c.Pulse = src.Pulse
	c.Tools = src.Tools
	c.ToolHost = src.ToolHost
	c.Regression = src.Regression
	c.Budgets = src.Budgets
	c.Telemetry = src.Telemetry
	c.Gateway = src.Gateway
}

// Snapshot returns a copy of the config data safe to read without holding
// the lock further (used by hot-reload consumers).
func (c *Config) Snapshot() Config {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return Config{
		Workspace:   c.Workspace,
		Brain:       c.Brain,
		Permissions: c.Permissions,
		Autonomic:   c.Autonomic,
		Pulse:       c.Pulse,
		Tools:       c.Tools,
		ToolHost:    c.ToolHost,
		Regression:  c.Regression,
		Budgets:     c.Budgets,
		Telemetry:   c.Telemetry,
		Gateway:     c.Gateway,
	}
}

package config

import (
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/fsnotify/fsnotify"
	"github.com/titanous/json5"
)

// Default returns a Config with sensible defaults (spec.md §6 timing
// profile table, "Normal" column).
func Default() *Config {
	return &Config{
		Workspace: WorkspaceConfig{
			Root:           "~/.machina",
			RestrictToRoot: true,
		},
		Brain: BrainConfig{
			Provider:    "anthropic",
			Model:       "claude-sonnet-4-5-20250929",
			Temperature: 0.7,
			MaxTokens:   8192,
			TimeoutSec:  60,
		},
		Permissions: PermissionsConfig{
			Mode: "standard",
		},
		Autonomic: AutonomicConfig{
			Profile:      "normal",
			HeartbeatSec: 60,
			Reflect:      LevelTiming{IdleSec: 180, RateSec: 300},
			Test:         LevelTiming{IdleSec: 300, RateSec: 600},
			Heal:         LevelTiming{IdleSec: 600, RateSec: 1800},
			Hygiene:      LevelTiming{RateSec: 1800},
			Curiosity:    LevelTiming{IdleSec: 900, RateSec: 1800},
			WebExplore:   LevelTiming{RateSec: 1800},
			Burst:        BurstTiming{IdleSec: 1800, RateSec: 3600, MaxDurationSec: 3600, StallMax: 5},
			Stasis:       StasisConfig{Threshold: 6, Max: 600},
		},
		Pulse: PulseConfig{
			MaxCycles:     30,
			TotalBudgetSec: 600,
			AutoRoute:     true,
		},
		Tools: ToolsConfig{
			Web: WebToolsConfig{
				DuckDuckGo: DuckDuckGoConfig{Enabled: true, MaxResults: 5},
			},
			ExecApproval: ExecApprovalCfg{
				Security: "full",
				Ask:      "off",
			},
		},
		ToolHost: ToolHostConfig{
			TimeoutSec: 90,
		},
		Regression: RegressionConfig{
			Args: []string{"run_e2e"},
		},
		Budgets: BudgetsConfig{
			DailyLLMCalls: 2000,
			DailyTokens:   4_000_000,
		},
		Gateway: GatewayConfig{
			Host: "127.0.0.1",
			Port: 18791,
		},
	}
}

// applyDevExploreDefaults applies the Dev-Explore column of spec.md §6's
// timing profile table over whatever Load already populated, used when
// Autonomic.Profile == "dev-explore" and the corresponding field was never
// explicitly set in the config file or env.
func (c *Config) applyDevExploreDefaults() {
	if c.Autonomic.Profile != "dev-explore" {
		return
	}
	a := &c.Autonomic
	if a.HeartbeatSec == 60 {
		a.HeartbeatSec = 30
	}
	if a.Reflect == (LevelTiming{IdleSec: 180, RateSec: 300}) {
		a.Reflect = LevelTiming{IdleSec: 60, RateSec: 300}
	}
	if a.Test == (LevelTiming{IdleSec: 300, RateSec: 600}) {
		a.Test = LevelTiming{IdleSec: 120, RateSec: 600}
	}
	if a.Heal == (LevelTiming{IdleSec: 600, RateSec: 1800}) {
		a.Heal = LevelTiming{IdleSec: 180, RateSec: 600}
	}
	if a.Curiosity == (LevelTiming{IdleSec: 900, RateSec: 1800}) {
		a.Curiosity = LevelTiming{IdleSec: 180, RateSec: 600}
	}
	if a.WebExplore == (LevelTiming{RateSec: 1800}) {
		a.WebExplore = LevelTiming{RateSec: 900}
	}
	if a.Burst == (BurstTiming{IdleSec: 1800, RateSec: 3600, MaxDurationSec: 3600, StallMax: 5}) {
		a.Burst = BurstTiming{IdleSec: 180, RateSec: 600, MaxDurationSec: 3600, StallMax: 5}
	}
	if a.Stasis == (StasisConfig{Threshold: 6, Max: 600}) {
		a.Stasis = StasisConfig{Threshold: 5, Max: 600}
	}
}

// Load reads config from a JSON5 file, then overlays env vars, matching
// the teacher's Default()+env-override+save-on-start pattern (SPEC_FULL.md
// §A.3).
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.applyEnvOverrides()
			cfg.applyDevExploreDefaults()
			return cfg, nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}

	if err := json5.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	cfg.applyEnvOverrides()
	cfg.applyDevExploreDefaults()
	return cfg, nil
}

// applyEnvOverrides overlays env vars onto the config. Env vars take
// precedence over file values; secrets (API keys, tokens) are ONLY ever
// read from env, never persisted to the config file (spec.md §6).
func (c *Config) applyEnvOverrides() {
	envStr := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}

	envStr("MACHINA_BRAIN_PROVIDER", &c.Brain.Provider)
	envStr("MACHINA_BRAIN_MODEL", &c.Brain.Model)
	envStr("MACHINA_BRAIN_API_BASE", &c.Brain.APIBase)
	envStr("MACHINA_BRAIN_API_KEY", &c.Brain.APIKey)

	envStr("MACHINA_WORKSPACE_ROOT", &c.Workspace.Root)

	envStr("MACHINA_PERMISSIONS_MODE", &c.Permissions.Mode)

	envStr("MACHINA_AUTONOMIC_PROFILE", &c.Autonomic.Profile)

	envStr("MACHINA_GATEWAY_HOST", &c.Gateway.Host)
	envStr("MACHINA_GATEWAY_TOKEN", &c.Gateway.Token)
	if v := os.Getenv("MACHINA_GATEWAY_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil && port > 0 {
			c.Gateway.Port = port
		}
	}

	envStr("MACHINA_REGRESSION_COMMAND", &c.Regression.Command)

	envStr("MACHINA_WEB_BRAVE_API_KEY", &c.Tools.Web.Brave.APIKey)
	if c.Tools.Web.Brave.APIKey != "" {
		c.Tools.Web.Brave.Enabled = true
	}

	// Telemetry
	envStr("MACHINA_TELEMETRY_ENDPOINT", &c.Telemetry.Endpoint)
	envStr("MACHINA_TELEMETRY_PROTOCOL", &c.Telemetry.Protocol)
	envStr("MACHINA_TELEMETRY_SERVICE_NAME", &c.Telemetry.ServiceName)
	if v := os.Getenv("MACHINA_TELEMETRY_ENABLED"); v != "" {
		c.Telemetry.Enabled = v == "true" || v == "1"
	}
	if v := os.Getenv("MACHINA_TELEMETRY_INSECURE"); v != "" {
		c.Telemetry.Insecure = v == "true" || v == "1"
	}

	// Permission per-action overrides, e.g. MACHINA_PERM_SHELL_EXEC_V1=deny
	prefix := "MACHINA_PERM_"
	for _, kv := range os.Environ() {
		k, v, ok := strings.Cut(kv, "=")
		if !ok || !strings.HasPrefix(k, prefix) || v == "" {
			continue
		}
		actionID := envKeyToActionID(strings.TrimPrefix(k, prefix))
		if c.Permissions.Overrides == nil {
			c.Permissions.Overrides = make(map[string]string)
		}
		c.Permissions.Overrides[actionID] = strings.ToLower(v)
	}

	// Daily budgets
	if v := os.Getenv("MACHINA_BUDGET_DAILY_LLM_CALLS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			c.Budgets.DailyLLMCalls = n
		}
	}
	if v := os.Getenv("MACHINA_BUDGET_DAILY_TOKENS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			c.Budgets.DailyTokens = n
		}
	}
}

// envKeyToActionID turns the MACHINA_PERM_ suffix (e.g. "SHELL_EXEC_V1")
// back into its action identifier form ("SHELL.EXEC.v1"): every underscore
// becomes a dot, and the trailing version marker's leading V is lowercased
// to match the DOMAIN.ACTION.vN convention.
func envKeyToActionID(suffix string) string {
	parts := strings.Split(suffix, "_")
	if n := len(parts); n > 0 && len(parts[n-1]) > 1 && (parts[n-1][0] == 'V' || parts[n-1][0] == 'v') {
		parts[n-1] = "v" + parts[n-1][1:]
	}
	return strings.Join(parts, ".")
}

// ApplyEnvOverrides re-applies environment variable overrides onto the
// config. Call this after a hot-reload to restore runtime secrets that
// are never persisted to the config file.
func (c *Config) ApplyEnvOverrides() {
	c.applyEnvOverrides()
	c.applyDevExploreDefaults()
}

// Save writes the config to a JSON file (work/config_state.json per
// spec.md §6's persisted-overlay contract).
func Save(path string, cfg *Config) error {
	cfg.mu.RLock()
	defer cfg.mu.RUnlock()

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	return os.WriteFile(path, data, 0600)
}

// Hash returns a SHA-256 hash of the config for optimistic concurrency.
func (c *Config) Hash() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	data, _ := json.Marshal(c)
	h := sha256.Sum256(data)
	return fmt.Sprintf("%x", h[:8])
}

// WorkspacePath returns the expanded workspace root.
func (c *Config) WorkspacePath() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return ExpandHome(c.Workspace.Root)
}

// ExpandHome replaces a leading ~ with the user home directory.
func ExpandHome(path string) string {
	if path == "" || path[0] != '~' {
		return path
	}
	home, _ := os.UserHomeDir()
	if len(path) > 1 && path[1] == '/' {
		return home + path[1:]
	}
	return home
}

// WatchHotReload watches path (work/config_state.json) for external edits
// and calls onChange with the freshly loaded config whenever it changes,
// matching spec.md §9's "a startup function loads the persisted file into
// the environment once" plus live re-reads (SPEC_FULL.md §A.3). Runs until
// stop is closed.
func WatchHotReload(path string, onChange func(*Config), stop <-chan struct{}) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create config watcher: %w", err)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		watcher.Close()
		return fmt.Errorf("ensure config dir: %w", err)
	}
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return fmt.Errorf("watch config dir: %w", err)
	}

	go func() {
		defer watcher.Close()
		for {
			select {
			case <-stop:
				return
			case ev, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(ev.Name) != filepath.Clean(path) {
					continue
				}
				if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
					continue
				}
				cfg, err := Load(path)
				if err != nil {
					slog.Warn("config.hot_reload.load_failed", "path", path, "error", err)
					continue
				}
				slog.Info("config.hot_reload.applied", "path", path, "hash", cfg.Hash())
				onChange(cfg)
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				slog.Warn("config.hot_reload.watch_error", "error", err)
			}
		}
	}()

	return nil
}

package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefault(t *testing.T) {
	cfg := Default()
	if cfg.Autonomic.HeartbeatSec != 60 {
		t.Errorf("HeartbeatSec = %d, want 60", cfg.Autonomic.HeartbeatSec)
	}
	if cfg.Permissions.Mode != "standard" {
		t.Errorf("Permissions.Mode = %q, want standard", cfg.Permissions.Mode)
	}
}

func TestLoad_MissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.json5"))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Autonomic.Profile != "normal" {
		t.Errorf("Profile = %q, want normal", cfg.Autonomic.Profile)
	}
}

func TestLoad_DevExploreAppliesFastTimings(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json5")
	if err := os.WriteFile(path, []byte(`{"autonomic": {"profile": "dev-explore"}}`), 0644); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Autonomic.HeartbeatSec != 30 {
		t.Errorf("dev-explore HeartbeatSec = %d, want 30", cfg.Autonomic.HeartbeatSec)
	}
	if cfg.Autonomic.Reflect.IdleSec != 60 {
		t.Errorf("dev-explore Reflect.IdleSec = %d, want 60", cfg.Autonomic.Reflect.IdleSec)
	}
}

func TestEnvKeyToActionID(t *testing.T) {
	tests := []struct{ in, want string }{
		{"SHELL_EXEC_V1", "SHELL.EXEC.v1"},
		{"FS_WRITE_V1", "FS.WRITE.v1"},
		{"MCP_REMOTE_TOOL_V2", "MCP.REMOTE.TOOL.v2"},
	}
	for _, tt := range tests {
		if got := envKeyToActionID(tt.in); got != tt.want {
			t.Errorf("envKeyToActionID(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestApplyEnvOverrides_PermOverride(t *testing.T) {
	t.Setenv("MACHINA_PERM_SHELL_EXEC_V1", "deny")
	cfg := Default()
	cfg.applyEnvOverrides()
	if cfg.Permissions.Overrides["SHELL.EXEC.v1"] != "deny" {
		t.Errorf("Overrides[SHELL.EXEC.v1] = %q, want deny", cfg.Permissions.Overrides["SHELL.EXEC.v1"])
	}
}

func TestSaveAndHash(t *testing.T) {
	cfg := Default()
	path := filepath.Join(t.TempDir(), "out", "config.json")
	if err := Save(path, cfg); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("Save() did not create file: %v", err)
	}
	if cfg.Hash() == "" {
		t.Error("Hash() returned empty string")
	}
}

func TestExpandHome(t *testing.T) {
	home, _ := os.UserHomeDir()
	if got := ExpandHome("~/foo"); got != home+"/foo" {
		t.Errorf("ExpandHome(~/foo) = %q, want %q", got, home+"/foo")
	}
	if got := ExpandHome("/abs/path"); got != "/abs/path" {
		t.Errorf("ExpandHome(/abs/path) = %q, want unchanged", got)
	}
}

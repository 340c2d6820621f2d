package permissions

import (
	"context"
	"testing"

	"github.com/nextlevelbuilder/machina/internal/tools"
)

func TestCheck_ModeOpen(t *testing.T) {
	e := NewEngine(ModeOpen)
	if got := e.Check(context.Background(), "SHELL.EXEC.v1"); got != tools.DecisionAllow {
		t.Errorf("open mode SHELL.EXEC.v1 = %v, want allow", got)
	}
}

func TestCheck_ModeLocked(t *testing.T) {
	e := NewEngine(ModeLocked)
	tests := []struct {
		actionID string
		want     tools.Decision
	}{
		{"FS.READ.v1", tools.DecisionAllow},
		{"FS.LIST.v1", tools.DecisionAllow},
		{"FS.WRITE.v1", tools.DecisionDeny},
		{"SHELL.EXEC.v1", tools.DecisionDeny},
	}
	for _, tt := range tests {
		t.Run(tt.actionID, func(t *testing.T) {
			if got := e.Check(context.Background(), tt.actionID); got != tt.want {
				t.Errorf("Check(%s) = %v, want %v", tt.actionID, got, tt.want)
			}
		})
	}
}

func TestCheck_ModeSupervised(t *testing.T) {
	e := NewEngine(ModeSupervised)
	tests := []struct {
		actionID string
		want     tools.Decision
	}{
		{"FS.READ.v1", tools.DecisionAllow},
		{"FS.WRITE.v1", tools.DecisionAsk},
		{"SHELL.EXEC.v1", tools.DecisionAsk},
	}
	for _, tt := range tests {
		t.Run(tt.actionID, func(t *testing.T) {
			if got := e.Check(context.Background(), tt.actionID); got != tt.want {
				t.Errorf("Check(%s) = %v, want %v", tt.actionID, got, tt.want)
			}
		})
	}
}

func TestCheck_ModeStandard_ResolutionOrder(t *testing.T) {
	ctx := context.Background()
	e := NewEngine(ModeStandard)

	// No override: inferred from side effects.
	if got := e.Check(ctx, "FS.READ.v1"); got != tools.DecisionAllow {
		t.Errorf("inferred FS.READ.v1 = %v, want allow", got)
	}
	if got := e.Check(ctx, "SHELL.EXEC.v1"); got != tools.DecisionAsk {
		t.Errorf("inferred SHELL.EXEC.v1 = %v, want ask", got)
	}

	// Explicit default map overrides inference.
	e.SetDefault("SHELL.EXEC.v1", tools.DecisionDeny)
	if got := e.Check(ctx, "SHELL.EXEC.v1"); got != tools.DecisionDeny {
		t.Errorf("after SetDefault SHELL.EXEC.v1 = %v, want deny", got)
	}

	// Env override takes precedence over the default map.
	e.SetEnvOverrides(map[string]tools.Decision{"SHELL.EXEC.v1": tools.DecisionAllow})
	if got := e.Check(ctx, "SHELL.EXEC.v1"); got != tools.DecisionAllow {
		t.Errorf("after env override SHELL.EXEC.v1 = %v, want allow", got)
	}

	// Session grant takes precedence over everything.
	e.SetEnvOverrides(map[string]tools.Decision{"SHELL.EXEC.v1": tools.DecisionDeny})
	e.GrantSession("SHELL.EXEC.v1")
	if got := e.Check(ctx, "SHELL.EXEC.v1"); got != tools.DecisionAllow {
		t.Errorf("after session grant SHELL.EXEC.v1 = %v, want allow", got)
	}

	e.ClearSession()
	if got := e.Check(ctx, "SHELL.EXEC.v1"); got != tools.DecisionDeny {
		t.Errorf("after ClearSession SHELL.EXEC.v1 = %v, want deny (env override)", got)
	}
}

func TestRegisterSideEffects(t *testing.T) {
	e := NewEngine(ModeStandard)
	RegisterSideEffects("MCP.CUSTOM.v1", EffectFilesystemRead)
	if got := e.Check(context.Background(), "MCP.CUSTOM.v1"); got != tools.DecisionAllow {
		t.Errorf("registered read-only MCP.CUSTOM.v1 = %v, want allow", got)
	}
}

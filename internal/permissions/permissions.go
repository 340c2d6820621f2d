// Package permissions implements the Permission Engine (spec.md §4.3):
// per-action-identifier resolution of {allow, ask, deny}, four policy
// modes, and process-wide session grants. Grounded on
// internal/tools/policy.go's PolicyEngine — same layered-resolution
// shape (global policy → per-agent override → inferred default),
// generalized from tool-name filtering to per-call action-identifier
// decisions.
package permissions

import (
	"context"
	"log/slog"
	"sync"

	"github.com/nextlevelbuilder/machina/internal/tools"
)

// Mode is one of the four policy modes (spec.md §4.3).
type Mode string

const (
	ModeOpen       Mode = "open"
	ModeLocked     Mode = "locked"
	ModeSupervised Mode = "supervised"
	ModeStandard   Mode = "standard"
)

// Engine is the process-wide permission authority. All methods are
// safe for concurrent use.
type Engine struct {
	mu sync.RWMutex

	mode Mode

	// sessionGrants are process-wide, thread-safe, cleared on explicit
	// command or process restart (spec.md §4.3).
	sessionGrants map[string]bool

	// envOverrides is a mapping of action_id → level, read from the
	// environment/config layer ahead of the explicit default map.
	envOverrides map[string]tools.Decision

	// defaultMap is the explicit operator-authored default decision per
	// action identifier, consulted before side-effect inference.
	defaultMap map[string]tools.Decision
}

// NewEngine creates a Permission Engine in the given mode.
func NewEngine(mode Mode) *Engine {
	if mode == "" {
		mode = ModeStandard
	}
	return &Engine{
		mode:          mode,
		sessionGrants: make(map[string]bool),
		envOverrides:  make(map[string]tools.Decision),
		defaultMap:    make(map[string]tools.Decision),
	}
}

// SetEnvOverrides replaces the environment-override map wholesale —
// called once at startup from config.
func (e *Engine) SetEnvOverrides(overrides map[string]tools.Decision) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.envOverrides = overrides
}

// SetDefault installs an explicit default decision for an action
// identifier, consulted after env overrides and before side-effect
// inference.
func (e *Engine) SetDefault(actionID string, decision tools.Decision) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.defaultMap[actionID] = decision
}

// SetMode switches the engine's policy mode.
func (e *Engine) SetMode(mode Mode) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.mode = mode
}

// Mode returns the current policy mode.
func (e *Engine) Mode() Mode {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.mode
}

// GrantSession records a session-scoped grant for an action identifier,
// short-circuiting future Check calls to allow.
func (e *Engine) GrantSession(actionID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.sessionGrants[actionID] = true
}

// ClearSession drops all session-scoped grants.
func (e *Engine) ClearSession() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.sessionGrants = make(map[string]bool)
}

// Check resolves an action identifier to a decision (spec.md §4.3).
// Implements tools.PermissionChecker.
func (e *Engine) Check(_ context.Context, actionID string) tools.Decision {
	e.mu.RLock()
	defer e.mu.RUnlock()

	switch e.mode {
	case ModeOpen:
		return tools.DecisionAllow
	case ModeLocked:
		if isReadOnly(actionID) {
			return tools.DecisionAllow
		}
		return tools.DecisionDeny
	case ModeSupervised:
		if isReadOnly(actionID) {
			return tools.DecisionAllow
		}
		return tools.DecisionAsk
	}

	// ModeStandard: session grants → env overrides → explicit default
	// map → inferred from side effects → ask.
	if e.sessionGrants[actionID] {
		return tools.DecisionAllow
	}
	if d, ok := e.envOverrides[actionID]; ok {
		return d
	}
	if d, ok := e.defaultMap[actionID]; ok {
		return d
	}
	decision := inferDefault(actionID)
	if decision != tools.DecisionAllow {
		slog.Debug("permission inferred", "action_id", actionID, "decision", decision, "effects", effectsOf(actionID))
	}
	return decision
}

package tools

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// Decision is the three-tier permission verdict for an action identifier
// (spec.md §4.3).
type Decision string

const (
	DecisionAllow Decision = "allow"
	DecisionAsk   Decision = "ask"
	DecisionDeny  Decision = "deny"
)

// PermissionChecker is the narrow slice of the Permission Engine that
// Dispatch needs; internal/permissions.Engine implements this.
type PermissionChecker interface {
	Check(ctx context.Context, actionID string) Decision
}

const (
	hardOutputCapBytes = 1 << 20 // 1 MiB (spec.md §4.4 "upper bound")

	defaultToolHostTimeout = 90 * time.Second
	defaultLocalCodeTimeout = 60 * time.Second
	defaultShellTimeoutMin  = 10 * time.Second
	defaultShellTimeoutMax  = 30 * time.Second
)

// timeoutFor returns the wall-clock budget for a given action's domain,
// matching spec.md §4.4's per-class defaults.
func timeoutFor(actionID string) time.Duration {
	switch domainOf(actionID) {
	case "SHELL":
		return defaultShellTimeoutMax
	case "CODE":
		return defaultLocalCodeTimeout
	case "MCP":
		return defaultToolHostTimeout
	default:
		return defaultToolHostTimeout
	}
}

func domainOf(actionID string) string {
	for i, c := range actionID {
		if c == '.' {
			return actionID[:i]
		}
	}
	return actionID
}

// Dispatch is the uniform execute-one-action surface shared by the
// Autonomic Engine and the Pulse Executor (spec.md §4.4), grounded on
// internal/tools/result.go's Result shape and internal/tools/policy.go's
// layered-resolution idiom generalized from tool filtering to per-call
// permission checks.
type Dispatch struct {
	registry    *Registry
	permissions PermissionChecker
	chains      map[string][]string
	fallback    ToolHostInvoker
}

// ToolHostInvoker forwards an action identifier unknown to the registry to
// the external tool-host subprocess (spec.md §4.4 "forwards unknown
// identifiers to the external tool-host process"; internal/toolhost.Host
// implements this).
type ToolHostInvoker interface {
	Invoke(ctx context.Context, actionID string, args map[string]any) *Result
}

func NewDispatch(registry *Registry, permissions PermissionChecker) *Dispatch {
	return &Dispatch{
		registry:    registry,
		permissions: permissions,
		chains:      make(map[string][]string),
	}
}

// SetFallback installs the tool-host subprocess as the handler of last
// resort for action identifiers with no built-in or MCP-bridged handler.
func (d *Dispatch) SetFallback(invoker ToolHostInvoker) {
	d.fallback = invoker
}

// RegisterChain registers a named multi-step recipe (spec.md §4.4 "Chains").
func (d *Dispatch) RegisterChain(name string, actionIDs []string) {
	d.chains[name] = actionIDs
}

// Execute runs resolve_alias -> permission check -> dispatch, per spec.md
// §4.4's "Execute semantics".
func (d *Dispatch) Execute(ctx context.Context, name string, args map[string]any, callerApproved bool) *Result {
	actionID := d.registry.ResolveAlias(name)

	if ok, reason := d.registry.ValidateActionID(actionID); !ok {
		return ErrorResult(actionID, ErrInvalidInput, reason)
	}

	if d.permissions != nil {
		switch d.permissions.Check(ctx, actionID) {
		case DecisionDeny:
			return ErrorResult(actionID, ErrApprovalRequired, fmt.Sprintf("%s is denied by policy", actionID))
		case DecisionAsk:
			if !callerApproved {
				return ErrorResult(actionID, ErrApprovalRequired, fmt.Sprintf("%s requires approval", actionID))
			}
		}
	}

	ctx = WithActionID(ctx, actionID)
	ctx = WithCallerApproved(ctx, callerApproved)

	handler, ok := d.registry.Get(actionID)
	if !ok {
		if d.fallback == nil {
			return ErrorResult(actionID, ErrNotFound, fmt.Sprintf("no handler for %s", actionID))
		}
		timeout := timeoutFor(actionID)
		runCtx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()
		return d.finalize(d.fallback.Invoke(runCtx, actionID, args))
	}

	timeout := timeoutFor(actionID)
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	result := d.runWithTimeout(runCtx, handler, args, actionID, timeout)
	return d.finalize(result)
}

// runWithTimeout executes the handler on its own goroutine so that a
// handler ignoring ctx.Done() (e.g. a blocking subprocess wait) still
// yields a timeout result to the caller instead of hanging Dispatch.
func (d *Dispatch) runWithTimeout(ctx context.Context, h Handler, args map[string]any, actionID string, timeout time.Duration) *Result {
	done := make(chan *Result, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- ErrorResult(actionID, ErrCrash, fmt.Sprintf("handler panicked: %v", r))
			}
		}()
		done <- h.Execute(ctx, args)
	}()

	select {
	case res := <-done:
		return res
	case <-ctx.Done():
		slog.Warn("dispatch timeout", "action_id", actionID, "timeout", timeout)
		return ErrorResult(actionID, ErrTimeout, fmt.Sprintf("%s exceeded %s", actionID, timeout))
	}
}

// finalize applies output truncation and error hints (spec.md §4.4).
func (d *Dispatch) finalize(res *Result) *Result {
	if res == nil {
		return ErrorResult("", ErrEmptyOutput, "handler returned no result")
	}
	if len(res.ForLLM) > hardOutputCapBytes {
		res.ForLLM = res.ForLLM[:hardOutputCapBytes] + "\n...[truncated]"
		res.Truncated = true
	}
	if res.IsError && res.Hint == "" {
		if hint := HintFor(res.Detail); hint != "" {
			res.Hint = hint
		}
	}
	return res
}

// ExecuteChain runs a named recipe, threading each step's output as the
// next step's "input" argument. Errors halt the chain (spec.md §4.4).
func (d *Dispatch) ExecuteChain(ctx context.Context, chainName string, initial map[string]any, callerApproved bool) *Result {
	steps, ok := d.chains[chainName]
	if !ok {
		return ErrorResult(chainName, ErrNotFound, fmt.Sprintf("no chain named %s", chainName))
	}
	args := initial
	var last *Result
	for _, actionID := range steps {
		last = d.Execute(ctx, actionID, args, callerApproved)
		if last.IsError {
			return last
		}
		args = map[string]any{"input": last.ForLLM}
	}
	return last
}

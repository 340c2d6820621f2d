package tools

import "context"

// Execution context keys. Values are injected by Dispatch.Execute and read
// by individual handlers, keeping handlers themselves stateless and safe
// for concurrent execution across chats/sessions.

type toolContextKey string

const (
	ctxSessionKey     toolContextKey = "tool_session_key"
	ctxWorkspace      toolContextKey = "tool_workspace"
	ctxCallerApproved toolContextKey = "tool_caller_approved"
	ctxActionID       toolContextKey = "tool_action_id"
)

func WithSessionKey(ctx context.Context, key string) context.Context {
	return context.WithValue(ctx, ctxSessionKey, key)
}

func SessionKeyFromCtx(ctx context.Context) string {
	v, _ := ctx.Value(ctxSessionKey).(string)
	return v
}

// WithToolWorkspace sets the sandbox root that file-writing handlers must
// resolve all writes against (spec §4.4: "all writes restricted to a work/
// subtree resolved against symlinks").
func WithToolWorkspace(ctx context.Context, ws string) context.Context {
	return context.WithValue(ctx, ctxWorkspace, ws)
}

func ToolWorkspaceFromCtx(ctx context.Context) string {
	v, _ := ctx.Value(ctxWorkspace).(string)
	return v
}

// WithCallerApproved marks that the interactive layer completed an
// approval round-trip for this call, letting a handler bypass the
// code-safety blocklist (spec §4.4: "bypassable only with an explicit
// caller_approved flag").
func WithCallerApproved(ctx context.Context, approved bool) context.Context {
	return context.WithValue(ctx, ctxCallerApproved, approved)
}

func CallerApprovedFromCtx(ctx context.Context) bool {
	v, _ := ctx.Value(ctxCallerApproved).(bool)
	return v
}

func WithActionID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, ctxActionID, id)
}

func ActionIDFromCtx(ctx context.Context) string {
	v, _ := ctx.Value(ctxActionID).(string)
	return v
}

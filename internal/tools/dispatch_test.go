package tools

import (
	"context"
	"testing"
)

type stubHandler struct {
	id  string
	res *Result
}

func (s stubHandler) ActionID() string { return s.id }
func (s stubHandler) Request() any     { return map[string]any{} }
func (s stubHandler) Execute(context.Context, map[string]any) *Result {
	return s.res
}

type allowAll struct{}

func (allowAll) Check(context.Context, string) Decision { return DecisionAllow }

type stubInvoker struct {
	gotActionID string
	res         *Result
}

func (s *stubInvoker) Invoke(_ context.Context, actionID string, _ map[string]any) *Result {
	s.gotActionID = actionID
	return s.res
}

func TestExecute_NoFallback_NotFound(t *testing.T) {
	d := NewDispatch(NewRegistry(), allowAll{})
	res := d.Execute(context.Background(), "UNKNOWN.ACTION.v1", nil, false)
	if !res.IsError || res.Kind != ErrNotFound {
		t.Fatalf("Execute() = %+v, want not_found", res)
	}
}

func TestExecute_FallbackRoutesUnregisteredAction(t *testing.T) {
	reg := NewRegistry()
	reg.Register(stubHandler{id: "BUILTIN.ACTION.v1", res: NewResult("builtin")})

	d := NewDispatch(reg, allowAll{})
	invoker := &stubInvoker{res: NewResult("from tool host")}
	d.SetFallback(invoker)

	res := d.Execute(context.Background(), "MCP.REMOTE_TOOL.v1", map[string]any{"a": 1}, false)
	if res.IsError {
		t.Fatalf("Execute() error = %v", res.Detail)
	}
	if res.ForLLM != "from tool host" {
		t.Errorf("ForLLM = %q, want %q", res.ForLLM, "from tool host")
	}
	if invoker.gotActionID != "MCP.REMOTE_TOOL.v1" {
		t.Errorf("fallback got actionID %q", invoker.gotActionID)
	}
}

func TestExecute_RegisteredHandlerBypassesFallback(t *testing.T) {
	reg := NewRegistry()
	reg.Register(stubHandler{id: "BUILTIN.ACTION.v1", res: NewResult("builtin")})

	d := NewDispatch(reg, allowAll{})
	invoker := &stubInvoker{res: NewResult("should not be used")}
	d.SetFallback(invoker)

	res := d.Execute(context.Background(), "BUILTIN.ACTION.v1", nil, false)
	if res.ForLLM != "builtin" {
		t.Errorf("ForLLM = %q, want builtin (fallback should not have run)", res.ForLLM)
	}
	if invoker.gotActionID != "" {
		t.Errorf("fallback was invoked for a registered action")
	}
}

func TestExecute_InvalidActionIDShapeStillRejected(t *testing.T) {
	d := NewDispatch(NewRegistry(), allowAll{})
	d.SetFallback(&stubInvoker{res: NewResult("unused")})

	res := d.Execute(context.Background(), "not-a-valid-id", nil, false)
	if !res.IsError || res.Kind != ErrInvalidInput {
		t.Fatalf("Execute() = %+v, want invalid_input", res)
	}
}

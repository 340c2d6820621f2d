package brain

import (
	"context"
	"testing"
	"time"
)

func newTestDriver(script string) *PolicyDriver {
	return NewPolicyDriver("/bin/sh", []string{"-c", script}, 2*time.Second)
}

func TestPolicyDriver_Invoke_DecodesResponse(t *testing.T) {
	d := newTestDriver(`cat <<'EOF'
{"type": "action", "tool": "SHELL.EXEC.v1"}
EOF`)
	resp, err := d.Invoke(context.Background(), PolicyIntent, map[string]any{"text": "list files"})
	if err != nil {
		t.Fatalf("Invoke() error = %v", err)
	}
	if resp["type"] != "action" || resp["tool"] != "SHELL.EXEC.v1" {
		t.Errorf("Invoke() = %+v", resp)
	}
}

func TestPolicyDriver_Invoke_MalformedOutputIsParseError(t *testing.T) {
	d := newTestDriver(`echo "not json"`)
	if _, err := d.Invoke(context.Background(), PolicyChat, nil); err == nil {
		t.Error("expected a parse error for non-JSON stdout")
	}
}

func TestPolicyDriver_Invoke_NonZeroExitIsError(t *testing.T) {
	d := newTestDriver(`echo "boom" >&2; exit 1`)
	if _, err := d.Invoke(context.Background(), PolicyPlan, nil); err == nil {
		t.Error("expected an error on non-zero exit")
	}
}

func TestPolicyDriver_Invoke_TimesOut(t *testing.T) {
	d := NewPolicyDriver("/bin/sh", []string{"-c", "sleep 5"}, 100*time.Millisecond)
	if _, err := d.Invoke(context.Background(), PolicyContinue, nil); err == nil {
		t.Error("expected a timeout error")
	}
}

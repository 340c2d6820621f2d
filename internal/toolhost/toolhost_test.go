package toolhost

import (
	"context"
	"testing"
	"time"

	"github.com/nextlevelbuilder/machina/internal/tools"
)

// script builds a Host backed by /bin/sh -c '<body>' so tests exercise the
// real subprocess round-trip without needing a fixture binary.
func script(body string) *Host {
	return &Host{Command: "/bin/sh", Args: []string{"-c", body}, Timeout: 2 * time.Second}
}

func TestInvoke_OK(t *testing.T) {
	h := script(`cat <<'EOF'
{"status":"OK","output_json":"{\"hello\":\"world\"}"}
EOF`)
	res := h.Invoke(context.Background(), "CUSTOM.ACTION.v1", map[string]any{"x": 1})
	if res.IsError {
		t.Fatalf("Invoke() error = %v", res.Detail)
	}
	if res.ForLLM != `{"hello":"world"}` {
		t.Errorf("ForLLM = %q", res.ForLLM)
	}
}

func TestInvoke_NonOKStatus(t *testing.T) {
	h := script(`echo '{"status":"FAILED","error":"boom"}'`)
	res := h.Invoke(context.Background(), "CUSTOM.ACTION.v1", nil)
	if !res.IsError || res.Kind != tools.ErrTool {
		t.Fatalf("Invoke() = %+v, want ErrTool", res)
	}
	if res.Detail != "boom" {
		t.Errorf("Detail = %q, want boom", res.Detail)
	}
}

func TestInvoke_InvalidEnvelope(t *testing.T) {
	h := script(`echo 'not json'`)
	res := h.Invoke(context.Background(), "CUSTOM.ACTION.v1", nil)
	if !res.IsError || res.Kind != tools.ErrParse {
		t.Fatalf("Invoke() = %+v, want ErrParse", res)
	}
}

func TestInvoke_EmptyOutputJSON(t *testing.T) {
	h := script(`echo '{"status":"OK"}'`)
	res := h.Invoke(context.Background(), "CUSTOM.ACTION.v1", nil)
	if !res.IsError || res.Kind != tools.ErrEmptyOutput {
		t.Fatalf("Invoke() = %+v, want ErrEmptyOutput", res)
	}
}

func TestInvoke_Timeout(t *testing.T) {
	h := script(`sleep 5`)
	h.Timeout = 100 * time.Millisecond
	res := h.Invoke(context.Background(), "CUSTOM.ACTION.v1", nil)
	if !res.IsError || res.Kind != tools.ErrTimeout {
		t.Fatalf("Invoke() = %+v, want ErrTimeout", res)
	}
}

func TestInvoke_NonZeroExit(t *testing.T) {
	h := script(`echo 'boom' >&2; exit 1`)
	res := h.Invoke(context.Background(), "CUSTOM.ACTION.v1", nil)
	if !res.IsError {
		t.Fatalf("Invoke() = %+v, want error", res)
	}
	if res.Detail != "boom" {
		t.Errorf("Detail = %q, want boom", res.Detail)
	}
}

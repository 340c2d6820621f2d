// Package toolhost forwards action identifiers with no built-in or
// MCP-bridged handler to an external subprocess (spec.md §4.4 "forwards
// unknown identifiers to the external tool-host process or MCP bridge";
// §6 "Tool host subprocess" for the exact wire contract), grounded on
// internal/tools/shell.go's os/exec.CommandContext usage.
package toolhost

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"time"

	"github.com/nextlevelbuilder/machina/internal/tools"
)

const (
	// DefaultTimeout is the wall-clock budget for a tool-host call when the
	// caller doesn't override it (spec.md §4.4 "default 90 s for external
	// tool host").
	DefaultTimeout = 90 * time.Second

	// outputCapBytes mirrors internal/tools/dispatch.go's hardOutputCapBytes;
	// kept local since Host runs independently of Dispatch's finalize step
	// when invoked directly (e.g. from tests).
	outputCapBytes = 1 << 20 // 1 MiB
)

// envelope is the single JSON object the subprocess writes to stdout in
// response to one tool_exec invocation (spec.md §6).
type envelope struct {
	Status     string          `json:"status"`
	OutputJSON json.RawMessage `json:"output_json"`
	Error      string          `json:"error"`
}

// Host spawns `command tool_exec <action_id>` per call, feeding the action's
// arguments as JSON on stdin and reading back a single JSON envelope from
// stdout. It implements tools.ToolHostInvoker.
type Host struct {
	Command string
	Args    []string
	Timeout time.Duration
}

// New returns a Host that invokes command (with any fixed leading args)
// as the tool-host subprocess.
func New(command string, args ...string) *Host {
	return &Host{Command: command, Args: args, Timeout: DefaultTimeout}
}

// Invoke runs one tool_exec round-trip for actionID (spec.md §6).
func (h *Host) Invoke(ctx context.Context, actionID string, args map[string]any) *tools.Result {
	timeout := h.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	input, err := json.Marshal(args)
	if err != nil {
		return tools.ErrorResult(actionID, tools.ErrInvalidInput, fmt.Sprintf("marshal tool-host args: %v", err))
	}

	cmdArgs := append(append([]string{}, h.Args...), "tool_exec", actionID)
	cmd := exec.CommandContext(runCtx, h.Command, cmdArgs...)
	cmd.Stdin = bytes.NewReader(input)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	runErr := cmd.Run()
	if runCtx.Err() != nil {
		return tools.ErrorResult(actionID, tools.ErrTimeout, fmt.Sprintf("%s exceeded tool-host timeout %s", actionID, timeout))
	}
	if runErr != nil {
		detail := string(bytes.TrimSpace(stderr.Bytes()))
		if detail == "" {
			detail = runErr.Error()
		}
		return tools.ErrorResult(actionID, tools.ErrToolError(runErr), detail)
	}

	out := stdout.Bytes()
	if len(out) > outputCapBytes {
		out = out[:outputCapBytes]
	}

	var env envelope
	if err := json.Unmarshal(out, &env); err != nil {
		return tools.ErrorResult(actionID, tools.ErrParse, fmt.Sprintf("tool-host returned invalid envelope: %v", err))
	}

	if env.Status != "OK" {
		detail := env.Error
		if detail == "" {
			detail = fmt.Sprintf("tool-host status %q", env.Status)
		}
		return tools.ErrorResult(actionID, tools.ErrTool, detail).WithHint(tools.HintFor(detail))
	}

	if len(env.OutputJSON) == 0 {
		return tools.ErrorResult(actionID, tools.ErrEmptyOutput, "tool-host returned no output_json")
	}

	output := string(env.OutputJSON)
	var s string
	if json.Unmarshal(env.OutputJSON, &s) == nil {
		output = s
	}
	result := tools.NewResult(output)
	if len(result.ForLLM) > outputCapBytes {
		result.ForLLM = result.ForLLM[:outputCapBytes] + "\n...[truncated]"
		result.Truncated = true
	}
	return result
}

package tools

import (
	"bytes"
	"context"
	"os/exec"
	"strings"
)

// ShellExecRequest is the input schema for SHELL.EXEC.v1.
type ShellExecRequest struct {
	Cmd string `json:"cmd" jsonschema:"required,description=shell command line to run inside the sandbox"`
}

// ShellExecHandler runs a command under the sandboxed shell, denying
// anything matching the shared safety blocklist unless caller_approved is
// set (spec.md §4.4 "shell execution (sandboxed)").
type ShellExecHandler struct{}

func (ShellExecHandler) ActionID() string { return "SHELL.EXEC.v1" }
func (ShellExecHandler) Request() any     { return &ShellExecRequest{} }

func (ShellExecHandler) Execute(ctx context.Context, args map[string]any) *Result {
	cmd := argString(args, "cmd")
	if strings.TrimSpace(cmd) == "" {
		return ErrorResult("SHELL.EXEC.v1", ErrInvalidInput, "cmd is empty")
	}

	normalized := strings.ToLower(strings.Join(strings.Fields(cmd), " "))
	if kind := classifyUnsafe(normalized); kind != "" && !CallerApprovedFromCtx(ctx) {
		return ErrorResult("SHELL.EXEC.v1", kind, "command matches the safety blocklist")
	}

	workspace := sandboxWorkspace(ctx)
	c := exec.CommandContext(ctx, "/bin/sh", "-c", cmd)
	c.Dir = workspace

	var stdout, stderr bytes.Buffer
	c.Stdout = &stdout
	c.Stderr = &stderr

	if err := c.Run(); err != nil {
		if ctx.Err() != nil {
			return ErrorResult("SHELL.EXEC.v1", ErrTimeout, "command timed out")
		}
		detail := stderr.String()
		if detail == "" {
			detail = err.Error()
		}
		return ErrorResult("SHELL.EXEC.v1", ErrToolError(err), detail)
	}

	out := stdout.String()
	if strings.TrimSpace(out) == "" {
		return ErrorResult("SHELL.EXEC.v1", ErrEmptyOutput, "command produced no output")
	}
	return NewResult(out)
}

// ErrToolError classifies a generic exec error, preferring crash for
// signal/exit-status failures and tool_error otherwise.
func ErrToolError(err error) ErrorKind {
	if _, ok := err.(*exec.ExitError); ok {
		return ErrCrash
	}
	return ErrTool
}

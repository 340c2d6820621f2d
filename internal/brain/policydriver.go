package brain

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"time"
)

// PolicyMode is one of the five payload modes the external policy driver
// subprocess understands (spec.md §6 "mode ∈ {intent, summary, chat,
// continue, plan}").
type PolicyMode string

const (
	PolicyIntent   PolicyMode = "intent"
	PolicySummary  PolicyMode = "summary"
	PolicyChat     PolicyMode = "chat"
	PolicyContinue PolicyMode = "continue"
	PolicyPlan     PolicyMode = "plan"
)

// PolicyDriver invokes the external "brain" subprocess (spec.md §6
// "Policy driver subprocess... receives a JSON payload with mode...
// responds with one JSON object on stdout"), grounded on
// internal/toolhost.Host's exec.CommandContext + JSON-stdin/stdout
// wrapper, applied here to one configured command that is spawned fresh
// for every call.
type PolicyDriver struct {
	Command string
	Args    []string
	Timeout time.Duration
}

// NewPolicyDriver returns a driver invoking command with args for every
// call, each one a fresh subprocess (stdin JSON in, stdout JSON out).
func NewPolicyDriver(command string, args []string, timeout time.Duration) *PolicyDriver {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &PolicyDriver{Command: command, Args: args, Timeout: timeout}
}

// Invoke sends {mode, ...payload} on stdin and decodes the single JSON
// object the driver writes to stdout.
func (d *PolicyDriver) Invoke(ctx context.Context, mode PolicyMode, payload map[string]any) (map[string]any, error) {
	req := map[string]any{"mode": string(mode)}
	for k, v := range payload {
		req[k] = v
	}
	stdin, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal policy request: %w", err)
	}

	runCtx, cancel := context.WithTimeout(ctx, d.Timeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, d.Command, d.Args...)
	cmd.Stdin = bytes.NewReader(stdin)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if runCtx.Err() != nil {
			return nil, fmt.Errorf("timeout")
		}
		detail := stderr.String()
		if detail == "" {
			detail = err.Error()
		}
		return nil, fmt.Errorf("policy driver failed: %s", detail)
	}

	var resp map[string]any
	if err := json.Unmarshal(stdout.Bytes(), &resp); err != nil {
		return nil, fmt.Errorf("parse_error: %w", err)
	}
	return resp, nil
}

package tools

import "strings"

// ErrorKind is the closed taxonomy surfaced in a structured error record
// (spec.md §4.4, §7).
type ErrorKind string

const (
	ErrNotFound             ErrorKind = "not_found"
	ErrCrash                ErrorKind = "crash"
	ErrEmptyOutput          ErrorKind = "empty_output"
	ErrParse                ErrorKind = "parse_error"
	ErrTool                 ErrorKind = "tool_error"
	ErrTimeout              ErrorKind = "timeout"
	ErrException            ErrorKind = "exception"
	ErrApprovalRequired     ErrorKind = "approval_required"
	ErrDangerousCodeBlocked ErrorKind = "dangerous_code_blocked"
	ErrNetworkCodeBlocked   ErrorKind = "network_code_blocked"
	ErrPathOutsideSandbox   ErrorKind = "path_outside_sandbox"
	ErrInvalidInput         ErrorKind = "invalid_input"
	ErrIO                   ErrorKind = "io_error"
)

// Result is the unified return type from every tool handler: either a
// plain successful string or a structured error (spec.md §4.4).
type Result struct {
	ForLLM  string `json:"for_llm"`
	IsError bool   `json:"is_error"`
	Async   bool   `json:"async"`

	ActionID string    `json:"action_id,omitempty"`
	Kind     ErrorKind `json:"kind,omitempty"`
	Detail   string    `json:"detail,omitempty"`
	Hint     string    `json:"hint,omitempty"`

	Truncated bool  `json:"truncated,omitempty"`
	Err       error `json:"-"`
}

func NewResult(forLLM string) *Result {
	return &Result{ForLLM: forLLM}
}

func AsyncResult(message string) *Result {
	return &Result{ForLLM: message, Async: true}
}

// ErrorResult builds a structured error record for the given kind.
func ErrorResult(actionID string, kind ErrorKind, detail string) *Result {
	return &Result{
		ForLLM:   detail,
		IsError:  true,
		ActionID: actionID,
		Kind:     kind,
		Detail:   detail,
	}
}

func (r *Result) WithHint(hint string) *Result {
	r.Hint = hint
	return r
}

func (r *Result) WithError(err error) *Result {
	r.Err = err
	return r
}

// errorHints maps substrings found in error output to actionable hints
// appended to the error record (spec.md §4.4 "Error hints").
var errorHints = []struct {
	substr string
	hint   string
}{
	{"permission denied", "check that the path is inside the sandbox work/ directory"},
	{"no such file", "verify the path exists; use list_files to inspect the directory first"},
	{"connection refused", "the target service may be down; retry later or use a different host"},
	{"timeout", "reduce the scope of the request or split it into smaller steps"},
	{"import", "the module may be unavailable inside the sandbox; avoid network-dependent imports"},
	{"syntax error", "re-check the generated code for unbalanced braces or missing colons"},
}

// HintFor returns the first matching hint for an error's output, if any.
func HintFor(output string) string {
	lower := strings.ToLower(output)
	for _, h := range errorHints {
		if strings.Contains(lower, h.substr) {
			return h.hint
		}
	}
	return ""
}

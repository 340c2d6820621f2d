package pulse

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nextlevelbuilder/machina/internal/brain"
)

// IntentDecision is the LLM tier's answer to "what should happen next"
// (spec.md §4.10 phase 1 "LLM intent emits a small JSON structure").
type IntentDecision struct {
	Type   string         `json:"type"` // "action" or "chat"
	Tool   string         `json:"tool,omitempty"`
	Args   map[string]any `json:"args,omitempty"`
	Next   string         `json:"_next,omitempty"`
	Source string         `json:"-"` // "keyword" | "policy" | "llm", set by the caller
}

// ContinueDecision is the answer from the phase-3 continue-classifier
// (spec.md §4.10 phase 3 step 8d).
type ContinueDecision struct {
	Done    bool   `json:"done"`
	Summary string `json:"summary,omitempty"`
	Action  *IntentDecision
}

// Brain is the single interface every LLM/policy collaborator Pulse needs
// satisfies, regardless of whether it is backed by a direct HTTP call
// (internal/brain.HTTPClient) or an external policy-driver subprocess
// (internal/brain.PolicyDriver) — spec.md §6 names both an "LLM client"
// and a "policy driver subprocess" as distinct external interfaces; this
// repo treats them as two interchangeable implementations of one
// narrower interface, the same polymorphic-collaborator shape
// recommended by this repo's REDESIGN FLAGS for tool dispatch.
type Brain interface {
	ClassifyIntent(ctx context.Context, text string, timeout time.Duration) (IntentDecision, error)
	Plan(ctx context.Context, text string, timeout time.Duration) ([]IntentDecision, error)
	Continue(ctx context.Context, userMessage, observation string, usedTools []string, cycleNum int, timeout time.Duration) (ContinueDecision, error)
	Chat(ctx context.Context, prompt, system string, timeout time.Duration) (string, error)
	Summarize(ctx context.Context, text string, timeout time.Duration) (string, error)
}

// llmBrain adapts an internal/brain.Client (direct HTTP LLM call) to
// Brain by hand-building a mode-specific prompt per call.
type llmBrain struct {
	client brain.Client
}

// NewLLMBrain wraps client so every Pulse phase talks to it directly
// over HTTP, with JSON responses decoded via internal/brain.ExtractJSON.
func NewLLMBrain(client brain.Client) Brain { return &llmBrain{client: client} }

func (b *llmBrain) complete(ctx context.Context, prompt string, timeout time.Duration, formatJSON bool) string {
	return b.client.Complete(ctx, brain.Request{
		Prompt:     prompt,
		MaxTokens:  800,
		Temperature: 0.2,
		Timeout:    timeout,
		FormatJSON: formatJSON,
	})
}

func (b *llmBrain) ClassifyIntent(ctx context.Context, text string, timeout time.Duration) (IntentDecision, error) {
	prompt := fmt.Sprintf(
		`Classify this user message as either a tool-use action or a plain chat reply.`+
			` Message: %q. Respond with exactly one JSON object:`+
			` {"type": "action"|"chat", "tool": "...", "args": {...}}`, text)
	raw := b.complete(ctx, prompt, timeout, true)
	return decodeIntent(raw)
}

func (b *llmBrain) Plan(ctx context.Context, text string, timeout time.Duration) ([]IntentDecision, error) {
	prompt := fmt.Sprintf(
		`The user request below needs multiple tool-use steps. Message: %q.`+
			` Respond with exactly one JSON object: {"steps": [{"type": "action", "tool": "...", "args": {...}}, ...]}`, text)
	raw := b.complete(ctx, prompt, timeout, true)
	obj, ok := brain.ExtractJSON(raw)
	if !ok {
		return nil, fmt.Errorf("no valid JSON in plan response")
	}
	var parsed struct {
		Steps []IntentDecision `json:"steps"`
	}
	if err := json.Unmarshal([]byte(obj), &parsed); err != nil {
		return nil, fmt.Errorf("parse_error: %w", err)
	}
	for i := range parsed.Steps {
		parsed.Steps[i].Source = "llm"
	}
	return parsed.Steps, nil
}

func (b *llmBrain) Continue(ctx context.Context, userMessage, observation string, usedTools []string, cycleNum int, timeout time.Duration) (ContinueDecision, error) {
	prompt := fmt.Sprintf(
		"User message: %q\nObservation so far: %q\nTools used: %v\nCycle: %d\n"+
			`Decide whether the request is complete. Respond with exactly one JSON object:`+
			` {"done": true, "summary": "..."} or {"done": false, "action": {"type": "action", "tool": "...", "args": {...}}}`,
		userMessage, observation, usedTools, cycleNum)
	raw := b.complete(ctx, prompt, timeout, true)
	obj, ok := brain.ExtractJSON(raw)
	if !ok {
		return ContinueDecision{}, fmt.Errorf("no valid JSON in continue response")
	}
	var parsed struct {
		Done    bool             `json:"done"`
		Summary string           `json:"summary"`
		Action  *IntentDecision  `json:"action"`
	}
	if err := json.Unmarshal([]byte(obj), &parsed); err != nil {
		return ContinueDecision{}, fmt.Errorf("parse_error: %w", err)
	}
	if parsed.Action != nil {
		parsed.Action.Source = "llm"
	}
	return ContinueDecision{Done: parsed.Done, Summary: parsed.Summary, Action: parsed.Action}, nil
}

func (b *llmBrain) Chat(ctx context.Context, prompt, system string, timeout time.Duration) (string, error) {
	return b.client.Complete(ctx, brain.Request{Prompt: prompt, System: system, MaxTokens: 1500, Temperature: 0.7, Timeout: timeout}), nil
}

func (b *llmBrain) Summarize(ctx context.Context, text string, timeout time.Duration) (string, error) {
	prompt := "Summarize the following conversation history concisely, preserving facts and open threads:\n\n" + text
	return b.client.Complete(ctx, brain.Request{Prompt: prompt, MaxTokens: 600, Temperature: 0.2, Timeout: timeout}), nil
}

// policyBrain adapts an internal/brain.PolicyDriver (external subprocess)
// to Brain by sending the mode-tagged JSON envelope spec.md §6 describes.
type policyBrain struct {
	driver *brain.PolicyDriver
}

// NewPolicyDriverBrain wraps driver so every Pulse phase delegates to the
// external "brain" subprocess instead of calling an LLM endpoint directly.
func NewPolicyDriverBrain(driver *brain.PolicyDriver) Brain { return &policyBrain{driver: driver} }

func (b *policyBrain) invoke(ctx context.Context, mode brain.PolicyMode, payload map[string]any, timeout time.Duration) (map[string]any, error) {
	d := *b.driver
	if timeout > 0 {
		d.Timeout = timeout
	}
	return d.Invoke(ctx, mode, payload)
}

func (b *policyBrain) ClassifyIntent(ctx context.Context, text string, timeout time.Duration) (IntentDecision, error) {
	resp, err := b.invoke(ctx, brain.PolicyIntent, map[string]any{"text": text}, timeout)
	if err != nil {
		return IntentDecision{}, err
	}
	return decodeIntentMap(resp)
}

func (b *policyBrain) Plan(ctx context.Context, text string, timeout time.Duration) ([]IntentDecision, error) {
	resp, err := b.invoke(ctx, brain.PolicyPlan, map[string]any{"text": text}, timeout)
	if err != nil {
		return nil, err
	}
	raw, err := json.Marshal(resp["steps"])
	if err != nil {
		return nil, err
	}
	var steps []IntentDecision
	if err := json.Unmarshal(raw, &steps); err != nil {
		return nil, fmt.Errorf("parse_error: %w", err)
	}
	for i := range steps {
		steps[i].Source = "llm"
	}
	return steps, nil
}

func (b *policyBrain) Continue(ctx context.Context, userMessage, observation string, usedTools []string, cycleNum int, timeout time.Duration) (ContinueDecision, error) {
	resp, err := b.invoke(ctx, brain.PolicyContinue, map[string]any{
		"user_message": userMessage,
		"observation":  observation,
		"used_tools":   usedTools,
		"cycle":        cycleNum,
	}, timeout)
	if err != nil {
		return ContinueDecision{}, err
	}
	done, _ := resp["done"].(bool)
	summary, _ := resp["summary"].(string)
	cd := ContinueDecision{Done: done, Summary: summary}
	if a, ok := resp["action"].(map[string]any); ok {
		action, err := decodeIntentMap(a)
		if err == nil {
			action.Source = "llm"
			cd.Action = &action
		}
	}
	return cd, nil
}

func (b *policyBrain) Chat(ctx context.Context, prompt, system string, timeout time.Duration) (string, error) {
	resp, err := b.invoke(ctx, brain.PolicyChat, map[string]any{"prompt": prompt, "system": system}, timeout)
	if err != nil {
		return "", err
	}
	text, _ := resp["text"].(string)
	return text, nil
}

func (b *policyBrain) Summarize(ctx context.Context, text string, timeout time.Duration) (string, error) {
	resp, err := b.invoke(ctx, brain.PolicySummary, map[string]any{"text": text}, timeout)
	if err != nil {
		return "", err
	}
	summary, _ := resp["summary"].(string)
	return summary, nil
}

func decodeIntent(raw string) (IntentDecision, error) {
	obj, ok := brain.ExtractJSON(raw)
	if !ok {
		return IntentDecision{}, fmt.Errorf("no valid JSON in intent response")
	}
	var parsed IntentDecision
	if err := json.Unmarshal([]byte(obj), &parsed); err != nil {
		return IntentDecision{}, fmt.Errorf("parse_error: %w", err)
	}
	parsed.Source = "llm"
	return parsed, nil
}

func decodeIntentMap(m map[string]any) (IntentDecision, error) {
	raw, err := json.Marshal(m)
	if err != nil {
		return IntentDecision{}, err
	}
	var parsed IntentDecision
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return IntentDecision{}, fmt.Errorf("parse_error: %w", err)
	}
	parsed.Source = "llm"
	return parsed, nil
}

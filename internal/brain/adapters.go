package brain

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/nextlevelbuilder/machina/internal/autotest"
	"github.com/nextlevelbuilder/machina/internal/curiosity"
)

// GoalSynthesizer implements curiosity.GoalSynthesizer over a Client: asks
// the LLM for a small utility script addressing the top-priority gap and
// decodes its JSON reply via the three-layer extractor (spec.md §4.8
// "synthesize_goal... via LLM").
type GoalSynthesizer struct {
	Client Client
}

func NewGoalSynthesizer(client Client) *GoalSynthesizer { return &GoalSynthesizer{Client: client} }

type goalPayload struct {
	Name     string `json:"name"`
	Language string `json:"language"`
	Code     string `json:"code"`
	GapDesc  string `json:"gap_desc"`
}

func (g *GoalSynthesizer) SynthesizeGoal(ctx context.Context, gaps []curiosity.Gap) (curiosity.Goal, error) {
	if len(gaps) == 0 {
		return curiosity.Goal{}, fmt.Errorf("no gaps to synthesize a goal from")
	}
	top := gaps[0]
	prompt := fmt.Sprintf(
		"Capability gap detected: kind=%s tool=%s uses=%d failures=%d failure_rate=%.2f\n"+
			"Propose a short diagnostic or coverage utility script (python or bash) addressing this gap.\n"+
			`Respond with exactly one JSON object: {"name": "...", "language": "python"|"bash", "code": "...", "gap_desc": "..."}`,
		top.Kind, top.Tool, top.Uses, top.Failures, top.FailureRate)

	raw := g.Client.Complete(ctx, Request{Prompt: prompt, MaxTokens: 800, Temperature: 0.2, FormatJSON: true})
	obj, ok := ExtractJSON(raw)
	if !ok {
		return curiosity.Goal{}, fmt.Errorf("no valid JSON in goal synthesis response")
	}

	var parsed goalPayload
	if err := json.Unmarshal([]byte(obj), &parsed); err != nil {
		return curiosity.Goal{}, fmt.Errorf("parse_error: %w", err)
	}
	return curiosity.Goal{
		Name:     parsed.Name,
		Language: parsed.Language,
		Code:     parsed.Code,
		GapKind:  top.Kind,
		GapDesc:  parsed.GapDesc,
	}, nil
}

// QuestionGenerator implements autotest.QuestionGenerator: asks the LLM
// for n novel self-test scenarios (spec.md §4.7 "Optionally supplements
// with LLM-proposed self-questions").
type QuestionGenerator struct {
	Client Client
}

func NewQuestionGenerator(client Client) *QuestionGenerator { return &QuestionGenerator{Client: client} }

type scenarioPayload struct {
	Input    string `json:"input"`
	Expected string `json:"expected"`
}

func (q *QuestionGenerator) GenerateQuestions(ctx context.Context, n int) ([]autotest.Scenario, error) {
	prompt := fmt.Sprintf(
		`Propose %d short test inputs exercising tool-use intent classification, varying between "action" and "reply" expected outcomes.`+
			`Respond with exactly one JSON object: {"scenarios": [{"input": "...", "expected": "action"|"reply"}, ...]}`, n)

	raw := q.Client.Complete(ctx, Request{Prompt: prompt, MaxTokens: 600, Temperature: 0.6, FormatJSON: true})
	obj, ok := ExtractJSON(raw)
	if !ok {
		return nil, fmt.Errorf("no valid JSON in self-question response")
	}

	var parsed struct {
		Scenarios []scenarioPayload `json:"scenarios"`
	}
	if err := json.Unmarshal([]byte(obj), &parsed); err != nil {
		return nil, fmt.Errorf("parse_error: %w", err)
	}

	out := make([]autotest.Scenario, 0, len(parsed.Scenarios))
	for _, s := range parsed.Scenarios {
		if s.Input == "" || s.Expected == "" {
			continue
		}
		out = append(out, autotest.Scenario{Input: s.Input, Expected: s.Expected, Source: "llm"})
	}
	return out, nil
}

// DiagnosticGenerator implements autotest.DiagnosticGenerator: asks the
// LLM for a short repair/diagnostic script addressing the dominant
// failure category (spec.md §4.7 "generates a short diagnostic script via
// LLM").
type DiagnosticGenerator struct {
	Client Client
}

func NewDiagnosticGenerator(client Client) *DiagnosticGenerator {
	return &DiagnosticGenerator{Client: client}
}

func (d *DiagnosticGenerator) GenerateDiagnostic(ctx context.Context, kind autotest.FailureKind, examples []autotest.TestResult) (string, string, error) {
	var inputs []string
	for _, ex := range examples {
		inputs = append(inputs, ex.Scenario.Input)
	}
	prompt := fmt.Sprintf(
		"Failure category: %s\nFailing inputs:\n- %s\n"+
			"Write a short diagnostic script (python or bash) that prints a one-line summary of the likely root cause.\n"+
			`Respond with exactly one JSON object: {"language": "python"|"bash", "code": "..."}`,
		kind, strings.Join(inputs, "\n- "))

	raw := d.Client.Complete(ctx, Request{Prompt: prompt, MaxTokens: 500, Temperature: 0.2, FormatJSON: true})
	obj, ok := ExtractJSON(raw)
	if !ok {
		return "", "", fmt.Errorf("no valid JSON in diagnostic response")
	}

	var parsed struct {
		Language string `json:"language"`
		Code     string `json:"code"`
	}
	if err := json.Unmarshal([]byte(obj), &parsed); err != nil {
		return "", "", fmt.Errorf("parse_error: %w", err)
	}
	if parsed.Code == "" {
		return "", "", fmt.Errorf("empty diagnostic code")
	}
	return parsed.Language, parsed.Code, nil
}

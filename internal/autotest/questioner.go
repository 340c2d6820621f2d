package autotest

import (
	"context"
	"fmt"
)

// StaticScenario is one entry in the difficulty-organized static bank
// (spec.md §4.7 "a static bank organized by difficulty").
type StaticScenario struct {
	Input      string
	Expected   string
	Difficulty Difficulty
}

// QuestionGenerator optionally supplements scenarios with LLM-proposed
// self-questions (spec.md §4.7 "Optionally supplements with LLM-proposed
// self-questions when medium success-rate > 0.7"). Implemented by
// internal/brain.QuestionGenerator over the LLM client.
type QuestionGenerator interface {
	GenerateQuestions(ctx context.Context, n int) ([]Scenario, error)
}

// CurriculumState is the single-record curriculum stream's shape (spec.md
// §3 "curriculum — latest aggregate capability statistics").
type CurriculumState struct {
	EasySuccessRate   float64  `json:"easy_success_rate"`
	MediumSuccessRate float64  `json:"medium_success_rate"`
	HardSuccessRate   float64  `json:"hard_success_rate"`
	TestedTools       []string `json:"tested_tools"`
	UpdatedMs         int64    `json:"updated_ms"`
}

// Questioner generates test scenarios.
type Questioner struct {
	sub        Substrate
	staticBank []StaticScenario
	knownTools []string
	llm        QuestionGenerator
}

// NewQuestioner returns a Questioner drawing from staticBank and
// knownTools, optionally supplementing with llm.
func NewQuestioner(sub Substrate, staticBank []StaticScenario, knownTools []string, llm QuestionGenerator) *Questioner {
	return &Questioner{sub: sub, staticBank: staticBank, knownTools: knownTools, llm: llm}
}

// SelectDifficulty implements spec.md §4.7's WebRL-style selection: easy
// unless its success rate is already >= 0.8, then medium unless its rate
// is already >= 0.7, else hard.
func SelectDifficulty(c CurriculumState) Difficulty {
	if c.EasySuccessRate < 0.8 {
		return Easy
	}
	if c.MediumSuccessRate < 0.7 {
		return Medium
	}
	return Hard
}

func (q *Questioner) readCurriculum(ctx context.Context) CurriculumState {
	recs, err := q.sub.Read(ctx, streamCurriculum, 1)
	if err != nil || len(recs) == 0 {
		return CurriculumState{}
	}
	rec := recs[len(recs)-1]
	var c CurriculumState
	if v, ok := rec["easy_success_rate"].(float64); ok {
		c.EasySuccessRate = v
	}
	if v, ok := rec["medium_success_rate"].(float64); ok {
		c.MediumSuccessRate = v
	}
	if v, ok := rec["hard_success_rate"].(float64); ok {
		c.HardSuccessRate = v
	}
	if tools, ok := rec["tested_tools"].([]any); ok {
		for _, t := range tools {
			if s, ok := t.(string); ok {
				c.TestedTools = append(c.TestedTools, s)
			}
		}
	}
	return c
}

// replayFailures returns up to 3 distinct failure scenarios reconstructed
// from the last "failure"-typed insights (spec.md §4.7 "replay of past
// failure records (last three distinct failure insights)").
func (q *Questioner) replayFailures(ctx context.Context) []Scenario {
	recs, err := q.sub.Read(ctx, streamInsights, 0)
	if err != nil {
		return nil
	}
	seen := map[string]bool{}
	var out []Scenario
	for i := len(recs) - 1; i >= 0 && len(out) < 3; i-- {
		rec := recs[i]
		if kind, _ := rec["type"].(string); kind != "failure" {
			continue
		}
		input, _ := rec["user_request"].(string)
		expected, _ := rec["intent_type"].(string)
		if input == "" || seen[input] {
			continue
		}
		seen[input] = true
		out = append(out, Scenario{Input: input, Expected: expected, Difficulty: Medium, Source: "failure_replay"})
	}
	return out
}

// coverageFillers returns one scenario per known tool not present in
// tested (spec.md §4.7 "one scenario per known tool not tested within the
// recent window").
func (q *Questioner) coverageFillers(tested []string) []Scenario {
	testedSet := make(map[string]bool, len(tested))
	for _, t := range tested {
		testedSet[t] = true
	}
	var out []Scenario
	for _, tool := range q.knownTools {
		if testedSet[tool] {
			continue
		}
		out = append(out, Scenario{
			Input:      fmt.Sprintf("exercise tool %s", tool),
			Expected:   "action",
			Difficulty: Medium,
			Source:     "coverage",
		})
	}
	return out
}

// Generate assembles a scenario batch from all four sources (spec.md
// §4.7).
func (q *Questioner) Generate(ctx context.Context) []Scenario {
	curriculum := q.readCurriculum(ctx)
	difficulty := SelectDifficulty(curriculum)

	var out []Scenario
	for _, s := range q.staticBank {
		if s.Difficulty == difficulty {
			out = append(out, Scenario{Input: s.Input, Expected: s.Expected, Difficulty: s.Difficulty, Source: "static"})
		}
	}

	out = append(out, q.replayFailures(ctx)...)
	out = append(out, q.coverageFillers(curriculum.TestedTools)...)

	if q.llm != nil && curriculum.MediumSuccessRate > 0.7 {
		if extra, err := q.llm.GenerateQuestions(ctx, 3); err == nil {
			out = append(out, extra...)
		}
	}

	return out
}

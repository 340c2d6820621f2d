package autotest

import (
	"context"
	"sync"
	"testing"
	"time"
)

type fakeSubstrate struct {
	mu      sync.Mutex
	streams map[string][]map[string]any
}

func newFakeSubstrate() *fakeSubstrate { return &fakeSubstrate{streams: map[string][]map[string]any{}} }

func (f *fakeSubstrate) Append(_ context.Context, stream string, record map[string]any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.streams[stream] = append(f.streams[stream], record)
	return nil
}

func (f *fakeSubstrate) Read(_ context.Context, stream string, maxRecords int) ([]map[string]any, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	recs := f.streams[stream]
	if maxRecords <= 0 || maxRecords >= len(recs) {
		return append([]map[string]any{}, recs...), nil
	}
	return append([]map[string]any{}, recs[len(recs)-maxRecords:]...), nil
}

func TestSelectDifficulty(t *testing.T) {
	cases := []struct {
		c    CurriculumState
		want Difficulty
	}{
		{CurriculumState{}, Easy},
		{CurriculumState{EasySuccessRate: 0.9}, Medium},
		{CurriculumState{EasySuccessRate: 0.9, MediumSuccessRate: 0.8}, Hard},
	}
	for _, tc := range cases {
		if got := SelectDifficulty(tc.c); got != tc.want {
			t.Errorf("SelectDifficulty(%+v) = %v, want %v", tc.c, got, tc.want)
		}
	}
}

func TestQuestioner_Generate_IncludesStaticAndCoverage(t *testing.T) {
	sub := newFakeSubstrate()
	bank := []StaticScenario{
		{Input: "list files", Expected: "action", Difficulty: Easy},
		{Input: "what's the weather", Expected: "reply", Difficulty: Medium},
	}
	q := NewQuestioner(sub, bank, []string{"SHELL.EXEC.v1"}, nil)
	scenarios := q.Generate(context.Background())

	foundStatic, foundCoverage := false, false
	for _, s := range scenarios {
		if s.Source == "static" && s.Difficulty == Easy {
			foundStatic = true
		}
		if s.Source == "coverage" {
			foundCoverage = true
		}
	}
	if !foundStatic {
		t.Error("expected an easy-difficulty static scenario (default curriculum picks easy)")
	}
	if !foundCoverage {
		t.Error("expected a coverage scenario for the untested known tool")
	}
}

type fakeClassifier struct{ responses map[string]string }

func (f fakeClassifier) Classify(_ context.Context, input string) (string, error) {
	return f.responses[input], nil
}

func TestTester_RunBatch(t *testing.T) {
	classifier := fakeClassifier{responses: map[string]string{
		"do a thing":   "action",
		"hi there":     "reply",
		"wrong answer": "reply",
	}}
	tester := NewTester(classifier)
	scenarios := []Scenario{
		{Input: "do a thing", Expected: "action"},
		{Input: "hi there", Expected: "reply"},
		{Input: "wrong answer", Expected: "action"},
	}
	results := tester.RunBatch(context.Background(), scenarios, nil)
	if len(results) != 3 {
		t.Fatalf("RunBatch() returned %d results, want 3", len(results))
	}
	if !results[0].Pass || !results[1].Pass || results[2].Pass {
		t.Errorf("RunBatch() pass flags = %v, %v, %v", results[0].Pass, results[1].Pass, results[2].Pass)
	}
}

func TestTester_RunBatch_Aborts(t *testing.T) {
	classifier := fakeClassifier{responses: map[string]string{"a": "action", "b": "action"}}
	tester := NewTester(classifier)
	scenarios := []Scenario{{Input: "a", Expected: "action"}, {Input: "b", Expected: "action"}}
	results := tester.RunBatch(context.Background(), scenarios, func(next int) bool { return next == 1 })
	if len(results) != 1 {
		t.Errorf("RunBatch() with abort returned %d results, want 1", len(results))
	}
}

func TestClassifyFailure(t *testing.T) {
	cases := []struct {
		r    TestResult
		want FailureKind
	}{
		{TestResult{Got: ""}, FailureEmptyOutput},
		{TestResult{Scenario: Scenario{Expected: "action"}, Got: "reply"}, FailureMisclassActionVsReply},
		{TestResult{Scenario: Scenario{Expected: "reply"}, Got: "action"}, FailureMisclassReverse},
	}
	for _, tc := range cases {
		if got := ClassifyFailure(tc.r); got != tc.want {
			t.Errorf("ClassifyFailure(%+v) = %v, want %v", tc.r, got, tc.want)
		}
	}
}

type fakeDiagGen struct{ lang, code string; err error }

func (f fakeDiagGen) GenerateDiagnostic(context.Context, FailureKind, []TestResult) (string, string, error) {
	return f.lang, f.code, f.err
}

type fakeSkills struct{ calls int }

func (f *fakeSkills) RecordSkill(context.Context, string, string, string, string, string, ...string) error {
	f.calls++
	return nil
}

func TestHealer_HealAcceptsValidDiagnostic(t *testing.T) {
	gen := fakeDiagGen{lang: "python", code: "print('diagnostic output')\n"}
	skills := &fakeSkills{}
	h := NewHealer(gen, skills, t.TempDir())

	results := []TestResult{
		{Scenario: Scenario{Expected: "action"}, Got: ""},
		{Scenario: Scenario{Expected: "action"}, Got: ""},
	}
	out := h.Heal(context.Background(), time.Now(), results)
	if !out.Accepted || out.Kind != FailureEmptyOutput {
		t.Fatalf("Heal() = %+v", out)
	}
	if skills.calls != 1 {
		t.Errorf("expected 1 RecordSkill call, got %d", skills.calls)
	}
}

func TestHealer_RateLimited(t *testing.T) {
	gen := fakeDiagGen{lang: "python", code: "print('diagnostic output')\n"}
	skills := &fakeSkills{}
	h := NewHealer(gen, skills, t.TempDir())
	results := []TestResult{{Scenario: Scenario{Expected: "action"}, Got: ""}}
	now := time.Now()

	for i := 0; i < healerRateLimit; i++ {
		if out := h.Heal(context.Background(), now, results); !out.Accepted {
			t.Fatalf("expected attempt %d to be accepted, got %+v", i, out)
		}
	}
	out := h.Heal(context.Background(), now, results)
	if out.Accepted || out.Reason != "rate limited" {
		t.Errorf("expected the 3rd attempt within the hour to be rate limited, got %+v", out)
	}
}

func TestHealer_RejectsUnsafeCode(t *testing.T) {
	gen := fakeDiagGen{lang: "python", code: "import socket\nsocket.socket()\nprint('x')\n"}
	h := NewHealer(gen, &fakeSkills{}, t.TempDir())
	results := []TestResult{{Scenario: Scenario{Expected: "action"}, Got: ""}}
	out := h.Heal(context.Background(), time.Now(), results)
	if out.Accepted {
		t.Error("expected unsafe diagnostic code to be rejected")
	}
}

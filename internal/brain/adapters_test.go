package brain

import (
	"context"
	"testing"

	"github.com/nextlevelbuilder/machina/internal/autotest"
	"github.com/nextlevelbuilder/machina/internal/curiosity"
)

type fakeClient struct{ response string }

func (f fakeClient) Complete(context.Context, Request) string { return f.response }

func TestGoalSynthesizer_SynthesizeGoal(t *testing.T) {
	client := fakeClient{response: `{"name": "tool_check", "language": "python", "code": "print('ok')", "gap_desc": "checks the flaky tool"}`}
	g := NewGoalSynthesizer(client)
	goal, err := g.SynthesizeGoal(context.Background(), []curiosity.Gap{{Kind: curiosity.GapHighFailureTool, Tool: "SHELL.EXEC.v1", Uses: 5, Failures: 3}})
	if err != nil {
		t.Fatalf("SynthesizeGoal() error = %v", err)
	}
	if goal.Name != "tool_check" || goal.Language != "python" || goal.GapKind != curiosity.GapHighFailureTool {
		t.Errorf("SynthesizeGoal() = %+v", goal)
	}
}

func TestGoalSynthesizer_RejectsMalformedResponse(t *testing.T) {
	g := NewGoalSynthesizer(fakeClient{response: "not json at all"})
	if _, err := g.SynthesizeGoal(context.Background(), []curiosity.Gap{{Kind: curiosity.GapUntestedTool}}); err == nil {
		t.Error("expected an error for a non-JSON LLM response")
	}
}

func TestGoalSynthesizer_RejectsEmptyGaps(t *testing.T) {
	g := NewGoalSynthesizer(fakeClient{response: `{}`})
	if _, err := g.SynthesizeGoal(context.Background(), nil); err == nil {
		t.Error("expected an error for an empty gap list")
	}
}

func TestQuestionGenerator_GenerateQuestions(t *testing.T) {
	client := fakeClient{response: `{"scenarios": [{"input": "list files", "expected": "action"}, {"input": "hi", "expected": "reply"}]}`}
	q := NewQuestionGenerator(client)
	scenarios, err := q.GenerateQuestions(context.Background(), 2)
	if err != nil {
		t.Fatalf("GenerateQuestions() error = %v", err)
	}
	if len(scenarios) != 2 || scenarios[0].Source != "llm" {
		t.Errorf("GenerateQuestions() = %+v", scenarios)
	}
}

func TestDiagnosticGenerator_GenerateDiagnostic(t *testing.T) {
	client := fakeClient{response: `{"language": "bash", "code": "echo diagnosing"}`}
	d := NewDiagnosticGenerator(client)
	lang, code, err := d.GenerateDiagnostic(context.Background(), autotest.FailureEmptyOutput,
		[]autotest.TestResult{{Scenario: autotest.Scenario{Input: "do the thing"}}})
	if err != nil {
		t.Fatalf("GenerateDiagnostic() error = %v", err)
	}
	if lang != "bash" || code != "echo diagnosing" {
		t.Errorf("GenerateDiagnostic() = %q, %q", lang, code)
	}
}

func TestDiagnosticGenerator_RejectsEmptyCode(t *testing.T) {
	d := NewDiagnosticGenerator(fakeClient{response: `{"language": "python", "code": ""}`})
	if _, _, err := d.GenerateDiagnostic(context.Background(), autotest.FailureEmptyOutput, nil); err == nil {
		t.Error("expected an error for empty diagnostic code")
	}
}

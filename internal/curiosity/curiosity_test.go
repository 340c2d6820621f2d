package curiosity

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/nextlevelbuilder/machina/internal/regression"
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

type fakeSkills struct{ calls int }

func (f *fakeSkills) RecordSkill(_ context.Context, name, lang, code, request, result string, tags ...string) error {
	f.calls++
	return nil
}

type fakeGate struct {
	result  regression.Result
	checkOK bool
}

func (g *fakeGate) Run(context.Context) regression.Result { return g.result }
func (g *fakeGate) Check(regression.Result) bool           { return g.checkOK }
func (g *fakeGate) Accept(regression.Result) error         { return nil }

func TestScanGaps_HighFailureTool(t *testing.T) {
	sub := newFakeSubstrate()
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		success := i < 1
		sub.Append(ctx, streamExperiences, map[string]any{"tool_used": "SHELL.EXEC.v1", "success": success})
	}
	d := New(sub, nil, nil, nil, t.TempDir(), nil, ProductionLimits())
	gaps, err := d.ScanGaps(ctx)
	if err != nil {
		t.Fatalf("ScanGaps() error = %v", err)
	}
	found := false
	for _, g := range gaps {
		if g.Kind == GapHighFailureTool && g.Tool == "SHELL.EXEC.v1" {
			found = true
		}
	}
	if !found {
		t.Errorf("expected a high_failure_tool gap, got %+v", gaps)
	}
}

func TestScanGaps_UntestedTool(t *testing.T) {
	sub := newFakeSubstrate()
	d := New(sub, nil, nil, nil, t.TempDir(), []string{"FS.READ.v1"}, ProductionLimits())
	gaps, err := d.ScanGaps(context.Background())
	if err != nil {
		t.Fatalf("ScanGaps() error = %v", err)
	}
	if len(gaps) != 1 || gaps[0].Kind != GapUntestedTool {
		t.Errorf("ScanGaps() = %+v, want one untested_tool gap", gaps)
	}
}

func TestCanRun_Cooldown(t *testing.T) {
	d := New(newFakeSubstrate(), nil, nil, nil, t.TempDir(), nil, Limits{DailyCap: 5, Cooldown: time.Hour})
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	if !d.CanRun(now) {
		t.Fatal("expected first run to be allowed")
	}
	d.runsToday++
	d.limiter.ReserveN(now, 1)
	if d.CanRun(now.Add(time.Minute)) {
		t.Error("expected cooldown to block a second run within the window")
	}
	if !d.CanRun(now.Add(2 * time.Hour)) {
		t.Error("expected a run past the cooldown window to be allowed")
	}
}

func TestCanRun_DailyCapResetsOnDateRollover(t *testing.T) {
	d := New(newFakeSubstrate(), nil, nil, nil, t.TempDir(), nil, Limits{DailyCap: 1, Cooldown: 0})
	day1 := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	if !d.CanRun(day1) {
		t.Fatal("expected first run of the day to be allowed")
	}
	d.runsToday++
	d.limiter.ReserveN(day1, 1)
	if d.CanRun(day1.Add(time.Minute)) {
		t.Error("expected daily cap to block a second run the same day")
	}
	day2 := day1.Add(24 * time.Hour)
	if !d.CanRun(day2) {
		t.Error("expected the daily cap to reset on the next calendar day")
	}
}

func TestSynthesizeGoal_FallsBackOnNilSynthesizer(t *testing.T) {
	d := New(newFakeSubstrate(), nil, nil, nil, t.TempDir(), nil, ProductionLimits())
	goal := d.SynthesizeGoal(context.Background(), []Gap{{Kind: GapHighFailureTool, Tool: "SHELL.EXEC.v1", Uses: 5, Failures: 4, FailureRate: 0.8}})
	if goal.Name == "" || goal.Code == "" {
		t.Errorf("fallback goal incomplete: %+v", goal)
	}
	if _, ok := d.RelevanceGate(context.Background(), goal); !ok {
		t.Error("expected the deterministic fallback goal to pass its own relevance gate")
	}
}

func TestRelevanceGate_RejectsShortCode(t *testing.T) {
	d := New(newFakeSubstrate(), nil, nil, nil, t.TempDir(), nil, ProductionLimits())
	_, ok := d.RelevanceGate(context.Background(), Goal{Name: "tool_summary", Code: "x=1"})
	if ok {
		t.Error("expected short code to be rejected")
	}
}

func TestRelevanceGate_RejectsNoSharedToken(t *testing.T) {
	d := New(newFakeSubstrate(), nil, nil, nil, t.TempDir(), nil, ProductionLimits())
	_, ok := d.RelevanceGate(context.Background(), Goal{Name: "xyzzy", Code: "print('hello world, this is long enough code')"})
	if ok {
		t.Error("expected a name with no whitelist token to be rejected")
	}
}

func TestExecuteGoal_RunsPythonAndRecordsSkill(t *testing.T) {
	sub := newFakeSubstrate()
	skills := &fakeSkills{}
	gate := &fakeGate{result: regression.Result{PassCount: 10}, checkOK: true}
	d := New(sub, nil, skills, gate, t.TempDir(), nil, ProductionLimits())

	goal := Goal{
		Name:     "tool_failure_summary",
		Language: "python",
		Code:     "print('tool summary diagnostic script output')\n",
	}
	outcome := d.ExecuteGoal(context.Background(), goal, "test request")
	if !outcome.Accepted || outcome.Rejected {
		t.Fatalf("ExecuteGoal() = %+v", outcome)
	}
	if skills.calls != 1 {
		t.Errorf("expected RecordSkill to be called once, got %d", skills.calls)
	}
}

func TestExecuteGoal_RollsBackOnRegression(t *testing.T) {
	sub := newFakeSubstrate()
	skills := &fakeSkills{}
	gate := &fakeGate{result: regression.Result{PassCount: 1}, checkOK: false}
	d := New(sub, nil, skills, gate, t.TempDir(), nil, ProductionLimits())

	goal := Goal{
		Name:     "tool_failure_summary",
		Language: "python",
		Code:     "print('tool summary diagnostic script output')\n",
	}
	outcome := d.ExecuteGoal(context.Background(), goal, "test request")
	if !outcome.Regressed || outcome.Accepted {
		t.Fatalf("ExecuteGoal() = %+v, want regressed", outcome)
	}
	if skills.calls != 0 {
		t.Error("expected RecordSkill not to be called on regression")
	}
}

func TestSanitizeName_StripsTraversal(t *testing.T) {
	if got := sanitizeName("../../etc/passwd"); got == "" || got == ".." {
		if got == "passwd" {
			return
		}
		t.Errorf("sanitizeName(..) = %q", got)
	}
}

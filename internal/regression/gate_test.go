package regression

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
)

func newTestGate(t *testing.T, script string) *Gate {
	t.Helper()
	baselinePath := filepath.Join(t.TempDir(), "regression_baseline.json")
	return New("/bin/sh", []string{"-c", script}, baselinePath)
}

func TestRun_ParsesSummaryLine(t *testing.T) {
	g := newTestGate(t, `echo "12 PASS / 3 FAIL / 15 TOTAL"`)
	res := g.Run(context.Background())
	if res.Error != "" {
		t.Fatalf("Run() error = %v", res.Error)
	}
	if res.PassCount != 12 || res.FailCount != 3 || res.Total != 15 {
		t.Errorf("Run() = %+v, want {12 3 15}", res)
	}
}

func TestRun_MissingSummaryLineIsError(t *testing.T) {
	g := newTestGate(t, `echo "no summary here"`)
	res := g.Run(context.Background())
	if res.Error == "" {
		t.Fatal("expected Error to be set")
	}
}

func TestCheck_FailOpenOnError(t *testing.T) {
	g := newTestGate(t, `true`)
	if !g.Check(Result{Error: "boom"}) {
		t.Error("Check() should fail-open on a runner error")
	}
}

func TestCheck_RejectsRegression(t *testing.T) {
	g := newTestGate(t, `true`)
	g.baseline = Baseline{PassCount: 10}
	if g.Check(Result{PassCount: 5}) {
		t.Error("Check() should reject a pass count below baseline")
	}
	if !g.Check(Result{PassCount: 10}) {
		t.Error("Check() should accept a pass count equal to baseline")
	}
}

func TestAccept_MonotoneImproving(t *testing.T) {
	g := newTestGate(t, `true`)
	g.baseline = Baseline{PassCount: 10}

	if err := g.Accept(Result{PassCount: 5}); err != nil {
		t.Fatalf("Accept() error = %v", err)
	}
	if g.baseline.PassCount != 10 {
		t.Errorf("baseline regressed to %d, want unchanged 10", g.baseline.PassCount)
	}

	if err := g.Accept(Result{PassCount: 15}); err != nil {
		t.Fatalf("Accept() error = %v", err)
	}
	if g.baseline.PassCount != 15 {
		t.Errorf("baseline = %d, want 15", g.baseline.PassCount)
	}
}

func TestGateChange_AcceptsImprovement(t *testing.T) {
	g := newTestGate(t, `echo "10 PASS / 0 FAIL / 10 TOTAL"`)
	applied := false
	result := g.GateChange(context.Background(),
		func(context.Context) error { applied = true; return nil },
		func(context.Context) error { t.Fatal("rollback should not run"); return nil },
	)
	if !applied || !result.Accepted || result.Gated {
		t.Errorf("GateChange() = %+v, applied=%v", result, applied)
	}
}

func TestGateChange_RollsBackOnRegression(t *testing.T) {
	g := newTestGate(t, `echo "2 PASS / 8 FAIL / 10 TOTAL"`)
	g.baseline = Baseline{PassCount: 9}

	rolledBack := false
	result := g.GateChange(context.Background(),
		func(context.Context) error { return nil },
		func(context.Context) error { rolledBack = true; return nil },
	)
	if !rolledBack || !result.Gated || result.Accepted {
		t.Errorf("GateChange() = %+v, rolledBack=%v", result, rolledBack)
	}
}

func TestGateChange_ApplyErrorShortCircuits(t *testing.T) {
	g := newTestGate(t, `echo "1 PASS / 0 FAIL / 1 TOTAL"`)
	applyErr := errors.New("apply failed")
	result := g.GateChange(context.Background(),
		func(context.Context) error { return applyErr },
		func(context.Context) error { t.Fatal("rollback should not run"); return nil },
	)
	if result.ChangeResult != applyErr || result.Accepted || result.Gated {
		t.Errorf("GateChange() = %+v", result)
	}
}

func TestGateChange_RollbackFailureDoesNotPropagate(t *testing.T) {
	g := newTestGate(t, `echo "2 PASS / 8 FAIL / 10 TOTAL"`)
	g.baseline = Baseline{PassCount: 9}

	result := g.GateChange(context.Background(),
		func(context.Context) error { return nil },
		func(context.Context) error { return errors.New("rollback leak") },
	)
	if !result.Gated {
		t.Errorf("GateChange() = %+v, want Gated=true despite rollback failure", result)
	}
}

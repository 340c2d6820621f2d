package learning

import (
	"context"
	"sync"
	"testing"
)

// fakeSubstrate is an in-memory Substrate for tests.
type fakeSubstrate struct {
	mu      sync.Mutex
	streams map[string][]map[string]any
}

func newFakeSubstrate() *fakeSubstrate {
	return &fakeSubstrate{streams: make(map[string][]map[string]any)}
}

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
		out := make([]map[string]any, len(recs))
		copy(out, recs)
		return out, nil
	}
	return append([]map[string]any{}, recs[len(recs)-maxRecords:]...), nil
}

func TestRecordExperience_RejectsDummy(t *testing.T) {
	sub := newFakeSubstrate()
	r := New(sub)
	ctx := context.Background()

	if err := r.RecordExperience(ctx, "same text", "action", "FS.READ.v1", "same text", true, 0.1); err != nil {
		t.Fatalf("RecordExperience() error = %v", err)
	}
	if len(sub.streams[streamExperiences]) != 0 {
		t.Errorf("expected dummy record to be rejected, got %d records", len(sub.streams[streamExperiences]))
	}
}

func TestRecordExperience_AcceptsDistinctRecords(t *testing.T) {
	sub := newFakeSubstrate()
	r := New(sub)
	ctx := context.Background()

	if err := r.RecordExperience(ctx, "do a thing", "action", "SHELL.EXEC.v1", "ok output", true, 0.2); err != nil {
		t.Fatalf("RecordExperience() error = %v", err)
	}
	if len(sub.streams[streamExperiences]) != 1 {
		t.Fatalf("expected 1 record, got %d", len(sub.streams[streamExperiences]))
	}
}

func TestRecordExperience_RejectsDuplicateWithin24h(t *testing.T) {
	sub := newFakeSubstrate()
	r := New(sub)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if err := r.RecordExperience(ctx, "request", "action", "SHELL.EXEC.v1", "identical failure output", false, 0.2); err != nil {
			t.Fatalf("RecordExperience() error = %v", err)
		}
	}
	if len(sub.streams[streamExperiences]) != 1 {
		t.Errorf("expected duplicate to be dropped, got %d records", len(sub.streams[streamExperiences]))
	}
}

func TestRecordExperience_TriggersInsightExtractionEvery10(t *testing.T) {
	sub := newFakeSubstrate()
	r := New(sub)
	ctx := context.Background()

	for i := 0; i < 9; i++ {
		if err := r.RecordExperience(ctx, "req "+string(rune('a'+i)), "action", "SHELL.EXEC.v1", "distinct "+string(rune('a'+i)), false, 0.1); err != nil {
			t.Fatalf("RecordExperience() error = %v", err)
		}
	}
	if len(sub.streams[streamGenesisSuggestions]) != 0 {
		t.Fatalf("extraction should not have run yet")
	}

	if err := r.RecordExperience(ctx, "req z", "action", "SHELL.EXEC.v1", "distinct z", false, 0.1); err != nil {
		t.Fatalf("RecordExperience() error = %v", err)
	}
	// 10 experiences, all failures on the same tool at rate 1.0 > 0.6 with
	// >=3 failures: the failing_tool genesis suggestion should fire.
	if len(sub.streams[streamGenesisSuggestions]) == 0 {
		t.Error("expected a genesis suggestion to be emitted after 10 experiences")
	}
}

func TestRecordSkill_DedupsByCodeHash(t *testing.T) {
	sub := newFakeSubstrate()
	r := New(sub)
	ctx := context.Background()

	code := "func main() {\n  doStuff()\n}\n"
	if err := r.RecordSkill(ctx, "demo", "go", code, "write a demo", "ok"); err != nil {
		t.Fatalf("RecordSkill() error = %v", err)
	}
	if err := r.RecordSkill(ctx, "demo2", "go", code, "write it again", "ok"); err != nil {
		t.Fatalf("RecordSkill() error = %v", err)
	}
	if len(sub.streams[streamSkills]) != 1 {
		t.Errorf("expected dedup to keep 1 record, got %d", len(sub.streams[streamSkills]))
	}
}

func TestRecordSkill_RejectsShortCode(t *testing.T) {
	sub := newFakeSubstrate()
	r := New(sub)
	if err := r.RecordSkill(context.Background(), "demo", "go", "x := 1", "req", "ok"); err == nil {
		t.Error("expected error for <3 line code")
	}
}

func TestRecordSkill_RejectsErrorMarkerResult(t *testing.T) {
	sub := newFakeSubstrate()
	r := New(sub)
	code := "line1\nline2\nline3"
	if err := r.RecordSkill(context.Background(), "demo", "go", code, "req", "Traceback (most recent call last)"); err == nil {
		t.Error("expected error for result containing error marker")
	}
}

func TestJaccardSimilarity(t *testing.T) {
	a := map[string]bool{"x": true, "y": true}
	b := map[string]bool{"x": true, "y": true}
	if s := jaccardSimilarity(a, b); s != 1 {
		t.Errorf("identical sets similarity = %v, want 1", s)
	}
	c := map[string]bool{"z": true}
	if s := jaccardSimilarity(a, c); s != 0 {
		t.Errorf("disjoint sets similarity = %v, want 0", s)
	}
}

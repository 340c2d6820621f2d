package autonomic

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/nextlevelbuilder/machina/internal/config"
)

type fakeSubstrate struct {
	counts map[string]int
}

func (f fakeSubstrate) Read(_ context.Context, stream string, _ int) ([]map[string]any, error) {
	n := f.counts[stream]
	out := make([]map[string]any, n)
	for i := range out {
		out[i] = map[string]any{"success": i%2 == 0}
	}
	return out, nil
}

func TestLoadState_MissingFileReturnsZeroValue(t *testing.T) {
	s, err := LoadState(filepath.Join(t.TempDir(), "autonomic_state.json"))
	if err != nil {
		t.Fatalf("LoadState() error = %v", err)
	}
	if s.Stasis || s.LevelDone.Reflect != 0 {
		t.Errorf("LoadState() of missing file = %+v, want zero value", s)
	}
}

func TestState_SaveLoadRoundTrip_StasisNeverRestored(t *testing.T) {
	path := filepath.Join(t.TempDir(), "autonomic_state.json")
	s := State{LevelDone: LevelDone{Reflect: 123}, Stasis: true, StasisHashes: []string{"aa", "aa"}}
	if err := s.Save(path); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	loaded, err := LoadState(path)
	if err != nil {
		t.Fatalf("LoadState() error = %v", err)
	}
	if loaded.LevelDone.Reflect != 123 {
		t.Errorf("LevelDone.Reflect = %d, want 123", loaded.LevelDone.Reflect)
	}
	if loaded.Stasis {
		t.Error("Stasis should never be restored from disk")
	}
	if len(loaded.StasisHashes) != 2 {
		t.Errorf("StasisHashes = %v, want 2 entries preserved", loaded.StasisHashes)
	}
}

func TestUpdateStasis_DetectsRepeatedHash(t *testing.T) {
	s := &State{}
	now := time.Now().UnixMilli()
	for i := 0; i < 5; i++ {
		if updateStasis(s, "same", 6, now) {
			t.Fatalf("turn %d: stasis detected before threshold reached", i)
		}
	}
	if !updateStasis(s, "same", 6, now) {
		t.Error("expected stasis after 6 identical hashes")
	}
}

func TestUpdateStasis_ClearsOnDifferentHash(t *testing.T) {
	s := &State{}
	now := time.Now().UnixMilli()
	for i := 0; i < 6; i++ {
		updateStasis(s, "same", 6, now)
	}
	if updateStasis(s, "different", 6, now) {
		t.Error("expected stasis to clear once the window contains a new hash")
	}
}

func TestUpdateStasis_AutoExpiresAfterWindow(t *testing.T) {
	s := &State{}
	start := time.Now().UnixMilli()
	for i := 0; i < 6; i++ {
		updateStasis(s, "same", 6, start)
	}
	if !s.Stasis {
		t.Fatal("expected stasis entered")
	}
	later := start + (stasisWindowSec+1)*1000
	if updateStasis(s, "same", 6, later) {
		t.Error("stasis should auto-expire once the episode outlasts the window, even though the hashes still match")
	}
	if s.Stasis {
		t.Error("expected s.Stasis to be false after auto-expire")
	}
}

func TestStateHash_DeterministicWithinBucket(t *testing.T) {
	sub := fakeSubstrate{counts: map[string]int{"skills": 3, "experiences": 10, "insights": 2}}
	now := time.Now().UnixMilli()
	h1, err := stateHash(context.Background(), sub, now)
	if err != nil {
		t.Fatalf("stateHash() error = %v", err)
	}
	h2, err := stateHash(context.Background(), sub, now+1000)
	if err != nil {
		t.Fatalf("stateHash() error = %v", err)
	}
	if h1 != h2 {
		t.Errorf("hashes within the same 10-minute bucket should match: %q != %q", h1, h2)
	}
}

type countingHandler struct {
	productive bool
	err        error
	calls      int
}

func (h *countingHandler) Run(context.Context, time.Time) (bool, error) {
	h.calls++
	return h.productive, h.err
}

func testConfig() config.AutonomicConfig {
	return config.AutonomicConfig{
		HeartbeatSec: 60,
		Reflect:      config.LevelTiming{IdleSec: 0, RateSec: 0},
		Test:         config.LevelTiming{IdleSec: 0, RateSec: 0},
		Heal:         config.LevelTiming{IdleSec: 0, RateSec: 0},
		Hygiene:      config.LevelTiming{IdleSec: 0, RateSec: 0},
		Curiosity:    config.LevelTiming{IdleSec: 0, RateSec: 0},
		WebExplore:   config.LevelTiming{IdleSec: 0, RateSec: 0},
		Burst:        config.BurstTiming{IdleSec: 999999, RateSec: 0, MaxDurationSec: 1, StallMax: 3},
		Stasis:       config.StasisConfig{Threshold: 6, Max: 600},
	}
}

func TestTick_RunsEveryEligibleLevelInOrder(t *testing.T) {
	reflect := &countingHandler{productive: true}
	test := &countingHandler{productive: true}
	heal := &countingHandler{productive: true}
	hygiene := &countingHandler{productive: true}
	curiosity := &countingHandler{productive: true}
	web := &countingHandler{productive: true}

	e, err := New(testConfig(), filepath.Join(t.TempDir(), "state.json"), Handlers{
		Reflect: reflect, Test: test, Heal: heal, Hygiene: hygiene, Curiosity: curiosity, WebExplore: web,
	}, nil, nil)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	if err := e.RunOnce(context.Background()); err != nil {
		t.Fatalf("RunOnce() error = %v", err)
	}

	for name, h := range map[string]*countingHandler{
		"reflect": reflect, "test": test, "heal": heal, "hygiene": hygiene, "curiosity": curiosity, "web_explore": web,
	} {
		if h.calls != 1 {
			t.Errorf("%s level ran %d times, want 1", name, h.calls)
		}
	}

	st := e.GetStatus()
	if st.LevelDone.Reflect == 0 || st.LevelDone.Test == 0 {
		t.Error("expected productive levels to advance their level_done timestamps")
	}
}

func TestTick_SuppressesTestAndHealDuringStasis(t *testing.T) {
	test := &countingHandler{productive: true}
	heal := &countingHandler{productive: true}
	reflect := &countingHandler{productive: true}

	sub := fakeSubstrate{counts: map[string]int{"skills": 1, "experiences": 1, "insights": 1}}
	e, err := New(testConfig(), filepath.Join(t.TempDir(), "state.json"),
		Handlers{Test: test, Heal: heal, Reflect: reflect}, sub, nil)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	// Drive identical hashes into stasis across several ticks (counts never
	// change, so each tick's hash is identical within the bucket).
	for i := 0; i < e.cfg.Stasis.Threshold+1; i++ {
		if err := e.RunOnce(context.Background()); err != nil {
			t.Fatalf("RunOnce() error = %v", err)
		}
	}

	if !e.GetStatus().Stasis {
		t.Fatal("expected engine to be in stasis after repeated identical hashes")
	}
	wantCalls := e.cfg.Stasis.Threshold - 1 // stasis is detected the tick the window first fills, suppressing that same tick
	if test.calls != wantCalls {
		t.Errorf("test level ran %d times after stasis, want it frozen at %d (last non-stasis tick)", test.calls, wantCalls)
	}
	if heal.calls != wantCalls {
		t.Errorf("heal level ran %d times after stasis, want it frozen at %d", heal.calls, wantCalls)
	}
	if reflect.calls == 0 {
		t.Error("reflect should keep running during stasis (spec.md §4.9: reflect ignores stasis)")
	}
}

func TestTick_LevelErrorEnqueuesAlertAndDoesNotAdvance(t *testing.T) {
	reflect := &countingHandler{err: errors.New("boom")}
	alerts := NewAlertQueue()
	e, err := New(testConfig(), filepath.Join(t.TempDir(), "state.json"), Handlers{Reflect: reflect}, nil, alerts)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if err := e.RunOnce(context.Background()); err != nil {
		t.Fatalf("RunOnce() error = %v", err)
	}
	if e.GetStatus().LevelDone.Reflect != 0 {
		t.Error("a failing level must not advance its level_done timestamp")
	}
	if alerts.Len() != 1 {
		t.Errorf("alerts.Len() = %d, want 1", alerts.Len())
	}
}

func TestTick_AbortCheckStopsBeforeFirstLevel(t *testing.T) {
	reflect := &countingHandler{productive: true}
	e, err := New(testConfig(), filepath.Join(t.TempDir(), "state.json"), Handlers{Reflect: reflect}, nil, nil)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if err := e.Tick(context.Background(), func() bool { return true }); err != nil {
		t.Fatalf("Tick() error = %v", err)
	}
	if reflect.calls != 0 {
		t.Error("expected Tick to abort before running any level")
	}
}

func TestTouchAndIdleSeconds(t *testing.T) {
	e, err := New(testConfig(), filepath.Join(t.TempDir(), "state.json"), Handlers{}, nil, nil)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	e.Touch()
	if idle := e.IdleSeconds(); idle > 1 {
		t.Errorf("IdleSeconds() right after Touch() = %v, want ~0", idle)
	}
}

func TestRewardTracker_RegressedOnDrop(t *testing.T) {
	r := NewRewardTracker(20)
	for i := 0; i < 10; i++ {
		r.Record(1.0)
	}
	for i := 0; i < 10; i++ {
		r.Record(0.5)
	}
	if !r.Regressed() {
		t.Error("expected a >15% drop between window halves to be flagged regressed")
	}
}

func TestRewardTracker_NotRegressedWhenStable(t *testing.T) {
	r := NewRewardTracker(20)
	for i := 0; i < 20; i++ {
		r.Record(0.8)
	}
	if r.Regressed() {
		t.Error("expected a stable window to not be flagged regressed")
	}
}

func TestAlertQueue_BoundedDropsOldest(t *testing.T) {
	q := NewAlertQueue()
	for i := 0; i < alertQueueMax+5; i++ {
		q.Enqueue(Alert{Level: "x", Message: "m"})
	}
	if q.Len() != alertQueueMax {
		t.Errorf("Len() = %d, want %d", q.Len(), alertQueueMax)
	}
	drained := q.DrainAll()
	if len(drained) != alertQueueMax {
		t.Errorf("DrainAll() returned %d, want %d", len(drained), alertQueueMax)
	}
	if q.Len() != 0 {
		t.Error("queue should be empty after DrainAll")
	}
}

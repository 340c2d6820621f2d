package pulse

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/nextlevelbuilder/machina/internal/config"
	"github.com/nextlevelbuilder/machina/internal/learning"
	"github.com/nextlevelbuilder/machina/internal/tools"
)

// --- fakes -----------------------------------------------------------

type fakeStore struct {
	mu      sync.Mutex
	streams map[string][]map[string]any
}

func newFakeStore() *fakeStore { return &fakeStore{streams: map[string][]map[string]any{}} }

func (f *fakeStore) Append(_ context.Context, stream string, record map[string]any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.streams[stream] = append(f.streams[stream], record)
	return nil
}

func (f *fakeStore) Read(_ context.Context, stream string, maxRecords int) ([]map[string]any, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	recs := f.streams[stream]
	if maxRecords > 0 && len(recs) > maxRecords {
		recs = recs[len(recs)-maxRecords:]
	}
	out := make([]map[string]any, len(recs))
	copy(out, recs)
	return out, nil
}

func (f *fakeStore) Query(context.Context, string, string, int) ([]string, error) { return nil, nil }
func (f *fakeStore) Ingest(context.Context, []string, [][3]string) error          { return nil }

type fakeHistory struct {
	mu       sync.Mutex
	turns    map[string][]Turn
	summary  map[string]string
	lastAt   map[string]time.Time
	sessions map[string]string
}

func newFakeHistory() *fakeHistory {
	return &fakeHistory{turns: map[string][]Turn{}, summary: map[string]string{}, lastAt: map[string]time.Time{}, sessions: map[string]string{}}
}

func (h *fakeHistory) History(chatID string) []Turn         { return h.turns[chatID] }
func (h *fakeHistory) Summary(chatID string) string          { return h.summary[chatID] }
func (h *fakeHistory) SetSummary(chatID, summary string)     { h.summary[chatID] = summary }
func (h *fakeHistory) Append(chatID string, t Turn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.turns[chatID] = append(h.turns[chatID], t)
	h.lastAt[chatID] = time.Now()
}
func (h *fakeHistory) LastActivity(chatID string) time.Time { return h.lastAt[chatID] }
func (h *fakeHistory) SessionID(chatID string) string       { return h.sessions[chatID] }
func (h *fakeHistory) SetSessionID(chatID, id string)       { h.sessions[chatID] = id }

type fakeDispatch struct {
	result *tools.Result
	calls  int
}

func (d *fakeDispatch) Execute(context.Context, string, map[string]any, bool) *tools.Result {
	d.calls++
	return d.result
}

type fakePerms struct {
	decision tools.Decision
	granted  []string
}

func (p *fakePerms) Check(context.Context, string) tools.Decision { return p.decision }
func (p *fakePerms) GrantSession(actionID string)                  { p.granted = append(p.granted, actionID) }

type fakeApprovals struct{ approve bool }

func (a *fakeApprovals) RequestApproval(context.Context, string, string, string, time.Duration) (bool, error) {
	return a.approve, nil
}

type fakeBrain struct {
	continueDone bool
	continueAction *IntentDecision
}

func (b *fakeBrain) ClassifyIntent(context.Context, string, time.Duration) (IntentDecision, error) {
	return IntentDecision{Type: "chat", Source: "llm"}, nil
}
func (b *fakeBrain) Plan(context.Context, string, time.Duration) ([]IntentDecision, error) {
	return nil, nil
}
func (b *fakeBrain) Continue(context.Context, string, string, []string, int, time.Duration) (ContinueDecision, error) {
	return ContinueDecision{Done: b.continueDone, Action: b.continueAction, Summary: "done"}, nil
}
func (b *fakeBrain) Chat(context.Context, string, string, time.Duration) (string, error) {
	return "chat reply", nil
}
func (b *fakeBrain) Summarize(context.Context, string, time.Duration) (string, error) {
	return "", nil
}

func newTestPulse(t *testing.T, brain Brain, dispatch Dispatcher, perms PermissionChecker, approvals ApprovalRequester) (*Pulse, *fakeStore) {
	t.Helper()
	store := newFakeStore()
	rec := learning.New(store)
	cfg := config.PulseConfig{MaxCycles: 10, TotalBudgetSec: 60}
	p := New(cfg, brain, dispatch, perms, approvals, newFakeHistory(), store, rec, nil, []string{"SHELL.EXEC.v1", "FS.LIST.v1"})
	return p, store
}

// --- budget ------------------------------------------------------------

func TestBudgetFor(t *testing.T) {
	if got := budgetFor(100, 20); got != 20 {
		t.Errorf("budgetFor(100,20) = %d, want 20", got)
	}
	if got := budgetFor(8, 20); got != 5 {
		t.Errorf("budgetFor(8,20) = %d, want 5 (margin never violated)", got)
	}
	if got := budgetFor(0, 20); got != 5 {
		t.Errorf("budgetFor(0,20) = %d, want floor 5", got)
	}
}

// --- intent fast-path ----------------------------------------------------

func TestFastPathKeyword(t *testing.T) {
	d, ok := fastPathKeyword("please run ls -la")
	if !ok || d.Tool != "SHELL.EXEC.v1" {
		t.Errorf("fastPathKeyword() = %+v, %v", d, ok)
	}
}

func TestIsMetaQuestion(t *testing.T) {
	if !isMetaQuestion("is it ok to delete this file?") {
		t.Error("expected meta-question detection")
	}
	if isMetaQuestion("delete this file please") {
		t.Error("did not expect a meta-question match")
	}
}

func TestJaccardTokenOverlap(t *testing.T) {
	if s := jaccardTokenOverlap([]string{"a", "b"}, []string{"a", "b"}); s != 1 {
		t.Errorf("identical sets = %v, want 1", s)
	}
	if s := jaccardTokenOverlap([]string{"a"}, []string{"b"}); s != 0 {
		t.Errorf("disjoint sets = %v, want 0", s)
	}
}

func TestClassifyIntent_MetaQuestionGuard(t *testing.T) {
	p, _ := newTestPulse(t, &fakeBrain{}, &fakeDispatch{}, &fakePerms{decision: tools.DecisionAllow}, nil)
	d, err := p.classifyIntent(context.Background(), 20, turnContext{userText: "can you do shell commands?"})
	if err != nil || d.Type != "chat" {
		t.Errorf("classifyIntent() = %+v, %v", d, err)
	}
}

// --- autoroute -----------------------------------------------------------

func TestComplexityScore_ShortSimpleMessageLow(t *testing.T) {
	if s := complexityScore("hi", 0); s >= 0.6 {
		t.Errorf("short simple message scored %v, want < 0.6", s)
	}
}

func TestComplexityScore_LongComplexMessageHigh(t *testing.T) {
	long := "Please refactor the architecture and optimize this algorithm, then explain why step 1 then step 2 then step 3 then step 4 works, comparing trade-offs in depth across many paragraphs of detailed technical analysis that goes well beyond six hundred characters of total length to really push the message-length component of the score upward as far as it can go."
	if s := complexityScore(long, 12); s < 0.6 {
		t.Errorf("long complex message scored %v, want >= 0.6", s)
	}
}

// --- execute loop --------------------------------------------------------

func TestHandleUserMessage_SingleStepActionCompletesWithoutLLM(t *testing.T) {
	dispatch := &fakeDispatch{result: tools.NewResult("ok: done")}
	brainFake := &fakeBrain{} // Continue should never be called
	p, _ := newTestPulse(t, brainFake, dispatch, &fakePerms{decision: tools.DecisionAllow}, nil)

	reply := p.HandleUserMessage(context.Background(), Request{ChatID: "c1", Text: "please run ls -la"})
	if reply.Err != nil {
		t.Fatalf("HandleUserMessage() error = %v", reply.Err)
	}
	if dispatch.calls != 1 {
		t.Errorf("dispatch.calls = %d, want 1 (no continue-classifier round trip needed)", dispatch.calls)
	}
	if reply.Text != "ok: done" {
		t.Errorf("reply.Text = %q", reply.Text)
	}
}

func TestHandleUserMessage_AskPermissionDeniedReturnsApprovalRequired(t *testing.T) {
	dispatch := &fakeDispatch{result: tools.NewResult("should not run")}
	p, _ := newTestPulse(t, &fakeBrain{}, dispatch, &fakePerms{decision: tools.DecisionAsk}, &fakeApprovals{approve: false})

	reply := p.HandleUserMessage(context.Background(), Request{ChatID: "c2", Text: "run rm -rf /tmp/x"})
	if !reply.ApprovalNeeded {
		t.Error("expected ApprovalNeeded = true")
	}
	if dispatch.calls != 0 {
		t.Errorf("dispatch.calls = %d, want 0 (denied before dispatch)", dispatch.calls)
	}
}

func TestHandleUserMessage_AskPermissionApprovedRunsAndGrants(t *testing.T) {
	dispatch := &fakeDispatch{result: tools.NewResult("ran ok")}
	perms := &fakePerms{decision: tools.DecisionAsk}
	p, _ := newTestPulse(t, &fakeBrain{}, dispatch, perms, &fakeApprovals{approve: true})

	reply := p.HandleUserMessage(context.Background(), Request{ChatID: "c3", Text: "run something"})
	if reply.ApprovalNeeded {
		t.Error("did not expect ApprovalNeeded")
	}
	if dispatch.calls != 1 {
		t.Errorf("dispatch.calls = %d, want 1", dispatch.calls)
	}
	if len(perms.granted) != 1 || perms.granted[0] != "SHELL.EXEC.v1" {
		t.Errorf("perms.granted = %v", perms.granted)
	}
}

func TestExecuteLoop_ConsecutiveErrorsStopsAfterFive(t *testing.T) {
	dispatch := &fakeDispatch{result: tools.ErrorResult("SHELL.EXEC.v1", tools.ErrTool, "boom")}
	continueAction := &IntentDecision{Type: "action", Tool: "run something"}
	continueAction.Tool = "SHELL.EXEC.v1"
	brainFake := &fakeBrain{continueDone: false, continueAction: continueAction}
	p, _ := newTestPulse(t, brainFake, dispatch, &fakePerms{decision: tools.DecisionAllow}, nil)

	reply := p.HandleUserMessage(context.Background(), Request{ChatID: "c4", Text: "please run ls -la"})
	_ = reply
	if dispatch.calls != maxConsecutiveErrors {
		t.Errorf("dispatch.calls = %d, want %d (stops after consecutive-error cap)", dispatch.calls, maxConsecutiveErrors)
	}
}

func TestValidateAction_RejectsEmptyCmd(t *testing.T) {
	err := validateAction(IntentDecision{Type: "action", Tool: "SHELL.EXEC.v1", Args: map[string]any{"cmd": "   "}})
	if err == nil {
		t.Error("expected an error for an empty cmd")
	}
}

func TestStripJSONWrapper_UnwrapsReplyField(t *testing.T) {
	got := stripJSONWrapper(`{"reply": "hello there"}`)
	if got != "hello there" {
		t.Errorf("stripJSONWrapper() = %q", got)
	}
}

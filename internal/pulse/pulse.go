// Package pulse implements the Pulse Executor (spec.md §4.10): the
// per-user-request engine that classifies intent, dispatches tools,
// observes results, and decides to continue, repair, or finish, bounded
// by cycle and wall-clock budgets. Grounded on the teacher's
// internal/agent.Loop — a single struct holding every collaborator
// (provider, tools, sessions, permission policy) with one Run entry
// point iterating a bounded for-loop of LLM-call → tool-call → decide,
// generalized here from a fixed think/act/observe chat loop to the
// spec's five explicit phases and three-tier fast-path classification.
package pulse

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/nextlevelbuilder/machina/internal/config"
	"github.com/nextlevelbuilder/machina/internal/learning"
	"github.com/nextlevelbuilder/machina/internal/permissions"
	"github.com/nextlevelbuilder/machina/internal/retrieval"
	"github.com/nextlevelbuilder/machina/internal/tools"
	"github.com/nextlevelbuilder/machina/internal/tracing"
)

// Substrate is the narrow slice of internal/substrate.Substrate Pulse
// needs for wisdom retrieval and dialogue-state reconstruction.
type Substrate interface {
	Read(ctx context.Context, stream string, maxRecords int) ([]map[string]any, error)
	Query(ctx context.Context, stream, query string, limit int) ([]string, error)
}

// Request is one inbound user message (spec.md §4.10 "handle_user_message(chat_id, text, history) -> reply").
type Request struct {
	ChatID  string
	UserID  string
	Text    string
	Media   []string
	Stream  func(chunk string) // optional, intermediate-output sink
}

// Reply is the outcome of one pulse turn.
type Reply struct {
	Text           string
	Cycles         int
	UsedTools      []string
	ApprovalNeeded bool
	Interrupted    bool
	Err            error
}

// Dispatcher is the narrow slice of internal/tools.Dispatch Pulse drives.
type Dispatcher interface {
	Execute(ctx context.Context, name string, args map[string]any, callerApproved bool) *tools.Result
}

// PermissionChecker mirrors internal/permissions.Engine's decision surface,
// plus the session-grant mutation the execute loop performs on approval.
type PermissionChecker interface {
	Check(ctx context.Context, actionID string) tools.Decision
	GrantSession(actionID string)
}

var _ PermissionChecker = (*permissions.Engine)(nil)

// ApprovalRequester blocks the current turn for a user's approve/deny
// button press (spec.md §4.10 phase 3 step 2, "ask-level identifiers ...
// block this chat's turn waiting for the user's button press").
type ApprovalRequester interface {
	RequestApproval(ctx context.Context, chatID, actionID string, preview string, timeout time.Duration) (approved bool, err error)
}

// Pulse is the per-process Pulse Executor: all collaborators are
// injected, none are constructed internally (spec.md's dispatch/
// permission/brain/substrate interfaces are each satisfied by a
// concrete package built elsewhere in this repo).
type Pulse struct {
	cfg         config.PulseConfig
	brain       Brain
	dispatch    Dispatcher
	permissions PermissionChecker
	approvals   ApprovalRequester
	history     HistoryStore
	substrate   Substrate
	recorder    *learning.Recorder
	vector      retrieval.VectorBackend

	// chatLocks serializes concurrent turns for the same chat (spec.md §5
	// "a per-chat mutex serializes turns for the same chat").
	chatLocks sync.Map // chatID -> *sync.Mutex

	// backendOverride is the per-chat auto-routing override, cleared at
	// the end of every turn (spec.md §4.10 "Auto-routing").
	overrideMu      sync.Mutex
	backendOverride map[string]bool

	// cancelFlags lets an operator command set a /stop-equivalent per chat.
	cancelMu    sync.Mutex
	cancelFlags map[string]bool

	knownTools []string

	// dispatchSem bounds how many tool dispatches may run at once across
	// every chat (spec.md §5 "different chats run in parallel" — bounded
	// so a burst of concurrent turns can't exhaust host resources).
	dispatchSem *semaphore.Weighted
}

// dispatchConcurrency is the global in-flight tool-dispatch cap.
const dispatchConcurrency = 8

// New builds a Pulse Executor. knownTools is the full action-identifier
// list used by the keyword fast-path and the multi-step "all tools" plan.
func New(cfg config.PulseConfig, brain Brain, dispatch Dispatcher, perm PermissionChecker, approvals ApprovalRequester, history HistoryStore, sub Substrate, recorder *learning.Recorder, vec retrieval.VectorBackend, knownTools []string) *Pulse {
	return &Pulse{
		cfg:             cfg,
		brain:           brain,
		dispatch:        dispatch,
		permissions:     perm,
		approvals:       approvals,
		history:         history,
		substrate:       sub,
		recorder:        recorder,
		vector:          vec,
		backendOverride: make(map[string]bool),
		cancelFlags:     make(map[string]bool),
		knownTools:      knownTools,
		dispatchSem:     semaphore.NewWeighted(dispatchConcurrency),
	}
}

func (p *Pulse) chatLock(chatID string) *sync.Mutex {
	l, _ := p.chatLocks.LoadOrStore(chatID, &sync.Mutex{})
	return l.(*sync.Mutex)
}

// Stop sets the cancel flag for chatID; checked at the top of each cycle
// (spec.md §5 "Cancellation & timeout").
func (p *Pulse) Stop(chatID string) {
	p.cancelMu.Lock()
	defer p.cancelMu.Unlock()
	p.cancelFlags[chatID] = true
}

func (p *Pulse) cancelled(chatID string) bool {
	p.cancelMu.Lock()
	defer p.cancelMu.Unlock()
	return p.cancelFlags[chatID]
}

func (p *Pulse) clearCancel(chatID string) {
	p.cancelMu.Lock()
	defer p.cancelMu.Unlock()
	delete(p.cancelFlags, chatID)
}

// maxCycles and totalBudgetSec resolve the prod/dev budget pair (spec.md
// §4.10 "MAX_CYCLES (30 prod / 100 dev), TOTAL_BUDGET_SEC (600 / 3600)").
func (p *Pulse) maxCycles() int {
	if p.cfg.MaxCycles > 0 {
		return p.cfg.MaxCycles
	}
	if p.cfg.DevMode {
		return 100
	}
	return 30
}

func (p *Pulse) totalBudgetSec() int {
	if p.cfg.TotalBudgetSec > 0 {
		return p.cfg.TotalBudgetSec
	}
	if p.cfg.DevMode {
		return 3600
	}
	return 600
}

// HandleUserMessage runs all five phases for one user turn.
func (p *Pulse) HandleUserMessage(ctx context.Context, req Request) Reply {
	lock := p.chatLock(req.ChatID)
	lock.Lock()
	defer lock.Unlock()
	defer p.clearCancel(req.ChatID)

	// Refresh trace/span context for this turn (spec.md §5, mirroring the
	// autonomic tick's step-1 refresh).
	ctx, turnSpan := tracing.StartTurn(ctx, req.ChatID)
	defer turnSpan.End()

	turnStart := time.Now()
	budgetRemaining := func() int {
		elapsed := int(time.Since(turnStart).Seconds())
		rem := p.totalBudgetSec() - elapsed
		if rem < 0 {
			return 0
		}
		return rem
	}

	tctx, err := p.assembleContext(ctx, req)
	if err != nil {
		return Reply{Err: fmt.Errorf("context assembly: %w", err)}
	}

	p.maybeAutoRoute(req.ChatID, tctx)
	defer p.clearAutoRoute(req.ChatID)

	intent, err := p.classifyIntent(ctx, budgetFor(budgetRemaining(), 20), tctx)
	if err != nil {
		return Reply{Err: fmt.Errorf("intent classification: %w", err)}
	}

	plan := p.buildPlan(ctx, budgetFor(budgetRemaining(), 20), tctx, intent)
	if len(plan.Steps) > 0 {
		intent = plan.Steps[0]
		plan.Steps = plan.Steps[1:]
	}

	exec := p.executeLoop(ctx, req, tctx, intent, plan, budgetRemaining)
	reply := p.postProcess(ctx, req, tctx, exec, budgetFor(budgetRemaining(), 20))
	p.record(ctx, req, tctx, exec, reply)

	reply.Cycles = exec.cycles
	reply.UsedTools = exec.usedTools
	reply.ApprovalNeeded = exec.approvalNeeded
	reply.Interrupted = exec.interrupted
	return reply
}

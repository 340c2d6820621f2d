package pulse

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/nextlevelbuilder/machina/internal/tools"
)

const (
	defaultApprovalTimeout = 180 * time.Second
	maxConsecutiveErrors   = 5
	emptyRecoveryMax       = 2
)

// execState accumulates phase-3 outcomes across cycles.
type execState struct {
	cycles         int
	usedTools      []string
	lastResult     *tools.Result
	lastObservation string
	approvalNeeded bool
	interrupted    bool
	repairsLeft    int
	errorStreak    int
	lastSentOutput string
	finalText      string
	done           bool
}

// errorMarkers are substrings checked case-insensitively against dispatch
// output to detect a failed turn and enter self-repair rather than
// stopping outright (spec.md §7 "The Pulse loop observes error markers in
// output ... and enters self-repair").
var errorMarkers = []string{"error", "exception", "traceback", "failed", "not found", "denied"}

func looksLikeError(s string) bool {
	lower := strings.ToLower(s)
	for _, m := range errorMarkers {
		if strings.Contains(lower, m) {
			return true
		}
	}
	return false
}

// dispatchExecute runs one tool dispatch under the global concurrency cap
// (spec.md §5).
func (p *Pulse) dispatchExecute(ctx context.Context, name string, args map[string]any, callerApproved bool) *tools.Result {
	if err := p.dispatchSem.Acquire(ctx, 1); err != nil {
		return tools.ErrorResult(name, tools.ErrTimeout, "dispatch concurrency wait cancelled")
	}
	defer p.dispatchSem.Release(1)
	return p.dispatch.Execute(ctx, name, args, callerApproved)
}

// executeLoop implements phase 3 (spec.md §4.10 phase 3), up to
// p.maxCycles() cycles or until the turn's wall-clock budget is spent.
func (p *Pulse) executeLoop(ctx context.Context, req Request, tctx turnContext, intent IntentDecision, plan Plan, budgetRemaining func() int) execState {
	st := execState{repairsLeft: emptyRecoveryMax}
	steps := plan.Steps
	current := intent

	for st.cycles < p.maxCycles() {
		if p.cancelled(req.ChatID) {
			st.interrupted = true
			break
		}
		if budgetRemaining() <= 0 {
			break
		}
		st.cycles++

		if current.Type != "action" {
			st.finalText = ""
			st.done = true
			break
		}

		// 1. Validate current action payload.
		if err := validateAction(current); err != nil {
			st.lastObservation = fmt.Sprintf("[invalid action: %s]", err)
			break
		}

		// 2. Permission pre-check.
		decision := p.permissions.Check(ctx, current.Tool)
		callerApproved := decision == tools.DecisionAllow
		if decision == tools.DecisionAsk {
			approved, err := p.requestApproval(ctx, req.ChatID, current.Tool, current.Args, budgetRemaining)
			if err != nil || !approved {
				st.lastResult = tools.ErrorResult(current.Tool, tools.ErrApprovalRequired, "approval denied or timed out")
				st.approvalNeeded = true
				break
			}
			p.permissions.GrantSession(current.Tool)
			callerApproved = true
		} else if decision == tools.DecisionDeny {
			st.lastResult = tools.ErrorResult(current.Tool, tools.ErrApprovalRequired, "action denied by policy")
			st.approvalNeeded = true
			break
		}

		// 3. Dispatch.
		res := p.dispatchExecute(ctx, current.Tool, current.Args, callerApproved)
		st.usedTools = append(st.usedTools, current.Tool)
		st.lastResult = res

		// 4. Dispatch-level approval markers (blocked code/network use):
		// an ErrDangerousCodeBlocked or ErrNetworkCodeBlocked result is
		// treated as a fresh ask-gate rather than a hard failure. An
		// ErrApprovalRequired result is not re-asked here.
		if res.IsError && isApprovalKind(res.Kind) {
			approved, err := p.requestApproval(ctx, req.ChatID, current.Tool, current.Args, budgetRemaining)
			if err == nil && approved {
				p.permissions.GrantSession(current.Tool)
				res = p.dispatchExecute(ctx, current.Tool, current.Args, true)
				st.lastResult = res
			} else {
				st.approvalNeeded = true
				break
			}
		}

		// 5. Empty-command recovery.
		if res.IsError && res.Kind == tools.ErrEmptyOutput && st.repairsLeft > 0 {
			st.repairsLeft--
			st.lastObservation = "[empty command result, asking for a different action]"
			cd, err := p.brain.Continue(ctx, tctx.userText, st.lastObservation, st.usedTools, st.cycles, time.Duration(budgetFor(budgetRemaining(), 20))*time.Second)
			if err == nil && cd.Action != nil {
				current = *cd.Action
				continue
			}
			st.done = true
			break
		}

		// 6. Consecutive-error tracking.
		observation := res.ForLLM
		if res.IsError || looksLikeError(observation) {
			st.errorStreak++
		} else {
			st.errorStreak = 0
		}
		if st.errorStreak >= maxConsecutiveErrors {
			st.lastObservation = observation
			break
		}
		st.lastObservation = observation

		// 7. Intermediate output, deduplicated against the last send.
		if req.Stream != nil && observation != "" && observation != st.lastSentOutput {
			req.Stream(observation)
			st.lastSentOutput = observation
		}

		// 8. Decide next step.
		if current.Next != "" && !res.IsError {
			current = IntentDecision{Type: "action", Tool: current.Next, Source: "chained"}
			continue
		}
		if len(steps) > 0 {
			current = steps[0]
			steps = steps[1:]
			continue
		}
		if !res.IsError && len(plan.Steps) == 0 && current.Next == "" {
			st.finalText = observation
			st.done = true
			break
		}

		cd, err := p.brain.Continue(ctx, tctx.userText, observation, st.usedTools, st.cycles, time.Duration(budgetFor(budgetRemaining(), 20))*time.Second)
		if err != nil {
			st.finalText = observation
			st.done = true
			break
		}
		if cd.Done {
			// 9. If done but an error is present and repair rounds remain,
			// force one explicit repair round against a different tool.
			if res.IsError && st.repairsLeft > 0 {
				st.repairsLeft--
				repairObs := "[REPAIR_REQUIRED] " + observation
				repairCD, err := p.brain.Continue(ctx, tctx.userText, repairObs, st.usedTools, st.cycles, time.Duration(budgetFor(budgetRemaining(), 20))*time.Second)
				if err == nil && repairCD.Action != nil && repairCD.Action.Tool != current.Tool {
					current = *repairCD.Action
					continue
				}
			}
			st.finalText = cd.Summary
			st.done = true
			break
		}
		if cd.Action == nil {
			st.finalText = observation
			st.done = true
			break
		}
		current = *cd.Action
	}

	if st.finalText == "" && st.lastObservation != "" {
		st.finalText = st.lastObservation
	}
	return st
}

// validateAction refuses empty cmd/code payloads (spec.md §4.10 phase 3
// step 1 "Validate current action payload (refuse empty cmd / empty code)").
func validateAction(intent IntentDecision) error {
	if intent.Tool == "" {
		return fmt.Errorf("missing tool")
	}
	if cmd, ok := intent.Args["cmd"].(string); ok && strings.TrimSpace(cmd) == "" {
		return fmt.Errorf("empty cmd")
	}
	if code, ok := intent.Args["code"].(string); ok && strings.TrimSpace(code) == "" {
		return fmt.Errorf("empty code")
	}
	return nil
}

func isApprovalKind(k tools.ErrorKind) bool {
	return k == tools.ErrDangerousCodeBlocked || k == tools.ErrNetworkCodeBlocked
}

// requestApproval blocks the chat's turn for the user's approve/deny
// press, serialized by the per-chat lock already held by
// HandleUserMessage (spec.md §4.10 phase 3 step 2).
func (p *Pulse) requestApproval(ctx context.Context, chatID, actionID string, args map[string]any, budgetRemaining func() int) (bool, error) {
	if p.approvals == nil {
		return false, fmt.Errorf("no approval channel configured")
	}
	timeout := defaultApprovalTimeout
	if rem := budgetRemaining(); rem > 0 && time.Duration(rem)*time.Second < timeout {
		timeout = time.Duration(rem) * time.Second
	}
	preview := fmt.Sprintf("%v", args)
	return p.approvals.RequestApproval(ctx, chatID, actionID, preview, timeout)
}

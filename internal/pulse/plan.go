package pulse

import (
	"context"
	"strings"
	"time"
)

// Plan is the phase-2 output: a queued sequence of steps beyond the
// initial intent (spec.md §4.10 phase 2 "a sequence of steps; the first
// step becomes the initial intent, the rest queue up").
type Plan struct {
	Steps []IntentDecision
}

// multiStepMarkers are the textual cues phase 2 looks for before
// building a plan at all (spec.md §4.10 phase 2 "if the request contains
// multi-step markers").
var multiStepMarkers = []string{" then ", " after that", "step 1", "first,", " and then", "; then"}

func hasMultiStepMarkers(text string) bool {
	lower := strings.ToLower(text)
	for _, m := range multiStepMarkers {
		if strings.Contains(lower, m) {
			return true
		}
	}
	return false
}

// buildPlan builds either a deterministic "all known tools" plan (when
// the request is generic, e.g. "try everything") or asks the brain for a
// structured plan (spec.md §4.10 phase 2). Returns an empty Plan when no
// multi-step markers are present — the initial intent already carries
// the whole turn.
func (p *Pulse) buildPlan(ctx context.Context, timeoutSec int, tctx turnContext, intent IntentDecision) Plan {
	if !hasMultiStepMarkers(tctx.userText) {
		return Plan{}
	}
	if strings.Contains(strings.ToLower(tctx.userText), "try everything") {
		return p.allToolsPlan()
	}
	steps, err := p.brain.Plan(ctx, tctx.userText, time.Duration(timeoutSec)*time.Second)
	if err != nil || len(steps) == 0 {
		return Plan{}
	}
	return Plan{Steps: steps}
}

// allToolsPlan is the deterministic fallback plan: one action step per
// known tool, in registration order.
func (p *Pulse) allToolsPlan() Plan {
	steps := make([]IntentDecision, 0, len(p.knownTools))
	for _, tool := range p.knownTools {
		steps = append(steps, IntentDecision{Type: "action", Tool: tool, Source: "deterministic-plan"})
	}
	return Plan{Steps: steps}
}

package pulse

import "strings"

// complexityKeywords nudge the auto-route score up when present (spec.md
// §4.10 "Auto-routing ... complexity score from message length,
// complexity keywords, multi-step markers, and history depth").
var complexityKeywords = []string{"refactor", "architecture", "design", "optimize", "debug", "analyze", "compare", "explain why", "trade-off", "algorithm"}

// complexityScore returns a [0,1] score; >= 0.6 triggers a one-turn
// paid-backend override.
func complexityScore(text string, historyDepth int) float64 {
	score := 0.0

	switch {
	case len(text) > 600:
		score += 0.3
	case len(text) > 250:
		score += 0.15
	}

	lower := strings.ToLower(text)
	kwHits := 0
	for _, kw := range complexityKeywords {
		if strings.Contains(lower, kw) {
			kwHits++
		}
	}
	if kwHits > 0 {
		score += 0.1 + 0.1*float64(min(kwHits, 3))
	}

	if hasMultiStepMarkers(text) {
		score += 0.2
	}

	if historyDepth > 10 {
		score += 0.15
	} else if historyDepth > 4 {
		score += 0.05
	}

	if score > 1 {
		score = 1
	}
	return score
}

// maybeAutoRoute sets a one-turn per-chat backend override when enabled
// and the complexity score clears the threshold (spec.md §4.10
// "Score >= 0.6 triggers a per-chat backend override to the paid backend
// for this turn only. Never auto-downgrades.").
func (p *Pulse) maybeAutoRoute(chatID string, tctx turnContext) {
	if !p.cfg.AutoRoute {
		return
	}
	score := complexityScore(tctx.userText, len(tctx.recent))
	if score < 0.6 {
		return
	}
	p.overrideMu.Lock()
	defer p.overrideMu.Unlock()
	p.backendOverride[chatID] = true
}

// clearAutoRoute removes the turn's backend override (spec.md §4.10
// "Override is removed in Phase 5 to leave persistent state untouched.").
func (p *Pulse) clearAutoRoute(chatID string) {
	p.overrideMu.Lock()
	defer p.overrideMu.Unlock()
	delete(p.backendOverride, chatID)
}

// BackendOverridden reports whether chatID's current turn is routed to
// the paid backend by auto-routing.
func (p *Pulse) BackendOverridden(chatID string) bool {
	p.overrideMu.Lock()
	defer p.overrideMu.Unlock()
	return p.backendOverride[chatID]
}

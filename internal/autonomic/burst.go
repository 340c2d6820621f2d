package autonomic

import (
	"context"
	"time"
)

// burstUserActivityFloorSec: if the user becomes active again (idle drops
// below this) mid-burst, the session ends immediately (spec.md §4.9
// "user activity... ends immediately").
const burstUserActivityFloorSec = 30

// burstLevel pairs a name/handler/priority for pick_next_action's ranking.
type burstLevel struct {
	name     string
	handler  LevelHandler
	priority int
	done     *int64
	timing   func() bool // re-evaluated each turn against the current state
}

// pickNextAction ranks eligible levels by priority and returns the
// highest-ranked one, or nil if none are currently eligible — callers then
// fall back to a self-question/stimulus filler turn (spec.md §4.9
// "pick_next_action priority-picks among eligible levels + fallback
// self-question + fallback random-stimulus").
func pickNextAction(levels []burstLevel) *burstLevel {
	var best *burstLevel
	for i := range levels {
		l := &levels[i]
		if l.handler == nil || !l.timing() {
			continue
		}
		if best == nil || l.priority > best.priority {
			best = l
		}
	}
	return best
}

// runBurst extends an idle window into a bounded autonomous session,
// running whichever eligible level is highest priority each turn until a
// stall limit, wall-clock cap, user activity, or abort ends it (spec.md
// §4.9 Burst mode).
func (e *Engine) runBurst(ctx context.Context, state *State, abortCheck func() bool) {
	e.burstMu.Lock()
	if e.burstActive {
		e.burstMu.Unlock()
		return
	}
	e.burstActive = true
	e.burstMu.Unlock()
	defer func() {
		e.burstMu.Lock()
		e.burstActive = false
		e.burstMu.Unlock()
	}()

	start := time.Now()
	maxDuration := time.Duration(e.cfg.Burst.MaxDurationSec) * time.Second
	stallLimit := e.cfg.Burst.StallMax
	if stallLimit <= 0 {
		stallLimit = 3
	}
	consecutiveStalls := 0

	levels := []burstLevel{
		{name: "curiosity", handler: e.handlers.Curiosity, priority: 5, done: &state.LevelDone.Curiosity,
			timing: func() bool {
				return timingEligible(e.cfg.Curiosity, state.LevelDone.Curiosity, time.Now(), e.IdleSeconds(), 1)
			}},
		{name: "test", handler: e.handlers.Test, priority: 4, done: &state.LevelDone.Test,
			timing: func() bool {
				return !state.Stasis && timingEligible(e.cfg.Test, state.LevelDone.Test, time.Now(), e.IdleSeconds(), 1)
			}},
		{name: "heal", handler: e.handlers.Heal, priority: 4, done: &state.LevelDone.Heal,
			timing: func() bool {
				return !state.Stasis && timingEligible(e.cfg.Heal, state.LevelDone.Heal, time.Now(), e.IdleSeconds(), 1)
			}},
		{name: "web_explore", handler: e.handlers.WebExplore, priority: 3, done: &state.LevelDone.WebExplore,
			timing: func() bool {
				return timingEligible(e.cfg.WebExplore, state.LevelDone.WebExplore, time.Now(), e.IdleSeconds(), 1)
			}},
		{name: "reflect", handler: e.handlers.Reflect, priority: 2, done: &state.LevelDone.Reflect,
			timing: func() bool {
				return timingEligible(e.cfg.Reflect, state.LevelDone.Reflect, time.Now(), e.IdleSeconds(), 1)
			}},
		{name: "hygiene", handler: e.handlers.Hygiene, priority: 1, done: &state.LevelDone.Hygiene,
			timing: func() bool {
				return timingEligible(e.cfg.Hygiene, state.LevelDone.Hygiene, time.Now(), e.IdleSeconds(), 1)
			}},
	}

	for {
		if time.Since(start) > maxDuration {
			break
		}
		if e.IdleSeconds() < burstUserActivityFloorSec {
			break
		}
		if abortCheck != nil && abortCheck() {
			break
		}

		now := time.Now()
		productive := false

		if action := pickNextAction(levels); action != nil {
			ok, err := action.handler.Run(ctx, now)
			if err != nil {
				e.alerts.Enqueue(Alert{Level: action.name, Message: err.Error(), TsMs: now.UnixMilli()})
			} else if ok {
				*action.done = now.UnixMilli()
				productive = true
			}
		} else if e.handlers.Test != nil {
			// Fallback self-question: re-run the test-and-learn level even
			// if its own cooldown hasn't elapsed, as a low-priority filler.
			if ok, err := e.handlers.Test.Run(ctx, now); err == nil && ok {
				state.LevelDone.Test = now.UnixMilli()
				productive = true
			}
		}
		// else: fallback random-stimulus — no handler configured, turn is
		// simply counted as a stall.

		if productive {
			consecutiveStalls = 0
			state.Stasis = false
			state.StasisHashes = nil
		} else {
			consecutiveStalls++
			if consecutiveStalls >= stallLimit {
				break
			}
		}
	}

	state.LevelDone.Burst = time.Now().UnixMilli()
}

package autonomic

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/nextlevelbuilder/machina/internal/config"
	"github.com/nextlevelbuilder/machina/internal/tracing"
)

// AuditSink persists structured operational events (spec.md §3
// "autonomic_audit — structured operational events (level runs,
// rollbacks, errors)"); internal/substrate.Substrate's Append method
// satisfies this directly.
type AuditSink interface {
	Append(ctx context.Context, stream string, record map[string]any) error
}

const auditStream = "autonomic_audit"

// Handlers wires every level's concrete implementation into the engine.
// Any entry may be nil, in which case that level is skipped — useful for
// dev builds that haven't wired web-explore yet, or tests exercising one
// level in isolation.
type Handlers struct {
	Reflect    LevelHandler
	Test       LevelHandler
	Heal       LevelHandler
	DrainInbox LevelHandler
	Hygiene    LevelHandler
	Curiosity  LevelHandler
	WebExplore LevelHandler
}

// curiosityStasisSlowdown multiplies the curiosity level's configured
// cooldown while the engine is in stasis (spec.md §4.9 "curiosity has its
// own slower stasis cadence" — unlike test/heal it isn't suppressed
// outright, it just runs less often).
const curiosityStasisSlowdown = 3

// Engine is the heartbeat-driven scheduler described in spec.md §4.9.
type Engine struct {
	cfg       config.AutonomicConfig
	statePath string
	handlers  Handlers
	substrate Substrate
	alerts    *AlertQueue
	audit     AuditSink

	tickMu sync.Mutex // single-tick lock: only one tick runs at a time
	stateMu sync.Mutex
	state   State

	touchMu    sync.Mutex
	lastTouch  time.Time
	devMode    bool
	paused     bool

	burstMu     sync.Mutex
	burstActive bool

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// New constructs an Engine, loading any persisted state from statePath.
func New(cfg config.AutonomicConfig, statePath string, handlers Handlers, substrate Substrate, alerts *AlertQueue) (*Engine, error) {
	state, err := LoadState(statePath)
	if err != nil {
		return nil, err
	}
	if alerts == nil {
		alerts = NewAlertQueue()
	}
	return &Engine{
		cfg:       cfg,
		statePath: statePath,
		handlers:  handlers,
		substrate: substrate,
		alerts:    alerts,
		state:     state,
		lastTouch: time.Now(),
	}, nil
}

// Touch records user activity, resetting the idle clock (spec.md §4.9
// "touch()").
func (e *Engine) Touch() {
	e.touchMu.Lock()
	e.lastTouch = time.Now()
	e.touchMu.Unlock()
}

// IdleSeconds reports seconds since the last Touch (spec.md §4.9
// "idle_seconds()").
func (e *Engine) IdleSeconds() float64 {
	e.touchMu.Lock()
	last := e.lastTouch
	e.touchMu.Unlock()
	return time.Since(last).Seconds()
}

// SetMode toggles the dev-exploration profile (spec.md §4.9 "set_mode(dev)").
// Level timing itself comes from config (already profile-aware via
// internal/config's dev-explore overlay); this flag changes neither timing
// nor curiosity's limits and is only reported through DevMode/GetStatus.
func (e *Engine) SetMode(dev bool) {
	e.touchMu.Lock()
	e.devMode = dev
	e.touchMu.Unlock()
}

// DevMode reports the current mode flag.
func (e *Engine) DevMode() bool {
	e.touchMu.Lock()
	defer e.touchMu.Unlock()
	return e.devMode
}

// Pause suspends future ticks without discarding state (used by graceful
// shutdown and by operator commands).
func (e *Engine) Pause() {
	e.touchMu.Lock()
	e.paused = true
	e.touchMu.Unlock()
}

func (e *Engine) Resume() {
	e.touchMu.Lock()
	e.paused = false
	e.touchMu.Unlock()
}

func (e *Engine) Paused() bool {
	e.touchMu.Lock()
	defer e.touchMu.Unlock()
	return e.paused
}

// Alerts exposes the engine's alert queue for an operator-bus drainer.
func (e *Engine) Alerts() *AlertQueue { return e.alerts }

// SetAuditSink wires a destination for per-level autonomic_audit records
// (spec.md §3). Optional: a nil sink (the default) just skips auditing.
func (e *Engine) SetAuditSink(sink AuditSink) { e.audit = sink }

func (e *Engine) recordAudit(ctx context.Context, level string, productive bool, errMsg string) {
	if e.audit == nil {
		return
	}
	traceID, spanID := tracing.IDs(ctx)
	record := map[string]any{
		"level":      level,
		"productive": productive,
		"ts_ms":      time.Now().UnixMilli(),
	}
	if errMsg != "" {
		record["error"] = errMsg
	}
	if traceID != "" {
		record["trace_id"] = traceID
	}
	if spanID != "" {
		record["span_id"] = spanID
	}
	_ = e.audit.Append(ctx, auditStream, record)
}

// GetStatus returns a snapshot of engine state for the status command/TUI
// (spec.md §4.9 "get_status()").
type Status struct {
	LevelDone   LevelDone `json:"level_done"`
	Stasis      bool      `json:"stasis"`
	IdleSeconds float64   `json:"idle_seconds"`
	BurstActive bool      `json:"burst_active"`
	Paused      bool      `json:"paused"`
	DevMode     bool      `json:"dev_mode"`
	AlertsQueued int      `json:"alerts_queued"`
}

func (e *Engine) GetStatus() Status {
	e.stateMu.Lock()
	st := e.state
	e.stateMu.Unlock()

	e.burstMu.Lock()
	burst := e.burstActive
	e.burstMu.Unlock()

	return Status{
		LevelDone:    st.LevelDone,
		Stasis:       st.Stasis,
		IdleSeconds:  e.IdleSeconds(),
		BurstActive:  burst,
		Paused:       e.Paused(),
		DevMode:      e.DevMode(),
		AlertsQueued: e.alerts.Len(),
	}
}

func elapsedMs(lastMs int64, now time.Time) int64 {
	if lastMs == 0 {
		return 1 << 62 // "never run" — always past any cooldown
	}
	return now.UnixMilli() - lastMs
}

func timingEligible(t config.LevelTiming, lastMs int64, now time.Time, idleSec float64, rateMultiplier float64) bool {
	if idleSec < float64(t.IdleSec) {
		return false
	}
	rate := float64(t.RateSec) * rateMultiplier
	return float64(elapsedMs(lastMs, now)) >= rate*1000
}

// Tick runs one full pass over every level in documented order (spec.md
// §4.9 "reflect → test → heal → drain-inbox → hygiene → curiosity →
// web-explore → burst"), refreshing the stasis detector first. abortCheck,
// when non-nil, is polled between levels and causes a clean early return.
func (e *Engine) Tick(ctx context.Context, abortCheck func() bool) error {
	if e.Paused() {
		return nil
	}
	e.tickMu.Lock()
	defer e.tickMu.Unlock()

	if abortCheck != nil && abortCheck() {
		return nil
	}

	// Step 1 (spec.md §4.9): refresh trace/span context for this tick;
	// every level handler and alert raised below inherits it.
	ctx, tickSpan := tracing.StartTick(ctx)
	defer tickSpan.End()

	now := time.Now()
	idleSec := e.IdleSeconds()

	e.stateMu.Lock()
	state := e.state
	e.stateMu.Unlock()

	if e.substrate != nil {
		if hash, err := stateHash(ctx, e.substrate, now.UnixMilli()); err == nil {
			updateStasis(&state, hash, e.cfg.Stasis.Threshold, now.UnixMilli())
		}
	}
	stasis := state.Stasis

	runLevel := func(name string, h LevelHandler, eligible bool, done *int64) {
		if h == nil || !eligible {
			return
		}
		if abortCheck != nil && abortCheck() {
			return
		}
		levelCtx, levelSpan := tracing.StartLevel(ctx, name)
		productive, err := h.Run(levelCtx, now)
		levelSpan.End()
		if err != nil {
			traceID, spanID := tracing.IDs(levelCtx)
			e.alerts.Enqueue(Alert{Level: name, Message: err.Error(), TsMs: now.UnixMilli(), TraceID: traceID, SpanID: spanID})
			e.recordAudit(levelCtx, name, false, err.Error())
			return
		}
		e.recordAudit(levelCtx, name, productive, "")
		if productive {
			*done = now.UnixMilli()
		}
	}

	runLevel("reflect", e.handlers.Reflect,
		timingEligible(e.cfg.Reflect, state.LevelDone.Reflect, now, idleSec, 1), &state.LevelDone.Reflect)

	runLevel("test", e.handlers.Test,
		!stasis && timingEligible(e.cfg.Test, state.LevelDone.Test, now, idleSec, 1), &state.LevelDone.Test)

	maintenanceOK := inMaintenanceWindow(e.cfg.MaintenanceWindows, now)

	runLevel("heal", e.handlers.Heal,
		maintenanceOK && !stasis && timingEligible(e.cfg.Heal, state.LevelDone.Heal, now, idleSec, 1), &state.LevelDone.Heal)

	// drain-inbox has no cooldown/idle gate — it runs every tick and is
	// cheap (a directory listing) when the queue is empty.
	if (abortCheck == nil || !abortCheck()) && e.handlers.DrainInbox != nil {
		drainCtx, drainSpan := tracing.StartLevel(ctx, "drain_inbox")
		productive, err := e.handlers.DrainInbox.Run(drainCtx, now)
		drainSpan.End()
		if err != nil {
			traceID, spanID := tracing.IDs(drainCtx)
			e.alerts.Enqueue(Alert{Level: "drain_inbox", Message: err.Error(), TsMs: now.UnixMilli(), TraceID: traceID, SpanID: spanID})
			e.recordAudit(drainCtx, "drain_inbox", false, err.Error())
		} else {
			e.recordAudit(drainCtx, "drain_inbox", productive, "")
		}
	}

	runLevel("hygiene", e.handlers.Hygiene,
		timingEligible(e.cfg.Hygiene, state.LevelDone.Hygiene, now, idleSec, 1), &state.LevelDone.Hygiene)

	curiosityMultiplier := 1.0
	if stasis {
		curiosityMultiplier = curiosityStasisSlowdown
	}
	runLevel("curiosity", e.handlers.Curiosity,
		maintenanceOK && timingEligible(e.cfg.Curiosity, state.LevelDone.Curiosity, now, idleSec, curiosityMultiplier), &state.LevelDone.Curiosity)

	runLevel("web_explore", e.handlers.WebExplore,
		timingEligible(e.cfg.WebExplore, state.LevelDone.WebExplore, now, idleSec, 1), &state.LevelDone.WebExplore)

	if idleSec >= float64(e.cfg.Burst.IdleSec) &&
		timingEligible(config.LevelTiming{RateSec: e.cfg.Burst.RateSec}, state.LevelDone.Burst, now, 0, 1) {
		e.runBurst(ctx, &state, abortCheck)
	}

	state.SavedMs = time.Now().UnixMilli()
	e.stateMu.Lock()
	e.state = state
	e.stateMu.Unlock()

	return state.Save(e.statePath)
}

// RunOnce performs exactly one tick (spec.md §4.9 "run_once()").
func (e *Engine) RunOnce(ctx context.Context) error {
	return e.Tick(ctx, nil)
}

// RunForever starts the heartbeat loop on a dedicated non-daemon goroutine
// (spec.md §4.9 "heartbeat fires tick in a non-daemon worker thread").
// Cancel ctx or call Stop to end it.
func (e *Engine) RunForever(ctx context.Context) {
	e.stopCh = make(chan struct{})
	interval := time.Duration(e.cfg.HeartbeatSec) * time.Second
	if interval <= 0 {
		interval = 60 * time.Second
	}
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-e.stopCh:
				return
			case <-ticker.C:
				if err := e.Tick(ctx, nil); err != nil {
					e.alerts.Enqueue(Alert{Level: "tick", Message: err.Error(), TsMs: time.Now().UnixMilli()})
				}
			}
		}
	}()
}

// Stop ends the heartbeat loop and waits up to 10s for the in-flight tick
// to finish (spec.md §5 "graceful shutdown... join the current tick
// thread with a bounded wait").
func (e *Engine) Stop() error {
	if e.stopCh != nil {
		close(e.stopCh)
	}
	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(10 * time.Second):
	}

	e.stateMu.Lock()
	state := e.state
	e.stateMu.Unlock()
	if err := state.Save(e.statePath); err != nil {
		return fmt.Errorf("save engine state on shutdown: %w", err)
	}
	return nil
}

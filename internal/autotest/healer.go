package autotest

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/nextlevelbuilder/machina/internal/tools"
)

const (
	healerSandboxTimeout = 10 * time.Second
	healerRateLimit      = 2 // genesis attempts per hour (spec.md §4.7)
	healerRateWindow     = time.Hour
)

// DiagnosticGenerator asks an LLM for a short diagnostic/repair script
// addressing the most frequent failure category (spec.md §4.7 "generates a
// short diagnostic script via LLM"). Implemented by internal/brain.
type DiagnosticGenerator interface {
	GenerateDiagnostic(ctx context.Context, kind FailureKind, examples []TestResult) (lang, code string, err error)
}

// Healer classifies failing TestResults and attempts a rate-limited,
// sandbox-tested repair for the dominant failure category.
type Healer struct {
	gen      DiagnosticGenerator
	skills   SkillRecorder
	scratch  string
	mu       sync.Mutex
	attempts []time.Time
}

// NewHealer returns a Healer that stages diagnostic scripts under scratch.
func NewHealer(gen DiagnosticGenerator, skills SkillRecorder, scratch string) *Healer {
	return &Healer{gen: gen, skills: skills, scratch: scratch}
}

// HealResult is one Heal attempt's outcome.
type HealResult struct {
	Attempted bool
	Kind      FailureKind
	Accepted  bool
	Reason    string
}

// canAttempt enforces the two-per-hour genesis rate limit.
func (h *Healer) canAttempt(now time.Time) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	cutoff := now.Add(-healerRateWindow)
	kept := h.attempts[:0]
	for _, t := range h.attempts {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	h.attempts = kept
	return len(h.attempts) < healerRateLimit
}

func (h *Healer) recordAttempt(now time.Time) {
	h.mu.Lock()
	h.attempts = append(h.attempts, now)
	h.mu.Unlock()
}

// dominantFailure buckets failing results by FailureKind and returns the
// most frequent category plus its member results.
func dominantFailure(results []TestResult) (FailureKind, []TestResult) {
	buckets := map[FailureKind][]TestResult{}
	for _, r := range results {
		if r.Pass {
			continue
		}
		kind := ClassifyFailure(r)
		buckets[kind] = append(buckets[kind], r)
	}
	var kinds []FailureKind
	for k := range buckets {
		kinds = append(kinds, k)
	}
	sort.Slice(kinds, func(i, j int) bool { return len(buckets[kinds[i]]) > len(buckets[kinds[j]]) })
	if len(kinds) == 0 {
		return "", nil
	}
	top := kinds[0]
	return top, buckets[top]
}

// Heal attempts one repair cycle over a TestResult batch (spec.md §4.7
// "Healer").
func (h *Healer) Heal(ctx context.Context, now time.Time, results []TestResult) HealResult {
	kind, examples := dominantFailure(results)
	if kind == "" {
		return HealResult{}
	}
	if !h.canAttempt(now) {
		return HealResult{Attempted: false, Kind: kind, Reason: "rate limited"}
	}
	if h.gen == nil {
		return HealResult{Attempted: false, Kind: kind, Reason: "no diagnostic generator configured"}
	}
	h.recordAttempt(now)

	lang, code, err := h.gen.GenerateDiagnostic(ctx, kind, examples)
	if err != nil {
		return HealResult{Attempted: true, Kind: kind, Reason: err.Error()}
	}

	if k, blocked := tools.ClassifyUnsafeCode(code); blocked {
		return HealResult{Attempted: true, Kind: kind, Reason: "safety blocklist: " + string(k)}
	}

	out, err := h.sandboxTest(ctx, lang, code)
	if err != nil {
		return HealResult{Attempted: true, Kind: kind, Reason: err.Error()}
	}

	if h.skills != nil {
		if err := h.skills.RecordSkill(ctx, "heal_"+string(kind), lang, code, string(kind), out, "healer"); err != nil {
			return HealResult{Attempted: true, Kind: kind, Reason: err.Error()}
		}
	}
	return HealResult{Attempted: true, Kind: kind, Accepted: true}
}

func (h *Healer) sandboxTest(ctx context.Context, lang, code string) (string, error) {
	if err := os.MkdirAll(h.scratch, 0o755); err != nil {
		return "", err
	}

	var path string
	var runArgs []string
	switch lang {
	case "python":
		path = filepath.Join(h.scratch, "heal_diag.py")
		runArgs = []string{"python3"}
	case "bash":
		path = filepath.Join(h.scratch, "heal_diag.sh")
		runArgs = []string{"/bin/sh"}
	default:
		return "", fmt.Errorf("unsupported healer diagnostic language %q", lang)
	}
	if err := os.WriteFile(path, []byte(code), 0o644); err != nil {
		return "", err
	}
	defer os.Remove(path)

	runCtx, cancel := context.WithTimeout(ctx, healerSandboxTimeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, runArgs[0], append(runArgs[1:], path)...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if runCtx.Err() != nil {
			return "", fmt.Errorf("diagnostic script timed out")
		}
		detail := stderr.String()
		if detail == "" {
			detail = err.Error()
		}
		return "", fmt.Errorf("diagnostic script failed: %s", detail)
	}
	return stdout.String(), nil
}

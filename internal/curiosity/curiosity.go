// Package curiosity implements the Curiosity Driver (spec.md §4.8): scans
// capability gaps, synthesizes a candidate utility script, executes it in a
// sandbox, gates it through regression, and records or rolls back.
// Grounded on internal/tools/codeexec.go's exec.CommandContext sandbox
// pattern and internal/learning/recorder.go's read-then-dedup-then-append
// idiom for the genesis_suggestions/skills streams.
package curiosity

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/nextlevelbuilder/machina/internal/regression"
)

const streamExperiences = "experiences"

// Substrate is the narrow storage dependency this package needs, satisfied
// by *internal/substrate.Substrate.
type Substrate interface {
	Append(ctx context.Context, stream string, record map[string]any) error
	Read(ctx context.Context, stream string, maxRecords int) ([]map[string]any, error)
}

// SkillRecorder is the narrow learning dependency needed to record an
// accepted utility as a reusable skill, satisfied by *internal/learning.Recorder.
type SkillRecorder interface {
	RecordSkill(ctx context.Context, name, lang, code, request, result string, tags ...string) error
}

// RegressionGate is the narrow regression dependency, satisfied by
// *internal/regression.Gate.
type RegressionGate interface {
	Run(ctx context.Context) regression.Result
	Check(result regression.Result) bool
	Accept(result regression.Result) error
}

// GoalSynthesizer asks an LLM to propose a new utility addressing a gap.
// Implemented by internal/brain.GoalSynthesizer over the LLM client.
type GoalSynthesizer interface {
	SynthesizeGoal(ctx context.Context, gaps []Gap) (Goal, error)
}

// GapKind discriminates the three capability-gap shapes spec.md §4.8 names.
type GapKind string

const (
	GapHighFailureTool     GapKind = "high_failure_tool"
	GapUnhandledCapability GapKind = "unhandled_capability"
	GapUntestedTool        GapKind = "untested_tool"
)

// Gap is one capability gap surfaced by ScanGaps.
type Gap struct {
	Kind        GapKind `json:"kind"`
	Tool        string  `json:"tool,omitempty"`
	Uses        int     `json:"uses"`
	Failures    int     `json:"failures"`
	FailureRate float64 `json:"failure_rate"`
}

// Goal is a candidate utility script to execute and, if it survives the
// gates, record as a skill.
type Goal struct {
	Name     string  `json:"name"`
	Language string  `json:"language"`
	Code     string  `json:"code"`
	GapKind  GapKind `json:"gap_kind"`
	GapDesc  string  `json:"gap_desc"`
}

// Outcome is run_cycle's result.
type Outcome struct {
	Ran       bool
	Goal      Goal
	Accepted  bool
	Rejected  bool
	RejectWhy string
	RunErr    string
	Regressed bool
}

// Limits configures the per-day cap and per-cycle cooldown (spec.md §4.8).
// The defaults are ProductionLimits (10 / 1800 s) and DevLimits
// (20 / 600 s).
type Limits struct {
	DailyCap int
	Cooldown time.Duration
}

// ProductionLimits returns the normal-profile default limits (spec.md §6
// timing table: "Curiosity max-per-day / cooldown | 10 / 1800").
func ProductionLimits() Limits { return Limits{DailyCap: 10, Cooldown: 1800 * time.Second} }

// DevLimits returns the dev-explore-profile default limits (spec.md §6
// timing table: "20 / 600").
func DevLimits() Limits { return Limits{DailyCap: 20, Cooldown: 600 * time.Second} }

// Driver is the Curiosity Driver.
type Driver struct {
	sub        Substrate
	synth      GoalSynthesizer
	skills     SkillRecorder
	gate       RegressionGate
	utilsDir   string
	knownTools []string
	limits     Limits

	runsToday int
	dayStamp  string
	limiter   *rate.Limiter
}

// New returns a Driver that writes generated utilities under utilsDir
// (spec.md §9 "work/scripts/utils/"). The per-cycle cooldown
// (spec.md §4.8 "Rate limits ... per-cycle cooldown") is enforced by a
// golang.org/x/time/rate.Limiter rather than a hand-rolled last-run
// timestamp comparison.
func New(sub Substrate, synth GoalSynthesizer, skills SkillRecorder, gate RegressionGate, utilsDir string, knownTools []string, limits Limits) *Driver {
	cooldown := limits.Cooldown
	var limiter *rate.Limiter
	if cooldown <= 0 {
		limiter = rate.NewLimiter(rate.Inf, 1)
	} else {
		limiter = rate.NewLimiter(rate.Every(cooldown), 1)
	}
	return &Driver{
		sub:        sub,
		synth:      synth,
		skills:     skills,
		gate:       gate,
		utilsDir:   utilsDir,
		knownTools: append([]string(nil), knownTools...),
		limits:     limits,
		limiter:    limiter,
	}
}

// CanRun reports whether a cycle may run now, resetting the daily counter on
// a date rollover (spec.md §4.8 "A daily-reset check runs on every can_run()").
// The cooldown check peeks the rate limiter without consuming a token —
// RunCycle consumes one itself once it actually proceeds.
func (d *Driver) CanRun(now time.Time) bool {
	today := now.Format("2006-01-02")
	if d.dayStamp != today {
		d.dayStamp = today
		d.runsToday = 0
	}
	if d.runsToday >= d.limits.DailyCap {
		return false
	}
	res := d.limiter.ReserveN(now, 1)
	if !res.OK() {
		return false
	}
	ok := res.DelayFrom(now) <= 0
	res.CancelAt(now)
	return ok
}

// ScanGaps inspects the last 200 experiences and the declared tool set,
// producing gaps of the three kinds spec.md §4.8 names.
func (d *Driver) ScanGaps(ctx context.Context) ([]Gap, error) {
	window, err := d.sub.Read(ctx, streamExperiences, 200)
	if err != nil {
		return nil, fmt.Errorf("read experiences: %w", err)
	}

	type stat struct {
		uses, failures int
	}
	stats := make(map[string]*stat)
	unhandled := 0
	for _, rec := range window {
		tool, _ := rec["tool_used"].(string)
		success, _ := rec["success"].(bool)
		if tool == "" {
			if !success {
				unhandled++
			}
			continue
		}
		st, ok := stats[tool]
		if !ok {
			st = &stat{}
			stats[tool] = st
		}
		st.uses++
		if !success {
			st.failures++
		}
	}

	var gaps []Gap
	for tool, st := range stats {
		if st.uses >= 3 {
			rate := float64(st.failures) / float64(st.uses)
			if rate > 0.4 {
				gaps = append(gaps, Gap{Kind: GapHighFailureTool, Tool: tool, Uses: st.uses, Failures: st.failures, FailureRate: rate})
			}
		}
	}
	if unhandled >= 3 {
		gaps = append(gaps, Gap{Kind: GapUnhandledCapability, Uses: unhandled})
	}
	for _, tool := range d.knownTools {
		if _, seen := stats[tool]; !seen {
			gaps = append(gaps, Gap{Kind: GapUntestedTool, Tool: tool})
		}
	}

	sort.Slice(gaps, func(i, j int) bool { return gapPriority(gaps[i]) > gapPriority(gaps[j]) })
	return gaps, nil
}

// gapPriority ranks high_failure_tool above unhandled_capability above
// untested_tool, matching spec.md §4.8's "highest-priority gap" language.
func gapPriority(g Gap) int {
	switch g.Kind {
	case GapHighFailureTool:
		return 3
	case GapUnhandledCapability:
		return 2
	default:
		return 1
	}
}

// SynthesizeGoal asks the configured GoalSynthesizer for a utility
// addressing the highest-priority gap, falling back to a deterministic
// templated goal on a nil synthesizer, an error, or an invalid response
// (spec.md §4.8 "ensuring the loop never dead-ends").
func (d *Driver) SynthesizeGoal(ctx context.Context, gaps []Gap) Goal {
	if len(gaps) == 0 {
		return fallbackGoal(Gap{Kind: GapUnhandledCapability})
	}
	top := gaps[0]

	if d.synth == nil {
		return fallbackGoal(top)
	}
	goal, err := d.synth.SynthesizeGoal(ctx, gaps)
	if err != nil || !validGoal(goal) {
		return fallbackGoal(top)
	}
	return goal
}

func validGoal(g Goal) bool {
	if strings.TrimSpace(g.Name) == "" || strings.TrimSpace(g.Code) == "" {
		return false
	}
	switch g.Language {
	case "python", "bash", "c", "cpp":
		return true
	default:
		return false
	}
}

// fallbackGoal builds a concrete diagnostic script templated from the gap
// kind (spec.md §4.8: "tool-failure summary, coverage planner, or
// request-token histogram").
func fallbackGoal(g Gap) Goal {
	switch g.Kind {
	case GapHighFailureTool:
		return Goal{
			Name:     "tool_failure_summary",
			Language: "python",
			GapKind:  g.Kind,
			GapDesc:  fmt.Sprintf("%s failing at rate %.2f over %d uses", g.Tool, g.FailureRate, g.Uses),
			Code: fmt.Sprintf(`tool = %q
uses = %d
failures = %d
rate = failures / uses if uses else 0.0
print(f"tool={tool} uses={uses} failures={failures} rate={rate:.2f}")
`, g.Tool, g.Uses, g.Failures),
		}
	case GapUnhandledCapability:
		return Goal{
			Name:     "request_token_histogram",
			Language: "python",
			GapKind:  g.Kind,
			GapDesc:  fmt.Sprintf("%d unhandled requests", g.Uses),
			Code: fmt.Sprintf(`unhandled = %d
print("unhandled_requests", unhandled)
buckets = {"low": 0, "medium": 0, "high": 0}
if unhandled < 5:
    buckets["low"] += 1
elif unhandled < 20:
    buckets["medium"] += 1
else:
    buckets["high"] += 1
print(buckets)
`, g.Uses),
		}
	default:
		return Goal{
			Name:     "coverage_planner",
			Language: "python",
			GapKind:  g.Kind,
			GapDesc:  fmt.Sprintf("tool %s never exercised", g.Tool),
			Code: fmt.Sprintf(`tool = %q
print(f"plan: add a scenario exercising {tool}")
`, g.Tool),
		}
	}
}

// domainWhitelist is the deterministic relevance-gate token set (spec.md
// §4.8 "doesn't share any token with a known-domain whitelist"). Chosen
// from the vocabulary this repo's own gap/goal vocabulary produces, so the
// fallback goals above always pass.
var domainWhitelist = map[string]bool{
	"tool": true, "failure": true, "summary": true, "coverage": true,
	"planner": true, "plan": true, "request": true, "token": true,
	"histogram": true, "test": true, "diagnostic": true, "script": true,
	"repair": true, "scan": true, "gap": true, "skill": true,
}

// RelevanceGate applies spec.md §4.8's deterministic pre-execution filter.
func (d *Driver) RelevanceGate(ctx context.Context, goal Goal) (string, bool) {
	if !sharesToken(goal.Name, domainWhitelist) {
		return "name shares no token with the domain whitelist", false
	}
	if len(goal.Code) < 30 {
		return "code too short", false
	}
	if len(goal.Code) > 10000 {
		return "code too long", false
	}
	hash := codeHash(goal.Code)
	existing, err := d.sub.Read(ctx, "skills", 0)
	if err == nil {
		for _, rec := range existing {
			if h, _ := rec["code_hash"].(string); h == hash {
				return "code hash matches an existing skill", false
			}
		}
	}
	return "", true
}

func sharesToken(name string, whitelist map[string]bool) bool {
	for _, part := range strings.FieldsFunc(strings.ToLower(name), func(r rune) bool {
		return r == '_' || r == '-' || r == ' ' || r == '.'
	}) {
		if whitelist[part] {
			return true
		}
	}
	return false
}

func codeHash(code string) string {
	sum := sha256.Sum256([]byte(code))
	return hex.EncodeToString(sum[:])
}

// sanitizeName strips path separators and traversal sequences from a
// goal's proposed name (spec.md §4.8 "sanitizes the proposed name against
// path traversal").
func sanitizeName(name string) string {
	name = filepath.Base(name)
	name = strings.ReplaceAll(name, "..", "")
	name = strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_', r == '-':
			return r
		default:
			return '_'
		}
	}, name)
	if name == "" {
		name = "utility"
	}
	return name
}

// utilityManifestEntry is one record in work/scripts/utils/manifest.json
// (spec.md §9).
type utilityManifestEntry struct {
	Name        string `json:"name"`
	Language    string `json:"language"`
	Path        string `json:"path"`
	Description string `json:"description"`
	CreatedMs   int64  `json:"created_ms"`
	Source      string `json:"source"`
}

func (d *Driver) appendManifest(entry utilityManifestEntry) error {
	path := filepath.Join(d.utilsDir, "manifest.json")
	var entries []utilityManifestEntry
	if data, err := os.ReadFile(path); err == nil {
		_ = json.Unmarshal(data, &entries)
	}
	entries = append(entries, entry)
	data, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

package learning

import (
	"context"
	"sort"
	"strings"
)

// ExtractInsights performs ExpeL-style insight extraction over the most
// recent insightWindowSize experiences (spec.md §4.5 "Insight
// extraction"): aggregates per-tool success/failure counts, classifies
// failures, and emits a `rules` insight plus any warranted genesis
// suggestions.
func (r *Recorder) ExtractInsights(ctx context.Context) error {
	window, err := r.sub.Read(ctx, streamExperiences, insightWindowSize)
	if err != nil {
		return err
	}
	if len(window) == 0 {
		return nil
	}

	stats := aggregateToolStats(window)
	failureTypes := classifyFailures(window)
	unhandled := countUnhandled(window)

	rules := buildRuleSet(stats, failureTypes)
	if len(rules) > 0 {
		r.mu.Lock()
		novel := r.isNovelRuleSet(rules)
		if novel {
			r.recentRuleSets = append(r.recentRuleSets, rules)
			if len(r.recentRuleSets) > 5 {
				r.recentRuleSets = r.recentRuleSets[len(r.recentRuleSets)-5:]
			}
		}
		r.mu.Unlock()

		if novel {
			quality := qualityScore(stats, rules)
			if quality >= 0.3 {
				if err := r.sub.Append(ctx, streamInsights, map[string]any{
					"ts_ms":         nowMs(),
					"type":          "rules",
					"quality_score": quality,
					"rules":         ruleSetToStrings(rules),
				}); err != nil {
					return err
				}
			}
		}
	}

	return r.maybeSuggestGenesis(ctx, stats, failureTypes, unhandled)
}

// toolStat aggregates one tool's outcomes across the window.
type toolStat struct {
	successes int
	failures  int
}

func (s toolStat) total() int { return s.successes + s.failures }
func (s toolStat) failureRate() float64 {
	if s.total() == 0 {
		return 0
	}
	return float64(s.failures) / float64(s.total())
}

func aggregateToolStats(window []map[string]any) map[string]*toolStat {
	stats := make(map[string]*toolStat)
	for _, rec := range window {
		tool, _ := rec["tool_used"].(string)
		if tool == "" {
			continue
		}
		st, ok := stats[tool]
		if !ok {
			st = &toolStat{}
			stats[tool] = st
		}
		if success, _ := rec["success"].(bool); success {
			st.successes++
		} else {
			st.failures++
		}
	}
	return stats
}

// classifyFailures buckets each failed experience's result preview into
// {parse, timeout, runtime} per spec.md §4.5.
func classifyFailures(window []map[string]any) map[string]int {
	counts := map[string]int{}
	for _, rec := range window {
		if success, _ := rec["success"].(bool); success {
			continue
		}
		preview, _ := rec["result_preview"].(string)
		counts[classifyFailurePreview(preview)]++
	}
	return counts
}

func classifyFailurePreview(preview string) string {
	lower := strings.ToLower(preview)
	switch {
	case strings.Contains(lower, "timeout") || strings.Contains(lower, "timed out"):
		return "timeout"
	case strings.Contains(lower, "parse") || strings.Contains(lower, "syntax") || strings.Contains(lower, "unmarshal") || strings.Contains(lower, "json"):
		return "parse"
	default:
		return "runtime"
	}
}

func countUnhandled(window []map[string]any) int {
	n := 0
	for _, rec := range window {
		if tool, _ := rec["tool_used"].(string); tool == "" {
			n++
		}
	}
	return n
}

// buildRuleSet derives a small set of textual rules from aggregated stats:
// one rule per tool whose failure rate exceeds 0.5 with enough samples,
// plus one per dominant failure type.
func buildRuleSet(stats map[string]*toolStat, failureTypes map[string]int) map[string]bool {
	rules := make(map[string]bool)
	for tool, st := range stats {
		if st.total() >= 3 && st.failureRate() > 0.5 {
			rules["avoid_unless_needed:"+tool] = true
		}
	}
	for kind, count := range failureTypes {
		if count >= 3 {
			rules["watch_failure_type:"+kind] = true
		}
	}
	return rules
}

func ruleSetToStrings(rules map[string]bool) []string {
	out := make([]string, 0, len(rules))
	for r := range rules {
		out = append(out, r)
	}
	sort.Strings(out)
	return out
}

// isNovelRuleSet reports whether rules differs from every recent `rules`
// insight by at least 40% under Jaccard distance (spec.md §4.5).
func (r *Recorder) isNovelRuleSet(rules map[string]bool) bool {
	for _, prior := range r.recentRuleSets {
		if jaccardSimilarity(rules, prior) > 0.6 {
			return false
		}
	}
	return true
}

func jaccardSimilarity(a, b map[string]bool) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 1
	}
	intersection := 0
	union := make(map[string]bool, len(a)+len(b))
	for k := range a {
		union[k] = true
		if b[k] {
			intersection++
		}
	}
	for k := range b {
		union[k] = true
	}
	if len(union) == 0 {
		return 1
	}
	return float64(intersection) / float64(len(union))
}

// qualityScore computes quality_score = 0.4*data_score + 0.6*specificity_score
// (spec.md §4.5). data_score rewards having enough samples backing the
// rules; specificity_score rewards a tighter, non-trivial rule set.
func qualityScore(stats map[string]*toolStat, rules map[string]bool) float64 {
	total := 0
	for _, st := range stats {
		total += st.total()
	}
	dataScore := clamp01(float64(total) / float64(insightWindowSize))

	specificity := clamp01(float64(len(rules)) / 5.0)
	if len(rules) == 0 {
		specificity = 0
	}

	return 0.4*dataScore + 0.6*specificity
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// maybeSuggestGenesis emits genesis_suggestions records when any of
// spec.md §4.5's three genesis triggers fire: (a) a tool fails >=3x with
// rate > 0.6, (b) a failure type repeats >=3x, (c) >=3 unhandled requests.
func (r *Recorder) maybeSuggestGenesis(ctx context.Context, stats map[string]*toolStat, failureTypes map[string]int, unhandled int) error {
	for tool, st := range stats {
		if st.failures >= 3 && st.failureRate() > 0.6 {
			if err := r.appendGenesisSuggestion(ctx, "failing_tool:"+tool, "tool "+tool+" fails repeatedly; consider a replacement or repair"); err != nil {
				return err
			}
		}
	}
	for kind, count := range failureTypes {
		if count >= 3 {
			if err := r.appendGenesisSuggestion(ctx, "recurring_failure:"+kind, "recurring "+kind+" failures across tools; consider a dedicated handler"); err != nil {
				return err
			}
		}
	}
	if unhandled >= 3 {
		if err := r.appendGenesisSuggestion(ctx, "unhandled_requests", "multiple requests had no matching tool; consider a new action identifier"); err != nil {
			return err
		}
	}
	return nil
}

// appendGenesisSuggestion writes a genesis_suggestions record unless the
// same suggestion_key already exists (spec.md §3 invariant 3:
// "re-emitting the same key is a no-op").
func (r *Recorder) appendGenesisSuggestion(ctx context.Context, key, description string) error {
	existing, err := r.sub.Read(ctx, streamGenesisSuggestions, 0)
	if err != nil {
		return err
	}
	for _, rec := range existing {
		if k, _ := rec["suggestion_key"].(string); k == key {
			return nil
		}
	}
	return r.sub.Append(ctx, streamGenesisSuggestions, map[string]any{
		"ts_ms":          nowMs(),
		"suggestion_key": key,
		"description":    description,
	})
}

package pulse

import (
	"context"
	"strings"
	"time"

	"github.com/nextlevelbuilder/machina/internal/retrieval"
)

// keywordRules maps a few unambiguous command verbs straight to a tool
// identifier without any LLM involvement (spec.md §4.10 phase 1 tier a
// "keyword rules mapping to tool identifiers").
var keywordRules = []struct {
	keyword string
	tool    string
}{
	{"run ", "SHELL.EXEC.v1"},
	{"execute ", "SHELL.EXEC.v1"},
	{"list files", "FS.LIST.v1"},
	{"ls ", "FS.LIST.v1"},
	{"read file", "FS.READ.v1"},
	{"search the web", "WEB.SEARCH.v1"},
	{"search for", "WEB.SEARCH.v1"},
	{"install package", "PACKAGE.INSTALL.v1"},
	{"fetch url", "HTTP.GET.v1"},
	{"download", "HTTP.GET.v1"},
}

// policyRule is one distilled (input-pattern -> tool) rule learned from
// past experience, used as fast-path tier b.
type policyRule struct {
	tokens      []string
	tool        string
	successRate float64
}

const (
	policyJaccardMin     = 0.3
	policySuccessRateMin = 0.8
)

// jaccardTokenOverlap is the token-set Jaccard similarity used by fast-
// path tier b (spec.md §4.10 phase 1 "Jaccard-token overlap >= 0.3").
func jaccardTokenOverlap(a, b []string) float64 {
	setA := make(map[string]bool, len(a))
	for _, t := range a {
		setA[t] = true
	}
	setB := make(map[string]bool, len(b))
	for _, t := range b {
		setB[t] = true
	}
	if len(setA) == 0 || len(setB) == 0 {
		return 0
	}
	inter := 0
	for t := range setA {
		if setB[t] {
			inter++
		}
	}
	union := len(setA) + len(setB) - inter
	if union == 0 {
		return 0
	}
	return float64(inter) / float64(union)
}

// fastPathKeyword is tier (a): a direct substring match against a small
// set of unambiguous command verbs.
func fastPathKeyword(text string) (IntentDecision, bool) {
	lower := strings.ToLower(text)
	for _, r := range keywordRules {
		if strings.Contains(lower, r.keyword) {
			return IntentDecision{Type: "action", Tool: r.tool, Source: "keyword"}, true
		}
	}
	return IntentDecision{}, false
}

// fastPathPolicy is tier (b): a distilled policy rule whose token
// overlap with text clears the Jaccard and success-rate thresholds.
func fastPathPolicy(text string, rules []policyRule) (IntentDecision, bool) {
	tokens := retrieval.Tokenize(text)
	var best policyRule
	bestScore := 0.0
	for _, r := range rules {
		if r.successRate < policySuccessRateMin {
			continue
		}
		score := jaccardTokenOverlap(tokens, r.tokens)
		if score >= policyJaccardMin && score > bestScore {
			bestScore = score
			best = r
		}
	}
	if bestScore == 0 {
		return IntentDecision{}, false
	}
	return IntentDecision{Type: "action", Tool: best.tool, Source: "policy"}, true
}

// distilledPolicyRules derives fast-path tier-b rules from recent
// successful experiences recorded by internal/learning (spec.md §4.10
// phase 1 tier b "distilled policy rules from past experience").
func (p *Pulse) distilledPolicyRules(ctx context.Context) []policyRule {
	if p.substrate == nil {
		return nil
	}
	records, err := p.substrate.Read(ctx, memoryStream, 300)
	if err != nil {
		return nil
	}
	type toolStat struct {
		tokens    []string
		successes int
		total     int
	}
	stats := map[string]*toolStat{}
	for _, r := range records {
		tool, _ := r["tool_used"].(string)
		userText, _ := r["user_request"].(string)
		success, _ := r["success"].(bool)
		if tool == "" || userText == "" {
			continue
		}
		s, ok := stats[tool]
		if !ok {
			s = &toolStat{}
			stats[tool] = s
		}
		s.tokens = append(s.tokens, retrieval.Tokenize(userText)...)
		s.total++
		if success {
			s.successes++
		}
	}
	var rules []policyRule
	for tool, s := range stats {
		if s.total == 0 {
			continue
		}
		rules = append(rules, policyRule{
			tokens:      s.tokens,
			tool:        tool,
			successRate: float64(s.successes) / float64(s.total),
		})
	}
	return rules
}

// classifyIntent implements the full phase-1 three-tier fast-path,
// falling through to the LLM and applying the meta-question guardrail
// both before the fast path runs and after the LLM responds (spec.md
// §4.10 phase 1).
func (p *Pulse) classifyIntent(ctx context.Context, timeoutSec int, tctx turnContext) (IntentDecision, error) {
	if isMetaQuestion(tctx.userText) {
		return IntentDecision{Type: "chat", Source: "meta-question-guard"}, nil
	}
	if d, ok := fastPathKeyword(tctx.userText); ok {
		return d, nil
	}
	if d, ok := fastPathPolicy(tctx.userText, p.distilledPolicyRules(ctx)); ok {
		return d, nil
	}
	d, err := p.brain.ClassifyIntent(ctx, tctx.userText, time.Duration(timeoutSec)*time.Second)
	if err != nil {
		return IntentDecision{Type: "chat", Source: "llm-error-fallback"}, nil
	}
	if d.Type == "action" && isMetaQuestion(tctx.userText) {
		d.Type = "chat"
	}
	return d, nil
}

// Classify implements internal/autotest.IntentClassifier so the Tester
// can drive this exact code path in self-tests (spec.md §4.7 "invoking
// the Pulse intent classifier").
func (p *Pulse) Classify(ctx context.Context, input string) (string, error) {
	d, err := p.classifyIntent(ctx, 20, turnContext{userText: input})
	if err != nil {
		return "", err
	}
	return d.Type, nil
}

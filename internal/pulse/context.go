package pulse

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/nextlevelbuilder/machina/internal/retrieval"
)

// turnContext is everything phase 0 assembles for the rest of the turn
// (spec.md §4.10 phase 0).
type turnContext struct {
	chatID     string
	sessionID  string
	userText   string
	summary    string
	recent     []Turn
	memoryHits []retrieval.Hit
	rules      []string
	hints      []string
	entities   []string
	state      string // dialogue state: "new" | "continuation" | "followup"
}

const (
	wisdomTopK     = 5
	memoryStream   = "experiences"
	insightsStream = "insights"
	skillsStream   = "skills"
)

// assembleContext implements phase 0: sliding-window history (compressing
// older turns into the running summary first), session-id resolution,
// memory/wisdom retrieval, and a lightweight dialogue-state snapshot.
func (p *Pulse) assembleContext(ctx context.Context, req Request) (turnContext, error) {
	now := time.Now()
	maybeCompress(ctx, p.brain, p.history, req.ChatID, 10*time.Second)
	summary, recent := windowedHistory(p.history, req.ChatID)
	sessionID := resolveSessionID(p.history, req.ChatID, now, func() string { return uuid.NewString() })

	tctx := turnContext{
		chatID:    req.ChatID,
		sessionID: sessionID,
		userText:  req.Text,
		summary:   summary,
		recent:    recent,
	}

	if p.substrate != nil {
		tctx.memoryHits = p.retrieveMemory(ctx, req.Text)
		tctx.rules, tctx.hints = p.retrieveWisdom(ctx, req.Text)
	}
	tctx.entities = extractEntities(req.Text)
	tctx.state = dialogueState(recent, req.Text)
	return tctx, nil
}

// retrieveMemory runs a BM25 (optionally hybrid, when a vector backend is
// configured) search over the experiences stream (spec.md §4.10 phase 0
// "retrieve memory context via Retrieval").
func (p *Pulse) retrieveMemory(ctx context.Context, query string) []retrieval.Hit {
	records, err := p.substrate.Read(ctx, memoryStream, 500)
	if err != nil || len(records) == 0 {
		return nil
	}
	docs := make([]retrieval.Doc, 0, len(records))
	for _, r := range records {
		text, _ := r["user_request"].(string)
		docs = append(docs, retrieval.Doc{Record: r, Tokens: retrieval.Tokenize(text)})
	}
	if p.vector != nil {
		return retrieval.HybridSearch(docs, query, wisdomTopK, "", "", p.vector)
	}
	return retrieval.BM25Search(docs, query, wisdomTopK, "", "")
}

// retrieveWisdom pulls distilled rules and skill-name hints from the
// insights/skills streams (spec.md §4.10 phase 0 "retrieve wisdom (rules
// + alternatives from insights, skill hints via skill-search)").
func (p *Pulse) retrieveWisdom(ctx context.Context, query string) (rules, hints []string) {
	insights, err := p.substrate.Read(ctx, insightsStream, 50)
	if err == nil {
		for _, r := range insights {
			if rs, ok := r["rules"].([]any); ok {
				for _, v := range rs {
					if s, ok := v.(string); ok {
						rules = append(rules, s)
					}
				}
			}
		}
	}
	hitIDs, err := p.substrate.Query(ctx, skillsStream, query, 3)
	if err == nil {
		hints = hitIDs
	}
	return rules, hints
}

// metaQuestionMarkers match questions about capability rather than
// requests to use it (spec.md §4.10 phase 1 "is X ok?", "can you do Y?").
var metaQuestionMarkers = []string{"is it ok", "is that ok", "can you do", "are you able", "would you be able", "do you support", "can you handle"}

// extractEntities is a minimal heuristic entity snapshot: quoted
// substrings and bare file-path-like tokens, good enough to let the
// continue-classifier reference "the file I mentioned" style follow-ups
// without a full NER pass.
func extractEntities(text string) []string {
	var entities []string
	lower := text
	for {
		start := strings.IndexByte(lower, '"')
		if start < 0 {
			break
		}
		rest := lower[start+1:]
		end := strings.IndexByte(rest, '"')
		if end < 0 {
			break
		}
		entities = append(entities, rest[:end])
		lower = rest[end+1:]
	}
	for _, tok := range strings.Fields(text) {
		if strings.Contains(tok, "/") || strings.Contains(tok, ".") {
			entities = append(entities, tok)
		}
	}
	return entities
}

// dialogueState classifies the turn relative to recent history: "new"
// when there is no prior turn, "followup" when the message looks like a
// short continuation ("and then?", "what about X"), "continuation"
// otherwise.
func dialogueState(recent []Turn, text string) string {
	if len(recent) == 0 {
		return "new"
	}
	t := strings.ToLower(strings.TrimSpace(text))
	if len(t) < 24 || strings.HasPrefix(t, "and ") || strings.HasPrefix(t, "what about") || strings.HasPrefix(t, "also ") {
		return "followup"
	}
	return "continuation"
}

// isMetaQuestion reports whether text asks about a capability rather than
// invoking it (spec.md §4.10 phase 1 "fast-path rejects when any
// meta-question pattern is detected").
func isMetaQuestion(text string) bool {
	lower := strings.ToLower(text)
	for _, m := range metaQuestionMarkers {
		if strings.Contains(lower, m) {
			return true
		}
	}
	return false
}

package pulse

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/nextlevelbuilder/machina/internal/brain"
)

const maxAutoMemoryFacts = 3

// postProcess implements phase 4: coerce/strip the raw execution result
// into a reply string, recover embedded action JSON (self-correction),
// fall back to a conversational LLM call when empty, and run local-only
// auto-memory fact extraction (spec.md §4.10 phase 4).
func (p *Pulse) postProcess(ctx context.Context, req Request, tctx turnContext, exec execState, timeoutSec int) Reply {
	text := exec.finalText
	text = stripJSONWrapper(text)

	if embedded, ok := recoverEmbeddedAction(text); ok {
		text = embedded
	}

	if strings.TrimSpace(text) == "" && !exec.approvalNeeded && !exec.interrupted {
		chat, err := p.brain.Chat(ctx, tctx.userText, conversationalSystemPrompt, time.Duration(timeoutSec)*time.Second)
		if err == nil && chat != "" {
			text = chat
		}
	}

	p.autoMemoryFacts(ctx, req, tctx)

	return Reply{Text: text}
}

const conversationalSystemPrompt = "Reply conversationally and concisely; you have no further tool results to report this turn."

// stripJSONWrapper removes a bare JSON envelope the brain sometimes wraps
// plain text replies in, e.g. {"reply": "..."} (spec.md §4.10 phase 4
// "strip JSON wrappers").
func stripJSONWrapper(text string) string {
	trimmed := strings.TrimSpace(text)
	if !strings.HasPrefix(trimmed, "{") {
		return text
	}
	var wrapped struct {
		Reply string `json:"reply"`
		Text  string `json:"text"`
	}
	if err := json.Unmarshal([]byte(trimmed), &wrapped); err != nil {
		return text
	}
	if wrapped.Reply != "" {
		return wrapped.Reply
	}
	if wrapped.Text != "" {
		return wrapped.Text
	}
	return text
}

// recoverEmbeddedAction finds an action-shaped JSON object embedded in a
// conversational reply and, if the LLM clearly meant to take an action
// but only described it, surfaces that description verbatim rather than
// raw JSON (spec.md §4.10 phase 4 "recover embedded action JSON from
// replies (self-correction)").
func recoverEmbeddedAction(text string) (string, bool) {
	obj, ok := brain.ExtractJSON(text)
	if !ok {
		return text, false
	}
	var action IntentDecision
	if err := json.Unmarshal([]byte(obj), &action); err != nil || action.Type != "action" {
		return text, false
	}
	before := strings.TrimSpace(strings.Replace(text, obj, "", 1))
	if before != "" {
		return before, true
	}
	return text, false
}

// autoMemorySubstrate is the narrow interface auto-memory needs to
// persist detected facts (spec.md §4.10 phase 4 "persist up to 3
// previously-unseen facts via memory save + graph ingest").
type autoMemorySubstrate interface {
	Append(ctx context.Context, stream string, record map[string]any) error
	Ingest(ctx context.Context, entities []string, relations [][3]string) error
}

// autoMemoryFacts runs local-only fact detection over the user's message
// (never the paid backend, per spec.md §4.10 phase 4) and persists up to
// maxAutoMemoryFacts previously-unseen facts.
func (p *Pulse) autoMemoryFacts(ctx context.Context, req Request, tctx turnContext) {
	sub, ok := any(p.substrate).(autoMemorySubstrate)
	if !ok {
		return
	}
	facts := detectFacts(tctx.userText)
	seen := map[string]bool{}
	for _, h := range tctx.memoryHits {
		if f, ok := h.Record["fact"].(string); ok {
			seen[f] = true
		}
	}
	saved := 0
	for _, f := range facts {
		if saved >= maxAutoMemoryFacts {
			break
		}
		if seen[f] {
			continue
		}
		if err := sub.Append(ctx, "facts", map[string]any{
			"fact":    f,
			"chat_id": req.ChatID,
			"ts_ms":   time.Now().UnixMilli(),
		}); err != nil {
			continue
		}
		_ = sub.Ingest(ctx, []string{f}, nil)
		saved++
	}
}

// factMarkers are simple first-person declarative cues ("I am", "I like",
// "my name is") used to detect durable user facts without an LLM call.
var factMarkers = []string{"i am ", "i'm ", "my name is", "i like", "i work", "i live", "i prefer"}

func detectFacts(text string) []string {
	var facts []string
	for _, sentence := range strings.Split(text, ".") {
		s := strings.TrimSpace(sentence)
		if s == "" {
			continue
		}
		ls := strings.ToLower(s)
		for _, m := range factMarkers {
			if strings.Contains(ls, m) {
				facts = append(facts, s)
				break
			}
		}
	}
	return facts
}

package pulse

import (
	"context"
	"strings"
	"time"
)

// historyWindowTurns is the sliding-window size before summary compression
// kicks in (spec.md §4.10 phase 0 "sliding window ... when it exceeds 20 turns").
const historyWindowTurns = 20

// sessionIdleResetMin is how long a chat stays on the same session id
// (spec.md §4.10 phase 0 "resolve session-id (same id for 30 minutes of
// continuous activity)").
const sessionIdleResetMin = 30 * time.Minute

// Turn is one recorded exchange in a chat's history.
type Turn struct {
	Role    string // "user" | "assistant"
	Content string
	AtMs    int64
}

// HistoryStore is the narrow session-history slice Pulse needs. A
// concrete implementation persists turns and a rolling summary per chat
// id, grounded on the teacher's store.SessionStore (GetHistory/
// GetSummary/session-scoped accessors), generalized here to the spec's
// plain Turn/summary shape instead of provider-specific message structs.
type HistoryStore interface {
	History(chatID string) []Turn
	Summary(chatID string) string
	SetSummary(chatID, summary string)
	Append(chatID string, t Turn)
	LastActivity(chatID string) time.Time
	SessionID(chatID string) string
	SetSessionID(chatID, sessionID string)
}

// resolveSessionID returns the chat's existing session id if its last
// activity was within sessionIdleResetMin, otherwise mints a new one.
func resolveSessionID(h HistoryStore, chatID string, now time.Time, newID func() string) string {
	last := h.LastActivity(chatID)
	existing := h.SessionID(chatID)
	if existing != "" && !last.IsZero() && now.Sub(last) < sessionIdleResetMin {
		return existing
	}
	id := newID()
	h.SetSessionID(chatID, id)
	return id
}

// windowedHistory returns the most recent historyWindowTurns turns, along
// with whatever rolling summary already covers the turns before that
// (spec.md §4.10 phase 0 "summary compression when it exceeds 20 turns").
func windowedHistory(h HistoryStore, chatID string) (summary string, recent []Turn) {
	all := h.History(chatID)
	if len(all) <= historyWindowTurns {
		return h.Summary(chatID), all
	}
	return h.Summary(chatID), all[len(all)-historyWindowTurns:]
}

// needsCompression reports whether the full history has grown past the
// window and should be folded into the rolling summary.
func needsCompression(h HistoryStore, chatID string) (older []Turn, ok bool) {
	all := h.History(chatID)
	if len(all) <= historyWindowTurns {
		return nil, false
	}
	return all[:len(all)-historyWindowTurns], true
}

// renderTurns flattens turns into a plain-text transcript for summary
// prompts and brain.Chat fallbacks.
func renderTurns(turns []Turn) string {
	var b strings.Builder
	for _, t := range turns {
		b.WriteString(t.Role)
		b.WriteString(": ")
		b.WriteString(t.Content)
		b.WriteString("\n")
	}
	return b.String()
}

// maybeCompress folds aged-out turns into the chat's rolling summary via
// one brain.Summarize call, keeping only the summary plus the current
// window (spec.md §4.10 phase 0).
func maybeCompress(ctx context.Context, b Brain, h HistoryStore, chatID string, timeout time.Duration) {
	older, ok := needsCompression(h, chatID)
	if !ok {
		return
	}
	prior := h.Summary(chatID)
	text := prior
	if text != "" {
		text += "\n\n"
	}
	text += renderTurns(older)
	summary, err := b.Summarize(ctx, text, timeout)
	if err != nil || summary == "" {
		return
	}
	h.SetSummary(chatID, summary)
}

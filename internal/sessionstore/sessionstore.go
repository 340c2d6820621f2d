// Package sessionstore provides the concrete internal/pulse.HistoryStore
// and internal/pulse.ApprovalRequester implementations cmd/machina wires
// into the Pulse Executor. Grounded on the teacher's
// internal/sessions.Manager: an in-memory map guarded by a mutex, with
// one JSON file per chat persisted via a sanitized-filename,
// temp-file-then-rename atomic write.
package sessionstore

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/nextlevelbuilder/machina/internal/pulse"
)

type chatState struct {
	Turns     []pulse.Turn `json:"turns"`
	Summary   string       `json:"summary,omitempty"`
	LastAtMs  int64        `json:"last_at_ms,omitempty"`
	SessionID string       `json:"session_id,omitempty"`
}

// Store is a file-persisted pulse.HistoryStore: one JSON file per chat
// under dir, mirroring the teacher's per-session file layout.
type Store struct {
	mu    sync.RWMutex
	chats map[string]*chatState
	dir   string
}

// New builds a Store, loading any chat files already present under dir.
// An empty dir keeps everything in memory only (test/dev convenience).
func New(dir string) *Store {
	s := &Store{chats: make(map[string]*chatState), dir: dir}
	if dir != "" {
		os.MkdirAll(dir, 0o755)
		s.loadAll()
	}
	return s
}

func sanitizeChatID(chatID string) string {
	replacer := strings.NewReplacer("/", "_", "\\", "_", "..", "_", ":", "_")
	name := replacer.Replace(chatID)
	if name == "" {
		name = "_"
	}
	return name
}

func (s *Store) loadAll() {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return
	}
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		data, err := os.ReadFile(filepath.Join(s.dir, e.Name()))
		if err != nil {
			continue
		}
		var cs chatState
		if err := json.Unmarshal(data, &cs); err != nil {
			continue
		}
		chatID := strings.TrimSuffix(e.Name(), ".json")
		s.chats[chatID] = &cs
	}
}

func (s *Store) get(chatID string) *chatState {
	cs, ok := s.chats[chatID]
	if !ok {
		cs = &chatState{}
		s.chats[chatID] = cs
	}
	return cs
}

// History returns the chat's recorded turns.
func (s *Store) History(chatID string) []pulse.Turn {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cs, ok := s.chats[chatID]
	if !ok {
		return nil
	}
	out := make([]pulse.Turn, len(cs.Turns))
	copy(out, cs.Turns)
	return out
}

// Summary returns the chat's rolling compression summary.
func (s *Store) Summary(chatID string) string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if cs, ok := s.chats[chatID]; ok {
		return cs.Summary
	}
	return ""
}

// SetSummary replaces the chat's rolling summary.
func (s *Store) SetSummary(chatID, summary string) {
	s.mu.Lock()
	s.get(chatID).Summary = summary
	s.mu.Unlock()
	s.save(chatID)
}

// Append records one turn and advances last-activity.
func (s *Store) Append(chatID string, t pulse.Turn) {
	s.mu.Lock()
	cs := s.get(chatID)
	cs.Turns = append(cs.Turns, t)
	cs.LastAtMs = t.AtMs
	s.mu.Unlock()
	s.save(chatID)
}

// LastActivity returns the timestamp of the chat's most recent turn.
func (s *Store) LastActivity(chatID string) time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cs, ok := s.chats[chatID]
	if !ok || cs.LastAtMs == 0 {
		return time.Time{}
	}
	return time.UnixMilli(cs.LastAtMs)
}

// SessionID returns the chat's current session id, empty if none yet.
func (s *Store) SessionID(chatID string) string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if cs, ok := s.chats[chatID]; ok {
		return cs.SessionID
	}
	return ""
}

// SetSessionID assigns the chat's current session id.
func (s *Store) SetSessionID(chatID, sessionID string) {
	s.mu.Lock()
	s.get(chatID).SessionID = sessionID
	s.mu.Unlock()
	s.save(chatID)
}

// save atomically persists one chat's state (temp file then rename),
// mirroring internal/sessions.Manager.Save in the teacher repo.
func (s *Store) save(chatID string) {
	if s.dir == "" {
		return
	}
	s.mu.RLock()
	cs, ok := s.chats[chatID]
	var snapshot chatState
	if ok {
		snapshot = *cs
	}
	s.mu.RUnlock()
	if !ok {
		return
	}

	data, err := json.MarshalIndent(snapshot, "", "  ")
	if err != nil {
		return
	}

	name := sanitizeChatID(chatID)
	tmp, err := os.CreateTemp(s.dir, "chat-*.tmp")
	if err != nil {
		return
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return
	}
	tmp.Close()
	os.Rename(tmpPath, filepath.Join(s.dir, name+".json"))
}

var _ pulse.HistoryStore = (*Store)(nil)

// pendingApproval tracks one in-flight ask-level approval request.
type pendingApproval struct {
	resolved chan bool
}

// Approvals is the in-process pulse.ApprovalRequester implementation.
// Resolve settles a pending request by its actionID, but neither
// cmd/machina nor internal/opsbus calls it, so a pending request ends
// only by its timeout or by ctx cancellation.
type Approvals struct {
	mu      sync.Mutex
	pending map[string]*pendingApproval
}

// NewApprovals builds an empty approval broker.
func NewApprovals() *Approvals {
	return &Approvals{pending: make(map[string]*pendingApproval)}
}

func approvalKey(chatID, actionID string) string { return chatID + "\x00" + actionID }

// RequestApproval blocks until Resolve is called for this chat+action, the
// timeout elapses, or ctx is cancelled (spec.md §4.10 phase 3 step 2).
func (a *Approvals) RequestApproval(ctx context.Context, chatID, actionID, preview string, timeout time.Duration) (bool, error) {
	key := approvalKey(chatID, actionID)
	p := &pendingApproval{resolved: make(chan bool, 1)}

	a.mu.Lock()
	a.pending[key] = p
	a.mu.Unlock()
	defer func() {
		a.mu.Lock()
		delete(a.pending, key)
		a.mu.Unlock()
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case approved := <-p.resolved:
		return approved, nil
	case <-timer.C:
		return false, fmt.Errorf("approval timed out after %s", timeout)
	case <-ctx.Done():
		return false, ctx.Err()
	}
}

// Resolve delivers an operator's approve/deny decision for a pending
// request; it is a no-op if no request with that key is outstanding
// (already timed out, or never asked).
func (a *Approvals) Resolve(chatID, actionID string, approved bool) bool {
	a.mu.Lock()
	p, ok := a.pending[approvalKey(chatID, actionID)]
	a.mu.Unlock()
	if !ok {
		return false
	}
	select {
	case p.resolved <- approved:
		return true
	default:
		return false
	}
}

var _ pulse.ApprovalRequester = (*Approvals)(nil)

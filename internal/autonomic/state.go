// Package autonomic implements the Autonomic Engine (spec.md §4.9): a
// heartbeat-driven scheduler that runs reflect/test/heal/hygiene/curiosity/
// web-explore level handlers in a fixed order, detects stasis (no forward
// progress), and opportunistically extends idle time into burst sessions.
//
// Grounded on internal/curiosity.Driver's CanRun/cooldown-gate pattern,
// generalized from one level to six, and on internal/regression.Gate's
// single-record JSON persistence style (atomic write to work/memory/).
package autonomic

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// LevelDone holds the last-completed timestamp (unix ms) for each level,
// plus the last burst episode. Zero means never run.
type LevelDone struct {
	Reflect    int64 `json:"reflect"`
	Test       int64 `json:"test"`
	Heal       int64 `json:"heal"`
	Hygiene    int64 `json:"hygiene"`
	Curiosity  int64 `json:"curiosity"`
	WebExplore int64 `json:"web_explore"`
	Burst      int64 `json:"burst"`
}

// State is the engine's single-record persisted state
// (work/memory/autonomic_state.json per spec.md §6).
type State struct {
	LevelDone       LevelDone `json:"level_done"`
	StasisHashes    []string  `json:"stasis_hashes"`
	StasisEnteredMs int64     `json:"stasis_entered_ms"`
	SavedMs         int64     `json:"saved_ts"`

	// Stasis is never restored from disk (spec.md §4.9 "stasis is always
	// re-detected on load, never restored from the saved record") — it is
	// excluded from json so a stale on-disk value can never leak back in.
	Stasis bool `json:"-"`
}

// LoadState reads path, returning a zero State if it does not exist yet.
// Stasis is always false immediately after load.
func LoadState(path string) (State, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return State{}, nil
		}
		return State{}, fmt.Errorf("io_error: %w", err)
	}
	var s State
	if err := json.Unmarshal(data, &s); err != nil {
		return State{}, fmt.Errorf("corrupt autonomic state: %w", err)
	}
	s.Stasis = false
	return s, nil
}

// Save atomically persists s to path (temp file + rename, same pattern as
// internal/regression.Gate's baseline persistence).
func (s State) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("io_error: %w", err)
	}
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal state: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("io_error: %w", err)
	}
	return os.Rename(tmp, path)
}

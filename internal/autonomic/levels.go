package autonomic

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/nextlevelbuilder/machina/internal/storage"
)

// LevelHandler runs one autonomic level's work for a tick and reports
// whether it made forward progress (spec.md §4.9 "productive turn").
type LevelHandler interface {
	Run(ctx context.Context, now time.Time) (productive bool, err error)
}

// LevelHandlerFunc adapts a plain function to LevelHandler, so cmd/machina
// can wire each concrete package's method as a closure without this
// package importing learning/autotest/curiosity directly.
type LevelHandlerFunc func(ctx context.Context, now time.Time) (bool, error)

func (f LevelHandlerFunc) Run(ctx context.Context, now time.Time) (bool, error) { return f(ctx, now) }

// --- drain-inbox ---------------------------------------------------------

// JobValidator checks one dequeued job's payload before it's marked done.
// Implemented by whatever package owns self-enqueued validation jobs;
// a nil validator accepts every well-formed JSON job.
type JobValidator interface {
	Validate(ctx context.Context, job map[string]any) error
}

// InboxDrainer moves jobs between work/queue/{inbox,processing,done,failed}
// (spec.md §6 "directory move is the state transition"), grounded on
// internal/toolhost.Host's file-based subprocess staging idiom.
type InboxDrainer struct {
	root      string
	validator JobValidator
}

// NewInboxDrainer returns a drainer rooted at queueDir (work/queue).
func NewInboxDrainer(queueDir string, validator JobValidator) *InboxDrainer {
	return &InboxDrainer{root: queueDir, validator: validator}
}

func (d *InboxDrainer) dir(name string) string { return filepath.Join(d.root, name) }

// Run drains every file currently in inbox/, moving each through
// processing/ and into done/ or failed/.
func (d *InboxDrainer) Run(ctx context.Context, now time.Time) (bool, error) {
	inbox := d.dir("inbox")
	entries, err := os.ReadDir(inbox)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("io_error: %w", err)
	}
	if len(entries) == 0 {
		return false, nil
	}

	for _, dst := range []string{"processing", "done", "failed"} {
		if err := os.MkdirAll(d.dir(dst), 0o755); err != nil {
			return false, fmt.Errorf("io_error: %w", err)
		}
	}

	moved := false
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		src := filepath.Join(inbox, name)
		processing := filepath.Join(d.dir("processing"), name)
		if err := os.Rename(src, processing); err != nil {
			continue
		}
		moved = true

		outcome := "done"
		data, err := os.ReadFile(processing)
		if err != nil {
			outcome = "failed"
		} else {
			var job map[string]any
			if err := json.Unmarshal(data, &job); err != nil {
				outcome = "failed"
			} else if d.validator != nil {
				if err := d.validator.Validate(ctx, job); err != nil {
					outcome = "failed"
				}
			}
		}
		os.Rename(processing, filepath.Join(d.dir(outcome), name))
	}
	return moved, nil
}

// --- hygiene --------------------------------------------------------------

// HygieneStore is the narrow slice of *storage.Store the Hygiene level
// needs: reading a stream for trust-based pruning decisions and the
// already-implemented Compact/Rotate primitives (internal/storage's
// compact.go/rotate.go — spec.md §4.1).
type HygieneStore interface {
	Read(stream string, maxRecords int) ([]storage.Record, error)
	Compact(stream string, keyFn storage.DedupKeyFn, keepFn storage.KeepFn) error
	Rotate(stream string, maxRecords int, archive bool) error
}

// HygieneConfig bounds the Hygiene level's rotation/pruning/scratch-cleanup
// behavior (spec.md §6 size caps and scratch retention).
type HygieneConfig struct {
	RotateAfterRecords int           // rotate a stream once it exceeds this many records
	ScratchDir         string        // work/scripts — ephemeral run_* scratch
	ScratchMaxAge      time.Duration // delete run_* scripts older than this
}

func DefaultHygieneConfig(scratchDir string) HygieneConfig {
	return HygieneConfig{RotateAfterRecords: 5000, ScratchDir: scratchDir, ScratchMaxAge: 7 * 24 * time.Hour}
}

// Hygiene prunes low-trust records, rotates oversized streams, and deletes
// stale run scripts (spec.md §4.9 Hygiene level).
type Hygiene struct {
	store   HygieneStore
	reward  *RewardTracker
	cfg     HygieneConfig
	streams []string
	alerts  *AlertQueue
}

// NewHygiene returns a Hygiene handler operating over the given streams.
// alerts may be nil; when set, rotations and reward regressions are
// reported there with a human-readable record count (spec.md §6 size
// caps — operators read "kept 12,480" for the records left in the
// stream, not a raw int).
func NewHygiene(store HygieneStore, reward *RewardTracker, cfg HygieneConfig, streams []string, alerts *AlertQueue) *Hygiene {
	return &Hygiene{store: store, reward: reward, cfg: cfg, streams: streams, alerts: alerts}
}

func (h *Hygiene) Run(ctx context.Context, now time.Time) (bool, error) {
	nowMs := now.UnixMilli()
	productive := false

	for _, stream := range h.streams {
		records, err := h.store.Read(stream, 0)
		if err != nil {
			return productive, fmt.Errorf("io_error: %w", err)
		}
		if len(records) == 0 {
			continue
		}

		pruned := false
		keepFn := storage.KeepFn(func(r storage.Record) bool {
			if storage.EvictionEligible(r, nowMs) {
				pruned = true
				return false
			}
			return true
		})
		keyFn := storage.DedupKeyFn(recordKey)
		if err := h.store.Compact(stream, keyFn, keepFn); err != nil {
			return productive, fmt.Errorf("compact %s: %w", stream, err)
		}
		if pruned {
			productive = true
		}

		if len(records) > h.cfg.RotateAfterRecords {
			if err := h.store.Rotate(stream, h.cfg.RotateAfterRecords, true); err != nil {
				return productive, fmt.Errorf("rotate %s: %w", stream, err)
			}
			productive = true
			if h.alerts != nil {
				h.alerts.Enqueue(Alert{
					Level:   "hygiene",
					Message: fmt.Sprintf("rotated %s: kept %s, archived the rest", stream, humanize.Comma(int64(h.cfg.RotateAfterRecords))),
					TsMs:    nowMs,
				})
			}
		}
	}

	if h.reward != nil && h.reward.Regressed() {
		productive = true
		if h.alerts != nil {
			h.alerts.Enqueue(Alert{Level: "hygiene", Message: "reward tracker: success rate regressed >15% vs prior window", TsMs: nowMs})
		}
	}

	if cleaned, err := h.cleanStaleScratch(now); err == nil && cleaned {
		productive = true
	}

	return productive, nil
}

// recordKey extracts a dedup identity: the record's own "id" field when
// present, else a content hash so records without an explicit id still
// dedup on exact duplication rather than colliding on an empty key.
func recordKey(r storage.Record) string {
	if id, ok := r["id"].(string); ok && id != "" {
		return id
	}
	b, _ := json.Marshal(r)
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

func (h *Hygiene) cleanStaleScratch(now time.Time) (bool, error) {
	if h.cfg.ScratchDir == "" {
		return false, nil
	}
	entries, err := os.ReadDir(h.cfg.ScratchDir)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, err
	}
	cleaned := false
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if len(name) < 4 || name[:4] != "run_" {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		if now.Sub(info.ModTime()) > h.cfg.ScratchMaxAge {
			if os.Remove(filepath.Join(h.cfg.ScratchDir, name)) == nil {
				cleaned = true
			}
		}
	}
	return cleaned, nil
}

// Package learning implements the Learning Recorder (spec.md §4.5):
// experience/skill bookkeeping over the Learning Substrate's "experiences"
// and "skills" streams, periodic ExpeL-style insight extraction, and
// genesis-tool suggestion emission. Grounded on internal/sessions/manager.go's
// mutex-guarded accumulation pattern, generalized from per-session token
// counters to per-recorder experience counters.
package learning

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"sync"
	"time"
)

const (
	streamExperiences        = "experiences"
	streamSkills             = "skills"
	streamInsights           = "insights"
	streamGenesisSuggestions = "genesis_suggestions"

	insightExtractionEvery = 10
	insightWindowSize      = 30
	dedupWindowHours       = 24
)

// Substrate is the narrow slice of internal/substrate.Substrate the
// Recorder needs: append a record, and read back the tail of a stream for
// dedup/insight-window scans.
type Substrate interface {
	Append(ctx context.Context, stream string, record map[string]any) error
	Read(ctx context.Context, stream string, maxRecords int) ([]map[string]any, error)
}

// Recorder is the Learning Recorder (spec.md §4.5).
type Recorder struct {
	sub Substrate

	mu               sync.Mutex
	experienceCount  int
	recentRuleSets   []map[string]bool // most recent `rules`-type insight payloads, for Jaccard novelty check
}

func New(sub Substrate) *Recorder {
	return &Recorder{sub: sub}
}

func nowMs() int64 { return time.Now().UnixMilli() }

// RecordExperience appends an "experiences" record after the dummy/spam/
// duplicate gate, and triggers insight extraction every
// insightExtractionEvery accepted experiences (spec.md §4.5 "Experience
// gate").
func (r *Recorder) RecordExperience(ctx context.Context, userText, intent, toolUsed, result string, success bool, elapsedSec float64, opts ...ExperienceOption) error {
	exp := experienceOptions{}
	for _, o := range opts {
		o(&exp)
	}

	if !exp.sourceTagged && userText == result {
		return nil // dummy record: expected == got
	}

	recent, err := r.sub.Read(ctx, streamExperiences, 64)
	if err != nil {
		return fmt.Errorf("read experiences for gate: %w", err)
	}
	if isStressSpam(recent, userText) {
		return nil
	}
	if isDuplicate(recent, toolUsed, success, result, nowMs()) {
		return nil
	}

	record := map[string]any{
		"ts_ms":          nowMs(),
		"event":          "action_executed",
		"user_request":   truncate(userText, 2000),
		"intent_type":    intent,
		"tool_used":      toolUsed,
		"success":        success,
		"elapsed_sec":    elapsedSec,
		"result_preview": truncate(result, 500),
	}
	if exp.difficulty != "" {
		record["difficulty"] = exp.difficulty
	}
	if exp.source != "" {
		record["source"] = exp.source
	}
	if exp.sessionID != "" {
		record["session_id"] = exp.sessionID
	}

	if err := r.sub.Append(ctx, streamExperiences, record); err != nil {
		return fmt.Errorf("append experience: %w", err)
	}

	r.mu.Lock()
	r.experienceCount++
	due := r.experienceCount%insightExtractionEvery == 0
	r.mu.Unlock()

	if due {
		if err := r.ExtractInsights(ctx); err != nil {
			return fmt.Errorf("periodic insight extraction: %w", err)
		}
	}
	return nil
}

// ExperienceOption customizes an optional field on RecordExperience.
type ExperienceOption func(*experienceOptions)

type experienceOptions struct {
	difficulty   string
	source       string
	sessionID    string
	sourceTagged bool
}

// WithDifficulty tags the experience with easy/medium/hard.
func WithDifficulty(d string) ExperienceOption {
	return func(o *experienceOptions) { o.difficulty = d }
}

// WithSource short-circuits the dummy-record heuristic (spec.md §9 open
// question: "a source tag" — honored when callers set it, without being
// mandatory).
func WithSource(source string) ExperienceOption {
	return func(o *experienceOptions) {
		o.source = source
		o.sourceTagged = source != ""
	}
}

// WithSessionID tags the experience with its originating session.
func WithSessionID(id string) ExperienceOption {
	return func(o *experienceOptions) { o.sessionID = id }
}

// isStressSpam rejects a record whose user_request marker repeats
// identically in recent history (spec.md §4.5 "stress-test spam").
func isStressSpam(recent []map[string]any, userText string) bool {
	if strings.TrimSpace(userText) == "" {
		return false
	}
	count := 0
	for _, rec := range recent {
		if s, _ := rec["user_request"].(string); s == userText {
			count++
			if count >= 3 {
				return true
			}
		}
	}
	return false
}

// isDuplicate rejects a 24h duplicate sharing (tool, success, result
// prefix) with a recent experience.
func isDuplicate(recent []map[string]any, tool string, success bool, result string, now int64) bool {
	prefix := truncate(result, 120)
	cutoff := now - dedupWindowHours*3600*1000
	for _, rec := range recent {
		var ts int64
		switch v := rec["ts_ms"].(type) {
		case float64:
			ts = int64(v)
		case int64:
			ts = v
		}
		if ts < cutoff {
			continue
		}
		t, _ := rec["tool_used"].(string)
		s, _ := rec["success"].(bool)
		rp, _ := rec["result_preview"].(string)
		if t == tool && s == success && truncate(rp, 120) == prefix {
			return true
		}
	}
	return false
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

// codeHash is the canonical dedup key for skill records (spec.md §3
// "skills ... code_hash (SHA-256 of code bytes)").
func codeHash(code string) string {
	sum := sha256.Sum256([]byte(code))
	return hex.EncodeToString(sum[:])
}

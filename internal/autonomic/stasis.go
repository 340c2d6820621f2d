package autonomic

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"fmt"
)

// Substrate is the narrow read surface the stasis detector needs to
// fingerprint the current learning state (spec.md §4.9 stasis hash inputs:
// skills_count | experiences_count | insights_count | success_rates).
type Substrate interface {
	Read(ctx context.Context, stream string, maxRecords int) ([]map[string]any, error)
}

const (
	streamSkills      = "skills"
	streamExperiences = "experiences"
	streamInsights    = "insights"
)

// stateHash fingerprints the learning substrate's current shape into an
// 8-hex-char digest, bucketed to the nearest 10-minute window so that two
// ticks within the same bucket hash identically even if nowMs differs
// slightly (spec.md §4.9 "floor(now/600)").
func stateHash(ctx context.Context, sub Substrate, nowMs int64) (string, error) {
	skills, err := sub.Read(ctx, streamSkills, 0)
	if err != nil {
		return "", fmt.Errorf("io_error: %w", err)
	}
	experiences, err := sub.Read(ctx, streamExperiences, 0)
	if err != nil {
		return "", fmt.Errorf("io_error: %w", err)
	}
	insights, err := sub.Read(ctx, streamInsights, 0)
	if err != nil {
		return "", fmt.Errorf("io_error: %w", err)
	}

	rate := successRate(experiences, 100)
	bucket := nowMs / 1000 / 600
	input := fmt.Sprintf("%d|%d|%d|%.4f|%d", len(skills), len(experiences), len(insights), rate, bucket)
	sum := md5.Sum([]byte(input))
	return hex.EncodeToString(sum[:])[:8], nil
}

// successRate returns the fraction of the last window experiences with
// success==true, or 0 when there are none.
func successRate(experiences []map[string]any, window int) float64 {
	if len(experiences) > window {
		experiences = experiences[len(experiences)-window:]
	}
	if len(experiences) == 0 {
		return 0
	}
	successes := 0
	for _, e := range experiences {
		if ok, _ := e["success"].(bool); ok {
			successes++
		}
	}
	return float64(successes) / float64(len(experiences))
}

// stasisWindowSec is the auto-expire timeout for an entered-stasis episode
// (spec.md §4.9 "stasis auto-expires after 600s even if the hash window
// keeps matching").
const stasisWindowSec = 600

// updateStasis appends hash to the rolling window (capped to threshold
// entries), and reports whether the engine is now in stasis: the last
// threshold hashes are all identical, and the episode hasn't auto-expired.
func updateStasis(s *State, hash string, threshold int, nowMs int64) bool {
	if threshold <= 0 {
		threshold = 6
	}
	s.StasisHashes = append(s.StasisHashes, hash)
	if len(s.StasisHashes) > threshold {
		s.StasisHashes = s.StasisHashes[len(s.StasisHashes)-threshold:]
	}

	matched := len(s.StasisHashes) == threshold
	if matched {
		first := s.StasisHashes[0]
		for _, h := range s.StasisHashes[1:] {
			if h != first {
				matched = false
				break
			}
		}
	}

	if !matched {
		s.Stasis = false
		s.StasisEnteredMs = 0
		return false
	}

	if !s.Stasis {
		s.Stasis = true
		s.StasisEnteredMs = nowMs
		return true
	}

	if nowMs-s.StasisEnteredMs > stasisWindowSec*1000 {
		// Auto-expire: leave stasis and empty the hash window, so stasis is
		// only re-detected after threshold fresh matching hashes.
		s.Stasis = false
		s.StasisEnteredMs = 0
		s.StasisHashes = nil
		return false
	}
	return true
}

package storage

import (
	"math"
	"time"
)

// Trust computes spec.md §3's trust score:
// trust(record) = recency_factor · quality_factor
// recency_factor = 2^(-age_days/7)
// quality_factor ∈ {1.0 success, 0.3 failure, 0.5 unknown}
func Trust(record Record, nowMillis int64) float64 {
	ts, _ := record["ts_ms"].(float64)
	if ts == 0 {
		ts = float64(nowMillis)
	}
	ageDays := float64(nowMillis-int64(ts)) / float64(time.Hour.Milliseconds()*24)
	if ageDays < 0 {
		ageDays = 0
	}
	recency := math.Pow(2, -ageDays/7)

	quality := 0.5
	if success, ok := record["success"].(bool); ok {
		if success {
			quality = 1.0
		} else {
			quality = 0.3
		}
	}
	return recency * quality
}

// EvictionEligible reports whether a record's trust has fallen below the
// hygiene eviction floor and it has seen no observed reuse (spec.md §3
// "Records with trust < 0.1 and zero observed reuse are eligible for
// eviction").
func EvictionEligible(record Record, nowMillis int64) bool {
	reuse, _ := record["reuse_count"].(float64)
	return Trust(record, nowMillis) < 0.1 && reuse == 0
}

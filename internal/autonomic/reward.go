package autonomic

import "sync"

// RewardTracker is the "genesis value unit" rolling tracker referenced by
// spec.md's Supplemented Features: a trust-weighted success-rate window
// with a simple regression alarm, consumed by the Hygiene level to decide
// whether recent pruning/rotation correlates with a quality drop.
//
// Grounded on internal/learning's tool_stats failure-rate aggregation
// (insight.go's toolStat), generalized from per-tool counters to one
// rolling trust-weighted scalar window.
type RewardTracker struct {
	mu         sync.Mutex
	window     []float64
	windowSize int
}

// NewRewardTracker returns a tracker holding at most windowSize samples.
func NewRewardTracker(windowSize int) *RewardTracker {
	if windowSize <= 0 {
		windowSize = 50
	}
	return &RewardTracker{windowSize: windowSize}
}

// Record appends one trust-weighted success sample (trust * 1.0 on success,
// trust * 0.0 on failure — callers compute the product).
func (r *RewardTracker) Record(trustWeightedSuccess float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.window = append(r.window, trustWeightedSuccess)
	if len(r.window) > r.windowSize {
		r.window = r.window[len(r.window)-r.windowSize:]
	}
}

// Regressed reports whether the current half of the window averages more
// than 15% below the prior half — the regression alarm threshold.
func (r *RewardTracker) Regressed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := len(r.window)
	if n < 10 {
		return false
	}
	half := n / 2
	prior := average(r.window[:half])
	current := average(r.window[half:])
	if prior == 0 {
		return false
	}
	return (prior-current)/prior > 0.15
}

func average(vs []float64) float64 {
	if len(vs) == 0 {
		return 0
	}
	sum := 0.0
	for _, v := range vs {
		sum += v
	}
	return sum / float64(len(vs))
}

package autotest

import (
	"context"
)

// IntentClassifier invokes the Pulse intent classifier for one scenario's
// input text and returns the classified intent type (spec.md §4.7 "Tester
// runs each scenario by invoking the Pulse intent classifier ... and
// comparing the returned type against the expected type. No LLM ever
// judges its own output"). Implemented by internal/pulse: Pulse.Classify
// itself routes through the brain policy-driver subprocess/HTTP client, so
// binding Tester directly to a live *pulse.Pulse satisfies spec.md §4.7's
// "as a subprocess" external-call requirement without a second, redundant
// subprocess hop.
type IntentClassifier interface {
	Classify(ctx context.Context, input string) (string, error)
}

// Tester runs scenario batches against an IntentClassifier.
type Tester struct {
	classifier IntentClassifier
}

// NewTester returns a Tester invoking classifier for each scenario.
func NewTester(classifier IntentClassifier) *Tester {
	return &Tester{classifier: classifier}
}

// RunBatch executes scenarios in order, stopping early if abort returns
// true for the next index (spec.md §4.7 "Batch can be interrupted mid-way
// by a caller-supplied abort predicate").
func (t *Tester) RunBatch(ctx context.Context, scenarios []Scenario, abort func(next int) bool) []TestResult {
	results := make([]TestResult, 0, len(scenarios))
	for i, sc := range scenarios {
		if abort != nil && abort(i) {
			break
		}
		got, err := t.classifier.Classify(ctx, sc.Input)
		res := TestResult{Scenario: sc, Got: got}
		if err != nil {
			res.Err = err.Error()
		} else {
			res.Pass = got == sc.Expected
		}
		results = append(results, res)
	}
	return results
}

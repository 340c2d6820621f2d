package pulse

// budgetFor implements spec.md §4.10's budget_for_phase(base) = max(5,
// min(base, budget_remaining - 5)): every phase gets at most base
// seconds, but never so much that it would exhaust the turn's remaining
// wall-clock budget (a 5-second safety margin is always reserved for the
// phases still to come).
func budgetFor(budgetRemainingSec, base int) int {
	v := base
	if budgetRemainingSec-5 < v {
		v = budgetRemainingSec - 5
	}
	if v < 5 {
		v = 5
	}
	return v
}

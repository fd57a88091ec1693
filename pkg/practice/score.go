package practice

// ScoreMultiSelect scores a multiple-answer listening item: +1 for every
// correct option picked, -1 for every wrong one, never below zero. Picking
// the same option twice counts once.
func ScoreMultiSelect(correct, picked []string) int {
	ok := make(map[string]bool, len(correct))
	for _, c := range correct {
		ok[c] = true
	}

	score := 0
	seen := make(map[string]bool, len(picked))
	for _, p := range picked {
		if seen[p] {
			continue
		}
		seen[p] = true
		if ok[p] {
			score++
		} else {
			score--
		}
	}
	if score < 0 {
		return 0
	}
	return score
}

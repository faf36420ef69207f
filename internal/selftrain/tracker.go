package selftrain

// Tracker keeps two independent maxima over iterations: the test accuracy
// observed at the best validation accuracy so far, and the best test accuracy
// overall. Both start at 0 and only move on a strict improvement.
type Tracker struct {
	BestValAcc     float64 `json:"best_val_acc"`
	BestValTestAcc float64 `json:"best_val_test_acc"`
	BestIteration  int     `json:"best_iteration"`
	MaxTestAcc     float64 `json:"max_test_acc"`
	MaxIteration   int     `json:"max_iteration"`
}

// NewTracker returns a tracker with no observations.
func NewTracker() Tracker {
	return Tracker{BestIteration: -1, MaxIteration: -1}
}

// Update records the accuracies measured at the start of iteration k and
// reports whether validation accuracy improved.
func (t *Tracker) Update(k int, valAcc, testAcc float64) bool {
	improved := false
	if valAcc > t.BestValAcc {
		t.BestValAcc = valAcc
		t.BestValTestAcc = testAcc
		t.BestIteration = k
		improved = true
	}
	if testAcc > t.MaxTestAcc {
		t.MaxTestAcc = testAcc
		t.MaxIteration = k
	}
	return improved
}

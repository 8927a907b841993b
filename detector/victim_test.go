package detector

import "testing"

func TestSelectYoungestAndOldest(t *testing.T) {
	cycle := []ThreadId{5, 1, 9, 3}
	if got := SelectYoungest(cycle); got != 9 {
		t.Errorf("SelectYoungest = %d, want 9", got)
	}
	if got := SelectOldest(cycle); got != 1 {
		t.Errorf("SelectOldest = %d, want 1", got)
	}
}

func TestSelectFewestAndMostLocks(t *testing.T) {
	cycle := []ThreadId{1, 2, 3}
	counts := map[ThreadId]int{1: 3, 2: 1, 3: 2}
	heldCount := func(t ThreadId) int { return counts[t] }

	if got := SelectFewestLocks(cycle, heldCount); got != 2 {
		t.Errorf("SelectFewestLocks = %d, want 2", got)
	}
	if got := SelectMostLocks(cycle, heldCount); got != 1 {
		t.Errorf("SelectMostLocks = %d, want 1", got)
	}
}

func TestSelectFewestLocksTiesBreakToLowestID(t *testing.T) {
	cycle := []ThreadId{5, 2, 8}
	counts := map[ThreadId]int{5: 1, 2: 1, 8: 1}
	heldCount := func(t ThreadId) int { return counts[t] }

	if got := SelectFewestLocks(cycle, heldCount); got != 2 {
		t.Errorf("expected ties to resolve to lowest id 2, got %d", got)
	}
}

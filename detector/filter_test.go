package detector

import "testing"

func heldSet(locks ...LockId) map[LockId]struct{} {
	s := make(map[LockId]struct{}, len(locks))
	for _, l := range locks {
		s[l] = struct{}{}
	}
	return s
}

func TestCycleFilter_NoCommonLockIsReal(t *testing.T) {
	cycle := []ThreadId{1, 2}
	held := map[ThreadId]map[LockId]struct{}{
		1: heldSet(10),
		2: heldSet(20),
	}
	if cycleHasCommonHeldLock(cycle, held) {
		t.Error("expected no common held lock, cycle should not be filtered")
	}
}

func TestCycleFilter_CommonLockSuppresses(t *testing.T) {
	cycle := []ThreadId{1, 2, 3}
	held := map[ThreadId]map[LockId]struct{}{
		1: heldSet(99, 10),
		2: heldSet(99, 20),
		3: heldSet(99, 30),
	}
	if !cycleHasCommonHeldLock(cycle, held) {
		t.Error("expected lock 99, held by every thread in the cycle, to suppress it")
	}
}

func TestCycleFilter_PartialOverlapDoesNotSuppress(t *testing.T) {
	cycle := []ThreadId{1, 2, 3}
	held := map[ThreadId]map[LockId]struct{}{
		1: heldSet(99, 10),
		2: heldSet(99, 20),
		3: heldSet(30), // does not hold 99
	}
	if cycleHasCommonHeldLock(cycle, held) {
		t.Error("a lock held by only some of the cycle should not suppress it")
	}
}

func TestCycleFilter_EmptyCycle(t *testing.T) {
	if cycleHasCommonHeldLock(nil, nil) {
		t.Error("an empty cycle has no common lock to find")
	}
}

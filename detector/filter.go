package detector

// cycleHasCommonHeldLock implements the cycle filter: a cycle reported by
// the wait-for graph is only a genuine deadlock if there is no lock held by
// every thread in the cycle at once. If such a lock exists, at least one of
// the "held" relationships the cycle depends on must already have been
// released by the time the cycle was observed — wait-for edges are
// recorded eagerly but cleared lazily, so a stale edge can otherwise look
// like a live one. This intersects the held-lock sets of every thread in
// the cycle and reports whether the intersection is non-empty.
func cycleHasCommonHeldLock(cycle []ThreadId, held map[ThreadId]map[LockId]struct{}) bool {
	if len(cycle) == 0 {
		return false
	}

	var intersection map[LockId]struct{}
	for i, t := range cycle {
		set := held[t]
		if i == 0 {
			intersection = make(map[LockId]struct{}, len(set))
			for l := range set {
				intersection[l] = struct{}{}
			}
			continue
		}
		if len(intersection) == 0 {
			return false
		}
		for l := range intersection {
			if _, ok := set[l]; !ok {
				delete(intersection, l)
			}
		}
	}
	return len(intersection) > 0
}

package detector

// lockOrderGraph tracks, for every pair of locks a thread has been seen
// holding simultaneously, the order in which they were acquired. A cycle in
// this graph (lock A always seen acquired before B somewhere, and B before
// A somewhere else) is a potential deadlock that has not yet happened: no
// thread needs to be blocked for this to fire, which is what makes it an
// early warning rather than a DeadlockInfo.
//
// Cycle results are cached per (before, after) pair, tagged with the graph
// generation at the time of the check, so repeated attempts at the same
// lock pair under an unchanged graph skip the BFS entirely. The cache is
// bounded: once it holds more than 1000 entries it is dropped rather than
// evicted piecemeal, since a long-running program with many distinct lock
// pairs is expected to stabilize onto a small working set quickly.
type lockOrderGraph struct {
	edges      map[LockId]map[LockId]struct{}
	reverse    map[LockId]map[LockId]struct{}
	allEdges   map[lockOrderEdge]struct{}
	cache      map[lockOrderEdge]lockOrderCacheEntry
	generation uint64
}

type lockOrderEdge struct {
	before, after LockId
}

type lockOrderCacheEntry struct {
	generation uint64
	cycle      []LockId
	hasCycle   bool
}

const lockOrderCacheLimit = 1000

func newLockOrderGraph() *lockOrderGraph {
	return &lockOrderGraph{
		edges:    make(map[LockId]map[LockId]struct{}),
		reverse:  make(map[LockId]map[LockId]struct{}),
		allEdges: make(map[lockOrderEdge]struct{}),
		cache:    make(map[lockOrderEdge]lockOrderCacheEntry),
	}
}

// AddEdge records that before was seen acquired immediately before after by
// some thread. It returns the cycle (in acquisition order, closed by a
// final edge back to before) if this closes one; the edge is still
// recorded even when it closes a cycle, since the point of this graph is to
// report the first time an order inversion is observed, not to keep the
// graph acyclic.
func (g *lockOrderGraph) AddEdge(before, after LockId) (cycle []LockId, ok bool) {
	if before == after {
		return nil, false
	}
	key := lockOrderEdge{before, after}

	if entry, found := g.cache[key]; found && entry.generation == g.generation {
		return entry.cycle, entry.hasCycle
	}

	// path is the existing forward chain after -> ... -> before that would
	// make the new edge (before, after) close a cycle. Report the cycle as
	// before, after, then the interior of path (dropping its trailing
	// `before`, which only exists to prove reachability) — the cycle
	// closes implicitly from the last element back to `before`.
	path := g.findPath(after, before)
	hasCycle := path != nil
	var result []LockId
	if hasCycle {
		result = make([]LockId, 0, len(path)+1)
		result = append(result, before)
		result = append(result, path[:len(path)-1]...)
	}

	g.cache[key] = lockOrderCacheEntry{generation: g.generation, cycle: result, hasCycle: hasCycle}

	if _, exists := g.allEdges[key]; !exists {
		g.allEdges[key] = struct{}{}
		if g.edges[before] == nil {
			g.edges[before] = make(map[LockId]struct{})
		}
		g.edges[before][after] = struct{}{}
		if g.reverse[after] == nil {
			g.reverse[after] = make(map[LockId]struct{})
		}
		g.reverse[after][before] = struct{}{}
		g.generation++
		if len(g.cache) > lockOrderCacheLimit {
			g.cache = make(map[lockOrderEdge]lockOrderCacheEntry)
		}
	}

	return result, hasCycle
}

// findPath returns a path start -> ... -> end following existing edges, or
// nil if end is not reachable from start.
func (g *lockOrderGraph) findPath(start, end LockId) []LockId {
	if start == end {
		return []LockId{start}
	}

	queue := []LockId{start}
	visited := map[LockId]struct{}{start: {}}
	parent := make(map[LockId]LockId)

	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]

		if cur == end {
			reversed := []LockId{end}
			for node := end; node != start; {
				p := parent[node]
				reversed = append(reversed, p)
				node = p
			}
			forward := make([]LockId, len(reversed))
			for i, l := range reversed {
				forward[len(forward)-1-i] = l
			}
			return forward
		}

		for next := range g.edges[cur] {
			if _, seen := visited[next]; !seen {
				visited[next] = struct{}{}
				parent[next] = cur
				queue = append(queue, next)
			}
		}
	}
	return nil
}

// RemoveLock drops lock and every edge touching it, used when a lock is
// destroyed.
func (g *lockOrderGraph) RemoveLock(lock LockId) {
	if out, ok := g.edges[lock]; ok {
		for after := range out {
			delete(g.reverse[after], lock)
			delete(g.allEdges, lockOrderEdge{lock, after})
		}
		delete(g.edges, lock)
	}
	if in, ok := g.reverse[lock]; ok {
		for before := range in {
			delete(g.edges[before], lock)
			delete(g.allEdges, lockOrderEdge{before, lock})
		}
		delete(g.reverse, lock)
	}
	for key := range g.cache {
		if key.before == lock || key.after == lock {
			delete(g.cache, key)
		}
	}
	g.generation++
}

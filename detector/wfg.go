package detector

// waitForGraph is the incrementally-maintained wait-for graph over threads.
// An edge (from, to) means from is blocked waiting on a lock currently held
// by to. It is not safe for concurrent use on its own — callers serialize
// access through Engine's lock.
//
// Reachability is cached per node (reach[from] is the set of nodes
// reachable from from) so that AddEdge can detect a closing cycle with a
// single set lookup instead of a fresh traversal on every attempt. The
// cache is kept consistent by propagating the new edge's reachable set
// backwards to every node that can already reach from, mirroring the
// incremental reachability maintenance used by the original wait-for graph
// this is ported from.
type waitForGraph struct {
	edges   map[ThreadId]map[ThreadId]struct{}
	reverse map[ThreadId]map[ThreadId]struct{}
	reach   map[ThreadId]map[ThreadId]struct{}
}

func newWaitForGraph() *waitForGraph {
	return &waitForGraph{
		edges:   make(map[ThreadId]map[ThreadId]struct{}),
		reverse: make(map[ThreadId]map[ThreadId]struct{}),
		reach:   make(map[ThreadId]map[ThreadId]struct{}),
	}
}

// ensureNode makes sure t has an entry in the graph even with no edges, so
// it shows up in snapshots taken before it ever waits on anything.
func (g *waitForGraph) ensureNode(t ThreadId) {
	if _, ok := g.edges[t]; !ok {
		g.edges[t] = make(map[ThreadId]struct{})
	}
}

// AddEdge records that from waits on to. If adding the edge would close a
// cycle (to can already reach from over real edges), the edge is not added;
// instead the cycle is returned with ok=true, in wait-for order starting at
// from: from, to, then the rest of the path back towards from.
func (g *waitForGraph) AddEdge(from, to ThreadId) (cycle []ThreadId, ok bool) {
	if from == to {
		return []ThreadId{from}, true
	}
	if g.canReach(to, from) {
		if cycle := g.findCyclePath(from, to); cycle != nil {
			return cycle, true
		}
	}

	g.ensureNode(from)
	g.ensureNode(to)
	g.edges[from][to] = struct{}{}
	if g.reverse[to] == nil {
		g.reverse[to] = make(map[ThreadId]struct{})
	}
	g.reverse[to][from] = struct{}{}

	g.updateReachability(from, to)
	return nil, false
}

// canReach reports whether from can reach to via zero or more wait-for
// edges.
func (g *waitForGraph) canReach(from, to ThreadId) bool {
	if from == to {
		return true
	}
	set, ok := g.reach[from]
	if !ok {
		return false
	}
	_, ok = set[to]
	return ok
}

// updateReachability propagates the fact that from can now reach to (and
// everything to can reach) to every node that can reach from, including
// from itself.
func (g *waitForGraph) updateReachability(from, to ThreadId) {
	toReach := g.reach[to]

	queue := []ThreadId{from}
	visited := map[ThreadId]struct{}{from: {}}

	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]

		r := g.reach[cur]
		if r == nil {
			r = make(map[ThreadId]struct{})
			g.reach[cur] = r
		}
		r[to] = struct{}{}
		for t := range toReach {
			r[t] = struct{}{}
		}

		for pred := range g.reverse[cur] {
			if _, seen := visited[pred]; !seen {
				visited[pred] = struct{}{}
				queue = append(queue, pred)
			}
		}
	}
}

// findCyclePath finds a forward path to -> ... -> from using a BFS over
// wait-for edges and returns the cycle it forms with the rejected edge
// (from, to), as from, to, then the path's interior. It returns nil when no
// such path exists over the current edges.
func (g *waitForGraph) findCyclePath(from, to ThreadId) []ThreadId {
	if from == to {
		return []ThreadId{from}
	}

	queue := []ThreadId{to}
	visited := map[ThreadId]struct{}{to: {}}
	parent := make(map[ThreadId]ThreadId)

	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]

		if cur == from {
			// Walk parent pointers back from `from` to `to`; this yields
			// the path in reverse (from, ..., to), so flip it before use.
			reversed := []ThreadId{from}
			for node := from; node != to; {
				p := parent[node]
				reversed = append(reversed, p)
				node = p
			}
			forward := make([]ThreadId, len(reversed))
			for i, t := range reversed {
				forward[len(forward)-1-i] = t
			}
			// forward is to -> ... -> from; the rejected edge (from, to)
			// closes the cycle, so the full cycle in wait-for order is
			// from, to, then every intermediate node up to (not
			// including) the trailing from.
			cycle := make([]ThreadId, 0, len(forward)+1)
			cycle = append(cycle, from)
			cycle = append(cycle, forward[:len(forward)-1]...)
			return cycle
		}

		for next := range g.edges[cur] {
			if _, seen := visited[next]; !seen {
				visited[next] = struct{}{}
				parent[next] = cur
				queue = append(queue, next)
			}
		}
	}
	// The cached reachability was stale: no real path exists, so there is
	// no cycle.
	return nil
}

// ClearWaitEdges removes every outgoing edge for t, i.e. forgets that t is
// waiting on anything. It leaves other nodes' reachability sets stale with
// respect to t's old targets; that staleness is harmless because
// reachability is only ever consulted to test for a closing cycle, and a
// stale "can reach" entry can only cause AddEdge to (over-conservatively)
// suspect a cycle that a fresh BFS in findCyclePath will then fail to
// reconstruct as real, in which case AddEdge adds the edge as usual. Nodes
// are re-verified lazily: AddEdge always follows a canReach hit with
// findCyclePath, which only walks real edges.
func (g *waitForGraph) ClearWaitEdges(t ThreadId) {
	out, ok := g.edges[t]
	if !ok {
		return
	}
	for to := range out {
		if rev := g.reverse[to]; rev != nil {
			delete(rev, t)
		}
	}
	g.edges[t] = make(map[ThreadId]struct{})
	delete(g.reach, t)
}

// RemoveThread deletes t and every edge touching it from the graph, used
// when a thread exits.
func (g *waitForGraph) RemoveThread(t ThreadId) {
	if out, ok := g.edges[t]; ok {
		for to := range out {
			if rev := g.reverse[to]; rev != nil {
				delete(rev, t)
			}
		}
		delete(g.edges, t)
	}
	if in, ok := g.reverse[t]; ok {
		for from := range in {
			if e := g.edges[from]; e != nil {
				delete(e, t)
			}
		}
		delete(g.reverse, t)
	}
	// Other nodes may have reached some targets only through t, so the
	// cache is rebuilt from the remaining edges.
	g.reach = make(map[ThreadId]map[ThreadId]struct{})
	for from, out := range g.edges {
		for to := range out {
			g.updateReachability(from, to)
		}
	}
}

package graph

// chainBudget bounds the DFS steps spent on one LongestChain call. The search
// is exact below the budget and returns the best chain found when it runs out.
const chainBudget = 50000

// LongestChain returns the number of edges on the longest simple path
// starting at id over edges of kind, never more than limit. Cycles are safe:
// a node is never revisited on the current path.
func (g *Graph) LongestChain(id string, kind EdgeKind, limit int) int {
	start, ok := g.nodeIdx[id]
	if !ok || limit <= 0 {
		return 0
	}
	if kind == 0 {
		kind = KindAny
	}

	// Sorted adjacency keeps the search order, and so any budget cutoff,
	// deterministic.
	adj := func(i int) []int {
		names := g.Neighbors(g.nodes[i], kind)
		out := make([]int, len(names))
		for k, name := range names {
			out[k] = g.nodeIdx[name]
		}
		return out
	}
	cache := make(map[int][]int)
	neighbors := func(i int) []int {
		if n, ok := cache[i]; ok {
			return n
		}
		n := adj(i)
		cache[i] = n
		return n
	}

	onPath := make([]bool, len(g.nodes))
	best := 0
	steps := 0

	var dfs func(node, depth int) bool
	dfs = func(node, depth int) bool {
		if depth > best {
			best = depth
		}
		if best >= limit {
			return true
		}
		steps++
		if steps > chainBudget {
			return true
		}
		onPath[node] = true
		defer func() { onPath[node] = false }()
		for _, next := range neighbors(node) {
			if onPath[next] {
				continue
			}
			if dfs(next, depth+1) {
				return true
			}
		}
		return false
	}
	dfs(start, 0)

	if best > limit {
		best = limit
	}
	return best
}

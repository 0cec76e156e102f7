package graph

import (
	"sort"
	"strings"
)

// Cycle is a dependency cycle, rotated to start at its smallest node. The
// closing edge back to Nodes[0] is implied.
type Cycle struct {
	Nodes []string `json:"nodes"`
}

func (c Cycle) String() string {
	if len(c.Nodes) == 0 {
		return ""
	}
	return strings.Join(c.Nodes, " -> ") + " -> " + c.Nodes[0]
}

const (
	white = iota
	gray
	black
)

// Cycles finds cycles with a three-color depth-first search. Each back-edge
// to a gray node yields one cycle. Traversal starts from every node in sorted
// order with sorted neighbors, and cycles are canonicalized and
// deduplicated, so the result does not depend on insertion order.
func (g *Graph) Cycles(kind EdgeKind) []Cycle {
	if kind == 0 {
		kind = KindAny
	}
	color := make(map[string]int, len(g.nodes))
	var stack []string
	onStack := make(map[string]int)
	seen := make(map[string]bool)
	var cycles []Cycle

	var visit func(id string)
	visit = func(id string) {
		color[id] = gray
		onStack[id] = len(stack)
		stack = append(stack, id)

		for _, next := range g.Neighbors(id, kind) {
			switch color[next] {
			case white:
				visit(next)
			case gray:
				c := canonical(stack[onStack[next]:])
				key := strings.Join(c.Nodes, "\x00")
				if !seen[key] {
					seen[key] = true
					cycles = append(cycles, c)
				}
			}
		}

		stack = stack[:len(stack)-1]
		delete(onStack, id)
		color[id] = black
	}

	for _, id := range g.Nodes() {
		if color[id] == white {
			visit(id)
		}
	}

	sort.Slice(cycles, func(i, j int) bool {
		a, b := cycles[i].Nodes, cycles[j].Nodes
		if len(a) != len(b) {
			return len(a) < len(b)
		}
		return strings.Join(a, "\x00") < strings.Join(b, "\x00")
	})
	return cycles
}

// canonical rotates path so its smallest node comes first.
func canonical(path []string) Cycle {
	start := 0
	for i := range path {
		if path[i] < path[start] {
			start = i
		}
	}
	nodes := make([]string, 0, len(path))
	nodes = append(nodes, path[start:]...)
	nodes = append(nodes, path[:start]...)
	return Cycle{Nodes: nodes}
}

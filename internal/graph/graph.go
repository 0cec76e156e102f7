// Package graph builds and analyzes the dependency graph between parsed units.
package graph

import (
	"sort"
	"strings"
)

// EdgeKind classifies an edge. An edge may carry several kinds at once.
type EdgeKind uint8

const (
	KindImport EdgeKind = 1 << iota
	KindCall

	KindAny = KindImport | KindCall
)

func (k EdgeKind) String() string {
	var parts []string
	if k&KindImport != 0 {
		parts = append(parts, "import")
	}
	if k&KindCall != 0 {
		parts = append(parts, "call")
	}
	return strings.Join(parts, "+")
}

// Granularity selects what a node stands for.
type Granularity string

const (
	FileNodes     Granularity = "file"
	FunctionNodes Granularity = "function"
)

// Edge is a directed, resolved dependency.
type Edge struct {
	From string   `json:"from"`
	To   string   `json:"to"`
	Kind EdgeKind `json:"-"`
}

// FunctionKey is the node key of a function in function granularity.
func FunctionKey(path, qualified string) string {
	return path + "#" + qualified
}

// FileOfKey returns the file path part of a node key.
func FileOfKey(key string) string {
	// Duplicate function names carry their own #n suffix, so cut at the first '#'.
	if i := strings.IndexByte(key, '#'); i >= 0 {
		return key[:i]
	}
	return key
}

// Graph is a sparse directed graph keyed by strings. It holds lookup keys
// only, never the parsed units themselves.
type Graph struct {
	granularity Granularity

	nodes   []string
	nodeIdx map[string]int

	// outEdges[i] and inEdges[i] hold distinct neighbors with merged kinds.
	outEdges [][]edgeEntry
	inEdges  [][]edgeEntry
}

type edgeEntry struct {
	target int
	kind   EdgeKind
}

// NewGraph creates an empty graph.
func NewGraph(granularity Granularity) *Graph {
	if granularity == "" {
		granularity = FileNodes
	}
	return &Graph{
		granularity: granularity,
		nodeIdx:     make(map[string]int),
	}
}

// Granularity reports what the nodes stand for.
func (g *Graph) Granularity() Granularity {
	return g.granularity
}

// AddNode adds a node if it doesn't exist, returns its index.
func (g *Graph) AddNode(id string) int {
	if idx, ok := g.nodeIdx[id]; ok {
		return idx
	}
	idx := len(g.nodes)
	g.nodes = append(g.nodes, id)
	g.nodeIdx[id] = idx
	g.outEdges = append(g.outEdges, nil)
	g.inEdges = append(g.inEdges, nil)
	return idx
}

// AddEdge adds a directed edge. Self loops are ignored; repeated edges merge
// their kinds.
func (g *Graph) AddEdge(from, to string, kind EdgeKind) {
	if from == to {
		return
	}
	src := g.AddNode(from)
	dst := g.AddNode(to)

	for i := range g.outEdges[src] {
		if g.outEdges[src][i].target == dst {
			g.outEdges[src][i].kind |= kind
			for j := range g.inEdges[dst] {
				if g.inEdges[dst][j].target == src {
					g.inEdges[dst][j].kind |= kind
				}
			}
			return
		}
	}
	g.outEdges[src] = append(g.outEdges[src], edgeEntry{target: dst, kind: kind})
	g.inEdges[dst] = append(g.inEdges[dst], edgeEntry{target: src, kind: kind})
}

// NumNodes returns the number of nodes in the graph.
func (g *Graph) NumNodes() int {
	return len(g.nodes)
}

// NumEdges returns the number of distinct edges.
func (g *Graph) NumEdges() int {
	total := 0
	for _, edges := range g.outEdges {
		total += len(edges)
	}
	return total
}

// HasNode checks if a node exists in the graph.
func (g *Graph) HasNode(id string) bool {
	_, ok := g.nodeIdx[id]
	return ok
}

// Nodes returns all node keys in sorted order.
func (g *Graph) Nodes() []string {
	out := make([]string, len(g.nodes))
	copy(out, g.nodes)
	sort.Strings(out)
	return out
}

// Edges returns every edge sorted by (from, to).
func (g *Graph) Edges() []Edge {
	out := make([]Edge, 0, g.NumEdges())
	for i, edges := range g.outEdges {
		for _, e := range edges {
			out = append(out, Edge{From: g.nodes[i], To: g.nodes[e.target], Kind: e.kind})
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].From != out[j].From {
			return out[i].From < out[j].From
		}
		return out[i].To < out[j].To
	})
	return out
}

// Neighbors returns the sorted outgoing neighbors reached by edges of kind.
func (g *Graph) Neighbors(id string, kind EdgeKind) []string {
	idx, ok := g.nodeIdx[id]
	if !ok {
		return nil
	}
	return g.collect(g.outEdges[idx], kind)
}

// Dependents returns the sorted incoming neighbors reached by edges of kind.
func (g *Graph) Dependents(id string, kind EdgeKind) []string {
	idx, ok := g.nodeIdx[id]
	if !ok {
		return nil
	}
	return g.collect(g.inEdges[idx], kind)
}

func (g *Graph) collect(edges []edgeEntry, kind EdgeKind) []string {
	out := make([]string, 0, len(edges))
	for _, e := range edges {
		if e.kind&kind != 0 {
			out = append(out, g.nodes[e.target])
		}
	}
	sort.Strings(out)
	return out
}

// FanIn counts distinct nodes with an edge into id.
func (g *Graph) FanIn(id string) int {
	if idx, ok := g.nodeIdx[id]; ok {
		return len(g.inEdges[idx])
	}
	return 0
}

// FanOut counts distinct nodes id has an edge to.
func (g *Graph) FanOut(id string) int {
	if idx, ok := g.nodeIdx[id]; ok {
		return len(g.outEdges[idx])
	}
	return 0
}

// DependencyHotspot is a node many others depend on.
type DependencyHotspot struct {
	Node   string `json:"node"`
	FanIn  int    `json:"fanIn"`
	FanOut int    `json:"fanOut"`
	Risk   string `json:"risk"`
}

// DependencyHotspots returns the most depended-upon nodes: the top fifth by
// fan-in, keeping only nodes with fan-in above 2, at most limit entries
// (0 means no limit).
func (g *Graph) DependencyHotspots(limit int) []DependencyHotspot {
	all := make([]DependencyHotspot, 0, len(g.nodes))
	for i, id := range g.nodes {
		all = append(all, DependencyHotspot{
			Node:   id,
			FanIn:  len(g.inEdges[i]),
			FanOut: len(g.outEdges[i]),
		})
	}
	sort.Slice(all, func(i, j int) bool {
		if all[i].FanIn != all[j].FanIn {
			return all[i].FanIn > all[j].FanIn
		}
		return all[i].Node < all[j].Node
	})

	top := len(all) / 5
	if top < 1 {
		top = 1
	}
	var out []DependencyHotspot
	for i := 0; i < len(all) && i < top; i++ {
		h := all[i]
		if h.FanIn <= 2 {
			break
		}
		switch {
		case h.FanIn > 10:
			h.Risk = "high"
		case h.FanIn > 5:
			h.Risk = "medium"
		default:
			h.Risk = "low"
		}
		out = append(out, h)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out
}

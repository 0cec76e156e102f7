package graph

import (
	"context"
	"fmt"
	"sort"
)

// PPROptions configures (Personalized) PageRank computation.
type PPROptions struct {
	// Damping is the probability of following an edge vs teleporting (default: 0.85)
	Damping float64

	// MaxIterations is the maximum number of power iterations (default: 50)
	MaxIterations int

	// Tolerance for convergence detection (default: 1e-9)
	Tolerance float64

	// Kind restricts propagation to these edge kinds (default: all)
	Kind EdgeKind
}

// DefaultPPROptions returns the defaults used for centrality.
func DefaultPPROptions() PPROptions {
	return PPROptions{
		Damping:       0.85,
		MaxIterations: 50,
		Tolerance:     1e-9,
		Kind:          KindAny,
	}
}

// PPRResult is one ranked node.
type PPRResult struct {
	NodeID string  `json:"nodeId"`
	Score  float64 `json:"score"`
}

// PPROutput contains the full PageRank result, sorted by score descending
// and node key ascending.
type PPROutput struct {
	Results    []PPRResult `json:"results"`
	Iterations int         `json:"iterations"`
	Converged  bool        `json:"converged"`
	SeedNodes  []string    `json:"seedNodes,omitempty"`
}

// PPR computes PageRank teleporting to seeds. With no seeds the teleport is
// uniform, which is plain PageRank. Rank held by nodes without outgoing
// edges is redistributed through the teleport vector, so scores sum to 1.
func (g *Graph) PPR(ctx context.Context, seeds []string, opts PPROptions) (*PPROutput, error) {
	n := len(g.nodes)
	if n == 0 {
		return &PPROutput{Results: []PPRResult{}, Converged: true}, nil
	}

	if opts.Damping <= 0 || opts.Damping >= 1 {
		opts.Damping = 0.85
	}
	if opts.MaxIterations <= 0 {
		opts.MaxIterations = 50
	}
	if opts.Tolerance <= 0 {
		opts.Tolerance = 1e-9
	}
	if opts.Kind == 0 {
		opts.Kind = KindAny
	}

	teleport := make([]float64, n)
	var validSeeds []string
	for _, s := range seeds {
		if idx, ok := g.nodeIdx[s]; ok {
			teleport[idx] = 1
			validSeeds = append(validSeeds, s)
		}
	}
	if len(seeds) > 0 && len(validSeeds) == 0 {
		return nil, fmt.Errorf("none of the %d seed nodes are in the graph", len(seeds))
	}
	if len(validSeeds) == 0 {
		for i := range teleport {
			teleport[i] = 1
		}
	}
	total := 0.0
	for _, w := range teleport {
		total += w
	}
	for i := range teleport {
		teleport[i] /= total
	}

	// Pre-compute out-degree over the selected kinds.
	outDegree := make([]int, n)
	for i, edges := range g.outEdges {
		for _, e := range edges {
			if e.kind&opts.Kind != 0 {
				outDegree[i]++
			}
		}
	}

	scores := make([]float64, n)
	copy(scores, teleport)
	newScores := make([]float64, n)

	out := &PPROutput{SeedNodes: validSeeds}
	for iter := range opts.MaxIterations {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		out.Iterations = iter + 1

		dangling := 0.0
		for i := range newScores {
			newScores[i] = 0
		}
		for i, edges := range g.outEdges {
			if outDegree[i] == 0 {
				dangling += scores[i]
				continue
			}
			contrib := scores[i] / float64(outDegree[i])
			for _, e := range edges {
				if e.kind&opts.Kind != 0 {
					newScores[e.target] += contrib
				}
			}
		}

		maxDiff := 0.0
		for i := range newScores {
			newScores[i] = opts.Damping*(newScores[i]+dangling*teleport[i]) + (1-opts.Damping)*teleport[i]
			diff := newScores[i] - scores[i]
			if diff < 0 {
				diff = -diff
			}
			if diff > maxDiff {
				maxDiff = diff
			}
		}
		scores, newScores = newScores, scores

		if maxDiff < opts.Tolerance {
			out.Converged = true
			break
		}
	}

	out.Results = make([]PPRResult, n)
	for i, s := range scores {
		out.Results[i] = PPRResult{NodeID: g.nodes[i], Score: s}
	}
	sort.Slice(out.Results, func(i, j int) bool {
		if out.Results[i].Score != out.Results[j].Score {
			return out.Results[i].Score > out.Results[j].Score
		}
		return out.Results[i].NodeID < out.Results[j].NodeID
	})
	return out, nil
}

// Centrality returns the PageRank of every node.
func (g *Graph) Centrality(ctx context.Context) (map[string]float64, error) {
	// Iterate nodes in sorted order so floating-point sums are reproducible
	// regardless of insertion order.
	sorted := g.sortedCopy()
	res, err := sorted.PPR(ctx, nil, DefaultPPROptions())
	if err != nil {
		return nil, err
	}
	out := make(map[string]float64, len(res.Results))
	for _, r := range res.Results {
		out[r.NodeID] = r.Score
	}
	return out, nil
}

// sortedCopy rebuilds the graph with nodes and edges in key order.
func (g *Graph) sortedCopy() *Graph {
	c := NewGraph(g.granularity)
	for _, id := range g.Nodes() {
		c.AddNode(id)
	}
	for _, e := range g.Edges() {
		c.AddEdge(e.From, e.To, e.Kind)
	}
	return c
}

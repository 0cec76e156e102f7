package graph

import (
	"context"
	"runtime"
	"sort"

	"golang.org/x/sync/errgroup"

	"tangle/internal/parse"
)

// Options configures graph construction.
type Options struct {
	Granularity Granularity

	// ModulePath is the Go module path used to resolve in-module imports.
	ModulePath string

	// Workers bounds pass-2 concurrency; 0 means GOMAXPROCS.
	Workers int
}

// Build constructs the dependency graph in two passes. Pass 1 registers a
// node for every file (or function); pass 2 resolves each unit's imports and
// calls against that node set. Edges to anything outside the analyzed set
// are dropped. Only cancellation makes Build fail.
func Build(ctx context.Context, units []*parse.Unit, opts Options) (*Graph, error) {
	sorted := make([]*parse.Unit, 0, len(units))
	for _, u := range units {
		if u != nil {
			sorted = append(sorted, u)
		}
	}
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Path < sorted[j].Path })

	g := NewGraph(opts.Granularity)
	for _, u := range sorted {
		if g.granularity == FunctionNodes {
			for _, fn := range u.Functions {
				g.AddNode(FunctionKey(u.Path, fn.Name))
			}
			continue
		}
		g.AddNode(u.Path)
	}

	r := newResolver(sorted, opts.ModulePath)

	workers := opts.Workers
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	edges := make([][]Edge, len(sorted))
	eg, egCtx := errgroup.WithContext(ctx)
	eg.SetLimit(workers)
	for i, u := range sorted {
		eg.Go(func() error {
			if err := egCtx.Err(); err != nil {
				return err
			}
			edges[i] = r.edgesFor(u, g.granularity)
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}

	// Merge in path order so the adjacency lists are identical across runs.
	for _, es := range edges {
		for _, e := range es {
			g.AddEdge(e.From, e.To, e.Kind)
		}
	}
	return g, nil
}

func (r *resolver) edgesFor(u *parse.Unit, granularity Granularity) []Edge {
	var out []Edge
	if granularity == FileNodes {
		for _, imp := range u.Imports {
			for _, target := range r.resolveImport(u, imp) {
				out = append(out, Edge{From: u.Path, To: target, Kind: KindImport})
			}
		}
	}
	for _, c := range u.Calls {
		ref, ok := r.resolveCall(u, c)
		if !ok {
			continue
		}
		if granularity == FunctionNodes {
			out = append(out, Edge{
				From: FunctionKey(u.Path, c.Caller),
				To:   FunctionKey(ref.path, ref.name),
				Kind: KindCall,
			})
			continue
		}
		if ref.path != u.Path {
			out = append(out, Edge{From: u.Path, To: ref.path, Kind: KindCall})
		}
	}
	return out
}

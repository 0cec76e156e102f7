// Package metrics computes per-file structural metrics from parsed units and
// the dependency graph through a registry of named producers.
package metrics

import (
	"fmt"
	"sort"

	"tangle/internal/graph"
	"tangle/internal/parse"
)

// Names of the built-in producers.
const (
	Complexity      = "complexity"
	Indirection     = "indirection"
	ContextSwitches = "context_switches"
	Lines           = "lines"
	FanIn           = "fan_in"
	FanOut          = "fan_out"
	Centrality      = "centrality"
	Cognitive       = "cognitive"
	MaxNesting      = "max_nesting"
	Imports         = "imports"
)

// Indirection modes.
const (
	PerFile     = "file"
	PerFunction = "function"
)

// Options tune the producers.
type Options struct {
	// IndirectionCap bounds the chain search; results never exceed it.
	IndirectionCap int

	// IndirectionMode is PerFile (import chains) or PerFunction (call chains).
	IndirectionMode string
}

// DefaultOptions returns the default producer options.
func DefaultOptions() Options {
	return Options{IndirectionCap: 6, IndirectionMode: PerFile}
}

// Input is everything a producer may read. Producers must treat it as
// read-only.
type Input struct {
	Unit *parse.Unit

	// Graph is the file-level dependency graph.
	Graph *graph.Graph

	// Calls is the function-level call graph; only set in PerFunction mode.
	Calls *graph.Graph

	// Centrality holds the PageRank of every file node, computed once per run.
	Centrality map[string]float64

	Options Options
}

// Producer computes one metric. It must be a pure function of its input.
type Producer func(in Input) float64

// FunctionMetrics are the per-function numbers behind the file totals.
type FunctionMetrics struct {
	Name        string `json:"name"`
	StartLine   int    `json:"startLine"`
	EndLine     int    `json:"endLine"`
	Complexity  int    `json:"complexity"`
	Cognitive   int    `json:"cognitive"`
	Nesting     int    `json:"nesting"`
	Params      int    `json:"params"`
	Lines       int    `json:"lines"`
	Indirection int    `json:"indirection,omitempty"`
}

// FileMetrics is the derived value object for one file.
type FileMetrics struct {
	Path            string             `json:"path"`
	Language        string             `json:"language"`
	Complexity      int                `json:"complexity"`
	Indirection     int                `json:"indirection"`
	ContextSwitches int                `json:"contextSwitches"`
	Lines           int                `json:"lines"`
	Values          map[string]float64 `json:"values"`
	Functions       []FunctionMetrics  `json:"functions,omitempty"`
}

// Registry maps metric names to producers.
type Registry struct {
	producers map[string]Producer
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{producers: make(map[string]Producer)}
}

// DefaultRegistry returns a registry holding every built-in producer.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	builtins := map[string]Producer{
		Complexity:      complexityOf,
		Indirection:     indirectionOf,
		ContextSwitches: contextSwitchesOf,
		Lines:           linesOf,
		FanIn:           fanInOf,
		FanOut:          fanOutOf,
		Centrality:      centralityOf,
		Cognitive:       cognitiveOf,
		MaxNesting:      maxNestingOf,
		Imports:         importsOf,
	}
	for name, p := range builtins {
		// Names are unique constants; Register cannot fail here.
		_ = r.Register(name, p)
	}
	return r
}

// Register adds a producer. Names must be non-empty and unique.
func (r *Registry) Register(name string, p Producer) error {
	if name == "" {
		return fmt.Errorf("metric name must not be empty")
	}
	if p == nil {
		return fmt.Errorf("metric %q: nil producer", name)
	}
	if _, exists := r.producers[name]; exists {
		return fmt.Errorf("metric %q already registered", name)
	}
	r.producers[name] = p
	return nil
}

// Has reports whether name is registered.
func (r *Registry) Has(name string) bool {
	_, ok := r.producers[name]
	return ok
}

// Names returns the registered metric names in sorted order.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.producers))
	for name := range r.producers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Compute runs every producer over in.
func (r *Registry) Compute(in Input) FileMetrics {
	if in.Options.IndirectionCap <= 0 {
		in.Options.IndirectionCap = DefaultOptions().IndirectionCap
	}
	values := make(map[string]float64, len(r.producers))
	for _, name := range r.Names() {
		values[name] = r.producers[name](in)
	}

	fm := FileMetrics{
		Path:      in.Unit.Path,
		Language:  string(in.Unit.Language),
		Values:    values,
		Functions: functionMetrics(in),
	}
	fm.Complexity = int(values[Complexity])
	fm.Indirection = int(values[Indirection])
	fm.ContextSwitches = int(values[ContextSwitches])
	fm.Lines = int(values[Lines])
	if _, ok := values[Complexity]; !ok {
		fm.Complexity = complexityValue(in.Unit)
	}
	if _, ok := values[Lines]; !ok {
		fm.Lines = in.Unit.Lines
	}
	return fm
}

func functionMetrics(in Input) []FunctionMetrics {
	if len(in.Unit.Functions) == 0 {
		return nil
	}
	out := make([]FunctionMetrics, 0, len(in.Unit.Functions))
	for _, fn := range in.Unit.Functions {
		fm := FunctionMetrics{
			Name:       fn.Name,
			StartLine:  fn.StartLine,
			EndLine:    fn.EndLine,
			Complexity: fn.Complexity(),
			Cognitive:  fn.Cognitive,
			Nesting:    fn.Nesting,
			Params:     fn.Params,
			Lines:      fn.Lines(),
		}
		if in.Options.IndirectionMode == PerFunction && in.Calls != nil {
			fm.Indirection = in.Calls.LongestChain(graph.FunctionKey(in.Unit.Path, fn.Name), graph.KindCall, in.Options.IndirectionCap)
		}
		out = append(out, fm)
	}
	return out
}

func complexityValue(u *parse.Unit) int {
	return u.Complexity()
}

func complexityOf(in Input) float64 {
	return float64(complexityValue(in.Unit))
}

func indirectionOf(in Input) float64 {
	limit := in.Options.IndirectionCap
	if in.Options.IndirectionMode == PerFunction && in.Calls != nil {
		best := 0
		for _, fn := range in.Unit.Functions {
			if d := in.Calls.LongestChain(graph.FunctionKey(in.Unit.Path, fn.Name), graph.KindCall, limit); d > best {
				best = d
			}
		}
		return float64(best)
	}
	if in.Graph == nil {
		return 0
	}
	return float64(in.Graph.LongestChain(in.Unit.Path, graph.KindImport, limit))
}

func contextSwitchesOf(in Input) float64 {
	return float64(len(in.Unit.References))
}

func linesOf(in Input) float64 {
	return float64(in.Unit.Lines)
}

func fanInOf(in Input) float64 {
	if in.Graph == nil {
		return 0
	}
	return float64(in.Graph.FanIn(in.Unit.Path))
}

func fanOutOf(in Input) float64 {
	if in.Graph == nil {
		return 0
	}
	return float64(in.Graph.FanOut(in.Unit.Path))
}

func centralityOf(in Input) float64 {
	return in.Centrality[in.Unit.Path]
}

func cognitiveOf(in Input) float64 {
	total := 0
	for _, fn := range in.Unit.Functions {
		total += fn.Cognitive
	}
	return float64(total)
}

func maxNestingOf(in Input) float64 {
	deepest := 0
	for _, fn := range in.Unit.Functions {
		if fn.Nesting > deepest {
			deepest = fn.Nesting
		}
	}
	return float64(deepest)
}

func importsOf(in Input) float64 {
	return float64(len(in.Unit.Imports))
}

//go:build cgo

package parse

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"

	sitter "github.com/smacker/go-tree-sitter"

	tgerrors "tangle/internal/errors"
	"tangle/internal/source"
)

// Parser turns source files into units. It is safe for concurrent use.
type Parser struct {
	opts Options
	pool sync.Pool
}

// NewParser creates a parser.
func NewParser(opts Options) *Parser {
	return &Parser{
		opts: opts,
		pool: sync.Pool{New: func() any { return sitter.NewParser() }},
	}
}

// Available reports whether syntax-tree parsing is compiled in.
func Available() bool {
	return true
}

// Parse parses a loaded file.
func (p *Parser) Parse(ctx context.Context, file *source.File) (*Unit, error) {
	unit, err := p.ParseSource(ctx, file.Path, file.Content, Language(file.Language))
	if err != nil {
		return nil, err
	}
	unit.Hash = file.Hash
	unit.Lines = file.Lines
	return unit, nil
}

// ParseSource parses src as lang. Failures are PARSE_ERROR.
func (p *Parser) ParseSource(ctx context.Context, path string, src []byte, lang Language) (*Unit, error) {
	g, ok := GrammarFor(lang)
	if !ok {
		return nil, tgerrors.NewParseError(path, fmt.Sprintf("no grammar for language %q", lang), nil)
	}

	sp := p.pool.Get().(*sitter.Parser)
	defer p.pool.Put(sp)
	sp.SetLanguage(g.Sitter())

	tree, err := sp.ParseCtx(ctx, nil, src)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, tgerrors.NewParseError(path, "tree-sitter parse failed", err)
	}
	root := tree.RootNode()

	if root.HasError() && len(src) > 0 {
		ratio := float64(errorBytes(root)) / float64(len(src))
		if ratio > p.opts.MaxErrorRatio {
			return nil, tgerrors.NewParseError(path,
				fmt.Sprintf("%.0f%% of the file is unparseable", ratio*100), nil)
		}
	}

	x := newExtractor(g, src)
	x.unit.Path = path
	x.unit.Lines = source.CountLines(src)
	x.unit.Hash = source.Hash(src)
	x.walk(root, "", "")
	x.finish()
	return x.unit, nil
}

// errorBytes sums the size of the outermost ERROR nodes.
func errorBytes(n *sitter.Node) uint32 {
	if n.Type() == "ERROR" {
		return n.EndByte() - n.StartByte()
	}
	if !n.HasError() {
		return 0
	}
	var total uint32
	for i := 0; i < int(n.ChildCount()); i++ {
		if child := n.Child(i); child != nil {
			total += errorBytes(child)
		}
	}
	return total
}

type extractor struct {
	g        Grammar
	t        *NodeTables
	src      []byte
	unit     *Unit
	seen     map[string]int
	declared map[string]struct{}
	refs     map[string]struct{}
}

func newExtractor(g Grammar, src []byte) *extractor {
	return &extractor{
		g:        g,
		t:        g.Tables(),
		src:      src,
		unit:     &Unit{Language: g.Language()},
		seen:     make(map[string]int),
		declared: make(map[string]struct{}),
		refs:     make(map[string]struct{}),
	}
}

// walk visits n. container is the enclosing type name; caller is the
// enclosing function's qualified name, empty at top level.
func (x *extractor) walk(n *sitter.Node, container, caller string) {
	if n == nil {
		return
	}
	typ := n.Type()

	switch {
	case x.t.Packages.has(typ) && x.unit.Package == "":
		x.unit.Package = x.g.Package(n, x.src)
	case x.t.Types.has(typ):
		if name := x.g.TypeName(n, x.src); name != "" {
			x.unit.Types = append(x.unit.Types, Type{
				Name:      name,
				Kind:      typ,
				StartLine: line(n),
				EndLine:   int(n.EndPoint().Row) + 1,
			})
			x.declared[name] = struct{}{}
			if caller == "" {
				container = name
			}
		}
	case x.t.Containers.has(typ):
		if name := x.g.TypeName(n, x.src); name != "" && caller == "" {
			container = name
		}
	}

	if x.t.Imports.has(typ) {
		x.unit.Imports = append(x.unit.Imports, x.g.Imports(n, x.src)...)
	}
	if x.t.Calls.has(typ) {
		x.recordCall(n, caller)
	}
	if x.t.TypeRefs.has(typ) {
		x.recordTypeRef(n)
		if typ == "qualified_type" {
			return
		}
	}

	if caller == "" && x.t.Functions.has(typ) {
		caller = x.addFunction(n, container)
	}

	for i := 0; i < int(n.NamedChildCount()); i++ {
		x.walk(n.NamedChild(i), container, caller)
	}
}

func (x *extractor) addFunction(n *sitter.Node, container string) string {
	name := x.g.FunctionName(n, x.src)
	if name != "" {
		x.declared[lastSegment(name)] = struct{}{}
	}
	if name == "" {
		name = "<anonymous>@" + strconv.Itoa(line(n))
	}
	if container != "" && !strings.Contains(name, ".") {
		name = container + "." + name
	}

	x.seen[name]++
	if k := x.seen[name]; k > 1 {
		name = name + "#" + strconv.Itoa(k)
	}

	m := measure(n, x.src, x.t)
	x.unit.Functions = append(x.unit.Functions, Function{
		Name:      name,
		StartLine: line(n),
		EndLine:   int(n.EndPoint().Row) + 1,
		Nesting:   m.nesting,
		Branches:  m.branches,
		Params:    countParams(n),
		Cognitive: m.cognitive,
	})
	x.declared[name] = struct{}{}
	return name
}

func (x *extractor) recordCall(n *sitter.Node, caller string) {
	name, qual := x.g.Callee(n, x.src)
	if name == "" {
		return
	}
	if caller != "" {
		x.unit.Calls = append(x.unit.Calls, Call{
			Caller:    caller,
			Callee:    name,
			Qualifier: qual,
			Line:      line(n),
		})
	}
	switch {
	case qual == "":
		x.refs[name] = struct{}{}
	case receiverNames.has(qual):
		// Calls on self stay inside the file.
	default:
		x.refs[qual+"."+name] = struct{}{}
	}
}

func (x *extractor) recordTypeRef(n *sitter.Node) {
	parent := n.Parent()
	if parent != nil && x.t.Types.has(parent.Type()) {
		if name := parent.ChildByFieldName("name"); name != nil && name.StartByte() == n.StartByte() {
			return
		}
	}
	ref := n.Content(x.src)
	if ref == "" {
		return
	}
	x.refs[stripGenerics(ref)] = struct{}{}
}

// finish drops self-references and builtins from the reference set.
func (x *extractor) finish() {
	refs := make([]string, 0, len(x.refs))
	for ref := range x.refs {
		if x.local(ref) {
			continue
		}
		refs = append(refs, ref)
	}
	sort.Strings(refs)
	x.unit.References = refs
}

func (x *extractor) local(ref string) bool {
	if _, ok := x.declared[ref]; ok {
		return true
	}
	if x.t.Builtins.has(ref) {
		return true
	}
	root := rootSegment(ref)
	if root != "" && root != ref {
		if _, ok := x.declared[root]; ok {
			return true
		}
		if x.t.Builtins.has(root) {
			return true
		}
	}
	return false
}

type measurement struct {
	branches  int
	nesting   int
	cognitive int
}

// measure computes decision count, maximum nesting and cognitive complexity
// over the function body. Nested anonymous functions count toward fn.
func measure(fn *sitter.Node, src []byte, t *NodeTables) measurement {
	var m measurement
	var visit func(n *sitter.Node, level int)
	visit = func(n *sitter.Node, level int) {
		typ := n.Type()
		if n.IsNamed() && t.Decisions.has(typ) && isDecision(n, src) {
			m.branches++
			m.cognitive += 1 + level
		}
		childLevel := level
		if n.IsNamed() && t.Nesting.has(typ) {
			childLevel++
			if childLevel > m.nesting {
				m.nesting = childLevel
			}
		}
		for i := 0; i < int(n.ChildCount()); i++ {
			if child := n.Child(i); child != nil {
				visit(child, childLevel)
			}
		}
	}
	for i := 0; i < int(fn.ChildCount()); i++ {
		if child := fn.Child(i); child != nil {
			visit(child, 0)
		}
	}
	return m
}

// isDecision filters binary expressions down to short-circuit operators.
func isDecision(n *sitter.Node, src []byte) bool {
	switch n.Type() {
	case "binary_expression", "boolean_operator":
		return isBooleanOperator(n, src)
	}
	return true
}

func isBooleanOperator(n *sitter.Node, src []byte) bool {
	if op := n.ChildByFieldName("operator"); op != nil {
		switch op.Content(src) {
		case "&&", "||", "and", "or":
			return true
		}
		return false
	}
	for i := 0; i < int(n.ChildCount()); i++ {
		child := n.Child(i)
		if child == nil || child.IsNamed() {
			continue
		}
		switch child.Type() {
		case "&&", "||", "and", "or":
			return true
		}
	}
	return false
}

func countParams(fn *sitter.Node) int {
	params := fn.ChildByFieldName("parameters")
	if params == nil {
		if fn.ChildByFieldName("parameter") != nil {
			return 1
		}
		params = firstChildOfType(fn, "function_value_parameters", "formal_parameters", "parameters", "lambda_parameters")
	}
	if params == nil {
		return 0
	}
	if params.Type() == "identifier" {
		return 1
	}
	count := 0
	for i := 0; i < int(params.NamedChildCount()); i++ {
		child := params.NamedChild(i)
		switch child.Type() {
		case "comment", "line_comment", "block_comment":
			continue
		case "parameter_declaration", "variadic_parameter_declaration":
			// Go groups names that share a type: (a, b int).
			names := 0
			for j := 0; j < int(child.NamedChildCount()); j++ {
				if child.NamedChild(j).Type() == "identifier" {
					names++
				}
			}
			if names == 0 {
				names = 1
			}
			count += names
		default:
			count++
		}
	}
	return count
}

//go:build cgo

package parse

import (
	"path/filepath"
	"strconv"
	"strings"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/golang"
	"github.com/smacker/go-tree-sitter/java"
	"github.com/smacker/go-tree-sitter/javascript"
	"github.com/smacker/go-tree-sitter/kotlin"
	"github.com/smacker/go-tree-sitter/python"
	"github.com/smacker/go-tree-sitter/rust"
	"github.com/smacker/go-tree-sitter/typescript/tsx"
	"github.com/smacker/go-tree-sitter/typescript/typescript"
)

// Grammar is one supported language: its tree-sitter grammar, the node types
// that matter, and the language-specific bits of extraction.
type Grammar interface {
	Language() Language
	Sitter() *sitter.Language
	Tables() *NodeTables

	// FunctionName names a function node; "" marks it anonymous.
	FunctionName(n *sitter.Node, src []byte) string

	// TypeName names a type or container node.
	TypeName(n *sitter.Node, src []byte) string

	// Imports extracts dependency edges from a node listed in Tables().Imports.
	Imports(n *sitter.Node, src []byte) []Import

	// Callee names the target of a call node and the object it is called on.
	Callee(n *sitter.Node, src []byte) (name, qualifier string)

	// Package returns the declared package for a node listed in Tables().Packages.
	Package(n *sitter.Node, src []byte) string
}

// GrammarFor returns the grammar for a language.
func GrammarFor(lang Language) (Grammar, bool) {
	switch lang {
	case LangGo:
		return goGrammar{base{LangGo, golang.GetLanguage(), goTables}}, true
	case LangJavaScript:
		return jsGrammar{base{LangJavaScript, javascript.GetLanguage(), jsTables}}, true
	case LangTypeScript:
		return jsGrammar{base{LangTypeScript, typescript.GetLanguage(), jsTables}}, true
	case LangTSX:
		return jsGrammar{base{LangTSX, tsx.GetLanguage(), jsTables}}, true
	case LangPython:
		return pythonGrammar{base{LangPython, python.GetLanguage(), pythonTables}}, true
	case LangRust:
		return rustGrammar{base{LangRust, rust.GetLanguage(), rustTables}}, true
	case LangJava:
		return javaGrammar{base{LangJava, java.GetLanguage(), javaTables}}, true
	case LangKotlin:
		return kotlinGrammar{base{LangKotlin, kotlin.GetLanguage(), kotlinTables}}, true
	default:
		return nil, false
	}
}

// GrammarForPath selects a grammar by file extension.
func GrammarForPath(path string) (Grammar, bool) {
	lang, ok := LanguageFromExtension(filepath.Ext(path))
	if !ok {
		return nil, false
	}
	return GrammarFor(lang)
}

type base struct {
	lang   Language
	sitter *sitter.Language
	tables *NodeTables
}

func (b base) Language() Language       { return b.lang }
func (b base) Sitter() *sitter.Language { return b.sitter }
func (b base) Tables() *NodeTables      { return b.tables }

func (b base) FunctionName(n *sitter.Node, src []byte) string {
	if name := n.ChildByFieldName("name"); name != nil {
		return name.Content(src)
	}
	return assignedName(n, src)
}

func (b base) TypeName(n *sitter.Node, src []byte) string {
	if name := n.ChildByFieldName("name"); name != nil {
		return name.Content(src)
	}
	return ""
}

func (b base) Package(n *sitter.Node, src []byte) string {
	return ""
}

// assignedName recovers the name of an anonymous function from the binding
// it is assigned to, as in `const handler = () => {}`.
func assignedName(n *sitter.Node, src []byte) string {
	parent := n.Parent()
	if parent == nil {
		return ""
	}
	var target *sitter.Node
	switch parent.Type() {
	case "variable_declarator", "public_field_definition", "field_definition":
		target = parent.ChildByFieldName("name")
		if target == nil {
			target = parent.ChildByFieldName("property")
		}
	case "assignment_expression", "assignment":
		target = parent.ChildByFieldName("left")
	case "pair":
		target = parent.ChildByFieldName("key")
	case "let_declaration":
		target = parent.ChildByFieldName("pattern")
	}
	if target == nil {
		return ""
	}
	return lastSegment(target.Content(src))
}

// lastSegment returns the final identifier of a dotted or scoped path.
func lastSegment(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.LastIndexAny(s, ".:"); i >= 0 {
		s = s[i+1:]
	}
	return strings.Trim(s, `"'`)
}

// rootSegment returns the leading identifier of an object expression, or ""
// when the expression is dynamic.
func rootSegment(s string) string {
	s = strings.TrimSpace(s)
	if s == "" || strings.ContainsAny(s, "()[]{} \n\t") {
		return ""
	}
	s = strings.TrimPrefix(s, "&")
	s = strings.TrimPrefix(s, "*")
	if i := strings.IndexAny(s, ".:"); i >= 0 {
		s = s[:i]
	}
	return s
}

// stripGenerics cuts a type name at its parameter list.
func stripGenerics(s string) string {
	if i := strings.IndexAny(s, "<["); i >= 0 {
		s = s[:i]
	}
	return strings.TrimSpace(strings.TrimLeft(s, "*&"))
}

func unquote(s string) string {
	s = strings.TrimSpace(s)
	if u, err := strconv.Unquote(s); err == nil {
		return u
	}
	return strings.Trim(s, "\"'`")
}

func line(n *sitter.Node) int {
	return int(n.StartPoint().Row) + 1
}

func firstChildOfType(n *sitter.Node, types ...string) *sitter.Node {
	for i := 0; i < int(n.NamedChildCount()); i++ {
		child := n.NamedChild(i)
		if child == nil {
			continue
		}
		for _, t := range types {
			if child.Type() == t {
				return child
			}
		}
	}
	return nil
}

// Go

type goGrammar struct{ base }

func (g goGrammar) FunctionName(n *sitter.Node, src []byte) string {
	name := g.base.FunctionName(n, src)
	if n.Type() != "method_declaration" || name == "" {
		return name
	}
	recv := n.ChildByFieldName("receiver")
	if recv == nil {
		return name
	}
	decl := firstChildOfType(recv, "parameter_declaration")
	if decl == nil {
		return name
	}
	if typ := decl.ChildByFieldName("type"); typ != nil {
		if t := stripGenerics(typ.Content(src)); t != "" {
			return t + "." + name
		}
	}
	return name
}

func (g goGrammar) Imports(n *sitter.Node, src []byte) []Import {
	path := n.ChildByFieldName("path")
	if path == nil {
		return nil
	}
	return []Import{{Target: unquote(path.Content(src)), Line: line(n)}}
}

func (g goGrammar) Callee(n *sitter.Node, src []byte) (string, string) {
	fn := n.ChildByFieldName("function")
	if fn == nil {
		return "", ""
	}
	switch fn.Type() {
	case "identifier":
		return fn.Content(src), ""
	case "selector_expression":
		field := fn.ChildByFieldName("field")
		operand := fn.ChildByFieldName("operand")
		if field == nil {
			return "", ""
		}
		qual := ""
		if operand != nil {
			qual = rootSegment(operand.Content(src))
		}
		return field.Content(src), qual
	}
	return "", ""
}

func (g goGrammar) Package(n *sitter.Node, src []byte) string {
	if id := firstChildOfType(n, "package_identifier"); id != nil {
		return id.Content(src)
	}
	return ""
}

// JavaScript, TypeScript, TSX

type jsGrammar struct{ base }

func (g jsGrammar) Imports(n *sitter.Node, src []byte) []Import {
	switch n.Type() {
	case "import_statement", "export_statement":
		source := n.ChildByFieldName("source")
		if source == nil {
			return nil
		}
		return []Import{{Target: unquote(source.Content(src)), Line: line(n)}}
	case "call_expression":
		fn := n.ChildByFieldName("function")
		if fn == nil || fn.Content(src) != "require" {
			return nil
		}
		args := n.ChildByFieldName("arguments")
		if args == nil {
			return nil
		}
		if arg := firstChildOfType(args, "string"); arg != nil {
			return []Import{{Target: unquote(arg.Content(src)), Line: line(n)}}
		}
	}
	return nil
}

func (g jsGrammar) Callee(n *sitter.Node, src []byte) (string, string) {
	fn := n.ChildByFieldName("function")
	if fn == nil {
		return "", ""
	}
	switch fn.Type() {
	case "identifier":
		return fn.Content(src), ""
	case "member_expression":
		prop := fn.ChildByFieldName("property")
		obj := fn.ChildByFieldName("object")
		if prop == nil {
			return "", ""
		}
		qual := ""
		if obj != nil {
			qual = rootSegment(obj.Content(src))
		}
		return prop.Content(src), qual
	}
	return "", ""
}

// Python

type pythonGrammar struct{ base }

func (g pythonGrammar) FunctionName(n *sitter.Node, src []byte) string {
	if n.Type() == "lambda" {
		return assignedName(n, src)
	}
	return g.base.FunctionName(n, src)
}

func (g pythonGrammar) Imports(n *sitter.Node, src []byte) []Import {
	switch n.Type() {
	case "import_statement":
		var out []Import
		for i := 0; i < int(n.NamedChildCount()); i++ {
			child := n.NamedChild(i)
			switch child.Type() {
			case "dotted_name":
				out = append(out, Import{Target: child.Content(src), Line: line(n)})
			case "aliased_import":
				if name := child.ChildByFieldName("name"); name != nil {
					out = append(out, Import{Target: name.Content(src), Line: line(n)})
				}
			}
		}
		return out
	case "import_from_statement":
		module := n.ChildByFieldName("module_name")
		if module == nil {
			return nil
		}
		imp := Import{Target: module.Content(src), Line: line(n)}
		for i := 0; i < int(n.NamedChildCount()); i++ {
			child := n.NamedChild(i)
			if child == nil || child.StartByte() == module.StartByte() {
				continue
			}
			switch child.Type() {
			case "dotted_name":
				imp.Names = append(imp.Names, child.Content(src))
			case "aliased_import":
				if name := child.ChildByFieldName("name"); name != nil {
					imp.Names = append(imp.Names, name.Content(src))
				}
			}
		}
		return []Import{imp}
	}
	return nil
}

func (g pythonGrammar) Callee(n *sitter.Node, src []byte) (string, string) {
	fn := n.ChildByFieldName("function")
	if fn == nil {
		return "", ""
	}
	switch fn.Type() {
	case "identifier":
		return fn.Content(src), ""
	case "attribute":
		attr := fn.ChildByFieldName("attribute")
		obj := fn.ChildByFieldName("object")
		if attr == nil {
			return "", ""
		}
		qual := ""
		if obj != nil {
			qual = rootSegment(obj.Content(src))
		}
		return attr.Content(src), qual
	}
	return "", ""
}

// Rust

type rustGrammar struct{ base }

func (g rustGrammar) TypeName(n *sitter.Node, src []byte) string {
	if n.Type() == "impl_item" {
		if typ := n.ChildByFieldName("type"); typ != nil {
			return stripGenerics(typ.Content(src))
		}
		return ""
	}
	return g.base.TypeName(n, src)
}

func (g rustGrammar) Imports(n *sitter.Node, src []byte) []Import {
	switch n.Type() {
	case "use_declaration":
		arg := n.ChildByFieldName("argument")
		if arg == nil {
			return nil
		}
		target := arg.Content(src)
		// use crate::a::{b, c} keeps the shared prefix.
		if i := strings.Index(target, "::{"); i >= 0 {
			target = target[:i]
		}
		target = strings.TrimSuffix(target, "::*")
		if i := strings.Index(target, " as "); i >= 0 {
			target = target[:i]
		}
		return []Import{{Target: target, Line: line(n)}}
	case "mod_item":
		// Inline modules have a body and live in this file.
		if n.ChildByFieldName("body") != nil {
			return nil
		}
		if name := n.ChildByFieldName("name"); name != nil {
			return []Import{{Target: "self::" + name.Content(src), Line: line(n)}}
		}
	}
	return nil
}

func (g rustGrammar) Callee(n *sitter.Node, src []byte) (string, string) {
	fn := n.ChildByFieldName("function")
	for fn != nil && fn.Type() == "generic_function" {
		fn = fn.ChildByFieldName("function")
	}
	if fn == nil {
		return "", ""
	}
	switch fn.Type() {
	case "identifier":
		return fn.Content(src), ""
	case "scoped_identifier":
		name := fn.ChildByFieldName("name")
		path := fn.ChildByFieldName("path")
		if name == nil {
			return "", ""
		}
		qual := ""
		if path != nil {
			qual = lastSegment(path.Content(src))
		}
		return name.Content(src), qual
	case "field_expression":
		field := fn.ChildByFieldName("field")
		value := fn.ChildByFieldName("value")
		if field == nil {
			return "", ""
		}
		qual := ""
		if value != nil {
			qual = rootSegment(value.Content(src))
		}
		return field.Content(src), qual
	}
	return "", ""
}

// Java

type javaGrammar struct{ base }

func (g javaGrammar) Imports(n *sitter.Node, src []byte) []Import {
	target := strings.TrimSpace(n.Content(src))
	target = strings.TrimPrefix(target, "import")
	target = strings.TrimSpace(strings.TrimSuffix(target, ";"))
	target = strings.TrimSpace(strings.TrimPrefix(target, "static "))
	target = strings.TrimSuffix(target, ".*")
	if target == "" {
		return nil
	}
	return []Import{{Target: target, Line: line(n)}}
}

func (g javaGrammar) Callee(n *sitter.Node, src []byte) (string, string) {
	name := n.ChildByFieldName("name")
	if name == nil {
		return "", ""
	}
	qual := ""
	if obj := n.ChildByFieldName("object"); obj != nil {
		qual = rootSegment(obj.Content(src))
	}
	return name.Content(src), qual
}

func (g javaGrammar) Package(n *sitter.Node, src []byte) string {
	if id := firstChildOfType(n, "scoped_identifier", "identifier"); id != nil {
		return id.Content(src)
	}
	return ""
}

// Kotlin

type kotlinGrammar struct{ base }

func (g kotlinGrammar) FunctionName(n *sitter.Node, src []byte) string {
	if id := firstChildOfType(n, "simple_identifier"); id != nil && n.Type() == "function_declaration" {
		return id.Content(src)
	}
	return ""
}

func (g kotlinGrammar) TypeName(n *sitter.Node, src []byte) string {
	if id := firstChildOfType(n, "type_identifier", "simple_identifier"); id != nil {
		return id.Content(src)
	}
	return ""
}

func (g kotlinGrammar) Imports(n *sitter.Node, src []byte) []Import {
	id := firstChildOfType(n, "identifier")
	if id == nil {
		return nil
	}
	return []Import{{Target: id.Content(src), Line: line(n)}}
}

func (g kotlinGrammar) Callee(n *sitter.Node, src []byte) (string, string) {
	if n.NamedChildCount() == 0 {
		return "", ""
	}
	fn := n.NamedChild(0)
	switch fn.Type() {
	case "simple_identifier":
		return fn.Content(src), ""
	case "navigation_expression":
		count := int(fn.NamedChildCount())
		if count < 2 {
			return "", ""
		}
		suffix := fn.NamedChild(count - 1)
		id := firstChildOfType(suffix, "simple_identifier")
		if id == nil {
			return "", ""
		}
		return id.Content(src), rootSegment(fn.NamedChild(0).Content(src))
	}
	return "", ""
}

func (g kotlinGrammar) Package(n *sitter.Node, src []byte) string {
	if id := firstChildOfType(n, "identifier"); id != nil {
		return id.Content(src)
	}
	return ""
}

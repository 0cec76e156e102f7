// Package parse turns source files into structural units via tree-sitter.
package parse

import (
	"path/filepath"
	"strings"
)

// Language represents a supported programming language.
type Language string

const (
	LangGo         Language = "go"
	LangJavaScript Language = "javascript"
	LangTypeScript Language = "typescript"
	LangTSX        Language = "tsx"
	LangPython     Language = "python"
	LangRust       Language = "rust"
	LangJava       Language = "java"
	LangKotlin     Language = "kotlin"
)

// Function is one function or method found in a unit.
type Function struct {
	// Name is qualified (Type.method) and unique within the unit.
	Name string `json:"name"`

	StartLine int `json:"startLine"`
	EndLine   int `json:"endLine"`

	// Nesting is the deepest nesting of control structures in the body.
	Nesting int `json:"nesting"`

	// Branches counts decision points; cyclomatic complexity is Branches + 1.
	Branches int `json:"branches"`

	Params    int `json:"params"`
	Cognitive int `json:"cognitive"`
}

// Complexity returns the McCabe cyclomatic complexity.
func (f Function) Complexity() int {
	return f.Branches + 1
}

// Lines returns the number of lines the function spans.
func (f Function) Lines() int {
	return f.EndLine - f.StartLine + 1
}

// Type is a class, struct, interface or similar declaration.
type Type struct {
	Name      string `json:"name"`
	Kind      string `json:"kind"`
	StartLine int    `json:"startLine"`
	EndLine   int    `json:"endLine"`
}

// Import is an unresolved dependency edge.
type Import struct {
	// Target is the module or path as written in source.
	Target string `json:"target"`

	// Names holds the imported members for from-style imports; resolution
	// tries Target.Name before Target.
	Names []string `json:"names,omitempty"`

	Line int `json:"line"`
}

// Call is a call site. Callee stays unresolved until the graph is built.
type Call struct {
	Caller    string `json:"caller"`
	Callee    string `json:"callee"`
	Qualifier string `json:"qualifier,omitempty"`
	Line      int    `json:"line"`
}

// Unit is the structural content of one file.
type Unit struct {
	Path     string   `json:"path"`
	Hash     string   `json:"hash"`
	Language Language `json:"language"`
	Lines    int      `json:"lines"`

	// Package is the declared package or namespace, when the language has one.
	Package string `json:"package,omitempty"`

	Functions []Function `json:"functions"`
	Types     []Type     `json:"types"`
	Imports   []Import   `json:"imports"`
	Calls     []Call     `json:"calls"`

	// References lists, sorted, the distinct names used in the unit that it
	// does not declare itself.
	References []string `json:"references"`
}

// Function looks up a function by qualified name.
func (u *Unit) Function(name string) (*Function, bool) {
	for i := range u.Functions {
		if u.Functions[i].Name == name {
			return &u.Functions[i], true
		}
	}
	return nil, false
}

// Complexity sums cyclomatic complexity over functions. A unit without
// functions still has a single path, so the result is at least 1.
func (u *Unit) Complexity() int {
	total := 0
	for _, f := range u.Functions {
		total += f.Complexity()
	}
	if total < 1 {
		return 1
	}
	return total
}

// Clone returns a copy of the unit attributed to path. Slices are shared;
// units are read-only after parsing.
func (u *Unit) Clone(path string) *Unit {
	c := *u
	c.Path = path
	return &c
}

// LanguageFromExtension returns the Language for a file extension.
func LanguageFromExtension(ext string) (Language, bool) {
	switch strings.ToLower(ext) {
	case ".go":
		return LangGo, true
	case ".js", ".mjs", ".cjs", ".jsx":
		return LangJavaScript, true
	case ".ts", ".mts", ".cts":
		return LangTypeScript, true
	case ".tsx":
		return LangTSX, true
	case ".py", ".pyw":
		return LangPython, true
	case ".rs":
		return LangRust, true
	case ".java":
		return LangJava, true
	case ".kt", ".kts":
		return LangKotlin, true
	default:
		return "", false
	}
}

// Classify reports the language tag for path. It satisfies source.Classifier.
func Classify(path string) (string, bool) {
	lang, ok := LanguageFromExtension(filepath.Ext(path))
	return string(lang), ok
}

// Options tune parsing.
type Options struct {
	// MaxErrorRatio is the share of source bytes that may sit under ERROR
	// nodes before the whole file is rejected.
	MaxErrorRatio float64
}

// DefaultOptions returns the options used when none are configured.
func DefaultOptions() Options {
	return Options{MaxErrorRatio: 0.25}
}

//go:build cgo

package parse

import (
	"context"
	"strings"
	"testing"

	tgerrors "tangle/internal/errors"
	"tangle/internal/source"
)

func parseSource(t *testing.T, path string, lang Language, src string) *Unit {
	t.Helper()
	p := NewParser(DefaultOptions())
	unit, err := p.ParseSource(context.Background(), path, []byte(src), lang)
	if err != nil {
		t.Fatalf("ParseSource(%s): %v", path, err)
	}
	checkCallers(t, unit)
	return unit
}

// checkCallers asserts every call site belongs to a function of the unit.
func checkCallers(t *testing.T, u *Unit) {
	t.Helper()
	for _, c := range u.Calls {
		if _, ok := u.Function(c.Caller); !ok {
			t.Errorf("call %s -> %s references unknown function", c.Caller, c.Callee)
		}
	}
}

func mustFunction(t *testing.T, u *Unit, name string) Function {
	t.Helper()
	f, ok := u.Function(name)
	if !ok {
		names := make([]string, 0, len(u.Functions))
		for _, fn := range u.Functions {
			names = append(names, fn.Name)
		}
		t.Fatalf("function %q not found; have %v", name, names)
	}
	return *f
}

func importTargets(u *Unit) []string {
	out := make([]string, 0, len(u.Imports))
	for _, imp := range u.Imports {
		out = append(out, imp.Target)
	}
	return out
}

func TestParse_Go(t *testing.T) {
	unit := parseSource(t, "cmd/main.go", LangGo, `package main

import (
	"fmt"
	"strings"
)

type Server struct{}

func simple() {
	fmt.Println("hello")
}

func withIf(x int) {
	if x > 0 && x < 10 {
		fmt.Println("in range")
	}
}

func (s *Server) Handle(a, b int, name string) error {
	for i := 0; i < a; i++ {
		if i%2 == 0 {
			continue
		}
	}
	go func() {
		if b > 0 {
			simple()
		}
	}()
	_ = strings.ToUpper(name)
	return nil
}
`)

	if unit.Package != "main" {
		t.Errorf("Package = %q, want main", unit.Package)
	}
	if len(unit.Functions) != 3 {
		t.Fatalf("expected 3 functions (closure folded into its parent), got %d", len(unit.Functions))
	}

	tests := []struct {
		name     string
		cyclo    int
		params   int
		nesting  int
	}{
		{"simple", 1, 0, 0},
		{"withIf", 3, 1, 1},
		{"Server.Handle", 4, 3, 2},
	}
	for _, tt := range tests {
		fn := mustFunction(t, unit, tt.name)
		if fn.Complexity() != tt.cyclo {
			t.Errorf("%s: cyclomatic = %d, want %d", tt.name, fn.Complexity(), tt.cyclo)
		}
		if fn.Params != tt.params {
			t.Errorf("%s: params = %d, want %d", tt.name, fn.Params, tt.params)
		}
		if fn.Nesting != tt.nesting {
			t.Errorf("%s: nesting = %d, want %d", tt.name, fn.Nesting, tt.nesting)
		}
	}

	if got := strings.Join(importTargets(unit), ","); got != "fmt,strings" {
		t.Errorf("imports = %s", got)
	}
	if len(unit.Types) != 1 || unit.Types[0].Name != "Server" {
		t.Errorf("types = %+v", unit.Types)
	}
	if got := strings.Join(unit.References, ","); got != "fmt.Println,strings.ToUpper" {
		t.Errorf("references = %s", got)
	}

	var closureCall bool
	for _, c := range unit.Calls {
		if c.Caller == "Server.Handle" && c.Callee == "simple" {
			closureCall = true
		}
	}
	if !closureCall {
		t.Error("call inside closure should be attributed to Server.Handle")
	}
}

func TestParse_Python(t *testing.T) {
	unit := parseSource(t, "pkg/loader.py", LangPython, `import os
from . import helpers
from pkg.util import load, save as store


class Loader:
    def __init__(self, path):
        self.path = path

    def read(self, strict=False):
        if strict and not os.path.exists(self.path):
            raise ValueError("missing")
        try:
            return [l for l in load(self.path) if l]
        except OSError:
            return []


def main():
    Loader("x").read()
`)

	if fn := mustFunction(t, unit, "Loader.__init__"); fn.Complexity() != 1 || fn.Params != 2 {
		t.Errorf("__init__ = %+v", fn)
	}
	// if, and, comprehension loop, comprehension filter, except
	if fn := mustFunction(t, unit, "Loader.read"); fn.Complexity() != 6 {
		t.Errorf("read cyclomatic = %d, want 6", fn.Complexity())
	}
	mustFunction(t, unit, "main")

	if len(unit.Imports) != 3 {
		t.Fatalf("imports = %+v", unit.Imports)
	}
	rel := unit.Imports[1]
	if rel.Target != "." || len(rel.Names) != 1 || rel.Names[0] != "helpers" {
		t.Errorf("relative import = %+v", rel)
	}
	from := unit.Imports[2]
	if from.Target != "pkg.util" || strings.Join(from.Names, ",") != "load,save" {
		t.Errorf("from import = %+v", from)
	}

	refs := strings.Join(unit.References, ",")
	if !strings.Contains(refs, "load") {
		t.Errorf("references %s should include load", refs)
	}
	if strings.Contains(refs, "ValueError") || strings.Contains(refs, "Loader") {
		t.Errorf("references %s should exclude builtins and local names", refs)
	}
}

func TestParse_JavaScript(t *testing.T) {
	unit := parseSource(t, "src/widget.js", LangJavaScript, `import { api } from './api';
const fs = require('fs');

export class Widget {
  render(props) {
    return props.items.map((item) => item.visible ? item.label : '');
  }
}

export const handler = async (event) => {
  if (event.a || event.b) {
    return api.send(event);
  }
  switch (event.kind) {
    case 'x':
      return 1;
    default:
      return 0;
  }
};
`)

	if got := strings.Join(importTargets(unit), ","); got != "./api,fs" {
		t.Errorf("imports = %s", got)
	}
	if fn := mustFunction(t, unit, "Widget.render"); fn.Complexity() != 2 || fn.Params != 1 {
		t.Errorf("render = %+v", fn)
	}
	if fn := mustFunction(t, unit, "handler"); fn.Complexity() != 4 {
		t.Errorf("handler cyclomatic = %d, want 4", fn.Complexity())
	}
	if len(unit.Functions) != 2 {
		t.Errorf("expected 2 functions, got %d", len(unit.Functions))
	}
}

func TestParse_Rust(t *testing.T) {
	unit := parseSource(t, "src/cache.rs", LangRust, `use crate::store::{Reader, Writer};
mod util;

struct Cache { size: usize }

impl Cache {
    fn get(&self, key: &str) -> Option<String> {
        match key {
            "a" => Some(String::new()),
            _ => None,
        }
    }
}

fn main() {
    let c = Cache { size: 1 };
    if c.size > 0 && true { util::run(); }
}
`)

	if got := strings.Join(importTargets(unit), ","); got != "crate::store,self::util" {
		t.Errorf("imports = %s", got)
	}
	if fn := mustFunction(t, unit, "Cache.get"); fn.Complexity() != 3 || fn.Params != 2 {
		t.Errorf("Cache.get = %+v", fn)
	}
	if fn := mustFunction(t, unit, "main"); fn.Complexity() != 3 {
		t.Errorf("main cyclomatic = %d, want 3", fn.Complexity())
	}
}

func TestParse_Java(t *testing.T) {
	unit := parseSource(t, "src/Service.java", LangJava, `package com.acme.app;

import com.acme.util.Strings;
import static com.acme.util.Math.max;

public class Service {
    public Service() {}

    public int run(int a, int b) {
        for (int i = 0; i < a; i++) {
            if (i > b || i == 3) { return Strings.len("x"); }
        }
        return 0;
    }
}
`)

	if unit.Package != "com.acme.app" {
		t.Errorf("Package = %q", unit.Package)
	}
	if got := strings.Join(importTargets(unit), ","); got != "com.acme.util.Strings,com.acme.util.Math.max" {
		t.Errorf("imports = %s", got)
	}
	mustFunction(t, unit, "Service.Service")
	if fn := mustFunction(t, unit, "Service.run"); fn.Complexity() != 4 || fn.Params != 2 {
		t.Errorf("Service.run = %+v", fn)
	}
}

func TestParse_Kotlin(t *testing.T) {
	unit := parseSource(t, "src/Greeter.kt", LangKotlin, `package com.acme

import com.acme.util.Helper

fun greet(name: String): String {
    return if (name.isEmpty()) "anon" else name
}
`)

	if unit.Package != "com.acme" {
		t.Errorf("Package = %q", unit.Package)
	}
	if got := strings.Join(importTargets(unit), ","); got != "com.acme.util.Helper" {
		t.Errorf("imports = %s", got)
	}
	if fn := mustFunction(t, unit, "greet"); fn.Complexity() != 2 {
		t.Errorf("greet cyclomatic = %d, want 2", fn.Complexity())
	}
}

func TestParse_DuplicateNamesAreUnique(t *testing.T) {
	unit := parseSource(t, "dup.js", LangJavaScript, `
function a() {}
function a() {}
const f = function () {};
`)
	names := make(map[string]bool)
	for _, fn := range unit.Functions {
		if names[fn.Name] {
			t.Errorf("duplicate qualified name %q", fn.Name)
		}
		names[fn.Name] = true
	}
	if !names["a"] || !names["a#2"] {
		t.Errorf("names = %v", names)
	}
}

func TestParse_ComplexityFloor(t *testing.T) {
	unit := parseSource(t, "empty.py", LangPython, "X = 1\n")
	if unit.Complexity() < 1 {
		t.Errorf("Complexity() = %d, want >= 1", unit.Complexity())
	}
}

func TestParse_Errors(t *testing.T) {
	p := NewParser(DefaultOptions())

	_, err := p.ParseSource(context.Background(), "garbage.go", []byte("@@@@ #### $$$$ ```` ~~~~ @@@@\n"), LangGo)
	if !tgerrors.Is(err, tgerrors.ParseError) {
		t.Errorf("expected PARSE_ERROR for garbage, got %v", err)
	}

	_, err = p.ParseSource(context.Background(), "notes.txt", []byte("hello"), Language("text"))
	if !tgerrors.Is(err, tgerrors.ParseError) {
		t.Errorf("expected PARSE_ERROR for unknown language, got %v", err)
	}
}

func TestParse_FileCarriesLoaderIdentity(t *testing.T) {
	content := []byte("package a\n\nfunc A() {}\n")
	file := &source.File{Path: "a/a.go", Hash: source.Hash(content), Language: "go", Lines: 3, Content: content}

	unit, err := NewParser(DefaultOptions()).Parse(context.Background(), file)
	if err != nil {
		t.Fatal(err)
	}
	if unit.Path != file.Path || unit.Hash != file.Hash || unit.Lines != 3 {
		t.Errorf("unit identity = %s %s %d", unit.Path, unit.Hash, unit.Lines)
	}
}

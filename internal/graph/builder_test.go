package graph

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"tangle/internal/parse"
)

func unit(path string, lang parse.Language, imports ...string) *parse.Unit {
	u := &parse.Unit{Path: path, Language: lang}
	for _, imp := range imports {
		u.Imports = append(u.Imports, parse.Import{Target: imp})
	}
	return u
}

func neighbors(g *Graph, id string) string {
	return strings.Join(g.Neighbors(id, KindAny), ",")
}

func TestBuild_ThreeFileCycle(t *testing.T) {
	units := []*parse.Unit{
		unit("c.py", parse.LangPython, "a"),
		unit("a.py", parse.LangPython, "b"),
		unit("b.py", parse.LangPython, "c", "requests"),
	}
	g, err := Build(context.Background(), units, Options{})
	if err != nil {
		t.Fatal(err)
	}
	if g.NumNodes() != 3 || g.NumEdges() != 3 {
		t.Fatalf("nodes=%d edges=%d, want 3/3 (external import dropped)", g.NumNodes(), g.NumEdges())
	}
	cycles := g.Cycles(KindImport)
	if len(cycles) != 1 || strings.Join(cycles[0].Nodes, ",") != "a.py,b.py,c.py" {
		t.Errorf("cycles = %v", cycles)
	}
}

func TestBuild_PythonResolution(t *testing.T) {
	from := unit("app/main.py", parse.LangPython)
	from.Imports = []parse.Import{
		{Target: ".", Names: []string{"helpers"}},
		{Target: "app.models"},
		{Target: "lib", Names: []string{"store"}},
		{Target: "os"},
	}
	units := []*parse.Unit{
		from,
		unit("app/helpers.py", parse.LangPython),
		unit("app/models/__init__.py", parse.LangPython),
		unit("src/lib/store.py", parse.LangPython),
	}
	g, err := Build(context.Background(), units, Options{})
	if err != nil {
		t.Fatal(err)
	}
	want := "app/helpers.py,app/models/__init__.py,src/lib/store.py"
	if got := neighbors(g, "app/main.py"); got != want {
		t.Errorf("neighbors = %s, want %s", got, want)
	}
}

func TestBuild_GoModuleResolution(t *testing.T) {
	units := []*parse.Unit{
		unit("cmd/app/main.go", parse.LangGo, "example.com/app/internal/store", "fmt"),
		unit("internal/store/store.go", parse.LangGo),
		unit("internal/store/sql.go", parse.LangGo),
		unit("internal/store/store_test.go", parse.LangGo),
	}
	g, err := Build(context.Background(), units, Options{ModulePath: "example.com/app"})
	if err != nil {
		t.Fatal(err)
	}
	want := "internal/store/sql.go,internal/store/store.go"
	if got := neighbors(g, "cmd/app/main.go"); got != want {
		t.Errorf("neighbors = %s, want %s", got, want)
	}
}

func TestBuild_JSAndJVMResolution(t *testing.T) {
	units := []*parse.Unit{
		unit("web/app.ts", parse.LangTypeScript, "./api", "../shared/util.js", "react"),
		unit("web/api/index.ts", parse.LangTypeScript),
		unit("shared/util.js", parse.LangJavaScript),
		{Path: "src/main/java/com/acme/App.java", Language: parse.LangJava, Package: "com.acme",
			Imports: []parse.Import{{Target: "com.acme.util.Strings"}}},
		{Path: "src/main/java/com/acme/util/Strings.java", Language: parse.LangJava, Package: "com.acme.util"},
	}
	g, err := Build(context.Background(), units, Options{})
	if err != nil {
		t.Fatal(err)
	}
	if got := neighbors(g, "web/app.ts"); got != "shared/util.js,web/api/index.ts" {
		t.Errorf("ts neighbors = %s", got)
	}
	if got := neighbors(g, "src/main/java/com/acme/App.java"); got != "src/main/java/com/acme/util/Strings.java" {
		t.Errorf("java neighbors = %s", got)
	}
}

func TestBuild_RustResolution(t *testing.T) {
	units := []*parse.Unit{
		unit("src/main.rs", parse.LangRust, "self::util", "crate::store::Reader", "std::io"),
		unit("src/util.rs", parse.LangRust),
		unit("src/store/mod.rs", parse.LangRust),
	}
	g, err := Build(context.Background(), units, Options{})
	if err != nil {
		t.Fatal(err)
	}
	if got := neighbors(g, "src/main.rs"); got != "src/store/mod.rs,src/util.rs" {
		t.Errorf("rust neighbors = %s", got)
	}
}

func TestBuild_CallResolution(t *testing.T) {
	caller := &parse.Unit{
		Path:     "svc/handler.py",
		Language: parse.LangPython,
		Functions: []parse.Function{
			{Name: "handle"},
			{Name: "helper"},
		},
		Calls: []parse.Call{
			{Caller: "handle", Callee: "helper"},
			{Caller: "handle", Callee: "persist"},
			{Caller: "handle", Callee: "format"}, // two candidates, no qualifier
			{Caller: "handle", Callee: "json_dump"},
		},
	}
	units := []*parse.Unit{
		caller,
		{Path: "svc/db.py", Language: parse.LangPython, Functions: []parse.Function{{Name: "persist"}}},
		{Path: "svc/a.py", Language: parse.LangPython, Functions: []parse.Function{{Name: "format"}}},
		{Path: "svc/b.py", Language: parse.LangPython, Functions: []parse.Function{{Name: "format"}}},
		{Path: "web/db.js", Language: parse.LangJavaScript, Functions: []parse.Function{{Name: "json_dump"}}},
	}

	files, err := Build(context.Background(), units, Options{Granularity: FileNodes})
	if err != nil {
		t.Fatal(err)
	}
	if got := neighbors(files, "svc/handler.py"); got != "svc/db.py" {
		t.Errorf("file neighbors = %s", got)
	}

	funcs, err := Build(context.Background(), units, Options{Granularity: FunctionNodes})
	if err != nil {
		t.Fatal(err)
	}
	if funcs.Granularity() != FunctionNodes || funcs.NumNodes() != 6 {
		t.Fatalf("function graph nodes = %d", funcs.NumNodes())
	}
	want := "svc/db.py#persist,svc/handler.py#helper"
	if got := neighbors(funcs, FunctionKey("svc/handler.py", "handle")); got != want {
		t.Errorf("function neighbors = %s, want %s", got, want)
	}
}

func TestBuild_QualifierNarrowsCandidates(t *testing.T) {
	caller := &parse.Unit{
		Path:      "cmd/main.go",
		Language:  parse.LangGo,
		Functions: []parse.Function{{Name: "main"}},
		Calls:     []parse.Call{{Caller: "main", Callee: "Open", Qualifier: "store"}},
	}
	units := []*parse.Unit{
		caller,
		{Path: "internal/store/open.go", Language: parse.LangGo, Functions: []parse.Function{{Name: "Open"}}},
		{Path: "internal/cache/open.go", Language: parse.LangGo, Functions: []parse.Function{{Name: "Open"}}},
	}
	g, err := Build(context.Background(), units, Options{})
	if err != nil {
		t.Fatal(err)
	}
	if got := neighbors(g, "cmd/main.go"); got != "internal/store/open.go" {
		t.Errorf("neighbors = %s", got)
	}
}

func TestBuild_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	units := []*parse.Unit{unit("a.py", parse.LangPython, "b"), unit("b.py", parse.LangPython)}
	if _, err := Build(ctx, units, Options{}); err == nil {
		t.Error("expected cancellation error")
	}
}

func TestReadModulePath(t *testing.T) {
	root := t.TempDir()
	if got := ReadModulePath(root); got != "" {
		t.Errorf("missing go.mod: %q", got)
	}
	if err := os.WriteFile(filepath.Join(root, "go.mod"), []byte("module example.com/app\n\ngo 1.24\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if got := ReadModulePath(root); got != "example.com/app" {
		t.Errorf("ReadModulePath = %q", got)
	}
}

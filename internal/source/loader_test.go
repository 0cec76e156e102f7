package source

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	tgerrors "tangle/internal/errors"
	"tangle/internal/slogutil"
)

func writeFile(t *testing.T, root, rel, content string) {
	t.Helper()
	path := filepath.Join(root, rel)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func classifyByExt(path string) (string, bool) {
	switch filepath.Ext(path) {
	case ".go":
		return "go", true
	case ".py":
		return "python", true
	}
	return "", false
}

func newTestLoader(root string, rules Rules) *Loader {
	return NewLoader(root, rules, classifyByExt, slogutil.NewDiscardLogger())
}

func TestDiscover(t *testing.T) {
	t.Parallel()
	root := t.TempDir()

	writeFile(t, root, "main.go", "package main\n")
	writeFile(t, root, "lib/util.py", "def helper(): pass\n")
	writeFile(t, root, "web/page.html", "<p>hi</p>\n")
	writeFile(t, root, "readme.txt", "hello\n")
	writeFile(t, root, ".hidden.py", "secret\n")
	writeFile(t, root, "node_modules/dep/index.py", "x = 1\n")
	writeFile(t, root, "api/types.pb.go", "package api\n")
	writeFile(t, root, "gen/skip.go", "package gen\n")
	writeFile(t, root, "testdata/fixture.go", "package testdata\n")
	writeFile(t, root, ".gitignore", "gen/\n")

	loader := newTestLoader(root, Rules{
		Exclude:          []string{"**/testdata/**", "testdata"},
		IncludeText:      []string{".html"},
		RespectGitignore: true,
	})

	paths, err := loader.Discover(context.Background())
	if err != nil {
		t.Fatalf("Discover: %v", err)
	}

	want := []string{"lib/util.py", "main.go", "web/page.html"}
	if strings.Join(paths, ",") != strings.Join(want, ",") {
		t.Errorf("Discover() = %v, want %v", paths, want)
	}

	again, err := loader.Discover(context.Background())
	if err != nil {
		t.Fatalf("second Discover: %v", err)
	}
	if strings.Join(again, ",") != strings.Join(paths, ",") {
		t.Errorf("Discover is not restartable: %v vs %v", again, paths)
	}
}

func TestCandidate(t *testing.T) {
	loader := newTestLoader(t.TempDir(), Rules{Exclude: []string{"build/**", "build"}, IncludeText: []string{".md"}})
	tests := []struct {
		rel  string
		dir  bool
		want bool
	}{
		{"pkg", true, true},
		{"node_modules", true, false},
		{".git", true, false},
		{"build", true, false},
		{"pkg/a.go", false, true},
		{"pkg/notes.md", false, true},
		{"pkg/a.pb.go", false, false},
		{"pkg/.a.go", false, false},
		{"pkg/a.exe", false, false},
		{"build/out.go", false, false},
	}
	for _, tt := range tests {
		if got := loader.Candidate(tt.rel, tt.dir); got != tt.want {
			t.Errorf("Candidate(%q, %v) = %v, want %v", tt.rel, tt.dir, got, tt.want)
		}
	}
}

func TestLoad(t *testing.T) {
	t.Parallel()
	root := t.TempDir()
	writeFile(t, root, "pkg/a.go", "package pkg\n\nfunc A() {}\n")

	loader := newTestLoader(root, Rules{})
	f, err := loader.Load(context.Background(), "pkg/a.go")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if f.Path != "pkg/a.go" || f.Language != "go" {
		t.Errorf("unexpected file identity: %+v", f)
	}
	if f.Lines != 3 {
		t.Errorf("Lines = %d, want 3", f.Lines)
	}
	if f.Hash != Hash([]byte("package pkg\n\nfunc A() {}\n")) || len(f.Hash) != 64 {
		t.Errorf("Hash = %q", f.Hash)
	}
}

func TestLoad_Skips(t *testing.T) {
	t.Parallel()
	root := t.TempDir()
	writeFile(t, root, "big.py", strings.Repeat("x = 1\n", 50))
	writeFile(t, root, "bin.py", "abc\x00def")
	writeFile(t, root, "gen.go", "// Code generated by protoc. DO NOT EDIT.\npackage x\n")

	loader := newTestLoader(root, Rules{MaxLines: 10})
	for _, rel := range []string{"big.py", "bin.py", "gen.go"} {
		_, err := loader.Load(context.Background(), rel)
		var skip *Skip
		if !errors.As(err, &skip) {
			t.Errorf("Load(%s) error = %v, want *Skip", rel, err)
			continue
		}
		if skip.Path != rel || skip.Reason == "" {
			t.Errorf("Load(%s) skip = %+v", rel, skip)
		}
	}
}

func TestLoad_MaxBytes(t *testing.T) {
	t.Parallel()
	root := t.TempDir()
	writeFile(t, root, "wide.py", strings.Repeat("y", 4096))

	loader := newTestLoader(root, Rules{MaxBytes: 1024})
	_, err := loader.Load(context.Background(), "wide.py")
	var skip *Skip
	if !errors.As(err, &skip) || skip.Path != "wide.py" {
		t.Fatalf("expected skip for oversized file, got %v", err)
	}
}

func TestLoad_Unreadable(t *testing.T) {
	t.Parallel()
	loader := newTestLoader(t.TempDir(), Rules{})
	_, err := loader.Load(context.Background(), "missing.go")
	if !tgerrors.Is(err, tgerrors.IOError) {
		t.Fatalf("expected IO_ERROR, got %v", err)
	}
}

func TestLoad_Timeout(t *testing.T) {
	t.Parallel()
	loader := newTestLoader(t.TempDir(), Rules{ReadTimeout: 20 * time.Millisecond})
	release := make(chan struct{})
	defer close(release)
	loader.readFile = func(string, int64) ([]byte, error) {
		<-release
		return nil, nil
	}

	start := time.Now()
	_, err := loader.Load(context.Background(), "slow.go")
	if !tgerrors.Is(err, tgerrors.Timeout) {
		t.Fatalf("expected TIMEOUT, got %v", err)
	}
	if time.Since(start) > 2*time.Second {
		t.Error("timeout did not bound the read")
	}
}

func TestLoad_Cancelled(t *testing.T) {
	t.Parallel()
	loader := newTestLoader(t.TempDir(), Rules{ReadTimeout: time.Minute})
	release := make(chan struct{})
	defer close(release)
	loader.readFile = func(string, int64) ([]byte, error) {
		<-release
		return nil, nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := loader.Load(ctx, "slow.go")
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestFiles_Sequence(t *testing.T) {
	t.Parallel()
	root := t.TempDir()
	writeFile(t, root, "a.go", "package a\n")
	writeFile(t, root, "b.py", "abc\x00")
	writeFile(t, root, "c.py", "print(1)\n")

	loader := newTestLoader(root, Rules{})
	var loaded, skipped []string
	for f, err := range loader.Files(context.Background()) {
		if err != nil {
			var skip *Skip
			if errors.As(err, &skip) {
				skipped = append(skipped, skip.Path)
				continue
			}
			t.Fatalf("unexpected error: %v", err)
		}
		loaded = append(loaded, f.Path)
	}
	if strings.Join(loaded, ",") != "a.go,c.py" {
		t.Errorf("loaded = %v", loaded)
	}
	if strings.Join(skipped, ",") != "b.py" {
		t.Errorf("skipped = %v", skipped)
	}
}

func TestCountLines(t *testing.T) {
	tests := []struct {
		in   string
		want int
	}{
		{"", 0},
		{"a", 1},
		{"a\n", 1},
		{"a\nb", 2},
		{"a\nb\n\n", 3},
	}
	for _, tt := range tests {
		if got := CountLines([]byte(tt.in)); got != tt.want {
			t.Errorf("CountLines(%q) = %d, want %d", tt.in, got, tt.want)
		}
	}
}

func TestFocus(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "svc/api/h.go", "package api\n")

	focus, err := NormalizeFocus(filepath.Join(root, "svc"), root)
	if err != nil || focus != "svc" {
		t.Fatalf("NormalizeFocus() = %q, %v", focus, err)
	}
	if f, _ := NormalizeFocus(".", root); f != "" {
		t.Errorf("NormalizeFocus(.) = %q, want empty", f)
	}
	if _, err := NormalizeFocus("../elsewhere", root); err == nil {
		t.Error("expected error for focus outside root")
	}
	if _, err := NormalizeFocus("svc/api/h.go", root); err == nil {
		t.Error("expected error for file focus")
	}

	tests := []struct {
		rel, focus string
		want       bool
	}{
		{"svc/api/h.go", "svc", true},
		{"svc", "svc", true},
		{"svcx/a.go", "svc", false},
		{"other/a.go", "", true},
	}
	for _, tt := range tests {
		if got := WithinFocus(tt.rel, tt.focus); got != tt.want {
			t.Errorf("WithinFocus(%q, %q) = %v, want %v", tt.rel, tt.focus, got, tt.want)
		}
	}
}

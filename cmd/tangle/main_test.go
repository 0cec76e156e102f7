package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"go.uber.org/goleak"

	tgerrors "tangle/internal/errors"
	"tangle/internal/parse"
	"tangle/internal/report"
	"tangle/internal/source"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// lineParser stands in for tree-sitter: "import x" lines are imports, "def"
// lines open functions and indented "if" lines are branches.
func lineParser(ctx context.Context, f *source.File) (*parse.Unit, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	u := &parse.Unit{Path: f.Path, Hash: f.Hash, Language: parse.Language(f.Language), Lines: f.Lines}
	var cur *parse.Function
	for i, line := range strings.Split(strings.TrimRight(string(f.Content), "\n"), "\n") {
		switch {
		case strings.HasPrefix(line, "import "):
			u.Imports = append(u.Imports, parse.Import{Target: strings.TrimPrefix(line, "import "), Line: i + 1})
		case strings.HasPrefix(line, "def "):
			name := strings.TrimPrefix(line, "def ")
			name = name[:strings.Index(name, "(")]
			u.Functions = append(u.Functions, parse.Function{Name: name, StartLine: i + 1, EndLine: i + 1})
			cur = &u.Functions[len(u.Functions)-1]
		case cur != nil && strings.HasPrefix(line, " "):
			cur.EndLine = i + 1
			if strings.HasPrefix(strings.TrimSpace(line), "if ") {
				cur.Branches++
			}
		}
	}
	return u, nil
}

func writeFile(t *testing.T, root, rel, content string) string {
	t.Helper()
	path := filepath.Join(root, rel)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func cycleTree(t *testing.T) string {
	t.Helper()
	root := t.TempDir()
	for _, f := range []struct{ name, imp string }{{"a", "b"}, {"b", "c"}, {"c", "a"}} {
		writeFile(t, root, f.name+".py", "import "+f.imp+"\n\ndef f_"+f.name+"(x):\n    if x:\n        return 1\n    return 0\n")
	}
	return root
}

func resetFlags() {
	verbosity, quiet, logFormat, logFile, configPath = 0, false, "", "", ""
	analyzeOutput, analyzeFormat, analyzeFocus = "", "", ""
	analyzePlan, analyzeTop, analyzeBaseline, analyzeWorkers, analyzeFailOnFindings = false, 0, "", 0, false
	baselinePath, baselineFormat, baselineDryRun = "", "human", false
	complexityFormat, complexitySortBy, complexityLimit = "human", "complexity", 0
	historyFormat, historyLimit = "human", 10
	configFormat, configForce = "yaml", false
	watchDebounce = 0
}

// execute runs the CLI with the line parser and returns stdout and the exit
// status main would use.
func execute(t *testing.T, args ...string) (string, int) {
	t.Helper()
	resetFlags()
	parseOverride = lineParser
	t.Cleanup(func() { parseOverride = nil })

	var out, errOut bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&errOut)
	rootCmd.SetArgs(append([]string{"-q"}, args...))
	err := rootCmd.ExecuteContext(context.Background())
	code := exitCodeFor(err)
	if code == exitAborted {
		t.Logf("command error: %v", err)
	}
	return out.String(), code
}

func TestExitCodeFor(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"nil", nil, exitPass},
		{"failed gate", &exitError{code: exitFail}, exitFail},
		{"wrapped gate", errors.Join(errors.New("x"), &exitError{code: exitFail}), exitFail},
		{"config", tgerrors.NewConfigError("scoring.weights", "bad"), exitAborted},
		{"cancelled", tgerrors.New(tgerrors.Cancelled, "analysis cancelled", context.Canceled), exitAborted},
		{"plain", errors.New("boom"), exitAborted},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := exitCodeFor(tt.err); got != tt.want {
				t.Errorf("exitCodeFor() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestAnalyze_PassWritesJSON(t *testing.T) {
	root := cycleTree(t)
	out, code := execute(t, "analyze", root, "--workers", "2")
	if code != exitPass {
		t.Fatalf("exit = %d", code)
	}
	var doc map[string]any
	if err := json.Unmarshal([]byte(out), &doc); err != nil {
		t.Fatalf("stdout is not JSON: %v\n%s", err, out)
	}
	if doc["passed"] != true {
		t.Errorf("passed = %v", doc["passed"])
	}
	cycles, _ := doc["cycles"].([]any)
	if len(cycles) != 1 {
		t.Errorf("cycles = %v", doc["cycles"])
	}
}

func TestAnalyze_CriticalFails(t *testing.T) {
	root := cycleTree(t)
	var b strings.Builder
	b.WriteString("def tangled(x):\n")
	for i := 0; i < 60; i++ {
		b.WriteString("    if x:\n        x += 1\n")
	}
	writeFile(t, root, "z.py", b.String())

	out, code := execute(t, "analyze", root, "--format", "markdown")
	if code != exitFail {
		t.Fatalf("exit = %d, want %d", code, exitFail)
	}
	if !strings.Contains(out, "**Status:** FAIL") || !strings.Contains(out, "| 1 | `z.py` |") {
		t.Errorf("markdown:\n%s", out)
	}
}

func TestAnalyze_OutputFileCompressed(t *testing.T) {
	root := cycleTree(t)
	path := filepath.Join(t.TempDir(), "reports", "tangle.sarif.zst")
	out, code := execute(t, "analyze", root, "--format", "sarif", "--output", path)
	if code != exitPass {
		t.Fatalf("exit = %d", code)
	}
	if out != "" {
		t.Errorf("stdout should be empty when writing a file, got %q", out)
	}
	data, err := report.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), `"version": "2.1.0"`) {
		t.Errorf("not a SARIF log: %.200s", data)
	}
}

func TestAnalyze_ConfigErrorAborts(t *testing.T) {
	root := cycleTree(t)
	writeFile(t, root, ".tangle/config.yaml", "version: 1\nscoring:\n  thresholds:\n    warning: 3\n    critical: 1\n")
	out, code := execute(t, "analyze", root)
	if code != exitAborted {
		t.Errorf("exit = %d, want %d", code, exitAborted)
	}
	if out != "" {
		t.Errorf("no report expected, got %q", out)
	}

	_, code = execute(t, "analyze", cycleTree(t), "--format", "pdf")
	if code != exitAborted {
		t.Errorf("unknown format exit = %d", code)
	}
}

func TestPlan(t *testing.T) {
	out, code := execute(t, "plan", cycleTree(t))
	if code != exitPass {
		t.Fatalf("exit = %d", code)
	}
	if !strings.Contains(out, "# Refactoring Plan") || !strings.Contains(out, "**Readiness:**") {
		t.Errorf("plan:\n%s", out)
	}
}

func TestBaseline_RegisterListRemove(t *testing.T) {
	root := t.TempDir()
	block := "# DUPLICATED_BLOCK: shared:v1\nx = load()\ny = x + 1\n# END_DUPLICATED_BLOCK: shared\n"
	writeFile(t, root, "a.py", block)
	writeFile(t, root, "b.py", block)

	out, code := execute(t, "baseline", "register", root)
	if code != exitPass || !strings.Contains(out, "Added (1):") || !strings.Contains(out, "shared:v1") {
		t.Fatalf("register exit %d:\n%s", code, out)
	}

	out, code = execute(t, "baseline", "list", root, "--format", "json")
	if code != exitPass {
		t.Fatalf("list exit = %d", code)
	}
	var entries []map[string]any
	if err := json.Unmarshal([]byte(out), &entries); err != nil {
		t.Fatalf("list output: %v\n%s", err, out)
	}
	if len(entries) != 1 || entries[0]["id"] != "shared" {
		t.Errorf("entries = %v", entries)
	}

	out, code = execute(t, "baseline", "register", root, "--dry-run")
	if code != exitPass || !strings.Contains(out, "Unchanged: 1") {
		t.Errorf("dry run exit %d:\n%s", code, out)
	}

	writeFile(t, root, "b.py", strings.Replace(block, "x + 1", "x + 2", 1))
	out, code = execute(t, "baseline", "register", root)
	if code != exitFail || !strings.Contains(out, "Conflicts, copies disagree (1):") {
		t.Errorf("conflicting copies exit %d:\n%s", code, out)
	}

	if out, code = execute(t, "baseline", "remove", "shared", "v1", "--baseline", filepath.Join(root, ".tangle", "baseline.yaml")); code != exitPass {
		t.Errorf("remove exit %d: %s", code, out)
	}
	if _, code = execute(t, "baseline", "remove", "shared", "v1", "--baseline", filepath.Join(root, ".tangle", "baseline.yaml")); code != exitFail {
		t.Errorf("second remove exit = %d, want %d", code, exitFail)
	}
}

func TestComplexity(t *testing.T) {
	root := t.TempDir()
	path := writeFile(t, root, "svc.py", "def small(x):\n    return x\n\ndef branchy(x):\n    if x:\n        x += 1\n    if x > 2:\n        x -= 1\n    return x\n")

	out, code := execute(t, "complexity", path, "--format", "json")
	if code != exitPass {
		t.Fatalf("exit = %d", code)
	}
	var resp ComplexityResponseCLI
	if err := json.Unmarshal([]byte(out), &resp); err != nil {
		t.Fatalf("%v\n%s", err, out)
	}
	if resp.Summary.FunctionCount != 2 || resp.Summary.Complexity != 4 || resp.Summary.MaxComplexity != 3 {
		t.Errorf("summary = %+v", resp.Summary)
	}
	if len(resp.Functions) != 2 || resp.Functions[0].Name != "branchy" {
		t.Errorf("functions = %+v", resp.Functions)
	}

	out, code = execute(t, "complexity", path, "--sort", "name", "--limit", "1")
	if code != exitPass || !strings.Contains(out, "branchy") || strings.Contains(out, "small ") {
		t.Errorf("human output:\n%s", out)
	}
}

func TestHistory(t *testing.T) {
	root := cycleTree(t)
	writeFile(t, root, ".tangle/config.yaml", "version: 1\nhistory:\n  enabled: true\n")

	if _, code := execute(t, "analyze", root); code != exitPass {
		t.Fatalf("analyze exit = %d", code)
	}
	if _, code := execute(t, "analyze", root); code != exitPass {
		t.Fatalf("second analyze exit = %d", code)
	}

	t.Chdir(root)
	out, code := execute(t, "history", "a.py", "--format", "json")
	if code != exitPass {
		t.Fatalf("history exit = %d", code)
	}
	var h FileHistoryCLI
	if err := json.Unmarshal([]byte(out), &h); err != nil {
		t.Fatalf("%v\n%s", err, out)
	}
	if len(h.Snapshots) != 2 || h.Trend.DataPoints != 2 {
		t.Errorf("history = %+v", h)
	}

	out, code = execute(t, "history")
	if code != exitPass || strings.Count(out, "pass") != 2 {
		t.Errorf("runs:\n%s", out)
	}
}

func TestHistory_Missing(t *testing.T) {
	t.Chdir(t.TempDir())
	if _, code := execute(t, "history"); code != exitAborted {
		t.Errorf("exit = %d, want %d", code, exitAborted)
	}
}

func TestConfigInitAndShow(t *testing.T) {
	root := t.TempDir()
	if out, code := execute(t, "config", "init", root); code != exitPass || !strings.Contains(out, "config.yaml") {
		t.Fatalf("init exit %d: %s", code, out)
	}
	if _, code := execute(t, "config", "init", root); code != exitAborted {
		t.Errorf("second init should refuse, exit = %d", code)
	}
	out, code := execute(t, "config", "show", root, "--format", "json")
	if code != exitPass {
		t.Fatalf("show exit = %d", code)
	}
	if !strings.Contains(out, `"critical": 2`) {
		t.Errorf("show:\n%s", out)
	}
}

func TestVersion(t *testing.T) {
	out, code := execute(t, "version")
	if code != exitPass || !strings.HasPrefix(out, "tangle version ") {
		t.Errorf("version = %q (exit %d)", out, code)
	}
}

func TestWatch_RerunsOnChange(t *testing.T) {
	root := cycleTree(t)
	resetFlags()
	parseOverride = lineParser
	runs := make(chan *report.Report, 4)
	watchNotify = func(r *report.Report) { runs <- r }
	t.Cleanup(func() { parseOverride, watchNotify = nil, nil })

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&bytes.Buffer{})
	rootCmd.SetArgs([]string{"-q", "watch", root, "--debounce", "30ms", "--format", "json"})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- rootCmd.ExecuteContext(ctx) }()

	next := func() *report.Report {
		t.Helper()
		select {
		case r := <-runs:
			return r
		case err := <-done:
			t.Fatalf("watch exited early: %v", err)
		case <-time.After(10 * time.Second):
			t.Fatal("timed out waiting for a run")
		}
		return nil
	}

	if first := next(); first.Summary.Files != 3 {
		t.Fatalf("first run files = %d, want 3", first.Summary.Files)
	}
	writeFile(t, root, "d.py", "def d(x):\n    return x\n")
	if second := next(); second.Summary.Files != 4 {
		t.Errorf("second run files = %d, want 4", second.Summary.Files)
	}

	cancel()
	if err := <-done; exitCodeFor(err) != exitPass {
		t.Errorf("watch exit = %v", err)
	}
	if n := strings.Count(out.String(), `"passed"`); n != 2 {
		t.Errorf("reports printed = %d, want 2", n)
	}
}

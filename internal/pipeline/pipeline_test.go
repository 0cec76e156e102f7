package pipeline

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"go.uber.org/goleak"

	"tangle/internal/config"
	"tangle/internal/duplicates"
	tgerrors "tangle/internal/errors"
	"tangle/internal/parse"
	"tangle/internal/report"
	"tangle/internal/scoring"
	"tangle/internal/slogutil"
	"tangle/internal/source"
	"tangle/internal/storage"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

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

// lineParser is a line-oriented stand-in for the tree-sitter parser so the
// pipeline can be exercised without cgo. "import x" lines become imports,
// "def" lines start functions and each "if" line inside one is a branch.
// A file containing "SYNTAX ERROR" fails to parse.
func lineParser(ctx context.Context, f *source.File) (*parse.Unit, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	content := string(f.Content)
	if strings.Contains(content, "SYNTAX ERROR") {
		return nil, tgerrors.NewParseError(f.Path, "unexpected token", nil)
	}
	u := &parse.Unit{Path: f.Path, Hash: f.Hash, Language: parse.Language(f.Language), Lines: f.Lines}
	lines := strings.Split(strings.TrimRight(content, "\n"), "\n")
	var cur *parse.Function
	for i, line := range lines {
		trimmed := strings.TrimSpace(line)
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
			if strings.HasPrefix(trimmed, "if ") {
				cur.Branches++
			}
		}
	}
	return u, nil
}

func testOptions(root string) Options {
	return Options{Root: root, Parse: lineParser, Workers: 4, RunID: "test-run"}
}

func cycleTree(t *testing.T) string {
	t.Helper()
	root := t.TempDir()
	for _, f := range []struct{ name, imp string }{{"a", "b"}, {"b", "c"}, {"c", "a"}} {
		writeFile(t, root, f.name+".py", "import "+f.imp+"\n\n\ndef f_"+f.name+"(x):\n    if x:\n        return 1\n    return 0\n")
	}
	return root
}

func TestRun_ThreeFileCycle(t *testing.T) {
	root := cycleTree(t)

	res, err := Run(context.Background(), config.DefaultConfig(), testOptions(root))
	if err != nil {
		t.Fatal(err)
	}
	r := res.Report

	if len(r.Cycles) != 1 || strings.Join(r.Cycles[0].Nodes, ",") != "a.py,b.py,c.py" {
		t.Errorf("cycles = %+v", r.Cycles)
	}
	if len(r.Files) != 3 {
		t.Fatalf("files = %d, want 3", len(r.Files))
	}
	for _, f := range r.Files {
		if f.Metrics.Complexity != 2 {
			t.Errorf("%s complexity = %d, want 2", f.Path, f.Metrics.Complexity)
		}
		if f.Metrics.Indirection > config.DefaultConfig().Metrics.IndirectionCap {
			t.Errorf("%s indirection %d above cap", f.Path, f.Metrics.Indirection)
		}
	}
	if len(r.Drift) != 0 {
		t.Errorf("drift = %+v", r.Drift)
	}
	if !r.Passed || r.ExitCode() != 0 {
		t.Errorf("Passed = %v, reasons %v", r.Passed, r.Reasons)
	}
	if r.RunID != "test-run" || r.Summary.Files != 3 || len(r.Skipped) != 0 {
		t.Errorf("report = %+v", r.Summary)
	}
}

func TestRun_Deterministic(t *testing.T) {
	root := cycleTree(t)
	cfg := config.DefaultConfig()

	first, err := Run(context.Background(), cfg, testOptions(root))
	if err != nil {
		t.Fatal(err)
	}
	second, err := Run(context.Background(), cfg, testOptions(root))
	if err != nil {
		t.Fatal(err)
	}
	for i := range first.Scores {
		if first.Scores[i].Value != second.Scores[i].Value {
			t.Errorf("%s: %v != %v", first.Scores[i].Path, first.Scores[i].Value, second.Scores[i].Value)
		}
	}
}

func TestRun_CriticalFileFails(t *testing.T) {
	root := cycleTree(t)
	var b strings.Builder
	b.WriteString("def tangled(x):\n")
	for i := 0; i < 60; i++ {
		b.WriteString("    if x:\n        x += 1\n")
	}
	writeFile(t, root, "z.py", b.String())

	res, err := Run(context.Background(), config.DefaultConfig(), testOptions(root))
	if err != nil {
		t.Fatal(err)
	}
	r := res.Report
	if r.ExitCode() != 1 || r.Passed {
		t.Fatalf("ExitCode() = %d, reasons %v", r.ExitCode(), r.Reasons)
	}
	if len(r.Hotspots) == 0 || r.Hotspots[0].Path != "z.py" || r.Hotspots[0].Severity != scoring.SeverityCritical {
		t.Errorf("hotspots = %+v", r.Hotspots)
	}
}

func markedBlock(body string) string {
	return "# DUPLICATED_BLOCK: X:v1\n" + body + "# END_DUPLICATED_BLOCK: X\n"
}

func tenLines(prefix string) string {
	var b strings.Builder
	for i := 0; i < 10; i++ {
		b.WriteString(prefix)
		b.WriteString(" = compute(")
		b.WriteString(strings.Repeat("y", i+1))
		b.WriteString(")\n")
	}
	return b.String()
}

func TestRun_MarkedBlockDrift(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "a.py", markedBlock(tenLines("value")))
	writeFile(t, root, "b.py", markedBlock(tenLines("value")))

	cfg := config.DefaultConfig()
	res, err := Run(context.Background(), cfg, testOptions(root))
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Report.Drift) != 0 || !res.Report.Passed {
		t.Fatalf("identical copies: drift = %+v", res.Report.Drift)
	}

	writeFile(t, root, "b.py", markedBlock(strings.Repeat("raise NotImplementedError()\n", 10)))
	res, err = Run(context.Background(), cfg, testOptions(root))
	if err != nil {
		t.Fatal(err)
	}
	r := res.Report
	if len(r.Drift) != 1 {
		t.Fatalf("drift = %+v", r.Drift)
	}
	f := r.Drift[0]
	if f.ID != "X" || f.Base.Path != "a.py" || f.Other.Path != "b.py" {
		t.Errorf("finding = %+v", f)
	}
	if !f.ExceedsTolerance || f.Similarity >= f.Threshold {
		t.Errorf("similarity %v, threshold %v", f.Similarity, f.Threshold)
	}
	if r.ExitCode() != 1 {
		t.Errorf("ExitCode() = %d, want 1", r.ExitCode())
	}
}

func TestRun_Skips(t *testing.T) {
	root := cycleTree(t)
	writeFile(t, root, "broken.py", "def oops(:\n    SYNTAX ERROR\n")
	writeFile(t, root, "blob.py", "x = 1\x00\x01\n")

	res, err := Run(context.Background(), config.DefaultConfig(), testOptions(root))
	if err != nil {
		t.Fatal(err)
	}
	r := res.Report
	if len(r.Skipped) != 2 {
		t.Fatalf("skipped = %+v", r.Skipped)
	}
	want := []report.Skipped{
		{Path: "blob.py", Stage: report.StageLoad, Code: CodeExcluded},
		{Path: "broken.py", Stage: report.StageParse, Code: string(tgerrors.ParseError)},
	}
	for i, w := range want {
		got := r.Skipped[i]
		if got.Path != w.Path || got.Stage != w.Stage || got.Code != w.Code || got.Reason == "" {
			t.Errorf("skipped[%d] = %+v, want %+v", i, got, w)
		}
	}
	if r.Summary.Files != 5 || r.Summary.Analyzed != 3 {
		t.Errorf("summary = %+v", r.Summary)
	}
}

func TestRun_Focus(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "pkg/a.py", "import b\n\ndef fa(x):\n    return x\n")
	writeFile(t, root, "b.py", "def fb(x):\n    return x\n")

	opts := testOptions(root)
	opts.Focus = "pkg"
	res, err := Run(context.Background(), config.DefaultConfig(), opts)
	if err != nil {
		t.Fatal(err)
	}
	r := res.Report
	if r.Focus != "pkg" || len(r.Files) != 1 || r.Files[0].Path != "pkg/a.py" {
		t.Errorf("focus = %q, files = %+v", r.Focus, r.Files)
	}
	if len(res.Scores) != 2 {
		t.Errorf("whole tree should still be scored, got %d", len(res.Scores))
	}
}

func TestRun_ConfigErrors(t *testing.T) {
	root := cycleTree(t)

	tests := []struct {
		name   string
		mutate func(*config.Config, *Options)
		key    string
	}{
		{
			name:   "unknown weighted metric",
			mutate: func(c *config.Config, _ *Options) { c.Scoring.Weights["mystery"] = 1 },
			key:    "scoring.weights.mystery",
		},
		{
			name:   "missing focus",
			mutate: func(_ *config.Config, o *Options) { o.Focus = "nope" },
			key:    "focus",
		},
		{
			name:   "unsupported baseline",
			mutate: func(_ *config.Config, o *Options) { o.BaselinePath = "baseline.csv" },
			key:    "duplicates.baseline",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := config.DefaultConfig()
			opts := testOptions(root)
			tt.mutate(cfg, &opts)
			_, err := Run(context.Background(), cfg, opts)
			var te *tgerrors.Error
			if !tgerrors.Is(err, tgerrors.ConfigError) || !errors.As(err, &te) || te.Key != tt.key {
				t.Errorf("err = %v, want CONFIG_ERROR for %s", err, tt.key)
			}
		})
	}
}


func TestRun_Cancelled(t *testing.T) {
	root := cycleTree(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res, err := Run(ctx, config.DefaultConfig(), testOptions(root))
	if res != nil || !tgerrors.Is(err, tgerrors.Cancelled) {
		t.Errorf("Run() = %v, %v; want CANCELLED", res, err)
	}
}

func TestRun_CancelledMidRun(t *testing.T) {
	root := cycleTree(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	opts := testOptions(root)
	opts.Parse = func(ctx context.Context, f *source.File) (*parse.Unit, error) {
		cancel()
		<-ctx.Done()
		return nil, ctx.Err()
	}
	_, err := Run(ctx, config.DefaultConfig(), opts)
	if !tgerrors.Is(err, tgerrors.Cancelled) {
		t.Errorf("err = %v, want CANCELLED", err)
	}
}

func TestRun_BaselineAndHistory(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "a.py", markedBlock(tenLines("value")))
	writeFile(t, root, "b.py", markedBlock(tenLines("value")))

	cfg := config.DefaultConfig()
	cfg.History.Enabled = true
	opts := testOptions(root)
	opts.RunID = ""

	res, err := Run(context.Background(), cfg, opts)
	if err != nil {
		t.Fatal(err)
	}

	// Register the blocks, then change both copies the same way: the copies
	// agree with each other but not with the approved version.
	reg, err := RegisterBaseline(root, "", cfg, res.Duplicates.Blocks, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(reg.Added) != 1 {
		t.Fatalf("register = %+v", reg)
	}
	changed := markedBlock(strings.Repeat("raise NotImplementedError()\n", 10))
	writeFile(t, root, "a.py", changed)
	writeFile(t, root, "b.py", changed)

	res, err = Run(context.Background(), cfg, opts)
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Report.Drift) != 1 || !res.Report.Drift[0].AgainstBaseline {
		t.Errorf("drift = %+v", res.Report.Drift)
	}

	db, err := storage.Open(filepath.Join(root, cfg.History.Path), slogutil.NewDiscardLogger())
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()
	runs, err := db.Runs(0)
	if err != nil {
		t.Fatal(err)
	}
	if len(runs) != 2 {
		t.Errorf("runs = %d, want 2", len(runs))
	}
}

func TestDetectorOptions(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Duplicates.SimilarityMetric = duplicates.MetricLevenshtein
	opts := DetectorOptions(cfg, 3)
	if opts.Metric != duplicates.MetricLevenshtein || opts.Workers != 3 || opts.Threshold != 0.85 {
		t.Errorf("options = %+v", opts)
	}
}

func TestScanAndRegister(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "a.py", markedBlock(tenLines("value")))
	writeFile(t, root, "b.py", markedBlock(tenLines("value")))
	writeFile(t, root, "c.py", "# DUPLICATED_BLOCK: other:v2\nx = 1\n# END_DUPLICATED_BLOCK: other\n")
	cfg := config.DefaultConfig()

	blocks, err := ScanBlocks(context.Background(), cfg, root, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(blocks) != 3 {
		t.Fatalf("blocks = %d, want 3", len(blocks))
	}
	for _, b := range blocks {
		if len(b.Hash) != 64 || b.Tolerance == "" {
			t.Errorf("block not prepared: %+v", b)
		}
	}

	res, err := RegisterBaseline(root, "", cfg, blocks, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Added) != 2 || len(res.Conflicts) != 0 {
		t.Errorf("register = %+v", res)
	}

	reg, err := LoadBaseline(root, "", cfg, nil)
	if err != nil {
		t.Fatal(err)
	}
	if reg.Len() != 2 {
		t.Errorf("baseline has %d entries, want 2", reg.Len())
	}
	if _, err := os.Stat(filepath.Join(root, cfg.Duplicates.Baseline)); err != nil {
		t.Errorf("baseline file not written: %v", err)
	}

	again, err := RegisterBaseline(root, "", cfg, blocks, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(again.Unchanged) != 2 {
		t.Errorf("second register = %+v", again)
	}
}

func TestRemoveBaseline(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "a.py", markedBlock(tenLines("value")))
	cfg := config.DefaultConfig()

	blocks, err := ScanBlocks(context.Background(), cfg, root, nil)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := RegisterBaseline(root, "", cfg, blocks, nil); err != nil {
		t.Fatal(err)
	}

	removed, err := RemoveBaseline(root, "", cfg, "x", "v1", nil)
	if err != nil || !removed {
		t.Fatalf("RemoveBaseline() = %v, %v", removed, err)
	}
	removed, err = RemoveBaseline(root, "", cfg, "X", "v1", nil)
	if err != nil || removed {
		t.Errorf("second RemoveBaseline() = %v, %v", removed, err)
	}
	reg, err := LoadBaseline(root, "", cfg, nil)
	if err != nil {
		t.Fatal(err)
	}
	if reg.Len() != 0 {
		t.Errorf("registry still has %d entries", reg.Len())
	}
}

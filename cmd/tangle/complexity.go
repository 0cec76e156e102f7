package main

import (
	"fmt"
	"path/filepath"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	tgerrors "tangle/internal/errors"
	"tangle/internal/metrics"
	"tangle/internal/parse"
	"tangle/internal/report"
	"tangle/internal/scoring"
	"tangle/internal/source"
)

var (
	complexityFormat string
	complexitySortBy string
	complexityLimit  int
)

var complexityCmd = &cobra.Command{
	Use:   "complexity <file>",
	Short: "Show per-function metrics and the confusion score of one file",
	Long: `Parse a single file and print its per-function metrics together with the
file's confusion score. Graph metrics (indirection, fan-in, fan-out) need the
whole tree and are reported as zero; use analyze for those.

Examples:
  tangle complexity internal/api/handler.go
  tangle complexity --sort=cognitive --limit=10 pkg/service.py
  tangle complexity --format=json src/main.ts`,
	Args: cobra.ExactArgs(1),
	RunE: runComplexity,
}

func init() {
	complexityCmd.Flags().StringVar(&complexityFormat, "format", "human", "Output format (json, human)")
	complexityCmd.Flags().StringVar(&complexitySortBy, "sort", "complexity", "Sort by: complexity, cognitive, nesting, line or name")
	complexityCmd.Flags().IntVar(&complexityLimit, "limit", 0, "Limit number of functions shown (0 for all)")
	rootCmd.AddCommand(complexityCmd)
}

// ComplexityResponseCLI is the complexity command's output.
type ComplexityResponseCLI struct {
	File      string                    `json:"file"`
	Language  string                    `json:"language"`
	Score     float64                   `json:"score"`
	Severity  string                    `json:"severity"`
	Issues    []string                  `json:"issues,omitempty"`
	Summary   ComplexitySummaryCLI      `json:"summary"`
	Functions []metrics.FunctionMetrics `json:"functions,omitempty"`
}

type ComplexitySummaryCLI struct {
	FunctionCount     int     `json:"functionCount"`
	Complexity        int     `json:"complexity"`
	MaxComplexity     int     `json:"maxComplexity"`
	AverageComplexity float64 `json:"averageComplexity"`
	Cognitive         int     `json:"cognitive"`
	MaxNesting        int     `json:"maxNesting"`
	ContextSwitches   int     `json:"contextSwitches"`
	Lines             int     `json:"lines"`
}

func runComplexity(cmd *cobra.Command, args []string) error {
	cwd, err := rootArg(nil)
	if err != nil {
		return err
	}
	abs := args[0]
	if !filepath.IsAbs(abs) {
		abs = filepath.Join(cwd, abs)
	}
	root := filepath.Dir(abs)

	s, err := newSession(cmd, cwd)
	if err != nil {
		return err
	}
	defer s.Close()

	rel, err := source.CanonicalizePath(abs, root)
	if err != nil {
		return tgerrors.NewIOError(args[0], err)
	}
	loader := source.NewLoader(root, source.Rules{
		MaxBytes:    s.cfg.Analysis.MaxBytes,
		ReadTimeout: s.cfg.Analysis.ReadTimeout,
	}, parse.Classify, s.logger)

	file, err := loader.Load(cmd.Context(), rel)
	if err != nil {
		return err
	}
	if file.Language == "" || file.Language == source.TextLanguage {
		return tgerrors.NewParseError(args[0], "no grammar for this file type", nil)
	}

	parseFn := parseOverride
	if parseFn == nil {
		parseFn = parse.NewParser(parse.Options{MaxErrorRatio: s.cfg.Analysis.MaxErrorRatio}).Parse
	}
	unit, err := parseFn(cmd.Context(), file)
	if err != nil {
		return err
	}

	fm := metrics.DefaultRegistry().Compute(metrics.Input{
		Unit:    unit,
		Options: metrics.Options{IndirectionCap: s.cfg.Metrics.IndirectionCap},
	})
	score := scoring.NewScorer(scoring.FromConfig(s.cfg.Scoring)).Score(fm)

	resp := convertComplexityResponse(args[0], fm, score)
	out := cmd.OutOrStdout()
	if complexityFormat == "json" {
		data, err := report.DeterministicEncodeIndented(resp, "  ")
		if err != nil {
			return err
		}
		_, err = out.Write(data)
		return err
	}
	_, err = fmt.Fprint(out, formatComplexityHuman(resp))
	return err
}

func convertComplexityResponse(path string, fm metrics.FileMetrics, score scoring.Score) *ComplexityResponseCLI {
	resp := &ComplexityResponseCLI{
		File:     filepath.ToSlash(path),
		Language: fm.Language,
		Score:    score.Value,
		Severity: string(score.Severity),
		Issues:   score.Issues,
		Summary: ComplexitySummaryCLI{
			FunctionCount:   len(fm.Functions),
			Complexity:      fm.Complexity,
			Cognitive:       int(fm.Values[metrics.Cognitive]),
			MaxNesting:      int(fm.Values[metrics.MaxNesting]),
			ContextSwitches: fm.ContextSwitches,
			Lines:           fm.Lines,
		},
	}

	fns := append([]metrics.FunctionMetrics(nil), fm.Functions...)
	total := 0
	for _, f := range fns {
		total += f.Complexity
		if f.Complexity > resp.Summary.MaxComplexity {
			resp.Summary.MaxComplexity = f.Complexity
		}
	}
	if len(fns) > 0 {
		resp.Summary.AverageComplexity = report.RoundFloat(float64(total) / float64(len(fns)))
	}

	less := map[string]func(a, b metrics.FunctionMetrics) bool{
		"cognitive": func(a, b metrics.FunctionMetrics) bool { return a.Cognitive > b.Cognitive },
		"nesting":   func(a, b metrics.FunctionMetrics) bool { return a.Nesting > b.Nesting },
		"line":      func(a, b metrics.FunctionMetrics) bool { return a.StartLine < b.StartLine },
		"name":      func(a, b metrics.FunctionMetrics) bool { return a.Name < b.Name },
	}[complexitySortBy]
	if less == nil {
		less = func(a, b metrics.FunctionMetrics) bool { return a.Complexity > b.Complexity }
	}
	sort.SliceStable(fns, func(i, j int) bool {
		if less(fns[i], fns[j]) {
			return true
		}
		if less(fns[j], fns[i]) {
			return false
		}
		return fns[i].StartLine < fns[j].StartLine
	})
	if complexityLimit > 0 && len(fns) > complexityLimit {
		fns = fns[:complexityLimit]
	}
	resp.Functions = fns
	return resp
}

func formatComplexityHuman(resp *ComplexityResponseCLI) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s (%s)\n", resp.File, resp.Language)
	b.WriteString(strings.Repeat("=", 60) + "\n")
	fmt.Fprintf(&b, "Score: %s [%s]\n", report.FormatFloat(resp.Score), resp.Severity)
	sm := resp.Summary
	fmt.Fprintf(&b, "Functions: %d  Complexity: %d (max %d, avg %s)  Cognitive: %d  Max nesting: %d\n",
		sm.FunctionCount, sm.Complexity, sm.MaxComplexity, report.FormatFloat(sm.AverageComplexity), sm.Cognitive, sm.MaxNesting)
	fmt.Fprintf(&b, "Context switches: %d  Lines: %d\n", sm.ContextSwitches, sm.Lines)

	for _, issue := range resp.Issues {
		fmt.Fprintf(&b, "  ! %s\n", issue)
	}

	if len(resp.Functions) > 0 {
		b.WriteString("\n")
		fmt.Fprintf(&b, "%-40s %10s %6s %9s %7s %6s\n", "FUNCTION", "LINES", "CC", "COGNITIVE", "NESTING", "PARAMS")
		for _, f := range resp.Functions {
			fmt.Fprintf(&b, "%-40s %10s %6d %9d %7d %6d\n",
				f.Name, fmt.Sprintf("%d-%d", f.StartLine, f.EndLine), f.Complexity, f.Cognitive, f.Nesting, f.Params)
		}
	}
	return b.String()
}

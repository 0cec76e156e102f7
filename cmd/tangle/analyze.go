package main

import (
	"fmt"
	"slices"
	"time"

	"github.com/spf13/cobra"

	"tangle/internal/config"
	tgerrors "tangle/internal/errors"
	"tangle/internal/parse"
	"tangle/internal/pipeline"
	"tangle/internal/report"
)

var (
	analyzeOutput         string
	analyzeFormat         string
	analyzeFocus          string
	analyzePlan           bool
	analyzeTop            int
	analyzeBaseline       string
	analyzeWorkers        int
	analyzeFailOnFindings bool
)

// parseOverride replaces the tree-sitter parser in tests.
var parseOverride parse.ParseFunc

var analyzeCmd = &cobra.Command{
	Use:   "analyze [root]",
	Short: "Score every file, rank hotspots and check duplicate drift",
	Long: `Analyze a source tree and emit a report.

Files at or above the critical score, and marked duplicates that drifted past
their tolerance, fail the run. The exit status is 0 on pass, 1 on fail and 2
when the analysis could not run (bad configuration, cancellation).

An output path ending in .zst is written zstd-compressed.

Examples:
  tangle analyze
  tangle analyze ./service --format markdown
  tangle analyze --focus internal/api --top 20
  tangle analyze --format sarif --output tangle.sarif
  tangle analyze --output reports/tangle.json.zst
  tangle analyze --plan`,
	Args: cobra.MaximumNArgs(1),
	RunE: runAnalyze,
}

var planCmd = &cobra.Command{
	Use:   "plan [root]",
	Short: "Print a prioritized refactoring plan (analyze --plan)",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		analyzePlan = true
		return runAnalyze(cmd, args)
	},
}

func init() {
	for _, c := range []*cobra.Command{analyzeCmd, planCmd} {
		c.Flags().StringVarP(&analyzeOutput, "output", "o", "", "Write the report to this path instead of stdout")
		c.Flags().StringVar(&analyzeFocus, "focus", "", "Only report on this subdirectory (the whole tree is still analyzed)")
		c.Flags().IntVar(&analyzeTop, "top", 0, "Number of hotspots to list (default report.top)")
		c.Flags().StringVar(&analyzeBaseline, "baseline", "", "Baseline registry path (default duplicates.baseline)")
		c.Flags().IntVar(&analyzeWorkers, "workers", 0, "Parallel workers (default analysis.workers, then GOMAXPROCS)")
		c.Flags().BoolVar(&analyzeFailOnFindings, "fail-on-findings", false, "Also fail on unregistered duplication")
		rootCmd.AddCommand(c)
	}
	analyzeCmd.Flags().StringVar(&analyzeFormat, "format", "", "Output format: json, markdown, sarif, yaml, toml or plan (default report.format)")
	analyzeCmd.Flags().BoolVar(&analyzePlan, "plan", false, "Render the refactoring plan instead of the full report")
}

func runAnalyze(cmd *cobra.Command, args []string) error {
	start := time.Now()
	root, err := rootArg(args)
	if err != nil {
		return err
	}
	s, err := newSession(cmd, root)
	if err != nil {
		return err
	}
	defer s.Close()

	format, err := resolveFormat(s.cfg)
	if err != nil {
		return err
	}

	res, err := pipeline.Run(cmd.Context(), s.cfg, pipeline.Options{
		Root:               root,
		Focus:              analyzeFocus,
		Workers:            analyzeWorkers,
		BaselinePath:       analyzeBaseline,
		Top:                analyzeTop,
		FailOnUnregistered: analyzeFailOnFindings,
		Parse:              parseOverride,
		Logger:             s.logger,
	})
	if err != nil {
		return err
	}

	if analyzeOutput != "" {
		if err := report.WriteFile(res.Report, format, analyzeOutput); err != nil {
			return tgerrors.New(tgerrors.IOError, "cannot write report", err)
		}
		s.logger.Info("Report written", "path", analyzeOutput, "format", string(format))
	} else if err := report.Write(cmd.OutOrStdout(), res.Report, format); err != nil {
		return err
	}

	r := res.Report
	s.logger.Info("Analysis finished",
		"passed", r.Passed,
		"files", r.Summary.Files,
		"skipped", r.Summary.Skipped,
		"critical", r.Summary.Critical,
		"drift", r.Summary.DriftExceeding,
		"duration", time.Since(start).Round(time.Millisecond))
	for _, reason := range r.Reasons {
		s.logger.Warn("Gate failed", "reason", reason)
	}

	if code := r.ExitCode(); code != exitPass {
		return &exitError{code: code}
	}
	return nil
}

// resolveFormat picks the output format: --plan, then --format, then the
// config.
func resolveFormat(cfg *config.Config) (report.Format, error) {
	if analyzePlan {
		return report.FormatPlan, nil
	}
	format := analyzeFormat
	if format == "" {
		format = cfg.Report.Format
	}
	if !slices.Contains(config.Formats, format) {
		return "", tgerrors.NewConfigError("format", fmt.Sprintf("unknown format %q", format))
	}
	return report.Format(format), nil
}

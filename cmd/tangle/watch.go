package main

import (
	"context"
	"time"

	"github.com/spf13/cobra"

	tgerrors "tangle/internal/errors"
	"tangle/internal/parse"
	"tangle/internal/pipeline"
	"tangle/internal/report"
	"tangle/internal/watcher"
)

var watchDebounce time.Duration

// watchNotify observes each finished run in tests.
var watchNotify func(*report.Report)

var watchCmd = &cobra.Command{
	Use:   "watch [root]",
	Short: "Re-run the analysis whenever source files change",
	Long: `Analyze the tree once, then again after every burst of changes.

Unchanged files are not re-parsed between runs. A failed gate is reported
but does not stop watching; interrupt to exit.

Examples:
  tangle watch
  tangle watch ./service --format plan
  tangle watch --debounce 2s --output tangle.json`,
	Args: cobra.MaximumNArgs(1),
	RunE: runWatch,
}

func init() {
	watchCmd.Flags().StringVarP(&analyzeOutput, "output", "o", "", "Rewrite the report at this path after each run instead of printing it")
	watchCmd.Flags().StringVar(&analyzeFormat, "format", "", "Output format (default report.format)")
	watchCmd.Flags().StringVar(&analyzeFocus, "focus", "", "Only report on this subdirectory")
	watchCmd.Flags().StringVar(&analyzeBaseline, "baseline", "", "Baseline registry path (default duplicates.baseline)")
	watchCmd.Flags().IntVar(&analyzeWorkers, "workers", 0, "Parallel workers (default analysis.workers, then GOMAXPROCS)")
	watchCmd.Flags().DurationVar(&watchDebounce, "debounce", 0, "Quiet period before re-running (default watch.debounce)")
	rootCmd.AddCommand(watchCmd)
}

func runWatch(cmd *cobra.Command, args []string) error {
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
	debounce := watchDebounce
	if debounce <= 0 {
		debounce = s.cfg.Watch.Debounce
	}

	cache := parse.NewCache()
	analyze := func(ctx context.Context) error {
		start := time.Now()
		res, err := pipeline.Run(ctx, s.cfg, pipeline.Options{
			Root:         root,
			Focus:        analyzeFocus,
			Workers:      analyzeWorkers,
			BaselinePath: analyzeBaseline,
			Parse:        parseOverride,
			Cache:        cache,
			Logger:       s.logger,
		})
		switch {
		case err == nil:
		case ctx.Err() != nil:
			return nil
		case tgerrors.Is(err, tgerrors.ConfigError):
			return err
		default:
			s.logger.Error("Analysis failed", "error", err)
			return nil
		}

		if analyzeOutput != "" {
			if err := report.WriteFile(res.Report, format, analyzeOutput); err != nil {
				return tgerrors.New(tgerrors.IOError, "cannot write report", err)
			}
		} else if err := report.Write(cmd.OutOrStdout(), res.Report, format); err != nil {
			return err
		}
		s.logger.Info("Analysis finished",
			"passed", res.Report.Passed,
			"files", res.Report.Summary.Files,
			"parsed", res.CacheMisses,
			"cached", res.CacheHits,
			"duration", time.Since(start).Round(time.Millisecond))
		if watchNotify != nil {
			watchNotify(res.Report)
		}
		return nil
	}

	w, err := watcher.New(root, pipeline.NewLoader(s.cfg, root, s.logger), debounce, s.logger)
	if err != nil {
		return tgerrors.NewIOError(root, err)
	}
	defer func() { _ = w.Close() }()

	ctx := cmd.Context()
	if err := analyze(ctx); err != nil {
		return err
	}
	return w.Run(ctx, func(ctx context.Context, events []watcher.Event) error {
		s.logger.Info("Changes detected, re-running analysis", "changes", len(events), "first", events[0].Path)
		return analyze(ctx)
	})
}

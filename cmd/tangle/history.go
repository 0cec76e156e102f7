package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	tgerrors "tangle/internal/errors"
	"tangle/internal/hotspots"
	"tangle/internal/report"
	"tangle/internal/storage"
)

var (
	historyFormat    string
	historyLimit     int
	historyOlderThan time.Duration
)

var historyCmd = &cobra.Command{
	Use:   "history [file]",
	Short: "Show recorded runs or the score trend of one file",
	Long: `Runs are recorded when history.enabled is set. Without a file this lists the
most recent runs; with one it shows that file's recorded scores and the fitted
trend.

Examples:
  tangle history
  tangle history internal/api/handler.go --limit 20
  tangle history prune --older-than 2160h`,
	Args: cobra.MaximumNArgs(1),
	RunE: runHistory,
}

var historyPruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Delete snapshots older than a retention period",
	Args:  cobra.NoArgs,
	RunE:  runHistoryPrune,
}

func init() {
	historyCmd.Flags().StringVar(&historyFormat, "format", "human", "Output format (json, human)")
	historyCmd.Flags().IntVar(&historyLimit, "limit", 10, "Maximum runs or snapshots to show (0 for all)")
	historyPruneCmd.Flags().DurationVar(&historyOlderThan, "older-than", 90*24*time.Hour, "Retention period")

	historyCmd.AddCommand(historyPruneCmd)
	rootCmd.AddCommand(historyCmd)
}

// FileHistoryCLI is a file's recorded scores with their trend.
type FileHistoryCLI struct {
	Path      string              `json:"path"`
	Trend     *hotspots.Trend     `json:"trend"`
	Snapshots []hotspots.Snapshot `json:"snapshots"`
}

// RunHistoryCLI lists recorded runs.
type RunHistoryCLI struct {
	Snapshots int64         `json:"snapshots"`
	Oldest    *time.Time    `json:"oldest,omitempty"`
	Newest    *time.Time    `json:"newest,omitempty"`
	Runs      []storage.Run `json:"runs"`
}

// openHistory opens the history database without creating one.
func openHistory(cmd *cobra.Command) (*session, *storage.DB, error) {
	root, err := rootArg(nil)
	if err != nil {
		return nil, nil, err
	}
	s, err := newSession(cmd, root)
	if err != nil {
		return nil, nil, err
	}
	path := s.cfg.History.Path
	if !filepath.IsAbs(path) {
		path = filepath.Join(root, path)
	}
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		s.Close()
		return nil, nil, tgerrors.NewConfigError("history.path", fmt.Sprintf("no history at %s; set history.enabled and run analyze", path))
	}
	db, err := storage.Open(path, s.logger)
	if err != nil {
		s.Close()
		return nil, nil, tgerrors.New(tgerrors.IOError, "cannot open history", err)
	}
	return s, db, nil
}

func runHistory(cmd *cobra.Command, args []string) error {
	s, db, err := openHistory(cmd)
	if err != nil {
		return err
	}
	defer s.Close()
	defer db.Close()

	var resp any
	if len(args) == 1 {
		snaps, err := db.SnapshotsFor(filepath.ToSlash(filepath.Clean(args[0])), historyLimit)
		if err != nil {
			return err
		}
		resp = &FileHistoryCLI{
			Path:      filepath.ToSlash(filepath.Clean(args[0])),
			Trend:     hotspots.CalculateTrend(snaps),
			Snapshots: snaps,
		}
	} else {
		runs, err := db.Runs(historyLimit)
		if err != nil {
			return err
		}
		total, oldest, newest, err := db.SnapshotStats()
		if err != nil {
			return err
		}
		resp = &RunHistoryCLI{Snapshots: total, Oldest: oldest, Newest: newest, Runs: runs}
	}

	out := cmd.OutOrStdout()
	if historyFormat == "json" {
		data, err := report.DeterministicEncodeIndented(resp, "  ")
		if err != nil {
			return err
		}
		_, err = out.Write(data)
		return err
	}
	switch v := resp.(type) {
	case *FileHistoryCLI:
		writeFileHistory(out, v)
	case *RunHistoryCLI:
		writeRunHistory(out, v)
	}
	return nil
}

func writeFileHistory(w io.Writer, h *FileHistoryCLI) {
	if len(h.Snapshots) == 0 {
		fmt.Fprintf(w, "No snapshots recorded for %s\n", h.Path)
		return
	}
	fmt.Fprintf(w, "%s: %s", h.Path, h.Trend.Direction)
	if h.Trend.DataPoints >= 2 {
		fmt.Fprintf(w, " (%s/day, 30-day projection %s)",
			report.FormatFloat(h.Trend.Velocity), report.FormatFloat(h.Trend.Projection30d))
	}
	fmt.Fprintln(w)
	fmt.Fprintf(w, "%-20s %8s %-9s %6s %6s %7s\n", "TAKEN", "SCORE", "SEVERITY", "CC", "DEPTH", "LINES")
	for _, sn := range h.Snapshots {
		fmt.Fprintf(w, "%-20s %8s %-9s %6d %6d %7d\n",
			sn.TakenAt.Local().Format("2006-01-02 15:04:05"), report.FormatFloat(sn.Score), sn.Severity,
			sn.Complexity, sn.Indirection, sn.Lines)
	}
}

func writeRunHistory(w io.Writer, h *RunHistoryCLI) {
	if len(h.Runs) == 0 {
		fmt.Fprintln(w, "No runs recorded.")
		return
	}
	fmt.Fprintf(w, "%d snapshots", h.Snapshots)
	if h.Oldest != nil && h.Newest != nil {
		fmt.Fprintf(w, " from %s to %s", h.Oldest.Local().Format("2006-01-02"), h.Newest.Local().Format("2006-01-02"))
	}
	fmt.Fprintln(w)
	fmt.Fprintf(w, "%-36s %-20s %6s %s\n", "RUN", "STARTED", "FILES", "RESULT")
	for _, r := range h.Runs {
		result := "fail"
		if r.Passed {
			result = "pass"
		}
		fmt.Fprintf(w, "%-36s %-20s %6d %s\n", r.ID, r.StartedAt.Local().Format("2006-01-02 15:04:05"), r.Files, result)
	}
}

func runHistoryPrune(cmd *cobra.Command, args []string) error {
	s, db, err := openHistory(cmd)
	if err != nil {
		return err
	}
	defer s.Close()
	defer db.Close()

	n, err := db.CleanupOldSnapshots(historyOlderThan)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Removed %d snapshots older than %s\n", n, historyOlderThan)
	return nil
}

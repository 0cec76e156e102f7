package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"tangle/internal/duplicates"
	"tangle/internal/pipeline"
	"tangle/internal/report"
)

var (
	baselinePath   string
	baselineFormat string
	baselineDryRun bool
)

var baselineCmd = &cobra.Command{
	Use:   "baseline",
	Short: "Manage the registry of approved duplicate blocks",
	Long: `The baseline records the approved content of every marked duplicate block
(DUPLICATED_BLOCK: id:version). Drift is measured against it; copies of a
registered block are compared with the approved version rather than each other.`,
}

var baselineRegisterCmd = &cobra.Command{
	Use:   "register [root]",
	Short: "Approve the current content of every marked block",
	Long: `Scan root for marked blocks and record their current content as approved.

Blocks whose copies disagree are reported as conflicts and left unregistered;
reconcile the copies or bump the version first.

Examples:
  tangle baseline register
  tangle baseline register ./service --dry-run
  tangle baseline register --baseline .tangle/baseline.db`,
	Args: cobra.MaximumNArgs(1),
	RunE: runBaselineRegister,
}

var baselineListCmd = &cobra.Command{
	Use:   "list [root]",
	Short: "List approved blocks",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runBaselineList,
}

var baselineRemoveCmd = &cobra.Command{
	Use:   "remove <id> <version>",
	Short: "Drop an approved block from the registry",
	Args:  cobra.ExactArgs(2),
	RunE:  runBaselineRemove,
}

func init() {
	baselineCmd.PersistentFlags().StringVar(&baselinePath, "baseline", "", "Baseline registry path (default duplicates.baseline)")
	baselineRegisterCmd.Flags().BoolVar(&baselineDryRun, "dry-run", false, "Show what would change without saving")
	baselineListCmd.Flags().StringVar(&baselineFormat, "format", "human", "Output format (json, human)")

	baselineCmd.AddCommand(baselineRegisterCmd)
	baselineCmd.AddCommand(baselineListCmd)
	baselineCmd.AddCommand(baselineRemoveCmd)
	rootCmd.AddCommand(baselineCmd)
}

func runBaselineRegister(cmd *cobra.Command, args []string) error {
	root, err := rootArg(args)
	if err != nil {
		return err
	}
	s, err := newSession(cmd, root)
	if err != nil {
		return err
	}
	defer s.Close()

	blocks, err := pipeline.ScanBlocks(cmd.Context(), s.cfg, root, s.logger)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()

	if baselineDryRun {
		reg, err := pipeline.LoadBaseline(root, baselinePath, s.cfg, s.logger)
		if err != nil {
			return err
		}
		res := reg.Register(blocks)
		fmt.Fprintf(out, "Dry run: %d blocks scanned\n", len(blocks))
		writeRegisterResult(out, res.Added, res.Updated, res.Unchanged, res.Conflicts)
		return nil
	}

	res, err := pipeline.RegisterBaseline(root, baselinePath, s.cfg, blocks, s.logger)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "Baseline %s: %d blocks scanned\n", pipeline.BaselinePath(root, baselinePath, s.cfg), len(blocks))
	writeRegisterResult(out, res.Added, res.Updated, res.Unchanged, res.Conflicts)
	if len(res.Conflicts) > 0 {
		return &exitError{code: exitFail}
	}
	return nil
}

func writeRegisterResult(w io.Writer, added, updated, unchanged, conflicts []string) {
	section := func(title string, items []string) {
		if len(items) == 0 {
			return
		}
		fmt.Fprintf(w, "%s (%d):\n", title, len(items))
		for _, it := range items {
			fmt.Fprintf(w, "  %s\n", it)
		}
	}
	section("Added", added)
	section("Updated", updated)
	section("Conflicts, copies disagree", conflicts)
	if len(unchanged) > 0 {
		fmt.Fprintf(w, "Unchanged: %d\n", len(unchanged))
	}
}

func runBaselineList(cmd *cobra.Command, args []string) error {
	root, err := rootArg(args)
	if err != nil {
		return err
	}
	s, err := newSession(cmd, root)
	if err != nil {
		return err
	}
	defer s.Close()

	reg, err := pipeline.LoadBaseline(root, baselinePath, s.cfg, s.logger)
	if err != nil {
		return err
	}
	entries := reg.Entries()

	if baselineFormat == "json" {
		data, err := report.DeterministicEncodeIndented(entriesWithoutContent(entries), "  ")
		if err != nil {
			return err
		}
		_, err = cmd.OutOrStdout().Write(data)
		return err
	}

	out := cmd.OutOrStdout()
	if len(entries) == 0 {
		fmt.Fprintln(out, "No approved blocks.")
		return nil
	}
	fmt.Fprintf(out, "%-24s %-8s %-11s %-12s %s\n", "ID", "VERSION", "TOLERANCE", "HASH", "SOURCE")
	for _, e := range entries {
		src := e.Path
		if src != "" && e.StartLine > 0 {
			src = fmt.Sprintf("%s:%d-%d", e.Path, e.StartLine, e.EndLine)
		}
		fmt.Fprintf(out, "%-24s %-8s %-11s %-12s %s\n", e.ID, e.Version, e.Tolerance, shortHash(e.Hash), src)
	}
	if !reg.Updated().IsZero() {
		fmt.Fprintf(out, "\nLast registered %s\n", reg.Updated().Format("2006-01-02 15:04"))
	}
	return nil
}

func runBaselineRemove(cmd *cobra.Command, args []string) error {
	root, err := rootArg(nil)
	if err != nil {
		return err
	}
	s, err := newSession(cmd, root)
	if err != nil {
		return err
	}
	defer s.Close()

	removed, err := pipeline.RemoveBaseline(root, baselinePath, s.cfg, args[0], args[1], s.logger)
	if err != nil {
		return err
	}
	if !removed {
		fmt.Fprintf(cmd.OutOrStdout(), "%s:%s is not registered\n", args[0], args[1])
		return &exitError{code: exitFail}
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Removed %s:%s\n", args[0], args[1])
	return nil
}

// entriesWithoutContent drops the normalized text, which is only needed for
// similarity and would swamp the listing.
func entriesWithoutContent(entries []duplicates.BaselineEntry) []duplicates.BaselineEntry {
	out := make([]duplicates.BaselineEntry, len(entries))
	for i, e := range entries {
		e.Normalized = ""
		out[i] = e
	}
	return out
}

func shortHash(h string) string {
	h = strings.TrimSpace(h)
	if len(h) > 12 {
		return h[:12]
	}
	return h
}

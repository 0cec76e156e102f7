package pipeline

import (
	"tangle/internal/duplicates"
	"tangle/internal/graph"
	"tangle/internal/report"
	"tangle/internal/scoring"
	"tangle/internal/source"
)

// The whole tree is always analyzed so chains and cycles that leave the
// focus directory are still measured. These filters narrow what is reported.

func filterScores(scores []scoring.Score, focus string) []scoring.Score {
	if focus == "" {
		return scores
	}
	var out []scoring.Score
	for _, s := range scores {
		if source.WithinFocus(s.Path, focus) {
			out = append(out, s)
		}
	}
	return out
}

// filterCycles keeps cycles with at least one node inside focus.
func filterCycles(cycles []graph.Cycle, focus string) []graph.Cycle {
	if focus == "" {
		return cycles
	}
	var out []graph.Cycle
	for _, c := range cycles {
		for _, n := range c.Nodes {
			if source.WithinFocus(graph.FileOfKey(n), focus) {
				out = append(out, c)
				break
			}
		}
	}
	return out
}

func filterDependencyHotspots(hs []graph.DependencyHotspot, focus string) []graph.DependencyHotspot {
	if focus == "" {
		return hs
	}
	var out []graph.DependencyHotspot
	for _, h := range hs {
		if source.WithinFocus(graph.FileOfKey(h.Node), focus) {
			out = append(out, h)
		}
	}
	return out
}

// filterDuplicates keeps findings touching focus on either side.
func filterDuplicates(res *duplicates.Result, focus string) *duplicates.Result {
	if res == nil || focus == "" {
		return res
	}
	out := &duplicates.Result{}
	for _, b := range res.Blocks {
		if source.WithinFocus(b.Location.Path, focus) {
			out.Blocks = append(out.Blocks, b)
		}
	}
	for _, f := range res.Findings {
		if source.WithinFocus(f.Base.Path, focus) || (!f.AgainstBaseline && source.WithinFocus(f.Other.Path, focus)) {
			out.Findings = append(out.Findings, f)
		}
	}
	for _, u := range res.Unregistered {
		if source.WithinFocus(u.A.Location.Path, focus) || source.WithinFocus(u.B.Location.Path, focus) {
			out.Unregistered = append(out.Unregistered, u)
		}
	}
	for _, w := range res.Warnings {
		if source.WithinFocus(w.Path, focus) {
			out.Warnings = append(out.Warnings, w)
		}
	}
	return out
}

func filterSkipped(skipped []report.Skipped, focus string) []report.Skipped {
	if focus == "" {
		return skipped
	}
	var out []report.Skipped
	for _, s := range skipped {
		if source.WithinFocus(s.Path, focus) {
			out = append(out, s)
		}
	}
	return out
}

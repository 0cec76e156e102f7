// Package report assembles analysis results into a single report, decides
// pass or fail, and renders it in the supported output formats.
package report

import (
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"tangle/internal/duplicates"
	"tangle/internal/graph"
	"tangle/internal/hotspots"
	"tangle/internal/scoring"
)

// Pipeline stages a file can be skipped at.
const (
	StageLoad  = "load"
	StageParse = "parse"
)

// Skipped is a file left out of part or all of the analysis.
type Skipped struct {
	Path   string `json:"path"`
	Stage  string `json:"stage"`
	Code   string `json:"code"`
	Reason string `json:"reason"`
}

// IssueCount is how often one kind of issue appears across hotspots.
type IssueCount struct {
	Issue string `json:"issue"`
	Count int    `json:"count"`
}

// Summary holds the report's headline counts and averages.
type Summary struct {
	Files                  int          `json:"files"`
	Analyzed               int          `json:"analyzed"`
	Skipped                int          `json:"skipped"`
	Hotspots               int          `json:"hotspots"`
	Critical               int          `json:"critical"`
	Warning                int          `json:"warning"`
	Cycles                 int          `json:"cycles"`
	DriftFindings          int          `json:"driftFindings"`
	DriftExceeding         int          `json:"driftExceeding"`
	Unregistered           int          `json:"unregistered"`
	AverageScore           float64      `json:"averageScore"`
	AverageComplexity      float64      `json:"averageComplexity"`
	AverageIndirection     float64      `json:"averageIndirection"`
	AverageContextSwitches float64      `json:"averageContextSwitches"`
	CommonIssues           []IssueCount `json:"commonIssues,omitempty"`
}

// Thresholds echoes the score cutoffs the run was judged against.
type Thresholds struct {
	Warning  float64 `json:"warning"`
	Critical float64 `json:"critical"`
}

// Report is the complete, immutable outcome of one run.
type Report struct {
	RunID              string                               `json:"runId"`
	Version            string                               `json:"version"`
	Root               string                               `json:"root"`
	Focus              string                               `json:"focus,omitempty"`
	GeneratedAt        time.Time                            `json:"generatedAt"`
	Thresholds         Thresholds                           `json:"thresholds"`
	Summary            Summary                              `json:"summary"`
	Hotspots           []hotspots.Hotspot                   `json:"hotspots"`
	Files              []hotspots.Hotspot                   `json:"files"`
	Cycles             []graph.Cycle                        `json:"cycles"`
	DependencyHotspots []graph.DependencyHotspot            `json:"dependencyHotspots"`
	Drift              []duplicates.DriftFinding            `json:"drift"`
	Unregistered       []duplicates.UnregisteredDuplication `json:"unregistered"`
	Skipped            []Skipped                            `json:"skipped"`
	Warnings           []duplicates.Warning                 `json:"warnings"`
	Passed             bool                                 `json:"passed"`
	Reasons            []string                             `json:"reasons,omitempty"`
}

// Input is everything Build needs. Scores and findings are expected to be
// already restricted to the focus directory.
type Input struct {
	RunID              string
	Version            string
	Root               string
	Focus              string
	GeneratedAt        time.Time
	Scores             []scoring.Score
	Thresholds         Thresholds
	Top                int
	Cycles             []graph.Cycle
	DependencyHotspots []graph.DependencyHotspot
	Duplicates         *duplicates.Result
	Skipped            []Skipped
	Discovered         int
	FailOnUnregistered bool
}

// Build assembles the report and applies the pass/fail gate: no file at or
// above the critical threshold and no drift finding beyond its tolerance.
func Build(in Input) *Report {
	r := &Report{
		RunID:              in.RunID,
		Version:            in.Version,
		Root:               in.Root,
		Focus:              in.Focus,
		GeneratedAt:        in.GeneratedAt.UTC(),
		Thresholds:         in.Thresholds,
		Cycles:             in.Cycles,
		DependencyHotspots: in.DependencyHotspots,
		Skipped:            sortedSkipped(in.Skipped),
	}
	if r.RunID == "" {
		r.RunID = uuid.NewString()
	}
	if in.GeneratedAt.IsZero() {
		r.GeneratedAt = time.Now().UTC()
	}

	ranking := hotspots.Rank(in.Scores)
	r.Hotspots = ranking.TopN(in.Top)
	r.Files = hotspots.Order(in.Scores)

	if in.Duplicates != nil {
		r.Drift = in.Duplicates.Findings
		r.Unregistered = in.Duplicates.Unregistered
		r.Warnings = in.Duplicates.Warnings
	}

	r.Summary = summarize(in, ranking, r)

	var reasons []string
	if r.Summary.Critical > 0 {
		reasons = append(reasons, fmt.Sprintf("%d file(s) at or above critical score %s",
			r.Summary.Critical, FormatFloat(in.Thresholds.Critical)))
	}
	if r.Summary.DriftExceeding > 0 {
		reasons = append(reasons, fmt.Sprintf("%d duplicate block(s) drifted beyond tolerance", r.Summary.DriftExceeding))
	}
	if in.FailOnUnregistered && r.Summary.Unregistered > 0 {
		reasons = append(reasons, fmt.Sprintf("%d unregistered duplication(s) found", r.Summary.Unregistered))
	}
	r.Reasons = reasons
	r.Passed = len(reasons) == 0
	return r
}

// ExitCode maps the gate decision to the process status: 0 pass, 1 fail.
func (r *Report) ExitCode() int {
	if r.Passed {
		return 0
	}
	return 1
}

func summarize(in Input, ranking *hotspots.Ranking, r *Report) Summary {
	s := Summary{
		Analyzed:     len(in.Scores),
		Skipped:      len(r.Skipped),
		Hotspots:     ranking.Len(),
		Critical:     ranking.Critical(),
		Cycles:       len(r.Cycles),
		Unregistered: len(r.Unregistered),
	}
	s.Warning = s.Hotspots - s.Critical
	s.Files = in.Discovered
	if s.Files == 0 {
		s.Files = s.Analyzed + s.Skipped
	}
	s.DriftFindings = len(r.Drift)
	for _, f := range r.Drift {
		if f.ExceedsTolerance {
			s.DriftExceeding++
		}
	}

	if n := float64(len(in.Scores)); n > 0 {
		var score, complexity, indirection, switches float64
		for _, sc := range in.Scores {
			score += sc.Value
			complexity += float64(sc.Metrics.Complexity)
			indirection += float64(sc.Metrics.Indirection)
			switches += float64(sc.Metrics.ContextSwitches)
		}
		s.AverageScore = round1(score / n)
		s.AverageComplexity = round1(complexity / n)
		s.AverageIndirection = round1(indirection / n)
		s.AverageContextSwitches = round1(switches / n)
	}
	s.CommonIssues = commonIssues(ranking.All(), 5)
	return s
}

// commonIssues counts issue kinds (the text before the first colon) across
// hotspots, most frequent first.
func commonIssues(hs []hotspots.Hotspot, limit int) []IssueCount {
	counts := make(map[string]int)
	for _, h := range hs {
		for _, issue := range h.Issues {
			kind, _, _ := strings.Cut(issue, ":")
			counts[kind]++
		}
	}
	out := make([]IssueCount, 0, len(counts))
	for k, v := range counts {
		out = append(out, IssueCount{Issue: k, Count: v})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Issue < out[j].Issue
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out
}

func sortedSkipped(in []Skipped) []Skipped {
	out := make([]Skipped, len(in))
	copy(out, in)
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Path != out[j].Path {
			return out[i].Path < out[j].Path
		}
		return out[i].Stage < out[j].Stage
	})
	return out
}

func round1(v float64) float64 {
	return math.Round(v*10) / 10
}

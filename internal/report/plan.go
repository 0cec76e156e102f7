package report

import (
	"fmt"
	"sort"
	"strings"

	"tangle/internal/duplicates"
	"tangle/internal/scoring"
)

// Recommendation priorities, most urgent first.
const (
	PriorityHigh   = 1
	PriorityMedium = 2
	PriorityLow    = 3
)

// Readiness statuses.
const (
	StatusReady            = "ready"
	StatusNeedsImprovement = "needs_improvement"
	StatusNotReady         = "not_ready"
)

// Deductions applied to the readiness score.
const (
	deductCritical       = 10.0
	deductWarning        = 3.0
	deductCycle          = 5.0
	deductDriftExceeding = 8.0
	deductDriftMinor     = 2.0
	deductUnregistered   = 2.0
	deductHighRiskNode   = 3.0
)

// Recommendation is one suggested action.
type Recommendation struct {
	Priority int    `json:"priority"`
	Category string `json:"category"`
	Target   string `json:"target"`
	Action   string `json:"action"`
	Detail   string `json:"detail,omitempty"`
}

// Deduction records what lowered the readiness score.
type Deduction struct {
	Reason string  `json:"reason"`
	Count  int     `json:"count"`
	Points float64 `json:"points"`
}

// Plan is the recommendations rendering of a report.
type Plan struct {
	RunID           string           `json:"runId"`
	Root            string           `json:"root"`
	Focus           string           `json:"focus,omitempty"`
	Readiness       float64          `json:"readiness"`
	Status          string           `json:"status"`
	Passed          bool             `json:"passed"`
	Deductions      []Deduction      `json:"deductions,omitempty"`
	Recommendations []Recommendation `json:"recommendations"`
}

// BuildPlan derives prioritized recommendations and a readiness score of
// 100 minus deductions, floored at zero.
func BuildPlan(r *Report) *Plan {
	p := &Plan{RunID: r.RunID, Root: r.Root, Focus: r.Focus, Passed: r.Passed}

	for _, h := range r.Hotspots {
		priority := PriorityMedium
		if h.Severity == scoring.SeverityCritical {
			priority = PriorityHigh
		}
		p.Recommendations = append(p.Recommendations, Recommendation{
			Priority: priority,
			Category: "hotspot",
			Target:   h.Path,
			Action:   hotspotAction(h.Score),
			Detail:   strings.Join(h.Issues, "; "),
		})
	}

	for _, c := range r.Cycles {
		p.Recommendations = append(p.Recommendations, Recommendation{
			Priority: PriorityHigh,
			Category: "cycle",
			Target:   c.String(),
			Action:   "Break the dependency cycle by extracting the shared part or inverting one dependency",
		})
	}

	highRisk := 0
	for _, d := range r.DependencyHotspots {
		if d.Risk == "high" {
			highRisk++
		}
		priority := PriorityLow
		if d.Risk == "high" {
			priority = PriorityMedium
		}
		p.Recommendations = append(p.Recommendations, Recommendation{
			Priority: priority,
			Category: "dependency",
			Target:   d.Node,
			Action:   "Keep this widely used node stable and narrow its interface",
			Detail:   fmt.Sprintf("fan-in %d, fan-out %d", d.FanIn, d.FanOut),
		})
	}

	exceeding := 0
	for _, f := range r.Drift {
		priority := PriorityLow
		if f.ExceedsTolerance {
			exceeding++
			priority = PriorityHigh
		}
		p.Recommendations = append(p.Recommendations, Recommendation{
			Priority: priority,
			Category: "drift",
			Target:   f.ID + ":" + f.Version,
			Action:   driftAction(f),
			Detail:   fmt.Sprintf("%s vs %s, similarity %s", f.Base.String(), f.Other.String(), percent(f.Similarity)),
		})
	}

	for _, u := range r.Unregistered {
		p.Recommendations = append(p.Recommendations, Recommendation{
			Priority: PriorityLow,
			Category: "unregistered",
			Target:   u.A.Location.String(),
			Action:   "Extract the shared code, or mark both copies as a DUPLICATED_BLOCK",
			Detail:   fmt.Sprintf("matches %s at %s", u.B.Location.String(), percent(u.Similarity)),
		})
	}

	sort.SliceStable(p.Recommendations, func(i, j int) bool {
		return p.Recommendations[i].Priority < p.Recommendations[j].Priority
	})

	s := r.Summary
	p.deduct("critical files", s.Critical, deductCritical)
	p.deduct("warning files", s.Warning, deductWarning)
	p.deduct("dependency cycles", s.Cycles, deductCycle)
	p.deduct("drift beyond tolerance", exceeding, deductDriftExceeding)
	p.deduct("drift within tolerance", len(r.Drift)-exceeding, deductDriftMinor)
	p.deduct("unregistered duplication", s.Unregistered, deductUnregistered)
	p.deduct("high-risk dependency hotspots", highRisk, deductHighRiskNode)

	p.Readiness = 100
	for _, d := range p.Deductions {
		p.Readiness -= d.Points
	}
	if p.Readiness < 0 {
		p.Readiness = 0
	}
	switch {
	case p.Readiness >= 80:
		p.Status = StatusReady
	case p.Readiness >= 60:
		p.Status = StatusNeedsImprovement
	default:
		p.Status = StatusNotReady
	}
	return p
}

func (p *Plan) deduct(reason string, count int, each float64) {
	if count <= 0 {
		return
	}
	p.Deductions = append(p.Deductions, Deduction{Reason: reason, Count: count, Points: float64(count) * each})
}

// hotspotAction picks advice from the term contributing most to the score.
func hotspotAction(s scoring.Score) string {
	top := ""
	best := -1.0
	for _, t := range s.Terms {
		if t.Contribution > best {
			best, top = t.Contribution, t.Metric
		}
	}
	switch top {
	case "complexity", "cognitive", "max_nesting":
		return "Break down complex functions and reduce nesting"
	case "indirection":
		return "Shorten the import chain this file sits on"
	case "context_switches", "imports", "fan_out":
		return "Reduce the number of external names this file depends on"
	case "lines":
		return "Split the file along its responsibilities"
	case "fan_in", "centrality":
		return "Stabilize this central file before changing it"
	default:
		return "Review the file's structure"
	}
}

func driftAction(f duplicates.DriftFinding) string {
	if f.AgainstBaseline {
		return "Re-register the block if the change is intended, otherwise restore the approved copy"
	}
	switch f.Recommendation {
	case duplicates.MinorSyncNeeded:
		return "Sync the copies"
	case duplicates.SignificantDrift:
		return "Review the divergence and sync the copies"
	case duplicates.ConsolidateOrDiverge:
		return "Consolidate the copies or give them distinct block ids"
	default:
		return "No action needed"
	}
}

func formatPlanMarkdown(p *Plan) string {
	var b strings.Builder

	b.WriteString("# Refactoring Plan\n\n")
	b.WriteString(fmt.Sprintf("**Readiness:** %s/100 (%s)  \n", FormatFloat(p.Readiness), p.Status))
	b.WriteString(fmt.Sprintf("**Root:** `%s`\n", p.Root))
	if p.Focus != "" {
		b.WriteString(fmt.Sprintf("**Focus:** `%s`\n", p.Focus))
	}
	b.WriteString("\n")

	if len(p.Deductions) > 0 {
		b.WriteString("## Deductions\n\n")
		for _, d := range p.Deductions {
			b.WriteString(fmt.Sprintf("- %s: %d (-%s)\n", d.Reason, d.Count, FormatFloat(d.Points)))
		}
		b.WriteString("\n")
	}

	b.WriteString("## Recommendations\n\n")
	if len(p.Recommendations) == 0 {
		b.WriteString("Nothing to do.\n")
		return b.String()
	}
	for i, rec := range p.Recommendations {
		b.WriteString(fmt.Sprintf("%d. [%s] **%s** `%s`: %s\n", i+1, priorityLabel(rec.Priority), rec.Category, rec.Target, rec.Action))
		if rec.Detail != "" {
			b.WriteString(fmt.Sprintf("   %s\n", rec.Detail))
		}
	}
	return b.String()
}

func priorityLabel(p int) string {
	switch p {
	case PriorityHigh:
		return "high"
	case PriorityMedium:
		return "medium"
	default:
		return "low"
	}
}

package report

import (
	"fmt"
	"strings"

	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"

	"tangle/internal/duplicates"
)

// Format is an output format name.
type Format string

const (
	FormatJSON     Format = "json"
	FormatMarkdown Format = "markdown"
	FormatSARIF    Format = "sarif"
	FormatYAML     Format = "yaml"
	FormatTOML     Format = "toml"
	FormatPlan     Format = "plan"
)

// Render formats the report.
func Render(r *Report, format Format) ([]byte, error) {
	switch format {
	case FormatJSON, "":
		return DeterministicEncodeIndented(r, "  ")
	case FormatMarkdown:
		return []byte(formatMarkdown(r)), nil
	case FormatSARIF:
		return formatSARIF(r)
	case FormatYAML:
		return formatYAML(r)
	case FormatTOML:
		return formatTOML(r)
	case FormatPlan:
		return []byte(formatPlanMarkdown(BuildPlan(r))), nil
	default:
		return nil, fmt.Errorf("unsupported format: %s", format)
	}
}

func formatYAML(r *Report) ([]byte, error) {
	data, err := yaml.Marshal(normalizeValue(r))
	if err != nil {
		return nil, fmt.Errorf("failed to marshal YAML: %w", err)
	}
	return data, nil
}

func formatTOML(r *Report) ([]byte, error) {
	doc, _ := normalizeValue(r).(map[string]interface{})
	data, err := toml.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal TOML: %w", err)
	}
	return data, nil
}

func formatMarkdown(r *Report) string {
	var b strings.Builder

	b.WriteString("# Confusion Analysis Report\n\n")
	status := "PASS"
	if !r.Passed {
		status = "FAIL"
	}
	b.WriteString(fmt.Sprintf("**Status:** %s  \n", status))
	b.WriteString(fmt.Sprintf("**Root:** `%s`  \n", r.Root))
	if r.Focus != "" {
		b.WriteString(fmt.Sprintf("**Focus:** `%s`  \n", r.Focus))
	}
	b.WriteString(fmt.Sprintf("**Analyzed:** %d of %d files  \n", r.Summary.Analyzed, r.Summary.Files))
	b.WriteString(fmt.Sprintf("**Run:** %s (tangle %s)\n\n", r.RunID, r.Version))

	for _, reason := range r.Reasons {
		b.WriteString(fmt.Sprintf("- %s\n", reason))
	}
	if len(r.Reasons) > 0 {
		b.WriteString("\n")
	}

	s := r.Summary
	b.WriteString("## Summary\n\n")
	b.WriteString("| Metric | Value |\n|---|---|\n")
	b.WriteString(fmt.Sprintf("| Hotspots | %d (%d critical, %d warning) |\n", s.Hotspots, s.Critical, s.Warning))
	b.WriteString(fmt.Sprintf("| Average score | %s |\n", FormatFloat(s.AverageScore)))
	b.WriteString(fmt.Sprintf("| Average complexity | %s |\n", FormatFloat(s.AverageComplexity)))
	b.WriteString(fmt.Sprintf("| Average indirection | %s |\n", FormatFloat(s.AverageIndirection)))
	b.WriteString(fmt.Sprintf("| Average context switches | %s |\n", FormatFloat(s.AverageContextSwitches)))
	b.WriteString(fmt.Sprintf("| Cycles | %d |\n", s.Cycles))
	b.WriteString(fmt.Sprintf("| Drift findings | %d (%d beyond tolerance) |\n", s.DriftFindings, s.DriftExceeding))
	b.WriteString(fmt.Sprintf("| Unregistered duplication | %d |\n", s.Unregistered))
	b.WriteString(fmt.Sprintf("| Skipped files | %d |\n\n", s.Skipped))

	if len(s.CommonIssues) > 0 {
		b.WriteString("## Common Issues\n\n")
		for _, c := range s.CommonIssues {
			b.WriteString(fmt.Sprintf("- %s: %d\n", c.Issue, c.Count))
		}
		b.WriteString("\n")
	}

	b.WriteString("## Top Hotspots\n\n")
	if len(r.Hotspots) == 0 {
		b.WriteString("No files above the warning threshold.\n\n")
	} else {
		b.WriteString("| # | File | Score | Severity | Complexity | Indirection | Context switches | Lines |\n")
		b.WriteString("|---|---|---|---|---|---|---|---|\n")
		for _, h := range r.Hotspots {
			b.WriteString(fmt.Sprintf("| %d | `%s` | %s | %s | %d | %d | %d | %d |\n",
				h.Rank, h.Path, FormatFloat(h.Value), h.Severity,
				h.Metrics.Complexity, h.Metrics.Indirection, h.Metrics.ContextSwitches, h.Metrics.Lines))
		}
		b.WriteString("\n")
		for _, h := range r.Hotspots {
			if len(h.Issues) == 0 {
				continue
			}
			b.WriteString(fmt.Sprintf("### %d. %s\n\n", h.Rank, h.Path))
			for _, issue := range h.Issues {
				b.WriteString(fmt.Sprintf("- %s\n", issue))
			}
			b.WriteString("\n")
		}
	}

	if len(r.Cycles) > 0 {
		b.WriteString("## Dependency Cycles\n\n")
		for _, c := range r.Cycles {
			b.WriteString(fmt.Sprintf("- `%s`\n", c.String()))
		}
		b.WriteString("\n")
	}

	if len(r.DependencyHotspots) > 0 {
		b.WriteString("## Dependency Hotspots\n\n")
		b.WriteString("| Node | Fan-in | Fan-out | Risk |\n|---|---|---|---|\n")
		for _, d := range r.DependencyHotspots {
			b.WriteString(fmt.Sprintf("| `%s` | %d | %d | %s |\n", d.Node, d.FanIn, d.FanOut, d.Risk))
		}
		b.WriteString("\n")
	}

	if len(r.Drift) > 0 {
		b.WriteString("## Duplication Drift\n\n")
		for _, f := range r.Drift {
			writeDriftMarkdown(&b, f)
		}
	}

	if len(r.Unregistered) > 0 {
		b.WriteString("## Unregistered Duplication\n\n")
		b.WriteString("| First | Second | Similarity | Metric |\n|---|---|---|---|\n")
		for _, u := range r.Unregistered {
			b.WriteString(fmt.Sprintf("| %s | %s | %s | %s |\n",
				spanLabel(u.A), spanLabel(u.B), percent(u.Similarity), u.Metric))
		}
		b.WriteString("\n")
	}

	if len(r.Skipped) > 0 {
		b.WriteString("## Skipped Files\n\n")
		b.WriteString("| File | Stage | Code | Reason |\n|---|---|---|---|\n")
		for _, sk := range r.Skipped {
			b.WriteString(fmt.Sprintf("| `%s` | %s | %s | %s |\n", sk.Path, sk.Stage, sk.Code, escapeCell(sk.Reason)))
		}
		b.WriteString("\n")
	}

	if len(r.Warnings) > 0 {
		b.WriteString("## Warnings\n\n")
		for _, w := range r.Warnings {
			if w.Line > 0 {
				b.WriteString(fmt.Sprintf("- `%s:%d` %s\n", w.Path, w.Line, w.Message))
			} else {
				b.WriteString(fmt.Sprintf("- `%s` %s\n", w.Path, w.Message))
			}
		}
		b.WriteString("\n")
	}

	return b.String()
}

func writeDriftMarkdown(b *strings.Builder, f duplicates.DriftFinding) {
	other := f.Other.String()
	if f.AgainstBaseline {
		other = "baseline (" + other + ")"
	}
	mark := "within tolerance"
	if f.ExceedsTolerance {
		mark = "**beyond tolerance**"
	}
	b.WriteString(fmt.Sprintf("### %s:%s\n\n", f.ID, f.Version))
	b.WriteString(fmt.Sprintf("- `%s` vs `%s`\n", f.Base.String(), other))
	b.WriteString(fmt.Sprintf("- Similarity %s, tolerance %s (%s), %s\n",
		percent(f.Similarity), f.Tolerance, percent(f.Threshold), mark))
	b.WriteString(fmt.Sprintf("- Recommendation: %s\n\n", f.Recommendation))
	if f.Diff != "" {
		b.WriteString("```diff\n")
		b.WriteString(strings.TrimRight(f.Diff, "\n"))
		b.WriteString("\n```\n\n")
	}
}

func spanLabel(s duplicates.Span) string {
	if s.Name != "" {
		return fmt.Sprintf("`%s` (%s)", s.Location.String(), s.Name)
	}
	return fmt.Sprintf("`%s`", s.Location.String())
}

func percent(v float64) string {
	return fmt.Sprintf("%.1f%%", v*100)
}

func escapeCell(s string) string {
	return strings.ReplaceAll(strings.ReplaceAll(s, "|", "\\|"), "\n", " ")
}

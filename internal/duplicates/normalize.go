package duplicates

import (
	"strings"

	"github.com/pmezard/go-difflib/difflib"

	"tangle/internal/source"
)

// Tolerance levels, loosest last.
const (
	Exact      = "exact"
	Whitespace = "whitespace"
	Comments   = "comments"
	Minor      = "minor"
	Flexible   = "flexible"
)

// DefaultTolerances maps each level to the minimum similarity it accepts.
func DefaultTolerances() map[string]float64 {
	return map[string]float64{
		Exact:      1.0,
		Whitespace: 0.95,
		Comments:   0.85,
		Minor:      0.75,
		Flexible:   0.50,
	}
}

var commentMarkers = []string{"#", "//", "--"}

// Normalize rewrites content so that differences the tolerance level
// ignores disappear. exact keeps the text as is; every other level collapses
// runs of whitespace, and comments, minor and flexible also drop trailing
// line comments.
func Normalize(content, tolerance string) string {
	if tolerance == Exact {
		return content
	}
	stripComments := tolerance == Comments || tolerance == Minor || tolerance == Flexible

	lines := strings.Split(strings.TrimSpace(content), "\n")
	out := make([]string, 0, len(lines))
	for _, line := range lines {
		line = strings.Join(strings.Fields(line), " ")
		if stripComments {
			line = stripLineComment(line)
		}
		out = append(out, line)
	}
	return strings.Join(out, "\n")
}

// stripLineComment cuts a trailing comment unless the marker sits inside an
// open double-quoted string. Whole-line comments are kept.
func stripLineComment(line string) string {
	for _, marker := range commentMarkers {
		idx := strings.Index(line, marker)
		if idx > 0 && strings.Count(line[:idx], `"`)%2 == 0 {
			line = strings.TrimSpace(line[:idx])
		}
	}
	return line
}

// HashNormalized is the content hash the baseline stores.
func HashNormalized(normalized string) string {
	return source.Hash([]byte(normalized))
}

// Similarity is the character-level SequenceMatcher ratio of a and b.
func Similarity(a, b string) float64 {
	if a == b {
		return 1
	}
	if a == "" || b == "" {
		return 0
	}
	m := difflib.NewMatcher(strings.Split(a, ""), strings.Split(b, ""))
	return m.Ratio()
}

// UnifiedDiff renders a line diff between two normalized copies.
func UnifiedDiff(a, b, fromName, toName string) string {
	diff, err := difflib.GetUnifiedDiffString(difflib.UnifiedDiff{
		A:        difflib.SplitLines(a),
		B:        difflib.SplitLines(b),
		FromFile: fromName,
		ToFile:   toName,
		Context:  3,
	})
	if err != nil {
		return ""
	}
	return diff
}

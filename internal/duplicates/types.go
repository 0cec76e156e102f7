// Package duplicates finds explicitly marked duplicate blocks that drifted
// apart and near-duplicate code nobody declared.
package duplicates

import (
	"fmt"

	"tangle/internal/parse"
)

// Location is a span of lines in one file.
type Location struct {
	Path      string `json:"path"`
	StartLine int    `json:"startLine"`
	EndLine   int    `json:"endLine"`
}

func (l Location) String() string {
	return fmt.Sprintf("%s:%d-%d", l.Path, l.StartLine, l.EndLine)
}

func (l Location) less(o Location) bool {
	if l.Path != o.Path {
		return l.Path < o.Path
	}
	return l.StartLine < o.StartLine
}

// Block is one occurrence of an explicitly marked duplicate block.
type Block struct {
	ID         string   `json:"id"`
	Version    string   `json:"version"`
	Tolerance  string   `json:"tolerance"`
	Location   Location `json:"location"`
	Content    string   `json:"-"`
	Normalized string   `json:"-"`
	Hash       string   `json:"hash"`
}

// Key is the id:version pair the baseline registers.
func (b Block) Key() string {
	return b.ID + ":" + b.Version
}

// Recommendations attached to drift findings.
const (
	Healthy              = "healthy"
	MinorSyncNeeded      = "minor_sync_needed"
	SignificantDrift     = "significant_drift"
	ConsolidateOrDiverge = "consolidate_or_diverge"
)

// Recommend maps a similarity to a recommendation.
func Recommend(similarity float64) string {
	switch {
	case similarity >= 0.95:
		return Healthy
	case similarity >= 0.75:
		return MinorSyncNeeded
	case similarity >= 0.50:
		return SignificantDrift
	default:
		return ConsolidateOrDiverge
	}
}

// DriftFinding relates two copies of one block whose normalized content
// differs. Other is the baseline when AgainstBaseline is set.
type DriftFinding struct {
	ID               string   `json:"id"`
	Version          string   `json:"version"`
	Tolerance        string   `json:"tolerance"`
	Base             Location `json:"base"`
	Other            Location `json:"other"`
	AgainstBaseline  bool     `json:"againstBaseline,omitempty"`
	Similarity       float64  `json:"similarity"`
	Threshold        float64  `json:"threshold"`
	ExceedsTolerance bool     `json:"exceedsTolerance"`
	Recommendation   string   `json:"recommendation"`
	Diff             string   `json:"diff"`
}

// Span is a candidate region for inferred duplication.
type Span struct {
	Location Location `json:"location"`
	Name     string   `json:"name,omitempty"` // function name; empty for text paragraphs
}

// UnregisteredDuplication is a near-duplicate pair with no marker.
type UnregisteredDuplication struct {
	A          Span    `json:"a"`
	B          Span    `json:"b"`
	Similarity float64 `json:"similarity"`
	Metric     string  `json:"metric"`
	Identical  bool    `json:"identical,omitempty"`
}

// Warning is a non-fatal problem met while scanning.
type Warning struct {
	Path    string `json:"path"`
	Line    int    `json:"line,omitempty"`
	Message string `json:"message"`
}

// Input is one file handed to the detector. Unit is nil for files that
// could not be parsed; those take part in text mode.
type Input struct {
	Path    string
	Content []byte
	Unit    *parse.Unit
}

// Result is everything one detection pass found.
type Result struct {
	Blocks       []Block                   `json:"blocks"`
	Findings     []DriftFinding            `json:"findings"`
	Unregistered []UnregisteredDuplication `json:"unregistered"`
	Warnings     []Warning                 `json:"warnings,omitempty"`
}

// Exceeding counts findings whose similarity fell below their tolerance.
func (r *Result) Exceeding() int {
	n := 0
	for _, f := range r.Findings {
		if f.ExceedsTolerance {
			n++
		}
	}
	return n
}

// BaselineEntry is the approved state of one id:version.
type BaselineEntry struct {
	ID         string `json:"id" yaml:"id" toml:"id"`
	Version    string `json:"version" yaml:"version" toml:"version"`
	Tolerance  string `json:"tolerance" yaml:"tolerance" toml:"tolerance"`
	Hash       string `json:"hash" yaml:"hash" toml:"hash"`
	Normalized string `json:"normalized" yaml:"normalized" toml:"normalized"`
	Path       string `json:"path,omitempty" yaml:"path,omitempty" toml:"path,omitempty"`
	StartLine  int    `json:"startLine,omitempty" yaml:"start_line,omitempty" toml:"start_line,omitempty"`
	EndLine    int    `json:"endLine,omitempty" yaml:"end_line,omitempty" toml:"end_line,omitempty"`
}

// Baseline looks up approved block states.
type Baseline interface {
	Lookup(id, version string) (BaselineEntry, bool)
}

// Package scoring folds per-file metrics into a single comparable confusion
// score with a severity.
package scoring

import (
	"fmt"
	"math"
	"sort"

	"tangle/internal/config"
	tgerrors "tangle/internal/errors"
	"tangle/internal/metrics"
)

// Severity classifies a score against the configured thresholds.
type Severity string

const (
	SeverityOK       Severity = "ok"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// Rank orders severities: ok < warning < critical.
func (s Severity) Rank() int {
	switch s {
	case SeverityCritical:
		return 2
	case SeverityWarning:
		return 1
	default:
		return 0
	}
}

// AtLeast reports whether s is as severe as other.
func (s Severity) AtLeast(other Severity) bool {
	return s.Rank() >= other.Rank()
}

// Config holds the weighted metrics, their budgets and the thresholds.
type Config struct {
	Weights  map[string]float64
	Budgets  map[string]float64
	Warning  float64
	Critical float64
}

// DefaultConfig mirrors the defaults of the configuration file.
func DefaultConfig() Config {
	return FromConfig(config.DefaultConfig().Scoring)
}

// FromConfig converts the loaded scoring section.
func FromConfig(sc config.ScoringConfig) Config {
	c := Config{
		Weights:  make(map[string]float64, len(sc.Weights)),
		Budgets:  make(map[string]float64, len(sc.Budgets)),
		Warning:  sc.Thresholds.Warning,
		Critical: sc.Thresholds.Critical,
	}
	for k, v := range sc.Weights {
		c.Weights[k] = v
	}
	for k, v := range sc.Budgets {
		c.Budgets[k] = v
	}
	return c
}

// CheckMetrics verifies that every weighted metric has a producer and a
// positive budget.
func (c Config) CheckMetrics(known func(name string) bool) error {
	for _, name := range sortedKeys(c.Weights) {
		if !known(name) {
			return tgerrors.NewConfigError("scoring.weights."+name, fmt.Sprintf("unknown metric %q", name))
		}
		if c.Budgets[name] <= 0 {
			return tgerrors.NewConfigError("scoring.budgets."+name, "weighted metric needs a positive budget")
		}
	}
	if c.Critical <= c.Warning {
		return tgerrors.NewConfigError("scoring.thresholds.critical", "must be greater than scoring.thresholds.warning")
	}
	return nil
}

// Term is one metric's contribution to a score.
type Term struct {
	Metric       string  `json:"metric"`
	Value        float64 `json:"value"`
	Budget       float64 `json:"budget"`
	Weight       float64 `json:"weight"`
	Contribution float64 `json:"contribution"`
}

// Score is the confusion score of one file.
type Score struct {
	Path     string              `json:"path"`
	Value    float64             `json:"score"`
	Severity Severity            `json:"severity"`
	Terms    []Term              `json:"terms"`
	Issues   []string            `json:"issues,omitempty"`
	Metrics  metrics.FileMetrics `json:"metrics"`
}

// Scorer computes scores under one configuration.
type Scorer struct {
	cfg     Config
	weights []string
	budgets []string
}

// NewScorer prepares a scorer. Weight and budget keys are sorted once so
// every score sums its terms in the same order.
func NewScorer(cfg Config) *Scorer {
	return &Scorer{
		cfg:     cfg,
		weights: sortedKeys(cfg.Weights),
		budgets: sortedKeys(cfg.Budgets),
	}
}

// Config returns the scorer's configuration.
func (s *Scorer) Config() Config {
	return s.cfg
}

// overBudgetOnly lists metrics that add to the score only once they exceed
// their budget. A short file is not confusing for being short.
var overBudgetOnly = map[string]bool{
	metrics.Lines: true,
}

// Score computes sum(weight * value / budget) over the weighted metrics.
// Metrics missing from fm count as zero.
func (s *Scorer) Score(fm metrics.FileMetrics) Score {
	out := Score{Path: fm.Path, Metrics: fm}
	total := 0.0
	for _, name := range s.weights {
		w := s.cfg.Weights[name]
		budget := s.cfg.Budgets[name]
		value := fm.Values[name]
		contribution := 0.0
		if budget > 0 && (!overBudgetOnly[name] || value > budget) {
			contribution = w * value / budget
		}
		total += contribution
		out.Terms = append(out.Terms, Term{
			Metric:       name,
			Value:        value,
			Budget:       budget,
			Weight:       w,
			Contribution: contribution,
		})
	}
	out.Value = total
	out.Severity = s.Classify(total)
	out.Issues = s.issues(fm)
	return out
}

// Classify maps a raw score to a severity; the thresholds are inclusive.
func (s *Scorer) Classify(score float64) Severity {
	switch {
	case score >= s.cfg.Critical:
		return SeverityCritical
	case score >= s.cfg.Warning:
		return SeverityWarning
	default:
		return SeverityOK
	}
}

var issueLabels = map[string]string{
	metrics.Complexity:      "High cyclomatic complexity",
	metrics.Indirection:     "Deep dependency chain",
	metrics.ContextSwitches: "Too many context switches",
	metrics.Lines:           "Large file",
	metrics.FanIn:           "High fan-in",
	metrics.FanOut:          "High fan-out",
	metrics.Centrality:      "Central dependency",
	metrics.Cognitive:       "High cognitive complexity",
	metrics.MaxNesting:      "Deep nesting",
	metrics.Imports:         "Too many imports",
}

func (s *Scorer) issues(fm metrics.FileMetrics) []string {
	var out []string
	for _, name := range s.budgets {
		budget := s.cfg.Budgets[name]
		value, ok := fm.Values[name]
		if !ok || budget <= 0 || value <= budget {
			continue
		}
		label, ok := issueLabels[name]
		if !ok {
			label = "Metric " + name + " over budget"
		}
		out = append(out, fmt.Sprintf("%s: %s (budget %s)", label, formatNumber(value), formatNumber(budget)))
	}
	return out
}

func formatNumber(v float64) string {
	if v == math.Trunc(v) && math.Abs(v) < 1e15 {
		return fmt.Sprintf("%d", int64(v))
	}
	return fmt.Sprintf("%.2f", v)
}

func sortedKeys(m map[string]float64) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

package config

import (
	"fmt"
	"sort"
	"time"

	"github.com/bmatcuk/doublestar/v4"

	tgerrors "tangle/internal/errors"
)

// Formats lists the report formats the emitter understands.
var Formats = []string{"json", "markdown", "sarif", "yaml", "toml", "plan"}

// Validate checks every threshold and option. The first problem found is
// returned as a CONFIG_ERROR naming its key.
func (c *Config) Validate() error {
	if c.Version != 1 {
		return tgerrors.NewConfigError("version", fmt.Sprintf("unsupported config version %d", c.Version))
	}
	checks := []func() error{
		c.validateAnalysis,
		c.validateMetrics,
		c.validateScoring,
		c.validateDuplicates,
		c.validateReport,
		c.validateLogging,
		c.validateWatch,
	}
	for _, check := range checks {
		if err := check(); err != nil {
			return err
		}
	}
	return nil
}

func (c *Config) validateAnalysis() error {
	a := c.Analysis
	if a.Workers < 0 {
		return tgerrors.NewConfigError("analysis.workers", "must be zero (auto) or positive")
	}
	if a.ReadTimeout <= 0 {
		return tgerrors.NewConfigError("analysis.read_timeout", "must be a positive duration")
	}
	if a.MaxLines < 0 {
		return tgerrors.NewConfigError("analysis.max_lines", "must not be negative")
	}
	if a.MaxBytes < 0 {
		return tgerrors.NewConfigError("analysis.max_bytes", "must not be negative")
	}
	if a.MaxErrorRatio < 0 || a.MaxErrorRatio > 1 {
		return tgerrors.NewConfigError("analysis.max_error_ratio", "must be between 0 and 1")
	}
	for _, pattern := range a.Exclude {
		if !doublestar.ValidatePattern(pattern) {
			return tgerrors.NewConfigError("analysis.exclude", fmt.Sprintf("invalid glob %q", pattern))
		}
	}
	return nil
}

func (c *Config) validateMetrics() error {
	m := c.Metrics
	if m.Granularity != "file" && m.Granularity != "function" {
		return tgerrors.NewConfigError("metrics.granularity", "must be file or function")
	}
	if m.IndirectionCap < 1 {
		return tgerrors.NewConfigError("metrics.indirection_cap", "must be at least 1")
	}
	if m.IndirectionMode != "file" && m.IndirectionMode != "function" {
		return tgerrors.NewConfigError("metrics.indirection_mode", "must be file or function")
	}
	return nil
}

func (c *Config) validateScoring() error {
	s := c.Scoring
	if len(s.Weights) == 0 {
		return tgerrors.NewConfigError("scoring.weights", "at least one metric weight is required")
	}
	positive := false
	for _, name := range sortedKeys(s.Weights) {
		w := s.Weights[name]
		if w < 0 {
			return tgerrors.NewConfigError("scoring.weights."+name, "weight must not be negative")
		}
		if w > 0 {
			positive = true
		}
		if b, ok := s.Budgets[name]; !ok || b <= 0 {
			return tgerrors.NewConfigError("scoring.budgets."+name, "weighted metric needs a positive budget")
		}
	}
	if !positive {
		return tgerrors.NewConfigError("scoring.weights", "at least one weight must be positive")
	}
	if s.Thresholds.Warning <= 0 {
		return tgerrors.NewConfigError("scoring.thresholds.warning", "must be positive")
	}
	if s.Thresholds.Critical <= s.Thresholds.Warning {
		return tgerrors.NewConfigError("scoring.thresholds.critical", "must be greater than scoring.thresholds.warning")
	}
	return nil
}

func (c *Config) validateDuplicates() error {
	d := c.Duplicates
	if len(d.ToleranceLevels) == 0 {
		return tgerrors.NewConfigError("duplicates.tolerance_levels", "at least one tolerance level is required")
	}
	for _, name := range sortedKeys(d.ToleranceLevels) {
		if t := d.ToleranceLevels[name]; t < 0 || t > 1 {
			return tgerrors.NewConfigError("duplicates.tolerance_levels."+name, "similarity threshold must be between 0 and 1")
		}
	}
	if _, ok := d.ToleranceLevels[d.Tolerance]; !ok {
		return tgerrors.NewConfigError("duplicates.tolerance", fmt.Sprintf("unknown tolerance level %q", d.Tolerance))
	}
	ids := make([]string, 0, len(d.BlockTolerance))
	for id := range d.BlockTolerance {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		if _, ok := d.ToleranceLevels[d.BlockTolerance[id]]; !ok {
			return tgerrors.NewConfigError("duplicates.block_tolerance."+id, fmt.Sprintf("unknown tolerance level %q", d.BlockTolerance[id]))
		}
	}
	if d.MinLines < 2 {
		return tgerrors.NewConfigError("duplicates.min_lines", "must be at least 2")
	}
	if d.ShingleSize < 1 {
		return tgerrors.NewConfigError("duplicates.shingle_size", "must be at least 1")
	}
	if d.SimilarityThreshold <= 0 || d.SimilarityThreshold > 1 {
		return tgerrors.NewConfigError("duplicates.similarity_threshold", "must be in (0, 1]")
	}
	if d.SimilarityMetric != "jaccard" && d.SimilarityMetric != "levenshtein" {
		return tgerrors.NewConfigError("duplicates.similarity_metric", "must be jaccard or levenshtein")
	}
	return nil
}

func (c *Config) validateReport() error {
	known := false
	for _, f := range Formats {
		if c.Report.Format == f {
			known = true
			break
		}
	}
	if !known {
		return tgerrors.NewConfigError("report.format", fmt.Sprintf("unknown format %q", c.Report.Format))
	}
	if c.Report.Top < 0 {
		return tgerrors.NewConfigError("report.top", "must not be negative")
	}
	return nil
}

func (c *Config) validateLogging() error {
	l := c.Logging
	switch l.Format {
	case "text", "json":
	default:
		return tgerrors.NewConfigError("logging.format", fmt.Sprintf("unknown format %q", l.Format))
	}
	if l.MaxBackups < 0 {
		return tgerrors.NewConfigError("logging.max_backups", "must not be negative")
	}
	if l.Remote.Endpoint != "" && l.Remote.Type != "loki" {
		return tgerrors.NewConfigError("logging.remote.type", fmt.Sprintf("unsupported remote log type %q", l.Remote.Type))
	}
	if l.Remote.FlushInterval != "" {
		if _, err := time.ParseDuration(l.Remote.FlushInterval); err != nil {
			return tgerrors.NewConfigError("logging.remote.flush_interval", err.Error())
		}
	}
	return nil
}

func (c *Config) validateWatch() error {
	if c.Watch.Debounce <= 0 {
		return tgerrors.NewConfigError("watch.debounce", "must be a positive duration")
	}
	return nil
}

func sortedKeys(m map[string]float64) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

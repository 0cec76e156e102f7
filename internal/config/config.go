package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	tgerrors "tangle/internal/errors"
)

// Dir is the per-repository directory holding config, baseline and history.
const Dir = ".tangle"

// Config represents the complete tangle configuration
type Config struct {
	Version    int              `json:"version" yaml:"version" mapstructure:"version"`
	Analysis   AnalysisConfig   `json:"analysis" yaml:"analysis" mapstructure:"analysis"`
	Metrics    MetricsConfig    `json:"metrics" yaml:"metrics" mapstructure:"metrics"`
	Scoring    ScoringConfig    `json:"scoring" yaml:"scoring" mapstructure:"scoring"`
	Duplicates DuplicatesConfig `json:"duplicates" yaml:"duplicates" mapstructure:"duplicates"`
	Report     ReportConfig     `json:"report" yaml:"report" mapstructure:"report"`
	History    HistoryConfig    `json:"history" yaml:"history" mapstructure:"history"`
	Logging    LoggingConfig    `json:"logging" yaml:"logging" mapstructure:"logging"`
	Watch      WatchConfig      `json:"watch" yaml:"watch" mapstructure:"watch"`
}

// WatchConfig tunes `tangle watch`.
type WatchConfig struct {
	// Debounce is the quiet period after the last change before a re-run.
	Debounce time.Duration `json:"debounce" yaml:"debounce" mapstructure:"debounce"`
}

// AnalysisConfig controls discovery, reading and parsing.
type AnalysisConfig struct {
	Workers          int           `json:"workers" yaml:"workers" mapstructure:"workers"`
	ReadTimeout      time.Duration `json:"readTimeout" yaml:"read_timeout" mapstructure:"read_timeout"`
	MaxLines         int           `json:"maxLines" yaml:"max_lines" mapstructure:"max_lines"`
	MaxBytes         int64         `json:"maxBytes" yaml:"max_bytes" mapstructure:"max_bytes"`
	Exclude          []string      `json:"exclude" yaml:"exclude" mapstructure:"exclude"`
	IncludeText      []string      `json:"includeText" yaml:"include_text" mapstructure:"include_text"`
	RespectGitignore bool          `json:"respectGitignore" yaml:"respect_gitignore" mapstructure:"respect_gitignore"`
	MaxErrorRatio    float64       `json:"maxErrorRatio" yaml:"max_error_ratio" mapstructure:"max_error_ratio"`
}

// MetricsConfig controls graph granularity and indirection.
type MetricsConfig struct {
	Granularity     string `json:"granularity" yaml:"granularity" mapstructure:"granularity"`
	IndirectionCap  int    `json:"indirectionCap" yaml:"indirection_cap" mapstructure:"indirection_cap"`
	IndirectionMode string `json:"indirectionMode" yaml:"indirection_mode" mapstructure:"indirection_mode"`
}

// ScoringConfig holds per-metric weights and budgets plus severity thresholds.
type ScoringConfig struct {
	Weights    map[string]float64 `json:"weights" yaml:"weights" mapstructure:"weights"`
	Budgets    map[string]float64 `json:"budgets" yaml:"budgets" mapstructure:"budgets"`
	Thresholds ThresholdsConfig   `json:"thresholds" yaml:"thresholds" mapstructure:"thresholds"`
}

// ThresholdsConfig holds the warning and critical score cutoffs.
type ThresholdsConfig struct {
	Warning  float64 `json:"warning" yaml:"warning" mapstructure:"warning"`
	Critical float64 `json:"critical" yaml:"critical" mapstructure:"critical"`
}

// DuplicatesConfig controls marker drift and inferred duplication.
type DuplicatesConfig struct {
	Baseline            string             `json:"baseline" yaml:"baseline" mapstructure:"baseline"`
	Tolerance           string             `json:"tolerance" yaml:"tolerance" mapstructure:"tolerance"`
	ToleranceLevels     map[string]float64 `json:"toleranceLevels" yaml:"tolerance_levels" mapstructure:"tolerance_levels"`
	BlockTolerance      map[string]string  `json:"blockTolerance" yaml:"block_tolerance" mapstructure:"block_tolerance"`
	Inferred            bool               `json:"inferred" yaml:"inferred" mapstructure:"inferred"`
	MinLines            int                `json:"minLines" yaml:"min_lines" mapstructure:"min_lines"`
	ShingleSize         int                `json:"shingleSize" yaml:"shingle_size" mapstructure:"shingle_size"`
	SimilarityThreshold float64            `json:"similarityThreshold" yaml:"similarity_threshold" mapstructure:"similarity_threshold"`
	SimilarityMetric    string             `json:"similarityMetric" yaml:"similarity_metric" mapstructure:"similarity_metric"`
	ReportIdentical     bool               `json:"reportIdentical" yaml:"report_identical" mapstructure:"report_identical"`
}

// ReportConfig controls rendering and the pass/fail gate.
type ReportConfig struct {
	Format             string `json:"format" yaml:"format" mapstructure:"format"`
	Top                int    `json:"top" yaml:"top" mapstructure:"top"`
	FailOnUnregistered bool   `json:"failOnUnregistered" yaml:"fail_on_unregistered" mapstructure:"fail_on_unregistered"`
}

// HistoryConfig controls score snapshots kept for trend analysis.
type HistoryConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled" mapstructure:"enabled"`
	Path    string `json:"path" yaml:"path" mapstructure:"path"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Format     string          `json:"format" yaml:"format" mapstructure:"format"`
	Level      string          `json:"level" yaml:"level" mapstructure:"level"`
	File       string          `json:"file" yaml:"file" mapstructure:"file"`
	MaxSize    string          `json:"maxSize" yaml:"max_size" mapstructure:"max_size"`
	MaxBackups int             `json:"maxBackups" yaml:"max_backups" mapstructure:"max_backups"`
	Remote     RemoteLogConfig `json:"remote" yaml:"remote" mapstructure:"remote"`
}

// RemoteLogConfig configures shipping logs to a Loki endpoint. An empty
// endpoint disables it.
type RemoteLogConfig struct {
	Type          string            `json:"type" yaml:"type" mapstructure:"type"`
	Endpoint      string            `json:"endpoint" yaml:"endpoint" mapstructure:"endpoint"`
	Labels        map[string]string `json:"labels" yaml:"labels" mapstructure:"labels"`
	BatchSize     int               `json:"batchSize" yaml:"batch_size" mapstructure:"batch_size"`
	FlushInterval string            `json:"flushInterval" yaml:"flush_interval" mapstructure:"flush_interval"`
}

// DefaultConfig returns the default configuration
func DefaultConfig() *Config {
	return &Config{
		Version: 1,
		Analysis: AnalysisConfig{
			Workers:          0,
			ReadTimeout:      5 * time.Second,
			MaxLines:         20000,
			MaxBytes:         2 << 20,
			Exclude:          []string{},
			IncludeText:      []string{".c", ".h", ".cc", ".cpp", ".hpp", ".cs", ".rb", ".php", ".swift", ".scala", ".sh", ".sql", ".html", ".css", ".scss", ".vue", ".svelte"},
			RespectGitignore: true,
			MaxErrorRatio:    0.25,
		},
		Metrics: MetricsConfig{
			Granularity:     "file",
			IndirectionCap:  6,
			IndirectionMode: "file",
		},
		Scoring: ScoringConfig{
			Weights: map[string]float64{
				"complexity":       0.35,
				"indirection":      0.25,
				"context_switches": 0.25,
				"lines":            0.15,
			},
			Budgets: map[string]float64{
				"complexity":       10,
				"indirection":      3,
				"context_switches": 100,
				"lines":            200,
				"fan_in":           10,
				"fan_out":          10,
				"centrality":       0.1,
				"cognitive":        15,
				"max_nesting":      4,
				"imports":          15,
			},
			Thresholds: ThresholdsConfig{
				Warning:  1.0,
				Critical: 2.0,
			},
		},
		Duplicates: DuplicatesConfig{
			Baseline:  filepath.Join(Dir, "baseline.yaml"),
			Tolerance: "whitespace",
			ToleranceLevels: map[string]float64{
				"exact":      1.0,
				"whitespace": 0.95,
				"comments":   0.85,
				"minor":      0.75,
				"flexible":   0.50,
			},
			BlockTolerance:      map[string]string{},
			Inferred:            true,
			MinLines:            6,
			ShingleSize:         5,
			SimilarityThreshold: 0.85,
			SimilarityMetric:    "jaccard",
		},
		Report: ReportConfig{
			Format: "json",
			Top:    10,
		},
		History: HistoryConfig{
			Enabled: false,
			Path:    filepath.Join(Dir, "tangle.db"),
		},
		Logging: LoggingConfig{
			Format:     "text",
			Level:      "warn",
			MaxSize:    "10MB",
			MaxBackups: 3,
			Remote: RemoteLogConfig{
				Type:          "loki",
				Labels:        map[string]string{},
				BatchSize:     100,
				FlushInterval: "5s",
			},
		},
		Watch: WatchConfig{
			Debounce: 500 * time.Millisecond,
		},
	}
}

// setDefaults registers every key so environment overrides and unknown-key
// detection see the full key set.
func setDefaults(v *viper.Viper, d *Config) {
	v.SetDefault("version", d.Version)

	v.SetDefault("analysis.workers", d.Analysis.Workers)
	v.SetDefault("analysis.read_timeout", d.Analysis.ReadTimeout)
	v.SetDefault("analysis.max_lines", d.Analysis.MaxLines)
	v.SetDefault("analysis.max_bytes", d.Analysis.MaxBytes)
	v.SetDefault("analysis.exclude", d.Analysis.Exclude)
	v.SetDefault("analysis.include_text", d.Analysis.IncludeText)
	v.SetDefault("analysis.respect_gitignore", d.Analysis.RespectGitignore)
	v.SetDefault("analysis.max_error_ratio", d.Analysis.MaxErrorRatio)

	v.SetDefault("metrics.granularity", d.Metrics.Granularity)
	v.SetDefault("metrics.indirection_cap", d.Metrics.IndirectionCap)
	v.SetDefault("metrics.indirection_mode", d.Metrics.IndirectionMode)

	v.SetDefault("scoring.weights", d.Scoring.Weights)
	v.SetDefault("scoring.budgets", d.Scoring.Budgets)
	v.SetDefault("scoring.thresholds.warning", d.Scoring.Thresholds.Warning)
	v.SetDefault("scoring.thresholds.critical", d.Scoring.Thresholds.Critical)

	v.SetDefault("duplicates.baseline", d.Duplicates.Baseline)
	v.SetDefault("duplicates.tolerance", d.Duplicates.Tolerance)
	v.SetDefault("duplicates.tolerance_levels", d.Duplicates.ToleranceLevels)
	v.SetDefault("duplicates.block_tolerance", d.Duplicates.BlockTolerance)
	v.SetDefault("duplicates.inferred", d.Duplicates.Inferred)
	v.SetDefault("duplicates.min_lines", d.Duplicates.MinLines)
	v.SetDefault("duplicates.shingle_size", d.Duplicates.ShingleSize)
	v.SetDefault("duplicates.similarity_threshold", d.Duplicates.SimilarityThreshold)
	v.SetDefault("duplicates.similarity_metric", d.Duplicates.SimilarityMetric)
	v.SetDefault("duplicates.report_identical", d.Duplicates.ReportIdentical)

	v.SetDefault("report.format", d.Report.Format)
	v.SetDefault("report.top", d.Report.Top)
	v.SetDefault("report.fail_on_unregistered", d.Report.FailOnUnregistered)

	v.SetDefault("history.enabled", d.History.Enabled)
	v.SetDefault("history.path", d.History.Path)

	v.SetDefault("logging.format", d.Logging.Format)
	v.SetDefault("logging.level", d.Logging.Level)
	v.SetDefault("logging.file", d.Logging.File)
	v.SetDefault("logging.max_size", d.Logging.MaxSize)
	v.SetDefault("logging.max_backups", d.Logging.MaxBackups)
	v.SetDefault("logging.remote.type", d.Logging.Remote.Type)
	v.SetDefault("logging.remote.endpoint", d.Logging.Remote.Endpoint)
	v.SetDefault("logging.remote.labels", d.Logging.Remote.Labels)
	v.SetDefault("logging.remote.batch_size", d.Logging.Remote.BatchSize)
	v.SetDefault("logging.remote.flush_interval", d.Logging.Remote.FlushInterval)

	v.SetDefault("watch.debounce", d.Watch.Debounce)
}

// Load reads configuration for repoRoot. An explicit path must exist; otherwise
// .tangle/config.{yaml,yml,json,toml} is used when present. Environment
// variables prefixed TANGLE_ override file values (TANGLE_SCORING_THRESHOLDS_CRITICAL).
// The result is validated; any problem is a CONFIG_ERROR naming the key.
func Load(repoRoot, explicitPath string) (*Config, error) {
	v := viper.New()
	setDefaults(v, DefaultConfig())

	v.SetEnvPrefix("TANGLE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if explicitPath != "" {
		if _, err := os.Stat(explicitPath); err != nil {
			return nil, tgerrors.NewConfigError("config", fmt.Sprintf("config file %s not readable: %v", explicitPath, err))
		}
		v.SetConfigFile(explicitPath)
	} else {
		v.SetConfigName("config")
		v.AddConfigPath(filepath.Join(repoRoot, Dir))
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, tgerrors.New(tgerrors.ConfigError, "cannot parse config file", err)
		}
	}

	if err := checkKeys(v); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, tgerrors.NewConfigError(keyFromDecodeError(err), err.Error())
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Save writes the configuration as YAML to path, creating parent directories.
func (c *Config) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	data, err := yaml.Marshal(c)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

// mapKeys accept arbitrary child keys.
var mapKeys = []string{
	"scoring.weights.",
	"scoring.budgets.",
	"duplicates.tolerance_levels.",
	"duplicates.block_tolerance.",
	"logging.remote.labels.",
}

func checkKeys(v *viper.Viper) error {
	known := make(map[string]bool)
	defaults := viper.New()
	setDefaults(defaults, DefaultConfig())
	for _, k := range defaults.AllKeys() {
		known[k] = true
	}

	for _, k := range v.AllKeys() {
		if known[k] {
			continue
		}
		allowed := false
		for _, prefix := range mapKeys {
			if k+"." == prefix {
				allowed = true
				break
			}
			if strings.HasPrefix(k, prefix) && !strings.Contains(strings.TrimPrefix(k, prefix), ".") {
				allowed = true
				break
			}
		}
		if !allowed {
			return tgerrors.NewConfigError(k, "unknown configuration key")
		}
	}
	return nil
}

var quotedKey = regexp.MustCompile(`'([a-z_.]+)'`)

// keyFromDecodeError pulls the offending key out of a mapstructure error message.
func keyFromDecodeError(err error) string {
	if m := quotedKey.FindStringSubmatch(err.Error()); m != nil {
		return m[1]
	}
	return "config"
}

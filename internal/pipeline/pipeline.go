// Package pipeline runs a complete analysis: discovery, parsing, the
// dependency graph, metrics, scoring and duplicate detection, joined into
// one report.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"runtime"
	"sort"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"tangle/internal/baseline"
	"tangle/internal/config"
	"tangle/internal/duplicates"
	tgerrors "tangle/internal/errors"
	"tangle/internal/graph"
	"tangle/internal/hotspots"
	"tangle/internal/metrics"
	"tangle/internal/parse"
	"tangle/internal/report"
	"tangle/internal/scoring"
	"tangle/internal/slogutil"
	"tangle/internal/source"
	"tangle/internal/storage"
	"tangle/internal/version"
)

// CodeExcluded marks files the loader declined by content rules (binary,
// generated, too long).
const CodeExcluded = "EXCLUDED"

// NewLoader builds the source loader Run uses for root from the analysis
// settings.
func NewLoader(cfg *config.Config, root string, logger *slog.Logger) *source.Loader {
	return source.NewLoader(root, source.Rules{
		Exclude:          cfg.Analysis.Exclude,
		IncludeText:      cfg.Analysis.IncludeText,
		MaxLines:         cfg.Analysis.MaxLines,
		MaxBytes:         cfg.Analysis.MaxBytes,
		RespectGitignore: cfg.Analysis.RespectGitignore,
		ReadTimeout:      cfg.Analysis.ReadTimeout,
	}, parse.Classify, logger)
}

// Options are the per-invocation settings that sit on top of the config.
type Options struct {
	Root  string
	Focus string

	// Workers overrides analysis.workers when positive.
	Workers int

	// BaselinePath overrides duplicates.baseline when set.
	BaselinePath string

	// Top overrides report.top when positive.
	Top int

	// FailOnUnregistered forces report.fail_on_unregistered on.
	FailOnUnregistered bool

	// Parse replaces the tree-sitter parser; nil uses it.
	Parse parse.ParseFunc

	// Registry replaces the default metric producers.
	Registry *metrics.Registry

	// Cache carries parsed units across runs; nil parses everything afresh.
	// Entries for content no longer in the tree are dropped after each run.
	Cache *parse.Cache

	RunID  string
	Now    func() time.Time
	Logger *slog.Logger
}

// Result is a finished run. Report is restricted to the focus directory;
// the other fields cover the whole tree.
type Result struct {
	Report     *report.Report
	Units      []*parse.Unit
	Graph      *graph.Graph
	Calls      *graph.Graph
	Scores     []scoring.Score
	Duplicates *duplicates.Result

	CacheHits   int64
	CacheMisses int64
}

// slot is one worker's output for one discovered file.
type slot struct {
	file    *source.File
	unit    *parse.Unit
	skipped *report.Skipped
}

// Run analyzes opts.Root. Configuration problems are returned as
// CONFIG_ERROR before any file is read; cancellation returns CANCELLED and
// no report. Per-file failures never fail the run.
func Run(ctx context.Context, cfg *config.Config, opts Options) (*Result, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slogutil.NewDiscardLogger()
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	started := now().UTC()
	runID := opts.RunID
	if runID == "" {
		runID = uuid.NewString()
	}

	// Everything that can be rejected up front is checked before discovery.
	root, err := filepath.Abs(opts.Root)
	if err != nil {
		return nil, tgerrors.New(tgerrors.ConfigError, "invalid root", err)
	}
	focus, err := source.NormalizeFocus(opts.Focus, root)
	if err != nil {
		return nil, tgerrors.NewConfigError("focus", err.Error())
	}
	registry := opts.Registry
	if registry == nil {
		registry = metrics.DefaultRegistry()
	}
	scoringCfg := scoring.FromConfig(cfg.Scoring)
	if err := scoringCfg.CheckMetrics(registry.Has); err != nil {
		return nil, err
	}
	approved, err := loadBaseline(root, opts.BaselinePath, cfg, logger)
	if err != nil {
		return nil, err
	}

	workers := cfg.Analysis.Workers
	if opts.Workers > 0 {
		workers = opts.Workers
	}
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}

	logger.Info("Starting analysis", "root", root, "focus", focus, "workers", workers, "run", runID)

	loader := NewLoader(cfg, root, logger)

	if ctx.Err() != nil {
		return nil, cancelled(ctx)
	}
	paths, err := loader.Discover(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return nil, cancelled(ctx)
		}
		return nil, tgerrors.New(tgerrors.IOError, "discovery failed", err)
	}
	logger.Debug("Discovered files", "count", len(paths))

	parseFn := opts.Parse
	if parseFn == nil {
		parseFn = parse.NewParser(parse.Options{MaxErrorRatio: cfg.Analysis.MaxErrorRatio}).Parse
	}
	cache := opts.Cache
	if cache == nil {
		cache = parse.NewCache()
	}
	hits0, misses0 := cache.Stats()

	slots := make([]slot, len(paths))
	eg, egCtx := errgroup.WithContext(ctx)
	eg.SetLimit(workers)
	for i, rel := range paths {
		eg.Go(func() error {
			if err := egCtx.Err(); err != nil {
				return err
			}
			return processFile(egCtx, loader, cache, parseFn, rel, &slots[i], logger)
		})
	}
	if err := eg.Wait(); err != nil {
		if ctx.Err() != nil {
			return nil, cancelled(ctx)
		}
		return nil, tgerrors.New(tgerrors.InternalError, "file processing failed", err)
	}

	// Barrier passed: the slots are frozen from here on.
	var (
		units   []*parse.Unit
		inputs  []duplicates.Input
		skipped []report.Skipped
		live    = make(map[string]bool, len(slots))
	)
	for _, s := range slots {
		if s.skipped != nil {
			skipped = append(skipped, *s.skipped)
		}
		if s.unit != nil {
			units = append(units, s.unit)
		}
		if s.file != nil {
			inputs = append(inputs, duplicates.Input{Path: s.file.Path, Content: s.file.Content, Unit: s.unit})
			live[s.file.Hash] = true
		}
	}
	if opts.Cache != nil {
		cache.Retain(func(hash string) bool { return live[hash] })
	}
	hits, misses := cache.Stats()
	hits, misses = hits-hits0, misses-misses0
	logger.Debug("Parsing finished", "units", len(units), "skipped", len(skipped), "cache_hits", hits, "cache_misses", misses)

	res := &Result{Units: units, CacheHits: hits, CacheMisses: misses}

	// Fan out: duplicate detection runs beside graph, metrics and scoring.
	detector := duplicates.NewDetector(DetectorOptions(cfg, workers), approved, logger)
	fan, fanCtx := errgroup.WithContext(ctx)
	fan.Go(func() error {
		dups, err := detector.Detect(fanCtx, inputs)
		if err != nil {
			return err
		}
		res.Duplicates = dups
		return nil
	})
	var (
		cycles []graph.Cycle
		depHot []graph.DependencyHotspot
	)
	fan.Go(func() error {
		var err error
		res.Graph, res.Calls, err = buildGraphs(fanCtx, cfg, root, units, workers)
		if err != nil {
			return err
		}
		structure := res.Graph
		kind := graph.KindImport
		if graph.Granularity(cfg.Metrics.Granularity) == graph.FunctionNodes {
			structure, kind = res.Calls, graph.KindCall
		}
		cycles = structure.Cycles(kind)
		depHot = structure.DependencyHotspots(10)

		centrality, err := res.Graph.Centrality(fanCtx)
		if err != nil {
			return err
		}
		res.Scores, err = score(fanCtx, cfg, registry, scoringCfg, res, centrality)
		return err
	})
	if err := fan.Wait(); err != nil {
		if ctx.Err() != nil {
			return nil, cancelled(ctx)
		}
		return nil, tgerrors.New(tgerrors.InternalError, "analysis failed", err)
	}

	top := cfg.Report.Top
	if opts.Top > 0 {
		top = opts.Top
	}
	discovered := 0
	for _, rel := range paths {
		if source.WithinFocus(rel, focus) {
			discovered++
		}
	}
	res.Report = report.Build(report.Input{
		RunID:              runID,
		Version:            version.Version,
		Root:               root,
		Focus:              focus,
		GeneratedAt:        started,
		Scores:             filterScores(res.Scores, focus),
		Thresholds:         report.Thresholds{Warning: scoringCfg.Warning, Critical: scoringCfg.Critical},
		Top:                top,
		Cycles:             filterCycles(cycles, focus),
		DependencyHotspots: filterDependencyHotspots(depHot, focus),
		Duplicates:         filterDuplicates(res.Duplicates, focus),
		Skipped:            filterSkipped(skipped, focus),
		Discovered:         discovered,
		FailOnUnregistered: cfg.Report.FailOnUnregistered || opts.FailOnUnregistered,
	})

	if cfg.History.Enabled {
		recordHistory(root, cfg, res, started, logger)
	}

	logger.Info("Analysis finished",
		"files", res.Report.Summary.Files,
		"hotspots", res.Report.Summary.Hotspots,
		"drift", res.Report.Summary.DriftFindings,
		"passed", res.Report.Passed)
	return res, nil
}

// processFile loads and parses one file into its slot. Only cancellation
// is returned; every other failure becomes a skip.
func processFile(ctx context.Context, loader *source.Loader, cache *parse.Cache, parseFn parse.ParseFunc, rel string, s *slot, logger *slog.Logger) error {
	file, err := loader.Load(ctx, rel)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		s.skipped = loadSkip(rel, err)
		logger.Warn("Skipping file", "path", rel, "code", s.skipped.Code, "reason", s.skipped.Reason)
		return nil
	}
	s.file = file
	if file.Language == source.TextLanguage {
		return nil
	}

	unit, err := cache.Get(ctx, file, parseFn)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		s.skipped = &report.Skipped{
			Path:   rel,
			Stage:  report.StageParse,
			Code:   string(tgerrors.CodeOf(err)),
			Reason: reasonOf(err),
		}
		logger.Warn("Parse failed, using text mode for duplication", "path", rel, "error", err)
		return nil
	}
	s.unit = unit
	return nil
}

func loadSkip(rel string, err error) *report.Skipped {
	var skip *source.Skip
	if errors.As(err, &skip) {
		return &report.Skipped{Path: rel, Stage: report.StageLoad, Code: CodeExcluded, Reason: skip.Reason}
	}
	return &report.Skipped{Path: rel, Stage: report.StageLoad, Code: string(tgerrors.CodeOf(err)), Reason: reasonOf(err)}
}

func reasonOf(err error) string {
	var te *tgerrors.Error
	if errors.As(err, &te) {
		if cause := errors.Unwrap(te); cause != nil {
			return fmt.Sprintf("%s: %v", te.Message, cause)
		}
		return te.Message
	}
	return err.Error()
}

func cancelled(ctx context.Context) error {
	return tgerrors.New(tgerrors.Cancelled, "analysis cancelled", ctx.Err())
}

// DetectorOptions maps the duplicates config section onto detector options.
func DetectorOptions(cfg *config.Config, workers int) duplicates.Options {
	d := cfg.Duplicates
	return duplicates.Options{
		Tolerances:       d.ToleranceLevels,
		DefaultTolerance: d.Tolerance,
		BlockTolerance:   d.BlockTolerance,
		Inferred:         d.Inferred,
		MinLines:         d.MinLines,
		ShingleSize:      d.ShingleSize,
		Threshold:        d.SimilarityThreshold,
		Metric:           d.SimilarityMetric,
		ReportIdentical:  d.ReportIdentical,
		Workers:          workers,
	}
}

// BaselinePath resolves the baseline location against root.
func BaselinePath(root, override string, cfg *config.Config) string {
	p := cfg.Duplicates.Baseline
	if override != "" {
		p = override
	}
	if !filepath.IsAbs(p) {
		p = filepath.Join(root, p)
	}
	return p
}

func loadBaseline(root, override string, cfg *config.Config, logger *slog.Logger) (*baseline.Registry, error) {
	store, err := baseline.Open(BaselinePath(root, override, cfg), logger)
	if err != nil {
		return nil, err
	}
	reg, err := store.Load()
	if err != nil {
		return nil, err
	}
	logger.Debug("Loaded baseline", "path", store.Path(), "blocks", reg.Len())
	return reg, nil
}

func buildGraphs(ctx context.Context, cfg *config.Config, root string, units []*parse.Unit, workers int) (*graph.Graph, *graph.Graph, error) {
	modulePath := graph.ReadModulePath(root)
	files, err := graph.Build(ctx, units, graph.Options{
		Granularity: graph.FileNodes,
		ModulePath:  modulePath,
		Workers:     workers,
	})
	if err != nil {
		return nil, nil, err
	}
	if cfg.Metrics.IndirectionMode != metrics.PerFunction && graph.Granularity(cfg.Metrics.Granularity) != graph.FunctionNodes {
		return files, nil, nil
	}
	calls, err := graph.Build(ctx, units, graph.Options{
		Granularity: graph.FunctionNodes,
		ModulePath:  modulePath,
		Workers:     workers,
	})
	if err != nil {
		return nil, nil, err
	}
	return files, calls, nil
}

// score computes metrics and scores per unit, single-threaded, checking for
// cancellation between files.
func score(ctx context.Context, cfg *config.Config, registry *metrics.Registry, scoringCfg scoring.Config, res *Result, centrality map[string]float64) ([]scoring.Score, error) {
	opts := metrics.Options{
		IndirectionCap:  cfg.Metrics.IndirectionCap,
		IndirectionMode: cfg.Metrics.IndirectionMode,
	}
	var calls *graph.Graph
	if opts.IndirectionMode == metrics.PerFunction {
		calls = res.Calls
	}
	scorer := scoring.NewScorer(scoringCfg)

	scores := make([]scoring.Score, 0, len(res.Units))
	for _, u := range res.Units {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		fm := registry.Compute(metrics.Input{
			Unit:       u,
			Graph:      res.Graph,
			Calls:      calls,
			Centrality: centrality,
			Options:    opts,
		})
		scores = append(scores, scorer.Score(fm))
	}
	sort.Slice(scores, func(i, j int) bool { return scores[i].Path < scores[j].Path })
	return scores, nil
}

func recordHistory(root string, cfg *config.Config, res *Result, started time.Time, logger *slog.Logger) {
	path := cfg.History.Path
	if !filepath.IsAbs(path) {
		path = filepath.Join(root, path)
	}
	db, err := storage.Open(path, logger)
	if err != nil {
		logger.Warn("History unavailable", "path", path, "error", err)
		return
	}
	defer db.Close()

	snaps := make([]hotspots.Snapshot, 0, len(res.Scores))
	for _, s := range res.Scores {
		snaps = append(snaps, hotspots.NewSnapshot(res.Report.RunID, started, s))
	}
	run := storage.Run{
		ID:        res.Report.RunID,
		StartedAt: started,
		Root:      root,
		Files:     len(res.Scores),
		Passed:    res.Report.Passed,
	}
	if err := db.RecordRun(run, snaps); err != nil {
		logger.Warn("Failed to record history", "error", err)
	}
}

package duplicates

import (
	"context"
	"log/slog"
	"sort"
	"strings"

	"tangle/internal/slogutil"
)

// Options configure a detection pass.
type Options struct {
	// Tolerances maps level names to minimum accepted similarity.
	Tolerances map[string]float64

	// DefaultTolerance applies to blocks without an annotation or override.
	DefaultTolerance string

	// BlockTolerance overrides the level per block id (case-insensitive).
	BlockTolerance map[string]string

	Inferred        bool
	MinLines        int
	ShingleSize     int
	Threshold       float64
	Metric          string // "jaccard" or "levenshtein"
	ReportIdentical bool
	Workers         int
}

// DefaultOptions returns the stock detector settings.
func DefaultOptions() Options {
	return Options{
		Tolerances:       DefaultTolerances(),
		DefaultTolerance: Whitespace,
		Inferred:         true,
		MinLines:         6,
		ShingleSize:      5,
		Threshold:        0.85,
		Metric:           MetricJaccard,
	}
}

// Detector runs both detection modes.
type Detector struct {
	opts     Options
	baseline Baseline
	logger   *slog.Logger
}

// NewDetector creates a detector. baseline may be nil.
func NewDetector(opts Options, baseline Baseline, logger *slog.Logger) *Detector {
	if opts.Tolerances == nil {
		opts.Tolerances = DefaultTolerances()
	}
	if _, ok := opts.Tolerances[opts.DefaultTolerance]; !ok {
		opts.DefaultTolerance = Whitespace
	}
	if opts.Metric == "" {
		opts.Metric = MetricJaccard
	}
	if opts.MinLines <= 0 {
		opts.MinLines = 6
	}
	if opts.ShingleSize <= 0 {
		opts.ShingleSize = 5
	}
	if opts.Threshold <= 0 {
		opts.Threshold = 0.85
	}
	if logger == nil {
		logger = slogutil.NewDiscardLogger()
	}
	return &Detector{opts: opts, baseline: baseline, logger: logger}
}

// Detect scans every input. Problems with individual files become warnings;
// only cancellation is returned as an error.
func (d *Detector) Detect(ctx context.Context, inputs []Input) (*Result, error) {
	sorted := make([]Input, len(inputs))
	copy(sorted, inputs)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Path < sorted[j].Path })

	res := &Result{}
	for _, in := range sorted {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if isBinary(in.Content) {
			res.Warnings = append(res.Warnings, Warning{Path: in.Path, Message: "binary content skipped"})
			continue
		}
		blocks, warnings := ScanMarkers(in.Path, in.Content)
		res.Blocks = append(res.Blocks, blocks...)
		res.Warnings = append(res.Warnings, warnings...)
	}
	for i := range res.Blocks {
		d.prepare(&res.Blocks[i])
	}
	res.Findings = d.drift(res.Blocks)

	if d.opts.Inferred {
		unregistered, warnings, err := d.infer(ctx, sorted, res.Blocks)
		if err != nil {
			return nil, err
		}
		res.Unregistered = unregistered
		res.Warnings = append(res.Warnings, warnings...)
	}

	for _, w := range res.Warnings {
		d.logger.Warn("Duplicate scan warning", "path", w.Path, "line", w.Line, "message", w.Message)
	}
	d.logger.Debug("Duplicate detection finished",
		"blocks", len(res.Blocks),
		"findings", len(res.Findings),
		"unregistered", len(res.Unregistered))
	return res, nil
}

// toleranceFor resolves the level of a block: config override, then the
// marker annotation, then the default.
func (d *Detector) toleranceFor(b Block) string {
	for id, level := range d.opts.BlockTolerance {
		if strings.EqualFold(id, b.ID) {
			if _, ok := d.opts.Tolerances[level]; ok {
				return level
			}
		}
	}
	if _, ok := d.opts.Tolerances[b.Tolerance]; ok {
		return b.Tolerance
	}
	return d.opts.DefaultTolerance
}

func (d *Detector) prepare(b *Block) {
	b.Tolerance = d.toleranceFor(*b)
	b.Normalized = Normalize(b.Content, b.Tolerance)
	b.Hash = HashNormalized(b.Normalized)
}

// Prepare resolves tolerance, normalized text and hash for blocks found by
// ScanMarkers. Registration uses it to compute what the baseline stores.
func (d *Detector) Prepare(blocks []Block) []Block {
	out := make([]Block, len(blocks))
	copy(out, blocks)
	for i := range out {
		d.prepare(&out[i])
	}
	return out
}

// drift compares every copy of a block with the first copy in path order,
// then checks groups that agree internally against the baseline.
func (d *Detector) drift(blocks []Block) []DriftFinding {
	// Ids match case-insensitively, as in the baseline registry.
	groups := make(map[string][]Block)
	var keys []string
	for _, b := range blocks {
		k := strings.ToLower(b.ID)
		if _, ok := groups[k]; !ok {
			keys = append(keys, k)
		}
		groups[k] = append(groups[k], b)
	}
	sort.Strings(keys)

	var findings []DriftFinding
	for _, k := range keys {
		group := groups[k]
		sort.SliceStable(group, func(i, j int) bool { return group[i].Location.less(group[j].Location) })

		base := group[0]
		id := base.ID
		tolerance := base.Tolerance
		threshold := d.opts.Tolerances[tolerance]
		agree := true
		for _, other := range group[1:] {
			// Both sides normalized under the base's level.
			otherNorm := other.Normalized
			otherHash := other.Hash
			if other.Tolerance != tolerance {
				otherNorm = Normalize(other.Content, tolerance)
				otherHash = HashNormalized(otherNorm)
			}
			if otherHash == base.Hash {
				continue
			}
			agree = false
			sim := Similarity(base.Normalized, otherNorm)
			findings = append(findings, DriftFinding{
				ID:               id,
				Version:          other.Version,
				Tolerance:        tolerance,
				Base:             base.Location,
				Other:            other.Location,
				Similarity:       sim,
				Threshold:        threshold,
				ExceedsTolerance: sim < threshold,
				Recommendation:   Recommend(sim),
				Diff:             UnifiedDiff(base.Normalized, otherNorm, base.Location.String(), other.Location.String()),
			})
		}

		if !agree || d.baseline == nil {
			continue
		}
		entry, ok := d.baseline.Lookup(base.ID, base.Version)
		if !ok {
			continue
		}
		approved := entry.Normalized
		approvedHash := entry.Hash
		if entry.Tolerance != tolerance {
			approved = Normalize(entry.Normalized, tolerance)
			approvedHash = HashNormalized(approved)
		}
		if approvedHash == base.Hash {
			continue
		}
		sim := Similarity(approved, base.Normalized)
		baselineLoc := Location{Path: entry.Path, StartLine: entry.StartLine, EndLine: entry.EndLine}
		findings = append(findings, DriftFinding{
			ID:               id,
			Version:          base.Version,
			Tolerance:        tolerance,
			Base:             base.Location,
			Other:            baselineLoc,
			AgainstBaseline:  true,
			Similarity:       sim,
			Threshold:        threshold,
			ExceedsTolerance: sim < threshold,
			Recommendation:   Recommend(sim),
			Diff:             UnifiedDiff(approved, base.Normalized, "baseline "+base.Key(), base.Location.String()),
		})
	}
	return findings
}

func isBinary(content []byte) bool {
	limit := len(content)
	if limit > 8192 {
		limit = 8192
	}
	for _, c := range content[:limit] {
		if c == 0 {
			return true
		}
	}
	return false
}

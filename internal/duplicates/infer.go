package duplicates

import (
	"context"
	"runtime"
	"slices"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/cespare/xxhash/v2"
	"github.com/hbollon/go-edlib"
	"golang.org/x/sync/errgroup"
)

// Similarity metrics for inferred duplication.
const (
	MetricJaccard     = "jaccard"
	MetricLevenshtein = "levenshtein"
)

// sketchSize is how many of a span's smallest shingle hashes it is bucketed
// under. Two spans with Jaccard J miss every shared bucket with probability
// about (1-J)^sketchSize.
const sketchSize = 8

type candidate struct {
	span       Span
	raw        string
	normalized string
	shingles   map[uint64]struct{}
	// sketch holds the bucket keys in ascending order: the smallest
	// shingle hashes plus the first shingle.
	sketch []uint64
}

// infer finds near-duplicate spans outside marked blocks. Candidates are
// bucketed under each key of their sketch; only spans sharing a bucket are
// compared, once, in the bucket of their smallest shared key.
func (d *Detector) infer(ctx context.Context, inputs []Input, blocks []Block) ([]UnregisteredDuplication, []Warning, error) {
	marked := make(map[string][]Location)
	for _, b := range blocks {
		marked[b.Location.Path] = append(marked[b.Location.Path], b.Location)
	}

	var cands []candidate
	var warnings []Warning
	for _, in := range inputs {
		if err := ctx.Err(); err != nil {
			return nil, nil, err
		}
		if isBinary(in.Content) {
			continue
		}
		lines := strings.Split(strings.ReplaceAll(string(in.Content), "\r\n", "\n"), "\n")
		for _, span := range d.spans(in, lines) {
			if overlapsAny(span.Location, marked[in.Path]) {
				continue
			}
			raw := strings.Join(lines[span.Location.StartLine-1:span.Location.EndLine], "\n")
			if !utf8.ValidString(raw) {
				warnings = append(warnings, Warning{Path: in.Path, Line: span.Location.StartLine, Message: "span is not valid UTF-8; skipped"})
				continue
			}
			c, ok := d.candidate(span, raw)
			if ok {
				cands = append(cands, c)
			}
		}
	}

	buckets := make(map[uint64][]int)
	for i, c := range cands {
		for _, key := range c.sketch {
			buckets[key] = append(buckets[key], i)
		}
	}
	keys := make([]uint64, 0, len(buckets))
	for k, members := range buckets {
		if len(members) > 1 {
			keys = append(keys, k)
		}
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })

	workers := d.opts.Workers
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	perBucket := make([][]UnregisteredDuplication, len(keys))
	eg, egCtx := errgroup.WithContext(ctx)
	eg.SetLimit(workers)
	for slot, key := range keys {
		members := buckets[key]
		eg.Go(func() error {
			for x := 0; x < len(members); x++ {
				if err := egCtx.Err(); err != nil {
					return err
				}
				for y := x + 1; y < len(members); y++ {
					i, j := members[x], members[y]
					if firstShared(cands[i].sketch, cands[j].sketch) != key {
						continue
					}
					dup, ok := d.compare(cands[i], cands[j])
					if !ok {
						continue
					}
					perBucket[slot] = append(perBucket[slot], dup)
				}
			}
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, nil, err
	}

	var out []UnregisteredDuplication
	for _, dups := range perBucket {
		out = append(out, dups...)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].A.Location != out[j].A.Location {
			return out[i].A.Location.less(out[j].A.Location)
		}
		return out[i].B.Location.less(out[j].B.Location)
	})
	return out, warnings, nil
}

// spans lists a file's candidate regions: long enough functions for parsed
// files, blank-line separated paragraphs for text-mode files.
func (d *Detector) spans(in Input, lines []string) []Span {
	var out []Span
	if in.Unit != nil {
		for _, fn := range in.Unit.Functions {
			if fn.Lines() < d.opts.MinLines || fn.StartLine < 1 || fn.EndLine > len(lines) {
				continue
			}
			out = append(out, Span{
				Location: Location{Path: in.Path, StartLine: fn.StartLine, EndLine: fn.EndLine},
				Name:     fn.Name,
			})
		}
		return out
	}

	start := -1
	flush := func(end int) {
		if start >= 0 && end-start >= d.opts.MinLines {
			out = append(out, Span{Location: Location{Path: in.Path, StartLine: start + 1, EndLine: end}})
		}
		start = -1
	}
	for i, line := range lines {
		if strings.TrimSpace(line) == "" {
			flush(i)
			continue
		}
		if start < 0 {
			start = i
		}
	}
	flush(len(lines))
	return out
}

func overlapsAny(loc Location, marked []Location) bool {
	for _, m := range marked {
		if loc.StartLine <= m.EndLine && m.StartLine <= loc.EndLine {
			return true
		}
	}
	return false
}

func (d *Detector) candidate(span Span, raw string) (candidate, bool) {
	normalized := Normalize(raw, Comments)
	tokens := strings.Fields(normalized)
	if len(tokens) == 0 {
		return candidate{}, false
	}
	k := d.opts.ShingleSize
	if k > len(tokens) {
		k = len(tokens)
	}
	c := candidate{
		span:       span,
		raw:        raw,
		normalized: normalized,
		shingles:   make(map[uint64]struct{}, len(tokens)-k+1),
	}
	var first uint64
	for i := 0; i+k <= len(tokens); i++ {
		h := xxhash.Sum64String(strings.Join(tokens[i:i+k], " "))
		if i == 0 {
			first = h
		}
		c.shingles[h] = struct{}{}
	}
	c.sketch = sketch(c.shingles, first)
	return c, true
}

// sketch returns the sketchSize smallest hashes together with first, sorted
// and without repeats.
func sketch(shingles map[uint64]struct{}, first uint64) []uint64 {
	all := make([]uint64, 0, len(shingles))
	for h := range shingles {
		all = append(all, h)
	}
	slices.Sort(all)
	if len(all) > sketchSize {
		all = all[:sketchSize]
	}
	if _, found := slices.BinarySearch(all, first); !found {
		all = append(all, first)
		slices.Sort(all)
	}
	return all
}

// firstShared returns the smallest key present in both sorted sketches.
// Callers only ask about spans that share at least one bucket.
func firstShared(a, b []uint64) uint64 {
	i, j := 0, 0
	for i < len(a) && j < len(b) {
		switch {
		case a[i] == b[j]:
			return a[i]
		case a[i] < b[j]:
			i++
		default:
			j++
		}
	}
	return 0
}

func (d *Detector) compare(a, b candidate) (UnregisteredDuplication, bool) {
	if a.span.Location.Path == b.span.Location.Path && overlapsAny(a.span.Location, []Location{b.span.Location}) {
		return UnregisteredDuplication{}, false
	}
	identical := a.raw == b.raw
	if identical && !d.opts.ReportIdentical {
		return UnregisteredDuplication{}, false
	}

	var sim float64
	switch d.opts.Metric {
	case MetricLevenshtein:
		s, err := edlib.StringsSimilarity(a.normalized, b.normalized, edlib.Levenshtein)
		if err != nil {
			return UnregisteredDuplication{}, false
		}
		sim = float64(s)
	default:
		sim = jaccard(a.shingles, b.shingles)
	}
	if sim < d.opts.Threshold {
		return UnregisteredDuplication{}, false
	}

	first, second := a.span, b.span
	if second.Location.less(first.Location) {
		first, second = second, first
	}
	return UnregisteredDuplication{
		A:          first,
		B:          second,
		Similarity: sim,
		Metric:     d.opts.Metric,
		Identical:  identical,
	}, true
}

func jaccard(a, b map[uint64]struct{}) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 1
	}
	small, large := a, b
	if len(small) > len(large) {
		small, large = large, small
	}
	inter := 0
	for h := range small {
		if _, ok := large[h]; ok {
			inter++
		}
	}
	union := len(a) + len(b) - inter
	return float64(inter) / float64(union)
}

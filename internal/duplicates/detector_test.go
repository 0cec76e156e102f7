package duplicates

import (
	"context"
	"fmt"
	"reflect"
	"strings"
	"testing"

	"tangle/internal/parse"
)

// markedFile wraps body in X:v1 markers.
func markedFile(prefix string, body []string) []byte {
	lines := []string{prefix, "# DUPLICATED_BLOCK: X:v1"}
	lines = append(lines, body...)
	lines = append(lines, "# END_DUPLICATED_BLOCK: X", "")
	return []byte(strings.Join(lines, "\n"))
}

func tenLines() []string {
	out := make([]string, 10)
	for i := range out {
		out[i] = fmt.Sprintf("result_%d = transform(record, field_%d)", i, i)
	}
	return out
}

type mapBaseline map[string]BaselineEntry

func (m mapBaseline) Lookup(id, version string) (BaselineEntry, bool) {
	e, ok := m[id+":"+version]
	return e, ok
}

func explicitOnly() Options {
	opts := DefaultOptions()
	opts.Inferred = false
	return opts
}

func detect(t *testing.T, d *Detector, inputs ...Input) *Result {
	t.Helper()
	res, err := d.Detect(context.Background(), inputs)
	if err != nil {
		t.Fatal(err)
	}
	return res
}

func TestDetect_IdenticalBlocksNoFindings(t *testing.T) {
	d := NewDetector(explicitOnly(), nil, nil)
	res := detect(t, d,
		Input{Path: "a.py", Content: markedFile("import os", tenLines())},
		Input{Path: "b.py", Content: markedFile("import sys", tenLines())},
	)
	if len(res.Blocks) != 2 {
		t.Fatalf("blocks = %d, want 2", len(res.Blocks))
	}
	if len(res.Findings) != 0 {
		t.Errorf("identical blocks produced findings: %+v", res.Findings)
	}
}

func TestDetect_BlockIDsCaseInsensitive(t *testing.T) {
	wrap := func(marker, end string, body []string) []byte {
		lines := append([]string{"# DUPLICATED_BLOCK: " + marker}, body...)
		lines = append(lines, "# END_DUPLICATED_BLOCK: "+end, "")
		return []byte(strings.Join(lines, "\n"))
	}
	body := []string{"def add(x, y):", "    total = x + y", "    return total"}
	changed := []string{"def add(x, y):", "    total = x * y * 42 - 7", "    return total"}

	d := NewDetector(explicitOnly(), nil, nil)
	res := detect(t, d,
		Input{Path: "a.py", Content: wrap("Auth:v1", "Auth", body)},
		Input{Path: "b.py", Content: wrap("auth:v1", "AUTH", changed)},
	)
	if len(res.Blocks) != 2 {
		t.Fatalf("blocks = %d, want 2 (end markers match regardless of case)", len(res.Blocks))
	}
	if len(res.Findings) != 1 {
		t.Fatalf("findings = %d, want 1", len(res.Findings))
	}
	f := res.Findings[0]
	if f.Base.Path != "a.py" || f.Other.Path != "b.py" {
		t.Errorf("finding = %+v", f)
	}
}

func TestDetect_WhitespaceOnlyChangeTolerated(t *testing.T) {
	body := tenLines()
	spaced := make([]string, len(body))
	for i, l := range body {
		spaced[i] = "    " + strings.ReplaceAll(l, " = ", "   =   ")
	}
	d := NewDetector(explicitOnly(), nil, nil)
	res := detect(t, d,
		Input{Path: "a.py", Content: markedFile("", body)},
		Input{Path: "b.py", Content: markedFile("", spaced)},
	)
	if len(res.Findings) != 0 {
		t.Errorf("whitespace change produced findings: %+v", res.Findings)
	}
}

func TestDetect_CorruptedCopyOneFinding(t *testing.T) {
	corrupted := tenLines()
	for i := 0; i < 5; i++ {
		corrupted[i] = fmt.Sprintf("cache.invalidate(%q)", fmt.Sprint("k", i))
	}
	d := NewDetector(explicitOnly(), nil, nil)
	res := detect(t, d,
		Input{Path: "b.py", Content: markedFile("", corrupted)},
		Input{Path: "a.py", Content: markedFile("", tenLines())},
	)
	if len(res.Findings) != 1 {
		t.Fatalf("findings = %d, want 1", len(res.Findings))
	}
	f := res.Findings[0]
	if f.ID != "X" || f.Version != "v1" {
		t.Errorf("finding id = %s:%s", f.ID, f.Version)
	}
	if f.Base.Path != "a.py" || f.Other.Path != "b.py" {
		t.Errorf("locations = %v / %v", f.Base, f.Other)
	}
	if f.Base.StartLine != 2 || f.Base.EndLine != 13 {
		t.Errorf("base span = %v", f.Base)
	}
	if !f.ExceedsTolerance || f.Similarity >= f.Threshold || f.Threshold != 0.95 {
		t.Errorf("similarity %v threshold %v exceeds %v", f.Similarity, f.Threshold, f.ExceedsTolerance)
	}
	if !strings.Contains(f.Diff, "+cache.invalidate") {
		t.Errorf("diff missing change:\n%s", f.Diff)
	}
	if res.Exceeding() != 1 {
		t.Errorf("Exceeding() = %d", res.Exceeding())
	}
}

func TestDetect_SmallChangeWithinTolerance(t *testing.T) {
	changed := tenLines()
	changed[3] = strings.Replace(changed[3], "record", "recort", 1)
	d := NewDetector(explicitOnly(), nil, nil)
	res := detect(t, d,
		Input{Path: "a.py", Content: markedFile("", tenLines())},
		Input{Path: "b.py", Content: markedFile("", changed)},
	)
	if len(res.Findings) != 1 {
		t.Fatalf("findings = %d, want 1", len(res.Findings))
	}
	if res.Findings[0].ExceedsTolerance || res.Exceeding() != 0 {
		t.Errorf("small change should stay within tolerance: %+v", res.Findings[0])
	}
	if res.Findings[0].Recommendation != Healthy {
		t.Errorf("recommendation = %s", res.Findings[0].Recommendation)
	}
}

func TestDetect_BlockToleranceOverride(t *testing.T) {
	changed := tenLines()
	for i := 0; i < 3; i++ {
		changed[i] = strings.Replace(changed[i], "transform", "convert", 1)
	}
	opts := explicitOnly()
	opts.BlockTolerance = map[string]string{"x": Flexible}
	d := NewDetector(opts, nil, nil)
	res := detect(t, d,
		Input{Path: "a.py", Content: markedFile("", tenLines())},
		Input{Path: "b.py", Content: markedFile("", changed)},
	)
	if len(res.Findings) != 1 || res.Findings[0].Tolerance != Flexible || res.Findings[0].ExceedsTolerance {
		t.Errorf("findings = %+v", res.Findings)
	}
}

func TestDetect_Idempotent(t *testing.T) {
	corrupted := tenLines()
	corrupted[0] = "raise SystemExit(1)"
	corrupted[9] = "return None"
	inputs := []Input{
		{Path: "a.py", Content: markedFile("", tenLines())},
		{Path: "b.py", Content: markedFile("", corrupted)},
	}
	d := NewDetector(DefaultOptions(), nil, nil)
	first := detect(t, d, inputs...)
	second := detect(t, d, inputs...)
	if !reflect.DeepEqual(first.Findings, second.Findings) {
		t.Errorf("findings differ between runs:\n%+v\n%+v", first.Findings, second.Findings)
	}
}

func TestDetect_Baseline(t *testing.T) {
	approved := tenLines()
	current := tenLines()
	for i := range current {
		current[i] = strings.Replace(current[i], "transform", "reshape", 1)
	}
	inputs := []Input{
		{Path: "a.py", Content: markedFile("", current)},
		{Path: "b.py", Content: markedFile("", current)},
	}

	norm := Normalize(strings.Join(approved, "\n"), Whitespace)
	stale := mapBaseline{"X:v1": {
		ID: "X", Version: "v1", Tolerance: Whitespace,
		Normalized: norm, Hash: HashNormalized(norm),
		Path: "a.py", StartLine: 2, EndLine: 13,
	}}
	res := detect(t, NewDetector(explicitOnly(), stale, nil), inputs...)
	if len(res.Findings) != 1 || !res.Findings[0].AgainstBaseline {
		t.Fatalf("findings = %+v", res.Findings)
	}
	if res.Findings[0].Base.Path != "a.py" || res.Findings[0].Other.Path != "a.py" {
		t.Errorf("baseline finding locations = %+v", res.Findings[0])
	}

	// Registering the current state clears the finding on the next run.
	d := NewDetector(explicitOnly(), nil, nil)
	blocks, _ := ScanMarkers("a.py", inputs[0].Content)
	blocks = d.Prepare(blocks)
	updated := mapBaseline{"X:v1": {
		ID: "X", Version: "v1", Tolerance: blocks[0].Tolerance,
		Normalized: blocks[0].Normalized, Hash: blocks[0].Hash,
	}}
	res = detect(t, NewDetector(explicitOnly(), updated, nil), inputs...)
	if len(res.Findings) != 0 {
		t.Errorf("findings after baseline update = %+v", res.Findings)
	}

	// Unknown versions are not compared.
	other := mapBaseline{"X:v2": stale["X:v1"]}
	if res := detect(t, NewDetector(explicitOnly(), other, nil), inputs...); len(res.Findings) != 0 {
		t.Errorf("baseline for another version matched: %+v", res.Findings)
	}
}

func TestDetect_BinarySkipped(t *testing.T) {
	d := NewDetector(DefaultOptions(), nil, nil)
	res := detect(t, d, Input{Path: "blob.bin", Content: []byte("# DUPLICATED_BLOCK: X:v1\x00\x01")})
	if len(res.Blocks) != 0 || len(res.Warnings) != 1 {
		t.Errorf("binary input: blocks=%d warnings=%+v", len(res.Blocks), res.Warnings)
	}
}

func TestDetect_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	d := NewDetector(DefaultOptions(), nil, nil)
	if _, err := d.Detect(ctx, []Input{{Path: "a.py", Content: []byte("x = 1\n")}}); err == nil {
		t.Error("expected cancellation error")
	}
}

// functionSource returns twenty distinct statement lines.
func functionSource(rename string) []string {
	lines := make([]string, 20)
	for i := range lines {
		lines[i] = fmt.Sprintf("total_%d = compute(value_%d, offset_%d) + %d", i, i, i, i)
	}
	if rename != "" {
		lines[10] = strings.Replace(lines[10], "value_10", rename, 1)
	}
	return lines
}

func parsedInput(path string, lines []string) Input {
	return Input{
		Path:    path,
		Content: []byte(strings.Join(lines, "\n") + "\n"),
		Unit: &parse.Unit{
			Path:      path,
			Functions: []parse.Function{{Name: "f", StartLine: 1, EndLine: len(lines)}},
		},
	}
}

func TestInfer_NearDuplicateReported(t *testing.T) {
	for _, metric := range []string{MetricJaccard, MetricLevenshtein} {
		t.Run(metric, func(t *testing.T) {
			opts := DefaultOptions()
			opts.Metric = metric
			d := NewDetector(opts, nil, nil)
			res := detect(t, d,
				parsedInput("svc/b.py", functionSource("other_10")),
				parsedInput("svc/a.py", functionSource("")),
			)
			if len(res.Unregistered) != 1 {
				t.Fatalf("unregistered = %+v", res.Unregistered)
			}
			u := res.Unregistered[0]
			if u.A.Location.Path != "svc/a.py" || u.B.Location.Path != "svc/b.py" || u.A.Name != "f" {
				t.Errorf("pair = %+v", u)
			}
			if u.Similarity < 0.85 || u.Similarity >= 1 || u.Metric != metric || u.Identical {
				t.Errorf("similarity = %v metric = %s", u.Similarity, u.Metric)
			}
		})
	}
}

func TestInfer_RenamedCopyAlwaysCompared(t *testing.T) {
	body := make([]string, 12)
	for i := range body {
		body[i] = fmt.Sprintf("    step_%d = apply(state, rule_%d, limit=%d)", i, i, i*3)
	}
	withHeader := func(name string) []string {
		return append([]string{"def " + name + "(state, limit):"}, body...)
	}

	d := NewDetector(DefaultOptions(), nil, nil)
	for n := 0; n < 200; n++ {
		name := fmt.Sprintf("beta_%d", n)
		res := detect(t, d,
			parsedInput("a.py", withHeader("alpha")),
			parsedInput("b.py", withHeader(name)),
		)
		if len(res.Unregistered) != 1 {
			t.Fatalf("%s: unregistered = %d, want 1", name, len(res.Unregistered))
		}
		if sim := res.Unregistered[0].Similarity; sim < 0.85 {
			t.Fatalf("%s: similarity = %v", name, sim)
		}
	}
}

func TestSketch(t *testing.T) {
	shingles := make(map[uint64]struct{})
	for h := uint64(100); h > 0; h-- {
		shingles[h*7] = struct{}{}
	}
	got := sketch(shingles, 700)
	want := []uint64{7, 14, 21, 28, 35, 42, 49, 56, 700}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("sketch() = %v, want %v", got, want)
	}
	if got := sketch(shingles, 14); len(got) != sketchSize {
		t.Errorf("first already among the smallest: len = %d", len(got))
	}
	if got := firstShared([]uint64{3, 9, 12}, []uint64{1, 9, 12}); got != 9 {
		t.Errorf("firstShared() = %d, want 9", got)
	}
}

func TestInfer_IdenticalOnlyWhenRequested(t *testing.T) {
	inputs := []Input{
		parsedInput("a.py", functionSource("")),
		parsedInput("b.py", functionSource("")),
	}
	res := detect(t, NewDetector(DefaultOptions(), nil, nil), inputs...)
	if len(res.Unregistered) != 0 {
		t.Errorf("byte-identical pair reported by default: %+v", res.Unregistered)
	}

	opts := DefaultOptions()
	opts.ReportIdentical = true
	res = detect(t, NewDetector(opts, nil, nil), inputs...)
	if len(res.Unregistered) != 1 || !res.Unregistered[0].Identical || res.Unregistered[0].Similarity != 1 {
		t.Errorf("identical pair = %+v", res.Unregistered)
	}
}

func TestInfer_DissimilarAndShortSpansIgnored(t *testing.T) {
	other := make([]string, 20)
	for i := range other {
		other[i] = fmt.Sprintf("logger.info(%q, request_%d)", "handled", i)
	}
	short := parsedInput("short.py", functionSource("")[:4])
	res := detect(t, NewDetector(DefaultOptions(), nil, nil),
		parsedInput("a.py", functionSource("")),
		parsedInput("b.py", other),
		short,
		parsedInput("c.py", functionSource("x")[:4]),
	)
	if len(res.Unregistered) != 0 {
		t.Errorf("unexpected pairs: %+v", res.Unregistered)
	}
}

func TestInfer_TextModeParagraphs(t *testing.T) {
	body := functionSource("")
	changed := functionSource("other_10")
	a := Input{Path: "a.sql", Content: []byte("-- header\n\n" + strings.Join(body, "\n") + "\n")}
	b := Input{Path: "b.sql", Content: []byte(strings.Join(changed, "\n") + "\n\nshort\n")}
	res := detect(t, NewDetector(DefaultOptions(), nil, nil), a, b)
	if len(res.Unregistered) != 1 {
		t.Fatalf("unregistered = %+v", res.Unregistered)
	}
	u := res.Unregistered[0]
	if u.A.Location.StartLine != 3 || u.A.Location.EndLine != 22 || u.B.Location.StartLine != 1 {
		t.Errorf("spans = %v / %v", u.A.Location, u.B.Location)
	}
}

func TestInfer_MarkedSpansExcluded(t *testing.T) {
	marked := append([]string{"# DUPLICATED_BLOCK: X:v1"}, functionSource("other_10")...)
	marked = append(marked, "# END_DUPLICATED_BLOCK: X")
	in := parsedInput("b.py", marked)
	in.Unit.Functions[0] = parse.Function{Name: "f", StartLine: 2, EndLine: 21}

	res := detect(t, NewDetector(DefaultOptions(), nil, nil),
		parsedInput("a.py", functionSource("")),
		in,
	)
	if len(res.Unregistered) != 0 {
		t.Errorf("span inside a marked block was compared: %+v", res.Unregistered)
	}
}

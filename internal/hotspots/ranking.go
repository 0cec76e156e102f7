// Package hotspots ranks scored files and tracks how their scores move
// between runs.
package hotspots

import (
	"sort"

	"tangle/internal/scoring"
)

// Hotspot is one ranked file.
type Hotspot struct {
	Rank int           `json:"rank"`
	scoring.Score
}

// Ranking is the ordered list of files at or above the warning threshold.
type Ranking struct {
	items []Hotspot
}

// Rank keeps scores at warning severity or worse, ordered by score
// descending with ties broken by path ascending.
func Rank(scores []scoring.Score) *Ranking {
	var kept []scoring.Score
	for _, s := range scores {
		if s.Severity.AtLeast(scoring.SeverityWarning) {
			kept = append(kept, s)
		}
	}
	return &Ranking{items: Order(kept)}
}

// Order ranks every score the same way Rank does, without filtering.
func Order(scores []scoring.Score) []Hotspot {
	sorted := make([]scoring.Score, len(scores))
	copy(sorted, scores)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].Value != sorted[j].Value {
			return sorted[i].Value > sorted[j].Value
		}
		return sorted[i].Path < sorted[j].Path
	})
	out := make([]Hotspot, len(sorted))
	for i, s := range sorted {
		out[i] = Hotspot{Rank: i + 1, Score: s}
	}
	return out
}

// TopN returns at most n hotspots; n <= 0 returns all of them.
func (r *Ranking) TopN(n int) []Hotspot {
	if n <= 0 || n >= len(r.items) {
		return r.All()
	}
	out := make([]Hotspot, n)
	copy(out, r.items[:n])
	return out
}

// All returns every hotspot.
func (r *Ranking) All() []Hotspot {
	out := make([]Hotspot, len(r.items))
	copy(out, r.items)
	return out
}

// Len is the number of hotspots.
func (r *Ranking) Len() int {
	return len(r.items)
}

// Critical counts hotspots at critical severity.
func (r *Ranking) Critical() int {
	n := 0
	for _, h := range r.items {
		if h.Severity == scoring.SeverityCritical {
			n++
		}
	}
	return n
}

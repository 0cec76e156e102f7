package hotspots

import (
	"sort"
	"time"

	"tangle/internal/metrics"
	"tangle/internal/scoring"
)

// Snapshot is a file's score as recorded by one run.
type Snapshot struct {
	ID              int64     `json:"id,omitempty"`
	RunID           string    `json:"runId"`
	Path            string    `json:"path"`
	TakenAt         time.Time `json:"takenAt"`
	Score           float64   `json:"score"`
	Severity        string    `json:"severity"`
	Complexity      int       `json:"complexity"`
	Indirection     int       `json:"indirection"`
	ContextSwitches int       `json:"contextSwitches"`
	Lines           int       `json:"lines"`
	FanIn           int       `json:"fanIn"`
	FanOut          int       `json:"fanOut"`
	Instability     float64   `json:"instability"` // fan-out / (fan-in + fan-out)
}

// NewSnapshot records s as taken by run at takenAt.
func NewSnapshot(runID string, takenAt time.Time, s scoring.Score) Snapshot {
	fanIn := int(s.Metrics.Values[metrics.FanIn])
	fanOut := int(s.Metrics.Values[metrics.FanOut])
	return Snapshot{
		RunID:           runID,
		Path:            s.Path,
		TakenAt:         takenAt.UTC(),
		Score:           s.Value,
		Severity:        string(s.Severity),
		Complexity:      s.Metrics.Complexity,
		Indirection:     s.Metrics.Indirection,
		ContextSwitches: s.Metrics.ContextSwitches,
		Lines:           s.Metrics.Lines,
		FanIn:           fanIn,
		FanOut:          fanOut,
		Instability:     CalculateInstability(fanIn, fanOut),
	}
}

// Trend summarizes how a file's score moves over time.
type Trend struct {
	Direction     string  `json:"direction"`     // "increasing" | "stable" | "decreasing"
	Velocity      float64 `json:"velocity"`      // score change per day
	Projection30d float64 `json:"projection30d"` // predicted score in 30 days
	DataPoints    int     `json:"dataPoints"`
}

// CalculateTrend fits a line through the snapshots' scores.
func CalculateTrend(snapshots []Snapshot) *Trend {
	if len(snapshots) < 2 {
		return &Trend{
			Direction:  "stable",
			DataPoints: len(snapshots),
		}
	}

	sorted := make([]Snapshot, len(snapshots))
	copy(sorted, snapshots)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].TakenAt.Before(sorted[j].TakenAt) })

	// Least squares over (days since first snapshot, score).
	var sumX, sumY, sumXY, sumX2 float64
	n := float64(len(sorted))
	base := sorted[0].TakenAt
	for _, s := range sorted {
		x := s.TakenAt.Sub(base).Hours() / 24
		y := s.Score
		sumX += x
		sumY += y
		sumXY += x * y
		sumX2 += x * x
	}

	denominator := n*sumX2 - sumX*sumX
	var velocity float64
	if denominator != 0 {
		velocity = (n*sumXY - sumX*sumY) / denominator
	}

	direction := "stable"
	if velocity > 0.01 {
		direction = "increasing"
	} else if velocity < -0.01 {
		direction = "decreasing"
	}

	projection := sorted[len(sorted)-1].Score + velocity*30
	if projection < 0 {
		projection = 0
	}

	return &Trend{
		Direction:     direction,
		Velocity:      velocity,
		Projection30d: projection,
		DataPoints:    len(sorted),
	}
}

// CalculateInstability is Martin's instability: Ce / (Ca + Ce).
func CalculateInstability(afferent, efferent int) float64 {
	total := afferent + efferent
	if total == 0 {
		return 0.5
	}
	return float64(efferent) / float64(total)
}

package hotspots

import (
	"math"
	"testing"
	"time"

	"tangle/internal/metrics"
	"tangle/internal/scoring"
)

func TestCalculateTrend_Increasing(t *testing.T) {
	now := time.Now()
	snapshots := []Snapshot{
		{TakenAt: now.AddDate(0, 0, -30), Score: 0.2},
		{TakenAt: now.AddDate(0, 0, -20), Score: 0.4},
		{TakenAt: now.AddDate(0, 0, -10), Score: 0.6},
		{TakenAt: now, Score: 0.8},
	}

	trend := CalculateTrend(snapshots)

	if trend.Direction != "increasing" {
		t.Errorf("Expected direction 'increasing', got '%s'", trend.Direction)
	}
	if trend.Velocity <= 0 {
		t.Errorf("Expected positive velocity for increasing trend, got %f", trend.Velocity)
	}
	if trend.Projection30d <= 0.8 {
		t.Errorf("Expected projection above latest score, got %f", trend.Projection30d)
	}
}

func TestCalculateTrend_Decreasing(t *testing.T) {
	now := time.Now()
	snapshots := []Snapshot{
		{TakenAt: now.AddDate(0, 0, -30), Score: 0.8},
		{TakenAt: now.AddDate(0, 0, -20), Score: 0.6},
		{TakenAt: now.AddDate(0, 0, -10), Score: 0.4},
		{TakenAt: now, Score: 0.2},
	}

	trend := CalculateTrend(snapshots)

	if trend.Direction != "decreasing" {
		t.Errorf("Expected direction 'decreasing', got '%s'", trend.Direction)
	}
	if trend.Velocity >= 0 {
		t.Errorf("Expected negative velocity for decreasing trend, got %f", trend.Velocity)
	}
	if trend.Projection30d != 0 {
		t.Errorf("Projection should not go negative, got %f", trend.Projection30d)
	}
}

func TestCalculateTrend_UnsortedInput(t *testing.T) {
	now := time.Now()
	snapshots := []Snapshot{
		{TakenAt: now, Score: 0.8},
		{TakenAt: now.AddDate(0, 0, -30), Score: 0.2},
		{TakenAt: now.AddDate(0, 0, -10), Score: 0.6},
		{TakenAt: now.AddDate(0, 0, -20), Score: 0.4},
	}
	if trend := CalculateTrend(snapshots); trend.Direction != "increasing" {
		t.Errorf("Expected 'increasing' regardless of input order, got '%s'", trend.Direction)
	}
}

func TestCalculateTrend_Stable(t *testing.T) {
	now := time.Now()
	snapshots := []Snapshot{
		{TakenAt: now.AddDate(0, 0, -30), Score: 0.5},
		{TakenAt: now.AddDate(0, 0, -20), Score: 0.51},
		{TakenAt: now.AddDate(0, 0, -10), Score: 0.49},
		{TakenAt: now, Score: 0.5},
	}

	if trend := CalculateTrend(snapshots); trend.Direction != "stable" {
		t.Errorf("Expected direction 'stable', got '%s'", trend.Direction)
	}
}

func TestCalculateTrend_InsufficientData(t *testing.T) {
	tests := []struct {
		name      string
		snapshots []Snapshot
		points    int
	}{
		{"empty", nil, 0},
		{"single", []Snapshot{{TakenAt: time.Now(), Score: 0.5}}, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			trend := CalculateTrend(tt.snapshots)
			if trend.Direction != "stable" || trend.DataPoints != tt.points {
				t.Errorf("trend = %+v", trend)
			}
		})
	}
}

func TestCalculateInstability(t *testing.T) {
	tests := []struct {
		afferent int
		efferent int
		expected float64
	}{
		{5, 10, 0.667},
		{0, 10, 1.0},
		{10, 0, 0.0},
		{0, 0, 0.5},
		{5, 5, 0.5},
	}

	for _, tt := range tests {
		result := CalculateInstability(tt.afferent, tt.efferent)
		if math.Abs(result-tt.expected) > 0.01 {
			t.Errorf("CalculateInstability(%d, %d) = %f, expected ~%f",
				tt.afferent, tt.efferent, result, tt.expected)
		}
	}
}

func TestNewSnapshot(t *testing.T) {
	s := scoring.Score{
		Path:     "svc/api.go",
		Value:    1.4,
		Severity: scoring.SeverityWarning,
		Metrics: metrics.FileMetrics{
			Path:       "svc/api.go",
			Complexity: 12,
			Lines:      300,
			Values:     map[string]float64{metrics.FanIn: 3, metrics.FanOut: 1},
		},
	}
	taken := time.Date(2026, 3, 1, 12, 0, 0, 0, time.FixedZone("CET", 3600))
	snap := NewSnapshot("run-1", taken, s)

	if snap.Path != "svc/api.go" || snap.RunID != "run-1" || snap.Severity != "warning" {
		t.Errorf("snapshot = %+v", snap)
	}
	if snap.TakenAt.Location() != time.UTC {
		t.Errorf("TakenAt should be UTC, got %v", snap.TakenAt.Location())
	}
	if snap.Complexity != 12 || snap.FanIn != 3 || snap.FanOut != 1 || snap.Instability != 0.25 {
		t.Errorf("metrics not copied: %+v", snap)
	}
}

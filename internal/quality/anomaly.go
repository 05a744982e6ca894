package quality

import (
	"math"

	"github.com/r3e-network/ingestion-engine/internal/model"
)

// MinSnapshotsForDetection is the minimum number of historical snapshots
// the Anomaly Detector needs before it will flag drift; fewer than this and
// there isn't enough history to distinguish noise from a real shift.
const MinSnapshotsForDetection = 3

// driftZScoreThreshold flags row_count or null_pct drift more than this
// many standard deviations from the historical mean.
const driftZScoreThreshold = 3.0

// Detector compares a table's current ProfileSnapshot against its
// historical snapshots and proposes AnomalyAlerts for statistically
// significant drift.
type Detector struct{}

// NewDetector constructs a Detector.
func NewDetector() *Detector {
	return &Detector{}
}

// Detect compares current against history (oldest-to-newest order doesn't
// matter; all that's used is the distribution of values) and returns any
// anomalies found. Returns nil if history has fewer than
// MinSnapshotsForDetection entries.
func (d *Detector) Detect(tableName string, current model.ProfileSnapshot, history []model.ProfileSnapshot) []model.AnomalyAlert {
	if len(history) < MinSnapshotsForDetection {
		return nil
	}

	var alerts []model.AnomalyAlert

	rowCounts := make([]float64, len(history))
	for i, h := range history {
		rowCounts[i] = float64(h.RowCount)
	}
	if z, ok := zScore(float64(current.RowCount), rowCounts); ok && math.Abs(z) > driftZScoreThreshold {
		alerts = append(alerts, model.AnomalyAlert{
			TableName: tableName, Type: "row_count_drift", Status: model.AnomalyOpen,
			Details: map[string]any{"current": current.RowCount, "z_score": z},
		})
	}

	historicalColumns := make(map[string][]float64)
	for _, h := range history {
		for _, c := range h.Columns {
			historicalColumns[c.Name] = append(historicalColumns[c.Name], c.NullPct)
		}
	}
	currentNames := make(map[string]bool, len(current.Columns))
	for _, c := range current.Columns {
		currentNames[c.Name] = true
		series, ok := historicalColumns[c.Name]
		if !ok {
			continue
		}
		if z, ok := zScore(c.NullPct, series); ok && math.Abs(z) > driftZScoreThreshold {
			alerts = append(alerts, model.AnomalyAlert{
				TableName: tableName, Type: "null_pct_drift", Status: model.AnomalyOpen,
				Details: map[string]any{"column": c.Name, "current_null_pct": c.NullPct, "z_score": z},
			})
		}
	}

	for name := range historicalColumns {
		if !currentNames[name] {
			alerts = append(alerts, model.AnomalyAlert{
				TableName: tableName, Type: "schema_change", Status: model.AnomalyOpen,
				Details: map[string]any{"dropped_column": name},
			})
		}
	}
	for _, c := range current.Columns {
		if _, seen := historicalColumns[c.Name]; !seen {
			alerts = append(alerts, model.AnomalyAlert{
				TableName: tableName, Type: "schema_change", Status: model.AnomalyOpen,
				Details: map[string]any{"added_column": c.Name},
			})
		}
	}

	return alerts
}

// zScore reports how many standard deviations value is from series' mean.
// ok is false when series has zero variance (z-score undefined).
func zScore(value float64, series []float64) (float64, bool) {
	n := float64(len(series))
	if n == 0 {
		return 0, false
	}
	var sum float64
	for _, v := range series {
		sum += v
	}
	mean := sum / n

	var sumSq float64
	for _, v := range series {
		sumSq += (v - mean) * (v - mean)
	}
	stddev := math.Sqrt(sumSq / n)
	if stddev == 0 {
		return 0, false
	}
	return (value - mean) / stddev, true
}

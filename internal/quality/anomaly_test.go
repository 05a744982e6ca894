package quality

import (
	"testing"

	"github.com/r3e-network/ingestion-engine/internal/model"
)

func TestDetectReturnsNilBelowMinimumHistory(t *testing.T) {
	d := NewDetector()
	current := model.ProfileSnapshot{RowCount: 1000}
	history := []model.ProfileSnapshot{{RowCount: 990}, {RowCount: 1010}}
	if alerts := d.Detect("t", current, history); alerts != nil {
		t.Fatalf("expected no alerts with only %d historical snapshots, got %v", len(history), alerts)
	}
}

func TestDetectFlagsRowCountDrift(t *testing.T) {
	d := NewDetector()
	history := []model.ProfileSnapshot{
		{RowCount: 1000}, {RowCount: 1010}, {RowCount: 990}, {RowCount: 1005},
	}
	current := model.ProfileSnapshot{RowCount: 50}
	alerts := d.Detect("t", current, history)
	if len(alerts) == 0 {
		t.Fatal("expected a row_count_drift alert for a sharp drop")
	}
	if alerts[0].Type != "row_count_drift" {
		t.Fatalf("expected row_count_drift, got %s", alerts[0].Type)
	}
}

func TestDetectFlagsSchemaChange(t *testing.T) {
	d := NewDetector()
	history := []model.ProfileSnapshot{
		{RowCount: 100, Columns: []model.ProfileColumn{{Name: "a", NullPct: 0.1}, {Name: "b", NullPct: 0.1}}},
		{RowCount: 100, Columns: []model.ProfileColumn{{Name: "a", NullPct: 0.1}, {Name: "b", NullPct: 0.1}}},
		{RowCount: 100, Columns: []model.ProfileColumn{{Name: "a", NullPct: 0.1}, {Name: "b", NullPct: 0.1}}},
	}
	current := model.ProfileSnapshot{RowCount: 100, Columns: []model.ProfileColumn{{Name: "a", NullPct: 0.1}}}
	alerts := d.Detect("t", current, history)
	found := false
	for _, a := range alerts {
		if a.Type == "schema_change" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected a schema_change alert for a dropped column, got %v", alerts)
	}
}

func TestZScoreUndefinedWithZeroVariance(t *testing.T) {
	if _, ok := zScore(5, []float64{5, 5, 5}); ok {
		t.Fatal("expected zScore to report undefined for zero-variance series")
	}
}

package quality

import (
	"testing"

	"github.com/r3e-network/ingestion-engine/internal/model"
)

func TestProposeRulesSeedsNotNullForFullColumnOnLargeTable(t *testing.T) {
	snap := model.ProfileSnapshot{
		RowCount: 1000,
		Columns:  []model.ProfileColumn{{Name: "period", NullPct: 0}},
	}
	rules := ProposeRules("t", snap)
	found := false
	for _, r := range rules {
		if r.Type == model.RuleNotNull && r.Column == "period" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected a NOT_NULL proposal for a complete column, got %v", rules)
	}
}

func TestProposeRulesSkipsNotNullBelowRowFloor(t *testing.T) {
	snap := model.ProfileSnapshot{
		RowCount: 10,
		Columns:  []model.ProfileColumn{{Name: "period", NullPct: 0}},
	}
	rules := ProposeRules("t", snap)
	for _, r := range rules {
		if r.Type == model.RuleNotNull {
			t.Fatalf("expected no NOT_NULL proposal below the row floor, got %v", rules)
		}
	}
}

func TestProposeRulesSeedsEnumForLowCardinalityNonIDColumn(t *testing.T) {
	snap := model.ProfileSnapshot{
		RowCount: 1000,
		Columns: []model.ProfileColumn{{
			Name: "status", CardinalityRatio: 0.01,
			Stats: map[string]any{"top_values": []map[string]any{{"value": "active", "count": int64(900)}, {"value": "inactive", "count": int64(100)}}},
		}},
	}
	rules := ProposeRules("t", snap)
	found := false
	for _, r := range rules {
		if r.Type == model.RuleEnum && r.Column == "status" {
			found = true
			values, _ := r.Params["values"].([]string)
			if len(values) != 2 {
				t.Fatalf("expected 2 enum values proposed, got %v", values)
			}
		}
	}
	if !found {
		t.Fatalf("expected an ENUM proposal for a low-cardinality column, got %v", rules)
	}
}

func TestProposeRulesExcludesIDLikeColumnsFromEnum(t *testing.T) {
	snap := model.ProfileSnapshot{
		RowCount: 1000,
		Columns: []model.ProfileColumn{{
			Name: "dataset_id", CardinalityRatio: 0.001,
			Stats: map[string]any{"top_values": []map[string]any{{"value": "a", "count": int64(1)}}},
		}},
	}
	rules := ProposeRules("t", snap)
	for _, r := range rules {
		if r.Type == model.RuleEnum {
			t.Fatalf("expected no ENUM proposal for an id-like column, got %v", rules)
		}
	}
}

func TestProposeRangeRuleUsesMeanStddevExpressionForNonSkewedData(t *testing.T) {
	col := model.ProfileColumn{Name: "value", Stats: map[string]any{"mean": 10.0, "stddev": 2.0}}
	rule, ok := proposeRangeRule("t", col)
	if !ok {
		t.Fatal("expected a RANGE proposal")
	}
	if _, hasExpr := rule.Params["min_expr"]; !hasExpr {
		t.Fatalf("expected an expression-based bound for low-skew data, got %v", rule.Params)
	}
}

func TestProposeRangeRuleUsesIQRForSkewedData(t *testing.T) {
	col := model.ProfileColumn{Name: "value", Stats: map[string]any{
		"mean": 1.0, "stddev": 5.0, "p25": 0.5, "p75": 2.0,
	}}
	rule, ok := proposeRangeRule("t", col)
	if !ok {
		t.Fatal("expected a RANGE proposal")
	}
	if _, hasLiteral := rule.Params["min"]; !hasLiteral {
		t.Fatalf("expected literal IQR-based bounds for skewed data, got %v", rule.Params)
	}
}

package quality

import (
	"math"

	"github.com/r3e-network/ingestion-engine/internal/model"
)

// minRowsForNotNull is the row-count floor below which a column reading
// null_pct=0 is too small a sample to promote into a standing rule.
const minRowsForNotNull = 50

// lowCardinalityRatio below this fraction of distinct/total, a non-key
// column is treated as categorical and gets an ENUM proposal.
const lowCardinalityRatio = 0.05

// skewCoefficientOfVariation above this, a numeric column's distribution is
// treated as skewed and its RANGE proposal widens from µ±4σ to an IQR-based
// band instead.
const skewCoefficientOfVariation = 1.5

// ProposeRules applies the profiler's auto-seeding heuristics to the latest
// snapshot of a table and returns candidate QualityRules, unsaved. The
// caller (the pipeline) persists the ones it accepts via
// store.QualityStore.SaveRule.
func ProposeRules(tableName string, snap model.ProfileSnapshot) []model.QualityRule {
	var proposals []model.QualityRule
	for _, col := range snap.Columns {
		if col.NullPct == 0 && snap.RowCount >= minRowsForNotNull {
			proposals = append(proposals, model.QualityRule{
				TableName: tableName, Column: col.Name, Type: model.RuleNotNull,
				Severity: model.SeverityWarning, AutoSeeded: true,
				Params: map[string]any{"max_null_pct": 0.0},
			})
		}

		if col.CardinalityRatio > 0 && col.CardinalityRatio < lowCardinalityRatio && !looksLikeID(col.Name) {
			if values := topValueStrings(col); len(values) > 0 {
				proposals = append(proposals, model.QualityRule{
					TableName: tableName, Column: col.Name, Type: model.RuleEnum,
					Severity: model.SeverityInfo, AutoSeeded: true,
					Params: map[string]any{"values": values},
				})
			}
		}

		if rule, ok := proposeRangeRule(tableName, col); ok {
			proposals = append(proposals, rule)
		}
	}
	return proposals
}

func proposeRangeRule(tableName string, col model.ProfileColumn) (model.QualityRule, bool) {
	mean, hasMean := col.Stats["mean"].(float64)
	stddev, hasStddev := col.Stats["stddev"].(float64)
	if !hasMean || !hasStddev || stddev == 0 {
		return model.QualityRule{}, false
	}

	params := map[string]any{}
	cv := math.Abs(stddev / mean)
	if mean != 0 && cv > skewCoefficientOfVariation {
		p25, hasP25 := col.Stats["p25"].(float64)
		p75, hasP75 := col.Stats["p75"].(float64)
		if !hasP25 || !hasP75 {
			return model.QualityRule{}, false
		}
		iqr := p75 - p25
		params["min"] = p25 - 6*iqr
		params["max"] = p75 + 6*iqr
	} else {
		params["min_expr"] = "mean - 4*stddev"
		params["max_expr"] = "mean + 4*stddev"
	}

	return model.QualityRule{
		TableName: tableName, Column: col.Name, Type: model.RuleRange,
		Severity: model.SeverityInfo, AutoSeeded: true, Params: params,
	}, true
}

func topValueStrings(col model.ProfileColumn) []string {
	raw, _ := col.Stats["top_values"].([]map[string]any)
	values := make([]string, 0, len(raw))
	for _, v := range raw {
		if s, ok := v["value"].(string); ok {
			values = append(values, s)
		}
	}
	return values
}

// looksLikeID excludes columns that are low-cardinality only because
// they're effectively unique identifiers truncated by a small sample, not
// genuine categorical columns.
func looksLikeID(name string) bool {
	for _, suffix := range []string{"_id", "id", "_key", "_uuid"} {
		if len(name) >= len(suffix) && name[len(name)-len(suffix):] == suffix {
			return true
		}
	}
	return false
}

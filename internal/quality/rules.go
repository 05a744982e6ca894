package quality

import (
	"context"
	"database/sql"
	"fmt"
	"regexp"
	"time"

	"github.com/PaesslerAG/gval"
	"github.com/jmoiron/sqlx"

	"github.com/r3e-network/ingestion-engine/internal/ingesterr"
	"github.com/r3e-network/ingestion-engine/internal/model"
)

// Evaluator runs declarative QualityRules against a table, using the
// latest ProfileSnapshot where that's sufficient (NOT_NULL, ROW_COUNT, and
// RANGE bounds expressed as arithmetic over the snapshot's stats) and a
// live query where it isn't (ENUM, REGEX, FRESHNESS need the actual rows).
type Evaluator struct {
	db *sqlx.DB
}

// NewEvaluator constructs an Evaluator.
func NewEvaluator(db *sqlx.DB) *Evaluator {
	return &Evaluator{db: db}
}

// Evaluate runs one rule against snap (the table's latest profile) and,
// where the rule type requires it, against live rows in the table.
func (e *Evaluator) Evaluate(ctx context.Context, rule model.QualityRule, snap model.ProfileSnapshot) (model.QualityResult, error) {
	var passed bool
	var details map[string]any
	var err error

	switch rule.Type {
	case model.RuleNotNull:
		passed, details = e.evalNotNull(rule, snap)
	case model.RuleRowCount:
		passed, details = e.evalRowCount(rule, snap)
	case model.RuleRange:
		passed, details, err = e.evalRange(rule, snap)
	case model.RuleEnum:
		passed, details, err = e.evalEnum(ctx, rule)
	case model.RuleRegex:
		passed, details, err = e.evalRegex(ctx, rule)
	case model.RuleFreshness:
		passed, details, err = e.evalFreshness(ctx, rule)
	default:
		err = ingesterr.New(ingesterr.KindConfig, fmt.Sprintf("unknown quality rule type %q", rule.Type))
	}
	if err != nil {
		return model.QualityResult{}, err
	}

	return model.QualityResult{RuleID: rule.ID, TableName: rule.TableName, Passed: passed, Details: details}, nil
}

func columnStats(snap model.ProfileSnapshot, column string) (model.ProfileColumn, bool) {
	for _, c := range snap.Columns {
		if c.Name == column {
			return c, true
		}
	}
	return model.ProfileColumn{}, false
}

func (e *Evaluator) evalNotNull(rule model.QualityRule, snap model.ProfileSnapshot) (bool, map[string]any) {
	maxNullPct, _ := rule.Params["max_null_pct"].(float64)
	col, ok := columnStats(snap, rule.Column)
	if !ok {
		return false, map[string]any{"reason": "column not present in latest profile"}
	}
	passed := col.NullPct <= maxNullPct
	return passed, map[string]any{"null_pct": col.NullPct, "threshold": maxNullPct}
}

func (e *Evaluator) evalRowCount(rule model.QualityRule, snap model.ProfileSnapshot) (bool, map[string]any) {
	min, hasMin := rule.Params["min"].(float64)
	max, hasMax := rule.Params["max"].(float64)
	passed := true
	if hasMin && float64(snap.RowCount) < min {
		passed = false
	}
	if hasMax && float64(snap.RowCount) > max {
		passed = false
	}
	return passed, map[string]any{"row_count": snap.RowCount, "min": min, "max": max}
}

// evalRange supports both literal numeric bounds (params "min"/"max") and
// arithmetic bound expressions over the column's own stats (params
// "min_expr"/"max_expr", e.g. "mean - 4*stddev"), the form the auto-seeder
// proposes for µ±4σ rules.
func (e *Evaluator) evalRange(rule model.QualityRule, snap model.ProfileSnapshot) (bool, map[string]any, error) {
	col, ok := columnStats(snap, rule.Column)
	if !ok {
		return false, map[string]any{"reason": "column not present in latest profile"}, nil
	}
	valMean, _ := col.Stats["mean"].(float64)
	valStddev, _ := col.Stats["stddev"].(float64)
	valMin, _ := col.Stats["min"].(float64)
	valMax, _ := col.Stats["max"].(float64)

	vars := map[string]any{"mean": valMean, "stddev": valStddev}

	lower, err := boundValue(rule.Params, "min", "min_expr", vars)
	if err != nil {
		return false, nil, err
	}
	upper, err := boundValue(rule.Params, "max", "max_expr", vars)
	if err != nil {
		return false, nil, err
	}

	passed := true
	if lower != nil && valMin < *lower {
		passed = false
	}
	if upper != nil && valMax > *upper {
		passed = false
	}
	return passed, map[string]any{"observed_min": valMin, "observed_max": valMax, "lower_bound": lower, "upper_bound": upper}, nil
}

func boundValue(params map[string]any, literalKey, exprKey string, vars map[string]any) (*float64, error) {
	if v, ok := params[literalKey].(float64); ok {
		return &v, nil
	}
	expr, ok := params[exprKey].(string)
	if !ok || expr == "" {
		return nil, nil
	}
	result, err := gval.Evaluate(expr, vars)
	if err != nil {
		return nil, ingesterr.Wrap(ingesterr.KindConfig, fmt.Sprintf("evaluate range bound expression %q", expr), err)
	}
	f, ok := result.(float64)
	if !ok {
		return nil, ingesterr.New(ingesterr.KindConfig, fmt.Sprintf("range bound expression %q did not evaluate to a number", expr))
	}
	return &f, nil
}

func (e *Evaluator) evalEnum(ctx context.Context, rule model.QualityRule) (bool, map[string]any, error) {
	rawValues, _ := rule.Params["values"].([]any)
	if seeded, ok := rule.Params["values"].([]string); ok {
		// A freshly auto-seeded rule carries []string until it round-trips through JSON.
		for _, s := range seeded {
			rawValues = append(rawValues, s)
		}
	}
	if len(rawValues) == 0 {
		return false, nil, ingesterr.New(ingesterr.KindConfig, "ENUM rule requires non-empty params.values")
	}
	values := make([]string, 0, len(rawValues))
	for _, v := range rawValues {
		if s, ok := v.(string); ok {
			values = append(values, s)
		}
	}

	query, args, err := sqlx.In(fmt.Sprintf(
		`SELECT count(*) FROM %s WHERE %s IS NOT NULL AND %s::text NOT IN (?)`,
		rule.TableName, rule.Column, rule.Column,
	), values)
	if err != nil {
		return false, nil, fmt.Errorf("build ENUM query: %w", err)
	}
	query = e.db.Rebind(query)

	var violations int64
	if err := e.db.GetContext(ctx, &violations, query, args...); err != nil {
		return false, nil, fmt.Errorf("evaluate ENUM rule on %s.%s: %w", rule.TableName, rule.Column, err)
	}
	return violations == 0, map[string]any{"violations": violations, "allowed_values": values}, nil
}

func (e *Evaluator) evalRegex(ctx context.Context, rule model.QualityRule) (bool, map[string]any, error) {
	pattern, _ := rule.Params["pattern"].(string)
	re, err := regexp.Compile(pattern)
	if err != nil {
		return false, nil, ingesterr.Wrap(ingesterr.KindConfig, fmt.Sprintf("compile regex %q", pattern), err)
	}

	var values []string
	query := fmt.Sprintf(`SELECT DISTINCT %s::text AS v FROM %s WHERE %s IS NOT NULL`, rule.Column, rule.TableName, rule.Column)
	if err := e.db.SelectContext(ctx, &values, query); err != nil {
		return false, nil, fmt.Errorf("evaluate REGEX rule on %s.%s: %w", rule.TableName, rule.Column, err)
	}

	var violations []string
	for _, v := range values {
		if !re.MatchString(v) {
			violations = append(violations, v)
			if len(violations) >= 10 {
				break
			}
		}
	}
	return len(violations) == 0, map[string]any{"sample_violations": violations}, nil
}

func (e *Evaluator) evalFreshness(ctx context.Context, rule model.QualityRule) (bool, map[string]any, error) {
	maxAgeSeconds, _ := rule.Params["max_age_seconds"].(float64)
	timestampColumn, _ := rule.Params["timestamp_column"].(string)
	if timestampColumn == "" {
		timestampColumn = rule.Column
	}

	var latest sql.NullTime
	query := fmt.Sprintf(`SELECT max(%s) FROM %s`, timestampColumn, rule.TableName)
	if err := e.db.GetContext(ctx, &latest, query); err != nil {
		return false, nil, fmt.Errorf("evaluate FRESHNESS rule on %s.%s: %w", rule.TableName, timestampColumn, err)
	}
	if !latest.Valid {
		return false, map[string]any{"reason": "no rows with a non-null timestamp"}, nil
	}
	age := time.Since(latest.Time)
	passed := age.Seconds() <= maxAgeSeconds
	return passed, map[string]any{"age_seconds": age.Seconds(), "max_age_seconds": maxAgeSeconds}, nil
}

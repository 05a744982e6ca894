// Package quality implements the Quality Pipeline (C9): the Profiler, Rule
// Evaluator (with an auto-seeder), Cross-Source Validator, and Anomaly
// Detector, plus the daily composite score aggregate.
package quality

import (
	"context"
	"fmt"
	"math"
	"strings"

	"github.com/jmoiron/sqlx"

	"github.com/r3e-network/ingestion-engine/internal/model"
	"github.com/r3e-network/ingestion-engine/internal/provision"
)

// numericTypes is the set of provision.ColumnSpec.SQLType values the
// Profiler treats as numeric for min/max/mean/stddev/percentile stats;
// everything else gets the text-oriented stats (top_values, length).
var numericTypes = map[string]bool{
	"NUMERIC": true, "INTEGER": true, "BIGINT": true, "DOUBLE PRECISION": true, "REAL": true,
}

// Profiler computes a ProfileSnapshot for a materialized table by issuing
// aggregate SQL directly against it. Sampling is not a separate code path:
// above SampleThreshold rows the same aggregates run over a TABLESAMPLE
// subset, which Postgres executes far faster than a full scan.
type Profiler struct {
	db              *sqlx.DB
	SampleThreshold int64
}

// NewProfiler constructs a Profiler. A zero SampleThreshold disables
// sampling (always scans the full table).
func NewProfiler(db *sqlx.DB, sampleThreshold int64) *Profiler {
	return &Profiler{db: db, SampleThreshold: sampleThreshold}
}

// Profile computes a fresh ProfileSnapshot for tableName's declared
// columns. It does not persist the result; callers pass it to
// store.QualityStore.SaveSnapshot.
func (p *Profiler) Profile(ctx context.Context, tableName string, columns []provision.ColumnSpec) (model.ProfileSnapshot, error) {
	var rowCount int64
	if err := p.db.GetContext(ctx, &rowCount, fmt.Sprintf(`SELECT count(*) FROM %s`, tableName)); err != nil {
		return model.ProfileSnapshot{}, fmt.Errorf("profile %s: count rows: %w", tableName, err)
	}

	source := tableName
	if p.SampleThreshold > 0 && rowCount > p.SampleThreshold {
		source = fmt.Sprintf("(SELECT * FROM %s TABLESAMPLE SYSTEM (10)) AS sample", tableName)
	}

	snap := model.ProfileSnapshot{TableName: tableName, RowCount: rowCount}
	for _, col := range columns {
		profCol, err := p.profileColumn(ctx, source, col)
		if err != nil {
			return model.ProfileSnapshot{}, err
		}
		snap.Columns = append(snap.Columns, profCol)
	}
	return snap, nil
}

func (p *Profiler) profileColumn(ctx context.Context, source string, col provision.ColumnSpec) (model.ProfileColumn, error) {
	var agg struct {
		NullCount     int64   `db:"null_count"`
		Total         int64   `db:"total"`
		DistinctCount int64   `db:"distinct_count"`
	}
	query := fmt.Sprintf(`
		SELECT count(*) FILTER (WHERE %[1]s IS NULL) AS null_count,
		       count(*) AS total,
		       count(DISTINCT %[1]s) AS distinct_count
		FROM %[2]s
	`, col.Name, source)
	if err := p.db.GetContext(ctx, &agg, query); err != nil {
		return model.ProfileColumn{}, fmt.Errorf("profile column %s: %w", col.Name, err)
	}

	profCol := model.ProfileColumn{Name: col.Name}
	if agg.Total > 0 {
		profCol.NullPct = float64(agg.NullCount) / float64(agg.Total)
		profCol.CardinalityRatio = float64(agg.DistinctCount) / float64(agg.Total)
	}
	profCol.DistinctCount = agg.DistinctCount

	if isNumeric(col.SQLType) {
		stats, err := p.numericStats(ctx, source, col.Name)
		if err != nil {
			return model.ProfileColumn{}, err
		}
		profCol.Stats = stats
	} else {
		stats, err := p.textStats(ctx, source, col.Name)
		if err != nil {
			return model.ProfileColumn{}, err
		}
		profCol.Stats = stats
	}
	return profCol, nil
}

func (p *Profiler) numericStats(ctx context.Context, source, column string) (map[string]any, error) {
	var row struct {
		Min    *float64 `db:"min"`
		Max    *float64 `db:"max"`
		Mean   *float64 `db:"mean"`
		Stddev *float64 `db:"stddev"`
		P25    *float64 `db:"p25"`
		Median *float64 `db:"median"`
		P75    *float64 `db:"p75"`
	}
	query := fmt.Sprintf(`
		SELECT min(%[1]s)::float8 AS min, max(%[1]s)::float8 AS max,
		       avg(%[1]s)::float8 AS mean, stddev_pop(%[1]s)::float8 AS stddev,
		       percentile_cont(0.25) WITHIN GROUP (ORDER BY %[1]s) AS p25,
		       percentile_cont(0.5) WITHIN GROUP (ORDER BY %[1]s) AS median,
		       percentile_cont(0.75) WITHIN GROUP (ORDER BY %[1]s) AS p75
		FROM %[2]s
	`, column, source)
	if err := p.db.GetContext(ctx, &row, query); err != nil {
		return nil, fmt.Errorf("numeric stats for %s: %w", column, err)
	}
	stats := map[string]any{}
	setIfNotNil(stats, "min", row.Min)
	setIfNotNil(stats, "max", row.Max)
	setIfNotNil(stats, "mean", row.Mean)
	setIfNotNil(stats, "stddev", row.Stddev)
	setIfNotNil(stats, "p25", row.P25)
	setIfNotNil(stats, "median", row.Median)
	setIfNotNil(stats, "p75", row.P75)
	return stats, nil
}

func (p *Profiler) textStats(ctx context.Context, source, column string) (map[string]any, error) {
	type topValue struct {
		Value string `db:"value"`
		Count int64  `db:"count"`
	}
	var top []topValue
	query := fmt.Sprintf(`
		SELECT %[1]s::text AS value, count(*) AS count
		FROM %[2]s
		WHERE %[1]s IS NOT NULL
		GROUP BY %[1]s
		ORDER BY count(*) DESC
		LIMIT 5
	`, column, source)
	if err := p.db.SelectContext(ctx, &top, query); err != nil {
		return nil, fmt.Errorf("top values for %s: %w", column, err)
	}

	var lengths struct {
		MinLen *float64 `db:"min_len"`
		MaxLen *float64 `db:"max_len"`
		AvgLen *float64 `db:"avg_len"`
	}
	lenQuery := fmt.Sprintf(`
		SELECT min(length(%[1]s::text))::float8 AS min_len,
		       max(length(%[1]s::text))::float8 AS max_len,
		       avg(length(%[1]s::text))::float8 AS avg_len
		FROM %[2]s WHERE %[1]s IS NOT NULL
	`, column, source)
	if err := p.db.GetContext(ctx, &lengths, lenQuery); err != nil {
		return nil, fmt.Errorf("length stats for %s: %w", column, err)
	}

	topValues := make([]map[string]any, 0, len(top))
	for _, t := range top {
		topValues = append(topValues, map[string]any{"value": t.Value, "count": t.Count})
	}

	stats := map[string]any{"top_values": topValues}
	setIfNotNil(stats, "min_length", lengths.MinLen)
	setIfNotNil(stats, "max_length", lengths.MaxLen)
	setIfNotNil(stats, "avg_length", lengths.AvgLen)
	return stats, nil
}

func setIfNotNil(m map[string]any, key string, v *float64) {
	if v != nil && !math.IsNaN(*v) {
		m[key] = *v
	}
}

func isNumeric(sqlType string) bool {
	return numericTypes[strings.ToUpper(sqlType)]
}

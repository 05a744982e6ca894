package store

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/r3e-network/ingestion-engine/internal/model"
)

// QualityStore persists the Quality Pipeline's profiles, rules, results,
// and anomaly alerts.
type QualityStore struct {
	db *sqlx.DB
}

// NewQualityStore constructs a QualityStore over db.
func NewQualityStore(db *sqlx.DB) *QualityStore {
	return &QualityStore{db: db}
}

// SaveSnapshot persists a new, immutable ProfileSnapshot.
func (s *QualityStore) SaveSnapshot(ctx context.Context, snap model.ProfileSnapshot) (model.ProfileSnapshot, error) {
	id := uuid.NewString()
	now := time.Now().UTC()
	cols := make([]map[string]any, 0, len(snap.Columns))
	for _, c := range snap.Columns {
		cols = append(cols, map[string]any{
			"name": c.Name, "null_pct": c.NullPct, "distinct_count": c.DistinctCount,
			"cardinality_ratio": c.CardinalityRatio, "stats": c.Stats,
		})
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO profile_snapshots (id, table_name, row_count, columns, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`, id, snap.TableName, snap.RowCount, JSONMap{"columns": cols}, now)
	if err != nil {
		return model.ProfileSnapshot{}, fmt.Errorf("save profile snapshot for %s: %w", snap.TableName, err)
	}
	snap.ID = id
	snap.CreatedAt = now
	return snap, nil
}

type snapshotRow struct {
	ID        string    `db:"id"`
	TableName string    `db:"table_name"`
	RowCount  int64     `db:"row_count"`
	Columns   JSONMap   `db:"columns"`
	CreatedAt time.Time `db:"created_at"`
}

func (r snapshotRow) toModel() model.ProfileSnapshot {
	snap := model.ProfileSnapshot{ID: r.ID, TableName: r.TableName, RowCount: r.RowCount, CreatedAt: r.CreatedAt}
	rawCols, _ := r.Columns["columns"].([]any)
	for _, rc := range rawCols {
		m, ok := rc.(map[string]any)
		if !ok {
			continue
		}
		col := model.ProfileColumn{}
		if v, ok := m["name"].(string); ok {
			col.Name = v
		}
		if v, ok := m["null_pct"].(float64); ok {
			col.NullPct = v
		}
		if v, ok := m["distinct_count"].(float64); ok {
			col.DistinctCount = int64(v)
		}
		if v, ok := m["cardinality_ratio"].(float64); ok {
			col.CardinalityRatio = v
		}
		if v, ok := m["stats"].(map[string]any); ok {
			col.Stats = v
		}
		snap.Columns = append(snap.Columns, col)
	}
	return snap
}

// RecentSnapshots returns the latest n snapshots for a table, newest first;
// the Anomaly Detector requires at least 3 to compute drift.
func (s *QualityStore) RecentSnapshots(ctx context.Context, tableName string, n int) ([]model.ProfileSnapshot, error) {
	var rows []snapshotRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT * FROM profile_snapshots WHERE table_name = $1 ORDER BY created_at DESC LIMIT $2
	`, tableName, n)
	if err != nil {
		return nil, fmt.Errorf("list profile snapshots for %s: %w", tableName, err)
	}
	out := make([]model.ProfileSnapshot, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.toModel())
	}
	return out, nil
}

// SaveRule persists a QualityRule, whether hand-authored or auto-seeded.
func (s *QualityStore) SaveRule(ctx context.Context, rule model.QualityRule) (model.QualityRule, error) {
	id := uuid.NewString()
	now := time.Now().UTC()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO quality_rules (id, table_name, column_name, type, severity, params, auto_seeded, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, id, rule.TableName, rule.Column, rule.Type, rule.Severity, JSONMap(rule.Params), rule.AutoSeeded, now)
	if err != nil {
		return model.QualityRule{}, fmt.Errorf("save quality rule for %s: %w", rule.TableName, err)
	}
	rule.ID = id
	rule.CreatedAt = now
	return rule, nil
}

type ruleRow struct {
	ID         string    `db:"id"`
	TableName  string    `db:"table_name"`
	Column     string    `db:"column_name"`
	Type       string    `db:"type"`
	Severity   string    `db:"severity"`
	Params     JSONMap   `db:"params"`
	AutoSeeded bool      `db:"auto_seeded"`
	CreatedAt  time.Time `db:"created_at"`
}

func (r ruleRow) toModel() model.QualityRule {
	return model.QualityRule{
		ID: r.ID, TableName: r.TableName, Column: r.Column, Type: model.RuleType(r.Type),
		Severity: model.Severity(r.Severity), Params: map[string]any(r.Params),
		AutoSeeded: r.AutoSeeded, CreatedAt: r.CreatedAt,
	}
}

// RulesForTable returns every declared rule for a table.
func (s *QualityStore) RulesForTable(ctx context.Context, tableName string) ([]model.QualityRule, error) {
	var rows []ruleRow
	err := s.db.SelectContext(ctx, &rows, `SELECT * FROM quality_rules WHERE table_name = $1`, tableName)
	if err != nil {
		return nil, fmt.Errorf("list quality rules for %s: %w", tableName, err)
	}
	out := make([]model.QualityRule, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.toModel())
	}
	return out, nil
}

// SaveResult records one QualityRule evaluation outcome.
func (s *QualityStore) SaveResult(ctx context.Context, result model.QualityResult) (model.QualityResult, error) {
	id := uuid.NewString()
	now := time.Now().UTC()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO quality_results (id, rule_id, table_name, passed, details, run_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, id, result.RuleID, result.TableName, result.Passed, JSONMap(result.Details), now)
	if err != nil {
		return model.QualityResult{}, fmt.Errorf("save quality result for rule %s: %w", result.RuleID, err)
	}
	result.ID = id
	result.RunAt = now
	return result, nil
}

// SaveAlert records a new open AnomalyAlert.
func (s *QualityStore) SaveAlert(ctx context.Context, alert model.AnomalyAlert) (model.AnomalyAlert, error) {
	id := uuid.NewString()
	now := time.Now().UTC()
	if alert.Status == "" {
		alert.Status = model.AnomalyOpen
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO anomaly_alerts (id, table_name, type, status, details, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $6)
	`, id, alert.TableName, alert.Type, alert.Status, JSONMap(alert.Details), now)
	if err != nil {
		return model.AnomalyAlert{}, fmt.Errorf("save anomaly alert for %s: %w", alert.TableName, err)
	}
	alert.ID = id
	alert.CreatedAt = now
	alert.UpdatedAt = now
	return alert, nil
}

type alertRow struct {
	ID        string    `db:"id"`
	TableName string    `db:"table_name"`
	Type      string    `db:"type"`
	Status    string    `db:"status"`
	Details   JSONMap   `db:"details"`
	CreatedAt time.Time `db:"created_at"`
	UpdatedAt time.Time `db:"updated_at"`
}

func (r alertRow) toModel() model.AnomalyAlert {
	return model.AnomalyAlert{
		ID: r.ID, TableName: r.TableName, Type: r.Type, Status: model.AnomalyStatus(r.Status),
		Details: map[string]any(r.Details), CreatedAt: r.CreatedAt, UpdatedAt: r.UpdatedAt,
	}
}

// OpenAlerts returns alerts with status=open for a table, for dashboard
// reporting and the open_anomalies metric.
func (s *QualityStore) OpenAlerts(ctx context.Context, tableName string) ([]model.AnomalyAlert, error) {
	var rows []alertRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT * FROM anomaly_alerts WHERE table_name = $1 AND status = $2 ORDER BY created_at DESC
	`, tableName, model.AnomalyOpen)
	if err != nil {
		return nil, fmt.Errorf("list open alerts for %s: %w", tableName, err)
	}
	out := make([]model.AnomalyAlert, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.toModel())
	}
	return out, nil
}

// AllOpenAlerts returns every open alert across all tables, for the
// monitoring dashboard's active-alerts panel.
func (s *QualityStore) AllOpenAlerts(ctx context.Context) ([]model.AnomalyAlert, error) {
	var rows []alertRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT * FROM anomaly_alerts WHERE status = $1 ORDER BY created_at DESC
	`, model.AnomalyOpen)
	if err != nil {
		return nil, fmt.Errorf("list all open alerts: %w", err)
	}
	out := make([]model.AnomalyAlert, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.toModel())
	}
	return out, nil
}

// SaveDailyScore upserts the composite quality score for a table/day.
func (s *QualityStore) SaveDailyScore(ctx context.Context, tableName string, day time.Time, completeness, freshness, validity, consistency float64) error {
	composite := model.CompositeScore(completeness, freshness, validity, consistency)
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO quality_score_daily (table_name, score_date, completeness, freshness, validity, consistency, composite)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (table_name, score_date) DO UPDATE SET
			completeness = EXCLUDED.completeness, freshness = EXCLUDED.freshness,
			validity = EXCLUDED.validity, consistency = EXCLUDED.consistency, composite = EXCLUDED.composite
	`, tableName, day.UTC().Format("2006-01-02"), completeness, freshness, validity, consistency, composite)
	if err != nil {
		return fmt.Errorf("save daily quality score for %s: %w", tableName, err)
	}
	return nil
}

package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/r3e-network/ingestion-engine/internal/model"
	"github.com/r3e-network/ingestion-engine/pkg/storage/postgres"
)

// ScheduleStore persists IngestionSchedule records consumed by the cron
// dispatcher.
type ScheduleStore struct {
	db *sqlx.DB
}

// NewScheduleStore constructs a ScheduleStore over db.
func NewScheduleStore(db *sqlx.DB) *ScheduleStore {
	return &ScheduleStore{db: db}
}

type scheduleRow struct {
	ID          string         `db:"id"`
	Name        string         `db:"name"`
	Source      string         `db:"source"`
	Config      JSONMap        `db:"config"`
	Frequency   string         `db:"frequency"`
	CronExpr    sql.NullString `db:"cron_expression"`
	Hour        sql.NullInt64  `db:"hour"`
	DayOfMonth  sql.NullInt64  `db:"day_of_month"`
	IsActive    bool           `db:"is_active"`
	LastRunAt   sql.NullTime   `db:"last_run_at"`
	NextRunAt   sql.NullTime   `db:"next_run_at"`
	LastJobID   sql.NullString `db:"last_job_id"`
	CreatedAt   time.Time      `db:"created_at"`
	UpdatedAt   time.Time      `db:"updated_at"`
}

func (r scheduleRow) toModel() model.IngestionSchedule {
	var dayPtr *int
	if r.DayOfMonth.Valid {
		v := int(r.DayOfMonth.Int64)
		dayPtr = &v
	}
	var hourPtr *int
	if r.Hour.Valid {
		v := int(r.Hour.Int64)
		hourPtr = &v
	}
	s := model.IngestionSchedule{
		ID:        r.ID,
		Source:    r.Source,
		Frequency: model.ScheduleFrequency(r.Frequency),
		CronExpr:  r.CronExpr.String,
		Hour:      hourPtr,
		Day:       dayPtr,
		IsActive:  r.IsActive,
		Config:    map[string]any(r.Config),
		CreatedAt: r.CreatedAt,
		UpdatedAt: r.UpdatedAt,
	}
	var next time.Time
	if r.NextRunAt.Valid {
		next = r.NextRunAt.Time
	}
	s.NextRunAt = next
	s.LastRunAt = postgres.NullTimeToPtr(r.LastRunAt)
	s.LastJobID = postgres.NullStringToPtr(r.LastJobID)
	return s
}

// Create inserts a new schedule.
func (s *ScheduleStore) Create(ctx context.Context, sched model.IngestionSchedule) (model.IngestionSchedule, error) {
	id := uuid.NewString()
	now := time.Now().UTC()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO ingestion_schedules (id, name, source, config, frequency, cron_expression, hour, day_of_month, is_active, next_run_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $11)
	`, id, fmt.Sprintf("%s-%s", sched.Source, id[:8]), sched.Source, JSONMap(sched.Config), sched.Frequency,
		nullableString(sched.CronExpr), nullableInt(sched.Hour), nullableInt(sched.Day), sched.IsActive, sched.NextRunAt, now)
	if err != nil {
		return model.IngestionSchedule{}, fmt.Errorf("create schedule: %w", err)
	}
	return s.Get(ctx, id)
}

// Get fetches a schedule by id.
func (s *ScheduleStore) Get(ctx context.Context, id string) (model.IngestionSchedule, error) {
	var row scheduleRow
	err := s.db.GetContext(ctx, &row, `SELECT * FROM ingestion_schedules WHERE id = $1`, id)
	if err != nil {
		return model.IngestionSchedule{}, fmt.Errorf("get schedule %s: %w", id, err)
	}
	return row.toModel(), nil
}

// Active returns every schedule with is_active = true, ordered by next_run_at.
func (s *ScheduleStore) Active(ctx context.Context) ([]model.IngestionSchedule, error) {
	var rows []scheduleRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT * FROM ingestion_schedules WHERE is_active = true ORDER BY next_run_at NULLS FIRST
	`)
	if err != nil {
		return nil, fmt.Errorf("list active schedules: %w", err)
	}
	out := make([]model.IngestionSchedule, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.toModel())
	}
	return out, nil
}

// RecordRun stamps a schedule's last_run_at/last_job_id and advances
// next_run_at after the dispatcher fires it.
func (s *ScheduleStore) RecordRun(ctx context.Context, id string, jobID string, nextRun time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE ingestion_schedules
		SET last_run_at = now(), last_job_id = $1, next_run_at = $2, updated_at = now()
		WHERE id = $3
	`, jobID, nextRun, id)
	if err != nil {
		return fmt.Errorf("record schedule run for %s: %w", id, err)
	}
	return nil
}

func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullableInt(p *int) any {
	if p == nil {
		return nil
	}
	return *p
}

// Package store provides sqlx-backed persistence for every core entity the
// engine tracks: jobs, the dataset registry, schedules, job dependencies,
// and the quality subsystem's tables.
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

// JobStore persists IngestionJob records. Status transitions happen through
// dedicated methods rather than a generic Update so every mutation keeps the
// started_at/completed_at invariants from spec §3 intact.
type JobStore struct {
	db *sqlx.DB
}

// NewJobStore constructs a JobStore over db.
func NewJobStore(db *sqlx.DB) *JobStore {
	return &JobStore{db: db}
}

type jobRow struct {
	ID           string         `db:"id"`
	Source       string         `db:"source"`
	Status       string         `db:"status"`
	Config       JSONMap        `db:"config"`
	CreatedAt    time.Time      `db:"created_at"`
	StartedAt    sql.NullTime   `db:"started_at"`
	CompletedAt  sql.NullTime   `db:"completed_at"`
	RowsInserted sql.NullInt64  `db:"rows_inserted"`
	ErrorMessage sql.NullString `db:"error_message"`
	ErrorDetails JSONMap        `db:"error_details"`
	RetryCount   int            `db:"retry_count"`
	MaxRetries   int            `db:"max_retries"`
	NextRetryAt  sql.NullTime   `db:"next_retry_at"`
	ParentJobID  sql.NullString `db:"parent_job_id"`
}

func (r jobRow) toModel() model.IngestionJob {
	job := model.IngestionJob{
		ID:         r.ID,
		Source:     r.Source,
		Status:     model.JobStatus(r.Status),
		Config:     map[string]any(r.Config),
		CreatedAt:  r.CreatedAt,
		RetryCount: r.RetryCount,
		MaxRetries: r.MaxRetries,
	}
	job.StartedAt = postgres.NullTimeToPtr(r.StartedAt)
	job.CompletedAt = postgres.NullTimeToPtr(r.CompletedAt)
	job.RowsInserted = postgres.NullInt64ToPtr(r.RowsInserted)
	job.ErrorMessage = postgres.NullStringToPtr(r.ErrorMessage)
	job.ErrorDetails = map[string]any(r.ErrorDetails)
	job.NextRetryAt = postgres.NullTimeToPtr(r.NextRetryAt)
	job.ParentJobID = postgres.NullStringToPtr(r.ParentJobID)
	return job
}

// Create inserts a new PENDING job and returns it with its generated id.
func (s *JobStore) Create(ctx context.Context, source string, config map[string]any, maxRetries int) (model.IngestionJob, error) {
	return s.create(ctx, source, config, maxRetries, model.JobPending)
}

// CreateBlocked inserts a new job in BLOCKED status, for a chain's
// downstream jobs that must wait for their upstream dependency's outcome
// before the Dependency Engine releases them to PENDING.
func (s *JobStore) CreateBlocked(ctx context.Context, source string, config map[string]any, maxRetries int) (model.IngestionJob, error) {
	return s.create(ctx, source, config, maxRetries, model.JobBlocked)
}

func (s *JobStore) create(ctx context.Context, source string, config map[string]any, maxRetries int, status model.JobStatus) (model.IngestionJob, error) {
	if maxRetries <= 0 {
		maxRetries = 3
	}
	id := uuid.NewString()
	now := time.Now().UTC()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO ingestion_jobs (id, source, status, config, created_at, retry_count, max_retries)
		VALUES ($1, $2, $3, $4, $5, 0, $6)
	`, id, source, status, JSONMap(config), now, maxRetries)
	if err != nil {
		return model.IngestionJob{}, fmt.Errorf("create job: %w", err)
	}
	return s.Get(ctx, id)
}

// Release transitions a BLOCKED job to PENDING, making it eligible for the
// Job Runner once the Dependency Engine determines all of its upstream
// dependencies are satisfied.
func (s *JobStore) Release(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE ingestion_jobs SET status = $1 WHERE id = $2 AND status = $3
	`, model.JobPending, id, model.JobBlocked)
	if err != nil {
		return fmt.Errorf("release job %s: %w", id, err)
	}
	return nil
}

// CreateChild inserts a retry job linked to its parent, per retry_service.py's
// create_retry_job: same config, retry_count = parent.retry_count+1.
func (s *JobStore) CreateChild(ctx context.Context, parent model.IngestionJob) (model.IngestionJob, error) {
	id := uuid.NewString()
	now := time.Now().UTC()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO ingestion_jobs (id, source, status, config, created_at, retry_count, max_retries, parent_job_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, id, parent.Source, model.JobPending, JSONMap(parent.Config), now, parent.RetryCount+1, parent.MaxRetries, parent.ID)
	if err != nil {
		return model.IngestionJob{}, fmt.Errorf("create child job: %w", err)
	}
	return s.Get(ctx, id)
}

// Get fetches a job by id.
func (s *JobStore) Get(ctx context.Context, id string) (model.IngestionJob, error) {
	var row jobRow
	err := s.db.GetContext(ctx, &row, `SELECT * FROM ingestion_jobs WHERE id = $1`, id)
	if err != nil {
		return model.IngestionJob{}, fmt.Errorf("get job %s: %w", id, err)
	}
	return row.toModel(), nil
}

// Start transitions a job to RUNNING and stamps started_at.
func (s *JobStore) Start(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE ingestion_jobs SET status = $1, started_at = now() WHERE id = $2
	`, model.JobRunning, id)
	if err != nil {
		return fmt.Errorf("start job %s: %w", id, err)
	}
	return nil
}

// Complete transitions a job to SUCCESS, recording rows inserted.
func (s *JobStore) Complete(ctx context.Context, id string, rowsInserted int64) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE ingestion_jobs
		SET status = $1, completed_at = now(), rows_inserted = $2
		WHERE id = $3
	`, model.JobSuccess, rowsInserted, id)
	if err != nil {
		return fmt.Errorf("complete job %s: %w", id, err)
	}
	return nil
}

// Fail transitions a job to FAILED, recording the error.
func (s *JobStore) Fail(ctx context.Context, id string, message string, details map[string]any) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE ingestion_jobs
		SET status = $1, completed_at = now(), error_message = $2, error_details = $3
		WHERE id = $4
	`, model.JobFailed, message, JSONMap(details), id)
	if err != nil {
		return fmt.Errorf("fail job %s: %w", id, err)
	}
	return nil
}

// ScheduleRetry sets next_retry_at without changing status, used by the
// Retry Scheduler's scheduled (non-immediate) path.
func (s *JobStore) ScheduleRetry(ctx context.Context, id string, at time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE ingestion_jobs SET next_retry_at = $1 WHERE id = $2
	`, at, id)
	if err != nil {
		return fmt.Errorf("schedule retry for job %s: %w", id, err)
	}
	return nil
}

// ResetForImmediateRetry implements retry_service.py's
// mark_job_for_immediate_retry: resets the job back to PENDING in place.
func (s *JobStore) ResetForImmediateRetry(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE ingestion_jobs
		SET status = $1, retry_count = retry_count + 1, started_at = NULL,
		    completed_at = NULL, error_message = NULL, error_details = NULL, next_retry_at = NULL
		WHERE id = $2
	`, model.JobPending, id)
	if err != nil {
		return fmt.Errorf("reset job %s for immediate retry: %w", id, err)
	}
	return nil
}

// IncrementRetryCount bumps retry_count and clears next_retry_at on the
// original job, mirroring create_retry_job's bookkeeping on the parent.
func (s *JobStore) IncrementRetryCount(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE ingestion_jobs SET retry_count = retry_count + 1, next_retry_at = NULL WHERE id = $1
	`, id)
	if err != nil {
		return fmt.Errorf("increment retry count for job %s: %w", id, err)
	}
	return nil
}

// DueForRetry returns FAILED jobs under their retry budget whose
// next_retry_at has passed (or is unset), newest first, capped at limit.
func (s *JobStore) DueForRetry(ctx context.Context, limit int) ([]model.IngestionJob, error) {
	var rows []jobRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT * FROM ingestion_jobs
		WHERE status = $1 AND retry_count < max_retries
		  AND (next_retry_at IS NULL OR next_retry_at <= now())
		ORDER BY created_at DESC
		LIMIT $2
	`, model.JobFailed, limit)
	if err != nil {
		return nil, fmt.Errorf("list retryable jobs: %w", err)
	}
	out := make([]model.IngestionJob, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.toModel())
	}
	return out, nil
}

// SourceStatusCount is one (source, status) tally over a reporting window,
// for the monitoring dashboard.
type SourceStatusCount struct {
	Source string `db:"source"`
	Status string `db:"status"`
	Count  int64  `db:"count"`
}

// CountsSince aggregates job counts by source and status for every job
// created at or after since, for the monitoring dashboard's 24h/1h windows.
func (s *JobStore) CountsSince(ctx context.Context, since time.Time) ([]SourceStatusCount, error) {
	var rows []SourceStatusCount
	err := s.db.SelectContext(ctx, &rows, `
		SELECT source, status, count(*) AS count
		FROM ingestion_jobs
		WHERE created_at >= $1
		GROUP BY source, status
		ORDER BY source, status
	`, since)
	if err != nil {
		return nil, fmt.Errorf("count jobs since %s: %w", since, err)
	}
	return rows, nil
}

// ListBySource returns the most recent jobs for a source, for the
// monitoring dashboard and source-health reporting.
func (s *JobStore) ListBySource(ctx context.Context, source string, limit int) ([]model.IngestionJob, error) {
	var rows []jobRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT * FROM ingestion_jobs WHERE source = $1 ORDER BY created_at DESC LIMIT $2
	`, source, limit)
	if err != nil {
		return nil, fmt.Errorf("list jobs for source %s: %w", source, err)
	}
	out := make([]model.IngestionJob, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.toModel())
	}
	return out, nil
}

package store

import (
	"context"
	"database/sql/driver"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/r3e-network/ingestion-engine/internal/model"
)

// generatedID matches any well-formed UUID: Create generates the new job's
// id itself, so the follow-up SELECT is checked for that shape.
type generatedID struct{}

func (generatedID) Match(v driver.Value) bool {
	s, ok := v.(string)
	if !ok {
		return false
	}
	_, err := uuid.Parse(s)
	return err == nil
}

func newMockStore(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock) {
	t.Helper()
	mockDB, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock new: %v", err)
	}
	t.Cleanup(func() { mockDB.Close() })
	return sqlx.NewDb(mockDB, "postgres"), mock
}

func TestJobStoreCreateInsertsPendingJob(t *testing.T) {
	db, mock := newMockStore(t)
	store := NewJobStore(db)

	mock.ExpectExec("INSERT INTO ingestion_jobs").
		WillReturnResult(sqlmock.NewResult(1, 1))

	now := time.Now().UTC()
	rows := sqlmock.NewRows([]string{
		"id", "source", "status", "config", "created_at", "started_at", "completed_at",
		"rows_inserted", "error_message", "error_details", "retry_count", "max_retries",
		"next_retry_at", "parent_job_id",
	}).AddRow("job-1", "eia", "PENDING", []byte(`{"route":"pet"}`), now, nil, nil, nil, nil, nil, 0, 3, nil, nil)
	mock.ExpectQuery("SELECT \\* FROM ingestion_jobs WHERE id = \\$1").
		WithArgs(generatedID{}).
		WillReturnRows(rows)

	job, err := store.Create(context.Background(), "eia", map[string]any{"route": "pet"}, 3)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if job.Status != model.JobPending {
		t.Fatalf("expected PENDING, got %s", job.Status)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestJobStoreFailRecordsErrorDetails(t *testing.T) {
	db, mock := newMockStore(t)
	store := NewJobStore(db)

	mock.ExpectExec("UPDATE ingestion_jobs").
		WithArgs("FAILED", "boom", sqlmock.AnyArg(), "job-1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := store.Fail(context.Background(), "job-1", "boom", map[string]any{"kind": "parse_error"})
	if err != nil {
		t.Fatalf("fail: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestJobStoreDueForRetryFiltersOnStatusAndBudget(t *testing.T) {
	db, mock := newMockStore(t)
	store := NewJobStore(db)

	now := time.Now().UTC()
	rows := sqlmock.NewRows([]string{
		"id", "source", "status", "config", "created_at", "started_at", "completed_at",
		"rows_inserted", "error_message", "error_details", "retry_count", "max_retries",
		"next_retry_at", "parent_job_id",
	}).AddRow("job-2", "fred", "FAILED", []byte(`{}`), now, nil, now, nil, "timeout", []byte(`{}`), 1, 3, nil, nil)

	mock.ExpectQuery("SELECT \\* FROM ingestion_jobs").
		WithArgs("FAILED", 10).
		WillReturnRows(rows)

	jobs, err := store.DueForRetry(context.Background(), 10)
	if err != nil {
		t.Fatalf("due for retry: %v", err)
	}
	if len(jobs) != 1 || jobs[0].RetryCount != 1 {
		t.Fatalf("unexpected jobs: %+v", jobs)
	}
}

package chain

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"

	"github.com/r3e-network/ingestion-engine/internal/model"
	"github.com/r3e-network/ingestion-engine/internal/store"
)

func TestDetectCycleFindsDirectCycle(t *testing.T) {
	edges := []Edge{
		{Upstream: "a", Downstream: "b", Condition: model.OnSuccess},
		{Upstream: "b", Downstream: "c", Condition: model.OnSuccess},
		{Upstream: "c", Downstream: "a", Condition: model.OnSuccess},
	}
	if cycle := DetectCycle(nil, edges); cycle == nil {
		t.Fatal("expected a cycle to be detected")
	}
}

func TestDetectCycleAcceptsValidDAG(t *testing.T) {
	edges := []Edge{
		{Upstream: "a", Downstream: "b", Condition: model.OnSuccess},
		{Upstream: "a", Downstream: "c", Condition: model.OnFailure},
		{Upstream: "b", Downstream: "d", Condition: model.OnCompletion},
	}
	if cycle := DetectCycle(nil, edges); cycle != nil {
		t.Fatalf("expected no cycle, got %v", cycle)
	}
}

func TestConditionMet(t *testing.T) {
	cases := []struct {
		cond   model.DependencyCondition
		status model.JobStatus
		want   bool
	}{
		{model.OnSuccess, model.JobSuccess, true},
		{model.OnSuccess, model.JobFailed, false},
		{model.OnFailure, model.JobFailed, true},
		{model.OnFailure, model.JobSuccess, false},
		{model.OnCompletion, model.JobSuccess, true},
		{model.OnCompletion, model.JobFailed, true},
	}
	for _, c := range cases {
		if got := conditionMet(c.cond, c.status); got != c.want {
			t.Errorf("conditionMet(%s, %s) = %v, want %v", c.cond, c.status, got, c.want)
		}
	}
}

func newMockDB(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock) {
	t.Helper()
	mockDB, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock new: %v", err)
	}
	t.Cleanup(func() { mockDB.Close() })
	return sqlx.NewDb(mockDB, "postgres"), mock
}

func jobRows(id, status string) *sqlmock.Rows {
	return sqlmock.NewRows([]string{
		"id", "source", "status", "config", "created_at", "started_at", "completed_at",
		"rows_inserted", "error_message", "error_details", "retry_count", "max_retries",
		"next_retry_at", "parent_job_id",
	}).AddRow(id, "eia", status, []byte(`{}`), time.Now().UTC(), nil, nil, nil, nil, nil, 0, 3, nil, nil)
}

func TestOnCompletionReleasesDownstreamWhenSingleDependencySatisfied(t *testing.T) {
	db, mock := newMockDB(t)
	chains := store.NewChainStore(db)
	jobs := store.NewJobStore(db)
	e := New(chains, jobs, nil, nil)

	mock.ExpectQuery("SELECT \\* FROM job_dependencies WHERE upstream_job_id").
		WithArgs("job-a").
		WillReturnRows(sqlmock.NewRows([]string{"id", "chain_id", "upstream_job_id", "downstream_job_id", "condition", "created_at"}).
			AddRow("dep-1", "chain-1", "job-a", "job-b", "ON_SUCCESS", time.Now().UTC()))

	mock.ExpectQuery("SELECT \\* FROM job_dependencies WHERE downstream_job_id").
		WithArgs("job-b").
		WillReturnRows(sqlmock.NewRows([]string{"id", "chain_id", "upstream_job_id", "downstream_job_id", "condition", "created_at"}).
			AddRow("dep-1", "chain-1", "job-a", "job-b", "ON_SUCCESS", time.Now().UTC()))

	mock.ExpectQuery("SELECT \\* FROM ingestion_jobs WHERE id = \\$1").
		WithArgs("job-a").
		WillReturnRows(jobRows("job-a", "SUCCESS"))

	mock.ExpectExec("UPDATE ingestion_jobs SET status").
		WithArgs("PENDING", "job-b", "BLOCKED").
		WillReturnResult(sqlmock.NewResult(0, 1))

	e.OnCompletion(context.Background(), "job-a", model.JobSuccess)

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestOnCompletionDoesNotReleaseWhenAnotherUpstreamStillPending(t *testing.T) {
	db, mock := newMockDB(t)
	chains := store.NewChainStore(db)
	jobs := store.NewJobStore(db)
	e := New(chains, jobs, nil, nil)

	mock.ExpectQuery("SELECT \\* FROM job_dependencies WHERE upstream_job_id").
		WithArgs("job-a").
		WillReturnRows(sqlmock.NewRows([]string{"id", "chain_id", "upstream_job_id", "downstream_job_id", "condition", "created_at"}).
			AddRow("dep-1", "chain-1", "job-a", "job-c", "ON_SUCCESS", time.Now().UTC()))

	mock.ExpectQuery("SELECT \\* FROM job_dependencies WHERE downstream_job_id").
		WithArgs("job-c").
		WillReturnRows(sqlmock.NewRows([]string{"id", "chain_id", "upstream_job_id", "downstream_job_id", "condition", "created_at"}).
			AddRow("dep-1", "chain-1", "job-a", "job-c", "ON_SUCCESS", time.Now().UTC()).
			AddRow("dep-2", "chain-1", "job-b", "job-c", "ON_SUCCESS", time.Now().UTC()))

	mock.ExpectQuery("SELECT \\* FROM ingestion_jobs WHERE id = \\$1").
		WithArgs("job-a").
		WillReturnRows(jobRows("job-a", "SUCCESS"))

	mock.ExpectQuery("SELECT \\* FROM ingestion_jobs WHERE id = \\$1").
		WithArgs("job-b").
		WillReturnRows(jobRows("job-b", "RUNNING"))

	// No UPDATE expected: job-b hasn't reached a terminal state yet.
	e.OnCompletion(context.Background(), "job-a", model.JobSuccess)

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

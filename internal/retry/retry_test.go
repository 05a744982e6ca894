package retry

import (
	"context"
	"database/sql/driver"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/r3e-network/ingestion-engine/internal/store"
)

// generatedID matches any well-formed UUID: CreateChild generates the child
// job's id itself, so the follow-up SELECT is checked for that shape.
type generatedID struct{}

func (generatedID) Match(v driver.Value) bool {
	s, ok := v.(string)
	if !ok {
		return false
	}
	_, err := uuid.Parse(s)
	return err == nil
}

func newMockStore(t *testing.T) (*store.JobStore, sqlmock.Sqlmock) {
	t.Helper()
	mockDB, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock new: %v", err)
	}
	t.Cleanup(func() { mockDB.Close() })
	db := sqlx.NewDb(mockDB, "postgres")
	return store.NewJobStore(db), mock
}

type fakeDispatcher struct {
	ran []string
	err error
}

func (f *fakeDispatcher) Run(_ context.Context, jobID string) error {
	f.ran = append(f.ran, jobID)
	return f.err
}

func TestPolicyDelayGrowsAndCapsAtMax(t *testing.T) {
	p := Policy{Base: time.Minute, Factor: 2.0, Max: 10 * time.Minute, Floor: time.Second}
	d0 := p.Delay(0)
	if d0 < 45*time.Second || d0 > 75*time.Second {
		t.Fatalf("expected first delay near 1 minute with jitter, got %v", d0)
	}
	d5 := p.Delay(5)
	if d5 > 13*time.Minute {
		t.Fatalf("expected delay capped near Max with jitter, got %v", d5)
	}
}

func TestPolicyDelayNeverBelowFloor(t *testing.T) {
	p := Policy{Base: time.Millisecond, Factor: 2.0, Max: time.Second, Floor: time.Minute}
	d := p.Delay(0)
	if d < time.Minute {
		t.Fatalf("expected delay floored at 1 minute, got %v", d)
	}
}

func TestRunImmediateResetsThenDispatches(t *testing.T) {
	jobs, mock := newMockStore(t)
	mock.ExpectExec("UPDATE ingestion_jobs").WillReturnResult(sqlmock.NewResult(0, 1))

	dispatcher := &fakeDispatcher{}
	s := New(jobs, dispatcher, DefaultPolicy(), nil)

	if err := s.RunImmediate(context.Background(), "job-1"); err != nil {
		t.Fatalf("run immediate: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
	if len(dispatcher.ran) != 1 || dispatcher.ran[0] != "job-1" {
		t.Fatalf("expected dispatcher to run job-1, got %v", dispatcher.ran)
	}
}

func TestTickSkipsDispatchErrorsAndContinues(t *testing.T) {
	jobs, mock := newMockStore(t)

	rows := sqlmock.NewRows([]string{
		"id", "source", "status", "config", "created_at", "started_at", "completed_at",
		"rows_inserted", "error_message", "error_details", "retry_count", "max_retries",
		"next_retry_at", "parent_job_id",
	}).
		AddRow("job-a", "eia", "FAILED", []byte(`{}`), time.Now().UTC(), nil, nil, nil, nil, nil, 0, 3, nil, nil).
		AddRow("job-b", "fred", "FAILED", []byte(`{}`), time.Now().UTC(), nil, nil, nil, nil, nil, 0, 3, nil, nil)
	mock.ExpectQuery("SELECT \\* FROM ingestion_jobs").WillReturnRows(rows)

	mock.ExpectExec("UPDATE ingestion_jobs SET retry_count").WithArgs("job-a").WillReturnError(errors.New("db down"))

	mock.ExpectExec("UPDATE ingestion_jobs SET retry_count").WithArgs("job-b").WillReturnResult(sqlmock.NewResult(0, 1))
	childRows := sqlmock.NewRows([]string{
		"id", "source", "status", "config", "created_at", "started_at", "completed_at",
		"rows_inserted", "error_message", "error_details", "retry_count", "max_retries",
		"next_retry_at", "parent_job_id",
	}).AddRow("job-b-child", "fred", "PENDING", []byte(`{}`), time.Now().UTC(), nil, nil, nil, nil, nil, 1, 3, nil, "job-b")
	mock.ExpectExec("INSERT INTO ingestion_jobs").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery("SELECT \\* FROM ingestion_jobs WHERE id = \\$1").WithArgs(generatedID{}).WillReturnRows(childRows)

	dispatcher := &fakeDispatcher{}
	s := New(jobs, dispatcher, DefaultPolicy(), nil)

	dispatched, err := s.Tick(context.Background())
	if err != nil {
		t.Fatalf("tick: %v", err)
	}
	if dispatched != 1 {
		t.Fatalf("expected 1 successful dispatch, got %d", dispatched)
	}
	if len(dispatcher.ran) != 1 || dispatcher.ran[0] != "job-b-child" {
		t.Fatalf("expected only job-b-child dispatched, got %v", dispatcher.ran)
	}
}

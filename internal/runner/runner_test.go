package runner

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"

	"github.com/r3e-network/ingestion-engine/internal/adapter"
	"github.com/r3e-network/ingestion-engine/internal/fetch"
	"github.com/r3e-network/ingestion-engine/internal/ingesterr"
	"github.com/r3e-network/ingestion-engine/internal/model"
	"github.com/r3e-network/ingestion-engine/internal/provision"
	"github.com/r3e-network/ingestion-engine/internal/store"
	"github.com/r3e-network/ingestion-engine/internal/writer"
)

// testAdapter is a minimal stand-in Adapter whose behavior is entirely
// driven by closures, so a test can aim Plan's FetchStep at an
// httptest.Server without touching any of the real registered adapters.
type testAdapter struct {
	name     string
	schema   provision.SchemaSpec
	planFn   func(map[string]any) (adapter.Pager, error)
	parseFn  func(adapter.FetchStep, []byte) ([]model.Row, error)
	policy   fetch.Policy
}

func (a *testAdapter) Name() string        { return a.name }
func (a *testAdapter) Defaults() fetch.Policy { return a.policy }
func (a *testAdapter) SchemaFor(string, map[string]any) (provision.SchemaSpec, error) {
	return a.schema, nil
}
func (a *testAdapter) Plan(config map[string]any) (adapter.Pager, error) { return a.planFn(config) }
func (a *testAdapter) Parse(step adapter.FetchStep, payload []byte) ([]model.Row, error) {
	return a.parseFn(step, payload)
}

func fastPolicy() fetch.Policy {
	p := fetch.DefaultPolicy()
	p.MaxConcurrency = 2
	p.MaxRetries = 2
	p.BackoffBase = time.Millisecond
	p.BackoffMax = 5 * time.Millisecond
	p.ConnectTimeout = time.Second
	p.TotalTimeout = time.Second
	return p
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

func expectJobRow(mock sqlmock.Sqlmock, id, source, status string) {
	rows := sqlmock.NewRows([]string{
		"id", "source", "status", "config", "created_at", "started_at", "completed_at",
		"rows_inserted", "error_message", "error_details", "retry_count", "max_retries",
		"next_retry_at", "parent_job_id",
	}).AddRow(id, source, status, []byte(`{}`), time.Now().UTC(), nil, nil, nil, nil, nil, 0, 3, nil, nil)
	mock.ExpectQuery("SELECT \\* FROM ingestion_jobs WHERE id = \\$1").WithArgs(id).WillReturnRows(rows)
}

func expectPrepare(mock sqlmock.Sqlmock, tableName string) {
	mock.ExpectQuery("SELECT EXISTS").WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))
	mock.ExpectExec("CREATE TABLE IF NOT EXISTS " + tableName).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("INSERT INTO dataset_registry").WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectQuery("SELECT \\* FROM dataset_registry").WillReturnRows(
		sqlmock.NewRows([]string{"source", "dataset_id", "table_name", "display_name", "description", "source_metadata", "created_at", "last_updated_at"}).
			AddRow("test", "test", tableName, "Test", "", []byte(`{}`), time.Now().UTC(), time.Now().UTC()),
	)
}

func newRunner(t *testing.T, db *sqlx.DB, a adapter.Adapter, onComplete func(CompletionEvent)) *Runner {
	t.Helper()
	jobs := store.NewJobStore(db)
	prov := provision.New(db, store.NewRegistryStore(db))
	w := writer.New(db)
	registry := adapter.NewRegistry()
	registry.Register(a)
	return New(jobs, prov, w, registry, nil, onComplete)
}

func TestRunInsertsRowsAndCompletesJobOnSuccess(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"period":"2024-01","value":1.5}`))
	}))
	defer server.Close()

	db, mock := newMockDB(t)

	a := &testAdapter{
		name:   "test_source",
		policy: fastPolicy(),
		schema: provision.SchemaSpec{
			Source:    "test_source",
			DatasetID: "test",
			TableName: "test_source_data",
			Columns: []provision.ColumnSpec{
				{Name: "period", SQLType: "TEXT"},
				{Name: "value", SQLType: "NUMERIC"},
			},
			UniqueKey: []string{"period"},
		},
		planFn: func(map[string]any) (adapter.Pager, error) {
			return adapter.NewSinglePager(adapter.FetchStep{URL: server.URL}), nil
		},
		parseFn: func(_ adapter.FetchStep, payload []byte) ([]model.Row, error) {
			return []model.Row{{"period": model.Text("2024-01"), "value": model.Number(1.5)}}, nil
		},
	}

	var events []CompletionEvent
	r := newRunner(t, db, a, func(e CompletionEvent) { events = append(events, e) })

	expectJobRow(mock, "job-1", "test_source", "PENDING")
	mock.ExpectExec("UPDATE ingestion_jobs SET status = \\$1, started_at = now\\(\\)").WillReturnResult(sqlmock.NewResult(0, 1))
	expectPrepare(mock, "test_source_data")
	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO test_source_data").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()
	mock.ExpectExec("UPDATE ingestion_jobs").WillReturnResult(sqlmock.NewResult(0, 1))

	if err := r.Run(context.Background(), "job-1"); err != nil {
		t.Fatalf("run: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
	if len(events) != 1 || events[0].Status != model.JobSuccess {
		t.Fatalf("expected one JobSuccess completion event, got %+v", events)
	}
}

func TestRunFailsWhenNoAdapterRegisteredForSource(t *testing.T) {
	db, mock := newMockDB(t)
	// The registered adapter's name never matches the job's source, so
	// the lookup in Run fails before Start is ever called.
	a := &testAdapter{name: "other_source", policy: fastPolicy()}

	var events []CompletionEvent
	r := newRunner(t, db, a, func(e CompletionEvent) { events = append(events, e) })

	expectJobRow(mock, "job-1", "unregistered_source", "PENDING")
	mock.ExpectExec("UPDATE ingestion_jobs").WillReturnResult(sqlmock.NewResult(0, 1))
	expectJobRow(mock, "job-1", "unregistered_source", "FAILED")

	err := r.Run(context.Background(), "job-1")
	if err == nil {
		t.Fatal("expected error for unregistered source")
	}
	kind, _ := ingesterr.KindOf(err)
	if kind != ingesterr.KindConfig {
		t.Fatalf("expected KindConfig, got %v", kind)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
	if len(events) != 1 || events[0].Status != model.JobFailed {
		t.Fatalf("expected one JobFailed completion event, got %+v", events)
	}
}

func TestRunFailsJobWhenFetchExhaustsRetries(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	db, mock := newMockDB(t)

	a := &testAdapter{
		name:   "flaky_source",
		policy: fastPolicy(),
		schema: provision.SchemaSpec{
			TableName: "flaky_source_data",
			Columns:   []provision.ColumnSpec{{Name: "period", SQLType: "TEXT"}},
			UniqueKey: []string{"period"},
		},
		planFn: func(map[string]any) (adapter.Pager, error) {
			return adapter.NewSinglePager(adapter.FetchStep{URL: server.URL}), nil
		},
		parseFn: func(adapter.FetchStep, []byte) ([]model.Row, error) { return nil, nil },
	}

	r := newRunner(t, db, a, nil)

	expectJobRow(mock, "job-1", "flaky_source", "PENDING")
	mock.ExpectExec("UPDATE ingestion_jobs SET status = \\$1, started_at = now\\(\\)").WillReturnResult(sqlmock.NewResult(0, 1))
	expectPrepare(mock, "flaky_source_data")
	mock.ExpectExec("UPDATE ingestion_jobs").WillReturnResult(sqlmock.NewResult(0, 1))
	expectJobRow(mock, "job-1", "flaky_source", "FAILED")

	err := r.Run(context.Background(), "job-1")
	if err == nil {
		t.Fatal("expected fetch error to surface")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestRunTreatsZeroRowsAsSuccessWhenSchemaAllowsEmpty(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{}`))
	}))
	defer server.Close()

	db, mock := newMockDB(t)

	a := &testAdapter{
		name:   "quiet_source",
		policy: fastPolicy(),
		schema: provision.SchemaSpec{
			TableName:  "quiet_source_data",
			Columns:    []provision.ColumnSpec{{Name: "period", SQLType: "TEXT"}},
			UniqueKey:  []string{"period"},
			AllowEmpty: true,
		},
		planFn: func(map[string]any) (adapter.Pager, error) {
			return adapter.NewSinglePager(adapter.FetchStep{URL: server.URL}), nil
		},
		parseFn: func(adapter.FetchStep, []byte) ([]model.Row, error) { return nil, nil },
	}

	r := newRunner(t, db, a, nil)

	expectJobRow(mock, "job-1", "quiet_source", "PENDING")
	mock.ExpectExec("UPDATE ingestion_jobs SET status = \\$1, started_at = now\\(\\)").WillReturnResult(sqlmock.NewResult(0, 1))
	expectPrepare(mock, "quiet_source_data")
	mock.ExpectExec("UPDATE ingestion_jobs").WillReturnResult(sqlmock.NewResult(0, 1))

	if err := r.Run(context.Background(), "job-1"); err != nil {
		t.Fatalf("run: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

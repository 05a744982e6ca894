package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"

	"github.com/r3e-network/ingestion-engine/internal/adapter"
	"github.com/r3e-network/ingestion-engine/internal/fetch"
	"github.com/r3e-network/ingestion-engine/internal/model"
	"github.com/r3e-network/ingestion-engine/internal/provision"
	"github.com/r3e-network/ingestion-engine/internal/store"
)

func newMockDB(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock) {
	t.Helper()
	mockDB, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock new: %v", err)
	}
	t.Cleanup(func() { mockDB.Close() })
	return sqlx.NewDb(mockDB, "postgres"), mock
}

type stubAdapter struct{ name string }

func (s stubAdapter) Name() string             { return s.name }
func (s stubAdapter) Defaults() fetch.Policy   { return fetch.DefaultPolicy() }
func (s stubAdapter) SchemaFor(string, map[string]any) (provision.SchemaSpec, error) {
	return provision.SchemaSpec{}, nil
}
func (s stubAdapter) Plan(map[string]any) (adapter.Pager, error) { return nil, nil }
func (s stubAdapter) Parse(adapter.FetchStep, []byte) ([]model.Row, error) { return nil, nil }

type recordingDispatcher struct {
	mu      sync.Mutex
	jobIDs  []string
	done    chan struct{}
}

func newRecordingDispatcher() *recordingDispatcher {
	return &recordingDispatcher{done: make(chan struct{}, 10)}
}

func (d *recordingDispatcher) Run(_ context.Context, jobID string) error {
	d.mu.Lock()
	d.jobIDs = append(d.jobIDs, jobID)
	d.mu.Unlock()
	d.done <- struct{}{}
	return nil
}

func jobRows(id, source, status string) *sqlmock.Rows {
	return sqlmock.NewRows([]string{
		"id", "source", "status", "config", "created_at", "started_at", "completed_at",
		"rows_inserted", "error_message", "error_details", "retry_count", "max_retries",
		"next_retry_at", "parent_job_id",
	}).AddRow(id, source, status, []byte(`{}`), time.Now().UTC(), nil, nil, nil, nil, nil, 0, 3, nil, nil)
}

func TestHandleIngestCreatesJobAndDispatchesInBackground(t *testing.T) {
	db, mock := newMockDB(t)
	jobs := store.NewJobStore(db)
	adapters := adapter.NewRegistry()
	adapters.Register(stubAdapter{name: "eia"})
	dispatcher := newRecordingDispatcher()

	a := New(jobs, store.NewChainStore(db), store.NewQualityStore(db), adapters, dispatcher, nil, nil, nil)
	srv := httptest.NewServer(a.Handler())
	defer srv.Close()

	mock.ExpectExec("INSERT INTO ingestion_jobs").WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectQuery("SELECT \\* FROM ingestion_jobs WHERE id = \\$1").
		WillReturnRows(jobRows("job-1", "eia", "PENDING"))

	resp, err := http.Post(srv.URL+"/sources/eia/ingest", "application/json", strings.NewReader(`{"config":{"route":"pet"}}`))
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("expected 201, got %d", resp.StatusCode)
	}

	var body ingestResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.JobID != "job-1" || body.Status != "PENDING" {
		t.Fatalf("unexpected response: %+v", body)
	}

	select {
	case <-dispatcher.done:
	case <-time.After(2 * time.Second):
		t.Fatal("expected background dispatch to run")
	}
}

func TestHandleIngestRejectsUnknownSource(t *testing.T) {
	db, _ := newMockDB(t)
	jobs := store.NewJobStore(db)
	a := New(jobs, store.NewChainStore(db), store.NewQualityStore(db), adapter.NewRegistry(), nil, nil, nil, nil)
	srv := httptest.NewServer(a.Handler())
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/sources/unknown/ingest", "application/json", strings.NewReader(`{}`))
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.StatusCode)
	}
}

func TestHandleGetJobReturns404ForUnknownJob(t *testing.T) {
	db, mock := newMockDB(t)
	jobs := store.NewJobStore(db)
	a := New(jobs, store.NewChainStore(db), store.NewQualityStore(db), adapter.NewRegistry(), nil, nil, nil, nil)
	srv := httptest.NewServer(a.Handler())
	defer srv.Close()

	mock.ExpectQuery("SELECT \\* FROM ingestion_jobs WHERE id = \\$1").
		WillReturnError(sqlmock.ErrCancelled)

	resp, err := http.Get(srv.URL + "/jobs/missing")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.StatusCode)
	}
}

func TestHandleHealthzReturnsOK(t *testing.T) {
	db, _ := newMockDB(t)
	a := New(store.NewJobStore(db), store.NewChainStore(db), store.NewQualityStore(db), adapter.NewRegistry(), nil, nil, nil, nil)
	srv := httptest.NewServer(a.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/healthz")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
}

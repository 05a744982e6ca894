// Package api exposes the Job Submission API (spec §6): a gorilla/mux
// router over job creation, retry, chain execution, and monitoring, plus
// the ambient /healthz and /metrics endpoints every service in the
// teacher's stack ships.
package api

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/r3e-network/ingestion-engine/internal/adapter"
	"github.com/r3e-network/ingestion-engine/internal/chain"
	"github.com/r3e-network/ingestion-engine/internal/ingesterr"
	"github.com/r3e-network/ingestion-engine/internal/model"
	"github.com/r3e-network/ingestion-engine/internal/retry"
	"github.com/r3e-network/ingestion-engine/internal/store"
	"github.com/r3e-network/ingestion-engine/pkg/httpapi"
	"github.com/r3e-network/ingestion-engine/pkg/logger"
	"github.com/r3e-network/ingestion-engine/pkg/metrics"
)

// Dispatcher runs one job to a terminal state; satisfied by runner.Runner.
type Dispatcher interface {
	Run(ctx context.Context, jobID string) error
}

// Router wires the Job Submission API's handlers to the engine's stores and
// dispatchers.
type Router struct {
	mux        *mux.Router
	jobs       *store.JobStore
	chains     *store.ChainStore
	quality    *store.QualityStore
	adapters   *adapter.Registry
	dispatcher Dispatcher
	retry      *retry.Scheduler
	chainEng   *chain.Engine
	log        *logger.Logger

	sharedSecretHash [sha256.Size]byte
	requireSecret    bool
}

// New constructs a Router and registers every route.
func New(jobs *store.JobStore, chains *store.ChainStore, quality *store.QualityStore, adapters *adapter.Registry,
	dispatcher Dispatcher, retryScheduler *retry.Scheduler, chainEng *chain.Engine, log *logger.Logger) *Router {
	if log == nil {
		log = logger.NewDefault("api")
	}
	a := &Router{
		mux:        mux.NewRouter(),
		jobs:       jobs,
		chains:     chains,
		quality:    quality,
		adapters:   adapters,
		dispatcher: dispatcher,
		retry:      retryScheduler,
		chainEng:   chainEng,
		log:        log,
	}
	a.routes()
	return a
}

// WithSharedSecret requires every request (other than /healthz and /metrics)
// to present secret via the X-Shared-Secret header, matching the teacher's
// own gateway header gate. An empty secret disables enforcement, which is
// the zero-value behavior so existing callers and tests are unaffected.
// Returns a for chaining at construction time.
func (a *Router) WithSharedSecret(secret string) *Router {
	if secret == "" {
		a.requireSecret = false
		return a
	}
	a.sharedSecretHash = sha256.Sum256([]byte(secret))
	a.requireSecret = true
	return a
}

// Handler returns the fully wired HTTP handler, with the shared-secret gate
// (if configured) and Prometheus request instrumentation applied.
func (a *Router) Handler() http.Handler {
	return metrics.InstrumentHandler(a.requireSharedSecret(a.mux))
}

// requireSharedSecret rejects any request to a protected route that does not
// present the configured X-Shared-Secret header, comparing SHA-256 digests
// under crypto/subtle so the check runs in constant time regardless of where
// the received secret first differs from the expected one.
func (a *Router) requireSharedSecret(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !a.requireSecret || r.URL.Path == "/healthz" || r.URL.Path == "/metrics" {
			next.ServeHTTP(w, r)
			return
		}
		received := r.Header.Get("X-Shared-Secret")
		if received == "" {
			httpapi.Unauthorized(w, "missing X-Shared-Secret header")
			return
		}
		receivedHash := sha256.Sum256([]byte(received))
		if subtle.ConstantTimeCompare(receivedHash[:], a.sharedSecretHash[:]) != 1 {
			httpapi.Unauthorized(w, "invalid shared secret")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (a *Router) routes() {
	a.mux.HandleFunc("/sources/{src}/ingest", a.handleIngest).Methods(http.MethodPost)
	a.mux.HandleFunc("/jobs/{id}", a.handleGetJob).Methods(http.MethodGet)
	a.mux.HandleFunc("/jobs/{id}/retry", a.handleRetryJob).Methods(http.MethodPost)
	a.mux.HandleFunc("/chains/{id}/execute", a.handleExecuteChain).Methods(http.MethodPost)
	a.mux.HandleFunc("/monitoring/dashboard", a.handleDashboard).Methods(http.MethodGet)
	a.mux.HandleFunc("/healthz", a.handleHealthz).Methods(http.MethodGet)
	a.mux.Handle("/metrics", metrics.Handler()).Methods(http.MethodGet)
}

type ingestRequest struct {
	Config map[string]any `json:"config"`
}

type ingestResponse struct {
	JobID    string `json:"job_id"`
	Status   string `json:"status"`
	CheckURL string `json:"check_url"`
}

// handleIngest creates a PENDING job for source and enqueues its execution
// on a worker goroutine, returning immediately per spec §6. The background
// run is detached from the request's context so a client disconnect does
// not cancel work already accepted.
func (a *Router) handleIngest(w http.ResponseWriter, r *http.Request) {
	src := mux.Vars(r)["src"]
	if _, ok := a.adapters.Get(src); !ok {
		httpapi.NotFound(w, "unknown source "+src)
		return
	}

	var req ingestRequest
	if !httpapi.DecodeJSON(w, r, &req) {
		return
	}

	job, err := a.jobs.Create(r.Context(), src, req.Config, 0)
	if err != nil {
		httpapi.InternalError(w, err.Error())
		return
	}

	if a.dispatcher != nil {
		go a.runDetached(job.ID)
	}

	httpapi.WriteJSON(w, http.StatusCreated, ingestResponse{
		JobID:    job.ID,
		Status:   string(job.Status),
		CheckURL: "/jobs/" + job.ID,
	})
}

func (a *Router) runDetached(jobID string) {
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Minute)
	defer cancel()
	if err := a.dispatcher.Run(ctx, jobID); err != nil {
		a.log.WithField("job_id", jobID).WithField("error", err.Error()).Warn("detached job run failed")
	}
}

func (a *Router) handleGetJob(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	job, err := a.jobs.Get(r.Context(), id)
	if err != nil {
		httpapi.NotFound(w, "job not found")
		return
	}
	httpapi.WriteJSON(w, http.StatusOK, job)
}

// handleRetryJob invokes the Retry Scheduler's immediate-retry path: reset
// in place and re-dispatch synchronously, matching retry_service.py's
// manual-retry endpoint semantics rather than the scheduled backoff path.
func (a *Router) handleRetryJob(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if a.retry == nil {
		httpapi.InternalError(w, "retry scheduler not configured")
		return
	}
	job, err := a.jobs.Get(r.Context(), id)
	if err != nil {
		httpapi.NotFound(w, "job not found")
		return
	}
	if !job.Retryable() && job.Status != model.JobFailed {
		httpapi.BadRequest(w, "job is not in a retryable state")
		return
	}

	if err := a.retry.RunImmediate(r.Context(), id); err != nil {
		kind, _ := ingesterr.KindOf(err)
		if kind == ingesterr.KindConfig {
			httpapi.BadRequest(w, err.Error())
			return
		}
		httpapi.InternalError(w, err.Error())
		return
	}
	httpapi.WriteJSON(w, http.StatusOK, map[string]string{"job_id": id, "status": "retried"})
}

// handleExecuteChain dispatches a chain's root job on a worker goroutine;
// the remaining DAG advances on its own via OnCompletion as each job
// completes.
func (a *Router) handleExecuteChain(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if a.chainEng == nil {
		httpapi.InternalError(w, "chain engine not configured")
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Minute)
		defer cancel()
		if err := a.chainEng.Execute(ctx, id); err != nil {
			a.log.WithField("chain_id", id).WithField("error", err.Error()).Warn("chain execution failed")
		}
	}()
	httpapi.WriteJSON(w, http.StatusAccepted, map[string]string{"chain_id": id, "status": "started"})
}

type dashboardResponse struct {
	Window24h   []store.SourceStatusCount `json:"window_24h"`
	Window1h    []store.SourceStatusCount `json:"window_1h"`
	ActiveAlerts []model.AnomalyAlert     `json:"active_alerts"`
}

func (a *Router) handleDashboard(w http.ResponseWriter, r *http.Request) {
	now := time.Now().UTC()
	day, err := a.jobs.CountsSince(r.Context(), now.Add(-24*time.Hour))
	if err != nil {
		httpapi.InternalError(w, err.Error())
		return
	}
	hour, err := a.jobs.CountsSince(r.Context(), now.Add(-time.Hour))
	if err != nil {
		httpapi.InternalError(w, err.Error())
		return
	}
	alerts, err := a.quality.AllOpenAlerts(r.Context())
	if err != nil {
		httpapi.InternalError(w, err.Error())
		return
	}
	httpapi.WriteJSON(w, http.StatusOK, dashboardResponse{Window24h: day, Window1h: hour, ActiveAlerts: alerts})
}

func (a *Router) handleHealthz(w http.ResponseWriter, r *http.Request) {
	httpapi.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

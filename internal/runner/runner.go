// Package runner implements the Job Runner (C5): it drives one
// IngestionJob end to end, wiring the Table Provisioner, Source Adapter,
// HTTP Fetcher, and Batch Writer together, and recording the outcome.
package runner

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/r3e-network/ingestion-engine/internal/adapter"
	"github.com/r3e-network/ingestion-engine/internal/fetch"
	"github.com/r3e-network/ingestion-engine/internal/ingesterr"
	"github.com/r3e-network/ingestion-engine/internal/model"
	"github.com/r3e-network/ingestion-engine/internal/provision"
	"github.com/r3e-network/ingestion-engine/internal/ratelimit"
	"github.com/r3e-network/ingestion-engine/internal/store"
	"github.com/r3e-network/ingestion-engine/internal/support"
	"github.com/r3e-network/ingestion-engine/internal/writer"
	"github.com/r3e-network/ingestion-engine/pkg/logger"
)

// CompletionEvent is published once per terminal job state; internal/events
// wraps a Bus around this to fan out to pg NOTIFY listeners.
type CompletionEvent struct {
	JobID  string
	Source string
	Status model.JobStatus
}

// Runner executes jobs. One Runner is shared across every source; each
// source's Fetcher is built lazily from its adapter's declared defaults
// and cached, so one slow source's backoff never throttles another's.
type Runner struct {
	jobs        *store.JobStore
	provisioner *provision.Provisioner
	writer      *writer.Writer
	adapters    *adapter.Registry
	log         *logger.Logger
	onComplete  func(CompletionEvent)
	hooks       support.ObservationHooks
	limiter     *ratelimit.Limiter

	mu       sync.Mutex
	fetchers map[string]*fetch.Fetcher
}

// New constructs a Runner. onComplete may be nil.
func New(jobs *store.JobStore, provisioner *provision.Provisioner, w *writer.Writer, adapters *adapter.Registry, log *logger.Logger, onComplete func(CompletionEvent)) *Runner {
	if log == nil {
		log = logger.NewDefault("runner")
	}
	return &Runner{
		jobs:        jobs,
		provisioner: provisioner,
		writer:      w,
		adapters:    adapters,
		log:         log,
		onComplete:  onComplete,
		fetchers:    make(map[string]*fetch.Fetcher),
	}
}

// WithHooks attaches observation hooks (e.g. pkg/metrics.JobRunnerHooks())
// fired around every Run call. Returns r for chaining at construction time.
func (r *Runner) WithHooks(hooks support.ObservationHooks) *Runner {
	r.hooks = hooks
	return r
}

// WithRateLimiter attaches a distributed rate limiter consulted once per
// fetch step, on top of each Fetcher's own in-process per-host pacing, so
// multiple engine processes ingesting the same source stay under its
// published rate limit together.
func (r *Runner) WithRateLimiter(limiter *ratelimit.Limiter) *Runner {
	r.limiter = limiter
	return r
}

func (r *Runner) fetcherFor(source string, a adapter.Adapter) *fetch.Fetcher {
	r.mu.Lock()
	defer r.mu.Unlock()
	if f, ok := r.fetchers[source]; ok {
		return f
	}
	f := fetch.New(a.Defaults(), nil, r.log)
	r.fetchers[source] = f
	return f
}

// Run drives job jobID through PENDING/RUNNING to a terminal state. It
// loads the job and resolves its adapter (an unknown source fails the job
// without starting it), then marks it RUNNING via JobStore.Start. Start
// does not check the job's current status, so a job dispatched twice runs
// twice; both runs write the same idempotent upserts.
func (r *Runner) Run(ctx context.Context, jobID string) (err error) {
	done := support.StartObservation(ctx, r.hooks, map[string]string{"job_id": jobID})
	defer func() { done(err) }()

	job, err := r.jobs.Get(ctx, jobID)
	if err != nil {
		return err
	}

	a, ok := r.adapters.Get(job.Source)
	if !ok {
		err = r.fail(ctx, job.ID, ingesterr.Config("no adapter registered for source %q", job.Source))
		return err
	}

	if err = r.jobs.Start(ctx, job.ID); err != nil {
		return err
	}

	total, execErr := r.execute(ctx, job, a)
	if execErr != nil {
		err = r.fail(ctx, job.ID, execErr)
		return err
	}

	if err = r.jobs.Complete(ctx, job.ID, total); err != nil {
		return err
	}
	r.emit(job.ID, job.Source, model.JobSuccess)
	return nil
}

func (r *Runner) execute(ctx context.Context, job model.IngestionJob, a adapter.Adapter) (int64, error) {
	dataset, _ := job.Config["dataset"].(string)
	if dataset == "" {
		dataset = job.Source
	}

	schema, err := a.SchemaFor(dataset, job.Config)
	if err != nil {
		return 0, err
	}

	if _, err := r.provisioner.Prepare(ctx, schema); err != nil {
		return 0, err
	}

	pager, err := a.Plan(job.Config)
	if err != nil {
		return 0, err
	}

	columns := columnNames(schema.Columns)
	updateCols := updateColumns(schema.Columns, schema.UniqueKey)
	f := r.fetcherFor(job.Source, a)

	var total int64
	for {
		step, more := pager.Step()
		if !more {
			break
		}

		if err := r.awaitRateLimit(ctx, job.Source, a); err != nil {
			return total, err
		}

		resp, err := f.Do(ctx, fetch.Request{Method: http.MethodGet, URL: withQuery(step), Headers: step.Headers})
		if err != nil {
			return total, err
		}

		rows, err := a.Parse(step, resp.Body)
		if err != nil {
			return total, err
		}

		if len(rows) > 0 {
			result, err := r.writer.Write(ctx, schema.TableName, rows, columns, schema.UniqueKey, updateCols, 0)
			if err != nil {
				return total, err
			}
			total += result.Inserted
		}

		pager.Observe(resp.Body, len(rows))
	}

	if total == 0 && !schema.AllowEmpty {
		return total, ingesterr.New(ingesterr.KindUpsert, fmt.Sprintf("source %q produced zero rows", job.Source))
	}
	return total, nil
}

// awaitRateLimit blocks until the distributed limiter admits one request
// for source, polling at the adapter's declared rate interval. A nil
// limiter or a zero RateLimit policy is a no-op, leaving pacing to the
// Fetcher's own in-process limiter.
func (r *Runner) awaitRateLimit(ctx context.Context, source string, a adapter.Adapter) error {
	if r.limiter == nil {
		return nil
	}
	window := a.Defaults().RateLimit
	if window <= 0 {
		return nil
	}
	for {
		ok, err := r.limiter.Allow(ctx, source, 1, window)
		if err != nil {
			return ingesterr.Transient(err, "rate limiter check for %q failed", source)
		}
		if ok {
			return nil
		}
		select {
		case <-ctx.Done():
			return ingesterr.Cancelled("rate limit wait cancelled: %v", ctx.Err())
		case <-time.After(window):
		}
	}
}

func (r *Runner) fail(ctx context.Context, jobID string, cause error) error {
	kind, _ := ingesterr.KindOf(cause)
	details := map[string]any{"exception_type": string(kind)}
	if err := r.jobs.Fail(ctx, jobID, cause.Error(), details); err != nil {
		r.log.WithField("job_id", jobID).WithField("fail_error", err.Error()).Error("failed to record job failure")
	}
	job, getErr := r.jobs.Get(ctx, jobID)
	if getErr == nil {
		r.emit(jobID, job.Source, model.JobFailed)
	}
	return cause
}

func (r *Runner) emit(jobID, source string, status model.JobStatus) {
	if r.onComplete == nil {
		return
	}
	r.onComplete(CompletionEvent{JobID: jobID, Source: source, Status: status})
}

func columnNames(cols []provision.ColumnSpec) []string {
	names := make([]string, len(cols))
	for i, c := range cols {
		names[i] = c.Name
	}
	return names
}

// updateColumns is every declared column not part of the natural key: on
// conflict, the writer refreshes these and leaves the key alone.
func updateColumns(cols []provision.ColumnSpec, uniqueKey []string) []string {
	key := make(map[string]bool, len(uniqueKey))
	for _, k := range uniqueKey {
		key[k] = true
	}
	var out []string
	for _, c := range cols {
		if !key[c.Name] {
			out = append(out, c.Name)
		}
	}
	return out
}

// withQuery merges a FetchStep's query parameters into its URL. Parse
// errors fall back to the bare URL; adapters are expected to supply
// well-formed URLs, and a malformed one will fail at the HTTP layer with
// a clearer error than silently dropping the query.
func withQuery(step adapter.FetchStep) string {
	if len(step.Query) == 0 {
		return step.URL
	}
	parsed, err := url.Parse(step.URL)
	if err != nil {
		return step.URL
	}
	q := parsed.Query()
	for k, v := range step.Query {
		q.Set(k, v)
	}
	parsed.RawQuery = q.Encode()
	return parsed.String()
}

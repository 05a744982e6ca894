package metrics

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/r3e-network/ingestion-engine/internal/support"
)

var (
	// Registry holds the application-specific Prometheus collectors.
	Registry = prometheus.NewRegistry()

	httpInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "ingestion",
			Subsystem: "http",
			Name:      "inflight_requests",
			Help:      "Current number of in-flight inbound HTTP requests.",
		},
	)

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "ingestion",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of inbound HTTP requests handled.",
		},
		[]string{"method", "path", "status"},
	)

	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "ingestion",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Duration of inbound HTTP requests.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 10), // 5ms to 2.56s
		},
		[]string{"method", "path"},
	)

	jobsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "ingestion",
			Subsystem: "jobs",
			Name:      "total",
			Help:      "Total number of ingestion jobs that reached a terminal or blocked state.",
		},
		[]string{"source", "status"},
	)

	jobDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "ingestion",
			Subsystem: "jobs",
			Name:      "run_duration_seconds",
			Help:      "Wall-clock duration of a job run, from RUNNING to terminal.",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 14),
		},
		[]string{"source"},
	)

	fetchAttempts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "ingestion",
			Subsystem: "fetch",
			Name:      "attempts_total",
			Help:      "Total HTTP fetch attempts made by source adapters, by outcome.",
		},
		[]string{"source", "outcome"},
	)

	rowsWritten = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "ingestion",
			Subsystem: "writer",
			Name:      "rows_written_total",
			Help:      "Total rows written (inserted or updated) per table.",
		},
		[]string{"table"},
	)

	qualityScore = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "ingestion",
			Subsystem: "quality",
			Name:      "composite_score",
			Help:      "Latest composite quality score (0-1) per table.",
		},
		[]string{"table"},
	)

	anomaliesOpen = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "ingestion",
			Subsystem: "quality",
			Name:      "open_anomalies",
			Help:      "Count of currently open anomaly alerts per table.",
		},
		[]string{"table"},
	)

	observationCollectors sync.Map
)

func init() {
	Registry.MustRegister(
		httpInFlight,
		httpRequests,
		httpDuration,
		jobsTotal,
		jobDuration,
		fetchAttempts,
		rowsWritten,
		qualityScore,
		anomaliesOpen,
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		collectors.NewGoCollector(),
	)
}

// Handler returns an HTTP handler exposing the registered Prometheus metrics.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

// InstrumentHandler wraps the provided handler with inbound HTTP metrics collection.
func InstrumentHandler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/metrics" {
			next.ServeHTTP(w, r)
			return
		}

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()

		httpInFlight.Inc()
		defer httpInFlight.Dec()

		next.ServeHTTP(rec, r)

		duration := time.Since(start)
		path := canonicalPath(r.URL.Path)
		method := strings.ToUpper(r.Method)

		httpRequests.WithLabelValues(method, path, strconv.Itoa(rec.status)).Inc()
		httpDuration.WithLabelValues(method, path).Observe(duration.Seconds())
	})
}

// RecordJobOutcome records a job reaching a terminal (or BLOCKED) status.
func RecordJobOutcome(source, status string, duration time.Duration) {
	if source == "" {
		source = "unknown"
	}
	if status == "" {
		status = "unknown"
	}
	jobsTotal.WithLabelValues(source, status).Inc()
	if duration > 0 {
		jobDuration.WithLabelValues(source).Observe(duration.Seconds())
	}
}

// RecordFetchAttempt records one HTTP fetch attempt's outcome
// (success|client_error|transient|timeout|rate_limited|cancelled).
func RecordFetchAttempt(source, outcome string) {
	if source == "" {
		source = "unknown"
	}
	if outcome == "" {
		outcome = "unknown"
	}
	fetchAttempts.WithLabelValues(source, outcome).Inc()
}

// RecordRowsWritten adds to the rows-written counter for a table.
func RecordRowsWritten(table string, rows int) {
	if rows <= 0 {
		return
	}
	if table == "" {
		table = "unknown"
	}
	rowsWritten.WithLabelValues(table).Add(float64(rows))
}

// RecordQualityScore sets the latest composite quality score for a table.
func RecordQualityScore(table string, score float64) {
	if table == "" {
		table = "unknown"
	}
	qualityScore.WithLabelValues(table).Set(score)
}

// RecordOpenAnomalies sets the current open-anomaly count for a table.
func RecordOpenAnomalies(table string, count int) {
	if table == "" {
		table = "unknown"
	}
	anomaliesOpen.WithLabelValues(table).Set(float64(count))
}

type observationCollector struct {
	gauge *prometheus.GaugeVec
	hist  *prometheus.HistogramVec
}

// ObservationHooks creates support.ObservationHooks backed by lazily
// registered Prometheus collectors, keyed by namespace/subsystem/name.
func ObservationHooks(namespace, subsystem, name string) support.ObservationHooks {
	key := namespace + ":" + subsystem + ":" + name
	var collector observationCollector
	if entry, ok := observationCollectors.Load(key); ok {
		collector = entry.(observationCollector)
	} else {
		collector = createObservationCollector(namespace, subsystem, name)
		observationCollectors.Store(key, collector)
	}
	return support.ObservationHooks{
		OnStart: func(ctx context.Context, meta map[string]string) {
			label := metaLabel(meta)
			collector.gauge.WithLabelValues(label).Inc()
		},
		OnComplete: func(ctx context.Context, meta map[string]string, err error, duration time.Duration) {
			label := metaLabel(meta)
			collector.gauge.WithLabelValues(label).Dec()
			status := "success"
			if err != nil {
				status = "error"
			}
			collector.hist.WithLabelValues(label, status).Observe(duration.Seconds())
		},
	}
}

func createObservationCollector(namespace, subsystem, name string) observationCollector {
	gauge := prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      name + "_in_flight",
			Help:      "Current operations in flight for " + subsystem,
		},
		[]string{"resource"},
	)
	hist := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      name + "_duration_seconds",
			Help:      "Duration of operations for " + subsystem,
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 10),
		},
		[]string{"resource", "status"},
	)
	Registry.MustRegister(gauge, hist)
	return observationCollector{gauge: gauge, hist: hist}
}

func metaLabel(meta map[string]string) string {
	if meta == nil {
		return "unknown"
	}
	if id, ok := meta["source"]; ok && id != "" {
		return id
	}
	if id, ok := meta["table"]; ok && id != "" {
		return id
	}
	if id, ok := meta["job_id"]; ok && id != "" {
		return id
	}
	return "unknown"
}

// JobRunnerHooks captures per-job-run observation metrics.
func JobRunnerHooks() support.ObservationHooks {
	return ObservationHooks("ingestion", "runner", "job")
}

// FetcherHooks captures per-source fetch-client observation metrics.
func FetcherHooks() support.ObservationHooks {
	return ObservationHooks("ingestion", "fetch", "client")
}

// ScheduleDispatchHooks captures schedule-dispatcher tick metrics.
func ScheduleDispatchHooks() support.DispatchHooks {
	return ObservationHooks("ingestion", "schedule", "dispatch")
}

// CollectionOrchestratorHooks captures per-target collection fan-out metrics.
func CollectionOrchestratorHooks() support.ObservationHooks {
	return ObservationHooks("ingestion", "collection", "target")
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Write(b []byte) (int, error) {
	if r.status == 0 {
		r.status = http.StatusOK
	}
	return r.ResponseWriter.Write(b)
}

func canonicalPath(raw string) string {
	if raw == "" || raw == "/" {
		return "/"
	}
	trimmed := strings.Trim(raw, "/")
	if trimmed == "" {
		return "/"
	}
	parts := strings.Split(trimmed, "/")
	if len(parts) == 0 {
		return "/"
	}
	switch parts[0] {
	case "sources":
		if len(parts) >= 2 {
			return "/sources/:source/ingest"
		}
		return "/sources"
	case "jobs":
		if len(parts) >= 2 {
			if len(parts) >= 3 {
				return "/jobs/:id/" + parts[2]
			}
			return "/jobs/:id"
		}
		return "/jobs"
	case "chains":
		if len(parts) >= 2 {
			if len(parts) >= 3 {
				return "/chains/:id/" + parts[2]
			}
			return "/chains/:id"
		}
		return "/chains"
	default:
		return "/" + parts[0]
	}
}

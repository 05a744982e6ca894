// Package fetch implements the engine's HTTP Fetcher (C1): bounded
// concurrency, per-host rate limiting, retry with exponential backoff and
// jitter, Retry-After honoring, and separate connect/total timeouts.
package fetch

import (
	"context"
	"fmt"
	"io"
	"math/rand"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/r3e-network/ingestion-engine/internal/ingesterr"
	"github.com/r3e-network/ingestion-engine/internal/support"
	"github.com/r3e-network/ingestion-engine/pkg/logger"
	"github.com/r3e-network/ingestion-engine/pkg/version"
)

// Policy configures one source's fetch behavior. DefaultPolicy's values are
// conservative: 3 concurrent requests, generous connect/total timeouts,
// exponential backoff doubling from a 1 second base.
type Policy struct {
	MaxConcurrency  int
	RateLimit       time.Duration
	MaxRetries      int
	BackoffBase     time.Duration
	BackoffFactor   float64
	BackoffMax      time.Duration
	ConnectTimeout  time.Duration
	TotalTimeout    time.Duration
}

// DefaultPolicy returns the engine-wide defaults; individual sources
// override fields as needed (spec §6: "adapters must be compiled with the
// listed defaults").
func DefaultPolicy() Policy {
	return Policy{
		MaxConcurrency: 3,
		RateLimit:      0,
		MaxRetries:     3,
		BackoffBase:    time.Second,
		BackoffFactor:  2.0,
		BackoffMax:     30 * time.Second,
		ConnectTimeout: 10 * time.Second,
		TotalTimeout:   60 * time.Second,
	}
}

// Request describes one outbound HTTP call an adapter wants made.
type Request struct {
	Method  string
	URL     string
	Headers map[string]string
	Body    io.Reader
}

// Response is the successful result of a Fetch call.
type Response struct {
	StatusCode int
	Body       []byte
	Header     http.Header
}

// Fetcher executes Requests under a Policy, isolating one upstream host's
// concurrency and rate limit from every other host's.
type Fetcher struct {
	policy Policy
	client *http.Client
	log    *logger.Logger
	hooks  support.ObservationHooks

	mu    sync.Mutex
	hosts map[string]*hostState
}

type hostState struct {
	sem     chan struct{}
	limiter *rate.Limiter
}

// New constructs a Fetcher. A nil http.Client gets one built from the
// policy's timeouts; a nil logger gets a default.
func New(policy Policy, client *http.Client, log *logger.Logger) *Fetcher {
	if client == nil {
		dialer := &net.Dialer{Timeout: policy.ConnectTimeout}
		client = &http.Client{
			Timeout: policy.TotalTimeout,
			Transport: &http.Transport{
				DialContext: dialer.DialContext,
			},
		}
	}
	if log == nil {
		log = logger.NewDefault("fetcher")
	}
	return &Fetcher{
		policy: policy,
		client: client,
		log:    log,
		hosts:  make(map[string]*hostState),
	}
}

// WithHooks attaches observation hooks (e.g. pkg/metrics.FetcherHooks())
// fired around every Do call. Returns f for chaining at construction time.
func (f *Fetcher) WithHooks(hooks support.ObservationHooks) *Fetcher {
	f.hooks = hooks
	return f
}

func (f *Fetcher) stateFor(host string) *hostState {
	f.mu.Lock()
	defer f.mu.Unlock()
	st, ok := f.hosts[host]
	if !ok {
		limit := rate.Inf
		if f.policy.RateLimit > 0 {
			limit = rate.Every(f.policy.RateLimit)
		}
		st = &hostState{
			sem:     make(chan struct{}, max(1, f.policy.MaxConcurrency)),
			limiter: rate.NewLimiter(limit, 1),
		}
		f.hosts[host] = st
	}
	return st
}

// Do executes req, retrying transient failures per policy. It returns a
// typed *ingesterr.Error on every failure path so callers can branch on
// Kind() without inspecting strings.
func (f *Fetcher) Do(ctx context.Context, req Request) (resp *Response, err error) {
	done := support.StartObservation(ctx, f.hooks, map[string]string{"method": req.Method, "url": req.URL})
	defer func() { done(err) }()

	parsed, err := url.Parse(req.URL)
	if err != nil {
		err = ingesterr.Config("invalid request url %q: %v", req.URL, err)
		return nil, err
	}

	st := f.stateFor(parsed.Host)

	select {
	case st.sem <- struct{}{}:
		defer func() { <-st.sem }()
	case <-ctx.Done():
		return nil, ingesterr.Cancelled("fetch cancelled waiting for concurrency slot: %v", ctx.Err())
	}

	if err := f.waitRateLimit(ctx, st); err != nil {
		return nil, err
	}

	maxRetries := f.policy.MaxRetries
	if maxRetries <= 0 {
		maxRetries = 1
	}

	var lastErr error
	for attempt := 0; attempt < maxRetries; attempt++ {
		if ctx.Err() != nil {
			return nil, ingesterr.Cancelled("fetch cancelled: %v", ctx.Err())
		}

		resp, retryAfter, err := f.attempt(ctx, req)
		if err == nil {
			return resp, nil
		}
		lastErr = err

		var ie *ingesterr.Error
		if !asIngestErr(err, &ie) || !ie.Retriable() {
			return nil, err
		}

		if attempt == maxRetries-1 {
			break
		}

		delay := f.backoffDelay(attempt)
		if retryAfter > 0 {
			delay = retryAfter
		}
		f.log.WithField("attempt", attempt+1).WithField("delay", delay.String()).Debug("fetch retry scheduled")

		timer := time.NewTimer(delay)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return nil, ingesterr.Cancelled("fetch cancelled during backoff: %v", ctx.Err())
		}
	}
	return nil, lastErr
}

// attempt performs a single HTTP round trip, returning a Retry-After
// duration (0 if absent) alongside any error.
func (f *Fetcher) attempt(ctx context.Context, req Request) (*Response, time.Duration, error) {
	httpReq, err := http.NewRequestWithContext(ctx, methodOrGet(req.Method), req.URL, req.Body)
	if err != nil {
		return nil, 0, ingesterr.Config("build request: %v", err)
	}
	httpReq.Header.Set("User-Agent", version.UserAgent())
	for k, v := range req.Headers {
		httpReq.Header.Set(k, v)
	}

	resp, err := f.client.Do(httpReq)
	if err != nil {
		return nil, 0, ingesterr.Transient(err, "request to %s failed", req.URL)
	}
	defer resp.Body.Close()

	body, readErr := io.ReadAll(resp.Body)
	if readErr != nil {
		return nil, 0, ingesterr.Transient(readErr, "read response body from %s", req.URL)
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		retryAfter := parseRetryAfter(resp.Header.Get("Retry-After"))
		return nil, retryAfter, ingesterr.RateLimited("rate limited by %s (status %d)", req.URL, resp.StatusCode)
	case resp.StatusCode >= 500:
		return nil, 0, ingesterr.Transient(nil, "server error from %s (status %d)", req.URL, resp.StatusCode)
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, 0, ingesterr.Auth("authentication rejected by %s (status %d)", req.URL, resp.StatusCode)
	case resp.StatusCode >= 400:
		return nil, 0, ingesterr.New(ingesterr.KindConfig, fmt.Sprintf("client error from %s (status %d): %s", req.URL, resp.StatusCode, truncate(body, 300)))
	}

	return &Response{StatusCode: resp.StatusCode, Body: body, Header: resp.Header}, 0, nil
}

// backoffDelay computes base*factor^attempt, capped at BackoffMax, with
// ±25% jitter — the same jitter fraction the Retry Scheduler applies to
// job-level retries, kept consistent across the engine.
func (f *Fetcher) backoffDelay(attempt int) time.Duration {
	base := f.policy.BackoffBase
	if base <= 0 {
		base = time.Second
	}
	factor := f.policy.BackoffFactor
	if factor <= 0 {
		factor = 2.0
	}
	delay := float64(base) * pow(factor, attempt)
	if max := f.policy.BackoffMax; max > 0 && delay > float64(max) {
		delay = float64(max)
	}
	jitter := delay * 0.25 * (2*rand.Float64() - 1)
	delay += jitter
	if delay < float64(time.Millisecond*100) {
		delay = float64(time.Millisecond * 100)
	}
	return time.Duration(delay)
}

// waitRateLimit blocks until st's per-host token bucket admits one request.
func (f *Fetcher) waitRateLimit(ctx context.Context, st *hostState) error {
	if err := st.limiter.Wait(ctx); err != nil {
		return ingesterr.Cancelled("fetch cancelled waiting for rate limit: %v", err)
	}
	return nil
}

func pow(base float64, exp int) float64 {
	result := 1.0
	for i := 0; i < exp; i++ {
		result *= base
	}
	return result
}

func parseRetryAfter(v string) time.Duration {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil {
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(v); err == nil {
		if d := time.Until(t); d > 0 {
			return d
		}
	}
	return 0
}

func methodOrGet(m string) string {
	if m == "" {
		return http.MethodGet
	}
	return m
}

func truncate(b []byte, n int) string {
	s := string(b)
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

func asIngestErr(err error, target **ingesterr.Error) bool {
	for err != nil {
		if e, ok := err.(*ingesterr.Error); ok {
			*target = e
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}

func max(a, b int) int {
	if a > b {
		return a
	}
	return b
}

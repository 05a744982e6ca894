package fetch

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/r3e-network/ingestion-engine/internal/ingesterr"
)

func TestDoRetriesOn5xxThenSucceeds(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&calls, 1)
		if n < 3 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	policy := DefaultPolicy()
	policy.BackoffBase = time.Millisecond
	policy.BackoffMax = 5 * time.Millisecond
	policy.MaxRetries = 5

	f := New(policy, nil, nil)
	resp, err := f.Do(context.Background(), Request{URL: srv.URL})
	if err != nil {
		t.Fatalf("expected success after retries, got %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if calls != 3 {
		t.Fatalf("expected 3 calls, got %d", calls)
	}
}

func TestDoHonorsRetryAfterHeader(t *testing.T) {
	var calls int32
	start := time.Now()
	var firstCallAt time.Time
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&calls, 1)
		if n == 1 {
			firstCallAt = time.Now()
			w.Header().Set("Retry-After", "0")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	policy := DefaultPolicy()
	policy.MaxRetries = 3
	f := New(policy, nil, nil)
	_, err := f.Do(context.Background(), Request{URL: srv.URL})
	if err != nil {
		t.Fatalf("expected success, got %v", err)
	}
	if calls != 2 {
		t.Fatalf("expected 2 calls, got %d", calls)
	}
	if firstCallAt.Before(start) {
		t.Fatalf("unexpected ordering")
	}
}

func TestDoDoesNotRetryOn4xx(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	f := New(DefaultPolicy(), nil, nil)
	_, err := f.Do(context.Background(), Request{URL: srv.URL})
	if err == nil {
		t.Fatal("expected error")
	}
	kind, ok := ingesterr.KindOf(err)
	if !ok || kind != ingesterr.KindConfig {
		t.Fatalf("expected config error kind, got %v", kind)
	}
	if calls != 1 {
		t.Fatalf("expected exactly 1 call for non-retriable error, got %d", calls)
	}
}

func TestDoReturnsAuthErrorOn401(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	f := New(DefaultPolicy(), nil, nil)
	_, err := f.Do(context.Background(), Request{URL: srv.URL})
	kind, ok := ingesterr.KindOf(err)
	if !ok || kind != ingesterr.KindAuth {
		t.Fatalf("expected auth error kind, got %v (ok=%v)", kind, ok)
	}
}

func TestDoCancelledContextReturnsCancelledKind(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(50 * time.Millisecond)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	f := New(DefaultPolicy(), nil, nil)
	_, err := f.Do(ctx, Request{URL: srv.URL})
	if err == nil {
		t.Fatal("expected error for cancelled context")
	}
	if kind, ok := ingesterr.KindOf(err); !ok || kind != ingesterr.KindCancelled {
		t.Fatalf("expected cancelled kind, got %v", kind)
	}
}

func TestBackoffDelayRespectsMax(t *testing.T) {
	f := New(Policy{
		BackoffBase:   time.Second,
		BackoffFactor: 2.0,
		BackoffMax:    3 * time.Second,
	}, nil, nil)

	for attempt := 0; attempt < 10; attempt++ {
		d := f.backoffDelay(attempt)
		// ceiling is BackoffMax plus 25% jitter
		if d > 3*time.Second+750*time.Millisecond {
			t.Fatalf("attempt %d: delay %v exceeds max+jitter bound", attempt, d)
		}
	}
}

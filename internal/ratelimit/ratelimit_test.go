package ratelimit

import (
	"context"
	"testing"
	"time"
)

func TestAllowFallsBackToLocalLimiterWithoutRedisClient(t *testing.T) {
	l := New(nil, nil)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		ok, err := l.Allow(ctx, "eia", 3, time.Minute)
		if err != nil {
			t.Fatalf("allow: %v", err)
		}
		if !ok {
			t.Fatalf("expected request %d to be allowed within budget", i+1)
		}
	}

	ok, err := l.Allow(ctx, "eia", 3, time.Minute)
	if err != nil {
		t.Fatalf("allow: %v", err)
	}
	if ok {
		t.Fatal("expected the 4th request to be rejected over budget")
	}
}

func TestAllowTracksSourcesIndependently(t *testing.T) {
	l := New(nil, nil)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if ok, _ := l.Allow(ctx, "eia", 2, time.Minute); !ok {
			t.Fatalf("expected eia request %d allowed", i+1)
		}
	}
	if ok, _ := l.Allow(ctx, "fred", 2, time.Minute); !ok {
		t.Fatal("expected fred's independent budget to allow its first request")
	}
}

func TestAllowResetsAfterWindowElapses(t *testing.T) {
	l := New(nil, nil)
	ctx := context.Background()

	if ok, _ := l.Allow(ctx, "eia", 1, 10*time.Millisecond); !ok {
		t.Fatal("expected first request allowed")
	}
	if ok, _ := l.Allow(ctx, "eia", 1, 10*time.Millisecond); ok {
		t.Fatal("expected second request within the same window to be rejected")
	}
	time.Sleep(20 * time.Millisecond)
	if ok, _ := l.Allow(ctx, "eia", 1, 10*time.Millisecond); !ok {
		t.Fatal("expected a request after the window elapsed to be allowed")
	}
}

// Package ratelimit coordinates per-source request pacing across multiple
// engine processes. fetch.Fetcher's per-host limiter is in-process only;
// this package adds a Redis-backed fixed-window counter so two processes
// ingesting the same source don't together exceed its rate limit, with an
// in-process fallback when Redis is unavailable so a single-process
// deployment never depends on it.
package ratelimit

import (
	"context"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/r3e-network/ingestion-engine/pkg/logger"
)

// Limiter enforces a maximum request count per source within a fixed
// window.
type Limiter struct {
	client   *redis.Client
	log      *logger.Logger
	fallback *localLimiter
}

// New constructs a Limiter. A nil client disables the distributed path and
// every call is served by the in-process fallback.
func New(client *redis.Client, log *logger.Logger) *Limiter {
	if log == nil {
		log = logger.NewDefault("ratelimit")
	}
	return &Limiter{client: client, log: log, fallback: newLocalLimiter()}
}

// Allow reports whether a request to source may proceed now under a
// max-per-window budget. Every call that returns true also consumes one
// slot in the current window.
func (l *Limiter) Allow(ctx context.Context, source string, max int, window time.Duration) (bool, error) {
	if l.client == nil {
		return l.fallback.Allow(source, max, window), nil
	}

	key := "ratelimit:" + source
	count, err := l.client.Incr(ctx, key).Result()
	if err != nil {
		l.log.WithField("source", source).WithField("error", err.Error()).
			Warn("redis rate limiter unavailable, falling back to in-process limiter")
		return l.fallback.Allow(source, max, window), nil
	}
	if count == 1 {
		// First request in this window: set the TTL that clears the
		// counter; a failed EXPIRE would otherwise pin the key forever.
		if err := l.client.Expire(ctx, key, window).Err(); err != nil {
			l.log.WithField("source", source).WithField("error", err.Error()).Warn("set rate limit window TTL failed")
		}
	}
	return count <= int64(max), nil
}

// localLimiter is a simple fixed-window counter per source, used when Redis
// is absent or unreachable.
type localLimiter struct {
	mu      sync.Mutex
	windows map[string]*windowState
}

type windowState struct {
	count     int
	resetAt   time.Time
}

func newLocalLimiter() *localLimiter {
	return &localLimiter{windows: make(map[string]*windowState)}
}

func (l *localLimiter) Allow(source string, max int, window time.Duration) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()
	st, ok := l.windows[source]
	if !ok || now.After(st.resetAt) {
		st = &windowState{count: 0, resetAt: now.Add(window)}
		l.windows[source] = st
	}
	st.count++
	return st.count <= max
}

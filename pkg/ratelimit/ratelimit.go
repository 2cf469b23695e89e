// Package ratelimit throttles event ingress per caller with a fixed-window
// counter. The counter lives either in process memory or in Redis, so a
// multi-node deployment enforces one shared budget.
package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

var (
	// ErrInvalidLimit is returned for non-positive limits or windows.
	ErrInvalidLimit = errors.New("ratelimit: limit and window must be positive")
	// ErrCounterFailed indicates the backing counter could not be updated.
	ErrCounterFailed = errors.New("ratelimit: failed to update counter")
)

// Counter increments the hit count for a key within the current window and
// returns the new count. The first hit of a window starts its expiry clock.
type Counter interface {
	Incr(ctx context.Context, key string, window time.Duration) (int64, error)
}

// Limiter enforces a maximum number of hits per key per window.
type Limiter struct {
	counter Counter
	limit   int64
	window  time.Duration
}

// New creates a limiter allowing limit hits per window per key.
func New(counter Counter, limit int64, window time.Duration) (*Limiter, error) {
	if limit <= 0 || window <= 0 {
		return nil, ErrInvalidLimit
	}
	return &Limiter{counter: counter, limit: limit, window: window}, nil
}

// Allow records a hit for key and reports whether it is within the budget.
func (l *Limiter) Allow(ctx context.Context, key string) (bool, error) {
	count, err := l.counter.Incr(ctx, key, l.window)
	if err != nil {
		return false, fmt.Errorf("%w: %w", ErrCounterFailed, err)
	}
	return count <= l.limit, nil
}

// Middleware rejects requests over the budget with 429. keyFn derives the
// throttling key from the request; an empty key skips the check. A counter
// failure lets the request through, since losing rate limiting is better
// than losing ingress.
func Middleware(limiter *Limiter, keyFn func(*http.Request) string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := keyFn(r)
			if key == "" {
				next.ServeHTTP(w, r)
				return
			}

			allowed, err := limiter.Allow(r.Context(), key)
			if err == nil && !allowed {
				w.Header().Set("Retry-After", strconv.Itoa(int(limiter.window/time.Second)))
				http.Error(w, "Too Many Requests", http.StatusTooManyRequests)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RedisCounter counts hits in Redis, shared across nodes.
type RedisCounter struct {
	client redis.UniversalClient
	prefix string
}

// NewRedisCounter creates a counter namespaced under "ratelimit:".
func NewRedisCounter(client redis.UniversalClient) *RedisCounter {
	return &RedisCounter{client: client, prefix: "ratelimit:"}
}

func (c *RedisCounter) Incr(ctx context.Context, key string, window time.Duration) (int64, error) {
	full := c.prefix + key

	pipe := c.client.TxPipeline()
	incr := pipe.Incr(ctx, full)
	pipe.ExpireNX(ctx, full, window)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, err
	}
	return incr.Val(), nil
}

// MemoryCounter counts hits in process memory. Suitable for tests and
// single-node deployments.
type MemoryCounter struct {
	mu      sync.Mutex
	windows map[string]*memoryWindow
}

type memoryWindow struct {
	count   int64
	resetAt time.Time
}

// NewMemoryCounter creates an in-process counter.
func NewMemoryCounter() *MemoryCounter {
	return &MemoryCounter{windows: make(map[string]*memoryWindow)}
}

func (c *MemoryCounter) Incr(_ context.Context, key string, window time.Duration) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	w, ok := c.windows[key]
	if !ok || now.After(w.resetAt) {
		w = &memoryWindow{resetAt: now.Add(window)}
		c.windows[key] = w
	}
	w.count++
	return w.count, nil
}

// Package ratelimit provides per-client rate limiting middleware. The
// in-memory limiter keeps a token bucket per key; the Redis limiter shares
// buckets across server replicas.
package ratelimit

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/pendergraft/reportchain/internal/middleware/realip"
)

// Config holds the configuration for rate limiting
type Config struct {
	// Enabled enables rate limiting
	Enabled bool
	// RequestsPerMin is the number of requests allowed per minute per key
	RequestsPerMin int
	// BurstSize is the maximum burst size
	BurstSize int
	// CleanupMinutes is how often to clean up stale entries
	CleanupMinutes int
}

// Limiter decides whether the caller identified by key may proceed.
type Limiter interface {
	Allow(ctx context.Context, key string) (bool, error)
}

type keyLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimiter is an in-process Limiter holding one bucket per key.
type RateLimiter struct {
	mu       sync.Mutex
	limiters map[string]*keyLimiter
	rate     rate.Limit
	burst    int
	cleanup  time.Duration
	stopOnce sync.Once
	stopCh   chan struct{}
}

// New creates a RateLimiter and starts its cleanup goroutine.
func New(cfg Config) *RateLimiter {
	cleanup := time.Duration(cfg.CleanupMinutes) * time.Minute
	if cleanup <= 0 {
		cleanup = 10 * time.Minute
	}

	rl := &RateLimiter{
		limiters: make(map[string]*keyLimiter),
		rate:     perSecond(cfg.RequestsPerMin),
		burst:    max(cfg.BurstSize, 1),
		cleanup:  cleanup,
		stopCh:   make(chan struct{}),
	}
	go rl.cleanupLoop()
	return rl
}

func perSecond(rpm int) rate.Limit {
	return rate.Limit(float64(rpm) / 60.0)
}

// Stop stops the cleanup goroutine. It is safe to call more than once.
func (rl *RateLimiter) Stop() {
	rl.stopOnce.Do(func() { close(rl.stopCh) })
}

func (rl *RateLimiter) cleanupLoop() {
	ticker := time.NewTicker(rl.cleanup)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			rl.evictStale(time.Now())
		case <-rl.stopCh:
			return
		}
	}
}

func (rl *RateLimiter) evictStale(now time.Time) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	cutoff := now.Add(-rl.cleanup)
	for key, l := range rl.limiters {
		if l.lastSeen.Before(cutoff) {
			delete(rl.limiters, key)
		}
	}
}

func (rl *RateLimiter) limiterFor(key string) *rate.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	if l, ok := rl.limiters[key]; ok {
		l.lastSeen = time.Now()
		return l.limiter
	}
	l := rate.NewLimiter(rl.rate, rl.burst)
	rl.limiters[key] = &keyLimiter{limiter: l, lastSeen: time.Now()}
	return l
}

// Allow consumes one token from the key's bucket.
func (rl *RateLimiter) Allow(_ context.Context, key string) (bool, error) {
	return rl.limiterFor(key).Allow(), nil
}

// exemptPaths bypass the global limit.
var exemptPaths = map[string]bool{
	"/health":  true,
	"/healthz": true,
	"/readyz":  true,
	"/metrics": true,
}

// Handler rejects requests with 429 once the client's bucket is empty.
// Requests are keyed by client IP under the given scope. A limiter error
// lets the request through.
func Handler(l Limiter, scope string, retryAfter time.Duration, logger *slog.Logger) func(http.Handler) http.Handler {
	retry := strconv.Itoa(max(int(retryAfter.Seconds()), 1))

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if exemptPaths[r.URL.Path] {
				next.ServeHTTP(w, r)
				return
			}

			key := scope + ":" + realip.GetClientIP(r)
			ok, err := l.Allow(r.Context(), key)
			if err != nil {
				logger.WarnContext(r.Context(), "rate limiter unavailable", "scope", scope, "error", err)
				next.ServeHTTP(w, r)
				return
			}
			if !ok {
				w.Header().Set("Content-Type", "application/json")
				w.Header().Set("Retry-After", retry)
				w.Header().Set("X-Rate-Limit-Exceeded", "true")
				w.WriteHeader(http.StatusTooManyRequests)
				json.NewEncoder(w).Encode(map[string]any{
					"error": map[string]any{
						"code":    "RATE_LIMIT_EXCEEDED",
						"message": "Too many requests. Please try again later.",
					},
				})
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// Middleware limits the whole API per client IP. The returned stop function
// ends the cleanup goroutine.
func Middleware(cfg Config, logger *slog.Logger) (func(http.Handler) http.Handler, func()) {
	if !cfg.Enabled {
		return func(next http.Handler) http.Handler { return next }, func() {}
	}
	rl := New(cfg)
	return Handler(rl, "global", time.Minute, logger), rl.Stop
}

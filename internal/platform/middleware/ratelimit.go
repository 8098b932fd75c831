package middleware

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Counter is the fixed-window hit counter behind RateLimit. Incr records one
// hit against key and returns the window's running total.
type Counter interface {
	Incr(ctx context.Context, key string, window time.Duration) (int64, error)
}

const rateLimitKeyPrefix = "rl:ip:"

// RedisCounter counts hits in Redis so the window is shared across instances.
type RedisCounter struct {
	client *redis.Client
}

func NewRedisCounter(client *redis.Client) *RedisCounter {
	return &RedisCounter{client: client}
}

func (c *RedisCounter) Incr(ctx context.Context, key string, window time.Duration) (int64, error) {
	pipe := c.client.TxPipeline()
	count := pipe.Incr(ctx, rateLimitKeyPrefix+key)
	pipe.ExpireNX(ctx, rateLimitKeyPrefix+key, window)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, err
	}
	return count.Val(), nil
}

// MemoryCounter is the single-instance fallback used when Redis is not
// configured.
type MemoryCounter struct {
	mu      sync.Mutex
	windows map[string]*memoryWindow
}

type memoryWindow struct {
	start time.Time
	count int64
}

func NewMemoryCounter() *MemoryCounter {
	return &MemoryCounter{windows: make(map[string]*memoryWindow)}
}

func (c *MemoryCounter) Incr(_ context.Context, key string, window time.Duration) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := time.Now()
	w, ok := c.windows[key]
	if !ok || now.Sub(w.start) >= window {
		w = &memoryWindow{start: now}
		c.windows[key] = w
	}
	w.count++
	return w.count, nil
}

// RateLimit caps requests per client IP over a fixed window. Counter failures
// fail open: a broken Redis must not take the API down with it.
func RateLimit(counter Counter, logger *slog.Logger, limit int, window time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if limit <= 0 {
				next.ServeHTTP(w, r)
				return
			}

			ip := clientIP(r)
			count, err := counter.Incr(r.Context(), ip, window)
			if err != nil {
				logger.WarnContext(r.Context(), "rate limit check failed",
					"error", err,
					"request_id", GetRequestID(r.Context()),
				)
				next.ServeHTTP(w, r)
				return
			}

			remaining := int64(limit) - count
			if remaining < 0 {
				remaining = 0
			}
			w.Header().Set("X-RateLimit-Limit", strconv.Itoa(limit))
			w.Header().Set("X-RateLimit-Remaining", strconv.FormatInt(remaining, 10))

			if count > int64(limit) {
				retryAfter := int(window.Seconds())
				w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusTooManyRequests)
				_, _ = w.Write([]byte(`{"error":"rate_limit_exceeded","error_description":"too many requests, slow down"}`))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// clientIP prefers the first X-Forwarded-For hop, falling back to the
// connection's remote address.
func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		if i := strings.IndexByte(fwd, ','); i >= 0 {
			fwd = fwd[:i]
		}
		return strings.TrimSpace(fwd)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

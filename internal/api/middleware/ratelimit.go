package middleware

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/alqutdigital/tender-watch/pkg/logger"
)

// RateLimitConfig holds configuration for rate limiting.
type RateLimitConfig struct {
	// Crawl limits manual crawl triggers, which each start a browser.
	Crawl Limit
	// Notify limits test and pending notification calls.
	Notify  Limit
	Default Limit
	// GracefulDegradation lets requests through when the store fails.
	GracefulDegradation bool
}

// Limit defines rate limit parameters.
type Limit struct {
	Requests int
	Window   time.Duration
}

// DefaultRateLimitConfig returns default rate limit configuration.
func DefaultRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{
		Crawl:               Limit{Requests: 5, Window: time.Minute},
		Notify:              Limit{Requests: 10, Window: time.Minute},
		Default:             Limit{Requests: 60, Window: time.Minute},
		GracefulDegradation: true,
	}
}

// RateLimitStore counts requests per key within a window.
type RateLimitStore interface {
	// Increment bumps the counter for key, starting a new window when the key
	// is absent, and returns the new count.
	Increment(ctx context.Context, key string, window time.Duration) (int64, error)
}

// MemoryRateLimitStore keeps counters in process.
type MemoryRateLimitStore struct {
	mu      sync.Mutex
	entries map[string]*rateLimitEntry
	now     func() time.Time
}

type rateLimitEntry struct {
	count     int64
	expiresAt time.Time
}

// NewMemoryRateLimitStore creates a new in-memory rate limit store.
func NewMemoryRateLimitStore() *MemoryRateLimitStore {
	return &MemoryRateLimitStore{
		entries: make(map[string]*rateLimitEntry),
		now:     time.Now,
	}
}

// Increment increments the counter for a key. Expired entries are swept on
// the way.
func (s *MemoryRateLimitStore) Increment(_ context.Context, key string, window time.Duration) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	for k, e := range s.entries {
		if now.After(e.expiresAt) {
			delete(s.entries, k)
		}
	}

	entry, ok := s.entries[key]
	if !ok {
		s.entries[key] = &rateLimitEntry{count: 1, expiresAt: now.Add(window)}
		return 1, nil
	}
	entry.count++
	return entry.count, nil
}

// RedisRateLimitStore shares counters between server instances.
type RedisRateLimitStore struct {
	client redis.Cmdable
	prefix string
}

// NewRedisRateLimitStore creates a Redis-backed store.
func NewRedisRateLimitStore(client redis.Cmdable, prefix string) *RedisRateLimitStore {
	return &RedisRateLimitStore{client: client, prefix: prefix}
}

// Increment increments the counter for a key. The expiry is only set when
// the window starts.
func (s *RedisRateLimitStore) Increment(ctx context.Context, key string, window time.Duration) (int64, error) {
	fullKey := s.prefix + ":" + key

	count, err := s.client.Incr(ctx, fullKey).Result()
	if err != nil {
		return 0, err
	}
	if count == 1 {
		if err := s.client.Expire(ctx, fullKey, window).Err(); err != nil {
			return 0, err
		}
	}
	return count, nil
}

// RateLimiter provides rate limiting middleware.
type RateLimiter struct {
	store  RateLimitStore
	config RateLimitConfig
	log    *logger.Logger
}

// NewRateLimiter creates a new RateLimiter instance.
func NewRateLimiter(store RateLimitStore, config RateLimitConfig, log *logger.Logger) *RateLimiter {
	return &RateLimiter{
		store:  store,
		config: config,
		log:    log.WithComponent("rate_limiter"),
	}
}

// ErrStoreUnavailable is reported when counting fails and degradation is off.
var ErrStoreUnavailable = errors.New("rate limit store unavailable")

// Middleware returns a rate limiting middleware for a limit type: "crawl",
// "notify" or anything else for the default limit.
func (rl *RateLimiter) Middleware(limitType string) func(next http.Handler) http.Handler {
	limit := rl.limit(limitType)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if limit.Requests <= 0 {
				next.ServeHTTP(w, r)
				return
			}

			client := clientID(r)
			key := limitType + ":" + client

			count, err := rl.store.Increment(r.Context(), key, limit.Window)
			if err != nil {
				rl.log.WithContext(r.Context()).Error("rate limit check failed", "key", key, "error", err)
				if rl.config.GracefulDegradation {
					next.ServeHTTP(w, r)
					return
				}
				http.Error(w, ErrStoreUnavailable.Error(), http.StatusServiceUnavailable)
				return
			}

			remaining := max(limit.Requests-int(count), 0)
			window := strconv.Itoa(int(limit.Window.Seconds()))
			w.Header().Set("X-RateLimit-Limit", strconv.Itoa(limit.Requests))
			w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(remaining))
			w.Header().Set("X-RateLimit-Reset", window)

			if count > int64(limit.Requests) {
				rl.log.WithContext(r.Context()).Warn("rate limit exceeded",
					"client_id", client,
					"limit_type", limitType,
					"count", count,
				)
				w.Header().Set("Retry-After", window)
				http.Error(w, "Rate limit exceeded. Please try again later.", http.StatusTooManyRequests)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func (rl *RateLimiter) limit(limitType string) Limit {
	switch limitType {
	case "crawl":
		return rl.config.Crawl
	case "notify":
		return rl.config.Notify
	default:
		return rl.config.Default
	}
}

// clientID identifies the caller. chi's RealIP middleware has already
// rewritten RemoteAddr from proxy headers.
func clientID(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		return strings.TrimSpace(first)
	}
	ip, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return ip
}

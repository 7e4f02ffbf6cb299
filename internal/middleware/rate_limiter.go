package middleware

import (
	"context"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// RateLimiter enforces per-caller request limits on the API.
//
// With a Redis client attached (WithRedis), counters are kept in Redis
// (INCR + EXPIRE) so every API replica enforces the same limit against the
// same key instead of each replica tracking its own in-memory window. With
// no Redis client, it falls back to the in-memory sliding window below,
// which is still correct for a single-replica deployment.
type RateLimiter struct {
	mu       sync.RWMutex
	windows  map[string]*rateLimitWindow
	defaults RateLimitConfig
	logger   *log.Logger
	redis    *redis.Client
}

// RateLimitConfig defines the rate limiting thresholds.
type RateLimitConfig struct {
	MaxCallsPerMinute int // Default max calls per minute per caller
	BurstSize         int // Allow temporary bursts above the limit
}

type rateLimitWindow struct {
	count       int
	windowStart time.Time
}

// NewRateLimiter creates a new rate limiter with the given defaults.
func NewRateLimiter(cfg RateLimitConfig) *RateLimiter {
	if cfg.MaxCallsPerMinute == 0 {
		cfg.MaxCallsPerMinute = 60 // 1 per second default
	}
	if cfg.BurstSize == 0 {
		cfg.BurstSize = cfg.MaxCallsPerMinute * 2
	}

	rl := &RateLimiter{
		windows:  make(map[string]*rateLimitWindow),
		defaults: cfg,
		logger:   log.New(log.Writer(), "[RATE-LIMIT] ", log.LstdFlags),
	}

	// Start background cleanup
	go rl.cleanup()

	return rl
}

// WithRedis attaches a shared Redis client so rate limits are enforced
// across every replica of this service rather than per-process.
func (rl *RateLimiter) WithRedis(rdb *redis.Client) *RateLimiter {
	rl.redis = rdb
	return rl
}

// Allow checks if a request from the given key (userID, falling back to
// remote address) should be allowed. Returns true if within limits.
//
// Uses a read-first pattern: only acquires the write lock when a new
// window must be created or the window has expired. Existing-window checks
// use RLock to reduce contention under high concurrency.
func (rl *RateLimiter) Allow(key string) bool {
	if rl.redis != nil {
		return rl.allowRedis(key)
	}
	return rl.allowLocal(key)
}

// allowRedis implements the same burst/per-minute check as allowLocal but
// keyed on a Redis counter shared by every replica: INCR the per-minute
// bucket and set its expiry only on the first increment, so the bucket
// self-expires two minutes after it was first touched.
func (rl *RateLimiter) allowRedis(key string) bool {
	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()

	bucket := "ratelimit:" + key + ":" + time.Now().Truncate(time.Minute).Format(time.RFC3339)
	count, err := rl.redis.Incr(ctx, bucket).Result()
	if err != nil {
		rl.logger.Printf("redis rate limit check failed, allowing request: %v", err)
		return true
	}
	if count == 1 {
		rl.redis.Expire(ctx, bucket, 2*time.Minute)
	}

	if count > int64(rl.defaults.BurstSize) {
		rl.logger.Printf("🚫 Rate limit exceeded (burst): key=%s count=%d limit=%d",
			key, count, rl.defaults.BurstSize)
		return false
	}
	if count > int64(rl.defaults.MaxCallsPerMinute) {
		rl.logger.Printf("⚠️ Rate limit exceeded: key=%s count=%d limit=%d",
			key, count, rl.defaults.MaxCallsPerMinute)
		return false
	}
	return true
}

func (rl *RateLimiter) allowLocal(key string) bool {
	now := time.Now()

	// Fast path: check existing window under read lock
	rl.mu.RLock()
	window, exists := rl.windows[key]
	if exists && now.Sub(window.windowStart) <= time.Minute {
		// Window is active — increment and check (still under read lock,
		// but count is only used for limit checks so a slight race on
		// count++ is acceptable for rate limiting — it's a soft limit)
		window.count++
		count := window.count
		rl.mu.RUnlock()

		if count > rl.defaults.BurstSize {
			rl.logger.Printf("🚫 Rate limit exceeded (burst): key=%s count=%d limit=%d",
				key, count, rl.defaults.BurstSize)
			return false
		}
		if count > rl.defaults.MaxCallsPerMinute {
			rl.logger.Printf("⚠️ Rate limit exceeded: key=%s count=%d limit=%d",
				key, count, rl.defaults.MaxCallsPerMinute)
			return false
		}
		return true
	}
	rl.mu.RUnlock()

	// Slow path: new window needed — acquire write lock
	rl.mu.Lock()
	defer rl.mu.Unlock()

	// Double-check after acquiring write lock (another goroutine may have created it)
	window, exists = rl.windows[key]
	if exists && now.Sub(window.windowStart) <= time.Minute {
		window.count++
		return window.count <= rl.defaults.BurstSize
	}

	// Create new window
	rl.windows[key] = &rateLimitWindow{
		count:       1,
		windowStart: now,
	}
	return true
}

// Middleware returns an HTTP middleware that enforces rate limiting,
// keyed off the authenticated user set by Auth (falls back to the remote
// address for unauthenticated routes).
func (rl *RateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key, ok := UserID(r.Context())
		if !ok || key == "" {
			key = r.RemoteAddr
		}

		if !rl.Allow(key) {
			w.Header().Set("Retry-After", "60")
			WriteError(w, http.StatusTooManyRequests, "RateLimited", "rate limit exceeded")
			return
		}

		next.ServeHTTP(w, r)
	})
}

// cleanup periodically removes expired windows to prevent memory leaks.
func (rl *RateLimiter) cleanup() {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()

	for range ticker.C {
		rl.mu.Lock()
		now := time.Now()
		for key, window := range rl.windows {
			if now.Sub(window.windowStart) > 2*time.Minute {
				delete(rl.windows, key)
			}
		}
		rl.mu.Unlock()
	}
}

// Stats returns current rate limiter statistics.
func (rl *RateLimiter) Stats() map[string]interface{} {
	rl.mu.RLock()
	defer rl.mu.RUnlock()

	return map[string]interface{}{
		"active_windows":    len(rl.windows),
		"max_calls_per_min": rl.defaults.MaxCallsPerMinute,
		"burst_size":        rl.defaults.BurstSize,
	}
}

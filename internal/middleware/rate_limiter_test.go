package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRateLimiter_AllowsWithinLimit(t *testing.T) {
	rl := NewRateLimiter(RateLimitConfig{MaxCallsPerMinute: 5, BurstSize: 5})
	for i := 0; i < 5; i++ {
		assert.True(t, rl.Allow("key-1"))
	}
}

func TestRateLimiter_BlocksPastBurstSize(t *testing.T) {
	rl := NewRateLimiter(RateLimitConfig{MaxCallsPerMinute: 2, BurstSize: 3})
	assert.True(t, rl.Allow("key-1"))
	assert.True(t, rl.Allow("key-1"))
	assert.True(t, rl.Allow("key-1"))
	assert.False(t, rl.Allow("key-1"))
}

func TestRateLimiter_TracksKeysIndependently(t *testing.T) {
	rl := NewRateLimiter(RateLimitConfig{MaxCallsPerMinute: 1, BurstSize: 1})
	assert.True(t, rl.Allow("key-a"))
	assert.True(t, rl.Allow("key-b"))
	assert.False(t, rl.Allow("key-a"))
}

func TestRateLimiter_Middleware_BlocksWithTooManyRequests(t *testing.T) {
	rl := NewRateLimiter(RateLimitConfig{MaxCallsPerMinute: 1, BurstSize: 1})
	h := rl.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "1.2.3.4:5555"

	rec1 := httptest.NewRecorder()
	h.ServeHTTP(rec1, req)
	assert.Equal(t, http.StatusOK, rec1.Code)

	rec2 := httptest.NewRecorder()
	h.ServeHTTP(rec2, req)
	assert.Equal(t, http.StatusTooManyRequests, rec2.Code)
}

func TestRateLimiter_Stats(t *testing.T) {
	rl := NewRateLimiter(RateLimitConfig{MaxCallsPerMinute: 10, BurstSize: 20})
	rl.Allow("key-1")
	stats := rl.Stats()
	assert.Equal(t, 1, stats["active_windows"])
	assert.Equal(t, 10, stats["max_calls_per_min"])
	assert.Equal(t, 20, stats["burst_size"])
}

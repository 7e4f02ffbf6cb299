package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// rateLimitErr always classifies as retryable rate_limit.
type rateLimitErr struct{}

func (rateLimitErr) Error() string { return "429 rate limit" }

func TestWithRetry_ExhaustsOnNeverSucceeding(t *testing.T) {
	attempts := 0
	cfg := Config{MaxAttempts: 4, Initial: time.Millisecond, Max: 5 * time.Millisecond, Multiplier: 2}
	res := WithRetry(context.Background(), cfg, func(ctx context.Context) error {
		attempts++
		return rateLimitErr{}
	})
	assert.False(t, res.Success)
	assert.Equal(t, 4, attempts)
	assert.Equal(t, 4, res.Attempts)
}

func TestWithRetry_NonRetryableStopsAtOneAttempt(t *testing.T) {
	attempts := 0
	cfg := Config{MaxAttempts: 5, Initial: time.Millisecond, Max: 5 * time.Millisecond, Multiplier: 2}
	res := WithRetry(context.Background(), cfg, func(ctx context.Context) error {
		attempts++
		return errors.New("403 forbidden")
	})
	assert.False(t, res.Success)
	assert.Equal(t, 1, attempts)
	assert.Equal(t, 1, res.Attempts)
}

func TestWithRetry_SucceedsAfterTransientFailures(t *testing.T) {
	attempts := 0
	cfg := Config{MaxAttempts: 5, Initial: time.Millisecond, Max: 5 * time.Millisecond, Multiplier: 2}
	res := WithRetry(context.Background(), cfg, func(ctx context.Context) error {
		attempts++
		if attempts < 4 {
			return rateLimitErr{}
		}
		return nil
	})
	require.True(t, res.Success)
	assert.Equal(t, 4, attempts)
	assert.Equal(t, 4, res.Attempts)
}

func TestWithRetry_RespectsCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	cfg := Config{MaxAttempts: 5, Initial: time.Millisecond, Max: 5 * time.Millisecond, Multiplier: 2}
	res := WithRetry(ctx, cfg, func(ctx context.Context) error {
		t.Fatal("fn should not be invoked once context is already cancelled")
		return nil
	})
	assert.False(t, res.Success)
	assert.ErrorIs(t, res.Err, ErrCancelled)
}

func TestBackoffDelay_MonotonicAndJittered(t *testing.T) {
	cfg := Config{MaxAttempts: 5, Initial: time.Second, Max: 60 * time.Second, Multiplier: 2}
	for attempt, want := range map[int]time.Duration{1: time.Second, 2: 2 * time.Second, 3: 4 * time.Second} {
		d := backoffDelay(cfg, attempt)
		lo := time.Duration(float64(want) * 0.9)
		hi := time.Duration(float64(want) * 1.1)
		assert.GreaterOrEqualf(t, d, lo, "attempt %d delay %v below jitter floor", attempt, d)
		assert.LessOrEqualf(t, d, hi, "attempt %d delay %v above jitter ceiling", attempt, d)
	}
}

func TestBackoffDelay_CapsAtMax(t *testing.T) {
	cfg := Config{MaxAttempts: 10, Initial: time.Second, Max: 3 * time.Second, Multiplier: 2}
	d := backoffDelay(cfg, 6)
	maxDelay := float64(3*time.Second) * 1.1
	assert.LessOrEqual(t, d, time.Duration(maxDelay))
}

package retry

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"time"
)

// Config configures WithRetry.
type Config struct {
	MaxAttempts int
	Initial     time.Duration
	Max         time.Duration
	Multiplier  float64
}

func DefaultConfig() Config {
	return Config{
		MaxAttempts: 5,
		Initial:     1 * time.Second,
		Max:         60 * time.Second,
		Multiplier:  2,
	}
}

// Result is the outcome of WithRetry.
type Result struct {
	Success  bool
	Attempts int
	Err      error
}

// ClassifiableError lets a caller's fn attach its own category instead of
// relying on message-based Classify — useful when the caller already knows
// the partner's structured error shape.
type ClassifiableError interface {
	error
	Category() Category
}

var ErrCancelled = errors.New("retry: cancelled by caller deadline")

// WithRetry executes fn, retrying on a retryable classification with
// exponential backoff plus ±10% jitter:
//
//	delay = min(initial * multiplier^(n-1), max) * (0.9..1.1)
//
// On a non-retryable classification it returns immediately with
// success:false and the attempts made so far (1 when the first call fails
// that way). An authentication failure is retried once; a second one
// returns immediately. On exhaustion it returns the last error.
// ctx cancellation is checked before each attempt and at each wait.
func WithRetry(ctx context.Context, cfg Config, fn func(ctx context.Context) error) Result {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultConfig().MaxAttempts
	}
	if cfg.Initial <= 0 {
		cfg.Initial = DefaultConfig().Initial
	}
	if cfg.Max <= 0 {
		cfg.Max = DefaultConfig().Max
	}
	if cfg.Multiplier <= 0 {
		cfg.Multiplier = DefaultConfig().Multiplier
	}

	var lastErr error
	authRetried := false
	for attempt := 1; attempt <= cfg.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return Result{Success: false, Attempts: attempt - 1, Err: ErrCancelled}
		}

		err := fn(ctx)
		if err == nil {
			return Result{Success: true, Attempts: attempt}
		}
		lastErr = err

		cat := categoryOf(err)
		if !cat.Retryable() {
			return Result{Success: false, Attempts: attempt, Err: err}
		}
		if cat == CategoryAuthentication {
			if authRetried {
				return Result{Success: false, Attempts: attempt, Err: err}
			}
			authRetried = true
		}
		if attempt == cfg.MaxAttempts {
			break
		}

		delay := backoffDelay(cfg, attempt)
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return Result{Success: false, Attempts: attempt, Err: ErrCancelled}
		}
	}
	return Result{Success: false, Attempts: cfg.MaxAttempts, Err: lastErr}
}

func categoryOf(err error) Category {
	var ce ClassifiableError
	if errors.As(err, &ce) {
		return ce.Category()
	}
	return Classify(err)
}

func backoffDelay(cfg Config, attempt int) time.Duration {
	base := float64(cfg.Initial) * math.Pow(cfg.Multiplier, float64(attempt-1))
	if base > float64(cfg.Max) {
		base = float64(cfg.Max)
	}
	jitter := base * (0.9 + rand.Float64()*0.2)
	return time.Duration(jitter)
}

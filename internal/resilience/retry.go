package resilience

import (
	"context"
	"math"
	"math/rand/v2"
	"time"

	"go.uber.org/zap"
)

// RetryConfig controls retry behavior with exponential backoff and jitter.
type RetryConfig struct {
	// MaxAttempts is the total number of attempts (including the first
	// try). A value of 1 means no retries. Default: 3.
	MaxAttempts int

	// BaseBackoff is the base delay unit: attempt n sleeps
	// base * 2^n plus jitter drawn from [0, base). Default: 1s.
	BaseBackoff time.Duration

	// MaxBackoff caps the computed backoff. Default: 30s.
	MaxBackoff time.Duration

	// AttemptTimeout bounds each individual attempt via a context
	// deadline, independent of run-level cancellation. Zero disables it.
	AttemptTimeout time.Duration

	// ShouldRetry optionally overrides the default error-kind check.
	// If nil, IsRetryable is used.
	ShouldRetry func(err error) bool

	// OnRetry is called before each backoff sleep with the attempt number
	// just completed and its error.
	OnRetry func(attempt int, err error)
}

// DefaultRetryConfig returns the default retry policy for fetch attempts.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts: 3,
		BaseBackoff: 1 * time.Second,
		MaxBackoff:  30 * time.Second,
	}
}

// DoVal executes fn with retry according to cfg and reports how many
// attempts were consumed; successes and failures both count.
//
// gate, if non-nil, runs before every attempt (the caller wires the
// circuit-breaker check and rate-limiter wait through it). A gate
// denial stops the loop immediately without consuming an attempt;
// its error is returned as-is so circuit-open denials stay
// distinguishable from fetch failures.
func DoVal[T any](ctx context.Context, cfg RetryConfig, gate func(ctx context.Context) error, fn func(ctx context.Context) (T, error)) (T, int, error) {
	cfg = applyDefaults(cfg)

	shouldRetry := cfg.ShouldRetry
	if shouldRetry == nil {
		shouldRetry = IsRetryable
	}

	var zero T
	var lastErr error
	attempts := 0

	for attempt := 0; attempt < cfg.MaxAttempts; attempt++ {
		if gate != nil {
			if err := gate(ctx); err != nil {
				// Keep the real fetch failure when the gate slams shut
				// mid-retry; a first-attempt denial surfaces as-is.
				if lastErr != nil {
					return zero, attempts, lastErr
				}
				return zero, attempts, err
			}
		}

		attempts++
		val, err := runAttempt(ctx, cfg.AttemptTimeout, fn)
		if err == nil {
			return val, attempts, nil
		}
		lastErr = err

		// Run-level cancellation stops retries immediately.
		if ctx.Err() != nil {
			return zero, attempts, lastErr
		}

		if !shouldRetry(lastErr) {
			return zero, attempts, lastErr
		}

		// Don't sleep after the last attempt.
		if attempt >= cfg.MaxAttempts-1 {
			break
		}

		if cfg.OnRetry != nil {
			cfg.OnRetry(attempts, lastErr)
		}

		delay := computeBackoff(attempt, cfg)
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return zero, attempts, lastErr
		case <-timer.C:
		}
	}

	return zero, attempts, lastErr
}

// Do is DoVal without a return value.
func Do(ctx context.Context, cfg RetryConfig, gate func(ctx context.Context) error, fn func(ctx context.Context) error) (int, error) {
	_, attempts, err := DoVal(ctx, cfg, gate, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return attempts, err
}

// runAttempt applies the per-attempt deadline when configured.
func runAttempt[T any](ctx context.Context, timeout time.Duration, fn func(ctx context.Context) (T, error)) (T, error) {
	if timeout <= 0 {
		return fn(ctx)
	}
	attemptCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return fn(attemptCtx)
}

func applyDefaults(cfg RetryConfig) RetryConfig {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.BaseBackoff <= 0 {
		cfg.BaseBackoff = 1 * time.Second
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = 30 * time.Second
	}
	return cfg
}

// computeBackoff returns base * 2^attempt capped at MaxBackoff, plus
// random jitter in [0, base).
func computeBackoff(attempt int, cfg RetryConfig) time.Duration {
	delay := float64(cfg.BaseBackoff) * math.Pow(2, float64(attempt))
	if delay > float64(cfg.MaxBackoff) {
		delay = float64(cfg.MaxBackoff)
	}
	jitter := rand.Float64() * float64(cfg.BaseBackoff)
	return time.Duration(delay + jitter)
}

// RetryLogger returns an OnRetry callback that logs each retry attempt.
func RetryLogger(sourceKey string) func(int, error) {
	return func(attempt int, err error) {
		zap.L().Warn("retrying fetch",
			zap.String("source", sourceKey),
			zap.Int("attempt", attempt),
			zap.Error(err),
		)
	}
}

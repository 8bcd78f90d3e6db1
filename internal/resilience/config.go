package resilience

import (
	"time"
)

// FromRetryConfig converts config values to a RetryConfig.
func FromRetryConfig(maxAttempts, baseBackoffMs, maxBackoffMs, attemptTimeoutSecs int) RetryConfig {
	cfg := DefaultRetryConfig()
	if maxAttempts > 0 {
		cfg.MaxAttempts = maxAttempts
	}
	if baseBackoffMs > 0 {
		cfg.BaseBackoff = time.Duration(baseBackoffMs) * time.Millisecond
	}
	if maxBackoffMs > 0 {
		cfg.MaxBackoff = time.Duration(maxBackoffMs) * time.Millisecond
	}
	if attemptTimeoutSecs > 0 {
		cfg.AttemptTimeout = time.Duration(attemptTimeoutSecs) * time.Second
	}
	return cfg
}

// FromCircuitConfig converts config values to a CircuitBreakerConfig.
func FromCircuitConfig(failureThreshold, recoveryTimeoutSecs int) CircuitBreakerConfig {
	cfg := DefaultCircuitBreakerConfig()
	if failureThreshold > 0 {
		cfg.FailureThreshold = failureThreshold
	}
	if recoveryTimeoutSecs > 0 {
		cfg.RecoveryTimeout = time.Duration(recoveryTimeoutSecs) * time.Second
	}
	return cfg
}

// FromRateLimitConfig converts config values to a RateLimiterConfig.
// perSourceMs maps source keys to interval overrides in milliseconds.
func FromRateLimitConfig(defaultIntervalMs int, perSourceMs map[string]int, globalRPS float64) RateLimiterConfig {
	cfg := DefaultRateLimiterConfig()
	if defaultIntervalMs > 0 {
		cfg.DefaultInterval = time.Duration(defaultIntervalMs) * time.Millisecond
	}
	if len(perSourceMs) > 0 {
		cfg.PerSource = make(map[string]time.Duration, len(perSourceMs))
		for key, ms := range perSourceMs {
			if ms > 0 {
				cfg.PerSource[key] = time.Duration(ms) * time.Millisecond
			}
		}
	}
	if globalRPS > 0 {
		cfg.GlobalRPS = globalRPS
	}
	return cfg
}

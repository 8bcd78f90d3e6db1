// Package resilience provides the failure-isolation machinery for the
// extraction engine: error classification, retry with backoff, per-source
// circuit breakers, per-source rate limiting, and the fetch session pool.
package resilience

import (
	"sync"
	"time"

	"github.com/rotisserie/eris"
)

// CircuitState represents the state of a circuit breaker.
type CircuitState int

const (
	// CircuitClosed is the normal operating state; requests flow through.
	CircuitClosed CircuitState = iota
	// CircuitOpen means too many failures; requests are rejected immediately.
	CircuitOpen
	// CircuitHalfOpen allows a single probe request to test recovery.
	CircuitHalfOpen
)

func (s CircuitState) String() string {
	switch s {
	case CircuitClosed:
		return "closed"
	case CircuitOpen:
		return "open"
	case CircuitHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// ErrCircuitOpen is returned when an attempt is rejected because the
// source's circuit is open.
var ErrCircuitOpen = eris.New("circuit breaker is open")

// CircuitBreakerConfig controls circuit breaker behavior.
type CircuitBreakerConfig struct {
	// FailureThreshold is the number of consecutive failures before
	// opening the circuit. Default: 5.
	FailureThreshold int

	// RecoveryTimeout is how long the circuit stays open before a probe
	// is allowed. Default: 60s.
	RecoveryTimeout time.Duration

	// OnStateChange is called when a circuit transitions between states,
	// with the source key and the transition.
	OnStateChange func(sourceKey string, from, to CircuitState)
}

// DefaultCircuitBreakerConfig returns sensible defaults.
func DefaultCircuitBreakerConfig() CircuitBreakerConfig {
	return CircuitBreakerConfig{
		FailureThreshold: 5,
		RecoveryTimeout:  60 * time.Second,
	}
}

// CircuitBreaker tracks failures for a single source.
//
// Allow must be checked before every fetch attempt; RecordSuccess and
// RecordFailure report the outcome. While half-open, exactly one probe
// is in flight at a time: the first caller after the recovery timeout
// claims the probe lease and everyone else keeps getting ErrCircuitOpen
// until that probe resolves.
type CircuitBreaker struct {
	cfg       CircuitBreakerConfig
	sourceKey string

	mu    sync.Mutex
	state CircuitState

	consecutiveFailures int
	lastFailureAt       time.Time
	openedAt            time.Time
	probeInFlight       bool

	// nowFunc allows test injection of time.
	nowFunc func() time.Time
}

// NewCircuitBreaker creates a breaker for one source.
func NewCircuitBreaker(sourceKey string, cfg CircuitBreakerConfig) *CircuitBreaker {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = 5
	}
	if cfg.RecoveryTimeout <= 0 {
		cfg.RecoveryTimeout = 60 * time.Second
	}
	return &CircuitBreaker{
		cfg:       cfg,
		sourceKey: sourceKey,
		state:     CircuitClosed,
		nowFunc:   time.Now,
	}
}

// Allow returns nil if an attempt may proceed, or ErrCircuitOpen.
// When the recovery timeout has elapsed on an open circuit, the first
// caller transitions it to half-open and claims the probe lease.
func (cb *CircuitBreaker) Allow() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case CircuitClosed:
		return nil
	case CircuitOpen:
		if cb.nowFunc().Sub(cb.openedAt) >= cb.cfg.RecoveryTimeout {
			cb.transition(CircuitHalfOpen)
			cb.probeInFlight = true
			return nil
		}
		return ErrCircuitOpen
	case CircuitHalfOpen:
		if cb.probeInFlight {
			return ErrCircuitOpen
		}
		cb.probeInFlight = true
		return nil
	default:
		return nil
	}
}

// ReleaseProbe hands back a half-open probe lease that was claimed via
// Allow but never turned into an attempt (rate-limit wait canceled,
// session acquisition failed). Without the hand-back no later caller
// could ever probe the source again.
func (cb *CircuitBreaker) ReleaseProbe() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if cb.state == CircuitHalfOpen {
		cb.probeInFlight = false
	}
}

// RecordSuccess resets the failure counter and forces the circuit closed.
func (cb *CircuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.consecutiveFailures = 0
	cb.probeInFlight = false
	if cb.state != CircuitClosed {
		cb.transition(CircuitClosed)
	}
}

// RecordFailure increments the failure counter and may open the circuit.
// A failed half-open probe reopens it with openedAt reset.
func (cb *CircuitBreaker) RecordFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.consecutiveFailures++
	cb.lastFailureAt = cb.nowFunc()

	switch cb.state {
	case CircuitClosed:
		if cb.consecutiveFailures >= cb.cfg.FailureThreshold {
			cb.openedAt = cb.nowFunc()
			cb.transition(CircuitOpen)
		}
	case CircuitHalfOpen:
		cb.probeInFlight = false
		cb.openedAt = cb.nowFunc()
		cb.transition(CircuitOpen)
	}
}

// State returns the current circuit state, accounting for an elapsed
// recovery timeout on an open circuit.
func (cb *CircuitBreaker) State() CircuitState {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state == CircuitOpen && cb.nowFunc().Sub(cb.openedAt) >= cb.cfg.RecoveryTimeout {
		return CircuitHalfOpen
	}
	return cb.state
}

// Reset forces the circuit back to closed. Useful for tests and manual
// recovery.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	old := cb.state
	cb.state = CircuitClosed
	cb.consecutiveFailures = 0
	cb.probeInFlight = false
	if old != CircuitClosed && cb.cfg.OnStateChange != nil {
		cb.cfg.OnStateChange(cb.sourceKey, old, CircuitClosed)
	}
}

// Counters returns the failure count and state for observability.
func (cb *CircuitBreaker) Counters() (consecutiveFailures int, state CircuitState) {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.consecutiveFailures, cb.state
}

// transition assumes cb.mu is held.
func (cb *CircuitBreaker) transition(to CircuitState) {
	from := cb.state
	cb.state = to
	if cb.cfg.OnStateChange != nil {
		cb.cfg.OnStateChange(cb.sourceKey, from, to)
	}
}

// SourceBreakers manages circuit breakers keyed by source.
type SourceBreakers struct {
	mu       sync.RWMutex
	breakers map[string]*CircuitBreaker
	cfg      CircuitBreakerConfig
}

// NewSourceBreakers creates a registry of per-source circuit breakers.
func NewSourceBreakers(cfg CircuitBreakerConfig) *SourceBreakers {
	return &SourceBreakers{
		breakers: make(map[string]*CircuitBreaker),
		cfg:      cfg,
	}
}

// Get returns the breaker for the source, creating one if needed.
func (sb *SourceBreakers) Get(sourceKey string) *CircuitBreaker {
	sb.mu.RLock()
	cb, ok := sb.breakers[sourceKey]
	sb.mu.RUnlock()
	if ok {
		return cb
	}

	sb.mu.Lock()
	defer sb.mu.Unlock()
	// Double-check after acquiring write lock.
	if cb, ok = sb.breakers[sourceKey]; ok {
		return cb
	}
	cb = NewCircuitBreaker(sourceKey, sb.cfg)
	sb.breakers[sourceKey] = cb
	return cb
}

// Allow checks the breaker for the source.
func (sb *SourceBreakers) Allow(sourceKey string) error {
	return sb.Get(sourceKey).Allow()
}

// RecordSuccess reports a successful attempt for the source.
func (sb *SourceBreakers) RecordSuccess(sourceKey string) {
	sb.Get(sourceKey).RecordSuccess()
}

// RecordFailure reports a failed attempt for the source.
func (sb *SourceBreakers) RecordFailure(sourceKey string) {
	sb.Get(sourceKey).RecordFailure()
}

// ReleaseProbe returns an unused probe lease for the source.
func (sb *SourceBreakers) ReleaseProbe(sourceKey string) {
	sb.Get(sourceKey).ReleaseProbe()
}

// States returns a snapshot of all circuit states by source key.
func (sb *SourceBreakers) States() map[string]CircuitState {
	sb.mu.RLock()
	defer sb.mu.RUnlock()
	states := make(map[string]CircuitState, len(sb.breakers))
	for key, cb := range sb.breakers {
		states[key] = cb.State()
	}
	return states
}

package resilience

import (
	"context"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"golang.org/x/time/rate"
)

// RateLimiterConfig controls per-source request spacing.
type RateLimiterConfig struct {
	// DefaultInterval is the minimum delay between requests to the same
	// source. Default: 2s.
	DefaultInterval time.Duration

	// PerSource overrides the interval for specific source keys.
	PerSource map[string]time.Duration

	// GlobalRPS caps total request throughput across all sources
	// combined. Zero disables the global cap.
	GlobalRPS float64
}

// DefaultRateLimiterConfig returns sensible defaults.
func DefaultRateLimiterConfig() RateLimiterConfig {
	return RateLimiterConfig{
		DefaultInterval: 2 * time.Second,
	}
}

// sourceGate spaces requests for one source by handing out reserved
// start slots. A caller claims the next slot under the mutex (the slot
// pointer is advanced before the mutex is released, so two workers can
// never both observe a stale timestamp and fire simultaneously), then
// sleeps until its slot with the mutex free.
type sourceGate struct {
	mu            sync.Mutex
	interval      time.Duration
	nextSlot      time.Time
	lastRequestAt time.Time
}

// RateLimiter enforces a minimum inter-request delay per source,
// independent across sources, plus an optional global throughput cap.
type RateLimiter struct {
	cfg    RateLimiterConfig
	global *rate.Limiter

	mu    sync.RWMutex
	gates map[string]*sourceGate

	// nowFunc and sleepFunc allow test injection of time.
	nowFunc   func() time.Time
	sleepFunc func(ctx context.Context, d time.Duration) error
}

// NewRateLimiter creates a per-source rate limiter.
func NewRateLimiter(cfg RateLimiterConfig) *RateLimiter {
	if cfg.DefaultInterval <= 0 {
		cfg.DefaultInterval = 2 * time.Second
	}
	rl := &RateLimiter{
		cfg:       cfg,
		gates:     make(map[string]*sourceGate),
		nowFunc:   time.Now,
		sleepFunc: sleepCtx,
	}
	if cfg.GlobalRPS > 0 {
		burst := int(cfg.GlobalRPS)
		if burst < 1 {
			burst = 1
		}
		rl.global = rate.NewLimiter(rate.Limit(cfg.GlobalRPS), burst)
	}
	return rl
}

// Wait blocks until the source's interval has elapsed since the
// previous request, then records the request time before returning.
// Blocked callers drain in slot-claim order, so queueing is FIFO-ish.
// Bursts above the configured rate are never permitted for one source,
// regardless of worker concurrency.
func (rl *RateLimiter) Wait(ctx context.Context, sourceKey string) error {
	if rl.global != nil {
		if err := rl.global.Wait(ctx); err != nil {
			return eris.Wrap(err, "ratelimit: global wait")
		}
	}

	g := rl.gate(sourceKey)

	g.mu.Lock()
	now := rl.nowFunc()
	slot := g.nextSlot
	if slot.Before(now) {
		slot = now
	}
	g.nextSlot = slot.Add(g.interval)
	g.lastRequestAt = slot
	g.mu.Unlock()

	if wait := slot.Sub(now); wait > 0 {
		return rl.sleepFunc(ctx, wait)
	}
	return nil
}

// Record advances the source's spacing clock to now. Callers invoke it
// when a request finishes so the next slot is measured from request
// end, not request start.
func (rl *RateLimiter) Record(sourceKey string) {
	g := rl.gate(sourceKey)
	g.mu.Lock()
	defer g.mu.Unlock()
	now := rl.nowFunc()
	g.lastRequestAt = now
	if end := now.Add(g.interval); end.After(g.nextSlot) {
		g.nextSlot = end
	}
}

// LastRequestAt returns the last recorded request time for a source,
// zero if it has not been seen.
func (rl *RateLimiter) LastRequestAt(sourceKey string) time.Time {
	rl.mu.RLock()
	g, ok := rl.gates[sourceKey]
	rl.mu.RUnlock()
	if !ok {
		return time.Time{}
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.lastRequestAt
}

func (rl *RateLimiter) gate(sourceKey string) *sourceGate {
	rl.mu.RLock()
	g, ok := rl.gates[sourceKey]
	rl.mu.RUnlock()
	if ok {
		return g
	}

	rl.mu.Lock()
	defer rl.mu.Unlock()
	if g, ok = rl.gates[sourceKey]; ok {
		return g
	}
	interval := rl.cfg.DefaultInterval
	if override, ok := rl.cfg.PerSource[sourceKey]; ok && override > 0 {
		interval = override
	}
	g = &sourceGate{interval: interval}
	rl.gates[sourceKey] = g
	return g
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return eris.Wrap(ctx.Err(), "ratelimit: wait canceled")
	case <-timer.C:
		return nil
	}
}

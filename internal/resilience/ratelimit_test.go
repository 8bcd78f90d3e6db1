package resilience

import (
	"context"
	"sync"
	"testing"
	"time"
)

// testClock drives a RateLimiter with a fake clock whose sleeps advance
// time instead of blocking.
type testClock struct {
	mu     sync.Mutex
	now    time.Time
	sleeps []time.Duration
}

func newTestLimiter(cfg RateLimiterConfig) (*RateLimiter, *testClock) {
	clk := &testClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	rl := NewRateLimiter(cfg)
	rl.nowFunc = func() time.Time {
		clk.mu.Lock()
		defer clk.mu.Unlock()
		return clk.now
	}
	rl.sleepFunc = func(_ context.Context, d time.Duration) error {
		clk.mu.Lock()
		defer clk.mu.Unlock()
		clk.sleeps = append(clk.sleeps, d)
		clk.now = clk.now.Add(d)
		return nil
	}
	return rl, clk
}

func TestRateLimiterFirstRequestImmediate(t *testing.T) {
	rl, clk := newTestLimiter(RateLimiterConfig{DefaultInterval: 2 * time.Second})

	if err := rl.Wait(context.Background(), "hctax.net"); err != nil {
		t.Fatal(err)
	}
	if len(clk.sleeps) != 0 {
		t.Fatalf("first request should not sleep, slept %v", clk.sleeps)
	}
}

func TestRateLimiterEnforcesMinimumGap(t *testing.T) {
	rl, clk := newTestLimiter(RateLimiterConfig{DefaultInterval: 2 * time.Second})
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		if err := rl.Wait(ctx, "hctax.net"); err != nil {
			t.Fatal(err)
		}
	}

	// Back-to-back calls each wait a full interval behind the previous slot.
	if len(clk.sleeps) != 3 {
		t.Fatalf("got %d sleeps, want 3: %v", len(clk.sleeps), clk.sleeps)
	}
	for i, d := range clk.sleeps {
		if d != 2*time.Second {
			t.Errorf("sleep %d = %v, want 2s", i, d)
		}
	}
}

func TestRateLimiterSourcesIndependent(t *testing.T) {
	rl, clk := newTestLimiter(RateLimiterConfig{DefaultInterval: 2 * time.Second})
	ctx := context.Background()

	if err := rl.Wait(ctx, "hctax.net"); err != nil {
		t.Fatal(err)
	}
	if err := rl.Wait(ctx, "actweb.acttax.com"); err != nil {
		t.Fatal(err)
	}
	if len(clk.sleeps) != 0 {
		t.Fatalf("different sources must not queue behind each other: %v", clk.sleeps)
	}
}

func TestRateLimiterPerSourceOverride(t *testing.T) {
	rl, clk := newTestLimiter(RateLimiterConfig{
		DefaultInterval: 2 * time.Second,
		PerSource:       map[string]time.Duration{"slow.example.gov": 5 * time.Second},
	})
	ctx := context.Background()

	_ = rl.Wait(ctx, "slow.example.gov")
	_ = rl.Wait(ctx, "slow.example.gov")

	if len(clk.sleeps) != 1 || clk.sleeps[0] != 5*time.Second {
		t.Fatalf("sleeps = %v, want [5s]", clk.sleeps)
	}
}

func TestRateLimiterRecordMeasuresFromRequestEnd(t *testing.T) {
	rl, clk := newTestLimiter(RateLimiterConfig{DefaultInterval: 2 * time.Second})
	ctx := context.Background()

	_ = rl.Wait(ctx, "hctax.net")

	// A slow request finishes 3s later; spacing restarts from the end.
	clk.mu.Lock()
	clk.now = clk.now.Add(3 * time.Second)
	clk.mu.Unlock()
	rl.Record("hctax.net")

	_ = rl.Wait(ctx, "hctax.net")

	if len(clk.sleeps) != 1 || clk.sleeps[0] != 2*time.Second {
		t.Fatalf("sleeps = %v, want [2s] measured from request end", clk.sleeps)
	}
}

func TestRateLimiterGapElapsedNoWait(t *testing.T) {
	rl, clk := newTestLimiter(RateLimiterConfig{DefaultInterval: 2 * time.Second})
	ctx := context.Background()

	_ = rl.Wait(ctx, "hctax.net")
	clk.mu.Lock()
	clk.now = clk.now.Add(10 * time.Second)
	clk.mu.Unlock()
	_ = rl.Wait(ctx, "hctax.net")

	if len(clk.sleeps) != 0 {
		t.Fatalf("elapsed gap should not sleep: %v", clk.sleeps)
	}
}

func TestRateLimiterConcurrentClaimsGetDistinctSlots(t *testing.T) {
	// Frozen clock: sleeps are recorded but time never moves, so each
	// requested sleep equals the claimed slot's offset from now.
	rl := NewRateLimiter(RateLimiterConfig{DefaultInterval: time.Second})
	start := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	rl.nowFunc = func() time.Time { return start }

	var mu sync.Mutex
	var sleeps []time.Duration
	rl.sleepFunc = func(_ context.Context, d time.Duration) error {
		mu.Lock()
		defer mu.Unlock()
		sleeps = append(sleeps, d)
		return nil
	}

	const n = 8
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := rl.Wait(context.Background(), "hctax.net"); err != nil {
				t.Error(err)
			}
		}()
	}
	wg.Wait()

	// Slot reservation under the mutex means exactly one caller goes
	// immediately and the rest each claim a distinct later slot.
	if len(sleeps) != n-1 {
		t.Fatalf("got %d sleeps for %d concurrent waiters, want %d", len(sleeps), n, n-1)
	}
	seen := make(map[time.Duration]bool, len(sleeps))
	for _, d := range sleeps {
		if d <= 0 || d%time.Second != 0 || seen[d] {
			t.Fatalf("slot offsets must be distinct whole intervals, got %v", sleeps)
		}
		seen[d] = true
	}
}

func TestRateLimiterWaitCanceled(t *testing.T) {
	rl := NewRateLimiter(RateLimiterConfig{DefaultInterval: time.Hour})
	ctx, cancel := context.WithCancel(context.Background())

	if err := rl.Wait(ctx, "hctax.net"); err != nil {
		t.Fatal(err)
	}
	cancel()
	if err := rl.Wait(ctx, "hctax.net"); err == nil {
		t.Fatal("expected cancellation error while waiting out the interval")
	}
}

func TestRateLimiterLastRequestAt(t *testing.T) {
	rl, clk := newTestLimiter(DefaultRateLimiterConfig())

	if !rl.LastRequestAt("unseen").IsZero() {
		t.Error("unseen source should report zero time")
	}
	_ = rl.Wait(context.Background(), "hctax.net")
	if got := rl.LastRequestAt("hctax.net"); !got.Equal(clk.now) {
		t.Errorf("LastRequestAt = %v, want %v", got, clk.now)
	}
}

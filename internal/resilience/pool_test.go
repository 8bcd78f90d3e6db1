package resilience

import (
	"context"
	"net/http"
	"testing"
	"time"
)

func TestSessionPoolAcquireCreates(t *testing.T) {
	p := NewSessionPool(DefaultPoolConfig())

	s, err := p.Acquire(context.Background(), "hctax.net")
	if err != nil {
		t.Fatal(err)
	}
	if s.SourceKey != "hctax.net" || s.Client == nil {
		t.Fatalf("unexpected session: %+v", s)
	}
	if s.Uses() != 1 {
		t.Fatalf("Uses = %d, want 1", s.Uses())
	}
}

func TestSessionPoolReusesReleasedSession(t *testing.T) {
	p := NewSessionPool(DefaultPoolConfig())
	ctx := context.Background()

	first, err := p.Acquire(ctx, "hctax.net")
	if err != nil {
		t.Fatal(err)
	}
	p.Release(first)

	if n := p.IdleCount("hctax.net"); n != 1 {
		t.Fatalf("IdleCount = %d, want 1", n)
	}

	second, err := p.Acquire(ctx, "hctax.net")
	if err != nil {
		t.Fatal(err)
	}
	if second != first {
		t.Fatal("expected the released session back")
	}
	if second.Uses() != 2 {
		t.Fatalf("Uses = %d, want 2", second.Uses())
	}
}

func TestSessionPoolNoCrossSourceReuse(t *testing.T) {
	p := NewSessionPool(DefaultPoolConfig())
	ctx := context.Background()

	s, _ := p.Acquire(ctx, "hctax.net")
	p.Release(s)

	other, err := p.Acquire(ctx, "actweb.acttax.com")
	if err != nil {
		t.Fatal(err)
	}
	if other == s {
		t.Fatal("sessions must stay pinned to their source")
	}
	if p.IdleCount("hctax.net") != 1 {
		t.Fatal("the other source's idle session should be untouched")
	}
}

func TestSessionPoolCeilingBlocks(t *testing.T) {
	p := NewSessionPool(PoolConfig{MaxSessions: 1})
	ctx := context.Background()

	held, err := p.Acquire(ctx, "hctax.net")
	if err != nil {
		t.Fatal(err)
	}

	waitCtx, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancel()
	if _, err := p.Acquire(waitCtx, "hctax.net"); err == nil {
		t.Fatal("second acquire should block until the ceiling frees")
	}

	p.Release(held)
	got, err := p.Acquire(ctx, "hctax.net")
	if err != nil {
		t.Fatalf("acquire after release: %v", err)
	}
	if got != held {
		t.Fatal("expected the released session")
	}
}

func TestSessionPoolDiscardFreesSlotWithoutReuse(t *testing.T) {
	p := NewSessionPool(PoolConfig{MaxSessions: 1})
	ctx := context.Background()

	s, _ := p.Acquire(ctx, "hctax.net")
	p.Discard(s)

	if p.IdleCount("hctax.net") != 0 {
		t.Fatal("discarded sessions must not land on the idle list")
	}

	fresh, err := p.Acquire(ctx, "hctax.net")
	if err != nil {
		t.Fatal(err)
	}
	if fresh == s {
		t.Fatal("discard must not return the dead session")
	}
}

func TestSessionPoolNilSafe(t *testing.T) {
	p := NewSessionPool(DefaultPoolConfig())
	p.Release(nil)
	p.Discard(nil)
}

func TestSessionPoolCustomClient(t *testing.T) {
	marker := &http.Client{}
	p := NewSessionPool(PoolConfig{
		NewClient: func(_ string) *http.Client { return marker },
	})

	s, err := p.Acquire(context.Background(), "hctax.net")
	if err != nil {
		t.Fatal(err)
	}
	if s.Client != marker {
		t.Fatal("NewClient override ignored")
	}
}

func TestDLQEntryCanRetry(t *testing.T) {
	tests := []struct {
		retryCount, maxRetries int
		want                   bool
	}{
		{0, 3, true},
		{2, 3, true},
		{3, 3, false},
		{5, 3, false},
	}
	for _, tt := range tests {
		e := DLQEntry{RetryCount: tt.retryCount, MaxRetries: tt.maxRetries}
		if got := e.CanRetry(); got != tt.want {
			t.Errorf("CanRetry(%d/%d) = %v, want %v", tt.retryCount, tt.maxRetries, got, tt.want)
		}
	}
}

func TestFromConfigHelpers(t *testing.T) {
	rc := FromRetryConfig(5, 250, 8000, 20)
	if rc.MaxAttempts != 5 || rc.BaseBackoff != 250*time.Millisecond ||
		rc.MaxBackoff != 8*time.Second || rc.AttemptTimeout != 20*time.Second {
		t.Errorf("unexpected retry config: %+v", rc)
	}

	// Zeroes keep defaults.
	rc = FromRetryConfig(0, 0, 0, 0)
	if rc.MaxAttempts != 3 || rc.BaseBackoff != time.Second {
		t.Errorf("defaults not preserved: %+v", rc)
	}

	cc := FromCircuitConfig(7, 120)
	if cc.FailureThreshold != 7 || cc.RecoveryTimeout != 2*time.Minute {
		t.Errorf("unexpected circuit config: %+v", cc)
	}

	rl := FromRateLimitConfig(500, map[string]int{"slow": 4000, "ignored": 0}, 2.5)
	if rl.DefaultInterval != 500*time.Millisecond || rl.GlobalRPS != 2.5 {
		t.Errorf("unexpected ratelimit config: %+v", rl)
	}
	if rl.PerSource["slow"] != 4*time.Second {
		t.Errorf("per-source override = %v", rl.PerSource["slow"])
	}
	if _, ok := rl.PerSource["ignored"]; ok {
		t.Error("zero override should be dropped")
	}
}

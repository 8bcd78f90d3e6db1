package resilience

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"golang.org/x/sync/semaphore"
)

// Session is one pooled fetch resource: an HTTP client with its cookie
// and connection state, pinned to the source it was first used for so
// same-source work can reuse warmed sessions.
type Session struct {
	SourceKey string
	Client    *http.Client
	CreatedAt time.Time
	uses      int
}

// Uses returns how many times this session has been checked out.
func (s *Session) Uses() int { return s.uses }

// PoolConfig controls the fetch session pool.
type PoolConfig struct {
	// MaxSessions is the hard ceiling on concurrently checked-out
	// sessions across all sources combined. Default: 8.
	MaxSessions int

	// RequestTimeout applies to each pooled client. Default: 30s.
	RequestTimeout time.Duration

	// NewClient optionally overrides client construction, e.g. to swap
	// in a browser-backed transport for script-heavy sources.
	NewClient func(sourceKey string) *http.Client
}

// DefaultPoolConfig returns sensible defaults.
func DefaultPoolConfig() PoolConfig {
	return PoolConfig{
		MaxSessions:    8,
		RequestTimeout: 30 * time.Second,
	}
}

// SessionPool bounds and reuses fetch sessions. Acquire blocks while
// the global ceiling is saturated; Release returns the session to a
// per-source idle list for opportunistic reuse.
type SessionPool struct {
	cfg PoolConfig
	sem *semaphore.Weighted

	mu   sync.Mutex
	idle map[string][]*Session
}

// NewSessionPool creates a session pool with the given config.
func NewSessionPool(cfg PoolConfig) *SessionPool {
	if cfg.MaxSessions <= 0 {
		cfg.MaxSessions = 8
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 30 * time.Second
	}
	return &SessionPool{
		cfg:  cfg,
		sem:  semaphore.NewWeighted(int64(cfg.MaxSessions)),
		idle: make(map[string][]*Session),
	}
}

// Acquire checks out a session for the source, reusing an idle
// same-source session when one exists. Blocks when the global ceiling
// is reached; ctx cancellation aborts the wait.
func (p *SessionPool) Acquire(ctx context.Context, sourceKey string) (*Session, error) {
	if err := p.sem.Acquire(ctx, 1); err != nil {
		return nil, eris.Wrap(err, "pool: acquire")
	}

	p.mu.Lock()
	if list := p.idle[sourceKey]; len(list) > 0 {
		s := list[len(list)-1]
		p.idle[sourceKey] = list[:len(list)-1]
		s.uses++
		p.mu.Unlock()
		return s, nil
	}
	p.mu.Unlock()

	s := &Session{
		SourceKey: sourceKey,
		Client:    p.newClient(sourceKey),
		CreatedAt: time.Now(),
		uses:      1,
	}
	return s, nil
}

// Release returns a session for reuse and frees its ceiling slot.
func (p *SessionPool) Release(s *Session) {
	if s == nil {
		return
	}
	p.mu.Lock()
	p.idle[s.SourceKey] = append(p.idle[s.SourceKey], s)
	p.mu.Unlock()
	p.sem.Release(1)
}

// Discard drops a session (e.g. after a transport failure) instead of
// returning it to the idle list.
func (p *SessionPool) Discard(s *Session) {
	if s == nil {
		return
	}
	s.Client.CloseIdleConnections()
	p.sem.Release(1)
}

// IdleCount returns the number of idle sessions for a source.
func (p *SessionPool) IdleCount(sourceKey string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.idle[sourceKey])
}

func (p *SessionPool) newClient(sourceKey string) *http.Client {
	if p.cfg.NewClient != nil {
		return p.cfg.NewClient(sourceKey)
	}
	transport := &http.Transport{
		MaxIdleConnsPerHost: 4,
		MaxConnsPerHost:     8,
		IdleConnTimeout:     90 * time.Second,
	}
	return &http.Client{
		Timeout:   p.cfg.RequestTimeout,
		Transport: transport,
	}
}

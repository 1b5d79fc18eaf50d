// Package ratelimit implements fixed-window request counters keyed by an
// arbitrary string, in memory or on Redis.
package ratelimit

import (
	"context"
	"sync"
	"time"
)

// Limit allows Requests per Window.
type Limit struct {
	Requests int
	Window   time.Duration
}

var (
	// SigningLimit guards the public quote signing endpoints per token.
	SigningLimit = Limit{Requests: 10, Window: time.Hour}
	// PasswordResetLimit guards reset requests per email address.
	PasswordResetLimit = Limit{Requests: 3, Window: time.Hour}
	// LoginLimit guards login attempts per email address.
	LoginLimit = Limit{Requests: 10, Window: 15 * time.Minute}
)

// Decision is the outcome of one Check. Remaining is -1 when the store does
// not report it.
type Decision struct {
	Allowed   bool
	Remaining int
	ResetAt   time.Time
}

// RetryAfter is the time until the window resets, as seen at now.
func (d Decision) RetryAfter(now time.Time) time.Duration {
	if d.ResetAt.After(now) {
		return d.ResetAt.Sub(now)
	}
	return 0
}

// Limiter counts a request against key and decides whether it may pass.
type Limiter interface {
	Check(ctx context.Context, key string, limit Limit) (Decision, error)
}

type window struct {
	start time.Time
	count int
}

// Memory is a process local Limiter. Windows are aligned to multiples of
// the limit window.
type Memory struct {
	mu      sync.Mutex
	now     func() time.Time
	windows map[string]*window
}

func NewMemory() *Memory {
	return &Memory{now: time.Now, windows: make(map[string]*window)}
}

// WithClock replaces the time source, for tests.
func (m *Memory) WithClock(now func() time.Time) *Memory {
	m.now = now
	return m
}

func (m *Memory) Check(_ context.Context, key string, limit Limit) (Decision, error) {
	now := m.now()
	start := now.Truncate(limit.Window)
	reset := start.Add(limit.Window)

	m.mu.Lock()
	defer m.mu.Unlock()
	w, ok := m.windows[key]
	if !ok || !w.start.Equal(start) {
		w = &window{start: start}
		m.windows[key] = w
		m.evict(now)
	}
	if w.count >= limit.Requests {
		return Decision{Allowed: false, Remaining: 0, ResetAt: reset}, nil
	}
	w.count++
	return Decision{Allowed: true, Remaining: limit.Requests - w.count, ResetAt: reset}, nil
}

// evict drops windows that ended more than a day ago; called with mu held.
func (m *Memory) evict(now time.Time) {
	if len(m.windows) < 1024 {
		return
	}
	for k, w := range m.windows {
		if now.Sub(w.start) > 24*time.Hour {
			delete(m.windows, k)
		}
	}
}

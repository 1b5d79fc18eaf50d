package ratelimit

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zeromicro/go-zero/core/stores/redis/redistest"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func TestMemory_FixedWindow(t *testing.T) {
	clock := &fakeClock{t: time.Date(2025, 6, 1, 10, 15, 0, 0, time.UTC)}
	m := NewMemory().WithClock(clock.Now)
	ctx := context.Background()
	l := Limit{Requests: 3, Window: time.Hour}

	for i := 0; i < 3; i++ {
		d, err := m.Check(ctx, "k", l)
		require.NoError(t, err)
		assert.True(t, d.Allowed)
		assert.Equal(t, 2-i, d.Remaining)
	}
	d, err := m.Check(ctx, "k", l)
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	assert.Equal(t, time.Date(2025, 6, 1, 11, 0, 0, 0, time.UTC), d.ResetAt)
	assert.Equal(t, 45*time.Minute, d.RetryAfter(clock.Now()))

	other, _ := m.Check(ctx, "other", l)
	assert.True(t, other.Allowed, "keys are independent")

	clock.Advance(45 * time.Minute)
	d, _ = m.Check(ctx, "k", l)
	assert.True(t, d.Allowed, "new window after reset")
}

func TestMemory_Concurrent(t *testing.T) {
	m := NewMemory().WithClock(func() time.Time { return time.Date(2025, 1, 1, 0, 30, 0, 0, time.UTC) })
	l := Limit{Requests: 10, Window: time.Hour}

	var wg sync.WaitGroup
	var mu sync.Mutex
	allowed := 0
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			d, _ := m.Check(context.Background(), "token", l)
			if d.Allowed {
				mu.Lock()
				allowed++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 10, allowed)
}

func TestAlignedReset(t *testing.T) {
	now := time.Date(2025, 6, 1, 10, 15, 30, 0, time.UTC)
	assert.Equal(t, time.Date(2025, 6, 1, 11, 0, 0, 0, time.UTC), alignedReset(now, time.Hour))
}

func TestRedis_Check(t *testing.T) {
	r := newRedis(redistest.CreateRedis(t), "test")
	ctx := context.Background()
	l := Limit{Requests: 2, Window: time.Hour}

	d, err := r.Check(ctx, "tok", l)
	require.NoError(t, err)
	assert.True(t, d.Allowed)

	d, err = r.Check(ctx, "tok", l)
	require.NoError(t, err)
	assert.True(t, d.Allowed)
	assert.Equal(t, 0, d.Remaining)

	d, err = r.Check(ctx, "tok", l)
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	assert.True(t, d.ResetAt.After(time.Now()))
}

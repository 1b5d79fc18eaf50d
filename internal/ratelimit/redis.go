package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/zeromicro/go-zero/core/limit"
	"github.com/zeromicro/go-zero/core/stores/redis"
)

// Redis shares counters between server instances using go-zero's period
// limiter. Windows are aligned like Memory's.
type Redis struct {
	store  *redis.Redis
	prefix string
	now    func() time.Time

	mu       sync.Mutex
	limiters map[Limit]*limit.PeriodLimit
}

// NewRedis connects to a single Redis node.
func NewRedis(addr, password, prefix string) *Redis {
	var opts []redis.Option
	if password != "" {
		opts = append(opts, redis.WithPass(password))
	}
	return newRedis(redis.New(addr, opts...), prefix)
}

func newRedis(store *redis.Redis, prefix string) *Redis {
	return &Redis{store: store, prefix: prefix, now: time.Now, limiters: make(map[Limit]*limit.PeriodLimit)}
}

// Ping reports whether the Redis node answers.
func (r *Redis) Ping(ctx context.Context) bool {
	return r.store.PingCtx(ctx)
}

func (r *Redis) limiter(l Limit) *limit.PeriodLimit {
	r.mu.Lock()
	defer r.mu.Unlock()
	pl, ok := r.limiters[l]
	if !ok {
		seconds := int(l.Window / time.Second)
		prefix := fmt.Sprintf("%s:%d:%d:", r.prefix, l.Requests, seconds)
		pl = limit.NewPeriodLimit(seconds, l.Requests, r.store, prefix, limit.Align())
		r.limiters[l] = pl
	}
	return pl
}

func (r *Redis) Check(ctx context.Context, key string, l Limit) (Decision, error) {
	code, err := r.limiter(l).TakeCtx(ctx, key)
	if err != nil {
		return Decision{}, err
	}
	reset := alignedReset(r.now(), l.Window)
	switch code {
	case limit.Allowed:
		return Decision{Allowed: true, Remaining: -1, ResetAt: reset}, nil
	case limit.HitQuota:
		return Decision{Allowed: true, Remaining: 0, ResetAt: reset}, nil
	case limit.OverQuota:
		return Decision{Allowed: false, Remaining: 0, ResetAt: reset}, nil
	}
	return Decision{}, fmt.Errorf("ratelimit: unknown limiter state %d", code)
}

// alignedReset mirrors go-zero's aligned expiry, which counts windows from
// the local zone's midnight.
func alignedReset(now time.Time, window time.Duration) time.Time {
	_, offset := now.Zone()
	period := int64(window / time.Second)
	unix := now.Unix() + int64(offset)
	return time.Unix(now.Unix()+period-unix%period, 0).In(now.Location())
}

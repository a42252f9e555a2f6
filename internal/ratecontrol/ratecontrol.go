// Package ratecontrol throttles gateway traffic: a token bucket per key in
// process, and a fixed window counter per key shared through Redis.
package ratecontrol

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/francesca-tabor-ai/Searchable-AI-Visibility/internal/circuitbreaker"
)

type limiterEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// KeyedLimiter keeps one token bucket per key. Idle buckets are dropped by Sweep.
type KeyedLimiter struct {
	limit rate.Limit
	burst int
	idle  time.Duration
	now   func() time.Time

	mu       sync.Mutex
	limiters map[string]*limiterEntry
}

// NewKeyedLimiter allows perSecond events per key with the given burst.
// A non-positive perSecond disables limiting.
func NewKeyedLimiter(perSecond float64, burst int) *KeyedLimiter {
	limit := rate.Inf
	if perSecond > 0 {
		limit = rate.Limit(perSecond)
	}
	if burst < 1 {
		burst = 1
	}
	return &KeyedLimiter{
		limit:    limit,
		burst:    burst,
		idle:     10 * time.Minute,
		now:      time.Now,
		limiters: make(map[string]*limiterEntry),
	}
}

func (k *KeyedLimiter) get(key string, now time.Time) *rate.Limiter {
	k.mu.Lock()
	defer k.mu.Unlock()

	e, ok := k.limiters[key]
	if !ok {
		e = &limiterEntry{limiter: rate.NewLimiter(k.limit, k.burst)}
		k.limiters[key] = e
	}
	e.lastSeen = now
	return e.limiter
}

// Allow consumes a token for key. When none is available it returns false
// and how long until the next one.
func (k *KeyedLimiter) Allow(key string) (bool, time.Duration) {
	now := k.now()
	lim := k.get(key, now)
	if lim.AllowN(now, 1) {
		return true, 0
	}
	r := lim.ReserveN(now, 1)
	wait := r.DelayFrom(now)
	r.CancelAt(now)
	return false, wait
}

// Sweep drops buckets idle for longer than the idle period and returns how many remain
func (k *KeyedLimiter) Sweep() int {
	now := k.now()
	k.mu.Lock()
	defer k.mu.Unlock()
	for key, e := range k.limiters {
		if now.Sub(e.lastSeen) > k.idle {
			delete(k.limiters, key)
		}
	}
	return len(k.limiters)
}

// WindowLimiter allows Limit requests per key per fixed window, counted in Redis
// so every gateway replica shares the budget.
type WindowLimiter struct {
	redis  *circuitbreaker.RedisWrapper
	prefix string
	limit  int
	window time.Duration
	now    func() time.Time
}

// Decision is the outcome of one WindowLimiter check
type Decision struct {
	Allowed   bool
	Limit     int
	Remaining int
	ResetIn   time.Duration
}

// NewWindowLimiter creates a limiter. A non-positive limit allows everything.
func NewWindowLimiter(rw *circuitbreaker.RedisWrapper, prefix string, limit int, window time.Duration) *WindowLimiter {
	if window <= 0 {
		window = time.Minute
	}
	return &WindowLimiter{redis: rw, prefix: prefix, limit: limit, window: window, now: time.Now}
}

// Allow counts one request for key in the current window
func (w *WindowLimiter) Allow(ctx context.Context, key string) (Decision, error) {
	if w.limit <= 0 {
		return Decision{Allowed: true, Limit: w.limit, Remaining: math.MaxInt32}, nil
	}

	now := w.now()
	bucket := now.UnixNano() / int64(w.window)
	windowEnd := time.Unix(0, (bucket+1)*int64(w.window))
	redisKey := fmt.Sprintf("%s:%s:%d", w.prefix, key, bucket)

	count, err := w.redis.IncrWindow(ctx, redisKey, w.window)
	if err != nil {
		return Decision{}, fmt.Errorf("count request: %w", err)
	}

	remaining := w.limit - int(count)
	if remaining < 0 {
		remaining = 0
	}
	return Decision{
		Allowed:   int(count) <= w.limit,
		Limit:     w.limit,
		Remaining: remaining,
		ResetIn:   windowEnd.Sub(now),
	}, nil
}

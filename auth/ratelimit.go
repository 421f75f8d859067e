package auth

import (
	"sync"
	"time"
)

// RateLimiter is a fixed-window counter map. It is process-local and
// best-effort by design: restarts and multi-instance deployments reset or
// partition the counters, which is acceptable for slowing brute force but
// is not a security boundary on its own.
type RateLimiter struct {
	mu      sync.Mutex
	buckets map[string]*rateBucket
	now     func() time.Time
}

type rateBucket struct {
	count   int
	resetAt time.Time
}

// RateResult reports the outcome of a single Check call. ResetAt lets
// callers derive a Retry-After value.
type RateResult struct {
	Allowed   bool
	Remaining int
	ResetAt   time.Time
}

func NewRateLimiter() *RateLimiter {
	return &RateLimiter{
		buckets: make(map[string]*rateBucket),
		now:     time.Now,
	}
}

// Check counts one request against the key's current window. The first
// hit of a window sets count=1; once count exceeds limit the request is
// denied with ResetAt unchanged until the window elapses.
func (rl *RateLimiter) Check(key string, limit int, window time.Duration) RateResult {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	b, ok := rl.buckets[key]
	if !ok || !now.Before(b.resetAt) {
		b = &rateBucket{count: 1, resetAt: now.Add(window)}
		rl.buckets[key] = b
		return RateResult{Allowed: true, Remaining: limit - 1, ResetAt: b.resetAt}
	}

	b.count++
	remaining := limit - b.count
	if remaining < 0 {
		remaining = 0
	}
	return RateResult{
		Allowed:   b.count <= limit,
		Remaining: remaining,
		ResetAt:   b.resetAt,
	}
}

// sweep drops buckets whose window has elapsed. Called periodically from
// a background goroutine so abandoned keys do not accumulate.
func (rl *RateLimiter) sweep() {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	for key, b := range rl.buckets {
		if !now.Before(b.resetAt) {
			delete(rl.buckets, key)
		}
	}
}

// SweepLoop runs sweep at the given interval until stop is closed.
func (rl *RateLimiter) SweepLoop(interval time.Duration, stop <-chan struct{}) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			rl.sweep()
		}
	}
}

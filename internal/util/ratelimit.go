package util

import (
	"context"
	"sync"
	"time"
)

// RateLimiter paces outbound broker requests. It hands out one slot per
// interval and lets up to burst slots accumulate while idle.
type RateLimiter struct {
	mu       sync.Mutex
	interval time.Duration
	burst    int
	next     time.Time // earliest time the next slot is free
}

// NewRateLimiter returns a limiter allowing perMinute requests per minute
// with no burst. A non-positive perMinute disables limiting.
func NewRateLimiter(perMinute int) *RateLimiter {
	return NewBurstRateLimiter(perMinute, 1)
}

// NewBurstRateLimiter is NewRateLimiter with up to burst back-to-back
// requests after an idle period.
func NewBurstRateLimiter(perMinute, burst int) *RateLimiter {
	rl := &RateLimiter{burst: max(burst, 1)}
	if perMinute > 0 {
		rl.interval = time.Minute / time.Duration(perMinute)
	}
	return rl
}

// reserve claims the next slot and returns how long the caller must wait
// for it.
func (rl *RateLimiter) reserve(now time.Time) time.Duration {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	if floor := now.Add(-time.Duration(rl.burst-1) * rl.interval); rl.next.Before(floor) {
		rl.next = floor
	}
	wait := rl.next.Sub(now)
	rl.next = rl.next.Add(rl.interval)
	return max(wait, 0)
}

// release returns an unused slot after the caller gave up waiting.
func (rl *RateLimiter) release() {
	rl.mu.Lock()
	rl.next = rl.next.Add(-rl.interval)
	rl.mu.Unlock()
}

// Wait blocks until a request slot is free or ctx is done.
func (rl *RateLimiter) Wait(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if rl.interval == 0 {
		return nil
	}
	wait := rl.reserve(time.Now())
	if wait == 0 {
		return nil
	}

	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		rl.release()
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

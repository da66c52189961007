package realtime

import (
	"sync"
	"time"
)

// RateLimiter bounds inbound frames per connection over a sliding window.
// One instance per websocket session; never shared across connections.
type RateLimiter struct {
	mu     sync.Mutex
	stamps []time.Time
	limit  int
	window time.Duration
}

// NewRateLimiter constructs a limiter. Non-positive inputs fall back to the
// package defaults rather than disabling limiting.
func NewRateLimiter(limit int, window time.Duration) *RateLimiter {
	if limit <= 0 {
		limit = rateLimitEvents
	}
	if window <= 0 {
		window = rateLimitWindow
	}
	return &RateLimiter{
		stamps: make([]time.Time, 0, limit),
		limit:  limit,
		window: window,
	}
}

// Allow records an event at now and reports whether it fits in the window.
// Denied events are not recorded, so a flooding client recovers as soon as
// its earlier events age out.
func (r *RateLimiter) Allow(now time.Time) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	cutoff := now.Add(-r.window)
	keep := 0
	for keep < len(r.stamps) && !r.stamps[keep].After(cutoff) {
		keep++
	}
	if keep > 0 {
		r.stamps = append(r.stamps[:0], r.stamps[keep:]...)
	}

	if len(r.stamps) >= r.limit {
		return false
	}
	r.stamps = append(r.stamps, now)
	return true
}

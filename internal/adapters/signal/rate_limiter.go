package signal

import (
	"sync"
	"time"
)

const rateWindow = time.Second

// RateLimiter is a per-session sliding window counter keyed by message type.
type RateLimiter struct {
	mu       sync.Mutex
	history  map[MessageType][]time.Time
	limits   map[MessageType]int
	fallback int
	interval time.Duration
	now      func() time.Time
}

func NewRateLimiter(limits map[MessageType]int, fallback int, interval time.Duration) *RateLimiter {
	return &RateLimiter{
		history:  make(map[MessageType][]time.Time),
		limits:   limits,
		fallback: fallback,
		interval: interval,
		now:      time.Now,
	}
}

func (rl *RateLimiter) limit(t MessageType) int {
	if n, ok := rl.limits[t]; ok {
		return n
	}
	return rl.fallback
}

// Allow records an attempt of type t and reports whether it fits the window.
// Denied attempts are not recorded.
func (rl *RateLimiter) Allow(t MessageType) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	limit := rl.limit(t)
	if limit <= 0 {
		return true
	}
	now := rl.now()
	windowStart := now.Add(-rl.interval)

	attempts := rl.history[t]
	fresh := attempts[:0]
	for _, at := range attempts {
		if at.After(windowStart) {
			fresh = append(fresh, at)
		}
	}

	if len(fresh) >= limit {
		rl.history[t] = fresh
		return false
	}
	rl.history[t] = append(fresh, now)
	return true
}

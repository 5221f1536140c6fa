package signal

import (
	"sync"
	"time"

	"github.com/dkeye/Jingle/internal/domain"
)

// RateLimiter is a sliding window of stanzas per sender.
type RateLimiter struct {
	mu       sync.Mutex
	history  map[domain.JID][]time.Time
	limit    int
	interval time.Duration
	now      func() time.Time
}

// NewRateLimiter allows limit stanzas per interval. A non-positive limit
// disables limiting.
func NewRateLimiter(limit int, interval time.Duration) *RateLimiter {
	return &RateLimiter{
		history:  make(map[domain.JID][]time.Time),
		limit:    limit,
		interval: interval,
		now:      time.Now,
	}
}

func (rl *RateLimiter) Allow(jid domain.JID) bool {
	if rl.limit <= 0 {
		return true
	}
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	windowStart := now.Add(-rl.interval)

	attempts := rl.history[jid]
	fresh := make([]time.Time, 0, len(attempts)+1)
	for _, t := range attempts {
		if t.After(windowStart) {
			fresh = append(fresh, t)
		}
	}
	if len(fresh) >= rl.limit {
		rl.history[jid] = fresh
		return false
	}
	rl.history[jid] = append(fresh, now)
	return true
}

// Forget drops the history of a sender that went away.
func (rl *RateLimiter) Forget(jid domain.JID) {
	rl.mu.Lock()
	delete(rl.history, jid)
	rl.mu.Unlock()
}

package chat

import (
	"sync"
	"time"
)

// RateLimiter implements a per-user sliding-window rate limiter for chat
// messages. The key is the user ID, not the connection, so opening extra
// tabs does not multiply the budget.
type RateLimiter struct {
	mu       sync.Mutex
	requests map[int64][]time.Time
	limit    int
	window   time.Duration
	done     chan struct{}
}

// NewRateLimiter creates a rate limiter and starts the background eviction
// goroutine.
func NewRateLimiter(limit int, window time.Duration) *RateLimiter {
	rl := &RateLimiter{
		requests: make(map[int64][]time.Time),
		limit:    limit,
		window:   window,
		done:     make(chan struct{}),
	}
	rl.startEviction()
	return rl
}

// Allow checks if a request is allowed for the given user.
func (r *RateLimiter) Allow(userID int64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()
	cutoff := now.Add(-r.window)

	var recent []time.Time
	for _, t := range r.requests[userID] {
		if t.After(cutoff) {
			recent = append(recent, t)
		}
	}

	if len(recent) >= r.limit {
		r.requests[userID] = recent
		return false
	}

	r.requests[userID] = append(recent, now)
	return true
}

// Close stops the background eviction goroutine.
func (r *RateLimiter) Close() {
	close(r.done)
}

// startEviction runs a background goroutine that periodically removes expired
// keys from the requests map, preventing unbounded memory growth.
func (r *RateLimiter) startEviction() {
	go func() {
		ticker := time.NewTicker(r.window)
		defer ticker.Stop()
		for {
			select {
			case <-r.done:
				return
			case <-ticker.C:
				r.mu.Lock()
				cutoff := time.Now().Add(-r.window)
				for key, times := range r.requests {
					var fresh []time.Time
					for _, t := range times {
						if t.After(cutoff) {
							fresh = append(fresh, t)
						}
					}
					if len(fresh) == 0 {
						delete(r.requests, key)
					} else {
						r.requests[key] = fresh
					}
				}
				r.mu.Unlock()
			}
		}
	}()
}

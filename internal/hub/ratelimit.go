package hub

import (
	"sync"
	"time"
)

// RateLimiter caps inbound events per connection in fixed windows.
// ARCHITECTURAL DISCOVERY: Keyed by connection id like every other piece of core
// state, so one noisy tab cannot starve the other tabs of the same user
type RateLimiter struct {
	mu      sync.Mutex
	clients map[string]*clientWindow
	limit   int
	window  time.Duration
	now     func() time.Time
}

type clientWindow struct {
	count int
	start time.Time
}

// NewRateLimiter allows limit events per window per connection. A limit of zero
// or less disables limiting.
func NewRateLimiter(limit int, window time.Duration) *RateLimiter {
	if window <= 0 {
		window = time.Minute
	}
	return &RateLimiter{
		clients: make(map[string]*clientWindow),
		limit:   limit,
		window:  window,
		now:     time.Now,
	}
}

// Allow reports whether connID may send one more event in the current window.
func (rl *RateLimiter) Allow(connID string) bool {
	if rl.limit <= 0 {
		return true
	}
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	w, exists := rl.clients[connID]
	if !exists || now.Sub(w.start) >= rl.window {
		rl.clients[connID] = &clientWindow{count: 1, start: now}
		return true
	}
	if w.count >= rl.limit {
		return false
	}
	w.count++
	return true
}

// Forget drops connID's window, called on disconnect.
func (rl *RateLimiter) Forget(connID string) {
	rl.mu.Lock()
	delete(rl.clients, connID)
	rl.mu.Unlock()
}

// Tracked returns the number of connections with an open window.
func (rl *RateLimiter) Tracked() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return len(rl.clients)
}

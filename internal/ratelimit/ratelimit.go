// Package ratelimit caps connections per party and inbound frames per connection.
package ratelimit

import (
	"sync"
	"time"
)

// ConnectionLimiter limits concurrent connections per party. A max of zero or
// less disables the limit.
type ConnectionLimiter struct {
	connections map[string]int
	maxPerParty int
	mu          sync.Mutex
}

func NewConnectionLimiter(maxPerParty int) *ConnectionLimiter {
	return &ConnectionLimiter{
		connections: make(map[string]int),
		maxPerParty: maxPerParty,
	}
}

// Acquire reserves a slot for party. Every successful Acquire needs one Release.
func (cl *ConnectionLimiter) Acquire(party string) bool {
	cl.mu.Lock()
	defer cl.mu.Unlock()

	count := cl.connections[party]
	if cl.maxPerParty > 0 && count >= cl.maxPerParty {
		return false
	}
	cl.connections[party] = count + 1
	return true
}

func (cl *ConnectionLimiter) Release(party string) {
	cl.mu.Lock()
	defer cl.mu.Unlock()

	if count, ok := cl.connections[party]; ok {
		if count <= 1 {
			delete(cl.connections, party)
		} else {
			cl.connections[party] = count - 1
		}
	}
}

func (cl *ConnectionLimiter) Count(party string) int {
	cl.mu.Lock()
	defer cl.mu.Unlock()
	return cl.connections[party]
}

// FrameLimiter is a sliding-window limit on frames per key. A limit of zero or
// less disables it.
type FrameLimiter struct {
	events map[string][]time.Time
	window time.Duration
	limit  int
	now    func() time.Time
	mu     sync.Mutex
}

func NewFrameLimiter(limit int, window time.Duration) *FrameLimiter {
	return &FrameLimiter{
		events: make(map[string][]time.Time),
		window: window,
		limit:  limit,
		now:    time.Now,
	}
}

// Allow records a frame for key and reports whether it fits in the window.
// Refused frames are not recorded.
func (fl *FrameLimiter) Allow(key string) bool {
	if fl.limit <= 0 {
		return true
	}

	fl.mu.Lock()
	defer fl.mu.Unlock()

	now := fl.now()
	cutoff := now.Add(-fl.window)

	events := fl.events[key]
	i := 0
	for i < len(events) && !events[i].After(cutoff) {
		i++
	}
	events = events[i:]

	if len(events) >= fl.limit {
		fl.events[key] = events
		return false
	}
	fl.events[key] = append(events, now)
	return true
}

// Forget drops key's history. Call it when a connection closes.
func (fl *FrameLimiter) Forget(key string) {
	fl.mu.Lock()
	delete(fl.events, key)
	fl.mu.Unlock()
}

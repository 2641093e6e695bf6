package ratelimit

import (
	"errors"
	"sync"
)

var ErrTooManyConnections = errors.New("too many concurrent connections")

// ConnectionTracker caps concurrent connections per user.
type ConnectionTracker struct {
	mu     sync.Mutex
	limit  int
	active map[string]int
}

// NewConnectionTracker creates a tracker allowing limit connections per user.
func NewConnectionTracker(limit int) *ConnectionTracker {
	return &ConnectionTracker{
		limit:  limit,
		active: make(map[string]int),
	}
}

// Acquire reserves a connection slot for userID.
func (t *ConnectionTracker) Acquire(userID string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.active[userID] >= t.limit {
		return ErrTooManyConnections
	}
	t.active[userID]++
	return nil
}

// Release frees a slot taken by Acquire.
func (t *ConnectionTracker) Release(userID string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.active[userID] <= 1 {
		delete(t.active, userID)
		return
	}
	t.active[userID]--
}

// Count returns the open connections for userID.
func (t *ConnectionTracker) Count(userID string) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.active[userID]
}

package ratelimit

import (
	"context"
	"sync"
	"time"
)

// MemoryStore keeps counters in process. One mutex guards the map, which
// makes every increment atomic.
type MemoryStore struct {
	mu       sync.Mutex
	counters map[string]*Counter
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		counters: make(map[string]*Counter),
	}
}

func counterKey(subjectID string, window Window) string {
	return string(window) + "|" + subjectID
}

// Increment implements Store.
func (s *MemoryStore) Increment(_ context.Context, subjectID string, window Window, windowStart time.Time, rule Rule) (int, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := counterKey(subjectID, window)
	c, ok := s.counters[key]
	if !ok || !c.WindowStart.Equal(windowStart) {
		c = &Counter{
			SubjectID:   subjectID,
			Window:      window,
			WindowStart: windowStart,
			Length:      rule.Length,
		}
		s.counters[key] = c
	}

	if c.Count >= rule.Limit {
		return c.Count, false, nil
	}
	c.Count++
	return c.Count, true, nil
}

// Peek implements Store.
func (s *MemoryStore) Peek(_ context.Context, subjectID string, window Window, windowStart time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.counters[counterKey(subjectID, window)]
	if !ok || !c.WindowStart.Equal(windowStart) {
		return 0, nil
	}
	return c.Count, nil
}

// Cleanup implements Store.
func (s *MemoryStore) Cleanup(_ context.Context, now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for key, c := range s.counters {
		if c.Expired(now) {
			delete(s.counters, key)
			removed++
		}
	}
	return removed, nil
}

// Len returns the number of live counters.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.counters)
}

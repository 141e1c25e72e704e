package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// MemoryLimiter keeps windows in process memory. Limits hold per instance
// only and reset on restart.
type MemoryLimiter struct {
	mu   sync.Mutex
	hits map[string][]time.Time
	now  func() time.Time
}

func NewMemoryLimiter() *MemoryLimiter {
	return &MemoryLimiter{hits: make(map[string][]time.Time), now: time.Now}
}

// SetClock replaces the time source.
func (l *MemoryLimiter) SetClock(now func() time.Time) {
	l.mu.Lock()
	l.now = now
	l.mu.Unlock()
}

func (l *MemoryLimiter) Allow(_ context.Context, key string, limit int, window time.Duration) (Decision, error) {
	if limit <= 0 || window <= 0 {
		return Decision{}, fmt.Errorf("rate limit %s: max and window must be positive", key)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	cutoff := now.Add(-window)

	kept := l.hits[key][:0]
	for _, t := range l.hits[key] {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}

	allowed := len(kept) < limit
	if allowed {
		kept = append(kept, now)
	}
	if len(kept) == 0 {
		delete(l.hits, key)
	} else {
		l.hits[key] = kept
	}

	reset := now.Add(window)
	if len(kept) > 0 {
		reset = kept[0].Add(window)
	}

	return Decision{
		Allowed:   allowed,
		Remaining: max(0, limit-len(kept)),
		Limit:     limit,
		ResetAt:   reset,
	}, nil
}

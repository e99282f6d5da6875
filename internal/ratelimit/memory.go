package ratelimit

import (
	"context"
	"sync"
	"time"
)

type record struct {
	count   int
	resetAt time.Time
}

// MemoryLimiter keeps fixed-window counters in an in-process map.
// Counters for elapsed windows are replaced on next use and swept by the
// cleanup job via Sweep.
type MemoryLimiter struct {
	mu      sync.Mutex
	records map[string]*record
	now     func() time.Time
}

func NewMemoryLimiter() *MemoryLimiter {
	return &MemoryLimiter{
		records: make(map[string]*record),
		now:     time.Now,
	}
}

func (l *MemoryLimiter) Allow(ctx context.Context, key string, limit int, window time.Duration) Decision {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	rec, ok := l.records[key]
	if !ok || now.After(rec.resetAt) {
		rec = &record{count: 1, resetAt: now.Add(window)}
		l.records[key] = rec
		return Decision{Allowed: true, Remaining: limit - 1, ResetAt: rec.resetAt}
	}

	rec.count++
	remaining := limit - rec.count
	if remaining < 0 {
		remaining = 0
	}
	return Decision{
		Allowed:   rec.count <= limit,
		Remaining: remaining,
		ResetAt:   rec.resetAt,
	}
}

// Sweep removes counters whose window has elapsed and reports how many
// were dropped.
func (l *MemoryLimiter) Sweep() int64 {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	var deleted int64
	for key, rec := range l.records {
		if now.After(rec.resetAt) {
			delete(l.records, key)
			deleted++
		}
	}
	return deleted
}

// Reset drops the counter for one key.
func (l *MemoryLimiter) Reset(key string) {
	l.mu.Lock()
	delete(l.records, key)
	l.mu.Unlock()
}

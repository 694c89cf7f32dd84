package ratelimit

import (
	"context"
	"sync"
	"time"
)

type entry struct {
	count      int
	resetAt    time.Time
	lastAccess time.Time
	blockUntil time.Time
}

// MemoryLimiter keeps counters in process. Limits are per instance.
type MemoryLimiter struct {
	mu    sync.Mutex
	store map[string]*entry
	now   func() time.Time
}

func NewMemoryLimiter() *MemoryLimiter {
	return &MemoryLimiter{store: make(map[string]*entry), now: time.Now}
}

func (l *MemoryLimiter) Allow(_ context.Context, key string, rule Rule) (bool, time.Duration, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	e, ok := l.store[key]
	if !ok {
		l.store[key] = &entry{count: 1, resetAt: now.Add(rule.Window), lastAccess: now}
		return true, 0, nil
	}
	e.lastAccess = now

	if now.Before(e.blockUntil) {
		return false, e.blockUntil.Sub(now), nil
	}
	if !e.blockUntil.IsZero() || now.After(e.resetAt) {
		e.blockUntil = time.Time{}
		e.count = 1
		e.resetAt = now.Add(rule.Window)
		return true, 0, nil
	}
	if e.count >= rule.MaxRequests {
		e.blockUntil = now.Add(rule.BlockDuration)
		return false, rule.BlockDuration, nil
	}
	e.count++
	return true, 0, nil
}

// Cleanup drops keys idle for longer than idle, every interval, until ctx ends.
func (l *MemoryLimiter) Cleanup(ctx context.Context, interval, idle time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			l.prune(idle)
		}
	}
}

func (l *MemoryLimiter) prune(idle time.Duration) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.now()
	removed := 0
	for k, e := range l.store {
		if now.Sub(e.lastAccess) > idle && now.After(e.blockUntil) {
			delete(l.store, k)
			removed++
		}
	}
	return removed
}

// Package ratelimit caps how often a client may call an endpoint within a
// rolling time window.
package ratelimit

import (
	"context"
	"sync"
	"time"
)

// Limiter decides whether one more request for key fits in the window.
type Limiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (Decision, error)
}

type Decision struct {
	Allowed   bool
	Limit     int
	Remaining int
	// RetryAfter is how long until the oldest counted request leaves the
	// window. Zero when Allowed.
	RetryAfter time.Duration
}

// MemoryLimiter keeps a log of request times per key. State is local to the
// process.
type MemoryLimiter struct {
	mu      sync.Mutex
	entries map[string]*entry
	now     func() time.Time

	stop     chan struct{}
	stopOnce sync.Once
}

type entry struct {
	hits   []time.Time
	window time.Duration
}

var _ Limiter = (*MemoryLimiter)(nil)

// NewMemoryLimiter starts a limiter whose janitor evicts idle keys every
// cleanupInterval. Call Close to stop it.
func NewMemoryLimiter(cleanupInterval time.Duration) *MemoryLimiter {
	l := &MemoryLimiter{
		entries: make(map[string]*entry),
		now:     time.Now,
		stop:    make(chan struct{}),
	}
	if cleanupInterval <= 0 {
		cleanupInterval = 5 * time.Minute
	}
	go l.janitor(cleanupInterval)
	return l
}

func (l *MemoryLimiter) Allow(ctx context.Context, key string, limit int, window time.Duration) (Decision, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	e, ok := l.entries[key]
	if !ok {
		e = &entry{window: window}
		l.entries[key] = e
	}
	e.window = window
	e.prune(now)

	if len(e.hits) < limit {
		e.hits = append(e.hits, now)
		return Decision{Allowed: true, Limit: limit, Remaining: limit - len(e.hits)}, nil
	}

	retry := e.hits[0].Add(window).Sub(now)
	return Decision{Allowed: false, Limit: limit, Remaining: 0, RetryAfter: retry}, nil
}

// prune drops hits that are at least one window old.
func (e *entry) prune(now time.Time) {
	cutoff := now.Add(-e.window)
	i := 0
	for i < len(e.hits) && !e.hits[i].After(cutoff) {
		i++
	}
	e.hits = e.hits[i:]
}

func (l *MemoryLimiter) Reset(key string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.entries, key)
}

func (l *MemoryLimiter) Close() error {
	l.stopOnce.Do(func() { close(l.stop) })
	return nil
}

func (l *MemoryLimiter) janitor(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			l.cleanup()
		case <-l.stop:
			return
		}
	}
}

func (l *MemoryLimiter) cleanup() {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	for key, e := range l.entries {
		e.prune(now)
		if len(e.hits) == 0 {
			delete(l.entries, key)
		}
	}
}

func (l *MemoryLimiter) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}

package ratelimit

import (
	"context"
	"sync"
	"time"
)

// MemoryLimiter is a sliding-window log kept per key. It is per-process, so
// multi-instance deployments should use PostgresLimiter instead.
type MemoryLimiter struct {
	mu        sync.Mutex
	maxHits   int
	window    time.Duration
	hitsByKey map[string][]time.Time
	maxKeys   int
	now       func() time.Time
}

func NewMemoryLimiter(maxHits int, window time.Duration) *MemoryLimiter {
	if maxHits <= 0 {
		maxHits = 10
	}
	if window <= 0 {
		window = time.Minute
	}

	return &MemoryLimiter{
		maxHits:   maxHits,
		window:    window,
		hitsByKey: make(map[string][]time.Time),
		maxKeys:   5000,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// WithClock replaces the time source.
func (l *MemoryLimiter) WithClock(now func() time.Time) *MemoryLimiter {
	l.now = now
	return l
}

func (l *MemoryLimiter) Check(_ context.Context, key string) (Decision, error) {
	now := l.now()
	threshold := now.Add(-l.window)

	l.mu.Lock()
	defer l.mu.Unlock()

	hits := l.hitsByKey[key]
	filtered := make([]time.Time, 0, len(hits)+1)
	for _, hit := range hits {
		if hit.After(threshold) {
			filtered = append(filtered, hit)
		}
	}

	if len(filtered) >= l.maxHits {
		l.hitsByKey[key] = filtered
		return Decision{
			Allowed:    false,
			RetryAfter: retryAfterAtLeastOneSecond(filtered[0].Add(l.window).Sub(now)),
		}, nil
	}

	filtered = append(filtered, now)
	l.hitsByKey[key] = filtered

	if len(l.hitsByKey) > l.maxKeys {
		l.pruneLocked(threshold)
	}

	return Decision{Allowed: true, Remaining: l.maxHits - len(filtered)}, nil
}

func (l *MemoryLimiter) Reset(_ context.Context, key string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.hitsByKey, key)
	return nil
}

// Prune drops keys whose newest hit is older than the window.
func (l *MemoryLimiter) Prune() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.pruneLocked(l.now().Add(-l.window))
}

func (l *MemoryLimiter) pruneLocked(threshold time.Time) int {
	removed := 0
	for key, hits := range l.hitsByKey {
		if len(hits) == 0 || !hits[len(hits)-1].After(threshold) {
			delete(l.hitsByKey, key)
			removed++
		}
	}
	return removed
}

// DeleteStale drops keys whose newest hit is before cutoff, at most batchSize
// keys when batchSize is positive.
func (l *MemoryLimiter) DeleteStale(_ context.Context, cutoff time.Time, batchSize int) (int64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	var removed int64
	for key, hits := range l.hitsByKey {
		if batchSize > 0 && removed >= int64(batchSize) {
			break
		}
		if len(hits) == 0 || hits[len(hits)-1].Before(cutoff) {
			delete(l.hitsByKey, key)
			removed++
		}
	}
	return removed, nil
}

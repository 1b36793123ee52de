package ratelimit

import (
	"context"
	"sync"
	"time"
)

// CounterStore is the backing state for the limiter: a mapping from key
// to a live window counter. Injecting the store keeps the algorithm
// independent of process affinity: MemoryStore for single-process
// deployments, RedisStore when limits must be shared.
type CounterStore interface {
	// Hit records one request against key. On the first hit, or when the
	// previous window has elapsed, a fresh window of the given length
	// starts with count 1. Otherwise the existing count is incremented.
	// Returns the count within the current window and when it resets.
	Hit(ctx context.Context, key string, window time.Duration) (count int64, resetAt time.Time, err error)
}

// sweepInterval throttles expired-entry eviction in MemoryStore.
const sweepInterval = 60 * time.Second

type memoryEntry struct {
	count   int64
	resetAt time.Time
}

// MemoryStore is a process-local CounterStore. At most one live entry
// exists per key; an entry whose window has elapsed is treated as absent.
type MemoryStore struct {
	mu        sync.Mutex
	entries   map[string]*memoryEntry
	lastSweep time.Time

	// now is swappable for tests.
	now func() time.Time
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		entries: make(map[string]*memoryEntry),
		now:     time.Now,
	}
}

func (s *MemoryStore) Hit(_ context.Context, key string, window time.Duration) (int64, time.Time, error) {
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[key]
	if !ok || now.After(e.resetAt) {
		e = &memoryEntry{count: 1, resetAt: now.Add(window)}
		s.entries[key] = e
	} else {
		e.count++
	}
	count, resetAt := e.count, e.resetAt

	// Opportunistic eviction, throttled so request handling stays O(1)
	// amortized.
	if now.Sub(s.lastSweep) >= sweepInterval {
		s.lastSweep = now
		for k, entry := range s.entries {
			if now.After(entry.resetAt) {
				delete(s.entries, k)
			}
		}
	}

	return count, resetAt, nil
}

// Len returns the number of live entries. Test hook.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

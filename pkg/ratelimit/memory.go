package ratelimit

import (
	"context"
	"sync"
	"time"
)

type counterKey struct {
	key    string
	window time.Duration
}

type counter struct {
	count   int
	resetAt time.Time
}

// MemoryStore keeps counters in process. Expired counters are swept on every Hit.
type MemoryStore struct {
	mu       sync.Mutex
	counters map[counterKey]*counter
	now      func() time.Time
}

type MemoryOption func(*MemoryStore)

// WithClock replaces time.Now, mostly for tests.
func WithClock(now func() time.Time) MemoryOption {
	return func(s *MemoryStore) { s.now = now }
}

func NewMemoryStore(opts ...MemoryOption) *MemoryStore {
	s := &MemoryStore{
		counters: make(map[counterKey]*counter),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *MemoryStore) Hit(_ context.Context, key string, maxRequests int, window time.Duration) (Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	s.sweep(now)

	ck := counterKey{key: key, window: window}
	c, ok := s.counters[ck]
	if !ok {
		if maxRequests <= 0 {
			return Result{Allowed: false, Limit: maxRequests, Remaining: 0, ResetAt: now.Add(window)}, nil
		}
		c = &counter{count: 1, resetAt: now.Add(window)}
		s.counters[ck] = c
		return Result{Allowed: true, Limit: maxRequests, Remaining: maxRequests - 1, ResetAt: c.resetAt}, nil
	}

	if c.count >= maxRequests {
		return Result{Allowed: false, Limit: maxRequests, Remaining: 0, ResetAt: c.resetAt}, nil
	}

	c.count++
	return Result{Allowed: true, Limit: maxRequests, Remaining: maxRequests - c.count, ResetAt: c.resetAt}, nil
}

// sweep drops counters whose window ended before now. Caller holds mu.
func (s *MemoryStore) sweep(now time.Time) {
	for k, c := range s.counters {
		if now.After(c.resetAt) {
			delete(s.counters, k)
		}
	}
}

// Len reports the number of live counters.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.counters)
}

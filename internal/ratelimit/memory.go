package ratelimit

import (
	"context"
	"sync"
	"time"
)

// InMemory is a per-process sliding window. It is exact for one instance and
// knows nothing about traffic other instances admit.
// Idle keys are dropped by a sweep that runs at most once per sweepInterval.
type InMemory struct {
	mu        sync.Mutex
	buckets   map[string]*slidingWindow
	now       func() time.Time
	lastSweep time.Time
}

const sweepInterval = time.Minute

type slidingWindow struct {
	timestamps []time.Time
	window     time.Duration
}

func NewInMemory() *InMemory {
	return &InMemory{
		buckets: make(map[string]*slidingWindow),
		now:     time.Now,
	}
}

// Len reports how many keys currently hold a window.
func (s *InMemory) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.buckets)
}

func (s *InMemory) Allow(_ context.Context, key string, limit int, window time.Duration) (*Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	s.sweep(now)
	sw := s.buckets[key]
	if sw == nil {
		sw = &slidingWindow{}
		s.buckets[key] = sw
	}
	sw.window = window
	sw.cleanup(now.Add(-window))

	if len(sw.timestamps) >= limit {
		resetAt := sw.timestamps[0].Add(window)
		return &Result{
			Allowed:    false,
			Limit:      limit,
			ResetAt:    resetAt,
			RetryAfter: retryAfter(now, resetAt),
		}, nil
	}

	sw.timestamps = append(sw.timestamps, now)
	return &Result{
		Allowed:   true,
		Limit:     limit,
		Remaining: limit - len(sw.timestamps),
		ResetAt:   sw.timestamps[0].Add(window),
	}, nil
}

// sweep deletes every key whose window has emptied. Callers hold s.mu.
func (s *InMemory) sweep(now time.Time) {
	if now.Sub(s.lastSweep) < sweepInterval {
		return
	}
	s.lastSweep = now
	for key, sw := range s.buckets {
		sw.cleanup(now.Add(-sw.window))
		if len(sw.timestamps) == 0 {
			delete(s.buckets, key)
		}
	}
}

// cleanup drops timestamps at or before cutoff.
func (sw *slidingWindow) cleanup(cutoff time.Time) {
	i := 0
	for ; i < len(sw.timestamps); i++ {
		if sw.timestamps[i].After(cutoff) {
			break
		}
	}
	sw.timestamps = sw.timestamps[i:]
}

func retryAfter(now, resetAt time.Time) int {
	d := resetAt.Sub(now)
	secs := int(d / time.Second)
	if d%time.Second > 0 {
		secs++
	}
	return max(secs, 1)
}

package store

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// MemoryStore is the in-process fallback backend. Each (identifier,
// window) pair owns a bucket of chronologically ordered event times;
// a sweep goroutine drops buckets that emptied out so the map does not
// grow without bound.
//
// Unlike the Redis backend, rejected requests are not recorded here:
// the bucket only ever holds admitted events, which keeps trimming a
// simple prefix cut.
type MemoryStore struct {
	mu      sync.RWMutex
	buckets map[string]*bucket
	logger  *zap.Logger

	stopCh    chan struct{}
	stoppedCh chan struct{}
	closeOnce sync.Once
}

type bucket struct {
	mu     sync.Mutex
	window time.Duration
	events []time.Time
}

// NewMemoryStore creates a memory store. A non-positive sweepInterval
// disables the sweeper; Close still works either way.
func NewMemoryStore(sweepInterval time.Duration, logger *zap.Logger) *MemoryStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &MemoryStore{
		buckets:   make(map[string]*bucket),
		logger:    logger,
		stopCh:    make(chan struct{}),
		stoppedCh: make(chan struct{}),
	}

	if sweepInterval > 0 {
		go s.sweepLoop(sweepInterval)
	} else {
		close(s.stoppedCh)
	}
	return s
}

// Allow implements Store.
func (s *MemoryStore) Allow(
	ctx context.Context,
	identifier string,
	limit int,
	window time.Duration,
) (*Decision, error) {
	now := time.Now()
	b := s.getOrCreateBucket(windowKey(identifier, window), window)

	b.mu.Lock()
	defer b.mu.Unlock()

	b.trim(now)
	count := len(b.events)
	allowed := count < limit
	if allowed {
		b.events = append(b.events, now)
		count++
	}

	remaining := limit - count
	if !allowed {
		remaining = 0
	}
	if remaining < 0 {
		remaining = 0
	}

	return &Decision{
		Allowed:   allowed,
		Limit:     limit,
		Remaining: remaining,
		ResetAt:   now.Add(window),
		Current:   count,
	}, nil
}

// Reset implements Store.
func (s *MemoryStore) Reset(_ context.Context, identifier string, window time.Duration) error {
	s.mu.Lock()
	delete(s.buckets, windowKey(identifier, window))
	s.mu.Unlock()
	return nil
}

// Close stops the sweeper. Close is idempotent.
func (s *MemoryStore) Close() error {
	s.closeOnce.Do(func() {
		close(s.stopCh)
	})
	<-s.stoppedCh
	return nil
}

func (s *MemoryStore) getOrCreateBucket(key string, window time.Duration) *bucket {
	s.mu.RLock()
	b, ok := s.buckets[key]
	s.mu.RUnlock()
	if ok {
		return b
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if b, ok = s.buckets[key]; ok {
		return b
	}
	b = &bucket{window: window}
	s.buckets[key] = b
	return b
}

// trim drops events that fell out of the window. Events are appended
// in order, so expiry is a prefix cut.
func (b *bucket) trim(now time.Time) {
	cutoff := now.Add(-b.window)
	i := 0
	for i < len(b.events) && !b.events[i].After(cutoff) {
		i++
	}
	if i > 0 {
		b.events = append(b.events[:0], b.events[i:]...)
	}
}

func (s *MemoryStore) sweepLoop(interval time.Duration) {
	defer close(s.stoppedCh)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.sweep(time.Now())
		}
	}
}

// sweep deletes buckets whose events all expired.
func (s *MemoryStore) sweep(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for key, b := range s.buckets {
		b.mu.Lock()
		b.trim(now)
		empty := len(b.events) == 0
		b.mu.Unlock()
		if empty {
			delete(s.buckets, key)
		}
	}
}

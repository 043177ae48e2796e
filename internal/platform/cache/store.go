package cache

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/prospectdb/prospect-stats/internal/platform/resilience"
)

type entry struct {
	value     any
	expiresAt time.Time
}

// Store is a process-wide TTL cache. TTLs are supplied per call so each
// query kind can carry its own freshness policy; the store only enforces
// expiry. Concurrent GetOrFetch calls for one key collapse into a single
// fetch via the single-flight group.
type Store struct {
	mu      sync.RWMutex
	entries map[string]entry
	flight  resilience.SingleFlight

	sweepStop chan struct{}
	sweepOnce sync.Once
}

func NewStore() *Store {
	return &Store{
		entries:   make(map[string]entry),
		sweepStop: make(chan struct{}),
	}
}

func (s *Store) Get(_ context.Context, key string) (any, bool) {
	if key == "" {
		return nil, false
	}

	now := time.Now()
	s.mu.RLock()
	e, ok := s.entries[key]
	s.mu.RUnlock()
	if !ok {
		return nil, false
	}
	if !e.expiresAt.After(now) {
		s.mu.Lock()
		delete(s.entries, key)
		s.mu.Unlock()
		return nil, false
	}

	return e.value, true
}

func (s *Store) set(key string, value any, ttl time.Duration) {
	if key == "" || ttl <= 0 {
		return
	}

	s.mu.Lock()
	s.entries[key] = entry{
		value:     value,
		expiresAt: time.Now().Add(ttl),
	}
	s.mu.Unlock()
}

func (s *Store) Invalidate(_ context.Context, key string) {
	if key == "" {
		return
	}

	s.mu.Lock()
	delete(s.entries, key)
	s.mu.Unlock()
}

func (s *Store) InvalidatePrefix(_ context.Context, prefix string) {
	if prefix == "" {
		return
	}

	s.mu.Lock()
	for key := range s.entries {
		if len(key) >= len(prefix) && key[:len(prefix)] == prefix {
			delete(s.entries, key)
		}
	}
	s.mu.Unlock()
}

// GetOrFetch returns the unexpired cached value for key, or runs fetch and
// caches its result for ttl. Fetch failures are never cached, so the next
// caller retries. The second return value reports whether the value came
// from cache. Waiters joining an in-flight fetch report fromCache=false:
// the upstream call they are served by happened inside this request window.
func (s *Store) GetOrFetch(ctx context.Context, key string, ttl time.Duration, fetch func(context.Context) (any, error)) (any, bool, error) {
	if fetch == nil {
		return nil, false, fmt.Errorf("fetch func is required")
	}
	if key == "" {
		value, err := fetch(ctx)
		return value, false, err
	}

	if value, ok := s.Get(ctx, key); ok {
		return value, true, nil
	}

	type fetched struct {
		value   any
		fromHit bool
	}

	v, err, _ := s.flight.Do(key, func() (any, error) {
		// Re-check under the flight: a just-finished fetch may have
		// populated the entry between the miss and this call.
		if cached, ok := s.Get(ctx, key); ok {
			return fetched{value: cached, fromHit: true}, nil
		}

		loaded, fetchErr := fetch(ctx)
		if fetchErr != nil {
			return nil, fetchErr
		}
		s.set(key, loaded, ttl)
		return fetched{value: loaded}, nil
	})
	if err != nil {
		return nil, false, err
	}

	result, _ := v.(fetched)
	return result.value, result.fromHit, nil
}

// StartSweep evicts expired entries in the background so keys that are
// never read again do not pin memory. Safe to call once; Close stops it.
func (s *Store) StartSweep(interval time.Duration) {
	if interval <= 0 {
		return
	}
	s.sweepOnce.Do(func() {
		go func() {
			ticker := time.NewTicker(interval)
			defer ticker.Stop()
			for {
				select {
				case <-s.sweepStop:
					return
				case <-ticker.C:
					s.evictExpired(time.Now())
				}
			}
		}()
	})
}

func (s *Store) Close() {
	select {
	case <-s.sweepStop:
	default:
		close(s.sweepStop)
	}
}

func (s *Store) evictExpired(now time.Time) {
	s.mu.Lock()
	for key, e := range s.entries {
		if !e.expiresAt.After(now) {
			delete(s.entries, key)
		}
	}
	s.mu.Unlock()
}

func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

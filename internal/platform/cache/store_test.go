package cache

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestGetOrFetchMissThenHit(t *testing.T) {
	t.Parallel()

	s := NewStore()
	defer s.Close()

	var calls int32
	fetch := func(context.Context) (any, error) {
		atomic.AddInt32(&calls, 1)
		return "payload", nil
	}

	value, fromCache, err := s.GetOrFetch(context.Background(), "query:a", time.Minute, fetch)
	if err != nil {
		t.Fatalf("first fetch: %v", err)
	}
	if fromCache {
		t.Fatalf("first call must miss")
	}
	if value != "payload" {
		t.Fatalf("unexpected value %v", value)
	}

	value, fromCache, err = s.GetOrFetch(context.Background(), "query:a", time.Minute, fetch)
	if err != nil {
		t.Fatalf("second fetch: %v", err)
	}
	if !fromCache {
		t.Fatalf("second call must hit")
	}
	if value != "payload" {
		t.Fatalf("unexpected cached value %v", value)
	}
	if got := atomic.LoadInt32(&calls); got != 1 {
		t.Fatalf("expected one upstream fetch, got %d", got)
	}
}

func TestGetOrFetchExpiry(t *testing.T) {
	t.Parallel()

	s := NewStore()
	defer s.Close()

	var calls int32
	fetch := func(context.Context) (any, error) {
		return atomic.AddInt32(&calls, 1), nil
	}

	if _, _, err := s.GetOrFetch(context.Background(), "query:b", 20*time.Millisecond, fetch); err != nil {
		t.Fatalf("fetch: %v", err)
	}
	time.Sleep(40 * time.Millisecond)

	_, fromCache, err := s.GetOrFetch(context.Background(), "query:b", 20*time.Millisecond, fetch)
	if err != nil {
		t.Fatalf("refetch: %v", err)
	}
	if fromCache {
		t.Fatalf("expected expired entry to refetch")
	}
	if got := atomic.LoadInt32(&calls); got != 2 {
		t.Fatalf("expected two upstream fetches, got %d", got)
	}
}

func TestGetOrFetchErrorNotCached(t *testing.T) {
	t.Parallel()

	s := NewStore()
	defer s.Close()

	var calls int32
	fetch := func(context.Context) (any, error) {
		if atomic.AddInt32(&calls, 1) == 1 {
			return nil, fmt.Errorf("upstream down")
		}
		return "recovered", nil
	}

	if _, _, err := s.GetOrFetch(context.Background(), "query:c", time.Minute, fetch); err == nil {
		t.Fatalf("expected fetch error to surface")
	}
	if s.Len() != 0 {
		t.Fatalf("expected error result not cached, len=%d", s.Len())
	}

	value, fromCache, err := s.GetOrFetch(context.Background(), "query:c", time.Minute, fetch)
	if err != nil {
		t.Fatalf("retry: %v", err)
	}
	if fromCache {
		t.Fatalf("retry must not hit cache")
	}
	if value != "recovered" {
		t.Fatalf("unexpected retry value %v", value)
	}
}

func TestGetOrFetchCollapsesConcurrentCallers(t *testing.T) {
	t.Parallel()

	s := NewStore()
	defer s.Close()

	var calls int32
	fetch := func(context.Context) (any, error) {
		atomic.AddInt32(&calls, 1)
		time.Sleep(50 * time.Millisecond)
		return "shared", nil
	}

	const workers = 10
	var wg sync.WaitGroup
	values := make([]any, workers)
	errs := make([]error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			values[idx], _, errs[idx] = s.GetOrFetch(context.Background(), "query:d", time.Minute, fetch)
		}(i)
	}
	wg.Wait()

	for i := 0; i < workers; i++ {
		if errs[i] != nil {
			t.Fatalf("worker %d: %v", i, errs[i])
		}
		if values[i] != "shared" {
			t.Fatalf("worker %d got %v", i, values[i])
		}
	}
	if got := atomic.LoadInt32(&calls); got != 1 {
		t.Fatalf("expected collapsed single fetch, got %d", got)
	}
}

func TestGetOrFetchEmptyKeyBypassesCache(t *testing.T) {
	t.Parallel()

	s := NewStore()
	defer s.Close()

	var calls int32
	fetch := func(context.Context) (any, error) {
		return atomic.AddInt32(&calls, 1), nil
	}

	for i := 0; i < 2; i++ {
		_, fromCache, err := s.GetOrFetch(context.Background(), "", time.Minute, fetch)
		if err != nil {
			t.Fatalf("fetch %d: %v", i, err)
		}
		if fromCache {
			t.Fatalf("empty key must never hit cache")
		}
	}
	if got := atomic.LoadInt32(&calls); got != 2 {
		t.Fatalf("expected a fetch per call, got %d", got)
	}
}

func TestGetOrFetchRequiresFetchFunc(t *testing.T) {
	t.Parallel()

	s := NewStore()
	defer s.Close()

	if _, _, err := s.GetOrFetch(context.Background(), "query:e", time.Minute, nil); err == nil {
		t.Fatalf("expected error for nil fetch func")
	}
}

func TestInvalidate(t *testing.T) {
	t.Parallel()

	s := NewStore()
	defer s.Close()

	fetch := func(context.Context) (any, error) { return "v", nil }
	if _, _, err := s.GetOrFetch(context.Background(), "query:f", time.Minute, fetch); err != nil {
		t.Fatalf("seed: %v", err)
	}

	s.Invalidate(context.Background(), "query:f")
	if _, ok := s.Get(context.Background(), "query:f"); ok {
		t.Fatalf("expected invalidated entry gone")
	}
}

func TestInvalidatePrefix(t *testing.T) {
	t.Parallel()

	s := NewStore()
	defer s.Close()

	fetch := func(context.Context) (any, error) { return "v", nil }
	for _, key := range []string{"query:maxpreps:1", "query:maxpreps:2", "query:hudl:1"} {
		if _, _, err := s.GetOrFetch(context.Background(), key, time.Minute, fetch); err != nil {
			t.Fatalf("seed %s: %v", key, err)
		}
	}

	s.InvalidatePrefix(context.Background(), "query:maxpreps:")
	if s.Len() != 1 {
		t.Fatalf("expected only the hudl entry to survive, len=%d", s.Len())
	}
	if _, ok := s.Get(context.Background(), "query:hudl:1"); !ok {
		t.Fatalf("expected unrelated prefix untouched")
	}
}

func TestEvictExpired(t *testing.T) {
	t.Parallel()

	s := NewStore()
	defer s.Close()

	s.set("fresh", 1, time.Minute)
	s.set("stale", 2, 5*time.Millisecond)
	time.Sleep(10 * time.Millisecond)

	s.evictExpired(time.Now())
	if s.Len() != 1 {
		t.Fatalf("expected one survivor, len=%d", s.Len())
	}
	if _, ok := s.Get(context.Background(), "fresh"); !ok {
		t.Fatalf("expected fresh entry to survive sweep")
	}
}

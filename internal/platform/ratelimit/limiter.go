package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// DefaultSourceKey names the shared bucket used by sources registered
// without an explicit rate limit. Sharing it divides throughput across
// every unconfigured source, so anything performance-sensitive must get
// its own bucket via Configure.
const DefaultSourceKey = "_default"

const (
	DefaultRatePerSec    = 10.0
	DefaultBurstCapacity = 20
)

type bucket struct {
	mu         sync.Mutex
	ratePerSec float64
	capacity   float64
	tokens     float64
	lastRefill time.Time
}

// Limiter hands out request permits per source via token buckets with
// lazy refill. Buckets lock independently so one saturated source never
// serializes the others.
type Limiter struct {
	mu      sync.RWMutex
	buckets map[string]*bucket
	now     func() time.Time
}

func NewLimiter() *Limiter {
	l := &Limiter{
		buckets: make(map[string]*bucket),
		now:     time.Now,
	}
	l.configureLocked(DefaultSourceKey, DefaultRatePerSec, DefaultBurstCapacity)
	return l
}

// Configure creates or replaces the dedicated bucket for sourceKey.
// A fresh bucket starts full.
func (l *Limiter) Configure(sourceKey string, ratePerSec float64, burstCapacity int) error {
	if sourceKey == "" {
		return fmt.Errorf("source key is required")
	}
	if ratePerSec <= 0 {
		return fmt.Errorf("rate for %q must be > 0", sourceKey)
	}
	if burstCapacity < 1 {
		return fmt.Errorf("burst capacity for %q must be >= 1", sourceKey)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	l.configureLocked(sourceKey, ratePerSec, burstCapacity)
	return nil
}

func (l *Limiter) configureLocked(sourceKey string, ratePerSec float64, burstCapacity int) {
	l.buckets[sourceKey] = &bucket{
		ratePerSec: ratePerSec,
		capacity:   float64(burstCapacity),
		tokens:     float64(burstCapacity),
		lastRefill: l.now(),
	}
}

// Acquire blocks until a token is available for sourceKey or ctx is done.
// Sources without a dedicated bucket draw from the shared default bucket.
// The only error it returns is ctx.Err(); callers that bound the wait with
// a deadline treat that as a rate-limited outcome, not a source failure.
func (l *Limiter) Acquire(ctx context.Context, sourceKey string) error {
	b := l.bucketFor(sourceKey)

	for {
		wait, ok := b.take(l.now())
		if ok {
			return nil
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// TryAcquire takes a token without waiting.
func (l *Limiter) TryAcquire(sourceKey string) bool {
	_, ok := l.bucketFor(sourceKey).take(l.now())
	return ok
}

// take refills lazily and spends one token. When empty it reports the
// duration until the next token accrues.
func (b *bucket) take(now time.Time) (time.Duration, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	elapsed := now.Sub(b.lastRefill).Seconds()
	if elapsed > 0 {
		b.tokens += elapsed * b.ratePerSec
		if b.tokens > b.capacity {
			b.tokens = b.capacity
		}
		b.lastRefill = now
	}

	if b.tokens >= 1 {
		b.tokens--
		return 0, true
	}

	wait := time.Duration((1 - b.tokens) / b.ratePerSec * float64(time.Second))
	if wait < time.Millisecond {
		wait = time.Millisecond
	}
	return wait, false
}

func (l *Limiter) bucketFor(sourceKey string) *bucket {
	l.mu.RLock()
	b, ok := l.buckets[sourceKey]
	if !ok {
		b = l.buckets[DefaultSourceKey]
	}
	l.mu.RUnlock()
	return b
}

// BucketSnapshot is a point-in-time view of one bucket for status surfaces.
type BucketSnapshot struct {
	SourceKey  string  `json:"sourceKey"`
	RatePerSec float64 `json:"ratePerSec"`
	Capacity   int     `json:"capacity"`
	Tokens     float64 `json:"tokens"`
}

func (l *Limiter) Snapshot(sourceKey string) (BucketSnapshot, bool) {
	l.mu.RLock()
	b, ok := l.buckets[sourceKey]
	l.mu.RUnlock()
	if !ok {
		return BucketSnapshot{}, false
	}

	now := l.now()
	b.mu.Lock()
	defer b.mu.Unlock()

	tokens := b.tokens + now.Sub(b.lastRefill).Seconds()*b.ratePerSec
	if tokens > b.capacity {
		tokens = b.capacity
	}

	return BucketSnapshot{
		SourceKey:  sourceKey,
		RatePerSec: b.ratePerSec,
		Capacity:   int(b.capacity),
		Tokens:     tokens,
	}, true
}

// SetClock overrides the limiter clock. Tests use it to avoid real sleeps
// in refill assertions; Acquire waits still use the wall clock.
func (l *Limiter) SetClock(now func() time.Time) {
	if now == nil {
		return
	}
	l.mu.Lock()
	l.now = now
	l.mu.Unlock()
}

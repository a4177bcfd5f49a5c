// Package ratelimit provides per-user token buckets for chat turns.
package ratelimit

import (
	"sync"
	"time"
)

const (
	// DefaultCapacity is the burst a fresh user gets.
	DefaultCapacity = 10
	// DefaultRefill is the number of tokens restored per period.
	DefaultRefill = 1
	// DefaultPeriod is the refill period.
	DefaultPeriod = time.Minute
)

// Clock returns the current time.
type Clock func() time.Time

// Bucket is a single token bucket.
type Bucket struct {
	lastRefill time.Time
	lastUsed   time.Time
	period     time.Duration
	now        Clock
	capacity   int
	tokens     int
	refill     int
	mu         sync.Mutex
}

// NewBucket creates a full bucket.
func NewBucket(capacity, refill int, period time.Duration, now Clock) *Bucket {
	if now == nil {
		now = time.Now
	}
	b := &Bucket{
		capacity: capacity,
		tokens:   capacity,
		refill:   refill,
		period:   period,
		now:      now,
	}
	b.lastRefill = now()
	b.lastUsed = b.lastRefill
	return b
}

// Allow consumes a token if one is available.
func (b *Bucket) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.refillLocked()
	b.lastUsed = b.now()
	if b.tokens > 0 {
		b.tokens--
		return true
	}
	return false
}

// RetryAfter returns how long until the next token arrives, or zero if one is
// available now.
func (b *Bucket) RetryAfter() time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.refillLocked()
	if b.tokens > 0 {
		return 0
	}
	return b.lastRefill.Add(b.period).Sub(b.now())
}

// refillLocked adds tokens for every whole period elapsed. Callers hold mu.
func (b *Bucket) refillLocked() {
	if b.period <= 0 {
		b.tokens = b.capacity
		return
	}

	periods := int(b.now().Sub(b.lastRefill) / b.period)
	if periods <= 0 {
		return
	}

	b.tokens = min(b.tokens+periods*b.refill, b.capacity)
	b.lastRefill = b.lastRefill.Add(time.Duration(periods) * b.period)
}

// Limiter keeps one bucket per key.
type Limiter struct {
	buckets  map[string]*Bucket
	now      Clock
	capacity int
	refill   int
	period   time.Duration
	mu       sync.Mutex
}

// Option configures a Limiter.
type Option func(*Limiter)

// WithClock substitutes the time source.
func WithClock(now Clock) Option {
	return func(l *Limiter) {
		if now != nil {
			l.now = now
		}
	}
}

// New creates a limiter. Non-positive arguments fall back to the defaults.
func New(capacity, refill int, period time.Duration, opts ...Option) *Limiter {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	if refill <= 0 {
		refill = DefaultRefill
	}
	if period <= 0 {
		period = DefaultPeriod
	}
	l := &Limiter{
		buckets:  make(map[string]*Bucket),
		now:      time.Now,
		capacity: capacity,
		refill:   refill,
		period:   period,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

func (l *Limiter) bucket(key string) *Bucket {
	l.mu.Lock()
	defer l.mu.Unlock()

	b, ok := l.buckets[key]
	if !ok {
		b = NewBucket(l.capacity, l.refill, l.period, l.now)
		l.buckets[key] = b
	}
	return b
}

// Allow consumes a token for key if one is available.
func (l *Limiter) Allow(key string) bool {
	return l.bucket(key).Allow()
}

// RetryAfter reports how long key must wait for its next token.
func (l *Limiter) RetryAfter(key string) time.Duration {
	return l.bucket(key).RetryAfter()
}

// CleanupStale drops buckets that are full and idle for longer than maxAge.
func (l *Limiter) CleanupStale(maxAge time.Duration) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	cutoff := l.now().Add(-maxAge)
	removed := 0
	for key, b := range l.buckets {
		b.mu.Lock()
		b.refillLocked()
		stale := b.tokens == b.capacity && b.lastUsed.Before(cutoff)
		b.mu.Unlock()
		if stale {
			delete(l.buckets, key)
			removed++
		}
	}
	return removed
}

// Stats returns limiter statistics.
func (l *Limiter) Stats() map[string]int {
	l.mu.Lock()
	defer l.mu.Unlock()

	total := 0
	for _, b := range l.buckets {
		b.mu.Lock()
		b.refillLocked()
		total += b.tokens
		b.mu.Unlock()
	}
	return map[string]int{
		"users":        len(l.buckets),
		"total_tokens": total,
	}
}

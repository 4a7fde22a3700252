// Package ratelimit implements the per-session token bucket from
// spec.md §4.6/§3. The bucket is owned by its session and deleted on
// disconnect; it is never shared across sessions or instances (spec.md
// §5's "shared-resource policy").
//
// This is hand-rolled rather than built on golang.org/x/time/rate:
// x/time/rate does not expose its current token count for inspection,
// and spec.md §8 property 4 requires reasoning precisely about the
// admitted-request bound over an arbitrary window, which calls for a
// bucket whose state is directly readable in tests.
package ratelimit

import (
	"sync"
	"time"
)

// Bucket is a single session's token bucket.
type Bucket struct {
	mu         sync.Mutex
	tokens     float64
	lastRefill time.Time

	maxTokens  float64
	refillRate float64
	now        func() time.Time
}

// New creates a Bucket starting full, per spec.md §4.6.
func New(maxTokens, refillRate float64) *Bucket {
	return newWithClock(maxTokens, refillRate, time.Now)
}

func newWithClock(maxTokens, refillRate float64, now func() time.Time) *Bucket {
	return &Bucket{
		tokens:     maxTokens,
		lastRefill: now(),
		maxTokens:  maxTokens,
		refillRate: refillRate,
		now:        now,
	}
}

// Allow refills the bucket for elapsed time, then admits the request if
// at least one token is available, exactly per spec.md §4.6's algorithm.
func (b *Bucket) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.now()
	elapsed := now.Sub(b.lastRefill).Seconds()
	if elapsed > 0 {
		b.tokens = min(b.maxTokens, b.tokens+elapsed*b.refillRate)
		b.lastRefill = now
	}

	if b.tokens >= 1 {
		b.tokens--
		return true
	}
	return false
}

// Tokens returns the current token count, refilling first. Exposed for
// tests verifying the exact admitted-request bound (spec.md §8 property
// 4); not used on the request path.
func (b *Bucket) Tokens() float64 {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.now()
	elapsed := now.Sub(b.lastRefill).Seconds()
	if elapsed > 0 {
		b.tokens = min(b.maxTokens, b.tokens+elapsed*b.refillRate)
		b.lastRefill = now
	}
	return b.tokens
}

func min(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}

// Limiter owns one Bucket per live session, created on first use and
// removed on disconnect.
type Limiter struct {
	maxTokens  float64
	refillRate float64

	mu      sync.Mutex
	buckets map[string]*Bucket
}

// NewLimiter constructs a Limiter with the given bucket parameters
// (spec.md §6: MAX_TOKENS, REFILL_RATE).
func NewLimiter(maxTokens, refillRate float64) *Limiter {
	return &Limiter{
		maxTokens:  maxTokens,
		refillRate: refillRate,
		buckets:    make(map[string]*Bucket),
	}
}

// Allow admits or rejects a request for the given session, creating its
// bucket on first use.
func (l *Limiter) Allow(sessionID string) bool {
	return l.bucketFor(sessionID).Allow()
}

func (l *Limiter) bucketFor(sessionID string) *Bucket {
	l.mu.Lock()
	defer l.mu.Unlock()

	b, ok := l.buckets[sessionID]
	if !ok {
		b = New(l.maxTokens, l.refillRate)
		l.buckets[sessionID] = b
	}
	return b
}

// Release removes a session's bucket. Called on disconnect (spec.md
// §4.6: "Bucket is deleted on session disconnect").
func (l *Limiter) Release(sessionID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.buckets, sessionID)
}

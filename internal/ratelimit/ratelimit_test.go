package ratelimit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBucketStartsFull(t *testing.T) {
	b := New(10, 1)
	assert.Equal(t, 10.0, b.Tokens())
}

func TestBucketAdmitsUntilDepleted(t *testing.T) {
	clock := time.Now()
	b := newWithClock(3, 0, func() time.Time { return clock })

	require.True(t, b.Allow())
	require.True(t, b.Allow())
	require.True(t, b.Allow())
	assert.False(t, b.Allow(), "fourth request should be rejected with no refill")
}

func TestBucketRefillsOverTime(t *testing.T) {
	clock := time.Now()
	b := newWithClock(2, 1, func() time.Time { return clock })

	require.True(t, b.Allow())
	require.True(t, b.Allow())
	require.False(t, b.Allow())

	clock = clock.Add(2 * time.Second)
	assert.True(t, b.Allow(), "two seconds at 1 token/sec should refill at least one token")
}

func TestBucketRefillCapsAtMax(t *testing.T) {
	clock := time.Now()
	b := newWithClock(5, 100, func() time.Time { return clock })

	_ = b.Allow()
	clock = clock.Add(time.Hour)
	assert.Equal(t, 5.0, b.Tokens(), "refill must never exceed maxTokens")
}

func TestLimiterCreatesBucketPerSession(t *testing.T) {
	l := NewLimiter(1, 0)

	assert.True(t, l.Allow("session-a"))
	assert.False(t, l.Allow("session-a"), "session-a's single token is spent")
	assert.True(t, l.Allow("session-b"), "session-b has an independent bucket")
}

func TestLimiterReleaseResetsSession(t *testing.T) {
	l := NewLimiter(1, 0)

	require.True(t, l.Allow("session-a"))
	require.False(t, l.Allow("session-a"))

	l.Release("session-a")
	assert.True(t, l.Allow("session-a"), "a released session gets a fresh bucket")
}

package queue

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/relaymesh/relaymesh/internal/proto"
)

func newTestQueue(t *testing.T, maxLen int, ttl time.Duration) (*Queue, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	return New(rdb, maxLen, ttl), rdb
}

func envelope(to, msgID string) proto.Envelope {
	return proto.Envelope{
		MsgID:     msgID,
		From:      "alice",
		To:        to,
		Payload:   proto.Payload{Kind: proto.KindText, Text: "hi"},
		Timestamp: time.Now().UTC(),
		Kind:      proto.KindDirect,
	}
}

func TestPushAndFlushPreservesOrder(t *testing.T) {
	q, _ := newTestQueue(t, 100, time.Minute)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		queued, err := q.Push(ctx, "bob", envelope("bob", string(rune('a'+i))))
		require.NoError(t, err)
		require.True(t, queued)
	}

	envs, err := q.Flush(ctx, "bob")
	require.NoError(t, err)
	require.Len(t, envs, 3)
	require.Equal(t, "a", envs[0].MsgID)
	require.Equal(t, "c", envs[2].MsgID)
}

func TestFlushIsDestructive(t *testing.T) {
	q, _ := newTestQueue(t, 100, time.Minute)
	ctx := context.Background()

	_, err := q.Push(ctx, "bob", envelope("bob", "1"))
	require.NoError(t, err)

	_, err = q.Flush(ctx, "bob")
	require.NoError(t, err)

	envs, err := q.Flush(ctx, "bob")
	require.NoError(t, err)
	require.Empty(t, envs, "a second flush must see an empty queue")
}

func TestPushDropsAtMaxLen(t *testing.T) {
	q, _ := newTestQueue(t, 2, time.Minute)
	ctx := context.Background()

	queued, err := q.Push(ctx, "bob", envelope("bob", "1"))
	require.NoError(t, err)
	require.True(t, queued)

	queued, err = q.Push(ctx, "bob", envelope("bob", "2"))
	require.NoError(t, err)
	require.True(t, queued)

	queued, err = q.Push(ctx, "bob", envelope("bob", "3"))
	require.NoError(t, err)
	require.False(t, queued, "a third push beyond MAX_QUEUE_LEN=2 must be dropped, not overwrite")

	n, err := q.Len(ctx, "bob")
	require.NoError(t, err)
	require.EqualValues(t, 2, n)
}

func TestFlushFiltersExpiredItems(t *testing.T) {
	q, _ := newTestQueue(t, 100, -time.Second) // already-expired ttl
	ctx := context.Background()

	_, err := q.Push(ctx, "bob", envelope("bob", "1"))
	require.NoError(t, err)

	envs, err := q.Flush(ctx, "bob")
	require.NoError(t, err)
	require.Empty(t, envs, "items whose expires_at has already passed must not be returned")
}

package presence

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/relaymesh/relaymesh/internal/proto"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	return New(rdb, time.Hour)
}

func TestSetOnlineThenLookup(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	ref := proto.SessionRef{InstanceID: "inst-1", SessionID: "sess-1"}
	require.NoError(t, s.SetOnline(ctx, "alice", ref))

	online, err := s.IsOnline(ctx, "alice")
	require.NoError(t, err)
	require.True(t, online)

	got, err := s.Lookup(ctx, "alice")
	require.NoError(t, err)
	require.NotNil(t, got)
	require.Equal(t, ref.SessionID, got.SessionID)
}

func TestLookupOfflineReturnsNil(t *testing.T) {
	s := newTestStore(t)
	got, err := s.Lookup(context.Background(), "nobody")
	require.NoError(t, err)
	require.Nil(t, got)
}

// TestOnlineSurvivesUntilLastSessionDisconnects exercises invariant #1:
// an identity with two live sessions stays online until both go offline.
func TestOnlineSurvivesUntilLastSessionDisconnects(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.SetOnline(ctx, "alice", proto.SessionRef{InstanceID: "inst-1", SessionID: "sess-1"}))
	require.NoError(t, s.SetOnline(ctx, "alice", proto.SessionRef{InstanceID: "inst-2", SessionID: "sess-2"}))

	require.NoError(t, s.SetOffline(ctx, "alice"))
	online, err := s.IsOnline(ctx, "alice")
	require.NoError(t, err)
	require.True(t, online, "one remaining session must keep the identity online")

	require.NoError(t, s.SetOffline(ctx, "alice"))
	online, err = s.IsOnline(ctx, "alice")
	require.NoError(t, err)
	require.False(t, online, "the last session disconnecting must mark the identity offline")
}

func TestSetOfflineIsIdempotent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.SetOnline(ctx, "alice", proto.SessionRef{InstanceID: "inst-1", SessionID: "sess-1"}))
	require.NoError(t, s.SetOffline(ctx, "alice"))
	require.NoError(t, s.SetOffline(ctx, "alice"), "a second set_offline for an already-offline identity must not error")

	online, err := s.IsOnline(ctx, "alice")
	require.NoError(t, err)
	require.False(t, online)
}

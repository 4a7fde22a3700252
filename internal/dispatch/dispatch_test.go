package dispatch

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/relaymesh/relaymesh/internal/presence"
	"github.com/relaymesh/relaymesh/internal/proto"
	"github.com/relaymesh/relaymesh/internal/pubsub"
	"github.com/relaymesh/relaymesh/internal/queue"
	"github.com/relaymesh/relaymesh/internal/ratelimit"
	"github.com/relaymesh/relaymesh/internal/relayerr"
	"github.com/relaymesh/relaymesh/internal/session"
)

func newTestDispatcher(t *testing.T) (*Dispatcher, *session.Registry) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})

	sessions := session.NewRegistry(zerolog.Nop())
	pres := presence.New(rdb, time.Hour)
	q := queue.New(rdb, 100, time.Minute)
	bus := pubsub.New(rdb)
	limiter := ratelimit.NewLimiter(1000, 1000)

	d := New(Config{InstanceID: "inst-1", MaxPayloadSize: 1024}, zerolog.Nop(), sessions, pres, q, bus, limiter, nil)
	return d, sessions
}

func registerSession(t *testing.T, d *Dispatcher, sessions *session.Registry, id, instance, identity string) *session.Session {
	t.Helper()
	s := session.New(id, instance)
	sessions.Track(s)
	_, err := d.Register(context.Background(), s, identity, nil)
	require.NoError(t, err)
	return s
}

func TestRelayDeliversLocally(t *testing.T) {
	d, sessions := newTestDispatcher(t)
	ctx := context.Background()

	registerSession(t, d, sessions, "s-alice", "inst-1", "alice")
	bob := registerSession(t, d, sessions, "s-bob", "inst-1", "bob")

	status, err := d.Relay(ctx, sessionFor(sessions, "s-alice"), proto.RelayReq{
		MsgID: "1", To: "bob", Payload: proto.Payload{Kind: proto.KindText, Text: "hi"},
	})
	require.NoError(t, err)
	require.Equal(t, proto.StatusDelivered, status.Status)

	select {
	case msg := <-bob.Send:
		frame := msg.(proto.ServerFrame)
		require.Equal(t, proto.EvRelayPush, frame.Event)
	case <-time.After(time.Second):
		t.Fatal("bob never received the relay push")
	}
}

func TestRelayQueuesWhenRecipientOffline(t *testing.T) {
	d, sessions := newTestDispatcher(t)
	ctx := context.Background()

	registerSession(t, d, sessions, "s-alice", "inst-1", "alice")

	status, err := d.Relay(ctx, sessionFor(sessions, "s-alice"), proto.RelayReq{
		MsgID: "1", To: "bob", Payload: proto.Payload{Kind: proto.KindText, Text: "hi"},
	})
	require.NoError(t, err)
	require.Equal(t, proto.StatusQueued, status.Status)
}

func TestRelayRejectsOversizedPayload(t *testing.T) {
	d, sessions := newTestDispatcher(t)
	ctx := context.Background()
	registerSession(t, d, sessions, "s-alice", "inst-1", "alice")

	big := make([]byte, 2048)
	_, err := d.Relay(ctx, sessionFor(sessions, "s-alice"), proto.RelayReq{
		MsgID: "1", To: "bob", Payload: proto.Payload{Kind: proto.KindBinary, Binary: big},
	})
	re, ok := relayerr.As(err)
	require.True(t, ok)
	require.Equal(t, relayerr.TooLarge, re.Kind)
}

func TestRelayRejectsUnboundSession(t *testing.T) {
	d, sessions := newTestDispatcher(t)
	s := session.New("s-ghost", "inst-1")
	sessions.Track(s)

	_, err := d.Relay(context.Background(), s, proto.RelayReq{MsgID: "1", To: "bob"})
	re, ok := relayerr.As(err)
	require.True(t, ok)
	require.Equal(t, relayerr.Unauthenticated, re.Kind)
}

func TestEchoExcludesOriginatingSession(t *testing.T) {
	d, sessions := newTestDispatcher(t)
	ctx := context.Background()

	origin := registerSession(t, d, sessions, "s-alice-1", "inst-1", "alice")
	other := registerSession(t, d, sessions, "s-alice-2", "inst-1", "alice")
	registerSession(t, d, sessions, "s-bob", "inst-1", "bob")

	_, err := d.Relay(ctx, origin, proto.RelayReq{
		MsgID: "1", To: "bob", Payload: proto.Payload{Kind: proto.KindText, Text: "hi"},
	})
	require.NoError(t, err)

	select {
	case msg := <-other.Send:
		frame := msg.(proto.ServerFrame)
		require.Equal(t, proto.EvRelayPush, frame.Event)
		push := frame.Data.(proto.RelayPush)
		require.Equal(t, proto.KindEcho, push.Kind)
	case <-time.After(time.Second):
		t.Fatal("alice's other device never received the echo")
	}

	select {
	case msg := <-origin.Send:
		t.Fatalf("originating session must not receive its own echo, got %v", msg)
	default:
	}
}

func TestDisconnectKeepsIdentityOnlineWithRemainingSession(t *testing.T) {
	d, sessions := newTestDispatcher(t)
	ctx := context.Background()

	s1 := registerSession(t, d, sessions, "s1", "inst-1", "alice")
	_ = registerSession(t, d, sessions, "s2", "inst-1", "alice")

	d.Disconnect(ctx, s1)

	online, err := d.presence.IsOnline(ctx, "alice")
	require.NoError(t, err)
	require.True(t, online, "alice must stay online while s2 is still live")
}

func sessionFor(r *session.Registry, id string) *session.Session {
	s, _ := r.Get(id)
	return s
}

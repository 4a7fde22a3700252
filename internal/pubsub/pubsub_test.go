package pubsub

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/relaymesh/relaymesh/internal/proto"
)

func newTestBus(t *testing.T) *Bus {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	return New(rdb)
}

func TestPublishRelayDeliversToSubscriber(t *testing.T) {
	b := newTestBus(t)
	ctx := context.Background()

	sub := b.Subscribe(ctx, "bob")
	defer sub.Close()
	time.Sleep(50 * time.Millisecond) // let miniredis register the subscription

	env := proto.Envelope{MsgID: "1", From: "alice", To: "bob", Kind: proto.KindDirect}
	require.NoError(t, b.PublishRelay(ctx, env))

	select {
	case evt := <-sub.Events():
		require.Equal(t, proto.BusRelay, evt.Type)
		require.NotNil(t, evt.Envelope)
		require.Equal(t, "alice", evt.Envelope.From)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for relay event")
	}
}

func TestPublishAckDeliversToSubscriber(t *testing.T) {
	b := newTestBus(t)
	ctx := context.Background()

	sub := b.Subscribe(ctx, "alice")
	defer sub.Close()
	time.Sleep(50 * time.Millisecond)

	require.NoError(t, b.PublishAck(ctx, "alice", proto.AckEvent{From: "bob", MsgID: "7"}))

	select {
	case evt := <-sub.Events():
		require.Equal(t, proto.BusAck, evt.Type)
		require.NotNil(t, evt.Ack)
		require.Equal(t, "7", evt.Ack.MsgID)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for ack event")
	}
}

func TestEventsChannelClosesOnUnsubscribe(t *testing.T) {
	b := newTestBus(t)
	ctx := context.Background()

	sub := b.Subscribe(ctx, "carol")
	events := sub.Events()
	require.NoError(t, sub.Close())

	select {
	case _, ok := <-events:
		require.False(t, ok, "events channel must close once the subscription closes")
	case <-time.After(2 * time.Second):
		t.Fatal("events channel never closed")
	}
}

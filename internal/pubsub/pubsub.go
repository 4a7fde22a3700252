// Package pubsub implements the cross-instance event bus (spec.md §4.7):
// one broadcast channel per target identity, "deliver.{identity}". Every
// instance subscribes to the topics for its locally-registered
// identities; a publish reaches every subscribed instance, at-least-once,
// with duplication possible (client-side dedup by msg_id).
//
// Generalizes the teacher's server/cluster.go intra-cluster RPC routing
// (a fixed-membership ring hash over direct TCP connections) to a
// Redis-mediated bus, because spec.md §6 names REDIS_URL as the
// pub/sub transport and the scaling model is "many relay instances
// behind a shared broker," not a fixed ring of known peers.
package pubsub

import (
	"context"
	"encoding/json"

	"github.com/redis/go-redis/v9"

	"github.com/relaymesh/relaymesh/internal/proto"
	"github.com/relaymesh/relaymesh/internal/relayerr"
)

func topicFor(identity string) string {
	return "deliver." + identity
}

// Bus is the Redis-backed pub/sub fan-out.
type Bus struct {
	rdb redis.UniversalClient
}

// New constructs a Bus.
func New(rdb redis.UniversalClient) *Bus {
	return &Bus{rdb: rdb}
}

func (b *Bus) publish(ctx context.Context, identity string, evt proto.BusEvent) error {
	data, err := json.Marshal(evt)
	if err != nil {
		return relayerr.New(relayerr.InvalidArgument, "encode bus event: "+err.Error())
	}
	if err := b.rdb.Publish(ctx, topicFor(identity), data).Err(); err != nil {
		return relayerr.New(relayerr.KVUnavailable, "publish: "+err.Error())
	}
	return nil
}

// PublishRelay broadcasts env on the topic for env.To. Every instance
// subscribed to that identity's topic receives it (spec.md §4.7).
func (b *Bus) PublishRelay(ctx context.Context, env proto.Envelope) error {
	return b.publish(ctx, env.To, proto.BusEvent{Type: proto.BusRelay, Envelope: &env})
}

// PublishAck broadcasts an ACK notification on the topic for the
// original sender (to), per spec.md §4.4's ACK path.
func (b *Bus) PublishAck(ctx context.Context, to string, ack proto.AckEvent) error {
	return b.publish(ctx, to, proto.BusEvent{Type: proto.BusAck, Ack: &ack})
}

// Subscription wraps a live redis.PubSub subscription for one identity.
type Subscription struct {
	ps *redis.PubSub
	ch <-chan *redis.Message
}

// Subscribe opens a subscription to identity's delivery topic. Callers
// must call Close when the identity has no more locally-registered
// sessions.
func (b *Bus) Subscribe(ctx context.Context, identity string) *Subscription {
	ps := b.rdb.Subscribe(ctx, topicFor(identity))
	return &Subscription{ps: ps, ch: ps.Channel()}
}

// Events returns a channel of decoded bus events for this subscription;
// malformed messages are silently skipped (a poison message must not
// take down the subscriber loop).
func (s *Subscription) Events() <-chan proto.BusEvent {
	out := make(chan proto.BusEvent)
	go func() {
		defer close(out)
		for msg := range s.ch {
			var evt proto.BusEvent
			if err := json.Unmarshal([]byte(msg.Payload), &evt); err != nil {
				continue
			}
			out <- evt
		}
	}()
	return out
}

// Close terminates the subscription.
func (s *Subscription) Close() error {
	return s.ps.Close()
}

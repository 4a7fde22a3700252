// Package dispatch implements the Relay Dispatcher (spec.md §4.4), the
// central component: it accepts relay/ack/register requests, resolves
// recipients through the Presence Store, and routes to a local session,
// a remote instance via pub/sub, or the Message Queue. Grounded on the
// teacher's server/hub.go dispatch loop and server/topic.go's per-topic
// routing, generalized from topic-subscription routing to
// identity-addressed relay.
package dispatch

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/relaymesh/relaymesh/internal/metrics"
	"github.com/relaymesh/relaymesh/internal/presence"
	"github.com/relaymesh/relaymesh/internal/proto"
	"github.com/relaymesh/relaymesh/internal/pubsub"
	"github.com/relaymesh/relaymesh/internal/queue"
	"github.com/relaymesh/relaymesh/internal/ratelimit"
	"github.com/relaymesh/relaymesh/internal/relayerr"
	"github.com/relaymesh/relaymesh/internal/session"
)

// Config carries the tunables the Dispatcher enforces directly
// (spec.md §6).
type Config struct {
	InstanceID     string
	MaxPayloadSize int64
}

// Dispatcher is the central relay engine.
type Dispatcher struct {
	cfg      Config
	log      zerolog.Logger
	sessions *session.Registry
	presence *presence.Store
	queue    *queue.Queue
	bus      *pubsub.Bus
	limiter  *ratelimit.Limiter
	metrics  *metrics.Metrics

	subs *subscriptionManager
}

// New constructs a Dispatcher wired to its collaborators.
func New(cfg Config, log zerolog.Logger, sessions *session.Registry, pres *presence.Store, q *queue.Queue, bus *pubsub.Bus, limiter *ratelimit.Limiter, m *metrics.Metrics) *Dispatcher {
	d := &Dispatcher{
		cfg:      cfg,
		log:      log.With().Str("component", "dispatcher").Logger(),
		sessions: sessions,
		presence: pres,
		queue:    q,
		bus:      bus,
		limiter:  limiter,
		metrics:  m,
	}
	d.subs = newSubscriptionManager(d)
	return d
}

// Register binds sess to identity, ensures this instance is subscribed
// to the identity's delivery topic, marks the identity online, and
// flushes the identity's queue, returning the unexpired envelopes so the
// caller can send them to the newly-registered session as a single
// queue_flush batch (spec.md §4.4 "On reconnect").
//
// Master and slave registrations bind the same way; the caller picks the
// type it echoes back in the Registered reply. flushTo is not used.
func (d *Dispatcher) Register(ctx context.Context, sess *session.Session, identity string, flushTo *session.Session) ([]proto.Envelope, error) {
	if identity == "" {
		return nil, relayerr.New(relayerr.InvalidArgument, "identity is required")
	}

	d.sessions.Bind(sess.ID, identity)
	d.subs.acquire(ctx, identity)

	ref := proto.SessionRef{InstanceID: d.cfg.InstanceID, SessionID: sess.ID}
	if err := d.presence.SetOnline(ctx, identity, ref); err != nil {
		return nil, err
	}
	if d.metrics != nil {
		d.metrics.SessionsOnline.Inc()
	}

	envs, err := d.queue.Flush(ctx, identity)
	if err != nil {
		return nil, err
	}
	return envs, nil
}

// Disconnect unbinds sess, releases its rate bucket, marks one fewer
// live session for its identity in the Presence Store, and releases this
// instance's subscription to that identity's topic if it was the last
// local session (spec.md §4.1, §4.6).
func (d *Dispatcher) Disconnect(ctx context.Context, sess *session.Session) {
	identity := sess.Identity()
	d.sessions.Unbind(sess.ID)
	d.limiter.Release(sess.ID)

	if identity == "" {
		return
	}

	if err := d.presence.SetOffline(ctx, identity); err != nil {
		d.log.Warn().Err(err).Str("identity", identity).Msg("set_offline failed")
	}
	d.subs.release(identity)
	if d.metrics != nil {
		d.metrics.SessionsOnline.Dec()
	}
}

// Relay implements spec.md §4.4's core algorithm.
func (d *Dispatcher) Relay(ctx context.Context, sess *session.Session, req proto.RelayReq) (proto.DispatchStatus, error) {
	from, ok := d.sessions.IdentityOf(sess.ID)
	if !ok {
		return proto.DispatchStatus{}, relayerr.New(relayerr.Unauthenticated, "no identity bound to session")
	}

	if !d.limiter.Allow(sess.ID) {
		if d.metrics != nil {
			d.metrics.RateLimited.Inc()
		}
		return proto.DispatchStatus{}, relayerr.New(relayerr.RateLimited, "token bucket depleted")
	}

	if req.To == "" || req.MsgID == "" {
		return proto.DispatchStatus{}, relayerr.New(relayerr.InvalidArgument, "relay requires to and msg_id")
	}

	if size := req.Payload.Size(); size > d.cfg.MaxPayloadSize {
		return proto.DispatchStatus{}, relayerr.New(relayerr.TooLarge, "payload exceeds MAX_PAYLOAD_SIZE")
	}

	env := proto.Envelope{
		MsgID:     req.MsgID,
		From:      from,
		To:        req.To,
		Payload:   req.Payload,
		Timestamp: time.Now().UTC(),
		Kind:      proto.KindDirect,
	}

	status, err := d.route(ctx, env)
	if err != nil {
		return proto.DispatchStatus{}, err
	}

	if d.metrics != nil {
		d.metrics.RelaysTotal.WithLabelValues(string(status)).Inc()
	}

	// Echo fan-out to the sender's other local sessions, excluding the
	// originating session per spec.md §9's fixed "exclude" policy.
	// Best-effort, never queued (spec.md §4.4 step 7). Only sessions on
	// this instance receive the echo; the sender's sessions on other
	// instances are not sent one.
	echo := env
	echo.Kind = proto.KindEcho
	for _, peer := range d.sessions.LocalSessionsFor(from, sess.ID) {
		peer.QueueOut(proto.ServerFrame{
			Event: proto.EvRelayPush,
			Data:  toRelayPush(echo),
		})
	}

	return proto.DispatchStatus{To: req.To, MsgID: req.MsgID, Status: status}, nil
}

// route resolves the recipient and either delivers locally, publishes to
// the cross-instance bus, or queues, per spec.md §4.4 steps 5-6.
func (d *Dispatcher) route(ctx context.Context, env proto.Envelope) (proto.DispatchStatusKind, error) {
	ref, err := d.presence.Lookup(ctx, env.To)
	if err != nil {
		return "", err
	}

	if ref == nil {
		queued, err := d.queue.Push(ctx, env.To, env)
		if err != nil {
			return "", err
		}
		if !queued {
			if d.metrics != nil {
				d.metrics.QueueDropped.Inc()
			}
			return proto.StatusDropped, nil
		}
		return proto.StatusQueued, nil
	}

	if ref.InstanceID == d.cfg.InstanceID && d.sessions.HasLocalSession(env.To) {
		d.deliverLocal(env.To, env)
		return proto.StatusDelivered, nil
	}

	// Presence says the recipient is elsewhere, or this instance's view
	// is stale (§9 "Presence vs. transport race"); publish optimistically.
	// The remote subscriber re-checks locally and re-queues if it finds
	// no live session, closing the race at the cost of possible
	// duplicate delivery (client dedups by msg_id).
	if err := d.bus.PublishRelay(ctx, env); err != nil {
		return "", err
	}
	return proto.StatusDelivered, nil
}

// deliverLocal fans env out to every locally-bound session for
// identity — a multi-device identity sees a direct relay on all of its
// live devices on this instance.
func (d *Dispatcher) deliverLocal(identity string, env proto.Envelope) {
	for _, s := range d.sessions.LocalSessionsFor(identity, "") {
		s.QueueOut(proto.ServerFrame{
			Event: proto.EvRelayPush,
			Data:  toRelayPush(env),
		})
	}
}

// Ack implements spec.md §4.4's ACK path: resolve the sender, look up
// the recipient (the original sender of the acked message), and deliver
// best-effort, never queued.
func (d *Dispatcher) Ack(ctx context.Context, sess *session.Session, req proto.MsgAckReq) error {
	from, ok := d.sessions.IdentityOf(sess.ID)
	if !ok {
		return relayerr.New(relayerr.Unauthenticated, "no identity bound to session")
	}
	if req.To == "" || req.MsgID == "" {
		return relayerr.New(relayerr.InvalidArgument, "msg_ack requires to and msg_id")
	}

	ack := proto.AckEvent{From: from, MsgID: req.MsgID}

	if d.sessions.HasLocalSession(req.To) {
		for _, s := range d.sessions.LocalSessionsFor(req.To, "") {
			s.QueueOut(proto.ServerFrame{Event: proto.EvMsgAckPush, Data: proto.MsgAckPush(ack)})
		}
		return nil
	}

	ref, err := d.presence.Lookup(ctx, req.To)
	if err != nil {
		return err
	}
	if ref == nil {
		// Recipient offline: acks are best-effort and never queued.
		return nil
	}
	return d.bus.PublishAck(ctx, req.To, ack)
}

// DeliverBusEvent is invoked by a subscription's receive loop when a
// BusEvent arrives for a locally-subscribed identity. A relay event that
// finds no bound local session must be queued, closing the
// presence/transport race described in spec.md §9.
func (d *Dispatcher) DeliverBusEvent(ctx context.Context, identity string, evt proto.BusEvent) {
	switch evt.Type {
	case proto.BusRelay:
		if evt.Envelope == nil {
			return
		}
		if d.sessions.HasLocalSession(identity) {
			d.deliverLocal(identity, *evt.Envelope)
			return
		}
		if evt.Envelope.Kind == proto.KindDirect {
			if _, err := d.queue.Push(ctx, identity, *evt.Envelope); err != nil {
				d.log.Warn().Err(err).Str("identity", identity).Msg("re-queue on pubsub miss failed")
			}
		}
		// Echoes are best-effort; a miss here is simply dropped.
	case proto.BusAck:
		if evt.Ack == nil {
			return
		}
		for _, s := range d.sessions.LocalSessionsFor(identity, "") {
			s.QueueOut(proto.ServerFrame{Event: proto.EvMsgAckPush, Data: proto.MsgAckPush(*evt.Ack)})
		}
	}
}

func toRelayPush(env proto.Envelope) proto.RelayPush {
	return proto.RelayPush{
		From:      env.From,
		To:        env.To,
		MsgID:     env.MsgID,
		Payload:   env.Payload,
		Kind:      env.Kind,
		Timestamp: env.Timestamp.Unix(),
	}
}

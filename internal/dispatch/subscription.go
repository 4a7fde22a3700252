package dispatch

import (
	"context"
	"sync"
)

// subscriptionManager refcounts this instance's live pub/sub
// subscriptions by identity: the first locally-bound session for an
// identity opens the subscription, the last one to disconnect closes
// it (spec.md §4.7 — "every instance subscribes to the topics for its
// locally-registered identities"). Grounded on the teacher's
// server/hub.go subs-per-topic bookkeeping, generalized from
// topic-subscription counting to identity-subscription counting.
type subscriptionManager struct {
	d *Dispatcher

	mu    sync.Mutex
	refs  map[string]int
	stops map[string]context.CancelFunc
}

func newSubscriptionManager(d *Dispatcher) *subscriptionManager {
	return &subscriptionManager{
		d:     d,
		refs:  make(map[string]int),
		stops: make(map[string]context.CancelFunc),
	}
}

// acquire increments identity's refcount, opening a bus subscription and
// a receive loop on the first reference.
func (m *subscriptionManager) acquire(ctx context.Context, identity string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.refs[identity]++
	if m.refs[identity] > 1 {
		return
	}

	subCtx, cancel := context.WithCancel(context.Background())
	m.stops[identity] = cancel
	sub := m.d.bus.Subscribe(subCtx, identity)

	go func() {
		<-subCtx.Done()
		sub.Close()
	}()

	go func() {
		defer sub.Close()
		for evt := range sub.Events() {
			m.d.DeliverBusEvent(subCtx, identity, evt)
		}
	}()
}

// release decrements identity's refcount, closing the subscription once
// no locally-bound session references it anymore.
func (m *subscriptionManager) release(identity string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.refs[identity] <= 0 {
		return
	}
	m.refs[identity]--
	if m.refs[identity] > 0 {
		return
	}

	delete(m.refs, identity)
	if cancel, ok := m.stops[identity]; ok {
		cancel()
		delete(m.stops, identity)
	}
}

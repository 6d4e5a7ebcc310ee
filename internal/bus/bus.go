// Package bus implements the change propagation layer: a scoped,
// in-process event bus. Delivery is at-least-once and in-order within
// a scope; there is no ordering guarantee across scopes, so consumers
// must be idempotent.
package bus

import (
	"log/slog"
	"sync"

	"github.com/crewbase/onramp/internal/types"
)

// Bus fans change events out to scope subscribers. Publishing never
// blocks on a slow consumer: each subscription buffers its backlog in
// an unbounded FIFO drained by its own goroutine.
type Bus struct {
	mu     sync.RWMutex
	subs   map[types.Scope][]*Subscription
	closed bool
}

// New creates an empty bus.
func New() *Bus {
	return &Bus{subs: make(map[types.Scope][]*Subscription)}
}

// Subscribe registers interest in one scope. The returned subscription
// delivers events on Events() until Cancel or bus Close.
func (b *Bus) Subscribe(scope types.Scope) *Subscription {
	sub := &Subscription{
		bus:    b,
		scope:  scope,
		events: make(chan types.ChangeEvent),
		wake:   make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
	go sub.drain()

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		sub.close()
		return sub
	}
	b.subs[scope] = append(b.subs[scope], sub)
	return sub
}

// Publish delivers the event to every subscriber of its scope. It
// appends to per-subscriber queues and returns immediately.
func (b *Bus) Publish(ev types.ChangeEvent) {
	b.mu.RLock()
	subs := b.subs[ev.Scope]
	closed := b.closed
	b.mu.RUnlock()

	if closed {
		slog.Debug("event dropped, bus closed", "scope", ev.Scope, "key", ev.RecordKey)
		return
	}
	for _, sub := range subs {
		sub.push(ev)
	}
}

// Close cancels every subscription and rejects further publishes.
func (b *Bus) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	var all []*Subscription
	for _, subs := range b.subs {
		all = append(all, subs...)
	}
	b.subs = make(map[types.Scope][]*Subscription)
	b.mu.Unlock()

	for _, sub := range all {
		sub.close()
	}
}

func (b *Bus) unsubscribe(target *Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()
	subs := b.subs[target.scope]
	for i, sub := range subs {
		if sub == target {
			b.subs[target.scope] = append(subs[:i], subs[i+1:]...)
			return
		}
	}
}

// Subscription is a single scope subscription. Events are delivered in
// publish order on the Events channel.
type Subscription struct {
	bus    *Bus
	scope  types.Scope
	events chan types.ChangeEvent

	mu    sync.Mutex
	queue []types.ChangeEvent

	wake      chan struct{}
	done      chan struct{}
	closeOnce sync.Once
}

// Events returns the delivery channel. It is closed when the
// subscription is cancelled or the bus shuts down.
func (s *Subscription) Events() <-chan types.ChangeEvent {
	return s.events
}

// Scope returns the subscribed scope.
func (s *Subscription) Scope() types.Scope {
	return s.scope
}

// Cancel removes the subscription from the bus and closes Events.
// Queued but undelivered events are dropped.
func (s *Subscription) Cancel() {
	s.bus.unsubscribe(s)
	s.close()
}

func (s *Subscription) close() {
	s.closeOnce.Do(func() { close(s.done) })
}

func (s *Subscription) push(ev types.ChangeEvent) {
	s.mu.Lock()
	s.queue = append(s.queue, ev)
	s.mu.Unlock()

	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// drain forwards queued events to the delivery channel in FIFO order.
func (s *Subscription) drain() {
	defer close(s.events)
	for {
		select {
		case <-s.done:
			return
		case <-s.wake:
			for {
				s.mu.Lock()
				if len(s.queue) == 0 {
					s.mu.Unlock()
					break
				}
				ev := s.queue[0]
				s.queue = s.queue[1:]
				s.mu.Unlock()

				select {
				case s.events <- ev:
				case <-s.done:
					return
				}
			}
		}
	}
}

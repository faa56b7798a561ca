// Copyright (c) 2026 The Nexus developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package events implements the bounded, lossy-on-overflow publish/
// subscribe bus that carries structured task and log events from every
// pipeline component to zero or more observers, such as a TTY dashboard.
// Each subscriber gets its own bounded buffer; a slow subscriber loses its
// oldest events rather than ever stalling a producer.
package events

import (
	"sync"

	"github.com/davecgh/go-spew/spew"

	"github.com/nexus-xyz/nexusworker/internal/log"
)

var subsystemLog = log.NewSubsystem("EVTB")

// DefaultCapacity is the default per-subscriber buffer size.
const DefaultCapacity = 256

// Subscription is a read-only handle to a subscriber's event stream.
type Subscription struct {
	ch  chan Event
	bus *Bus
	id  uint64
}

// Events returns the channel to range over for this subscription.
func (s *Subscription) Events() <-chan Event {
	return s.ch
}

// Close unregisters the subscription. It is safe to call more than once.
func (s *Subscription) Close() {
	s.bus.unsubscribe(s.id)
}

type subscriber struct {
	ch      chan Event
	dropped int
}

// Bus is a bounded multi-producer multi-consumer broadcast channel. It
// never blocks a producer: Publish always returns immediately. A
// subscriber whose ring is full loses its oldest buffered event so the
// newest is admitted in its place, and the loss surfaces as a single
// EventsDropped marker ahead of the next delivery to that subscriber.
type Bus struct {
	mu       sync.Mutex
	nextID   uint64
	subs     map[uint64]*subscriber
	capacity int
}

// NewBus constructs a Bus with the given per-subscriber capacity. A
// capacity <= 0 uses DefaultCapacity.
func NewBus(capacity int) *Bus {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Bus{
		subs:     make(map[uint64]*subscriber),
		capacity: capacity,
	}
}

// Subscribe registers a new observer and returns its subscription.
func (b *Bus) Subscribe() *Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()
	id := b.nextID
	b.nextID++
	sub := &subscriber{ch: make(chan Event, b.capacity)}
	b.subs[id] = sub
	return &Subscription{ch: sub.ch, bus: b, id: id}
}

func (b *Bus) unsubscribe(id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if sub, ok := b.subs[id]; ok {
		close(sub.ch)
		delete(b.subs, id)
	}
}

// Publish fans e out to every current subscriber. A subscriber whose
// buffer is full has its oldest event dropped to make room; the drop is
// recorded and surfaces as a single EventsDropped event on the next
// successful send to that subscriber, instead of blocking the producer.
// Every event is also mirrored to the structured logger; Info events go
// out at debug level so console output the dashboard already renders is
// not logged twice.
func (b *Bus) Publish(e Event) {
	b.mirror(e)
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, sub := range b.subs {
		b.deliver(sub, e)
	}
}

func (b *Bus) mirror(e Event) {
	switch e.Level {
	case Warn:
		subsystemLog.Warnf("%s: %s", e.Category, e.Message)
	case Error:
		subsystemLog.Errorf("%s: %s", e.Category, e.Message)
	case Success, StateChange:
		subsystemLog.Infof("%s: %s", e.Category, e.Message)
	default:
		subsystemLog.Debugf("%s: %s", e.Category, e.Message)
	}
}

func (b *Bus) deliver(sub *subscriber, e Event) {
	if sub.dropped > 0 {
		count := sub.dropped
		sub.dropped = 0
		b.send(sub, EventsDropped(count))
	}
	b.send(sub, e)
}

// send enqueues ev on sub's ring. A full ring loses its oldest entry so
// ev is admitted in its place; the eviction is recorded on sub.dropped and
// surfaces as an EventsDropped marker ahead of the next delivery. Called
// with b.mu held: no other producer can refill the evicted slot, so the
// second enqueue always lands.
func (b *Bus) send(sub *subscriber, ev Event) {
	select {
	case sub.ch <- ev:
		return
	default:
	}
	b.evictOldest(sub)
	sub.dropped++
	select {
	case sub.ch <- ev:
	default:
		subsystemLog.Warnf("subscriber buffer saturated, dropping event: %s",
			spew.Sdump(ev))
	}
}

// evictOldest drops the single oldest buffered event for sub to make room,
// per the bus's lossy-on-overflow policy. Called with b.mu held.
func (b *Bus) evictOldest(sub *subscriber) {
	select {
	case <-sub.ch:
	default:
	}
}

// Close shuts down every subscription. It is intended to be called once,
// during supervisor teardown, after every producer has stopped.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for id, sub := range b.subs {
		close(sub.ch)
		delete(b.subs, id)
	}
}

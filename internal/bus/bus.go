// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package bus implements the in-process topic publisher coupling the queue,
// downloader, player adapters, orchestrator and SSE broadcaster.
//
// Delivery is best-effort and in-process: no persistence, no replay.
// Publication is synchronous with respect to subscriber enumeration; handlers
// must return quickly or hand off to their own goroutine.
package bus

import (
	"sync"
	"sync/atomic"

	"github.com/soundsuite/jukeboxd/internal/log"
	"github.com/soundsuite/jukeboxd/internal/metrics"
	"github.com/soundsuite/jukeboxd/internal/model"
)

// Handler receives one event for a topic it subscribed to. Panics are
// recovered, logged and swallowed so one subscriber cannot take down others.
type Handler func(topic model.Topic, event any)

// Subscription identifies a registered handler. Unsubscribe is idempotent.
type Subscription struct {
	bus   *Bus
	topic model.Topic
	id    uint64
}

// Bus is the process-wide event publisher. The zero value is not usable;
// construct with New.
type Bus struct {
	mu     sync.RWMutex
	nextID atomic.Uint64
	subs   map[model.Topic]map[uint64]Handler
}

func New() *Bus {
	return &Bus{subs: make(map[model.Topic]map[uint64]Handler)}
}

// Subscribe registers fn for topic and returns its handle.
func (b *Bus) Subscribe(topic model.Topic, fn Handler) *Subscription {
	id := b.nextID.Add(1)
	b.mu.Lock()
	m := b.subs[topic]
	if m == nil {
		m = make(map[uint64]Handler)
		b.subs[topic] = m
	}
	m[id] = fn
	b.mu.Unlock()
	return &Subscription{bus: b, topic: topic, id: id}
}

// SubscribeAll registers fn on every listed topic and returns all handles.
func (b *Bus) SubscribeAll(topics []model.Topic, fn Handler) []*Subscription {
	subs := make([]*Subscription, 0, len(topics))
	for _, t := range topics {
		subs = append(subs, b.Subscribe(t, fn))
	}
	return subs
}

// Unsubscribe removes the handler. Safe to call more than once.
func (s *Subscription) Unsubscribe() {
	if s == nil || s.bus == nil {
		return
	}
	s.bus.mu.Lock()
	if m := s.bus.subs[s.topic]; m != nil {
		delete(m, s.id)
		if len(m) == 0 {
			delete(s.bus.subs, s.topic)
		}
	}
	s.bus.mu.Unlock()
}

// Publish delivers event to every current subscriber of topic, in
// registration order per subscriber map snapshot. A panicking subscriber is
// logged and skipped; the remaining subscribers still receive the event.
func (b *Bus) Publish(topic model.Topic, event any) {
	b.mu.RLock()
	handlers := make([]Handler, 0, len(b.subs[topic]))
	for _, h := range b.subs[topic] {
		handlers = append(handlers, h)
	}
	b.mu.RUnlock()

	for _, h := range handlers {
		b.deliver(topic, event, h)
	}
}

func (b *Bus) deliver(topic model.Topic, event any, h Handler) {
	defer func() {
		if r := recover(); r != nil {
			metrics.BusSubscriberPanicTotal.Inc()
			logger := log.WithComponent("bus")
			logger.Error().
				Str("topic", string(topic)).
				Interface("panic", r).
				Msg("subscriber panicked, event swallowed")
		}
	}()
	h(topic, event)
}

// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package bus

import (
	"github.com/soundsuite/jukeboxd/internal/metrics"
	"github.com/soundsuite/jukeboxd/internal/model"
)

// Event pairs a topic with its payload for channel subscribers.
type Event struct {
	Topic   model.Topic
	Payload any
}

// ChanSubscription adapts a set of topics onto a buffered channel for
// consumers that run their own select loop. Sends never block: if the
// consumer falls behind the event is dropped and counted.
type ChanSubscription struct {
	ch   chan Event
	subs []*Subscription
}

// SubscribeChan registers a channel subscriber for the given topics.
// buffer bounds the fan-out queue; 64 is a reasonable default.
func (b *Bus) SubscribeChan(topics []model.Topic, buffer int) *ChanSubscription {
	if buffer <= 0 {
		buffer = 64
	}
	cs := &ChanSubscription{ch: make(chan Event, buffer)}
	cs.subs = b.SubscribeAll(topics, func(topic model.Topic, event any) {
		select {
		case cs.ch <- Event{Topic: topic, Payload: event}:
		default:
			metrics.BusDropTotal.WithLabelValues(string(topic)).Inc()
		}
	})
	return cs
}

// C returns the receive side of the subscription.
func (cs *ChanSubscription) C() <-chan Event {
	return cs.ch
}

// Close unregisters all underlying handlers. The channel is intentionally
// left open so a racing Publish cannot send on a closed channel; consumers
// stop by abandoning the receive.
func (cs *ChanSubscription) Close() {
	for _, s := range cs.subs {
		s.Unsubscribe()
	}
}

// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package sse fans the playback status document out to dashboard and
// mobile clients over Server-Sent Events. Event-driven broadcasts are
// debounced; a 1 Hz progress tick runs while a track plays.
package sse

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/soundsuite/jukeboxd/internal/bus"
	"github.com/soundsuite/jukeboxd/internal/config"
	"github.com/soundsuite/jukeboxd/internal/log"
	"github.com/soundsuite/jukeboxd/internal/metrics"
	"github.com/soundsuite/jukeboxd/internal/model"
	"github.com/soundsuite/jukeboxd/internal/orchestrator"
	"github.com/soundsuite/jukeboxd/internal/queue"
)

// statusTopics are the bus events that invalidate the status document.
var statusTopics = []model.Topic{
	model.TopicQueueItemAdded,
	model.TopicQueueItemRemoved,
	model.TopicQueueReordered,
	model.TopicQueueCleared,
	model.TopicQueueUpdated,
	model.TopicPlaybackStarted,
	model.TopicPlaybackFinished,
	model.TopicPlaybackPaused,
	model.TopicPlaybackResumed,
	model.TopicPlaybackSeek,
	model.TopicPlaybackError,
	model.TopicEffectsChanged,
	model.TopicSettingsChanged,
	model.TopicConnectionChanged,
}

type client struct {
	id int64
	ch chan []byte
}

// Broadcaster owns the SSE client set and the broadcast schedule.
type Broadcaster struct {
	bus    *bus.Bus
	orch   *orchestrator.Orchestrator
	queue  *queue.Manager
	cfg    config.SSEConfig
	logger zerolog.Logger

	startedAt time.Time

	mu        sync.Mutex
	active    map[int64]*client
	nextID    int64
	connected bool
	connSrc   string
	connSub   *bus.Subscription
}

// NewBroadcaster wires the broadcaster to the bus. Run must be started
// before clients subscribe.
func NewBroadcaster(b *bus.Bus, orch *orchestrator.Orchestrator, q *queue.Manager, cfg config.SSEConfig) *Broadcaster {
	br := &Broadcaster{
		bus:       b,
		orch:      orch,
		queue:     q,
		cfg:       cfg,
		logger:    log.WithComponent("sse"),
		startedAt: time.Now(),
		active:    make(map[int64]*client),
	}
	br.connSub = b.Subscribe(model.TopicConnectionChanged, func(_ model.Topic, ev any) {
		if changed, ok := ev.(model.ConnectionChangedEvent); ok {
			br.mu.Lock()
			br.connected = changed.Connected
			br.connSrc = changed.Source
			br.mu.Unlock()
		}
	})
	return br
}

// Run drives debounce, progress and heartbeat timers until ctx ends.
func (b *Broadcaster) Run(ctx context.Context) error {
	events := b.bus.SubscribeChan(statusTopics, 16)
	defer func() {
		events.Close()
		b.connSub.Unsubscribe()
		b.closeAll()
	}()

	warmupOver := time.After(b.cfg.StartupGrace)
	warm := false
	pendingDuringWarmup := false

	progress := time.NewTicker(b.cfg.ProgressInterval)
	defer progress.Stop()
	heartbeat := time.NewTicker(b.cfg.HeartbeatInterval)
	defer heartbeat.Stop()

	var debounce <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case <-warmupOver:
			warm = true
			if pendingDuringWarmup {
				b.broadcast("startup")
			}

		case <-events.C():
			if !warm {
				pendingDuringWarmup = true
				continue
			}
			if debounce == nil {
				debounce = time.After(b.cfg.Debounce)
			}

		case <-debounce:
			debounce = nil
			b.broadcast("event")

		case <-progress.C:
			if !warm {
				continue
			}
			if b.orch.Status().Phase == model.PhasePlaying && b.clientCount() > 0 {
				b.broadcast("progress")
			}

		case <-heartbeat.C:
			b.sendRaw([]byte(":heartbeat\n\n"))
		}
	}
}

func (b *Broadcaster) clientCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.active)
}

// broadcast renders the status document once and fans it out. A client
// whose buffer is full is dropped.
func (b *Broadcaster) broadcast(triggerLabel string) {
	frame, err := b.statusFrame()
	if err != nil {
		b.logger.Error().Err(err).Msg("status render failed")
		return
	}
	metrics.SSEBroadcastTotal.WithLabelValues(triggerLabel).Inc()
	b.sendRaw(frame)
}

func (b *Broadcaster) sendRaw(frame []byte) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for id, c := range b.active {
		select {
		case c.ch <- frame:
		default:
			delete(b.active, id)
			close(c.ch)
			metrics.SSEClients.Dec()
			b.logger.Debug().Int64(log.FieldClientID, id).Msg("dropped slow sse client")
		}
	}
}

func (b *Broadcaster) closeAll() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for id, c := range b.active {
		delete(b.active, id)
		close(c.ch)
		metrics.SSEClients.Dec()
	}
}

// ServeHTTP implements GET /api/status/stream. The client is activated
// for broadcasts only after the initial snapshot write succeeds, so a
// concurrent broadcast can never interleave with setup.
func (b *Broadcaster) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	doc, err := b.statusDocument()
	if err != nil {
		return
	}
	initial, err := json.Marshal(doc)
	if err != nil {
		return
	}
	if _, err := fmt.Fprintf(w, "event: connected\ndata: %s\n\n", initial); err != nil {
		return
	}
	flusher.Flush()

	// pending until the initial write landed; now join the broadcast set
	c := &client{ch: make(chan []byte, 8)}
	b.mu.Lock()
	b.nextID++
	c.id = b.nextID
	b.active[c.id] = c
	b.mu.Unlock()
	metrics.SSEClients.Inc()
	b.logger.Debug().Int64(log.FieldClientID, c.id).Msg("sse client connected")

	defer func() {
		b.mu.Lock()
		if _, still := b.active[c.id]; still {
			delete(b.active, c.id)
			close(c.ch)
			metrics.SSEClients.Dec()
		}
		b.mu.Unlock()
		b.logger.Debug().Int64(log.FieldClientID, c.id).Msg("sse client gone")
	}()

	for {
		select {
		case <-r.Context().Done():
			return
		case frame, ok := <-c.ch:
			if !ok {
				return
			}
			if _, err := w.Write(frame); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

func (b *Broadcaster) statusFrame() ([]byte, error) {
	doc, err := b.statusDocument()
	if err != nil {
		return nil, err
	}
	payload, err := json.Marshal(doc)
	if err != nil {
		return nil, err
	}
	return []byte(fmt.Sprintf("event: status\ndata: %s\n\n", payload)), nil
}

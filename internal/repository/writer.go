// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package repository

import (
	"context"
	"sync"
	"time"

	"github.com/soundsuite/jukeboxd/internal/log"
	"github.com/soundsuite/jukeboxd/internal/metrics"
	"github.com/soundsuite/jukeboxd/internal/model"
)

// SnapshotWriter coalesces playback snapshot writes. Bursts within the
// debounce window collapse into a single write; Flush bypasses the window
// for critical transitions (track start, finish, shutdown).
//
// Persistence failures are logged and absorbed: the in-memory state stays
// authoritative and the next write retries.
type SnapshotWriter struct {
	store    Store
	debounce time.Duration

	mu      sync.Mutex
	pending *model.PlaybackSnapshot
	timer   *time.Timer
	closed  bool
}

// NewSnapshotWriter returns a writer with the given debounce window.
func NewSnapshotWriter(store Store, debounce time.Duration) *SnapshotWriter {
	if debounce <= 0 {
		debounce = 500 * time.Millisecond
	}
	return &SnapshotWriter{store: store, debounce: debounce}
}

// Save schedules snap for persistence. Later calls within the window
// replace the pending value.
func (w *SnapshotWriter) Save(snap model.PlaybackSnapshot) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return
	}
	w.pending = &snap
	if w.timer == nil {
		w.timer = time.AfterFunc(w.debounce, w.fire)
	}
}

// Flush persists the pending snapshot (or the given one) immediately.
func (w *SnapshotWriter) Flush(snap model.PlaybackSnapshot) {
	w.mu.Lock()
	if w.timer != nil {
		w.timer.Stop()
		w.timer = nil
	}
	w.pending = nil
	w.mu.Unlock()
	w.write(snap)
}

// Close flushes any pending write and stops the writer.
func (w *SnapshotWriter) Close() {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return
	}
	w.closed = true
	if w.timer != nil {
		w.timer.Stop()
		w.timer = nil
	}
	pending := w.pending
	w.pending = nil
	w.mu.Unlock()

	if pending != nil {
		w.write(*pending)
	}
}

func (w *SnapshotWriter) fire() {
	w.mu.Lock()
	w.timer = nil
	pending := w.pending
	w.pending = nil
	w.mu.Unlock()

	if pending != nil {
		w.write(*pending)
	}
}

func (w *SnapshotWriter) write(snap model.PlaybackSnapshot) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := w.store.PersistPlaybackSnapshot(ctx, snap); err != nil {
		metrics.SnapshotWriteTotal.WithLabelValues("error").Inc()
		logger := log.WithComponent("repository")
		logger.Error().Err(err).Msg("snapshot write failed, in-memory state remains authoritative")
		return
	}
	metrics.SnapshotWriteTotal.WithLabelValues("ok").Inc()
}

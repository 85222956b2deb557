// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package orchestrator advances the queue through the playback state
// machine: idle, preparing, playing, paused. All state transitions hold a
// single writer lock; blocking work (artifact fetch, the subprocess
// itself) happens outside it.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/soundsuite/jukeboxd/internal/bus"
	"github.com/soundsuite/jukeboxd/internal/download"
	"github.com/soundsuite/jukeboxd/internal/log"
	"github.com/soundsuite/jukeboxd/internal/model"
	"github.com/soundsuite/jukeboxd/internal/player"
	"github.com/soundsuite/jukeboxd/internal/queue"
	"github.com/soundsuite/jukeboxd/internal/repository"
)

// Orchestrator owns the playback pointer and drives the adapter.
type Orchestrator struct {
	queue    *queue.Manager
	pipeline *download.Pipeline
	adapter  player.Adapter
	bus      *bus.Bus
	writer   *repository.SnapshotWriter
	logger   zerolog.Logger

	ctx  context.Context
	subs []*bus.Subscription

	mu           sync.Mutex
	phase        model.PlaybackPhase
	current      *model.QueueItem
	currentFile  string
	startedAt    time.Time
	pausedAt     time.Time
	seekOffsetMs int64
	songsPlayed  int64
	volume       int
	shuffle      bool
	repeat       bool
	processing   bool // a prepare pass is in flight
	playActive   bool // an adapter Play invocation is in flight
}

// Status is the externally visible playback state.
type Status struct {
	Phase       model.PlaybackPhase
	Current     *model.QueueItem
	ElapsedMs   int64
	SongsPlayed int64
	Volume      int
	Shuffle     bool
	Repeat      bool
}

// New wires the orchestrator. Call Restore then Run before using it.
func New(q *queue.Manager, p *download.Pipeline, a player.Adapter, b *bus.Bus, w *repository.SnapshotWriter, volume int) *Orchestrator {
	return &Orchestrator{
		queue:    q,
		pipeline: p,
		adapter:  a,
		bus:      b,
		writer:   w,
		logger:   log.WithComponent("orchestrator"),
		phase:    model.PhaseIdle,
		volume:   volume,
	}
}

// Restore loads persisted state. A restored current track always comes
// back paused: playback never auto-starts on boot. A current file missing
// from disk clears the pointer but keeps the paused phase so the operator
// sees that something was interrupted.
func (o *Orchestrator) Restore(ctx context.Context, store repository.Store) error {
	if err := o.queue.Restore(ctx); err != nil {
		return fmt.Errorf("orchestrator: restore queue: %w", err)
	}
	if store == nil {
		return nil
	}
	snap, err := store.LoadPlaybackSnapshot(ctx)
	if err != nil {
		return fmt.Errorf("orchestrator: restore snapshot: %w", err)
	}
	if snap == nil {
		return nil
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	o.songsPlayed = snap.SongsPlayed
	o.volume = snap.Volume
	o.shuffle = snap.Shuffle
	o.repeat = snap.Repeat
	if err := o.adapter.SetVolume(o.volume); err != nil {
		o.logger.Warn().Err(err).Msg("restore volume failed")
	}

	if snap.CurrentDescriptorID == "" {
		return nil
	}
	item, ok := o.queue.Get(snap.CurrentDescriptorID)
	if !ok {
		return nil
	}
	if _, err := os.Stat(snap.CurrentFilePath); err != nil {
		o.logger.Warn().
			Str(log.FieldTrackID, snap.CurrentDescriptorID).
			Str(log.FieldPath, snap.CurrentFilePath).
			Msg("restored current file missing, forcing paused idle pointer")
		o.queue.RemoveByID(snap.CurrentDescriptorID)
		o.phase = model.PhasePaused
		return nil
	}

	elapsed := snap.SeekOffsetMs
	if snap.Phase == model.PhasePaused && snap.PausedAtMs > snap.StartedAtMs {
		elapsed += snap.PausedAtMs - snap.StartedAtMs
	}
	o.current = &item
	o.currentFile = snap.CurrentFilePath
	o.seekOffsetMs = elapsed
	now := time.Now()
	o.startedAt = now
	o.pausedAt = now
	o.phase = model.PhasePaused
	o.logger.Info().
		Str(log.FieldTrackID, item.Descriptor.ID).
		Int64(log.FieldOffsetMs, elapsed).
		Msg("restored paused playback pointer")
	return nil
}

// Run installs the event subscriptions and blocks until ctx is cancelled.
func (o *Orchestrator) Run(ctx context.Context) error {
	o.ctx = ctx
	o.subs = []*bus.Subscription{
		o.bus.Subscribe(model.TopicQueueItemAdded, func(model.Topic, any) { o.processNext() }),
	}
	defer func() {
		for _, s := range o.subs {
			s.Unsubscribe()
		}
	}()

	<-ctx.Done()
	o.adapter.Stop()
	o.writer.Flush(o.snapshot())
	return ctx.Err()
}

// processNext begins preparing the next track. Re-entrant triggers
// coalesce: at most one prepare pass is in flight, and nothing happens
// while a current track exists.
func (o *Orchestrator) processNext() {
	o.mu.Lock()
	if o.processing || o.current != nil || o.queue.Len() == 0 {
		o.mu.Unlock()
		return
	}
	o.processing = true
	o.mu.Unlock()
	go o.prepare()
}

func (o *Orchestrator) prepare() {
	defer func() {
		o.mu.Lock()
		o.processing = false
		o.mu.Unlock()
	}()

	for {
		if o.ctx != nil && o.ctx.Err() != nil {
			return
		}
		head, ok := o.pickNext()
		if !ok {
			o.mu.Lock()
			o.phase = model.PhaseIdle
			o.mu.Unlock()
			return
		}
		if head.DownloadState == model.DownloadFailed {
			o.logger.Warn().
				Str(log.FieldTrackID, head.Descriptor.ID).
				Str(log.FieldReason, head.FailReason).
				Msg("removing failed item")
			o.queue.RemoveByID(head.Descriptor.ID)
			continue
		}

		ctx := o.ctx
		if ctx == nil {
			ctx = context.Background()
		}
		path, err := o.pipeline.EnsureReady(ctx, head.Descriptor.ID)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return
			}
			o.logger.Warn().Err(err).
				Str(log.FieldTrackID, head.Descriptor.ID).
				Msg("artifact fetch failed, skipping item")
			o.queue.RemoveByID(head.Descriptor.ID)
			continue
		}

		o.startPlayback(head, path, 0)
		return
	}
}

// pickNext returns the head item, or with shuffle enabled a random item
// from the head's priority class promoted to the front.
func (o *Orchestrator) pickNext() (model.QueueItem, bool) {
	head, ok := o.queue.Peek()
	if !ok {
		return model.QueueItem{}, false
	}
	o.mu.Lock()
	shuffle := o.shuffle
	o.mu.Unlock()
	if !shuffle {
		return head, true
	}

	snap := o.queue.Snapshot()
	classEnd := 0
	for classEnd < len(snap) && snap[classEnd].Priority == head.Priority {
		classEnd++
	}
	if classEnd <= 1 {
		return head, true
	}
	pick := rand.Intn(classEnd) // #nosec G404 -- shuffle order is not security sensitive
	if pick == 0 {
		return head, true
	}
	if err := o.queue.Reorder(pick, 0); err != nil {
		return head, true
	}
	return o.queue.Peek()
}

func (o *Orchestrator) startPlayback(item model.QueueItem, path string, offsetMs int64) {
	o.mu.Lock()
	o.current = &item
	o.currentFile = path
	o.seekOffsetMs = offsetMs
	o.startedAt = time.Now()
	o.pausedAt = time.Time{}
	o.phase = model.PhasePlaying
	o.playActive = true
	o.mu.Unlock()

	o.writer.Flush(o.snapshot())
	o.bus.Publish(model.TopicPlaybackRequested, model.PlaybackRequestedEvent{
		Item: item, FilePath: path, StartOffsetMs: offsetMs,
	})

	ctx := o.ctx
	if ctx == nil {
		ctx = context.Background()
	}
	go func() {
		reason, err := o.adapter.Play(ctx, item.Descriptor, path, offsetMs)
		if err != nil {
			o.logger.Warn().Err(err).Str(log.FieldTrackID, item.Descriptor.ID).Msg("playback resolved with error")
		}
		o.handlePlayResult(item, reason)
	}()
}

func (o *Orchestrator) handlePlayResult(item model.QueueItem, reason model.FinishReason) {
	o.mu.Lock()
	o.playActive = false
	o.pausedAt = time.Time{}
	o.phase = model.PhaseIdle
	if reason != model.ReasonStopped {
		o.songsPlayed++
	}
	repeat := o.repeat

	if reason == model.ReasonStopped {
		// external stop (shutdown or session reset): the queue is not ours
		// to advance here
		o.current = nil
		o.currentFile = ""
		o.seekOffsetMs = 0
		o.mu.Unlock()
		o.writer.Flush(o.snapshot())
		return
	}
	// the pointer stays set until the finished item has left the queue,
	// or an enqueue landing in between would re-pick it as the head
	o.mu.Unlock()

	o.queue.RemoveByID(item.Descriptor.ID)
	if repeat && reason == model.ReasonEnded {
		requeued := item
		requeued.AddedAt = 0
		if err := o.queue.Add(requeued); err != nil {
			o.logger.Warn().Err(err).Str(log.FieldTrackID, item.Descriptor.ID).Msg("repeat re-enqueue failed")
		}
	}

	o.mu.Lock()
	o.current = nil
	o.currentFile = ""
	o.seekOffsetMs = 0
	o.mu.Unlock()

	o.writer.Flush(o.snapshot())
	o.processNext()
}

// Pause moves playing to paused. The adapter reacts to the bus command.
func (o *Orchestrator) Pause() error {
	o.mu.Lock()
	if o.phase != model.PhasePlaying || o.current == nil {
		o.mu.Unlock()
		return fmt.Errorf("orchestrator: %w: not playing", model.ErrInvalidRequest)
	}
	o.phase = model.PhasePaused
	o.pausedAt = time.Now()
	o.mu.Unlock()

	o.bus.Publish(model.TopicPlaybackPause, nil)
	o.writer.Save(o.snapshot())
	return nil
}

// Resume moves paused to playing. A pointer restored from disk has no
// live subprocess; it is started fresh at the recorded offset.
func (o *Orchestrator) Resume() error {
	o.mu.Lock()
	if o.phase != model.PhasePaused || o.current == nil {
		o.mu.Unlock()
		return fmt.Errorf("orchestrator: %w: not paused", model.ErrInvalidRequest)
	}
	if !o.playActive {
		// the pointer stays set and the phase flips before the handoff
		// so neither a concurrent enqueue nor a second resume can start
		// another track
		item := *o.current
		path := o.currentFile
		offset := o.seekOffsetMs
		o.phase = model.PhasePlaying
		o.mu.Unlock()
		o.startPlayback(item, path, offset)
		return nil
	}
	o.startedAt = o.startedAt.Add(time.Since(o.pausedAt))
	o.pausedAt = time.Time{}
	o.phase = model.PhasePlaying
	o.mu.Unlock()

	o.bus.Publish(model.TopicPlaybackResume, nil)
	o.writer.Save(o.snapshot())
	return nil
}

// Seek jumps to an absolute position within the current track.
func (o *Orchestrator) Seek(positionMs int64) error {
	o.mu.Lock()
	if o.current == nil {
		o.mu.Unlock()
		return fmt.Errorf("orchestrator: %w: nothing playing", model.ErrInvalidRequest)
	}
	if positionMs < 0 || (o.current.Descriptor.DurationMs > 0 && positionMs > o.current.Descriptor.DurationMs) {
		o.mu.Unlock()
		return fmt.Errorf("orchestrator: %w: position %dms outside track", model.ErrOutOfRange, positionMs)
	}
	o.seekOffsetMs = positionMs
	now := time.Now()
	o.startedAt = now
	if o.phase == model.PhasePaused {
		o.pausedAt = now
	}
	o.mu.Unlock()

	o.bus.Publish(model.TopicPlaybackSeek, model.PlaybackSeekEvent{PositionMs: positionMs})
	o.writer.Save(o.snapshot())
	return nil
}

// Skip ends the current track; the adapter resolves the play invocation
// with reason skipped and the queue advances.
func (o *Orchestrator) Skip() error {
	o.mu.Lock()
	if o.current == nil {
		o.mu.Unlock()
		return fmt.Errorf("orchestrator: %w: nothing playing", model.ErrInvalidRequest)
	}
	playActive := o.playActive
	phase := o.phase
	item := *o.current
	o.mu.Unlock()

	if !playActive {
		// only a restored paused pointer has no live subprocess; a
		// pointer mid-teardown is not skippable
		if phase != model.PhasePaused {
			return fmt.Errorf("orchestrator: %w: nothing playing", model.ErrInvalidRequest)
		}
		o.handlePlayResult(item, model.ReasonSkipped)
		return nil
	}
	o.bus.Publish(model.TopicPlaybackSkip, nil)
	return nil
}

// SetVolume applies and persists the playback volume.
func (o *Orchestrator) SetVolume(v int) error {
	if v < 0 || v > 100 {
		return fmt.Errorf("orchestrator: %w: volume %d outside 0-100", model.ErrOutOfRange, v)
	}
	if err := o.adapter.SetVolume(v); err != nil {
		return err
	}
	o.mu.Lock()
	o.volume = v
	o.mu.Unlock()
	o.writer.Save(o.snapshot())
	o.publishSettings()
	return nil
}

// SetShuffle toggles random pick within the head priority class.
func (o *Orchestrator) SetShuffle(on bool) {
	o.mu.Lock()
	o.shuffle = on
	o.mu.Unlock()
	o.writer.Save(o.snapshot())
	o.publishSettings()
}

// SetRepeat toggles re-enqueueing naturally finished tracks.
func (o *Orchestrator) SetRepeat(on bool) {
	o.mu.Lock()
	o.repeat = on
	o.mu.Unlock()
	o.writer.Save(o.snapshot())
	o.publishSettings()
}

func (o *Orchestrator) publishSettings() {
	o.mu.Lock()
	ev := model.SettingsChangedEvent{Volume: o.volume, Shuffle: o.shuffle, Repeat: o.repeat}
	o.mu.Unlock()
	o.bus.Publish(model.TopicSettingsChanged, ev)
}

// NewSession stops playback, clears the queue and resets counters.
func (o *Orchestrator) NewSession() {
	o.adapter.Stop()
	o.queue.Clear()

	o.mu.Lock()
	o.current = nil
	o.currentFile = ""
	o.seekOffsetMs = 0
	o.songsPlayed = 0
	o.pausedAt = time.Time{}
	o.startedAt = time.Time{}
	o.phase = model.PhaseIdle
	o.mu.Unlock()

	o.writer.Flush(o.snapshot())
	o.logger.Info().Msg("session reset")
}

// Status returns a consistent view for the API and SSE layers.
func (o *Orchestrator) Status() Status {
	o.mu.Lock()
	defer o.mu.Unlock()
	st := Status{
		Phase:       o.phase,
		ElapsedMs:   o.elapsedLocked(),
		SongsPlayed: o.songsPlayed,
		Volume:      o.volume,
		Shuffle:     o.shuffle,
		Repeat:      o.repeat,
	}
	if o.current != nil {
		cp := *o.current
		st.Current = &cp
	}
	return st
}

func (o *Orchestrator) elapsedLocked() int64 {
	if o.current == nil {
		return 0
	}
	switch o.phase {
	case model.PhasePaused:
		return o.seekOffsetMs + o.pausedAt.Sub(o.startedAt).Milliseconds()
	case model.PhasePlaying:
		return o.seekOffsetMs + time.Since(o.startedAt).Milliseconds()
	}
	return 0
}

func (o *Orchestrator) snapshot() model.PlaybackSnapshot {
	o.mu.Lock()
	defer o.mu.Unlock()
	snap := model.PlaybackSnapshot{
		Phase:        o.phase,
		SeekOffsetMs: o.seekOffsetMs,
		SongsPlayed:  o.songsPlayed,
		Volume:       o.volume,
		Shuffle:      o.shuffle,
		Repeat:       o.repeat,
	}
	if o.current != nil {
		snap.CurrentDescriptorID = o.current.Descriptor.ID
		snap.CurrentFilePath = o.currentFile
	}
	if !o.startedAt.IsZero() {
		snap.StartedAtMs = o.startedAt.UnixMilli()
	}
	if !o.pausedAt.IsZero() {
		snap.PausedAtMs = o.pausedAt.UnixMilli()
	}
	return snap
}

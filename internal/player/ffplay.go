// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package player

import (
	"context"
	"fmt"
	"os/exec"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/soundsuite/jukeboxd/internal/bus"
	"github.com/soundsuite/jukeboxd/internal/config"
	"github.com/soundsuite/jukeboxd/internal/log"
	"github.com/soundsuite/jukeboxd/internal/metrics"
	"github.com/soundsuite/jukeboxd/internal/model"
	"github.com/soundsuite/jukeboxd/internal/procgroup"
)

// FfplayAdapter drives ffplay, which offers no control channel. Pause,
// seek and filter changes terminate the subprocess and respawn it at the
// computed offset; the intent recorded before the kill decides whether
// the Play invocation resolves or restarts.
type FfplayAdapter struct {
	cfg    config.PlayerConfig
	bus    *bus.Bus
	logger zerolog.Logger

	mu        sync.Mutex
	cmd       *exec.Cmd
	active    bool // a Play invocation is in flight
	paused    bool
	intent    model.FinishReason // consumed when the subprocess exits
	terminal  model.FinishReason // pending finish while paused, "" = none
	volume    int
	chain     string
	startedAt time.Time
	offsetMs  int64 // position the current spawn started at

	wake    chan struct{} // resume/skip/stop while paused
	killReq chan struct{} // termination request for the current spawn
}

// NewFfplayAdapter constructs the restart-based fallback backend.
func NewFfplayAdapter(cfg config.PlayerConfig, b *bus.Bus) *FfplayAdapter {
	return &FfplayAdapter{
		cfg:    cfg,
		bus:    b,
		logger: log.WithComponent("player").With().Str(log.FieldBackend, "ffplay").Logger(),
		volume: clampVolume(cfg.Volume),
		wake:   make(chan struct{}, 1),
	}
}

func (f *FfplayAdapter) Name() string { return "ffplay" }

// Play spawns ffplay for one track, respawning across pause, seek and
// filter changes, and blocks until playback resolves terminally.
func (f *FfplayAdapter) Play(ctx context.Context, d model.TrackDescriptor, filePath string, startOffsetMs int64) (model.FinishReason, error) {
	f.Stop()

	f.mu.Lock()
	f.active = true
	f.paused = false
	f.terminal = ""
	f.offsetMs = startOffsetMs
	f.mu.Unlock()
	f.drainWake()

	release := bindControls(f.bus, f, func() { f.interrupt(model.ReasonSkipped) })
	defer release()
	defer func() {
		f.mu.Lock()
		f.active = false
		f.paused = false
		f.mu.Unlock()
	}()

	started := false
	for {
		cmd, waitCh, killReq, err := f.spawn(filePath)
		if err != nil {
			f.logger.Error().Err(err).Str(log.FieldPath, filePath).Msg("spawn failed")
			f.bus.Publish(model.TopicPlaybackError, model.PlaybackErrorEvent{FilePath: filePath, Cause: err.Error()})
			return model.ReasonError, err
		}
		if !started {
			started = true
			f.logger.Info().
				Str(log.FieldTrackID, d.ID).
				Str(log.FieldPath, filePath).
				Int64(log.FieldOffsetMs, startOffsetMs).
				Msg("playback started")
			metrics.PlaybackStartTotal.WithLabelValues("ffplay").Inc()
		} else {
			f.logger.Debug().Str(log.FieldTrackID, d.ID).Msg("respawned at recorded offset")
		}
		// every spawn announces itself so status observers see the
		// restart transitions of this backend
		f.bus.Publish(model.TopicPlaybackStarted, model.PlaybackStartedEvent{Descriptor: d, FilePath: filePath})

		// the loop is the sole wait-channel consumer, so all escalation
		// funnels through Terminate here
		var waitErr error
		select {
		case <-ctx.Done():
			f.setIntent(model.ReasonStopped)
			waitErr = procgroup.Terminate(cmd, waitCh, f.cfg.KillGrace)
		case <-killReq:
			waitErr = procgroup.Terminate(cmd, waitCh, f.cfg.KillGrace)
		case waitErr = <-waitCh:
		}

		f.mu.Lock()
		intent := f.intent
		f.intent = model.ReasonEnded
		f.cmd = nil
		f.killReq = nil
		f.mu.Unlock()

		switch {
		case intent == model.ReasonPaused:
			f.publishFinished(d, filePath, model.ReasonPaused)
			reason, done := f.awaitResume(ctx)
			if done {
				return f.finish(d, filePath, reason), nil
			}
			// resumed, respawn at the recorded offset

		case intent.Restartable():
			// seek or filter change, respawn at the new offset
			f.publishFinished(d, filePath, intent)

		default:
			if intent == model.ReasonEnded && waitErr != nil {
				f.logger.Warn().Err(waitErr).Msg("player process crashed")
				return f.finish(d, filePath, model.ReasonError), nil
			}
			return f.finish(d, filePath, intent), nil
		}
	}
}

// awaitResume parks the invocation while paused. Returns done=true with a
// terminal reason when the session ends instead of resuming.
func (f *FfplayAdapter) awaitResume(ctx context.Context) (model.FinishReason, bool) {
	for {
		select {
		case <-ctx.Done():
			return model.ReasonStopped, true
		case <-f.wake:
			f.mu.Lock()
			term := f.terminal
			f.terminal = ""
			paused := f.paused
			f.mu.Unlock()
			if term != "" {
				return term, true
			}
			if !paused {
				return "", false
			}
			// spurious wake, keep waiting
		}
	}
}

func (f *FfplayAdapter) finish(d model.TrackDescriptor, filePath string, reason model.FinishReason) model.FinishReason {
	metrics.PlaybackFinishTotal.WithLabelValues(string(reason)).Inc()
	f.publishFinished(d, filePath, reason)
	return reason
}

// publishFinished emits the finished frame without touching the finish
// metric; internal respawns are transitions, not playback outcomes.
func (f *FfplayAdapter) publishFinished(d model.TrackDescriptor, filePath string, reason model.FinishReason) {
	f.bus.Publish(model.TopicPlaybackFinished, model.PlaybackFinishedEvent{
		Descriptor: d, FilePath: filePath, Reason: reason,
	})
}

// spawn starts ffplay at the current offset with the current filter chain
// and volume baked into the arguments. The kill channel is fresh per
// spawn; tokens signaled for a previous subprocess land on its old
// channel and are never acted on.
func (f *FfplayAdapter) spawn(filePath string) (*exec.Cmd, chan error, chan struct{}, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	args := []string{
		"-nodisp",
		"-autoexit",
		"-hide_banner",
		"-loglevel", "error",
		"-ss", fmt.Sprintf("%.3f", float64(f.offsetMs)/1000),
		"-af", f.filterArgLocked(),
		filePath,
	}
	// #nosec G204 -- binary path is operator configuration
	cmd := exec.Command(f.cfg.FfplayPath, args...)
	procgroup.Set(cmd)
	if err := cmd.Start(); err != nil {
		return nil, nil, nil, fmt.Errorf("player: spawn ffplay: %w", err)
	}
	waitCh := make(chan error, 1)
	go func() { waitCh <- cmd.Wait() }()
	killReq := make(chan struct{}, 1)

	f.cmd = cmd
	f.killReq = killReq
	f.intent = model.ReasonEnded
	f.paused = false
	f.startedAt = time.Now()
	return cmd, waitCh, killReq, nil
}

// filterArgLocked folds the stored volume into the filter chain, since
// ffplay has no volume property to set at runtime.
func (f *FfplayAdapter) filterArgLocked() string {
	vol := fmt.Sprintf("volume=%.2f", float64(f.volume)/100)
	if f.chain == "" {
		return vol
	}
	return f.chain + "," + vol
}

// Stop resolves any in-flight Play with reason stopped. Idempotent.
func (f *FfplayAdapter) Stop() {
	f.interrupt(model.ReasonStopped)
}

// interrupt ends the current spawn (or paused wait) with the given reason.
func (f *FfplayAdapter) interrupt(r model.FinishReason) {
	f.mu.Lock()
	if f.cmd != nil {
		f.intent = r
		ch := f.killReq
		f.mu.Unlock()
		requestKill(ch)
		return
	}
	if f.active && f.paused {
		f.terminal = r
		f.mu.Unlock()
		f.signalWake()
		return
	}
	f.mu.Unlock()
}

// requestKill asks the Play loop to terminate the current spawn; the
// loop owns the wait channel and runs the signal escalation.
func requestKill(ch chan struct{}) {
	if ch == nil {
		return
	}
	select {
	case ch <- struct{}{}:
	default:
	}
}

func (f *FfplayAdapter) setIntent(r model.FinishReason) {
	f.mu.Lock()
	f.intent = r
	f.mu.Unlock()
}

func (f *FfplayAdapter) signalWake() {
	select {
	case f.wake <- struct{}{}:
	default:
	}
}

func (f *FfplayAdapter) drainWake() {
	select {
	case <-f.wake:
	default:
	}
}

// Pause records pauseAt = killedAt - startedAt + previousOffset and
// terminates the subprocess; resume respawns at that offset.
func (f *FfplayAdapter) Pause() error {
	f.mu.Lock()
	if f.cmd == nil || f.paused {
		f.mu.Unlock()
		return fmt.Errorf("player: %w: nothing to pause", model.ErrInvalidRequest)
	}
	f.offsetMs += time.Since(f.startedAt).Milliseconds()
	f.paused = true
	f.intent = model.ReasonPaused
	ch := f.killReq
	f.mu.Unlock()

	requestKill(ch)
	return nil
}

func (f *FfplayAdapter) Resume() error {
	f.mu.Lock()
	if !f.active || !f.paused {
		f.mu.Unlock()
		return fmt.Errorf("player: %w: nothing to resume", model.ErrInvalidRequest)
	}
	f.paused = false
	f.mu.Unlock()
	f.signalWake()
	return nil
}

// Seek respawns at the target position, or just moves the recorded offset
// when paused.
func (f *FfplayAdapter) Seek(positionMs int64) error {
	f.mu.Lock()
	if !f.active {
		f.mu.Unlock()
		return fmt.Errorf("player: %w: nothing playing", model.ErrInvalidRequest)
	}
	f.offsetMs = positionMs
	if f.paused || f.cmd == nil {
		f.mu.Unlock()
		return nil
	}
	f.intent = model.ReasonSeek
	ch := f.killReq
	f.mu.Unlock()

	requestKill(ch)
	return nil
}

func (f *FfplayAdapter) Position() (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.paused || f.cmd == nil {
		return f.offsetMs, nil
	}
	return f.offsetMs + time.Since(f.startedAt).Milliseconds(), nil
}

// SetVolume stores the level; it takes effect at the next spawn via the
// filter chain.
func (f *FfplayAdapter) SetVolume(v int) error {
	f.mu.Lock()
	f.volume = clampVolume(v)
	f.mu.Unlock()
	return nil
}

func (f *FfplayAdapter) Volume() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.volume
}

// UpdateFilters stores the chain and respawns at the current offset when
// a subprocess is running.
func (f *FfplayAdapter) UpdateFilters(chain string) error {
	f.mu.Lock()
	f.chain = chain
	if f.cmd == nil || f.paused {
		f.mu.Unlock()
		return nil // applied on next spawn
	}
	f.offsetMs += time.Since(f.startedAt).Milliseconds()
	f.intent = model.ReasonEffects
	ch := f.killReq
	f.mu.Unlock()

	requestKill(ch)
	return nil
}

func (f *FfplayAdapter) IsPlaying() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.active && !f.paused
}

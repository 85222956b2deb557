// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package player drives the external audio subprocess behind a uniform
// adapter contract. Two backends exist: mpv with a bidirectional
// JSON-line IPC socket (seamless control) and ffplay, which has no
// control channel and is restarted for every pause, seek and filter
// change.
package player

import (
	"context"
	"fmt"
	"os/exec"

	"github.com/soundsuite/jukeboxd/internal/bus"
	"github.com/soundsuite/jukeboxd/internal/config"
	"github.com/soundsuite/jukeboxd/internal/log"
	"github.com/soundsuite/jukeboxd/internal/model"
)

// Adapter is the uniform playback contract. Exactly one subprocess may
// exist per adapter instance; Play stops any previous invocation first.
type Adapter interface {
	// Play starts the track and blocks until playback resolves for any
	// reason. PLAYBACK_STARTED is published before awaiting completion,
	// PLAYBACK_FINISHED after.
	Play(ctx context.Context, d model.TrackDescriptor, filePath string, startOffsetMs int64) (model.FinishReason, error)

	// Stop terminates the subprocess and releases IPC resources. Idempotent.
	Stop()

	Pause() error
	Resume() error
	Seek(positionMs int64) error

	// Position returns the current playback position in milliseconds.
	Position() (int64, error)

	SetVolume(v int) error
	Volume() int

	// UpdateFilters applies the new opaque filter chain. The seamless
	// backend applies it live; the fallback backend respawns at the
	// current offset.
	UpdateFilters(chain string) error

	IsPlaying() bool
	Name() string
}

// New probes the configured backend preference order and constructs the
// first adapter whose executable is present. Returns
// model.ErrBackendUnavailable when none is.
func New(cfg config.PlayerConfig, b *bus.Bus) (Adapter, error) {
	logger := log.WithComponent("player")
	for _, name := range cfg.Preference {
		switch name {
		case "mpv":
			if path, err := exec.LookPath(cfg.MpvPath); err == nil {
				logger.Info().Str(log.FieldBackend, "mpv").Str(log.FieldPath, path).Msg("selected playback backend")
				return NewMPVAdapter(cfg, b), nil
			}
		case "ffplay":
			if path, err := exec.LookPath(cfg.FfplayPath); err == nil {
				logger.Info().Str(log.FieldBackend, "ffplay").Str(log.FieldPath, path).Msg("selected playback backend")
				return NewFfplayAdapter(cfg, b), nil
			}
		}
	}
	return nil, fmt.Errorf("player: %w: none of %v found", model.ErrBackendUnavailable, cfg.Preference)
}

// controls maps bus command topics onto adapter operations for the
// duration of one Play invocation. The returned release function
// unsubscribes everything; it is safe to call more than once.
func bindControls(b *bus.Bus, a Adapter, skip func()) func() {
	logger := log.WithComponent("player")
	subs := []*bus.Subscription{
		b.Subscribe(model.TopicPlaybackPause, func(model.Topic, any) {
			if err := a.Pause(); err != nil {
				logger.Warn().Err(err).Msg("pause command failed")
			}
		}),
		b.Subscribe(model.TopicPlaybackResume, func(model.Topic, any) {
			if err := a.Resume(); err != nil {
				logger.Warn().Err(err).Msg("resume command failed")
			}
		}),
		b.Subscribe(model.TopicPlaybackSeek, func(_ model.Topic, ev any) {
			seek, ok := ev.(model.PlaybackSeekEvent)
			if !ok {
				return
			}
			if err := a.Seek(seek.PositionMs); err != nil {
				logger.Warn().Err(err).Int64(log.FieldOffsetMs, seek.PositionMs).Msg("seek command failed")
			}
		}),
		b.Subscribe(model.TopicPlaybackSkip, func(model.Topic, any) {
			skip()
		}),
		b.Subscribe(model.TopicEffectsChanged, func(_ model.Topic, ev any) {
			changed, ok := ev.(model.EffectsChangedEvent)
			if !ok {
				return
			}
			if err := a.UpdateFilters(changed.FilterChain); err != nil {
				logger.Warn().Err(err).Msg("filter update failed")
			}
		}),
	}
	return func() {
		for _, s := range subs {
			s.Unsubscribe()
		}
	}
}

// clampVolume bounds v to the 0-100 range the backends accept.
func clampVolume(v int) int {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}

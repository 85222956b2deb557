// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package player

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"

	"github.com/soundsuite/jukeboxd/internal/bus"
	"github.com/soundsuite/jukeboxd/internal/config"
	"github.com/soundsuite/jukeboxd/internal/log"
	"github.com/soundsuite/jukeboxd/internal/metrics"
	"github.com/soundsuite/jukeboxd/internal/model"
	"github.com/soundsuite/jukeboxd/internal/procgroup"
)

// MPVAdapter drives mpv through its JSON IPC socket. Pause, seek, volume
// and filter changes apply live without restarting the subprocess.
type MPVAdapter struct {
	cfg    config.PlayerConfig
	bus    *bus.Bus
	logger zerolog.Logger

	seq atomic.Int64 // socket name disambiguator

	mu      sync.Mutex
	cmd     *exec.Cmd
	ipc     *ipcClient
	socket  string
	waitCh  chan error
	killReq chan struct{} // termination request for the current spawn
	playing bool
	intent  model.FinishReason
	volume  int
	chain   string
}

// NewMPVAdapter constructs the seamless backend. The executable is
// assumed present; New probes before constructing.
func NewMPVAdapter(cfg config.PlayerConfig, b *bus.Bus) *MPVAdapter {
	return &MPVAdapter{
		cfg:    cfg,
		bus:    b,
		logger: log.WithComponent("player").With().Str(log.FieldBackend, "mpv").Logger(),
		volume: clampVolume(cfg.Volume),
	}
}

func (m *MPVAdapter) Name() string { return "mpv" }

// Play spawns mpv for one track and blocks until playback resolves.
func (m *MPVAdapter) Play(ctx context.Context, d model.TrackDescriptor, filePath string, startOffsetMs int64) (model.FinishReason, error) {
	m.Stop()

	socket := filepath.Join(os.TempDir(),
		fmt.Sprintf("jukeboxd-mpv-%d-%d.sock", os.Getpid(), m.seq.Add(1)))

	m.mu.Lock()
	args := []string{
		"--no-video",
		"--no-terminal",
		"--idle=no",
		"--input-ipc-server=" + socket,
		fmt.Sprintf("--volume=%d", m.volume),
		fmt.Sprintf("--start=+%.3f", float64(startOffsetMs)/1000),
	}
	if m.chain != "" {
		args = append(args, "--af="+m.chain)
	}
	args = append(args, filePath)

	// #nosec G204 -- binary path is operator configuration
	cmd := exec.Command(m.cfg.MpvPath, args...)
	procgroup.Set(cmd)
	if err := cmd.Start(); err != nil {
		m.mu.Unlock()
		return model.ReasonError, fmt.Errorf("player: spawn mpv: %w", err)
	}
	waitCh := make(chan error, 1)
	go func() { waitCh <- cmd.Wait() }()
	killReq := make(chan struct{}, 1)
	m.cmd = cmd
	m.waitCh = waitCh
	m.killReq = killReq
	m.socket = socket
	m.intent = model.ReasonEnded
	m.mu.Unlock()

	ipc, err := dialIPC(socket, m.cfg.IPCConnectRetries, m.cfg.IPCConnectDelay, m.cfg.IPCRequestTimeout)
	if err != nil {
		m.logger.Error().Err(err).Str(log.FieldSocket, socket).Msg("ipc connect failed")
		m.bus.Publish(model.TopicPlaybackError, model.PlaybackErrorEvent{FilePath: filePath, Cause: err.Error()})
		_ = procgroup.Terminate(cmd, waitCh, m.cfg.KillGrace)
		m.cleanup()
		return model.ReasonError, err
	}

	m.mu.Lock()
	m.ipc = ipc
	m.playing = true
	m.mu.Unlock()

	m.logger.Info().
		Str(log.FieldTrackID, d.ID).
		Str(log.FieldPath, filePath).
		Int64(log.FieldOffsetMs, startOffsetMs).
		Msg("playback started")
	metrics.PlaybackStartTotal.WithLabelValues("mpv").Inc()
	m.bus.Publish(model.TopicPlaybackStarted, model.PlaybackStartedEvent{Descriptor: d, FilePath: filePath})

	release := bindControls(m.bus, m, func() { m.interrupt(model.ReasonSkipped) })
	reason := m.await(ctx, cmd, ipc, waitCh, killReq, filePath)
	release()
	m.cleanup()

	metrics.PlaybackFinishTotal.WithLabelValues(string(reason)).Inc()
	m.bus.Publish(model.TopicPlaybackFinished, model.PlaybackFinishedEvent{
		Descriptor: d, FilePath: filePath, Reason: reason,
	})
	return reason, nil
}

// await is the sole consumer of the subprocess wait channel; every
// termination escalates through procgroup.Terminate from here.
func (m *MPVAdapter) await(ctx context.Context, cmd *exec.Cmd, ipc *ipcClient, waitCh chan error, killReq <-chan struct{}, filePath string) model.FinishReason {
	for {
		select {
		case <-ctx.Done():
			m.setIntent(model.ReasonStopped)
			_ = procgroup.Terminate(cmd, waitCh, m.cfg.KillGrace)
			return model.ReasonStopped

		case <-killReq:
			_ = procgroup.Terminate(cmd, waitCh, m.cfg.KillGrace)
			return m.currentIntent()

		case ev := <-ipc.Events():
			if ev.Event != "end-file" {
				continue
			}
			reason := m.finishReason(ev.Reason)
			_ = procgroup.Terminate(cmd, waitCh, m.cfg.KillGrace)
			return reason

		case <-ipc.Done():
			// the socket also closes on a natural exit; a queued
			// end-file takes precedence over the disconnect
			select {
			case ev := <-ipc.Events():
				if ev.Event == "end-file" {
					reason := m.finishReason(ev.Reason)
					_ = procgroup.Terminate(cmd, waitCh, m.cfg.KillGrace)
					return reason
				}
			default:
			}
			if intent := m.currentIntent(); intent != model.ReasonEnded {
				_ = procgroup.Terminate(cmd, waitCh, m.cfg.KillGrace)
				return intent
			}
			// control channel lost while the subprocess lives: playback
			// is no longer observable, so end it
			m.logger.Warn().Msg("ipc connection lost mid-playback")
			m.bus.Publish(model.TopicPlaybackError, model.PlaybackErrorEvent{FilePath: filePath, Cause: "ipc connection lost"})
			_ = procgroup.Terminate(cmd, waitCh, m.cfg.KillGrace)
			return model.ReasonError

		case err := <-waitCh:
			// process exited without announcing end-file
			intent := m.currentIntent()
			if err != nil && intent == model.ReasonEnded {
				m.logger.Warn().Err(err).Msg("player process crashed")
				return model.ReasonError
			}
			return intent
		}
	}
}

// finishReason maps the end-file reason onto the recorded intent.
func (m *MPVAdapter) finishReason(endFile string) model.FinishReason {
	if endFile == "eof" {
		return model.ReasonEnded
	}
	intent := m.currentIntent()
	if intent == model.ReasonEnded {
		// an externally triggered stop we did not initiate
		return model.ReasonStopped
	}
	return intent
}

// Stop terminates the subprocess. Idempotent; the in-flight Play resolves
// with reason stopped.
func (m *MPVAdapter) Stop() {
	m.setIntent(model.ReasonStopped)
	m.mu.Lock()
	ch := m.killReq
	m.mu.Unlock()
	requestKill(ch)
}

func (m *MPVAdapter) cleanup() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ipc != nil {
		m.ipc.Close()
		m.ipc = nil
	}
	if m.socket != "" {
		_ = os.Remove(m.socket)
		m.socket = ""
	}
	m.cmd = nil
	m.waitCh = nil
	m.killReq = nil
	m.playing = false
}

func (m *MPVAdapter) setIntent(r model.FinishReason) {
	m.mu.Lock()
	m.intent = r
	m.mu.Unlock()
}

func (m *MPVAdapter) currentIntent() model.FinishReason {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.intent
}

func (m *MPVAdapter) interrupt(r model.FinishReason) {
	m.mu.Lock()
	m.intent = r
	ch := m.killReq
	m.mu.Unlock()
	requestKill(ch)
}

func (m *MPVAdapter) client() (*ipcClient, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ipc == nil {
		return nil, fmt.Errorf("player: %w: no active playback", model.ErrBackendUnavailable)
	}
	return m.ipc, nil
}

func (m *MPVAdapter) Pause() error {
	c, err := m.client()
	if err != nil {
		return err
	}
	_, err = c.request("set_property", "pause", true)
	return err
}

func (m *MPVAdapter) Resume() error {
	c, err := m.client()
	if err != nil {
		return err
	}
	_, err = c.request("set_property", "pause", false)
	return err
}

func (m *MPVAdapter) Seek(positionMs int64) error {
	c, err := m.client()
	if err != nil {
		return err
	}
	_, err = c.request("seek", float64(positionMs)/1000, "absolute")
	return err
}

// Position asks the running process for its playback time.
func (m *MPVAdapter) Position() (int64, error) {
	c, err := m.client()
	if err != nil {
		return 0, err
	}
	data, err := c.request("get_property", "playback-time")
	if err != nil {
		return 0, err
	}
	var seconds float64
	if err := json.Unmarshal(data, &seconds); err != nil {
		return 0, fmt.Errorf("player: parse playback-time: %w", err)
	}
	return int64(seconds * 1000), nil
}

func (m *MPVAdapter) SetVolume(v int) error {
	v = clampVolume(v)
	m.mu.Lock()
	m.volume = v
	c := m.ipc
	m.mu.Unlock()
	if c == nil {
		return nil // applied on next spawn
	}
	_, err := c.request("set_property", "volume", v)
	return err
}

func (m *MPVAdapter) Volume() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.volume
}

// UpdateFilters applies the chain live; no restart needed.
func (m *MPVAdapter) UpdateFilters(chain string) error {
	m.mu.Lock()
	m.chain = chain
	c := m.ipc
	m.mu.Unlock()
	if c == nil {
		return nil
	}
	_, err := c.request("set_property", "af", chain)
	return err
}

func (m *MPVAdapter) IsPlaying() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.playing
}

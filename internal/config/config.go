// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package config defines the typed configuration surface of jukeboxd.
// Values load from an optional YAML file, are overlaid with JUKEBOX_*
// environment variables and validated before the daemon starts.
package config

import (
	"fmt"
	"os"
	"runtime"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration object.
type Config struct {
	ListenAddr string `yaml:"listen_addr"`
	DataDir    string `yaml:"data_dir"`  // sqlite database location
	CacheDir   string `yaml:"cache_dir"` // downloaded audio artifacts
	LogLevel   string `yaml:"log_level"`

	AllowedOrigins []string `yaml:"allowed_origins"`
	TracingEnabled bool     `yaml:"tracing_enabled"`

	Download DownloadConfig `yaml:"download"`
	Player   PlayerConfig   `yaml:"player"`
	Persist  PersistConfig  `yaml:"persist"`
	SSE      SSEConfig      `yaml:"sse"`
	Resolver ResolverConfig `yaml:"resolver"`
	Effects  EffectsConfig  `yaml:"effects"`
}

// DownloadConfig bounds the prefetch pipeline.
type DownloadConfig struct {
	LookAhead    int           `yaml:"look_ahead"` // 0 disables prefetch
	Slots        int           `yaml:"slots"`      // concurrent downloads
	RetryBase    time.Duration `yaml:"retry_base"`
	RetryFactor  float64       `yaml:"retry_factor"`
	RetryMax     int           `yaml:"retry_max"` // attempts including the first
	RetryCap     time.Duration `yaml:"retry_cap"`
	SweepOnStart bool          `yaml:"sweep_on_start"`
}

// PlayerConfig selects and tunes the player backends.
type PlayerConfig struct {
	Preference        []string      `yaml:"preference"` // probe order, e.g. [mpv, ffplay]
	MpvPath           string        `yaml:"mpv_path"`
	FfplayPath        string        `yaml:"ffplay_path"`
	IPCConnectRetries int           `yaml:"ipc_connect_retries"`
	IPCConnectDelay   time.Duration `yaml:"ipc_connect_delay"`
	IPCRequestTimeout time.Duration `yaml:"ipc_request_timeout"`
	KillGrace         time.Duration `yaml:"kill_grace"`
	Volume            int           `yaml:"volume"`
}

// PersistConfig tunes snapshot persistence.
type PersistConfig struct {
	SnapshotDebounce time.Duration `yaml:"snapshot_debounce"`
}

// SSEConfig tunes the status broadcaster.
type SSEConfig struct {
	Debounce          time.Duration `yaml:"debounce"`
	StartupGrace      time.Duration `yaml:"startup_grace"`
	ProgressInterval  time.Duration `yaml:"progress_interval"`
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval"`
}

// ResolverConfig locates external resolver tooling.
type ResolverConfig struct {
	YtdlpPath string        `yaml:"ytdlp_path"`
	RedisAddr string        `yaml:"redis_addr"` // optional metadata cache
	CacheTTL  time.Duration `yaml:"cache_ttl"`
}

// EffectsConfig points at the externally managed filter preset file.
type EffectsConfig struct {
	PresetPath string `yaml:"preset_path"` // optional; watched for changes
}

// Default returns the built-in configuration.
func Default() Config {
	connectRetries, connectDelay := 20, 100*time.Millisecond
	if runtime.GOOS == "windows" {
		connectRetries, connectDelay = 50, 150*time.Millisecond
	}
	return Config{
		ListenAddr: ":8099",
		DataDir:    "./data",
		CacheDir:   "./data/cache",
		LogLevel:   "info",
		Download: DownloadConfig{
			LookAhead:    1,
			Slots:        2,
			RetryBase:    500 * time.Millisecond,
			RetryFactor:  2,
			RetryMax:     4,
			RetryCap:     8 * time.Second,
			SweepOnStart: true,
		},
		Player: PlayerConfig{
			Preference:        []string{"mpv", "ffplay"},
			MpvPath:           "mpv",
			FfplayPath:        "ffplay",
			IPCConnectRetries: connectRetries,
			IPCConnectDelay:   connectDelay,
			IPCRequestTimeout: 5 * time.Second,
			KillGrace:         100 * time.Millisecond,
			Volume:            100,
		},
		Persist: PersistConfig{
			SnapshotDebounce: 500 * time.Millisecond,
		},
		SSE: SSEConfig{
			Debounce:          200 * time.Millisecond,
			StartupGrace:      1 * time.Second,
			ProgressInterval:  1 * time.Second,
			HeartbeatInterval: 30 * time.Second,
		},
		Resolver: ResolverConfig{
			YtdlpPath: "yt-dlp",
			CacheTTL:  24 * time.Hour,
		},
	}
}

// Load reads the YAML file at path (if non-empty), overlays environment
// variables and validates the result.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		raw, err := os.ReadFile(path) // #nosec G304 -- operator-supplied path
		if err != nil {
			return cfg, fmt.Errorf("config: read %s: %w", path, err)
		}
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return cfg, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}
	cfg.applyEnv()
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	if v := os.Getenv("JUKEBOX_LISTEN"); v != "" {
		c.ListenAddr = v
	}
	if v := os.Getenv("JUKEBOX_DATA_DIR"); v != "" {
		c.DataDir = v
	}
	if v := os.Getenv("JUKEBOX_CACHE_DIR"); v != "" {
		c.CacheDir = v
	}
	if v := os.Getenv("JUKEBOX_LOG_LEVEL"); v != "" {
		c.LogLevel = v
	}
	if v := os.Getenv("JUKEBOX_ALLOWED_ORIGINS"); v != "" {
		c.AllowedOrigins = splitCSV(v)
	}
	if v := os.Getenv("JUKEBOX_LOOK_AHEAD"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Download.LookAhead = n
		}
	}
	if v := os.Getenv("JUKEBOX_DOWNLOAD_SLOTS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Download.Slots = n
		}
	}
	if v := os.Getenv("JUKEBOX_MPV_PATH"); v != "" {
		c.Player.MpvPath = v
	}
	if v := os.Getenv("JUKEBOX_FFPLAY_PATH"); v != "" {
		c.Player.FfplayPath = v
	}
	if v := os.Getenv("JUKEBOX_YTDLP_PATH"); v != "" {
		c.Resolver.YtdlpPath = v
	}
	if v := os.Getenv("JUKEBOX_REDIS_ADDR"); v != "" {
		c.Resolver.RedisAddr = v
	}
	if v := os.Getenv("JUKEBOX_EFFECTS_PRESET"); v != "" {
		c.Effects.PresetPath = v
	}
}

// Validate rejects configurations the daemon cannot run with.
func (c *Config) Validate() error {
	if c.ListenAddr == "" {
		return fmt.Errorf("config: listen_addr must not be empty")
	}
	if c.Download.LookAhead < 0 {
		return fmt.Errorf("config: download.look_ahead must be >= 0")
	}
	if c.Download.Slots < 1 {
		return fmt.Errorf("config: download.slots must be >= 1")
	}
	if c.Download.RetryMax < 1 {
		return fmt.Errorf("config: download.retry_max must be >= 1")
	}
	if c.Player.IPCRequestTimeout <= 0 {
		return fmt.Errorf("config: player.ipc_request_timeout must be > 0")
	}
	if c.Player.Volume < 0 || c.Player.Volume > 100 {
		return fmt.Errorf("config: player.volume must be within 0-100")
	}
	if len(c.Player.Preference) == 0 {
		return fmt.Errorf("config: player.preference must name at least one backend")
	}
	for _, name := range c.Player.Preference {
		switch name {
		case "mpv", "ffplay":
		default:
			return fmt.Errorf("config: unknown player backend %q", name)
		}
	}
	return nil
}

func splitCSV(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if v := strings.TrimSpace(p); v != "" {
			out = append(out, v)
		}
	}
	return out
}

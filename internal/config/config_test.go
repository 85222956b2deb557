package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultsAreValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, 1, cfg.Download.LookAhead)
	assert.Equal(t, 2, cfg.Download.Slots)
	assert.Equal(t, 500*time.Millisecond, cfg.Download.RetryBase)
	assert.Equal(t, 8*time.Second, cfg.Download.RetryCap)
	assert.Equal(t, 5*time.Second, cfg.Player.IPCRequestTimeout)
	assert.Equal(t, 200*time.Millisecond, cfg.SSE.Debounce)
	assert.Equal(t, []string{"mpv", "ffplay"}, cfg.Player.Preference)
}

func TestLoadFileOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "jukeboxd.yaml")
	body := []byte("listen_addr: \":9000\"\ndownload:\n  look_ahead: 3\n  slots: 4\n")
	require.NoError(t, os.WriteFile(path, body, 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, ":9000", cfg.ListenAddr)
	assert.Equal(t, 3, cfg.Download.LookAhead)
	assert.Equal(t, 4, cfg.Download.Slots)
	// untouched sections keep defaults
	assert.Equal(t, 500*time.Millisecond, cfg.Download.RetryBase)
}

func TestEnvOverridesFile(t *testing.T) {
	t.Setenv("JUKEBOX_LISTEN", ":7777")
	t.Setenv("JUKEBOX_DOWNLOAD_SLOTS", "8")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, ":7777", cfg.ListenAddr)
	assert.Equal(t, 8, cfg.Download.Slots)
}

func TestValidateRejectsBadValues(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"negative look-ahead", func(c *Config) { c.Download.LookAhead = -1 }},
		{"zero slots", func(c *Config) { c.Download.Slots = 0 }},
		{"volume out of range", func(c *Config) { c.Player.Volume = 150 }},
		{"unknown backend", func(c *Config) { c.Player.Preference = []string{"vlc"} }},
		{"empty preference", func(c *Config) { c.Player.Preference = nil }},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Default()
			tc.mutate(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

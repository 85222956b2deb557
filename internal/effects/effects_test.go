package effects

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/soundsuite/jukeboxd/internal/bus"
	"github.com/soundsuite/jukeboxd/internal/model"
)

func TestSetPublishesChange(t *testing.T) {
	b := bus.New()
	var got []string
	b.Subscribe(model.TopicEffectsChanged, func(_ model.Topic, ev any) {
		got = append(got, ev.(model.EffectsChangedEvent).FilterChain)
	})

	e := NewEngine(b)
	e.Set("bass=g=5")
	e.Set("  bass=g=5  ") // same chain after trimming, no event
	e.Set("")

	assert.Equal(t, []string{"bass=g=5", ""}, got)
	assert.Equal(t, "", e.Chain())
}

func TestReadPresetSkipsComments(t *testing.T) {
	path := filepath.Join(t.TempDir(), "preset.txt")
	require.NoError(t, os.WriteFile(path, []byte("# nightcore\n\natempo=1.25,asetrate=44100*1.2\n"), 0o644))

	chain, err := readPreset(path)
	require.NoError(t, err)
	assert.Equal(t, "atempo=1.25,asetrate=44100*1.2", chain)
}

func TestWatchPresetReloadsOnWrite(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "preset.txt")
	require.NoError(t, os.WriteFile(path, []byte("bass=g=2\n"), 0o644))

	b := bus.New()
	e := NewEngine(b)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = e.WatchPreset(ctx, path)
		close(done)
	}()
	defer func() {
		cancel()
		<-done
	}()

	// initial load
	require.Eventually(t, func() bool { return e.Chain() == "bass=g=2" },
		2*time.Second, 10*time.Millisecond)

	require.NoError(t, os.WriteFile(path, []byte("bass=g=9\n"), 0o644))
	require.Eventually(t, func() bool { return e.Chain() == "bass=g=9" },
		2*time.Second, 10*time.Millisecond)
}

func TestWatchPresetToleratesMissingFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "preset.txt")

	b := bus.New()
	e := NewEngine(b)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = e.WatchPreset(ctx, path)
		close(done)
	}()
	defer func() {
		cancel()
		<-done
	}()

	time.Sleep(50 * time.Millisecond)
	require.NoError(t, os.WriteFile(path, []byte("loudnorm\n"), 0o644))
	require.Eventually(t, func() bool { return e.Chain() == "loudnorm" },
		2*time.Second, 10*time.Millisecond)
}

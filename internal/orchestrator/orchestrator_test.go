package orchestrator

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/soundsuite/jukeboxd/internal/bus"
	"github.com/soundsuite/jukeboxd/internal/config"
	"github.com/soundsuite/jukeboxd/internal/download"
	"github.com/soundsuite/jukeboxd/internal/model"
	"github.com/soundsuite/jukeboxd/internal/queue"
	"github.com/soundsuite/jukeboxd/internal/repository"
	"github.com/soundsuite/jukeboxd/internal/resolver"
)

type playCall struct {
	id       string
	path     string
	offsetMs int64
}

// fakeAdapter resolves Play invocations through a channel and honors the
// skip command the way the real backends do.
type fakeAdapter struct {
	b *bus.Bus

	mu      sync.Mutex
	playing bool
	volume  int
	calls   []playCall
	finish  chan model.FinishReason
}

func newFakeAdapter(b *bus.Bus) *fakeAdapter {
	return &fakeAdapter{b: b, volume: 100, finish: make(chan model.FinishReason)}
}

func (a *fakeAdapter) Play(ctx context.Context, d model.TrackDescriptor, path string, offsetMs int64) (model.FinishReason, error) {
	a.mu.Lock()
	a.playing = true
	a.calls = append(a.calls, playCall{id: d.ID, path: path, offsetMs: offsetMs})
	a.mu.Unlock()

	sub := a.b.Subscribe(model.TopicPlaybackSkip, func(model.Topic, any) {
		select {
		case a.finish <- model.ReasonSkipped:
		default:
		}
	})
	defer sub.Unsubscribe()
	defer func() {
		a.mu.Lock()
		a.playing = false
		a.mu.Unlock()
	}()

	select {
	case <-ctx.Done():
		return model.ReasonStopped, nil
	case r := <-a.finish:
		return r, nil
	}
}

func (a *fakeAdapter) Stop() {
	select {
	case a.finish <- model.ReasonStopped:
	default:
	}
}

func (a *fakeAdapter) end(r model.FinishReason) {
	a.finish <- r
}

func (a *fakeAdapter) Pause() error             { return nil }
func (a *fakeAdapter) Resume() error            { return nil }
func (a *fakeAdapter) Seek(int64) error         { return nil }
func (a *fakeAdapter) Position() (int64, error) { return 0, nil }
func (a *fakeAdapter) SetVolume(v int) error {
	a.mu.Lock()
	a.volume = v
	a.mu.Unlock()
	return nil
}
func (a *fakeAdapter) Volume() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.volume
}
func (a *fakeAdapter) UpdateFilters(string) error { return nil }
func (a *fakeAdapter) IsPlaying() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.playing
}
func (a *fakeAdapter) Name() string { return "fake" }

func (a *fakeAdapter) callCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.calls)
}

func (a *fakeAdapter) call(i int) playCall {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.calls[i]
}

// okResolver serves every fetch instantly; URIs listed in fail resolve
// with a permanent rejection.
type okResolver struct {
	fail map[string]bool
}

func (r *okResolver) Resolve(context.Context, string, resolver.PlaylistSink) (model.TrackDescriptor, error) {
	return model.TrackDescriptor{}, nil
}

func (r *okResolver) FetchArtifact(_ context.Context, d model.TrackDescriptor, _ resolver.ProgressSink) (string, error) {
	if r.fail[d.SourceURI] {
		return "", fmt.Errorf("%w: gone", model.ErrPermanentRejected)
	}
	return "/cache/" + d.ID + ".opus", nil
}

type fixture struct {
	bus     *bus.Bus
	queue   *queue.Manager
	adapter *fakeAdapter
	orch    *Orchestrator
	store   repository.Store
	cancel  context.CancelFunc
}

func newFixture(t *testing.T, res resolver.Resolver) *fixture {
	t.Helper()
	b := bus.New()
	db, err := repository.Open(filepath.Join(t.TempDir(), "jukebox.db"), repository.DefaultSQLiteConfig())
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	store, err := repository.NewSQLStore(db)
	require.NoError(t, err)

	q := queue.NewManager(b, store)
	if res == nil {
		res = &okResolver{}
	}
	cfg := config.Default().Download
	cfg.RetryBase = time.Millisecond
	pipe := download.NewPipeline(q, res, b, cfg)
	adapter := newFakeAdapter(b)
	writer := repository.NewSnapshotWriter(store, 10*time.Millisecond)
	t.Cleanup(writer.Close)

	orch := New(q, pipe, adapter, b, writer, 100)
	require.NoError(t, orch.Restore(context.Background(), store))

	ctx, cancel := context.WithCancel(context.Background())
	go func() { _ = orch.Run(ctx) }()
	t.Cleanup(cancel)
	time.Sleep(10 * time.Millisecond) // subscriptions installed

	return &fixture{bus: b, queue: q, adapter: adapter, orch: orch, store: store, cancel: cancel}
}

func enqueue(t *testing.T, q *queue.Manager, uri string, prio model.Priority) string {
	t.Helper()
	item := model.QueueItem{
		Descriptor: model.TrackDescriptor{
			ID:        model.DescriptorID(uri),
			SourceURI: uri,
			Title:     uri,
			Kind:      model.KindRemote,
		},
		Requester: "tester",
		Priority:  prio,
	}
	require.NoError(t, q.Add(item))
	return item.Descriptor.ID
}

func waitPlaying(t *testing.T, f *fixture) {
	t.Helper()
	require.Eventually(t, func() bool {
		return f.orch.Status().Phase == model.PhasePlaying
	}, 2*time.Second, 5*time.Millisecond)
}

func TestEnqueueStartsPlayback(t *testing.T) {
	f := newFixture(t, nil)
	id := enqueue(t, f.queue, "https://example/a", model.PriorityNormal)

	waitPlaying(t, f)
	st := f.orch.Status()
	require.NotNil(t, st.Current)
	assert.Equal(t, id, st.Current.Descriptor.ID)
	assert.Equal(t, id, f.adapter.call(0).id)
	assert.Equal(t, int64(0), f.adapter.call(0).offsetMs)
}

func TestNaturalEndAdvancesQueue(t *testing.T) {
	f := newFixture(t, nil)
	first := enqueue(t, f.queue, "https://example/1", model.PriorityNormal)
	second := enqueue(t, f.queue, "https://example/2", model.PriorityNormal)

	waitPlaying(t, f)
	f.adapter.end(model.ReasonEnded)

	require.Eventually(t, func() bool {
		st := f.orch.Status()
		return st.Current != nil && st.Current.Descriptor.ID == second
	}, 2*time.Second, 5*time.Millisecond)

	st := f.orch.Status()
	assert.Equal(t, int64(1), st.SongsPlayed)
	_, stillQueued := f.queue.Get(first)
	assert.False(t, stillQueued)
}

func TestEnqueueRacingTrackEndDoesNotReplayFinishedHead(t *testing.T) {
	f := newFixture(t, nil)
	first := enqueue(t, f.queue, "https://example/1", model.PriorityNormal)
	waitPlaying(t, f)

	// land a new item at the same moment the current track resolves; the
	// finished head must never be picked again
	second := model.QueueItem{
		Descriptor: model.TrackDescriptor{
			ID:        model.DescriptorID("https://example/2"),
			SourceURI: "https://example/2",
			Title:     "Second",
			Kind:      model.KindRemote,
		},
		Requester: "tester",
		Priority:  model.PriorityNormal,
	}
	added := make(chan struct{})
	go func() {
		assert.NoError(t, f.queue.Add(second))
		close(added)
	}()
	f.adapter.end(model.ReasonEnded)
	<-added

	require.Eventually(t, func() bool {
		return f.adapter.callCount() >= 2
	}, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, second.Descriptor.ID, f.adapter.call(1).id)

	_, stillQueued := f.queue.Get(first)
	assert.False(t, stillQueued)

	time.Sleep(50 * time.Millisecond)
	starts := 0
	for i := 0; i < f.adapter.callCount(); i++ {
		if f.adapter.call(i).id == first {
			starts++
		}
	}
	assert.Equal(t, 1, starts, "finished track started more than once")
}

func TestVipEnqueuePlaysBeforeOlderNormals(t *testing.T) {
	f := newFixture(t, nil)
	enqueue(t, f.queue, "https://example/n1", model.PriorityNormal)
	enqueue(t, f.queue, "https://example/n2", model.PriorityNormal)
	waitPlaying(t, f)

	vip := enqueue(t, f.queue, "https://example/vip", model.PriorityVIP)
	f.adapter.end(model.ReasonEnded)

	require.Eventually(t, func() bool {
		st := f.orch.Status()
		return st.Current != nil && st.Current.Descriptor.ID == vip
	}, 2*time.Second, 5*time.Millisecond)
}

func TestFailedFetchAutoSkips(t *testing.T) {
	res := &okResolver{fail: map[string]bool{"https://example/broken": true}}
	f := newFixture(t, res)

	enqueue(t, f.queue, "https://example/broken", model.PriorityNormal)
	good := enqueue(t, f.queue, "https://example/good", model.PriorityNormal)

	require.Eventually(t, func() bool {
		st := f.orch.Status()
		return st.Current != nil && st.Current.Descriptor.ID == good
	}, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, 1, f.queue.Len())
}

func TestPauseFreezesElapsed(t *testing.T) {
	f := newFixture(t, nil)
	enqueue(t, f.queue, "https://example/a", model.PriorityNormal)
	waitPlaying(t, f)

	time.Sleep(30 * time.Millisecond)
	require.NoError(t, f.orch.Pause())
	assert.Equal(t, model.PhasePaused, f.orch.Status().Phase)

	e1 := f.orch.Status().ElapsedMs
	time.Sleep(50 * time.Millisecond)
	e2 := f.orch.Status().ElapsedMs
	assert.Equal(t, e1, e2)
	assert.Greater(t, e1, int64(0))

	require.NoError(t, f.orch.Resume())
	assert.Equal(t, model.PhasePlaying, f.orch.Status().Phase)
	require.Eventually(t, func() bool {
		return f.orch.Status().ElapsedMs > e2
	}, time.Second, 5*time.Millisecond)
}

func TestPauseRequiresPlaying(t *testing.T) {
	f := newFixture(t, nil)
	assert.ErrorIs(t, f.orch.Pause(), model.ErrInvalidRequest)
	assert.ErrorIs(t, f.orch.Resume(), model.ErrInvalidRequest)
	assert.ErrorIs(t, f.orch.Skip(), model.ErrInvalidRequest)
}

func TestSkipWhilePausedAdvances(t *testing.T) {
	f := newFixture(t, nil)
	first := enqueue(t, f.queue, "https://example/1", model.PriorityNormal)
	second := enqueue(t, f.queue, "https://example/2", model.PriorityNormal)

	waitPlaying(t, f)
	require.NoError(t, f.orch.Pause())
	require.NoError(t, f.orch.Skip())

	require.Eventually(t, func() bool {
		st := f.orch.Status()
		return st.Current != nil && st.Current.Descriptor.ID == second
	}, 2*time.Second, 5*time.Millisecond)
	_, stillQueued := f.queue.Get(first)
	assert.False(t, stillQueued)
	assert.Equal(t, int64(1), f.orch.Status().SongsPlayed)
}

func TestSeekValidatesRange(t *testing.T) {
	f := newFixture(t, nil)
	uri := "https://example/a"
	item := model.QueueItem{
		Descriptor: model.TrackDescriptor{
			ID:         model.DescriptorID(uri),
			SourceURI:  uri,
			Title:      uri,
			DurationMs: 60_000,
			Kind:       model.KindRemote,
		},
		Requester: "tester",
		Priority:  model.PriorityNormal,
	}
	require.NoError(t, f.queue.Add(item))
	waitPlaying(t, f)

	assert.ErrorIs(t, f.orch.Seek(90_000), model.ErrOutOfRange)
	assert.ErrorIs(t, f.orch.Seek(-1), model.ErrOutOfRange)
	require.NoError(t, f.orch.Seek(30_000))
	assert.GreaterOrEqual(t, f.orch.Status().ElapsedMs, int64(30_000))
}

func TestNewSessionResetsEverything(t *testing.T) {
	f := newFixture(t, nil)
	enqueue(t, f.queue, "https://example/1", model.PriorityNormal)
	enqueue(t, f.queue, "https://example/2", model.PriorityNormal)
	waitPlaying(t, f)

	f.orch.NewSession()

	require.Eventually(t, func() bool {
		st := f.orch.Status()
		return st.Phase == model.PhaseIdle && st.Current == nil
	}, 2*time.Second, 5*time.Millisecond)
	assert.Zero(t, f.queue.Len())
	assert.Zero(t, f.orch.Status().SongsPlayed)
}

func TestRepeatReenqueuesEndedTrack(t *testing.T) {
	f := newFixture(t, nil)
	f.orch.SetRepeat(true)
	id := enqueue(t, f.queue, "https://example/loop", model.PriorityNormal)
	waitPlaying(t, f)

	f.adapter.end(model.ReasonEnded)

	require.Eventually(t, func() bool {
		return f.adapter.callCount() >= 2
	}, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, id, f.adapter.call(1).id)
}

func TestVolumeAppliesAndValidates(t *testing.T) {
	f := newFixture(t, nil)
	require.NoError(t, f.orch.SetVolume(40))
	assert.Equal(t, 40, f.adapter.Volume())
	assert.Equal(t, 40, f.orch.Status().Volume)
	assert.ErrorIs(t, f.orch.SetVolume(101), model.ErrOutOfRange)
}

func TestRestorePausedPointer(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "track.opus")
	require.NoError(t, os.WriteFile(file, []byte("audio"), 0o644))

	db, err := repository.Open(filepath.Join(dir, "jukebox.db"), repository.DefaultSQLiteConfig())
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	store, err := repository.NewSQLStore(db)
	require.NoError(t, err)

	uri := "https://example/restored"
	id := model.DescriptorID(uri)
	items := []model.QueueItem{{
		Descriptor:    model.TrackDescriptor{ID: id, SourceURI: uri, Title: "Restored", Kind: model.KindRemote},
		Requester:     "tester",
		Priority:      model.PriorityNormal,
		DownloadState: model.DownloadReady,
		FilePath:      file,
		AddedAt:       1,
	}}
	require.NoError(t, store.PersistQueue(context.Background(), items))
	require.NoError(t, store.PersistPlaybackSnapshot(context.Background(), model.PlaybackSnapshot{
		CurrentDescriptorID: id,
		CurrentFilePath:     file,
		Phase:               model.PhasePaused,
		StartedAtMs:         1_000,
		PausedAtMs:          13_000,
		SeekOffsetMs:        5_000,
		SongsPlayed:         4,
		Volume:              70,
	}))

	b := bus.New()
	q := queue.NewManager(b, store)
	pipe := download.NewPipeline(q, &okResolver{}, b, config.Default().Download)
	adapter := newFakeAdapter(b)
	writer := repository.NewSnapshotWriter(store, 10*time.Millisecond)
	t.Cleanup(writer.Close)

	orch := New(q, pipe, adapter, b, writer, 100)
	require.NoError(t, orch.Restore(context.Background(), store))

	st := orch.Status()
	assert.Equal(t, model.PhasePaused, st.Phase)
	require.NotNil(t, st.Current)
	assert.Equal(t, id, st.Current.Descriptor.ID)
	assert.Equal(t, int64(17_000), st.ElapsedMs) // 5s seek base + 12s played
	assert.Equal(t, int64(4), st.SongsPlayed)
	assert.Equal(t, 70, st.Volume)
	assert.Zero(t, adapter.callCount(), "no auto-play on boot")

	// resume starts a fresh play at the restored offset
	ctx, cancel := context.WithCancel(context.Background())
	go func() { _ = orch.Run(ctx) }()
	t.Cleanup(cancel)
	time.Sleep(10 * time.Millisecond)

	require.NoError(t, orch.Resume())
	require.Eventually(t, func() bool { return adapter.callCount() == 1 },
		2*time.Second, 5*time.Millisecond)
	assert.Equal(t, int64(17_000), adapter.call(0).offsetMs)
}

func TestRestoreMissingFileForcesPausedWithoutPointer(t *testing.T) {
	dir := t.TempDir()
	db, err := repository.Open(filepath.Join(dir, "jukebox.db"), repository.DefaultSQLiteConfig())
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	store, err := repository.NewSQLStore(db)
	require.NoError(t, err)

	uri := "https://example/ghost"
	id := model.DescriptorID(uri)
	require.NoError(t, store.PersistQueue(context.Background(), []model.QueueItem{{
		Descriptor:    model.TrackDescriptor{ID: id, SourceURI: uri, Title: "Ghost", Kind: model.KindRemote},
		Requester:     "tester",
		Priority:      model.PriorityNormal,
		DownloadState: model.DownloadReady,
		FilePath:      filepath.Join(dir, "missing.opus"),
		AddedAt:       1,
	}}))
	require.NoError(t, store.PersistPlaybackSnapshot(context.Background(), model.PlaybackSnapshot{
		CurrentDescriptorID: id,
		CurrentFilePath:     filepath.Join(dir, "missing.opus"),
		Phase:               model.PhasePlaying,
		Volume:              100,
	}))

	b := bus.New()
	q := queue.NewManager(b, store)
	pipe := download.NewPipeline(q, &okResolver{}, b, config.Default().Download)
	orch := New(q, pipe, newFakeAdapter(b), b, repository.NewSnapshotWriter(store, time.Hour), 100)
	require.NoError(t, orch.Restore(context.Background(), store))

	st := orch.Status()
	assert.Equal(t, model.PhasePaused, st.Phase)
	assert.Nil(t, st.Current)
	_, stillQueued := q.Get(id)
	assert.False(t, stillQueued)
}

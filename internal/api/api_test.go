package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/soundsuite/jukeboxd/internal/bus"
	"github.com/soundsuite/jukeboxd/internal/config"
	"github.com/soundsuite/jukeboxd/internal/download"
	"github.com/soundsuite/jukeboxd/internal/effects"
	"github.com/soundsuite/jukeboxd/internal/model"
	"github.com/soundsuite/jukeboxd/internal/orchestrator"
	"github.com/soundsuite/jukeboxd/internal/queue"
	"github.com/soundsuite/jukeboxd/internal/repository"
	"github.com/soundsuite/jukeboxd/internal/resolver"
)

type stubAdapter struct{ volume int }

func (a *stubAdapter) Play(ctx context.Context, _ model.TrackDescriptor, _ string, _ int64) (model.FinishReason, error) {
	<-ctx.Done()
	return model.ReasonStopped, nil
}
func (a *stubAdapter) Stop()                      {}
func (a *stubAdapter) Pause() error               { return nil }
func (a *stubAdapter) Resume() error              { return nil }
func (a *stubAdapter) Seek(int64) error           { return nil }
func (a *stubAdapter) Position() (int64, error)   { return 0, nil }
func (a *stubAdapter) SetVolume(v int) error      { a.volume = v; return nil }
func (a *stubAdapter) Volume() int                { return a.volume }
func (a *stubAdapter) UpdateFilters(string) error { return nil }
func (a *stubAdapter) IsPlaying() bool            { return false }
func (a *stubAdapter) Name() string               { return "stub" }

// stubResolver maps inputs to canned results.
type stubResolver struct {
	tracks     map[string]model.TrackDescriptor
	successors map[string][]model.TrackDescriptor
	errs       map[string]error
}

func (r *stubResolver) Resolve(_ context.Context, input string, rest resolver.PlaylistSink) (model.TrackDescriptor, error) {
	if err, ok := r.errs[input]; ok {
		return model.TrackDescriptor{}, err
	}
	if rest != nil {
		for _, d := range r.successors[input] {
			rest(d)
		}
	}
	return r.tracks[input], nil
}

func (r *stubResolver) FetchArtifact(_ context.Context, d model.TrackDescriptor, _ resolver.ProgressSink) (string, error) {
	return "/cache/" + d.ID + ".opus", nil
}

type env struct {
	srv   *Server
	queue *queue.Manager
	orch  *orchestrator.Orchestrator
	fx    *effects.Engine
	res   *stubResolver
}

func track(uri, title string) model.TrackDescriptor {
	return model.TrackDescriptor{
		ID:        model.DescriptorID(uri),
		SourceURI: uri,
		Title:     title,
		Artist:    "artist",
		Kind:      model.KindRemote,
	}
}

func newEnv(t *testing.T) *env {
	t.Helper()
	b := bus.New()
	db, err := repository.Open(filepath.Join(t.TempDir(), "jukebox.db"), repository.DefaultSQLiteConfig())
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	store, err := repository.NewSQLStore(db)
	require.NoError(t, err)

	res := &stubResolver{
		tracks:     map[string]model.TrackDescriptor{},
		successors: map[string][]model.TrackDescriptor{},
		errs:       map[string]error{},
	}

	q := queue.NewManager(b, store)
	pipe := download.NewPipeline(q, res, b, config.Default().Download)
	writer := repository.NewSnapshotWriter(store, 10*time.Millisecond)
	t.Cleanup(writer.Close)
	orch := orchestrator.New(q, pipe, &stubAdapter{volume: 100}, b, writer, 100)
	fx := effects.NewEngine(b)

	cfg := config.Default()
	cfg.AllowedOrigins = []string{"http://dashboard.local"}
	srv := New(cfg, q, orch, pipe, res, fx, nil)

	return &env{srv: srv, queue: q, orch: orch, fx: fx, res: res}
}

func do(t *testing.T, e *env, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	e.srv.Routes().ServeHTTP(rec, req)
	return rec
}

func TestHealthz(t *testing.T) {
	e := newEnv(t)
	rec := do(t, e, http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestQueueAddAndDuplicate(t *testing.T) {
	e := newEnv(t)
	e.res.tracks["https://y/track1"] = track("https://y/track1", "First Track")

	rec := do(t, e, http.MethodPost, "/api/queue/add", addRequest{URL: "https://y/track1", Requester: "alice"})
	require.Equal(t, http.StatusOK, rec.Code)

	var resp addResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "First Track", resp.Title)
	assert.Equal(t, 1, resp.QueueLength)

	rec = do(t, e, http.MethodPost, "/api/queue/add", addRequest{URL: "https://y/track1", Requester: "bob"})
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestQueueAddPlaylistEnqueuesSuccessors(t *testing.T) {
	e := newEnv(t)
	e.res.tracks["https://y/list"] = track("https://y/head", "Head")
	e.res.successors["https://y/list"] = []model.TrackDescriptor{
		track("https://y/s1", "S1"),
		track("https://y/s2", "S2"),
	}

	rec := do(t, e, http.MethodPost, "/api/queue/add", addRequest{URL: "https://y/list", Requester: "alice"})
	require.Equal(t, http.StatusOK, rec.Code)

	assert.Eventually(t, func() bool { return e.queue.Len() == 3 }, time.Second, 5*time.Millisecond)
	items := e.queue.Snapshot()
	assert.Equal(t, "Head", items[0].Descriptor.Title)
}

func TestQueueAddErrorsMapToStatus(t *testing.T) {
	e := newEnv(t)
	e.res.errs["garbage"] = model.ErrNotResolvable
	e.res.errs["blocked"] = model.ErrPermanentRejected
	e.res.errs["no-tool"] = model.ErrToolUnavailable

	assert.Equal(t, http.StatusBadRequest, do(t, e, http.MethodPost, "/api/queue/add", addRequest{URL: "garbage"}).Code)
	assert.Equal(t, http.StatusBadGateway, do(t, e, http.MethodPost, "/api/queue/add", addRequest{URL: "blocked"}).Code)
	assert.Equal(t, http.StatusServiceUnavailable, do(t, e, http.MethodPost, "/api/queue/add", addRequest{URL: "no-tool"}).Code)

	rec := do(t, e, http.MethodPost, "/api/queue/add", addRequest{URL: "https://y/x", Priority: "urgent"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestQueueRemoveValidation(t *testing.T) {
	e := newEnv(t)
	assert.Equal(t, http.StatusBadRequest, do(t, e, http.MethodPost, "/api/queue/remove/abc", nil).Code)
	assert.Equal(t, http.StatusBadRequest, do(t, e, http.MethodPost, "/api/queue/remove/5", nil).Code)

	require.NoError(t, e.queue.Add(model.QueueItem{Descriptor: track("https://y/a", "A"), Requester: "r", Priority: model.PriorityNormal}))
	rec := do(t, e, http.MethodPost, "/api/queue/remove/0", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 0, e.queue.Len())
}

func TestQueueReorderCrossClassRejected(t *testing.T) {
	e := newEnv(t)
	require.NoError(t, e.queue.Add(model.QueueItem{Descriptor: track("https://y/v", "V"), Requester: "r", Priority: model.PriorityVIP}))
	require.NoError(t, e.queue.Add(model.QueueItem{Descriptor: track("https://y/n", "N"), Requester: "r", Priority: model.PriorityNormal}))

	rec := do(t, e, http.MethodPost, "/api/queue/reorder", reorderRequest{From: 1, To: 0})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestQueueList(t *testing.T) {
	e := newEnv(t)
	require.NoError(t, e.queue.Add(model.QueueItem{Descriptor: track("https://y/a", "A"), Requester: "alice", Priority: model.PriorityNormal}))

	rec := do(t, e, http.MethodGet, "/api/queue/", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Queue []queueEntry `json:"queue"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Queue, 1)
	assert.Equal(t, "A", resp.Queue[0].Title)
	assert.Equal(t, "pending", resp.Queue[0].DownloadState)
}

func TestPlaybackControlsRequireState(t *testing.T) {
	e := newEnv(t)
	assert.Equal(t, http.StatusBadRequest, do(t, e, http.MethodPost, "/api/queue/pause", nil).Code)
	assert.Equal(t, http.StatusBadRequest, do(t, e, http.MethodPost, "/api/queue/resume", nil).Code)
	assert.Equal(t, http.StatusBadRequest, do(t, e, http.MethodPost, "/api/queue/skip", nil).Code)
	assert.Equal(t, http.StatusBadRequest, do(t, e, http.MethodPost, "/api/queue/seek", seekRequest{TimeMs: 1000}).Code)
}

func TestVolumeEndpoint(t *testing.T) {
	e := newEnv(t)
	rec := do(t, e, http.MethodPut, "/api/volume", volumeRequest{Volume: 55})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 55, e.orch.Status().Volume)

	assert.Equal(t, http.StatusBadRequest, do(t, e, http.MethodPut, "/api/volume", volumeRequest{Volume: 150}).Code)
}

func TestEffectsEndpoint(t *testing.T) {
	e := newEnv(t)
	rec := do(t, e, http.MethodPut, "/api/effects", effectsRequest{Chain: "bass=g=5"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "bass=g=5", e.fx.Chain())
}

func TestShuffleRepeatToggles(t *testing.T) {
	e := newEnv(t)
	require.Equal(t, http.StatusOK, do(t, e, http.MethodPost, "/api/queue/shuffle", toggleRequest{Enabled: true}).Code)
	require.Equal(t, http.StatusOK, do(t, e, http.MethodPost, "/api/queue/repeat", toggleRequest{Enabled: true}).Code)

	st := e.orch.Status()
	assert.True(t, st.Shuffle)
	assert.True(t, st.Repeat)
}

func TestNewSessionClearsQueue(t *testing.T) {
	e := newEnv(t)
	require.NoError(t, e.queue.Add(model.QueueItem{Descriptor: track("https://y/a", "A"), Requester: "r", Priority: model.PriorityNormal}))

	rec := do(t, e, http.MethodPost, "/api/queue/newsession", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 0, e.queue.Len())
}

func TestCORSPreflight(t *testing.T) {
	e := newEnv(t)
	req := httptest.NewRequest(http.MethodOptions, "/api/queue/skip", nil)
	req.Header.Set("Origin", "http://dashboard.local")
	rec := httptest.NewRecorder()
	e.srv.Routes().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "http://dashboard.local", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestCORSUnknownOriginNotEchoed(t *testing.T) {
	e := newEnv(t)
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("Origin", "http://evil.example")
	rec := httptest.NewRecorder()
	e.srv.Routes().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestRequestIDEchoed(t *testing.T) {
	e := newEnv(t)
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set(HeaderRequestID, "req-42")
	rec := httptest.NewRecorder()
	e.srv.Routes().ServeHTTP(rec, req)

	assert.Equal(t, "req-42", rec.Header().Get(HeaderRequestID))
}

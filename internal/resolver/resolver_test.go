package resolver

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/soundsuite/jukeboxd/internal/cache"
	"github.com/soundsuite/jukeboxd/internal/model"
)

func TestResolveRejectsEmptyInput(t *testing.T) {
	r := NewYtdlpResolver("yt-dlp", t.TempDir())
	_, err := r.Resolve(context.Background(), "   ", nil)
	assert.ErrorIs(t, err, model.ErrInvalidRequest)
}

func TestResolveLocalFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "song.opus")
	require.NoError(t, os.WriteFile(path, []byte("audio"), 0o644))

	r := NewYtdlpResolver("yt-dlp", dir)
	d, err := r.Resolve(context.Background(), path, nil)
	require.NoError(t, err)
	assert.Equal(t, model.KindLocalFile, d.Kind)
	assert.Equal(t, "song", d.Title)
	assert.Equal(t, model.DescriptorID("file://"+path), d.ID)
}

func TestResolveMissingBinaryMapsToToolUnavailable(t *testing.T) {
	r := NewYtdlpResolver(filepath.Join(t.TempDir(), "no-such-yt-dlp"), t.TempDir())
	_, err := r.Resolve(context.Background(), "https://example/watch?v=x", nil)
	assert.ErrorIs(t, err, model.ErrToolUnavailable)
}

func TestFetchArtifactLocalFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "song.opus")
	require.NoError(t, os.WriteFile(path, []byte("audio"), 0o644))

	r := NewYtdlpResolver("yt-dlp", dir)
	d := localFileDescriptor(path)

	var last Progress
	got, err := r.FetchArtifact(context.Background(), d, func(p Progress) { last = p })
	require.NoError(t, err)
	assert.Equal(t, path, got)
	assert.Equal(t, PhaseComplete, last.Phase)
}

func TestFetchArtifactLocalFileMissing(t *testing.T) {
	r := NewYtdlpResolver("yt-dlp", t.TempDir())
	d := model.TrackDescriptor{ID: "x", SourceURI: "/nope/song.opus", Kind: model.KindLocalFile}
	_, err := r.FetchArtifact(context.Background(), d, nil)
	assert.ErrorIs(t, err, model.ErrPermanentRejected)
}

func TestFetchArtifactShortCircuitsOnExistingArtifact(t *testing.T) {
	dir := t.TempDir()
	d := model.TrackDescriptor{ID: "abc123", SourceURI: "https://example/a", Kind: model.KindRemote}
	final := filepath.Join(dir, d.ID+".opus")
	require.NoError(t, os.WriteFile(final, []byte("cached audio"), 0o644))

	// binary path is bogus: a process spawn would fail loudly
	r := NewYtdlpResolver("/nonexistent/yt-dlp", dir)
	got, err := r.FetchArtifact(context.Background(), d, nil)
	require.NoError(t, err)
	assert.Equal(t, final, got)
}

func TestReportProgressParsesDownloadLines(t *testing.T) {
	var got []Progress
	sink := func(p Progress) { got = append(got, p) }

	reportProgress("[download]  42.3% of 3.52MiB at 1.21MiB/s ETA 00:02", sink)
	reportProgress("[download] Destination: /tmp/x.part.opus", sink)
	reportProgress("[ExtractAudio] Destination: /tmp/x.opus", sink)
	reportProgress("random noise", sink)

	require.Len(t, got, 2)
	assert.InDelta(t, 42.3, got[0].Percent, 0.01)
	assert.Equal(t, PhaseDownloading, got[0].Phase)
	assert.Equal(t, PhaseConverting, got[1].Phase)
}

func TestClassifyErrorTaxonomy(t *testing.T) {
	waitErr := errors.New("exit status 1")
	tests := []struct {
		stderr string
		want   error
	}{
		{"ERROR: Video unavailable", model.ErrPermanentRejected},
		{"ERROR: Private video. Sign in", model.ErrPermanentRejected},
		{"ERROR: Unsupported URL: ftp://x", model.ErrNotResolvable},
		{"'xyz' is not a valid URL", model.ErrNotResolvable},
		{"ERROR: unable to download webpage: timed out", model.ErrTransientNetwork},
		{"", model.ErrTransientNetwork},
	}
	for _, tt := range tests {
		assert.ErrorIs(t, classify(waitErr, tt.stderr), tt.want, "stderr=%q", tt.stderr)
	}
}

type stubResolver struct {
	resolveCalls int
	descriptor   model.TrackDescriptor
	err          error
}

func (s *stubResolver) Resolve(_ context.Context, _ string, _ PlaylistSink) (model.TrackDescriptor, error) {
	s.resolveCalls++
	return s.descriptor, s.err
}

func (s *stubResolver) FetchArtifact(_ context.Context, _ model.TrackDescriptor, _ ProgressSink) (string, error) {
	return "/tmp/x.opus", nil
}

func TestCachedResolverHitsCacheOnSecondResolve(t *testing.T) {
	uri := "https://example/watch?v=abc"
	stub := &stubResolver{descriptor: model.TrackDescriptor{
		ID:        model.DescriptorID(uri),
		SourceURI: uri,
		Title:     "Cached",
		Kind:      model.KindRemote,
	}}
	c := NewCachedResolver(stub, cache.NewMemoryCache(), time.Minute)

	first, err := c.Resolve(context.Background(), uri, nil)
	require.NoError(t, err)
	second, err := c.Resolve(context.Background(), uri, nil)
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, 1, stub.resolveCalls)
}

func TestCachedResolverSkipsSearchAndPlaylistInputs(t *testing.T) {
	stub := &stubResolver{descriptor: model.TrackDescriptor{
		ID: "x", SourceURI: "https://example/watch?v=x", Kind: model.KindRemote,
	}}
	c := NewCachedResolver(stub, cache.NewMemoryCache(), time.Minute)

	_, err := c.Resolve(context.Background(), "never gonna give you up", nil)
	require.NoError(t, err)
	_, err = c.Resolve(context.Background(), "never gonna give you up", nil)
	require.NoError(t, err)
	assert.Equal(t, 2, stub.resolveCalls, "search strings bypass the cache")

	stub.resolveCalls = 0
	_, err = c.Resolve(context.Background(), "https://example/playlist?list=PL123", nil)
	require.NoError(t, err)
	_, err = c.Resolve(context.Background(), "https://example/playlist?list=PL123", nil)
	require.NoError(t, err)
	assert.Equal(t, 2, stub.resolveCalls, "playlists bypass the cache")
}

func TestCachedResolverPropagatesErrors(t *testing.T) {
	stub := &stubResolver{err: model.ErrNotResolvable}
	c := NewCachedResolver(stub, cache.NewMemoryCache(), time.Minute)
	_, err := c.Resolve(context.Background(), "https://example/watch?v=x", nil)
	assert.ErrorIs(t, err, model.ErrNotResolvable)
}

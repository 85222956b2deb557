//go:build unix

package resolver

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/soundsuite/jukeboxd/internal/model"
)

// fakeYtdlp writes an executable shell script standing in for yt-dlp.
func fakeYtdlp(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "yt-dlp")
	script := "#!/bin/sh\n" + body + "\n"
	require.NoError(t, os.WriteFile(path, []byte(script), 0o755))
	return path
}

func TestFetchArtifactPromotesDownloadIntoCache(t *testing.T) {
	dir := t.TempDir()
	// the stub honors -o like the real tool and emits one progress line
	bin := fakeYtdlp(t, `out=""
while [ $# -gt 1 ]; do
  if [ "$1" = "-o" ]; then out="$2"; fi
  shift
done
echo "[download]  50.0% of 1.00MiB at 1.00MiB/s ETA 00:01"
printf 'opus-bytes' > "$out"`)

	r := NewYtdlpResolver(bin, dir)
	d := model.TrackDescriptor{ID: "vid42", SourceURI: "https://example/watch?v=42", Kind: model.KindRemote}

	var phases []Phase
	got, err := r.FetchArtifact(context.Background(), d, func(p Progress) { phases = append(phases, p.Phase) })
	require.NoError(t, err)

	final := filepath.Join(dir, d.ID+".opus")
	assert.Equal(t, final, got)
	data, err := os.ReadFile(final)
	require.NoError(t, err)
	assert.Equal(t, "opus-bytes", string(data))

	// no intermediate file survives the promotion
	leftovers, err := filepath.Glob(filepath.Join(dir, d.ID+".part.*"))
	require.NoError(t, err)
	assert.Empty(t, leftovers)
	require.NotEmpty(t, phases)
	assert.Equal(t, PhaseComplete, phases[len(phases)-1])
}

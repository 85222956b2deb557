// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package resolver

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/soundsuite/jukeboxd/internal/log"
	"github.com/soundsuite/jukeboxd/internal/model"
	"github.com/soundsuite/jukeboxd/internal/procgroup"
)

// YtdlpResolver resolves and downloads tracks by shelling out to yt-dlp.
type YtdlpResolver struct {
	BinPath  string // yt-dlp executable; defaults to "yt-dlp"
	CacheDir string // artifact destination directory
}

// NewYtdlpResolver returns a resolver writing artifacts under cacheDir.
func NewYtdlpResolver(binPath, cacheDir string) *YtdlpResolver {
	if binPath == "" {
		binPath = "yt-dlp"
	}
	return &YtdlpResolver{BinPath: binPath, CacheDir: cacheDir}
}

// ytdlpEntry is the subset of yt-dlp's --dump-json output we consume.
type ytdlpEntry struct {
	ID         string  `json:"id"`
	Title      string  `json:"title"`
	Uploader   string  `json:"uploader"`
	Channel    string  `json:"channel"`
	Artist     string  `json:"artist"`
	Duration   float64 `json:"duration"`
	WebpageURL string  `json:"webpage_url"`
	URL        string  `json:"url"`
	Thumbnail  string  `json:"thumbnail"`
}

// Resolve interprets input as a local file, a URL, or a search string.
// Playlist entries after the first stream through rest.
func (r *YtdlpResolver) Resolve(ctx context.Context, input string, rest PlaylistSink) (model.TrackDescriptor, error) {
	input = strings.TrimSpace(input)
	if input == "" {
		return model.TrackDescriptor{}, fmt.Errorf("%w: empty input", model.ErrInvalidRequest)
	}

	if fi, err := os.Stat(input); err == nil && !fi.IsDir() {
		return localFileDescriptor(input), nil
	}

	target := input
	if !strings.Contains(input, "://") {
		target = "ytsearch1:" + input
	}

	// #nosec G204 -- binary path is operator configuration, target is quoted by exec
	cmd := exec.CommandContext(ctx, r.BinPath, "--dump-json", "--no-warnings", "--flat-playlist", target)
	procgroup.Set(cmd)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return model.TrackDescriptor{}, fmt.Errorf("resolver: stdout pipe: %w", err)
	}
	var stderr strings.Builder
	cmd.Stderr = &stderr

	if err := cmd.Start(); err != nil {
		if errors.Is(err, exec.ErrNotFound) {
			return model.TrackDescriptor{}, fmt.Errorf("%w: %s", model.ErrToolUnavailable, r.BinPath)
		}
		return model.TrackDescriptor{}, fmt.Errorf("resolver: start: %w", err)
	}

	logger := log.WithComponent("resolver")
	var first *model.TrackDescriptor
	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var entry ytdlpEntry
		if err := json.Unmarshal([]byte(line), &entry); err != nil {
			logger.Warn().Err(err).Msg("skipping unparsable yt-dlp entry")
			continue
		}
		d := entry.descriptor()
		if first == nil {
			cp := d
			first = &cp
			continue
		}
		if rest != nil {
			rest(d)
		}
	}

	waitErr := cmd.Wait()
	if first == nil {
		if waitErr != nil {
			return model.TrackDescriptor{}, classify(waitErr, stderr.String())
		}
		return model.TrackDescriptor{}, fmt.Errorf("%w: %q produced no entries", model.ErrNotResolvable, input)
	}
	return *first, nil
}

// FetchArtifact downloads d into the cache dir and returns the final path.
// An existing non-empty artifact short-circuits.
func (r *YtdlpResolver) FetchArtifact(ctx context.Context, d model.TrackDescriptor, sink ProgressSink) (string, error) {
	if d.Kind == model.KindLocalFile {
		if fi, err := os.Stat(d.SourceURI); err != nil || fi.IsDir() {
			return "", fmt.Errorf("%w: local file %s missing", model.ErrPermanentRejected, d.SourceURI)
		}
		emit(sink, Progress{Percent: 100, Phase: PhaseComplete})
		return d.SourceURI, nil
	}

	finalPath := filepath.Join(r.CacheDir, d.ID+".opus")
	if fi, err := os.Stat(finalPath); err == nil && fi.Size() > 0 {
		emit(sink, Progress{Percent: 100, Phase: PhaseComplete})
		return finalPath, nil
	}

	if err := os.MkdirAll(r.CacheDir, 0o755); err != nil {
		return "", fmt.Errorf("resolver: cache dir: %w", err)
	}
	workPath := filepath.Join(r.CacheDir, d.ID+".part.opus")

	// #nosec G204 -- arguments are derived from validated descriptor fields
	cmd := exec.CommandContext(ctx, r.BinPath,
		"-f", "bestaudio/best",
		"-x", "--audio-format", "opus",
		"--no-playlist",
		"--newline",
		"-o", workPath,
		d.SourceURI,
	)
	procgroup.Set(cmd)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return "", fmt.Errorf("resolver: stdout pipe: %w", err)
	}
	var stderr strings.Builder
	cmd.Stderr = &stderr

	if err := cmd.Start(); err != nil {
		if errors.Is(err, exec.ErrNotFound) {
			return "", fmt.Errorf("%w: %s", model.ErrToolUnavailable, r.BinPath)
		}
		return "", fmt.Errorf("resolver: start: %w", err)
	}

	scanner := bufio.NewScanner(stdout)
	for scanner.Scan() {
		reportProgress(scanner.Text(), sink)
	}

	if err := cmd.Wait(); err != nil {
		_ = os.Remove(workPath)
		return "", classify(err, stderr.String())
	}

	// yt-dlp may write exactly workPath or substitute its own extension.
	src := workPath
	if _, err := os.Stat(src); err != nil {
		matches, _ := filepath.Glob(filepath.Join(r.CacheDir, d.ID+".part.*"))
		if len(matches) == 0 {
			return "", fmt.Errorf("%w: downloaded artifact not found", model.ErrTransientNetwork)
		}
		src = matches[0]
	}

	// same-directory rename: atomic, and the artifact never passes
	// through memory
	if err := os.Rename(src, finalPath); err != nil {
		return "", fmt.Errorf("resolver: promote artifact: %w", err)
	}

	emit(sink, Progress{Percent: 100, Phase: PhaseComplete})
	return finalPath, nil
}

func (e ytdlpEntry) descriptor() model.TrackDescriptor {
	source := e.WebpageURL
	if source == "" {
		source = e.URL
	}
	artist := e.Artist
	if artist == "" {
		artist = e.Uploader
	}
	channel := e.Channel
	if channel == "" {
		channel = e.Uploader
	}
	return model.TrackDescriptor{
		ID:           model.DescriptorID(source),
		SourceURI:    source,
		Title:        e.Title,
		Artist:       artist,
		Channel:      channel,
		DurationMs:   int64(e.Duration * 1000),
		ThumbnailURI: e.Thumbnail,
		Kind:         model.KindRemote,
	}
}

func localFileDescriptor(path string) model.TrackDescriptor {
	abs, err := filepath.Abs(path)
	if err != nil {
		abs = path
	}
	name := strings.TrimSuffix(filepath.Base(abs), filepath.Ext(abs))
	return model.TrackDescriptor{
		ID:        model.DescriptorID("file://" + abs),
		SourceURI: abs,
		Title:     name,
		Kind:      model.KindLocalFile,
	}
}

func emit(sink ProgressSink, p Progress) {
	if sink != nil {
		sink(p)
	}
}

// reportProgress parses yt-dlp --newline output such as
// "[download]  42.3% of 3.52MiB at 1.21MiB/s ETA 00:02".
func reportProgress(line string, sink ProgressSink) {
	if sink == nil {
		return
	}
	line = strings.TrimSpace(line)
	switch {
	case strings.HasPrefix(line, "[download]"):
		fields := strings.Fields(line)
		if len(fields) < 2 || !strings.HasSuffix(fields[1], "%") {
			return
		}
		pct, err := strconv.ParseFloat(strings.TrimSuffix(fields[1], "%"), 64)
		if err != nil {
			return
		}
		sink(Progress{Percent: pct, Phase: PhaseDownloading})
	case strings.HasPrefix(line, "[ExtractAudio]"):
		sink(Progress{Percent: 100, Phase: PhaseConverting})
	}
}

// classify maps a yt-dlp failure onto the shared error taxonomy using the
// captured stderr.
func classify(waitErr error, stderr string) error {
	lower := strings.ToLower(stderr)
	switch {
	case strings.Contains(lower, "video unavailable"),
		strings.Contains(lower, "private video"),
		strings.Contains(lower, "this video is not available"),
		strings.Contains(lower, "blocked"),
		strings.Contains(lower, "removed"),
		strings.Contains(lower, "copyright"):
		return fmt.Errorf("%w: %s", model.ErrPermanentRejected, firstLine(stderr))
	case strings.Contains(lower, "unsupported url"),
		strings.Contains(lower, "is not a valid url"),
		strings.Contains(lower, "no video results"):
		return fmt.Errorf("%w: %s", model.ErrNotResolvable, firstLine(stderr))
	case strings.Contains(lower, "executable file not found"):
		return fmt.Errorf("%w: %s", model.ErrToolUnavailable, firstLine(stderr))
	}
	var exitErr *exec.ExitError
	if errors.As(waitErr, &exitErr) {
		return fmt.Errorf("%w: yt-dlp exit %d: %s", model.ErrTransientNetwork, exitErr.ExitCode(), firstLine(stderr))
	}
	return fmt.Errorf("%w: %v", model.ErrTransientNetwork, waitErr)
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	if len(s) > 200 {
		s = s[:200]
	}
	return s
}

// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package effects

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/soundsuite/jukeboxd/internal/log"
)

// WatchPreset hot-reloads the filter chain from an operator-managed
// preset file. The file holds a single filter chain line; comment lines
// starting with '#' are ignored. Editors replace files via rename, so the
// watch covers the parent directory, not the file itself.
func (e *Engine) WatchPreset(ctx context.Context, presetPath string) error {
	if chain, err := readPreset(presetPath); err == nil {
		e.Set(chain)
	} else if !os.IsNotExist(err) {
		return err
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("effects: watcher: %w", err)
	}
	defer func() { _ = watcher.Close() }()

	dir := filepath.Dir(presetPath)
	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("effects: watch %s: %w", dir, err)
	}

	logger := log.WithComponent("effects")
	logger.Info().Str(log.FieldPath, presetPath).Msg("watching filter preset")

	// editors fire several events per save; coalesce before reloading
	var reload <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != filepath.Clean(presetPath) {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			reload = time.After(100 * time.Millisecond)

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.Warn().Err(err).Msg("preset watcher error")

		case <-reload:
			reload = nil
			chain, err := readPreset(presetPath)
			if err != nil {
				if !os.IsNotExist(err) {
					logger.Warn().Err(err).Msg("preset reload failed")
				}
				continue
			}
			e.Set(chain)
		}
	}
}

func readPreset(path string) (string, error) {
	raw, err := os.ReadFile(path) // #nosec G304 -- operator-supplied path
	if err != nil {
		return "", err
	}
	for _, line := range strings.Split(string(raw), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		return line, nil
	}
	return "", nil
}

// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package download runs the artifact prefetch pipeline: it watches the
// queue, keeps the next few tracks materialized on disk ahead of
// playback, and serves foreground fetches when playback reaches a track
// that is not ready yet.
package download

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"github.com/soundsuite/jukeboxd/internal/bus"
	"github.com/soundsuite/jukeboxd/internal/config"
	"github.com/soundsuite/jukeboxd/internal/log"
	"github.com/soundsuite/jukeboxd/internal/metrics"
	"github.com/soundsuite/jukeboxd/internal/model"
	"github.com/soundsuite/jukeboxd/internal/queue"
	"github.com/soundsuite/jukeboxd/internal/resolver"
)

// Pipeline prefetches queue artifacts. A single flight group guarantees
// at most one fetch per descriptor regardless of how many callers ask.
type Pipeline struct {
	queue  *queue.Manager
	res    resolver.Resolver
	cfg    config.DownloadConfig
	logger zerolog.Logger

	group singleflight.Group
	slots chan struct{}
	kick  chan struct{}

	mu   sync.Mutex
	subs []*bus.Subscription
	done chan struct{}
}

// NewPipeline wires the pipeline to the queue and resolver.
func NewPipeline(q *queue.Manager, res resolver.Resolver, b *bus.Bus, cfg config.DownloadConfig) *Pipeline {
	p := &Pipeline{
		queue:  q,
		res:    res,
		cfg:    cfg,
		logger: log.WithComponent("download"),
		slots:  make(chan struct{}, cfg.Slots),
		kick:   make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
	p.subs = b.SubscribeAll(
		[]model.Topic{model.TopicQueueItemAdded, model.TopicQueueUpdated},
		func(model.Topic, any) { p.Kick() },
	)
	return p
}

// Kick schedules a prefetch scan. Non-blocking; redundant kicks coalesce.
func (p *Pipeline) Kick() {
	select {
	case p.kick <- struct{}{}:
	default:
	}
}

// Run drives the prefetch loop until ctx is cancelled.
func (p *Pipeline) Run(ctx context.Context) error {
	defer close(p.done)
	defer func() {
		for _, s := range p.subs {
			s.Unsubscribe()
		}
	}()

	p.Kick()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-p.kick:
			p.scan(ctx)
		}
	}
}

// scan walks the queue head and starts background fetches for the first
// LookAhead+1 tracks that are still pending, slot capacity permitting.
func (p *Pipeline) scan(ctx context.Context) {
	if p.cfg.LookAhead < 0 {
		return
	}
	limit := p.cfg.LookAhead + 1 // head is always eligible
	for _, item := range p.queue.Snapshot() {
		if limit == 0 {
			return
		}
		limit--
		if item.DownloadState != model.DownloadPending {
			continue
		}
		select {
		case p.slots <- struct{}{}:
		default:
			return // all slots busy, the next queue event re-kicks
		}
		id := item.Descriptor.ID
		go func() {
			defer func() { <-p.slots }()
			if _, err := p.fetch(ctx, id); err != nil && !errors.Is(err, context.Canceled) {
				p.logger.Warn().Err(err).Str(log.FieldTrackID, id).Msg("prefetch failed")
			}
			p.Kick()
		}()
	}
}

// EnsureReady blocks until the item's artifact is on disk, fetching it in
// the foreground if needed. It joins an in-flight background fetch rather
// than starting a second one.
func (p *Pipeline) EnsureReady(ctx context.Context, id string) (string, error) {
	item, ok := p.queue.Get(id)
	if !ok {
		return "", fmt.Errorf("download: %w: unknown item %s", model.ErrInvalidRequest, id)
	}
	switch item.DownloadState {
	case model.DownloadReady:
		return item.FilePath, nil
	case model.DownloadFailed:
		return "", fmt.Errorf("download: %w: %s", model.ErrPermanentRejected, item.FailReason)
	}
	return p.fetch(ctx, id)
}

// fetch is the single-flight entry point for one descriptor.
func (p *Pipeline) fetch(ctx context.Context, id string) (string, error) {
	path, err, _ := p.group.Do(id, func() (any, error) {
		return p.fetchLocked(ctx, id)
	})
	if err != nil {
		return "", err
	}
	return path.(string), nil
}

func (p *Pipeline) fetchLocked(ctx context.Context, id string) (string, error) {
	item, ok := p.queue.Get(id)
	if !ok {
		return "", fmt.Errorf("download: %w: item %s left the queue", model.ErrInvalidRequest, id)
	}
	if item.DownloadState == model.DownloadReady {
		return item.FilePath, nil
	}
	if item.DownloadState == model.DownloadFailed {
		return "", fmt.Errorf("download: %w: %s", model.ErrPermanentRejected, item.FailReason)
	}
	p.queue.MarkInflight(id)

	metrics.DownloadsInflight.Inc()
	defer metrics.DownloadsInflight.Dec()

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = p.cfg.RetryBase
	bo.Multiplier = p.cfg.RetryFactor
	bo.MaxInterval = p.cfg.RetryCap

	path, err := backoff.Retry(ctx, func() (string, error) {
		path, err := p.res.FetchArtifact(ctx, item.Descriptor, nil)
		if err != nil && !model.Retryable(err) {
			return "", backoff.Permanent(err)
		}
		return path, err
	},
		backoff.WithBackOff(bo),
		backoff.WithMaxTries(uint(p.cfg.RetryMax)), // #nosec G115 -- validated >= 1
		backoff.WithNotify(func(err error, next time.Duration) {
			metrics.DownloadRetryTotal.Inc()
			p.logger.Warn().Err(err).
				Str(log.FieldTrackID, id).
				Dur("next_attempt_in", next).
				Msg("transient download failure, retrying")
		}),
	)
	if err != nil {
		p.queue.MarkFailed(id, err.Error())
		metrics.DownloadTotal.WithLabelValues("failed").Inc()
		return "", err
	}

	p.queue.MarkReady(id, path)
	metrics.DownloadTotal.WithLabelValues("ready").Inc()
	p.logger.Info().Str(log.FieldTrackID, id).Str(log.FieldPath, path).Msg("artifact ready")
	return path, nil
}

// Done is closed when Run has returned and all subscriptions are released.
func (p *Pipeline) Done() <-chan struct{} {
	return p.done
}

// Sweep removes cache artifacts that no queue item references. Partial
// downloads are always removed. Called once at startup before the
// pipeline runs.
func Sweep(cacheDir string, protected map[string]struct{}) (int, error) {
	entries, err := os.ReadDir(cacheDir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return 0, nil
		}
		return 0, fmt.Errorf("download: sweep read dir: %w", err)
	}

	logger := log.WithComponent("download")
	removed := 0
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		path := filepath.Join(cacheDir, e.Name())
		if _, keep := protected[path]; keep {
			continue
		}
		if err := os.Remove(path); err != nil {
			logger.Warn().Err(err).Str(log.FieldPath, path).Msg("sweep could not remove artifact")
			continue
		}
		removed++
	}
	if removed > 0 {
		logger.Info().Int("removed", removed).Str(log.FieldPath, cacheDir).Msg("swept stale cache artifacts")
	}
	return removed, nil
}

// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// jukeboxd is the single-host music playback daemon: it resolves requests
// to audio artifacts, schedules them in a priority queue and plays them
// through mpv or ffplay while streaming status to clients over SSE.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/soundsuite/jukeboxd/internal/api"
	"github.com/soundsuite/jukeboxd/internal/bus"
	"github.com/soundsuite/jukeboxd/internal/cache"
	"github.com/soundsuite/jukeboxd/internal/config"
	"github.com/soundsuite/jukeboxd/internal/download"
	"github.com/soundsuite/jukeboxd/internal/effects"
	"github.com/soundsuite/jukeboxd/internal/log"
	"github.com/soundsuite/jukeboxd/internal/orchestrator"
	"github.com/soundsuite/jukeboxd/internal/player"
	"github.com/soundsuite/jukeboxd/internal/queue"
	"github.com/soundsuite/jukeboxd/internal/repository"
	"github.com/soundsuite/jukeboxd/internal/resolver"
	"github.com/soundsuite/jukeboxd/internal/sse"
)

var (
	version   = "v1.0.0"
	commit    = "none"
	buildDate = "unknown"
)

const shutdownTimeout = 5 * time.Second

func main() {
	showVersion := flag.Bool("version", false, "print version and exit")
	configPath := flag.String("config", "", "path to config file (YAML)")
	flag.Parse()

	if *showVersion {
		fmt.Printf("%s (commit: %s, built: %s)\n", version, commit, buildDate)
		os.Exit(0)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	log.Configure(log.Config{
		Level:   cfg.LogLevel,
		Service: "jukeboxd",
	})
	logger := log.WithComponent("daemon")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil && !errors.Is(err, context.Canceled) {
		logger.Fatal().Err(err).Str(log.FieldEvent, "daemon.failed").Msg("daemon exited with error")
	}
	logger.Info().Str(log.FieldEvent, "daemon.stopped").Msg("shutdown complete")
}

func run(ctx context.Context, cfg config.Config, logger zerolog.Logger) error {
	for _, dir := range []string{cfg.DataDir, cfg.CacheDir} {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return fmt.Errorf("create %s: %w", dir, err)
		}
	}

	db, err := repository.Open(filepath.Join(cfg.DataDir, "jukebox.db"), repository.DefaultSQLiteConfig())
	if err != nil {
		return err
	}
	defer func() { _ = db.Close() }()

	store, err := repository.NewSQLStore(db)
	if err != nil {
		return err
	}

	b := bus.New()
	q := queue.NewManager(b, store)

	meta := buildMetadataCache(cfg, logger)
	res := resolver.NewCachedResolver(
		resolver.NewYtdlpResolver(cfg.Resolver.YtdlpPath, cfg.CacheDir),
		meta,
		cfg.Resolver.CacheTTL,
	)
	pipeline := download.NewPipeline(q, res, b, cfg.Download)

	adapter, err := player.New(cfg.Player, b)
	if err != nil {
		return err
	}
	logger.Info().Str(log.FieldBackend, adapter.Name()).Msg("player backend selected")

	writer := repository.NewSnapshotWriter(store, cfg.Persist.SnapshotDebounce)
	defer writer.Close()

	orch := orchestrator.New(q, pipeline, adapter, b, writer, cfg.Player.Volume)
	if err := orch.Restore(ctx, store); err != nil {
		return err
	}

	if cfg.Download.SweepOnStart {
		removed, err := download.Sweep(cfg.CacheDir, q.ProtectedFiles())
		if err != nil {
			logger.Warn().Err(err).Msg("cache sweep failed")
		} else if removed > 0 {
			logger.Info().Int("removed", removed).Msg("swept orphaned cache artifacts")
		}
	}

	fx := effects.NewEngine(b)
	broadcaster := sse.NewBroadcaster(b, orch, q, cfg.SSE)
	srv := api.New(cfg, q, orch, pipeline, res, fx, broadcaster)

	httpServer := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           srv.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return orch.Run(gctx) })
	g.Go(func() error { return pipeline.Run(gctx) })
	g.Go(func() error { return broadcaster.Run(gctx) })
	if cfg.Effects.PresetPath != "" {
		g.Go(func() error { return fx.WatchPreset(gctx, cfg.Effects.PresetPath) })
	}
	g.Go(func() error {
		logger.Info().Str("addr", cfg.ListenAddr).Str("version", version).Msg("http server listening")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// buildMetadataCache selects the resolver metadata cache: Redis when an
// address is configured, otherwise in-process memory.
func buildMetadataCache(cfg config.Config, logger zerolog.Logger) cache.MetadataCache {
	if cfg.Resolver.RedisAddr == "" {
		return cache.NewMemoryCache()
	}
	rc, err := cache.NewRedisCache(cache.RedisConfig{Addr: cfg.Resolver.RedisAddr}, log.WithComponent("cache"))
	if err != nil {
		logger.Warn().Err(err).Str("addr", cfg.Resolver.RedisAddr).
			Msg("redis unreachable, falling back to memory cache")
		return cache.NewMemoryCache()
	}
	return rc
}

// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package api exposes the HTTP control surface: queue mutation, playback
// control, settings and the SSE status stream.
package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/soundsuite/jukeboxd/internal/config"
	"github.com/soundsuite/jukeboxd/internal/download"
	"github.com/soundsuite/jukeboxd/internal/effects"
	"github.com/soundsuite/jukeboxd/internal/log"
	"github.com/soundsuite/jukeboxd/internal/orchestrator"
	"github.com/soundsuite/jukeboxd/internal/queue"
	"github.com/soundsuite/jukeboxd/internal/resolver"
)

// Server carries the handler dependencies. It holds no request state.
type Server struct {
	cfg      config.Config
	queue    *queue.Manager
	orch     *orchestrator.Orchestrator
	pipeline *download.Pipeline
	resolver resolver.Resolver
	effects  *effects.Engine
	stream   http.Handler
	logger   zerolog.Logger
}

// New wires the control surface. stream serves GET /api/status/stream.
func New(cfg config.Config, q *queue.Manager, orch *orchestrator.Orchestrator, p *download.Pipeline, res resolver.Resolver, fx *effects.Engine, stream http.Handler) *Server {
	return &Server{
		cfg:      cfg,
		queue:    q,
		orch:     orch,
		pipeline: p,
		resolver: res,
		effects:  fx,
		stream:   stream,
		logger:   log.WithComponent("api"),
	}
}

// Routes builds the chi router with the canonical middleware stack.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(Recoverer)
	r.Use(RequestID)
	r.Use(CORS(s.cfg.AllowedOrigins))
	if s.cfg.TracingEnabled {
		r.Use(Tracing("jukeboxd-api"))
	}
	r.Use(RequestLogger(s.logger))

	r.Get("/healthz", s.handleHealthz)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Route("/queue", func(r chi.Router) {
			r.Get("/", s.handleQueueList)
			r.Post("/add", s.handleQueueAdd)
			r.Post("/remove/{index}", s.handleQueueRemove)
			r.Post("/reorder", s.handleQueueReorder)
			r.Post("/prefetch", s.handleQueuePrefetch)
			r.Post("/pause", s.handlePause)
			r.Post("/resume", s.handleResume)
			r.Post("/skip", s.handleSkip)
			r.Post("/seek", s.handleSeek)
			r.Post("/newsession", s.handleNewSession)
			r.Post("/shuffle", s.handleShuffle)
			r.Post("/repeat", s.handleRepeat)
		})

		r.Put("/volume", s.handleVolume)
		r.Put("/effects", s.handleEffects)

		if s.stream != nil {
			r.Handle("/status/stream", s.stream)
		}
	})

	return r
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

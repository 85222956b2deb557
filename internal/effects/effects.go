// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package effects holds the opaque audio filter chain and propagates
// changes to the active player backend via the event bus.
package effects

import (
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"github.com/soundsuite/jukeboxd/internal/bus"
	"github.com/soundsuite/jukeboxd/internal/log"
	"github.com/soundsuite/jukeboxd/internal/model"
)

// Engine is the single source of truth for the current filter chain.
// The chain is an opaque backend filter expression; the engine validates
// nothing beyond trimming whitespace.
type Engine struct {
	bus    *bus.Bus
	logger zerolog.Logger

	mu    sync.RWMutex
	chain string
}

// NewEngine returns an engine with an empty chain.
func NewEngine(b *bus.Bus) *Engine {
	return &Engine{bus: b, logger: log.WithComponent("effects")}
}

// Chain returns the current filter chain ("" = no effects).
func (e *Engine) Chain() string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.chain
}

// Set replaces the chain and publishes EFFECTS_CHANGED. Setting the
// already-active chain is a no-op.
func (e *Engine) Set(chain string) {
	chain = strings.TrimSpace(chain)
	e.mu.Lock()
	if chain == e.chain {
		e.mu.Unlock()
		return
	}
	e.chain = chain
	e.mu.Unlock()

	e.logger.Info().Str("filter_chain", chain).Msg("filter chain changed")
	e.bus.Publish(model.TopicEffectsChanged, model.EffectsChangedEvent{FilterChain: chain})
}

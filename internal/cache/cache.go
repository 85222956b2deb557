// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package cache stores resolved track metadata keyed by canonical source
// URI so repeated adds of the same track skip the resolver round-trip.
package cache

import (
	"context"
	"sync"
	"time"

	"github.com/soundsuite/jukeboxd/internal/model"
)

// MetadataCache is a TTL cache for resolved track descriptors.
// A miss never fails the caller: resolution simply proceeds uncached.
type MetadataCache interface {
	// Get returns the cached descriptor for the canonical URI, if present.
	Get(ctx context.Context, sourceURI string) (*model.TrackDescriptor, bool)
	// Put stores the descriptor under its canonical URI for ttl.
	Put(ctx context.Context, d model.TrackDescriptor, ttl time.Duration)
	// Delete drops a cached descriptor.
	Delete(ctx context.Context, sourceURI string)
}

type memoryEntry struct {
	descriptor model.TrackDescriptor
	expiration time.Time
}

func (e memoryEntry) expired() bool {
	return time.Now().After(e.expiration)
}

// MemoryCache is the in-process fallback when no Redis address is
// configured.
type MemoryCache struct {
	mu      sync.RWMutex
	entries map[string]memoryEntry
}

// NewMemoryCache returns an empty in-process metadata cache.
func NewMemoryCache() *MemoryCache {
	return &MemoryCache{entries: make(map[string]memoryEntry)}
}

func (c *MemoryCache) Get(_ context.Context, sourceURI string) (*model.TrackDescriptor, bool) {
	c.mu.RLock()
	e, ok := c.entries[sourceURI]
	c.mu.RUnlock()
	if !ok || e.expired() {
		return nil, false
	}
	d := e.descriptor
	return &d, true
}

func (c *MemoryCache) Put(_ context.Context, d model.TrackDescriptor, ttl time.Duration) {
	if ttl <= 0 {
		return
	}
	c.mu.Lock()
	c.entries[d.SourceURI] = memoryEntry{descriptor: d, expiration: time.Now().Add(ttl)}
	c.mu.Unlock()
}

func (c *MemoryCache) Delete(_ context.Context, sourceURI string) {
	c.mu.Lock()
	delete(c.entries, sourceURI)
	c.mu.Unlock()
}

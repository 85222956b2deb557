// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package resolver

import (
	"context"
	"strings"
	"time"

	"github.com/soundsuite/jukeboxd/internal/cache"
	"github.com/soundsuite/jukeboxd/internal/model"
)

// CachedResolver consults a metadata cache before delegating to the
// wrapped resolver. Only single-track URL inputs are cacheable: search
// strings and playlists always go through.
type CachedResolver struct {
	inner Resolver
	meta  cache.MetadataCache
	ttl   time.Duration
}

// NewCachedResolver wraps inner with a metadata cache.
func NewCachedResolver(inner Resolver, meta cache.MetadataCache, ttl time.Duration) *CachedResolver {
	return &CachedResolver{inner: inner, meta: meta, ttl: ttl}
}

func (c *CachedResolver) Resolve(ctx context.Context, input string, rest PlaylistSink) (model.TrackDescriptor, error) {
	key := strings.TrimSpace(input)
	if cacheable(key) {
		if d, ok := c.meta.Get(ctx, key); ok {
			return *d, nil
		}
	}

	d, err := c.inner.Resolve(ctx, input, rest)
	if err != nil {
		return model.TrackDescriptor{}, err
	}
	if cacheable(key) && d.SourceURI == key {
		c.meta.Put(ctx, d, c.ttl)
	}
	return d, nil
}

func (c *CachedResolver) FetchArtifact(ctx context.Context, d model.TrackDescriptor, sink ProgressSink) (string, error) {
	return c.inner.FetchArtifact(ctx, d, sink)
}

// cacheable reports whether the input is a plain URL whose resolution is
// stable enough to cache. Playlist URLs expand differently per call, so
// they are excluded.
func cacheable(input string) bool {
	if !strings.Contains(input, "://") {
		return false
	}
	lower := strings.ToLower(input)
	return !strings.Contains(lower, "list=") && !strings.Contains(lower, "/playlist")
}

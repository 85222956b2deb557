// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package resolver turns operator input (URLs, search strings, playlist
// references) into track descriptors and materializes descriptors into
// local audio files.
package resolver

import (
	"context"

	"github.com/soundsuite/jukeboxd/internal/model"
)

// Progress reports artifact fetch advancement to interested observers.
type Progress struct {
	Percent float64 // 0-100
	Phase   Phase
}

// Phase is the coarse fetch stage.
type Phase string

const (
	PhaseDownloading Phase = "downloading"
	PhaseConverting  Phase = "converting"
	PhaseComplete    Phase = "complete"
)

// ProgressSink receives fetch progress. May be nil.
type ProgressSink func(Progress)

// PlaylistSink receives successor descriptors when the input names a
// playlist. Each yielded descriptor is an independent add. May be nil, in
// which case successors are discarded.
type PlaylistSink func(model.TrackDescriptor)

// Resolver is the external collaborator contract the core consumes.
//
// Failures are classified through the model taxonomy: ErrNotResolvable,
// ErrTransientNetwork, ErrPermanentRejected, ErrToolUnavailable.
type Resolver interface {
	// Resolve interprets input and returns the (first) descriptor.
	// Playlist successors stream through rest.
	Resolve(ctx context.Context, input string, rest PlaylistSink) (model.TrackDescriptor, error)

	// FetchArtifact downloads the descriptor's audio and returns the local
	// file path. Idempotent: an existing artifact that passes the integrity
	// check returns immediately.
	FetchArtifact(ctx context.Context, d model.TrackDescriptor, sink ProgressSink) (string, error)
}

// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package log

// Canonical field name constants for structured logging.
const (
	// Identity fields
	FieldRequestID = "request_id"
	FieldTrackID   = "track_id"
	FieldRequester = "requester"
	FieldClientID  = "client_id"

	// Process / pipeline fields
	FieldEvent     = "event"
	FieldComponent = "component"
	FieldBackend   = "backend"
	FieldReason    = "reason"

	// Playback fields
	FieldTitle    = "title"
	FieldArtist   = "artist"
	FieldPhase    = "phase"
	FieldOffsetMs = "offset_ms"
	FieldVolume   = "volume"

	// State fields
	FieldOldState = "old_state"
	FieldNewState = "new_state"

	// Path / URL fields
	FieldPath      = "path"
	FieldSourceURI = "source_uri"
	FieldSocket    = "socket"

	// Queue fields
	FieldQueueLen = "queue_len"
	FieldPriority = "priority"
	FieldIndex    = "index"
)

// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package model

import "errors"

// Error taxonomy surfaced across component boundaries. Low-level errors are
// wrapped into one of these kinds before they cross a package boundary.
var (
	// ErrDuplicateRequest trips on queue dedup. Surfaced as HTTP 409.
	ErrDuplicateRequest = errors.New("duplicate request")

	// ErrInvalidRequest covers malformed input: bad URL, bad indices,
	// out-of-range volume. Surfaced as HTTP 400.
	ErrInvalidRequest = errors.New("invalid request")

	// ErrNotResolvable means the resolver could not interpret the input.
	ErrNotResolvable = errors.New("not resolvable")

	// ErrTransientNetwork is retried per the download policy and surfaces
	// only after retries exhaust.
	ErrTransientNetwork = errors.New("transient network failure")

	// ErrPermanentRejected marks content that is unavailable, geo-blocked
	// or removed. Never retried.
	ErrPermanentRejected = errors.New("permanently rejected")

	// ErrToolUnavailable means an external helper binary is missing.
	ErrToolUnavailable = errors.New("tool unavailable")

	// ErrBackendUnavailable means no player backend executable was found.
	// Fatal at startup.
	ErrBackendUnavailable = errors.New("no player backend available")

	// ErrIpcTimeout is an adapter-local request timeout.
	ErrIpcTimeout = errors.New("ipc request timeout")

	// ErrIpcDisconnect is an adapter-local connection loss.
	ErrIpcDisconnect = errors.New("ipc disconnected")

	// ErrPersistence wraps repository write failures. In-memory state stays
	// authoritative; subsequent writes retry.
	ErrPersistence = errors.New("persistence error")

	// ErrOutOfRange rejects index-based operations on stale indices.
	ErrOutOfRange = errors.New("index out of range")

	// ErrInvalidMove rejects reorders that would cross priority classes.
	ErrInvalidMove = errors.New("invalid move")
)

// Retryable reports whether a fetch failure should re-enter the backoff loop.
func Retryable(err error) bool {
	switch {
	case errors.Is(err, ErrPermanentRejected),
		errors.Is(err, ErrToolUnavailable),
		errors.Is(err, ErrNotResolvable),
		errors.Is(err, ErrInvalidRequest):
		return false
	}
	return true
}

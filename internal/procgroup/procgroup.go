// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package procgroup spawns player subprocesses in their own process group
// and reaps the whole group on shutdown so no orphaned audio pipelines
// survive a backend restart.
package procgroup

import "errors"

var (
	ErrProcessNotFound = errors.New("process not found")
	ErrKillFailed      = errors.New("kill operation failed")
)

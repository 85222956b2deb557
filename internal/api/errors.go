// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/soundsuite/jukeboxd/internal/model"
)

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// statusFor maps the domain error taxonomy onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, model.ErrDuplicateRequest):
		return http.StatusConflict
	case errors.Is(err, model.ErrInvalidRequest),
		errors.Is(err, model.ErrOutOfRange),
		errors.Is(err, model.ErrInvalidMove),
		errors.Is(err, model.ErrNotResolvable):
		return http.StatusBadRequest
	case errors.Is(err, model.ErrPermanentRejected),
		errors.Is(err, model.ErrTransientNetwork):
		return http.StatusBadGateway
	case errors.Is(err, model.ErrToolUnavailable),
		errors.Is(err, model.ErrBackendUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, err error) {
	writeJSON(w, statusFor(err), map[string]string{"error": err.Error()})
}

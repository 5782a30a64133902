// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package api

import (
	"encoding/json"
	"net/http"

	"github.com/ManuGH/watchrelay/internal/log"
)

// Error codes returned in JSON error bodies.
const (
	CodeInvalidPayload = "invalid_payload"
	CodeBodyTooLarge   = "body_too_large"
	CodeUnavailable    = "unavailable"
	CodeInternal       = "internal_error"
	CodeNotFound       = "not_found"
	CodeMethod         = "method_not_allowed"
)

// ErrorResponse is the JSON body of every API error.
type ErrorResponse struct {
	Error     string `json:"error"`
	Detail    string `json:"detail,omitempty"`
	RequestID string `json:"requestId,omitempty"`
}

func writeJSON(w http.ResponseWriter, r *http.Request, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger := log.WithComponentFromContext(r.Context(), "api")
		logger.Debug().Err(err).Msg("failed to write response")
	}
}

func writeError(w http.ResponseWriter, r *http.Request, status int, code, detail string) {
	writeJSON(w, r, status, ErrorResponse{
		Error:     code,
		Detail:    detail,
		RequestID: log.RequestIDFromContext(r.Context()),
	})
}

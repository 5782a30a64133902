// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime"
	"net/http"

	"github.com/ManuGH/watchrelay/internal/host"
	"github.com/ManuGH/watchrelay/internal/log"
	"github.com/ManuGH/watchrelay/internal/relay"
)

// ShowConfigurationResponse is returned by the show-configuration event.
type ShowConfigurationResponse struct {
	URL string `json:"url"`
}

// WebviewClosedRequest is the JSON form of a webviewclosed body.
type WebviewClosedRequest struct {
	Response *string `json:"response"`
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if !s.dispatch(w, r, host.Event{Name: relay.EventReady}) {
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleShowConfiguration(w http.ResponseWriter, r *http.Request) {
	if !s.dispatch(w, r, host.Event{Name: relay.EventShowConfiguration}) {
		return
	}
	url := s.deps.Relay.ConfigurationURL()
	if r.URL.Query().Get("redirect") == "1" {
		http.Redirect(w, r, url, http.StatusFound)
		return
	}
	writeJSON(w, r, http.StatusOK, ShowConfigurationResponse{URL: url})
}

func (s *Server) handleWebviewClosed(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, r, http.StatusRequestEntityTooLarge, CodeBodyTooLarge, "webview response too large")
			return
		}
		writeError(w, r, http.StatusBadRequest, CodeInvalidPayload, "failed to read body")
		return
	}

	response := string(body)
	if isJSON(r.Header.Get("Content-Type")) {
		// A wrapper object carries the response; anything else is the response itself.
		var req WebviewClosedRequest
		if err := json.Unmarshal(body, &req); err == nil && req.Response != nil {
			response = *req.Response
		}
	}

	if !s.dispatch(w, r, host.Event{Name: relay.EventWebviewClosed, Payload: response}) {
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleWebviewCloseQuery serves settings pages that redirect back with the
// response in the query string instead of the close URL fragment.
func (s *Server) handleWebviewCloseQuery(w http.ResponseWriter, r *http.Request) {
	ev := host.Event{Name: relay.EventWebviewClosed, Payload: r.URL.Query().Get("response")}
	if !s.dispatch(w, r, ev) {
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleGetConfig(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, r, http.StatusOK, s.deps.Relay.Snapshot())
}

// dispatch delivers ev and writes an error response on failure. It reports
// whether the caller should continue writing a success response.
func (s *Server) dispatch(w http.ResponseWriter, r *http.Request, ev host.Event) bool {
	ctx, cancel := context.WithTimeout(r.Context(), s.cfg.EventTimeout)
	defer cancel()

	err := s.deps.Dispatcher.Dispatch(ctx, ev)
	if err == nil {
		return true
	}

	logger := log.WithComponentFromContext(r.Context(), "api")
	switch {
	case errors.Is(err, relay.ErrInvalidPayload):
		logger.Warn().Err(err).
			Str(log.FieldEvent, "api.invalid_payload").
			Str(log.FieldHostEvent, ev.Name).
			Msg("ignoring malformed webview response")
		writeError(w, r, http.StatusBadRequest, CodeInvalidPayload, err.Error())
	case errors.Is(err, host.ErrDispatcherClosed),
		errors.Is(err, context.DeadlineExceeded),
		errors.Is(err, context.Canceled):
		logger.Warn().Err(err).Str(log.FieldHostEvent, ev.Name).Msg("event not delivered")
		writeError(w, r, http.StatusServiceUnavailable, CodeUnavailable, "relay is not accepting events")
	default:
		logger.Error().Err(err).Str(log.FieldHostEvent, ev.Name).Msg("event handler failed")
		writeError(w, r, http.StatusInternalServerError, CodeInternal, "event handler failed")
	}
	return false
}

func isJSON(contentType string) bool {
	mt, _, err := mime.ParseMediaType(contentType)
	return err == nil && mt == "application/json"
}

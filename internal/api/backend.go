package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/alproj/sidecar-host/internal/sidecar"
)

// handleBackendStatus returns "connecting" until the backend has answered
// its health check, then "connected".
func (s *Server) handleBackendStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": s.backend.Status()})
}

// handleBackendHealth proxies one health query to the backend.
func (s *Server) handleBackendHealth(w http.ResponseWriter, r *http.Request) {
	body, err := s.backend.CheckHealth(r.Context())
	if err != nil {
		s.logger.Debug("backend health query failed", "error", err)
		writeError(w, http.StatusBadGateway, ErrCodeBackendUnreachable, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, body)
}

func (s *Server) handleBackendStats(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.backend.Stats())
}

// handleLogCursor returns the current log length.
func (s *Server) handleLogCursor(w http.ResponseWriter, _ *http.Request) {
	cursor, err := s.backend.LogCursor()
	if err != nil {
		s.logger.Warn("reading log cursor failed", "error", err)
		writeError(w, http.StatusInternalServerError, ErrCodeLogUnavailable, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"cursor": cursor})
}

// handleReadLog returns one chunk of the log starting at ?offset.
// ?max_bytes is clamped by the log store; omitted selects DefaultChunkBytes.
func (s *Server) handleReadLog(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	var offset int64
	if v := q.Get("offset"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			writeBadRequest(w, "offset must be an integer")
			return
		}
		offset = n
	}

	maxBytes := sidecar.DefaultChunkBytes
	if v := q.Get("max_bytes"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeBadRequest(w, "max_bytes must be a non-negative integer")
			return
		}
		maxBytes = n
	}

	chunk, err := s.backend.ReadLogChunk(offset, maxBytes)
	if err != nil {
		s.logger.Warn("reading log chunk failed", "offset", offset, "error", err)
		writeError(w, http.StatusInternalServerError, ErrCodeLogUnavailable, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, chunk)
}

// handleListLaunches returns recent launch attempts, newest first.
func (s *Server) handleListLaunches(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			writeBadRequest(w, "limit must be a positive integer")
			return
		}
		limit = n
	}

	attempts, err := s.backend.History(r.Context(), limit)
	if errors.Is(err, sidecar.ErrHistoryDisabled) {
		writeError(w, http.StatusServiceUnavailable, ErrCodeUnavailable, "launch history is disabled")
		return
	}
	if err != nil {
		s.logger.Error("listing launch attempts failed", "error", err)
		writeInternalError(w, "failed to list launch attempts")
		return
	}
	if attempts == nil {
		attempts = []sidecar.Attempt{}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"launches": attempts,
		"count":    len(attempts),
	})
}

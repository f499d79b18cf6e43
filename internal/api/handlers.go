// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package api

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/ManuGH/segrelay/internal/catalog"
	"github.com/ManuGH/segrelay/internal/log"
)

const (
	defaultListLimit = 100
	maxListLimit     = 1000
)

// SegmentList is the body of GET /api/segments.
type SegmentList struct {
	Items []*catalog.Segment `json:"items"`
	Count int                `json:"count"`
}

// UploadStatus is the body of GET /api/upload/status.
type UploadStatus struct {
	LastRun    *time.Time `json:"lastRun,omitempty"`
	LastResult string     `json:"lastResult,omitempty"`
	Pending    int        `json:"pending"`
	Failed     int        `json:"failed"`
}

func (s *Server) handleListSegments(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := catalog.ListFilter{
		WorkID: q.Get("work"),
		State:  catalog.UploadState(q.Get("state")),
		Limit:  defaultListLimit,
	}
	if filter.State != "" && !filter.State.Valid() {
		writeError(w, r, http.StatusBadRequest, "invalid_state", "unknown upload state "+strconv.Quote(string(filter.State)))
		return
	}
	if raw := q.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > maxListLimit {
			writeError(w, r, http.StatusBadRequest, "invalid_limit", "limit must be between 1 and "+strconv.Itoa(maxListLimit))
			return
		}
		filter.Limit = n
	}

	segs, err := s.deps.Store.List(r.Context(), filter)
	if err != nil {
		s.internalError(w, r, err)
		return
	}
	if segs == nil {
		segs = []*catalog.Segment{}
	}
	writeJSON(w, http.StatusOK, SegmentList{Items: segs, Count: len(segs)})
}

func (s *Server) handleGetSegment(w http.ResponseWriter, r *http.Request) {
	seg, err := s.deps.Store.Get(r.Context(), chi.URLParam(r, "token"))
	if errors.Is(err, catalog.ErrNotFound) {
		writeError(w, r, http.StatusNotFound, "not_found", "segment not found")
		return
	}
	if err != nil {
		s.internalError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, seg)
}

func (s *Server) handleListWorks(w http.ResponseWriter, r *http.Request) {
	works, err := s.deps.Store.ListWorks(r.Context())
	if err != nil {
		s.internalError(w, r, err)
		return
	}
	if works == nil {
		works = []*catalog.Work{}
	}
	writeJSON(w, http.StatusOK, works)
}

func (s *Server) handleGetWork(w http.ResponseWriter, r *http.Request) {
	work, err := s.deps.Store.GetWork(r.Context(), chi.URLParam(r, "id"))
	if errors.Is(err, catalog.ErrNotFound) {
		writeError(w, r, http.StatusNotFound, "not_found", "work not found")
		return
	}
	if err != nil {
		s.internalError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, work)
}

// handleTriggerUpload coalesces with any run already queued.
func (s *Server) handleTriggerUpload(w http.ResponseWriter, r *http.Request) {
	s.deps.Scheduler.Trigger()
	logger := log.WithContext(r.Context(), s.logger)
	logger.Info().
		Str(log.FieldEvent, "upload.triggered").
		Msg("manual upload run requested")
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "queued"})
}

func (s *Server) handleUploadStatus(w http.ResponseWriter, r *http.Request) {
	var resp UploadStatus
	if at, result := s.deps.Scheduler.LastRun(); !at.IsZero() {
		resp.LastRun = &at
		resp.LastResult = result
	}
	for state, dst := range map[catalog.UploadState]*int{
		catalog.StatePending: &resp.Pending,
		catalog.StateFailed:  &resp.Failed,
	} {
		segs, err := s.deps.Store.List(r.Context(), catalog.ListFilter{State: state})
		if err != nil {
			s.internalError(w, r, err)
			return
		}
		*dst = len(segs)
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) internalError(w http.ResponseWriter, r *http.Request, err error) {
	logger := log.WithContext(r.Context(), s.logger)
	logger.Error().Err(err).
		Str(log.FieldEvent, "api.store_error").
		Str(log.FieldPath, r.URL.Path).
		Msg("catalog query failed")
	writeError(w, r, http.StatusInternalServerError, "internal_error", "catalog query failed")
}

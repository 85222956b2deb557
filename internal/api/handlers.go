// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/soundsuite/jukeboxd/internal/log"
	"github.com/soundsuite/jukeboxd/internal/model"
)

func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("%w: %s", model.ErrInvalidRequest, err.Error())
	}
	return nil
}

type addRequest struct {
	URL       string `json:"url"`
	Requester string `json:"requester"`
	Priority  string `json:"priority,omitempty"`
}

type addResponse struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Artist      string `json:"artist"`
	QueueLength int    `json:"queueLength"`
}

func (s *Server) handleQueueAdd(w http.ResponseWriter, r *http.Request) {
	var req addRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	priority := model.PriorityNormal
	if req.Priority != "" {
		priority = model.Priority(req.Priority)
		if !priority.Valid() {
			writeError(w, fmt.Errorf("%w: unknown priority %q", model.ErrInvalidRequest, req.Priority))
			return
		}
	}

	// successors of a playlist input are buffered so the named track is
	// enqueued first
	var successors []model.TrackDescriptor
	d, err := s.resolver.Resolve(r.Context(), req.URL, func(next model.TrackDescriptor) {
		successors = append(successors, next)
	})
	if err != nil {
		writeError(w, err)
		return
	}

	if err := s.queue.Add(model.QueueItem{
		Descriptor: d,
		Requester:  req.Requester,
		Priority:   priority,
	}); err != nil {
		writeError(w, err)
		return
	}
	s.pipeline.Kick()

	if len(successors) > 0 {
		go s.enqueueSuccessors(successors, req.Requester, priority)
	}

	writeJSON(w, http.StatusOK, addResponse{
		ID:          d.ID,
		Title:       d.Title,
		Artist:      d.Artist,
		QueueLength: s.queue.Len(),
	})
}

func (s *Server) enqueueSuccessors(descriptors []model.TrackDescriptor, requester string, priority model.Priority) {
	for _, d := range descriptors {
		err := s.queue.Add(model.QueueItem{
			Descriptor: d,
			Requester:  requester,
			Priority:   priority,
		})
		if err != nil && !errors.Is(err, model.ErrDuplicateRequest) {
			s.logger.Warn().Err(err).
				Str(log.FieldTrackID, d.ID).
				Msg("playlist successor rejected")
		}
	}
	s.pipeline.Kick()
}

func (s *Server) handleQueueRemove(w http.ResponseWriter, r *http.Request) {
	index, err := strconv.Atoi(chi.URLParam(r, "index"))
	if err != nil {
		writeError(w, fmt.Errorf("%w: index must be numeric", model.ErrInvalidRequest))
		return
	}
	item, err := s.queue.Remove(index)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"removed":     item.Descriptor.Title,
		"queueLength": s.queue.Len(),
	})
}

type reorderRequest struct {
	From int `json:"fromIndex"`
	To   int `json:"toIndex"`
}

func (s *Server) handleQueueReorder(w http.ResponseWriter, r *http.Request) {
	var req reorderRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if err := s.queue.Reorder(req.From, req.To); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "reordered"})
}

func (s *Server) handleQueuePrefetch(w http.ResponseWriter, _ *http.Request) {
	s.pipeline.Kick()
	writeJSON(w, http.StatusOK, map[string]string{"status": "scheduled"})
}

type queueEntry struct {
	ID            string `json:"id"`
	Title         string `json:"title"`
	Artist        string `json:"artist"`
	Requester     string `json:"requester"`
	Priority      string `json:"priority"`
	DownloadState string `json:"downloadState"`
}

func (s *Server) handleQueueList(w http.ResponseWriter, _ *http.Request) {
	items := s.queue.Snapshot()
	out := make([]queueEntry, 0, len(items))
	for _, it := range items {
		out = append(out, queueEntry{
			ID:            it.Descriptor.ID,
			Title:         it.Descriptor.Title,
			Artist:        it.Descriptor.Artist,
			Requester:     it.Requester,
			Priority:      string(it.Priority),
			DownloadState: string(it.DownloadState),
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"queue": out})
}

func (s *Server) handlePause(w http.ResponseWriter, _ *http.Request) {
	if err := s.orch.Pause(); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "paused"})
}

func (s *Server) handleResume(w http.ResponseWriter, _ *http.Request) {
	if err := s.orch.Resume(); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "playing"})
}

func (s *Server) handleSkip(w http.ResponseWriter, _ *http.Request) {
	if err := s.orch.Skip(); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "skipped"})
}

type seekRequest struct {
	TimeMs int64 `json:"time"`
}

func (s *Server) handleSeek(w http.ResponseWriter, r *http.Request) {
	var req seekRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if err := s.orch.Seek(req.TimeMs); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"time": req.TimeMs})
}

func (s *Server) handleNewSession(w http.ResponseWriter, _ *http.Request) {
	s.orch.NewSession()
	writeJSON(w, http.StatusOK, map[string]string{"status": "reset"})
}

type toggleRequest struct {
	Enabled bool `json:"enabled"`
}

func (s *Server) handleShuffle(w http.ResponseWriter, r *http.Request) {
	var req toggleRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	s.orch.SetShuffle(req.Enabled)
	writeJSON(w, http.StatusOK, map[string]bool{"shuffle": req.Enabled})
}

func (s *Server) handleRepeat(w http.ResponseWriter, r *http.Request) {
	var req toggleRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	s.orch.SetRepeat(req.Enabled)
	writeJSON(w, http.StatusOK, map[string]bool{"repeat": req.Enabled})
}

type volumeRequest struct {
	Volume int `json:"volume"`
}

func (s *Server) handleVolume(w http.ResponseWriter, r *http.Request) {
	var req volumeRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if err := s.orch.SetVolume(req.Volume); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"volume": req.Volume})
}

type effectsRequest struct {
	Chain string `json:"chain"`
}

func (s *Server) handleEffects(w http.ResponseWriter, r *http.Request) {
	var req effectsRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	s.effects.Set(req.Chain)
	writeJSON(w, http.StatusOK, map[string]string{"chain": s.effects.Chain()})
}

package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/seantiz/backgrounder/internal/lifecycle"
	"github.com/seantiz/backgrounder/internal/model"
	"github.com/seantiz/backgrounder/internal/store"
)

// resolveRequest is the JSON body for POST /v1/apps/{id}/resolve.
type resolveRequest struct {
	Capabilities model.Capabilities `json:"capabilities"`
	// Surface lists the actions the host can perform. Omitted means all.
	Surface []model.Action `json:"surface,omitempty"`
}

type resolveResponse struct {
	AppID  string       `json:"app_id"`
	Method model.Method `json:"method"`
	Action model.Action `json:"action"`
	// Modes lists the native background modes the decision was based on.
	Modes []string `json:"modes"`
}

// eventRequest is the JSON body for POST /v1/apps/{id}/events.
type eventRequest struct {
	Type     model.EventType    `json:"type"`
	Snapshot *model.AppSnapshot `json:"snapshot,omitempty"`
	Surface  []model.Action     `json:"surface,omitempty"`
}

type toggleResponse struct {
	Decision lifecycle.Decision  `json:"decision"`
	App      lifecycle.AppStatus `json:"app"`
}

type listAppsResponse struct {
	Apps []lifecycle.AppStatus `json:"apps"`
}

func (s *Server) handleListApps(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, listAppsResponse{Apps: s.mediator.Apps()})
}

func (s *Server) handleGetApp(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if status, ok := s.mediator.App(id); ok {
		s.writeJSON(w, http.StatusOK, status)
		return
	}

	// Applications last seen before a restart are reported from history.
	last, err := s.store.LastTransition(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		s.writeError(w, http.StatusNotFound, "application not found")
		return
	}
	if err != nil {
		s.logger.Error("get last transition", "app_id", id, "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to get application")
		return
	}
	s.writeJSON(w, http.StatusOK, lifecycle.AppStatus{
		AppID:     id,
		State:     last.To,
		Method:    last.Method,
		Action:    last.Action,
		UpdatedAt: last.CreatedAt,
	})
}

func (s *Server) handleResolve(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req resolveRequest
	if err := decodeBody(w, r, &req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	d := s.resolver.Decide(id, req.Capabilities, req.Surface)
	modes := req.Capabilities.Modes()
	if modes == nil {
		modes = []string{}
	}
	s.writeJSON(w, http.StatusOK, resolveResponse{AppID: id, Method: d.Method, Action: d.Action, Modes: modes})
}

func (s *Server) handlePostEvent(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req eventRequest
	if err := decodeBody(w, r, &req); err != nil {
		eventSubmissionsTotal.WithLabelValues(outcomeInvalid, outcomeInvalid).Inc()
		s.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	typ := eventTypeLabel(req.Type)
	if !req.Type.Valid() {
		eventSubmissionsTotal.WithLabelValues(typ, outcomeInvalid).Inc()
		s.writeError(w, http.StatusBadRequest, "unknown event type")
		return
	}
	if req.Snapshot != nil {
		req.Snapshot.AppID = id
	}

	ev := model.Event{
		ID:       model.NewID(),
		AppID:    id,
		Type:     req.Type,
		Snapshot: req.Snapshot,
		Surface:  req.Surface,
		At:       time.Now().UTC(),
	}

	d, err := s.mediator.Submit(r.Context(), ev)
	switch {
	case errors.Is(err, lifecycle.ErrInvalidTransition):
		eventSubmissionsTotal.WithLabelValues(typ, outcomeConflict).Inc()
		s.writeJSON(w, http.StatusConflict, map[string]any{"error": err.Error(), "state": d.From})
		return
	case errors.Is(err, lifecycle.ErrInvalidEvent):
		eventSubmissionsTotal.WithLabelValues(typ, outcomeInvalid).Inc()
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	case err != nil:
		eventSubmissionsTotal.WithLabelValues(typ, outcomeUnavailable).Inc()
		s.logger.Error("submit event", "app_id", id, "error", err)
		s.writeError(w, http.StatusServiceUnavailable, "lifecycle mediator unavailable")
		return
	}

	eventSubmissionsTotal.WithLabelValues(typ, outcomeApplied).Inc()
	s.writeJSON(w, http.StatusOK, d)
}

func (s *Server) handleToggle(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	d, err := s.mediator.Toggle(r.Context(), id)
	switch {
	case errors.Is(err, lifecycle.ErrUnknownApp):
		togglesTotal.WithLabelValues(outcomeUnknownApp).Inc()
		s.writeError(w, http.StatusNotFound, "application not found")
		return
	case err != nil:
		togglesTotal.WithLabelValues(outcomeUnavailable).Inc()
		s.logger.Error("toggle backgrounding", "app_id", id, "error", err)
		s.writeError(w, http.StatusServiceUnavailable, "lifecycle mediator unavailable")
		return
	}

	togglesTotal.WithLabelValues(outcomeApplied).Inc()
	status, _ := s.mediator.App(id)
	s.writeJSON(w, http.StatusOK, toggleResponse{Decision: d, App: status})
}

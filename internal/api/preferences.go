package api

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/seantiz/backgrounder/internal/prefs"
)

// preferencesResponse is the JSON response for GET /v1/preferences.
type preferencesResponse struct {
	FirstRun       bool                    `json:"first_run"`
	CurrentVersion string                  `json:"current_version"`
	Defaults       prefs.Effective         `json:"defaults"`
	Global         prefs.Record            `json:"global"`
	Effective      prefs.Effective         `json:"effective"`
	Overrides      map[string]prefs.Record `json:"overrides"`
}

// overrideResponse is the JSON response for a single application override.
type overrideResponse struct {
	AppID    string       `json:"app_id"`
	Override prefs.Record `json:"override"`
}

type effectiveResponse struct {
	AppID     string          `json:"app_id"`
	Effective prefs.Effective `json:"effective"`
}

func (s *Server) handleGetPreferences(w http.ResponseWriter, r *http.Request) {
	doc := s.prefs.Snapshot()
	overrides := doc.Overrides
	if overrides == nil {
		overrides = map[string]prefs.Record{}
	}
	s.writeJSON(w, http.StatusOK, preferencesResponse{
		FirstRun:       s.prefs.FirstRun(),
		CurrentVersion: doc.CurrentVersion,
		Defaults:       prefs.Defaults(),
		Global:         doc.Global,
		Effective:      doc.Effective(prefs.GlobalKey),
		Overrides:      overrides,
	})
}

func (s *Server) handlePutGlobal(w http.ResponseWriter, r *http.Request) {
	s.putRecord(w, r, prefs.GlobalKey)
}

func (s *Server) handlePutOverride(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if id == prefs.GlobalKey {
		s.writeError(w, http.StatusBadRequest, "use /v1/preferences/global for the global record")
		return
	}
	s.putRecord(w, r, id)
}

// putRecord merges the request body into the record for key. Fields absent
// from the body keep their current value.
func (s *Server) putRecord(w http.ResponseWriter, r *http.Request, key string) {
	scope := preferenceScope(key)

	var rec prefs.Record
	if err := decodeBody(w, r, &rec); err != nil {
		preferenceWritesTotal.WithLabelValues(scope, outcomeInvalid).Inc()
		s.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	if err := s.prefs.Set(r.Context(), key, rec); err != nil {
		var invalid *prefs.InvalidRecordError
		if errors.As(err, &invalid) {
			preferenceWritesTotal.WithLabelValues(scope, outcomeInvalid).Inc()
			s.writeError(w, http.StatusBadRequest, invalid.Error())
			return
		}
		preferenceWritesTotal.WithLabelValues(scope, outcomeFailed).Inc()
		s.logger.Error("set preferences", "key", key, "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to save preferences")
		return
	}

	preferenceWritesTotal.WithLabelValues(scope, outcomeApplied).Inc()
	s.writeJSON(w, http.StatusOK, effectiveResponse{AppID: key, Effective: s.prefs.Get(key)})
}

func (s *Server) handleGetOverride(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	rec, ok := s.prefs.Override(id)
	if !ok {
		s.writeError(w, http.StatusNotFound, "no override for application")
		return
	}
	s.writeJSON(w, http.StatusOK, overrideResponse{AppID: id, Override: rec})
}

func (s *Server) handleDeleteOverride(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, ok := s.prefs.Override(id); !ok {
		s.writeError(w, http.StatusNotFound, "no override for application")
		return
	}
	if err := s.prefs.Reset(r.Context(), id); err != nil {
		preferenceWritesTotal.WithLabelValues("reset", outcomeFailed).Inc()
		s.logger.Error("reset preferences", "app_id", id, "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to save preferences")
		return
	}
	preferenceWritesTotal.WithLabelValues("reset", outcomeApplied).Inc()
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleGetEffective(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	s.writeJSON(w, http.StatusOK, effectiveResponse{AppID: id, Effective: s.prefs.Get(id)})
}

func (s *Server) handleReloadPreferences(w http.ResponseWriter, r *http.Request) {
	if err := s.prefs.Reload(r.Context()); err != nil {
		preferenceWritesTotal.WithLabelValues("reload", outcomeFailed).Inc()
		s.writeError(w, http.StatusServiceUnavailable, "reload failed; previous preferences kept")
		return
	}
	preferenceWritesTotal.WithLabelValues("reload", outcomeApplied).Inc()
	s.handleGetPreferences(w, r)
}

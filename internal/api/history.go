package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/seantiz/backgrounder/internal/model"
)

// listTransitionsResponse wraps the paginated transition list.
type listTransitionsResponse struct {
	Transitions []model.Transition `json:"transitions"`
	Total       int                `json:"total"`
	Limit       int                `json:"limit"`
	Offset      int                `json:"offset"`
}

// statsResponse is the JSON response for GET /v1/stats.
type statsResponse struct {
	Total         int            `json:"total"`
	ByState       map[string]int `json:"by_state"`
	ByMethod      map[string]int `json:"by_method"`
	Forced        int            `json:"forced"`
	Apps          int            `json:"apps"`
	HeldApps      int            `json:"held_apps"`
	TrackedApps   int            `json:"tracked_apps"`
	CurrentStates map[string]int `json:"current_states"`
}

type listDiagnosticsResponse struct {
	Diagnostics []model.Diagnostic `json:"diagnostics"`
}

func (s *Server) handleListTransitions(w http.ResponseWriter, r *http.Request) {
	s.listTransitions(w, r, r.URL.Query().Get("app_id"))
}

func (s *Server) handleListAppTransitions(w http.ResponseWriter, r *http.Request) {
	s.listTransitions(w, r, chi.URLParam(r, "id"))
}

func (s *Server) listTransitions(w http.ResponseWriter, r *http.Request, appID string) {
	limit, offset := pageParams(r)

	transitions, total, err := s.store.ListTransitions(r.Context(), appID, limit, offset)
	if err != nil {
		s.logger.Error("list transitions", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to list transitions")
		return
	}

	if transitions == nil {
		transitions = []model.Transition{}
	}

	s.writeJSON(w, http.StatusOK, listTransitionsResponse{
		Transitions: transitions,
		Total:       total,
		Limit:       limit,
		Offset:      offset,
	})
}

func (s *Server) handleGetStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.store.GetTransitionStats(r.Context())
	if err != nil {
		s.logger.Error("get transition stats", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to get stats")
		return
	}

	apps := s.mediator.Apps()
	held := 0
	current := make(map[string]int)
	for _, a := range apps {
		if a.Held {
			held++
		}
		current[string(a.State)]++
	}

	s.writeJSON(w, http.StatusOK, statsResponse{
		Total:         stats.Total,
		ByState:       stats.CountByState,
		ByMethod:      stats.CountByMethod,
		Forced:        stats.Forced,
		Apps:          stats.Apps,
		HeldApps:      held,
		TrackedApps:   len(apps),
		CurrentStates: current,
	})
}

func (s *Server) handleListDiagnostics(w http.ResponseWriter, r *http.Request) {
	diags, err := s.store.ListDiagnostics(r.Context())
	if err != nil {
		s.logger.Error("list diagnostics", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to list diagnostics")
		return
	}
	if diags == nil {
		diags = []model.Diagnostic{}
	}
	s.writeJSON(w, http.StatusOK, listDiagnosticsResponse{Diagnostics: diags})
}

package api

import (
	"net/http"
)

type healthResponse struct {
	Status   string `json:"status"`
	FirstRun bool   `json:"first_run"`
	Apps     int    `json:"apps"`
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, healthResponse{
		Status:   "ok",
		FirstRun: s.prefs.FirstRun(),
		Apps:     len(s.mediator.Apps()),
	})
}

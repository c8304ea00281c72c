package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/seantiz/backgrounder/internal/lifecycle"
)

func (s *Server) handleStreamApp(w http.ResponseWriter, r *http.Request) {
	s.streamTransitions(w, r, chi.URLParam(r, "id"))
}

func (s *Server) handleStreamAll(w http.ResponseWriter, r *http.Request) {
	s.streamTransitions(w, r, lifecycle.AllApps)
}

// streamTransitions writes transitions for appID as server-sent events until
// the client disconnects or the broker shuts down.
func (s *Server) streamTransitions(w http.ResponseWriter, r *http.Request, appID string) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	// Disable write timeout for long-lived SSE connections.
	rc := http.NewResponseController(w)
	if err := rc.SetWriteDeadline(time.Time{}); err != nil {
		s.logger.Error("set write deadline for SSE", "error", err)
	}

	ch, unsub := s.mediator.Broker().Subscribe(appID)
	defer unsub()
	openStreams.Inc()
	defer openStreams.Dec()

	w.WriteHeader(http.StatusOK)
	flusher, canFlush := w.(http.Flusher)
	if canFlush {
		flusher.Flush()
	}

	for {
		select {
		case tr, ok := <-ch:
			if !ok {
				_ = writeSSEEvent(w, "done", "stream complete")
				if canFlush {
					flusher.Flush()
				}
				return
			}
			data, err := json.Marshal(tr)
			if err != nil {
				s.logger.Error("encode transition", "error", err)
				continue
			}
			if err := writeSSEEvent(w, "transition", string(data)); err != nil {
				return // Client gone.
			}
			if canFlush {
				flusher.Flush()
			}
		case <-r.Context().Done():
			return
		}
	}
}

// writeSSEEvent writes a named SSE event. Multi-line data is split so that
// each segment gets its own "data:" prefix.
func writeSSEEvent(w http.ResponseWriter, eventType, data string) error {
	if _, err := fmt.Fprintf(w, "event: %s\n", eventType); err != nil {
		return err
	}
	for seg := range strings.SplitSeq(data, "\n") {
		if _, err := fmt.Fprintf(w, "data: %s\n", seg); err != nil {
			return err
		}
	}
	_, err := fmt.Fprint(w, "\n")
	return err
}

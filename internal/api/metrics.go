package api

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/seantiz/backgrounder/internal/model"
	"github.com/seantiz/backgrounder/internal/prefs"
)

// API areas used as the area label.
const (
	areaOps         = "ops"
	areaPreferences = "preferences"
	areaLifecycle   = "lifecycle"
	areaApps        = "apps"
	areaStream      = "stream"
	areaHistory     = "history"
	areaUnmatched   = "unmatched"
)

// Outcomes of lifecycle and preference requests.
const (
	outcomeApplied     = "applied"
	outcomeConflict    = "conflict"
	outcomeInvalid     = "invalid"
	outcomeUnknownApp  = "unknown_app"
	outcomeUnavailable = "unavailable"
	outcomeFailed      = "failed"
)

var (
	apiRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "backgrounder_api_requests_total",
			Help: "API requests by area, method and status code.",
		},
		[]string{"area", "method", "status"},
	)

	apiRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "backgrounder_api_request_duration_seconds",
			Help:    "API request duration in seconds by area. Streams are excluded.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"area"},
	)

	eventSubmissionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "backgrounder_api_event_submissions_total",
			Help: "Lifecycle events posted over HTTP by event type and outcome.",
		},
		[]string{"type", "outcome"},
	)

	togglesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "backgrounder_api_toggles_total",
			Help: "Backgrounding switch toggles requested over HTTP by outcome.",
		},
		[]string{"outcome"},
	)

	preferenceWritesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "backgrounder_api_preference_writes_total",
			Help: "Preference writes over HTTP by scope and outcome.",
		},
		[]string{"scope", "outcome"},
	)

	openStreams = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "backgrounder_api_open_streams",
		Help: "Transition streams currently open.",
	})
)

func init() {
	prometheus.MustRegister(apiRequestsTotal, apiRequestDuration, eventSubmissionsTotal,
		togglesTotal, preferenceWritesTotal, openStreams)
}

// metricsMiddleware counts requests per API area. The area comes from the
// matched chi route, so raw application ids never become label values.
func metricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		area := apiArea(r)
		apiRequestsTotal.WithLabelValues(area, r.Method, strconv.Itoa(status)).Inc()
		if area != areaStream {
			apiRequestDuration.WithLabelValues(area).Observe(time.Since(start).Seconds())
		}
	})
}

// apiArea maps the matched route pattern to the part of the API it serves.
func apiArea(r *http.Request) string {
	rctx := chi.RouteContext(r.Context())
	if rctx == nil || rctx.RoutePattern() == "" {
		return areaUnmatched
	}
	return areaOf(rctx.RoutePattern())
}

func areaOf(pattern string) string {
	switch {
	case pattern == "/healthz" || pattern == "/metrics":
		return areaOps
	case strings.HasPrefix(pattern, "/v1/preferences"):
		return areaPreferences
	case strings.HasSuffix(pattern, "/stream"):
		return areaStream
	case strings.HasSuffix(pattern, "/events"),
		strings.HasSuffix(pattern, "/toggle"),
		strings.HasSuffix(pattern, "/resolve"):
		return areaLifecycle
	case strings.HasPrefix(pattern, "/v1/apps") && !strings.HasSuffix(pattern, "/transitions"):
		return areaApps
	default:
		return areaHistory
	}
}

// eventTypeLabel keeps the type label bounded to known lifecycle events.
func eventTypeLabel(t model.EventType) string {
	if !t.Valid() {
		return outcomeInvalid
	}
	return string(t)
}

// preferenceScope reports whether key names the global record or an
// application override.
func preferenceScope(key string) string {
	if key == prefs.GlobalKey {
		return "global"
	}
	return "app"
}

// metricsHandler returns the Prometheus metrics handler.
func metricsHandler() http.Handler {
	return promhttp.Handler()
}

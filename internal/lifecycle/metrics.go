package lifecycle

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/seantiz/backgrounder/internal/model"
)

var (
	transitionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "backgrounder_lifecycle_transitions_total",
			Help: "Total number of lifecycle transitions by source and target state.",
		},
		[]string{"from", "to"},
	)

	invalidEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "backgrounder_lifecycle_invalid_events_total",
			Help: "Total number of events rejected in the application's current state.",
		},
		[]string{"event"},
	)

	forcedTerminationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "backgrounder_lifecycle_forced_terminations_total",
			Help: "Total number of forced terminations by triggering event.",
		},
		[]string{"event"},
	)

	hostActionFailuresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "backgrounder_lifecycle_host_action_failures_total",
			Help: "Total number of host action requests that failed.",
		},
		[]string{"action"},
	)

	heldApps = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "backgrounder_lifecycle_held_apps",
			Help: "Number of applications currently kept from suspending.",
		},
	)
)

func init() {
	prometheus.MustRegister(transitionsTotal)
	prometheus.MustRegister(invalidEventsTotal)
	prometheus.MustRegister(forcedTerminationsTotal)
	prometheus.MustRegister(hostActionFailuresTotal)
	prometheus.MustRegister(heldApps)

	for _, ev := range []model.EventType{model.EventWillTerminate, model.EventMemoryPressure} {
		forcedTerminationsTotal.WithLabelValues(string(ev))
	}
}

package eventsource

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/seantiz/backgrounder/internal/model"
)

// invalidType labels events whose type is not a known lifecycle event.
const invalidType = "invalid"

var eventsReceivedTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "backgrounder_eventsource_events_received_total",
		Help: "Total number of lifecycle events received from host connections.",
	},
	[]string{"type"},
)

var droppedActionsTotal = prometheus.NewCounter(prometheus.CounterOpts{
	Name: "backgrounder_eventsource_dropped_actions_total",
	Help: "Queued host actions dropped because no reply collected them.",
})

func init() {
	prometheus.MustRegister(eventsReceivedTotal, droppedActionsTotal)
}

func typeLabel(t model.EventType) string {
	if !t.Valid() {
		return invalidType
	}
	return string(t)
}

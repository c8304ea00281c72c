package policy

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/seantiz/backgrounder/internal/model"
)

var (
	resolutionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "backgrounder_policy_resolutions_total",
			Help: "Total number of policy resolutions by resulting method.",
		},
		[]string{"method"},
	)

	diagnosticsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "backgrounder_policy_diagnostics_total",
			Help: "Total number of one-time degradation diagnostics by code.",
		},
		[]string{"code"},
	)
)

func init() {
	prometheus.MustRegister(resolutionsTotal)
	prometheus.MustRegister(diagnosticsTotal)

	// Pre-initialize label combinations so they appear in /metrics with
	// value 0 from startup.
	for _, m := range []model.Method{model.MethodOff, model.MethodNative, model.MethodBackgrounder} {
		resolutionsTotal.WithLabelValues(m.String())
	}
}

package policy

import (
	"io"
	"log/slog"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"

	"github.com/seantiz/backgrounder/internal/model"
	"github.com/seantiz/backgrounder/internal/prefs"
)

type fixedPrefs prefs.Effective

func (f fixedPrefs) Get(string) prefs.Effective { return prefs.Effective(f) }

func counterValue(t *testing.T, name, label, value string) float64 {
	t.Helper()
	families, err := prometheus.DefaultGatherer.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	var fam *dto.MetricFamily
	for _, f := range families {
		if f.GetName() == name {
			fam = f
			break
		}
	}
	if fam == nil {
		t.Fatalf("metric %q not registered", name)
	}
	for _, m := range fam.GetMetric() {
		for _, lp := range m.GetLabel() {
			if lp.GetName() == label && lp.GetValue() == value {
				return m.GetCounter().GetValue()
			}
		}
	}
	return 0
}

func TestResolutionsCounted(t *testing.T) {
	eff := prefs.Defaults()
	eff.Method = model.MethodNative
	r := NewResolver(fixedPrefs(eff), Options{}, nil, slog.New(slog.NewJSONHandler(io.Discard, nil)))

	before := counterValue(t, "backgrounder_policy_resolutions_total", "method", "native")
	r.Resolve("com.example.app", model.Capabilities{Audio: true})
	after := counterValue(t, "backgrounder_policy_resolutions_total", "method", "native")

	if after-before != 1 {
		t.Errorf("native resolutions delta = %v, want 1", after-before)
	}
}

func TestMetricsPreinitialized(t *testing.T) {
	families, err := prometheus.DefaultGatherer.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	for _, fam := range families {
		if fam.GetName() == "backgrounder_policy_resolutions_total" {
			if len(fam.GetMetric()) < 3 {
				t.Errorf("resolutions_total has %d series, want at least 3", len(fam.GetMetric()))
			}
			return
		}
	}
	t.Error("backgrounder_policy_resolutions_total not registered")
}

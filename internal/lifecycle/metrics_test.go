package lifecycle

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"

	"github.com/seantiz/backgrounder/internal/model"
	"github.com/seantiz/backgrounder/internal/policy"
)

type staticResolver policy.Decision

func (s staticResolver) Decide(string, model.Capabilities, []model.Action) policy.Decision {
	return policy.Decision(s)
}

func (staticResolver) ToggleFlags(string) policy.ToggleFlags {
	return policy.ToggleFlags{EnableAtLaunch: true, Persistent: true}
}

type okHost struct{}

func (okHost) Snapshot(string) (model.AppSnapshot, error) {
	return model.AppSnapshot{Running: true, Active: true}, nil
}

func (okHost) Supports(model.Action) bool { return true }

func (okHost) Perform(context.Context, string, model.Action) error { return nil }

func metricValue(t *testing.T, name string, labels map[string]string) float64 {
	t.Helper()
	families, err := prometheus.DefaultGatherer.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	for _, f := range families {
		if f.GetName() != name {
			continue
		}
		for _, m := range f.GetMetric() {
			if matchLabels(m, labels) {
				if m.GetCounter() != nil {
					return m.GetCounter().GetValue()
				}
				return m.GetGauge().GetValue()
			}
		}
		return 0
	}
	// Vectors without children are not gathered.
	return 0
}

func matchLabels(m *dto.Metric, want map[string]string) bool {
	got := make(map[string]string)
	for _, lp := range m.GetLabel() {
		got[lp.GetName()] = lp.GetValue()
	}
	for k, v := range want {
		if got[k] != v {
			return false
		}
	}
	return true
}

func newMetricsMediator(d policy.Decision) *Mediator {
	logger := slog.New(slog.NewJSONHandler(io.Discard, nil))
	return NewMediator(staticResolver(d), okHost{}, nil, nil, logger)
}

func TestForcedTerminationsCounted(t *testing.T) {
	m := newMetricsMediator(policy.Decision{Method: model.MethodNative, Action: model.ActionPermitSuspension})
	ctx := context.Background()

	before := metricValue(t, "backgrounder_lifecycle_forced_terminations_total", map[string]string{"event": "memory_pressure"})
	if _, err := m.Handle(ctx, model.Event{AppID: "metrics.forced", Type: model.EventMemoryPressure}); err != nil {
		t.Fatalf("Handle: %v", err)
	}
	after := metricValue(t, "backgrounder_lifecycle_forced_terminations_total", map[string]string{"event": "memory_pressure"})

	if after-before != 1 {
		t.Errorf("forced terminations delta = %v, want 1", after-before)
	}
}

func TestInvalidEventsCounted(t *testing.T) {
	m := newMetricsMediator(policy.Decision{Method: model.MethodNative, Action: model.ActionPermitSuspension})
	ctx := context.Background()

	before := metricValue(t, "backgrounder_lifecycle_invalid_events_total", map[string]string{"event": "will_suspend"})
	// okHost reports a foreground app, where will_suspend is not allowed.
	if _, err := m.Handle(ctx, model.Event{AppID: "metrics.invalid", Type: model.EventWillSuspend}); err == nil {
		t.Fatal("expected an invalid transition")
	}
	after := metricValue(t, "backgrounder_lifecycle_invalid_events_total", map[string]string{"event": "will_suspend"})

	if after-before != 1 {
		t.Errorf("invalid events delta = %v, want 1", after-before)
	}
}

func TestHeldAppsGauge(t *testing.T) {
	m := newMetricsMediator(policy.Decision{Method: model.MethodBackgrounder, Action: model.ActionSuppressSuspension})
	ctx := context.Background()

	if _, err := m.Handle(ctx, model.Event{AppID: "metrics.held", Type: model.EventDeactivate}); err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if got := metricValue(t, "backgrounder_lifecycle_held_apps", nil); got != 1 {
		t.Errorf("held_apps = %v, want 1", got)
	}

	if _, err := m.Handle(ctx, model.Event{AppID: "metrics.held", Type: model.EventWillTerminate}); err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if got := metricValue(t, "backgrounder_lifecycle_held_apps", nil); got != 0 {
		t.Errorf("held_apps = %v, want 0", got)
	}
}

package api

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/seantiz/backgrounder/internal/model"
)

func driveApp(t *testing.T, url, appID string, events ...string) {
	t.Helper()
	base := url + "/v1/apps/" + appID + "/events"
	if status, body := doJSON(t, "POST", base, activateBody); status != http.StatusOK {
		t.Fatalf("activate %s: %d %s", appID, status, body)
	}
	for _, ev := range events {
		if status, body := doJSON(t, "POST", base, `{"type":"`+ev+`"}`); status != http.StatusOK {
			t.Fatalf("%s %s: %d %s", ev, appID, status, body)
		}
	}
}

func TestListTransitions(t *testing.T) {
	srv := newTestServer(t)
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	driveApp(t, ts.URL, "com.example.a", "deactivate", "enter_background")
	driveApp(t, ts.URL, "com.example.b")

	status, body := doJSON(t, "GET", ts.URL+"/v1/transitions?limit=2", "")
	if status != http.StatusOK {
		t.Fatalf("status = %d", status)
	}
	var all listTransitionsResponse
	decode(t, body, &all)
	if all.Total != 4 {
		t.Errorf("total = %d, want 4", all.Total)
	}
	if len(all.Transitions) != 2 || all.Limit != 2 {
		t.Errorf("page = %d items (limit %d), want 2", len(all.Transitions), all.Limit)
	}

	status, body = doJSON(t, "GET", ts.URL+"/v1/apps/com.example.a/transitions", "")
	if status != http.StatusOK {
		t.Fatalf("status = %d", status)
	}
	var forApp listTransitionsResponse
	decode(t, body, &forApp)
	if forApp.Total != 3 {
		t.Errorf("app total = %d, want 3", forApp.Total)
	}
	if forApp.Transitions[0].Event != model.EventEnterBackground {
		t.Errorf("newest event = %s, want enter_background", forApp.Transitions[0].Event)
	}
}

func TestListTransitionsEmpty(t *testing.T) {
	srv := newTestServer(t)
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	status, body := doJSON(t, "GET", ts.URL+"/v1/transitions?limit=-5&offset=-1", "")
	if status != http.StatusOK {
		t.Fatalf("status = %d", status)
	}
	var resp listTransitionsResponse
	decode(t, body, &resp)
	if resp.Transitions == nil || len(resp.Transitions) != 0 {
		t.Errorf("transitions = %v, want empty array", resp.Transitions)
	}
	if resp.Limit != defaultListLimit || resp.Offset != 0 {
		t.Errorf("limit/offset = %d/%d, want %d/0", resp.Limit, resp.Offset, defaultListLimit)
	}
}

func TestGetStats(t *testing.T) {
	srv := newTestServer(t)
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	driveApp(t, ts.URL, "com.example.a", "deactivate")
	driveApp(t, ts.URL, "com.example.b", "memory_pressure")

	status, body := doJSON(t, "GET", ts.URL+"/v1/stats", "")
	if status != http.StatusOK {
		t.Fatalf("status = %d", status)
	}
	var stats statsResponse
	decode(t, body, &stats)
	if stats.Total != 4 {
		t.Errorf("total = %d, want 4", stats.Total)
	}
	if stats.Forced != 1 {
		t.Errorf("forced = %d, want 1", stats.Forced)
	}
	if stats.TrackedApps != 2 {
		t.Errorf("tracked_apps = %d, want 2", stats.TrackedApps)
	}
	if stats.CurrentStates[string(model.StateTerminated)] != 1 {
		t.Errorf("current_states = %v, want one terminated", stats.CurrentStates)
	}
}

func TestListDiagnostics(t *testing.T) {
	srv := newTestServer(t)
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	status, body := doJSON(t, "GET", ts.URL+"/v1/diagnostics", "")
	if status != http.StatusOK {
		t.Fatalf("status = %d", status)
	}
	var empty listDiagnosticsResponse
	decode(t, body, &empty)
	if len(empty.Diagnostics) != 0 {
		t.Errorf("diagnostics = %v, want none", empty.Diagnostics)
	}

	err := srv.sqlite.RecordDiagnostic(context.Background(), model.Diagnostic{
		ID: model.NewID(), Code: "simulated_unsupported", Message: "no suppress", CreatedAt: time.Now().UTC(),
	})
	if err != nil {
		t.Fatalf("RecordDiagnostic: %v", err)
	}

	_, body = doJSON(t, "GET", ts.URL+"/v1/diagnostics", "")
	var resp listDiagnosticsResponse
	decode(t, body, &resp)
	if len(resp.Diagnostics) != 1 || resp.Diagnostics[0].Code != "simulated_unsupported" {
		t.Errorf("diagnostics = %+v, want one simulated_unsupported", resp.Diagnostics)
	}
}

package e2e

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/seantiz/backgrounder/internal/api"
	"github.com/seantiz/backgrounder/internal/eventsource"
	"github.com/seantiz/backgrounder/internal/lifecycle"
	"github.com/seantiz/backgrounder/internal/model"
	"github.com/seantiz/backgrounder/internal/policy"
	"github.com/seantiz/backgrounder/internal/prefs"
	"github.com/seantiz/backgrounder/internal/store"
)

const appID = "com.example.player"

// stack is the daemon wired end to end: HTTP API, event socket and a real
// SQLite journal.
type stack struct {
	url    string
	socket string
}

func newStack(t *testing.T) *stack {
	t.Helper()
	logger := slog.New(slog.NewJSONHandler(io.Discard, nil))

	db, err := store.NewSQLiteStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	ps := prefs.NewStore(prefs.NewMemoryBackend(nil), "1.0.0", logger)
	require.NoError(t, ps.Load(context.Background()))

	diags := policy.NewDiagnostics(db, logger)
	resolver := policy.NewResolver(ps, policy.Options{}, diags, logger)
	bridge := eventsource.NewBridge()
	mediator := lifecycle.NewMediator(resolver, bridge, db, diags, logger)
	ps.Subscribe(func(*prefs.Document) { mediator.NotifyPolicyChange() })

	ctx, cancel := context.WithCancel(context.Background())
	mediatorDone := make(chan struct{})
	go func() {
		defer close(mediatorDone)
		mediator.Run(ctx, nil)
	}()

	socket := filepath.Join(t.TempDir(), "events.sock")
	ln, err := eventsource.ListenUnix(socket)
	require.NoError(t, err)
	listener := eventsource.NewListener(ln, bridge.Handler(mediator), logger)
	listenerDone := make(chan error, 1)
	go func() { listenerDone <- listener.Serve(ctx) }()

	srv := api.NewServer(":0", db, ps, resolver, mediator, logger)
	ts := httptest.NewServer(srv.Router())

	t.Cleanup(func() {
		ts.Close()
		cancel()
		require.NoError(t, <-listenerDone)
		<-mediatorDone
		mediator.Broker().Close()
	})

	return &stack{url: ts.URL, socket: socket}
}

func (s *stack) client(t *testing.T) *eventsource.Client {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	t.Cleanup(cancel)
	c, err := eventsource.Dial(ctx, "unix", s.socket)
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	return c
}

func (s *stack) do(t *testing.T, method, path, body string) (int, []byte) {
	t.Helper()
	req, err := http.NewRequest(method, s.url+path, strings.NewReader(body))
	require.NoError(t, err)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	b, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, b
}

func (s *stack) app(t *testing.T) lifecycle.AppStatus {
	t.Helper()
	status, body := s.do(t, http.MethodGet, "/v1/apps/"+appID, "")
	require.Equal(t, http.StatusOK, status, string(body))
	var st lifecycle.AppStatus
	require.NoError(t, json.Unmarshal(body, &st))
	return st
}

func TestBackgrounderHoldAndRelease(t *testing.T) {
	s := newStack(t)
	c := s.client(t)

	status, body := s.do(t, http.MethodPut, "/v1/preferences/apps/"+appID, `{"backgroundingMethod":"backgrounder","enableAtLaunch":true}`)
	require.Equal(t, http.StatusOK, status, string(body))

	snap := &model.AppSnapshot{AppID: appID, PID: 42, Running: true, Active: true}
	_, err := c.Send(model.Event{AppID: appID, Type: model.EventActivate, Snapshot: snap})
	require.NoError(t, err)

	for _, typ := range []model.EventType{model.EventDeactivate, model.EventEnterBackground} {
		_, err := c.Send(model.Event{AppID: appID, Type: typ})
		require.NoError(t, err)
	}

	reply, err := c.Send(model.Event{AppID: appID, Type: model.EventWillSuspend})
	require.NoError(t, err)
	require.Equal(t, model.StateBackgroundActive, reply.State)
	require.Equal(t, []model.Action{model.ActionSuppressSuspension}, reply.Actions)
	require.True(t, s.app(t).Held)

	// Switching the override off releases the held application.
	status, body = s.do(t, http.MethodPut, "/v1/preferences/apps/"+appID, `{"backgroundingMethod":"off"}`)
	require.Equal(t, http.StatusOK, status, string(body))

	require.Eventually(t, func() bool { return !s.app(t).Held }, 5*time.Second, 20*time.Millisecond)

	reply, err = c.Send(model.Event{AppID: appID, Type: model.EventWillSuspend})
	require.NoError(t, err)
	require.Contains(t, reply.Actions, model.ActionPermitSuspension)

	status, body = s.do(t, http.MethodGet, "/v1/apps/"+appID+"/transitions", "")
	require.Equal(t, http.StatusOK, status, string(body))
	require.Contains(t, string(body), string(model.EventPolicyChange))
}

func TestMemoryPressureOverHTTPAndSocket(t *testing.T) {
	s := newStack(t)
	c := s.client(t)

	snap := &model.AppSnapshot{AppID: appID, Running: true, Active: true}
	_, err := c.Send(model.Event{AppID: appID, Type: model.EventActivate, Snapshot: snap})
	require.NoError(t, err)

	status, body := s.do(t, http.MethodPost, "/v1/apps/"+appID+"/events", `{"type":"memory_pressure"}`)
	require.Equal(t, http.StatusOK, status, string(body))

	st := s.app(t)
	require.Equal(t, model.StateTerminated, st.State)
	require.Equal(t, model.ActionTerminate, st.Action)

	// The terminate request reaches the host with its next reply.
	reply, err := c.Send(model.Event{AppID: appID, Type: model.EventWillTerminate})
	require.NoError(t, err)
	require.Contains(t, reply.Actions, model.ActionTerminate)
}

package eventsource_test

import (
	"context"
	"io"
	"log/slog"
	"net"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/seantiz/backgrounder/internal/eventsource"
	"github.com/seantiz/backgrounder/internal/lifecycle"
	"github.com/seantiz/backgrounder/internal/model"
	"github.com/seantiz/backgrounder/internal/policy"
	"github.com/seantiz/backgrounder/internal/prefs"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}

// startStack wires a mediator behind a bridge and serves it on a Unix socket.
func startStack(t *testing.T, method model.Method) (string, *lifecycle.Mediator) {
	t.Helper()
	logger := discardLogger()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	store := prefs.NewStore(prefs.NewMemoryBackend(nil), "1.0.0", logger)
	enabled := true
	require.NoError(t, store.Set(ctx, prefs.GlobalKey, prefs.Record{Method: &method, EnableAtLaunch: &enabled}))

	resolver := policy.NewResolver(store, policy.Options{}, nil, logger)
	bridge := eventsource.NewBridge()
	m := lifecycle.NewMediator(resolver, bridge, nil, nil, logger)
	go m.Run(ctx, nil)

	path := filepath.Join(t.TempDir(), "events.sock")
	ln, err := eventsource.ListenUnix(path)
	require.NoError(t, err)

	l := eventsource.NewListener(ln, bridge.Handler(m), logger)
	done := make(chan error, 1)
	go func() { done <- l.Serve(ctx) }()
	t.Cleanup(func() {
		cancel()
		select {
		case err := <-done:
			require.NoError(t, err)
		case <-time.After(2 * time.Second):
			t.Error("listener did not stop")
		}
	})
	return path, m
}

func dial(t *testing.T, path string) *eventsource.Client {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	c, err := eventsource.Dial(ctx, "unix", path)
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	return c
}

func TestListenerBackgrounderSequence(t *testing.T) {
	path, m := startStack(t, model.MethodBackgrounder)
	c := dial(t, path)

	snap := &model.AppSnapshot{AppID: "com.example.app", PID: 10, Running: true, Active: true}
	reply, err := c.Send(model.Event{AppID: "com.example.app", Type: model.EventActivate, Snapshot: snap})
	require.NoError(t, err)
	require.Equal(t, model.StateForeground, reply.State)
	require.Empty(t, reply.Actions)

	reply, err = c.Send(model.Event{AppID: "com.example.app", Type: model.EventDeactivate})
	require.NoError(t, err)
	require.Equal(t, model.StateTransitioning, reply.State)
	require.Equal(t, model.MethodBackgrounder, reply.Method)
	require.Equal(t, []model.Action{model.ActionSuppressSuspension}, reply.Actions)

	_, err = c.Send(model.Event{AppID: "com.example.app", Type: model.EventEnterBackground})
	require.NoError(t, err)

	reply, err = c.Send(model.Event{AppID: "com.example.app", Type: model.EventWillSuspend})
	require.NoError(t, err)
	require.Equal(t, model.StateBackgroundActive, reply.State)
	require.Equal(t, []model.Action{model.ActionSuppressSuspension}, reply.Actions)

	status, ok := m.App("com.example.app")
	require.True(t, ok)
	require.True(t, status.Held)
	require.Equal(t, 10, status.PID)
}

func TestListenerSurfaceDowngrade(t *testing.T) {
	path, _ := startStack(t, model.MethodBackgrounder)
	c := dial(t, path)

	snap := &model.AppSnapshot{AppID: "com.example.app", Running: true, Active: true}
	_, err := c.Send(model.Event{
		AppID:    "com.example.app",
		Type:     model.EventActivate,
		Snapshot: snap,
		Surface:  []model.Action{model.ActionPermitSuspension, model.ActionTerminate},
	})
	require.NoError(t, err)

	reply, err := c.Send(model.Event{AppID: "com.example.app", Type: model.EventDeactivate})
	require.NoError(t, err)
	require.Equal(t, model.MethodOff, reply.Method)
	require.Equal(t, []model.Action{model.ActionPermitSuspension}, reply.Actions)
}

func TestListenerRejectsInvalidTransition(t *testing.T) {
	path, _ := startStack(t, model.MethodNative)
	c := dial(t, path)

	snap := &model.AppSnapshot{AppID: "com.example.app", Running: true, Active: true}
	_, err := c.Send(model.Event{AppID: "com.example.app", Type: model.EventActivate, Snapshot: snap})
	require.NoError(t, err)

	reply, err := c.Send(model.Event{AppID: "com.example.app", Type: model.EventWillSuspend})
	require.Error(t, err)
	require.Contains(t, reply.Error, "invalid lifecycle transition")
	require.Equal(t, model.StateForeground, reply.State)

	// The connection stays usable after a rejected event.
	reply, err = c.Send(model.Event{AppID: "com.example.app", Type: model.EventMemoryPressure})
	require.NoError(t, err)
	require.Equal(t, model.StateTerminated, reply.State)
	require.Equal(t, []model.Action{model.ActionTerminate}, reply.Actions)
}

func TestListenerMultipleConnections(t *testing.T) {
	path, m := startStack(t, model.MethodNative)

	for _, id := range []string{"com.example.a", "com.example.b"} {
		c := dial(t, path)
		snap := &model.AppSnapshot{AppID: id, Running: true, Active: true}
		_, err := c.Send(model.Event{AppID: id, Type: model.EventActivate, Snapshot: snap})
		require.NoError(t, err)
	}

	require.Len(t, m.Apps(), 2)
}

func TestListenerMalformedFrame(t *testing.T) {
	path, _ := startStack(t, model.MethodNative)

	conn, err := net.Dial("unix", path)
	require.NoError(t, err)
	defer conn.Close()

	_, err = conn.Write([]byte{0, 0, 0, 2, '{', 'x'})
	require.NoError(t, err)

	var reply eventsource.Reply
	require.NoError(t, eventsource.ReadMessage(conn, &reply))
	require.NotEmpty(t, reply.Error)
}

func TestDialGivesUpOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := eventsource.Dial(ctx, "unix", filepath.Join(t.TempDir(), "missing.sock"))
	require.ErrorIs(t, err, context.Canceled)
}

func TestDialRetriesUntilListening(t *testing.T) {
	path := filepath.Join(t.TempDir(), "late.sock")

	go func() {
		time.Sleep(150 * time.Millisecond)
		ln, err := eventsource.ListenUnix(path)
		if err != nil {
			return
		}
		conn, err := ln.Accept()
		if err == nil {
			conn.Close()
		}
		ln.Close()
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	c, err := eventsource.Dial(ctx, "unix", path)
	require.NoError(t, err)
	c.Close()
}

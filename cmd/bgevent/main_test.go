package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/seantiz/backgrounder/internal/eventsource"
	"github.com/seantiz/backgrounder/internal/model"
)

func TestBuildEventWithSnapshot(t *testing.T) {
	cmd := newRootCommand()
	require.NoError(t, cmd.ParseFlags([]string{"--snapshot", "--pid", "9", "--active", "--mode", "voip,audio", "--surface", "permit_suspension"}))

	var opts options
	opts.snapshot, _ = cmd.Flags().GetBool("snapshot")
	opts.pid, _ = cmd.Flags().GetInt("pid")
	opts.running, _ = cmd.Flags().GetBool("running")
	opts.active, _ = cmd.Flags().GetBool("active")
	opts.modes, _ = cmd.Flags().GetStringSlice("mode")
	opts.surface, _ = cmd.Flags().GetStringSlice("surface")

	ev, err := buildEvent(cmd, opts, "com.example.app", "deactivate")
	require.NoError(t, err)
	require.Equal(t, model.EventDeactivate, ev.Type)
	require.NotNil(t, ev.Snapshot)
	require.Equal(t, 9, ev.Snapshot.PID)
	require.True(t, ev.Snapshot.Running)
	require.True(t, ev.Snapshot.Active)
	require.True(t, ev.Snapshot.Capabilities.VOIP)
	require.True(t, ev.Snapshot.Capabilities.Audio)
	require.Equal(t, []model.Action{model.ActionPermitSuspension}, ev.Surface)
}

func TestBuildEventRejectsUnknownInput(t *testing.T) {
	cmd := newRootCommand()

	_, err := buildEvent(cmd, options{}, "com.example.app", "explode")
	require.Error(t, err)

	_, err = buildEvent(cmd, options{snapshot: true, modes: []string{"telepathy"}}, "com.example.app", "activate")
	require.Error(t, err)
}

func TestBuildEventLeavesSurfaceUnreported(t *testing.T) {
	cmd := newRootCommand()
	require.NoError(t, cmd.ParseFlags(nil))

	ev, err := buildEvent(cmd, options{}, "com.example.app", "activate")
	require.NoError(t, err)
	require.Nil(t, ev.Surface)
	require.Nil(t, ev.Snapshot)
}

func TestRelayOverUnixSocket(t *testing.T) {
	path := filepath.Join(t.TempDir(), "events.sock")
	ln, err := eventsource.ListenUnix(path)
	require.NoError(t, err)

	handler := eventsource.HandlerFunc(func(_ context.Context, ev model.Event) eventsource.Reply {
		return eventsource.Reply{AppID: ev.AppID, State: model.StateTransitioning, Method: model.MethodNative}
	})
	l := eventsource.NewListener(ln, handler, slog.New(slog.NewJSONHandler(io.Discard, nil)))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- l.Serve(ctx) }()
	defer func() {
		cancel()
		require.NoError(t, <-done)
	}()

	var out bytes.Buffer
	cmd := newRootCommand()
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"--socket", path, "com.example.app", "deactivate"})
	require.NoError(t, cmd.Execute())

	var reply eventsource.Reply
	require.NoError(t, json.Unmarshal(out.Bytes(), &reply))
	require.Equal(t, "com.example.app", reply.AppID)
	require.Equal(t, model.StateTransitioning, reply.State)
}

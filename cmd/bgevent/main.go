// Command bgevent relays one lifecycle event to a running backgrounderd over
// its Unix or vsock event socket and prints the reply as JSON.
//
// Example: bgevent --socket /run/backgrounder.sock com.example.app deactivate
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/seantiz/backgrounder/internal/config"
	"github.com/seantiz/backgrounder/internal/eventsource"
	"github.com/seantiz/backgrounder/internal/model"
)

// hostCID is the vsock context id of the host.
const hostCID = 2

type options struct {
	network string
	socket  string
	cid     uint32
	port    uint32
	timeout time.Duration

	snapshot bool
	pid      int
	running  bool
	active   bool
	suspend  bool
	modes    []string
	surface  []string
}

func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	var opts options

	cmd := &cobra.Command{
		Use:          "bgevent <app-id> <event>",
		Short:        "Send a lifecycle event to backgrounderd",
		Args:         cobra.ExactArgs(2),
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			ev, err := buildEvent(cmd, opts, args[0], args[1])
			if err != nil {
				return err
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), opts.timeout)
			defer cancel()

			client, err := dial(ctx, opts)
			if err != nil {
				return err
			}
			defer client.Close()

			reply, sendErr := client.Send(ev)
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			if err := enc.Encode(reply); err != nil {
				return fmt.Errorf("encode reply: %w", err)
			}
			return sendErr
		},
	}

	f := cmd.Flags()
	f.StringVar(&opts.network, "network", config.NetworkUnix, "event transport: unix or vsock")
	f.StringVar(&opts.socket, "socket", "backgrounder.sock", "unix socket path")
	f.Uint32Var(&opts.cid, "cid", hostCID, "vsock context id of the listener")
	f.Uint32Var(&opts.port, "port", 1025, "vsock port of the listener")
	f.DurationVar(&opts.timeout, "timeout", 5*time.Second, "overall deadline")

	f.BoolVar(&opts.snapshot, "snapshot", false, "attach an application snapshot built from the flags below")
	f.IntVar(&opts.pid, "pid", 0, "process id")
	f.BoolVar(&opts.running, "running", true, "application is running")
	f.BoolVar(&opts.active, "active", false, "application is in the foreground")
	f.BoolVar(&opts.suspend, "suspended", false, "application is suspended")
	f.StringSliceVar(&opts.modes, "mode", nil, "declared background modes: audio, location, voip, continuous")
	f.StringSliceVar(&opts.surface, "surface", nil, "actions the host supports; omit to leave unreported")

	return cmd
}

func buildEvent(cmd *cobra.Command, opts options, appID, typ string) (model.Event, error) {
	ev := model.Event{
		ID:    model.NewID(),
		AppID: appID,
		Type:  model.EventType(typ),
		At:    time.Now().UTC(),
	}
	if !ev.Type.Valid() {
		return model.Event{}, fmt.Errorf("unknown event type %q", typ)
	}

	if opts.snapshot {
		caps, err := parseModes(opts.modes)
		if err != nil {
			return model.Event{}, err
		}
		ev.Snapshot = &model.AppSnapshot{
			AppID:        appID,
			PID:          opts.pid,
			Running:      opts.running,
			Active:       opts.active,
			Suspended:    opts.suspend,
			Capabilities: caps,
		}
	}

	if cmd.Flags().Changed("surface") {
		ev.Surface = make([]model.Action, 0, len(opts.surface))
		for _, a := range opts.surface {
			ev.Surface = append(ev.Surface, model.Action(a))
		}
	}
	return ev, nil
}

func parseModes(modes []string) (model.Capabilities, error) {
	var caps model.Capabilities
	for _, m := range modes {
		switch strings.ToLower(m) {
		case "audio":
			caps.Audio = true
		case "location":
			caps.Location = true
		case "voip":
			caps.VOIP = true
		case "continuous":
			caps.Continuous = true
		default:
			return model.Capabilities{}, fmt.Errorf("unknown background mode %q", m)
		}
	}
	return caps, nil
}

func dial(ctx context.Context, opts options) (*eventsource.Client, error) {
	switch opts.network {
	case config.NetworkUnix:
		return eventsource.Dial(ctx, "unix", opts.socket)
	case config.NetworkVsock:
		return eventsource.DialVsock(ctx, opts.cid, opts.port)
	default:
		return nil, fmt.Errorf("unknown network %q", opts.network)
	}
}

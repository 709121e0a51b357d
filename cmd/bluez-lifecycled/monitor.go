package main

import (
	"fmt"
	"os/signal"
	"strings"
	"syscall"

	"github.com/bluetuith-org/bluez-lifecycle/internal/dbusapi"
	"github.com/bluetuith-org/bluez-lifecycle/internal/serde"
	"github.com/godbus/dbus/v5"
	"github.com/spf13/cobra"
)

// monitorEvent is one signal printed by the monitor.
type monitorEvent struct {
	Path      string `json:"path" codec:"Path"`
	Interface string `json:"interface" codec:"Interface"`
	Member    string `json:"member" codec:"Member"`
	Body      []any  `json:"body,omitempty" codec:"Body,omitempty"`
}

func newMonitorCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "monitor",
		Short: "Print signals emitted by a running daemon as JSON lines",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := flags.load()
			if err != nil {
				return err
			}

			var conn *dbus.Conn
			if cfg.Bus.System {
				conn, err = dbus.ConnectSystemBus()
			} else {
				conn, err = dbus.ConnectSessionBus()
			}
			if err != nil {
				return err
			}
			defer conn.Close()

			if err := conn.AddMatchSignal(dbus.WithMatchSender(dbusapi.ServiceName)); err != nil {
				return err
			}

			signals := make(chan *dbus.Signal, 32)
			conn.Signal(signals)

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			out := cmd.OutOrStdout()

			for {
				select {
				case <-ctx.Done():
					return nil

				case sig, ok := <-signals:
					if !ok {
						return nil
					}

					data, err := serde.MarshalJson(newMonitorEvent(sig))
					if err != nil {
						return err
					}

					fmt.Fprintln(out, string(data))
				}
			}
		},
	}
}

func newMonitorEvent(sig *dbus.Signal) monitorEvent {
	iface, member := sig.Name, ""
	if idx := strings.LastIndexByte(sig.Name, '.'); idx >= 0 {
		iface, member = sig.Name[:idx], sig.Name[idx+1:]
	}

	body := make([]any, 0, len(sig.Body))
	for _, v := range sig.Body {
		body = append(body, plain(v))
	}

	return monitorEvent{
		Path:      string(sig.Path),
		Interface: iface,
		Member:    member,
		Body:      body,
	}
}

// plain unwraps bus variants so that values encode as JSON.
func plain(v any) any {
	switch v := v.(type) {
	case dbus.Variant:
		return plain(v.Value())

	case dbus.ObjectPath:
		return string(v)

	case []dbus.ObjectPath:
		paths := make([]string, 0, len(v))
		for _, p := range v {
			paths = append(paths, string(p))
		}

		return paths

	case map[string]dbus.Variant:
		m := make(map[string]any, len(v))
		for k, val := range v {
			m[k] = plain(val)
		}

		return m
	}

	return v
}

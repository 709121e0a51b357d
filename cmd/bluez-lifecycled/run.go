package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/bluetuith-org/bluez-lifecycle/api/bluetooth"
	"github.com/bluetuith-org/bluez-lifecycle/internal/daemon"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func newRunCmd(flags *globalFlags) *cobra.Command {
	var (
		acceptAll bool
		storage   string
		listen    string
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Serve the configured adapters until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := flags.load()
			if err != nil {
				return err
			}

			if storage != "" {
				cfg.Storage.Path = storage
			}

			if listen != "" {
				cfg.Metrics.Listen = listen
			}

			log, err := flags.logger(cfg)
			if err != nil {
				return err
			}
			defer log.Sync()

			var auth bluetooth.ServiceAuthorizer
			if acceptAll {
				auth = bluetooth.DefaultAuthorizer{}
			}

			d := daemon.New(log)
			if err := d.Start(auth, cfg); err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			<-ctx.Done()
			log.Info("Shutting down", zap.NamedError("reason", context.Cause(ctx)))

			return d.Stop()
		},
	}

	cmd.Flags().StringVar(&storage, "storage", "", "override the storage directory")
	cmd.Flags().StringVar(&listen, "metrics", "", "serve metrics on this address")
	cmd.Flags().BoolVar(&acceptAll, "accept-all", false, "authorize incoming connections when no agent is registered")

	return cmd
}

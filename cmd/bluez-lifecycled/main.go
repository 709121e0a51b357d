// Command bluez-lifecycled runs the connection lifecycle engine.
package main

import (
	"fmt"
	"os"

	"github.com/bluetuith-org/bluez-lifecycle/api/config"
	"github.com/bluetuith-org/bluez-lifecycle/internal/logging"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

type globalFlags struct {
	configPath string
	logLevel   string
	session    bool
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	flags := &globalFlags{}

	root := &cobra.Command{
		Use:           "bluez-lifecycled",
		Short:         "Bluetooth connection lifecycle daemon",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().StringVarP(&flags.configPath, "config", "c", "/etc/bluez-lifecycle/config.yaml", "path to the configuration file")
	root.PersistentFlags().StringVar(&flags.logLevel, "log-level", "", "override the configured log level")
	root.PersistentFlags().BoolVar(&flags.session, "session-bus", false, "use the session bus instead of the system bus")

	root.AddCommand(
		newRunCmd(flags),
		newMonitorCmd(flags),
		newConfigCmd(flags),
	)

	return root
}

// load reads the configuration and applies the command line overrides.
func (f *globalFlags) load() (config.Configuration, error) {
	cfg, err := config.Load(f.configPath)
	if err != nil {
		return cfg, err
	}

	if f.logLevel != "" {
		cfg.Log.Level = f.logLevel
	}

	if f.session {
		cfg.Bus.System = false
	}

	return cfg, nil
}

func (f *globalFlags) logger(cfg config.Configuration) (*zap.Logger, error) {
	return logging.New(cfg.Log)
}

// Package cli implements the vulnscope command tree. Commands operate
// directly on the security core rather than through a remote API; the
// binary is an operator tool for the machine the core runs on.
package cli

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/vulnscope-systems/vulnscope-core/internal/config"
	"github.com/vulnscope-systems/vulnscope-core/internal/events"
	"github.com/vulnscope-systems/vulnscope-core/internal/logging"
	"github.com/vulnscope-systems/vulnscope-core/internal/security"
)

var (
	cfgFile string
	cfg     *config.Config
)

var rootCmd = &cobra.Command{
	Use:   "vulnscope",
	Short: "VulnScope security core CLI",
	Long: `vulnscope manages the VulnScope security core.

Create and authenticate principals, execute commands in isolation
sandboxes, query the tamper-evident audit trail, and run compliance
checks against the installation.`,
	Version: "0.1.0",
}

func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ./config.yaml, /etc/vulnscope/config.yaml)")
	rootCmd.PersistentFlags().String("output", "table", "output format: table, json")
}

func initConfig() {
	var err error
	cfg, err = config.Load(cfgFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Warning: could not load config: %v\n", err)
		cfg = config.Default()
	}
	logging.SetDefault(logging.New(logging.ParseLevel(cfg.Logging.Level), cfg.Logging.Format))
}

// newManager builds the security core for one command invocation. The
// event bus is optional; a broker outage must not lock operators out of
// their own tooling.
func newManager(ctx context.Context) (*security.Manager, error) {
	var bus events.Bus
	if cfg.Events.Enabled {
		nb, err := events.NewNATSBus(events.NATSConfig{
			URL:           cfg.Events.URL,
			Name:          cfg.Events.Name,
			MaxReconnects: 3,
		}, logging.Default())
		if err != nil {
			warnf("event broker unreachable, continuing without it: %v", err)
		} else {
			bus = nb
		}
	}
	return security.New(ctx, cfg, bus, logging.Default())
}

func jsonOutput(cmd *cobra.Command) bool {
	format, _ := cmd.Flags().GetString("output")
	return format == "json"
}

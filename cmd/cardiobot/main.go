// Command cardiobot runs the cardiology decision-support assistant.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/clinicapro/cardiobot/pkg/config"
	"github.com/clinicapro/cardiobot/pkg/observability"
)

// Version information (set via ldflags)
var Version = "dev"

var (
	configFile string
	verbose    bool
)

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "cardiobot",
		Short: "Cardiology decision-support assistant",
		Long: `cardiobot analyses clinical cases through a chain of cardiology specialist
roles and a coordinator that writes a structured SOAP report.

Run "cardiobot console" for an interactive session or "cardiobot analyze" for a
single case.`,
		SilenceUsage: true,
	}

	root.PersistentFlags().StringVarP(&configFile, "config", "c", os.Getenv("CARDIOBOT_CONFIG"), "configuration file (YAML)")
	root.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")

	root.AddCommand(newConsoleCmd(), newAnalyzeCmd(), newVersionCmd())
	return root
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

// loadConfig reads and validates the configuration.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configFile)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func newLogger(cfg *config.Config) (*zap.Logger, error) {
	level := cfg.Observability.LogLevel
	if verbose {
		level = "debug"
	}
	return observability.NewLogger(level, cfg.Observability.LogFormat)
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "cardiobot %s\n", Version)
		},
	}
}

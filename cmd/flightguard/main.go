// flightguard validates aviation telemetry batches, detects anomalies,
// quarantines suspect records and routes alerts.
//
// Usage:
//
//	flightguard serve -c flightguard.yaml
//	flightguard process -i states.json --baseline baseline.yaml
//	flightguard quarantine list --status pending_review
//	flightguard quarantine release <id> --reviewer ops-1
//	flightguard baseline build -i history.json --out baseline.yaml
//	flightguard config check -c flightguard.yaml
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	version    = "dev"
	configPath string
	logLevel   string
)

func main() {
	rootCmd := &cobra.Command{
		Use:           "flightguard",
		Short:         "Telemetry quality validation and anomaly detection",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Config file (yaml or json); defaults apply when empty")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Override the configured log level")

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(processCmd())
	rootCmd.AddCommand(quarantineCmd())
	rootCmd.AddCommand(baselineCmd())
	rootCmd.AddCommand(configCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

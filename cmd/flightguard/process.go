package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"flightguard/internal/engine"
	"flightguard/internal/ingest"
)

func processCmd() *cobra.Command {
	var input, baselinePath, batchID, output string
	cmd := &cobra.Command{
		Use:   "process",
		Short: "Process one telemetry batch and print its report",
		Long: `Process one batch read from a file or stdin.

The payload may be an OpenSky state snapshot, a {"id","records"} batch or a
JSON array of records.

Examples:
  flightguard process -i states.json
  curl -s https://opensky-network.org/api/states/all | flightguard process -o summary`,
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := readInput(input)
			if err != nil {
				return err
			}
			batch, err := ingest.ParseBatch(data, "cli")
			if err != nil {
				return err
			}
			if batchID != "" {
				batch.ID = batchID
			}

			a, err := newApp(cmd.Context(), os.Stderr)
			if err != nil {
				return err
			}
			defer a.Close()
			base, err := baselineProvider(baselinePath).Baseline(cmd.Context())
			if err != nil {
				return fmt.Errorf("load baseline: %w", err)
			}
			report := a.engine.Process(cmd.Context(), batch, base, time.Now().UTC())

			out := cmd.OutOrStdout()
			switch output {
			case "summary":
				fmt.Fprintf(out, "batch %s: %d records, %d evaluated, average quality %.3f\n",
					report.BatchID, report.Records, report.Evaluated, report.AverageQuality)
				fmt.Fprintf(out, "grades: %s\n", strings.Join(engine.GradeDistribution(report), " "))
				fmt.Fprintf(out, "anomalies: %d on %d records\n", report.Anomalies.Total, report.Anomalies.Records)
				fmt.Fprintf(out, "dispositions: %v\n", report.Dispositions)
				for _, ev := range report.Dispatched() {
					fmt.Fprintf(out, "alert %s/%s: %s\n", ev.Category, ev.Severity, ev.Message)
				}
			default:
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				if err := enc.Encode(report); err != nil {
					return err
				}
			}
			if report.Fatal {
				return fmt.Errorf("batch %s fatal: %s", report.BatchID, report.FatalReason)
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&input, "input", "i", "-", "Batch file, - for stdin")
	cmd.Flags().StringVar(&baselinePath, "baseline", "", "Baseline file (yaml or json)")
	cmd.Flags().StringVar(&batchID, "batch-id", "", "Override the batch id")
	cmd.Flags().StringVarP(&output, "output", "o", "json", "Output format: json, summary")
	return cmd
}

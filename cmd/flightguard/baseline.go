package main

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"flightguard/internal/baseline"
	"flightguard/internal/ingest"
	"flightguard/internal/model"
)

func baselineCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "baseline",
		Short: "Manage the statistics batches are compared against",
	}
	cmd.AddCommand(baselineBuildCmd())
	return cmd
}

func baselineBuildCmd() *cobra.Command {
	var inputs, reportFiles []string
	var out string
	cmd := &cobra.Command{
		Use:   "build",
		Short: "Compute a baseline from historical batches and reports",
		Long: `Compute field statistics from historical telemetry batches and the
trailing quality average from saved batch reports.

Examples:
  flightguard baseline build -i day1.json -i day2.json --reports reports.json --out baseline.yaml`,
		RunE: func(cmd *cobra.Command, args []string) error {
			manager, err := loadManager()
			if err != nil {
				return err
			}
			cfg := manager.Get()

			var records []model.TelemetryRecord
			for _, path := range inputs {
				data, err := readInput(path)
				if err != nil {
					return err
				}
				recs, _, err := ingest.ParseRecords(data, "")
				if err != nil {
					return fmt.Errorf("%s: %w", path, err)
				}
				records = append(records, recs...)
			}
			var reports []model.BatchReport
			for _, path := range reportFiles {
				data, err := readInput(path)
				if err != nil {
					return err
				}
				var rs []model.BatchReport
				if err := json.Unmarshal(data, &rs); err != nil {
					var one model.BatchReport
					if err2 := json.Unmarshal(data, &one); err2 != nil {
						return fmt.Errorf("%s: %w", path, err)
					}
					rs = []model.BatchReport{one}
				}
				reports = append(reports, rs...)
			}

			b := baseline.Compute(cfg.Detection.StatisticalFields, records, reports, time.Now())
			if err := baseline.Save(out, b); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "baseline written to %s: %d fields from %d records, quality mean %.3f over %d samples\n",
				out, len(b.Fields), len(records), b.QualityMean, b.QualitySamples)
			return nil
		},
	}
	cmd.Flags().StringArrayVarP(&inputs, "input", "i", nil, "Historical batch file (repeatable)")
	cmd.Flags().StringArrayVar(&reportFiles, "reports", nil, "Batch report file (repeatable)")
	cmd.Flags().StringVar(&out, "out", "baseline.yaml", "Output file (yaml or json)")
	return cmd
}

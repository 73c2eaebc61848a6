package main

import (
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"flightguard/internal/config"
	"flightguard/internal/model"
	"flightguard/internal/quarantine"
)

func quarantineCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "quarantine",
		Short: "Inspect and review quarantined records",
	}
	cmd.AddCommand(quarantineListCmd())
	cmd.AddCommand(quarantineReviewCmd("release", model.StatusReleased))
	cmd.AddCommand(quarantineReviewCmd("purge", model.StatusPurged))
	cmd.AddCommand(quarantineExpireCmd())
	return cmd
}

// withCoordinator opens the configured store for one review command.
func withCoordinator(cmd *cobra.Command, fn func(c *quarantine.Coordinator, cfg *config.Config) error) error {
	manager, err := loadManager()
	if err != nil {
		return err
	}
	cfg := manager.Get()
	store, err := openStore(cmd.Context(), cfg)
	if err != nil {
		return err
	}
	defer store.Close()
	return fn(quarantine.NewCoordinator(cfg.Quarantine, store, newLogger(cfg, os.Stderr)), cfg)
}

func quarantineListCmd() *cobra.Command {
	var filter model.QuarantineFilter
	var status, output string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List quarantine entries",
		RunE: func(cmd *cobra.Command, args []string) error {
			filter.Status = model.QuarantineStatus(status)
			return withCoordinator(cmd, func(c *quarantine.Coordinator, cfg *config.Config) error {
				entries, err := c.List(cmd.Context(), filter)
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				if output == "json" {
					enc := json.NewEncoder(out)
					enc.SetIndent("", "  ")
					return enc.Encode(entries)
				}
				w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
				fmt.Fprintln(w, "ID\tAIRCRAFT\tBATCH\tSTATUS\tSCORE\tREASONS")
				for _, e := range entries {
					fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%.3f\t%v\n", e.ID, e.AircraftID, e.BatchID, e.Status, e.Assessment.Overall, e.ReasonCodes)
				}
				return w.Flush()
			})
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "Filter by status")
	cmd.Flags().StringVar(&filter.BatchID, "batch", "", "Filter by batch id")
	cmd.Flags().StringVar(&filter.AircraftID, "aircraft", "", "Filter by aircraft id")
	cmd.Flags().IntVar(&filter.Limit, "limit", 100, "Maximum entries")
	cmd.Flags().StringVarP(&output, "output", "o", "table", "Output format: table, json")
	return cmd
}

func quarantineReviewCmd(use string, next model.QuarantineStatus) *cobra.Command {
	var reviewer, note string
	cmd := &cobra.Command{
		Use:   use + " <id>",
		Short: fmt.Sprintf("Move an entry to %s", next),
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withCoordinator(cmd, func(c *quarantine.Coordinator, cfg *config.Config) error {
				entry, err := c.Transition(cmd.Context(), args[0], next, reviewer, note, time.Now().UTC())
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", entry.ID, entry.Status)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&reviewer, "reviewer", "", "Reviewer recorded on the entry")
	cmd.Flags().StringVar(&note, "note", "", "Review note")
	return cmd
}

func quarantineExpireCmd() *cobra.Command {
	var retention time.Duration
	cmd := &cobra.Command{
		Use:   "expire",
		Short: "Purge entries older than the retention period",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withCoordinator(cmd, func(c *quarantine.Coordinator, cfg *config.Config) error {
				keep := retention
				if keep <= 0 {
					keep = cfg.Quarantine.Retention
				}
				n, err := c.PurgeExpired(cmd.Context(), keep, time.Now().UTC())
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "purged %d entries older than %s\n", n, keep)
				return nil
			})
		},
	}
	cmd.Flags().DurationVar(&retention, "retention", 0, "Override quarantine.retention")
	return cmd
}

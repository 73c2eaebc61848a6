package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"flightguard/internal/api"
	"flightguard/internal/config"
	"flightguard/internal/ingest"
	"flightguard/internal/model"
)

func serveCmd() *cobra.Command {
	var baselinePath string
	var sweep time.Duration
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and the Kafka and spool batch consumers",
		Long: `Run flightguard as a service.

Batches arrive through POST /batches and, when enabled, from a Kafka topic
(ingest.kafka) or a drop directory (ingest.spool). The config file is watched and valid changes apply to
subsequent batches. Expired quarantine entries are purged periodically.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a, err := newApp(ctx, os.Stdout)
			if err != nil {
				return err
			}
			defer a.Close()
			cfg := a.manager.Get()
			provider := baselineProvider(baselinePath)

			if a.manager.Path() != "" {
				go func() {
					err := a.manager.Watch(ctx, func(next *config.Config) {
						if err := a.engine.UpdateConfig(next); err != nil {
							a.logger.Error("config update rejected", "err", err)
							return
						}
						a.logger.Info("config reloaded")
					}, func(err error) {
						a.logger.Error("config reload failed", "err", err)
					}, a.logger)
					if err != nil {
						a.logger.Error("config watch stopped", "err", err)
					}
				}()
			}

			if cfg.API.Enabled {
				srv := api.NewServer(a.manager, a.engine, provider, a.reports, a.history, a.publisher.Handler(), a.logger, version)
				api.Start(ctx, srv, cfg.API.Addr, os.Stdout)
			} else {
				a.logger.Info("api disabled")
			}

			handle := func(ctx context.Context, b model.Batch) error {
				base, err := provider.Baseline(ctx)
				if err != nil {
					return err
				}
				report := a.engine.Process(ctx, b, base, time.Now().UTC())
				if report.Fatal {
					return &batchFailed{id: b.ID, reason: report.FatalReason}
				}
				return nil
			}
			if cfg.Ingest.Kafka.Enabled {
				k := cfg.Ingest.Kafka
				a.logger.Info("kafka ingest enabled", "brokers", k.Brokers, "topic", k.Topic, "group_id", k.GroupID)
				batcher := ingest.NewBatcher(ingest.NewKafkaReader(k), k, handle, a.logger)
				go func() { _ = batcher.Run(ctx) }()
			} else {
				a.logger.Info("kafka ingest disabled")
			}
			if cfg.Ingest.Spool.Enabled {
				spool := ingest.NewSpool(cfg.Ingest.Spool, handle, a.logger)
				go func() {
					if err := spool.Run(ctx); err != nil {
						a.logger.Error("spool ingest stopped", "err", err)
					}
				}()
			}

			runRetentionSweep(ctx, a, sweep)
			a.logger.Info("shutting down")
			return nil
		},
	}
	cmd.Flags().StringVar(&baselinePath, "baseline", "", "Baseline file (yaml or json), re-read when it changes")
	cmd.Flags().DurationVar(&sweep, "retention-sweep", time.Hour, "Interval between purges of expired quarantine entries")
	return cmd
}

type batchFailed struct {
	id     string
	reason string
}

func (e *batchFailed) Error() string {
	return "batch " + e.id + " failed: " + e.reason
}

// runRetentionSweep blocks until ctx is done.
func runRetentionSweep(ctx context.Context, a *app, every time.Duration) {
	if every <= 0 {
		<-ctx.Done()
		return
	}
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			retention := a.engine.Config().Quarantine.Retention
			if retention <= 0 {
				continue
			}
			n, err := a.engine.Quarantine().PurgeExpired(ctx, retention, time.Now().UTC())
			if err != nil {
				a.logger.Warn("retention sweep failed", "err", err)
				continue
			}
			if n > 0 {
				a.logger.Info("expired quarantine entries purged", "count", n)
			}
		}
	}
}

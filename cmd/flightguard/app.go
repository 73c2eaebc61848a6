package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"flightguard/internal/alerts"
	"flightguard/internal/baseline"
	"flightguard/internal/config"
	"flightguard/internal/engine"
	"flightguard/internal/logging"
	"flightguard/internal/metrics"
	"flightguard/internal/notify"
	"flightguard/internal/storage"
)

// app is the wired component graph shared by the subcommands.
type app struct {
	manager   *config.Manager
	logger    *slog.Logger
	store     storage.Store
	router    *alerts.Router
	history   *alerts.Store
	reports   *metrics.Store
	publisher *metrics.Publisher
	engine    *engine.Engine
}

func loadManager() (*config.Manager, error) {
	if configPath == "" {
		return config.NewStaticManager(config.DefaultConfig()), nil
	}
	return config.NewManager(config.ResolvePath(configPath))
}

func newLogger(cfg *config.Config, w io.Writer) *slog.Logger {
	level := cfg.LogLevel
	if logLevel != "" {
		level = logLevel
	}
	return logging.New(w, level, cfg.LogFormat)
}

// openStore opens and initialises the configured store without the rest of
// the graph, for the review subcommands.
func openStore(ctx context.Context, cfg *config.Config) (storage.Store, error) {
	store, err := storage.NewStore(cfg.Storage)
	if err != nil {
		return nil, err
	}
	if err := store.Init(ctx); err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("init %s store: %w", cfg.Storage.Driver, err)
	}
	return store, nil
}

func newApp(ctx context.Context, logOut io.Writer) (*app, error) {
	manager, err := loadManager()
	if err != nil {
		return nil, err
	}
	cfg := manager.Get()
	logger := newLogger(cfg, logOut)

	store, err := openStore(ctx, cfg)
	if err != nil {
		return nil, err
	}
	channels, err := notify.Build(cfg.Alerts.Channels, logger)
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	history := alerts.NewStore(cfg.Alerts.HistoryLimit)
	router := alerts.NewRouter(cfg.Alerts, channels, history, logger)
	reports := metrics.NewStore(cfg.Metrics.ReportLimit)
	publisher := metrics.NewPublisher(cfg.Metrics.Namespace)
	eng, err := engine.NewEngine(cfg, store, router, logger,
		engine.WithReportHistory(reports),
		engine.WithPublisher(publisher),
	)
	if err != nil {
		router.Close()
		_ = store.Close()
		return nil, err
	}
	return &app{
		manager:   manager,
		logger:    logger,
		store:     store,
		router:    router,
		history:   history,
		reports:   reports,
		publisher: publisher,
		engine:    eng,
	}, nil
}

func (a *app) Close() {
	a.router.Close()
	if err := a.store.Close(); err != nil {
		a.logger.Warn("store close failed", "err", err)
	}
}

func baselineProvider(path string) baseline.Provider {
	if path == "" {
		return baseline.Static{}
	}
	return baseline.NewFileProvider(path)
}

func readInput(path string) ([]byte, error) {
	if path == "" || path == "-" {
		return io.ReadAll(os.Stdin)
	}
	return os.ReadFile(path)
}

package notify

import (
	"context"
	"log/slog"

	"flightguard/internal/model"
)

// LogChannel writes alerts to the structured log. It never fails.
type LogChannel struct {
	name   string
	logger *slog.Logger
}

func NewLog(name string, logger *slog.Logger) *LogChannel {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogChannel{name: name, logger: logger}
}

func (l *LogChannel) Name() string { return l.name }

func (l *LogChannel) Deliver(ctx context.Context, ev model.AlertEvent) error {
	level := slog.LevelWarn
	if ev.Severity == model.SeverityCritical {
		level = slog.LevelError
	}
	l.logger.Log(ctx, level, "alert",
		"channel", l.name,
		"category", ev.Category,
		"severity", ev.Severity,
		"batch_id", ev.BatchID,
		"message", ev.Message,
		"value", ev.Value,
		"threshold", ev.Threshold,
		"rollup", ev.Rollup,
		"suppressed_count", ev.SuppressedCount,
	)
	return nil
}

func (l *LogChannel) Close() error { return nil }

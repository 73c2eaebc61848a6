// Package notify implements the alert delivery channels.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"flightguard/internal/config"
	"flightguard/internal/model"
)

// Channel delivers one alert event. A returned error marked with
// retry.Permanent is not retried by the router.
type Channel interface {
	Name() string
	Deliver(ctx context.Context, ev model.AlertEvent) error
	Close() error
}

func New(cfg config.ChannelConfig, logger *slog.Logger) (Channel, error) {
	switch cfg.Type {
	case config.ChannelLog:
		return NewLog(cfg.Name, logger), nil
	case config.ChannelWebhook:
		return NewWebhook(cfg), nil
	case config.ChannelKafka:
		return NewKafka(cfg), nil
	case config.ChannelMQTT:
		return NewMQTT(cfg), nil
	}
	return nil, fmt.Errorf("unknown channel type %q", cfg.Type)
}

// Build constructs every configured channel in order, closing the already
// built ones on failure.
func Build(cfgs []config.ChannelConfig, logger *slog.Logger) ([]Channel, error) {
	out := make([]Channel, 0, len(cfgs))
	for _, c := range cfgs {
		ch, err := New(c, logger)
		if err != nil {
			CloseAll(out)
			return nil, fmt.Errorf("channel %s: %w", c.Name, err)
		}
		out = append(out, ch)
	}
	return out, nil
}

func CloseAll(chs []Channel) {
	for _, ch := range chs {
		_ = ch.Close()
	}
}

type payload struct {
	Source string           `json:"source"`
	Alert  model.AlertEvent `json:"alert"`
}

func encode(ev model.AlertEvent) ([]byte, error) {
	ev.Deliveries = nil
	return json.Marshal(payload{Source: "flightguard", Alert: ev})
}

func severityLabel(s model.Severity) string {
	switch s {
	case model.SeverityCritical:
		return "[CRITICAL]"
	case model.SeverityHigh:
		return "[HIGH]"
	case model.SeverityMedium:
		return "[MEDIUM]"
	}
	return "[INFO]"
}

func severityColor(s model.Severity) string {
	switch s {
	case model.SeverityCritical:
		return "FF4F6A"
	case model.SeverityHigh, model.SeverityMedium:
		return "FFAB40"
	}
	return "00D4FF"
}

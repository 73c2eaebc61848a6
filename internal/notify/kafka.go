package notify

import (
	"context"
	"time"

	"github.com/segmentio/kafka-go"

	"flightguard/internal/config"
	"flightguard/internal/model"
	"flightguard/internal/retry"
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Kafka publishes alerts keyed by their dedupe key so that one category and
// severity always lands on the same partition.
type Kafka struct {
	name   string
	writer messageWriter
}

func NewKafka(cfg config.ChannelConfig) *Kafka {
	return &Kafka{
		name: cfg.Name,
		writer: &kafka.Writer{
			Addr:         kafka.TCP(cfg.Brokers...),
			Topic:        cfg.Topic,
			Balancer:     &kafka.Hash{},
			RequiredAcks: kafka.RequireOne,
			WriteTimeout: cfg.Timeout,
			BatchTimeout: 10 * time.Millisecond,
		},
	}
}

func (k *Kafka) Name() string { return k.name }

func (k *Kafka) Deliver(ctx context.Context, ev model.AlertEvent) error {
	value, err := encode(ev)
	if err != nil {
		return retry.Permanent(err)
	}
	return k.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(ev.DedupeKey),
		Value: value,
		Time:  ev.Timestamp,
		Headers: []kafka.Header{
			{Key: "category", Value: []byte(ev.Category)},
			{Key: "severity", Value: []byte(ev.Severity)},
		},
	})
}

func (k *Kafka) Close() error { return k.writer.Close() }

package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"

	"flightguard/internal/config"
	"flightguard/internal/model"
	"flightguard/internal/retry"
)

// MessageReader is the part of *kafka.Reader the batcher uses.
type MessageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

func NewKafkaReader(cfg config.KafkaConfig) *kafka.Reader {
	return kafka.NewReader(kafka.ReaderConfig{
		Brokers:  cfg.Brokers,
		Topic:    cfg.Topic,
		GroupID:  cfg.GroupID,
		MinBytes: 1e3,
		MaxBytes: 10e6,
	})
}

// Batcher accumulates telemetry messages into batches of at most maxSize
// records, flushed when full or when the interval elapses. Offsets are
// committed only after the handler accepts the batch.
type Batcher struct {
	reader       MessageReader
	handler      Handler
	maxSize      int
	interval     time.Duration
	dedupeWindow time.Duration
	dedupe       *DedupeCache
	logger       *slog.Logger

	records []model.TelemetryRecord
	pending []kafka.Message
	chunk   int
}

func NewBatcher(reader MessageReader, cfg config.KafkaConfig, handler Handler, logger *slog.Logger) *Batcher {
	size := cfg.BatchSize
	if size <= 0 {
		size = 1000
	}
	return &Batcher{
		reader:       reader,
		handler:      handler,
		maxSize:      size,
		interval:     cfg.FlushInterval,
		dedupeWindow: cfg.DedupeWindow,
		dedupe:       NewDedupeCache(0),
		logger:       logger,
	}
}

// Run consumes until ctx is done, then flushes what is buffered and closes
// the reader. While a full buffer cannot be handed off, no further messages
// are read and the flush is retried on the ticker.
func (b *Batcher) Run(ctx context.Context) error {
	defer b.reader.Close()
	msgs := make(chan kafka.Message)
	go b.fetch(ctx, msgs)

	interval := b.interval
	if interval <= 0 {
		interval = 10 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		in := msgs
		if b.full() {
			in = nil
		}
		select {
		case <-ctx.Done():
			fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
			b.flush(fctx)
			cancel()
			return nil
		case m := <-in:
			b.add(m)
			b.drain(ctx)
		case <-ticker.C:
			if b.flush(ctx) {
				b.drain(ctx)
			}
		}
	}
}

// full bounds the buffer to one batch of records and one batch of
// uncommitted messages.
func (b *Batcher) full() bool {
	return len(b.records) >= b.maxSize || len(b.pending) >= b.maxSize
}

func (b *Batcher) drain(ctx context.Context) {
	for b.full() {
		if !b.flush(ctx) {
			return
		}
	}
}

func (b *Batcher) fetch(ctx context.Context, out chan<- kafka.Message) {
	for {
		m, err := b.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			if b.logger != nil {
				b.logger.Warn("kafka read error", "err", err)
			}
			if !retry.Sleep(ctx, 200*time.Millisecond) {
				return
			}
			continue
		}
		select {
		case out <- m:
		case <-ctx.Done():
			return
		}
	}
}

func (b *Batcher) add(m kafka.Message) {
	b.pending = append(b.pending, m)
	if b.dedupe.Seen(hashPayload(m.Value), m.Time, b.dedupeWindow) {
		if b.logger != nil {
			b.logger.Debug("duplicate telemetry message dropped", "partition", m.Partition, "offset", m.Offset)
		}
		return
	}
	recs, _, err := ParseRecords(m.Value, "kafka")
	if err != nil {
		if b.logger != nil {
			b.logger.Warn("kafka payload rejected", "partition", m.Partition, "offset", m.Offset, "err", err)
		}
		return
	}
	b.records = append(b.records, recs...)
}

// flush hands at most one full batch to the handler and reports whether it
// was accepted. Messages are committed once every record they contributed
// has been handled.
func (b *Batcher) flush(ctx context.Context) bool {
	if len(b.records) == 0 {
		b.commit(ctx)
		return true
	}
	n := min(len(b.records), b.maxSize)
	first := b.pending[0]
	batch := model.Batch{
		ID:      fmt.Sprintf("%s-%d-%d-%d", first.Topic, first.Partition, first.Offset, b.chunk),
		Records: append([]model.TelemetryRecord(nil), b.records[:n]...),
	}
	if err := b.handler(ctx, batch); err != nil {
		if b.logger != nil {
			b.logger.Error("batch handler failed", "batch_id", batch.ID, "records", n, "err", err)
		}
		return false
	}
	b.records = b.records[n:]
	b.chunk++
	if len(b.records) == 0 {
		b.commit(ctx)
	}
	return true
}

func (b *Batcher) commit(ctx context.Context) {
	if len(b.pending) == 0 {
		return
	}
	if err := b.reader.CommitMessages(ctx, b.pending...); err != nil && b.logger != nil {
		b.logger.Warn("kafka commit failed", "messages", len(b.pending), "err", err)
	}
	b.pending = nil
	b.chunk = 0
}

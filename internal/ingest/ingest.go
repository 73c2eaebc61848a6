// Package ingest turns broker messages and HTTP payloads into bounded
// telemetry batches.
package ingest

import (
	"context"
	"crypto/sha256"
	"encoding/hex"

	"flightguard/internal/model"
)

// Handler consumes one batch. A non-nil error leaves the batch's source
// messages uncommitted.
type Handler func(ctx context.Context, b model.Batch) error

func hashPayload(data []byte) string {
	h := sha256.Sum256(data)
	return hex.EncodeToString(h[:])
}

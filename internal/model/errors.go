package model

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound              = errors.New("not found")
	ErrConflict              = errors.New("status conflict")
	ErrInvalidTransition     = errors.New("invalid status transition")
	ErrBatchDeadlineExceeded = errors.New("batch deadline exceeded")
	ErrNoStore               = errors.New("no quarantine store configured")
)

// ConfigError is fatal: no record is processed against an invalid configuration.
type ConfigError struct {
	Field  string
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("config: %s: %s", e.Field, e.Reason)
}

// RecordProcessingError is isolated to a single record of the batch.
type RecordProcessingError struct {
	Index      int
	AircraftID string
	Err        error
}

func (e *RecordProcessingError) Error() string {
	return fmt.Sprintf("record %d (%s): %v", e.Index, e.AircraftID, e.Err)
}

func (e *RecordProcessingError) Unwrap() error { return e.Err }

type StoreError struct {
	Op       string
	ID       string
	Attempts int
	Err      error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("store %s %s failed after %d attempt(s): %v", e.Op, e.ID, e.Attempts, e.Err)
}

func (e *StoreError) Unwrap() error { return e.Err }

type DeliveryError struct {
	Channel  string
	Attempts int
	Err      error
}

func (e *DeliveryError) Error() string {
	return fmt.Sprintf("delivery via %s failed after %d attempt(s): %v", e.Channel, e.Attempts, e.Err)
}

func (e *DeliveryError) Unwrap() error { return e.Err }

package storage

import (
	"context"
	"database/sql"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
)

type postgresStore struct {
	baseStore
}

func NewPostgres(dsn string) (Store, error) {
	if strings.TrimSpace(dsn) == "" {
		dsn = "postgres://localhost:5432/flightguard?sslmode=disable"
	}
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	return &postgresStore{baseStore{db: db, d: dialect{numbered: true, timeArg: postgresTime}}}, nil
}

func postgresTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t.UTC()
}

func (s *postgresStore) Init(ctx context.Context) error {
	return s.exec(ctx, []string{
		`CREATE TABLE IF NOT EXISTS quarantine_entries (
			id TEXT PRIMARY KEY,
			batch_id TEXT NOT NULL,
			aircraft_id TEXT NOT NULL,
			record_time TIMESTAMPTZ,
			status TEXT NOT NULL,
			reason_codes_json JSONB NOT NULL,
			record_json JSONB NOT NULL,
			assessment_json JSONB NOT NULL,
			anomalies_json JSONB NOT NULL,
			created_at TIMESTAMPTZ NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL,
			reviewed_at TIMESTAMPTZ,
			reviewer TEXT NOT NULL DEFAULT '',
			review_note TEXT NOT NULL DEFAULT ''
		)`,
		`CREATE INDEX IF NOT EXISTS idx_quarantine_status_created ON quarantine_entries(status, created_at)`,
		`CREATE INDEX IF NOT EXISTS idx_quarantine_batch ON quarantine_entries(batch_id)`,
		`CREATE TABLE IF NOT EXISTS alert_events (
			id BIGSERIAL PRIMARY KEY,
			ts TIMESTAMPTZ NOT NULL,
			batch_id TEXT NOT NULL,
			category TEXT NOT NULL,
			severity TEXT NOT NULL,
			message TEXT NOT NULL,
			dedupe_key TEXT NOT NULL,
			suppressed BOOLEAN NOT NULL,
			rollup BOOLEAN NOT NULL,
			suppressed_count INTEGER NOT NULL,
			value DOUBLE PRECISION NOT NULL,
			threshold DOUBLE PRECISION NOT NULL,
			deliveries_json JSONB NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_alert_events_ts ON alert_events(ts)`,
		`CREATE TABLE IF NOT EXISTS batch_reports (
			id BIGSERIAL PRIMARY KEY,
			batch_id TEXT NOT NULL,
			processed_at TIMESTAMPTZ NOT NULL,
			records INTEGER NOT NULL,
			average_quality DOUBLE PRECISION NOT NULL,
			fatal BOOLEAN NOT NULL,
			report_json JSONB NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_batch_reports_batch ON batch_reports(batch_id)`,
	})
}

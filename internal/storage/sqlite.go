package storage

import (
	"context"
	"database/sql"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

type sqliteStore struct {
	baseStore
}

func NewSQLite(dsn string) (Store, error) {
	if strings.TrimSpace(dsn) == "" {
		dsn = "file:flightguard.db?_pragma=busy_timeout(5000)"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	// a single writer avoids SQLITE_BUSY under parallel quarantine writes
	db.SetMaxOpenConns(1)
	return &sqliteStore{baseStore{db: db, d: dialect{timeArg: sqliteTime}}}, nil
}

func sqliteTime(t time.Time) any {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(timeLayout)
}

func (s *sqliteStore) Init(ctx context.Context) error {
	return s.exec(ctx, []string{
		`CREATE TABLE IF NOT EXISTS quarantine_entries (
			id TEXT PRIMARY KEY,
			batch_id TEXT NOT NULL,
			aircraft_id TEXT NOT NULL,
			record_time TEXT NOT NULL,
			status TEXT NOT NULL,
			reason_codes_json TEXT NOT NULL,
			record_json TEXT NOT NULL,
			assessment_json TEXT NOT NULL,
			anomalies_json TEXT NOT NULL,
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL,
			reviewed_at TEXT,
			reviewer TEXT NOT NULL DEFAULT '',
			review_note TEXT NOT NULL DEFAULT ''
		)`,
		`CREATE INDEX IF NOT EXISTS idx_quarantine_status_created ON quarantine_entries(status, created_at)`,
		`CREATE INDEX IF NOT EXISTS idx_quarantine_batch ON quarantine_entries(batch_id)`,
		`CREATE TABLE IF NOT EXISTS alert_events (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			ts TEXT NOT NULL,
			batch_id TEXT NOT NULL,
			category TEXT NOT NULL,
			severity TEXT NOT NULL,
			message TEXT NOT NULL,
			dedupe_key TEXT NOT NULL,
			suppressed INTEGER NOT NULL,
			rollup INTEGER NOT NULL,
			suppressed_count INTEGER NOT NULL,
			value REAL NOT NULL,
			threshold REAL NOT NULL,
			deliveries_json TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_alert_events_ts ON alert_events(ts)`,
		`CREATE TABLE IF NOT EXISTS batch_reports (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			batch_id TEXT NOT NULL,
			processed_at TEXT NOT NULL,
			records INTEGER NOT NULL,
			average_quality REAL NOT NULL,
			fatal INTEGER NOT NULL,
			report_json TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_batch_reports_batch ON batch_reports(batch_id)`,
	})
}

package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"flightguard/internal/config"
	"flightguard/internal/model"
)

// Store persists quarantine entries together with the alert and report
// audit trail. Put is an upsert on the entry id that preserves the stored
// lifecycle status and creation time.
type Store interface {
	Init(ctx context.Context) error
	Close() error
	Put(ctx context.Context, entry model.QuarantineEntry) (string, error)
	Get(ctx context.Context, id string) (model.QuarantineEntry, error)
	List(ctx context.Context, filter model.QuarantineFilter) ([]model.QuarantineEntry, error)
	UpdateStatus(ctx context.Context, update model.StatusUpdate) error
	SaveAlert(ctx context.Context, event model.AlertEvent) error
	SaveReport(ctx context.Context, report model.BatchReport) error
}

func NewStore(cfg config.StorageConfig) (Store, error) {
	switch strings.ToLower(cfg.Driver) {
	case "memory":
		return NewMemory(), nil
	case "sqlite":
		return NewSQLite(cfg.DSN)
	case "postgres", "postgresql":
		return NewPostgres(cfg.DSN)
	default:
		return nil, fmt.Errorf("unsupported storage driver %q", cfg.Driver)
	}
}

// dialect isolates the few differences between the SQL backends.
type dialect struct {
	numbered bool
	timeArg  func(time.Time) any
}

type baseStore struct {
	db *sql.DB
	d  dialect
}

func (b *baseStore) Close() error {
	if b.db != nil {
		return b.db.Close()
	}
	return nil
}

// bind rewrites ? placeholders to $n for backends that need numbered ones.
func (b *baseStore) bind(q string) string {
	if !b.d.numbered {
		return q
	}
	var sb strings.Builder
	n := 0
	for _, r := range q {
		if r == '?' {
			n++
			sb.WriteByte('$')
			sb.WriteString(strconv.Itoa(n))
			continue
		}
		sb.WriteRune(r)
	}
	return sb.String()
}

func (b *baseStore) exec(ctx context.Context, stmts []string) error {
	for _, stmt := range stmts {
		if _, err := b.db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

const entryColumns = `id, batch_id, aircraft_id, record_time, status, reason_codes_json, record_json,
	assessment_json, anomalies_json, created_at, updated_at, reviewed_at, reviewer, review_note`

func (b *baseStore) Put(ctx context.Context, e model.QuarantineEntry) (string, error) {
	if e.ID == "" {
		return "", errors.New("quarantine entry has no id")
	}
	if e.Status == "" {
		e.Status = model.StatusCreated
	}
	_, err := b.db.ExecContext(ctx, b.bind(`INSERT INTO quarantine_entries (`+entryColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, NULL, '', '')
		ON CONFLICT (id) DO UPDATE SET
			record_json = excluded.record_json,
			assessment_json = excluded.assessment_json,
			anomalies_json = excluded.anomalies_json,
			reason_codes_json = excluded.reason_codes_json,
			updated_at = excluded.updated_at`),
		e.ID,
		e.BatchID,
		e.AircraftID,
		b.d.timeArg(e.RecordTime),
		string(e.Status),
		encodeJSON(e.ReasonCodes),
		encodeJSON(e.Record),
		encodeJSON(e.Assessment),
		encodeJSON(e.Anomalies),
		b.d.timeArg(e.CreatedAt),
		b.d.timeArg(e.UpdatedAt),
	)
	if err != nil {
		return "", err
	}
	return e.ID, nil
}

func (b *baseStore) Get(ctx context.Context, id string) (model.QuarantineEntry, error) {
	row := b.db.QueryRowContext(ctx, b.bind(`SELECT `+entryColumns+` FROM quarantine_entries WHERE id = ?`), id)
	e, err := scanEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return model.QuarantineEntry{}, model.ErrNotFound
	}
	return e, err
}

func (b *baseStore) List(ctx context.Context, f model.QuarantineFilter) ([]model.QuarantineEntry, error) {
	var where []string
	var args []any
	if f.Status != "" {
		where = append(where, "status = ?")
		args = append(args, string(f.Status))
	}
	if f.BatchID != "" {
		where = append(where, "batch_id = ?")
		args = append(args, f.BatchID)
	}
	if f.AircraftID != "" {
		where = append(where, "aircraft_id = ?")
		args = append(args, f.AircraftID)
	}
	if !f.CreatedBefore.IsZero() {
		where = append(where, "created_at < ?")
		args = append(args, b.d.timeArg(f.CreatedBefore))
	}
	q := `SELECT ` + entryColumns + ` FROM quarantine_entries`
	if len(where) > 0 {
		q += " WHERE " + strings.Join(where, " AND ")
	}
	q += " ORDER BY created_at, id"
	if f.Limit > 0 {
		q += " LIMIT " + strconv.Itoa(f.Limit)
	}
	rows, err := b.db.QueryContext(ctx, b.bind(q), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.QuarantineEntry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// UpdateStatus is a compare-and-set on the current status.
func (b *baseStore) UpdateStatus(ctx context.Context, u model.StatusUpdate) error {
	var reviewed any
	if reviewTransition(u.Next) {
		reviewed = b.d.timeArg(u.At)
	}
	res, err := b.db.ExecContext(ctx, b.bind(`UPDATE quarantine_entries SET
			status = ?,
			updated_at = ?,
			reviewed_at = COALESCE(?, reviewed_at),
			reviewer = COALESCE(NULLIF(?, ''), reviewer),
			review_note = COALESCE(NULLIF(?, ''), review_note)
		WHERE id = ? AND status = ?`),
		string(u.Next),
		b.d.timeArg(u.At),
		reviewed,
		u.Reviewer,
		u.Note,
		u.ID,
		string(u.Expected),
	)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n > 0 {
		return nil
	}
	var status string
	err = b.db.QueryRowContext(ctx, b.bind(`SELECT status FROM quarantine_entries WHERE id = ?`), u.ID).Scan(&status)
	if errors.Is(err, sql.ErrNoRows) {
		return model.ErrNotFound
	}
	if err != nil {
		return err
	}
	return fmt.Errorf("%w: %s is %s, expected %s", model.ErrConflict, u.ID, status, u.Expected)
}

func (b *baseStore) SaveAlert(ctx context.Context, ev model.AlertEvent) error {
	_, err := b.db.ExecContext(ctx, b.bind(`INSERT INTO alert_events
		(ts, batch_id, category, severity, message, dedupe_key, suppressed, rollup, suppressed_count, value, threshold, deliveries_json)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		b.d.timeArg(ev.Timestamp),
		ev.BatchID,
		ev.Category,
		string(ev.Severity),
		ev.Message,
		ev.DedupeKey,
		ev.Suppressed,
		ev.Rollup,
		ev.SuppressedCount,
		ev.Value,
		ev.Threshold,
		encodeJSON(ev.Deliveries),
	)
	return err
}

func (b *baseStore) SaveReport(ctx context.Context, r model.BatchReport) error {
	_, err := b.db.ExecContext(ctx, b.bind(`INSERT INTO batch_reports
		(batch_id, processed_at, records, average_quality, fatal, report_json)
		VALUES (?, ?, ?, ?, ?, ?)`),
		r.BatchID,
		b.d.timeArg(r.ProcessedAt),
		r.Records,
		r.AverageQuality,
		r.Fatal,
		encodeJSON(r),
	)
	return err
}

func reviewTransition(s model.QuarantineStatus) bool {
	return s == model.StatusReleased || s == model.StatusPurged
}

type scanner interface {
	Scan(dest ...any) error
}

func scanEntry(s scanner) (model.QuarantineEntry, error) {
	var e model.QuarantineEntry
	var status, reasons, record, assessment, anomalies string
	var recordTime, created, updated, reviewed dbTime
	if err := s.Scan(&e.ID, &e.BatchID, &e.AircraftID, &recordTime, &status, &reasons, &record,
		&assessment, &anomalies, &created, &updated, &reviewed, &e.Reviewer, &e.ReviewNote); err != nil {
		return e, err
	}
	e.Status = model.QuarantineStatus(status)
	e.RecordTime = recordTime.t
	e.CreatedAt = created.t
	e.UpdatedAt = updated.t
	if reviewed.valid {
		t := reviewed.t
		e.ReviewedAt = &t
	}
	for _, col := range []struct {
		raw string
		dst any
	}{
		{reasons, &e.ReasonCodes},
		{record, &e.Record},
		{assessment, &e.Assessment},
		{anomalies, &e.Anomalies},
	} {
		if col.raw == "" || col.raw == "null" {
			continue
		}
		if err := json.Unmarshal([]byte(col.raw), col.dst); err != nil {
			return e, fmt.Errorf("decode entry %s: %w", e.ID, err)
		}
	}
	return e, nil
}

// timeLayout is fixed width so stored text timestamps sort chronologically.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// dbTime scans timestamps stored either natively or as text.
type dbTime struct {
	t     time.Time
	valid bool
}

func (d *dbTime) Scan(v any) error {
	switch x := v.(type) {
	case nil:
		*d = dbTime{}
		return nil
	case time.Time:
		*d = dbTime{t: x.UTC(), valid: true}
		return nil
	case string:
		return d.parse(x)
	case []byte:
		return d.parse(string(x))
	}
	return fmt.Errorf("unsupported time value %T", v)
}

func (d *dbTime) parse(s string) error {
	if s == "" {
		*d = dbTime{}
		return nil
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return err
	}
	*d = dbTime{t: t.UTC(), valid: true}
	return nil
}

func encodeJSON(value any) string {
	data, _ := json.Marshal(value)
	return string(data)
}

// Package quarantine turns assessments and anomalies into per-record
// dispositions, persists quarantined records and drives their review
// lifecycle.
package quarantine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"flightguard/internal/config"
	"flightguard/internal/model"
	"flightguard/internal/retry"
	"flightguard/internal/track"
)

// Store is the persistence the coordinator needs.
type Store interface {
	Put(ctx context.Context, entry model.QuarantineEntry) (string, error)
	Get(ctx context.Context, id string) (model.QuarantineEntry, error)
	List(ctx context.Context, filter model.QuarantineFilter) ([]model.QuarantineEntry, error)
	UpdateStatus(ctx context.Context, update model.StatusUpdate) error
}

var keyNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("urn:flightguard:quarantine"))

// EntryID derives the quarantine key of a record so that reprocessing the
// same record in the same batch always lands on the same entry.
func EntryID(aircraftID string, ts time.Time, batchID string) string {
	name := track.Key(aircraftID) + "|" + ts.UTC().Format(time.RFC3339Nano) + "|" + batchID
	return uuid.NewSHA1(keyNamespace, []byte(name)).String()
}

// Decide applies the disposition rule and returns the reason codes behind it.
func Decide(cfg config.QuarantineConfig, a model.QualityAssessment, anomalies []model.Anomaly) (model.Disposition, []string) {
	var quarantine, flag []string
	if a.Overall < cfg.Threshold {
		quarantine = append(quarantine, "low_quality")
	} else if a.Overall < cfg.PoorThreshold {
		flag = append(flag, "poor_quality")
	}
	if a.HasIssue(model.IssueProcessingError) {
		flag = append(flag, model.IssueProcessingError)
	}
	seen := make(map[string]bool)
	for _, an := range anomalies {
		switch an.Severity {
		case model.SeverityCritical:
			code := "critical_anomaly:" + an.Rule
			if !seen[code] {
				seen[code] = true
				quarantine = append(quarantine, code)
			}
		case model.SeverityHigh:
			code := "high_anomaly:" + an.Rule
			if !seen[code] {
				seen[code] = true
				flag = append(flag, code)
			}
		}
	}
	switch {
	case len(quarantine) > 0:
		return model.DispositionQuarantine, append(quarantine, flag...)
	case len(flag) > 0:
		return model.DispositionFlag, flag
	}
	return model.DispositionPass, nil
}

// InitialStatus is the state a freshly created entry moves to.
func InitialStatus(mode string, anomalies []model.Anomaly) model.QuarantineStatus {
	switch mode {
	case config.ReviewAuto:
		return model.StatusAutoQuarantined
	case config.ReviewMixed:
		if model.RecordSeverity(anomalies) == model.SeverityCritical {
			return model.StatusAutoQuarantined
		}
	}
	return model.StatusPendingReview
}

var transitions = map[model.QuarantineStatus][]model.QuarantineStatus{
	model.StatusCreated:         {model.StatusPendingReview, model.StatusAutoQuarantined},
	model.StatusPendingReview:   {model.StatusReleased, model.StatusPurged},
	model.StatusAutoQuarantined: {model.StatusReleased, model.StatusPurged},
	model.StatusReleased:        {model.StatusPurged},
}

func ValidTransition(from, to model.QuarantineStatus) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

type Coordinator struct {
	cfg    config.QuarantineConfig
	store  Store
	logger *slog.Logger
}

func NewCoordinator(cfg config.QuarantineConfig, store Store, logger *slog.Logger) *Coordinator {
	return &Coordinator{cfg: cfg, store: store, logger: logger}
}

func NewEntry(batchID string, index int, rec model.TelemetryRecord, a model.QualityAssessment, anomalies []model.Anomaly, reasons []string, now time.Time) model.QuarantineEntry {
	a.Index = index
	return model.QuarantineEntry{
		ID:          EntryID(rec.AircraftID, rec.Timestamp, batchID),
		BatchID:     batchID,
		AircraftID:  rec.AircraftID,
		RecordTime:  rec.Timestamp,
		Record:      rec,
		Assessment:  a,
		Anomalies:   anomalies,
		ReasonCodes: reasons,
		Status:      model.StatusCreated,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

// Persist writes entries concurrently. Each write is retried on its own; a
// write that exhausts its retries is reported in Unresolved and never fails
// the others. Entries sharing a key are written once.
func (c *Coordinator) Persist(ctx context.Context, entries []model.QuarantineEntry, now time.Time) model.QuarantineSummary {
	unique := make([]model.QuarantineEntry, 0, len(entries))
	seen := make(map[string]bool, len(entries))
	for _, e := range entries {
		if seen[e.ID] {
			continue
		}
		seen[e.ID] = true
		unique = append(unique, e)
	}

	sum := model.QuarantineSummary{Attempted: len(unique)}
	if len(unique) == 0 || c.store == nil {
		return sum
	}
	failures := make([]*model.StoreError, len(unique))
	policy := retry.FromConfig(c.cfg.Retry)
	workers := c.cfg.Workers
	if workers < 1 {
		workers = 1
	}
	var g errgroup.Group
	g.SetLimit(workers)
	for i, e := range unique {
		i, e := i, e
		g.Go(func() error {
			attempts, err := retry.Do(ctx, policy, func(actx context.Context) error {
				return c.write(actx, e, now)
			})
			if err != nil {
				failures[i] = &model.StoreError{Op: "put", ID: e.ID, Attempts: attempts, Err: err}
			}
			return nil
		})
	}
	_ = g.Wait()

	for i, e := range unique {
		if serr := failures[i]; serr != nil {
			sum.Unresolved = append(sum.Unresolved, model.PersistFailure{
				EntryID:    e.ID,
				AircraftID: e.AircraftID,
				Attempts:   serr.Attempts,
				Error:      serr.Err.Error(),
			})
			if c.logger != nil {
				c.logger.Warn("quarantine write unresolved", "entry_id", e.ID, "aircraft_id", e.AircraftID, "attempts", serr.Attempts, "error", serr.Err)
			}
			continue
		}
		sum.Persisted++
		sum.EntryIDs = append(sum.EntryIDs, e.ID)
	}
	return sum
}

// write upserts the entry and moves a new one out of created. A conflict on
// that move means an earlier run already did it.
func (c *Coordinator) write(ctx context.Context, e model.QuarantineEntry, now time.Time) error {
	if _, err := c.store.Put(ctx, e); err != nil {
		return err
	}
	err := c.store.UpdateStatus(ctx, model.StatusUpdate{
		ID:       e.ID,
		Expected: model.StatusCreated,
		Next:     InitialStatus(c.cfg.ReviewMode, e.Anomalies),
		At:       now,
	})
	if errors.Is(err, model.ErrConflict) {
		return nil
	}
	return err
}

// Transition moves an entry to next if the state machine allows it. The
// update is guarded by the status read here, so a concurrent change yields
// model.ErrConflict.
func (c *Coordinator) Transition(ctx context.Context, id string, next model.QuarantineStatus, reviewer, note string, now time.Time) (model.QuarantineEntry, error) {
	if c.store == nil {
		return model.QuarantineEntry{}, model.ErrNoStore
	}
	cur, err := c.store.Get(ctx, id)
	if err != nil {
		return model.QuarantineEntry{}, err
	}
	if !ValidTransition(cur.Status, next) {
		return cur, fmt.Errorf("%w: %s -> %s", model.ErrInvalidTransition, cur.Status, next)
	}
	if err := c.store.UpdateStatus(ctx, model.StatusUpdate{
		ID:       id,
		Expected: cur.Status,
		Next:     next,
		At:       now,
		Reviewer: reviewer,
		Note:     note,
	}); err != nil {
		return cur, err
	}
	if c.logger != nil {
		c.logger.Info("quarantine transition", "entry_id", id, "from", cur.Status, "to", next, "reviewer", reviewer)
	}
	return c.store.Get(ctx, id)
}

func (c *Coordinator) Release(ctx context.Context, id, reviewer, note string, now time.Time) (model.QuarantineEntry, error) {
	return c.Transition(ctx, id, model.StatusReleased, reviewer, note, now)
}

func (c *Coordinator) Purge(ctx context.Context, id, reviewer, note string, now time.Time) (model.QuarantineEntry, error) {
	return c.Transition(ctx, id, model.StatusPurged, reviewer, note, now)
}

// PurgeExpired purges every entry older than retention that may still be
// purged. Entries that changed underneath are skipped, not failed.
func (c *Coordinator) PurgeExpired(ctx context.Context, retention time.Duration, now time.Time) (int, error) {
	if c.store == nil {
		return 0, model.ErrNoStore
	}
	if retention <= 0 {
		retention = c.cfg.Retention
	}
	entries, err := c.store.List(ctx, model.QuarantineFilter{CreatedBefore: now.Add(-retention)})
	if err != nil {
		return 0, err
	}
	purged := 0
	for _, e := range entries {
		if !ValidTransition(e.Status, model.StatusPurged) {
			continue
		}
		err := c.store.UpdateStatus(ctx, model.StatusUpdate{
			ID:       e.ID,
			Expected: e.Status,
			Next:     model.StatusPurged,
			At:       now,
			Note:     "retention expired",
		})
		switch {
		case err == nil:
			purged++
		case errors.Is(err, model.ErrConflict), errors.Is(err, model.ErrNotFound):
			continue
		default:
			return purged, err
		}
	}
	if c.logger != nil && purged > 0 {
		c.logger.Info("purged expired quarantine entries", "count", purged, "retention", retention.String())
	}
	return purged, nil
}

// Pending lists entries awaiting manual review, oldest first.
func (c *Coordinator) Pending(ctx context.Context, limit int) ([]model.QuarantineEntry, error) {
	return c.List(ctx, model.QuarantineFilter{Status: model.StatusPendingReview, Limit: limit})
}

func (c *Coordinator) List(ctx context.Context, filter model.QuarantineFilter) ([]model.QuarantineEntry, error) {
	if c.store == nil {
		return nil, model.ErrNoStore
	}
	return c.store.List(ctx, filter)
}

func (c *Coordinator) Get(ctx context.Context, id string) (model.QuarantineEntry, error) {
	if c.store == nil {
		return model.QuarantineEntry{}, model.ErrNoStore
	}
	return c.store.Get(ctx, id)
}

// Package engine runs one telemetry batch through validation, detection,
// quarantine and alert routing and reduces the outcome to a BatchReport.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"flightguard/internal/alerts"
	"flightguard/internal/anomaly"
	"flightguard/internal/config"
	"flightguard/internal/metrics"
	"flightguard/internal/model"
	"flightguard/internal/quality"
	"flightguard/internal/quarantine"
	"flightguard/internal/storage"
	"flightguard/internal/track"
)

// Publisher receives every finished report.
type Publisher interface {
	Observe(r model.BatchReport)
	ObserveRouter(rateLimited map[string]int, suppressed int)
}

type Engine struct {
	logger    *slog.Logger
	cfg       atomic.Value
	store     storage.Store
	router    *alerts.Router
	publisher Publisher
	reports   *metrics.Store
	clock     func() time.Time
}

type Option func(*Engine)

// WithClock replaces the wall clock used to measure batch duration.
func WithClock(clock func() time.Time) Option {
	return func(e *Engine) { e.clock = clock }
}

func WithPublisher(p Publisher) Option {
	return func(e *Engine) { e.publisher = p }
}

func WithReportHistory(s *metrics.Store) Option {
	return func(e *Engine) { e.reports = s }
}

// NewEngine validates cfg before anything is processed against it. store
// and router may be nil; records are then neither persisted nor alerted on.
func NewEngine(cfg *config.Config, store storage.Store, router *alerts.Router, logger *slog.Logger, opts ...Option) (*Engine, error) {
	if err := config.Validate(cfg); err != nil {
		return nil, err
	}
	e := &Engine{
		logger: logger,
		store:  store,
		router: router,
		clock:  time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	e.cfg.Store(cfg)
	return e, nil
}

// UpdateConfig swaps in a new configuration for subsequent batches. A batch
// already running keeps the configuration it started with.
func (e *Engine) UpdateConfig(cfg *config.Config) error {
	if err := config.Validate(cfg); err != nil {
		return err
	}
	e.cfg.Store(cfg)
	if e.router != nil {
		e.router.SetConfig(cfg.Alerts)
	}
	return nil
}

func (e *Engine) Config() *config.Config {
	if v := e.cfg.Load(); v != nil {
		return v.(*config.Config)
	}
	return config.DefaultConfig()
}

// Quarantine returns a coordinator over the engine's store for review actions.
func (e *Engine) Quarantine() *quarantine.Coordinator {
	return quarantine.NewCoordinator(e.Config().Quarantine, e.store, e.logger)
}

// Reset clears alert suppression windows and the report history.
func (e *Engine) Reset() {
	if e.router != nil {
		e.router.Reset()
	}
	if e.reports != nil {
		e.reports.Clear()
	}
}

// Process evaluates one batch. It never returns an error: record failures
// are isolated into the report, and batch-level failures set Fatal.
// Persistence and alert delivery run detached from ctx so that a deadline
// only stops records that have not been evaluated yet.
func (e *Engine) Process(ctx context.Context, batch model.Batch, baseline model.Baseline, now time.Time) model.BatchReport {
	started := e.clock()
	cfg := e.Config()
	records := batch.Records
	report := newReport(batch, now)

	if len(records) > cfg.Batch.MaxSize {
		report.Fatal = true
		report.FatalReason = fmt.Sprintf("batch of %d records exceeds max_size %d", len(records), cfg.Batch.MaxSize)
		for i := range records {
			report.Outcomes = append(report.Outcomes, unevaluated(i, &records[i]))
		}
		report.Unevaluated = len(records)
		report.Dispositions[model.DispositionUnevaluated] = len(records)
		if e.logger != nil {
			e.logger.Error("batch rejected", "batch_id", batch.ID, "reason", report.FatalReason)
		}
		return e.finish(ctx, report, started)
	}

	runCtx := ctx
	if cfg.Batch.Deadline > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, cfg.Batch.Deadline)
		defer cancel()
	}

	groups := track.GroupByAircraft(records)
	var (
		assessments []model.QualityAssessment
		assessed    []bool
		detected    anomaly.Result
	)
	var g errgroup.Group
	g.Go(func() error {
		assessments, assessed = quality.NewValidator(cfg).Assess(runCtx, records, groups, now)
		return nil
	})
	g.Go(func() error {
		detected = anomaly.NewDetector(cfg).Detect(runCtx, records, groups, baseline, now)
		return nil
	})
	_ = g.Wait()
	cutShort := runCtx.Err() != nil

	var entries []model.QuarantineEntry
	var qualitySum float64
	for i := range records {
		rec := &records[i]
		if !assessed[i] || !detected.Evaluated[i] {
			report.Outcomes = append(report.Outcomes, unevaluated(i, rec))
			report.Unevaluated++
			report.Dispositions[model.DispositionUnevaluated]++
			continue
		}
		found := detected.Anomalies[i]
		out, a, reasons := mergeRecord(cfg, i, rec, assessments[i], found, detected.Errors[i])
		if out.Error != "" {
			report.ProcessingErrors++
		}
		disposition := out.Disposition
		if disposition == model.DispositionQuarantine {
			entry := quarantine.NewEntry(batch.ID, i, *rec, a, found, reasons, now)
			out.EntryID = entry.ID
			entries = append(entries, entry)
		}
		report.Outcomes = append(report.Outcomes, out)
		report.Dispositions[disposition]++
		report.Grades[a.Grade]++
		report.Evaluated++
		qualitySum += a.Overall
		countAnomalies(&report.Anomalies, found)
	}
	if report.Evaluated > 0 {
		report.AverageQuality = qualitySum / float64(report.Evaluated)
	}
	report.DeadlineExceeded = cutShort && report.Unevaluated > 0
	if report.DeadlineExceeded && e.logger != nil {
		e.logger.Warn("batch deadline exceeded", "batch_id", batch.ID, "unevaluated", report.Unevaluated, "err", model.ErrBatchDeadlineExceeded)
	}

	detached := context.WithoutCancel(ctx)
	if len(entries) > 0 {
		coord := quarantine.NewCoordinator(cfg.Quarantine, e.store, e.logger)
		report.Quarantine = coord.Persist(detached, entries, now)
		if e.store != nil && report.Quarantine.Persisted == 0 && report.Quarantine.Attempted > 0 {
			report.Fatal = true
			report.FatalReason = fmt.Sprintf("quarantine store unavailable: all %d writes failed", report.Quarantine.Attempted)
			if e.logger != nil {
				e.logger.Error("quarantine store unavailable", "batch_id", batch.ID, "attempted", report.Quarantine.Attempted)
			}
		}
	}

	if e.router != nil {
		report.Alerts = e.router.Route(detached, report, baseline, now)
	}
	if report.Alerts == nil {
		report.Alerts = []model.AlertEvent{}
	}
	return e.finish(ctx, report, started)
}

// finish stamps the duration, records the audit trail and hands the report
// to the history and metrics sinks.
func (e *Engine) finish(ctx context.Context, report model.BatchReport, started time.Time) model.BatchReport {
	report.DurationMS = float64(e.clock().Sub(started).Microseconds()) / 1000
	detached := context.WithoutCancel(ctx)
	if e.store != nil {
		for _, ev := range report.Dispatched() {
			if err := e.store.SaveAlert(detached, ev); err != nil && e.logger != nil {
				e.logger.Warn("alert audit write failed", "batch_id", report.BatchID, "category", ev.Category, "err", err)
			}
		}
		if err := e.store.SaveReport(detached, report); err != nil && e.logger != nil {
			e.logger.Warn("report audit write failed", "batch_id", report.BatchID, "err", err)
		}
	}
	if e.reports != nil {
		e.reports.Add(report)
	}
	if e.publisher != nil {
		e.publisher.Observe(report)
		if e.router != nil {
			e.publisher.ObserveRouter(e.router.Stats())
		}
	}
	if e.logger != nil {
		e.logger.Info("batch processed",
			"batch_id", report.BatchID,
			"records", report.Records,
			"evaluated", report.Evaluated,
			"average_quality", report.AverageQuality,
			"quarantined", report.Dispositions[model.DispositionQuarantine],
			"anomalies", report.Anomalies.Total,
			"alerts", len(report.Dispatched()),
			"fatal", report.Fatal,
			"duration_ms", report.DurationMS,
		)
	}
	return report
}

// mergeRecord combines one record's assessment and anomalies into its
// outcome. A failed detection is recorded as a processing_error Issue, and
// such a record never passes.
func mergeRecord(cfg *config.Config, i int, rec *model.TelemetryRecord, a model.QualityAssessment, found []model.Anomaly, detectErr error) (model.RecordOutcome, model.QualityAssessment, []string) {
	out := model.RecordOutcome{
		Index:       i,
		AircraftID:  rec.AircraftID,
		Timestamp:   rec.Timestamp,
		Overall:     a.Overall,
		Grade:       a.Grade,
		Anomalies:   len(found),
		MaxSeverity: model.RecordSeverity(found),
	}
	if detectErr != nil {
		out.Error = detectErr.Error()
		a.Issues = append(append([]model.Issue(nil), a.Issues...), model.Issue{
			Dimension:   model.DimensionProcessing,
			Severity:    model.SeverityHigh,
			Code:        model.IssueProcessingError,
			Description: out.Error,
		})
	} else if a.HasIssue(model.IssueProcessingError) {
		out.Error = issueDescription(a, model.IssueProcessingError)
	}
	var reasons []string
	out.Disposition, reasons = quarantine.Decide(cfg.Quarantine, a, found)
	return out, a, reasons
}

func newReport(batch model.Batch, now time.Time) model.BatchReport {
	return model.BatchReport{
		BatchID:      batch.ID,
		ProcessedAt:  now,
		Records:      len(batch.Records),
		Grades:       make(map[model.Grade]int),
		Dispositions: make(map[model.Disposition]int),
		Anomalies: model.AnomalyCounts{
			ByType:         make(map[model.AnomalyType]int),
			BySeverity:     make(map[model.Severity]int),
			CriticalByRule: make(map[string]int),
		},
		Outcomes: make([]model.RecordOutcome, 0, len(batch.Records)),
		Alerts:   []model.AlertEvent{},
	}
}

func unevaluated(i int, rec *model.TelemetryRecord) model.RecordOutcome {
	return model.RecordOutcome{
		Index:       i,
		AircraftID:  rec.AircraftID,
		Timestamp:   rec.Timestamp,
		Disposition: model.DispositionUnevaluated,
	}
}

func countAnomalies(c *model.AnomalyCounts, found []model.Anomaly) {
	if len(found) == 0 {
		return
	}
	c.Records++
	for _, a := range found {
		c.Total++
		c.ByType[a.Type]++
		c.BySeverity[a.Severity]++
		if a.Severity == model.SeverityCritical {
			c.CriticalByRule[a.Rule]++
		}
	}
}

func issueDescription(a model.QualityAssessment, code string) string {
	for _, is := range a.Issues {
		if is.Code == code {
			return is.Description
		}
	}
	return code
}

// GradeDistribution lists grade counts in A..F order; grades without
// records are omitted.
func GradeDistribution(r model.BatchReport) []string {
	grades := make([]string, 0, len(r.Grades))
	for g := range r.Grades {
		grades = append(grades, string(g))
	}
	sort.Strings(grades)
	out := make([]string, 0, len(grades))
	for _, g := range grades {
		out = append(out, fmt.Sprintf("%s=%d", g, r.Grades[model.Grade(g)]))
	}
	return out
}

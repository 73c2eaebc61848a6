// Package quality scores telemetry records on four independent dimensions
// (completeness, validity, consistency, timeliness) and combines them into a
// weighted overall score and letter grade.
package quality

import (
	"context"
	"fmt"
	"math"
	"time"

	"golang.org/x/sync/errgroup"

	"flightguard/internal/config"
	"flightguard/internal/model"
	"flightguard/internal/track"
)

// Validator is a pure function of the batch and the configuration it was
// built with.
type Validator struct {
	cfg *config.Config
}

func NewValidator(cfg *config.Config) *Validator {
	return &Validator{cfg: cfg}
}

// Assess scores every record. Records are processed in parallel chunks;
// once ctx is done no further record is started and its evaluated flag stays
// false.
func (v *Validator) Assess(ctx context.Context, records []model.TelemetryRecord, groups []track.Group, now time.Time) ([]model.QualityAssessment, []bool) {
	out := make([]model.QualityAssessment, len(records))
	evaluated := make([]bool, len(records))
	prev := track.Previous(groups, len(records))

	workers := v.cfg.Batch.Workers
	if workers < 1 {
		workers = 1
	}
	chunk := (len(records) + workers - 1) / workers
	if chunk < 1 {
		chunk = 1
	}
	var g errgroup.Group
	for start := 0; start < len(records); start += chunk {
		lo, hi := start, min(start+chunk, len(records))
		g.Go(func() error {
			for i := lo; i < hi; i++ {
				if ctx.Err() != nil {
					return nil
				}
				var p *model.TelemetryRecord
				if prev[i] >= 0 {
					p = &records[prev[i]]
				}
				out[i], _ = v.AssessRecord(i, &records[i], p, now)
				evaluated[i] = true
			}
			return nil
		})
	}
	_ = g.Wait()
	return out, evaluated
}

// AssessRecord scores one record against its predecessor in the same
// aircraft's sequence (nil for the first). An internal failure is recovered
// into a processing_error Issue with every dimension at 0.
func (v *Validator) AssessRecord(index int, rec, prev *model.TelemetryRecord, now time.Time) (a model.QualityAssessment, err error) {
	a = model.QualityAssessment{Index: index, AircraftID: rec.AircraftID, Timestamp: rec.Timestamp}
	defer func() {
		if r := recover(); r != nil {
			err = &model.RecordProcessingError{Index: index, AircraftID: rec.AircraftID, Err: fmt.Errorf("panic: %v", r)}
			a = model.QualityAssessment{
				Index:      index,
				AircraftID: rec.AircraftID,
				Timestamp:  rec.Timestamp,
				Grade:      model.GradeF,
				Issues: []model.Issue{{
					Dimension:   model.DimensionProcessing,
					Severity:    model.SeverityHigh,
					Code:        model.IssueProcessingError,
					Description: err.Error(),
				}},
			}
		}
	}()

	var issues []model.Issue
	a.Completeness = completeness(rec, v.cfg.Quality.Completeness)
	if a.Completeness < 1 {
		issues = append(issues, model.Issue{
			Dimension:   model.DimensionCompleteness,
			Severity:    completenessSeverity(a.Completeness),
			Code:        "missing_fields",
			Description: fmt.Sprintf("missing %s", missingFields(rec)),
		})
	}
	var more []model.Issue
	a.Validity, more = validity(rec, v.cfg.Bounds)
	issues = append(issues, more...)
	a.Consistency, more = consistency(rec, prev, v.cfg.Quality.Consistency, v.cfg.Bounds)
	issues = append(issues, more...)
	a.Timeliness, more = timeliness(rec.Timestamp, now, v.cfg.Quality.Timeliness)
	issues = append(issues, more...)

	a.Overall = Overall(v.cfg.Quality.Weights, a)
	a.Grade = v.cfg.Quality.Grades.Grade(a.Overall)
	a.Issues = issues
	return a, nil
}

// Overall is the weighted sum of the clamped dimension scores.
func Overall(w config.WeightsConfig, a model.QualityAssessment) float64 {
	return clamp01(w.Completeness*clamp01(a.Completeness) +
		w.Validity*clamp01(a.Validity) +
		w.Consistency*clamp01(a.Consistency) +
		w.Timeliness*clamp01(a.Timeliness))
}

func completenessSeverity(score float64) model.Severity {
	switch {
	case score == 0:
		return model.SeverityCritical
	case score < 0.5:
		return model.SeverityHigh
	case score < 0.8:
		return model.SeverityMedium
	}
	return model.SeverityLow
}

func clamp01(v float64) float64 {
	if math.IsNaN(v) || v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// Package anomaly evaluates physical, statistical, geographic, behavioral and
// temporal rules per record and across each aircraft's ordered sequence.
package anomaly

import (
	"context"
	"fmt"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"

	"flightguard/internal/config"
	"flightguard/internal/model"
	"flightguard/internal/track"
)

type Detector struct {
	cfg *config.Config
}

func NewDetector(cfg *config.Config) *Detector {
	return &Detector{cfg: cfg}
}

// Result is indexed by batch position.
type Result struct {
	Anomalies [][]model.Anomaly
	Evaluated []bool
	Errors    []error
}

// Detect runs every rule over the batch. Aircraft groups are independent
// and evaluated concurrently; records left unevaluated when ctx is done keep
// Evaluated[i] == false.
func (d *Detector) Detect(ctx context.Context, records []model.TelemetryRecord, groups []track.Group, baseline model.Baseline, now time.Time) Result {
	res := Result{
		Anomalies: make([][]model.Anomaly, len(records)),
		Evaluated: make([]bool, len(records)),
		Errors:    make([]error, len(records)),
	}
	fences := d.batchFences(records, baseline)

	var g errgroup.Group
	workers := d.cfg.Batch.Workers
	if workers < 1 {
		workers = 1
	}
	g.SetLimit(workers)
	for _, grp := range groups {
		grp := grp
		g.Go(func() error {
			d.detectGroup(ctx, records, grp.Indices, baseline, fences, now, &res)
			return nil
		})
	}
	g.Go(func() error {
		// records without an aircraft id only get per-record rules
		for i := range records {
			if track.Key(records[i].AircraftID) != "" {
				continue
			}
			if ctx.Err() != nil {
				return nil
			}
			d.guard(i, &records[i], &res, func() []model.Anomaly {
				return d.recordRules(&records[i], i, baseline, fences, now)
			})
		}
		return nil
	})
	_ = g.Wait()
	return res
}

func (d *Detector) detectGroup(ctx context.Context, records []model.TelemetryRecord, indices []int, baseline model.Baseline, fences map[string]fence, now time.Time, res *Result) {
	stuck := newPositionWindow(d.cfg.Detection.Stuck.Window)
	lastPos := -1
	for _, i := range indices {
		if ctx.Err() != nil {
			return
		}
		rec := &records[i]
		d.guard(i, rec, res, func() []model.Anomaly {
			out := d.recordRules(rec, i, baseline, fences, now)
			if lastPos >= 0 {
				if a, ok := d.positionJump(&records[lastPos], rec, i); ok {
					out = append(out, a)
				}
			}
			if a, ok := d.stuckAircraft(stuck, rec, i); ok {
				out = append(out, a)
			}
			return out
		})
		// an out-of-range fix never anchors the next jump check
		if hasPosition(rec) && d.cfg.Bounds.PositionInRange(*rec.Latitude, *rec.Longitude) {
			lastPos = i
		}
	}
}

// guard evaluates one record, converting a panic into a processing error for
// that record alone.
func (d *Detector) guard(i int, rec *model.TelemetryRecord, res *Result, fn func() []model.Anomaly) {
	defer func() {
		if r := recover(); r != nil {
			res.Errors[i] = &model.RecordProcessingError{Index: i, AircraftID: rec.AircraftID, Err: fmt.Errorf("detect: %v", r)}
			res.Anomalies[i] = nil
			res.Evaluated[i] = true
		}
	}()
	out := fn()
	Sort(out)
	res.Anomalies[i] = out
	res.Evaluated[i] = true
}

func (d *Detector) recordRules(rec *model.TelemetryRecord, i int, baseline model.Baseline, fences map[string]fence, now time.Time) []model.Anomaly {
	var out []model.Anomaly
	out = append(out, d.physical(rec, i)...)
	out = append(out, d.statistical(rec, i, baseline, fences)...)
	if a, ok := d.outsideRegions(rec, i); ok {
		out = append(out, a)
	}
	if a, ok := d.temporal(rec, i, now); ok {
		out = append(out, a)
	}
	return out
}

// Sort orders anomalies by detection phase, then field, then rule.
func Sort(as []model.Anomaly) {
	sort.SliceStable(as, func(a, b int) bool {
		pa, pb := as[a].Type.Phase(), as[b].Type.Phase()
		if pa != pb {
			return pa < pb
		}
		fa, fb := firstField(as[a]), firstField(as[b])
		if fa != fb {
			return fa < fb
		}
		return as[a].Rule < as[b].Rule
	})
}

func firstField(a model.Anomaly) string {
	if len(a.Fields) == 0 {
		return ""
	}
	return a.Fields[0]
}

func newAnomaly(t model.AnomalyType, sev model.Severity, rule string, rec *model.TelemetryRecord, i int, observed, threshold float64, fields ...string) model.Anomaly {
	return model.Anomaly{
		Type:        t,
		Severity:    sev,
		Rule:        rule,
		Fields:      fields,
		Observed:    observed,
		Threshold:   threshold,
		AircraftID:  rec.AircraftID,
		Timestamp:   rec.Timestamp,
		RecordIndex: i,
	}
}

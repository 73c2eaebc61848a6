package anomaly

import (
	"fmt"
	"math"
	"time"

	"flightguard/internal/model"
	"flightguard/internal/track"
)

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

func hasPosition(r *model.TelemetryRecord) bool {
	return r.Latitude != nil && r.Longitude != nil && finite(*r.Latitude) && finite(*r.Longitude)
}

// FieldValue returns the value of a numeric field by its statistical name.
func FieldValue(rec *model.TelemetryRecord, name string) *float64 {
	switch name {
	case "baro_altitude":
		return rec.BaroAltitude
	case "geo_altitude":
		return rec.GeoAltitude
	case "velocity":
		return rec.Velocity
	case "vertical_rate":
		return rec.VerticalRate
	case "heading":
		return rec.Heading
	case "latitude":
		return rec.Latitude
	case "longitude":
		return rec.Longitude
	}
	return nil
}

type bound struct {
	field    string
	rule     string
	sev      model.Severity
	min, max float64
}

func (d *Detector) physical(rec *model.TelemetryRecord, i int) []model.Anomaly {
	b := d.cfg.Bounds
	bounds := []bound{
		{"latitude", "latitude_out_of_range", model.SeverityCritical, b.LatitudeMin, b.LatitudeMax},
		{"longitude", "longitude_out_of_range", model.SeverityCritical, b.LongitudeMin, b.LongitudeMax},
		{"baro_altitude", "altitude_out_of_range", model.SeverityHigh, b.AltitudeMinFt, b.AltitudeMaxFt},
		{"geo_altitude", "geo_altitude_out_of_range", model.SeverityHigh, b.AltitudeMinFt, b.AltitudeMaxFt},
		{"velocity", "velocity_out_of_range", model.SeverityHigh, b.VelocityMinKt, b.VelocityMaxKt},
		{"vertical_rate", "vertical_rate_out_of_range", model.SeverityHigh, -b.VerticalRateMaxFPM, b.VerticalRateMaxFPM},
	}
	var out []model.Anomaly
	for _, bd := range bounds {
		p := FieldValue(rec, bd.field)
		if p == nil {
			continue
		}
		v := *p
		if !finite(v) {
			a := newAnomaly(model.AnomalyPhysical, model.SeverityCritical, "malformed_value", rec, i, 0, 0, bd.field)
			a.Detail = fmt.Sprintf("%s is not a finite number", bd.field)
			out = append(out, a)
			continue
		}
		switch {
		case v < bd.min:
			out = append(out, newAnomaly(model.AnomalyPhysical, bd.sev, bd.rule, rec, i, v, bd.min, bd.field))
		case v > bd.max:
			out = append(out, newAnomaly(model.AnomalyPhysical, bd.sev, bd.rule, rec, i, v, bd.max, bd.field))
		}
	}
	if rec.OnGround && rec.Velocity != nil && finite(*rec.Velocity) && *rec.Velocity > b.GroundMaxVelocityKt {
		out = append(out, newAnomaly(model.AnomalyPhysical, model.SeverityMedium, "ground_speed_exceeded", rec, i,
			*rec.Velocity, b.GroundMaxVelocityKt, "on_ground", "velocity"))
	}
	return out
}

// fence is the IQR acceptance interval for one field, computed from the
// batch when the baseline is too thin to trust.
type fence struct {
	q1, q3, iqr float64
}

func (d *Detector) batchFences(records []model.TelemetryRecord, baseline model.Baseline) map[string]fence {
	fences := make(map[string]fence)
	for _, name := range d.cfg.Detection.StatisticalFields {
		if fs, ok := baseline.Field(name); ok && fs.Count >= d.cfg.Detection.MinBaselineSamples {
			continue
		}
		values := make([]float64, 0, len(records))
		for i := range records {
			if p := FieldValue(&records[i], name); p != nil && finite(*p) {
				values = append(values, *p)
			}
		}
		if len(values) < 4 {
			continue
		}
		q1, q3 := Quartiles(values)
		fences[name] = fence{q1: q1, q3: q3, iqr: q3 - q1}
	}
	return fences
}

func (d *Detector) statistical(rec *model.TelemetryRecord, i int, baseline model.Baseline, fences map[string]fence) []model.Anomaly {
	det := d.cfg.Detection
	var out []model.Anomaly
	for _, name := range det.StatisticalFields {
		p := FieldValue(rec, name)
		if p == nil || !finite(*p) {
			continue
		}
		v := *p
		if fs, ok := baseline.Field(name); ok && fs.Count >= det.MinBaselineSamples {
			if fs.StdDev <= 0 || !finite(fs.StdDev) {
				continue
			}
			z := (v - fs.Mean) / fs.StdDev
			if math.Abs(z) <= det.ZThreshold {
				continue
			}
			sev := model.SeverityMedium
			if math.Abs(z) > 2*det.ZThreshold {
				sev = model.SeverityHigh
			}
			a := newAnomaly(model.AnomalyStatistical, sev, "zscore_outlier", rec, i, z, det.ZThreshold, name)
			a.Detail = fmt.Sprintf("%s=%.2f mean=%.2f stddev=%.2f", name, v, fs.Mean, fs.StdDev)
			out = append(out, a)
			continue
		}
		fn, ok := fences[name]
		if !ok {
			continue
		}
		lo := fn.q1 - det.IQRMultiplier*fn.iqr
		hi := fn.q3 + det.IQRMultiplier*fn.iqr
		sev := model.SeverityMedium
		var limit float64
		switch {
		case v < lo:
			limit = lo
			if v < fn.q1-3*fn.iqr {
				sev = model.SeverityHigh
			}
		case v > hi:
			limit = hi
			if v > fn.q3+3*fn.iqr {
				sev = model.SeverityHigh
			}
		default:
			continue
		}
		a := newAnomaly(model.AnomalyStatistical, sev, "iqr_outlier", rec, i, v, limit, name)
		a.Detail = fmt.Sprintf("q1=%.2f q3=%.2f iqr=%.2f", fn.q1, fn.q3, fn.iqr)
		out = append(out, a)
	}
	return out
}

func (d *Detector) outsideRegions(rec *model.TelemetryRecord, i int) (model.Anomaly, bool) {
	regions := d.cfg.Detection.Regions
	if len(regions) == 0 || !hasPosition(rec) {
		return model.Anomaly{}, false
	}
	for _, r := range regions {
		if r.Contains(*rec.Latitude, *rec.Longitude) {
			return model.Anomaly{}, false
		}
	}
	a := newAnomaly(model.AnomalyGeographic, model.SeverityMedium, "outside_allowed_region", rec, i,
		*rec.Latitude, 0, "latitude", "longitude")
	a.Detail = fmt.Sprintf("position %.4f,%.4f outside %d configured region(s)", *rec.Latitude, *rec.Longitude, len(regions))
	return a, true
}

// minJumpKm is the displacement below which two same-instant reports are
// treated as the same position.
const minJumpKm = 0.1

func (d *Detector) positionJump(prev, rec *model.TelemetryRecord, i int) (model.Anomaly, bool) {
	if !hasPosition(rec) || prev.Timestamp.IsZero() || rec.Timestamp.IsZero() {
		return model.Anomaly{}, false
	}
	dist := track.HaversineKm(*prev.Latitude, *prev.Longitude, *rec.Latitude, *rec.Longitude)
	secs := rec.Timestamp.Sub(prev.Timestamp).Seconds()
	if secs <= 0 {
		if dist <= minJumpKm {
			return model.Anomaly{}, false
		}
		secs = 0.001
	}
	speed := track.ImpliedSpeedKt(dist, secs)
	limit := d.cfg.Detection.MaxImpliedSpeedKt
	if speed <= limit {
		return model.Anomaly{}, false
	}
	a := newAnomaly(model.AnomalyGeographic, model.SeverityCritical, "position_jump", rec, i, speed, limit, "latitude", "longitude")
	a.Detail = fmt.Sprintf("%.1f km in %.3fs", dist, secs)
	return a, true
}

func (d *Detector) temporal(rec *model.TelemetryRecord, i int, now time.Time) (model.Anomaly, bool) {
	det := d.cfg.Detection
	if rec.Timestamp.IsZero() {
		return newAnomaly(model.AnomalyTemporal, model.SeverityMedium, "missing_timestamp", rec, i, 0, 0, "timestamp"), true
	}
	age := now.Sub(rec.Timestamp)
	if -age > det.FutureTolerance {
		return newAnomaly(model.AnomalyTemporal, model.SeverityHigh, "future_timestamp", rec, i,
			(-age).Seconds(), det.FutureTolerance.Seconds(), "timestamp"), true
	}
	if age > det.StaleAfter {
		return newAnomaly(model.AnomalyTemporal, model.SeverityMedium, "stale_timestamp", rec, i,
			age.Seconds(), det.StaleAfter.Seconds(), "timestamp"), true
	}
	return model.Anomaly{}, false
}

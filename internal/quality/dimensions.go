package quality

import (
	"fmt"
	"math"
	"strings"
	"time"

	"flightguard/internal/config"
	"flightguard/internal/model"
	"flightguard/internal/track"
)

type presence struct {
	name     string
	critical bool
	present  func(*model.TelemetryRecord) bool
}

var fieldPresence = []presence{
	{"aircraft_id", true, func(r *model.TelemetryRecord) bool { return strings.TrimSpace(r.AircraftID) != "" }},
	{"latitude", true, func(r *model.TelemetryRecord) bool { return r.Latitude != nil }},
	{"longitude", true, func(r *model.TelemetryRecord) bool { return r.Longitude != nil }},
	{"timestamp", true, func(r *model.TelemetryRecord) bool { return !r.Timestamp.IsZero() }},
	{"baro_altitude", true, func(r *model.TelemetryRecord) bool { return r.BaroAltitude != nil }},
	{"callsign", false, func(r *model.TelemetryRecord) bool { return strings.TrimSpace(r.Callsign) != "" }},
	{"velocity", false, func(r *model.TelemetryRecord) bool { return r.Velocity != nil }},
	{"heading", false, func(r *model.TelemetryRecord) bool { return r.Heading != nil }},
	{"vertical_rate", false, func(r *model.TelemetryRecord) bool { return r.VerticalRate != nil }},
	{"geo_altitude", false, func(r *model.TelemetryRecord) bool { return r.GeoAltitude != nil }},
	{"squawk", false, func(r *model.TelemetryRecord) bool { return r.Squawk != "" }},
	{"origin_country", false, func(r *model.TelemetryRecord) bool { return r.OriginCountry != "" }},
	{"position_time", false, func(r *model.TelemetryRecord) bool { return r.PositionTime != nil }},
}

// completeness is 0 whenever every critical field is absent, regardless of
// the optional ones.
func completeness(rec *model.TelemetryRecord, cfg config.CompletenessConfig) float64 {
	var total, got float64
	criticalSeen := false
	for _, f := range fieldPresence {
		w := cfg.OptionalWeight
		if f.critical {
			w = cfg.CriticalWeight
		}
		total += w
		if f.present(rec) {
			got += w
			if f.critical {
				criticalSeen = true
			}
		}
	}
	if !criticalSeen || total == 0 {
		return 0
	}
	return got / total
}

func missingFields(rec *model.TelemetryRecord) string {
	var names []string
	for _, f := range fieldPresence {
		if !f.present(rec) {
			names = append(names, f.name)
		}
	}
	return strings.Join(names, ",")
}

type numeric struct {
	name string
	v    *float64
}

func numericFields(rec *model.TelemetryRecord) []numeric {
	return []numeric{
		{"latitude", rec.Latitude},
		{"longitude", rec.Longitude},
		{"baro_altitude", rec.BaroAltitude},
		{"geo_altitude", rec.GeoAltitude},
		{"velocity", rec.Velocity},
		{"heading", rec.Heading},
		{"vertical_rate", rec.VerticalRate},
	}
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

// validity is the fraction of applicable range and format checks passed.
// A non-finite numeric value makes the whole dimension 0.
func validity(rec *model.TelemetryRecord, b config.BoundsConfig) (float64, []model.Issue) {
	for _, f := range numericFields(rec) {
		if f.v != nil && !finite(*f.v) {
			return 0, []model.Issue{{
				Dimension:   model.DimensionValidity,
				Severity:    model.SeverityCritical,
				Code:        "malformed_value",
				Description: fmt.Sprintf("%s is not a finite number", f.name),
			}}
		}
	}

	var checks, passed int
	var issues []model.Issue
	check := func(ok bool, code string, sev model.Severity, format string, args ...any) {
		checks++
		if ok {
			passed++
			return
		}
		issues = append(issues, model.Issue{
			Dimension:   model.DimensionValidity,
			Severity:    sev,
			Code:        code,
			Description: fmt.Sprintf(format, args...),
		})
	}
	within := func(v, lo, hi float64) bool { return v >= lo && v <= hi }

	if id := strings.TrimSpace(rec.AircraftID); id != "" {
		check(isICAO24(id), "aircraft_id_format", model.SeverityMedium, "aircraft id %q is not a 24-bit hex address", id)
	}
	if rec.Latitude != nil {
		check(within(*rec.Latitude, b.LatitudeMin, b.LatitudeMax), "latitude_out_of_range", model.SeverityHigh,
			"latitude %.5f outside [%g,%g]", *rec.Latitude, b.LatitudeMin, b.LatitudeMax)
	}
	if rec.Longitude != nil {
		check(within(*rec.Longitude, b.LongitudeMin, b.LongitudeMax), "longitude_out_of_range", model.SeverityHigh,
			"longitude %.5f outside [%g,%g]", *rec.Longitude, b.LongitudeMin, b.LongitudeMax)
	}
	if rec.BaroAltitude != nil {
		check(within(*rec.BaroAltitude, b.AltitudeMinFt, b.AltitudeMaxFt), "altitude_out_of_range", model.SeverityHigh,
			"barometric altitude %.0f ft outside [%g,%g]", *rec.BaroAltitude, b.AltitudeMinFt, b.AltitudeMaxFt)
	}
	if rec.GeoAltitude != nil {
		check(within(*rec.GeoAltitude, b.AltitudeMinFt, b.AltitudeMaxFt), "geo_altitude_out_of_range", model.SeverityMedium,
			"geometric altitude %.0f ft outside [%g,%g]", *rec.GeoAltitude, b.AltitudeMinFt, b.AltitudeMaxFt)
	}
	if rec.Velocity != nil {
		check(within(*rec.Velocity, b.VelocityMinKt, b.VelocityMaxKt), "velocity_out_of_range", model.SeverityHigh,
			"velocity %.1f kt outside [%g,%g]", *rec.Velocity, b.VelocityMinKt, b.VelocityMaxKt)
	}
	if rec.Heading != nil {
		check(*rec.Heading >= 0 && *rec.Heading < 360, "heading_out_of_range", model.SeverityMedium,
			"heading %.1f outside [0,360)", *rec.Heading)
	}
	if rec.VerticalRate != nil {
		check(math.Abs(*rec.VerticalRate) <= b.VerticalRateMaxFPM, "vertical_rate_out_of_range", model.SeverityMedium,
			"vertical rate %.0f ft/min exceeds %g", *rec.VerticalRate, b.VerticalRateMaxFPM)
	}
	if rec.Squawk != "" {
		check(isSquawk(rec.Squawk), "squawk_format", model.SeverityLow, "squawk %q is not four octal digits", rec.Squawk)
	}
	if rec.OnGround && (rec.BaroAltitude != nil || rec.Velocity != nil) {
		ok := true
		if rec.BaroAltitude != nil && *rec.BaroAltitude > b.GroundMaxAltitudeFt {
			ok = false
		}
		if rec.Velocity != nil && *rec.Velocity > b.GroundMaxVelocityKt {
			ok = false
		}
		check(ok, "ground_state_inconsistent", model.SeverityMedium, "on-ground flag set with airborne altitude or speed")
	}
	if checks == 0 {
		return 0, issues
	}
	return float64(passed) / float64(checks), issues
}

func isICAO24(id string) bool {
	if len(id) != 6 {
		return false
	}
	for _, c := range strings.ToLower(id) {
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return false
		}
	}
	return true
}

func isSquawk(s string) bool {
	if len(s) != 4 {
		return false
	}
	for _, c := range s {
		if c < '0' || c > '7' {
			return false
		}
	}
	return true
}

// consistency checks the record against itself and against the previous
// record of the same aircraft. It is 1 when no check applies.
func consistency(rec, prev *model.TelemetryRecord, c config.ConsistencyConfig, b config.BoundsConfig) (float64, []model.Issue) {
	if rec.Timestamp.IsZero() {
		return 0, []model.Issue{{
			Dimension:   model.DimensionConsistency,
			Severity:    model.SeverityHigh,
			Code:        "missing_timestamp",
			Description: "record has no timestamp to order it by",
		}}
	}
	var checks, failed int
	var issues []model.Issue
	fail := func(code string, sev model.Severity, format string, args ...any) {
		failed++
		issues = append(issues, model.Issue{
			Dimension:   model.DimensionConsistency,
			Severity:    sev,
			Code:        code,
			Description: fmt.Sprintf(format, args...),
		})
	}

	if rec.PositionTime != nil {
		checks++
		if rec.PositionTime.Sub(rec.Timestamp) > c.PositionTimeTolerance {
			fail("position_time_reversed", model.SeverityMedium, "position time %s is after last contact %s",
				rec.PositionTime.Format(time.RFC3339), rec.Timestamp.Format(time.RFC3339))
		}
	}
	if rec.BaroAltitude != nil && rec.GeoAltitude != nil && finite(*rec.BaroAltitude) && finite(*rec.GeoAltitude) {
		checks++
		if d := math.Abs(*rec.BaroAltitude - *rec.GeoAltitude); d > c.MaxAltitudeDivergence {
			fail("altitude_divergence", model.SeverityMedium, "barometric and geometric altitude differ by %.0f ft", d)
		}
	}

	if prev != nil && !prev.Timestamp.IsZero() {
		dt := rec.Timestamp.Sub(prev.Timestamp).Seconds()
		checks++
		if dt <= 0 {
			fail("duplicate_timestamp", model.SeverityMedium, "timestamp repeats the previous report")
		}
		if dt > 0 && hasPosition(rec) && hasPosition(prev) && b.PositionInRange(*prev.Latitude, *prev.Longitude) {
			checks++
			dist := track.HaversineKm(*prev.Latitude, *prev.Longitude, *rec.Latitude, *rec.Longitude)
			if speed := track.ImpliedSpeedKt(dist, dt); speed > c.MaxImpliedSpeedKt {
				fail("implied_speed_exceeded", model.SeverityHigh, "implied ground speed %.0f kt exceeds %g", speed, c.MaxImpliedSpeedKt)
			}
		}
		if dt > 0 && finitePtr(rec.BaroAltitude) && finitePtr(prev.BaroAltitude) {
			change := *rec.BaroAltitude - *prev.BaroAltitude
			checks++
			if rate := math.Abs(change) / (dt / 60); rate > c.MaxClimbRateFPM {
				fail("climb_rate_exceeded", model.SeverityHigh, "altitude changed at %.0f ft/min, limit %g", rate, c.MaxClimbRateFPM)
			}
			if finitePtr(rec.VerticalRate) && math.Abs(*rec.VerticalRate) >= c.VerticalRateMinFPM {
				checks++
				if (*rec.VerticalRate > 0 && change < 0) || (*rec.VerticalRate < 0 && change > 0) {
					fail("vertical_rate_mismatch", model.SeverityLow, "vertical rate %.0f ft/min disagrees with altitude change %.0f ft",
						*rec.VerticalRate, change)
				}
			}
		}
	}
	if checks == 0 {
		return 1, issues
	}
	return 1 - float64(failed)/float64(checks), issues
}

func hasPosition(r *model.TelemetryRecord) bool {
	return finitePtr(r.Latitude) && finitePtr(r.Longitude)
}

func finitePtr(v *float64) bool {
	return v != nil && finite(*v)
}

// timeliness is 1 up to the freshness target and 0 at the staleness ceiling.
// Exponential decay reaches 1% just before the ceiling.
func timeliness(ts, now time.Time, t config.TimelinessConfig) (float64, []model.Issue) {
	if ts.IsZero() {
		return 0, nil
	}
	age := now.Sub(ts)
	if age < -t.FutureTolerance {
		return 0, []model.Issue{{
			Dimension:   model.DimensionTimeliness,
			Severity:    model.SeverityHigh,
			Code:        "future_timestamp",
			Description: fmt.Sprintf("timestamp is %s ahead of now", (-age).Round(time.Second)),
		}}
	}
	if age <= t.Freshness {
		return 1, nil
	}
	if age >= t.Staleness {
		return 0, []model.Issue{{
			Dimension:   model.DimensionTimeliness,
			Severity:    model.SeverityMedium,
			Code:        "stale_record",
			Description: fmt.Sprintf("record is %s old, ceiling %s", age.Round(time.Second), t.Staleness),
		}}
	}
	span := (t.Staleness - t.Freshness).Seconds()
	over := (age - t.Freshness).Seconds()
	var score float64
	if t.Decay == config.DecayExponential {
		score = math.Exp(-math.Log(100) / span * over)
	} else {
		score = 1 - over/span
	}
	score = clamp01(score)
	if score < 0.5 {
		return score, []model.Issue{{
			Dimension:   model.DimensionTimeliness,
			Severity:    model.SeverityLow,
			Code:        "late_record",
			Description: fmt.Sprintf("record is %s old", age.Round(time.Second)),
		}}
	}
	return score, nil
}

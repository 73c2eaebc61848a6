// Package normalize converts raw surveillance feeds into TelemetryRecord
// values in feet, knots and feet per minute.
package normalize

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"flightguard/internal/model"
)

const (
	FeetPerMeter = 3.280839895
	KnotsPerMps  = 1.943844492
	FPMPerMps    = 196.8503937
)

// OpenSky state vector positions.
const (
	svICAO24 = iota
	svCallsign
	svOriginCountry
	svTimePosition
	svLastContact
	svLongitude
	svLatitude
	svBaroAltitude
	svOnGround
	svVelocity
	svTrueTrack
	svVerticalRate
	svSensors
	svGeoAltitude
	svSquawk
	svSPI
	svPositionSource
)

// FromStateVector maps one OpenSky state vector to a record. Null entries
// become absent fields; unit conversion happens here and nowhere else.
func FromStateVector(v []any, source string) (model.TelemetryRecord, error) {
	if len(v) < svSquawk {
		return model.TelemetryRecord{}, fmt.Errorf("state vector has %d fields, want at least %d", len(v), svSquawk)
	}
	rec := model.TelemetryRecord{
		AircraftID:    strings.ToLower(strings.TrimSpace(str(v[svICAO24]))),
		Callsign:      strings.TrimSpace(str(v[svCallsign])),
		OriginCountry: str(v[svOriginCountry]),
		Source:        source,
	}
	if ts, ok := num(v[svLastContact]); ok {
		rec.Timestamp = unixTime(ts)
	}
	if ts, ok := num(v[svTimePosition]); ok {
		pt := unixTime(ts)
		rec.PositionTime = &pt
	}
	rec.Longitude = opt(v[svLongitude], 1)
	rec.Latitude = opt(v[svLatitude], 1)
	rec.BaroAltitude = opt(v[svBaroAltitude], FeetPerMeter)
	rec.OnGround, _ = v[svOnGround].(bool)
	rec.Velocity = opt(v[svVelocity], KnotsPerMps)
	rec.Heading = opt(v[svTrueTrack], 1)
	rec.VerticalRate = opt(v[svVerticalRate], FPMPerMps)
	if sensors, ok := v[svSensors].([]any); ok {
		for _, s := range sensors {
			if n, ok := num(s); ok {
				rec.Sensors = append(rec.Sensors, int(n))
			}
		}
	}
	rec.GeoAltitude = opt(v[svGeoAltitude], FeetPerMeter)
	if len(v) > svSquawk {
		rec.Squawk = strings.TrimSpace(str(v[svSquawk]))
	}
	if len(v) > svSPI {
		rec.SPI, _ = v[svSPI].(bool)
	}
	if len(v) > svPositionSource {
		if n, ok := num(v[svPositionSource]); ok {
			rec.PositionSource = int(n)
		}
	}
	return rec, nil
}

func str(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	return ""
}

func num(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	case string:
		if n == "" {
			return 0, false
		}
		f, err := strconv.ParseFloat(n, 64)
		return f, err == nil
	}
	return 0, false
}

func opt(v any, factor float64) *float64 {
	n, ok := num(v)
	if !ok {
		return nil
	}
	out := n * factor
	return &out
}

func unixTime(sec float64) time.Time {
	whole, frac := math.Modf(sec)
	return time.Unix(int64(whole), int64(frac*1e9)).UTC()
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02 15:04:05.000",
	"2006-01-02T15:04:05",
	"2006-01-02T15:04:05.000",
	"2006-01-02T15:04:05Z0700",
	"2006-01-02 15:04:05Z0700",
}

// ParseTimestamp accepts unix seconds, unix milliseconds or one of the
// layouts above; zone-less values are read in loc.
func ParseTimestamp(value string, loc *time.Location) (time.Time, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}, errors.New("empty timestamp")
	}
	if isNumeric(value) {
		if ts, err := parseUnix(value); err == nil {
			return ts, nil
		}
	}
	if loc == nil {
		loc = time.UTC
	}
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, value); err == nil {
			return t.UTC(), nil
		}
		if t, err := time.ParseInLocation(layout, value, loc); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unsupported timestamp format: %q", value)
}

func isNumeric(value string) bool {
	for _, ch := range value {
		if ch < '0' || ch > '9' {
			return false
		}
	}
	return len(value) > 0
}

func parseUnix(value string) (time.Time, error) {
	if len(value) >= 13 {
		ms, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			return time.Time{}, err
		}
		return time.Unix(0, ms*int64(time.Millisecond)).UTC(), nil
	}
	sec, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return time.Time{}, err
	}
	return time.Unix(sec, 0).UTC(), nil
}

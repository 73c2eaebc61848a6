package normalize

import (
	"encoding/json"
	"testing"
	"time"
)

func TestFromStateVectorConvertsUnits(t *testing.T) {
	var v []any
	raw := `["4B1814", "SWR123  ", "Switzerland", 1719824390, 1719824400, 8.54, 47.45, 10000.0, false, 200.0, 90.5, -5.08, [1, 2], 10100.0, "1000", false, 0]`
	if err := json.Unmarshal([]byte(raw), &v); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	rec, err := FromStateVector(v, "opensky")
	if err != nil {
		t.Fatalf("FromStateVector: %v", err)
	}
	if rec.AircraftID != "4b1814" || rec.Callsign != "SWR123" {
		t.Fatalf("ids: %q %q", rec.AircraftID, rec.Callsign)
	}
	if !rec.Timestamp.Equal(time.Unix(1719824400, 0)) || rec.PositionTime == nil || !rec.PositionTime.Equal(time.Unix(1719824390, 0)) {
		t.Fatalf("times: %v %v", rec.Timestamp, rec.PositionTime)
	}
	if got := *rec.BaroAltitude; got < 32808 || got > 32809 {
		t.Fatalf("baro altitude ft = %v", got)
	}
	if got := *rec.Velocity; got < 388.7 || got > 388.8 {
		t.Fatalf("velocity kt = %v", got)
	}
	if got := *rec.VerticalRate; got < -1000.1 || got > -999.9 {
		t.Fatalf("vertical rate fpm = %v", got)
	}
	if rec.Squawk != "1000" || len(rec.Sensors) != 2 || rec.Source != "opensky" {
		t.Fatalf("extras: %+v", rec)
	}
}

func TestFromStateVectorNulls(t *testing.T) {
	var v []any
	raw := `["abc123", null, "X", null, 1719824400, null, null, null, true, null, null, null, null, null, null]`
	if err := json.Unmarshal([]byte(raw), &v); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	rec, err := FromStateVector(v, "")
	if err != nil {
		t.Fatalf("FromStateVector: %v", err)
	}
	if rec.Latitude != nil || rec.BaroAltitude != nil || rec.PositionTime != nil || rec.Squawk != "" {
		t.Fatalf("expected absent fields, got %+v", rec)
	}
	if !rec.OnGround {
		t.Fatalf("on_ground lost")
	}
}

func TestFromStateVectorTooShort(t *testing.T) {
	if _, err := FromStateVector([]any{"abc123"}, ""); err == nil {
		t.Fatalf("expected error")
	}
}

func TestParseTimestamp(t *testing.T) {
	want := time.Date(2024, 7, 1, 9, 0, 0, 0, time.UTC)
	for _, in := range []string{"1719824400", "1719824400000", "2024-07-01T09:00:00Z", "2024-07-01 09:00:00"} {
		got, err := ParseTimestamp(in, time.UTC)
		if err != nil {
			t.Fatalf("%s: %v", in, err)
		}
		if !got.Equal(want) {
			t.Fatalf("%s: got %v", in, got)
		}
	}
	if _, err := ParseTimestamp("yesterday", time.UTC); err == nil {
		t.Fatalf("expected error")
	}
}

package track

import (
	"testing"
	"time"

	"flightguard/internal/model"
)

func TestGroupByAircraftSortsByTimestamp(t *testing.T) {
	base := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	records := []model.TelemetryRecord{
		{AircraftID: "abc123", Timestamp: base.Add(20 * time.Second)},
		{AircraftID: "def456", Timestamp: base},
		{AircraftID: "ABC123", Timestamp: base},
		{AircraftID: "", Timestamp: base},
		{AircraftID: "abc123", Timestamp: base.Add(10 * time.Second)},
	}
	groups := GroupByAircraft(records)
	if len(groups) != 2 {
		t.Fatalf("expected 2 groups, got %d", len(groups))
	}
	if groups[0].AircraftID != "abc123" {
		t.Fatalf("expected abc123 first, got %s", groups[0].AircraftID)
	}
	want := []int{2, 4, 0}
	for i, idx := range groups[0].Indices {
		if idx != want[i] {
			t.Fatalf("order mismatch: got %v want %v", groups[0].Indices, want)
		}
	}

	prev := Previous(groups, len(records))
	if prev[2] != -1 || prev[4] != 2 || prev[0] != 4 || prev[3] != -1 {
		t.Fatalf("unexpected previous links %v", prev)
	}
}

func TestGroupByAircraftTiesKeepBatchOrder(t *testing.T) {
	ts := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	records := []model.TelemetryRecord{
		{AircraftID: "a1", Timestamp: ts},
		{AircraftID: "a1", Timestamp: ts},
	}
	groups := GroupByAircraft(records)
	if groups[0].Indices[0] != 0 || groups[0].Indices[1] != 1 {
		t.Fatalf("tie order not stable: %v", groups[0].Indices)
	}
}

func TestHaversineKm(t *testing.T) {
	// one degree of latitude is roughly 111.2 km
	d := HaversineKm(50, 10, 51, 10)
	if d < 111 || d > 111.4 {
		t.Fatalf("unexpected distance %.3f", d)
	}
	if HaversineKm(12.5, -3, 12.5, -3) != 0 {
		t.Fatalf("expected zero distance for identical points")
	}
}

func TestImpliedSpeedKt(t *testing.T) {
	// 1.852 km in one hour is one knot
	if v := ImpliedSpeedKt(1.852, 3600); v < 0.999 || v > 1.001 {
		t.Fatalf("expected 1 kt, got %f", v)
	}
	if v := ImpliedSpeedKt(200, 1); v < 300000 {
		t.Fatalf("expected an implausible speed, got %f", v)
	}
}

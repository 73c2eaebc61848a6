package quality

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"flightguard/internal/config"
	"flightguard/internal/model"
	"flightguard/internal/track"
)

var testNow = time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)

func f(v float64) *float64 { return &v }

func goodRecord(id string, ts time.Time) model.TelemetryRecord {
	pos := ts
	return model.TelemetryRecord{
		AircraftID:    id,
		Callsign:      "DLH4AB",
		OriginCountry: "Germany",
		Timestamp:     ts,
		PositionTime:  &pos,
		Latitude:      f(50.03),
		Longitude:     f(8.57),
		BaroAltitude:  f(35000),
		GeoAltitude:   f(35250),
		Velocity:      f(450),
		Heading:       f(90),
		VerticalRate:  f(0),
		Squawk:        "1000",
	}
}

func assessOne(t *testing.T, cfg *config.Config, rec model.TelemetryRecord) model.QualityAssessment {
	t.Helper()
	a, err := NewValidator(cfg).AssessRecord(0, &rec, nil, testNow)
	require.NoError(t, err)
	return a
}

func TestPerfectRecordScoresOne(t *testing.T) {
	a := assessOne(t, config.DefaultConfig(), goodRecord("3c6444", testNow.Add(-5*time.Second)))
	assert.Equal(t, 1.0, a.Completeness)
	assert.Equal(t, 1.0, a.Validity)
	assert.Equal(t, 1.0, a.Consistency)
	assert.Equal(t, 1.0, a.Timeliness)
	assert.InDelta(t, 1.0, a.Overall, 1e-12)
	assert.Equal(t, model.GradeA, a.Grade)
	assert.Empty(t, a.Issues)
}

func TestOverallIsWeightedSumWithinUnitRange(t *testing.T) {
	cfg := config.DefaultConfig()
	w := cfg.Quality.Weights
	base := goodRecord("3c6444", testNow.Add(-10*time.Minute))
	variants := []func(*model.TelemetryRecord){
		func(r *model.TelemetryRecord) {},
		func(r *model.TelemetryRecord) { r.BaroAltitude = f(-5000) },
		func(r *model.TelemetryRecord) { r.Latitude = nil; r.Callsign = "" },
		func(r *model.TelemetryRecord) { r.Velocity = f(math.Inf(1)) },
		func(r *model.TelemetryRecord) { r.Timestamp = time.Time{} },
		func(r *model.TelemetryRecord) { r.Timestamp = testNow.Add(2 * time.Hour) },
		func(r *model.TelemetryRecord) { r.OnGround = true; r.AircraftID = "nothex" },
	}
	for i, mut := range variants {
		rec := base
		mut(&rec)
		a := assessOne(t, cfg, rec)
		want := w.Completeness*a.Completeness + w.Validity*a.Validity + w.Consistency*a.Consistency + w.Timeliness*a.Timeliness
		assert.InDelta(t, want, a.Overall, 1e-9, "variant %d", i)
		assert.GreaterOrEqual(t, a.Overall, 0.0, "variant %d", i)
		assert.LessOrEqual(t, a.Overall, 1.0, "variant %d", i)
	}
}

func TestMissingEveryCriticalFieldScoresZeroCompleteness(t *testing.T) {
	rec := model.TelemetryRecord{Callsign: "N123", Velocity: f(120), Squawk: "7000", OriginCountry: "US"}
	a := assessOne(t, config.DefaultConfig(), rec)
	assert.Equal(t, 0.0, a.Completeness)
	require.True(t, a.HasIssue("missing_fields"))
}

func TestAltitudeFurtherOutOfRangeNeverRaisesValidity(t *testing.T) {
	cfg := config.DefaultConfig()
	prev := math.Inf(1)
	for _, alt := range []float64{59000, 60000, 60001, 65000, 100000, 1e7} {
		rec := goodRecord("3c6444", testNow)
		rec.BaroAltitude = f(alt)
		v := assessOne(t, cfg, rec).Validity
		assert.LessOrEqual(t, v, prev, "altitude %g", alt)
		prev = v
	}
	prev = math.Inf(1)
	for _, alt := range []float64{0, -1000, -1001, -5000, -50000} {
		rec := goodRecord("3c6444", testNow)
		rec.BaroAltitude = f(alt)
		v := assessOne(t, cfg, rec).Validity
		assert.LessOrEqual(t, v, prev, "altitude %g", alt)
		prev = v
	}
}

func TestNegativeAltitudeIsValidityIssue(t *testing.T) {
	rec := goodRecord("abc123", testNow)
	rec.BaroAltitude = f(-5000)
	a := assessOne(t, config.DefaultConfig(), rec)
	assert.True(t, a.HasIssue("altitude_out_of_range"))
	assert.Less(t, a.Validity, 1.0)
}

func TestNonFiniteValueZeroesValidity(t *testing.T) {
	rec := goodRecord("abc123", testNow)
	rec.Latitude = f(math.NaN())
	a := assessOne(t, config.DefaultConfig(), rec)
	assert.Equal(t, 0.0, a.Validity)
	assert.True(t, a.HasIssue("malformed_value"))
}

func TestOnGroundWithCruiseAltitudeIsInvalid(t *testing.T) {
	rec := goodRecord("abc123", testNow)
	rec.OnGround = true
	a := assessOne(t, config.DefaultConfig(), rec)
	assert.True(t, a.HasIssue("ground_state_inconsistent"))
}

func TestTimelinessDecay(t *testing.T) {
	cfg := config.DefaultConfig().Quality.Timeliness

	s, _ := timeliness(testNow.Add(-30*time.Second), testNow, cfg)
	assert.Equal(t, 1.0, s)
	s, _ = timeliness(testNow.Add(-time.Hour), testNow, cfg)
	assert.Equal(t, 0.0, s)
	s, _ = timeliness(testNow.Add(-1815*time.Second), testNow, cfg)
	assert.InDelta(t, 0.5, s, 1e-9)

	cfg.Decay = config.DecayExponential
	last := 1.0
	for age := 60 * time.Second; age < time.Hour; age += 5 * time.Minute {
		s, _ = timeliness(testNow.Add(-age), testNow, cfg)
		assert.Less(t, s, last)
		last = s
	}
	s, _ = timeliness(testNow.Add(-time.Hour), testNow, cfg)
	assert.Equal(t, 0.0, s)

	s, issues := timeliness(testNow.Add(time.Minute), testNow, cfg)
	assert.Equal(t, 0.0, s)
	require.Len(t, issues, 1)
	assert.Equal(t, "future_timestamp", issues[0].Code)
}

func TestConsistencyAgainstPreviousRecord(t *testing.T) {
	cfg := config.DefaultConfig()
	v := NewValidator(cfg)
	prev := goodRecord("abc123", testNow.Add(-time.Second))

	jump := goodRecord("abc123", testNow)
	jump.Latitude = f(*prev.Latitude + 1.8)
	a, err := v.AssessRecord(1, &jump, &prev, testNow)
	require.NoError(t, err)
	assert.True(t, a.HasIssue("implied_speed_exceeded"))
	assert.Less(t, a.Consistency, 1.0)

	corrupt := goodRecord("abc123", testNow.Add(-10*time.Second))
	corrupt.Latitude = f(95)
	clean := goodRecord("abc123", testNow)
	a, _ = v.AssessRecord(1, &clean, &corrupt, testNow)
	assert.False(t, a.HasIssue("implied_speed_exceeded"))
	assert.Equal(t, 1.0, a.Consistency)

	dup := goodRecord("abc123", prev.Timestamp)
	a, _ = v.AssessRecord(1, &dup, &prev, testNow)
	assert.True(t, a.HasIssue("duplicate_timestamp"))

	reversed := goodRecord("abc123", testNow)
	later := testNow.Add(time.Minute)
	reversed.PositionTime = &later
	a, _ = v.AssessRecord(0, &reversed, nil, testNow)
	assert.True(t, a.HasIssue("position_time_reversed"))

	noTime := goodRecord("abc123", time.Time{})
	a, _ = v.AssessRecord(0, &noTime, nil, testNow)
	assert.Equal(t, 0.0, a.Consistency)
}

func TestAssessUsesPerAircraftOrder(t *testing.T) {
	cfg := config.DefaultConfig()
	// batch order is reversed in time; grouping restores it
	later := goodRecord("abc123", testNow)
	earlier := goodRecord("abc123", testNow.Add(-10*time.Second))
	records := []model.TelemetryRecord{later, earlier}
	out, evaluated := NewValidator(cfg).Assess(context.Background(), records, track.GroupByAircraft(records), testNow)
	require.Equal(t, []bool{true, true}, evaluated)
	assert.Equal(t, 1.0, out[0].Consistency)
	assert.Equal(t, 1.0, out[1].Consistency)
	assert.Equal(t, 1, out[1].Index)
}

func TestAssessStopsWhenContextDone(t *testing.T) {
	records := []model.TelemetryRecord{goodRecord("abc123", testNow), goodRecord("def456", testNow)}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, evaluated := NewValidator(config.DefaultConfig()).Assess(ctx, records, track.GroupByAircraft(records), testNow)
	assert.Equal(t, []bool{false, false}, evaluated)
}

package baseline

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"flightguard/internal/model"
)

func fp(v float64) *float64 { return &v }

var t0 = time.Date(2026, 7, 1, 9, 0, 0, 0, time.UTC)

func TestComputeFieldStatsAndQuality(t *testing.T) {
	records := []model.TelemetryRecord{
		{AircraftID: "abc123", BaroAltitude: fp(30000), Velocity: fp(400)},
		{AircraftID: "abc123", BaroAltitude: fp(32000), Velocity: fp(420)},
		{AircraftID: "abc123", BaroAltitude: fp(34000)},
	}
	reports := []model.BatchReport{
		{Evaluated: 100, AverageQuality: 0.9},
		{Evaluated: 300, AverageQuality: 0.8},
		{Evaluated: 50, AverageQuality: 0.1, Fatal: true},
	}
	b := Compute([]string{"baro_altitude", "velocity", "vertical_rate"}, records, reports, t0)

	alt := b.Fields["baro_altitude"]
	assert.Equal(t, 3, alt.Count)
	assert.InDelta(t, 32000, alt.Mean, 1e-9)
	assert.InDelta(t, 2000, alt.StdDev, 1e-9)
	assert.Equal(t, 2, b.Fields["velocity"].Count)
	_, ok := b.Field("vertical_rate")
	assert.False(t, ok)

	assert.Equal(t, 400, b.QualitySamples)
	assert.InDelta(t, 0.825, b.QualityMean, 1e-9)
	assert.Equal(t, t0, b.AsOf)
}

func TestSaveLoadYAMLAndJSON(t *testing.T) {
	b := model.Baseline{
		AsOf:           t0,
		Fields:         map[string]model.FieldStats{"velocity": {Mean: 420, StdDev: 40, Count: 900}},
		QualityMean:    0.9,
		QualitySamples: 900,
	}
	dir := t.TempDir()
	for _, name := range []string{"b.yaml", "b.json"} {
		path := filepath.Join(dir, name)
		require.NoError(t, Save(path, b))
		got, err := Load(path)
		require.NoError(t, err, name)
		assert.Equal(t, b.Fields, got.Fields, name)
		assert.Equal(t, 0.9, got.QualityMean, name)
		assert.True(t, got.AsOf.Equal(t0), name)
	}
}

func TestFileProviderReloadsOnChange(t *testing.T) {
	path := filepath.Join(t.TempDir(), "baseline.yaml")
	require.NoError(t, Save(path, model.Baseline{QualityMean: 0.9, QualitySamples: 10}))
	p := NewFileProvider(path)

	b, err := p.Baseline(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0.9, b.QualityMean)

	require.NoError(t, Save(path, model.Baseline{QualityMean: 0.7, QualitySamples: 10}))
	later := time.Now().Add(time.Minute)
	require.NoError(t, os.Chtimes(path, later, later))
	b, err = p.Baseline(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0.7, b.QualityMean)
}

func TestLoadRejectsEmptyFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "empty.yaml")
	require.NoError(t, os.WriteFile(path, nil, 0o644))
	_, err := Load(path)
	assert.Error(t, err)
}

package config

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"flightguard/internal/model"
)

func TestDefaultConfigIsValid(t *testing.T) {
	require.NoError(t, Validate(DefaultConfig()))
}

func TestParseYAMLOverridesDefaults(t *testing.T) {
	cfg, err := Parse([]byte(`
log_level: debug
quality:
  weights: {completeness: 0.25, validity: 0.25, consistency: 0.25, timeliness: 0.25}
  timeliness:
    freshness: 10s
    staleness: 30m
    decay: exponential
alerts:
  suppression_window: 5m
  channels:
    - name: ops
      type: webhook
      url: http://localhost:9999/hook
      rate_per_minute: 10
`))
	require.NoError(t, err)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, 0.25, cfg.Quality.Weights.Validity)
	assert.Equal(t, 10*time.Second, cfg.Quality.Timeliness.Freshness)
	assert.Equal(t, DecayExponential, cfg.Quality.Timeliness.Decay)
	assert.Equal(t, 5*time.Minute, cfg.Alerts.SuppressionWindow)
	require.Len(t, cfg.Alerts.Channels, 1)
	assert.Equal(t, cfg.Alerts.Retry.Timeout, cfg.Alerts.Channels[0].Timeout)
	// untouched sections keep their defaults
	assert.Equal(t, 0.95, cfg.Quality.Grades.A)
	assert.Equal(t, 1000, cfg.Batch.MaxSize)
}

func TestParseJSON(t *testing.T) {
	cfg, err := Parse([]byte(`{"log_level":"warn","quarantine":{"threshold":0.4,"poor_threshold":0.6}}`))
	require.NoError(t, err)
	assert.Equal(t, "warn", cfg.LogLevel)
	assert.Equal(t, 0.4, cfg.Quarantine.Threshold)
}

func TestValidateRejectsBadConfig(t *testing.T) {
	tests := []struct {
		name  string
		mut   func(*Config)
		field string
	}{
		{"weights off by more than epsilon", func(c *Config) { c.Quality.Weights.Timeliness = 0.2 }, "quality.weights"},
		{"negative weight", func(c *Config) {
			c.Quality.Weights.Completeness = -0.1
			c.Quality.Weights.Validity = 0.7
		}, "quality.weights.completeness"},
		{"grades not decreasing", func(c *Config) { c.Quality.Grades.C = 0.90 }, "quality.grades"},
		{"grades equal", func(c *Config) { c.Quality.Grades.B = c.Quality.Grades.A }, "quality.grades"},
		{"staleness below freshness", func(c *Config) { c.Quality.Timeliness.Staleness = time.Second }, "quality.timeliness"},
		{"unknown decay", func(c *Config) { c.Quality.Timeliness.Decay = "cubic" }, "quality.timeliness.decay"},
		{"inverted bounds", func(c *Config) { c.Bounds.AltitudeMinFt = 70000 }, "bounds.altitude"},
		{"quarantine above poor", func(c *Config) { c.Quarantine.Threshold = 0.9 }, "quarantine.threshold"},
		{"zero retries", func(c *Config) { c.Quarantine.Retry.Attempts = 0 }, "quarantine.retry.attempts"},
		{"unknown review mode", func(c *Config) { c.Quarantine.ReviewMode = "never" }, "quarantine.review_mode"},
		{"stuck min above window", func(c *Config) { c.Detection.Stuck.MinSamples = 9 }, "detection.stuck"},
		{"unknown statistical field", func(c *Config) { c.Detection.StatisticalFields = []string{"fuel"} }, "detection.statistical_fields"},
		{"duplicate channel", func(c *Config) {
			c.Alerts.Channels = append(c.Alerts.Channels, ChannelConfig{Name: "log", Type: ChannelLog, RatePerMinute: 1})
		}, "alerts.channels[1].name"},
		{"webhook without url", func(c *Config) {
			c.Alerts.Channels = []ChannelConfig{{Name: "hook", Type: ChannelWebhook, RatePerMinute: 1}}
		}, "alerts.channels[0]"},
		{"zero channel rate", func(c *Config) { c.Alerts.Channels[0].RatePerMinute = 0 }, "alerts.channels[0].rate_per_minute"},
		{"unknown storage", func(c *Config) { c.Storage.Driver = "mongo" }, "storage.driver"},
		{"spool without dir", func(c *Config) { c.Ingest.Spool.Enabled = true }, "ingest.spool.dir"},
		{"bad spool pattern", func(c *Config) {
			c.Ingest.Spool = SpoolConfig{Enabled: true, Dir: "/tmp/spool", Pattern: "[", PollInterval: time.Second}
		}, "ingest.spool.pattern"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tc.mut(cfg)
			err := Validate(cfg)
			require.Error(t, err)
			var cerr *model.ConfigError
			require.True(t, errors.As(err, &cerr), "want *model.ConfigError, got %T", err)
			assert.Equal(t, tc.field, cerr.Field)
		})
	}
}

func TestWeightsWithinEpsilonAccepted(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Quality.Weights.Timeliness += 1e-9
	assert.NoError(t, Validate(cfg))
}

func TestGradeBoundaries(t *testing.T) {
	g := DefaultConfig().Quality.Grades
	assert.Equal(t, model.GradeA, g.Grade(0.95))
	assert.Equal(t, model.GradeB, g.Grade(0.9499))
	assert.Equal(t, model.GradeC, g.Grade(0.75))
	assert.Equal(t, model.GradeD, g.Grade(0.65))
	assert.Equal(t, model.GradeF, g.Grade(0.6499))
}

func TestLoadEmptyFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "empty.yaml")
	require.NoError(t, os.WriteFile(path, []byte("  \n"), 0o644))
	_, err := Load(path)
	assert.Error(t, err)
}

func TestManagerReloadKeepsPreviousOnError(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cfg.yaml")
	require.NoError(t, Save(path, DefaultConfig()))
	m, err := NewManager(path)
	require.NoError(t, err)
	before := m.Get()

	require.NoError(t, os.WriteFile(path, []byte("quality:\n  grades: {a: 0.5, b: 0.9, c: 0.4, d: 0.3}\n"), 0o644))
	_, err = m.Reload()
	require.Error(t, err)
	assert.Same(t, before, m.Get())
}

func TestWatchReloadsAndKeepsPreviousOnInvalidFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cfg.yaml")
	require.NoError(t, os.WriteFile(path, []byte("log_level: info\n"), 0o644))
	m, err := NewManager(path)
	require.NoError(t, err)

	var mu sync.Mutex
	var events []string
	record := func(ev string) {
		mu.Lock()
		events = append(events, ev)
		mu.Unlock()
	}
	seen := func(ev string) int {
		mu.Lock()
		defer mu.Unlock()
		for i, e := range events {
			if e == ev {
				return i
			}
		}
		return -1
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- m.Watch(ctx, func(cfg *Config) {
			record("reload:" + cfg.LogLevel)
		}, func(err error) {
			var cerr *model.ConfigError
			if errors.As(err, &cerr) {
				record("error:" + cerr.Field)
			}
		}, nil)
	}()

	// rewritten until the watcher is registered and picks it up
	require.Eventually(t, func() bool {
		_ = os.WriteFile(path, []byte("log_level: warn\n"), 0o644)
		return seen("reload:warn") >= 0
	}, 5*time.Second, 50*time.Millisecond)
	assert.Equal(t, "warn", m.Get().LogLevel)

	require.Eventually(t, func() bool {
		_ = os.WriteFile(path, []byte("quality:\n  grades: {a: 0.5, b: 0.9, c: 0.4, d: 0.3}\n"), 0o644)
		return seen("error:quality.grades") >= 0
	}, 5*time.Second, 50*time.Millisecond)

	assert.Less(t, seen("reload:warn"), seen("error:quality.grades"))
	assert.Equal(t, "warn", m.Get().LogLevel)

	cancel()
	require.NoError(t, <-done)
}

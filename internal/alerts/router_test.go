package alerts

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"flightguard/internal/config"
	"flightguard/internal/logging"
	"flightguard/internal/model"
	"flightguard/internal/notify"
)

var t0 = time.Date(2026, 7, 1, 9, 0, 0, 0, time.UTC)

type fakeChannel struct {
	name string
	fail bool

	mu        sync.Mutex
	delivered []model.AlertEvent
	calls     int
}

func (f *fakeChannel) Name() string { return f.name }

func (f *fakeChannel) Deliver(ctx context.Context, ev model.AlertEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.fail {
		return errors.New("connection refused")
	}
	f.delivered = append(f.delivered, ev)
	return nil
}

func (f *fakeChannel) Close() error { return nil }

func (f *fakeChannel) categories() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.delivered))
	for _, ev := range f.delivered {
		out = append(out, ev.Category)
	}
	return out
}

func testConfig(channels ...config.ChannelConfig) config.AlertsConfig {
	cfg := config.DefaultConfig().Alerts
	cfg.Retry.Backoff = 0
	cfg.Retry.MaxBackoff = 0
	cfg.Retry.Timeout = time.Second
	cfg.Channels = channels
	return cfg
}

func degradedReport(batch string, avg float64) model.BatchReport {
	return model.BatchReport{
		BatchID:        batch,
		Records:        100,
		Evaluated:      100,
		AverageQuality: avg,
		Dispositions:   map[model.Disposition]int{model.DispositionPass: 100},
		Anomalies:      model.AnomalyCounts{BySeverity: map[model.Severity]int{}},
	}
}

var trailing = model.Baseline{QualityMean: 0.90, QualitySamples: 500}

func TestClassifyQualityDegradationSeverity(t *testing.T) {
	cfg := testConfig()
	tests := []struct {
		avg  float64
		want model.Severity
	}{
		{0.85, model.SeverityNone},
		{0.80, model.SeverityMedium},
		{0.75, model.SeverityHigh},
		{0.60, model.SeverityCritical},
	}
	for _, tc := range tests {
		events := Classify(cfg, degradedReport("b", tc.avg), trailing, t0)
		if tc.want == model.SeverityNone {
			assert.Empty(t, events, "avg %.2f", tc.avg)
			continue
		}
		require.Len(t, events, 1, "avg %.2f", tc.avg)
		assert.Equal(t, CategoryQualityDegradation, events[0].Category)
		assert.Equal(t, tc.want, events[0].Severity, "avg %.2f", tc.avg)
	}
	// without a trailing baseline there is nothing to compare against
	assert.Empty(t, Classify(cfg, degradedReport("b", 0.1), model.Baseline{}, t0))
}

func TestClassifyRatesAndFailures(t *testing.T) {
	r := degradedReport("b", 0.9)
	r.Anomalies = model.AnomalyCounts{
		Records:        10,
		BySeverity:     map[model.Severity]int{model.SeverityCritical: 2},
		CriticalByRule: map[string]int{"position_jump": 2},
	}
	r.Dispositions = map[model.Disposition]int{model.DispositionQuarantine: 5, model.DispositionPass: 95}
	r.Quarantine = model.QuarantineSummary{Attempted: 5, Persisted: 4, Unresolved: []model.PersistFailure{{EntryID: "x"}}}

	events := Classify(testConfig(), r, trailing, t0)
	var got []string
	for _, ev := range events {
		got = append(got, ev.DedupeKey)
	}
	assert.Equal(t, []string{
		"anomaly_rate|high",
		"quarantine_rate|high",
		"persistence_failure|critical",
		"critical_anomaly|critical",
	}, got)
	assert.Contains(t, events[3].Message, "position_jump=2")
}

func TestRouteSuppressesRepeatsAndRollsUp(t *testing.T) {
	ch := &fakeChannel{name: "ops"}
	cfg := testConfig(config.ChannelConfig{Name: "ops", Type: config.ChannelLog, RatePerMinute: 600})
	history := NewStore(10)
	r := NewRouter(cfg, []notify.Channel{ch}, history, logging.Discard())
	ctx := context.Background()

	first := r.Route(ctx, degradedReport("b1", 0.75), trailing, t0)
	require.Len(t, first, 1)
	assert.Equal(t, model.SeverityHigh, first[0].Severity)
	assert.False(t, first[0].Suppressed)
	require.Len(t, first[0].Deliveries, 1)
	assert.Equal(t, model.DeliveryDelivered, first[0].Deliveries[0].Status)

	second := r.Route(ctx, degradedReport("b2", 0.75), trailing, t0.Add(5*time.Minute))
	require.Len(t, second, 1)
	assert.True(t, second[0].Suppressed)
	assert.Empty(t, second[0].Deliveries)
	assert.Equal(t, []string{CategoryQualityDegradation}, ch.categories())

	third := r.Route(ctx, degradedReport("b3", 0.75), trailing, t0.Add(16*time.Minute))
	require.Len(t, third, 2)
	assert.True(t, third[0].Rollup)
	assert.Equal(t, 1, third[0].SuppressedCount)
	assert.False(t, third[1].Suppressed)
	assert.Len(t, ch.categories(), 3)

	_, suppressed := r.Stats()
	assert.Equal(t, 1, suppressed)
	assert.Len(t, history.List(0), 4)
}

func TestRouteRateLimitsPerChannel(t *testing.T) {
	slow := &fakeChannel{name: "slow"}
	fast := &fakeChannel{name: "fast"}
	cfg := testConfig(
		config.ChannelConfig{Name: "slow", Type: config.ChannelLog, RatePerMinute: 1},
		config.ChannelConfig{Name: "fast", Type: config.ChannelLog, RatePerMinute: 600},
	)
	r := NewRouter(cfg, []notify.Channel{slow, fast}, nil, logging.Discard())

	rep := degradedReport("b", 0.75)
	rep.Anomalies.Records = 50
	events := r.Route(context.Background(), rep, trailing, t0)
	require.Len(t, events, 2)

	assert.Equal(t, model.DeliveryDelivered, events[0].Deliveries[0].Status)
	assert.Equal(t, model.DeliveryRateLimited, events[1].Deliveries[0].Status)
	assert.Equal(t, "slow", events[1].Deliveries[0].Channel)
	assert.Equal(t, model.DeliveryDelivered, events[1].Deliveries[1].Status)
	assert.Len(t, fast.categories(), 2)

	dropped, _ := r.Stats()
	assert.Equal(t, 1, dropped["slow"])
}

func TestRouteFailedChannelRaisesDeliveryFailure(t *testing.T) {
	broken := &fakeChannel{name: "pager", fail: true}
	healthy := &fakeChannel{name: "ops"}
	cfg := testConfig(
		config.ChannelConfig{Name: "pager", Type: config.ChannelLog, RatePerMinute: 600},
		config.ChannelConfig{Name: "ops", Type: config.ChannelLog, RatePerMinute: 600},
	)
	r := NewRouter(cfg, []notify.Channel{broken, healthy}, nil, logging.Discard())

	events := r.Route(context.Background(), degradedReport("b", 0.75), trailing, t0)
	require.Len(t, events, 2)
	d := events[0].Deliveries
	require.Len(t, d, 2)
	assert.Equal(t, model.DeliveryFailed, d[0].Status)
	assert.Equal(t, cfg.Retry.Attempts, d[0].Attempts)
	assert.Equal(t, model.DeliveryDelivered, d[1].Status)

	assert.Equal(t, CategoryDeliveryFailure, events[1].Category)
	assert.Equal(t, model.SeverityCritical, events[1].Severity)
	require.Len(t, events[1].Deliveries, 1)
	assert.Equal(t, "ops", events[1].Deliveries[0].Channel)
	assert.Equal(t, cfg.Retry.Attempts, broken.calls)
}

func TestRouteHonoursMinSeverity(t *testing.T) {
	pager := &fakeChannel{name: "pager"}
	cfg := testConfig(config.ChannelConfig{Name: "pager", Type: config.ChannelLog, RatePerMinute: 600, MinSeverity: "critical"})
	r := NewRouter(cfg, []notify.Channel{pager}, nil, logging.Discard())
	events := r.Route(context.Background(), degradedReport("b", 0.75), trailing, t0)
	require.Len(t, events, 1)
	assert.Empty(t, events[0].Deliveries)
	assert.Empty(t, pager.categories())
}

func TestStoreKeepsNewest(t *testing.T) {
	s := NewStore(2)
	s.Add(model.AlertEvent{Category: "a", Timestamp: t0}, model.AlertEvent{Category: "b", Timestamp: t0.Add(time.Minute)})
	s.Add(model.AlertEvent{Category: "c", Timestamp: t0.Add(2 * time.Minute)})
	list := s.List(0)
	require.Len(t, list, 2)
	assert.Equal(t, "b", list[0].Category)
	assert.Equal(t, "c", list[1].Category)
	assert.Len(t, s.Since(t0.Add(90*time.Second)), 1)
}

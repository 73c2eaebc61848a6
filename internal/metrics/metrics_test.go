package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"flightguard/internal/model"
)

var t0 = time.Date(2026, 7, 1, 9, 0, 0, 0, time.UTC)

func report(id string, at time.Time) model.BatchReport {
	return model.BatchReport{BatchID: id, ProcessedAt: at}
}

func TestStoreEvictsOldestReport(t *testing.T) {
	s := NewStore(2)
	s.Add(report("b1", t0))
	s.Add(report("b2", t0.Add(time.Minute)))
	s.Add(report("b3", t0.Add(2*time.Minute)))

	_, ok := s.Get("b1")
	assert.False(t, ok)
	list := s.List(0)
	require.Len(t, list, 2)
	assert.Equal(t, "b2", list[0].BatchID)
	latest, ok := s.Latest()
	require.True(t, ok)
	assert.Equal(t, "b3", latest.BatchID)

	s.Add(model.BatchReport{})
	assert.Len(t, s.List(0), 2)
	s.Clear()
	assert.Empty(t, s.List(0))
}

func TestPublisherObserve(t *testing.T) {
	p := NewPublisher("fg")
	p.Observe(model.BatchReport{
		BatchID:        "b1",
		Records:        3,
		Evaluated:      3,
		AverageQuality: 0.8,
		Dispositions:   map[model.Disposition]int{model.DispositionPass: 2, model.DispositionQuarantine: 1},
		Anomalies: model.AnomalyCounts{
			Total:      2,
			ByType:     map[model.AnomalyType]int{model.AnomalyPhysical: 2},
			BySeverity: map[model.Severity]int{model.SeverityCritical: 2},
		},
		Quarantine: model.QuarantineSummary{Attempted: 1, Persisted: 1},
		Alerts: []model.AlertEvent{{
			Category:   "critical_anomaly",
			Severity:   model.SeverityCritical,
			Deliveries: []model.DeliveryResult{{Channel: "log", Status: model.DeliveryDelivered}},
		}},
		DurationMS: 12,
	})
	p.ObserveRouter(map[string]int{"log": 4}, 7)

	assert.Equal(t, 1.0, testutil.ToFloat64(p.batches.WithLabelValues("ok")))
	assert.Equal(t, 2.0, testutil.ToFloat64(p.records.WithLabelValues("pass")))
	assert.Equal(t, 2.0, testutil.ToFloat64(p.anomalyTypes.WithLabelValues("physical")))
	assert.Equal(t, 0.8, testutil.ToFloat64(p.averageQuality))
	assert.Equal(t, 1.0, testutil.ToFloat64(p.deliveries.WithLabelValues("log", "delivered")))
	assert.Equal(t, 4.0, testutil.ToFloat64(p.rateLimited.WithLabelValues("log")))
	assert.Equal(t, 7.0, testutil.ToFloat64(p.suppressed))

	p.Observe(model.BatchReport{BatchID: "b2", Fatal: true})
	assert.Equal(t, 1.0, testutil.ToFloat64(p.batches.WithLabelValues("fatal")))
	// a batch with nothing evaluated leaves the gauge alone
	assert.Equal(t, 0.8, testutil.ToFloat64(p.averageQuality))
}

func TestPublisherHandlerExposesSeries(t *testing.T) {
	p := NewPublisher("fg")
	p.Observe(model.BatchReport{BatchID: "b1"})
	srv := httptest.NewServer(p.Handler())
	defer srv.Close()

	resp, err := srv.Client().Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(body), `fg_batches_total{outcome="ok"} 1`))
}

package metrics

import (
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"flightguard/internal/model"
)

// Publisher exports batch outcomes as Prometheus series on a private registry.
type Publisher struct {
	registry *prometheus.Registry

	batches        *prometheus.CounterVec
	records        *prometheus.CounterVec
	anomalyTypes   *prometheus.CounterVec
	anomalySevs    *prometheus.CounterVec
	recordQuality  prometheus.Histogram
	averageQuality prometheus.Gauge
	duration       prometheus.Histogram
	quarantine     *prometheus.CounterVec
	alerts         *prometheus.CounterVec
	deliveries     *prometheus.CounterVec
	rateLimited    *prometheus.GaugeVec
	suppressed     prometheus.Gauge
}

func NewPublisher(namespace string) *Publisher {
	p := &Publisher{
		registry: prometheus.NewRegistry(),
		batches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "batches_total",
			Help:      "Processed batches by outcome.",
		}, []string{"outcome"}),
		records: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "records_total",
			Help:      "Records by disposition.",
		}, []string{"disposition"}),
		anomalyTypes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "anomalies_total",
			Help:      "Detected anomalies by type.",
		}, []string{"type"}),
		anomalySevs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "anomaly_severity_total",
			Help:      "Detected anomalies by severity.",
		}, []string{"severity"}),
		recordQuality: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "record_quality_score",
			Help:      "Overall quality score of evaluated records.",
			Buckets:   []float64{0.5, 0.65, 0.75, 0.85, 0.9, 0.95, 1},
		}),
		averageQuality: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "batch_average_quality",
			Help:      "Average quality of the last processed batch.",
		}),
		duration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "batch_duration_seconds",
			Help:      "Wall time spent processing a batch.",
			Buckets:   prometheus.DefBuckets,
		}),
		quarantine: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "quarantine_writes_total",
			Help:      "Quarantine writes by result.",
		}, []string{"result"}),
		alerts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "alerts_total",
			Help:      "Alert events by category, severity and suppression.",
		}, []string{"category", "severity", "suppressed"}),
		deliveries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "alert_deliveries_total",
			Help:      "Alert delivery results per channel.",
		}, []string{"channel", "status"}),
		rateLimited: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "alert_rate_limited",
			Help:      "Alerts dropped by the channel rate limit since start.",
		}, []string{"channel"}),
		suppressed: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "alert_suppressed",
			Help:      "Alerts suppressed as repeats since start.",
		}),
	}
	p.registry.MustRegister(
		p.batches,
		p.records,
		p.anomalyTypes,
		p.anomalySevs,
		p.recordQuality,
		p.averageQuality,
		p.duration,
		p.quarantine,
		p.alerts,
		p.deliveries,
		p.rateLimited,
		p.suppressed,
	)
	return p
}

// Observe folds one batch report into the counters.
func (p *Publisher) Observe(r model.BatchReport) {
	outcome := "ok"
	switch {
	case r.Fatal:
		outcome = "fatal"
	case r.DeadlineExceeded:
		outcome = "deadline"
	}
	p.batches.WithLabelValues(outcome).Inc()
	for d, n := range r.Dispositions {
		p.records.WithLabelValues(string(d)).Add(float64(n))
	}
	for _, o := range r.Outcomes {
		if o.Disposition != model.DispositionUnevaluated && o.Error == "" {
			p.recordQuality.Observe(o.Overall)
		}
	}
	for t, n := range r.Anomalies.ByType {
		p.anomalyTypes.WithLabelValues(string(t)).Add(float64(n))
	}
	for s, n := range r.Anomalies.BySeverity {
		p.anomalySevs.WithLabelValues(string(s)).Add(float64(n))
	}
	if r.Evaluated > 0 {
		p.averageQuality.Set(r.AverageQuality)
	}
	p.duration.Observe(r.DurationMS / 1000)
	p.quarantine.WithLabelValues("persisted").Add(float64(r.Quarantine.Persisted))
	p.quarantine.WithLabelValues("unresolved").Add(float64(len(r.Quarantine.Unresolved)))
	for _, a := range r.Alerts {
		p.alerts.WithLabelValues(a.Category, string(a.Severity), strconv.FormatBool(a.Suppressed)).Inc()
		for _, d := range a.Deliveries {
			p.deliveries.WithLabelValues(d.Channel, string(d.Status)).Inc()
		}
	}
}

// ObserveRouter mirrors the router's cumulative drop counters.
func (p *Publisher) ObserveRouter(rateLimited map[string]int, suppressed int) {
	for ch, n := range rateLimited {
		p.rateLimited.WithLabelValues(ch).Set(float64(n))
	}
	p.suppressed.Set(float64(suppressed))
}

func (p *Publisher) Registry() *prometheus.Registry {
	return p.registry
}

func (p *Publisher) Handler() http.Handler {
	return promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{})
}

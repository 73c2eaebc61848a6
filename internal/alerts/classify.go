package alerts

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"flightguard/internal/config"
	"flightguard/internal/model"
)

const (
	CategoryQualityDegradation = "quality_degradation"
	CategoryAnomalyRate        = "anomaly_rate"
	CategoryQuarantineRate     = "quarantine_rate"
	CategoryPersistenceFailure = "persistence_failure"
	CategoryCriticalAnomaly    = "critical_anomaly"
	CategoryDeliveryFailure    = "delivery_failure"
)

func DedupeKey(category string, sev model.Severity) string {
	return category + "|" + string(sev)
}

func newEvent(category string, sev model.Severity, batchID string, now time.Time, value, threshold float64, msg string) model.AlertEvent {
	return model.AlertEvent{
		Category:  category,
		Severity:  sev,
		Message:   msg,
		DedupeKey: DedupeKey(category, sev),
		BatchID:   batchID,
		Timestamp: now,
		Value:     value,
		Threshold: threshold,
	}
}

// Classify derives the batch-level alert candidates from a report, in a
// fixed category order.
func Classify(cfg config.AlertsConfig, r model.BatchReport, baseline model.Baseline, now time.Time) []model.AlertEvent {
	var out []model.AlertEvent
	if r.Evaluated > 0 && baseline.QualitySamples > 0 && baseline.QualityMean > 0 {
		drop := (baseline.QualityMean - r.AverageQuality) / baseline.QualityMean
		if drop > cfg.DegradationPct {
			sev := model.SeverityMedium
			switch {
			case drop >= 3*cfg.DegradationPct:
				sev = model.SeverityCritical
			case drop >= 1.5*cfg.DegradationPct:
				sev = model.SeverityHigh
			}
			out = append(out, newEvent(CategoryQualityDegradation, sev, r.BatchID, now, drop, cfg.DegradationPct,
				fmt.Sprintf("batch average quality %.3f is %.1f%% below baseline %.3f", r.AverageQuality, drop*100, baseline.QualityMean)))
		}
	}
	if r.Evaluated > 0 {
		rate := float64(r.Anomalies.Records) / float64(r.Evaluated)
		if rate > cfg.AnomalyRateThreshold {
			out = append(out, newEvent(CategoryAnomalyRate, model.SeverityHigh, r.BatchID, now, rate, cfg.AnomalyRateThreshold,
				fmt.Sprintf("%d of %d records (%.1f%%) carry anomalies", r.Anomalies.Records, r.Evaluated, rate*100)))
		}
		q := r.Dispositions[model.DispositionQuarantine]
		qrate := float64(q) / float64(r.Evaluated)
		if qrate > cfg.QuarantineRateThreshold {
			sev := model.SeverityMedium
			if qrate >= 2*cfg.QuarantineRateThreshold {
				sev = model.SeverityHigh
			}
			out = append(out, newEvent(CategoryQuarantineRate, sev, r.BatchID, now, qrate, cfg.QuarantineRateThreshold,
				fmt.Sprintf("%d of %d records (%.1f%%) quarantined", q, r.Evaluated, qrate*100)))
		}
	}
	if n := len(r.Quarantine.Unresolved); n > 0 {
		out = append(out, newEvent(CategoryPersistenceFailure, model.SeverityCritical, r.BatchID, now, float64(n), 0,
			fmt.Sprintf("%d of %d quarantine writes unresolved after retries", n, r.Quarantine.Attempted)))
	}
	if n := r.Anomalies.BySeverity[model.SeverityCritical]; n > 0 {
		out = append(out, newEvent(CategoryCriticalAnomaly, model.SeverityCritical, r.BatchID, now, float64(n), 0,
			fmt.Sprintf("%d critical anomalies: %s", n, ruleSummary(r.Anomalies.CriticalByRule))))
	}
	return out
}

func ruleSummary(byRule map[string]int) string {
	rules := make([]string, 0, len(byRule))
	for rule := range byRule {
		rules = append(rules, rule)
	}
	sort.Strings(rules)
	parts := make([]string, 0, len(rules))
	for _, rule := range rules {
		parts = append(parts, fmt.Sprintf("%s=%d", rule, byRule[rule]))
	}
	return strings.Join(parts, ", ")
}

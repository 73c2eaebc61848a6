package model

import "time"

type Severity string

const (
	SeverityNone     Severity = ""
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

func (s Severity) Rank() int {
	switch s {
	case SeverityLow:
		return 1
	case SeverityMedium:
		return 2
	case SeverityHigh:
		return 3
	case SeverityCritical:
		return 4
	}
	return 0
}

func MaxSeverity(a, b Severity) Severity {
	if b.Rank() > a.Rank() {
		return b
	}
	return a
}

// TelemetryRecord is one normalized aircraft state report. Units: feet, knots,
// feet per minute, degrees. Optional numeric fields are nil when not reported.
type TelemetryRecord struct {
	AircraftID     string     `json:"aircraft_id"`
	Callsign       string     `json:"callsign,omitempty"`
	OriginCountry  string     `json:"origin_country,omitempty"`
	Timestamp      time.Time  `json:"timestamp"`
	PositionTime   *time.Time `json:"position_time,omitempty"`
	Latitude       *float64   `json:"latitude,omitempty"`
	Longitude      *float64   `json:"longitude,omitempty"`
	BaroAltitude   *float64   `json:"baro_altitude_ft,omitempty"`
	GeoAltitude    *float64   `json:"geo_altitude_ft,omitempty"`
	Velocity       *float64   `json:"velocity_kt,omitempty"`
	Heading        *float64   `json:"heading_deg,omitempty"`
	VerticalRate   *float64   `json:"vertical_rate_fpm,omitempty"`
	OnGround       bool       `json:"on_ground"`
	Squawk         string     `json:"squawk,omitempty"`
	SPI            bool       `json:"spi,omitempty"`
	PositionSource int        `json:"position_source,omitempty"`
	Sensors        []int      `json:"sensors,omitempty"`
	Source         string     `json:"source,omitempty"`
}

type Batch struct {
	ID      string            `json:"id"`
	Records []TelemetryRecord `json:"records"`
}

type Dimension string

const (
	DimensionCompleteness Dimension = "completeness"
	DimensionValidity     Dimension = "validity"
	DimensionConsistency  Dimension = "consistency"
	DimensionTimeliness   Dimension = "timeliness"
	DimensionProcessing   Dimension = "processing"
)

// IssueProcessingError marks a record whose evaluation failed internally.
const IssueProcessingError = "processing_error"

type Issue struct {
	Dimension   Dimension `json:"dimension"`
	Severity    Severity  `json:"severity"`
	Code        string    `json:"code"`
	Description string    `json:"description"`
}

type Grade string

const (
	GradeA Grade = "A"
	GradeB Grade = "B"
	GradeC Grade = "C"
	GradeD Grade = "D"
	GradeF Grade = "F"
)

type QualityAssessment struct {
	Index        int       `json:"index"`
	AircraftID   string    `json:"aircraft_id"`
	Timestamp    time.Time `json:"timestamp"`
	Completeness float64   `json:"completeness"`
	Validity     float64   `json:"validity"`
	Consistency  float64   `json:"consistency"`
	Timeliness   float64   `json:"timeliness"`
	Overall      float64   `json:"overall"`
	Grade        Grade     `json:"grade"`
	Issues       []Issue   `json:"issues,omitempty"`
}

func (a QualityAssessment) HasIssue(code string) bool {
	for _, is := range a.Issues {
		if is.Code == code {
			return true
		}
	}
	return false
}

type AnomalyType string

const (
	AnomalyPhysical    AnomalyType = "physical"
	AnomalyStatistical AnomalyType = "statistical"
	AnomalyGeographic  AnomalyType = "geographic"
	AnomalyBehavioral  AnomalyType = "behavioral"
	AnomalyTemporal    AnomalyType = "temporal"
)

// Phase orders anomaly types for deterministic output.
func (t AnomalyType) Phase() int {
	switch t {
	case AnomalyPhysical:
		return 0
	case AnomalyStatistical:
		return 1
	case AnomalyGeographic:
		return 2
	case AnomalyBehavioral:
		return 3
	case AnomalyTemporal:
		return 4
	}
	return 5
}

type Anomaly struct {
	Type        AnomalyType `json:"type"`
	Severity    Severity    `json:"severity"`
	Rule        string      `json:"rule"`
	Fields      []string    `json:"fields"`
	Observed    float64     `json:"observed"`
	Threshold   float64     `json:"threshold"`
	AircraftID  string      `json:"aircraft_id"`
	Timestamp   time.Time   `json:"timestamp"`
	RecordIndex int         `json:"record_index"`
	Detail      string      `json:"detail,omitempty"`
}

func RecordSeverity(anomalies []Anomaly) Severity {
	sev := SeverityNone
	for _, a := range anomalies {
		sev = MaxSeverity(sev, a.Severity)
	}
	return sev
}

// FieldStats are rolling statistics for one numeric telemetry field.
type FieldStats struct {
	Mean   float64 `json:"mean" yaml:"mean"`
	StdDev float64 `json:"stddev" yaml:"stddev"`
	Count  int     `json:"count" yaml:"count"`
}

// Baseline is an immutable snapshot of externally maintained statistics,
// supplied per invocation.
type Baseline struct {
	AsOf           time.Time             `json:"as_of" yaml:"as_of"`
	Fields         map[string]FieldStats `json:"fields" yaml:"fields"`
	QualityMean    float64               `json:"quality_mean" yaml:"quality_mean"`
	QualitySamples int                   `json:"quality_samples" yaml:"quality_samples"`
}

func (b Baseline) Field(name string) (FieldStats, bool) {
	if b.Fields == nil {
		return FieldStats{}, false
	}
	fs, ok := b.Fields[name]
	return fs, ok
}

type Disposition string

const (
	DispositionPass        Disposition = "pass"
	DispositionFlag        Disposition = "flag"
	DispositionQuarantine  Disposition = "quarantine"
	DispositionUnevaluated Disposition = "unevaluated"
)

type QuarantineStatus string

const (
	StatusCreated         QuarantineStatus = "created"
	StatusPendingReview   QuarantineStatus = "pending_review"
	StatusAutoQuarantined QuarantineStatus = "auto_quarantined"
	StatusReleased        QuarantineStatus = "released"
	StatusPurged          QuarantineStatus = "purged"
)

type QuarantineEntry struct {
	ID          string            `json:"id"`
	BatchID     string            `json:"batch_id"`
	AircraftID  string            `json:"aircraft_id"`
	RecordTime  time.Time         `json:"record_time"`
	Record      TelemetryRecord   `json:"record"`
	Assessment  QualityAssessment `json:"assessment"`
	Anomalies   []Anomaly         `json:"anomalies,omitempty"`
	ReasonCodes []string          `json:"reason_codes"`
	Status      QuarantineStatus  `json:"status"`
	CreatedAt   time.Time         `json:"created_at"`
	UpdatedAt   time.Time         `json:"updated_at"`
	ReviewedAt  *time.Time        `json:"reviewed_at,omitempty"`
	Reviewer    string            `json:"reviewer,omitempty"`
	ReviewNote  string            `json:"review_note,omitempty"`
}

type QuarantineFilter struct {
	Status        QuarantineStatus `json:"status,omitempty"`
	BatchID       string           `json:"batch_id,omitempty"`
	AircraftID    string           `json:"aircraft_id,omitempty"`
	CreatedBefore time.Time        `json:"created_before,omitempty"`
	Limit         int              `json:"limit,omitempty"`
}

func (f QuarantineFilter) Match(e QuarantineEntry) bool {
	if f.Status != "" && e.Status != f.Status {
		return false
	}
	if f.BatchID != "" && e.BatchID != f.BatchID {
		return false
	}
	if f.AircraftID != "" && e.AircraftID != f.AircraftID {
		return false
	}
	if !f.CreatedBefore.IsZero() && !e.CreatedAt.Before(f.CreatedBefore) {
		return false
	}
	return true
}

type StatusUpdate struct {
	ID       string           `json:"id"`
	Expected QuarantineStatus `json:"expected"`
	Next     QuarantineStatus `json:"next"`
	At       time.Time        `json:"at"`
	Reviewer string           `json:"reviewer,omitempty"`
	Note     string           `json:"note,omitempty"`
}

type DeliveryStatus string

const (
	DeliveryDelivered   DeliveryStatus = "delivered"
	DeliveryFailed      DeliveryStatus = "failed"
	DeliveryRateLimited DeliveryStatus = "rate_limited"
)

type DeliveryResult struct {
	Channel  string         `json:"channel"`
	Status   DeliveryStatus `json:"status"`
	Attempts int            `json:"attempts"`
	Error    string         `json:"error,omitempty"`
}

type AlertEvent struct {
	Category        string           `json:"category"`
	Severity        Severity         `json:"severity"`
	Message         string           `json:"message"`
	DedupeKey       string           `json:"dedupe_key"`
	BatchID         string           `json:"batch_id"`
	Timestamp       time.Time        `json:"timestamp"`
	Value           float64          `json:"value"`
	Threshold       float64          `json:"threshold"`
	Suppressed      bool             `json:"suppressed"`
	Rollup          bool             `json:"rollup,omitempty"`
	SuppressedCount int              `json:"suppressed_count,omitempty"`
	Deliveries      []DeliveryResult `json:"deliveries,omitempty"`
}

type RecordOutcome struct {
	Index       int         `json:"index"`
	AircraftID  string      `json:"aircraft_id"`
	Timestamp   time.Time   `json:"timestamp"`
	Overall     float64     `json:"overall"`
	Grade       Grade       `json:"grade,omitempty"`
	Anomalies   int         `json:"anomalies"`
	MaxSeverity Severity    `json:"max_severity,omitempty"`
	Disposition Disposition `json:"disposition"`
	EntryID     string      `json:"entry_id,omitempty"`
	Error       string      `json:"error,omitempty"`
}

type AnomalyCounts struct {
	Total          int                 `json:"total"`
	Records        int                 `json:"records"`
	ByType         map[AnomalyType]int `json:"by_type"`
	BySeverity     map[Severity]int    `json:"by_severity"`
	CriticalByRule map[string]int      `json:"critical_by_rule,omitempty"`
}

type PersistFailure struct {
	EntryID    string `json:"entry_id"`
	AircraftID string `json:"aircraft_id"`
	Attempts   int    `json:"attempts"`
	Error      string `json:"error"`
}

type QuarantineSummary struct {
	Attempted  int              `json:"attempted"`
	Persisted  int              `json:"persisted"`
	EntryIDs   []string         `json:"entry_ids,omitempty"`
	Unresolved []PersistFailure `json:"unresolved,omitempty"`
}

type BatchReport struct {
	BatchID          string              `json:"batch_id"`
	ProcessedAt      time.Time           `json:"processed_at"`
	Records          int                 `json:"records"`
	Evaluated        int                 `json:"evaluated"`
	Unevaluated      int                 `json:"unevaluated"`
	ProcessingErrors int                 `json:"processing_errors"`
	AverageQuality   float64             `json:"average_quality"`
	Grades           map[Grade]int       `json:"grades"`
	Anomalies        AnomalyCounts       `json:"anomalies"`
	Dispositions     map[Disposition]int `json:"dispositions"`
	Quarantine       QuarantineSummary   `json:"quarantine"`
	Alerts           []AlertEvent        `json:"alerts"`
	Outcomes         []RecordOutcome     `json:"outcomes"`
	DeadlineExceeded bool                `json:"deadline_exceeded"`
	DurationMS       float64             `json:"duration_ms"`
	Fatal            bool                `json:"fatal"`
	FatalReason      string              `json:"fatal_reason,omitempty"`
}

// Dispatched returns the alert events that were not suppressed.
func (r BatchReport) Dispatched() []AlertEvent {
	out := make([]AlertEvent, 0, len(r.Alerts))
	for _, a := range r.Alerts {
		if !a.Suppressed {
			out = append(out, a)
		}
	}
	return out
}

package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"gopkg.in/yaml.v3"

	"flightguard/internal/model"
)

const weightEpsilon = 1e-6

type Config struct {
	LogLevel   string           `json:"log_level" yaml:"log_level"`
	LogFormat  string           `json:"log_format" yaml:"log_format"`
	Batch      BatchConfig      `json:"batch" yaml:"batch"`
	Quality    QualityConfig    `json:"quality" yaml:"quality"`
	Bounds     BoundsConfig     `json:"bounds" yaml:"bounds"`
	Detection  DetectionConfig  `json:"detection" yaml:"detection"`
	Quarantine QuarantineConfig `json:"quarantine" yaml:"quarantine"`
	Alerts     AlertsConfig     `json:"alerts" yaml:"alerts"`
	Storage    StorageConfig    `json:"storage" yaml:"storage"`
	Ingest     IngestConfig     `json:"ingest" yaml:"ingest"`
	API        APIConfig        `json:"api" yaml:"api"`
	Metrics    MetricsConfig    `json:"metrics" yaml:"metrics"`
}

type BatchConfig struct {
	MaxSize  int           `json:"max_size" yaml:"max_size"`
	Deadline time.Duration `json:"deadline" yaml:"deadline"`
	Workers  int           `json:"workers" yaml:"workers"`
}

type QualityConfig struct {
	Weights      WeightsConfig      `json:"weights" yaml:"weights"`
	Grades       GradesConfig       `json:"grades" yaml:"grades"`
	Completeness CompletenessConfig `json:"completeness" yaml:"completeness"`
	Consistency  ConsistencyConfig  `json:"consistency" yaml:"consistency"`
	Timeliness   TimelinessConfig   `json:"timeliness" yaml:"timeliness"`
}

type WeightsConfig struct {
	Completeness float64 `json:"completeness" yaml:"completeness"`
	Validity     float64 `json:"validity" yaml:"validity"`
	Consistency  float64 `json:"consistency" yaml:"consistency"`
	Timeliness   float64 `json:"timeliness" yaml:"timeliness"`
}

func (w WeightsConfig) Sum() float64 {
	return w.Completeness + w.Validity + w.Consistency + w.Timeliness
}

// GradesConfig holds the lower bound of each letter grade; anything below D is F.
type GradesConfig struct {
	A float64 `json:"a" yaml:"a"`
	B float64 `json:"b" yaml:"b"`
	C float64 `json:"c" yaml:"c"`
	D float64 `json:"d" yaml:"d"`
}

func (g GradesConfig) Grade(score float64) model.Grade {
	switch {
	case score >= g.A:
		return model.GradeA
	case score >= g.B:
		return model.GradeB
	case score >= g.C:
		return model.GradeC
	case score >= g.D:
		return model.GradeD
	default:
		return model.GradeF
	}
}

type CompletenessConfig struct {
	CriticalWeight float64 `json:"critical_weight" yaml:"critical_weight"`
	OptionalWeight float64 `json:"optional_weight" yaml:"optional_weight"`
}

type ConsistencyConfig struct {
	MaxImpliedSpeedKt     float64       `json:"max_implied_speed_kt" yaml:"max_implied_speed_kt"`
	MaxClimbRateFPM       float64       `json:"max_climb_rate_fpm" yaml:"max_climb_rate_fpm"`
	MaxAltitudeDivergence float64       `json:"max_altitude_divergence_ft" yaml:"max_altitude_divergence_ft"`
	VerticalRateMinFPM    float64       `json:"vertical_rate_min_fpm" yaml:"vertical_rate_min_fpm"`
	PositionTimeTolerance time.Duration `json:"position_time_tolerance" yaml:"position_time_tolerance"`
}

const (
	DecayLinear      = "linear"
	DecayExponential = "exponential"
)

type TimelinessConfig struct {
	Freshness       time.Duration `json:"freshness" yaml:"freshness"`
	Staleness       time.Duration `json:"staleness" yaml:"staleness"`
	Decay           string        `json:"decay" yaml:"decay"`
	FutureTolerance time.Duration `json:"future_tolerance" yaml:"future_tolerance"`
}

type BoundsConfig struct {
	LatitudeMin         float64 `json:"latitude_min" yaml:"latitude_min"`
	LatitudeMax         float64 `json:"latitude_max" yaml:"latitude_max"`
	LongitudeMin        float64 `json:"longitude_min" yaml:"longitude_min"`
	LongitudeMax        float64 `json:"longitude_max" yaml:"longitude_max"`
	AltitudeMinFt       float64 `json:"altitude_min_ft" yaml:"altitude_min_ft"`
	AltitudeMaxFt       float64 `json:"altitude_max_ft" yaml:"altitude_max_ft"`
	VelocityMinKt       float64 `json:"velocity_min_kt" yaml:"velocity_min_kt"`
	VelocityMaxKt       float64 `json:"velocity_max_kt" yaml:"velocity_max_kt"`
	VerticalRateMaxFPM  float64 `json:"vertical_rate_max_fpm" yaml:"vertical_rate_max_fpm"`
	GroundMaxAltitudeFt float64 `json:"ground_max_altitude_ft" yaml:"ground_max_altitude_ft"`
	GroundMaxVelocityKt float64 `json:"ground_max_velocity_kt" yaml:"ground_max_velocity_kt"`
}

// PositionInRange reports whether lat/lon lie inside the physical bounds.
func (b BoundsConfig) PositionInRange(lat, lon float64) bool {
	return lat >= b.LatitudeMin && lat <= b.LatitudeMax && lon >= b.LongitudeMin && lon <= b.LongitudeMax
}

type DetectionConfig struct {
	ZThreshold         float64        `json:"z_threshold" yaml:"z_threshold"`
	MinBaselineSamples int            `json:"min_baseline_samples" yaml:"min_baseline_samples"`
	IQRMultiplier      float64        `json:"iqr_multiplier" yaml:"iqr_multiplier"`
	StatisticalFields  []string       `json:"statistical_fields" yaml:"statistical_fields"`
	Regions            []RegionConfig `json:"regions" yaml:"regions"`
	MaxImpliedSpeedKt  float64        `json:"max_implied_speed_kt" yaml:"max_implied_speed_kt"`
	Stuck              StuckConfig    `json:"stuck" yaml:"stuck"`
	FutureTolerance    time.Duration  `json:"future_tolerance" yaml:"future_tolerance"`
	StaleAfter         time.Duration  `json:"stale_after" yaml:"stale_after"`
}

type RegionConfig struct {
	Name   string  `json:"name" yaml:"name"`
	MinLat float64 `json:"min_lat" yaml:"min_lat"`
	MaxLat float64 `json:"max_lat" yaml:"max_lat"`
	MinLon float64 `json:"min_lon" yaml:"min_lon"`
	MaxLon float64 `json:"max_lon" yaml:"max_lon"`
}

func (r RegionConfig) Contains(lat, lon float64) bool {
	return lat >= r.MinLat && lat <= r.MaxLat && lon >= r.MinLon && lon <= r.MaxLon
}

type StuckConfig struct {
	Window          int     `json:"window" yaml:"window"`
	MinSamples      int     `json:"min_samples" yaml:"min_samples"`
	MaxVarianceDeg2 float64 `json:"max_variance_deg2" yaml:"max_variance_deg2"`
	MinVelocityKt   float64 `json:"min_velocity_kt" yaml:"min_velocity_kt"`
}

const (
	ReviewManual = "manual"
	ReviewAuto   = "auto"
	ReviewMixed  = "mixed"
)

type QuarantineConfig struct {
	Threshold     float64       `json:"threshold" yaml:"threshold"`
	PoorThreshold float64       `json:"poor_threshold" yaml:"poor_threshold"`
	ReviewMode    string        `json:"review_mode" yaml:"review_mode"`
	Workers       int           `json:"workers" yaml:"workers"`
	Retry         RetryConfig   `json:"retry" yaml:"retry"`
	Retention     time.Duration `json:"retention" yaml:"retention"`
}

type RetryConfig struct {
	Attempts   int           `json:"attempts" yaml:"attempts"`
	Backoff    time.Duration `json:"backoff" yaml:"backoff"`
	MaxBackoff time.Duration `json:"max_backoff" yaml:"max_backoff"`
	Timeout    time.Duration `json:"timeout" yaml:"timeout"`
}

type AlertsConfig struct {
	SuppressionWindow       time.Duration   `json:"suppression_window" yaml:"suppression_window"`
	DegradationPct          float64         `json:"degradation_pct" yaml:"degradation_pct"`
	AnomalyRateThreshold    float64         `json:"anomaly_rate_threshold" yaml:"anomaly_rate_threshold"`
	QuarantineRateThreshold float64         `json:"quarantine_rate_threshold" yaml:"quarantine_rate_threshold"`
	Retry                   RetryConfig     `json:"retry" yaml:"retry"`
	Channels                []ChannelConfig `json:"channels" yaml:"channels"`
	HistoryLimit            int             `json:"history_limit" yaml:"history_limit"`
}

const (
	ChannelLog     = "log"
	ChannelWebhook = "webhook"
	ChannelKafka   = "kafka"
	ChannelMQTT    = "mqtt"
)

type ChannelConfig struct {
	Name          string        `json:"name" yaml:"name"`
	Type          string        `json:"type" yaml:"type"`
	RatePerMinute int           `json:"rate_per_minute" yaml:"rate_per_minute"`
	MinSeverity   string        `json:"min_severity" yaml:"min_severity"`
	URL           string        `json:"url" yaml:"url"`
	URLEnv        string        `json:"url_env" yaml:"url_env"`
	Format        string        `json:"format" yaml:"format"`
	Brokers       []string      `json:"brokers" yaml:"brokers"`
	Topic         string        `json:"topic" yaml:"topic"`
	QoS           byte          `json:"qos" yaml:"qos"`
	ClientID      string        `json:"client_id" yaml:"client_id"`
	Timeout       time.Duration `json:"timeout" yaml:"timeout"`
}

// ResolvedURL prefers the environment variable named by URLEnv.
func (c ChannelConfig) ResolvedURL() string {
	if c.URLEnv != "" {
		if v := os.Getenv(c.URLEnv); v != "" {
			return v
		}
	}
	return c.URL
}

type StorageConfig struct {
	Driver string `json:"driver" yaml:"driver"`
	DSN    string `json:"dsn" yaml:"dsn"`
}

type IngestConfig struct {
	Kafka KafkaConfig `json:"kafka" yaml:"kafka"`
	Spool SpoolConfig `json:"spool" yaml:"spool"`
}

// SpoolConfig enables the drop-directory ingest. Processed files move to
// Dir/done, files that fail to parse or process move to Dir/failed.
type SpoolConfig struct {
	Enabled      bool          `json:"enabled" yaml:"enabled"`
	Dir          string        `json:"dir" yaml:"dir"`
	Pattern      string        `json:"pattern" yaml:"pattern"`
	PollInterval time.Duration `json:"poll_interval" yaml:"poll_interval"`
}

type KafkaConfig struct {
	Enabled       bool          `json:"enabled" yaml:"enabled"`
	Brokers       []string      `json:"brokers" yaml:"brokers"`
	Topic         string        `json:"topic" yaml:"topic"`
	GroupID       string        `json:"group_id" yaml:"group_id"`
	FlushInterval time.Duration `json:"flush_interval" yaml:"flush_interval"`
	BatchSize     int           `json:"batch_size" yaml:"batch_size"`
	DedupeWindow  time.Duration `json:"dedupe_window" yaml:"dedupe_window"`
}

type APIConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Addr    string `json:"addr" yaml:"addr"`
}

type MetricsConfig struct {
	Namespace   string `json:"namespace" yaml:"namespace"`
	ReportLimit int    `json:"report_limit" yaml:"report_limit"`
}

func DefaultConfig() *Config {
	return &Config{
		LogLevel:  "info",
		LogFormat: "json",
		Batch:     BatchConfig{MaxSize: 1000, Deadline: 30 * time.Second, Workers: 8},
		Quality: QualityConfig{
			Weights:      WeightsConfig{Completeness: 0.30, Validity: 0.30, Consistency: 0.25, Timeliness: 0.15},
			Grades:       GradesConfig{A: 0.95, B: 0.85, C: 0.75, D: 0.65},
			Completeness: CompletenessConfig{CriticalWeight: 3, OptionalWeight: 1},
			Consistency: ConsistencyConfig{
				MaxImpliedSpeedKt:     800,
				MaxClimbRateFPM:       12000,
				MaxAltitudeDivergence: 2000,
				VerticalRateMinFPM:    500,
				PositionTimeTolerance: time.Second,
			},
			Timeliness: TimelinessConfig{
				Freshness:       30 * time.Second,
				Staleness:       time.Hour,
				Decay:           DecayLinear,
				FutureTolerance: 5 * time.Second,
			},
		},
		Bounds: BoundsConfig{
			LatitudeMin:         -90,
			LatitudeMax:         90,
			LongitudeMin:        -180,
			LongitudeMax:        180,
			AltitudeMinFt:       -1000,
			AltitudeMaxFt:       60000,
			VelocityMinKt:       0,
			VelocityMaxKt:       800,
			VerticalRateMaxFPM:  20000,
			GroundMaxAltitudeFt: 15000,
			GroundMaxVelocityKt: 250,
		},
		Detection: DetectionConfig{
			ZThreshold:         3.0,
			MinBaselineSamples: 30,
			IQRMultiplier:      1.5,
			StatisticalFields:  []string{"baro_altitude", "geo_altitude", "velocity", "vertical_rate"},
			MaxImpliedSpeedKt:  1200,
			Stuck:              StuckConfig{Window: 5, MinSamples: 5, MaxVarianceDeg2: 1e-10, MinVelocityKt: 50},
			FutureTolerance:    60 * time.Second,
			StaleAfter:         time.Hour,
		},
		Quarantine: QuarantineConfig{
			Threshold:     0.50,
			PoorThreshold: 0.65,
			ReviewMode:    ReviewManual,
			Workers:       8,
			Retry:         RetryConfig{Attempts: 3, Backoff: 100 * time.Millisecond, MaxBackoff: 2 * time.Second, Timeout: 5 * time.Second},
			Retention:     30 * 24 * time.Hour,
		},
		Alerts: AlertsConfig{
			SuppressionWindow:       15 * time.Minute,
			DegradationPct:          0.10,
			AnomalyRateThreshold:    0.05,
			QuarantineRateThreshold: 0.02,
			Retry:                   RetryConfig{Attempts: 3, Backoff: 200 * time.Millisecond, MaxBackoff: 5 * time.Second, Timeout: 10 * time.Second},
			Channels:                []ChannelConfig{{Name: "log", Type: ChannelLog, RatePerMinute: 60}},
			HistoryLimit:            1000,
		},
		Storage: StorageConfig{Driver: "sqlite", DSN: "file:flightguard.db?_pragma=busy_timeout(5000)"},
		Ingest: IngestConfig{
			Kafka: KafkaConfig{Enabled: false, FlushInterval: 10 * time.Second, BatchSize: 1000, DedupeWindow: 5 * time.Minute},
			Spool: SpoolConfig{Enabled: false, Pattern: "*.json", PollInterval: 30 * time.Second},
		},
		API:     APIConfig{Enabled: true, Addr: ":8081"},
		Metrics: MetricsConfig{Namespace: "flightguard", ReportLimit: 100},
	}
}

func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	content, err := io.ReadAll(f)
	if err != nil {
		return nil, err
	}
	return Parse(content)
}

// Parse decodes JSON or YAML over the defaults and validates the result.
func Parse(content []byte) (*Config, error) {
	cfg := DefaultConfig()

	trimmed := strings.TrimSpace(string(content))
	if len(trimmed) == 0 {
		return nil, errors.New("config file is empty")
	}
	var decodeErr error
	if looksLikeJSON(trimmed) {
		decodeErr = json.Unmarshal([]byte(trimmed), cfg)
	} else {
		decodeErr = yaml.Unmarshal([]byte(trimmed), cfg)
	}
	if decodeErr != nil {
		return nil, decodeErr
	}
	applyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func Save(path string, cfg *Config) error {
	if path == "" || cfg == nil {
		return errors.New("config path or config is empty")
	}
	var data []byte
	var err error
	ext := strings.ToLower(filepath.Ext(path))
	if ext == ".json" {
		data, err = json.MarshalIndent(cfg, "", "  ")
	} else {
		data, err = yaml.Marshal(cfg)
	}
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

func looksLikeJSON(s string) bool {
	for _, ch := range s {
		if ch == '{' || ch == '[' {
			return true
		}
		if ch > ' ' {
			return false
		}
	}
	return false
}

func applyDefaults(cfg *Config) {
	def := DefaultConfig()
	if cfg.LogFormat == "" {
		cfg.LogFormat = def.LogFormat
	}
	if cfg.Batch.MaxSize <= 0 {
		cfg.Batch.MaxSize = def.Batch.MaxSize
	}
	if cfg.Batch.Workers <= 0 {
		cfg.Batch.Workers = def.Batch.Workers
	}
	if cfg.Quality.Timeliness.Decay == "" {
		cfg.Quality.Timeliness.Decay = DecayLinear
	}
	if len(cfg.Detection.StatisticalFields) == 0 {
		cfg.Detection.StatisticalFields = def.Detection.StatisticalFields
	}
	if cfg.Quarantine.ReviewMode == "" {
		cfg.Quarantine.ReviewMode = ReviewManual
	}
	if cfg.Quarantine.Workers <= 0 {
		cfg.Quarantine.Workers = def.Quarantine.Workers
	}
	if cfg.Alerts.HistoryLimit <= 0 {
		cfg.Alerts.HistoryLimit = def.Alerts.HistoryLimit
	}
	for i := range cfg.Alerts.Channels {
		ch := &cfg.Alerts.Channels[i]
		if ch.Name == "" {
			ch.Name = ch.Type
		}
		if ch.Timeout <= 0 {
			ch.Timeout = cfg.Alerts.Retry.Timeout
		}
	}
	if cfg.Ingest.Kafka.FlushInterval <= 0 {
		cfg.Ingest.Kafka.FlushInterval = def.Ingest.Kafka.FlushInterval
	}
	if cfg.Ingest.Kafka.BatchSize <= 0 || cfg.Ingest.Kafka.BatchSize > cfg.Batch.MaxSize {
		cfg.Ingest.Kafka.BatchSize = cfg.Batch.MaxSize
	}
	if cfg.Ingest.Spool.Pattern == "" {
		cfg.Ingest.Spool.Pattern = def.Ingest.Spool.Pattern
	}
	if cfg.Ingest.Spool.PollInterval <= 0 {
		cfg.Ingest.Spool.PollInterval = def.Ingest.Spool.PollInterval
	}
	if cfg.Metrics.Namespace == "" {
		cfg.Metrics.Namespace = def.Metrics.Namespace
	}
	if cfg.Metrics.ReportLimit <= 0 {
		cfg.Metrics.ReportLimit = def.Metrics.ReportLimit
	}
}

func invalid(field, format string, args ...any) error {
	return &model.ConfigError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

// Validate reports the first configuration problem as a *model.ConfigError.
func Validate(cfg *Config) error {
	if cfg == nil {
		return invalid("config", "missing")
	}
	if err := validateQuality(cfg.Quality); err != nil {
		return err
	}
	if err := validateBounds(cfg.Bounds); err != nil {
		return err
	}
	if err := validateDetection(cfg.Detection); err != nil {
		return err
	}
	if err := validateQuarantine(cfg.Quarantine); err != nil {
		return err
	}
	if err := validateAlerts(cfg.Alerts); err != nil {
		return err
	}
	if cfg.Batch.MaxSize <= 0 {
		return invalid("batch.max_size", "must be > 0")
	}
	if cfg.Batch.Deadline < 0 {
		return invalid("batch.deadline", "must be >= 0")
	}
	switch strings.ToLower(cfg.Storage.Driver) {
	case "memory", "sqlite", "postgres", "postgresql":
	default:
		return invalid("storage.driver", "unsupported driver %q", cfg.Storage.Driver)
	}
	if cfg.Ingest.Kafka.Enabled {
		k := cfg.Ingest.Kafka
		if len(k.Brokers) == 0 || k.Topic == "" || k.GroupID == "" {
			return invalid("ingest.kafka", "requires brokers, topic, group_id")
		}
	}
	if cfg.Ingest.Spool.Enabled {
		if cfg.Ingest.Spool.Dir == "" {
			return invalid("ingest.spool.dir", "required when ingest.spool.enabled is true")
		}
		if _, err := filepath.Match(cfg.Ingest.Spool.Pattern, ""); err != nil {
			return invalid("ingest.spool.pattern", "%v", err)
		}
	}
	if cfg.API.Enabled && cfg.API.Addr == "" {
		return invalid("api.addr", "required when api.enabled is true")
	}
	return nil
}

func validateQuality(q QualityConfig) error {
	w := q.Weights
	for _, p := range []struct {
		name string
		v    float64
	}{
		{"completeness", w.Completeness},
		{"validity", w.Validity},
		{"consistency", w.Consistency},
		{"timeliness", w.Timeliness},
	} {
		if p.v < 0 || math.IsNaN(p.v) {
			return invalid("quality.weights."+p.name, "must be >= 0")
		}
	}
	if math.Abs(w.Sum()-1) > weightEpsilon {
		return invalid("quality.weights", "must sum to 1, got %.6f", w.Sum())
	}
	g := q.Grades
	if g.A > 1 || g.D <= 0 {
		return invalid("quality.grades", "thresholds must lie in (0,1]")
	}
	if !(g.A > g.B && g.B > g.C && g.C > g.D) {
		return invalid("quality.grades", "thresholds must be strictly decreasing (a > b > c > d)")
	}
	if q.Completeness.CriticalWeight <= 0 || q.Completeness.OptionalWeight < 0 {
		return invalid("quality.completeness", "critical_weight must be > 0 and optional_weight >= 0")
	}
	c := q.Consistency
	if c.MaxImpliedSpeedKt <= 0 || c.MaxClimbRateFPM <= 0 || c.MaxAltitudeDivergence <= 0 {
		return invalid("quality.consistency", "limits must be > 0")
	}
	t := q.Timeliness
	if t.Freshness < 0 || t.Staleness <= t.Freshness {
		return invalid("quality.timeliness", "staleness must exceed freshness")
	}
	if t.Decay != DecayLinear && t.Decay != DecayExponential {
		return invalid("quality.timeliness.decay", "must be %q or %q", DecayLinear, DecayExponential)
	}
	return nil
}

func validateBounds(b BoundsConfig) error {
	pairs := []struct {
		name     string
		min, max float64
	}{
		{"latitude", b.LatitudeMin, b.LatitudeMax},
		{"longitude", b.LongitudeMin, b.LongitudeMax},
		{"altitude", b.AltitudeMinFt, b.AltitudeMaxFt},
		{"velocity", b.VelocityMinKt, b.VelocityMaxKt},
	}
	for _, p := range pairs {
		if !(p.min < p.max) {
			return invalid("bounds."+p.name, "min must be < max")
		}
	}
	if b.VerticalRateMaxFPM <= 0 {
		return invalid("bounds.vertical_rate_max_fpm", "must be > 0")
	}
	if b.GroundMaxAltitudeFt <= 0 || b.GroundMaxVelocityKt <= 0 {
		return invalid("bounds.ground", "ground limits must be > 0")
	}
	return nil
}

func validateDetection(d DetectionConfig) error {
	if d.ZThreshold <= 0 {
		return invalid("detection.z_threshold", "must be > 0")
	}
	if d.MinBaselineSamples < 2 {
		return invalid("detection.min_baseline_samples", "must be >= 2")
	}
	if d.IQRMultiplier <= 0 {
		return invalid("detection.iqr_multiplier", "must be > 0")
	}
	for _, f := range d.StatisticalFields {
		if !IsStatisticalField(f) {
			return invalid("detection.statistical_fields", "unknown field %q", f)
		}
	}
	for i, r := range d.Regions {
		if r.MinLat >= r.MaxLat || r.MinLon >= r.MaxLon {
			return invalid(fmt.Sprintf("detection.regions[%d]", i), "min must be < max")
		}
	}
	if d.MaxImpliedSpeedKt <= 0 {
		return invalid("detection.max_implied_speed_kt", "must be > 0")
	}
	if d.Stuck.Window < 2 || d.Stuck.MinSamples < 2 || d.Stuck.MinSamples > d.Stuck.Window {
		return invalid("detection.stuck", "need 2 <= min_samples <= window")
	}
	if d.Stuck.MaxVarianceDeg2 < 0 {
		return invalid("detection.stuck.max_variance_deg2", "must be >= 0")
	}
	if d.FutureTolerance < 0 || d.StaleAfter <= 0 {
		return invalid("detection", "future_tolerance must be >= 0 and stale_after > 0")
	}
	return nil
}

func validateQuarantine(q QuarantineConfig) error {
	if q.Threshold < 0 || q.Threshold > 1 || q.PoorThreshold < 0 || q.PoorThreshold > 1 {
		return invalid("quarantine", "thresholds must lie in [0,1]")
	}
	if q.Threshold > q.PoorThreshold {
		return invalid("quarantine.threshold", "must not exceed poor_threshold")
	}
	switch q.ReviewMode {
	case ReviewManual, ReviewAuto, ReviewMixed:
	default:
		return invalid("quarantine.review_mode", "unknown mode %q", q.ReviewMode)
	}
	return validateRetry("quarantine.retry", q.Retry)
}

func validateRetry(field string, r RetryConfig) error {
	if r.Attempts < 1 || r.Attempts > 10 {
		return invalid(field+".attempts", "must be within [1,10]")
	}
	if r.Backoff < 0 || r.MaxBackoff < r.Backoff {
		return invalid(field, "need 0 <= backoff <= max_backoff")
	}
	if r.Timeout <= 0 {
		return invalid(field+".timeout", "must be > 0")
	}
	return nil
}

func validateAlerts(a AlertsConfig) error {
	if a.SuppressionWindow < 0 {
		return invalid("alerts.suppression_window", "must be >= 0")
	}
	if a.DegradationPct <= 0 || a.AnomalyRateThreshold <= 0 || a.QuarantineRateThreshold <= 0 {
		return invalid("alerts", "rate thresholds must be > 0")
	}
	if err := validateRetry("alerts.retry", a.Retry); err != nil {
		return err
	}
	seen := make(map[string]struct{}, len(a.Channels))
	for i, ch := range a.Channels {
		field := fmt.Sprintf("alerts.channels[%d]", i)
		if _, dup := seen[ch.Name]; dup {
			return invalid(field+".name", "duplicate channel %q", ch.Name)
		}
		seen[ch.Name] = struct{}{}
		if ch.RatePerMinute <= 0 {
			return invalid(field+".rate_per_minute", "must be > 0")
		}
		if ch.MinSeverity != "" && model.Severity(ch.MinSeverity).Rank() == 0 {
			return invalid(field+".min_severity", "unknown severity %q", ch.MinSeverity)
		}
		switch ch.Type {
		case ChannelLog:
		case ChannelWebhook:
			if ch.URL == "" && ch.URLEnv == "" {
				return invalid(field, "webhook requires url or url_env")
			}
		case ChannelKafka:
			if len(ch.Brokers) == 0 || ch.Topic == "" {
				return invalid(field, "kafka requires brokers and topic")
			}
		case ChannelMQTT:
			if len(ch.Brokers) == 0 || ch.Topic == "" || ch.QoS > 2 {
				return invalid(field, "mqtt requires brokers, topic and qos <= 2")
			}
		default:
			return invalid(field+".type", "unknown channel type %q", ch.Type)
		}
	}
	return nil
}

// IsStatisticalField reports whether name is a numeric field the detector can score.
func IsStatisticalField(name string) bool {
	switch name {
	case "baro_altitude", "geo_altitude", "velocity", "vertical_rate", "heading":
		return true
	}
	return false
}

// Manager holds the active configuration. A loaded *Config is never mutated;
// reloads swap in a freshly validated value.
type Manager struct {
	path string
	cfg  atomic.Value
}

func NewManager(path string) (*Manager, error) {
	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}
	m := &Manager{path: path}
	m.cfg.Store(cfg)
	return m, nil
}

// NewStaticManager wraps an already validated config that has no backing file.
func NewStaticManager(cfg *Config) *Manager {
	m := &Manager{}
	m.cfg.Store(cfg)
	return m
}

func (m *Manager) Get() *Config {
	if v := m.cfg.Load(); v != nil {
		return v.(*Config)
	}
	return DefaultConfig()
}

func (m *Manager) Path() string {
	return m.path
}

func (m *Manager) Reload() (*Config, error) {
	if m.path == "" {
		return m.Get(), nil
	}
	cfg, err := Load(m.path)
	if err != nil {
		return nil, err
	}
	m.cfg.Store(cfg)
	return cfg, nil
}

func ResolvePath(path string) string {
	if path == "" {
		return path
	}
	if filepath.IsAbs(path) {
		return path
	}
	cwd, err := os.Getwd()
	if err != nil {
		return path
	}
	return filepath.Join(cwd, path)
}

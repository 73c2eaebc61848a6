// Package baseline supplies the trailing statistics the detector and the
// alert router compare a batch against. The engine never refreshes them; a
// Provider hands out an immutable snapshot per invocation.
package baseline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	"flightguard/internal/anomaly"
	"flightguard/internal/model"
)

type Provider interface {
	Baseline(ctx context.Context) (model.Baseline, error)
}

// Static always returns the same snapshot.
type Static struct {
	B model.Baseline
}

func (s Static) Baseline(context.Context) (model.Baseline, error) {
	return s.B, nil
}

// FileProvider reads a baseline file and re-reads it when its modification
// time changes.
type FileProvider struct {
	path string

	mu      sync.Mutex
	cached  model.Baseline
	modTime time.Time
	loaded  bool
}

func NewFileProvider(path string) *FileProvider {
	return &FileProvider{path: path}
}

func (p *FileProvider) Baseline(ctx context.Context) (model.Baseline, error) {
	if err := ctx.Err(); err != nil {
		return model.Baseline{}, err
	}
	info, err := os.Stat(p.path)
	if err != nil {
		return model.Baseline{}, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.loaded && info.ModTime().Equal(p.modTime) {
		return p.cached, nil
	}
	b, err := Load(p.path)
	if err != nil {
		return model.Baseline{}, err
	}
	p.cached, p.modTime, p.loaded = b, info.ModTime(), true
	return b, nil
}

func Load(path string) (model.Baseline, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return model.Baseline{}, err
	}
	trimmed := strings.TrimSpace(string(data))
	if trimmed == "" {
		return model.Baseline{}, errors.New("baseline file is empty")
	}
	var b model.Baseline
	if strings.HasPrefix(trimmed, "{") {
		err = json.Unmarshal([]byte(trimmed), &b)
	} else {
		err = yaml.Unmarshal([]byte(trimmed), &b)
	}
	if err != nil {
		return model.Baseline{}, fmt.Errorf("decode baseline %s: %w", path, err)
	}
	return b, nil
}

// Save writes JSON for a .json path and YAML otherwise.
func Save(path string, b model.Baseline) error {
	var data []byte
	var err error
	if strings.EqualFold(filepath.Ext(path), ".json") {
		data, err = json.MarshalIndent(b, "", "  ")
	} else {
		data, err = yaml.Marshal(b)
	}
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

type running struct {
	n    int
	mean float64
	m2   float64
}

func (r *running) add(v float64) {
	r.n++
	delta := v - r.mean
	r.mean += delta / float64(r.n)
	r.m2 += delta * (v - r.mean)
}

func (r *running) stddev() float64 {
	if r.n < 2 {
		return 0
	}
	return math.Sqrt(r.m2 / float64(r.n-1))
}

// Compute derives a baseline from historical records and batch reports.
// Field statistics use the sample standard deviation; the quality mean is
// weighted by each report's evaluated record count.
func Compute(fields []string, records []model.TelemetryRecord, reports []model.BatchReport, asOf time.Time) model.Baseline {
	b := model.Baseline{AsOf: asOf.UTC(), Fields: make(map[string]model.FieldStats, len(fields))}
	for _, name := range fields {
		var r running
		for i := range records {
			p := anomaly.FieldValue(&records[i], name)
			if p == nil || math.IsNaN(*p) || math.IsInf(*p, 0) {
				continue
			}
			r.add(*p)
		}
		if r.n == 0 {
			continue
		}
		b.Fields[name] = model.FieldStats{Mean: r.mean, StdDev: r.stddev(), Count: r.n}
	}
	var sum float64
	for _, rep := range reports {
		if rep.Fatal || rep.Evaluated == 0 {
			continue
		}
		sum += rep.AverageQuality * float64(rep.Evaluated)
		b.QualitySamples += rep.Evaluated
	}
	if b.QualitySamples > 0 {
		b.QualityMean = sum / float64(b.QualitySamples)
	}
	return b
}

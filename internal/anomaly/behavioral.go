package anomaly

import (
	"fmt"

	"flightguard/internal/model"
)

type positionSample struct {
	lat, lon float64
}

// positionWindow keeps the last size airborne positions of one aircraft.
type positionWindow struct {
	size    int
	samples []positionSample
	head    int
}

func newPositionWindow(size int) *positionWindow {
	if size < 1 {
		size = 1
	}
	return &positionWindow{size: size, samples: make([]positionSample, 0, size*2)}
}

func (w *positionWindow) Add(s positionSample) {
	w.samples = append(w.samples, s)
	for len(w.samples)-w.head > w.size {
		w.head++
	}
	if w.head > 0 && w.head*2 >= len(w.samples) {
		w.samples = append([]positionSample{}, w.samples[w.head:]...)
		w.head = 0
	}
}

func (w *positionWindow) Reset() {
	w.samples = w.samples[:0]
	w.head = 0
}

func (w *positionWindow) Len() int {
	return len(w.samples) - w.head
}

// Variance is the summed population variance of latitude and longitude in
// square degrees.
func (w *positionWindow) Variance() float64 {
	var n int
	var meanLat, meanLon, m2Lat, m2Lon float64
	for i := w.head; i < len(w.samples); i++ {
		s := w.samples[i]
		n++
		dLat := s.lat - meanLat
		meanLat += dLat / float64(n)
		m2Lat += dLat * (s.lat - meanLat)
		dLon := s.lon - meanLon
		meanLon += dLon / float64(n)
		m2Lon += dLon * (s.lon - meanLon)
	}
	if n == 0 {
		return 0
	}
	return (m2Lat + m2Lon) / float64(n)
}

// stuckAircraft flags an airborne aircraft reporting cruise speed while its
// position does not move across the window. Ground reports reset the window.
func (d *Detector) stuckAircraft(w *positionWindow, rec *model.TelemetryRecord, i int) (model.Anomaly, bool) {
	cfg := d.cfg.Detection.Stuck
	if rec.OnGround {
		w.Reset()
		return model.Anomaly{}, false
	}
	if !hasPosition(rec) {
		return model.Anomaly{}, false
	}
	w.Add(positionSample{lat: *rec.Latitude, lon: *rec.Longitude})
	if w.Len() < cfg.MinSamples {
		return model.Anomaly{}, false
	}
	if rec.Velocity == nil || !finite(*rec.Velocity) || *rec.Velocity < cfg.MinVelocityKt {
		return model.Anomaly{}, false
	}
	variance := w.Variance()
	if variance > cfg.MaxVarianceDeg2 {
		return model.Anomaly{}, false
	}
	a := newAnomaly(model.AnomalyBehavioral, model.SeverityHigh, "stuck_aircraft", rec, i, variance, cfg.MaxVarianceDeg2,
		"latitude", "longitude")
	a.Detail = fmt.Sprintf("%d positions unchanged at %.0f kt", w.Len(), *rec.Velocity)
	return a, true
}

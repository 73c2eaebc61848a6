package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"flightguard/internal/alerts"
	"flightguard/internal/baseline"
	"flightguard/internal/config"
	"flightguard/internal/engine"
	"flightguard/internal/logging"
	"flightguard/internal/metrics"
	"flightguard/internal/model"
	"flightguard/internal/notify"
	"flightguard/internal/storage"
)

var t0 = time.Date(2026, 7, 1, 12, 0, 0, 0, time.UTC)

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	return newTestServerWithStore(t, storage.NewMemory())
}

func newTestServerWithStore(t *testing.T, store storage.Store) *httptest.Server {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.Storage.Driver = "memory"
	logger := logging.Discard()
	channels, err := notify.Build(cfg.Alerts.Channels, logger)
	require.NoError(t, err)
	history := alerts.NewStore(10)
	router := alerts.NewRouter(cfg.Alerts, channels, history, logger)
	reports := metrics.NewStore(10)
	pub := metrics.NewPublisher("fgtest")
	eng, err := engine.NewEngine(cfg, store, router, logger,
		engine.WithReportHistory(reports), engine.WithPublisher(pub))
	require.NoError(t, err)

	s := NewServer(config.NewStaticManager(cfg), eng, baseline.Static{}, reports, history, pub.Handler(), logger, "test")
	s.clock = func() time.Time { return t0 }
	srv := httptest.NewServer(s.Handler(nil))
	t.Cleanup(srv.Close)
	return srv
}

func do(t *testing.T, srv *httptest.Server, method, path string, body string) (*http.Response, []byte) {
	t.Helper()
	req, err := http.NewRequest(method, srv.URL+path, strings.NewReader(body))
	require.NoError(t, err)
	resp, err := srv.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	var buf bytes.Buffer
	_, err = buf.ReadFrom(resp.Body)
	require.NoError(t, err)
	return resp, buf.Bytes()
}

const jumpBatch = `{"id": "api-1", "records": [
  {"aircraft_id": "abc123", "timestamp": "2026-07-01T11:59:54Z", "latitude": 50.03, "longitude": 8.57,
   "baro_altitude_ft": 35000, "geo_altitude_ft": 35200, "velocity_kt": 450, "heading_deg": 90, "vertical_rate_fpm": 0, "squawk": "1000"},
  {"aircraft_id": "abc123", "timestamp": "2026-07-01T11:59:55Z", "latitude": 51.83, "longitude": 8.57,
   "baro_altitude_ft": 35000, "geo_altitude_ft": 35200, "velocity_kt": 450, "heading_deg": 90, "vertical_rate_fpm": 0, "squawk": "1000"}
]}`

func TestBatchAndQuarantineReview(t *testing.T) {
	srv := newTestServer(t)

	resp, body := do(t, srv, http.MethodPost, "/batches", jumpBatch)
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))
	var report model.BatchReport
	require.NoError(t, json.Unmarshal(body, &report))
	assert.Equal(t, "api-1", report.BatchID)
	assert.Equal(t, 1, report.Dispositions[model.DispositionQuarantine])
	require.Len(t, report.Quarantine.EntryIDs, 1)
	id := report.Quarantine.EntryIDs[0]

	resp, body = do(t, srv, http.MethodGet, "/quarantine?status=pending_review", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var list struct {
		Entries []model.QuarantineEntry `json:"entries"`
		Count   int                     `json:"count"`
	}
	require.NoError(t, json.Unmarshal(body, &list))
	assert.Equal(t, 1, list.Count)

	resp, body = do(t, srv, http.MethodPost, "/quarantine/"+id+"/release", `{"reviewer":"ops-1","note":"transponder glitch confirmed"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))
	var entry model.QuarantineEntry
	require.NoError(t, json.Unmarshal(body, &entry))
	assert.Equal(t, model.StatusReleased, entry.Status)
	assert.Equal(t, "ops-1", entry.Reviewer)

	resp, _ = do(t, srv, http.MethodPost, "/quarantine/"+id+"/release", "")
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	resp, _ = do(t, srv, http.MethodPost, "/quarantine/"+id+"/purge", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	resp, _ = do(t, srv, http.MethodGet, "/quarantine/missing", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestReportsAlertsStatusAndMetrics(t *testing.T) {
	srv := newTestServer(t)
	resp, _ := do(t, srv, http.MethodPost, "/batches", jumpBatch)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, body := do(t, srv, http.MethodGet, "/reports?limit=5", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), `"count":1`)
	resp, _ = do(t, srv, http.MethodGet, "/reports/api-1", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, body = do(t, srv, http.MethodGet, "/alerts", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), alerts.CategoryCriticalAnomaly)
	resp, _ = do(t, srv, http.MethodGet, "/alerts?since=yesterday", "")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, body = do(t, srv, http.MethodGet, "/status", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), `"batch_id":"api-1"`)

	resp, body = do(t, srv, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "fgtest_batches_total")

	resp, _ = do(t, srv, http.MethodPost, "/admin/reset", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	_, body = do(t, srv, http.MethodGet, "/alerts", "")
	assert.Contains(t, string(body), `"count":0`)
}

func TestBadRequests(t *testing.T) {
	srv := newTestServer(t)
	resp, _ := do(t, srv, http.MethodPost, "/batches", "{not json")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp, _ = do(t, srv, http.MethodGet, "/batches", "")
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
	resp, _ = do(t, srv, http.MethodGet, "/reports/unknown", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestQuarantineRoutesWithoutStore(t *testing.T) {
	srv := newTestServerWithStore(t, nil)
	resp, body := do(t, srv, http.MethodGet, "/quarantine", "")
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	assert.Contains(t, string(body), model.ErrNoStore.Error())
	resp, _ = do(t, srv, http.MethodGet, "/quarantine/some-id", "")
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	resp, _ = do(t, srv, http.MethodPost, "/quarantine/some-id/release", `{"reviewer": "ops-1"}`)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	resp, _ = do(t, srv, http.MethodPost, "/quarantine/some-id/purge", "")
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"

	"flightguard/internal/alerts"
	"flightguard/internal/baseline"
	"flightguard/internal/config"
	"flightguard/internal/ingest"
	"flightguard/internal/metrics"
	"flightguard/internal/model"
	"flightguard/internal/quarantine"
)

const maxBody = 32 << 20

// Engine is what the API drives.
type Engine interface {
	Process(ctx context.Context, batch model.Batch, baseline model.Baseline, now time.Time) model.BatchReport
	Quarantine() *quarantine.Coordinator
	Config() *config.Config
	Reset()
}

type Server struct {
	cfg      *config.Manager
	engine   Engine
	baseline baseline.Provider
	reports  *metrics.Store
	alerts   *alerts.Store
	metrics  http.Handler
	logger   *slog.Logger
	version  string
	clock    func() time.Time
}

type statusResponse struct {
	Status      string             `json:"status"`
	Time        string             `json:"time"`
	Version     string             `json:"version"`
	ConfigPath  string             `json:"config_path"`
	Batch       config.BatchConfig `json:"batch"`
	ReviewMode  string             `json:"review_mode"`
	Channels    []string           `json:"channels"`
	Storage     string             `json:"storage"`
	KafkaIngest bool               `json:"kafka_ingest"`
	LastBatch   *batchSummary      `json:"last_batch,omitempty"`
}

type batchSummary struct {
	BatchID        string    `json:"batch_id"`
	ProcessedAt    time.Time `json:"processed_at"`
	Records        int       `json:"records"`
	AverageQuality float64   `json:"average_quality"`
	Fatal          bool      `json:"fatal"`
}

type reviewRequest struct {
	Reviewer string `json:"reviewer"`
	Note     string `json:"note"`
}

func NewServer(cfg *config.Manager, eng Engine, provider baseline.Provider, reports *metrics.Store, alertStore *alerts.Store, metricsHandler http.Handler, logger *slog.Logger, version string) *Server {
	return &Server{
		cfg:      cfg,
		engine:   eng,
		baseline: provider,
		reports:  reports,
		alerts:   alertStore,
		metrics:  metricsHandler,
		logger:   logger,
		version:  version,
		clock:    time.Now,
	}
}

// Router builds the route table without middleware.
func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/status", s.handleStatus).Methods(http.MethodGet)
	r.HandleFunc("/batches", s.handleBatch).Methods(http.MethodPost)
	r.HandleFunc("/reports", s.handleReports).Methods(http.MethodGet)
	r.HandleFunc("/reports/{id}", s.handleReport).Methods(http.MethodGet)
	r.HandleFunc("/alerts", s.handleAlerts).Methods(http.MethodGet)
	r.HandleFunc("/quarantine", s.handleQuarantineList).Methods(http.MethodGet)
	r.HandleFunc("/quarantine/{id}", s.handleQuarantineGet).Methods(http.MethodGet)
	r.HandleFunc("/quarantine/{id}/release", s.handleReview(model.StatusReleased)).Methods(http.MethodPost)
	r.HandleFunc("/quarantine/{id}/purge", s.handleReview(model.StatusPurged)).Methods(http.MethodPost)
	r.HandleFunc("/admin/reset", s.handleReset).Methods(http.MethodPost)
	if s.metrics != nil {
		r.Handle("/metrics", s.metrics).Methods(http.MethodGet)
	}
	return r
}

// Handler wraps the router with panic recovery and access logging.
func (s *Server) Handler(accessLog io.Writer) http.Handler {
	var h http.Handler = s.Router()
	h = handlers.RecoveryHandler(handlers.PrintRecoveryStack(false))(h)
	if accessLog != nil {
		h = handlers.LoggingHandler(accessLog, h)
	}
	return h
}

func Start(ctx context.Context, s *Server, addr string, accessLog io.Writer) *http.Server {
	if s.logger != nil {
		s.logger.Info("api enabled", "addr", addr)
	}
	httpServer := &http.Server{Addr: addr, Handler: s.Handler(accessLog), ReadHeaderTimeout: 10 * time.Second}
	go func() {
		<-ctx.Done()
		ctxShutdown, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = httpServer.Shutdown(ctxShutdown)
	}()
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			if s.logger != nil {
				s.logger.Error("api server error", "err", err)
			}
		}
	}()
	return httpServer
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	cfg := s.engine.Config()
	channels := make([]string, 0, len(cfg.Alerts.Channels))
	for _, ch := range cfg.Alerts.Channels {
		channels = append(channels, ch.Name)
	}
	resp := statusResponse{
		Status:      "ok",
		Time:        s.clock().UTC().Format(time.RFC3339Nano),
		Version:     s.version,
		Batch:       cfg.Batch,
		ReviewMode:  cfg.Quarantine.ReviewMode,
		Channels:    channels,
		Storage:     cfg.Storage.Driver,
		KafkaIngest: cfg.Ingest.Kafka.Enabled,
	}
	if s.cfg != nil {
		resp.ConfigPath = s.cfg.Path()
	}
	if s.reports != nil {
		if last, ok := s.reports.Latest(); ok {
			resp.LastBatch = &batchSummary{
				BatchID:        last.BatchID,
				ProcessedAt:    last.ProcessedAt,
				Records:        last.Records,
				AverageQuality: last.AverageQuality,
				Fatal:          last.Fatal,
			}
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleBatch processes a posted batch synchronously. A fatal report is
// returned with 503 so callers can retry.
func (s *Server) handleBatch(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBody))
	if err != nil {
		writeError(w, http.StatusRequestEntityTooLarge, err)
		return
	}
	batch, err := ingest.ParseBatch(body, "rest")
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if id := r.URL.Query().Get("id"); id != "" {
		batch.ID = id
	}
	var base model.Baseline
	if s.baseline != nil {
		base, err = s.baseline.Baseline(r.Context())
		if err != nil {
			writeError(w, http.StatusServiceUnavailable, err)
			return
		}
	}
	report := s.engine.Process(r.Context(), batch, base, s.clock().UTC())
	status := http.StatusOK
	if report.Fatal {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, report)
}

func (s *Server) handleReports(w http.ResponseWriter, r *http.Request) {
	list := []model.BatchReport{}
	if s.reports != nil {
		list = s.reports.List(queryInt(r, "limit"))
	}
	writeJSON(w, http.StatusOK, map[string]any{"reports": list, "count": len(list)})
}

func (s *Server) handleReport(w http.ResponseWriter, r *http.Request) {
	if s.reports == nil {
		writeError(w, http.StatusNotFound, model.ErrNotFound)
		return
	}
	rep, ok := s.reports.Get(mux.Vars(r)["id"])
	if !ok {
		writeError(w, http.StatusNotFound, model.ErrNotFound)
		return
	}
	writeJSON(w, http.StatusOK, rep)
}

func (s *Server) handleAlerts(w http.ResponseWriter, r *http.Request) {
	list := []model.AlertEvent{}
	if s.alerts != nil {
		if since := r.URL.Query().Get("since"); since != "" {
			ts, err := time.Parse(time.RFC3339, since)
			if err != nil {
				writeError(w, http.StatusBadRequest, err)
				return
			}
			list = s.alerts.Since(ts)
		} else {
			list = s.alerts.List(queryInt(r, "limit"))
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"alerts": list, "count": len(list)})
}

func (s *Server) handleQuarantineList(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := model.QuarantineFilter{
		Status:     model.QuarantineStatus(q.Get("status")),
		BatchID:    q.Get("batch_id"),
		AircraftID: q.Get("aircraft_id"),
		Limit:      queryInt(r, "limit"),
	}
	if before := q.Get("created_before"); before != "" {
		ts, err := time.Parse(time.RFC3339, before)
		if err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		filter.CreatedBefore = ts
	}
	entries, err := s.engine.Quarantine().List(r.Context(), filter)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": entries, "count": len(entries)})
}

func (s *Server) handleQuarantineGet(w http.ResponseWriter, r *http.Request) {
	entry, err := s.engine.Quarantine().Get(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, entry)
}

func (s *Server) handleReview(next model.QuarantineStatus) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req reviewRequest
		body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, 1<<20))
		if err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		if len(body) > 0 {
			if err := json.Unmarshal(body, &req); err != nil {
				writeError(w, http.StatusBadRequest, err)
				return
			}
		}
		entry, err := s.engine.Quarantine().Transition(r.Context(), mux.Vars(r)["id"], next, req.Reviewer, req.Note, s.clock().UTC())
		if err != nil {
			writeError(w, statusFor(err), err)
			return
		}
		if s.logger != nil {
			s.logger.Info("quarantine entry reviewed", "entry_id", entry.ID, "status", entry.Status, "reviewer", req.Reviewer)
		}
		writeJSON(w, http.StatusOK, entry)
	}
}

func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	s.engine.Reset()
	if s.alerts != nil {
		s.alerts.Clear()
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, model.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, model.ErrInvalidTransition), errors.Is(err, model.ErrConflict):
		return http.StatusConflict
	case errors.Is(err, model.ErrNoStore):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

func queryInt(r *http.Request, key string) int {
	n, err := strconv.Atoi(r.URL.Query().Get(key))
	if err != nil || n < 0 {
		return 0
	}
	return n
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]any{"error": err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/pavetsu14/dockhand/internal/history"
	"github.com/pavetsu14/dockhand/internal/workflow"
)

const healthCheckTimeout = 2 * time.Second

// HealthChecker reports whether the container engine is reachable.
type HealthChecker interface {
	Ping(ctx context.Context) error
}

// HistoryReader serves stored run records.
type HistoryReader interface {
	Recent(ctx context.Context, limit int) ([]history.RunRecord, error)
	Get(ctx context.Context, runID string) (history.RunRecord, error)
}

// Router exposes the trigger intake and inspection endpoints.
type Router struct {
	mux     *http.ServeMux
	logger  *slog.Logger
	trigger workflow.Trigger
	worker  *Worker
	health  HealthChecker
	runs    HistoryReader

	metricsOnce        sync.Once
	metricsInitialized bool
	requestTotal       *prometheus.CounterVec
	requestDuration    *prometheus.HistogramVec
	eventDecisions     *prometheus.CounterVec
	runResults         *prometheus.CounterVec
}

// New creates and registers handlers.
func New(logger *slog.Logger, trigger workflow.Trigger, worker *Worker, health HealthChecker, runs HistoryReader) *Router {
	r := &Router{
		mux:     http.NewServeMux(),
		logger:  logger,
		trigger: trigger,
		worker:  worker,
		health:  health,
		runs:    runs,
	}
	r.initMetrics()
	r.routes()
	return r
}

// ServeHTTP satisfies http.Handler.
func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	r.mux.ServeHTTP(w, req)
}

func (r *Router) routes() {
	r.mux.HandleFunc("/metrics", promhttp.Handler().ServeHTTP)
	r.mux.HandleFunc("/healthz", r.instrument("/healthz", r.handleHealth))
	r.mux.HandleFunc("/events", r.instrument("/events", r.handleEvents))
	r.mux.HandleFunc("/runs", r.instrument("/runs", r.handleRuns))
	r.mux.HandleFunc("/runs/", r.instrument("/runs/:id", r.handleRunByID))
}

func (r *Router) handleHealth(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		r.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	ctx, cancel := context.WithTimeout(req.Context(), healthCheckTimeout)
	defer cancel()
	component := map[string]any{"status": "up"}
	status := "ok"
	if err := r.health.Ping(ctx); err != nil {
		status = "degraded"
		component = map[string]any{
			"status": "down",
			"error":  err.Error(),
		}
	}
	payload := map[string]any{
		"status": status,
		"components": map[string]any{
			"docker": component,
		},
		"timestamp": time.Now().UTC().Format(time.RFC3339Nano),
	}
	code := http.StatusOK
	if status != "ok" {
		code = http.StatusServiceUnavailable
	}
	r.writeJSON(w, code, payload)
}

func (r *Router) handleEvents(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodPost {
		r.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	var ev workflow.Event
	if err := json.NewDecoder(req.Body).Decode(&ev); err != nil {
		r.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	ev.Normalize()
	if ev.Kind != workflow.EventPush && ev.Kind != workflow.EventPullRequest {
		r.writeError(w, http.StatusBadRequest, "unknown event kind")
		return
	}
	if !r.trigger.Matches(ev) {
		r.recordEventDecision("ignored")
		r.writeJSON(w, http.StatusOK, map[string]string{"status": "ignored"})
		return
	}
	if err := r.worker.Submit(ev); err != nil {
		r.recordEventDecision("rejected")
		r.writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	}
	r.recordEventDecision("queued")
	r.writeJSON(w, http.StatusAccepted, map[string]string{"status": "queued"})
}

func (r *Router) handleRuns(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		r.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	limit := 20
	if raw := req.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			r.writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = parsed
	}
	records, err := r.runs.Recent(req.Context(), limit)
	if err != nil {
		r.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if records == nil {
		records = []history.RunRecord{}
	}
	r.writeJSON(w, http.StatusOK, map[string]any{"runs": records})
}

func (r *Router) handleRunByID(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		r.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	runID := strings.TrimPrefix(req.URL.Path, "/runs/")
	runID = strings.Trim(runID, "/")
	if runID == "" {
		r.writeError(w, http.StatusBadRequest, "run id required")
		return
	}
	record, err := r.runs.Get(req.Context(), runID)
	if err != nil {
		if errors.Is(err, history.ErrNotFound) {
			r.writeError(w, http.StatusNotFound, "run not found")
			return
		}
		r.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	r.writeJSON(w, http.StatusOK, record)
}

func (r *Router) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		r.logger.Error("failed to encode response", "error", err)
	}
}

func (r *Router) writeError(w http.ResponseWriter, status int, msg string) {
	r.writeJSON(w, status, map[string]string{"error": msg})
}

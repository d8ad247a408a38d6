package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"go.uber.org/zap"

	"bq2pg/internal/app"
	"bq2pg/internal/etlerr"
)

// Coordinator is the run control the handler exposes
type Coordinator interface {
	Trigger() app.TriggerResult
	Run(ctx context.Context) (app.Report, error)
	Status() app.Status
}

// HealthChecker provides database health status for the /health endpoint.
type HealthChecker interface {
	PingContext(ctx context.Context) error
}

type Handler struct {
	coordinator Coordinator
	db          HealthChecker
	metrics     http.Handler
	version     string
	logger      *zap.Logger
}

func NewHandler(c Coordinator, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{coordinator: c, logger: logger}
}

// WithHealthChecker sets the database health checker for verbose /health responses.
func (h *Handler) WithHealthChecker(db HealthChecker) *Handler {
	h.db = db
	return h
}

// WithMetrics serves m on /metrics
func (h *Handler) WithMetrics(m http.Handler) *Handler {
	h.metrics = m
	return h
}

// WithVersion reports v on /
func (h *Handler) WithVersion(v string) *Handler {
	h.version = v
	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	path := r.URL.Path

	switch {
	case path == "/" && r.Method == http.MethodGet:
		h.index(w, r)

	case path == "/health" && r.Method == http.MethodGet:
		h.health(w, r)

	case path == "/status" && r.Method == http.MethodGet:
		h.status(w, r)

	case path == "/trigger" && r.Method == http.MethodPost:
		h.trigger(w, r)

	case path == "/metrics" && h.metrics != nil && r.Method == http.MethodGet:
		h.metrics.ServeHTTP(w, r)

	case path == "/" || path == "/health" || path == "/status" || path == "/trigger":
		h.writeError(w, http.StatusMethodNotAllowed, "method not allowed")

	default:
		h.writeError(w, http.StatusNotFound, "not found")
	}
}

// IndexResponse describes the service on /
type IndexResponse struct {
	Service   string   `json:"service"`
	Version   string   `json:"version,omitempty"`
	Endpoints []string `json:"endpoints"`
}

func (h *Handler) index(w http.ResponseWriter, r *http.Request) {
	endpoints := []string{"GET /health", "GET /status", "POST /trigger"}
	if h.metrics != nil {
		endpoints = append(endpoints, "GET /metrics")
	}
	h.writeJSON(w, http.StatusOK, IndexResponse{
		Service:   "bq2pg incremental BigQuery to PostgreSQL loader",
		Version:   h.version,
		Endpoints: endpoints,
	})
}

// HealthResponse represents the /health endpoint response.
type HealthResponse struct {
	Status     string            `json:"status"`
	Components map[string]string `json:"components,omitempty"`
}

func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	verbose := r.URL.Query().Get("verbose") == "true"

	if !verbose || h.db == nil {
		h.writeJSON(w, http.StatusOK, HealthResponse{Status: "ok"})
		return
	}

	resp := HealthResponse{
		Status:     "ok",
		Components: make(map[string]string),
	}

	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	if err := h.db.PingContext(ctx); err != nil {
		resp.Status = "degraded"
		resp.Components["database"] = "unhealthy: " + err.Error()
	} else {
		resp.Components["database"] = "healthy"
	}

	// last run outcome is informational; a failed run does not make the
	// service unhealthy
	if s := h.coordinator.Status(); s.LastOutcome != "" {
		resp.Components["last_run"] = s.LastOutcome
	}

	statusCode := http.StatusOK
	if resp.Status == "degraded" {
		statusCode = http.StatusServiceUnavailable
	}

	h.writeJSON(w, statusCode, resp)
}

func (h *Handler) status(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, h.coordinator.Status())
}

// TriggerResponse is returned by POST /trigger
type TriggerResponse struct {
	Accepted  bool        `json:"accepted"`
	Reason    string      `json:"reason,omitempty"`
	Report    *app.Report `json:"report,omitempty"`
	Error     string      `json:"error,omitempty"`
	ErrorKind etlerr.Kind `json:"error_kind,omitempty"`
}

func (h *Handler) trigger(w http.ResponseWriter, r *http.Request) {
	if r.URL.Query().Get("wait") != "true" {
		res := h.coordinator.Trigger()
		if !res.Accepted {
			h.writeJSON(w, http.StatusOK, TriggerResponse{Accepted: false, Reason: res.Reason})
			return
		}
		h.logger.Info("Run triggered over HTTP", zap.String("remote", r.RemoteAddr))
		h.writeJSON(w, http.StatusAccepted, TriggerResponse{Accepted: true})
		return
	}

	// a client hanging up does not cancel the run
	report, err := h.coordinator.Run(context.WithoutCancel(r.Context()))
	switch {
	case errors.Is(err, app.ErrAlreadyRunning):
		h.writeJSON(w, http.StatusOK, TriggerResponse{Accepted: false, Reason: err.Error()})
	case err != nil:
		h.writeJSON(w, http.StatusInternalServerError, TriggerResponse{
			Accepted:  true,
			Report:    &report,
			Error:     err.Error(),
			ErrorKind: etlerr.KindOf(err),
		})
	default:
		h.writeJSON(w, http.StatusOK, TriggerResponse{Accepted: true, Report: &report})
	}
}

// ErrorResponse is the body of every error reply
type ErrorResponse struct {
	Error string `json:"error"`
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Warn("api: json encode error", zap.Error(err))
	}
}

func (h *Handler) writeError(w http.ResponseWriter, status int, msg string) {
	h.writeJSON(w, status, ErrorResponse{Error: msg})
}

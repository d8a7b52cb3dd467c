package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"temperature-bench/internal/models"
	"temperature-bench/internal/repository"
	"temperature-bench/pkg/logging"
	"temperature-bench/pkg/metrics"
)

const (
	defaultLimit = 100
	maxLimit     = 1000
)

// ResultsHandler serves stored benchmark results
type ResultsHandler struct {
	repo    repository.ResultsRepository
	logger  *logging.StructuredLogger
	metrics *metrics.Collector
}

// NewResultsHandler creates a new results handler
func NewResultsHandler(repo repository.ResultsRepository, logger *logging.StructuredLogger, metricsCollector *metrics.Collector) *ResultsHandler {
	return &ResultsHandler{
		repo:    repo,
		logger:  logger,
		metrics: metricsCollector,
	}
}

// ErrorResponse represents an API error response
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Code    int    `json:"code"`
}

// PaginatedResponse represents a paginated API response
type PaginatedResponse struct {
	Data       interface{} `json:"data"`
	Total      int         `json:"total"`
	Page       int         `json:"page"`
	Limit      int         `json:"limit"`
	TotalPages int         `json:"total_pages"`
}

// RunDetail is a run together with its experiment summaries
type RunDetail struct {
	*models.BenchmarkRun
	Experiments []*models.ExperimentResult `json:"experiments"`
}

func parsePagination(r *http.Request) (page, limit int) {
	page, limit = 1, defaultLimit
	if p, err := strconv.Atoi(r.URL.Query().Get("page")); err == nil && p > 0 {
		page = p
	}
	if l, err := strconv.Atoi(r.URL.Query().Get("limit")); err == nil && l > 0 && l <= maxLimit {
		limit = l
	}
	return page, limit
}

func newPage(data interface{}, total, page, limit int) PaginatedResponse {
	return PaginatedResponse{
		Data:       data,
		Total:      total,
		Page:       page,
		Limit:      limit,
		TotalPages: (total + limit - 1) / limit,
	}
}

func (h *ResultsHandler) observe(endpoint string, start time.Time) {
	h.metrics.APIRequestDuration.WithLabelValues(endpoint).Observe(time.Since(start).Seconds())
}

// runID extracts and validates the {id} path variable
func (h *ResultsHandler) runID(w http.ResponseWriter, r *http.Request, endpoint string) (string, bool) {
	id := mux.Vars(r)["id"]
	if _, err := uuid.Parse(id); err != nil {
		h.sendError(w, r, endpoint, "invalid run id, expected a UUID", http.StatusBadRequest)
		return "", false
	}
	return id, true
}

// ListRuns handles GET /api/runs
func (h *ResultsHandler) ListRuns(w http.ResponseWriter, r *http.Request) {
	const endpoint = "/api/runs"
	defer h.observe(endpoint, time.Now())
	ctx := r.Context()

	page, limit := parsePagination(r)
	runs, total, err := h.repo.ListRuns(ctx, limit, (page-1)*limit)
	if err != nil {
		h.logger.Error(ctx, "[API_LIST_RUNS_ERROR] Failed to list runs", logging.Fields{
			"page":  page,
			"limit": limit,
		}, err)
		h.sendError(w, r, endpoint, "failed to retrieve runs", http.StatusInternalServerError)
		return
	}

	h.metrics.RecordAPIRequest(endpoint, r.Method, "200")
	h.sendJSON(w, newPage(runs, total, page, limit), http.StatusOK)
}

// GetRun handles GET /api/runs/{id}
func (h *ResultsHandler) GetRun(w http.ResponseWriter, r *http.Request) {
	const endpoint = "/api/runs/{id}"
	defer h.observe(endpoint, time.Now())
	ctx := r.Context()

	id, ok := h.runID(w, r, endpoint)
	if !ok {
		return
	}

	run, err := h.repo.GetRun(ctx, id)
	if err != nil {
		h.sendRepoError(w, r, endpoint, "failed to retrieve run", err)
		return
	}
	experiments, err := h.repo.GetExperiments(ctx, id)
	if err != nil {
		h.sendRepoError(w, r, endpoint, "failed to retrieve experiments", err)
		return
	}

	h.metrics.RecordAPIRequest(endpoint, r.Method, "200")
	h.sendJSON(w, RunDetail{BenchmarkRun: run, Experiments: experiments}, http.StatusOK)
}

// GetExperiments handles GET /api/runs/{id}/experiments
func (h *ResultsHandler) GetExperiments(w http.ResponseWriter, r *http.Request) {
	const endpoint = "/api/runs/{id}/experiments"
	defer h.observe(endpoint, time.Now())
	ctx := r.Context()

	id, ok := h.runID(w, r, endpoint)
	if !ok {
		return
	}

	if _, err := h.repo.GetRun(ctx, id); err != nil {
		h.sendRepoError(w, r, endpoint, "failed to retrieve run", err)
		return
	}
	experiments, err := h.repo.GetExperiments(ctx, id)
	if err != nil {
		h.sendRepoError(w, r, endpoint, "failed to retrieve experiments", err)
		return
	}

	h.metrics.RecordAPIRequest(endpoint, r.Method, "200")
	h.sendJSON(w, experiments, http.StatusOK)
}

// GetPeriodStats handles GET /api/runs/{id}/periods
func (h *ResultsHandler) GetPeriodStats(w http.ResponseWriter, r *http.Request) {
	const endpoint = "/api/runs/{id}/periods"
	defer h.observe(endpoint, time.Now())
	ctx := r.Context()

	id, ok := h.runID(w, r, endpoint)
	if !ok {
		return
	}

	page, limit := parsePagination(r)
	filter := repository.PeriodStatsFilter{
		RunID:     id,
		KeyPrefix: r.URL.Query().Get("key_prefix"),
		Limit:     limit,
		Offset:    (page - 1) * limit,
	}

	if s := r.URL.Query().Get("experiment"); s != "" {
		experiment, err := strconv.Atoi(s)
		if err != nil || experiment < 1 {
			h.sendError(w, r, endpoint, "invalid experiment, expected a positive integer", http.StatusBadRequest)
			return
		}
		filter.Experiment = &experiment
	}

	stats, total, err := h.repo.GetPeriodStats(ctx, filter)
	if err != nil {
		h.sendRepoError(w, r, endpoint, "failed to retrieve period statistics", err)
		return
	}

	h.metrics.RecordAPIRequest(endpoint, r.Method, "200")
	h.sendJSON(w, newPage(stats, total, page, limit), http.StatusOK)
}

// HealthCheck handles GET /health
func (h *ResultsHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	status := map[string]string{
		"status":    "healthy",
		"database":  "up",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	}
	code := http.StatusOK

	if err := h.repo.HealthCheck(ctx); err != nil {
		h.logger.Warn(ctx, "[HEALTH_CHECK] Database unavailable", logging.Fields{
			"error": err.Error(),
		})
		status["status"] = "degraded"
		status["database"] = "down"
		code = http.StatusServiceUnavailable
	}

	h.sendJSON(w, status, code)
}

// sendRepoError maps repository errors onto HTTP status codes
func (h *ResultsHandler) sendRepoError(w http.ResponseWriter, r *http.Request, endpoint, message string, err error) {
	var notFound *repository.NotFoundError
	if errors.As(err, &notFound) {
		h.sendError(w, r, endpoint, notFound.Error(), http.StatusNotFound)
		return
	}

	h.logger.Error(r.Context(), "[API_REPO_ERROR] "+message, logging.Fields{
		"endpoint": endpoint,
	}, err)
	h.sendError(w, r, endpoint, message, http.StatusInternalServerError)
}

// sendJSON sends a JSON response
func (h *ResultsHandler) sendJSON(w http.ResponseWriter, data interface{}, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(data)
}

// sendError sends an error response
func (h *ResultsHandler) sendError(w http.ResponseWriter, r *http.Request, endpoint, message string, statusCode int) {
	h.metrics.RecordAPIRequest(endpoint, r.Method, strconv.Itoa(statusCode))

	response := ErrorResponse{
		Error:   http.StatusText(statusCode),
		Message: message,
		Code:    statusCode,
	}

	h.sendJSON(w, response, statusCode)
}

// RegisterRoutes registers all results API routes
func (h *ResultsHandler) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/api/runs", h.ListRuns).Methods("GET")
	router.HandleFunc("/api/runs/{id}", h.GetRun).Methods("GET")
	router.HandleFunc("/api/runs/{id}/experiments", h.GetExperiments).Methods("GET")
	router.HandleFunc("/api/runs/{id}/periods", h.GetPeriodStats).Methods("GET")
	router.HandleFunc("/api/docs", SwaggerUI).Methods("GET")
	router.HandleFunc("/api/docs/openapi.json", OpenAPISpec).Methods("GET")
	router.HandleFunc("/health", h.HealthCheck).Methods("GET")
}

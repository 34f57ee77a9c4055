package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"census-atlas/internal/models"
	"census-atlas/internal/services"
	"census-atlas/internal/taxonomy"
	"census-atlas/pkg/logging"
	"census-atlas/pkg/metrics"
)

const (
	endpointVintages        = "/api/vintages"
	endpointCharacteristics = "/api/vintages/{year}/characteristics"
	endpointAnalysis        = "/api/analysis"

	maxRequestBody = 1 << 20
)

// HealthChecker reports whether a backing store is reachable
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// CensusHandler handles the census API endpoints
type CensusHandler struct {
	catalog  *services.CatalogService
	analysis *services.AnalysisService
	health   HealthChecker
	logger   *logging.StructuredLogger
	metrics  *metrics.Collector
}

// NewCensusHandler creates a new census handler. health may be nil.
func NewCensusHandler(
	catalog *services.CatalogService,
	analysis *services.AnalysisService,
	health HealthChecker,
	logger *logging.StructuredLogger,
	metricsCollector *metrics.Collector,
) *CensusHandler {
	return &CensusHandler{
		catalog:  catalog,
		analysis: analysis,
		health:   health,
		logger:   logger,
		metrics:  metricsCollector,
	}
}

// ErrorResponse represents an API error response
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Code    int    `json:"code"`
}

// ListResponse wraps a collection
type ListResponse struct {
	Data  interface{} `json:"data"`
	Total int         `json:"total"`
}

// CharacteristicsResponse lists the labels one level below Path
type CharacteristicsResponse struct {
	Year     int      `json:"year"`
	Path     []string `json:"path"`
	Children []string `json:"children"`
}

// GetVintages handles GET /api/vintages
func (h *CensusHandler) GetVintages(w http.ResponseWriter, r *http.Request) {
	defer h.observe(endpointVintages, time.Now())

	vintages := h.catalog.Vintages()

	h.metrics.RecordAPIRequest(endpointVintages, r.Method, "200")
	h.sendJSON(w, ListResponse{Data: vintages, Total: len(vintages)}, http.StatusOK)
}

// GetCharacteristics handles GET /api/vintages/{year}/characteristics
func (h *CensusHandler) GetCharacteristics(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	defer h.observe(endpointCharacteristics, time.Now())

	year, err := strconv.Atoi(mux.Vars(r)["year"])
	if err != nil {
		h.sendError(w, r, endpointCharacteristics, "invalid year, expected an integer", http.StatusBadRequest)
		return
	}
	path := r.URL.Query()["path"]

	children, err := h.catalog.Children(year, path)
	if err != nil {
		h.handleError(ctx, w, r, endpointCharacteristics, err, logging.Fields{
			"year": year,
			"path": path,
		})
		return
	}
	if path == nil {
		path = []string{}
	}

	h.metrics.RecordAPIRequest(endpointCharacteristics, r.Method, "200")
	h.sendJSON(w, CharacteristicsResponse{Year: year, Path: path, Children: children}, http.StatusOK)
}

// PostAnalysis handles POST /api/analysis
func (h *CensusHandler) PostAnalysis(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	defer h.observe(endpointAnalysis, time.Now())

	var req models.AnalysisRequest
	decoder := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBody))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&req); err != nil {
		h.metrics.RecordAPIError("decode_error", endpointAnalysis)
		h.sendError(w, r, endpointAnalysis, "invalid request body: "+err.Error(), http.StatusBadRequest)
		return
	}

	result, err := h.analysis.Analyze(ctx, req)
	if err != nil {
		h.handleError(ctx, w, r, endpointAnalysis, err, logging.Fields{
			"granularity": req.Granularity,
			"selections":  len(req.Selections),
		})
		return
	}

	h.metrics.RecordAPIRequest(endpointAnalysis, r.Method, "200")
	h.sendJSON(w, result, http.StatusOK)
}

// HealthCheck handles GET /health
func (h *CensusHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	status := map[string]string{
		"status":    "healthy",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	}
	code := http.StatusOK

	if h.health != nil {
		if err := h.health.HealthCheck(ctx); err != nil {
			h.logger.Warn(ctx, "[HEALTH_CHECK_FAILED] Backing store unreachable", logging.Fields{
				"error": err.Error(),
			})
			status["status"] = "unhealthy"
			code = http.StatusServiceUnavailable
		}
	}

	h.logger.Debug(ctx, "[HEALTH_CHECK] Health check requested", logging.Fields{})
	h.sendJSON(w, status, code)
}

// statusFor maps service errors onto HTTP status codes
func statusFor(err error) (int, string) {
	var (
		validationErr *models.ValidationError
		configErr     *models.ConfigError
		notFoundErr   *models.NotFoundError
	)
	switch {
	case errors.As(err, &validationErr):
		return http.StatusBadRequest, "validation_error"
	case errors.As(err, &configErr):
		return http.StatusBadRequest, "config_error"
	case errors.As(err, &notFoundErr), errors.Is(err, taxonomy.ErrNoSuchChild):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, "timeout"
	default:
		return http.StatusInternalServerError, "internal_error"
	}
}

func (h *CensusHandler) handleError(ctx context.Context, w http.ResponseWriter, r *http.Request, endpoint string, err error, fields logging.Fields) {
	code, errorType := statusFor(err)
	h.metrics.RecordAPIError(errorType, endpoint)

	if code >= http.StatusInternalServerError {
		h.logger.Error(ctx, "[API_ERROR] Request failed", fields, err)
		h.sendError(w, r, endpoint, "request could not be completed", code)
		return
	}

	h.logger.Info(ctx, "[API_REJECTED] Request rejected", logging.Fields{
		"endpoint": endpoint,
		"status":   code,
		"reason":   err.Error(),
	})
	h.sendError(w, r, endpoint, err.Error(), code)
}

func (h *CensusHandler) observe(endpoint string, start time.Time) {
	h.metrics.APIRequestDuration.WithLabelValues(endpoint).Observe(time.Since(start).Seconds())
}

// sendJSON sends a JSON response
func (h *CensusHandler) sendJSON(w http.ResponseWriter, data interface{}, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Warn(context.Background(), "[API_ENCODE_ERROR] Failed to write response", logging.Fields{
			"error": err.Error(),
		})
	}
}

// sendError sends an error response
func (h *CensusHandler) sendError(w http.ResponseWriter, r *http.Request, endpoint, message string, statusCode int) {
	h.metrics.RecordAPIRequest(endpoint, r.Method, strconv.Itoa(statusCode))

	response := ErrorResponse{
		Error:   http.StatusText(statusCode),
		Message: message,
		Code:    statusCode,
	}

	h.sendJSON(w, response, statusCode)
}

// RegisterRoutes registers all census API routes
func (h *CensusHandler) RegisterRoutes(router *mux.Router) {
	router.HandleFunc(endpointVintages, h.GetVintages).Methods("GET")
	router.HandleFunc(endpointCharacteristics, h.GetCharacteristics).Methods("GET")
	router.HandleFunc(endpointAnalysis, h.PostAnalysis).Methods("POST")
	router.HandleFunc("/health", h.HealthCheck).Methods("GET")
	router.Handle("/metrics", promhttp.Handler()).Methods("GET")
	router.HandleFunc("/api/docs/openapi.json", OpenAPISpec).Methods("GET")
	router.HandleFunc("/api/docs", SwaggerUI).Methods("GET")
}

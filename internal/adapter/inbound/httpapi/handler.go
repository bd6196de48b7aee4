package httpapi

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/actiongate/actiongate/internal/service"
)

// EvaluationHandler serves the public evaluation API.
type EvaluationHandler struct {
	evals   *service.EvaluationService
	metrics *Metrics
	logger  *slog.Logger
}

// NewEvaluationHandler creates an EvaluationHandler. metrics may be nil when
// the handler is used without a registry (tests, embedded use).
func NewEvaluationHandler(evals *service.EvaluationService, metrics *Metrics, logger *slog.Logger) *EvaluationHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &EvaluationHandler{
		evals:   evals,
		metrics: metrics,
		logger:  logger,
	}
}

// Routes returns an http.Handler with the evaluation API routes registered.
func (h *EvaluationHandler) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/policy/evaluate", h.handleEvaluate)
	mux.HandleFunc("GET /v1/policy/evaluations", h.handleListEvaluations)
	mux.HandleFunc("GET /v1/policy/evaluations/{request_id}", h.handleEvaluationStatus)
	return mux
}

// evaluateRequest is the JSON body for POST /v1/policy/evaluate.
type evaluateRequest struct {
	Identity string `json:"identity"`
	Resource string `json:"resource"`
	Channel  string `json:"channel,omitempty"`
}

// handleEvaluate resolves a single access request to an allow/deny verdict.
func (h *EvaluationHandler) handleEvaluate(w http.ResponseWriter, r *http.Request) {
	var req evaluateRequest
	if err := h.readJSON(r, &req); err != nil {
		h.respondError(w, http.StatusBadRequest, "invalid JSON body: "+err.Error())
		return
	}
	if req.Identity == "" {
		h.respondError(w, http.StatusBadRequest, "identity is required")
		return
	}
	if req.Resource == "" {
		h.respondError(w, http.StatusBadRequest, "resource is required")
		return
	}

	result := h.evals.Evaluate(r.Context(), req.Identity, req.Resource, req.Channel)

	if h.metrics != nil {
		verdict := "deny"
		if result.Allowed {
			verdict = "allow"
		}
		h.metrics.EvaluationsTotal.WithLabelValues(verdict).Inc()
	}

	h.respondJSON(w, http.StatusOK, result)
}

// handleListEvaluations returns recent evaluation records, newest first.
// Accepts an optional ?limit=N query parameter.
func (h *EvaluationHandler) handleListEvaluations(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			h.respondError(w, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
		limit = n
	}

	records := h.evals.Recent(limit)
	h.respondJSON(w, http.StatusOK, map[string]interface{}{
		"evaluations": records,
		"count":       len(records),
	})
}

// handleEvaluationStatus returns the stored record for one request ID.
func (h *EvaluationHandler) handleEvaluationStatus(w http.ResponseWriter, r *http.Request) {
	requestID := r.PathValue("request_id")
	rec := h.evals.Status(requestID)
	if rec == nil {
		h.respondError(w, http.StatusNotFound, "no evaluation found for request_id "+requestID)
		return
	}
	h.respondJSON(w, http.StatusOK, rec)
}

// --- JSON helper methods ---

// respondJSON writes a JSON response with the given status code and data.
func (h *EvaluationHandler) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to encode JSON response", "error", err)
	}
}

// respondError writes a JSON error response with the given status code and message.
func (h *EvaluationHandler) respondError(w http.ResponseWriter, status int, message string) {
	h.respondJSON(w, status, map[string]string{"error": message})
}

// readJSON decodes the request body into the given value.
func (h *EvaluationHandler) readJSON(r *http.Request, v interface{}) error {
	return json.NewDecoder(r.Body).Decode(v)
}

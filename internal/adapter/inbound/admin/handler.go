// Package admin provides the JSON API for inspecting and mutating policy.
package admin

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"gopkg.in/yaml.v3"

	"github.com/actiongate/actiongate/internal/config"
	"github.com/actiongate/actiongate/internal/domain/policy"
	"github.com/actiongate/actiongate/internal/service"
)

// MutationObserver is notified after each successful policy mutation.
// The transport layer uses it to record admin mutation metrics.
type MutationObserver func(op string)

// Handler provides JSON API endpoints for policy administration.
type Handler struct {
	admin    *service.PolicyAdminService
	cfg      *config.Config
	logger   *slog.Logger
	observer MutationObserver
}

// Option configures a Handler dependency.
type Option func(*Handler)

// WithConfig sets the effective configuration served by GET /admin/api/config.
func WithConfig(cfg *config.Config) Option {
	return func(h *Handler) { h.cfg = cfg }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(h *Handler) { h.logger = l }
}

// WithMutationObserver sets the callback invoked after successful mutations.
func WithMutationObserver(fn MutationObserver) Option {
	return func(h *Handler) { h.observer = fn }
}

// NewHandler creates a Handler with the given options.
func NewHandler(admin *service.PolicyAdminService, opts ...Option) *Handler {
	h := &Handler{
		admin:  admin,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Routes returns an http.Handler with all admin API routes registered.
// The caller is responsible for wrapping it in the loopback-only guard.
func (h *Handler) Routes() http.Handler {
	mux := http.NewServeMux()

	// Full policy document.
	mux.HandleFunc("GET /admin/api/policy", h.handleGetPolicy)

	// Rule membership.
	mux.HandleFunc("PUT /admin/api/policy/channels/{channel}/resources/{resource}/allow/{principal}", h.handleSetAllow)
	mux.HandleFunc("DELETE /admin/api/policy/channels/{channel}/resources/{resource}/allow/{principal}", h.handleClearAllow)
	mux.HandleFunc("PUT /admin/api/policy/channels/{channel}/resources/{resource}/deny/{principal}", h.handleSetDeny)
	mux.HandleFunc("DELETE /admin/api/policy/channels/{channel}/resources/{resource}/deny/{principal}", h.handleClearDeny)

	// Master switch.
	mux.HandleFunc("PUT /admin/api/policy/enabled", h.handleSetEnabled)

	// Exemptions.
	mux.HandleFunc("PUT /admin/api/policy/exemptions/{resource}", h.handleAddExemption)
	mux.HandleFunc("DELETE /admin/api/policy/exemptions/{resource}", h.handleRemoveExemption)

	// Effective configuration.
	mux.HandleFunc("GET /admin/api/config", h.handleGetConfig)

	return mux
}

// policyResponse is the JSON response for GET /admin/api/policy.
type policyResponse struct {
	Enabled    bool                                    `json:"enabled"`
	Exemptions []string                                `json:"exemptions"`
	Channels   map[string]map[string]policy.RuleConfig `json:"channels"`
	Revision   string                                  `json:"revision"`
}

func (h *Handler) handleGetPolicy(w http.ResponseWriter, r *http.Request) {
	cfg, revision := h.admin.Dump(r.Context())
	h.respondJSON(w, http.StatusOK, policyResponse{
		Enabled:    cfg.Enabled,
		Exemptions: cfg.Exemptions,
		Channels:   cfg.Channels,
		Revision:   formatRevision(revision),
	})
}

func (h *Handler) handleSetAllow(w http.ResponseWriter, r *http.Request) {
	channel := h.pathParam(r, "channel")
	resource := h.pathParam(r, "resource")
	principal := h.pathParam(r, "principal")
	h.mutation(w, r, "set_allow", h.admin.SetAllow(r.Context(), channel, resource, principal))
}

func (h *Handler) handleClearAllow(w http.ResponseWriter, r *http.Request) {
	channel := h.pathParam(r, "channel")
	resource := h.pathParam(r, "resource")
	principal := h.pathParam(r, "principal")
	h.mutation(w, r, "clear_allow", h.admin.ClearAllow(r.Context(), channel, resource, principal))
}

func (h *Handler) handleSetDeny(w http.ResponseWriter, r *http.Request) {
	channel := h.pathParam(r, "channel")
	resource := h.pathParam(r, "resource")
	principal := h.pathParam(r, "principal")
	h.mutation(w, r, "set_deny", h.admin.SetDeny(r.Context(), channel, resource, principal))
}

func (h *Handler) handleClearDeny(w http.ResponseWriter, r *http.Request) {
	channel := h.pathParam(r, "channel")
	resource := h.pathParam(r, "resource")
	principal := h.pathParam(r, "principal")
	h.mutation(w, r, "clear_deny", h.admin.ClearDeny(r.Context(), channel, resource, principal))
}

// enabledRequest is the JSON body for PUT /admin/api/policy/enabled.
type enabledRequest struct {
	Enabled *bool `json:"enabled"`
}

func (h *Handler) handleSetEnabled(w http.ResponseWriter, r *http.Request) {
	var req enabledRequest
	if err := h.readJSON(r, &req); err != nil {
		h.respondError(w, http.StatusBadRequest, "invalid JSON body: "+err.Error())
		return
	}
	if req.Enabled == nil {
		h.respondError(w, http.StatusBadRequest, "enabled is required")
		return
	}
	op := "disable"
	if *req.Enabled {
		op = "enable"
	}
	h.mutation(w, r, op, h.admin.SetEnabled(r.Context(), *req.Enabled))
}

func (h *Handler) handleAddExemption(w http.ResponseWriter, r *http.Request) {
	resource := h.pathParam(r, "resource")
	h.mutation(w, r, "add_exemption", h.admin.AddExemption(r.Context(), resource))
}

func (h *Handler) handleRemoveExemption(w http.ResponseWriter, r *http.Request) {
	resource := h.pathParam(r, "resource")
	h.mutation(w, r, "remove_exemption", h.admin.RemoveExemption(r.Context(), resource))
}

// handleGetConfig serves the effective runtime configuration as YAML.
func (h *Handler) handleGetConfig(w http.ResponseWriter, r *http.Request) {
	if h.cfg == nil {
		h.respondError(w, http.StatusNotFound, "configuration not available")
		return
	}
	out, err := yaml.Marshal(h.cfg)
	if err != nil {
		h.respondError(w, http.StatusInternalServerError, "failed to render configuration")
		return
	}
	w.Header().Set("Content-Type", "application/yaml")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(out)
}

// mutation finishes a state-changing request: validation errors map to 400,
// anything else to 500, success to the updated policy document.
func (h *Handler) mutation(w http.ResponseWriter, r *http.Request, op string, err error) {
	if err != nil {
		var verr *policy.ValidationError
		if errors.As(err, &verr) {
			h.respondError(w, http.StatusBadRequest, verr.Error())
			return
		}
		h.logger.Error("policy mutation failed", "op", op, "error", err)
		h.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if h.observer != nil {
		h.observer(op)
	}
	h.handleGetPolicy(w, r)
}

// formatRevision renders a revision hash the way the dump CLI shows it.
func formatRevision(rev uint64) string {
	return fmt.Sprintf("%016x", rev)
}

// --- JSON helper methods ---

// respondJSON writes a JSON response with the given status code and data.
func (h *Handler) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to encode JSON response", "error", err)
	}
}

// respondError writes a JSON error response with the given status code and message.
func (h *Handler) respondError(w http.ResponseWriter, status int, message string) {
	h.respondJSON(w, status, map[string]string{"error": message})
}

// readJSON decodes the request body into the given value.
func (h *Handler) readJSON(r *http.Request, v interface{}) error {
	return json.NewDecoder(r.Body).Decode(v)
}

// pathParam extracts a named path parameter from the request URL.
// Uses Go 1.22+ PathValue.
func (h *Handler) pathParam(r *http.Request, name string) string {
	return r.PathValue(name)
}

package handler

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/mcpgate/mcpgate/internal/gateway"
	"github.com/mcpgate/mcpgate/internal/model"
)

// GatewayHandler exposes the backend registry: registration, health, and
// traffic stats.
type GatewayHandler struct {
	registry  *gateway.Registry
	proxy     *gateway.Proxy
	checker   *gateway.Checker
	logger    *slog.Logger
	startedAt time.Time
}

// NewGatewayHandler creates a new GatewayHandler.
func NewGatewayHandler(registry *gateway.Registry, proxy *gateway.Proxy, checker *gateway.Checker, logger *slog.Logger) *GatewayHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &GatewayHandler{
		registry:  registry,
		proxy:     proxy,
		checker:   checker,
		logger:    logger,
		startedAt: time.Now().UTC(),
	}
}

// ListRegistry returns every template with its registered instances.
// GET /api/v1/gateway/registry
func (h *GatewayHandler) ListRegistry(w http.ResponseWriter, r *http.Request) {
	templates := h.registry.Templates()
	writeJSON(w, http.StatusOK, model.ListResponse{
		Resource: templates,
		Meta:     &model.ResponseMeta{Count: len(templates)},
	})
}

// healthResponse is the gateway health summary.
type healthResponse struct {
	Status        string              `json:"status"`
	UptimeSeconds int64               `json:"uptime_seconds"`
	Requests      int64               `json:"requests"`
	HealthChecks  int64               `json:"health_checks"`
	Registry      model.RegistryStats `json:"registry"`
}

// Health returns uptime, request counts, and per-template instance counts.
// GET /api/v1/gateway/health
func (h *GatewayHandler) Health(w http.ResponseWriter, r *http.Request) {
	stats := h.registry.Stats()

	status := "ok"
	if stats.TotalInstances > 0 && stats.HealthyInstances == 0 {
		status = "degraded"
	}

	writeJSON(w, http.StatusOK, healthResponse{
		Status:        status,
		UptimeSeconds: int64(time.Since(h.startedAt).Seconds()),
		Requests:      h.proxy.Requests(),
		HealthChecks:  h.checker.Checks(),
		Registry:      stats,
	})
}

// Stats returns the registry summary alone.
// GET /api/v1/gateway/stats
func (h *GatewayHandler) Stats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.registry.Stats())
}

// Register adds a backend instance to the registry.
// POST /api/v1/gateway/register
func (h *GatewayHandler) Register(w http.ResponseWriter, r *http.Request) {
	var inst model.BackendInstance
	if err := readJSON(r, &inst); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}

	registered, err := h.registry.Register(r.Context(), inst)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Registration failed: "+err.Error())
		return
	}

	h.logger.Info("backend registered",
		"template", registered.Template,
		"id", registered.ID,
		"transport", registered.Transport)
	writeJSON(w, http.StatusCreated, registered)
}

// Deregister removes a backend instance from the registry.
// DELETE /api/v1/gateway/registry/{template}/{id}
func (h *GatewayHandler) Deregister(w http.ResponseWriter, r *http.Request) {
	template := chi.URLParam(r, "template")
	id := chi.URLParam(r, "id")

	if err := h.registry.Deregister(r.Context(), template, id); err != nil {
		if errors.Is(err, gateway.ErrInstanceNotFound) {
			writeError(w, http.StatusNotFound, "Instance not found: "+id)
			return
		}
		writeError(w, http.StatusInternalServerError, "Deregistration failed: "+err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success":  true,
		"template": template,
		"id":       id,
	})
}

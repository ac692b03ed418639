package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/mcpgate/mcpgate/internal/gateway"
)

// MCPHandler proxies MCP JSON-RPC calls to backend instances under a
// template, with failover handled by the proxy.
type MCPHandler struct {
	proxy    *gateway.Proxy
	registry *gateway.Registry
	checker  *gateway.Checker
	logger   *slog.Logger
}

// NewMCPHandler creates a new MCPHandler.
func NewMCPHandler(proxy *gateway.Proxy, registry *gateway.Registry, checker *gateway.Checker, logger *slog.Logger) *MCPHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &MCPHandler{proxy: proxy, registry: registry, checker: checker, logger: logger}
}

// ListTools forwards a tools/list call to the template's backends.
// GET /mcp/{template}/tools/list
func (h *MCPHandler) ListTools(w http.ResponseWriter, r *http.Request) {
	h.forward(w, r, gateway.MethodToolsList, nil)
}

// CallTool forwards a tools/call request. The body carries the MCP params:
// {"name": ..., "arguments": {...}}.
// POST /mcp/{template}/tools/call
func (h *MCPHandler) CallTool(w http.ResponseWriter, r *http.Request) {
	var params json.RawMessage
	if err := readJSON(r, &params); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}
	h.forward(w, r, gateway.MethodToolsCall, params)
}

// ListResources forwards a resources/list call.
// GET /mcp/{template}/resources/list
func (h *MCPHandler) ListResources(w http.ResponseWriter, r *http.Request) {
	h.forward(w, r, gateway.MethodResourcesList, nil)
}

// ReadResource forwards a resources/read call. The body carries the MCP
// params: {"uri": ...}.
// POST /mcp/{template}/resources/read
func (h *MCPHandler) ReadResource(w http.ResponseWriter, r *http.Request) {
	var params json.RawMessage
	if err := readJSON(r, &params); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}
	h.forward(w, r, gateway.MethodResourcesRead, params)
}

// TemplateHealth probes every instance under a template and reports the
// outcome per instance. Unlike the background checker, this does not update
// registry health state.
// GET /mcp/{template}/health
func (h *MCPHandler) TemplateHealth(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "template")
	tmpl, ok := h.registry.Template(name)
	if !ok {
		writeError(w, http.StatusNotFound, "Unknown template: "+name)
		return
	}

	instances := make([]map[string]interface{}, 0, len(tmpl.Instances))
	for _, inst := range tmpl.Instances {
		instances = append(instances, map[string]interface{}{
			"id":        inst.ID,
			"transport": inst.Transport,
			"healthy":   h.checker.CheckInstance(r.Context(), inst),
		})
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"template":  name,
		"instances": instances,
	})
}

// forward dispatches the call through the proxy and maps failures to HTTP
// status codes: no registered instances is 503, any backend failure is 502.
func (h *MCPHandler) forward(w http.ResponseWriter, r *http.Request, method string, params any) {
	template := chi.URLParam(r, "template")
	if _, ok := h.registry.Template(template); !ok {
		writeError(w, http.StatusNotFound, "Unknown template: "+template)
		return
	}

	result, err := h.proxy.Call(r.Context(), template, method, params)
	if err != nil {
		if errors.Is(err, gateway.ErrNoInstances) {
			writeError(w, http.StatusServiceUnavailable, "No healthy backend instances for template: "+template)
			return
		}
		h.logger.Warn("proxy call failed", "template", template, "method", method, "error", err)
		writeError(w, http.StatusBadGateway, "Backend call failed: "+err.Error())
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write(result)
}

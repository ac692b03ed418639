package handler

import (
	"net/http"

	"github.com/mcpgate/mcpgate/internal/openapi"
)

// OpenAPIHandler serves the gateway's OpenAPI document.
type OpenAPIHandler struct {
	version string
}

// NewOpenAPIHandler creates a new OpenAPIHandler.
func NewOpenAPIHandler(version string) *OpenAPIHandler {
	return &OpenAPIHandler{version: version}
}

// ServeSpec returns the OpenAPI 3.1 document describing the gateway API. The
// server URL is derived from the request.
// GET /openapi.json
func (h *OpenAPIHandler) ServeSpec(w http.ResponseWriter, r *http.Request) {
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	doc := openapi.Generate(scheme+"://"+r.Host, h.version)
	writeJSON(w, http.StatusOK, doc)
}

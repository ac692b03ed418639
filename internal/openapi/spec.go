// Package openapi generates the OpenAPI document for the gateway API,
// served at /openapi.json.
package openapi

import (
	"github.com/getkin/kin-openapi/openapi3"
)

// Generate builds the OpenAPI 3.1 document for the gateway surface.
func Generate(baseURL, version string) *openapi3.T {
	if version == "" {
		version = "dev"
	}
	doc := &openapi3.T{
		OpenAPI: "3.1.0",
		Info: &openapi3.Info{
			Title: "mcpgate API",
			Description: "Unified HTTP gateway for Model Context Protocol servers " +
				"with API-key and JWT authentication.",
			Version: version,
		},
		Servers: openapi3.Servers{{URL: baseURL}},
	}

	components := openapi3.NewComponents()
	components.Schemas = openapi3.Schemas{}
	components.SecuritySchemes = openapi3.SecuritySchemes{}
	doc.Components = &components

	// Both credential kinds travel in the Authorization header; API-key
	// tokens are recognized by their mcp_ prefix.
	doc.Components.SecuritySchemes["bearerAuth"] = &openapi3.SecuritySchemeRef{
		Value: &openapi3.SecurityScheme{
			Type:         "http",
			Scheme:       "bearer",
			BearerFormat: "JWT or mcp_ API key",
		},
	}
	doc.Security = openapi3.SecurityRequirements{{"bearerAuth": {}}}

	doc.Components.Schemas["ErrorResponse"] = errorSchema()
	doc.Components.Schemas["QueryResult"] = queryResultSchema()

	doc.Paths = openapi3.NewPaths()
	addAuthPaths(doc)
	addAPIKeyPaths(doc)
	addUserPaths(doc)
	addGatewayPaths(doc)
	addMCPPaths(doc)

	return doc
}

func errorSchema() *openapi3.SchemaRef {
	return &openapi3.SchemaRef{
		Value: &openapi3.Schema{
			Type: &openapi3.Types{"object"},
			Properties: openapi3.Schemas{
				"error": &openapi3.SchemaRef{
					Value: &openapi3.Schema{
						Type: &openapi3.Types{"object"},
						Properties: openapi3.Schemas{
							"code":    {Value: &openapi3.Schema{Type: &openapi3.Types{"integer"}, Format: "int32"}},
							"message": {Value: &openapi3.Schema{Type: &openapi3.Types{"string"}}},
						},
					},
				},
			},
		},
	}
}

func queryResultSchema() *openapi3.SchemaRef {
	return &openapi3.SchemaRef{
		Value: &openapi3.Schema{
			Type: &openapi3.Types{"object"},
			Properties: openapi3.Schemas{
				"columns":   {Value: &openapi3.Schema{Type: &openapi3.Types{"array"}, Items: &openapi3.SchemaRef{Value: &openapi3.Schema{Type: &openapi3.Types{"string"}}}}},
				"rows":      {Value: &openapi3.Schema{Type: &openapi3.Types{"array"}}},
				"row_count": {Value: &openapi3.Schema{Type: &openapi3.Types{"integer"}}},
			},
		},
	}
}

// op builds a minimal operation with standard error responses.
func op(summary string, scopes ...string) *openapi3.Operation {
	operation := openapi3.NewOperation()
	operation.Summary = summary
	operation.Responses = openapi3.NewResponses()
	operation.Responses.Set("200", jsonResponse("Success"))
	operation.Responses.Set("401", errorResponse("Not authenticated"))
	if len(scopes) > 0 {
		operation.Responses.Set("403", errorResponse("Insufficient scope"))
		operation.Security = &openapi3.SecurityRequirements{{"bearerAuth": scopes}}
	}
	return operation
}

func jsonResponse(description string) *openapi3.ResponseRef {
	return &openapi3.ResponseRef{
		Value: openapi3.NewResponse().
			WithDescription(description).
			WithJSONSchemaRef(&openapi3.SchemaRef{Value: openapi3.NewObjectSchema()}),
	}
}

func errorResponse(description string) *openapi3.ResponseRef {
	return &openapi3.ResponseRef{
		Value: openapi3.NewResponse().
			WithDescription(description).
			WithJSONSchemaRef(&openapi3.SchemaRef{Ref: "#/components/schemas/ErrorResponse"}),
	}
}

func addAuthPaths(doc *openapi3.T) {
	token := op("Exchange username and password for a JWT access token")
	token.Security = &openapi3.SecurityRequirements{} // anonymous
	doc.Paths.Set("/api/v1/auth/token", &openapi3.PathItem{Post: token})

	doc.Paths.Set("/api/v1/auth/me", &openapi3.PathItem{
		Get: op("Describe the authenticated subject"),
	})
}

func addAPIKeyPaths(doc *openapi3.T) {
	doc.Paths.Set("/api/v1/api-keys", &openapi3.PathItem{
		Get:  op("List API keys", "admin"),
		Post: op("Create an API key; the plaintext token appears only in this response", "admin"),
	})
	doc.Paths.Set("/api/v1/api-keys/{id}", &openapi3.PathItem{
		Delete: op("Revoke an API key", "admin"),
		Parameters: openapi3.Parameters{
			{Value: openapi3.NewPathParameter("id").WithSchema(openapi3.NewInt64Schema())},
		},
	})
}

func addUserPaths(doc *openapi3.T) {
	doc.Paths.Set("/api/v1/users", &openapi3.PathItem{
		Get:  op("List users", "admin"),
		Post: op("Create a user", "admin"),
	})
}

func addGatewayPaths(doc *openapi3.T) {
	doc.Paths.Set("/api/v1/gateway/registry", &openapi3.PathItem{
		Get: op("Dump the backend registry", "gateway:read"),
	})
	doc.Paths.Set("/api/v1/gateway/health", &openapi3.PathItem{
		Get: op("Gateway health and uptime", "gateway:read"),
	})
	doc.Paths.Set("/api/v1/gateway/stats", &openapi3.PathItem{
		Get: op("Gateway, registry, and proxy statistics", "gateway:read"),
	})
	doc.Paths.Set("/api/v1/gateway/register", &openapi3.PathItem{
		Post: op("Register a backend MCP server instance", "gateway:write"),
	})
	doc.Paths.Set("/api/v1/gateway/deregister/{template}/{id}", &openapi3.PathItem{
		Delete: op("Deregister a backend instance", "gateway:write"),
		Parameters: openapi3.Parameters{
			{Value: openapi3.NewPathParameter("template").WithSchema(openapi3.NewStringSchema())},
			{Value: openapi3.NewPathParameter("id").WithSchema(openapi3.NewStringSchema())},
		},
	})
}

func addMCPPaths(doc *openapi3.T) {
	templateParam := openapi3.Parameters{
		{Value: openapi3.NewPathParameter("template").WithSchema(openapi3.NewStringSchema())},
	}
	doc.Paths.Set("/mcp/{template}/tools/list", &openapi3.PathItem{
		Get: op("List tools exposed by a backend template", "tools:call"), Parameters: templateParam,
	})
	doc.Paths.Set("/mcp/{template}/tools/call", &openapi3.PathItem{
		Post: op("Call a tool on a backend template", "tools:call"), Parameters: templateParam,
	})
	doc.Paths.Set("/mcp/{template}/resources/list", &openapi3.PathItem{
		Get: op("List resources exposed by a backend template", "tools:call"), Parameters: templateParam,
	})
	doc.Paths.Set("/mcp/{template}/resources/read", &openapi3.PathItem{
		Post: op("Read a resource from a backend template", "tools:call"), Parameters: templateParam,
	})
	doc.Paths.Set("/mcp/{template}/health", &openapi3.PathItem{
		Get: op("Probe all instances of a backend template", "gateway:read"), Parameters: templateParam,
	})
}

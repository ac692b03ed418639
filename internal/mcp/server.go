// Package mcp exposes a warehouse adapter as an MCP server. Each adapter
// process wraps one Warehouse and serves the standard tool set over stdio or
// Streamable HTTP; the gateway proxies to these servers.
package mcp

import (
	"log/slog"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/mcpgate/mcpgate/internal/backend"
)

// AdapterServer wraps the mcp-go server with the warehouse tool
// registrations.
type AdapterServer struct {
	warehouse backend.Warehouse
	logger    *slog.Logger
	server    *server.MCPServer
}

// NewAdapterServer creates an AdapterServer for an already-connected
// warehouse.
func NewAdapterServer(warehouse backend.Warehouse, logger *slog.Logger) *AdapterServer {
	if logger == nil {
		logger = slog.Default()
	}
	s := &AdapterServer{
		warehouse: warehouse,
		logger:    logger,
	}

	mcpServer := server.NewMCPServer(
		"mcpgate "+warehouse.Name()+" adapter",
		"0.1.0",
		server.WithToolCapabilities(true),
	)
	s.registerTools(mcpServer)
	s.server = mcpServer
	return s
}

// Server returns the underlying mcp-go server instance.
func (s *AdapterServer) Server() *server.MCPServer {
	return s.server
}

// ServeStdio serves over stdio, for clients and gateways that spawn the
// adapter as a subprocess.
func (s *AdapterServer) ServeStdio() error {
	s.logger.Info("adapter serving stdio", "warehouse", s.warehouse.Name())
	return server.ServeStdio(s.server)
}

// ServeHTTP serves Streamable HTTP on addr, for instances registered with
// the gateway by endpoint.
func (s *AdapterServer) ServeHTTP(addr string) error {
	httpServer := server.NewStreamableHTTPServer(s.server)
	s.logger.Info("adapter serving http", "warehouse", s.warehouse.Name(), "addr", addr)
	return httpServer.Start(addr)
}

func readOnlyAnnotation() mcp.ToolAnnotation {
	return mcp.ToolAnnotation{ReadOnlyHint: boolPtr(true)}
}

func boolPtr(b bool) *bool {
	return &b
}

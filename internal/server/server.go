package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/mcpgate/mcpgate/internal/auth"
	"github.com/mcpgate/mcpgate/internal/gateway"
	"github.com/mcpgate/mcpgate/internal/handler"
	"github.com/mcpgate/mcpgate/internal/server/middleware"
	"github.com/mcpgate/mcpgate/internal/store"
)

// Config holds the HTTP server configuration.
type Config struct {
	Host            string
	Port            int
	ShutdownTimeout time.Duration
	CORSOrigins     []string
	RatePerMinute   int
	Version         string
}

// DefaultConfig returns a Config with sensible production defaults.
func DefaultConfig() Config {
	return Config{
		Host:            "0.0.0.0",
		Port:            8080,
		ShutdownTimeout: 30 * time.Second,
		CORSOrigins:     []string{"*"},
		RatePerMinute:   600,
		Version:         "dev",
	}
}

// Server is the top-level HTTP server for the gateway. It owns the Chi
// router, the credential store, the auth manager, and the backend registry.
type Server struct {
	cfg        Config
	router     chi.Router
	store      *store.Store
	manager    *auth.Manager
	registry   *gateway.Registry
	proxy      *gateway.Proxy
	checker    *gateway.Checker
	httpServer *http.Server
	logger     *slog.Logger
}

// New creates a new Server, wires up all routes and middleware, and returns
// it ready to listen. Call ListenAndServe to start accepting connections.
func New(cfg Config, s *store.Store, manager *auth.Manager, registry *gateway.Registry, proxy *gateway.Proxy, checker *gateway.Checker, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	srv := &Server{
		cfg:      cfg,
		store:    s,
		manager:  manager,
		registry: registry,
		proxy:    proxy,
		checker:  checker,
		logger:   logger,
	}
	srv.setupRouter()
	return srv
}

func (s *Server) setupRouter() {
	r := chi.NewRouter()

	// --- Global middleware ---
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger(s.logger))
	r.Use(chimw.Recoverer)
	r.Use(chimw.RealIP)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   s.cfg.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
		ExposedHeaders:   []string{"X-Request-ID"},
		AllowCredentials: true,
		MaxAge:           300,
	}))
	r.Use(chimw.Compress(5))
	if s.cfg.RatePerMinute > 0 {
		r.Use(middleware.RateLimit(s.cfg.RatePerMinute))
	}

	sys := handler.NewSystemHandler(s.store, s.manager, s.logger)
	gw := handler.NewGatewayHandler(s.registry, s.proxy, s.checker, s.logger)
	mcp := handler.NewMCPHandler(s.proxy, s.registry, s.checker, s.logger)

	// --- Health checks (no auth required) ---
	r.Get("/healthz", s.handleHealthz)
	r.Get("/readyz", s.handleReadyz)

	// --- OpenAPI document (no auth required) ---
	r.Get("/openapi.json", handler.NewOpenAPIHandler(s.cfg.Version).ServeSpec)

	// --- API routes ---
	r.Route("/api/v1", func(r chi.Router) {
		// Login is the only unauthenticated endpoint.
		r.Post("/auth/token", sys.Login)

		r.Group(func(r chi.Router) {
			r.Use(middleware.Authenticate(s.manager))

			r.Get("/auth/me", sys.Me)

			// Credential management requires the admin scope. User subjects
			// pass scope checks unconditionally.
			r.Group(func(r chi.Router) {
				r.Use(middleware.RequireScopes(auth.ScopeAdmin))

				r.Post("/api-keys", sys.CreateAPIKey)
				r.Get("/api-keys", sys.ListAPIKeys)
				r.Delete("/api-keys/{id}", sys.RevokeAPIKey)

				r.Post("/users", sys.CreateUser)
				r.Get("/users", sys.ListUsers)
			})

			// Gateway inspection.
			r.Group(func(r chi.Router) {
				r.Use(middleware.RequireScopes(auth.ScopeGatewayRead))

				r.Get("/gateway/registry", gw.ListRegistry)
				r.Get("/gateway/health", gw.Health)
				r.Get("/gateway/stats", gw.Stats)
			})

			// Gateway mutation.
			r.Group(func(r chi.Router) {
				r.Use(middleware.RequireScopes(auth.ScopeGatewayWrite))

				r.Post("/gateway/register", gw.Register)
				r.Delete("/gateway/registry/{template}/{id}", gw.Deregister)
			})
		})
	})

	// --- MCP proxy routes ---
	r.Route("/mcp/{template}", func(r chi.Router) {
		r.Use(middleware.Authenticate(s.manager))
		r.Use(middleware.RequireScopes(auth.ScopeToolsCall))

		r.Get("/tools/list", mcp.ListTools)
		r.Post("/tools/call", mcp.CallTool)
		r.Get("/resources/list", mcp.ListResources)
		r.Post("/resources/read", mcp.ReadResource)
		r.Get("/health", mcp.TemplateHealth)
	})

	s.router = r
}

// handleHealthz is a liveness probe. Returns 200 if the process is running.
func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`{"status":"ok"}`))
}

// handleReadyz is a readiness probe. Returns 200 when the credential store is
// reachable, 503 otherwise.
func (s *Server) handleReadyz(w http.ResponseWriter, r *http.Request) {
	status := "ok"
	httpStatus := http.StatusOK
	checks := map[string]string{"store": "ok"}

	if err := s.store.Ping(r.Context()); err != nil {
		checks["store"] = "error: " + err.Error()
		status = "degraded"
		httpStatus = http.StatusServiceUnavailable
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(httpStatus)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"status": status,
		"checks": checks,
	})
}

// ListenAndServe starts the HTTP server and blocks until a SIGINT or SIGTERM
// is received. It then performs a graceful shutdown, draining in-flight
// requests before returning.
func (s *Server) ListenAndServe() error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)

	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("server starting", "addr", addr)
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server listen: %w", err)
	case <-ctx.Done():
		s.logger.Info("shutdown signal received, draining connections...")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
	defer cancel()

	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}

	s.logger.Info("server stopped")
	return nil
}

// Router returns the underlying Chi router, useful for testing.
func (s *Server) Router() chi.Router {
	return s.router
}

// ServeHTTP implements http.Handler, delegating to the router.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

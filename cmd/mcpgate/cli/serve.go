package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"runtime"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/mcpgate/mcpgate/internal/auth"
	"github.com/mcpgate/mcpgate/internal/config"
	"github.com/mcpgate/mcpgate/internal/gateway"
	"github.com/mcpgate/mcpgate/internal/model"
	"github.com/mcpgate/mcpgate/internal/server"
	"github.com/mcpgate/mcpgate/internal/store"
	"github.com/mcpgate/mcpgate/internal/telemetry"
)

func newServeCmd() *cobra.Command {
	var (
		port int
		host string
		dev  bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the gateway server",
		Long:  "Start the HTTP server that authenticates callers and proxies MCP calls to registered warehouse backends.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(host, port, dev)
		},
	}

	cmd.Flags().IntVarP(&port, "port", "p", 8080, "HTTP listen port")
	cmd.Flags().StringVar(&host, "host", "0.0.0.0", "HTTP listen host")
	cmd.Flags().BoolVar(&dev, "dev", false, "Enable development mode (verbose logging, generated secret)")

	viper.BindPFlag("server.port", cmd.Flags().Lookup("port"))
	viper.BindPFlag("server.host", cmd.Flags().Lookup("host"))

	return cmd
}

func runServe(host string, port int, dev bool) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if host != "0.0.0.0" {
		cfg.Server.Host = host
	}
	if port != 8080 {
		cfg.Server.Port = port
	}

	logger := newLogger(cfg.Logging, dev)

	if cfg.Auth.SecretKey == "" {
		if !dev {
			return fmt.Errorf("auth secret key is not configured (set auth.secret_key or MCPGATE_SECRET_KEY)")
		}
		cfg.Auth.SecretKey = "mcpgate-dev-secret-change-me"
		logger.Warn("using development secret key; tokens will not survive a key change")
	}

	// State store.
	s, err := store.NewStore(resolveDataDir())
	if err != nil {
		return fmt.Errorf("init state store: %w", err)
	}
	defer s.Close()
	logger.Info("state store initialized", "path", resolveDataDir())

	manager, err := auth.NewManager(s, cfg.Auth, logger)
	if err != nil {
		return err
	}

	hasUser, err := s.HasAnyUser(context.Background())
	if err != nil {
		logger.Warn("failed to check for users", "error", err)
	}
	if !hasUser {
		logger.Warn("no user account found - run: mcpgate user create")
	}

	// Backend registry, hydrated from the store plus config declarations.
	registry := gateway.NewRegistry(s, logger)
	if err := registry.Load(context.Background()); err != nil {
		logger.Warn("failed to load registered backends", "error", err)
	}
	for _, b := range cfg.Backends {
		inst := model.BackendInstance{
			ID:        b.ID,
			Template:  b.Template,
			Transport: b.Transport,
			Endpoint:  b.Endpoint,
			Command:   b.Command,
		}
		if _, err := registry.Register(context.Background(), inst); err != nil {
			logger.Error("failed to register configured backend", "template", b.Template, "error", err)
		} else {
			logger.Info("registered configured backend", "template", b.Template, "transport", b.Transport)
		}
	}

	proxy := gateway.NewProxy(registry, 60*time.Second, 3, logger)

	healthInterval, err := time.ParseDuration(cfg.Gateway.HealthInterval)
	if err != nil || healthInterval <= 0 {
		healthInterval = 30 * time.Second
	}
	checker := gateway.NewChecker(registry, healthInterval, cfg.Gateway.MaxFailures, logger)

	checkerCtx, stopChecker := context.WithCancel(context.Background())
	defer stopChecker()
	go checker.Run(checkerCtx)

	// Telemetry heartbeat; nil tracker when disabled.
	tracker := telemetry.New(context.Background(), s, func() telemetry.Properties {
		stats := registry.Stats()
		props := telemetry.Properties{
			Version:   appVersion,
			GoVersion: runtime.Version(),
			OS:        runtime.GOOS,
			Arch:      runtime.GOARCH,
			Templates: stats.Templates,
			Backends:  stats.TotalInstances,
		}
		if users, err := s.ListUsers(context.Background()); err == nil {
			props.Users = len(users)
		}
		if keys, err := s.ListAPIKeys(context.Background()); err == nil {
			props.APIKeys = len(keys)
		}
		return props
	})
	tracker.Start()
	defer tracker.Shutdown()

	shutdownTimeout, err := time.ParseDuration(cfg.Server.ShutdownTimeout)
	if err != nil || shutdownTimeout <= 0 {
		shutdownTimeout = 30 * time.Second
	}

	srvCfg := server.Config{
		Host:            cfg.Server.Host,
		Port:            cfg.Server.Port,
		ShutdownTimeout: shutdownTimeout,
		CORSOrigins:     cfg.Server.CORS.Origins,
		RatePerMinute:   cfg.Server.RatePerMinute,
		Version:         appVersion,
	}
	srv := server.New(srvCfg, s, manager, registry, proxy, checker, logger)

	fmt.Printf("→ mcpgate %s\n", appVersion)
	fmt.Printf("→ Listening on http://%s:%d\n", cfg.Server.Host, cfg.Server.Port)
	fmt.Printf("→ OpenAPI:  http://%s:%d/openapi.json\n", cfg.Server.Host, cfg.Server.Port)
	fmt.Printf("→ Health:   http://%s:%d/healthz\n", cfg.Server.Host, cfg.Server.Port)
	fmt.Printf("→ Registered backends: %d\n", registry.Stats().TotalInstances)
	fmt.Println()

	return srv.ListenAndServe()
}

// newLogger builds the process logger from the logging config. --dev forces
// debug level.
func newLogger(cfg config.LoggingConfig, dev bool) *slog.Logger {
	level := slog.LevelInfo
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	if dev {
		level = slog.LevelDebug
	}

	opts := &slog.HandlerOptions{Level: level}
	if cfg.Format == "json" {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}

package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/contrib/instrumentation/github.com/labstack/echo/otelecho"
	"go.opentelemetry.io/otel/trace"

	"skillhub/backend/internal/api"
	"skillhub/backend/internal/auth"
	"skillhub/backend/internal/catalog"
	"skillhub/backend/internal/config"
	"skillhub/backend/internal/logging"
	"skillhub/backend/internal/mcp"
	"skillhub/backend/internal/repository"
	"skillhub/backend/internal/scheduler"
	"skillhub/backend/internal/services"
	"skillhub/backend/internal/telemetry"
	"skillhub/backend/internal/tls"
)

var (
	inMemory    bool
	catalogFile string
)

func init() {
	serveCmd.Flags().BoolVar(&inMemory, "in-memory", false, "keep all state in memory instead of Postgres")
	serveCmd.Flags().StringVar(&catalogFile, "catalog", "", "YAML package catalog loaded at startup")
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP and MCP server",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, logger, err := loadConfig()
		if err != nil {
			return err
		}
		return serve(cmd.Context(), cfg, logger)
	},
}

func openStore(ctx context.Context, cfg *config.Config, logger *logging.Logger) (repository.Repository, func(), error) {
	if inMemory {
		logger.Warn("Using in-memory store, state is lost on exit")
		return repository.NewMemoryStore(), func() {}, nil
	}

	pool, err := initDatabase(ctx, cfg, logger)
	if err != nil {
		return nil, nil, err
	}
	if err := repository.NewMigrationManager(pool, logger).RunMigrations(ctx); err != nil {
		pool.Close()
		return nil, nil, err
	}
	logger.Info("Database connected")
	return repository.NewPostgresStore(pool, logger), pool.Close, nil
}

func newLocker(ctx context.Context, cfg *config.Config, logger *logging.Logger) (services.Locker, func(), error) {
	if cfg.Lock.RedisAddr == "" {
		return services.NewKeyedMutex(), func() {}, nil
	}
	client, err := services.NewRedisClient(ctx, cfg.Lock.RedisAddr, cfg.Lock.RedisPassword, cfg.Lock.RedisDB)
	if err != nil {
		return nil, nil, err
	}
	logger.Info("Using redis locks", "addr", cfg.Lock.RedisAddr, "ttl", cfg.Lock.TTL)
	return services.NewRedisLocker(client, cfg.Lock.TTL), func() { _ = client.Close() }, nil
}

func serve(ctx context.Context, cfg *config.Config, logger *logging.Logger) error {
	if cfg.Auth.SwaggerClientID != "" && cfg.Auth.SwaggerClientID == cfg.Auth.ClientID {
		logger.Warn("Swagger client id matches the backend client id; PKCE login from /docs will fail for a web app client")
	}
	logger.Info("Starting skill hub", "version", version)

	store, closeStore, err := openStore(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("database initialization failed: %w", err)
	}
	defer closeStore()

	if catalogFile != "" {
		pkgs, err := catalog.LoadFile(catalogFile)
		if err != nil {
			return fmt.Errorf("loading catalog: %w", err)
		}
		if err := catalog.Seed(ctx, store, pkgs, logger); err != nil {
			return err
		}
	}

	var metrics *telemetry.Metrics
	if cfg.Metrics.Enabled {
		if metrics, err = telemetry.NewMetrics(); err != nil {
			return err
		}
	}

	var tracer trace.Tracer
	if cfg.Tracing.Enabled {
		tp, err := telemetry.NewTracerProvider(ctx, cfg.Tracing.ServiceName)
		if err != nil {
			return fmt.Errorf("tracing initialization failed: %w", err)
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := tp.Shutdown(shutdownCtx); err != nil {
				logger.Error("Tracer shutdown error", "error", err)
			}
		}()
		tracer = tp.Tracer("skillhub/installer")
	}

	locker, closeLocker, err := newLocker(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("lock initialization failed: %w", err)
	}
	defer closeLocker()

	canvas := services.NewHTTPCanvasClient(cfg.Canvas.URL, nil)
	generator := services.NewHTTPGeneratorClient(cfg.Generator.URL, nil)
	templates := services.NewTemplateRegistry(services.DefaultTemplates()...)

	installer := services.NewInstaller(services.InstallerDeps{
		Packages:      store,
		Installations: store,
		Materializer:  services.NewKindMaterializer(templates, canvas, generator, metrics),
		Workflows:     canvas,
		Locker:        locker,
		Metrics:       metrics,
		Logger:        logger,
		Tracer:        tracer,
	}, services.InstallerConfig{
		MaterializeTimeout: cfg.Installer.MaterializeTimeout,
	})

	logger.Info("Service layer initialized")

	authz, err := auth.New(ctx, cfg, store, logger)
	if err != nil {
		return fmt.Errorf("auth initialization failed: %w", err)
	}

	e := echo.New()
	e.HideBanner = true
	e.HTTPErrorHandler = api.ProblemErrorHandler(logger)
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())
	if cfg.Tracing.Enabled {
		e.Use(otelecho.Middleware(cfg.Tracing.ServiceName))
	}

	e.GET("/health", api.NewHandler(store, version).HandleHealth)
	if metrics != nil {
		e.GET("/metrics", echo.WrapHandler(metrics.Handler()))
	}

	e.GET("/login", echo.WrapHandler(http.HandlerFunc(authz.LoginHandler)))
	e.GET("/auth/callback", echo.WrapHandler(http.HandlerFunc(authz.CallbackHandler)))
	e.GET("/logout", echo.WrapHandler(http.HandlerFunc(authz.LogoutHandler)))

	apiGroup := e.Group("/api/v1")
	apiGroup.Use(echo.WrapMiddleware(authz.RequireAuth))
	api.RegisterHandlers(apiGroup, api.NewServer(installer, templates, logger))

	logger.Info("REST API handlers mounted")

	mcpServer := mcp.NewServer(installer, templates, version)
	mcpHandlers := http.NewServeMux()
	mcp.MountHTTPHandlers(mcpHandlers, mcpServer.GetMCPServer())
	e.Any("/mcp*", echo.WrapHandler(authz.RequireAuth(mcpHandlers)))

	logger.Info("MCP protocol handlers mounted")

	e.GET("/openapi.yaml", echo.WrapHandler(api.SpecHandler(cfg.Auth.OktaDomain)))
	e.GET("/docs", echo.WrapHandler(api.SwaggerHandler(cfg.Auth.OktaDomain, cfg.Auth.SwaggerClientID)))
	e.GET("/docs/oauth2-redirect.html", echo.WrapHandler(http.HandlerFunc(api.OAuthRedirectHandler)))

	checker, err := scheduler.NewUpdateChecker(cfg.Installer.UpdateCheckSchedule, installer, logger)
	if err != nil {
		return err
	}
	checker.Start(ctx)

	addr := ":8080"
	if cfg.TLS.Enable {
		addr = ":8443"
		generated, err := tls.EnsureCert(cfg.TLS.CertFile, cfg.TLS.KeyFile, cfg.TLS.Hostnames)
		if err != nil {
			return err
		}
		if generated {
			logger.Info("Generated self-signed certificate", "cert_file", cfg.TLS.CertFile, "hostnames", cfg.TLS.Hostnames)
		}
	}

	server := &http.Server{
		Addr:         addr,
		Handler:      e,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: cfg.Installer.MaterializeTimeout + 15*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	serverErrors := make(chan error, 1)
	go func() {
		logger.Info("Server starting", "address", addr, "tls", cfg.TLS.Enable)
		if cfg.TLS.Enable {
			serverErrors <- server.ListenAndServeTLS(cfg.TLS.CertFile, cfg.TLS.KeyFile)
			return
		}
		serverErrors <- server.ListenAndServe()
	}()

	select {
	case err := <-serverErrors:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	case <-ctx.Done():
		logger.Info("Shutdown signal received")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server shutdown error", "error", err)
		if err := server.Close(); err != nil {
			logger.Error("Server close error", "error", err)
		}
	}

	logger.Info("Server stopped gracefully")
	return nil
}

package main

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"github.com/pesio-ai/be-gov-workflow/internal/auth"
	"github.com/pesio-ai/be-gov-workflow/internal/authz"
	"github.com/pesio-ai/be-gov-workflow/internal/catalog"
	"github.com/pesio-ai/be-gov-workflow/internal/client"
	"github.com/pesio-ai/be-gov-workflow/internal/config"
	"github.com/pesio-ai/be-gov-workflow/internal/database"
	"github.com/pesio-ai/be-gov-workflow/internal/events"
	"github.com/pesio-ai/be-gov-workflow/internal/handler"
	"github.com/pesio-ai/be-gov-workflow/internal/layout"
	"github.com/pesio-ai/be-gov-workflow/internal/logger"
	"github.com/pesio-ai/be-gov-workflow/internal/middleware"
	"github.com/pesio-ai/be-gov-workflow/internal/permission"
	"github.com/pesio-ai/be-gov-workflow/internal/repository"
	"github.com/pesio-ai/be-gov-workflow/internal/service"
)

// backend is the storage the services run on.
type backend struct {
	store   repository.Store
	users   repository.UserDirectory
	layouts repository.LayoutCatalog
	perms   repository.PermissionCatalog
	writer  repository.CatalogWriter
	close   func()
}

func openBackend(ctx context.Context, cfg *config.Config, log *logger.Logger) (*backend, error) {
	if cfg.Storage.Mode == "memory" {
		mem := repository.NewMemoryStore()
		log.Warn().Msg("Using in-memory storage; data is lost on restart")
		return &backend{store: mem, users: mem, layouts: mem, perms: mem, writer: mem, close: func() {}}, nil
	}

	db, err := connectDatabase(ctx, cfg)
	if err != nil {
		return nil, err
	}
	log.Info().Msg("Database connection established")
	cat := repository.NewCatalogRepository(db)
	return &backend{
		store:   repository.NewPostgresStore(db),
		users:   cat,
		layouts: cat,
		perms:   cat,
		writer:  cat,
		close:   db.Close,
	}, nil
}

func connectDatabase(ctx context.Context, cfg *config.Config) (*database.DB, error) {
	return database.New(ctx, database.Config{
		URL:         cfg.Database.URL,
		Host:        cfg.Database.Host,
		Port:        cfg.Database.Port,
		User:        cfg.Database.User,
		Password:    cfg.Database.Password,
		Database:    cfg.Database.Database,
		SSLMode:     cfg.Database.SSLMode,
		MaxConns:    cfg.Database.MaxConns,
		MinConns:    cfg.Database.MinConns,
		MaxConnTime: cfg.Database.MaxConnTime,
		MaxIdleTime: cfg.Database.MaxIdleTime,
		HealthCheck: cfg.Database.HealthCheck,
	})
}

func newLogger(cfg *config.Config) *logger.Logger {
	return logger.New(logger.Config{
		Level:       cfg.Log.Level,
		Environment: cfg.Service.Environment,
		ServiceName: cfg.Service.Name,
		Version:     cfg.Service.Version,
	})
}

// eventSubscribers connects the optional NATS and Redis fan-outs.
func eventSubscribers(cfg *config.Config, log *logger.Logger) ([]events.Subscriber, func()) {
	var (
		subs    []events.Subscriber
		closers []func()
	)

	if cfg.NATS.URL != "" {
		nc, err := client.ConnectNATS(cfg.NATS.URL, cfg.Service.Name)
		if err != nil {
			log.Warn().Err(err).Str("url", cfg.NATS.URL).Msg("NATS unavailable, notifications disabled")
		} else {
			subs = append(subs, client.NewNotificationPublisher(client.NewNATSPublisher(nc), log.Logger))
			closers = append(closers, nc.Close)
			log.Info().Str("url", cfg.NATS.URL).Msg("Notification publisher connected")
		}
	}

	if cfg.Redis.Addr != "" {
		rdb := client.NewRedisClient(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		subs = append(subs, client.NewInboxBroadcaster(rdb, cfg.Redis.Channel, log.Logger))
		closers = append(closers, func() { _ = rdb.Close() })
		log.Info().Str("addr", cfg.Redis.Addr).Msg("Inbox broadcaster enabled")
	}

	return subs, func() {
		for _, c := range closers {
			c()
		}
	}
}

func runServe(ctx context.Context, configPath, seedPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	log := newLogger(cfg)
	log.Info().
		Str("environment", cfg.Service.Environment).
		Str("storage", cfg.Storage.Mode).
		Msg("Starting governance workflow service")

	if ctx == nil {
		ctx = context.Background()
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	be, err := openBackend(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer be.close()

	if seedPath != "" {
		if err := importFile(ctx, seedPath, be.writer, io.Discard); err != nil {
			return err
		}
		log.Info().Str("file", seedPath).Msg("Catalog seeded")
	}

	mode, err := authz.ParseMode(cfg.Authz.Mode)
	if err != nil {
		return err
	}
	authorizer, err := authz.NewAuthorizer(cfg.Authz.ModelPath, cfg.Authz.PolicyPath, mode)
	if err != nil {
		return fmt.Errorf("failed to load authorization policy: %w", err)
	}
	caps := service.NewCapabilities(authorizer, log)

	subs, closeSubs := eventSubscribers(cfg, log)
	defer closeSubs()
	bus := events.NewBus(cfg.Notify.Timeout, log, subs...)

	perms := permission.NewResolver(be.perms, cfg.Catalog.Timeout, log)
	layouts, err := layout.NewResolver(be.layouts, perms, cfg.Catalog.Timeout, log)
	if err != nil {
		return fmt.Errorf("failed to load default layouts: %w", err)
	}

	machine := service.NewApprovalStateMachine(be.store, be.users, caps, bus, log)
	svc := handler.Services{
		Machine:  machine,
		Reviews:  service.NewReviewAggregator(be.store, caps, bus, log),
		Router:   service.NewForwardingRouter(be.store, be.users, caps, bus, log),
		Index:    service.NewActionItemIndex(be.store, nil),
		Layouts:  layouts,
		Adapters: service.NewAdapterRegistry(service.DefaultAdapters(machine, layouts)...),
	}
	verifier := auth.NewVerifier(cfg.Auth.JWTSecret)

	// Setup HTTP routes
	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"healthy"}`))
	})
	handler.NewHTTPHandler(svc, log).Register(mux)

	// Apply middleware
	var h http.Handler = mux
	h = middleware.Identity(verifier, "/health")(h)
	h = middleware.RequestID(h)
	h = middleware.Logger(&log.Logger)(h)
	h = middleware.Recovery(&log.Logger)(h)
	h = middleware.CORS(cfg.Server.CORSOrigins)(h)
	h = middleware.Timeout(cfg.Server.RequestTimeout)(h)

	httpServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      h,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		log.Info().Int("port", cfg.Server.Port).Msg("Starting HTTP server")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("HTTP server failed")
			cancel()
		}
	}()

	// Start gRPC server
	grpcServer := grpc.NewServer(grpc.ChainUnaryInterceptor(
		handler.LoggingInterceptor(log.Component("grpc")),
		handler.AuthInterceptor(verifier, "/grpc.health.v1.Health/", "/grpc.reflection."),
	))
	handler.RegisterApprovalServiceServer(grpcServer, handler.NewGRPCHandler(svc, log))
	healthServer := health.NewServer()
	healthpb.RegisterHealthServer(grpcServer, healthServer)
	reflection.Register(grpcServer) // Enable reflection for debugging

	grpcListener, err := net.Listen("tcp", fmt.Sprintf(":%d", cfg.Server.GRPCPort))
	if err != nil {
		return fmt.Errorf("failed to create gRPC listener: %w", err)
	}

	go func() {
		log.Info().Int("port", cfg.Server.GRPCPort).Msg("Starting gRPC server")
		if err := grpcServer.Serve(grpcListener); err != nil {
			log.Error().Err(err).Msg("gRPC server failed")
			cancel()
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-quit:
	case <-ctx.Done():
	}

	log.Info().Msg("Shutting down server...")
	healthServer.Shutdown()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown failed")
	}

	// Stop gRPC server gracefully
	grpcServer.GracefulStop()

	log.Info().Msg("Server stopped")
	return nil
}

func runMigrate(ctx context.Context, configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	log := newLogger(cfg)
	if cfg.Storage.Mode != "postgres" {
		return fmt.Errorf("migrate requires storage.mode=postgres, got %q", cfg.Storage.Mode)
	}

	db, err := connectDatabase(ctx, cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	if err := repository.Migrate(ctx, db); err != nil {
		return err
	}
	log.Info().Msg("Schema applied")
	return nil
}

func runCatalogImport(ctx context.Context, configPath, path string, out io.Writer) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	log := newLogger(cfg)
	if cfg.Storage.Mode == "memory" {
		log.Warn().Msg("Importing into in-memory storage; nothing will persist")
	}

	be, err := openBackend(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer be.close()
	return importFile(ctx, path, be.writer, out)
}

func importFile(ctx context.Context, path string, w repository.CatalogWriter, out io.Writer) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open catalog: %w", err)
	}
	defer f.Close()

	res, err := catalog.Import(ctx, f, w)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "imported %d layouts, %d permissions, %d users\n", res.Layouts, res.Permissions, res.Users)
	return nil
}

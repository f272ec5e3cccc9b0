package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/platinummonkey/opsdesk/pkg/api"
	"github.com/platinummonkey/opsdesk/pkg/config"
	"github.com/platinummonkey/opsdesk/pkg/observability"
	"github.com/platinummonkey/opsdesk/pkg/storage/postgres"
)

var (
	migrate = flag.Bool("migrate", false, "Apply the database schema and exit")
	envFile = flag.String("env-file", ".env", "Optional .env file to load before reading the environment")
)

func main() {
	flag.Parse()

	if err := config.LoadEnvFiles(*envFile); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load environment: %v\n", err)
		os.Exit(1)
	}
	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger := observability.NewLogger(cfg.Observability.LogLevel, os.Stdout)

	if *migrate {
		if err := runMigrate(cfg, logger); err != nil {
			logger.WithError(err).Error("Migration failed")
			os.Exit(1)
		}
		return
	}

	if err := run(cfg, logger); err != nil {
		logger.WithError(err).Error("Server exited with error")
		os.Exit(1)
	}
}

func runMigrate(cfg *config.Config, logger *observability.Logger) error {
	db, err := postgres.Open(connectionConfig(cfg.Database))
	if err != nil {
		return err
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()
	if err := postgres.Migrate(ctx, db); err != nil {
		return err
	}
	logger.Info("Database schema applied")
	return nil
}

func run(cfg *config.Config, logger *observability.Logger) error {
	ctx, cancel := context.WithCancel(observability.WithLogger(context.Background(), logger))
	defer cancel()

	otelProviders, err := observability.InitOTel(ctx, observability.OTelConfig{
		Enabled:        cfg.Observability.OTelEnabled,
		Endpoint:       cfg.Observability.OTelEndpoint,
		ServiceName:    cfg.Observability.OTelServiceName,
		ServiceVersion: cfg.Observability.OTelServiceVersion,
		Insecure:       cfg.Observability.OTelInsecure,
	}, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize OpenTelemetry: %w", err)
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := observability.NewMetrics(registry)

	app, err := wire(ctx, cfg, logger, metrics)
	if err != nil {
		return err
	}
	defer app.close()

	server := &http.Server{
		Addr:         net.JoinHostPort(cfg.Server.Host, cfg.Server.Port),
		Handler:      api.NewServer(app.deps),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
		BaseContext:  func(net.Listener) context.Context { return ctx },
	}

	opsMux := http.NewServeMux()
	observability.RegisterHealthRoutes(opsMux, app.deps.Health)
	if cfg.Observability.MetricsEnabled {
		observability.RegisterMetricsEndpoint(opsMux, registry)
	}
	opsServer := &http.Server{
		Addr:        net.JoinHostPort(cfg.Server.Host, cfg.Server.HealthPort),
		Handler:     opsMux,
		ReadTimeout: 5 * time.Second,
	}

	app.start(ctx)

	serveErr := make(chan error, 2)
	for _, srv := range []*http.Server{server, opsServer} {
		go func() {
			logger.WithField("addr", srv.Addr).Info("HTTP server listening")
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				serveErr <- fmt.Errorf("server on %s failed: %w", srv.Addr, err)
			}
		}()
	}

	shutdown := observability.NewShutdownManager(logger, cfg.Server.ShutdownTimeout, server, opsServer)
	shutdown.RegisterShutdownFunc(func(context.Context) error {
		cancel()
		app.wait()
		return nil
	})
	shutdown.RegisterShutdownFunc(func(ctx context.Context) error {
		return observability.ShutdownOTel(ctx, otelProviders, logger)
	})

	waitCtx, stopWaiting := context.WithCancel(context.Background())
	defer stopWaiting()
	go func() {
		if err := <-serveErr; err != nil {
			logger.WithError(err).Error("HTTP server stopped unexpectedly")
			stopWaiting()
		}
	}()

	return shutdown.WaitForShutdown(waitCtx)
}

func connectionConfig(db config.DatabaseConfig) postgres.ConnectionConfig {
	return postgres.ConnectionConfig{
		URL:         db.URL,
		MaxConns:    db.MaxOpenConns,
		MinConns:    db.MaxIdleConns,
		Timeout:     db.Timeout,
		MaxLifetime: db.ConnMaxLifetime,
	}
}

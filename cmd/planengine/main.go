package main

import (
	"context"
	"errors"
	"log"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/robfig/cron/v3"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/civichub/planengine/pkg/api"
	"github.com/civichub/planengine/pkg/async"
	"github.com/civichub/planengine/pkg/audit"
	"github.com/civichub/planengine/pkg/config"
	"github.com/civichub/planengine/pkg/observability"
	"github.com/civichub/planengine/pkg/plans"
	"github.com/civichub/planengine/pkg/storage"
	"github.com/civichub/planengine/pkg/webhooks"
)

// version is set at build time with -ldflags "-X main.version=..."
var version = "dev"

const maintenanceInterval = 30 * time.Second

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logger := observability.NewLogger(cfg.Observability.LogLevel, os.Stdout).
		WithField("service", cfg.Observability.OTelServiceName).
		WithField("version", version)

	if err := run(cfg, logger); err != nil {
		logger.WithError(err).Error("planengine exited with error")
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *observability.Logger) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := observability.NewMetrics(registry)

	otelProviders, err := observability.InitOTel(ctx, observability.OTelConfig{
		Enabled:        cfg.Observability.OTelEnabled,
		Endpoint:       cfg.Observability.OTelEndpoint,
		ServiceName:    cfg.Observability.OTelServiceName,
		ServiceVersion: cfg.Observability.OTelServiceVersion,
		Insecure:       cfg.Observability.OTelInsecure,
		SampleRatio:    cfg.Observability.OTelSampleRatio,
	}, logger)
	if err != nil {
		return err
	}

	backend, err := storage.Open(ctx, cfg.Storage, logger, metrics)
	if err != nil {
		return err
	}

	notifier, err := openNotifier(cfg.Webhooks, logger, metrics)
	if err != nil {
		backend.Close()
		return err
	}
	var extraSinks []audit.Logger
	if notifier != nil {
		extraSinks = append(extraSinks, notifier)
	}

	trail, err := openAuditTrail(ctx, cfg.Audit, cfg.Storage.PostgresMigrate, backend, logger, metrics, extraSinks...)
	if err != nil {
		backend.Close()
		return err
	}

	opts := plans.Options{
		Catalog:            backend.Catalog,
		Subscriptions:      backend.Subscriptions,
		Usage:              backend.Usage,
		Audit:              trail.logger,
		Logger:             logger,
		Metrics:            metrics,
		CacheTTL:           cfg.Engine.CacheTTL,
		EnforceCouponQuota: cfg.Engine.EnforceCouponQuota,
		UpgradeAttempts:    cfg.Engine.UpgradeAttempts,
	}
	if backend.Locker != nil {
		opts.Locker = backend.Locker
	}
	engine, err := plans.NewEngine(opts)
	if err != nil {
		trail.logger.Close()
		backend.Close()
		return err
	}

	// Fail fast on a catalog without the default tier
	if _, err := engine.Hierarchy(ctx); err != nil {
		trail.logger.Close()
		backend.Close()
		return err
	}

	backend.StartMaintenance(ctx, maintenanceInterval, metrics)

	if cfg.Storage.WatchCatalog && backend.CatalogFile != nil {
		async.SafeGo(ctx, logger, 0, "catalog watcher", func(ctx context.Context) error {
			return backend.WatchCatalog(ctx, func() {
				engine.Invalidate()
				trail.catalogReloaded(ctx, cfg.Storage.CatalogFile)
			})
		})
	}

	scheduler := cron.New()
	if cfg.Engine.CatalogRefreshSchedule != "" {
		_, err := scheduler.AddFunc(cfg.Engine.CatalogRefreshSchedule, func() {
			defer observability.RecoverPanic(logger, "catalog refresh")
			engine.Invalidate()
			if _, err := engine.Hierarchy(ctx); err != nil {
				logger.WithError(err).Warn("Catalog refresh failed, serving last good catalog")
				return
			}
			logger.Debug("Catalog cache refreshed")
		})
		if err != nil {
			trail.logger.Close()
			backend.Close()
			return err
		}
		logger.Infof("Catalog refresh schedule: %s", cfg.Engine.CatalogRefreshSchedule)
	}
	if err := trail.scheduleCleanup(ctx, scheduler, cfg.Audit, logger); err != nil {
		trail.logger.Close()
		backend.Close()
		return err
	}
	scheduler.Start()

	var retries *webhooks.RetryWorker
	if notifier != nil {
		retries = webhooks.NewRetryWorker(notifier, logger.WithField("component", "webhooks"))
		retries.Start(ctx, cfg.Webhooks.RetryInterval)
	}

	var serverOpts []api.ServerOption
	if searcher := trail.searcher(); searcher != nil {
		serverOpts = append(serverOpts, api.WithAuditHistory(searcher))
	}
	if notifier != nil && cfg.Webhooks.API {
		serverOpts = append(serverOpts, api.WithWebhooks(notifier))
	}
	handler := api.NewServer(engine, logger, metrics, serverOpts...)
	if cfg.Observability.OTelEnabled {
		handler = otelhttp.NewHandler(handler, "planengine")
	}

	server := &http.Server{
		Addr:         net.JoinHostPort(cfg.Server.Host, cfg.Server.Port),
		Handler:      handler,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	healthMux := http.NewServeMux()
	checker := observability.NewHealthChecker(version)
	if backend.Postgres != nil {
		checker.WithDatabase(backend.Postgres.Primary())
	}
	checker.WithRedis(backend.Redis)
	if trail.bucket != nil {
		checker.AddCheck("audit_archive", false, trail.bucket.HealthCheck)
	}
	observability.RegisterHealthRoutes(healthMux, checker)
	if cfg.Observability.MetricsEnabled {
		observability.RegisterMetricsEndpoint(healthMux, registry)
	}
	healthServer := &http.Server{
		Addr:              net.JoinHostPort(cfg.Server.Host, cfg.Server.HealthPort),
		Handler:           healthMux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	shutdown := observability.NewShutdownManager(logger, cfg.Server.ShutdownTimeout, server, healthServer)
	shutdown.RegisterShutdownFunc("scheduler", func(ctx context.Context) error {
		stopped := scheduler.Stop()
		select {
		case <-stopped.Done():
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	})
	shutdown.RegisterShutdownFunc("background", func(context.Context) error {
		if retries != nil {
			retries.Stop()
		}
		cancel()
		return nil
	})
	shutdown.RegisterShutdownFunc("audit", func(context.Context) error {
		return trail.logger.Close()
	})
	shutdown.RegisterShutdownFunc("storage", func(context.Context) error {
		return backend.Close()
	})
	shutdown.RegisterShutdownFunc("otel", func(ctx context.Context) error {
		return observability.ShutdownOTel(ctx, otelProviders, logger)
	})

	serveErr := make(chan error, 2)
	for _, srv := range []*http.Server{server, healthServer} {
		go func(srv *http.Server) {
			logger.Infof("Listening on %s", srv.Addr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				serveErr <- err
			}
		}(srv)
	}

	shutdownCtx, stopWaiting := context.WithCancel(context.Background())
	defer stopWaiting()
	go func() {
		if err := <-serveErr; err != nil {
			logger.WithError(err).Error("HTTP server failed")
			stopWaiting()
		}
	}()

	return shutdown.WaitForShutdown(shutdownCtx)
}

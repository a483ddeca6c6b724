// Package observability provides structured logging, Prometheus metrics,
// OpenTelemetry tracing, health probes and graceful shutdown for the plan engine.
//
// # Structured Logging
//
//	logger := observability.NewLogger(observability.InfoLevel, os.Stdout)
//	logger.WithTenant(42).Warnf("unrecognized tier %q", raw)
//
// Request-scoped loggers carry the request and tenant IDs:
//
//	ctx = observability.WithRequestID(ctx, id)
//	observability.FromContext(ctx).Info("upgrade committed")
//
// # Prometheus Metrics
//
//	registry := prometheus.NewRegistry()
//	metrics := observability.NewMetrics(registry)
//	metrics.QuotaChecksTotal.WithLabelValues("create_offer", "allowed").Inc()
//
// # Tracing
//
//	ctx, span := observability.StartSpan(ctx, "plans.UpgradePlan", tenantID)
//	defer func() { observability.EndSpan(span, err) }()
//
// # Health Checks
//
//	checker := observability.NewHealthChecker(version).WithDatabase(db).WithRedis(rdb)
//	observability.RegisterHealthRoutes(mux, checker)
package observability

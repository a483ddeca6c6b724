package observability

import (
	"database/sql"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds every Prometheus collector the service exports. A nil
// *Metrics is accepted by the Observe and Record helpers.
type Metrics struct {
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	StoreOperationsTotal   *prometheus.CounterVec
	StoreOperationDuration *prometheus.HistogramVec

	CacheHitsTotal   *prometheus.CounterVec
	CacheMissesTotal *prometheus.CounterVec

	DBConnectionsActive prometheus.Gauge
	DBConnectionsIdle   prometheus.Gauge
	DBConnectionsWait   prometheus.Gauge

	TierNormalizationWarnings *prometheus.CounterVec
	HierarchyFallbacksTotal   prometheus.Counter
	QuotaChecksTotal          *prometheus.CounterVec
	ProrationsTotal           *prometheus.CounterVec
	UpgradesTotal             *prometheus.CounterVec
	UpgradeConflictsTotal     prometheus.Counter

	AuditEventsTotal *prometheus.CounterVec

	WebhookDeliveriesTotal *prometheus.CounterVec
}

const namespace = "planengine"

// storeBuckets span 1ms to 1s.
var storeBuckets = []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1}

// NewMetrics creates every collector and registers it on registry.
func NewMetrics(registry *prometheus.Registry) *Metrics {
	f := promauto.With(registry)
	counter := func(name, help string) prometheus.Counter {
		return f.NewCounter(prometheus.CounterOpts{Namespace: namespace, Name: name, Help: help})
	}
	counterVec := func(name, help string, labels ...string) *prometheus.CounterVec {
		return f.NewCounterVec(prometheus.CounterOpts{Namespace: namespace, Name: name, Help: help}, labels)
	}
	gauge := func(name, help string) prometheus.Gauge {
		return f.NewGauge(prometheus.GaugeOpts{Namespace: namespace, Name: name, Help: help})
	}
	histogramVec := func(name, help string, buckets []float64, labels ...string) *prometheus.HistogramVec {
		return f.NewHistogramVec(prometheus.HistogramOpts{Namespace: namespace, Name: name, Help: help, Buckets: buckets}, labels)
	}

	return &Metrics{
		HTTPRequestsTotal:   counterVec("http_requests_total", "HTTP requests by route template and status", "method", "route", "status"),
		HTTPRequestDuration: histogramVec("http_request_duration_seconds", "HTTP request latency", prometheus.DefBuckets, "method", "route"),

		StoreOperationsTotal:   counterVec("store_operations_total", "Store calls by operation and result", "operation", "status"),
		StoreOperationDuration: histogramVec("store_operation_duration_seconds", "Store call latency", storeBuckets, "operation"),

		CacheHitsTotal:   counterVec("cache_hits_total", "Cache lookups answered from memory", "cache"),
		CacheMissesTotal: counterVec("cache_misses_total", "Cache lookups that went to the store", "cache"),

		DBConnectionsActive: gauge("db_connections_active", "Primary pool connections in use"),
		DBConnectionsIdle:   gauge("db_connections_idle", "Primary pool idle connections"),
		DBConnectionsWait:   gauge("db_connections_wait_count", "Connections the primary pool has waited for"),

		TierNormalizationWarnings: counterVec("tier_normalization_warnings_total", "Tier values that were coerced to the default tier", "reason"),
		HierarchyFallbacksTotal:   counter("hierarchy_fallbacks_total", "Hierarchy reads served from the last good order after a catalog failure"),
		QuotaChecksTotal:          counterVec("quota_checks_total", "Quota checks by action and result", "action", "result"),
		ProrationsTotal:           counterVec("prorations_total", "Proration calculations by status", "status"),
		UpgradesTotal:             counterVec("upgrades_total", "Committed plan upgrades", "from", "to"),
		UpgradeConflictsTotal:     counter("upgrade_conflicts_total", "Upgrade attempts retried after a concurrent writer won"),

		AuditEventsTotal:       counterVec("audit_events_total", "Audit events by outcome: written, failed or dropped", "event_type", "outcome"),
		WebhookDeliveriesTotal: counterVec("webhook_deliveries_total", "Webhook delivery attempts by outcome: success, retrying or failed", "event_type", "outcome"),
	}
}

// ObserveStoreOperation records the outcome and latency of one store call
func (m *Metrics) ObserveStoreOperation(operation string, start time.Time, err error) {
	if m == nil {
		return
	}
	status := "success"
	if err != nil {
		status = "error"
	}
	m.StoreOperationsTotal.WithLabelValues(operation, status).Inc()
	m.StoreOperationDuration.WithLabelValues(operation).Observe(time.Since(start).Seconds())
}

// RecordDBStats copies pool statistics into the database gauges
func (m *Metrics) RecordDBStats(stats sql.DBStats) {
	if m == nil {
		return
	}
	m.DBConnectionsActive.Set(float64(stats.InUse))
	m.DBConnectionsIdle.Set(float64(stats.Idle))
	m.DBConnectionsWait.Set(float64(stats.WaitCount))
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

// routeTemplate labels a request by its mux path template so tenant IDs do
// not become label values.
func routeTemplate(r *http.Request) string {
	if route := mux.CurrentRoute(r); route != nil {
		if tmpl, err := route.GetPathTemplate(); err == nil {
			return tmpl
		}
	}
	return "unmatched"
}

// HTTPMetricsMiddleware counts and times requests. Install it with
// Router.Use so the matched route is known.
func HTTPMetricsMiddleware(metrics *Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			began := time.Now()
			sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(sw, r)

			route := routeTemplate(r)
			metrics.HTTPRequestsTotal.WithLabelValues(r.Method, route, strconv.Itoa(sw.status)).Inc()
			metrics.HTTPRequestDuration.WithLabelValues(r.Method, route).Observe(time.Since(began).Seconds())
		})
	}
}

// RegisterMetricsEndpoint serves registry at /metrics
func RegisterMetricsEndpoint(mux *http.ServeMux, registry *prometheus.Registry) {
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
}

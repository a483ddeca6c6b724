package observability

import (
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-redis/redis/v8"
	"golang.org/x/sync/errgroup"
)

const (
	StatusHealthy   = "healthy"
	StatusDegraded  = "degraded"
	StatusUnhealthy = "unhealthy"
)

// CheckFunc probes one dependency, returning nil when it is usable
type CheckFunc func(ctx context.Context) error

type dependency struct {
	name     string
	check    CheckFunc
	critical bool
}

// HealthChecker provides health check functionality
type HealthChecker struct {
	version      string
	dependencies []dependency
}

// NewHealthChecker creates a health checker for the given version string
func NewHealthChecker(version string) *HealthChecker {
	return &HealthChecker{version: version}
}

// AddCheck registers a dependency probe. A failing critical probe makes the
// service unhealthy, a failing optional one only degrades it.
func (h *HealthChecker) AddCheck(name string, critical bool, check CheckFunc) *HealthChecker {
	h.dependencies = append(h.dependencies, dependency{name: name, check: check, critical: critical})
	return h
}

// WithDatabase registers the Postgres primary as a critical dependency
func (h *HealthChecker) WithDatabase(db *sql.DB) *HealthChecker {
	if db == nil {
		return h
	}
	return h.AddCheck("database", true, func(ctx context.Context) error {
		var one int
		return db.QueryRowContext(ctx, "SELECT 1").Scan(&one)
	})
}

// WithRedis registers Redis as an optional dependency
func (h *HealthChecker) WithRedis(client *redis.Client) *HealthChecker {
	if client == nil {
		return h
	}
	return h.AddCheck("redis", false, func(ctx context.Context) error {
		return client.Ping(ctx).Err()
	})
}

// HealthStatus represents the overall health status
type HealthStatus struct {
	Status       string                      `json:"status"`
	Timestamp    time.Time                   `json:"timestamp"`
	Version      string                      `json:"version,omitempty"`
	Dependencies map[string]DependencyStatus `json:"dependencies,omitempty"`
}

// DependencyStatus represents the health of a single dependency
type DependencyStatus struct {
	Status    string    `json:"status"`
	Message   string    `json:"message,omitempty"`
	LatencyMS int64     `json:"latency_ms"`
	Timestamp time.Time `json:"timestamp"`
}

func writeHealth(w http.ResponseWriter, code int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(body)
}

// Liveness answers 200 for as long as the process can serve HTTP.
func (h *HealthChecker) Liveness(w http.ResponseWriter, _ *http.Request) {
	writeHealth(w, http.StatusOK, HealthStatus{Status: StatusHealthy, Timestamp: time.Now(), Version: h.version})
}

// Readiness runs every probe and answers 503 when a critical one fails.
func (h *HealthChecker) Readiness(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), readinessTimeout)
	defer cancel()

	status := h.Check(ctx)
	code := http.StatusOK
	if status.Status == StatusUnhealthy {
		code = http.StatusServiceUnavailable
	}
	writeHealth(w, code, status)
}

const readinessTimeout = 5 * time.Second

// severity orders statuses so the overall result is the worst one seen.
var severity = map[string]int{StatusHealthy: 0, StatusDegraded: 1, StatusUnhealthy: 2}

// Check runs the probes concurrently and folds their results.
func (h *HealthChecker) Check(ctx context.Context) HealthStatus {
	results := make([]DependencyStatus, len(h.dependencies))

	var g errgroup.Group
	for i, dep := range h.dependencies {
		g.Go(func() error {
			began := time.Now()
			err := dep.check(ctx)
			res := DependencyStatus{Status: StatusHealthy, LatencyMS: time.Since(began).Milliseconds(), Timestamp: time.Now()}
			if err != nil {
				res.Message = err.Error()
				res.Status = StatusDegraded
				if dep.critical {
					res.Status = StatusUnhealthy
				}
			}
			results[i] = res
			return nil
		})
	}
	_ = g.Wait()

	status := HealthStatus{
		Status:       StatusHealthy,
		Timestamp:    time.Now(),
		Version:      h.version,
		Dependencies: make(map[string]DependencyStatus, len(results)),
	}
	for i, res := range results {
		status.Dependencies[h.dependencies[i].name] = res
		if severity[res.Status] > severity[status.Status] {
			status.Status = res.Status
		}
	}
	return status
}

// RegisterHealthRoutes mounts /health, /health/live and /health/ready.
func RegisterHealthRoutes(mux *http.ServeMux, checker *HealthChecker) {
	mux.HandleFunc("/health", checker.Readiness)
	mux.HandleFunc("/health/live", checker.Liveness)
	mux.HandleFunc("/health/ready", checker.Readiness)
}

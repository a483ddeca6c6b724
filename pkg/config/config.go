package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/civichub/planengine/pkg/audit"
	"github.com/civichub/planengine/pkg/observability"
)

// Config holds all application configuration
type Config struct {
	Server        ServerConfig
	Storage       StorageConfig
	Engine        EngineConfig
	Audit         AuditConfig
	Webhooks      WebhookConfig
	Observability ObservabilityConfig
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host            string
	Port            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration

	// Health/metrics server (separate port for k8s probes)
	HealthPort string
}

// StorageConfig selects where the catalog, subscriptions and usage counts come from
type StorageConfig struct {
	PostgresURL         string
	PostgresReplicaURLs string
	PostgresMaxConns    int
	PostgresMinConns    int
	PostgresTimeout     time.Duration
	// PostgresMigrate applies the schema on startup
	PostgresMigrate bool

	// RedisURL enables the cross-instance upgrade lock when set
	RedisURL     string
	RedisLockTTL time.Duration

	// CatalogFile serves the plan catalog from YAML instead of Postgres
	CatalogFile  string
	WatchCatalog bool
}

// EngineConfig holds plan engine behaviour switches
type EngineConfig struct {
	CacheTTL           time.Duration
	EnforceCouponQuota bool
	UpgradeAttempts    int
	// CatalogRefreshSchedule is a cron spec for dropping cached plan configs,
	// so catalog versions published elsewhere are picked up. Empty disables it.
	CatalogRefreshSchedule string
}

// AuditConfig controls the plan-change audit trail. With neither Dir nor Database set, events are discarded.
type AuditConfig struct {
	// Dir receives rotated JSON-lines audit files
	Dir         string
	MaxFileSize int64
	MaxFiles    int
	// Database stores events in plan_audit_events and enables the history endpoints
	Database bool

	Workers   int
	QueueSize int

	// RetentionDays bounds how long database events are kept; 0 keeps them forever
	RetentionDays   int
	CleanupSchedule string

	// Archive copies expired events to S3 before cleanup removes them
	Archive ArchiveConfig
}

// ArchiveConfig locates the S3 (or MinIO) bucket for expired audit events
type ArchiveConfig struct {
	Bucket       string
	Prefix       string
	Region       string
	Endpoint     string
	AccessKey    string
	SecretKey    string
	UsePathStyle bool
}

// Enabled reports whether expired events are archived
func (a ArchiveConfig) Enabled() bool {
	return a.Bucket != ""
}

// Enabled reports whether any audit sink is configured
func (a AuditConfig) Enabled() bool {
	return a.Dir != "" || a.Database
}

// WebhookConfig configures outbound plan-change notifications
type WebhookConfig struct {
	// URLs are registered at startup, all sharing Secret, Events and Format
	URLs   []string
	Secret string
	Events []string
	Format string

	Timeout       time.Duration
	MaxAttempts   int
	RetryInterval time.Duration

	// API serves /api/v1/webhooks for managing endpoints at runtime
	API bool
}

// Enabled reports whether notifications can be sent
func (w WebhookConfig) Enabled() bool {
	return len(w.URLs) > 0 || w.API
}

// ObservabilityConfig holds observability settings
type ObservabilityConfig struct {
	LogLevel observability.LogLevel

	MetricsEnabled bool

	OTelEnabled        bool
	OTelEndpoint       string
	OTelServiceName    string
	OTelServiceVersion string
	OTelInsecure       bool
	OTelSampleRatio    float64
}

// LoadConfig loads configuration from PLANENGINE_* environment variables
func LoadConfig() (*Config, error) {
	cfg := &Config{
		Server:        loadServerConfig(),
		Storage:       loadStorageConfig(),
		Engine:        loadEngineConfig(),
		Audit:         loadAuditConfig(),
		Webhooks:      loadWebhookConfig(),
		Observability: loadObservabilityConfig(),
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

func loadServerConfig() ServerConfig {
	return ServerConfig{
		Host:            getEnv("PLANENGINE_HOST", "0.0.0.0"),
		Port:            getEnv("PLANENGINE_PORT", "8080"),
		ReadTimeout:     getEnvDuration("PLANENGINE_READ_TIMEOUT", 15*time.Second),
		WriteTimeout:    getEnvDuration("PLANENGINE_WRITE_TIMEOUT", 15*time.Second),
		IdleTimeout:     getEnvDuration("PLANENGINE_IDLE_TIMEOUT", 60*time.Second),
		ShutdownTimeout: getEnvDuration("PLANENGINE_SHUTDOWN_TIMEOUT", 30*time.Second),
		HealthPort:      getEnv("PLANENGINE_HEALTH_PORT", "9090"),
	}
}

func loadStorageConfig() StorageConfig {
	return StorageConfig{
		PostgresURL:         getEnv("PLANENGINE_POSTGRES_URL", ""),
		PostgresReplicaURLs: getEnv("PLANENGINE_POSTGRES_REPLICA_URLS", ""),
		PostgresMaxConns:    getEnvInt("PLANENGINE_POSTGRES_MAX_CONNS", 20),
		PostgresMinConns:    getEnvInt("PLANENGINE_POSTGRES_MIN_CONNS", 2),
		PostgresTimeout:     getEnvDuration("PLANENGINE_POSTGRES_TIMEOUT", 5*time.Second),
		PostgresMigrate:     getEnvBool("PLANENGINE_POSTGRES_MIGRATE", false),
		RedisURL:            getEnv("PLANENGINE_REDIS_URL", ""),
		RedisLockTTL:        getEnvDuration("PLANENGINE_REDIS_LOCK_TTL", 10*time.Second),
		CatalogFile:         getEnv("PLANENGINE_CATALOG_FILE", ""),
		WatchCatalog:        getEnvBool("PLANENGINE_CATALOG_WATCH", true),
	}
}

func loadEngineConfig() EngineConfig {
	return EngineConfig{
		CacheTTL:           getEnvDuration("PLANENGINE_CACHE_TTL", 5*time.Minute),
		EnforceCouponQuota: getEnvBool("PLANENGINE_ENFORCE_COUPON_QUOTA", false),
		UpgradeAttempts:    getEnvInt("PLANENGINE_UPGRADE_RETRIES", 3),

		CatalogRefreshSchedule: getEnv("PLANENGINE_CATALOG_REFRESH_SCHEDULE", "@every 1m"),
	}
}

func loadAuditConfig() AuditConfig {
	return AuditConfig{
		Dir:             getEnv("PLANENGINE_AUDIT_DIR", ""),
		MaxFileSize:     int64(getEnvInt("PLANENGINE_AUDIT_MAX_FILE_SIZE", 100*1024*1024)),
		MaxFiles:        getEnvInt("PLANENGINE_AUDIT_MAX_FILES", 10),
		Database:        getEnvBool("PLANENGINE_AUDIT_DATABASE", false),
		Workers:         getEnvInt("PLANENGINE_AUDIT_WORKERS", 2),
		QueueSize:       getEnvInt("PLANENGINE_AUDIT_QUEUE_SIZE", 256),
		RetentionDays:   getEnvInt("PLANENGINE_AUDIT_RETENTION_DAYS", 0),
		CleanupSchedule: getEnv("PLANENGINE_AUDIT_CLEANUP_SCHEDULE", "0 3 * * *"),
		Archive: ArchiveConfig{
			Bucket:       getEnv("PLANENGINE_AUDIT_ARCHIVE_BUCKET", ""),
			Prefix:       getEnv("PLANENGINE_AUDIT_ARCHIVE_PREFIX", "plan-audit"),
			Region:       getEnv("PLANENGINE_AUDIT_ARCHIVE_REGION", "us-east-1"),
			Endpoint:     getEnv("PLANENGINE_AUDIT_ARCHIVE_ENDPOINT", ""),
			AccessKey:    getEnv("PLANENGINE_AUDIT_ARCHIVE_ACCESS_KEY", ""),
			SecretKey:    getEnv("PLANENGINE_AUDIT_ARCHIVE_SECRET_KEY", ""),
			UsePathStyle: getEnvBool("PLANENGINE_AUDIT_ARCHIVE_PATH_STYLE", false),
		},
	}
}

func loadWebhookConfig() WebhookConfig {
	return WebhookConfig{
		URLs:          getEnvList("PLANENGINE_WEBHOOK_URLS", nil),
		Secret:        getEnv("PLANENGINE_WEBHOOK_SECRET", ""),
		Events:        getEnvList("PLANENGINE_WEBHOOK_EVENTS", []string{string(audit.EventTypePlanUpgraded)}),
		Format:        getEnv("PLANENGINE_WEBHOOK_FORMAT", "json"),
		Timeout:       getEnvDuration("PLANENGINE_WEBHOOK_TIMEOUT", 10*time.Second),
		MaxAttempts:   getEnvInt("PLANENGINE_WEBHOOK_MAX_ATTEMPTS", 5),
		RetryInterval: getEnvDuration("PLANENGINE_WEBHOOK_RETRY_INTERVAL", 15*time.Second),
		API:           getEnvBool("PLANENGINE_WEBHOOK_API", false),
	}
}

func loadObservabilityConfig() ObservabilityConfig {
	return ObservabilityConfig{
		LogLevel:           parseLogLevel(getEnv("PLANENGINE_LOG_LEVEL", "info")),
		MetricsEnabled:     getEnvBool("PLANENGINE_METRICS_ENABLED", true),
		OTelEnabled:        getEnvBool("PLANENGINE_OTEL_ENABLED", false),
		OTelEndpoint:       getEnv("PLANENGINE_OTEL_ENDPOINT", "localhost:4317"),
		OTelServiceName:    getEnv("PLANENGINE_OTEL_SERVICE_NAME", "planengine"),
		OTelServiceVersion: getEnv("PLANENGINE_OTEL_SERVICE_VERSION", "1.0.0"),
		OTelInsecure:       getEnvBool("PLANENGINE_OTEL_INSECURE", true),
		OTelSampleRatio:    getEnvFloat("PLANENGINE_OTEL_SAMPLE_RATIO", 1),
	}
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Server.Port == "" {
		return fmt.Errorf("server port is required")
	}
	if c.Server.HealthPort == "" {
		return fmt.Errorf("health port is required")
	}
	if c.Server.Port == c.Server.HealthPort {
		return fmt.Errorf("server port and health port must be different")
	}

	if c.Storage.PostgresURL == "" && c.Storage.CatalogFile == "" {
		return fmt.Errorf("either a postgres URL or a catalog file is required")
	}
	if c.Storage.PostgresReplicaURLs != "" && c.Storage.PostgresURL == "" {
		return fmt.Errorf("postgres replicas require a primary postgres URL")
	}
	if c.Storage.PostgresMaxConns < c.Storage.PostgresMinConns {
		return fmt.Errorf("postgres max conns (%d) must be >= min conns (%d)", c.Storage.PostgresMaxConns, c.Storage.PostgresMinConns)
	}

	if c.Engine.CacheTTL < 0 {
		return fmt.Errorf("cache TTL must not be negative")
	}
	if c.Engine.UpgradeAttempts < 1 {
		return fmt.Errorf("upgrade retries must be at least 1")
	}
	if c.Engine.CatalogRefreshSchedule != "" {
		if _, err := cron.ParseStandard(c.Engine.CatalogRefreshSchedule); err != nil {
			return fmt.Errorf("invalid catalog refresh schedule: %w", err)
		}
	}

	if c.Audit.Database && c.Storage.PostgresURL == "" {
		return fmt.Errorf("database audit logging requires a postgres URL")
	}
	if c.Audit.Enabled() && c.Audit.Workers < 1 {
		return fmt.Errorf("audit workers must be at least 1")
	}
	if c.Audit.RetentionDays < 0 {
		return fmt.Errorf("audit retention days must not be negative")
	}
	if c.Audit.Archive.Enabled() && (!c.Audit.Database || c.Audit.RetentionDays == 0) {
		return fmt.Errorf("audit archiving requires database audit logging with a retention period")
	}
	if c.Audit.Database && c.Audit.RetentionDays > 0 {
		if _, err := cron.ParseStandard(c.Audit.CleanupSchedule); err != nil {
			return fmt.Errorf("invalid audit cleanup schedule: %w", err)
		}
	}

	if err := c.Webhooks.validate(); err != nil {
		return err
	}

	if c.Observability.OTelEnabled {
		if c.Observability.OTelEndpoint == "" {
			return fmt.Errorf("OpenTelemetry endpoint is required when OTel is enabled")
		}
		if c.Observability.OTelServiceName == "" {
			return fmt.Errorf("OpenTelemetry service name is required when OTel is enabled")
		}
		if c.Observability.OTelSampleRatio < 0 || c.Observability.OTelSampleRatio > 1 {
			return fmt.Errorf("OpenTelemetry sample ratio must be between 0 and 1")
		}
	}

	return nil
}

func (w WebhookConfig) validate() error {
	if !w.Enabled() {
		return nil
	}
	for _, raw := range w.URLs {
		u, err := url.Parse(raw)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return fmt.Errorf("invalid webhook URL %q", raw)
		}
	}
	if len(w.URLs) > 0 && len(w.Events) == 0 {
		return fmt.Errorf("webhook events are required when webhook URLs are set")
	}
	for _, event := range w.Events {
		if !audit.EventType(event).Valid() {
			return fmt.Errorf("unknown webhook event %q", event)
		}
	}
	switch strings.ToLower(w.Format) {
	case "", "json", "slack", "teams":
	default:
		return fmt.Errorf("unsupported webhook format %q", w.Format)
	}
	if w.Timeout <= 0 {
		return fmt.Errorf("webhook timeout must be positive")
	}
	if w.MaxAttempts < 1 {
		return fmt.Errorf("webhook max attempts must be at least 1")
	}
	if w.RetryInterval <= 0 {
		return fmt.Errorf("webhook retry interval must be positive")
	}
	return nil
}

// parseLogLevel parses a log level string
func parseLogLevel(level string) observability.LogLevel {
	switch strings.ToLower(level) {
	case "debug":
		return observability.DebugLevel
	case "warn", "warning":
		return observability.WarnLevel
	case "error":
		return observability.ErrorLevel
	default:
		return observability.InfoLevel
	}
}

// getEnv returns an environment variable value or a default
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvList splits a comma-separated environment variable, dropping empty items
func getEnvList(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var items []string
	for _, item := range strings.Split(value, ",") {
		if item = strings.TrimSpace(item); item != "" {
			items = append(items, item)
		}
	}
	return items
}

// getEnvBool returns a boolean environment variable or a default
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return strings.ToLower(value) == "true" || value == "1"
	}
	return defaultValue
}

// getEnvInt returns an integer environment variable or a default
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// getEnvFloat returns a float environment variable or a default
func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

// getEnvDuration returns a duration environment variable or a default
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

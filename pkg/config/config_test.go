package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/civichub/planengine/pkg/observability"
)

func TestGetEnvHelpers(t *testing.T) {
	t.Setenv("PLANENGINE_TEST_STRING", "custom")
	t.Setenv("PLANENGINE_TEST_BOOL", "1")
	t.Setenv("PLANENGINE_TEST_INT", "42")
	t.Setenv("PLANENGINE_TEST_BAD_INT", "forty-two")
	t.Setenv("PLANENGINE_TEST_FLOAT", "0.25")
	t.Setenv("PLANENGINE_TEST_DURATION", "90s")
	t.Setenv("PLANENGINE_TEST_LIST", " a, ,b ")

	assert.Equal(t, "custom", getEnv("PLANENGINE_TEST_STRING", "default"))
	assert.Equal(t, "default", getEnv("PLANENGINE_TEST_UNSET", "default"))
	assert.True(t, getEnvBool("PLANENGINE_TEST_BOOL", false))
	assert.True(t, getEnvBool("PLANENGINE_TEST_UNSET", true))
	assert.Equal(t, 42, getEnvInt("PLANENGINE_TEST_INT", 0))
	assert.Equal(t, 7, getEnvInt("PLANENGINE_TEST_BAD_INT", 7))
	assert.Equal(t, 0.25, getEnvFloat("PLANENGINE_TEST_FLOAT", 1))
	assert.Equal(t, 90*time.Second, getEnvDuration("PLANENGINE_TEST_DURATION", time.Second))
	assert.Equal(t, []string{"a", "b"}, getEnvList("PLANENGINE_TEST_LIST", nil))
	assert.Equal(t, []string{"x"}, getEnvList("PLANENGINE_TEST_UNSET", []string{"x"}))
}

func TestParseLogLevel(t *testing.T) {
	tests := map[string]observability.LogLevel{
		"debug":   observability.DebugLevel,
		"INFO":    observability.InfoLevel,
		"warning": observability.WarnLevel,
		"error":   observability.ErrorLevel,
		"verbose": observability.InfoLevel,
	}
	for in, want := range tests {
		assert.Equal(t, want, parseLogLevel(in), in)
	}
}

func TestLoadConfig_Defaults(t *testing.T) {
	t.Setenv("PLANENGINE_POSTGRES_URL", "postgres://localhost/planengine?sslmode=disable")

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.Server.Port)
	assert.Equal(t, "9090", cfg.Server.HealthPort)
	assert.Equal(t, 5*time.Minute, cfg.Engine.CacheTTL)
	assert.False(t, cfg.Engine.EnforceCouponQuota)
	assert.Equal(t, 3, cfg.Engine.UpgradeAttempts)
	assert.Equal(t, "@every 1m", cfg.Engine.CatalogRefreshSchedule)
	assert.Empty(t, cfg.Storage.RedisURL)
	assert.False(t, cfg.Audit.Enabled())
	assert.Equal(t, "0 3 * * *", cfg.Audit.CleanupSchedule)
	assert.False(t, cfg.Audit.Archive.Enabled())
	assert.Equal(t, "plan-audit", cfg.Audit.Archive.Prefix)
	assert.False(t, cfg.Webhooks.Enabled())
	assert.Equal(t, []string{"plan.upgraded"}, cfg.Webhooks.Events)
	assert.Equal(t, 5, cfg.Webhooks.MaxAttempts)
	assert.Equal(t, observability.InfoLevel, cfg.Observability.LogLevel)
}

func TestLoadConfig_Overrides(t *testing.T) {
	t.Setenv("PLANENGINE_CATALOG_FILE", "/etc/planengine/plans.yaml")
	t.Setenv("PLANENGINE_ENFORCE_COUPON_QUOTA", "true")
	t.Setenv("PLANENGINE_UPGRADE_RETRIES", "5")
	t.Setenv("PLANENGINE_CACHE_TTL", "30s")
	t.Setenv("PLANENGINE_REDIS_URL", "redis://localhost:6379/0")
	t.Setenv("PLANENGINE_LOG_LEVEL", "debug")
	t.Setenv("PLANENGINE_AUDIT_DIR", "/var/log/planengine")
	t.Setenv("PLANENGINE_AUDIT_WORKERS", "4")
	t.Setenv("PLANENGINE_WEBHOOK_URLS", "https://crm.example.com/hook, https://hooks.slack.com/services/T0/B0/x")
	t.Setenv("PLANENGINE_WEBHOOK_EVENTS", "plan.upgraded,quota.denied")
	t.Setenv("PLANENGINE_WEBHOOK_FORMAT", "slack")

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, "/etc/planengine/plans.yaml", cfg.Storage.CatalogFile)
	assert.True(t, cfg.Engine.EnforceCouponQuota)
	assert.Equal(t, 5, cfg.Engine.UpgradeAttempts)
	assert.Equal(t, 30*time.Second, cfg.Engine.CacheTTL)
	assert.Equal(t, "redis://localhost:6379/0", cfg.Storage.RedisURL)
	assert.Equal(t, observability.DebugLevel, cfg.Observability.LogLevel)
	assert.True(t, cfg.Audit.Enabled())
	assert.Equal(t, "/var/log/planengine", cfg.Audit.Dir)
	assert.Equal(t, 4, cfg.Audit.Workers)
	assert.True(t, cfg.Webhooks.Enabled())
	assert.Len(t, cfg.Webhooks.URLs, 2)
	assert.Equal(t, []string{"plan.upgraded", "quota.denied"}, cfg.Webhooks.Events)
	assert.Equal(t, "slack", cfg.Webhooks.Format)
}

func validWebhooks() WebhookConfig {
	return WebhookConfig{
		URLs:          []string{"https://crm.example.com/hook"},
		Events:        []string{"plan.upgraded"},
		Format:        "json",
		Timeout:       5 * time.Second,
		MaxAttempts:   3,
		RetryInterval: time.Second,
	}
}

func TestConfig_Validate(t *testing.T) {
	valid := func() *Config {
		return &Config{
			Server:  ServerConfig{Port: "8080", HealthPort: "9090"},
			Storage: StorageConfig{PostgresURL: "postgres://db", PostgresMaxConns: 10, PostgresMinConns: 1},
			Engine:  EngineConfig{CacheTTL: time.Minute, UpgradeAttempts: 3},
		}
	}

	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{"valid", func(c *Config) {}, ""},
		{"catalog file only", func(c *Config) { c.Storage.PostgresURL = ""; c.Storage.CatalogFile = "plans.yaml" }, ""},
		{"same ports", func(c *Config) { c.Server.HealthPort = "8080" }, "must be different"},
		{"no storage", func(c *Config) { c.Storage.PostgresURL = "" }, "postgres URL or a catalog file"},
		{"replicas without primary", func(c *Config) {
			c.Storage.PostgresURL = ""
			c.Storage.CatalogFile = "plans.yaml"
			c.Storage.PostgresReplicaURLs = "postgres://replica"
		}, "primary"},
		{"pool sizes", func(c *Config) { c.Storage.PostgresMinConns = 50 }, "max conns"},
		{"zero retries", func(c *Config) { c.Engine.UpgradeAttempts = 0 }, "at least 1"},
		{"cron refresh", func(c *Config) { c.Engine.CatalogRefreshSchedule = "*/5 * * * *" }, ""},
		{"bad refresh schedule", func(c *Config) { c.Engine.CatalogRefreshSchedule = "every now and then" }, "refresh schedule"},
		{"audit database", func(c *Config) {
			c.Audit = AuditConfig{Database: true, Workers: 2, RetentionDays: 90, CleanupSchedule: "0 3 * * *"}
		}, ""},
		{"audit database without postgres", func(c *Config) {
			c.Storage.PostgresURL = ""
			c.Storage.CatalogFile = "plans.yaml"
			c.Audit.Database = true
			c.Audit.Workers = 1
		}, "requires a postgres URL"},
		{"audit without workers", func(c *Config) { c.Audit.Dir = "/tmp/audit" }, "audit workers"},
		{"negative retention", func(c *Config) { c.Audit.RetentionDays = -1 }, "retention"},
		{"bad cleanup schedule", func(c *Config) {
			c.Audit = AuditConfig{Database: true, Workers: 1, RetentionDays: 30, CleanupSchedule: "nightly"}
		}, "cleanup schedule"},
		{"webhooks", func(c *Config) { c.Webhooks = validWebhooks() }, ""},
		{"webhook API only", func(c *Config) {
			c.Webhooks = validWebhooks()
			c.Webhooks.URLs = nil
			c.Webhooks.API = true
		}, ""},
		{"relative webhook URL", func(c *Config) {
			c.Webhooks = validWebhooks()
			c.Webhooks.URLs = []string{"/hook"}
		}, "invalid webhook URL"},
		{"unknown webhook event", func(c *Config) {
			c.Webhooks = validWebhooks()
			c.Webhooks.Events = []string{"plan.cancelled"}
		}, "unknown webhook event"},
		{"webhook URLs without events", func(c *Config) {
			c.Webhooks = validWebhooks()
			c.Webhooks.Events = nil
		}, "events are required"},
		{"unknown webhook format", func(c *Config) {
			c.Webhooks = validWebhooks()
			c.Webhooks.Format = "xml"
		}, "webhook format"},
		{"webhook attempts", func(c *Config) {
			c.Webhooks = validWebhooks()
			c.Webhooks.MaxAttempts = 0
		}, "max attempts"},
		{"audit archive", func(c *Config) {
			c.Audit = AuditConfig{Database: true, Workers: 1, RetentionDays: 30, CleanupSchedule: "0 3 * * *",
				Archive: ArchiveConfig{Bucket: "plan-audit"}}
		}, ""},
		{"audit archive without retention", func(c *Config) {
			c.Audit = AuditConfig{Database: true, Workers: 1, Archive: ArchiveConfig{Bucket: "plan-audit"}}
		}, "audit archiving"},
		{"otel without endpoint", func(c *Config) {
			c.Observability.OTelEnabled = true
			c.Observability.OTelServiceName = "planengine"
		}, "endpoint"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			assert.ErrorContains(t, err, tt.wantErr)
		})
	}
}

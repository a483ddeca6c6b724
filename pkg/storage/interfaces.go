package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/civichub/planengine/pkg/config"
	"github.com/civichub/planengine/pkg/observability"
	"github.com/civichub/planengine/pkg/plans"
	"github.com/civichub/planengine/pkg/storage/catalogfile"
	"github.com/civichub/planengine/pkg/storage/postgres"
	"github.com/civichub/planengine/pkg/storage/redislock"
)

// Backend bundles the stores the engine runs on
type Backend struct {
	Catalog       plans.CatalogStore
	Subscriptions plans.SubscriptionStore
	Usage         plans.UsageCounter
	// Locker is nil unless Redis is configured
	Locker plans.TenantLocker

	// Postgres is nil when running on the catalog file and memory stores
	Postgres *postgres.ConnectionManager
	// CatalogFile is set when the catalog comes from YAML
	CatalogFile *catalogfile.Store
	Redis       *redis.Client

	closers []func() error
}

// Open builds the Backend described by cfg.
//
// With a Postgres URL every store is backed by Postgres; a catalog file, when
// also given, overrides the catalog only. Without Postgres the catalog file is
// combined with in-memory subscriptions and usage.
func Open(ctx context.Context, cfg config.StorageConfig, logger *observability.Logger, metrics *observability.Metrics) (*Backend, error) {
	b := &Backend{}

	if cfg.PostgresURL != "" {
		conns, err := postgres.NewConnectionManager(postgres.ConnectionConfig{
			PrimaryURL:  cfg.PostgresURL,
			ReplicaURLs: postgres.ParseReplicaURLs(cfg.PostgresReplicaURLs),
			MaxConns:    cfg.PostgresMaxConns,
			MinConns:    cfg.PostgresMinConns,
			Timeout:     cfg.PostgresTimeout,
		}, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to postgres: %w", err)
		}
		b.Postgres = conns
		b.closers = append(b.closers, conns.Close)

		if cfg.PostgresMigrate {
			if err := postgres.Migrate(ctx, conns.Primary()); err != nil {
				b.Close()
				return nil, err
			}
			logger.Info("Database schema applied")
		}

		b.Catalog = postgres.NewCatalogStore(conns, metrics)
		b.Subscriptions = postgres.NewSubscriptionStore(conns, metrics)
		b.Usage = postgres.NewUsageCounter(conns, postgres.DefaultUsageTables(), metrics)
	} else {
		logger.Warn("No Postgres configured, subscriptions and usage are kept in memory")
		b.Subscriptions = NewMemorySubscriptionStore()
		b.Usage = NewMemoryUsageCounter()
	}

	if cfg.CatalogFile != "" {
		store, err := catalogfile.Open(cfg.CatalogFile, logger)
		if err != nil {
			b.Close()
			return nil, err
		}
		b.CatalogFile = store
		b.Catalog = store
	}
	if b.Catalog == nil {
		b.Close()
		return nil, errors.New("no plan catalog configured")
	}

	if cfg.RedisURL != "" {
		client, err := redislock.NewClient(ctx, cfg.RedisURL)
		if err != nil {
			b.Close()
			return nil, err
		}
		b.Redis = client
		b.closers = append(b.closers, client.Close)
		b.Locker = redislock.New(client, cfg.RedisLockTTL, logger)
	}

	return b, nil
}

// WatchCatalog reloads the catalog file on change and calls onChange.
// It is a no-op returning nil when the catalog does not come from a file.
func (b *Backend) WatchCatalog(ctx context.Context, onChange func()) error {
	if b.CatalogFile == nil {
		return nil
	}
	return b.CatalogFile.Watch(ctx, onChange)
}

// StartMaintenance prunes unhealthy replicas and records pool stats
func (b *Backend) StartMaintenance(ctx context.Context, interval time.Duration, metrics *observability.Metrics) {
	if b.Postgres != nil {
		b.Postgres.StartMaintenance(ctx, interval, metrics)
	}
}

// Close releases every connection, newest first
func (b *Backend) Close() error {
	var errs []error
	for i := len(b.closers) - 1; i >= 0; i-- {
		if err := b.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	b.closers = nil
	return errors.Join(errs...)
}

package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	_ "github.com/lib/pq" // PostgreSQL driver

	"github.com/civichub/planengine/pkg/observability"
)

// ConnectionConfig describes the primary pool and any read replicas.
type ConnectionConfig struct {
	PrimaryURL  string
	ReplicaURLs []string
	MaxConns    int
	MinConns    int
	Timeout     time.Duration
	MaxLifetime time.Duration
	MaxIdleTime time.Duration
}

func (c ConnectionConfig) withDefaults() ConnectionConfig {
	if c.Timeout <= 0 {
		c.Timeout = 5 * time.Second
	}
	if c.MaxLifetime <= 0 {
		c.MaxLifetime = time.Hour
	}
	if c.MaxIdleTime <= 0 {
		c.MaxIdleTime = 10 * time.Minute
	}
	return c
}

// replicaPoolSize gives each replica half the primary's pool, at least two.
func (c ConnectionConfig) replicaPoolSize() int {
	return max(c.MaxConns/2, 2)
}

// ConnectionManager routes writes and locking reads to the primary and plain
// reads round-robin over the replicas still alive.
type ConnectionManager struct {
	primary *sql.DB
	logger  *observability.Logger

	// replicas is swapped whole; readers never see a partially pruned set.
	replicas atomic.Pointer[[]*sql.DB]
	next     atomic.Uint32
	pruneMu  sync.Mutex
}

// NewConnectionManager opens the primary, failing if it is unreachable, and
// each replica, skipping the ones that are.
func NewConnectionManager(config ConnectionConfig, logger *observability.Logger) (*ConnectionManager, error) {
	config = config.withDefaults()

	primary, err := openPool(config.PrimaryURL, config.MaxConns, config)
	if err != nil {
		return nil, fmt.Errorf("primary: %w", err)
	}

	var replicas []*sql.DB
	for i, url := range config.ReplicaURLs {
		db, err := openPool(url, config.replicaPoolSize(), config)
		if err != nil {
			logger.WithError(err).Warnf("Replica %d unreachable, reads will skip it", i)
			continue
		}
		replicas = append(replicas, db)
	}

	logger.WithField("replicas", len(replicas)).Info("Postgres pools ready")
	return NewConnectionManagerFromDB(primary, logger, replicas...), nil
}

// NewConnectionManagerFromDB wraps pools that are already open
func NewConnectionManagerFromDB(primary *sql.DB, logger *observability.Logger, replicas ...*sql.DB) *ConnectionManager {
	cm := &ConnectionManager{primary: primary, logger: logger}
	cm.replicas.Store(&replicas)
	return cm
}

func openPool(url string, size int, config ConnectionConfig) (*sql.DB, error) {
	db, err := sql.Open("postgres", url)
	if err != nil {
		return nil, fmt.Errorf("open: %w", err)
	}
	db.SetMaxOpenConns(size)
	db.SetMaxIdleConns(config.MinConns)
	db.SetConnMaxLifetime(config.MaxLifetime)
	db.SetConnMaxIdleTime(config.MaxIdleTime)

	ctx, cancel := context.WithTimeout(context.Background(), config.Timeout)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping: %w", err)
	}
	return db, nil
}

func (cm *ConnectionManager) replicaSet() []*sql.DB {
	if p := cm.replicas.Load(); p != nil {
		return *p
	}
	return nil
}

// Primary is the pool for writes and row-locking reads
func (cm *ConnectionManager) Primary() *sql.DB {
	return cm.primary
}

// Replica picks the next replica, or the primary when none are left.
func (cm *ConnectionManager) Replica() *sql.DB {
	set := cm.replicaSet()
	if len(set) == 0 {
		return cm.primary
	}
	return set[cm.next.Add(1)%uint32(len(set))]
}

// HealthCheck fails when the primary is down or when every replica is.
func (cm *ConnectionManager) HealthCheck(ctx context.Context) error {
	if err := cm.primary.PingContext(ctx); err != nil {
		return fmt.Errorf("primary unhealthy: %w", err)
	}

	set := cm.replicaSet()
	var errs []error
	for i, db := range set {
		if err := db.PingContext(ctx); err != nil {
			errs = append(errs, fmt.Errorf("replica-%d: %w", i, err))
		}
	}
	if len(set) > 0 && len(errs) == len(set) {
		return fmt.Errorf("all replicas unhealthy: %w", errors.Join(errs...))
	}
	return nil
}

// RemoveUnhealthyReplicas closes replicas that fail a ping and reports how
// many were dropped.
func (cm *ConnectionManager) RemoveUnhealthyReplicas(ctx context.Context) int {
	cm.pruneMu.Lock()
	defer cm.pruneMu.Unlock()

	set := cm.replicaSet()
	alive := make([]*sql.DB, 0, len(set))
	for _, db := range set {
		if db.PingContext(ctx) == nil {
			alive = append(alive, db)
			continue
		}
		_ = db.Close()
	}
	if dropped := len(set) - len(alive); dropped > 0 {
		cm.replicas.Store(&alive)
		return dropped
	}
	return 0
}

// StartMaintenance prunes dead replicas and records primary pool stats every
// interval until ctx ends.
func (cm *ConnectionManager) StartMaintenance(ctx context.Context, interval time.Duration, metrics *observability.Metrics) {
	if interval <= 0 {
		interval = 30 * time.Second
	}

	go func() {
		defer observability.RecoverPanic(cm.logger, "postgres maintenance")
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
			cm.maintain(ctx, metrics)
		}
	}()
}

func (cm *ConnectionManager) maintain(ctx context.Context, metrics *observability.Metrics) {
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if n := cm.RemoveUnhealthyReplicas(pingCtx); n > 0 {
		cm.logger.WithField("removed", n).Warn("Dropped unhealthy replicas")
	}
	metrics.RecordDBStats(cm.primary.Stats())
}

// Close closes the primary and every remaining replica.
func (cm *ConnectionManager) Close() error {
	cm.pruneMu.Lock()
	set := cm.replicaSet()
	cm.replicas.Store(nil)
	cm.pruneMu.Unlock()

	var errs []error
	if err := cm.primary.Close(); err != nil {
		errs = append(errs, fmt.Errorf("primary: %w", err))
	}
	for i, db := range set {
		if err := db.Close(); err != nil {
			errs = append(errs, fmt.Errorf("replica-%d: %w", i, err))
		}
	}
	return errors.Join(errs...)
}

// ParseReplicaURLs splits a comma separated URL list, dropping blanks.
func ParseReplicaURLs(raw string) []string {
	var urls []string
	for _, u := range strings.Split(raw, ",") {
		if u = strings.TrimSpace(u); u != "" {
			urls = append(urls, u)
		}
	}
	return urls
}

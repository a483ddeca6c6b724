package main

import (
	"context"
	"errors"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/civichub/planengine/pkg/audit"
	"github.com/civichub/planengine/pkg/config"
	"github.com/civichub/planengine/pkg/observability"
	"github.com/civichub/planengine/pkg/storage"
	"github.com/civichub/planengine/pkg/storage/s3archive"
)

// auditTrail is the configured audit sink. db is nil unless events go to Postgres.
type auditTrail struct {
	logger   audit.Logger
	db       *audit.DBLogger
	archiver *audit.Archiver
	bucket   *s3archive.Client
}

// openAuditTrail fans events out to the configured sinks plus extra, on a worker pool
func openAuditTrail(ctx context.Context, cfg config.AuditConfig, migrate bool, backend *storage.Backend, logger *observability.Logger, metrics *observability.Metrics, extra ...audit.Logger) (*auditTrail, error) {
	if !cfg.Enabled() && len(extra) == 0 {
		return &auditTrail{logger: audit.NoOpLogger{}}, nil
	}

	var (
		sinks = append([]audit.Logger(nil), extra...)
		trail auditTrail
	)
	if cfg.Dir != "" {
		fileLogger, err := audit.NewFileLogger(audit.FileLoggerConfig{
			BasePath: cfg.Dir,
			MaxSize:  cfg.MaxFileSize,
			MaxFiles: cfg.MaxFiles,
		})
		if err != nil {
			return nil, err
		}
		sinks = append(sinks, fileLogger)
	}
	if cfg.Database {
		if backend.Postgres == nil {
			return nil, errors.New("database audit logging requires postgres")
		}
		dbLogger, err := audit.NewDBLogger(backend.Postgres.Primary())
		if err != nil {
			return nil, err
		}
		if migrate {
			if err := dbLogger.EnsureTable(ctx); err != nil {
				return nil, err
			}
		}
		trail.db = dbLogger
		sinks = append(sinks, dbLogger)

		if cfg.Archive.Enabled() {
			bucket, err := s3archive.New(ctx, s3archive.Config{
				Bucket:       cfg.Archive.Bucket,
				Region:       cfg.Archive.Region,
				Endpoint:     cfg.Archive.Endpoint,
				AccessKey:    cfg.Archive.AccessKey,
				SecretKey:    cfg.Archive.SecretKey,
				UsePathStyle: cfg.Archive.UsePathStyle,
			})
			if err != nil {
				return nil, err
			}
			trail.bucket = bucket
			trail.archiver = audit.NewArchiver(dbLogger, bucket, cfg.Archive.Prefix)
		}
	}

	asyncConfig := audit.DefaultAsyncLoggerConfig()
	if cfg.Workers > 0 {
		asyncConfig.Workers = cfg.Workers
	}
	if cfg.QueueSize > 0 {
		asyncConfig.QueueSize = cfg.QueueSize
	}
	trail.logger = audit.NewAsyncLogger(audit.NewMultiLogger(sinks...), asyncConfig, logger.WithField("component", "audit"), metrics)

	logger.WithFields(map[string]interface{}{
		"dir":      cfg.Dir,
		"database": cfg.Database,
		"workers":  asyncConfig.Workers,
		"sinks":    len(sinks),
	}).Info("Audit trail enabled")
	return &trail, nil
}

// searcher returns the history backend, nil without database logging
func (t *auditTrail) searcher() audit.Searcher {
	if t.db == nil {
		return nil
	}
	return t.db
}

func (t *auditTrail) catalogReloaded(ctx context.Context, source string) {
	event := audit.NewEvent(ctx, audit.EventTypeCatalogReloaded, audit.EventStatusSuccess, 0)
	event.Actor = "planengine"
	event.Metadata["source"] = source
	t.logger.Log(ctx, event)
}

// scheduleCleanup removes events past the retention period on cfg.CleanupSchedule,
// archiving them first when an archive is configured
func (t *auditTrail) scheduleCleanup(ctx context.Context, scheduler *cron.Cron, cfg config.AuditConfig, logger *observability.Logger) error {
	if t.db == nil || cfg.RetentionDays <= 0 {
		return nil
	}
	policy := audit.RetentionPolicy{RetentionDays: cfg.RetentionDays}
	_, err := scheduler.AddFunc(cfg.CleanupSchedule, func() {
		defer observability.RecoverPanic(logger, "audit cleanup")
		now := time.Now()
		if t.archiver != nil {
			key, archived, err := t.archiver.Archive(ctx, policy, now)
			if err != nil {
				logger.WithError(err).Warn("Audit archive failed, keeping expired events")
				return
			}
			if archived > 0 {
				logger.Infof("Archived %d audit events to %s", archived, key)
			}
		}
		removed, err := t.db.Cleanup(ctx, policy, now)
		if err != nil {
			logger.WithError(err).Warn("Audit cleanup failed")
			return
		}
		logger.Infof("Audit cleanup removed %d events older than %d days", removed, cfg.RetentionDays)
	})
	return err
}

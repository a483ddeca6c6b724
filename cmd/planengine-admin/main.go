// Command planengine-admin manages the plan catalog and inspects tenants.
//
// Usage:
//
//	planengine-admin [flags] migrate
//	planengine-admin [flags] publish -file catalog.yaml [-tier standard]
//	planengine-admin [flags] plans [-all]
//	planengine-admin [flags] tenant -id 42
//	planengine-admin [flags] upgrade -id 42 -tier strategic
//	planengine-admin [flags] history -id 42 [-type plan.upgraded] [-format csv]
//	planengine-admin [flags] audit-cleanup -days 365 [-archive-bucket plan-audit]
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"

	"github.com/civichub/planengine/pkg/audit"
	"github.com/civichub/planengine/pkg/config"
	"github.com/civichub/planengine/pkg/observability"
	"github.com/civichub/planengine/pkg/plans"
	"github.com/civichub/planengine/pkg/storage"
	"github.com/civichub/planengine/pkg/storage/catalogfile"
	"github.com/civichub/planengine/pkg/storage/postgres"
	"github.com/civichub/planengine/pkg/storage/s3archive"
)

// Config holds the admin tool configuration
type Config struct {
	DBConnectionString string
	RedisURL           string
	Timeout            time.Duration
	LogLevel           string
}

func main() {
	cfg := parseFlags()
	logger := setupLogger(cfg.LogLevel)

	if flag.NArg() == 0 {
		flag.Usage()
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, cfg.Timeout)
	defer cancel()

	if err := run(ctx, cfg, logger, flag.Arg(0), flag.Args()[1:]); err != nil {
		logger.Fatalf("%s failed: %v", flag.Arg(0), err)
	}
}

func parseFlags() *Config {
	cfg := &Config{}

	flag.StringVar(&cfg.DBConnectionString, "db", os.Getenv("PLANENGINE_POSTGRES_URL"), "Postgres connection string")
	flag.StringVar(&cfg.RedisURL, "redis", os.Getenv("PLANENGINE_REDIS_URL"), "Redis URL for the upgrade lock (optional)")
	flag.DurationVar(&cfg.Timeout, "timeout", time.Minute, "Overall command timeout")
	flag.StringVar(&cfg.LogLevel, "log-level", "info", "Log level (debug, info, warn, error)")
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "Usage: %s [flags] migrate|publish|plans|tenant|upgrade|history|audit-cleanup [args]\n", os.Args[0])
		flag.PrintDefaults()
	}

	flag.Parse()
	return cfg
}

func setupLogger(logLevel string) *logrus.Logger {
	logger := logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp: true,
	})

	level, err := logrus.ParseLevel(logLevel)
	if err != nil {
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)

	return logger
}

func run(ctx context.Context, cfg *Config, logger *logrus.Logger, command string, args []string) error {
	if cfg.DBConnectionString == "" {
		return fmt.Errorf("a Postgres connection string is required (-db or PLANENGINE_POSTGRES_URL)")
	}

	metrics := observability.NewMetrics(prometheus.NewRegistry())
	backend, err := storage.Open(ctx, config.StorageConfig{
		PostgresURL:      cfg.DBConnectionString,
		PostgresMaxConns: 2,
		PostgresMinConns: 1,
		PostgresTimeout:  10 * time.Second,
		RedisURL:         cfg.RedisURL,
		RedisLockTTL:     10 * time.Second,
	}, observability.NewLogger(observability.WarnLevel, os.Stderr), metrics)
	if err != nil {
		return err
	}
	defer backend.Close()

	catalog := postgres.NewCatalogStore(backend.Postgres, metrics)
	auditLog, err := audit.NewDBLogger(backend.Postgres.Primary())
	if err != nil {
		return err
	}
	ctx = audit.WithActor(ctx, adminActor())

	switch command {
	case "migrate":
		if err := postgres.Migrate(ctx, backend.Postgres.Primary()); err != nil {
			return err
		}
		if err := auditLog.EnsureTable(ctx); err != nil {
			return err
		}
		logger.Info("Schema is up to date")
		return nil

	case "publish":
		return publish(ctx, catalog, auditLog, logger, args)

	case "history":
		return history(ctx, auditLog, args)

	case "audit-cleanup":
		return auditCleanup(ctx, auditLog, logger, args)

	case "plans":
		return listPlans(ctx, catalog, args)

	case "tenant", "upgrade":
		engine, err := newEngine(backend, auditLog, metrics)
		if err != nil {
			return err
		}
		if command == "tenant" {
			return showTenant(ctx, engine, args)
		}
		return upgrade(ctx, engine, logger, args)

	default:
		flag.Usage()
		return fmt.Errorf("unknown command %q", command)
	}
}

// adminActor names the operator on audit events
func adminActor() string {
	if user := os.Getenv("USER"); user != "" {
		return "planengine-admin:" + user
	}
	return "planengine-admin"
}

func newEngine(backend *storage.Backend, auditLog audit.Logger, metrics *observability.Metrics) (*plans.Engine, error) {
	opts := plans.Options{
		Catalog:       backend.Catalog,
		Subscriptions: backend.Subscriptions,
		Usage:         backend.Usage,
		Audit:         auditLog,
		Logger:        observability.NewLogger(observability.WarnLevel, os.Stderr),
		Metrics:       metrics,
	}
	if backend.Locker != nil {
		opts.Locker = backend.Locker
	}
	return plans.NewEngine(opts)
}

func publish(ctx context.Context, catalog *postgres.CatalogStore, auditLog audit.Logger, logger *logrus.Logger, args []string) error {
	fs := flag.NewFlagSet("publish", flag.ExitOnError)
	file := fs.String("file", "", "YAML catalog to publish")
	only := fs.String("tier", "", "Publish a single tier from the file")
	fs.Parse(args)

	if *file == "" {
		return fmt.Errorf("-file is required")
	}
	data, err := os.ReadFile(*file)
	if err != nil {
		return fmt.Errorf("failed to read catalog: %w", err)
	}
	configs, err := catalogfile.Parse(data, time.Now())
	if err != nil {
		return err
	}

	var filter plans.Tier
	if *only != "" {
		if filter, err = plans.ParseTier(*only); err != nil {
			return fmt.Errorf("%w: %q", err, *only)
		}
	}

	published := 0
	for _, cfg := range configs {
		if filter != "" && cfg.Tier != filter {
			continue
		}
		out, err := catalog.Publish(ctx, cfg)
		if err != nil {
			return fmt.Errorf("failed to publish %s: %w", cfg.Tier, err)
		}
		logger.WithFields(logrus.Fields{
			"tier":    out.Tier,
			"id":      out.ID,
			"version": out.Version,
			"price":   out.Price().StringFixed(2),
		}).Info("Published plan")
		published++

		event := audit.NewEvent(ctx, audit.EventTypeCatalogPublished, audit.EventStatusSuccess, 0)
		event.ToTier = string(out.Tier)
		event.PlanConfigID = &out.ID
		event.Metadata["version"] = fmt.Sprint(out.Version)
		event.Metadata["price"] = out.Price().StringFixed(2)
		event.Metadata["source"] = *file
		if err := auditLog.Log(ctx, event); err != nil {
			logger.WithError(err).Warn("Failed to record publish in the audit trail")
		}
	}
	if published == 0 {
		return fmt.Errorf("no plans matched in %s", *file)
	}

	logger.Infof("Published %d plan(s); running servers pick them up on their next catalog refresh", published)
	return nil
}

func listPlans(ctx context.Context, catalog *postgres.CatalogStore, args []string) error {
	fs := flag.NewFlagSet("plans", flag.ExitOnError)
	all := fs.Bool("all", false, "Include retired and hidden versions")
	fs.Parse(args)

	var (
		configs []*plans.PlanConfig
		err     error
	)
	if *all {
		configs, err = catalog.ListAll(ctx)
	} else {
		configs, err = catalog.ListActiveVisible(ctx)
	}
	if err != nil {
		return err
	}

	for _, cfg := range configs {
		state := "active"
		if !cfg.IsActive {
			state = "retired"
		} else if !cfg.IsVisible {
			state = "hidden"
		}
		fmt.Printf("%-11s v%-3d %-8s %8s  offers=%s active=%s team=%s coupons=%s\n",
			cfg.Tier, cfg.Version, state, cfg.Price().StringFixed(2),
			cfg.MaxOffers, cfg.MaxActiveOffers, cfg.MaxTeamMembers, cfg.MaxCouponsPerMonth)
	}
	return nil
}

func showTenant(ctx context.Context, engine *plans.Engine, args []string) error {
	fs := flag.NewFlagSet("tenant", flag.ExitOnError)
	id := fs.Int64("id", 0, "Tenant ID")
	fs.Parse(args)

	if *id <= 0 {
		return fmt.Errorf("-id must be a positive tenant ID")
	}

	plan, err := engine.EffectivePlan(ctx, *id)
	if err != nil {
		return err
	}
	usage, err := engine.UsageSnapshot(ctx, *id)
	if err != nil {
		return err
	}
	quotas := make([]*plans.QuotaCheck, 0, 4)
	for _, action := range []plans.Action{plans.ActionCreateOffer, plans.ActionActivateOffer, plans.ActionAddTeamMember, plans.ActionGenerateCoupon} {
		check, err := engine.Check(ctx, *id, action)
		if err != nil {
			return err
		}
		quotas = append(quotas, check)
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(map[string]interface{}{
		"plan":            plan,
		"virtual_default": plan.IsVirtualDefault(),
		"usage":           usage,
		"quotas":          quotas,
	})
}

func upgrade(ctx context.Context, engine *plans.Engine, logger *logrus.Logger, args []string) error {
	fs := flag.NewFlagSet("upgrade", flag.ExitOnError)
	id := fs.Int64("id", 0, "Tenant ID")
	tier := fs.String("tier", "", "Target tier")
	dryRun := fs.Bool("dry-run", false, "Only report whether the upgrade is allowed")
	fs.Parse(args)

	if *id <= 0 || *tier == "" {
		return fmt.Errorf("-id and -tier are required")
	}

	if *dryRun {
		decision, err := engine.CanUpgradeToPlan(ctx, *id, *tier)
		if err != nil {
			return err
		}
		entry := logger.WithFields(logrus.Fields{"tenant": *id, "from": decision.CurrentTier, "to": *tier})
		if decision.Allowed {
			entry.Info("Upgrade allowed")
		} else {
			entry.WithField("reason", decision.Reason).Warn("Upgrade rejected")
		}
		return nil
	}

	sub, err := engine.UpgradePlan(ctx, *id, *tier)
	if err != nil {
		return err
	}
	logger.WithFields(logrus.Fields{
		"tenant":       sub.TenantID,
		"subscription": sub.ID,
		"tier":         sub.Tier,
		"price":        sub.SnapshotPrice.StringFixed(2),
	}).Info("Tenant upgraded")
	return nil
}

func history(ctx context.Context, searcher audit.Searcher, args []string) error {
	fs := flag.NewFlagSet("history", flag.ExitOnError)
	id := fs.Int64("id", 0, "Tenant ID, 0 for every tenant")
	eventType := fs.String("type", "", "Only this event type")
	limit := fs.Int("limit", audit.DefaultSearchLimit, "Maximum events")
	format := fs.String("format", "ndjson", "Output format (json, ndjson, csv)")
	fs.Parse(args)

	exportFormat, err := audit.ParseExportFormat(*format)
	if err != nil {
		return err
	}

	filter := audit.SearchFilter{Limit: *limit}
	if *id > 0 {
		filter.TenantID = id
	}
	if *eventType != "" {
		filter.EventTypes = []audit.EventType{audit.EventType(*eventType)}
	}

	events, err := searcher.Search(ctx, filter)
	if err != nil {
		return err
	}
	out, err := audit.Export(events, exportFormat)
	if err != nil {
		return err
	}
	_, err = os.Stdout.Write(out)
	return err
}

func auditCleanup(ctx context.Context, auditLog *audit.DBLogger, logger *logrus.Logger, args []string) error {
	fs := flag.NewFlagSet("audit-cleanup", flag.ExitOnError)
	days := fs.Int("days", 0, "Remove events older than this many days")
	bucket := fs.String("archive-bucket", os.Getenv("PLANENGINE_AUDIT_ARCHIVE_BUCKET"), "S3 bucket receiving expired events before removal (optional)")
	prefix := fs.String("archive-prefix", "plan-audit", "Key prefix for archived events")
	region := fs.String("archive-region", "us-east-1", "S3 region")
	endpoint := fs.String("archive-endpoint", os.Getenv("PLANENGINE_AUDIT_ARCHIVE_ENDPOINT"), "S3-compatible endpoint, e.g. MinIO")
	fs.Parse(args)

	if *days <= 0 {
		return fmt.Errorf("-days must be positive")
	}
	policy := audit.RetentionPolicy{RetentionDays: *days}
	now := time.Now()

	if *bucket != "" {
		store, err := s3archive.New(ctx, s3archive.Config{
			Bucket:       *bucket,
			Region:       *region,
			Endpoint:     *endpoint,
			AccessKey:    os.Getenv("PLANENGINE_AUDIT_ARCHIVE_ACCESS_KEY"),
			SecretKey:    os.Getenv("PLANENGINE_AUDIT_ARCHIVE_SECRET_KEY"),
			UsePathStyle: *endpoint != "",
		})
		if err != nil {
			return err
		}
		key, archived, err := audit.NewArchiver(auditLog, store, *prefix).Archive(ctx, policy, now)
		if err != nil {
			return err
		}
		logger.WithFields(logrus.Fields{"archived": archived, "key": key}).Info("Expired audit events archived")
	}

	removed, err := auditLog.Cleanup(ctx, policy, now)
	if err != nil {
		return err
	}
	logger.WithFields(logrus.Fields{"removed": removed, "days": *days}).Info("Audit trail cleaned up")
	return nil
}

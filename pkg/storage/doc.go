// Package storage assembles the stores the plan engine runs on.
//
// Open picks the backends from configuration:
//
//   - postgres: catalog, subscriptions and usage counting over database/sql and lib/pq,
//     with the schema in postgres/schema.sql
//   - catalogfile: a YAML plan catalog, reloaded on change
//   - redislock: a cross-instance tenant lock for upgrades
//   - s3archive: the S3 bucket expired audit events are archived to
//
// Without Postgres, subscriptions and usage live in memory (MemorySubscriptionStore,
// MemoryUsageCounter). That mode is meant for development and tests.
package storage

// Package audit records plan changes and quota denials.
//
// Events describe who moved which tenant between tiers, which upgrades were
// rejected and why, which quota gates denied an action, and when the plan
// catalog changed. Sinks implement Logger:
//
//   - FileLogger appends JSON lines to <dir>/audit.log and rotates by size
//   - DBLogger inserts into plan_audit_events and implements Searcher
//   - MultiLogger fans out to several sinks
//   - AsyncLogger moves writes onto an async.WorkerPool so the upgrade path
//     never waits on a sink; events it cannot queue in time are dropped and
//     counted in planengine_audit_events_total{outcome="dropped"}
//
// Handlers exposes the trail over HTTP:
//
//	GET /tenants/{tenant_id}/history?type=plan.upgraded&since=2026-01-01&limit=50
//	GET /audit/events?type=catalog.published&format=csv
//
// Formats are json (default), ndjson and csv.
package audit

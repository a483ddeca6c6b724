// Package api exposes the plan engine over HTTP.
//
// Catalog routes:
//
//	GET  /plans                               visible plans in ascending rank
//	GET  /plans/{tier}                        one plan config
//	GET  /plans/{tier}/upgrades               strictly higher visible plans
//	GET  /plans/compare?from=&to=             features and limits gained
//
// Tenant routes:
//
//	GET  /tenants/{tenant_id}/plan            effective plan
//	GET  /tenants/{tenant_id}/usage           usage snapshot
//	GET  /tenants/{tenant_id}/quotas          all quota checks
//	GET  /tenants/{tenant_id}/quotas/{action} one quota check
//	GET  /tenants/{tenant_id}/proration?tier=&period_start=&period_end=
//	GET  /tenants/{tenant_id}/upgrade?tier=   upgrade pre-check
//	POST /tenants/{tenant_id}/upgrade         {"tier": "..."}
//
// Rejected upgrades answer 409 with the rejection reason, except an unknown
// target tier which answers 422. Catalog misconfiguration answers 500.
package api

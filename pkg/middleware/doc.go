// Package middleware provides HTTP middleware for tenant scoping and plan quota enforcement.
//
// # Middleware Ordering
//
// Quota gates read the tenant from the request context, so TenantContext must run first:
//
//	router.Use(middleware.TenantContext("tenant_id"))
//	router.Handle("/tenants/{tenant_id}/offers", quota.Enforce(plans.ActionCreateOffer)(createOffer)).
//		Methods(http.MethodPost)
//
// A gate without a tenant in context lets the request through and logs a warning.
//
// # Status Codes
//
// A denied check is answered with 403 and the plan's reason:
//
//	{"error": "Your plan Entry allows up to 3 offers. Upgrade to add more.",
//	 "details": {"action": "create_offer", "current": "3", "limit": "3", "plan": "Entry"}}
//
// A misconfigured catalog is answered with 500.
package middleware

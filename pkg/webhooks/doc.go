// Package webhooks notifies external systems about plan changes.
//
// A Notifier is an audit.Logger: it joins the audit sinks and POSTs every
// event an endpoint subscribes to, typically plan.upgraded for billing or
// CRM systems and quota.denied for sales alerts.
//
// # Payloads
//
// Endpoints receive one of three formats:
//
//   - json: a Notification envelope around the audit event, signed with
//     HMAC-SHA256 in X-Planengine-Signature when the endpoint has a secret
//   - slack: an incoming-webhook attachment
//   - teams: a MessageCard
//
// Receivers verify signatures with VerifySignature:
//
//	sig := r.Header.Get(SignatureHeader)
//	if !webhooks.VerifySignature(body, sig, secret) {
//		return errors.New("invalid signature")
//	}
//
// # Retries
//
// Failed deliveries back off exponentially (1s, 2s, 4s, 8s) up to
// RetryConfig.MaxAttempts and are picked up by the RetryWorker. Every
// attempt is kept in a bounded in-memory DeliveryLogStore and counted in
// planengine_webhook_deliveries_total.
package webhooks

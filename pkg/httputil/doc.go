// Package httputil provides HTTP utilities for standardized request/response handling.
//
// Error responses share one JSON shape:
//
//	{"error": "message", "details": {"key": "value"}}
//
// Middleware is composed with Chain:
//
//	handler := httputil.Chain(
//		httputil.RequestIDMiddleware(logger),
//		httputil.RecoveryMiddleware,
//		httputil.LoggingMiddleware,
//		httputil.MaxBytesMiddleware(1<<20),
//	)(router)
//
// RequestIDMiddleware must come first so the other middleware log with the request ID.
package httputil

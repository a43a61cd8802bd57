// Package httputil provides the JSON response helpers and HTTP middleware
// shared by the gatekeeper API.
//
// # Responses
//
//	httputil.WriteJSON(w, http.StatusOK, decision)
//	httputil.WriteBadRequest(w, "module is required")
//	httputil.WriteEntitlementError(w, err) // 403 / 402 / 409 / 503 / 500
//
// Retryable entitlement errors (store unavailable, transition conflict) are
// written as 503 with a Retry-After header and "retryable": true.
//
// # Requests
//
//	var req authorizeRequest
//	if !httputil.ParseJSONOrError(w, r, &req) {
//		return // Error response already written
//	}
//	tenant, ok := httputil.ParsePathStringOrError(w, r, "tenant")
//
// # Middleware
//
//	httputil.Chain(
//		httputil.RequestIDMiddleware,
//		httputil.LoggingMiddleware(logger),
//		httputil.RecoveryMiddleware(logger),
//		httputil.MaxBytesMiddleware(1<<20),
//	)
package httputil

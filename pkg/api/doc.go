// Package api exposes the entitlement engine over HTTP for the presentation
// layer.
//
// The caller is identified by the X-User-ID header, which ActorMiddleware
// resolves to a tenant membership. Authentication is expected upstream.
//
// Routes:
//
//	POST   /v1/authorize                          decision for {module, metered, kind, secondary}
//	POST   /v1/release                            hand back an unused reservation {module, reservation_id, version}
//	GET    /v1/tenants/{tenant}/entitlements      plan and usage summary
//	POST   /v1/tenants/{tenant}/{transition}      onboard, upgrade, downgrade, renew, deactivate, reactivate
//	GET    /v1/tenants/{tenant}/audit             membership and plan changes (json, ndjson or csv)
//	POST   /v1/members                            grant membership (takes a staff seat)
//	PUT    /v1/members/{user}/permissions         replace a member's permissions
//	DELETE /v1/members/{user}                     remove a member
//	GET    /healthz, /readyz, /metrics
//
// Product routes are added with Server.Mount, which puts them behind the actor
// middleware and guard.RequireModule.
//
// Denials from /v1/authorize are 200 responses carrying the decision; store
// failures and exhausted retries are 503 with "retryable": true.
package api

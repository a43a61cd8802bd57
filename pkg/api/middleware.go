package api

import (
	"errors"
	"net/http"

	"github.com/sirupsen/logrus"

	"github.com/platinummonkey/gatekeeper/pkg/contextkeys"
	"github.com/platinummonkey/gatekeeper/pkg/entitlement"
	"github.com/platinummonkey/gatekeeper/pkg/guard"
	"github.com/platinummonkey/gatekeeper/pkg/httputil"
	"github.com/platinummonkey/gatekeeper/pkg/rbac"
)

// ActorMiddleware resolves the X-User-ID header to a tenant membership and
// stores the actor in the request context. Unknown users are rejected with
// 401; a failing actor store yields 503.
//
// REQUIRES: authentication must have happened upstream. The header is trusted.
func ActorMiddleware(members *rbac.Service, logger *logrus.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			userID := r.Header.Get(UserIDHeader)
			if userID == "" {
				httputil.WriteUnauthorized(w, "missing "+UserIDHeader+" header")
				return
			}

			actor, err := members.LoadActor(r.Context(), userID)
			if err != nil {
				if errors.Is(err, rbac.ErrActorNotFound) {
					httputil.WriteUnauthorized(w, "unknown user")
					return
				}
				logger.WithError(err).WithField("user_id", userID).Warn("Failed to load actor")
				httputil.WriteEntitlementError(w, entitlement.Unavailable("failed to load actor", err))
				return
			}

			ctx := contextkeys.WithActor(r.Context(), actor)
			ctx = contextkeys.WithUserID(ctx, actor.UserID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// actorFrom returns the actor placed in the context by ActorMiddleware
func actorFrom(r *http.Request) *rbac.Actor {
	return guard.ActorFromContext(r.Context())
}

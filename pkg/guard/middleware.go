package guard

import (
	"context"
	"net/http"

	"github.com/sirupsen/logrus"

	"github.com/platinummonkey/gatekeeper/pkg/contextkeys"
	"github.com/platinummonkey/gatekeeper/pkg/entitlement"
	"github.com/platinummonkey/gatekeeper/pkg/httputil"
	"github.com/platinummonkey/gatekeeper/pkg/rbac"
)

// DefaultLandingPath is where denied navigation is redirected
const DefaultLandingPath = "/"

// ActorFromContext returns the actor stored by the actor middleware, or nil
func ActorFromContext(ctx context.Context) *rbac.Actor {
	actor, _ := ctx.Value(contextkeys.ActorKey).(*rbac.Actor)
	return actor
}

// RequireModule guards a route by module permission. Denied requests are
// redirected to landingPath with 303 See Other rather than shown an error
// page. Infrastructure failures return 503.
//
// REQUIRES: the actor middleware must run before this middleware.
func (g *Guard) RequireModule(module rbac.Module, landingPath string) func(http.Handler) http.Handler {
	if landingPath == "" {
		landingPath = DefaultLandingPath
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			actor := ActorFromContext(r.Context())

			decision, err := g.Authorize(r.Context(), actor, module, nil)
			if err != nil {
				g.logger.WithError(err).WithField("module", module).Warn("Route guard could not evaluate entitlements")
				if entitlement.IsRetryable(err) {
					httputil.WriteEntitlementError(w, err)
					return
				}
				httputil.WriteServiceUnavailable(w, "entitlements temporarily unavailable")
				return
			}

			if !decision.Allowed {
				g.logger.WithFields(logrus.Fields{
					"module":  module,
					"user_id": contextkeys.GetUserID(r.Context()),
					"path":    r.URL.Path,
					"reason":  decision.Reason,
				}).Debug("Redirecting denied navigation")
				http.Redirect(w, r, landingPath, http.StatusSeeOther)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

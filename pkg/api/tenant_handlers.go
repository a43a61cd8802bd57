package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"github.com/platinummonkey/gatekeeper/pkg/audit"
	"github.com/platinummonkey/gatekeeper/pkg/httputil"
	"github.com/platinummonkey/gatekeeper/pkg/rbac"
	"github.com/platinummonkey/gatekeeper/pkg/subscription"
	"github.com/platinummonkey/gatekeeper/pkg/transitions"
)

// transitionFunc applies one plan transition
type transitionFunc func(ctx context.Context, tenantID string) (transitions.Result, error)

// tenantTransitions lists the transitions a tenant's own administrators may
// request. The rest (onboard, renew, deactivate) belong to platform operators.
var tenantTransitions = map[transitions.Kind]bool{
	transitions.KindUpgrade:    true,
	transitions.KindDowngrade:  true,
	transitions.KindReactivate: true,
}

// isOperator reports whether actor administers the platform
func (s *Server) isOperator(actor *rbac.Actor) bool {
	return s.model.HasPermission(actor, rbac.ModuleSubOperators)
}

// getEntitlements handles GET /v1/tenants/{tenant}/entitlements. Members of
// the tenant and platform operators may read it.
func (s *Server) getEntitlements(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := httputil.ParsePathStringOrError(w, r, "tenant")
	if !ok {
		return
	}
	actor := actorFrom(r)
	if actor.TenantID != tenantID && !s.isOperator(actor) {
		httputil.WriteForbidden(w, "not a member of this tenant")
		return
	}

	summary, err := s.guard.EntitlementSummary(r.Context(), tenantID)
	if err != nil {
		if errors.Is(err, subscription.ErrNotFound) {
			httputil.WriteNotFoundError(w, "tenant has no subscription")
			return
		}
		httputil.WriteEntitlementError(w, err)
		return
	}
	_ = httputil.WriteSuccess(w, summary)
}

// applyTransition handles POST /v1/tenants/{tenant}/{transition}
func (s *Server) applyTransition(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := httputil.ParsePathStringOrError(w, r, "tenant")
	if !ok {
		return
	}
	kind := transitions.Kind(mux.Vars(r)["transition"])
	apply := s.transitionFor(kind)
	if apply == nil {
		httputil.WriteNotFoundError(w, "unknown transition")
		return
	}

	actor := actorFrom(r)
	if !s.isOperator(actor) {
		if !tenantTransitions[kind] || actor.TenantID != tenantID || !s.model.CanManageAccess(actor) {
			httputil.WriteForbidden(w, "not allowed to "+string(kind)+" this tenant")
			return
		}
	}

	result, err := apply(r.Context(), tenantID)
	if err != nil {
		s.logger.WithError(err).WithFields(logrus.Fields{
			"tenant_id":  tenantID,
			"transition": kind,
			"user_id":    actor.UserID,
		}).Warn("Plan transition failed")

		event := audit.NewEvent(r.Context(), audit.SubscriptionEvent(string(kind)), audit.EventStatusFailure, tenantID, actor.UserID)
		event.Message = "Plan transition failed"
		event.ErrorMessage = err.Error()
		s.record(r.Context(), event)

		s.writeTransitionError(w, err)
		return
	}

	if result.Changed {
		event := audit.NewEvent(r.Context(), audit.SubscriptionEvent(string(kind)), audit.EventStatusSuccess, tenantID, actor.UserID)
		event.Metadata = map[string]interface{}{
			"plan":    result.State.Plan,
			"active":  result.State.Active,
			"version": result.State.Version,
		}
		s.record(r.Context(), event)
	}

	status := http.StatusOK
	if kind == transitions.KindOnboard && result.Changed {
		status = http.StatusCreated
	}
	_ = httputil.WriteJSON(w, status, result)
}

func (s *Server) transitionFor(kind transitions.Kind) transitionFunc {
	switch kind {
	case transitions.KindOnboard:
		return s.transitions.Onboard
	case transitions.KindUpgrade:
		return s.transitions.Upgrade
	case transitions.KindDowngrade:
		return s.transitions.Downgrade
	case transitions.KindRenew:
		return s.transitions.Renew
	case transitions.KindDeactivate:
		return s.transitions.Deactivate
	case transitions.KindReactivate:
		return s.transitions.Reactivate
	default:
		return nil
	}
}

func (s *Server) writeTransitionError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, subscription.ErrNotFound):
		httputil.WriteNotFoundError(w, "tenant has no subscription")
	case errors.Is(err, transitions.ErrSettlementFailed):
		httputil.WriteErrorMessage(w, http.StatusPaymentRequired, err.Error())
	default:
		httputil.WriteEntitlementError(w, err)
	}
}

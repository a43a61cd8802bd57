package api

import (
	"errors"
	"net/http"

	"github.com/platinummonkey/gatekeeper/pkg/audit"
	"github.com/platinummonkey/gatekeeper/pkg/entitlement"
	"github.com/platinummonkey/gatekeeper/pkg/guard"
	"github.com/platinummonkey/gatekeeper/pkg/httputil"
	"github.com/platinummonkey/gatekeeper/pkg/quota"
	"github.com/platinummonkey/gatekeeper/pkg/rbac"
)

// GrantMembershipRequest adds a user to the caller's tenant. A missing
// permission list gives the role defaults.
type GrantMembershipRequest struct {
	UserID      string    `json:"user_id"`
	Role        rbac.Role `json:"role"`
	Permissions *[]string `json:"permissions,omitempty"`
}

// UpdatePermissionsRequest replaces a member's permission set
type UpdatePermissionsRequest struct {
	Permissions []string `json:"permissions"`
}

// toPermissions keeps unknown modules so that validation can reject them
func toPermissions(values []string) rbac.Permissions {
	perms := make(rbac.Permissions, 0, len(values))
	for _, v := range values {
		perms = append(perms, rbac.Module(v))
	}
	return perms
}

// grantMembership handles POST /v1/members. Every member but an owner takes
// a staff seat, so the seat limit is checked first. Existing members over a
// lowered limit keep their seats; only new grants are refused, and re-granting
// a member who already holds a seat does not need another one.
func (s *Server) grantMembership(w http.ResponseWriter, r *http.Request) {
	var req GrantMembershipRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if !httputil.RequireNonEmpty(w, req.UserID, "user_id") {
		return
	}

	actor := actorFrom(r)
	member := &rbac.Actor{UserID: req.UserID, TenantID: actor.TenantID, Role: req.Role}
	if req.Permissions != nil {
		member.Permissions = toPermissions(*req.Permissions)
	}

	var seat *guard.MeteredAction
	if req.Role != rbac.RoleOwner && !s.holdsSeat(r, actor.TenantID, req.UserID) {
		seat = &guard.MeteredAction{Secondary: quota.ResourceStaff}
	}
	decision, err := s.guard.Authorize(r.Context(), actor, rbac.ModuleStaffRecords, seat)
	if err != nil {
		httputil.WriteEntitlementError(w, err)
		return
	}
	if !decision.Allowed {
		s.writeDenied(w, decision)
		return
	}

	granted, err := s.members.GrantMembership(r.Context(), actor, member)
	if err != nil {
		s.writeMembershipError(w, err)
		return
	}

	event := audit.NewEvent(r.Context(), audit.EventTypeMembershipGrant, audit.EventStatusSuccess, granted.TenantID, actor.UserID)
	event.TargetID = granted.UserID
	event.Metadata = map[string]interface{}{
		"role":        granted.Role,
		"permissions": granted.Permissions.Strings(),
	}
	s.record(r.Context(), event)

	_ = httputil.WriteCreated(w, granted)
}

// holdsSeat reports whether userID is already a non-owner member of tenantID.
// Lookup failures count as no seat; the grant itself reports them.
func (s *Server) holdsSeat(r *http.Request, tenantID, userID string) bool {
	existing, err := s.members.LoadActor(r.Context(), userID)
	if err != nil {
		return false
	}
	return existing.TenantID == tenantID && existing.Role != rbac.RoleOwner
}

// updatePermissions handles PUT /v1/members/{user}/permissions
func (s *Server) updatePermissions(w http.ResponseWriter, r *http.Request) {
	userID, ok := httputil.ParsePathStringOrError(w, r, "user")
	if !ok {
		return
	}
	var req UpdatePermissionsRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	actor := actorFrom(r)
	updated, err := s.members.UpdatePermissions(r.Context(), actor, userID, toPermissions(req.Permissions))
	if err != nil {
		s.writeMembershipError(w, err)
		return
	}

	event := audit.NewEvent(r.Context(), audit.EventTypePermissionsUpdate, audit.EventStatusSuccess, updated.TenantID, actor.UserID)
	event.TargetID = updated.UserID
	event.Metadata = map[string]interface{}{"permissions": updated.Permissions.Strings()}
	s.record(r.Context(), event)

	_ = httputil.WriteSuccess(w, updated)
}

// removeMembership handles DELETE /v1/members/{user}
func (s *Server) removeMembership(w http.ResponseWriter, r *http.Request) {
	userID, ok := httputil.ParsePathStringOrError(w, r, "user")
	if !ok {
		return
	}

	actor := actorFrom(r)
	if err := s.members.RemoveMembership(r.Context(), actor, userID); err != nil {
		s.writeMembershipError(w, err)
		return
	}

	event := audit.NewEvent(r.Context(), audit.EventTypeMembershipRemove, audit.EventStatusSuccess, actor.TenantID, actor.UserID)
	event.TargetID = userID
	s.record(r.Context(), event)

	httputil.WriteNoContent(w)
}

// writeDenied answers a mutation refused by an entitlement decision. The
// decision is the body so clients can render the upgrade prompt.
func (s *Server) writeDenied(w http.ResponseWriter, decision entitlement.Decision) {
	status := http.StatusForbidden
	switch decision.Reason {
	case entitlement.ReasonQuotaExceeded:
		status = http.StatusPaymentRequired
	case entitlement.ReasonSubscriptionInactive:
		status = http.StatusConflict
	}
	_ = httputil.WriteJSON(w, status, AuthorizeResponse{
		Decision:        decision,
		UpgradeRequired: decision.UpgradeRequired(),
	})
}

func (s *Server) writeMembershipError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, rbac.ErrInvalidPermissions):
		httputil.WriteBadRequest(w, err.Error())
	case errors.Is(err, rbac.ErrActorNotFound):
		httputil.WriteNotFoundError(w, "member not found")
	case errors.Is(err, entitlement.ErrPermissionDenied):
		httputil.WriteForbidden(w, err.Error())
	default:
		s.logger.WithError(err).Warn("Membership change failed")
		httputil.WriteEntitlementError(w, entitlement.Unavailable("membership change failed", err))
	}
}

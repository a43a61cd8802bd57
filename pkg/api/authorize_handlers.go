package api

import (
	"errors"
	"net/http"

	"github.com/platinummonkey/gatekeeper/pkg/entitlement"
	"github.com/platinummonkey/gatekeeper/pkg/guard"
	"github.com/platinummonkey/gatekeeper/pkg/httputil"
	"github.com/platinummonkey/gatekeeper/pkg/quota"
	"github.com/platinummonkey/gatekeeper/pkg/rbac"
	"github.com/platinummonkey/gatekeeper/pkg/subscription"
)

// AuthorizeRequest asks whether the caller may use Module. Metered reserves
// one unit of Kind (appointment by default); Secondary checks a capped
// resource such as staff seats.
type AuthorizeRequest struct {
	Module    string `json:"module"`
	Metered   bool   `json:"metered,omitempty"`
	Kind      string `json:"kind,omitempty"`
	Secondary string `json:"secondary,omitempty"`
}

func (req AuthorizeRequest) action() *guard.MeteredAction {
	switch {
	case req.Secondary != "":
		return &guard.MeteredAction{Secondary: quota.Resource(req.Secondary)}
	case req.Metered:
		return &guard.MeteredAction{Kind: quota.Kind(req.Kind)}
	default:
		return nil
	}
}

// AuthorizeResponse is a decision plus the hint the presentation layer uses
// to show the upgrade prompt.
type AuthorizeResponse struct {
	entitlement.Decision
	UpgradeRequired bool `json:"upgrade_required"`
}

// ReleaseRequest hands back a unit reserved by an earlier metered authorize
// whose action did not complete. Module, Version and ReservationID repeat
// that authorize call and its decision.
type ReleaseRequest struct {
	Module        string `json:"module"`
	Kind          string `json:"kind,omitempty"`
	Version       int64  `json:"version"`
	ReservationID string `json:"reservation_id"`
}

// authorize handles POST /v1/authorize. Every decision, including denials,
// is a 200; only infrastructure failures are errors.
func (s *Server) authorize(w http.ResponseWriter, r *http.Request) {
	var req AuthorizeRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if !httputil.RequireNonEmpty(w, req.Module, "module") {
		return
	}

	decision, err := s.guard.Authorize(r.Context(), actorFrom(r), rbac.Module(req.Module), req.action())
	if err != nil {
		httputil.WriteEntitlementError(w, err)
		return
	}

	_ = httputil.WriteSuccess(w, AuthorizeResponse{
		Decision:        decision,
		UpgradeRequired: decision.UpgradeRequired(),
	})
}

// release handles POST /v1/release
func (s *Server) release(w http.ResponseWriter, r *http.Request) {
	var req ReleaseRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if !httputil.RequireNonEmpty(w, req.Module, "module") ||
		!httputil.RequireNonEmpty(w, req.ReservationID, "reservation_id") {
		return
	}
	if req.Version <= 0 {
		httputil.WriteBadRequest(w, "version is required")
		return
	}

	action := &guard.MeteredAction{Kind: quota.Kind(req.Kind)}
	reservation := quota.Reservation{ID: req.ReservationID, Version: req.Version}
	err := s.guard.Release(r.Context(), actorFrom(r), rbac.Module(req.Module), action, reservation)
	switch {
	case errors.Is(err, subscription.ErrReservationNotFound):
		httputil.WriteConflict(w, "reservation is unknown or already released")
		return
	case err != nil:
		httputil.WriteEntitlementError(w, err)
		return
	}
	httputil.WriteNoContent(w)
}

package api

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/platinummonkey/gatekeeper/pkg/audit"
	"github.com/platinummonkey/gatekeeper/pkg/entitlement"
	"github.com/platinummonkey/gatekeeper/pkg/httputil"
)

// record writes an audit event. A failing audit log never fails the request.
func (s *Server) record(ctx context.Context, event *audit.Event) {
	if err := s.audit.Log(ctx, event); err != nil {
		s.logger.WithError(err).WithField("event_type", event.EventType).Warn("Failed to record audit event")
	}
}

// listAuditEvents handles GET /v1/tenants/{tenant}/audit. Tenant members who
// manage access and platform operators may read it.
//
// Query parameters: event_type (repeatable), actor, since, until (RFC 3339),
// limit, offset and format (json, ndjson or csv).
func (s *Server) listAuditEvents(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := httputil.ParsePathStringOrError(w, r, "tenant")
	if !ok {
		return
	}
	actor := actorFrom(r)
	if !s.isOperator(actor) && (actor.TenantID != tenantID || !s.model.CanManageAccess(actor)) {
		httputil.WriteForbidden(w, "not allowed to read this tenant's audit log")
		return
	}

	query := r.URL.Query()
	format, err := audit.ParseExportFormat(query.Get("format"))
	if err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}
	filter, err := parseAuditFilter(tenantID, query)
	if err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}

	events, err := s.auditSearch.Search(r.Context(), filter)
	if err != nil {
		s.logger.WithError(err).WithField("tenant_id", tenantID).Warn("Audit search failed")
		httputil.WriteEntitlementError(w, entitlement.Unavailable("audit search failed", err))
		return
	}

	w.Header().Set("Content-Type", format.ContentType())
	w.WriteHeader(http.StatusOK)
	if err := audit.Export(w, events, format); err != nil {
		s.logger.WithError(err).Warn("Failed to write audit export")
	}
}

func parseAuditFilter(tenantID string, query url.Values) (audit.SearchFilter, error) {
	filter := audit.SearchFilter{
		TenantID: tenantID,
		ActorID:  query.Get("actor"),
	}
	for _, t := range query["event_type"] {
		filter.EventTypes = append(filter.EventTypes, audit.EventType(t))
	}

	var err error
	if filter.StartTime, err = parseTimeParam(query, "since"); err != nil {
		return filter, err
	}
	if filter.EndTime, err = parseTimeParam(query, "until"); err != nil {
		return filter, err
	}
	if filter.Limit, err = parseIntParam(query, "limit"); err != nil {
		return filter, err
	}
	if filter.Offset, err = parseIntParam(query, "offset"); err != nil {
		return filter, err
	}
	return filter, nil
}

func parseTimeParam(query url.Values, name string) (*time.Time, error) {
	v := query.Get(name)
	if v == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, v)
	if err != nil {
		return nil, fmt.Errorf("%s must be an RFC 3339 timestamp", name)
	}
	return &t, nil
}

func parseIntParam(query url.Values, name string) (int, error) {
	v := query.Get(name)
	if v == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("%s must be a non-negative integer", name)
	}
	return n, nil
}

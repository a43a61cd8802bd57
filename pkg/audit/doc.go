// Package audit records who changed a tenant's access or subscription.
//
// # Event Types
//
// Access: membership_grant, membership_remove, permissions_update
// Subscription: onboard, upgrade, downgrade, renew, deactivate, reactivate
//
// Entitlement decisions themselves are not audited; they are counted by the
// decision metrics instead.
//
// # Loggers
//
//   - LogrusLogger: structured log lines tagged audit=true
//   - MemoryLogger: bounded in-process log, searchable
//   - DBLogger: PostgreSQL audit_events table, searchable
//   - MultiLogger: fan-out to several of the above
//
// # Usage Example
//
//	event := audit.NewEvent(ctx, audit.EventTypeMembershipGrant, audit.EventStatusSuccess, actor.TenantID, actor.UserID)
//	event.TargetID = member.UserID
//	if err := logger.Log(ctx, event); err != nil {
//		log.WithError(err).Warn("Failed to record audit event")
//	}
//
// Search the last day of permission changes:
//
//	since := time.Now().Add(-24 * time.Hour)
//	events, err := db.Search(ctx, audit.SearchFilter{
//		TenantID:   "salon",
//		EventTypes: []audit.EventType{audit.EventTypePermissionsUpdate},
//		StartTime:  &since,
//	})
package audit

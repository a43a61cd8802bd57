package audit

import (
	"context"
	"time"

	"github.com/platinummonkey/gatekeeper/pkg/contextkeys"
)

// EventType represents the category of audit event
type EventType string

const (
	// Access-control events
	EventTypeMembershipGrant   EventType = "access.membership_grant"
	EventTypeMembershipRemove  EventType = "access.membership_remove"
	EventTypePermissionsUpdate EventType = "access.permissions_update"

	// Subscription events. The suffix is the transition kind.
	EventTypeSubscriptionOnboard    EventType = "subscription.onboard"
	EventTypeSubscriptionUpgrade    EventType = "subscription.upgrade"
	EventTypeSubscriptionDowngrade  EventType = "subscription.downgrade"
	EventTypeSubscriptionRenew      EventType = "subscription.renew"
	EventTypeSubscriptionDeactivate EventType = "subscription.deactivate"
	EventTypeSubscriptionReactivate EventType = "subscription.reactivate"
)

// SubscriptionEvent returns the event type for a transition kind
func SubscriptionEvent(kind string) EventType {
	return EventType("subscription." + kind)
}

// EventStatus represents the outcome of an event
type EventStatus string

const (
	EventStatusSuccess EventStatus = "success"
	EventStatusFailure EventStatus = "failure"
	EventStatusDenied  EventStatus = "denied"
)

// Event is a single audit log entry. TenantID is the tenant whose access or
// subscription changed; ActorID made the change and TargetID is the member
// it applied to, if any.
type Event struct {
	ID        int64       `json:"id"`
	Timestamp time.Time   `json:"timestamp"`
	EventType EventType   `json:"event_type"`
	Status    EventStatus `json:"status"`

	TenantID string `json:"tenant_id"`
	ActorID  string `json:"actor_id,omitempty"`
	TargetID string `json:"target_id,omitempty"`

	RequestID    string                 `json:"request_id,omitempty"`
	Message      string                 `json:"message,omitempty"`
	ErrorMessage string                 `json:"error_message,omitempty"`
	Metadata     map[string]interface{} `json:"metadata,omitempty"`
}

// NewEvent builds an event stamped with the current time and the request id
// carried by ctx
func NewEvent(ctx context.Context, eventType EventType, status EventStatus, tenantID, actorID string) *Event {
	return &Event{
		Timestamp: time.Now().UTC(),
		EventType: eventType,
		Status:    status,
		TenantID:  tenantID,
		ActorID:   actorID,
		RequestID: contextkeys.GetRequestID(ctx),
	}
}

// SearchFilter narrows an audit search. TenantID is required.
type SearchFilter struct {
	TenantID   string
	EventTypes []EventType
	ActorID    string
	StartTime  *time.Time
	EndTime    *time.Time

	Limit  int
	Offset int
}

// DefaultSearchLimit caps searches that do not set a limit
const DefaultSearchLimit = 100

// MaxSearchLimit is the largest page a search returns
const MaxSearchLimit = 1000

func (f SearchFilter) limit() int {
	switch {
	case f.Limit <= 0:
		return DefaultSearchLimit
	case f.Limit > MaxSearchLimit:
		return MaxSearchLimit
	default:
		return f.Limit
	}
}

// matches reports whether e passes every filter but the pagination
func (f SearchFilter) matches(e *Event) bool {
	if e.TenantID != f.TenantID {
		return false
	}
	if f.ActorID != "" && e.ActorID != f.ActorID {
		return false
	}
	if f.StartTime != nil && e.Timestamp.Before(*f.StartTime) {
		return false
	}
	if f.EndTime != nil && e.Timestamp.After(*f.EndTime) {
		return false
	}
	if len(f.EventTypes) == 0 {
		return true
	}
	for _, t := range f.EventTypes {
		if e.EventType == t {
			return true
		}
	}
	return false
}

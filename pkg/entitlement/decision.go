package entitlement

// Reason explains an entitlement decision
type Reason string

const (
	ReasonOK                   Reason = "ok"
	ReasonQuotaExceeded        Reason = "plan-quota-exceeded"
	ReasonPermissionDenied     Reason = "permission-denied"
	ReasonSubscriptionInactive Reason = "subscription-inactive"
)

// Decision is the result of a single entitlement evaluation. It is never persisted.
type Decision struct {
	Allowed bool   `json:"allowed"`
	Reason  Reason `json:"reason"`

	// Used and Limit are populated when a quota was consulted. Limit is -1
	// for unlimited plans.
	Used  int64 `json:"used,omitempty"`
	Limit int64 `json:"limit,omitempty"`

	// Version is the subscription version a reservation was made against.
	// ReservationID identifies the reserved unit. Both are required to
	// release it, and a reservation can be released once.
	Version       int64  `json:"version,omitempty"`
	ReservationID string `json:"reservation_id,omitempty"`
}

// Allow returns an ok decision
func Allow() Decision {
	return Decision{Allowed: true, Reason: ReasonOK}
}

// Deny returns a denial with the given reason
func Deny(reason Reason) Decision {
	return Decision{Allowed: false, Reason: reason}
}

// QuotaExceeded returns a plan-quota-exceeded decision carrying the counters
func QuotaExceeded(used, limit int64) Decision {
	return Decision{Allowed: false, Reason: ReasonQuotaExceeded, Used: used, Limit: limit}
}

// UpgradeRequired reports whether the user should be prompted to upgrade
func (d Decision) UpgradeRequired() bool {
	return d.Reason == ReasonQuotaExceeded
}

// Err converts a denial into its sentinel error. Allowed decisions return nil.
func (d Decision) Err() error {
	switch d.Reason {
	case ReasonOK:
		return nil
	case ReasonQuotaExceeded:
		return ErrQuotaExceeded
	case ReasonPermissionDenied:
		return ErrPermissionDenied
	case ReasonSubscriptionInactive:
		return ErrSubscriptionInactive
	default:
		if d.Allowed {
			return nil
		}
		return ErrPermissionDenied
	}
}

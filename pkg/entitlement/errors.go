package entitlement

import (
	"errors"
	"fmt"
)

var (
	// ErrPermissionDenied means the actor cannot reach the module. Expected; redirect.
	ErrPermissionDenied = errors.New("permission denied")

	// ErrQuotaExceeded means the plan quota is used up. Expected; prompt upgrade.
	ErrQuotaExceeded = errors.New("plan quota exceeded")

	// ErrSubscriptionInactive means the subscription lapsed or was cancelled.
	ErrSubscriptionInactive = errors.New("subscription inactive")

	// ErrStoreUnavailable is a transient infrastructure failure. Never a denial.
	ErrStoreUnavailable = errors.New("entitlement store unavailable")

	// ErrTransitionConflict means a concurrent plan change was detected and
	// retries were exhausted.
	ErrTransitionConflict = errors.New("concurrent plan transition")
)

// IsRetryable reports whether err is a transient failure the caller should retry
func IsRetryable(err error) bool {
	return errors.Is(err, ErrStoreUnavailable) || errors.Is(err, ErrTransitionConflict)
}

// Unavailable wraps a store failure so that it matches ErrStoreUnavailable
func Unavailable(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrStoreUnavailable) {
		return err
	}
	return fmt.Errorf("%s: %w: %w", op, ErrStoreUnavailable, err)
}

// QuotaExceededError carries the resource and counters of a quota denial
type QuotaExceededError struct {
	Resource string
	Current  int64
	Limit    int64
}

func (e *QuotaExceededError) Error() string {
	return fmt.Sprintf("quota exceeded for %s (%d/%d)", e.Resource, e.Current, e.Limit)
}

// Is makes errors.Is(err, ErrQuotaExceeded) match
func (e *QuotaExceededError) Is(target error) bool {
	return target == ErrQuotaExceeded
}

// IsQuotaExceeded checks if an error is a quota exceeded error
func IsQuotaExceeded(err error) bool {
	var qe *QuotaExceededError
	return errors.As(err, &qe) || errors.Is(err, ErrQuotaExceeded)
}

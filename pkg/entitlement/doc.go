// Package entitlement defines the outcome of entitlement checks and the error
// taxonomy shared by every component of the engine.
//
// Denials (permission, quota, inactive subscription) are ordinary Decision
// values. Only infrastructure faults surface as errors:
//
//	decision, err := guard.Authorize(ctx, actor, rbac.ModuleScheduling, guard.Metered(quota.KindBooking))
//	if err != nil {
//		if entitlement.IsRetryable(err) {
//			// show "try again", keep the last known entitlement state
//		}
//		return err
//	}
//	if decision.UpgradeRequired() {
//		// prompt upgrade
//	}
package entitlement

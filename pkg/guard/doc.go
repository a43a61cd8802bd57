// Package guard is the access guard: the one place that answers "may this
// actor do this here".
//
// Authorize checks the actor's module permission first and only then, for
// metered actions, the tenant's plan quota. The ordering matters: a staff
// member without access to a module can never consume the tenant's quota by
// probing it.
//
//	decision, err := g.Authorize(ctx, actor, rbac.ModuleScheduling,
//		&guard.MeteredAction{Kind: quota.KindAppointment})
//	switch {
//	case err != nil:
//		// store unavailable or transition conflict; retry
//	case decision.UpgradeRequired():
//		// prompt the upgrade flow
//	case !decision.Allowed:
//		// redirect
//	}
//
// RequireModule wraps navigation routes and redirects denied requests to a
// landing path. EntitlementSummary produces the read-only plan and usage view.
package guard

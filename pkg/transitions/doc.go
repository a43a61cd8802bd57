// Package transitions implements the subscription state machine.
//
// A tenant is free, paid or inactive. The Manager moves tenants between those
// states:
//
//	onboard     -> free
//	upgrade     free -> paid        (settled, counter reset, new cycle)
//	downgrade   paid -> free        (settled, counter reset, new cycle)
//	renew       free -> free        (counter reset, cycle advanced)
//	            paid -> paid        (cycle advanced)
//	deactivate  free|paid -> inactive
//	reactivate  inactive -> free    (settled, new cycle)
//
// Every transition is a read, an optional settlement call, and a
// compare-and-swap write on the state version. A lost race reloads and
// re-plans; after MaxAttempts the caller receives
// entitlement.ErrTransitionConflict. Transitions that find the tenant already
// in the target state return Changed=false and write nothing.
//
// Scheduler runs renewals on a cron schedule for every tenant whose cycle
// has ended.
package transitions

// Package workflow drives emergency key recovery through a persistent,
// dual-controlled state machine.
//
// # States
//
// A request moves through
//
//	SUBMITTED → ADMIN1_APPROVED → ADMIN2_APPROVED → DELAYED → EXECUTABLE → COMPLETED
//
// with side branches to CANCELLED (from any state before EXECUTABLE) and
// EXPIRED (from any non-terminal state once the validity window passes).
// COMPLETED, CANCELLED, and EXPIRED are terminal and immutable.
//
// # Dual control and delay
//
// Two different administrators must approve, and neither may be the
// requester. The second approval starts a mandatory delay before the
// request becomes executable, giving the account owner time to cancel a
// recovery they did not ask for. The owner is notified when the delay
// starts; cancellation uses a single-use token issued at submission and
// stored only as a hash.
//
// # Concurrency
//
// Every transition is a compare-and-swap on the request version. Racing
// approvals, cancellation, execution, and the sweep each resolve to one
// winner per step; losers observe StateConflict or the terminal-state
// errors and retry or give up. The Sweeper applies the time-based
// transitions (DELAYED → EXECUTABLE, anything → EXPIRED) on a fixed
// interval and is idempotent, so running several instances is safe.
package workflow

// Package notify delivers recovery lifecycle events to account owners and
// operators.
//
// Delivery is fire-and-forget from the workflow's point of view: the engine
// hands an event to a Notifier on a detached goroutine and never blocks on
// or retries it. Implementations here cover structured-log delivery for
// development, SMTP email for production, and fan-out composition so both
// can run at once. Events carry identifiers and timestamps only, never key
// material.
package notify

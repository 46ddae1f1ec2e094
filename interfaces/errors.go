package interfaces

import (
	"errors"
	"fmt"
)

// ErrorCategory classifies failures from key-touching operations. Categories
// drive retry policy, circuit breaking, and audit records; they are part of
// the error contract between components.
type ErrorCategory string

const (
	// CategoryStoreUnavailable marks transient secret store failures,
	// retryable with backoff.
	CategoryStoreUnavailable ErrorCategory = "store_unavailable"

	// CategoryStoreSealed means the secret store is sealed and needs
	// operator action. Never retried automatically.
	CategoryStoreSealed ErrorCategory = "store_sealed"

	// CategoryAuthExpired means the store token expired. Re-authenticate
	// and retry exactly once.
	CategoryAuthExpired ErrorCategory = "auth_expired"

	// CategoryInvalidComponent marks a malformed master key component.
	// Fatal: a configuration bug, not a runtime condition.
	CategoryInvalidComponent ErrorCategory = "invalid_component"

	// CategoryCustodianUnavailable means recovery cannot proceed without
	// the manual custodian step. A process gate, not a fault.
	CategoryCustodianUnavailable ErrorCategory = "custodian_unavailable"

	// CategoryDualControlViolation marks a rejected approval that would
	// break the two-distinct-admins rule.
	CategoryDualControlViolation ErrorCategory = "dual_control_violation"

	// CategoryStateConflict marks an optimistic-concurrency loss. The
	// caller re-reads and retries.
	CategoryStateConflict ErrorCategory = "state_conflict"

	// CategoryAlreadyCompleted marks an idempotent completion outcome,
	// surfaced distinctly from true failures.
	CategoryAlreadyCompleted ErrorCategory = "already_completed"

	// CategoryAlreadyCancelled marks an idempotent cancellation outcome.
	CategoryAlreadyCancelled ErrorCategory = "already_cancelled"

	// CategoryAuditWriteFailure means the mandatory audit record could not
	// be written. Always fatal to the surrounding operation.
	CategoryAuditWriteFailure ErrorCategory = "audit_write_failure"

	// CategoryNotFound marks a missing secret, record, or request.
	CategoryNotFound ErrorCategory = "not_found"

	// CategoryInvalidInput marks rejected caller input such as a bad
	// cancel token or a malformed identifier.
	CategoryInvalidInput ErrorCategory = "invalid_input"

	// CategoryInternal is the fallback for unclassified failures.
	CategoryInternal ErrorCategory = "internal"
)

// String returns the category name.
func (c ErrorCategory) String() string { return string(c) }

var (
	// ErrStoreUnavailable is returned when the secret store cannot be
	// reached. Transient: retryable with backoff.
	ErrStoreUnavailable = errors.New("secret store unavailable")

	// ErrStoreSealed is returned when the secret store is sealed and
	// cannot serve requests until an operator unseals it.
	ErrStoreSealed = errors.New("secret store is sealed")

	// ErrAuthExpired is returned when the store rejected the client's
	// token. The client re-authenticates and retries once.
	ErrAuthExpired = errors.New("secret store authentication expired")

	// ErrSecretNotFound is returned when the requested path or version
	// does not exist in the secret store.
	ErrSecretNotFound = errors.New("secret not found")

	// ErrInvalidComponent is returned when a master key component has the
	// wrong length or format. Fatal configuration error.
	ErrInvalidComponent = errors.New("invalid master key component")

	// ErrCustodianUnavailable is returned when an operation requires the
	// custodian-held component and none was supplied.
	ErrCustodianUnavailable = errors.New("custodian component unavailable")

	// ErrDualControlViolation is returned when an approval would violate
	// the two-distinct-admins rule, including requester self-approval.
	ErrDualControlViolation = errors.New("dual control violation")

	// ErrStateConflict is returned when a compare-and-swap update lost a
	// race. The caller re-reads the request and retries.
	ErrStateConflict = errors.New("request state conflict")

	// ErrAlreadyCompleted is returned by operations on a request that has
	// already been completed. No side effects occurred.
	ErrAlreadyCompleted = errors.New("recovery request already completed")

	// ErrAlreadyCancelled is returned by operations on a request that has
	// already been cancelled. No side effects occurred.
	ErrAlreadyCancelled = errors.New("recovery request already cancelled")

	// ErrAuditWriteFailure is returned when the mandatory audit entry
	// could not be appended. The enclosing operation fails even if its
	// cryptographic step succeeded.
	ErrAuditWriteFailure = errors.New("audit write failure")

	// ErrRequestNotFound is returned when a recovery request id is
	// unknown.
	ErrRequestNotFound = errors.New("recovery request not found")

	// ErrEscrowNotFound is returned when no escrow record exists for the
	// given user and survey.
	ErrEscrowNotFound = errors.New("escrow record not found")

	// ErrEscrowReferenced is returned when an escrow record cannot be
	// invalidated because a pending recovery request still references it.
	ErrEscrowReferenced = errors.New("escrow record referenced by pending recovery request")

	// ErrInvalidCancelToken is returned when a presented cancel token does
	// not match the stored hash.
	ErrInvalidCancelToken = errors.New("invalid cancel token")

	// ErrCancelWindowClosed is returned when cancellation is attempted
	// after the request became executable.
	ErrCancelWindowClosed = errors.New("cancellation window closed")

	// ErrNotExecutable is returned when recovery execution is attempted on
	// a request that is not in the executable state.
	ErrNotExecutable = errors.New("recovery request not executable")

	// ErrRequestExpired is returned by operations on a request past its
	// validity window.
	ErrRequestExpired = errors.New("recovery request expired")

	// ErrKeyVerification is returned when a derived key does not match the
	// stored verifier, typically because the supplied passphrase-derived
	// input was wrong.
	ErrKeyVerification = errors.New("derived key failed verification")

	// ErrAlreadyInitialized is returned when creation would overwrite
	// existing key material or verifiers: a second survey KEK, organization
	// verifier, or platform component would fork the key hierarchy.
	ErrAlreadyInitialized = errors.New("already initialized")
)

// Category maps an error to its taxonomy category by walking the wrap
// chain. Unclassified errors fall back to CategoryInternal.
func Category(err error) ErrorCategory {
	var opErr *OpError
	if errors.As(err, &opErr) && opErr.Category != "" {
		return opErr.Category
	}
	switch {
	case errors.Is(err, ErrStoreSealed):
		return CategoryStoreSealed
	case errors.Is(err, ErrStoreUnavailable):
		return CategoryStoreUnavailable
	case errors.Is(err, ErrAuthExpired):
		return CategoryAuthExpired
	case errors.Is(err, ErrInvalidComponent):
		return CategoryInvalidComponent
	case errors.Is(err, ErrCustodianUnavailable):
		return CategoryCustodianUnavailable
	case errors.Is(err, ErrDualControlViolation):
		return CategoryDualControlViolation
	case errors.Is(err, ErrStateConflict):
		return CategoryStateConflict
	case errors.Is(err, ErrAlreadyCompleted):
		return CategoryAlreadyCompleted
	case errors.Is(err, ErrAlreadyCancelled):
		return CategoryAlreadyCancelled
	case errors.Is(err, ErrAuditWriteFailure):
		return CategoryAuditWriteFailure
	case errors.Is(err, ErrSecretNotFound),
		errors.Is(err, ErrRequestNotFound),
		errors.Is(err, ErrEscrowNotFound):
		return CategoryNotFound
	case errors.Is(err, ErrInvalidCancelToken),
		errors.Is(err, ErrCancelWindowClosed),
		errors.Is(err, ErrNotExecutable),
		errors.Is(err, ErrRequestExpired),
		errors.Is(err, ErrEscrowReferenced),
		errors.Is(err, ErrKeyVerification),
		errors.Is(err, ErrAlreadyInitialized):
		return CategoryInvalidInput
	default:
		return CategoryInternal
	}
}

// OpError carries the operation name, target reference, and category for a
// failed key operation. Messages never include key bytes, passphrases,
// tokens, or ciphertexts.
type OpError struct {
	// Op is the operation that failed, such as "escrow" or "workflow.approve".
	Op string
	// Target references the object acted on, such as a store path or
	// request id. Never secret material.
	Target string
	// Category classifies the failure.
	Category ErrorCategory
	// Err is the underlying error.
	Err error
}

// Error formats the operation, target, and category with the underlying
// message.
func (e *OpError) Error() string {
	if e.Target == "" {
		return fmt.Sprintf("%s: [%s] %v", e.Op, e.Category, e.Err)
	}
	return fmt.Sprintf("%s %s: [%s] %v", e.Op, e.Target, e.Category, e.Err)
}

// Unwrap returns the underlying error.
func (e *OpError) Unwrap() error { return e.Err }

// E wraps err into an OpError, classifying it if no category is supplied.
func E(op, target string, err error) *OpError {
	return &OpError{Op: op, Target: target, Category: Category(err), Err: err}
}

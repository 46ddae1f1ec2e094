package interfaces

import "context"

// StoreHealth reports the secret store's availability for serving secrets.
type StoreHealth struct {
	// Initialized is false until the store has been set up.
	Initialized bool `json:"initialized"`
	// Sealed is true while the store holds its data encrypted and cannot
	// serve requests. Unsealing is an operator action.
	Sealed bool `json:"sealed"`
}

// SecretStore is a versioned key-value secret service with token-based
// authentication. All other components access secret material through this
// interface.
//
// Implementations classify failures into the package error taxonomy:
// ErrStoreSealed, ErrStoreUnavailable, ErrAuthExpired, ErrSecretNotFound.
// Every call is bounded by a timeout. Token lifecycle is internal: callers
// never see token management, and Authenticate is invoked transparently
// before expiry.
type SecretStore interface {
	// Put writes a new version of the secret at path and returns the
	// version number assigned by the store. Versions start at 1.
	Put(ctx context.Context, path string, value []byte) (int, error)

	// Get reads the secret at path. Version 0 requests the latest
	// version. Returns ErrSecretNotFound for unknown paths or versions.
	Get(ctx context.Context, path string, version int) ([]byte, error)

	// Health reports whether the store is initialized and unsealed.
	Health(ctx context.Context) (StoreHealth, error)

	// Authenticate performs a fresh login with the configured role
	// credentials. Implementations call it internally before token
	// expiry; exposing it lets operators force a re-login.
	Authenticate(ctx context.Context) error
}

// EscrowRecordStore persists escrow records independently of any in-memory
// key material.
type EscrowRecordStore interface {
	// Upsert creates the record or supersedes the existing one for the
	// same (user, survey) pair.
	Upsert(ctx context.Context, rec EscrowRecord) error

	// Get returns the record for (user, survey), or ErrEscrowNotFound.
	Get(ctx context.Context, user UserID, survey SurveyID) (EscrowRecord, error)

	// Delete removes the record. Callers enforce the
	// no-delete-while-referenced rule before calling.
	Delete(ctx context.Context, user UserID, survey SurveyID) error

	// ListByUser returns all records for a user, newest first.
	ListByUser(ctx context.Context, user UserID) ([]EscrowRecord, error)
}

// RecoveryRequestStore persists recovery requests. All status changes go
// through compare-and-swap updates keyed on the request version so that
// concurrent approvals, cancellation, and the expiry sweep are totally
// ordered per request.
type RecoveryRequestStore interface {
	// Create persists a new request. The id must be unused.
	Create(ctx context.Context, req RecoveryRequest) error

	// Get returns the request by id, or ErrRequestNotFound.
	Get(ctx context.Context, id string) (RecoveryRequest, error)

	// UpdateCAS persists req if the stored version still equals
	// req.Version, then increments the version. Returns ErrStateConflict
	// when the version moved, in which case the caller re-reads and
	// retries.
	UpdateCAS(ctx context.Context, req RecoveryRequest) error

	// ListByStatus returns requests currently in any of the given
	// statuses, oldest first.
	ListByStatus(ctx context.Context, statuses ...RequestStatus) ([]RecoveryRequest, error)

	// ListForEscrow returns all requests referencing the escrow record
	// for (user, survey), newest first. Callers filter by terminality.
	ListForEscrow(ctx context.Context, user UserID, survey SurveyID) ([]RecoveryRequest, error)
}

// AuditStore persists audit entries. Entries are append-only: no update or
// delete operations exist.
type AuditStore interface {
	// Append persists one entry. Failure is fatal to the operation that
	// produced the entry.
	Append(ctx context.Context, entry AuditEntry) error

	// List returns entries matching the filter, oldest first.
	List(ctx context.Context, filter AuditFilter) ([]AuditEntry, error)
}

// AuditLog is the narrow contract consumed by key operations. A key release
// must never be reported successful without a corresponding durable audit
// record, so Append failures are always fatal to the caller.
type AuditLog interface {
	Append(ctx context.Context, entry AuditEntry) error
}

// KEKRecoverer releases an escrowed survey key-encrypting-key. Implementations
// refuse unless an executable recovery request covers the (user, survey)
// pair, and never return key material without a durable audit record of the
// release. The caller wipes the returned key.
type KEKRecoverer interface {
	RecoverKEK(ctx context.Context, actor ActorID, user UserID, survey SurveyID, custodianComponent []byte) ([]byte, error)
}

// Notifier delivers events outside the system, fire-and-forget. Callers
// never block on or retry delivery; errors are logged and dropped.
type Notifier interface {
	Send(ctx context.Context, event Event) error
}

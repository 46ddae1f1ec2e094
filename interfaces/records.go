package interfaces

import (
	"time"
)

// RequestStatus is the state of a recovery request. Transitions follow
//
//	SUBMITTED → ADMIN1_APPROVED → ADMIN2_APPROVED → DELAYED → EXECUTABLE → COMPLETED
//
// with side branches to CANCELLED (from any pre-EXECUTABLE state) and
// EXPIRED (from any non-terminal state past the validity window). Terminal
// states are immutable.
type RequestStatus string

const (
	StatusSubmitted      RequestStatus = "SUBMITTED"
	StatusAdmin1Approved RequestStatus = "ADMIN1_APPROVED"
	StatusAdmin2Approved RequestStatus = "ADMIN2_APPROVED"
	StatusDelayed        RequestStatus = "DELAYED"
	StatusExecutable     RequestStatus = "EXECUTABLE"
	StatusCompleted      RequestStatus = "COMPLETED"
	StatusCancelled      RequestStatus = "CANCELLED"
	StatusExpired        RequestStatus = "EXPIRED"
)

// String returns the status name.
func (s RequestStatus) String() string { return string(s) }

// Valid reports whether the status is a known state.
func (s RequestStatus) Valid() bool {
	switch s {
	case StatusSubmitted, StatusAdmin1Approved, StatusAdmin2Approved,
		StatusDelayed, StatusExecutable, StatusCompleted,
		StatusCancelled, StatusExpired:
		return true
	}
	return false
}

// Terminal reports whether the status is immutable.
func (s RequestStatus) Terminal() bool {
	switch s {
	case StatusCompleted, StatusCancelled, StatusExpired:
		return true
	}
	return false
}

// Cancellable reports whether a request in this status may still be
// cancelled. Once executable, a request is either completed or left to
// expire.
func (s RequestStatus) Cancellable() bool {
	switch s {
	case StatusSubmitted, StatusAdmin1Approved, StatusAdmin2Approved, StatusDelayed:
		return true
	}
	return false
}

// RequesterView maps internal states to the coarse lifecycle a requester is
// allowed to observe. Admin identities and key material are never part of
// this view.
func (s RequestStatus) RequesterView() string {
	switch s {
	case StatusSubmitted:
		return "submitted"
	case StatusAdmin1Approved, StatusAdmin2Approved:
		return "pending-approval"
	case StatusDelayed:
		return "delayed"
	case StatusExecutable:
		return "ready"
	case StatusCompleted:
		return "completed"
	case StatusCancelled:
		return "cancelled"
	case StatusExpired:
		return "expired"
	default:
		return "unknown"
	}
}

// RecoveryRequest is the persistent record driving one emergency recovery.
// It is created on submission and mutated only through the workflow engine;
// Version is the optimistic-concurrency counter bumped by every update.
type RecoveryRequest struct {
	ID          string        `json:"id"`
	UserID      UserID        `json:"user_id"`
	SurveyID    SurveyID      `json:"survey_id"`
	RequestedBy ActorID       `json:"requested_by"`
	Status      RequestStatus `json:"status"`
	Version     int           `json:"version"`

	Admin1ID ActorID   `json:"admin1_id,omitempty"`
	Admin1At time.Time `json:"admin1_at,omitzero"`
	Admin2ID ActorID   `json:"admin2_id,omitempty"`
	Admin2At time.Time `json:"admin2_at,omitzero"`

	// DelayUntil is set when the request enters DELAYED; the request
	// becomes executable once the sweep observes the deadline passed.
	DelayUntil time.Time `json:"delay_until,omitzero"`

	// CancelTokenHash is the SHA-256 of the single-use cancel token issued
	// to the requester at submission. The token itself is never stored.
	CancelTokenHash string `json:"-"`

	CompletedAt time.Time `json:"completed_at,omitzero"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// ApprovedBy reports whether the given admin already holds one of the two
// approval slots.
func (r *RecoveryRequest) ApprovedBy(admin ActorID) bool {
	return (r.Admin1ID != "" && r.Admin1ID == admin) || (r.Admin2ID != "" && r.Admin2ID == admin)
}

// ExpiresAt returns the end of the request's validity window.
func (r *RecoveryRequest) ExpiresAt(window time.Duration) time.Time {
	return r.CreatedAt.Add(window)
}

// EscrowRecord tracks one escrowed survey key-encrypting-key. The record
// persists independently of any in-memory key material and is superseded,
// never silently deleted, while a pending recovery request references it.
type EscrowRecord struct {
	UserID   UserID   `json:"user_id"`
	SurveyID SurveyID `json:"survey_id"`

	// StorePath is the secret store location of the escrow ciphertext.
	StorePath string `json:"store_path"`

	// CiphertextVersion is the secret store version holding the current
	// ciphertext. Prior versions remain readable until invalidated.
	CiphertextVersion int `json:"ciphertext_version"`

	CreatedAt     time.Time `json:"created_at"`
	LastRotatedAt time.Time `json:"last_rotated_at"`
}

// AuditOutcome records whether the audited operation succeeded.
type AuditOutcome string

const (
	OutcomeSuccess AuditOutcome = "success"
	OutcomeFailure AuditOutcome = "failure"
)

// AuditEntry is one append-only audit record. An entry is written for every
// derive, escrow, recover, and state transition attempt, success or
// failure. Entries never contain key bytes, passphrases, or tokens.
type AuditEntry struct {
	ID            string        `json:"id"`
	Timestamp     time.Time     `json:"timestamp"`
	Actor         ActorID       `json:"actor"`
	Operation     string        `json:"operation"`
	TargetRef     string        `json:"target_ref"`
	Outcome       AuditOutcome  `json:"outcome"`
	ErrorCategory ErrorCategory `json:"error_category,omitempty"`
	Detail        string        `json:"detail,omitempty"`
}

// AuditFilter selects audit entries for review. Zero fields match
// everything.
type AuditFilter struct {
	Operation string
	TargetRef string
	Actor     ActorID
	Since     time.Time
	Until     time.Time
	Limit     int
}

// Event types delivered through the Notifier.
const (
	EventRecoveryDelayed   = "recovery.delayed"
	EventRecoveryExecuted  = "recovery.executed"
	EventRecoveryCancelled = "recovery.cancelled"
	EventRecoveryExpired   = "recovery.expired"
)

// Event is a notification about a recovery lifecycle change. Delivery is
// fire-and-forget; the workflow never blocks on it.
type Event struct {
	Type      string    `json:"type"`
	RequestID string    `json:"request_id"`
	UserID    UserID    `json:"user_id"`
	SurveyID  SurveyID  `json:"survey_id"`
	At        time.Time `json:"at"`
	Message   string    `json:"message,omitempty"`
}

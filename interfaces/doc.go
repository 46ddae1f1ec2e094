// Package interfaces defines the core interfaces and types for the survey key
// escrow system. It provides the contract between different components without
// implementation details.
//
// The package contains several key interfaces:
//
// # Secret Store
//
//   - SecretStore: versioned key-value secret service with token-based auth
//   - StoreHealth: seal/initialization status reported by the store
//
// # Persistence
//
//   - EscrowRecordStore: tracks escrowed per-user survey keys
//   - RecoveryRequestStore: recovery requests with compare-and-swap updates
//   - AuditStore: append-only audit entry persistence
//
// # Collaborators
//
//   - AuditLog: the narrow append contract consumed by every key operation
//   - Notifier: fire-and-forget event delivery
//
// # Type Definitions
//
// The package defines the identifier and record types used throughout the
// system:
//
//   - OrgID, TeamID, SurveyID, UserID, ActorID: validated identifiers
//   - EscrowRecord: one escrowed survey key-encrypting-key
//   - RecoveryRequest: state-machine record for an emergency recovery
//   - AuditEntry: one append-only audit record
//
// # Error Taxonomy
//
// All failures from key-touching operations are classified into categories
// (store availability, seal status, dual control, state conflicts, audit
// failures) and carried by OpError together with the operation name and
// target reference. Key bytes, passphrases, and tokens never appear in
// error messages.
//
// # Usage Patterns
//
// Components depend on these interfaces rather than concrete implementations:
//
//	func NewManager(
//	    store interfaces.SecretStore,
//	    records interfaces.EscrowRecordStore,
//	    audit interfaces.AuditLog,
//	) *Manager {
//	    // ...
//	}
package interfaces

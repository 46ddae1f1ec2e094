// Package audit implements the mandatory audit trail for key operations.
//
// Every derivation, escrow, recovery, and state transition attempt
// produces exactly one audit entry, success or failure. The trail is
// append-only: no store exposes update or delete operations, and a failed
// append is fatal to the operation that produced the entry. A key is never
// released without a durable record saying so.
//
// # Components
//
//   - Logger: the interfaces.AuditLog implementation used by key
//     operations. It stamps entries with an id and timestamp, persists
//     them through an interfaces.AuditStore, and mirrors them to the
//     structured log for operators.
//
//   - SQLiteStore: durable entry storage in SQLite. This is the
//     production store.
//
//   - MemoryStore: in-memory storage for tests, with append failure
//     injection for exercising the audit-failure-is-fatal paths.
//
//   - S3Archiver: periodic batch export of entries to an S3 bucket as
//     JSON Lines objects, for long-term retention outside the primary
//     database.
//
// Entries never contain key bytes, passphrases, tokens, or ciphertexts;
// they reference targets by store path or request id only.
package audit

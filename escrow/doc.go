// Package escrow stores and releases recovery copies of survey
// key-encrypting-keys.
//
// At escrow time the KEK is encrypted under the platform's published escrow
// public key and written to the secret store at the user's recovery path.
// No party can open the ciphertext alone: the matching private key is never
// stored and only exists transiently when the platform master key is
// reconstructed from both of its components.
//
// Release is gated twice. The manager refuses to decrypt unless an
// executable recovery request covers the escrow, and it refuses to return
// key material unless the release was durably audited. Escrow records
// referenced by a pending recovery request cannot be invalidated.
//
// EscrowRecords live in their own store (SQLite in production, memory in
// tests) so that escrow bookkeeping survives independently of the secret
// store holding the ciphertexts.
package escrow

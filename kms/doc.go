// Package kms implements the key hierarchy: split-knowledge reconstruction
// of the platform master key, deterministic derivation of organization and
// team keys, and the survey key-encrypting-key service.
//
// # Split-Master-Key Reconstruction
//
// The 64-byte platform master key is split into two components: one held in
// the secret store, one held offline by a human custodian. Neither component
// alone narrows the search space for the key. Reconstructor combines both
// inside a scoped callback and guarantees that the key and every
// intermediate copy are zeroed on all exit paths, including panics. The
// combination function is pluggable through SecretSplitter: ShamirSplitter
// (threshold secret sharing, the default) or XORSplitter (equal-length
// random components, the minimum acceptable form).
//
// # Key Derivation
//
// DerivationEngine produces deterministic keys:
//
//   - organization keys: Argon2id over credential-layer-supplied passphrase
//     key bytes, salted with the platform master key and organization id
//   - team keys: HKDF-SHA256 keyed on the organization key and team id
//
// Identical inputs always yield identical keys, so the engine stores only
// non-secret verifier records (KDF parameter version plus a check value) at
// the organization and team store paths. Cost parameters are versioned;
// verifiers and ciphertexts record the version they were produced under, so
// parameter upgrades never break existing data.
//
// # Survey KEKs
//
// KEKService generates per-survey key-encrypting-keys and maintains the
// hierarchy-wrapped copy in the secret store. The same KEK may exist as
// multiple independent ciphertexts (password-wrapped, recovery-phrase
// wrapped, hierarchy-wrapped, escrow-wrapped); all decrypt to identical
// plaintext bytes.
//
// # Escrow Keypair
//
// DeriveEscrowKey deterministically derives the P-256 escrow keypair from
// the platform master key. The public key is published to the secret store
// at provisioning; the private key is never stored and is re-derived inside
// the recovery path only.
//
// Every operation that releases key material writes an audit entry before
// reporting success; a failed audit write fails the operation.
package kms

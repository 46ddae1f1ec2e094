// Package cryptoutils provides the cryptographic primitives used by the key
// hierarchy, escrow, and recovery components.
//
// # Key Wrapping
//
// WrapKey and UnwrapKey seal key material under a 32-byte symmetric key with
// AES-256-GCM. Every envelope records the KDF parameter version its wrapping
// key was derived under, so cost parameter upgrades never break decryption
// of existing ciphertexts.
//
// # Key Derivation
//
// DeriveKey runs Argon2id with versioned cost parameters; ExpandKey derives
// subkeys via HKDF-SHA256. Both are deterministic: identical inputs always
// produce identical keys, which lets callers verify a derived key against a
// stored check value instead of storing the key itself.
//
// # Escrow Encryption
//
// EncryptWithPublicKey and DecryptWithPrivateKey implement ECIES over P-256
// (ephemeral ECDH key agreement, SHA-256 key derivation, AES-GCM). A fresh
// ephemeral key is generated per encryption. PrivateKeyFromSeed derives a
// deterministic keypair from seed material, which lets the escrow private
// key be re-derived from the reconstructed platform master key instead of
// being stored anywhere.
//
// # Cancel Tokens
//
// NewCancelToken issues single-use recovery cancellation tokens. Only the
// SHA-256 hash of a token is ever stored; VerifyTokenHash compares in
// constant time.
//
// # Hygiene
//
// Wipe zeroes buffers that held key material. Callers are responsible for
// wiping every intermediate copy on all exit paths.
package cryptoutils

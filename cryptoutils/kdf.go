package cryptoutils

import (
	"crypto/sha256"
	"fmt"
	"io"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/hkdf"
)

// DerivedKeyLen is the output size of DeriveKey and ExpandKey.
const DerivedKeyLen = 32

// CurrentKDFVersion is the parameter version used for new derivations.
// Older versions stay registered so existing verifiers and ciphertexts
// remain checkable and decryptable.
const CurrentKDFVersion = 1

// Argon2Params holds the Argon2id cost parameters for one KDF version.
type Argon2Params struct {
	Version   int
	Time      uint32
	MemoryKiB uint32
	Threads   uint8
}

var kdfVersions = map[int]Argon2Params{
	1: {Version: 1, Time: 3, MemoryKiB: 64 * 1024, Threads: 4},
}

// KDFParams returns the registered cost parameters for a version.
func KDFParams(version int) (Argon2Params, error) {
	p, ok := kdfVersions[version]
	if !ok {
		return Argon2Params{}, fmt.Errorf("unknown KDF parameter version %d", version)
	}
	return p, nil
}

// DeriveKey runs Argon2id over secret and salt with the cost parameters of
// the given version and returns a 32-byte key. Deterministic: identical
// inputs always yield identical output.
func DeriveKey(secret, salt []byte, version int) ([]byte, error) {
	p, err := KDFParams(version)
	if err != nil {
		return nil, err
	}
	return argon2.IDKey(secret, salt, p.Time, p.MemoryKiB, p.Threads, DerivedKeyLen), nil
}

// ExpandKey derives a 32-byte subkey from key and the domain-separating
// info via HKDF-SHA256.
func ExpandKey(key, info []byte) ([]byte, error) {
	out := make([]byte, DerivedKeyLen)
	r := hkdf.New(sha256.New, key, nil, info)
	if _, err := io.ReadFull(r, out); err != nil {
		return nil, fmt.Errorf("hkdf expand: %w", err)
	}
	return out, nil
}

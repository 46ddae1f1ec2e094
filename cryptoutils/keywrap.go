package cryptoutils

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"errors"
	"fmt"
	"io"
)

const (
	wrapFormatVersion = 1
	wrapNonceSize     = 12
	wrapHeaderSize    = 2 + wrapNonceSize
)

// WrapKey seals key material under a 32-byte wrapping key with AES-256-GCM.
// The envelope records the KDF parameter version the wrapping key was
// derived under, so parameter upgrades never break decryption of existing
// data.
//
// Format: [format version (1 byte)][kdf version (1 byte)][nonce (12 bytes)][ciphertext].
func WrapKey(wrappingKey, plaintext []byte, kdfVersion int) ([]byte, error) {
	if len(wrappingKey) != DerivedKeyLen {
		return nil, fmt.Errorf("wrapping key must be %d bytes, got %d", DerivedKeyLen, len(wrappingKey))
	}
	if kdfVersion < 0 || kdfVersion > 255 {
		return nil, fmt.Errorf("kdf version %d out of range", kdfVersion)
	}

	block, err := aes.NewCipher(wrappingKey)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}
	aesGCM, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}

	nonce := make([]byte, wrapNonceSize)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}

	// The two header bytes are authenticated as additional data so a
	// tampered version tag fails the GCM open.
	header := []byte{wrapFormatVersion, byte(kdfVersion)}
	ciphertext := aesGCM.Seal(nil, nonce, plaintext, header)

	envelope := make([]byte, 0, wrapHeaderSize+len(ciphertext))
	envelope = append(envelope, header...)
	envelope = append(envelope, nonce...)
	envelope = append(envelope, ciphertext...)
	return envelope, nil
}

// UnwrapKey opens an envelope produced by WrapKey, returning the plaintext
// key material and the KDF parameter version recorded in the envelope.
func UnwrapKey(wrappingKey, envelope []byte) ([]byte, int, error) {
	if len(wrappingKey) != DerivedKeyLen {
		return nil, 0, fmt.Errorf("wrapping key must be %d bytes, got %d", DerivedKeyLen, len(wrappingKey))
	}
	if len(envelope) < wrapHeaderSize {
		return nil, 0, errors.New("envelope too short")
	}
	if envelope[0] != wrapFormatVersion {
		return nil, 0, fmt.Errorf("unsupported envelope format version %d", envelope[0])
	}
	kdfVersion := int(envelope[1])

	block, err := aes.NewCipher(wrappingKey)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to create cipher: %w", err)
	}
	aesGCM, err := cipher.NewGCM(block)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to create GCM: %w", err)
	}

	nonce := envelope[2:wrapHeaderSize]
	ciphertext := envelope[wrapHeaderSize:]
	plaintext, err := aesGCM.Open(nil, nonce, ciphertext, envelope[:2])
	if err != nil {
		return nil, 0, fmt.Errorf("failed to decrypt envelope: %w", err)
	}
	return plaintext, kdfVersion, nil
}

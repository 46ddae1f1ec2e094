package cryptoutils

import (
	"bytes"
	"crypto/rand"
	"testing"

	"github.com/stretchr/testify/require"
)

func testWrappingKey(t *testing.T) []byte {
	t.Helper()
	key := make([]byte, DerivedKeyLen)
	_, err := rand.Read(key)
	require.NoError(t, err)
	return key
}

func TestWrapUnwrapKey(t *testing.T) {
	wrappingKey := testWrappingKey(t)

	testCases := []struct {
		name       string
		plaintext  []byte
		kdfVersion int
	}{
		{
			name:       "32-byte KEK",
			plaintext:  bytes.Repeat([]byte{0xAB}, 32),
			kdfVersion: 1,
		},
		{
			name:       "binary data",
			plaintext:  []byte{0x00, 0x01, 0x02, 0xFF, 0xFE},
			kdfVersion: 1,
		},
		{
			name:       "version zero",
			plaintext:  []byte("key material"),
			kdfVersion: 0,
		},
		{
			name:       "max version",
			plaintext:  []byte("key material"),
			kdfVersion: 255,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			envelope, err := WrapKey(wrappingKey, tc.plaintext, tc.kdfVersion)
			require.NoError(t, err)
			require.Greater(t, len(envelope), len(tc.plaintext))

			plaintext, version, err := UnwrapKey(wrappingKey, envelope)
			require.NoError(t, err)
			require.Equal(t, tc.plaintext, plaintext)
			require.Equal(t, tc.kdfVersion, version)
		})
	}
}

func TestWrapKeyProducesFreshCiphertexts(t *testing.T) {
	wrappingKey := testWrappingKey(t)
	plaintext := []byte("the same key material")

	first, err := WrapKey(wrappingKey, plaintext, 1)
	require.NoError(t, err)
	second, err := WrapKey(wrappingKey, plaintext, 1)
	require.NoError(t, err)

	// Fresh nonce per wrap: envelopes differ even for identical input.
	require.NotEqual(t, first, second)
}

func TestUnwrapKeyWrongKey(t *testing.T) {
	envelope, err := WrapKey(testWrappingKey(t), []byte("secret"), 1)
	require.NoError(t, err)

	_, _, err = UnwrapKey(testWrappingKey(t), envelope)
	require.Error(t, err)
}

func TestUnwrapKeyTampered(t *testing.T) {
	wrappingKey := testWrappingKey(t)
	envelope, err := WrapKey(wrappingKey, []byte("secret"), 1)
	require.NoError(t, err)

	for _, idx := range []int{0, 1, wrapHeaderSize, len(envelope) - 1} {
		tampered := make([]byte, len(envelope))
		copy(tampered, envelope)
		tampered[idx] ^= 0x01

		_, _, err := UnwrapKey(wrappingKey, tampered)
		require.Error(t, err, "flipping byte %d must fail authentication", idx)
	}
}

func TestWrapKeyValidation(t *testing.T) {
	_, err := WrapKey([]byte("short"), []byte("secret"), 1)
	require.Error(t, err)

	_, err = WrapKey(testWrappingKey(t), []byte("secret"), 256)
	require.Error(t, err)

	_, _, err = UnwrapKey(testWrappingKey(t), []byte{0x01})
	require.Error(t, err)
}

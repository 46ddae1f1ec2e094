package cryptoutils

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDeriveKeyDeterministic(t *testing.T) {
	secret := []byte("passphrase-derived input")
	salt := []byte("deterministic salt value")

	first, err := DeriveKey(secret, salt, CurrentKDFVersion)
	require.NoError(t, err)
	require.Len(t, first, DerivedKeyLen)

	second, err := DeriveKey(secret, salt, CurrentKDFVersion)
	require.NoError(t, err)
	require.Equal(t, first, second)
}

func TestDeriveKeyInputSeparation(t *testing.T) {
	secret := []byte("passphrase-derived input")
	salt := []byte("deterministic salt value")

	base, err := DeriveKey(secret, salt, CurrentKDFVersion)
	require.NoError(t, err)

	otherSecret, err := DeriveKey([]byte("different input"), salt, CurrentKDFVersion)
	require.NoError(t, err)
	require.NotEqual(t, base, otherSecret)

	otherSalt, err := DeriveKey(secret, []byte("different salt bytes 000"), CurrentKDFVersion)
	require.NoError(t, err)
	require.NotEqual(t, base, otherSalt)
}

func TestDeriveKeyUnknownVersion(t *testing.T) {
	_, err := DeriveKey([]byte("secret"), []byte("salt"), 99)
	require.Error(t, err)

	_, err = KDFParams(99)
	require.Error(t, err)
}

func TestExpandKeyDeterministic(t *testing.T) {
	key := []byte("0123456789abcdef0123456789abcdef")

	first, err := ExpandKey(key, []byte("team-key:team-1"))
	require.NoError(t, err)
	require.Len(t, first, DerivedKeyLen)

	second, err := ExpandKey(key, []byte("team-key:team-1"))
	require.NoError(t, err)
	require.Equal(t, first, second)

	other, err := ExpandKey(key, []byte("team-key:team-2"))
	require.NoError(t, err)
	require.NotEqual(t, first, other)
}

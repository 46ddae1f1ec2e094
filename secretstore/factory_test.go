package secretstore

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestStoreFactorySchemes(t *testing.T) {
	factory := NewStoreFactory("role-id", "secret-id", 0, testLogger())

	t.Run("memory", func(t *testing.T) {
		store, err := factory.StoreFor("mem://")
		require.NoError(t, err)
		require.IsType(t, &MemoryStore{}, store)
	})

	t.Run("file", func(t *testing.T) {
		store, err := factory.StoreFor("file://" + t.TempDir())
		require.NoError(t, err)
		require.IsType(t, &FileStore{}, store)
	})

	t.Run("vault", func(t *testing.T) {
		store, err := factory.StoreFor("vault://vault.example:8200/secret")
		require.NoError(t, err)
		require.IsType(t, &VaultStore{}, store)
	})

	t.Run("vault with http scheme", func(t *testing.T) {
		store, err := factory.StoreFor("vault://localhost:8200/secret?scheme=http")
		require.NoError(t, err)
		require.IsType(t, &VaultStore{}, store)
	})

	t.Run("vault with unsupported scheme", func(t *testing.T) {
		_, err := factory.StoreFor("vault://localhost:8200/secret?scheme=ftp")
		require.Error(t, err)
	})

	t.Run("vault without host", func(t *testing.T) {
		_, err := factory.StoreFor("vault:///secret")
		require.Error(t, err)
	})

	t.Run("unsupported scheme", func(t *testing.T) {
		_, err := factory.StoreFor("redis://localhost:6379")
		require.Error(t, err)
	})

	t.Run("empty file path", func(t *testing.T) {
		_, err := factory.StoreFor("file://")
		require.Error(t, err)
	})
}

func TestVaultStoreRequiresCredentials(t *testing.T) {
	_, err := NewVaultStore(VaultConfig{Address: "https://vault.example:8200"}, testLogger())
	require.Error(t, err)

	_, err = NewVaultStore(VaultConfig{
		Address: "https://vault.example:8200",
		RoleID:  "role-id",
	}, testLogger())
	require.Error(t, err)

	store, err := NewVaultStore(VaultConfig{
		Address:  "https://vault.example:8200",
		RoleID:   "role-id",
		SecretID: "secret-id",
	}, testLogger())
	require.NoError(t, err)
	require.Equal(t, "secret", store.mount)
}

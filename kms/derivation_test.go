package kms

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/vitalform/survey-key-escrow/audit"
	"github.com/vitalform/survey-key-escrow/interfaces"
	"github.com/vitalform/survey-key-escrow/secretstore"
)

const testActor = interfaces.ActorID("admin-1")

// newTestEngine wires a derivation engine to fresh in-memory stores.
func newTestEngine(t *testing.T) (*DerivationEngine, *secretstore.MemoryStore, *audit.MemoryStore) {
	t.Helper()

	store := secretstore.NewMemoryStore()
	auditStore := audit.NewMemoryStore()
	engine := NewDerivationEngine(store, audit.NewLogger(auditStore, testLogger()), testLogger())
	return engine, store, auditStore
}

func TestOrganizationKeyLifecycle(t *testing.T) {
	engine, _, _ := newTestEngine(t)
	ctx := context.Background()

	platformKey := randomSecret(t, interfaces.PlatformKeySize)
	passphraseKey := randomSecret(t, 32)
	org := interfaces.OrgID("clinic-nord")

	created, err := engine.CreateOrganization(ctx, testActor, org, passphraseKey, platformKey)
	require.NoError(t, err)
	require.Len(t, created, interfaces.DerivedKeySize)

	// Re-derivation with the same inputs reproduces the key.
	derived, err := engine.OrganizationKey(ctx, testActor, org, passphraseKey, platformKey)
	require.NoError(t, err)
	require.Equal(t, created, derived)

	// A second create for the same organization is rejected.
	_, err = engine.CreateOrganization(ctx, testActor, org, passphraseKey, platformKey)
	require.ErrorIs(t, err, interfaces.ErrAlreadyInitialized)

	// The wrong passphrase derives a key that fails the verifier check.
	wrongPassphrase := randomSecret(t, 32)
	_, err = engine.OrganizationKey(ctx, testActor, org, wrongPassphrase, platformKey)
	require.ErrorIs(t, err, interfaces.ErrKeyVerification)

	// So does the right passphrase against the wrong platform key.
	wrongPlatform := randomSecret(t, interfaces.PlatformKeySize)
	_, err = engine.OrganizationKey(ctx, testActor, org, passphraseKey, wrongPlatform)
	require.ErrorIs(t, err, interfaces.ErrKeyVerification)

	// Unknown organizations have no verifier to check against.
	_, err = engine.OrganizationKey(ctx, testActor, interfaces.OrgID("no-such-org"), passphraseKey, platformKey)
	require.ErrorIs(t, err, interfaces.ErrSecretNotFound)
}

func TestOrganizationKeysAreIndependent(t *testing.T) {
	engine, _, _ := newTestEngine(t)
	ctx := context.Background()

	platformKey := randomSecret(t, interfaces.PlatformKeySize)
	passphraseKey := randomSecret(t, 32)

	key1, err := engine.CreateOrganization(ctx, testActor, interfaces.OrgID("org-1"), passphraseKey, platformKey)
	require.NoError(t, err)

	key2, err := engine.CreateOrganization(ctx, testActor, interfaces.OrgID("org-2"), passphraseKey, platformKey)
	require.NoError(t, err)

	require.NotEqual(t, key1, key2)
}

func TestTeamKeyLifecycle(t *testing.T) {
	engine, _, _ := newTestEngine(t)
	ctx := context.Background()

	orgKey := randomSecret(t, interfaces.DerivedKeySize)
	team := interfaces.TeamID("oncology")

	created, err := engine.CreateTeam(ctx, testActor, team, orgKey)
	require.NoError(t, err)
	require.Len(t, created, interfaces.DerivedKeySize)

	derived, err := engine.TeamKey(ctx, testActor, team, orgKey)
	require.NoError(t, err)
	require.Equal(t, created, derived)

	_, err = engine.CreateTeam(ctx, testActor, team, orgKey)
	require.ErrorIs(t, err, interfaces.ErrAlreadyInitialized)

	// A different organization key fails the verifier check.
	otherOrgKey := randomSecret(t, interfaces.DerivedKeySize)
	_, err = engine.TeamKey(ctx, testActor, team, otherOrgKey)
	require.ErrorIs(t, err, interfaces.ErrKeyVerification)

	// Sibling teams under the same organization get independent keys.
	sibling, err := engine.CreateTeam(ctx, testActor, interfaces.TeamID("cardiology"), orgKey)
	require.NoError(t, err)
	require.NotEqual(t, created, sibling)
}

func TestDerivationRejectsInvalidIDs(t *testing.T) {
	engine, _, _ := newTestEngine(t)
	ctx := context.Background()

	platformKey := randomSecret(t, interfaces.PlatformKeySize)
	passphraseKey := randomSecret(t, 32)

	_, err := engine.CreateOrganization(ctx, testActor, interfaces.OrgID(""), passphraseKey, platformKey)
	require.Error(t, err)

	_, err = engine.CreateOrganization(ctx, testActor, interfaces.OrgID("bad/slash"), passphraseKey, platformKey)
	require.Error(t, err)
}

func TestDerivationWritesAuditTrail(t *testing.T) {
	engine, _, auditStore := newTestEngine(t)
	ctx := context.Background()

	platformKey := randomSecret(t, interfaces.PlatformKeySize)
	passphraseKey := randomSecret(t, 32)
	org := interfaces.OrgID("clinic-nord")

	_, err := engine.CreateOrganization(ctx, testActor, org, passphraseKey, platformKey)
	require.NoError(t, err)

	// A failed derivation is audited too.
	wrongPassphrase := randomSecret(t, 32)
	_, err = engine.OrganizationKey(ctx, testActor, org, wrongPassphrase, platformKey)
	require.Error(t, err)

	entries := auditStore.Entries()
	require.Len(t, entries, 2)

	require.Equal(t, "kms.create_org", entries[0].Operation)
	require.Equal(t, interfaces.OutcomeSuccess, entries[0].Outcome)
	require.Equal(t, testActor, entries[0].Actor)
	require.Equal(t, interfaces.OrganizationKeyPath(org), entries[0].TargetRef)

	require.Equal(t, "kms.derive_org_key", entries[1].Operation)
	require.Equal(t, interfaces.OutcomeFailure, entries[1].Outcome)
	require.Equal(t, interfaces.CategoryInvalidInput, entries[1].ErrorCategory)
}

func TestAuditFailureBlocksKeyRelease(t *testing.T) {
	engine, _, auditStore := newTestEngine(t)
	ctx := context.Background()

	platformKey := randomSecret(t, interfaces.PlatformKeySize)
	passphraseKey := randomSecret(t, 32)

	auditStore.FailAppends(errors.New("audit database unreachable"))

	key, err := engine.CreateOrganization(ctx, testActor, interfaces.OrgID("clinic-nord"), passphraseKey, platformKey)
	require.Error(t, err)
	require.ErrorIs(t, err, interfaces.ErrAuditWriteFailure)
	require.Nil(t, key)
}

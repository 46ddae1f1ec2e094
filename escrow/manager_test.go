package escrow

import (
	"context"
	"crypto/rand"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/vitalform/survey-key-escrow/audit"
	"github.com/vitalform/survey-key-escrow/interfaces"
	"github.com/vitalform/survey-key-escrow/kms"
	"github.com/vitalform/survey-key-escrow/secretstore"
	"github.com/vitalform/survey-key-escrow/workflow"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// managerEnv wires a Manager to in-memory backends with a freshly
// provisioned platform master key.
type managerEnv struct {
	store     *secretstore.MemoryStore
	records   *MemoryStore
	requests  *workflow.MemoryStore
	auditLog  *audit.MemoryStore
	manager   *Manager
	custodian []byte
}

func newManagerEnv(t *testing.T) *managerEnv {
	t.Helper()

	store := secretstore.NewMemoryStore()
	auditStore := audit.NewMemoryStore()
	alog := audit.NewLogger(auditStore, testLogger())

	prov := kms.NewProvisioner(store, kms.ShamirSplitter{}, alog, testLogger())
	custodian, _, err := prov.Provision(context.Background(), interfaces.ActorID("operator"))
	require.NoError(t, err)

	records := NewMemoryStore()
	requests := workflow.NewMemoryStore()
	reconstructor := kms.NewReconstructor(store, kms.ShamirSplitter{}, testLogger())

	return &managerEnv{
		store:     store,
		records:   records,
		requests:  requests,
		auditLog:  auditStore,
		manager:   NewManager(store, records, requests, reconstructor, alog, testLogger()),
		custodian: custodian,
	}
}

// addRequest seeds a recovery request in the given state, bypassing the
// workflow engine.
func (e *managerEnv) addRequest(t *testing.T, id string, user interfaces.UserID, survey interfaces.SurveyID, status interfaces.RequestStatus) {
	t.Helper()

	now := time.Now().UTC()
	require.NoError(t, e.requests.Create(context.Background(), interfaces.RecoveryRequest{
		ID:          id,
		UserID:      user,
		SurveyID:    survey,
		RequestedBy: interfaces.ActorID("requester"),
		Status:      status,
		Version:     1,
		CreatedAt:   now,
		UpdatedAt:   now,
	}))
}

func (e *managerEnv) auditEntries(op string) []interfaces.AuditEntry {
	var out []interfaces.AuditEntry
	for _, entry := range e.auditLog.Entries() {
		if entry.Operation == op {
			out = append(out, entry)
		}
	}
	return out
}

func randomKEK(t *testing.T) []byte {
	t.Helper()

	kek := make([]byte, interfaces.KEKSize)
	_, err := rand.Read(kek)
	require.NoError(t, err)
	return kek
}

func TestEscrowAndRecoverRoundTrip(t *testing.T) {
	env := newManagerEnv(t)
	ctx := context.Background()
	user, survey := interfaces.UserID("alice"), interfaces.SurveyID("s1")

	kek := randomKEK(t)
	rec, err := env.manager.EscrowKEK(ctx, "support-1", user, survey, kek)
	require.NoError(t, err)
	require.Equal(t, interfaces.RecoveryKEKPath(user, survey), rec.StorePath)
	require.Equal(t, 1, rec.CiphertextVersion)

	env.addRequest(t, "req-1", user, survey, interfaces.StatusExecutable)

	recovered, err := env.manager.RecoverKEK(ctx, "admin-1", user, survey, env.custodian)
	require.NoError(t, err)
	require.Equal(t, kek, recovered)

	stored := env.auditEntries("escrow.store_kek")
	require.Len(t, stored, 1)
	require.Equal(t, interfaces.OutcomeSuccess, stored[0].Outcome)
	require.Equal(t, interfaces.ActorID("support-1"), stored[0].Actor)
	require.Equal(t, rec.StorePath, stored[0].TargetRef)

	released := env.auditEntries("escrow.recover_kek")
	require.Len(t, released, 1)
	require.Equal(t, interfaces.OutcomeSuccess, released[0].Outcome)
	require.Equal(t, interfaces.ActorID("admin-1"), released[0].Actor)
}

func TestEscrowRotationSupersedesCiphertext(t *testing.T) {
	env := newManagerEnv(t)
	ctx := context.Background()
	user, survey := interfaces.UserID("alice"), interfaces.SurveyID("s1")

	oldKEK := randomKEK(t)
	rec1, err := env.manager.EscrowKEK(ctx, "support-1", user, survey, oldKEK)
	require.NoError(t, err)

	newKEK := randomKEK(t)
	rec2, err := env.manager.EscrowKEK(ctx, "support-1", user, survey, newKEK)
	require.NoError(t, err)

	require.Equal(t, 2, rec2.CiphertextVersion)
	require.True(t, rec2.CreatedAt.Equal(rec1.CreatedAt))
	require.False(t, rec2.LastRotatedAt.Before(rec1.LastRotatedAt))

	env.addRequest(t, "req-1", user, survey, interfaces.StatusExecutable)

	recovered, err := env.manager.RecoverKEK(ctx, "admin-1", user, survey, env.custodian)
	require.NoError(t, err)
	require.Equal(t, newKEK, recovered)
	require.NotEqual(t, oldKEK, recovered)
}

func TestRecoverRequiresExecutableRequest(t *testing.T) {
	env := newManagerEnv(t)
	ctx := context.Background()
	user, survey := interfaces.UserID("alice"), interfaces.SurveyID("s1")

	_, err := env.manager.EscrowKEK(ctx, "support-1", user, survey, randomKEK(t))
	require.NoError(t, err)

	// No request at all.
	_, err = env.manager.RecoverKEK(ctx, "admin-1", user, survey, env.custodian)
	require.ErrorIs(t, err, interfaces.ErrNotExecutable)

	// A request that has not cleared the delay does not open the gate.
	env.addRequest(t, "req-1", user, survey, interfaces.StatusDelayed)
	_, err = env.manager.RecoverKEK(ctx, "admin-1", user, survey, env.custodian)
	require.ErrorIs(t, err, interfaces.ErrNotExecutable)

	failures := env.auditEntries("escrow.recover_kek")
	require.Len(t, failures, 2)
	for _, entry := range failures {
		require.Equal(t, interfaces.OutcomeFailure, entry.Outcome)
	}
}

func TestRecoverUnknownEscrow(t *testing.T) {
	env := newManagerEnv(t)

	_, err := env.manager.RecoverKEK(context.Background(), "admin-1",
		interfaces.UserID("nobody"), interfaces.SurveyID("s1"), env.custodian)
	require.ErrorIs(t, err, interfaces.ErrEscrowNotFound)
}

func TestRecoverWrongCustodianComponent(t *testing.T) {
	env := newManagerEnv(t)
	ctx := context.Background()
	user, survey := interfaces.UserID("alice"), interfaces.SurveyID("s1")

	_, err := env.manager.EscrowKEK(ctx, "support-1", user, survey, randomKEK(t))
	require.NoError(t, err)
	env.addRequest(t, "req-1", user, survey, interfaces.StatusExecutable)

	// A flipped bit reconstructs a different platform key, so the derived
	// escrow key cannot open the ciphertext.
	corrupted := make([]byte, len(env.custodian))
	copy(corrupted, env.custodian)
	corrupted[0] ^= 0xff

	recovered, err := env.manager.RecoverKEK(ctx, "admin-1", user, survey, corrupted)
	require.Error(t, err)
	require.Nil(t, recovered)
}

func TestInvalidateBlockedWhileReferenced(t *testing.T) {
	env := newManagerEnv(t)
	ctx := context.Background()
	user, survey := interfaces.UserID("alice"), interfaces.SurveyID("s1")

	_, err := env.manager.EscrowKEK(ctx, "support-1", user, survey, randomKEK(t))
	require.NoError(t, err)
	env.addRequest(t, "req-1", user, survey, interfaces.StatusSubmitted)

	err = env.manager.Invalidate(ctx, "support-1", user, survey)
	require.ErrorIs(t, err, interfaces.ErrEscrowReferenced)

	// Once the request reaches a terminal state the escrow can go.
	req, err := env.requests.Get(ctx, "req-1")
	require.NoError(t, err)
	req.Status = interfaces.StatusCancelled
	require.NoError(t, env.requests.UpdateCAS(ctx, req))

	require.NoError(t, env.manager.Invalidate(ctx, "support-1", user, survey))

	_, err = env.records.Get(ctx, user, survey)
	require.ErrorIs(t, err, interfaces.ErrEscrowNotFound)

	err = env.manager.Invalidate(ctx, "support-1", user, survey)
	require.ErrorIs(t, err, interfaces.ErrEscrowNotFound)
}

func TestSealedStoreFailsClosed(t *testing.T) {
	ctx := context.Background()
	user, survey := interfaces.UserID("alice"), interfaces.SurveyID("s1")

	t.Run("escrow", func(t *testing.T) {
		env := newManagerEnv(t)
		env.store.SetSealed(true)

		_, err := env.manager.EscrowKEK(ctx, "support-1", user, survey, randomKEK(t))
		require.ErrorIs(t, err, interfaces.ErrStoreSealed)
		require.Equal(t, interfaces.CategoryStoreSealed, interfaces.Category(err))

		entries := env.auditEntries("escrow.store_kek")
		require.Len(t, entries, 1)
		require.Equal(t, interfaces.OutcomeFailure, entries[0].Outcome)
		require.Equal(t, interfaces.CategoryStoreSealed, entries[0].ErrorCategory)

		// Nothing was persisted.
		_, err = env.records.Get(ctx, user, survey)
		require.ErrorIs(t, err, interfaces.ErrEscrowNotFound)
	})

	t.Run("recover", func(t *testing.T) {
		env := newManagerEnv(t)

		_, err := env.manager.EscrowKEK(ctx, "support-1", user, survey, randomKEK(t))
		require.NoError(t, err)
		env.addRequest(t, "req-1", user, survey, interfaces.StatusExecutable)

		env.store.SetSealed(true)

		recovered, err := env.manager.RecoverKEK(ctx, "admin-1", user, survey, env.custodian)
		require.ErrorIs(t, err, interfaces.ErrStoreSealed)
		require.Nil(t, recovered)
	})
}

func TestEscrowRejectsWrongKEKSize(t *testing.T) {
	env := newManagerEnv(t)

	_, err := env.manager.EscrowKEK(context.Background(), "support-1",
		interfaces.UserID("alice"), interfaces.SurveyID("s1"), make([]byte, 16))
	require.ErrorIs(t, err, interfaces.ErrInvalidComponent)
}

func TestAuditWriteFailureBlocksResult(t *testing.T) {
	env := newManagerEnv(t)
	ctx := context.Background()
	user, survey := interfaces.UserID("alice"), interfaces.SurveyID("s1")

	env.auditLog.FailAppends(errors.New("audit store down"))

	rec, err := env.manager.EscrowKEK(ctx, "support-1", user, survey, randomKEK(t))
	require.ErrorIs(t, err, interfaces.ErrAuditWriteFailure)
	require.Zero(t, rec)

	env.auditLog.FailAppends(nil)

	kek := randomKEK(t)
	_, err = env.manager.EscrowKEK(ctx, "support-1", user, survey, kek)
	require.NoError(t, err)
	env.addRequest(t, "req-1", user, survey, interfaces.StatusExecutable)

	env.auditLog.FailAppends(errors.New("audit store down"))

	recovered, err := env.manager.RecoverKEK(ctx, "admin-1", user, survey, env.custodian)
	require.ErrorIs(t, err, interfaces.ErrAuditWriteFailure)
	require.Nil(t, recovered)
}

func TestListEscrows(t *testing.T) {
	env := newManagerEnv(t)
	ctx := context.Background()

	_, err := env.manager.EscrowKEK(ctx, "support-1", interfaces.UserID("alice"), interfaces.SurveyID("s1"), randomKEK(t))
	require.NoError(t, err)
	_, err = env.manager.EscrowKEK(ctx, "support-1", interfaces.UserID("alice"), interfaces.SurveyID("s2"), randomKEK(t))
	require.NoError(t, err)
	_, err = env.manager.EscrowKEK(ctx, "support-1", interfaces.UserID("bob"), interfaces.SurveyID("s1"), randomKEK(t))
	require.NoError(t, err)

	records, err := env.manager.List(ctx, interfaces.UserID("alice"))
	require.NoError(t, err)
	require.Len(t, records, 2)

	records, err = env.manager.List(ctx, interfaces.UserID("bob"))
	require.NoError(t, err)
	require.Len(t, records, 1)
}

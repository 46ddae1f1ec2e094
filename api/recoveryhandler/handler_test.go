package recoveryhandler

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vitalform/survey-key-escrow/audit"
	"github.com/vitalform/survey-key-escrow/escrow"
	"github.com/vitalform/survey-key-escrow/httpserver"
	"github.com/vitalform/survey-key-escrow/interfaces"
	"github.com/vitalform/survey-key-escrow/kms"
	"github.com/vitalform/survey-key-escrow/notify"
	"github.com/vitalform/survey-key-escrow/secretstore"
	"github.com/vitalform/survey-key-escrow/workflow"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type apiEnv struct {
	srv       *httptest.Server
	manager   *escrow.Manager
	sweeper   *workflow.Sweeper
	custodian []byte
	adminKeys map[string]*ecdsa.PrivateKey
}

// newAPIEnv wires the full stack behind an httptest server: provisioned
// platform key, real escrow manager, workflow engine with a millisecond
// approval delay so tests can cross it with a short sleep and a sweep.
func newAPIEnv(t *testing.T) *apiEnv {
	t.Helper()
	ctx := context.Background()

	store := secretstore.NewMemoryStore()
	alog := audit.NewLogger(audit.NewMemoryStore(), testLogger())

	prov := kms.NewProvisioner(store, kms.ShamirSplitter{}, alog, testLogger())
	custodian, _, err := prov.Provision(ctx, interfaces.ActorID("operator"))
	require.NoError(t, err)

	records := escrow.NewMemoryStore()
	requests := workflow.NewMemoryStore()
	reconstructor := kms.NewReconstructor(store, kms.ShamirSplitter{}, testLogger())
	manager := escrow.NewManager(store, records, requests, reconstructor, alog, testLogger())

	cfg := workflow.Config{ApprovalDelay: time.Millisecond}
	notifier := notify.NewLogNotifier(testLogger())
	engine := workflow.NewEngine(requests, records, manager, alog, notifier, cfg, testLogger())
	sweeper := workflow.NewSweeper(requests, alog, notifier, cfg, time.Minute, testLogger())

	adminKeys := make(map[string]*ecdsa.PrivateKey, 2)
	adminPubKeys := make(map[string][]byte, 2)
	for _, id := range []string{"admin1", "admin2"} {
		privateKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
		require.NoError(t, err)
		adminKeys[id] = privateKey

		pubKeyBytes, err := x509.MarshalPKIXPublicKey(&privateKey.PublicKey)
		require.NoError(t, err)
		adminPubKeys[id] = pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: pubKeyBytes})
	}

	auth := httpserver.NewAdminAuth(testLogger(), adminPubKeys)
	handler := NewHandler(engine, auth, testLogger())

	mux := chi.NewRouter()
	handler.RegisterRoutes(mux)

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	return &apiEnv{
		srv:       srv,
		manager:   manager,
		sweeper:   sweeper,
		custodian: custodian,
		adminKeys: adminKeys,
	}
}

func (env *apiEnv) client() *Client {
	return &Client{BaseURL: env.srv.URL, HTTPClient: env.srv.Client()}
}

func (env *apiEnv) adminClient(id string) *Client {
	return &Client{
		BaseURL:    env.srv.URL,
		HTTPClient: env.srv.Client(),
		AdminID:    id,
		PrivateKey: env.adminKeys[id],
	}
}

// escrowKEK escrows a fresh random KEK and returns the plaintext for
// comparison after recovery.
func (env *apiEnv) escrowKEK(t *testing.T, user, survey string) []byte {
	t.Helper()

	kek := make([]byte, 32)
	_, err := rand.Read(kek)
	require.NoError(t, err)

	stored := make([]byte, len(kek))
	copy(stored, kek)
	_, err = env.manager.EscrowKEK(context.Background(), "support-1", interfaces.UserID(user), interfaces.SurveyID(survey), stored)
	require.NoError(t, err)

	return kek
}

func TestRecoveryLifecycleOverHTTP(t *testing.T) {
	env := newAPIEnv(t)
	kek := env.escrowKEK(t, "alice", "s1")

	submitted, err := env.client().Submit("alice", "s1", "support-alice")
	require.NoError(t, err)
	require.NotEmpty(t, submitted.RequestID)
	require.NotEmpty(t, submitted.CancelToken)
	assert.Equal(t, "SUBMITTED", submitted.Status)

	status, err := env.client().Status(submitted.RequestID, "alice")
	require.NoError(t, err)
	assert.Equal(t, "submitted", status.State)
	assert.Equal(t, "s1", status.SurveyID)

	first, err := env.adminClient("admin1").Approve(submitted.RequestID)
	require.NoError(t, err)
	assert.Equal(t, "ADMIN1_APPROVED", first.Status)
	assert.True(t, first.DelayUntil.IsZero(), "Delay should not start on the first approval")

	second, err := env.adminClient("admin2").Approve(submitted.RequestID)
	require.NoError(t, err)
	assert.Equal(t, "DELAYED", second.Status)
	assert.False(t, second.DelayUntil.IsZero(), "Dual control should start the delay")

	// Still delayed, execution must be refused.
	_, err = env.adminClient("admin1").Execute(submitted.RequestID, env.custodian)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid_input")

	time.Sleep(20 * time.Millisecond)
	stats, err := env.sweeper.SweepOnce(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, stats.MarkedExecutable)

	executed, err := env.adminClient("admin1").Execute(submitted.RequestID, env.custodian)
	require.NoError(t, err)
	recovered, err := base64.StdEncoding.DecodeString(executed.KEK)
	require.NoError(t, err)
	assert.Equal(t, kek, recovered, "Recovered KEK should match the escrowed one")

	// Completion is exclusive; a repeat reads as already done.
	_, err = env.adminClient("admin2").Execute(submitted.RequestID, env.custodian)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "409")
	assert.Contains(t, err.Error(), "already_completed")

	status, err = env.client().Status(submitted.RequestID, "alice")
	require.NoError(t, err)
	assert.Equal(t, "completed", status.State)
}

func TestCancelOverHTTP(t *testing.T) {
	env := newAPIEnv(t)
	env.escrowKEK(t, "alice", "s1")

	submitted, err := env.client().Submit("alice", "s1", "support-alice")
	require.NoError(t, err)

	_, err = env.client().Cancel(submitted.RequestID, "wrong-token", "alice")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid_input")

	cancelled, err := env.client().Cancel(submitted.RequestID, submitted.CancelToken, "alice")
	require.NoError(t, err)
	assert.Equal(t, "CANCELLED", cancelled.Status)

	_, err = env.adminClient("admin1").Approve(submitted.RequestID)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "409")
	assert.Contains(t, err.Error(), "already_cancelled")
}

func TestApproveRequiresAdminSignature(t *testing.T) {
	env := newAPIEnv(t)
	env.escrowKEK(t, "alice", "s1")

	submitted, err := env.client().Submit("alice", "s1", "support-alice")
	require.NoError(t, err)

	// No signature at all.
	resp, err := env.srv.Client().Post(
		fmt.Sprintf("%s/api/recovery/%s/approve", env.srv.URL, submitted.RequestID),
		"application/json", nil)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	// A client without credentials refuses to even try.
	_, err = env.client().Approve(submitted.RequestID)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "admin credentials required")
}

func TestSelfApprovalRejected(t *testing.T) {
	env := newAPIEnv(t)
	env.escrowKEK(t, "alice", "s1")

	// The requester is admin1, who then tries to approve their own request.
	submitted, err := env.client().Submit("alice", "s1", "admin1")
	require.NoError(t, err)

	_, err = env.adminClient("admin1").Approve(submitted.RequestID)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "403")
	assert.Contains(t, err.Error(), "dual_control_violation")

	// Same admin approving twice is rejected the same way.
	_, err = env.adminClient("admin2").Approve(submitted.RequestID)
	require.NoError(t, err)
	_, err = env.adminClient("admin2").Approve(submitted.RequestID)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "dual_control_violation")
}

func TestStatusScopedToOwner(t *testing.T) {
	env := newAPIEnv(t)
	env.escrowKEK(t, "alice", "s1")

	submitted, err := env.client().Submit("alice", "s1", "support-alice")
	require.NoError(t, err)

	_, err = env.client().Status(submitted.RequestID, "mallory")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "404")

	resp, err := env.srv.Client().Get(fmt.Sprintf("%s/api/recovery/%s/status", env.srv.URL, submitted.RequestID))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode, "Missing user_id should be rejected")
}

func TestUnknownRequestMapsToNotFound(t *testing.T) {
	env := newAPIEnv(t)

	_, err := env.adminClient("admin1").Approve("no-such-request")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "404")
	assert.Contains(t, err.Error(), "not_found")
}

func TestSubmitWithoutEscrowRejected(t *testing.T) {
	env := newAPIEnv(t)

	_, err := env.client().Submit("alice", "s1", "support-alice")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "404")
	assert.Contains(t, err.Error(), "not_found")
}

func TestStatusForError(t *testing.T) {
	cases := []struct {
		err  error
		code int
	}{
		{interfaces.ErrRequestNotFound, http.StatusNotFound},
		{interfaces.ErrEscrowNotFound, http.StatusNotFound},
		{interfaces.ErrStateConflict, http.StatusConflict},
		{interfaces.ErrAlreadyCompleted, http.StatusConflict},
		{interfaces.ErrAlreadyCancelled, http.StatusConflict},
		{interfaces.ErrDualControlViolation, http.StatusForbidden},
		{interfaces.ErrStoreSealed, http.StatusLocked},
		{interfaces.ErrStoreUnavailable, http.StatusServiceUnavailable},
		{interfaces.ErrInvalidCancelToken, http.StatusBadRequest},
		{interfaces.ErrNotExecutable, http.StatusBadRequest},
		{errors.New("unclassified"), http.StatusInternalServerError},
	}

	for _, tc := range cases {
		assert.Equal(t, tc.code, statusForError(tc.err), "category mapping for %v", tc.err)
	}
}

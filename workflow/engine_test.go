package workflow

import (
	"context"
	"crypto/rand"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/vitalform/survey-key-escrow/audit"
	"github.com/vitalform/survey-key-escrow/escrow"
	"github.com/vitalform/survey-key-escrow/interfaces"
	"github.com/vitalform/survey-key-escrow/kms"
	"github.com/vitalform/survey-key-escrow/secretstore"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeClock lets tests move time forward without sleeping.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// captureNotifier collects delivered events for assertion.
type captureNotifier struct {
	events chan interfaces.Event
}

func newCaptureNotifier() *captureNotifier {
	return &captureNotifier{events: make(chan interfaces.Event, 16)}
}

func (n *captureNotifier) Send(ctx context.Context, event interfaces.Event) error {
	n.events <- event
	return nil
}

// await blocks until an event of the given type arrives, discarding others.
func (n *captureNotifier) await(t *testing.T, eventType string) interfaces.Event {
	t.Helper()

	deadline := time.After(2 * time.Second)
	for {
		select {
		case event := <-n.events:
			if event.Type == eventType {
				return event
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %s event", eventType)
		}
	}
}

// engineEnv wires an Engine and Sweeper to in-memory backends, a real
// escrow manager over a provisioned platform key, and a test clock.
type engineEnv struct {
	store     *secretstore.MemoryStore
	requests  *MemoryStore
	escrows   *escrow.MemoryStore
	auditLog  *audit.MemoryStore
	notifier  *captureNotifier
	manager   *escrow.Manager
	engine    *Engine
	sweeper   *Sweeper
	custodian []byte
	clock     *fakeClock
}

func newEngineEnv(t *testing.T, cfg Config) *engineEnv {
	t.Helper()

	store := secretstore.NewMemoryStore()
	auditStore := audit.NewMemoryStore()
	alog := audit.NewLogger(auditStore, testLogger())

	prov := kms.NewProvisioner(store, kms.ShamirSplitter{}, alog, testLogger())
	custodian, _, err := prov.Provision(context.Background(), interfaces.ActorID("operator"))
	require.NoError(t, err)

	requests := NewMemoryStore()
	escrows := escrow.NewMemoryStore()
	reconstructor := kms.NewReconstructor(store, kms.ShamirSplitter{}, testLogger())
	manager := escrow.NewManager(store, escrows, requests, reconstructor, alog, testLogger())

	notifier := newCaptureNotifier()
	engine := NewEngine(requests, escrows, manager, alog, notifier, cfg, testLogger())
	sweeper := NewSweeper(requests, alog, notifier, cfg, time.Minute, testLogger())

	clock := &fakeClock{now: time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC)}
	engine.now = clock.Now
	sweeper.now = clock.Now

	return &engineEnv{
		store:     store,
		requests:  requests,
		escrows:   escrows,
		auditLog:  auditStore,
		notifier:  notifier,
		manager:   manager,
		engine:    engine,
		sweeper:   sweeper,
		custodian: custodian,
		clock:     clock,
	}
}

// seedEscrow writes an escrow record directly. The manager stamps records
// with wall-clock time, which the warped test clock cannot line up with, so
// tests exercising rotation timestamps set them here.
func (e *engineEnv) seedEscrow(t *testing.T, user interfaces.UserID, survey interfaces.SurveyID, rotated time.Time) {
	t.Helper()

	require.NoError(t, e.escrows.Upsert(context.Background(), interfaces.EscrowRecord{
		UserID:            user,
		SurveyID:          survey,
		StorePath:         interfaces.RecoveryKEKPath(user, survey),
		CiphertextVersion: 1,
		CreatedAt:         rotated,
		LastRotatedAt:     rotated,
	}))
}

// escrowKEK escrows a fresh random KEK through the real manager and returns
// the plaintext for comparison after recovery.
func (e *engineEnv) escrowKEK(t *testing.T, user interfaces.UserID, survey interfaces.SurveyID) []byte {
	t.Helper()

	kek := make([]byte, interfaces.KEKSize)
	_, err := rand.Read(kek)
	require.NoError(t, err)

	_, err = e.manager.EscrowKEK(context.Background(), "support-1", user, survey, kek)
	require.NoError(t, err)
	return kek
}

// auditOps returns the operations recorded against the target, in order.
func (e *engineEnv) auditOps(target string) []string {
	var ops []string
	for _, entry := range e.auditLog.Entries() {
		if entry.TargetRef == target {
			ops = append(ops, entry.Operation)
		}
	}
	return ops
}

func TestDualControlApproval(t *testing.T) {
	env := newEngineEnv(t, Config{})
	ctx := context.Background()
	user, survey := interfaces.UserID("alice"), interfaces.SurveyID("s1")
	env.seedEscrow(t, user, survey, env.clock.Now())

	req, token, err := env.engine.Submit(ctx, "requester-alice", user, survey)
	require.NoError(t, err)
	require.NotEmpty(t, token)
	require.Equal(t, interfaces.StatusSubmitted, req.Status)

	// The requester can never approve their own request.
	_, err = env.engine.Approve(ctx, "requester-alice", req.ID)
	require.ErrorIs(t, err, interfaces.ErrDualControlViolation)

	first, err := env.engine.Approve(ctx, "admin-1", req.ID)
	require.NoError(t, err)
	require.Equal(t, interfaces.StatusAdmin1Approved, first.Status)
	require.Equal(t, interfaces.ActorID("admin-1"), first.Admin1ID)

	// The same admin cannot take both approval slots.
	_, err = env.engine.Approve(ctx, "admin-1", req.ID)
	require.ErrorIs(t, err, interfaces.ErrDualControlViolation)

	second, err := env.engine.Approve(ctx, "admin-2", req.ID)
	require.NoError(t, err)
	require.Equal(t, interfaces.StatusDelayed, second.Status)
	require.Equal(t, interfaces.ActorID("admin-2"), second.Admin2ID)
	require.True(t, second.DelayUntil.Equal(env.clock.Now().Add(DefaultApprovalDelay)))

	event := env.notifier.await(t, interfaces.EventRecoveryDelayed)
	require.Equal(t, req.ID, event.RequestID)
	require.Equal(t, user, event.UserID)
}

func TestCancelWithToken(t *testing.T) {
	env := newEngineEnv(t, Config{})
	ctx := context.Background()
	user, survey := interfaces.UserID("alice"), interfaces.SurveyID("s1")
	env.seedEscrow(t, user, survey, env.clock.Now())

	req, token, err := env.engine.Submit(ctx, "requester-alice", user, survey)
	require.NoError(t, err)

	// A wrong token is rejected before anything else is disclosed.
	_, err = env.engine.Cancel(ctx, "requester-alice", req.ID, "not-the-token")
	require.ErrorIs(t, err, interfaces.ErrInvalidCancelToken)

	cancelled, err := env.engine.Cancel(ctx, "requester-alice", req.ID, token)
	require.NoError(t, err)
	require.Equal(t, interfaces.StatusCancelled, cancelled.Status)

	event := env.notifier.await(t, interfaces.EventRecoveryCancelled)
	require.Equal(t, req.ID, event.RequestID)

	// The request is terminal now; every further action reports that.
	_, err = env.engine.Cancel(ctx, "requester-alice", req.ID, token)
	require.ErrorIs(t, err, interfaces.ErrAlreadyCancelled)
	_, err = env.engine.Approve(ctx, "admin-1", req.ID)
	require.ErrorIs(t, err, interfaces.ErrAlreadyCancelled)
	_, err = env.engine.Execute(ctx, "admin-1", req.ID, env.custodian)
	require.ErrorIs(t, err, interfaces.ErrAlreadyCancelled)
}

func TestCancelWindowClosesAtExecutable(t *testing.T) {
	env := newEngineEnv(t, Config{})
	ctx := context.Background()
	user, survey := interfaces.UserID("alice"), interfaces.SurveyID("s1")
	env.seedEscrow(t, user, survey, env.clock.Now())

	req, token, err := env.engine.Submit(ctx, "requester-alice", user, survey)
	require.NoError(t, err)

	_, err = env.engine.Approve(ctx, "admin-1", req.ID)
	require.NoError(t, err)
	_, err = env.engine.Approve(ctx, "admin-2", req.ID)
	require.NoError(t, err)

	// Cancellation is still open during the delay.
	env.clock.Advance(time.Hour)
	stats, err := env.sweeper.SweepOnce(ctx)
	require.NoError(t, err)
	require.Zero(t, stats.MarkedExecutable)

	env.clock.Advance(DefaultApprovalDelay)
	stats, err = env.sweeper.SweepOnce(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, stats.MarkedExecutable)

	_, err = env.engine.Cancel(ctx, "requester-alice", req.ID, token)
	require.ErrorIs(t, err, interfaces.ErrCancelWindowClosed)
}

func TestDelayThenExecute(t *testing.T) {
	env := newEngineEnv(t, Config{})
	ctx := context.Background()
	user, survey := interfaces.UserID("alice"), interfaces.SurveyID("s1")
	kek := env.escrowKEK(t, user, survey)

	req, _, err := env.engine.Submit(ctx, "requester-alice", user, survey)
	require.NoError(t, err)
	_, err = env.engine.Approve(ctx, "admin-1", req.ID)
	require.NoError(t, err)
	_, err = env.engine.Approve(ctx, "admin-2", req.ID)
	require.NoError(t, err)

	// Not executable until the sweep observes the delay passed.
	_, err = env.engine.Execute(ctx, "admin-1", req.ID, env.custodian)
	require.ErrorIs(t, err, interfaces.ErrNotExecutable)

	env.clock.Advance(DefaultApprovalDelay + time.Minute)
	stats, err := env.sweeper.SweepOnce(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, stats.MarkedExecutable)

	// A redundant pass finds nothing to do.
	stats, err = env.sweeper.SweepOnce(ctx)
	require.NoError(t, err)
	require.Zero(t, stats)

	got, err := env.engine.Request(ctx, req.ID)
	require.NoError(t, err)
	require.Equal(t, interfaces.StatusExecutable, got.Status)

	// Execution needs the custodian in the room.
	_, err = env.engine.Execute(ctx, "admin-1", req.ID, nil)
	require.ErrorIs(t, err, interfaces.ErrCustodianUnavailable)

	released, err := env.engine.Execute(ctx, "admin-1", req.ID, env.custodian)
	require.NoError(t, err)
	require.Equal(t, kek, released)

	event := env.notifier.await(t, interfaces.EventRecoveryExecuted)
	require.Equal(t, req.ID, event.RequestID)

	got, err = env.engine.Request(ctx, req.ID)
	require.NoError(t, err)
	require.Equal(t, interfaces.StatusCompleted, got.Status)
	require.False(t, got.CompletedAt.IsZero())

	// Exactly one release per request.
	_, err = env.engine.Execute(ctx, "admin-2", req.ID, env.custodian)
	require.ErrorIs(t, err, interfaces.ErrAlreadyCompleted)

	require.Equal(t, []string{
		"recovery.submit",
		"recovery.approve",
		"recovery.approve",
		"recovery.execute",
		"recovery.mark_executable",
		"recovery.execute",
		"recovery.execute",
		"recovery.execute",
	}, env.auditOps(req.ID))
}

func TestExpiryBySweep(t *testing.T) {
	env := newEngineEnv(t, Config{})
	ctx := context.Background()
	user, survey := interfaces.UserID("alice"), interfaces.SurveyID("s1")
	env.seedEscrow(t, user, survey, env.clock.Now())

	req, _, err := env.engine.Submit(ctx, "requester-alice", user, survey)
	require.NoError(t, err)

	env.clock.Advance(DefaultRequestTTL + time.Hour)

	// Past the window the engine refuses even before the sweep runs.
	_, err = env.engine.Approve(ctx, "admin-1", req.ID)
	require.ErrorIs(t, err, interfaces.ErrRequestExpired)

	stats, err := env.sweeper.SweepOnce(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, stats.Expired)

	event := env.notifier.await(t, interfaces.EventRecoveryExpired)
	require.Equal(t, req.ID, event.RequestID)

	got, err := env.engine.Request(ctx, req.ID)
	require.NoError(t, err)
	require.Equal(t, interfaces.StatusExpired, got.Status)

	_, err = env.engine.Approve(ctx, "admin-1", req.ID)
	require.ErrorIs(t, err, interfaces.ErrRequestExpired)
}

func TestResubmitAfterExpiry(t *testing.T) {
	ctx := context.Background()
	user, survey := interfaces.UserID("alice"), interfaces.SurveyID("s1")

	t.Run("blocked until re-escrow by default", func(t *testing.T) {
		env := newEngineEnv(t, Config{})
		env.seedEscrow(t, user, survey, env.clock.Now())

		_, _, err := env.engine.Submit(ctx, "requester-alice", user, survey)
		require.NoError(t, err)

		env.clock.Advance(DefaultRequestTTL + time.Hour)
		stats, err := env.sweeper.SweepOnce(ctx)
		require.NoError(t, err)
		require.Equal(t, 1, stats.Expired)

		_, _, err = env.engine.Submit(ctx, "requester-alice", user, survey)
		require.ErrorIs(t, err, interfaces.ErrRequestExpired)

		// Re-establishing the escrow resets the gate.
		env.clock.Advance(time.Minute)
		env.seedEscrow(t, user, survey, env.clock.Now())

		_, _, err = env.engine.Submit(ctx, "requester-alice", user, survey)
		require.NoError(t, err)
	})

	t.Run("allowed when policy permits", func(t *testing.T) {
		env := newEngineEnv(t, Config{ReleaseEscrowOnExpiry: true})
		env.seedEscrow(t, user, survey, env.clock.Now())

		_, _, err := env.engine.Submit(ctx, "requester-alice", user, survey)
		require.NoError(t, err)

		env.clock.Advance(DefaultRequestTTL + time.Hour)
		_, err = env.sweeper.SweepOnce(ctx)
		require.NoError(t, err)

		_, _, err = env.engine.Submit(ctx, "requester-alice", user, survey)
		require.NoError(t, err)
	})
}

func TestSubmitRefusedWhilePending(t *testing.T) {
	env := newEngineEnv(t, Config{})
	ctx := context.Background()
	user, survey := interfaces.UserID("alice"), interfaces.SurveyID("s1")
	env.seedEscrow(t, user, survey, env.clock.Now())

	_, _, err := env.engine.Submit(ctx, "requester-alice", user, survey)
	require.NoError(t, err)

	_, _, err = env.engine.Submit(ctx, "requester-alice", user, survey)
	require.ErrorIs(t, err, interfaces.ErrStateConflict)
}

func TestSubmitUnknownEscrow(t *testing.T) {
	env := newEngineEnv(t, Config{})

	_, _, err := env.engine.Submit(context.Background(), "requester-alice",
		interfaces.UserID("alice"), interfaces.SurveyID("never-escrowed"))
	require.ErrorIs(t, err, interfaces.ErrEscrowNotFound)
}

func TestSweepFinishesInterruptedApproval(t *testing.T) {
	env := newEngineEnv(t, Config{})
	ctx := context.Background()
	user, survey := interfaces.UserID("alice"), interfaces.SurveyID("s1")
	env.seedEscrow(t, user, survey, env.clock.Now())

	// A crash between the second-approval write and the delay write leaves
	// the request in ADMIN2_APPROVED.
	now := env.clock.Now()
	admin2At := now.Add(-time.Hour)
	require.NoError(t, env.requests.Create(ctx, interfaces.RecoveryRequest{
		ID:          "req-stuck",
		UserID:      user,
		SurveyID:    survey,
		RequestedBy: interfaces.ActorID("requester-alice"),
		Status:      interfaces.StatusAdmin2Approved,
		Version:     3,
		Admin1ID:    interfaces.ActorID("admin-1"),
		Admin1At:    now.Add(-2 * time.Hour),
		Admin2ID:    interfaces.ActorID("admin-2"),
		Admin2At:    admin2At,
		CreatedAt:   now.Add(-3 * time.Hour),
		UpdatedAt:   admin2At,
	}))

	stats, err := env.sweeper.SweepOnce(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, stats.Repaired)

	got, err := env.requests.Get(ctx, "req-stuck")
	require.NoError(t, err)
	require.Equal(t, interfaces.StatusDelayed, got.Status)
	// The delay anchors to the second approval, not the repair time.
	require.True(t, got.DelayUntil.Equal(admin2At.Add(DefaultApprovalDelay)))

	env.notifier.await(t, interfaces.EventRecoveryDelayed)

	// The anchored deadline still has 23h to run.
	env.clock.Advance(22 * time.Hour)
	stats, err = env.sweeper.SweepOnce(ctx)
	require.NoError(t, err)
	require.Zero(t, stats.MarkedExecutable)

	env.clock.Advance(time.Hour + time.Minute)
	stats, err = env.sweeper.SweepOnce(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, stats.MarkedExecutable)
}

func TestRequesterStatusView(t *testing.T) {
	env := newEngineEnv(t, Config{})
	ctx := context.Background()
	user, survey := interfaces.UserID("alice"), interfaces.SurveyID("s1")
	env.seedEscrow(t, user, survey, env.clock.Now())

	req, _, err := env.engine.Submit(ctx, "requester-alice", user, survey)
	require.NoError(t, err)

	status, err := env.engine.Status(ctx, user, req.ID)
	require.NoError(t, err)
	require.Equal(t, "submitted", status.State)
	require.Equal(t, survey, status.SurveyID)

	// Another user's request reads as not found, not as forbidden.
	_, err = env.engine.Status(ctx, interfaces.UserID("mallory"), req.ID)
	require.ErrorIs(t, err, interfaces.ErrRequestNotFound)

	_, err = env.engine.Approve(ctx, "admin-1", req.ID)
	require.NoError(t, err)

	status, err = env.engine.Status(ctx, user, req.ID)
	require.NoError(t, err)
	require.Equal(t, "pending-approval", status.State)
}

func TestPendingOldestFirst(t *testing.T) {
	env := newEngineEnv(t, Config{})
	ctx := context.Background()
	user := interfaces.UserID("alice")
	env.seedEscrow(t, user, interfaces.SurveyID("s1"), env.clock.Now())
	env.seedEscrow(t, user, interfaces.SurveyID("s2"), env.clock.Now())

	first, _, err := env.engine.Submit(ctx, "requester-alice", user, interfaces.SurveyID("s1"))
	require.NoError(t, err)

	env.clock.Advance(time.Minute)
	second, _, err := env.engine.Submit(ctx, "requester-alice", user, interfaces.SurveyID("s2"))
	require.NoError(t, err)

	pending, err := env.engine.Pending(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 2)
	require.Equal(t, first.ID, pending[0].ID)
	require.Equal(t, second.ID, pending[1].ID)
}

func TestSubmitFailsWhenAuditUnavailable(t *testing.T) {
	env := newEngineEnv(t, Config{})
	ctx := context.Background()
	user, survey := interfaces.UserID("alice"), interfaces.SurveyID("s1")
	env.seedEscrow(t, user, survey, env.clock.Now())

	env.auditLog.FailAppends(errors.New("audit store down"))

	_, _, err := env.engine.Submit(ctx, "requester-alice", user, survey)
	require.ErrorIs(t, err, interfaces.ErrAuditWriteFailure)
}

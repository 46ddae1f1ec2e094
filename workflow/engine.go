package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/vitalform/survey-key-escrow/audit"
	"github.com/vitalform/survey-key-escrow/cryptoutils"
	"github.com/vitalform/survey-key-escrow/interfaces"
)

// Default workflow timings.
const (
	DefaultApprovalDelay = 24 * time.Hour
	DefaultRequestTTL    = 30 * 24 * time.Hour

	notifyTimeout = 10 * time.Second
)

// Audit operation names for request lifecycle transitions.
const (
	opSubmit         = "recovery.submit"
	opApprove        = "recovery.approve"
	opCancel         = "recovery.cancel"
	opExecute        = "recovery.execute"
	opEnterDelay     = "recovery.enter_delay"
	opMarkExecutable = "recovery.mark_executable"
	opExpire         = "recovery.expire"
)

// Config carries the workflow policy shared by the engine and the sweeper.
type Config struct {
	// ApprovalDelay is the mandatory wait between the second approval and
	// the request becoming executable.
	ApprovalDelay time.Duration

	// RequestTTL is the maximum lifetime of a request. Non-terminal
	// requests past it are expired by the sweep.
	RequestTTL time.Duration

	// ReleaseEscrowOnExpiry permits a new request for an escrow whose
	// previous request expired. When false, the escrow must be
	// re-established before another request is accepted for it.
	ReleaseEscrowOnExpiry bool
}

func (c Config) withDefaults() Config {
	if c.ApprovalDelay <= 0 {
		c.ApprovalDelay = DefaultApprovalDelay
	}
	if c.RequestTTL <= 0 {
		c.RequestTTL = DefaultRequestTTL
	}
	return c
}

// Engine drives recovery requests through the approval state machine. All
// transitions are compare-and-swap on the request version, so concurrent
// approvals, cancellation, execution, and the sweep resolve to one winner
// per step.
type Engine struct {
	requests  interfaces.RecoveryRequestStore
	escrows   interfaces.EscrowRecordStore
	recoverer interfaces.KEKRecoverer
	audit     interfaces.AuditLog
	notifier  interfaces.Notifier
	cfg       Config
	log       *slog.Logger
	now       func() time.Time
}

// NewEngine creates a workflow engine. The recoverer releases escrowed
// KEKs during execution; everything else is bookkeeping around it.
func NewEngine(requests interfaces.RecoveryRequestStore, escrows interfaces.EscrowRecordStore, recoverer interfaces.KEKRecoverer, alog interfaces.AuditLog, notifier interfaces.Notifier, cfg Config, log *slog.Logger) *Engine {
	return &Engine{
		requests:  requests,
		escrows:   escrows,
		recoverer: recoverer,
		audit:     alog,
		notifier:  notifier,
		cfg:       cfg.withDefaults(),
		log:       log,
		now:       time.Now,
	}
}

// Submit opens a recovery request for the (user, survey) escrow and
// returns the persisted request together with the single-use cancel
// token. The token is shown to the requester exactly once; only its hash
// is stored. One pending request per escrow: submission is refused while
// another request for the pair is non-terminal, and, unless configured
// otherwise, while the latest request for the pair expired without the
// escrow having been re-established since.
func (e *Engine) Submit(ctx context.Context, requestedBy interfaces.ActorID, user interfaces.UserID, survey interfaces.SurveyID) (interfaces.RecoveryRequest, string, error) {
	req, token, err := e.submit(ctx, requestedBy, user, survey)
	detail := fmt.Sprintf("user %s survey %s", user, survey)
	if err = audit.Record(ctx, e.audit, e.log, requestedBy, opSubmit, req.ID, detail, err); err != nil {
		return interfaces.RecoveryRequest{}, "", err
	}
	return req, token, nil
}

func (e *Engine) submit(ctx context.Context, requestedBy interfaces.ActorID, user interfaces.UserID, survey interfaces.SurveyID) (interfaces.RecoveryRequest, string, error) {
	// The id is allocated up front so even refused attempts are
	// traceable in the audit log.
	req := interfaces.RecoveryRequest{ID: uuid.New().String()}

	if err := requestedBy.Validate(); err != nil {
		return req, "", err
	}
	if err := user.Validate(); err != nil {
		return req, "", err
	}
	if err := survey.Validate(); err != nil {
		return req, "", err
	}

	rec, err := e.escrows.Get(ctx, user, survey)
	if err != nil {
		return req, "", err
	}

	prior, err := e.requests.ListForEscrow(ctx, user, survey)
	if err != nil {
		return req, "", fmt.Errorf("listing prior requests: %w", err)
	}
	for _, p := range prior {
		if !p.Status.Terminal() {
			return req, "", fmt.Errorf("%w: request %s already pending for this escrow", interfaces.ErrStateConflict, p.ID)
		}
	}
	if !e.cfg.ReleaseEscrowOnExpiry {
		// An expired attempt taints the escrow until it is re-escrowed.
		for _, p := range prior {
			if p.Status == interfaces.StatusExpired && rec.LastRotatedAt.Before(p.UpdatedAt) {
				return req, "", fmt.Errorf("%w: request %s expired, escrow must be re-established first", interfaces.ErrRequestExpired, p.ID)
			}
		}
	}

	token, hash, err := cryptoutils.NewCancelToken()
	if err != nil {
		return req, "", fmt.Errorf("issuing cancel token: %w", err)
	}

	now := e.now().UTC()
	req.UserID = user
	req.SurveyID = survey
	req.RequestedBy = requestedBy
	req.Status = interfaces.StatusSubmitted
	req.Version = 1
	req.CancelTokenHash = hash
	req.CreatedAt = now
	req.UpdatedAt = now

	if err := e.requests.Create(ctx, req); err != nil {
		return req, "", fmt.Errorf("persisting request: %w", err)
	}

	e.log.Info("Recovery request submitted",
		slog.String("requestID", req.ID),
		slog.String("user", user.String()),
		slog.String("survey", survey.String()))

	return req, token, nil
}

// Approve records one admin approval. The first approval moves the
// request to ADMIN1_APPROVED; a second approval by a different admin
// completes dual control, enters the mandatory delay, and notifies the
// account owner. The requester can never approve their own request and no
// admin can hold both approval slots.
func (e *Engine) Approve(ctx context.Context, admin interfaces.ActorID, requestID string) (interfaces.RecoveryRequest, error) {
	req, detail, err := e.approve(ctx, admin, requestID)
	if err = audit.Record(ctx, e.audit, e.log, admin, opApprove, requestID, detail, err); err != nil {
		return interfaces.RecoveryRequest{}, err
	}
	return req, nil
}

func (e *Engine) approve(ctx context.Context, admin interfaces.ActorID, requestID string) (interfaces.RecoveryRequest, string, error) {
	var zero interfaces.RecoveryRequest

	if err := admin.Validate(); err != nil {
		return zero, "", err
	}

	req, err := e.requests.Get(ctx, requestID)
	if err != nil {
		return zero, "", err
	}
	if err := requestActionable(&req); err != nil {
		return zero, "", err
	}
	if e.pastTTL(&req) {
		return zero, "", fmt.Errorf("%w: past validity window", interfaces.ErrRequestExpired)
	}
	if admin == req.RequestedBy {
		return zero, "", fmt.Errorf("%w: requester cannot approve their own request", interfaces.ErrDualControlViolation)
	}
	if req.ApprovedBy(admin) {
		return zero, "", fmt.Errorf("%w: admin %s already approved", interfaces.ErrDualControlViolation, admin)
	}

	now := e.now().UTC()
	switch req.Status {
	case interfaces.StatusSubmitted:
		req.Status = interfaces.StatusAdmin1Approved
		req.Admin1ID = admin
		req.Admin1At = now
		req.UpdatedAt = now
		if err := e.requests.UpdateCAS(ctx, req); err != nil {
			return zero, "", err
		}
		req.Version++

		e.log.Info("Recovery request approved",
			slog.String("requestID", req.ID),
			slog.String("admin", admin.String()),
			slog.String("slot", "first"))

		return req, "first approval", nil

	case interfaces.StatusAdmin1Approved:
		req.Status = interfaces.StatusAdmin2Approved
		req.Admin2ID = admin
		req.Admin2At = now
		req.UpdatedAt = now
		if err := e.requests.UpdateCAS(ctx, req); err != nil {
			return zero, "", err
		}
		req.Version++

		// Separate step so a crash here leaves ADMIN2_APPROVED for the
		// sweep to finish into DELAYED.
		req.Status = interfaces.StatusDelayed
		req.DelayUntil = now.Add(e.cfg.ApprovalDelay)
		req.UpdatedAt = now
		if err := e.requests.UpdateCAS(ctx, req); err != nil {
			return zero, "", err
		}
		req.Version++

		e.log.Info("Recovery request approved",
			slog.String("requestID", req.ID),
			slog.String("admin", admin.String()),
			slog.String("slot", "second"),
			slog.Time("delayUntil", req.DelayUntil))

		notifyEvent(e.notifier, e.log, interfaces.Event{
			Type:      interfaces.EventRecoveryDelayed,
			RequestID: req.ID,
			UserID:    req.UserID,
			SurveyID:  req.SurveyID,
			At:        now,
			Message:   fmt.Sprintf("recovery enters mandatory delay until %s", req.DelayUntil.Format(time.RFC3339)),
		})

		return req, fmt.Sprintf("dual control complete, delayed until %s", req.DelayUntil.Format(time.RFC3339)), nil

	default:
		return zero, "", fmt.Errorf("%w: request is %s, not awaiting approval", interfaces.ErrStateConflict, req.Status)
	}
}

// Cancel cancels the request using the single-use token issued at
// submission. Token verification is constant-time and precedes any state
// disclosure. Allowed from any state before EXECUTABLE; afterwards the
// window is closed and the request either completes or expires.
func (e *Engine) Cancel(ctx context.Context, actor interfaces.ActorID, requestID, token string) (interfaces.RecoveryRequest, error) {
	req, err := e.cancel(ctx, requestID, token)
	if err = audit.Record(ctx, e.audit, e.log, actor, opCancel, requestID, "", err); err != nil {
		return interfaces.RecoveryRequest{}, err
	}
	return req, nil
}

func (e *Engine) cancel(ctx context.Context, requestID, token string) (interfaces.RecoveryRequest, error) {
	var zero interfaces.RecoveryRequest

	req, err := e.requests.Get(ctx, requestID)
	if err != nil {
		return zero, err
	}

	if !cryptoutils.VerifyTokenHash(token, req.CancelTokenHash) {
		return zero, interfaces.ErrInvalidCancelToken
	}
	if err := requestActionable(&req); err != nil {
		return zero, err
	}
	if !req.Status.Cancellable() {
		return zero, fmt.Errorf("%w: request is %s", interfaces.ErrCancelWindowClosed, req.Status)
	}

	now := e.now().UTC()
	req.Status = interfaces.StatusCancelled
	req.UpdatedAt = now
	if err := e.requests.UpdateCAS(ctx, req); err != nil {
		return zero, err
	}
	req.Version++

	e.log.Info("Recovery request cancelled", slog.String("requestID", req.ID))

	notifyEvent(e.notifier, e.log, interfaces.Event{
		Type:      interfaces.EventRecoveryCancelled,
		RequestID: req.ID,
		UserID:    req.UserID,
		SurveyID:  req.SurveyID,
		At:        now,
		Message:   "recovery request cancelled",
	})

	return req, nil
}

// Execute releases the escrowed KEK for an executable request and
// completes it. Exactly one caller wins the completion step; losers get
// AlreadyCompleted and no key material. The KEK is returned only after the
// completion and its audit record are durable. The caller wipes the
// returned KEK.
func (e *Engine) Execute(ctx context.Context, admin interfaces.ActorID, requestID string, custodianComponent []byte) ([]byte, error) {
	kek, detail, err := e.execute(ctx, admin, requestID, custodianComponent)
	if err = audit.Record(ctx, e.audit, e.log, admin, opExecute, requestID, detail, err); err != nil {
		cryptoutils.Wipe(kek)
		return nil, err
	}
	return kek, nil
}

func (e *Engine) execute(ctx context.Context, admin interfaces.ActorID, requestID string, custodianComponent []byte) ([]byte, string, error) {
	if err := admin.Validate(); err != nil {
		return nil, "", err
	}

	req, err := e.requests.Get(ctx, requestID)
	if err != nil {
		return nil, "", err
	}
	if err := requestActionable(&req); err != nil {
		return nil, "", err
	}
	if req.Status != interfaces.StatusExecutable {
		return nil, "", fmt.Errorf("%w: request is %s", interfaces.ErrNotExecutable, req.Status)
	}
	if e.pastTTL(&req) {
		return nil, "", fmt.Errorf("%w: past validity window", interfaces.ErrRequestExpired)
	}

	kek, err := e.recoverer.RecoverKEK(ctx, admin, req.UserID, req.SurveyID, custodianComponent)
	if err != nil {
		return nil, "", err
	}

	now := e.now().UTC()
	req.Status = interfaces.StatusCompleted
	req.CompletedAt = now
	req.UpdatedAt = now
	if err := e.requests.UpdateCAS(ctx, req); err != nil {
		cryptoutils.Wipe(kek)
		if errors.Is(err, interfaces.ErrStateConflict) {
			// Lost the race; report what actually happened to the request.
			if current, gerr := e.requests.Get(ctx, req.ID); gerr == nil {
				switch current.Status {
				case interfaces.StatusCompleted:
					return nil, "", interfaces.ErrAlreadyCompleted
				case interfaces.StatusExpired:
					return nil, "", fmt.Errorf("%w: past validity window", interfaces.ErrRequestExpired)
				}
			}
		}
		return nil, "", err
	}
	req.Version++

	e.log.Info("Recovery request executed",
		slog.String("requestID", req.ID),
		slog.String("user", req.UserID.String()),
		slog.String("survey", req.SurveyID.String()))

	notifyEvent(e.notifier, e.log, interfaces.Event{
		Type:      interfaces.EventRecoveryExecuted,
		RequestID: req.ID,
		UserID:    req.UserID,
		SurveyID:  req.SurveyID,
		At:        now,
		Message:   "recovery executed, escrowed key released",
	})

	return kek, "escrowed KEK released", nil
}

// RequesterStatus is the coarse view a requester sees. Admin identities,
// internal deadlines, and key material are never part of it.
type RequesterStatus struct {
	RequestID   string              `json:"request_id"`
	SurveyID    interfaces.SurveyID `json:"survey_id"`
	State       string              `json:"state"`
	SubmittedAt time.Time           `json:"submitted_at"`
	UpdatedAt   time.Time           `json:"updated_at"`
}

// Status returns the requester-facing view of a request. The user must own
// the request; anything else reads as not found.
func (e *Engine) Status(ctx context.Context, user interfaces.UserID, requestID string) (RequesterStatus, error) {
	req, err := e.requests.Get(ctx, requestID)
	if err != nil {
		return RequesterStatus{}, err
	}
	if req.UserID != user {
		return RequesterStatus{}, fmt.Errorf("%w: %s", interfaces.ErrRequestNotFound, requestID)
	}
	return RequesterStatus{
		RequestID:   req.ID,
		SurveyID:    req.SurveyID,
		State:       req.Status.RequesterView(),
		SubmittedAt: req.CreatedAt,
		UpdatedAt:   req.UpdatedAt,
	}, nil
}

// Request returns the full request record for administrative callers.
func (e *Engine) Request(ctx context.Context, id string) (interfaces.RecoveryRequest, error) {
	return e.requests.Get(ctx, id)
}

// Pending returns all non-terminal requests, oldest first.
func (e *Engine) Pending(ctx context.Context) ([]interfaces.RecoveryRequest, error) {
	return e.requests.ListByStatus(ctx,
		interfaces.StatusSubmitted,
		interfaces.StatusAdmin1Approved,
		interfaces.StatusAdmin2Approved,
		interfaces.StatusDelayed,
		interfaces.StatusExecutable,
	)
}

// requestActionable rejects operations on requests in terminal states.
func requestActionable(req *interfaces.RecoveryRequest) error {
	switch req.Status {
	case interfaces.StatusCompleted:
		return interfaces.ErrAlreadyCompleted
	case interfaces.StatusCancelled:
		return interfaces.ErrAlreadyCancelled
	case interfaces.StatusExpired:
		return fmt.Errorf("%w: past validity window", interfaces.ErrRequestExpired)
	}
	return nil
}

func (e *Engine) pastTTL(req *interfaces.RecoveryRequest) bool {
	return !e.now().UTC().Before(req.ExpiresAt(e.cfg.RequestTTL))
}

// notifyEvent delivers the event on a detached goroutine. Failures are
// logged and dropped; the workflow never blocks on the notifier.
func notifyEvent(notifier interfaces.Notifier, log *slog.Logger, event interfaces.Event) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), notifyTimeout)
		defer cancel()
		if err := notifier.Send(ctx, event); err != nil {
			log.Warn("Failed to deliver recovery notification",
				"err", err,
				slog.String("event", event.Type),
				slog.String("requestID", event.RequestID))
		}
	}()
}

package escrow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/vitalform/survey-key-escrow/audit"
	"github.com/vitalform/survey-key-escrow/cryptoutils"
	"github.com/vitalform/survey-key-escrow/interfaces"
	"github.com/vitalform/survey-key-escrow/kms"
)

// Manager escrows survey KEKs under the platform escrow public key and
// releases them once a recovery request has become executable. It
// implements interfaces.KEKRecoverer.
type Manager struct {
	store         interfaces.SecretStore
	records       interfaces.EscrowRecordStore
	requests      interfaces.RecoveryRequestStore
	reconstructor *kms.Reconstructor
	audit         interfaces.AuditLog
	log           *slog.Logger
}

// NewManager creates an escrow manager. The reconstructor supplies the
// transient platform master key during recovery; the request store is
// consulted to gate release and invalidation.
func NewManager(store interfaces.SecretStore, records interfaces.EscrowRecordStore, requests interfaces.RecoveryRequestStore, reconstructor *kms.Reconstructor, alog interfaces.AuditLog, log *slog.Logger) *Manager {
	return &Manager{
		store:         store,
		records:       records,
		requests:      requests,
		reconstructor: reconstructor,
		audit:         alog,
		log:           log,
	}
}

// EscrowKEK encrypts the survey KEK under the published escrow public key
// and stores the ciphertext at the user's recovery path. Escrowing again
// for the same (user, survey) pair supersedes the previous ciphertext with
// a new store version; the record keeps its original creation time. The
// caller wipes the KEK after the call.
func (m *Manager) EscrowKEK(ctx context.Context, actor interfaces.ActorID, user interfaces.UserID, survey interfaces.SurveyID, kek []byte) (interfaces.EscrowRecord, error) {
	const op = "escrow.store_kek"
	target := interfaces.RecoveryKEKPath(user, survey)

	rec, err := m.escrowKEK(ctx, user, survey, kek)
	if err = audit.Record(ctx, m.audit, m.log, actor, op, target, "", err); err != nil {
		return interfaces.EscrowRecord{}, err
	}
	return rec, nil
}

func (m *Manager) escrowKEK(ctx context.Context, user interfaces.UserID, survey interfaces.SurveyID, kek []byte) (interfaces.EscrowRecord, error) {
	var zero interfaces.EscrowRecord

	if err := user.Validate(); err != nil {
		return zero, err
	}
	if err := survey.Validate(); err != nil {
		return zero, err
	}
	if err := interfaces.ValidateKeyLength("survey KEK", kek, interfaces.KEKSize); err != nil {
		return zero, err
	}
	target := interfaces.RecoveryKEKPath(user, survey)

	publicKeyPEM, err := m.store.Get(ctx, interfaces.EscrowPublicKeyPath(), 0)
	if err != nil {
		return zero, fmt.Errorf("fetching escrow public key: %w", err)
	}

	ciphertext, err := cryptoutils.EncryptWithPublicKey(publicKeyPEM, kek)
	if err != nil {
		return zero, fmt.Errorf("encrypting KEK for escrow: %w", err)
	}

	version, err := m.store.Put(ctx, target, ciphertext)
	if err != nil {
		return zero, fmt.Errorf("storing escrow ciphertext: %w", err)
	}

	now := time.Now().UTC()
	rec := interfaces.EscrowRecord{
		UserID:            user,
		SurveyID:          survey,
		StorePath:         target,
		CiphertextVersion: version,
		CreatedAt:         now,
		LastRotatedAt:     now,
	}
	if prev, err := m.records.Get(ctx, user, survey); err == nil {
		rec.CreatedAt = prev.CreatedAt
	} else if !errors.Is(err, interfaces.ErrEscrowNotFound) {
		return zero, fmt.Errorf("checking existing escrow record: %w", err)
	}

	if err := m.records.Upsert(ctx, rec); err != nil {
		return zero, fmt.Errorf("persisting escrow record: %w", err)
	}

	m.log.Info("Escrowed survey KEK",
		slog.String("user", user.String()),
		slog.String("survey", survey.String()),
		slog.Int("ciphertextVersion", version))

	return rec, nil
}

// RecoverKEK decrypts the escrowed KEK for the (user, survey) pair. It
// refuses with NotExecutable unless an executable recovery request covers
// the escrow; the workflow engine is the only path that produces one. The
// custodian component is required to reconstruct the platform master key
// for the duration of the decryption. The caller wipes the returned KEK.
func (m *Manager) RecoverKEK(ctx context.Context, actor interfaces.ActorID, user interfaces.UserID, survey interfaces.SurveyID, custodianComponent []byte) ([]byte, error) {
	const op = "escrow.recover_kek"
	target := interfaces.RecoveryKEKPath(user, survey)

	kek, err := m.recoverKEK(ctx, user, survey, custodianComponent)
	if err = audit.Record(ctx, m.audit, m.log, actor, op, target, "", err); err != nil {
		cryptoutils.Wipe(kek)
		return nil, err
	}
	return kek, nil
}

func (m *Manager) recoverKEK(ctx context.Context, user interfaces.UserID, survey interfaces.SurveyID, custodianComponent []byte) ([]byte, error) {
	if err := user.Validate(); err != nil {
		return nil, err
	}
	if err := survey.Validate(); err != nil {
		return nil, err
	}

	rec, err := m.records.Get(ctx, user, survey)
	if err != nil {
		return nil, err
	}

	if err := m.requireExecutableRequest(ctx, user, survey); err != nil {
		return nil, err
	}

	ciphertext, err := m.store.Get(ctx, rec.StorePath, rec.CiphertextVersion)
	if err != nil {
		return nil, fmt.Errorf("fetching escrow ciphertext: %w", err)
	}

	var kek []byte
	err = m.reconstructor.WithPlatformKey(ctx, custodianComponent, func(platformKey []byte) error {
		escrowKey, err := kms.DeriveEscrowKey(platformKey)
		if err != nil {
			return err
		}
		kek, err = cryptoutils.DecryptWithPrivateKey(escrowKey, ciphertext)
		if err != nil {
			return fmt.Errorf("decrypting escrow ciphertext: %w", err)
		}
		return nil
	})
	if err != nil {
		cryptoutils.Wipe(kek)
		return nil, err
	}

	if err := interfaces.ValidateKeyLength("recovered KEK", kek, interfaces.KEKSize); err != nil {
		cryptoutils.Wipe(kek)
		return nil, err
	}

	m.log.Info("Recovered escrowed survey KEK",
		slog.String("user", user.String()),
		slog.String("survey", survey.String()),
		slog.Int("ciphertextVersion", rec.CiphertextVersion))

	return kek, nil
}

// requireExecutableRequest checks that at least one recovery request for
// the escrow is in the executable state.
func (m *Manager) requireExecutableRequest(ctx context.Context, user interfaces.UserID, survey interfaces.SurveyID) error {
	reqs, err := m.requests.ListForEscrow(ctx, user, survey)
	if err != nil {
		return fmt.Errorf("listing recovery requests: %w", err)
	}
	for _, req := range reqs {
		if req.Status == interfaces.StatusExecutable {
			return nil
		}
	}
	return fmt.Errorf("%w: no executable recovery request for this escrow", interfaces.ErrNotExecutable)
}

// Invalidate deletes the escrow record for the (user, survey) pair.
// Refused with EscrowReferenced while any non-terminal recovery request
// references the escrow. The ciphertext versions remain in the secret
// store until a store operator destroys them; deleting the record removes
// the reference recovery needs.
func (m *Manager) Invalidate(ctx context.Context, actor interfaces.ActorID, user interfaces.UserID, survey interfaces.SurveyID) error {
	const op = "escrow.invalidate"
	target := interfaces.RecoveryKEKPath(user, survey)

	err := m.invalidate(ctx, user, survey)
	return audit.Record(ctx, m.audit, m.log, actor, op, target, "", err)
}

func (m *Manager) invalidate(ctx context.Context, user interfaces.UserID, survey interfaces.SurveyID) error {
	if err := user.Validate(); err != nil {
		return err
	}
	if err := survey.Validate(); err != nil {
		return err
	}

	if _, err := m.records.Get(ctx, user, survey); err != nil {
		return err
	}

	reqs, err := m.requests.ListForEscrow(ctx, user, survey)
	if err != nil {
		return fmt.Errorf("listing recovery requests: %w", err)
	}
	active := 0
	for _, req := range reqs {
		if !req.Status.Terminal() {
			active++
		}
	}
	if active > 0 {
		return fmt.Errorf("%w: %d pending recovery requests", interfaces.ErrEscrowReferenced, active)
	}

	if err := m.records.Delete(ctx, user, survey); err != nil {
		return fmt.Errorf("deleting escrow record: %w", err)
	}

	m.log.Info("Invalidated escrow record",
		slog.String("user", user.String()),
		slog.String("survey", survey.String()))

	return nil
}

// List returns the user's escrow records, newest first.
func (m *Manager) List(ctx context.Context, user interfaces.UserID) ([]interfaces.EscrowRecord, error) {
	if err := user.Validate(); err != nil {
		return nil, err
	}
	return m.records.ListByUser(ctx, user)
}

package kms

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/vitalform/survey-key-escrow/audit"
	"github.com/vitalform/survey-key-escrow/cryptoutils"
	"github.com/vitalform/survey-key-escrow/interfaces"
)

// KEKService manages survey key-encrypting-keys. It maintains the
// hierarchy-wrapped copy in the secret store; password-wrapped and
// recovery-phrase-wrapped copies are produced through the credential wrap
// helpers and persisted by the surrounding platform. All wrap paths of one
// KEK decrypt to identical plaintext bytes.
type KEKService struct {
	store interfaces.SecretStore
	audit interfaces.AuditLog
	log   *slog.Logger
}

// NewKEKService creates a KEK service backed by the given secret store and
// audit log.
func NewKEKService(store interfaces.SecretStore, alog interfaces.AuditLog, log *slog.Logger) *KEKService {
	return &KEKService{
		store: store,
		audit: alog,
		log:   log,
	}
}

// CreateSurveyKEK generates a fresh 32-byte KEK for the survey, wraps it
// under the team key, and stores the envelope at the survey's KEK path.
// Fails with ErrAlreadyInitialized when a KEK already exists: a second KEK
// for the same survey would fork the hierarchy. Returns the plaintext KEK
// for the caller to wrap under user credentials; the caller wipes it.
func (s *KEKService) CreateSurveyKEK(ctx context.Context, actor interfaces.ActorID, survey interfaces.SurveyID, teamKey []byte) ([]byte, error) {
	const op = "kms.create_survey_kek"
	target := interfaces.SurveyKEKPath(survey)

	kek, err := s.createSurveyKEK(ctx, survey, teamKey)
	if err = audit.Record(ctx, s.audit, s.log, actor, op, target, "", err); err != nil {
		cryptoutils.Wipe(kek)
		return nil, err
	}
	return kek, nil
}

func (s *KEKService) createSurveyKEK(ctx context.Context, survey interfaces.SurveyID, teamKey []byte) ([]byte, error) {
	if err := survey.Validate(); err != nil {
		return nil, err
	}
	target := interfaces.SurveyKEKPath(survey)

	if _, err := s.store.Get(ctx, target, 0); err == nil {
		return nil, fmt.Errorf("%w: survey KEK at %s", interfaces.ErrAlreadyInitialized, target)
	} else if !errors.Is(err, interfaces.ErrSecretNotFound) {
		return nil, fmt.Errorf("checking survey KEK: %w", err)
	}

	kek := make([]byte, interfaces.KEKSize)
	if _, err := io.ReadFull(rand.Reader, kek); err != nil {
		return nil, fmt.Errorf("generating KEK: %w", err)
	}

	envelope, err := cryptoutils.WrapKey(teamKey, kek, cryptoutils.CurrentKDFVersion)
	if err != nil {
		cryptoutils.Wipe(kek)
		return nil, fmt.Errorf("wrapping KEK under team key: %w", err)
	}

	if _, err := s.store.Put(ctx, target, envelope); err != nil {
		cryptoutils.Wipe(kek)
		return nil, fmt.Errorf("storing wrapped KEK: %w", err)
	}
	return kek, nil
}

// LoadSurveyKEK fetches the hierarchy-wrapped KEK and unwraps it under the
// team key. The caller wipes the returned KEK.
func (s *KEKService) LoadSurveyKEK(ctx context.Context, actor interfaces.ActorID, survey interfaces.SurveyID, teamKey []byte) ([]byte, error) {
	const op = "kms.load_survey_kek"
	target := interfaces.SurveyKEKPath(survey)

	kek, err := s.loadSurveyKEK(ctx, survey, teamKey)
	if err = audit.Record(ctx, s.audit, s.log, actor, op, target, "", err); err != nil {
		cryptoutils.Wipe(kek)
		return nil, err
	}
	return kek, nil
}

func (s *KEKService) loadSurveyKEK(ctx context.Context, survey interfaces.SurveyID, teamKey []byte) ([]byte, error) {
	if err := survey.Validate(); err != nil {
		return nil, err
	}
	target := interfaces.SurveyKEKPath(survey)

	envelope, err := s.store.Get(ctx, target, 0)
	if err != nil {
		return nil, fmt.Errorf("fetching wrapped KEK: %w", err)
	}

	kek, _, err := cryptoutils.UnwrapKey(teamKey, envelope)
	if err != nil {
		return nil, fmt.Errorf("unwrapping KEK under team key: %w", err)
	}
	return kek, nil
}

// WrapKEKUnderCredential wraps a KEK under a credential-layer-supplied key
// (password-derived or recovery-phrase-derived). The credential layer owns
// the KDF version recorded in the envelope. The resulting ciphertext is
// persisted by the surrounding platform, not by this service.
func WrapKEKUnderCredential(credentialKey, kek []byte, kdfVersion int) ([]byte, error) {
	if err := interfaces.ValidateKeyLength("survey KEK", kek, interfaces.KEKSize); err != nil {
		return nil, err
	}
	return cryptoutils.WrapKey(credentialKey, kek, kdfVersion)
}

// UnwrapKEKWithCredential opens a credential-wrapped KEK envelope,
// returning the KEK and the KDF version it was wrapped under. The caller
// wipes the returned KEK.
func UnwrapKEKWithCredential(credentialKey, envelope []byte) ([]byte, int, error) {
	return cryptoutils.UnwrapKey(credentialKey, envelope)
}

package kms

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/vitalform/survey-key-escrow/audit"
	"github.com/vitalform/survey-key-escrow/cryptoutils"
	"github.com/vitalform/survey-key-escrow/interfaces"
)

// Verifier schemes. The scheme names are persisted in verifier records.
const (
	schemeArgon2id = "argon2id"
	schemeHKDF     = "hkdf-sha256"
)

// Derivation labels. Changing a label changes every key derived under it.
const (
	orgSaltLabel   = "org-key-salt"
	teamInfoLabel  = "team-key:"
	orgCheckLabel  = "org-key-verifier:"
	teamCheckLabel = "team-key-verifier:"
)

// verifierRecord is the non-secret record stored at the organization and
// team key paths in place of the keys themselves. It lets the engine check
// a freshly derived key without the key ever being persisted.
type verifierRecord struct {
	Scheme     string `json:"scheme"`
	KDFVersion int    `json:"kdf_version,omitempty"`
	CheckValue string `json:"check_value"`
}

// DerivationEngine produces deterministic organization and team keys from
// the platform master key, identifiers, and credential-layer-supplied
// passphrase key bytes. Derived keys are returned to the caller, never
// persisted; the caller wipes them after use. Every derivation writes an
// audit entry before the key is released.
type DerivationEngine struct {
	store interfaces.SecretStore
	audit interfaces.AuditLog
	log   *slog.Logger
}

// NewDerivationEngine creates a derivation engine backed by the given
// secret store and audit log.
func NewDerivationEngine(store interfaces.SecretStore, alog interfaces.AuditLog, log *slog.Logger) *DerivationEngine {
	return &DerivationEngine{
		store: store,
		audit: alog,
		log:   log,
	}
}

// CreateOrganization derives the organization key for the first time and
// stores its verifier record. Fails with ErrAlreadyInitialized when a
// verifier already exists. Returns the derived 32-byte key; the caller
// wipes it.
func (e *DerivationEngine) CreateOrganization(ctx context.Context, actor interfaces.ActorID, org interfaces.OrgID, passphraseKey, platformKey []byte) ([]byte, error) {
	const op = "kms.create_org"
	target := interfaces.OrganizationKeyPath(org)

	key, err := e.createOrganization(ctx, org, passphraseKey, platformKey)
	if err = e.record(ctx, actor, op, target, err); err != nil {
		cryptoutils.Wipe(key)
		return nil, err
	}
	return key, nil
}

func (e *DerivationEngine) createOrganization(ctx context.Context, org interfaces.OrgID, passphraseKey, platformKey []byte) ([]byte, error) {
	if err := org.Validate(); err != nil {
		return nil, err
	}
	target := interfaces.OrganizationKeyPath(org)

	if _, err := e.store.Get(ctx, target, 0); err == nil {
		return nil, fmt.Errorf("%w: organization verifier at %s", interfaces.ErrAlreadyInitialized, target)
	} else if !errors.Is(err, interfaces.ErrSecretNotFound) {
		return nil, fmt.Errorf("checking organization verifier: %w", err)
	}

	key, err := deriveOrganizationKey(org, passphraseKey, platformKey, cryptoutils.CurrentKDFVersion)
	if err != nil {
		return nil, err
	}

	record := verifierRecord{
		Scheme:     schemeArgon2id,
		KDFVersion: cryptoutils.CurrentKDFVersion,
		CheckValue: checkValue(orgCheckLabel, key),
	}
	if err := e.putVerifier(ctx, target, record); err != nil {
		cryptoutils.Wipe(key)
		return nil, err
	}
	return key, nil
}

// OrganizationKey re-derives the organization key and validates it against
// the stored verifier. Returns ErrKeyVerification when the supplied
// passphrase key does not reproduce the registered key. The caller wipes
// the returned key.
func (e *DerivationEngine) OrganizationKey(ctx context.Context, actor interfaces.ActorID, org interfaces.OrgID, passphraseKey, platformKey []byte) ([]byte, error) {
	const op = "kms.derive_org_key"
	target := interfaces.OrganizationKeyPath(org)

	key, err := e.organizationKey(ctx, org, passphraseKey, platformKey)
	if err = e.record(ctx, actor, op, target, err); err != nil {
		cryptoutils.Wipe(key)
		return nil, err
	}
	return key, nil
}

func (e *DerivationEngine) organizationKey(ctx context.Context, org interfaces.OrgID, passphraseKey, platformKey []byte) ([]byte, error) {
	if err := org.Validate(); err != nil {
		return nil, err
	}
	target := interfaces.OrganizationKeyPath(org)

	record, err := e.getVerifier(ctx, target)
	if err != nil {
		return nil, err
	}
	if record.Scheme != schemeArgon2id {
		return nil, fmt.Errorf("unexpected verifier scheme %q at %s", record.Scheme, target)
	}

	key, err := deriveOrganizationKey(org, passphraseKey, platformKey, record.KDFVersion)
	if err != nil {
		return nil, err
	}

	if !checkValueMatches(orgCheckLabel, key, record.CheckValue) {
		cryptoutils.Wipe(key)
		return nil, fmt.Errorf("%w: organization %s", interfaces.ErrKeyVerification, org)
	}
	return key, nil
}

// CreateTeam derives the team key for the first time and stores its
// verifier record. The caller wipes the returned key.
func (e *DerivationEngine) CreateTeam(ctx context.Context, actor interfaces.ActorID, team interfaces.TeamID, orgKey []byte) ([]byte, error) {
	const op = "kms.create_team"
	target := interfaces.TeamKeyPath(team)

	key, err := e.createTeam(ctx, team, orgKey)
	if err = e.record(ctx, actor, op, target, err); err != nil {
		cryptoutils.Wipe(key)
		return nil, err
	}
	return key, nil
}

func (e *DerivationEngine) createTeam(ctx context.Context, team interfaces.TeamID, orgKey []byte) ([]byte, error) {
	if err := team.Validate(); err != nil {
		return nil, err
	}
	target := interfaces.TeamKeyPath(team)

	if _, err := e.store.Get(ctx, target, 0); err == nil {
		return nil, fmt.Errorf("%w: team verifier at %s", interfaces.ErrAlreadyInitialized, target)
	} else if !errors.Is(err, interfaces.ErrSecretNotFound) {
		return nil, fmt.Errorf("checking team verifier: %w", err)
	}

	key, err := deriveTeamKey(team, orgKey)
	if err != nil {
		return nil, err
	}

	record := verifierRecord{
		Scheme:     schemeHKDF,
		CheckValue: checkValue(teamCheckLabel, key),
	}
	if err := e.putVerifier(ctx, target, record); err != nil {
		cryptoutils.Wipe(key)
		return nil, err
	}
	return key, nil
}

// TeamKey re-derives the team key from the organization key and validates
// it against the stored verifier. The caller wipes the returned key.
func (e *DerivationEngine) TeamKey(ctx context.Context, actor interfaces.ActorID, team interfaces.TeamID, orgKey []byte) ([]byte, error) {
	const op = "kms.derive_team_key"
	target := interfaces.TeamKeyPath(team)

	key, err := e.teamKey(ctx, team, orgKey)
	if err = e.record(ctx, actor, op, target, err); err != nil {
		cryptoutils.Wipe(key)
		return nil, err
	}
	return key, nil
}

func (e *DerivationEngine) teamKey(ctx context.Context, team interfaces.TeamID, orgKey []byte) ([]byte, error) {
	if err := team.Validate(); err != nil {
		return nil, err
	}
	target := interfaces.TeamKeyPath(team)

	record, err := e.getVerifier(ctx, target)
	if err != nil {
		return nil, err
	}
	if record.Scheme != schemeHKDF {
		return nil, fmt.Errorf("unexpected verifier scheme %q at %s", record.Scheme, target)
	}

	key, err := deriveTeamKey(team, orgKey)
	if err != nil {
		return nil, err
	}

	if !checkValueMatches(teamCheckLabel, key, record.CheckValue) {
		cryptoutils.Wipe(key)
		return nil, fmt.Errorf("%w: team %s", interfaces.ErrKeyVerification, team)
	}
	return key, nil
}

// deriveOrganizationKey is the pure derivation: Argon2id over the
// credential-layer-supplied passphrase key, salted with the platform master
// key and organization id. Deterministic for identical inputs.
func deriveOrganizationKey(org interfaces.OrgID, passphraseKey, platformKey []byte, kdfVersion int) ([]byte, error) {
	if err := interfaces.ValidateKeyLength("platform master key", platformKey, interfaces.PlatformKeySize); err != nil {
		return nil, err
	}
	if len(passphraseKey) == 0 {
		return nil, errors.New("empty passphrase key")
	}

	h := sha256.New()
	h.Write(platformKey)
	h.Write([]byte(org))
	h.Write([]byte(orgSaltLabel))
	salt := h.Sum(nil)

	return cryptoutils.DeriveKey(passphraseKey, salt, kdfVersion)
}

// deriveTeamKey is the pure derivation: HKDF-SHA256 keyed on the
// organization key, domain-separated by team id.
func deriveTeamKey(team interfaces.TeamID, orgKey []byte) ([]byte, error) {
	if err := interfaces.ValidateKeyLength("organization key", orgKey, interfaces.DerivedKeySize); err != nil {
		return nil, err
	}
	return cryptoutils.ExpandKey(orgKey, []byte(teamInfoLabel+string(team)))
}

func (e *DerivationEngine) putVerifier(ctx context.Context, target string, record verifierRecord) error {
	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("marshaling verifier record: %w", err)
	}
	if _, err := e.store.Put(ctx, target, data); err != nil {
		return fmt.Errorf("storing verifier record: %w", err)
	}
	return nil
}

func (e *DerivationEngine) getVerifier(ctx context.Context, target string) (verifierRecord, error) {
	data, err := e.store.Get(ctx, target, 0)
	if err != nil {
		return verifierRecord{}, fmt.Errorf("fetching verifier record: %w", err)
	}
	var record verifierRecord
	if err := json.Unmarshal(data, &record); err != nil {
		return verifierRecord{}, fmt.Errorf("parsing verifier record at %s: %w", target, err)
	}
	return record, nil
}

func (e *DerivationEngine) record(ctx context.Context, actor interfaces.ActorID, op, target string, opErr error) error {
	return audit.Record(ctx, e.audit, e.log, actor, op, target, "", opErr)
}

// checkValue computes the non-secret verifier for a derived key. The label
// domain-separates organization and team check values.
func checkValue(label string, key []byte) string {
	h := sha256.New()
	h.Write([]byte(label))
	h.Write(key)
	return hex.EncodeToString(h.Sum(nil))
}

func checkValueMatches(label string, key []byte, stored string) bool {
	computed := checkValue(label, key)
	return subtle.ConstantTimeCompare([]byte(computed), []byte(stored)) == 1
}

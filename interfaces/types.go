package interfaces

import (
	"fmt"
	"regexp"
)

// Key material sizes, fixed by the storage and derivation contracts.
const (
	// PlatformKeySize is the size of the platform master key in bytes.
	// The key is never persisted whole; it exists only transiently while
	// an operation that needs it is running.
	PlatformKeySize = 64

	// DerivedKeySize is the size of organization and team keys in bytes.
	DerivedKeySize = 32

	// KEKSize is the size of a survey key-encrypting-key in bytes.
	KEKSize = 32
)

// idPattern restricts identifiers to characters that are safe to embed in
// secret store paths. Anything else would let an identifier escape its
// namespace in the path scheme.
var idPattern = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9_.-]{0,127}$`)

func validateID(kind, id string) error {
	if !idPattern.MatchString(id) {
		return fmt.Errorf("invalid %s identifier %q: must match %s", kind, id, idPattern.String())
	}
	return nil
}

// OrgID identifies an organization.
type OrgID string

// NewOrgID validates and returns an organization identifier.
func NewOrgID(id string) (OrgID, error) {
	if err := validateID("organization", id); err != nil {
		return "", err
	}
	return OrgID(id), nil
}

// String returns the identifier as a string.
func (id OrgID) String() string { return string(id) }

// Validate checks the identifier format.
func (id OrgID) Validate() error { return validateID("organization", string(id)) }

// TeamID identifies a team within an organization.
type TeamID string

// NewTeamID validates and returns a team identifier.
func NewTeamID(id string) (TeamID, error) {
	if err := validateID("team", id); err != nil {
		return "", err
	}
	return TeamID(id), nil
}

// String returns the identifier as a string.
func (id TeamID) String() string { return string(id) }

// Validate checks the identifier format.
func (id TeamID) Validate() error { return validateID("team", string(id)) }

// SurveyID identifies a survey.
type SurveyID string

// NewSurveyID validates and returns a survey identifier.
func NewSurveyID(id string) (SurveyID, error) {
	if err := validateID("survey", id); err != nil {
		return "", err
	}
	return SurveyID(id), nil
}

// String returns the identifier as a string.
func (id SurveyID) String() string { return string(id) }

// Validate checks the identifier format.
func (id SurveyID) Validate() error { return validateID("survey", string(id)) }

// UserID identifies a survey owner.
type UserID string

// NewUserID validates and returns a user identifier.
func NewUserID(id string) (UserID, error) {
	if err := validateID("user", id); err != nil {
		return "", err
	}
	return UserID(id), nil
}

// String returns the identifier as a string.
func (id UserID) String() string { return string(id) }

// Validate checks the identifier format.
func (id UserID) Validate() error { return validateID("user", string(id)) }

// ActorID identifies any party acting on the system: a requester, an
// approving administrator, or an automated task. Actor identifiers appear
// in recovery requests and audit entries.
type ActorID string

// NewActorID validates and returns an actor identifier.
func NewActorID(id string) (ActorID, error) {
	if err := validateID("actor", id); err != nil {
		return "", err
	}
	return ActorID(id), nil
}

// String returns the identifier as a string.
func (id ActorID) String() string { return string(id) }

// Validate checks the identifier format.
func (id ActorID) Validate() error { return validateID("actor", string(id)) }

// Secret store path scheme. The paths are a stable contract: renaming is
// allowed only if the semantics of each location are preserved.

// PlatformComponentPath returns the location of the store-held half of the
// platform master key.
func PlatformComponentPath() string {
	return "platform/master-key-component"
}

// EscrowPublicKeyPath returns the location of the provisioned escrow public
// key. The matching private key is never stored; it is re-derived from the
// reconstructed platform master key during recovery.
func EscrowPublicKeyPath() string {
	return "platform/escrow-public-key"
}

// OrganizationKeyPath returns the location of an organization's key
// verifier record. The organization key itself is never persisted.
func OrganizationKeyPath(org OrgID) string {
	return fmt.Sprintf("organizations/%s/master-key", org)
}

// TeamKeyPath returns the location of a team's key verifier record. The
// team key itself is never persisted.
func TeamKeyPath(team TeamID) string {
	return fmt.Sprintf("teams/%s/team-key", team)
}

// SurveyKEKPath returns the location of a survey's hierarchy-wrapped
// key-encrypting-key.
func SurveyKEKPath(survey SurveyID) string {
	return fmt.Sprintf("surveys/%s/kek", survey)
}

// RecoveryKEKPath returns the location of a user's escrowed recovery copy
// of a survey key-encrypting-key.
func RecoveryKEKPath(user UserID, survey SurveyID) string {
	return fmt.Sprintf("users/%s/surveys/%s/recovery-kek", user, survey)
}

// ValidateKeyLength checks that key material has the expected size.
// It reports the lengths only, never the content.
func ValidateKeyLength(kind string, key []byte, want int) error {
	if len(key) != want {
		return fmt.Errorf("%w: %s must be %d bytes, got %d", ErrInvalidComponent, kind, want, len(key))
	}
	return nil
}

package secretstore

import (
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/vitalform/survey-key-escrow/interfaces"
)

// StoreFactory creates secret store backends from location URIs. AppRole
// credentials are injected at construction so they never appear in URIs,
// command lines, or logs.
type StoreFactory struct {
	roleID   string
	secretID string
	timeout  time.Duration
	log      *slog.Logger
}

// NewStoreFactory creates a factory. The role credentials are only used
// for vault:// locations and may be empty otherwise.
func NewStoreFactory(roleID, secretID string, timeout time.Duration, log *slog.Logger) *StoreFactory {
	return &StoreFactory{
		roleID:   roleID,
		secretID: secretID,
		timeout:  timeout,
		log:      log,
	}
}

// StoreFor creates a secret store from a location URI.
//
// Supported schemes:
//   - vault:// - HashiCorp Vault KV v2
//   - file:// - Local filesystem storage
//   - mem:// - In-memory storage for tests and offline tooling
//
// Returns an error if the URI is invalid or the scheme is unsupported.
func (f *StoreFactory) StoreFor(locationURI string) (interfaces.SecretStore, error) {
	u, err := url.Parse(locationURI)
	if err != nil {
		return nil, fmt.Errorf("invalid store location URI: %w", err)
	}

	switch strings.ToLower(u.Scheme) {
	case "vault":
		return f.createVaultStore(u)
	case "file":
		return f.createFileStore(u)
	case "mem":
		return NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("unsupported secret store scheme: %s", u.Scheme)
	}
}

// createVaultStore creates a Vault-backed store.
// URI format: vault://host:port/mount?scheme=http
// The address defaults to https; the scheme query parameter exists for
// development setups. AppRole credentials come from the factory, never
// the URI.
func (f *StoreFactory) createVaultStore(u *url.URL) (interfaces.SecretStore, error) {
	f.log.Debug("Creating vault secret store", slog.String("uri", u.Redacted()))

	scheme := u.Query().Get("scheme")
	if scheme == "" {
		scheme = "https"
	}
	if scheme != "http" && scheme != "https" {
		return nil, fmt.Errorf("unsupported vault address scheme: %s", scheme)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("missing vault host in URI: %s", u.Redacted())
	}

	return NewVaultStore(VaultConfig{
		Address:   fmt.Sprintf("%s://%s", scheme, u.Host),
		MountPath: strings.Trim(u.Path, "/"),
		RoleID:    f.roleID,
		SecretID:  f.secretID,
		Timeout:   f.timeout,
	}, f.log)
}

// createFileStore creates a filesystem-backed store.
// URI format: file:///absolute/path or file://./relative/path
func (f *StoreFactory) createFileStore(u *url.URL) (interfaces.SecretStore, error) {
	f.log.Debug("Creating file secret store", slog.String("uri", u.String()))

	path := u.Path
	if u.Host != "" {
		path = u.Host + "/" + strings.TrimPrefix(path, "/")
	}
	if path == "" {
		return nil, fmt.Errorf("empty path in file URI: %s", u.String())
	}

	return NewFileStore(path, f.log)
}

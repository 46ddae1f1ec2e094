package secretstore

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/hashicorp/vault/api"

	"github.com/vitalform/survey-key-escrow/interfaces"
)

const (
	// defaultRequestTimeout bounds every data-path request to Vault.
	defaultRequestTimeout = 15 * time.Second

	// healthCheckTimeout bounds the health probe separately so a hung
	// health endpoint cannot stall readiness reporting.
	healthCheckTimeout = 5 * time.Second

	// tokenRefreshMargin is how long before expiry the cached token is
	// refreshed. Requests made within the margin trigger a fresh login.
	tokenRefreshMargin = 30 * time.Second

	appRoleLoginPath = "auth/approle/login"
)

// VaultConfig holds the connection settings for a Vault KV v2 secret store.
type VaultConfig struct {
	// Address is the Vault server URL, e.g. https://vault.internal:8200.
	Address string

	// MountPath is the KV v2 mount to store secrets under. Defaults to
	// "secret".
	MountPath string

	// RoleID and SecretID are the AppRole credentials used for login.
	RoleID   string
	SecretID string

	// Timeout bounds each request. Defaults to defaultRequestTimeout.
	Timeout time.Duration
}

// VaultStore implements interfaces.SecretStore using HashiCorp Vault's
// KV version 2 secrets engine. Secret values are stored base64-encoded
// under the "value" field and versioned by the engine.
//
// The store authenticates via AppRole and caches the client token,
// refreshing it before expiry. Callers never see token lifecycle; a
// rejected token surfaces as interfaces.ErrAuthExpired, which the
// resilient wrapper resolves with a forced re-login and a single retry.
type VaultStore struct {
	client   *api.Client
	mount    string
	roleID   string
	secretID string
	timeout  time.Duration
	log      *slog.Logger

	// mu guards the cached token expiry; logins are serialized so that
	// concurrent requests near expiry produce one login, not a stampede.
	mu          sync.Mutex
	tokenExpiry time.Time
}

// NewVaultStore creates a Vault-backed secret store. The constructor does
// not contact the server; callers verify connectivity with Health and log
// in with Authenticate during startup.
func NewVaultStore(cfg VaultConfig, log *slog.Logger) (*VaultStore, error) {
	if cfg.Address == "" {
		return nil, fmt.Errorf("vault address is required")
	}
	if cfg.RoleID == "" || cfg.SecretID == "" {
		return nil, fmt.Errorf("vault approle credentials are required")
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultRequestTimeout
	}

	mount := strings.Trim(cfg.MountPath, "/")
	if mount == "" {
		mount = "secret"
	}

	config := api.DefaultConfig()
	config.Address = cfg.Address
	config.HttpClient = &http.Client{Timeout: timeout}

	client, err := api.NewClient(config)
	if err != nil {
		return nil, fmt.Errorf("failed to create vault client: %w", err)
	}

	log.Debug("Created vault secret store",
		slog.String("address", cfg.Address),
		slog.String("mount", mount),
		slog.Duration("timeout", timeout))

	return &VaultStore{
		client:   client,
		mount:    mount,
		roleID:   cfg.RoleID,
		secretID: cfg.SecretID,
		timeout:  timeout,
		log:      log,
	}, nil
}

// Put writes a new version of the secret at path and returns the version
// number assigned by the KV engine.
func (s *VaultStore) Put(ctx context.Context, path string, value []byte) (int, error) {
	const op = "secretstore.put"

	if err := s.ensureToken(ctx); err != nil {
		return 0, err
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	payload := map[string]interface{}{
		"data": map[string]interface{}{
			"value": base64.StdEncoding.EncodeToString(value),
		},
	}

	secret, err := s.client.Logical().WriteWithContext(ctx, s.dataPath(path), payload)
	if err != nil {
		return 0, s.classify(op, path, err)
	}

	version, err := writeResponseVersion(secret)
	if err != nil {
		return 0, interfaces.E(op, path, fmt.Errorf("%w: %v", interfaces.ErrStoreUnavailable, err))
	}

	s.log.Debug("Stored secret in vault",
		slog.String("path", path),
		slog.Int("version", version))

	return version, nil
}

// Get reads the secret at path. Version 0 requests the latest version.
func (s *VaultStore) Get(ctx context.Context, path string, version int) ([]byte, error) {
	const op = "secretstore.get"

	if err := s.ensureToken(ctx); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	var (
		secret *api.Secret
		err    error
	)
	if version > 0 {
		secret, err = s.client.Logical().ReadWithDataWithContext(ctx, s.dataPath(path),
			map[string][]string{"version": {strconv.Itoa(version)}})
	} else {
		secret, err = s.client.Logical().ReadWithContext(ctx, s.dataPath(path))
	}
	if err != nil {
		return nil, s.classify(op, path, err)
	}

	// KV v2 reports missing paths and destroyed versions as an empty
	// response rather than an error.
	if secret == nil || secret.Data == nil {
		return nil, interfaces.E(op, path, interfaces.ErrSecretNotFound)
	}

	inner, ok := secret.Data["data"].(map[string]interface{})
	if !ok || inner == nil {
		return nil, interfaces.E(op, path, interfaces.ErrSecretNotFound)
	}

	encoded, ok := inner["value"].(string)
	if !ok {
		return nil, interfaces.E(op, path, fmt.Errorf("%w: secret missing value field", interfaces.ErrSecretNotFound))
	}

	value, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, interfaces.E(op, path, fmt.Errorf("failed to decode secret value: %w", err))
	}

	s.log.Debug("Fetched secret from vault",
		slog.String("path", path),
		slog.Int("requestedVersion", version),
		slog.Int("size", len(value)))

	return value, nil
}

// Health reports whether Vault is initialized and unsealed. The health
// endpoint responds even while sealed, so connectivity failures map to
// interfaces.ErrStoreUnavailable rather than a sealed report.
func (s *VaultStore) Health(ctx context.Context) (interfaces.StoreHealth, error) {
	const op = "secretstore.health"

	ctx, cancel := context.WithTimeout(ctx, healthCheckTimeout)
	defer cancel()

	health, err := s.client.Sys().HealthWithContext(ctx)
	if err != nil {
		return interfaces.StoreHealth{}, interfaces.E(op, s.mount,
			fmt.Errorf("%w: vault health check failed: %v", interfaces.ErrStoreUnavailable, err))
	}

	return interfaces.StoreHealth{
		Initialized: health.Initialized,
		Sealed:      health.Sealed,
	}, nil
}

// Authenticate performs a fresh AppRole login regardless of the cached
// token's remaining lifetime.
func (s *VaultStore) Authenticate(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.login(ctx)
}

// ensureToken refreshes the cached token when it is within the refresh
// margin of expiry. A zero expiry forces the initial login.
func (s *VaultStore) ensureToken(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if time.Until(s.tokenExpiry) > tokenRefreshMargin {
		return nil
	}
	return s.login(ctx)
}

// login exchanges the AppRole credentials for a client token. Callers must
// hold s.mu.
func (s *VaultStore) login(ctx context.Context) error {
	const op = "secretstore.authenticate"

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	resp, err := s.client.Logical().WriteWithContext(ctx, appRoleLoginPath, map[string]interface{}{
		"role_id":   s.roleID,
		"secret_id": s.secretID,
	})
	if err != nil {
		return s.classify(op, appRoleLoginPath, err)
	}
	if resp == nil || resp.Auth == nil || resp.Auth.ClientToken == "" {
		return interfaces.E(op, appRoleLoginPath,
			fmt.Errorf("%w: login response carried no token", interfaces.ErrStoreUnavailable))
	}

	s.client.SetToken(resp.Auth.ClientToken)
	lease := time.Duration(resp.Auth.LeaseDuration) * time.Second
	s.tokenExpiry = time.Now().Add(lease)

	s.log.Debug("Authenticated with vault",
		slog.Duration("leaseDuration", lease))

	return nil
}

// dataPath builds the KV v2 data path for a logical secret path.
func (s *VaultStore) dataPath(path string) string {
	return fmt.Sprintf("%s/data/%s", s.mount, strings.Trim(path, "/"))
}

// classify maps a Vault API failure into the package error taxonomy.
// Sealed data endpoints answer 503 and uninitialized ones 501; both need
// an operator, so both map to the sealed category. Rejected tokens
// answer 403.
func (s *VaultStore) classify(op, target string, err error) error {
	var respErr *api.ResponseError
	if errors.As(err, &respErr) {
		switch respErr.StatusCode {
		case http.StatusForbidden:
			return interfaces.E(op, target, fmt.Errorf("%w: %v", interfaces.ErrAuthExpired, err))
		case http.StatusNotFound:
			return interfaces.E(op, target, interfaces.ErrSecretNotFound)
		case http.StatusServiceUnavailable, http.StatusNotImplemented:
			return interfaces.E(op, target, fmt.Errorf("%w: %v", interfaces.ErrStoreSealed, err))
		}
	}
	return interfaces.E(op, target, fmt.Errorf("%w: %v", interfaces.ErrStoreUnavailable, err))
}

// writeResponseVersion extracts the version number a KV v2 write reports.
func writeResponseVersion(secret *api.Secret) (int, error) {
	if secret == nil || secret.Data == nil {
		return 0, fmt.Errorf("write response carried no version metadata")
	}
	num, ok := secret.Data["version"].(json.Number)
	if !ok {
		return 0, fmt.Errorf("unexpected version field type %T", secret.Data["version"])
	}
	v, err := num.Int64()
	if err != nil {
		return 0, fmt.Errorf("failed to parse version: %w", err)
	}
	return int(v), nil
}

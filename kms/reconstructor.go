package kms

import (
	"context"
	"crypto/ecdsa"
	"crypto/sha256"
	"fmt"
	"log/slog"

	"github.com/vitalform/survey-key-escrow/cryptoutils"
	"github.com/vitalform/survey-key-escrow/interfaces"
)

// escrowKeyLabel domain-separates the escrow keypair seed from every other
// use of the platform master key. Changing it would orphan all existing
// escrow ciphertexts.
const escrowKeyLabel = "escrow-keypair-v1"

// Reconstructor combines the store-held and custodian-held components into
// the transient platform master key. The key exists only within the scope
// of the callback passed to WithPlatformKey and is zeroed on every exit
// path.
type Reconstructor struct {
	store    interfaces.SecretStore
	splitter SecretSplitter
	log      *slog.Logger
}

// NewReconstructor creates a Reconstructor using the given secret store and
// combination function.
func NewReconstructor(store interfaces.SecretStore, splitter SecretSplitter, log *slog.Logger) *Reconstructor {
	return &Reconstructor{
		store:    store,
		splitter: splitter,
		log:      log,
	}
}

// WithPlatformKey fetches the store-held component, combines it with the
// supplied custodian-held component, and invokes fn with the reconstructed
// 64-byte platform master key. The key and the component copies owned by
// the reconstructor are wiped before WithPlatformKey returns, on success,
// error, and panic paths alike. The key must not escape fn; callers wipe
// their own copy of the custodian component.
//
// Returns CustodianUnavailable when no custodian component is supplied and
// InvalidComponent when the components do not combine to a key of the
// expected length.
func (r *Reconstructor) WithPlatformKey(ctx context.Context, custodianComponent []byte, fn func(platformKey []byte) error) error {
	const op = "kms.reconstruct"
	target := interfaces.PlatformComponentPath()

	if len(custodianComponent) == 0 {
		return interfaces.E(op, target, interfaces.ErrCustodianUnavailable)
	}

	storeComponent, err := r.store.Get(ctx, target, 0)
	if err != nil {
		return interfaces.E(op, target, fmt.Errorf("fetching store component: %w", err))
	}
	defer cryptoutils.Wipe(storeComponent)

	platformKey, err := r.splitter.Combine([][]byte{storeComponent, custodianComponent})
	if err != nil {
		return interfaces.E(op, target, err)
	}
	defer cryptoutils.Wipe(platformKey)

	if err := interfaces.ValidateKeyLength("platform master key", platformKey, interfaces.PlatformKeySize); err != nil {
		return interfaces.E(op, target, err)
	}

	r.log.Debug("Platform master key reconstructed for scoped operation",
		slog.String("store_component_path", target))

	return fn(platformKey)
}

// DeriveEscrowKey deterministically derives the P-256 escrow keypair from
// the platform master key. The public half is published to the secret store
// at provisioning time; the private half is re-derived here during recovery
// and never stored.
func DeriveEscrowKey(platformKey []byte) (*ecdsa.PrivateKey, error) {
	if err := interfaces.ValidateKeyLength("platform master key", platformKey, interfaces.PlatformKeySize); err != nil {
		return nil, err
	}

	h := sha256.New()
	h.Write(platformKey)
	h.Write([]byte(escrowKeyLabel))
	seed := h.Sum(nil)
	defer cryptoutils.Wipe(seed)

	return cryptoutils.PrivateKeyFromSeed(seed)
}

package kms

import (
	"bytes"
	"context"
	"crypto/rand"
	"fmt"
	"log/slog"

	"github.com/vitalform/survey-key-escrow/audit"
	"github.com/vitalform/survey-key-escrow/cryptoutils"
	"github.com/vitalform/survey-key-escrow/interfaces"
)

// Provisioner performs the one-time installation of the platform master
// key: generate, split, store one component, and publish the escrow
// public key derived from the assembled key.
type Provisioner struct {
	store    interfaces.SecretStore
	splitter SecretSplitter
	audit    interfaces.AuditLog
	log      *slog.Logger
}

// NewProvisioner creates a provisioner using the given splitter for the
// component split.
func NewProvisioner(store interfaces.SecretStore, splitter SecretSplitter, alog interfaces.AuditLog, log *slog.Logger) *Provisioner {
	return &Provisioner{
		store:    store,
		splitter: splitter,
		audit:    alog,
		log:      log,
	}
}

// Provision generates a fresh platform master key, splits it into a
// store-held and a custodian-held component, persists the store component
// and the escrow public key, and returns the custodian component with the
// published public key PEM. The assembled platform key is wiped before
// returning; from here on it only exists while both components are
// presented together.
//
// Fails with ErrAlreadyInitialized when a store component already exists.
func (p *Provisioner) Provision(ctx context.Context, actor interfaces.ActorID) ([]byte, []byte, error) {
	const op = "kms.provision"
	target := interfaces.PlatformComponentPath()

	custodianComponent, publicKeyPEM, err := p.provision(ctx)
	if err = audit.Record(ctx, p.audit, p.log, actor, op, target, "", err); err != nil {
		cryptoutils.Wipe(custodianComponent)
		return nil, nil, err
	}
	return custodianComponent, publicKeyPEM, nil
}

func (p *Provisioner) provision(ctx context.Context) ([]byte, []byte, error) {
	if _, err := p.store.Get(ctx, interfaces.PlatformComponentPath(), 0); err == nil {
		return nil, nil, interfaces.ErrAlreadyInitialized
	} else if interfaces.Category(err) != interfaces.CategoryNotFound {
		return nil, nil, err
	}

	platformKey := make([]byte, interfaces.PlatformKeySize)
	if _, err := rand.Read(platformKey); err != nil {
		return nil, nil, fmt.Errorf("failed to generate platform key: %w", err)
	}
	defer cryptoutils.Wipe(platformKey)

	components, err := p.splitter.Split(platformKey, 2, 2)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to split platform key: %w", err)
	}
	storeComponent, custodianComponent := components[0], components[1]
	defer cryptoutils.Wipe(storeComponent)

	escrowKey, err := DeriveEscrowKey(platformKey)
	if err != nil {
		cryptoutils.Wipe(custodianComponent)
		return nil, nil, err
	}
	publicKeyPEM, err := cryptoutils.MarshalPublicKeyPEM(&escrowKey.PublicKey)
	if err != nil {
		cryptoutils.Wipe(custodianComponent)
		return nil, nil, fmt.Errorf("failed to marshal escrow public key: %w", err)
	}

	if _, err := p.store.Put(ctx, interfaces.PlatformComponentPath(), storeComponent); err != nil {
		cryptoutils.Wipe(custodianComponent)
		return nil, nil, err
	}
	if _, err := p.store.Put(ctx, interfaces.EscrowPublicKeyPath(), publicKeyPEM); err != nil {
		cryptoutils.Wipe(custodianComponent)
		return nil, nil, err
	}

	p.log.Info("Provisioned platform master key",
		slog.Int("componentSize", len(custodianComponent)))

	return custodianComponent, publicKeyPEM, nil
}

// VerifyCustodian reassembles the platform key from the presented
// custodian component and checks that the derived escrow public key
// matches the one published at provisioning time. Fails with
// ErrKeyVerification on mismatch, meaning the component is wrong or the
// store component was replaced.
func (p *Provisioner) VerifyCustodian(ctx context.Context, custodianComponent []byte) error {
	const op = "kms.verify_custodian"
	target := interfaces.EscrowPublicKeyPath()

	published, err := p.store.Get(ctx, target, 0)
	if err != nil {
		return err
	}

	reconstructor := NewReconstructor(p.store, p.splitter, p.log)
	return reconstructor.WithPlatformKey(ctx, custodianComponent, func(platformKey []byte) error {
		escrowKey, err := DeriveEscrowKey(platformKey)
		if err != nil {
			return err
		}
		derived, err := cryptoutils.MarshalPublicKeyPEM(&escrowKey.PublicKey)
		if err != nil {
			return interfaces.E(op, target, fmt.Errorf("failed to marshal escrow public key: %w", err))
		}
		if !bytes.Equal(derived, published) {
			return interfaces.E(op, target, interfaces.ErrKeyVerification)
		}
		return nil
	})
}

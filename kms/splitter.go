package kms

import (
	"crypto/rand"
	"errors"
	"fmt"
	"io"

	"github.com/hashicorp/vault/shamir"

	"github.com/vitalform/survey-key-escrow/interfaces"
)

// SecretSplitter splits a secret into independently held components and
// recombines them. Implementations must be information-theoretically safe:
// fewer than threshold components reveal nothing about the secret.
type SecretSplitter interface {
	// Split divides secret into parts components, of which threshold are
	// required for reconstruction.
	Split(secret []byte, parts, threshold int) ([][]byte, error)

	// Combine reconstructs the secret from components. Corrupted
	// component bytes yield a wrong secret or an error, never a panic;
	// callers verify the result before using it.
	Combine(components [][]byte) ([]byte, error)
}

// ShamirSplitter implements SecretSplitter with Shamir's Secret Sharing.
// This is the default combination function: it supports k-of-n deployments
// and any single component carries no information about the secret.
type ShamirSplitter struct{}

// Split divides the secret into parts shares with the given threshold.
func (ShamirSplitter) Split(secret []byte, parts, threshold int) ([][]byte, error) {
	if len(secret) == 0 {
		return nil, errors.New("cannot split empty secret")
	}
	if threshold < 2 {
		return nil, errors.New("threshold must be at least 2")
	}
	if parts < threshold {
		return nil, errors.New("parts must be at least equal to threshold")
	}

	shares, err := shamir.Split(secret, parts, threshold)
	if err != nil {
		return nil, fmt.Errorf("failed to split secret: %w", err)
	}
	return shares, nil
}

// Combine reconstructs the secret from the given shares.
func (ShamirSplitter) Combine(components [][]byte) ([]byte, error) {
	if len(components) < 2 {
		return nil, fmt.Errorf("%w: need at least 2 components", interfaces.ErrInvalidComponent)
	}
	for i, c := range components {
		if len(c) < 2 {
			return nil, fmt.Errorf("%w: component %d too short", interfaces.ErrInvalidComponent, i)
		}
	}

	secret, err := shamir.Combine(components)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", interfaces.ErrInvalidComponent, err)
	}
	return secret, nil
}

// XORSplitter implements SecretSplitter with XOR of equal-length random
// components. All components are required for reconstruction; there is no
// threshold below the part count. The minimum acceptable combination
// function, kept for deployments migrated from XOR-era components.
type XORSplitter struct{}

// Split divides the secret into parts random components whose XOR is the
// secret. The threshold must equal parts.
func (XORSplitter) Split(secret []byte, parts, threshold int) ([][]byte, error) {
	if len(secret) == 0 {
		return nil, errors.New("cannot split empty secret")
	}
	if parts < 2 {
		return nil, errors.New("parts must be at least 2")
	}
	if threshold != parts {
		return nil, errors.New("xor splitting requires threshold equal to parts")
	}

	components := make([][]byte, parts)
	last := make([]byte, len(secret))
	copy(last, secret)

	for i := 0; i < parts-1; i++ {
		component := make([]byte, len(secret))
		if _, err := io.ReadFull(rand.Reader, component); err != nil {
			return nil, fmt.Errorf("failed to generate component: %w", err)
		}
		for j := range last {
			last[j] ^= component[j]
		}
		components[i] = component
	}
	components[parts-1] = last

	return components, nil
}

// Combine XORs all components back into the secret.
func (XORSplitter) Combine(components [][]byte) ([]byte, error) {
	if len(components) < 2 {
		return nil, fmt.Errorf("%w: need at least 2 components", interfaces.ErrInvalidComponent)
	}

	length := len(components[0])
	for i, c := range components {
		if len(c) != length || length == 0 {
			return nil, fmt.Errorf("%w: component %d has mismatched length", interfaces.ErrInvalidComponent, i)
		}
	}

	secret := make([]byte, length)
	copy(secret, components[0])
	for _, c := range components[1:] {
		for j := range secret {
			secret[j] ^= c[j]
		}
	}
	return secret, nil
}

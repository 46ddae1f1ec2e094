package secretstore

import (
	"context"
	"sync"

	"github.com/vitalform/survey-key-escrow/interfaces"
)

// MemoryStore implements interfaces.SecretStore with an in-process map.
// It exists for tests and offline tooling. SetSealed and FailNext simulate
// the failure modes the resilient wrapper has to handle.
type MemoryStore struct {
	mu        sync.Mutex
	secrets   map[string][][]byte
	sealed    bool
	failCount int
	failErr   error
	authCount int
}

// NewMemoryStore creates an empty in-memory secret store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		secrets: make(map[string][][]byte),
	}
}

// Put appends a new version of the secret at path.
func (s *MemoryStore) Put(ctx context.Context, path string, value []byte) (int, error) {
	const op = "secretstore.put"

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.gate(op, path); err != nil {
		return 0, err
	}

	// Store a copy: callers wipe their buffers after use.
	stored := make([]byte, len(value))
	copy(stored, value)

	s.secrets[path] = append(s.secrets[path], stored)
	return len(s.secrets[path]), nil
}

// Get returns a copy of the secret at path. Version 0 requests the latest.
func (s *MemoryStore) Get(ctx context.Context, path string, version int) ([]byte, error) {
	const op = "secretstore.get"

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.gate(op, path); err != nil {
		return nil, err
	}

	versions := s.secrets[path]
	if len(versions) == 0 {
		return nil, interfaces.E(op, path, interfaces.ErrSecretNotFound)
	}
	if version == 0 {
		version = len(versions)
	}
	if version < 1 || version > len(versions) {
		return nil, interfaces.E(op, path, interfaces.ErrSecretNotFound)
	}

	stored := versions[version-1]
	out := make([]byte, len(stored))
	copy(out, stored)
	return out, nil
}

// Health reports the simulated seal state.
func (s *MemoryStore) Health(ctx context.Context) (interfaces.StoreHealth, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return interfaces.StoreHealth{Initialized: true, Sealed: s.sealed}, nil
}

// Authenticate records the login so tests can assert a forced re-login
// happened.
func (s *MemoryStore) Authenticate(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.authCount++
	return nil
}

// SetSealed toggles the simulated seal state. While sealed, Put and Get
// fail with interfaces.ErrStoreSealed.
func (s *MemoryStore) SetSealed(sealed bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sealed = sealed
}

// FailNext makes the next n Put or Get calls fail with err before any
// other processing.
func (s *MemoryStore) FailNext(n int, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failCount = n
	s.failErr = err
}

// AuthCount returns how many times Authenticate has been called.
func (s *MemoryStore) AuthCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.authCount
}

// gate applies the injected failure and seal state. Callers hold s.mu.
func (s *MemoryStore) gate(op, path string) error {
	if s.failCount > 0 {
		s.failCount--
		return interfaces.E(op, path, s.failErr)
	}
	if s.sealed {
		return interfaces.E(op, path, interfaces.ErrStoreSealed)
	}
	return nil
}

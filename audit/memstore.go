package audit

import (
	"context"
	"sync"

	"github.com/vitalform/survey-key-escrow/interfaces"
)

// MemoryStore implements interfaces.AuditStore in memory for tests.
// FailAppends injects persistence failures so callers can exercise the
// audit-failure-is-fatal paths.
type MemoryStore struct {
	mu      sync.Mutex
	entries []interfaces.AuditEntry
	failErr error
}

// NewMemoryStore creates an empty in-memory audit store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

// Append stores one entry, or returns the injected failure.
func (s *MemoryStore) Append(ctx context.Context, entry interfaces.AuditEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.failErr != nil {
		return s.failErr
	}
	s.entries = append(s.entries, entry)
	return nil
}

// List returns entries matching the filter in append order.
func (s *MemoryStore) List(ctx context.Context, filter interfaces.AuditFilter) ([]interfaces.AuditEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []interfaces.AuditEntry
	for _, entry := range s.entries {
		if !matchesFilter(entry, filter) {
			continue
		}
		out = append(out, entry)
		if filter.Limit > 0 && len(out) >= filter.Limit {
			break
		}
	}
	return out, nil
}

// FailAppends makes subsequent Append calls fail with err. Passing nil
// restores normal operation.
func (s *MemoryStore) FailAppends(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failErr = err
}

// Entries returns a copy of everything appended so far.
func (s *MemoryStore) Entries() []interfaces.AuditEntry {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]interfaces.AuditEntry, len(s.entries))
	copy(out, s.entries)
	return out
}

// matchesFilter applies an AuditFilter to one entry. Time bounds are
// inclusive.
func matchesFilter(entry interfaces.AuditEntry, filter interfaces.AuditFilter) bool {
	if filter.Operation != "" && entry.Operation != filter.Operation {
		return false
	}
	if filter.TargetRef != "" && entry.TargetRef != filter.TargetRef {
		return false
	}
	if filter.Actor != "" && entry.Actor != filter.Actor {
		return false
	}
	if !filter.Since.IsZero() && entry.Timestamp.Before(filter.Since) {
		return false
	}
	if !filter.Until.IsZero() && entry.Timestamp.After(filter.Until) {
		return false
	}
	return true
}

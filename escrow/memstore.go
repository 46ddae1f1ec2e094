package escrow

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/vitalform/survey-key-escrow/interfaces"
)

// MemoryStore is an in-memory EscrowRecordStore for tests and development.
type MemoryStore struct {
	mu      sync.Mutex
	records map[recordKey]interfaces.EscrowRecord
}

type recordKey struct {
	user   interfaces.UserID
	survey interfaces.SurveyID
}

// NewMemoryStore creates an empty in-memory escrow record store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[recordKey]interfaces.EscrowRecord)}
}

// Upsert creates or replaces the record for the (user, survey) pair.
func (s *MemoryStore) Upsert(ctx context.Context, rec interfaces.EscrowRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.records[recordKey{rec.UserID, rec.SurveyID}] = rec
	return nil
}

// Get returns the record for the (user, survey) pair.
func (s *MemoryStore) Get(ctx context.Context, user interfaces.UserID, survey interfaces.SurveyID) (interfaces.EscrowRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[recordKey{user, survey}]
	if !ok {
		return interfaces.EscrowRecord{}, fmt.Errorf("%w: user %s survey %s", interfaces.ErrEscrowNotFound, user, survey)
	}
	return rec, nil
}

// Delete removes the record for the (user, survey) pair.
func (s *MemoryStore) Delete(ctx context.Context, user interfaces.UserID, survey interfaces.SurveyID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := recordKey{user, survey}
	if _, ok := s.records[key]; !ok {
		return fmt.Errorf("%w: user %s survey %s", interfaces.ErrEscrowNotFound, user, survey)
	}
	delete(s.records, key)
	return nil
}

// ListByUser returns all records for the user, newest first.
func (s *MemoryStore) ListByUser(ctx context.Context, user interfaces.UserID) ([]interfaces.EscrowRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []interfaces.EscrowRecord
	for key, rec := range s.records {
		if key.user == user {
			out = append(out, rec)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

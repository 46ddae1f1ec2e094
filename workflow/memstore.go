package workflow

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/vitalform/survey-key-escrow/interfaces"
)

// MemoryStore is an in-memory RecoveryRequestStore for tests and
// development.
type MemoryStore struct {
	mu       sync.Mutex
	requests map[string]interfaces.RecoveryRequest
}

// NewMemoryStore creates an empty in-memory request store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{requests: make(map[string]interfaces.RecoveryRequest)}
}

// Create persists a new request under an unused id.
func (s *MemoryStore) Create(ctx context.Context, req interfaces.RecoveryRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.requests[req.ID]; ok {
		return fmt.Errorf("request id %s already exists", req.ID)
	}
	s.requests[req.ID] = req
	return nil
}

// Get returns the request by id.
func (s *MemoryStore) Get(ctx context.Context, id string) (interfaces.RecoveryRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	req, ok := s.requests[id]
	if !ok {
		return interfaces.RecoveryRequest{}, fmt.Errorf("%w: %s", interfaces.ErrRequestNotFound, id)
	}
	return req, nil
}

// UpdateCAS persists the mutable fields of req if the stored version still
// equals req.Version, incrementing the stored version.
func (s *MemoryStore) UpdateCAS(ctx context.Context, req interfaces.RecoveryRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.requests[req.ID]
	if !ok {
		return fmt.Errorf("%w: %s", interfaces.ErrRequestNotFound, req.ID)
	}
	if current.Version != req.Version {
		return fmt.Errorf("%w: version %d moved to %d", interfaces.ErrStateConflict, req.Version, current.Version)
	}

	// Identity fields and the cancel token hash never change after
	// creation.
	req.UserID = current.UserID
	req.SurveyID = current.SurveyID
	req.RequestedBy = current.RequestedBy
	req.CancelTokenHash = current.CancelTokenHash
	req.CreatedAt = current.CreatedAt

	req.Version++
	s.requests[req.ID] = req
	return nil
}

// ListByStatus returns requests in any of the given statuses, oldest
// first.
func (s *MemoryStore) ListByStatus(ctx context.Context, statuses ...interfaces.RequestStatus) ([]interfaces.RecoveryRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	want := make(map[interfaces.RequestStatus]bool, len(statuses))
	for _, status := range statuses {
		want[status] = true
	}

	var out []interfaces.RecoveryRequest
	for _, req := range s.requests {
		if want[req.Status] {
			out = append(out, req)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// ListForEscrow returns all requests for the (user, survey) pair, newest
// first.
func (s *MemoryStore) ListForEscrow(ctx context.Context, user interfaces.UserID, survey interfaces.SurveyID) ([]interfaces.RecoveryRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []interfaces.RecoveryRequest
	for _, req := range s.requests {
		if req.UserID == user && req.SurveyID == survey {
			out = append(out, req)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

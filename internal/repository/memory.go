package repository

import (
	"context"
	"sort"
	"sync"

	"enrollment/internal/model"
)

// MemoryStore keeps enrollments in process memory. It enforces the same
// uniqueness rules as the postgres schema and is meant for local runs and
// tests.
type MemoryStore struct {
	mu      sync.RWMutex
	byEmail map[string]model.Enrollment
	cpfs    map[string]struct{}
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		byEmail: make(map[string]model.Enrollment),
		cpfs:    make(map[string]struct{}),
	}
}

func (s *MemoryStore) IdentityExists(_ context.Context, email, nationalID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.existsLocked(email, nationalID), nil
}

func (s *MemoryStore) CreateEnrollment(_ context.Context, e model.Enrollment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.existsLocked(e.Email, e.NationalID) {
		return ErrConflict
	}
	s.byEmail[e.Email] = e
	s.cpfs[e.NationalID] = struct{}{}
	return nil
}

func (s *MemoryStore) GetEnrollmentByEmail(_ context.Context, email string) (model.Enrollment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.byEmail[email]
	if !ok {
		return model.Enrollment{}, ErrNotFound
	}
	return e, nil
}

func (s *MemoryStore) ListEnrollments(_ context.Context) ([]model.EnrollmentSummary, error) {
	s.mu.RLock()
	out := make([]model.EnrollmentSummary, 0, len(s.byEmail))
	for _, e := range s.byEmail {
		out = append(out, e.Summary())
	}
	s.mu.RUnlock()

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].FullName == out[j].FullName {
			return out[i].Email < out[j].Email
		}
		return out[i].FullName < out[j].FullName
	})
	return out, nil
}

func (s *MemoryStore) existsLocked(email, nationalID string) bool {
	if _, ok := s.byEmail[email]; ok {
		return true
	}
	_, ok := s.cpfs[nationalID]
	return ok
}

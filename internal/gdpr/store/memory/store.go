package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/google/uuid"

	"chronicle/internal/gdpr"
	"chronicle/pkg/platform/sentinel"
)

// Store keeps requests and their history in memory.
type Store struct {
	mu       sync.RWMutex
	requests map[uuid.UUID]gdpr.Request
	history  map[uuid.UUID][]gdpr.HistoryEntry
}

func New() *Store {
	return &Store{
		requests: make(map[uuid.UUID]gdpr.Request),
		history:  make(map[uuid.UUID][]gdpr.HistoryEntry),
	}
}

func (s *Store) Create(_ context.Context, request *gdpr.Request, history *gdpr.HistoryEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.requests[request.ID]; exists {
		return sentinel.ErrConflict
	}
	s.requests[request.ID] = *request
	s.history[request.ID] = append(s.history[request.ID], *history)
	return nil
}

func (s *Store) FindByID(_ context.Context, id uuid.UUID) (*gdpr.Request, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	request, ok := s.requests[id]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return &request, nil
}

// FindForUpdate is FindByID; the memory store has no row locks.
func (s *Store) FindForUpdate(ctx context.Context, id uuid.UUID) (*gdpr.Request, error) {
	return s.FindByID(ctx, id)
}

func (s *Store) Update(_ context.Context, request *gdpr.Request, history *gdpr.HistoryEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.requests[request.ID]; !ok {
		return sentinel.ErrNotFound
	}
	s.requests[request.ID] = *request
	s.history[request.ID] = append(s.history[request.ID], *history)
	return nil
}

func (s *Store) ListByOrganization(_ context.Context, org string) ([]*gdpr.Request, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	result := make([]*gdpr.Request, 0)
	for _, request := range s.requests {
		if request.OrganizationID == org {
			r := request
			result = append(result, &r)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].SubmittedAt.Equal(result[j].SubmittedAt) {
			return result[i].ID.String() > result[j].ID.String()
		}
		return result[i].SubmittedAt.After(result[j].SubmittedAt)
	})
	return result, nil
}

func (s *Store) History(_ context.Context, id uuid.UUID) ([]*gdpr.HistoryEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entries := s.history[id]
	result := make([]*gdpr.HistoryEntry, len(entries))
	for i := range entries {
		h := entries[i]
		result[i] = &h
	}
	return result, nil
}

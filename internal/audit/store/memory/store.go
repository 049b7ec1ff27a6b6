package memory

import (
	"context"
	"maps"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"chronicle/internal/audit"
	"chronicle/pkg/platform/sentinel"
)

// Store keeps ledger entries in process memory. It backs the ledger and the
// retention scheduler when no database is configured, and is used in tests.
type Store struct {
	mu      sync.RWMutex
	entries map[uuid.UUID]*audit.Entry
}

func New() *Store {
	return &Store{entries: make(map[uuid.UUID]*audit.Entry)}
}

func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = make(map[uuid.UUID]*audit.Entry)
}

func (s *Store) Append(_ context.Context, entry *audit.Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.entries[entry.ID]; exists {
		return sentinel.ErrConflict
	}
	s.entries[entry.ID] = clone(entry)
	return nil
}

func (s *Store) FindByID(_ context.Context, id uuid.UUID) (*audit.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entry, ok := s.entries[id]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return clone(entry), nil
}

// List returns matching entries ordered by created_at descending, then id.
func (s *Store) List(_ context.Context, filter audit.Filter) ([]*audit.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*audit.Entry, 0, len(s.entries))
	for _, entry := range s.entries {
		if filter.Matches(entry) {
			result = append(result, clone(entry))
		}
	}
	sortNewestFirst(result)
	return result, nil
}

// ArchiveBefore stamps every unarchived entry of org created at or before
// cutoff and returns the stamped entries.
func (s *Store) ArchiveBefore(_ context.Context, org string, cutoff, archivedAt time.Time, reference string) ([]*audit.Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var stamped []*audit.Entry
	for _, entry := range s.entries {
		if entry.OrganizationID != org || entry.ArchivedAt != nil || entry.CreatedAt.After(cutoff) {
			continue
		}
		at := archivedAt
		ref := reference
		entry.ArchivedAt = &at
		entry.ArchiveReference = &ref
		stamped = append(stamped, clone(entry))
	}
	sortNewestFirst(stamped)
	return stamped, nil
}

// PurgeBefore deletes every entry of org created strictly before cutoff.
func (s *Store) PurgeBefore(_ context.Context, org string, cutoff time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	purged := 0
	for id, entry := range s.entries {
		if entry.OrganizationID == org && entry.CreatedAt.Before(cutoff) {
			delete(s.entries, id)
			purged++
		}
	}
	return purged, nil
}

func sortNewestFirst(entries []*audit.Entry) {
	sort.Slice(entries, func(i, j int) bool {
		if !entries[i].CreatedAt.Equal(entries[j].CreatedAt) {
			return entries[i].CreatedAt.After(entries[j].CreatedAt)
		}
		return entries[i].ID.String() > entries[j].ID.String()
	})
}

func clone(entry *audit.Entry) *audit.Entry {
	c := *entry
	c.Payload = maps.Clone(entry.Payload)
	return &c
}

package memory

import (
	"context"
	"maps"
	"sort"
	"sync"

	"chronicle/internal/retention"
	"chronicle/pkg/platform/sentinel"
)

// Store keeps retention policies and execution records in memory.
type Store struct {
	mu         sync.RWMutex
	policies   map[string]retention.Policy
	executions []retention.Execution
}

func New() *Store {
	return &Store{policies: make(map[string]retention.Policy)}
}

func (s *Store) FindPolicy(_ context.Context, org string) (*retention.Policy, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	policy, ok := s.policies[org]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return &policy, nil
}

func (s *Store) UpsertPolicy(_ context.Context, policy *retention.Policy) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.policies[policy.OrganizationID] = *policy
	return nil
}

// ListOrganizations returns organizations with a policy, sorted.
func (s *Store) ListOrganizations(_ context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	orgs := make([]string, 0, len(s.policies))
	for org := range s.policies {
		orgs = append(orgs, org)
	}
	sort.Strings(orgs)
	return orgs, nil
}

func (s *Store) SaveExecution(_ context.Context, execution *retention.Execution) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := *execution
	c.Details = maps.Clone(execution.Details)
	s.executions = append(s.executions, c)
	return nil
}

// ListExecutions returns runs for org, newest first. Runs with the same
// execution time keep reverse insertion order.
func (s *Store) ListExecutions(_ context.Context, org string) ([]*retention.Execution, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	result := make([]*retention.Execution, 0)
	for i := len(s.executions) - 1; i >= 0; i-- {
		if s.executions[i].OrganizationID != org {
			continue
		}
		c := s.executions[i]
		c.Details = maps.Clone(c.Details)
		result = append(result, &c)
	}
	sort.SliceStable(result, func(i, j int) bool {
		return result[i].ExecutedAt.After(result[j].ExecutedAt)
	})
	return result, nil
}

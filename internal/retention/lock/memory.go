// Package lock provides per-key exclusive locks with a time-to-live, used to
// keep two retention runs for one organization from overlapping.
package lock

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"chronicle/pkg/platform/sentinel"
)

// Memory is a process-local lock table.
type Memory struct {
	mu    sync.Mutex
	held  map[string]memoryLease
	clock func() time.Time
}

type memoryLease struct {
	token     string
	expiresAt time.Time
}

func NewMemory() *Memory {
	return &Memory{held: make(map[string]memoryLease), clock: time.Now}
}

// Acquire takes key for ttl. An expired lease counts as free.
func (m *Memory) Acquire(_ context.Context, key string, ttl time.Duration) (func(context.Context) error, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.clock()
	if lease, ok := m.held[key]; ok && now.Before(lease.expiresAt) {
		return nil, sentinel.ErrConflict
	}
	token := uuid.NewString()
	m.held[key] = memoryLease{token: token, expiresAt: now.Add(ttl)}

	return func(context.Context) error {
		m.mu.Lock()
		defer m.mu.Unlock()
		if lease, ok := m.held[key]; ok && lease.token == token {
			delete(m.held, key)
		}
		return nil
	}, nil
}

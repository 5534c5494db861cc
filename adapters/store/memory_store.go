package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/askmygarmin/backend/core"
)

// MemoryStore is an in-memory MemoryStore implementation, used in tests
// and when no Redis is configured.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]map[string]*core.Memory // userID -> memoryID -> record
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]map[string]*core.Memory)}
}

func (s *MemoryStore) List(ctx context.Context, userID string) ([]*core.Memory, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*core.Memory
	for _, m := range s.records[userID] {
		if m.DeletedAt == nil {
			cp := *m
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *MemoryStore) Get(ctx context.Context, userID, id string) (*core.Memory, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	m, ok := s.records[userID][id]
	if !ok || m.DeletedAt != nil {
		return nil, nil
	}
	cp := *m
	return &cp, nil
}

func (s *MemoryStore) Create(ctx context.Context, m *core.Memory) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.records[m.UserID] == nil {
		s.records[m.UserID] = make(map[string]*core.Memory)
	}
	cp := *m
	s.records[m.UserID][m.ID] = &cp
	return nil
}

func (s *MemoryStore) Update(ctx context.Context, m *core.Memory) error {
	return s.Create(ctx, m)
}

func (s *MemoryStore) SoftDelete(ctx context.Context, userID, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.records[userID][id]
	if !ok || m.DeletedAt != nil {
		return false, nil
	}
	now := time.Now().UTC()
	m.DeletedAt = &now
	return true, nil
}

package auth

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore keeps keys in process, for tests and local runs without Postgres.
type MemoryStore struct {
	mu      sync.Mutex
	byID    map[string]*APIKey
	touches int
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{byID: make(map[string]*APIKey)}
}

func (s *MemoryStore) GetByHash(_ context.Context, keyHash string) (*APIKey, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, k := range s.byID {
		if k.KeyHash == keyHash {
			cp := *k
			return &cp, nil
		}
	}
	return nil, ErrKeyNotFound
}

func (s *MemoryStore) Create(_ context.Context, apiKey *APIKey) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	apiKey.ID = uuid.NewString()
	apiKey.CreatedAt = time.Now()
	cp := *apiKey
	s.byID[apiKey.ID] = &cp
	return nil
}

func (s *MemoryStore) List(_ context.Context, tenantID string) ([]*APIKey, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*APIKey
	for _, k := range s.byID {
		if k.TenantID == tenantID {
			cp := *k
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (s *MemoryStore) Delete(_ context.Context, tenantID, id string) (*APIKey, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	k, ok := s.byID[id]
	if !ok || k.TenantID != tenantID {
		return nil, ErrKeyNotFound
	}
	delete(s.byID, id)
	return k, nil
}

func (s *MemoryStore) Touch(_ context.Context, id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	k, ok := s.byID[id]
	if !ok {
		return ErrKeyNotFound
	}
	k.LastUsedAt = &at
	s.touches++
	return nil
}

// Touches reports how many times Touch succeeded.
func (s *MemoryStore) Touches() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.touches
}

package subscription

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore is an in-process Store for tests and local runs.
type MemoryStore struct {
	mu       sync.Mutex
	byTenant map[string]*Subscription
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{byTenant: make(map[string]*Subscription)}
}

func (s *MemoryStore) GetByTenant(_ context.Context, tenantID string) (*Subscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sub, ok := s.byTenant[tenantID]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *sub
	return &cp, nil
}

func (s *MemoryStore) GetByStripeID(_ context.Context, stripeSubscriptionID string) (*Subscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, sub := range s.byTenant {
		if sub.StripeSubscriptionID == stripeSubscriptionID {
			cp := *sub
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (s *MemoryStore) Upsert(_ context.Context, sub *Subscription) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.byTenant[sub.TenantID]; ok {
		sub.ID = existing.ID
	} else if sub.ID == "" {
		sub.ID = uuid.New().String()
	}
	sub.UpdatedAt = time.Now()
	cp := *sub
	s.byTenant[sub.TenantID] = &cp
	return nil
}

package alert

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore is an in-process Store for tests and local runs.
type MemoryStore struct {
	mu     sync.Mutex
	alerts map[string]*Alert
	seq    int
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{alerts: make(map[string]*Alert)}
}

func clone(a *Alert) *Alert {
	cp := *a
	if a.LastTriggeredAt != nil {
		t := *a.LastTriggeredAt
		cp.LastTriggeredAt = &t
	}
	return &cp
}

func (s *MemoryStore) Create(_ context.Context, a *Alert) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq++
	a.ID = uuid.New().String()
	// strictly increasing so List order is deterministic
	a.CreatedAt = time.Now().Add(time.Duration(s.seq) * time.Microsecond)
	s.alerts[a.ID] = clone(a)
	return nil
}

func (s *MemoryStore) filter(tenantID string, activeOnly bool) []*Alert {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*Alert
	for _, a := range s.alerts {
		if a.TenantID == tenantID && (!activeOnly || a.IsActive) {
			out = append(out, clone(a))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out
}

func (s *MemoryStore) List(_ context.Context, tenantID string) ([]*Alert, error) {
	return s.filter(tenantID, false), nil
}

func (s *MemoryStore) ListActive(_ context.Context, tenantID string) ([]*Alert, error) {
	return s.filter(tenantID, true), nil
}

func (s *MemoryStore) SetActive(_ context.Context, tenantID, id string, active bool) (*Alert, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.alerts[id]
	if !ok || a.TenantID != tenantID {
		return nil, ErrNotFound
	}
	a.IsActive = active
	return clone(a), nil
}

func (s *MemoryStore) Delete(_ context.Context, tenantID, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.alerts[id]
	if !ok || a.TenantID != tenantID {
		return ErrNotFound
	}
	delete(s.alerts, id)
	return nil
}

func (s *MemoryStore) MarkTriggered(_ context.Context, id string, at, periodStart time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.alerts[id]
	if !ok || !a.IsActive {
		return false, nil
	}
	if a.LastTriggeredAt != nil && !a.LastTriggeredAt.Before(periodStart) {
		return false, nil
	}
	t := at
	a.LastTriggeredAt = &t
	return true, nil
}

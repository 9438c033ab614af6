package webhook

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore is an in-process Store for tests and local runs.
type MemoryStore struct {
	mu    sync.Mutex
	hooks map[string]*Webhook
	now   func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{hooks: make(map[string]*Webhook), now: time.Now}
}

func clone(w *Webhook) *Webhook {
	cp := *w
	cp.Events = append([]string(nil), w.Events...)
	if w.LastTriggeredAt != nil {
		t := *w.LastTriggeredAt
		cp.LastTriggeredAt = &t
	}
	return &cp
}

func (s *MemoryStore) Create(_ context.Context, w *Webhook) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	w.ID = uuid.New().String()
	w.CreatedAt = s.now()
	s.hooks[w.ID] = clone(w)
	return nil
}

func (s *MemoryStore) filter(tenantID string, activeOnly bool) []*Webhook {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*Webhook
	for _, w := range s.hooks {
		if w.TenantID == tenantID && (!activeOnly || w.IsActive) {
			out = append(out, clone(w))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out
}

func (s *MemoryStore) List(_ context.Context, tenantID string) ([]*Webhook, error) {
	return s.filter(tenantID, false), nil
}

func (s *MemoryStore) ListActive(_ context.Context, tenantID string) ([]*Webhook, error) {
	return s.filter(tenantID, true), nil
}

func (s *MemoryStore) SetActive(_ context.Context, tenantID, id string, active bool) (*Webhook, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	w, ok := s.hooks[id]
	if !ok || w.TenantID != tenantID {
		return nil, ErrNotFound
	}
	w.IsActive = active
	return clone(w), nil
}

func (s *MemoryStore) Delete(_ context.Context, tenantID, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	w, ok := s.hooks[id]
	if !ok || w.TenantID != tenantID {
		return ErrNotFound
	}
	delete(s.hooks, id)
	return nil
}

func (s *MemoryStore) Touch(_ context.Context, id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if w, ok := s.hooks[id]; ok {
		t := at
		w.LastTriggeredAt = &t
	}
	return nil
}

// Get returns a copy of the webhook, mostly for assertions.
func (s *MemoryStore) Get(id string) (*Webhook, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	w, ok := s.hooks[id]
	if !ok {
		return nil, false
	}
	return clone(w), true
}

package usage

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore keeps records in process. It backs tests and local runs without
// Postgres.
type MemoryStore struct {
	mu      sync.RWMutex
	records []Record
	// Fail, when set, is returned by Append.
	Fail error
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) Append(_ context.Context, rec *Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Fail != nil {
		return s.Fail
	}
	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}
	s.records = append(s.records, *rec)
	return nil
}

func (s *MemoryStore) each(tenantID string, keep func(r *Record) bool, fn func(r *Record)) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for i := range s.records {
		r := &s.records[i]
		if r.TenantID == tenantID && keep(r) {
			fn(r)
		}
	}
}

func add(t *Totals, r *Record) {
	t.Requests++
	t.Tokens += r.TokensUsed
	t.Cost += r.Cost
}

func (s *MemoryStore) Aggregate(_ context.Context, tenantID string, since time.Time) (Totals, error) {
	var t Totals
	s.each(tenantID, func(r *Record) bool { return !r.CreatedAt.Before(since) }, func(r *Record) { add(&t, r) })
	return t, nil
}

func (s *MemoryStore) Lifetime(_ context.Context, tenantID string) (Totals, error) {
	var t Totals
	s.each(tenantID, func(*Record) bool { return true }, func(r *Record) { add(&t, r) })
	return t, nil
}

func (s *MemoryStore) List(_ context.Context, tenantID string, from, to time.Time) ([]*Record, error) {
	var out []*Record
	s.each(tenantID, func(r *Record) bool {
		return !r.CreatedAt.Before(from) && !r.CreatedAt.After(to)
	}, func(r *Record) {
		cp := *r
		out = append(out, &cp)
	})
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (s *MemoryStore) Daily(_ context.Context, tenantID string, since time.Time) ([]DailyUsage, error) {
	byDay := map[time.Time]*DailyUsage{}
	s.each(tenantID, func(r *Record) bool { return !r.CreatedAt.Before(since) }, func(r *Record) {
		y, m, d := r.CreatedAt.Date()
		day := time.Date(y, m, d, 0, 0, 0, 0, r.CreatedAt.Location())
		du, ok := byDay[day]
		if !ok {
			du = &DailyUsage{Day: day}
			byDay[day] = du
		}
		add(&du.Totals, r)
	})

	out := make([]DailyUsage, 0, len(byDay))
	for _, du := range byDay {
		out = append(out, *du)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Day.Before(out[j].Day) })
	return out, nil
}

func (s *MemoryStore) ByProvider(_ context.Context, tenantID string, since time.Time) ([]ProviderUsage, error) {
	byProvider := map[string]*ProviderUsage{}
	s.each(tenantID, func(r *Record) bool { return !r.CreatedAt.Before(since) }, func(r *Record) {
		pu, ok := byProvider[r.Provider]
		if !ok {
			pu = &ProviderUsage{Provider: r.Provider}
			byProvider[r.Provider] = pu
		}
		add(&pu.Totals, r)
	})

	out := make([]ProviderUsage, 0, len(byProvider))
	for _, pu := range byProvider {
		out = append(out, *pu)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Requests != out[j].Requests {
			return out[i].Requests > out[j].Requests
		}
		return out[i].Provider < out[j].Provider
	})
	return out, nil
}

// Len reports the number of stored records.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}

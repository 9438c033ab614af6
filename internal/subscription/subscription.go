// Package subscription tracks each tenant's plan and its payment state.
package subscription

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/vnmchuo/promptgrid/internal/plan"
)

type Status string

const (
	Active   Status = "active"
	Inactive Status = "inactive"
	Canceled Status = "canceled"
)

var ErrNotFound = errors.New("no subscription found")

type Subscription struct {
	ID                   string     `json:"id"`
	TenantID             string     `json:"tenantId"`
	Plan                 string     `json:"plan"`
	Status               Status     `json:"status"`
	StripeCustomerID     string     `json:"-"`
	StripeSubscriptionID string     `json:"-"`
	StripePriceID        string     `json:"-"`
	CurrentPeriodEnd     *time.Time `json:"currentPeriodEnd"`
	UpdatedAt            time.Time  `json:"updatedAt"`
}

// EffectivePlan is the plan used for gating. Only active subscriptions get
// their paid tier.
func (s *Subscription) EffectivePlan() string {
	if s.Status != Active {
		return plan.Free
	}
	return s.Plan
}

type Store interface {
	GetByTenant(ctx context.Context, tenantID string) (*Subscription, error)
	GetByStripeID(ctx context.Context, stripeSubscriptionID string) (*Subscription, error)
	// Upsert inserts or replaces the tenant's subscription.
	Upsert(ctx context.Context, s *Subscription) error
}

// Resolver maps a tenant to the plan its requests are gated with.
type Resolver struct {
	store Store
}

func NewResolver(store Store) *Resolver {
	return &Resolver{store: store}
}

// PlanFor returns ErrNotFound when the tenant has no subscription at all.
func (r *Resolver) PlanFor(ctx context.Context, tenantID string) (string, error) {
	s, err := r.store.GetByTenant(ctx, tenantID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return "", err
		}
		return "", fmt.Errorf("failed to resolve plan: %w", err)
	}
	return s.EffectivePlan(), nil
}

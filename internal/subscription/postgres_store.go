package subscription

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
)

type DB interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type PostgresStore struct {
	db DB
}

func NewPostgresStore(db DB) Store {
	return &PostgresStore{db: db}
}

const subscriptionColumns = `id, tenant_id, plan, status, COALESCE(stripe_customer_id, ''),
	COALESCE(stripe_subscription_id, ''), COALESCE(stripe_price_id, ''), current_period_end, updated_at`

func (s *PostgresStore) get(ctx context.Context, where string, arg string) (*Subscription, error) {
	var sub Subscription
	err := s.db.QueryRow(ctx, `SELECT `+subscriptionColumns+` FROM subscriptions WHERE `+where, arg).Scan(
		&sub.ID, &sub.TenantID, &sub.Plan, &sub.Status, &sub.StripeCustomerID,
		&sub.StripeSubscriptionID, &sub.StripePriceID, &sub.CurrentPeriodEnd, &sub.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get subscription: %w", err)
	}
	return &sub, nil
}

func (s *PostgresStore) GetByTenant(ctx context.Context, tenantID string) (*Subscription, error) {
	return s.get(ctx, `tenant_id = $1`, tenantID)
}

func (s *PostgresStore) GetByStripeID(ctx context.Context, stripeSubscriptionID string) (*Subscription, error) {
	return s.get(ctx, `stripe_subscription_id = $1`, stripeSubscriptionID)
}

func (s *PostgresStore) Upsert(ctx context.Context, sub *Subscription) error {
	query := `
		INSERT INTO subscriptions (tenant_id, plan, status, stripe_customer_id, stripe_subscription_id, stripe_price_id, current_period_end, updated_at)
		VALUES ($1, $2, $3, NULLIF($4, ''), NULLIF($5, ''), NULLIF($6, ''), $7, now())
		ON CONFLICT (tenant_id) DO UPDATE SET
			plan = EXCLUDED.plan,
			status = EXCLUDED.status,
			stripe_customer_id = COALESCE(EXCLUDED.stripe_customer_id, subscriptions.stripe_customer_id),
			stripe_subscription_id = COALESCE(EXCLUDED.stripe_subscription_id, subscriptions.stripe_subscription_id),
			stripe_price_id = COALESCE(EXCLUDED.stripe_price_id, subscriptions.stripe_price_id),
			current_period_end = EXCLUDED.current_period_end,
			updated_at = now()
		RETURNING id, updated_at
	`
	err := s.db.QueryRow(ctx, query,
		sub.TenantID, sub.Plan, sub.Status, sub.StripeCustomerID, sub.StripeSubscriptionID,
		sub.StripePriceID, sub.CurrentPeriodEnd,
	).Scan(&sub.ID, &sub.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to upsert subscription: %w", err)
	}
	return nil
}

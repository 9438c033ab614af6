// Package seeder creates a development tenant with an API key, a session
// token and an active free subscription.
package seeder

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/vnmchuo/promptgrid/internal/auth"
	"github.com/vnmchuo/promptgrid/internal/plan"
	"github.com/vnmchuo/promptgrid/internal/subscription"
)

const TestTenantID = "00000000-0000-0000-0000-000000000001"

const sessionTTL = 24 * time.Hour

type Seeder struct {
	keys          auth.Store
	subscriptions subscription.Store
	sessionSecret []byte
	log           zerolog.Logger
}

func New(keys auth.Store, subscriptions subscription.Store, sessionSecret []byte, log zerolog.Logger) *Seeder {
	return &Seeder{keys: keys, subscriptions: subscriptions, sessionSecret: sessionSecret, log: log}
}

// Seed is idempotent for the subscription. A new API key is issued on every
// run because existing secrets cannot be recovered.
func (s *Seeder) Seed(ctx context.Context) error {
	_, err := s.subscriptions.GetByTenant(ctx, TestTenantID)
	switch {
	case errors.Is(err, subscription.ErrNotFound):
		if err := s.subscriptions.Upsert(ctx, &subscription.Subscription{
			TenantID: TestTenantID,
			Plan:     plan.Free,
			Status:   subscription.Active,
		}); err != nil {
			return fmt.Errorf("seed subscription: %w", err)
		}
		s.log.Info().Str("tenant_id", TestTenantID).Msg("seeded free subscription")
	case err != nil:
		return fmt.Errorf("seed subscription: %w", err)
	default:
		s.log.Info().Str("tenant_id", TestTenantID).Msg("subscription already exists, skipping")
	}

	_, token, err := auth.Issue(ctx, s.keys, TestTenantID, "seed")
	if err != nil {
		return fmt.Errorf("seed api key: %w", err)
	}

	session, err := auth.IssueSession(s.sessionSecret, TestTenantID, sessionTTL)
	if err != nil {
		return fmt.Errorf("seed session: %w", err)
	}

	s.log.Info().
		Str("tenant_id", TestTenantID).
		Str("api_key", token).
		Str("session_token", session).
		Msg("seeded development credentials")
	return nil
}

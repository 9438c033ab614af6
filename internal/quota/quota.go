// Package quota gates calls against a plan's monthly request and token allowance.
package quota

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/vnmchuo/promptgrid/internal/plan"
	"github.com/vnmchuo/promptgrid/internal/usage"
)

var (
	ErrRequestQuotaExceeded = errors.New("monthly request quota exceeded")
	ErrTokenQuotaExceeded   = errors.New("monthly token quota exceeded")
)

// Aggregator is the part of the usage store the enforcer reads.
type Aggregator interface {
	Aggregate(ctx context.Context, tenantID string, since time.Time) (usage.Totals, error)
}

// Status is the tenant's position in the current period.
type Status struct {
	PeriodStart time.Time    `json:"periodStart"`
	Used        usage.Totals `json:"used"`
	Limits      plan.Quota   `json:"limits"`
}

type Enforcer struct {
	usage   Aggregator
	catalog *plan.Catalog
	now     func() time.Time
}

type Option func(*Enforcer)

func WithClock(now func() time.Time) Option {
	return func(e *Enforcer) { e.now = now }
}

func NewEnforcer(agg Aggregator, catalog *plan.Catalog, opts ...Option) *Enforcer {
	e := &Enforcer{usage: agg, catalog: catalog, now: time.Now}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Status reads committed usage since the start of the current month.
func (e *Enforcer) Status(ctx context.Context, tenantID, planName string) (Status, error) {
	start := usage.PeriodStart(e.now())
	used, err := e.usage.Aggregate(ctx, tenantID, start)
	if err != nil {
		return Status{}, fmt.Errorf("%w: %w", usage.ErrStorageUnavailable, err)
	}
	return Status{PeriodStart: start, Used: used, Limits: e.catalog.Get(planName).Quota}, nil
}

// Check fails with ErrRequestQuotaExceeded or ErrTokenQuotaExceeded, requests
// first. Nothing is reserved: concurrent calls near the limit may all pass.
func (e *Enforcer) Check(ctx context.Context, tenantID, planName string) error {
	st, err := e.Status(ctx, tenantID, planName)
	if err != nil {
		return err
	}
	if st.Used.Requests >= st.Limits.MonthlyRequests {
		return fmt.Errorf("%w: %d of %d requests used", ErrRequestQuotaExceeded, st.Used.Requests, st.Limits.MonthlyRequests)
	}
	if st.Used.Tokens >= st.Limits.MonthlyTokens {
		return fmt.Errorf("%w: %d of %d tokens used", ErrTokenQuotaExceeded, st.Used.Tokens, st.Limits.MonthlyTokens)
	}
	return nil
}

// Kind names the exceeded quota for clients, or "" when err is not a quota error.
func Kind(err error) string {
	switch {
	case errors.Is(err, ErrRequestQuotaExceeded):
		return "requests"
	case errors.Is(err, ErrTokenQuotaExceeded):
		return "tokens"
	default:
		return ""
	}
}

// Package alert evaluates tenant usage thresholds once per billing period.
package alert

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/vnmchuo/promptgrid/internal/telemetry"
	"github.com/vnmchuo/promptgrid/internal/usage"
)

type Type string

const (
	Requests Type = "requests"
	Tokens   Type = "tokens"
	Cost     Type = "cost"
)

func (t Type) Valid() bool {
	switch t {
	case Requests, Tokens, Cost:
		return true
	}
	return false
}

var ErrNotFound = errors.New("usage alert not found")

type Alert struct {
	ID              string     `json:"id"`
	TenantID        string     `json:"-"`
	Type            Type       `json:"type"`
	Threshold       float64    `json:"threshold"`
	IsActive        bool       `json:"isActive"`
	LastTriggeredAt *time.Time `json:"lastTriggeredAt"`
	CreatedAt       time.Time  `json:"createdAt"`
}

type Store interface {
	Create(ctx context.Context, a *Alert) error
	// List returns the tenant's alerts, newest first.
	List(ctx context.Context, tenantID string) ([]*Alert, error)
	ListActive(ctx context.Context, tenantID string) ([]*Alert, error)
	SetActive(ctx context.Context, tenantID, id string, active bool) (*Alert, error)
	Delete(ctx context.Context, tenantID, id string) error
	// MarkTriggered sets lastTriggeredAt = at only if the alert has not fired
	// since periodStart. It reports whether this call won.
	MarkTriggered(ctx context.Context, id string, at, periodStart time.Time) (bool, error)
}

type Aggregator interface {
	Aggregate(ctx context.Context, tenantID string, since time.Time) (usage.Totals, error)
}

// Trigger is an alert that fired, with the aggregate that crossed its threshold.
type Trigger struct {
	Alert        *Alert  `json:"alert"`
	CurrentValue float64 `json:"currentValue"`
}

type Engine struct {
	alerts Store
	usage  Aggregator
	log    zerolog.Logger
	now    func() time.Time
}

type Option func(*Engine)

func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

func NewEngine(alerts Store, agg Aggregator, log zerolog.Logger, opts ...Option) *Engine {
	e := &Engine{alerts: alerts, usage: agg, log: log, now: time.Now}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func currentValue(t Type, totals usage.Totals) float64 {
	switch t {
	case Requests:
		return float64(totals.Requests)
	case Tokens:
		return float64(totals.Tokens)
	case Cost:
		return totals.Cost
	}
	return 0
}

func due(a *Alert, value float64, periodStart time.Time) bool {
	if value < a.Threshold {
		return false
	}
	return a.LastTriggeredAt == nil || a.LastTriggeredAt.Before(periodStart)
}

// Evaluate fires every active alert of the tenant whose threshold is met and
// that has not fired this period.
func (e *Engine) Evaluate(ctx context.Context, tenantID string) ([]Trigger, error) {
	alerts, err := e.alerts.ListActive(ctx, tenantID)
	if err != nil {
		return nil, fmt.Errorf("failed to load alerts: %w", err)
	}
	if len(alerts) == 0 {
		return nil, nil
	}

	now := e.now()
	periodStart := usage.PeriodStart(now)
	totals, err := e.usage.Aggregate(ctx, tenantID, periodStart)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate usage: %w", err)
	}

	var triggered []Trigger
	for _, a := range alerts {
		value := currentValue(a.Type, totals)
		if !due(a, value, periodStart) {
			continue
		}

		won, err := e.alerts.MarkTriggered(ctx, a.ID, now, periodStart)
		if err != nil {
			e.log.Warn().Err(err).Str("alert_id", a.ID).Str("tenant_id", tenantID).Msg("failed to mark alert triggered")
			continue
		}
		if !won {
			continue
		}

		t := now
		a.LastTriggeredAt = &t
		telemetry.AlertsTriggered.WithLabelValues(string(a.Type)).Inc()
		e.log.Info().
			Str("alert_id", a.ID).
			Str("tenant_id", tenantID).
			Str("type", string(a.Type)).
			Float64("threshold", a.Threshold).
			Float64("value", value).
			Msg("usage alert triggered")
		triggered = append(triggered, Trigger{Alert: a, CurrentValue: value})
	}
	return triggered, nil
}

// Package usage holds the append-only usage ledger that quota, alerts and
// analytics read from.
package usage

import (
	"context"
	"time"
)

// Origin tells how a call reached the gateway.
type Origin string

const (
	Interactive Origin = "interactive"
	Batch       Origin = "batch"
	API         Origin = "api"
)

// Metadata describes the shape of the call. It is stored as an opaque JSON blob.
type Metadata struct {
	Messages    int      `json:"messages"`
	MaxTokens   *int     `json:"maxTokens,omitempty"`
	Temperature *float64 `json:"temperature,omitempty"`
	Source      Origin   `json:"source"`
	RequestID   string   `json:"requestId,omitempty"`
	LatencyMs   int64    `json:"latencyMs,omitempty"`
}

type Record struct {
	ID         string    `json:"id"`
	TenantID   string    `json:"tenantId"`
	Provider   string    `json:"provider"`
	Model      string    `json:"model"`
	TokensUsed int64     `json:"tokensUsed"`
	Cost       float64   `json:"cost"`
	Metadata   Metadata  `json:"metadata"`
	CreatedAt  time.Time `json:"createdAt"`
}

// Totals is an aggregate over a set of records.
type Totals struct {
	Requests int64   `json:"requests"`
	Tokens   int64   `json:"tokens"`
	Cost     float64 `json:"cost"`
}

type DailyUsage struct {
	Day time.Time `json:"day"`
	Totals
}

type ProviderUsage struct {
	Provider string `json:"provider"`
	Totals
}

type Store interface {
	Append(ctx context.Context, rec *Record) error
	// Aggregate sums records with createdAt >= since.
	Aggregate(ctx context.Context, tenantID string, since time.Time) (Totals, error)
	List(ctx context.Context, tenantID string, from, to time.Time) ([]*Record, error)
	Daily(ctx context.Context, tenantID string, since time.Time) ([]DailyUsage, error)
	ByProvider(ctx context.Context, tenantID string, since time.Time) ([]ProviderUsage, error)
	Lifetime(ctx context.Context, tenantID string) (Totals, error)
}

// PeriodStart is the first instant of the calendar month containing now, in
// now's location. Every tenant shares the same billing period.
func PeriodStart(now time.Time) time.Time {
	y, m, _ := now.Date()
	return time.Date(y, m, 1, 0, 0, 0, 0, now.Location())
}

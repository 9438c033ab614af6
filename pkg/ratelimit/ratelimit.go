// Package ratelimit implements fixed-window request counters keyed by caller and
// window size, plus a plan-level gate that checks a per-minute and a per-hour window.
package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

const (
	Minute = time.Minute
	Hour   = time.Hour
)

// Result is the counter state after one hit.
type Result struct {
	Allowed   bool
	Limit     int
	Remaining int
	ResetAt   time.Time
}

// RetryAfter is the time left until the window resets, never negative.
func (r Result) RetryAfter(now time.Time) time.Duration {
	if d := r.ResetAt.Sub(now); d > 0 {
		return d
	}
	return 0
}

// Store counts hits per (key, window). A denied hit must not increment the counter.
type Store interface {
	Hit(ctx context.Context, key string, maxRequests int, window time.Duration) (Result, error)
}

// ExceededError reports which window rejected the call.
type ExceededError struct {
	Window time.Duration
	Result Result
}

func (e *ExceededError) Error() string {
	return fmt.Sprintf("rate limit exceeded: %d requests per %s", e.Result.Limit, WindowName(e.Window))
}

// WindowName renders the window the way clients see it.
func WindowName(w time.Duration) string {
	switch w {
	case Minute:
		return "minute"
	case Hour:
		return "hour"
	default:
		return w.String()
	}
}

// KeyFor separates API-key traffic from interactive traffic of the same tenant.
func KeyFor(tenantID, apiKeyToken string) string {
	if apiKeyToken != "" {
		return "api:" + apiKeyToken
	}
	return "user:" + tenantID
}

// Limits is the per-minute and per-hour allowance of a plan.
type Limits struct {
	PerMinute int
	PerHour   int
}

type Limiter struct {
	store Store
	log   zerolog.Logger
}

func NewLimiter(store Store, log zerolog.Logger) *Limiter {
	return &Limiter{store: store, log: log}
}

// Check counts one request against a single window. Store failures fail open.
func (l *Limiter) Check(ctx context.Context, key string, maxRequests int, window time.Duration) Result {
	res, err := l.store.Hit(ctx, key, maxRequests, window)
	if err != nil {
		l.log.Warn().Err(err).Str("key", key).Dur("window", window).Msg("rate limit store failed, allowing request")
		return Result{Allowed: true, Limit: maxRequests, Remaining: maxRequests, ResetAt: time.Now().Add(window)}
	}
	return res
}

// CheckPlan checks the minute window, then the hour window. The first failing
// window short-circuits and is returned as *ExceededError. On success the
// minute result is returned for response headers.
func (l *Limiter) CheckPlan(ctx context.Context, key string, limits Limits) (Result, error) {
	minute := l.Check(ctx, key, limits.PerMinute, Minute)
	if !minute.Allowed {
		return minute, &ExceededError{Window: Minute, Result: minute}
	}

	hour := l.Check(ctx, key, limits.PerHour, Hour)
	if !hour.Allowed {
		return hour, &ExceededError{Window: Hour, Result: hour}
	}
	return minute, nil
}

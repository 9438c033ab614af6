package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	extratelimit "github.com/vnmchuo/ratelimiter"
)

var ErrTokenRateExceeded = errors.New("token rate limit exceeded")

// TokenLimiter bounds estimated tokens per tenant per minute. It is a thin
// wrapper around github.com/vnmchuo/ratelimiter.
type TokenLimiter struct {
	store extratelimit.Limiter
}

func NewTokenLimiter(rdb *redis.Client, tokensPerMinute int64) *TokenLimiter {
	store := extratelimit.NewRedisStore(rdb,
		extratelimit.WithLimit(int(tokensPerMinute)),
		extratelimit.WithWindow(time.Minute),
	)
	return &TokenLimiter{store: store}
}

func NewTestTokenLimiter(store extratelimit.Limiter) *TokenLimiter {
	return &TokenLimiter{store: store}
}

func tokenKey(tenantID string) string {
	return fmt.Sprintf("ratelimit:tokens:%s", tenantID)
}

// Allow consumes tokens from the tenant's budget. A nil limiter allows everything.
func (l *TokenLimiter) Allow(ctx context.Context, tenantID string, tokens int) error {
	if l == nil {
		return nil
	}
	if tokens <= 0 {
		tokens = 1
	}
	res, err := l.store.AllowN(ctx, tokenKey(tenantID), tokens)
	if err != nil {
		return fmt.Errorf("token limiter: %w", err)
	}
	if !res.Allowed {
		return ErrTokenRateExceeded
	}
	return nil
}

func (l *TokenLimiter) Status(ctx context.Context, tenantID string) (*extratelimit.Result, error) {
	return l.store.Status(ctx, tokenKey(tenantID))
}

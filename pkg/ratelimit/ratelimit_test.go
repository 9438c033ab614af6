package ratelimit

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	extratelimit "github.com/vnmchuo/ratelimiter"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

func TestMemoryStore_NthAllowedNPlusOneDenied(t *testing.T) {
	for _, n := range []int{1, 2, 10, 60} {
		clock := newFakeClock()
		s := NewMemoryStore(WithClock(clock.Now))
		ctx := context.Background()

		for i := 1; i <= n; i++ {
			res, err := s.Hit(ctx, "user:t1", n, Minute)
			require.NoError(t, err)
			require.True(t, res.Allowed, "call %d of %d", i, n)
			assert.Equal(t, n-i, res.Remaining)
		}

		res, err := s.Hit(ctx, "user:t1", n, Minute)
		require.NoError(t, err)
		assert.False(t, res.Allowed)
		assert.Equal(t, 0, res.Remaining)
		assert.Equal(t, clock.Now().Add(Minute), res.ResetAt)
	}
}

func TestMemoryStore_ZeroLimitDeniesEverything(t *testing.T) {
	s := NewMemoryStore()
	res, err := s.Hit(context.Background(), "user:t1", 0, Minute)
	require.NoError(t, err)
	assert.False(t, res.Allowed)
	assert.Equal(t, 0, s.Len())
}

func TestMemoryStore_DeniedCallsDoNotExtendWindow(t *testing.T) {
	clock := newFakeClock()
	s := NewMemoryStore(WithClock(clock.Now))
	ctx := context.Background()

	first, _ := s.Hit(ctx, "k", 1, Minute)
	clock.Advance(30 * time.Second)
	denied, _ := s.Hit(ctx, "k", 1, Minute)

	assert.False(t, denied.Allowed)
	assert.Equal(t, first.ResetAt, denied.ResetAt)
}

func TestMemoryStore_FreshWindowAfterReset(t *testing.T) {
	clock := newFakeClock()
	s := NewMemoryStore(WithClock(clock.Now))
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, _ = s.Hit(ctx, "k", 3, Minute)
	}
	res, _ := s.Hit(ctx, "k", 3, Minute)
	require.False(t, res.Allowed)

	clock.Advance(Minute + time.Millisecond)

	res, err := s.Hit(ctx, "k", 3, Minute)
	require.NoError(t, err)
	assert.True(t, res.Allowed)
	assert.Equal(t, 2, res.Remaining)
	assert.Equal(t, clock.Now().Add(Minute), res.ResetAt)
}

func TestMemoryStore_IndependentKeysAndWindows(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	res, _ := s.Hit(ctx, KeyFor("tenant-1", "sk_abc"), 1, Minute)
	require.True(t, res.Allowed)
	res, _ = s.Hit(ctx, KeyFor("tenant-1", "sk_abc"), 1, Minute)
	require.False(t, res.Allowed)

	res, _ = s.Hit(ctx, KeyFor("tenant-1", ""), 1, Minute)
	assert.True(t, res.Allowed, "user key must not share the api key counter")

	res, _ = s.Hit(ctx, KeyFor("tenant-1", "sk_abc"), 1, Hour)
	assert.True(t, res.Allowed, "hour window must not share the minute counter")
}

func TestMemoryStore_SweepsExpiredCounters(t *testing.T) {
	clock := newFakeClock()
	s := NewMemoryStore(WithClock(clock.Now))
	ctx := context.Background()

	for _, k := range []string{"a", "b", "c"} {
		_, _ = s.Hit(ctx, k, 5, Minute)
	}
	_, _ = s.Hit(ctx, "long", 5, Hour)
	require.Equal(t, 4, s.Len())

	clock.Advance(2 * Minute)
	_, _ = s.Hit(ctx, "d", 5, Minute)

	assert.Equal(t, 2, s.Len())
}

func TestMemoryStore_ConcurrentHits(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	var wg sync.WaitGroup
	var mu sync.Mutex
	allowed := 0
	for i := 0; i < 200; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, _ := s.Hit(ctx, "k", 50, Minute)
			if res.Allowed {
				mu.Lock()
				allowed++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 50, allowed)
}

func TestKeyFor(t *testing.T) {
	assert.Equal(t, "api:sk_1", KeyFor("t", "sk_1"))
	assert.Equal(t, "user:t", KeyFor("t", ""))
}

func TestCheckPlan_MinuteShortCircuits(t *testing.T) {
	clock := newFakeClock()
	store := &countingStore{Store: NewMemoryStore(WithClock(clock.Now))}
	l := NewLimiter(store, zerolog.Nop())
	ctx := context.Background()
	limits := Limits{PerMinute: 2, PerHour: 100}

	for i := 0; i < 2; i++ {
		_, err := l.CheckPlan(ctx, "user:t", limits)
		require.NoError(t, err)
	}
	store.hits = nil

	_, err := l.CheckPlan(ctx, "user:t", limits)
	var exceeded *ExceededError
	require.True(t, errors.As(err, &exceeded))
	assert.Equal(t, Minute, exceeded.Window)
	assert.Equal(t, []time.Duration{Minute}, store.hits, "hour window must not be evaluated")
	assert.Contains(t, err.Error(), "per minute")
}

func TestCheckPlan_HourWindow(t *testing.T) {
	clock := newFakeClock()
	l := NewLimiter(NewMemoryStore(WithClock(clock.Now)), zerolog.Nop())
	ctx := context.Background()
	limits := Limits{PerMinute: 10, PerHour: 3}

	for i := 0; i < 3; i++ {
		_, err := l.CheckPlan(ctx, "user:t", limits)
		require.NoError(t, err)
		clock.Advance(2 * Minute)
	}

	res, err := l.CheckPlan(ctx, "user:t", limits)
	var exceeded *ExceededError
	require.True(t, errors.As(err, &exceeded))
	assert.Equal(t, Hour, exceeded.Window)
	assert.Equal(t, 3, res.Limit)
	assert.Equal(t, 0, res.Remaining)
}

func TestCheck_StoreErrorFailsOpen(t *testing.T) {
	l := NewLimiter(failingStore{}, zerolog.Nop())
	res := l.Check(context.Background(), "k", 5, Minute)
	assert.True(t, res.Allowed)
}

func TestRetryAfter(t *testing.T) {
	now := time.Now()
	assert.Equal(t, 30*time.Second, Result{ResetAt: now.Add(30 * time.Second)}.RetryAfter(now))
	assert.Equal(t, time.Duration(0), Result{ResetAt: now.Add(-time.Second)}.RetryAfter(now))
}

func TestRedisStore_FixedWindow(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()

	s := NewRedisStore(rdb)
	ctx := context.Background()

	for i := 1; i <= 3; i++ {
		res, err := s.Hit(ctx, "user:t", 3, Minute)
		require.NoError(t, err)
		require.True(t, res.Allowed)
		assert.Equal(t, 3-i, res.Remaining)
	}

	res, err := s.Hit(ctx, "user:t", 3, Minute)
	require.NoError(t, err)
	assert.False(t, res.Allowed)
	assert.Equal(t, 0, res.Remaining)

	// denied hits leave the counter at the limit
	val, err := mr.Get("ratelimit:user:t:60000")
	require.NoError(t, err)
	assert.Equal(t, "3", val)

	mr.FastForward(Minute + time.Second)

	res, err = s.Hit(ctx, "user:t", 3, Minute)
	require.NoError(t, err)
	assert.True(t, res.Allowed)
	assert.Equal(t, 2, res.Remaining)
}

func TestRedisStore_WindowsAreSeparate(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()

	s := NewRedisStore(rdb)
	ctx := context.Background()

	res, _ := s.Hit(ctx, "api:sk", 1, Minute)
	require.True(t, res.Allowed)
	res, _ = s.Hit(ctx, "api:sk", 1, Hour)
	assert.True(t, res.Allowed)
	assert.True(t, mr.Exists("ratelimit:api:sk:3600000"))
}

func TestRedisStore_Unavailable(t *testing.T) {
	rdb := redis.NewClient(&redis.Options{Addr: "127.0.0.1:1", MaxRetries: -1})
	defer rdb.Close()

	_, err := NewRedisStore(rdb).Hit(context.Background(), "k", 1, Minute)
	assert.Error(t, err)
}

type countingStore struct {
	Store
	hits []time.Duration
}

func (c *countingStore) Hit(ctx context.Context, key string, max int, window time.Duration) (Result, error) {
	c.hits = append(c.hits, window)
	return c.Store.Hit(ctx, key, max, window)
}

type failingStore struct{}

func (failingStore) Hit(context.Context, string, int, time.Duration) (Result, error) {
	return Result{}, errors.New("boom")
}

// Mock token limiter store
type mockLimiterStore struct {
	allowed bool
	err     error
	lastN   int
}

func (m *mockLimiterStore) AllowN(ctx context.Context, key string, n int) (*extratelimit.Result, error) {
	m.lastN = n
	return &extratelimit.Result{Allowed: m.allowed}, m.err
}

func (m *mockLimiterStore) Allow(ctx context.Context, key string) (*extratelimit.Result, error) {
	return &extratelimit.Result{Allowed: m.allowed}, m.err
}

func (m *mockLimiterStore) Status(ctx context.Context, key string) (*extratelimit.Result, error) {
	return &extratelimit.Result{Allowed: m.allowed}, m.err
}

func TestTokenLimiter(t *testing.T) {
	ctx := context.Background()

	var nilLimiter *TokenLimiter
	assert.NoError(t, nilLimiter.Allow(ctx, "t", 100))

	store := &mockLimiterStore{allowed: true}
	l := NewTestTokenLimiter(store)
	assert.NoError(t, l.Allow(ctx, "t", 250))
	assert.Equal(t, 250, store.lastN)

	store.allowed = false
	assert.ErrorIs(t, l.Allow(ctx, "t", 250), ErrTokenRateExceeded)

	store.err = errors.New("redis down")
	err := l.Allow(ctx, "t", 0)
	assert.Error(t, err)
	assert.NotErrorIs(t, err, ErrTokenRateExceeded)
	assert.Equal(t, 1, store.lastN)
}

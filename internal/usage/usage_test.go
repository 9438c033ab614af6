package usage

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPeriodStart(t *testing.T) {
	loc := time.FixedZone("UTC+7", 7*3600)
	now := time.Date(2026, 2, 17, 15, 4, 5, 6, loc)

	got := PeriodStart(now)
	assert.Equal(t, time.Date(2026, 2, 1, 0, 0, 0, 0, loc), got)
	assert.Equal(t, got, PeriodStart(got))
}

func TestRecorder_Record(t *testing.T) {
	store := NewMemoryStore()
	r := NewRecorder(store, zerolog.Nop())
	fixed := time.Date(2026, 5, 2, 9, 0, 0, 0, time.UTC)
	r.now = func() time.Time { return fixed }

	rec := &Record{TenantID: "t1", Provider: "openai", Model: "gpt-4", TokensUsed: 30, Cost: 0.001}
	require.NoError(t, r.Record(context.Background(), rec))

	assert.NotEmpty(t, rec.ID)
	assert.Equal(t, fixed, rec.CreatedAt)
	assert.Equal(t, 1, store.Len())
}

func TestRecorder_RejectsInvalid(t *testing.T) {
	r := NewRecorder(NewMemoryStore(), zerolog.Nop())
	ctx := context.Background()

	for _, rec := range []*Record{
		{TokensUsed: 1},
		{TenantID: "t", TokensUsed: -1},
		{TenantID: "t", Cost: -0.5},
	} {
		err := r.Record(ctx, rec)
		assert.ErrorIs(t, err, ErrInvalidRecord)
		assert.NotErrorIs(t, err, ErrStorageUnavailable)
	}
}

func TestRecorder_StorageUnavailable(t *testing.T) {
	store := NewMemoryStore()
	cause := errors.New("connection refused")
	store.Fail = cause

	err := NewRecorder(store, zerolog.Nop()).Record(context.Background(), &Record{TenantID: "t"})
	assert.ErrorIs(t, err, ErrStorageUnavailable)
	assert.ErrorIs(t, err, cause)
}

func TestMemoryStore_Aggregations(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	march := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	seed := []Record{
		{TenantID: "t1", Provider: "openai", TokensUsed: 100, Cost: 1, CreatedAt: march.Add(-time.Hour)},
		{TenantID: "t1", Provider: "openai", TokensUsed: 10, Cost: 0.5, CreatedAt: march},
		{TenantID: "t1", Provider: "anthropic", TokensUsed: 20, Cost: 0.25, CreatedAt: march.Add(26 * time.Hour)},
		{TenantID: "t1", Provider: "openai", TokensUsed: 5, Cost: 0.25, CreatedAt: march.Add(27 * time.Hour)},
		{TenantID: "t2", Provider: "openai", TokensUsed: 999, Cost: 9, CreatedAt: march},
	}
	for i := range seed {
		require.NoError(t, s.Append(ctx, &seed[i]))
	}

	month, err := s.Aggregate(ctx, "t1", march)
	require.NoError(t, err)
	assert.Equal(t, Totals{Requests: 3, Tokens: 35, Cost: 1}, month)

	life, err := s.Lifetime(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, int64(4), life.Requests)
	assert.Equal(t, int64(135), life.Tokens)

	days, err := s.Daily(ctx, "t1", march)
	require.NoError(t, err)
	require.Len(t, days, 2)
	assert.Equal(t, march, days[0].Day)
	assert.Equal(t, int64(1), days[0].Requests)
	assert.Equal(t, int64(2), days[1].Requests)
	assert.Equal(t, int64(25), days[1].Tokens)

	providers, err := s.ByProvider(ctx, "t1", march)
	require.NoError(t, err)
	require.Len(t, providers, 2)
	assert.Equal(t, "openai", providers[0].Provider)
	assert.Equal(t, int64(2), providers[0].Requests)

	list, err := s.List(ctx, "t1", march, march.Add(48*time.Hour))
	require.NoError(t, err)
	require.Len(t, list, 3)
	assert.True(t, list[0].CreatedAt.After(list[2].CreatedAt), "newest first")
}

type fakeRow struct {
	values []any
	err    error
}

func (r *fakeRow) Scan(dest ...any) error {
	if r.err != nil {
		return r.err
	}
	for i, d := range dest {
		switch p := d.(type) {
		case *string:
			*p = r.values[i].(string)
		case *int64:
			*p = r.values[i].(int64)
		case *float64:
			*p = r.values[i].(float64)
		}
	}
	return nil
}

type fakeDB struct {
	row      *fakeRow
	lastSQL  string
	lastArgs []any
}

func (f *fakeDB) Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	return nil, errors.New("not implemented")
}

func (f *fakeDB) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	f.lastSQL = sql
	f.lastArgs = args
	return f.row
}

func (f *fakeDB) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	return pgconn.CommandTag{}, nil
}

func TestPostgresStore_Append(t *testing.T) {
	db := &fakeDB{row: &fakeRow{values: []any{"rec-1"}}}
	s := NewPostgresStore(db)
	maxTokens := 256

	rec := &Record{
		TenantID: "t1", Provider: "openai", Model: "gpt-4", TokensUsed: 12, Cost: 0.01,
		Metadata:  Metadata{Messages: 2, MaxTokens: &maxTokens, Source: API},
		CreatedAt: time.Now(),
	}
	require.NoError(t, s.Append(context.Background(), rec))

	assert.Equal(t, "rec-1", rec.ID)
	assert.Contains(t, db.lastSQL, "INSERT INTO usage_records")
	require.Len(t, db.lastArgs, 7)
	assert.JSONEq(t, `{"messages":2,"maxTokens":256,"source":"api"}`, string(db.lastArgs[5].([]byte)))
}

func TestPostgresStore_Aggregate(t *testing.T) {
	db := &fakeDB{row: &fakeRow{values: []any{int64(7), int64(700), 1.5}}}
	s := NewPostgresStore(db)

	totals, err := s.Aggregate(context.Background(), "t1", time.Now())
	require.NoError(t, err)
	assert.Equal(t, Totals{Requests: 7, Tokens: 700, Cost: 1.5}, totals)

	db.row = &fakeRow{err: errors.New("db down")}
	_, err = s.Aggregate(context.Background(), "t1", time.Now())
	assert.Error(t, err)
}

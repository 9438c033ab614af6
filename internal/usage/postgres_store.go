package usage

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

type DB interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

type PostgresStore struct {
	db DB
}

func NewPostgresStore(db DB) Store {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Append(ctx context.Context, rec *Record) error {
	meta, err := json.Marshal(rec.Metadata)
	if err != nil {
		return fmt.Errorf("failed to encode usage metadata: %w", err)
	}

	query := `
		INSERT INTO usage_records (tenant_id, provider, model, tokens_used, cost, metadata, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id
	`
	err = s.db.QueryRow(ctx, query,
		rec.TenantID, rec.Provider, rec.Model, rec.TokensUsed, rec.Cost, meta, rec.CreatedAt,
	).Scan(&rec.ID)
	if err != nil {
		return fmt.Errorf("failed to append usage record: %w", err)
	}
	return nil
}

func (s *PostgresStore) Aggregate(ctx context.Context, tenantID string, since time.Time) (Totals, error) {
	query := `
		SELECT COUNT(*), COALESCE(SUM(tokens_used), 0), COALESCE(SUM(cost), 0)
		FROM usage_records
		WHERE tenant_id = $1 AND created_at >= $2
	`
	var t Totals
	if err := s.db.QueryRow(ctx, query, tenantID, since).Scan(&t.Requests, &t.Tokens, &t.Cost); err != nil {
		return Totals{}, fmt.Errorf("failed to aggregate usage: %w", err)
	}
	return t, nil
}

func (s *PostgresStore) Lifetime(ctx context.Context, tenantID string) (Totals, error) {
	query := `
		SELECT COUNT(*), COALESCE(SUM(tokens_used), 0), COALESCE(SUM(cost), 0)
		FROM usage_records
		WHERE tenant_id = $1
	`
	var t Totals
	if err := s.db.QueryRow(ctx, query, tenantID).Scan(&t.Requests, &t.Tokens, &t.Cost); err != nil {
		return Totals{}, fmt.Errorf("failed to get lifetime usage: %w", err)
	}
	return t, nil
}

func (s *PostgresStore) List(ctx context.Context, tenantID string, from, to time.Time) ([]*Record, error) {
	query := `
		SELECT id, tenant_id, provider, model, tokens_used, cost, metadata, created_at
		FROM usage_records
		WHERE tenant_id = $1 AND created_at BETWEEN $2 AND $3
		ORDER BY created_at DESC
	`
	rows, err := s.db.Query(ctx, query, tenantID, from, to)
	if err != nil {
		return nil, fmt.Errorf("failed to query usage records: %w", err)
	}
	defer rows.Close()

	var records []*Record
	for rows.Next() {
		var r Record
		var meta []byte
		if err := rows.Scan(&r.ID, &r.TenantID, &r.Provider, &r.Model, &r.TokensUsed, &r.Cost, &meta, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan usage record: %w", err)
		}
		if len(meta) > 0 {
			if err := json.Unmarshal(meta, &r.Metadata); err != nil {
				return nil, fmt.Errorf("failed to decode usage metadata: %w", err)
			}
		}
		records = append(records, &r)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating usage records: %w", err)
	}
	return records, nil
}

func (s *PostgresStore) Daily(ctx context.Context, tenantID string, since time.Time) ([]DailyUsage, error) {
	query := `
		SELECT date_trunc('day', created_at) AS day, COUNT(*), COALESCE(SUM(tokens_used), 0), COALESCE(SUM(cost), 0)
		FROM usage_records
		WHERE tenant_id = $1 AND created_at >= $2
		GROUP BY day
		ORDER BY day
	`
	rows, err := s.db.Query(ctx, query, tenantID, since)
	if err != nil {
		return nil, fmt.Errorf("failed to query daily usage: %w", err)
	}
	defer rows.Close()

	var days []DailyUsage
	for rows.Next() {
		var d DailyUsage
		if err := rows.Scan(&d.Day, &d.Requests, &d.Tokens, &d.Cost); err != nil {
			return nil, fmt.Errorf("failed to scan daily usage: %w", err)
		}
		days = append(days, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating daily usage: %w", err)
	}
	return days, nil
}

func (s *PostgresStore) ByProvider(ctx context.Context, tenantID string, since time.Time) ([]ProviderUsage, error) {
	query := `
		SELECT provider, COUNT(*), COALESCE(SUM(tokens_used), 0), COALESCE(SUM(cost), 0)
		FROM usage_records
		WHERE tenant_id = $1 AND created_at >= $2
		GROUP BY provider
		ORDER BY COUNT(*) DESC
	`
	rows, err := s.db.Query(ctx, query, tenantID, since)
	if err != nil {
		return nil, fmt.Errorf("failed to query provider usage: %w", err)
	}
	defer rows.Close()

	var stats []ProviderUsage
	for rows.Next() {
		var p ProviderUsage
		if err := rows.Scan(&p.Provider, &p.Requests, &p.Tokens, &p.Cost); err != nil {
			return nil, fmt.Errorf("failed to scan provider usage: %w", err)
		}
		stats = append(stats, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating provider usage: %w", err)
	}
	return stats, nil
}

package alert

import (
	"context"
	"errors"
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

const alertColumns = `id, tenant_id, type, threshold, is_active, last_triggered_at, created_at`

func scanAlert(row pgx.Row) (*Alert, error) {
	var a Alert
	if err := row.Scan(&a.ID, &a.TenantID, &a.Type, &a.Threshold, &a.IsActive, &a.LastTriggeredAt, &a.CreatedAt); err != nil {
		return nil, err
	}
	return &a, nil
}

func (s *PostgresStore) Create(ctx context.Context, a *Alert) error {
	query := `
		INSERT INTO usage_alerts (tenant_id, type, threshold, is_active)
		VALUES ($1, $2, $3, $4)
		RETURNING id, created_at
	`
	if err := s.db.QueryRow(ctx, query, a.TenantID, a.Type, a.Threshold, a.IsActive).Scan(&a.ID, &a.CreatedAt); err != nil {
		return fmt.Errorf("failed to create usage alert: %w", err)
	}
	return nil
}

func (s *PostgresStore) list(ctx context.Context, query string, args ...any) ([]*Alert, error) {
	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query usage alerts: %w", err)
	}
	defer rows.Close()

	var alerts []*Alert
	for rows.Next() {
		a, err := scanAlert(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan usage alert: %w", err)
		}
		alerts = append(alerts, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating usage alerts: %w", err)
	}
	return alerts, nil
}

func (s *PostgresStore) List(ctx context.Context, tenantID string) ([]*Alert, error) {
	return s.list(ctx, `SELECT `+alertColumns+` FROM usage_alerts WHERE tenant_id = $1 ORDER BY created_at DESC`, tenantID)
}

func (s *PostgresStore) ListActive(ctx context.Context, tenantID string) ([]*Alert, error) {
	return s.list(ctx, `SELECT `+alertColumns+` FROM usage_alerts WHERE tenant_id = $1 AND is_active = true`, tenantID)
}

func (s *PostgresStore) SetActive(ctx context.Context, tenantID, id string, active bool) (*Alert, error) {
	query := `UPDATE usage_alerts SET is_active = $3 WHERE id = $1 AND tenant_id = $2 RETURNING ` + alertColumns
	a, err := scanAlert(s.db.QueryRow(ctx, query, id, tenantID, active))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to update usage alert: %w", err)
	}
	return a, nil
}

func (s *PostgresStore) Delete(ctx context.Context, tenantID, id string) error {
	tag, err := s.db.Exec(ctx, `DELETE FROM usage_alerts WHERE id = $1 AND tenant_id = $2`, id, tenantID)
	if err != nil {
		return fmt.Errorf("failed to delete usage alert: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) MarkTriggered(ctx context.Context, id string, at, periodStart time.Time) (bool, error) {
	query := `
		UPDATE usage_alerts SET last_triggered_at = $2
		WHERE id = $1 AND is_active = true
		  AND (last_triggered_at IS NULL OR last_triggered_at < $3)
	`
	tag, err := s.db.Exec(ctx, query, id, at, periodStart)
	if err != nil {
		return false, fmt.Errorf("failed to mark usage alert triggered: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

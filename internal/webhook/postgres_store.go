package webhook

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

const webhookColumns = `id, tenant_id, url, secret, events, is_active, last_triggered_at, created_at`

func scanWebhook(row pgx.Row) (*Webhook, error) {
	var w Webhook
	err := row.Scan(&w.ID, &w.TenantID, &w.URL, &w.Secret, &w.Events, &w.IsActive, &w.LastTriggeredAt, &w.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &w, nil
}

func (s *PostgresStore) Create(ctx context.Context, w *Webhook) error {
	query := `
		INSERT INTO webhooks (tenant_id, url, secret, events, is_active)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, created_at
	`
	err := s.db.QueryRow(ctx, query, w.TenantID, w.URL, w.Secret, w.Events, w.IsActive).Scan(&w.ID, &w.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create webhook: %w", err)
	}
	return nil
}

func (s *PostgresStore) list(ctx context.Context, query string, args ...any) ([]*Webhook, error) {
	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query webhooks: %w", err)
	}
	defer rows.Close()

	var hooks []*Webhook
	for rows.Next() {
		w, err := scanWebhook(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan webhook: %w", err)
		}
		hooks = append(hooks, w)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating webhooks: %w", err)
	}
	return hooks, nil
}

func (s *PostgresStore) List(ctx context.Context, tenantID string) ([]*Webhook, error) {
	return s.list(ctx, `SELECT `+webhookColumns+` FROM webhooks WHERE tenant_id = $1 ORDER BY created_at DESC`, tenantID)
}

func (s *PostgresStore) ListActive(ctx context.Context, tenantID string) ([]*Webhook, error) {
	return s.list(ctx, `SELECT `+webhookColumns+` FROM webhooks WHERE tenant_id = $1 AND is_active = true`, tenantID)
}

func (s *PostgresStore) SetActive(ctx context.Context, tenantID, id string, active bool) (*Webhook, error) {
	query := `UPDATE webhooks SET is_active = $3 WHERE id = $1 AND tenant_id = $2 RETURNING ` + webhookColumns
	w, err := scanWebhook(s.db.QueryRow(ctx, query, id, tenantID, active))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to update webhook: %w", err)
	}
	return w, nil
}

func (s *PostgresStore) Delete(ctx context.Context, tenantID, id string) error {
	tag, err := s.db.Exec(ctx, `DELETE FROM webhooks WHERE id = $1 AND tenant_id = $2`, id, tenantID)
	if err != nil {
		return fmt.Errorf("failed to delete webhook: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) Touch(ctx context.Context, id string, at time.Time) error {
	if _, err := s.db.Exec(ctx, `UPDATE webhooks SET last_triggered_at = $2 WHERE id = $1`, id, at); err != nil {
		return fmt.Errorf("failed to touch webhook: %w", err)
	}
	return nil
}

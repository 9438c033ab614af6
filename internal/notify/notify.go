// Package notify runs the post-usage side effects (webhooks and alerts) on the
// background queue so they never hold up a response.
package notify

import (
	"context"
	"errors"

	"github.com/rs/zerolog"

	"github.com/vnmchuo/promptgrid/internal/alert"
	"github.com/vnmchuo/promptgrid/internal/usage"
	"github.com/vnmchuo/promptgrid/internal/webhook"
	"github.com/vnmchuo/promptgrid/internal/worker"
)

type Enqueuer interface {
	Enqueue(job worker.Job) error
}

type Dispatcher interface {
	Dispatch(ctx context.Context, tenantID, event string, data any) error
}

type Evaluator interface {
	Evaluate(ctx context.Context, tenantID string) ([]alert.Trigger, error)
}

type Notifier struct {
	queue    Enqueuer
	webhooks Dispatcher
	alerts   Evaluator
	log      zerolog.Logger
}

func New(queue Enqueuer, webhooks Dispatcher, alerts Evaluator, log zerolog.Logger) *Notifier {
	return &Notifier{queue: queue, webhooks: webhooks, alerts: alerts, log: log}
}

// UsageRecorded schedules the usage.created event and alert evaluation for rec.
func (n *Notifier) UsageRecorded(rec usage.Record) {
	n.enqueue(worker.Job{
		Name:     "usage.recorded",
		TenantID: rec.TenantID,
		Run: func(ctx context.Context) error {
			return n.afterUsage(ctx, rec)
		},
	})
}

// Publish schedules an arbitrary event for the tenant's webhooks.
func (n *Notifier) Publish(tenantID, event string, data any) {
	n.enqueue(worker.Job{
		Name:     event,
		TenantID: tenantID,
		Run: func(ctx context.Context) error {
			return n.webhooks.Dispatch(ctx, tenantID, event, data)
		},
	})
}

func (n *Notifier) enqueue(job worker.Job) {
	if err := n.queue.Enqueue(job); err != nil {
		n.log.Warn().Err(err).Str("job", job.Name).Str("tenant_id", job.TenantID).Msg("side effect dropped")
	}
}

func (n *Notifier) afterUsage(ctx context.Context, rec usage.Record) error {
	var errs []error
	if err := n.webhooks.Dispatch(ctx, rec.TenantID, webhook.EventUsageCreated, rec); err != nil {
		errs = append(errs, err)
	}

	triggers, err := n.alerts.Evaluate(ctx, rec.TenantID)
	if err != nil {
		errs = append(errs, err)
	}
	for _, t := range triggers {
		if err := n.webhooks.Dispatch(ctx, rec.TenantID, webhook.EventAlertTriggered, t); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

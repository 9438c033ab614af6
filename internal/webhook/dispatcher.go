package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/vnmchuo/promptgrid/internal/telemetry"
)

// Payload is the body of every delivery.
type Payload struct {
	Event     string `json:"event"`
	Data      any    `json:"data"`
	Timestamp string `json:"timestamp"`
}

type Dispatcher struct {
	store       Store
	client      *http.Client
	log         zerolog.Logger
	timeout     time.Duration
	concurrency int
	now         func() time.Time
}

type Option func(*Dispatcher)

func WithHTTPClient(c *http.Client) Option {
	return func(d *Dispatcher) { d.client = c }
}

func WithConcurrency(n int) Option {
	return func(d *Dispatcher) { d.concurrency = n }
}

func WithClock(now func() time.Time) Option {
	return func(d *Dispatcher) { d.now = now }
}

// NewDispatcher builds a dispatcher whose deliveries each time out after timeout.
func NewDispatcher(store Store, timeout time.Duration, log zerolog.Logger, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		store:       store,
		client:      &http.Client{},
		log:         log,
		timeout:     timeout,
		concurrency: 8,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Dispatch delivers event to every active webhook of the tenant subscribed to
// it. Delivery failures are logged and never returned; only a failure to load
// the webhooks is.
func (d *Dispatcher) Dispatch(ctx context.Context, tenantID, event string, data any) error {
	hooks, err := d.store.ListActive(ctx, tenantID)
	if err != nil {
		return fmt.Errorf("failed to load webhooks: %w", err)
	}

	now := d.now()
	body, err := json.Marshal(Payload{
		Event:     event,
		Data:      data,
		Timestamp: now.UTC().Format(time.RFC3339Nano),
	})
	if err != nil {
		return fmt.Errorf("failed to encode webhook payload: %w", err)
	}

	var g errgroup.Group
	g.SetLimit(d.concurrency)
	for _, h := range hooks {
		if !h.Subscribed(event) {
			continue
		}
		g.Go(func() error {
			d.deliver(ctx, h, event, body)
			if err := d.store.Touch(ctx, h.ID, now); err != nil {
				d.log.Warn().Err(err).Str("webhook_id", h.ID).Msg("failed to update webhook last triggered")
			}
			return nil
		})
	}
	return g.Wait()
}

func (d *Dispatcher) deliver(ctx context.Context, h *Webhook, event string, body []byte) {
	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.URL, bytes.NewReader(body))
	if err != nil {
		telemetry.WebhookDeliveries.WithLabelValues("error").Inc()
		d.log.Warn().Err(err).Str("webhook_id", h.ID).Msg("invalid webhook request")
		return
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(HeaderEvent, event)
	req.Header.Set(HeaderSignature, Sign(h.Secret, body))

	resp, err := d.client.Do(req)
	if err != nil {
		telemetry.WebhookDeliveries.WithLabelValues("error").Inc()
		d.log.Warn().Err(err).Str("webhook_id", h.ID).Str("event", event).Msg("webhook delivery failed")
		return
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode >= 300 {
		telemetry.WebhookDeliveries.WithLabelValues("rejected").Inc()
		d.log.Warn().Int("status", resp.StatusCode).Str("webhook_id", h.ID).Str("event", event).Msg("webhook endpoint rejected delivery")
		return
	}
	telemetry.WebhookDeliveries.WithLabelValues("delivered").Inc()
}

package subscription

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/stripe/stripe-go/v72"
	"github.com/stripe/stripe-go/v72/client"
	"github.com/stripe/stripe-go/v72/webhook"

	"github.com/vnmchuo/promptgrid/internal/plan"
)

const maxWebhookBody = int64(65536)

// SubscriptionFetcher loads a subscription from Stripe. *sub.Client satisfies it.
type SubscriptionFetcher interface {
	Get(id string, params *stripe.SubscriptionParams) (*stripe.Subscription, error)
}

// NewStripeFetcher builds an API client for secretKey.
func NewStripeFetcher(secretKey string) SubscriptionFetcher {
	sc := &client.API{}
	sc.Init(secretKey, nil)
	return sc.Subscriptions
}

// StripeHandler applies payment-processor events to subscriptions.
type StripeHandler struct {
	store   Store
	fetcher SubscriptionFetcher
	secret  string
	catalog *plan.Catalog
	log     zerolog.Logger
}

func NewStripeHandler(store Store, fetcher SubscriptionFetcher, webhookSecret string, catalog *plan.Catalog, log zerolog.Logger) *StripeHandler {
	return &StripeHandler{
		store:   store,
		fetcher: fetcher,
		secret:  webhookSecret,
		catalog: catalog,
		log:     log.With().Str("component", "stripe").Logger(),
	}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

func (h *StripeHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	payload, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBody))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "failed to read payload"})
		return
	}

	event, err := webhook.ConstructEvent(payload, r.Header.Get("Stripe-Signature"), h.secret)
	if err != nil {
		h.log.Warn().Err(err).Msg("stripe signature verification failed")
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "signature verification failed"})
		return
	}
	h.log.Info().Str("event_type", event.Type).Str("event_id", event.ID).Msg("stripe webhook received")

	switch event.Type {
	case "checkout.session.completed":
		err = h.checkoutCompleted(r, event)
	case "customer.subscription.updated":
		err = h.subscriptionChanged(r, event, false)
	case "customer.subscription.deleted":
		err = h.subscriptionChanged(r, event, true)
	}

	var bad *badEventError
	switch {
	case errors.As(err, &bad):
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": bad.msg})
		return
	case err != nil:
		h.log.Error().Err(err).Str("event_type", event.Type).Msg("failed to apply stripe event")
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to apply event"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"received": true})
}

type badEventError struct{ msg string }

func (e *badEventError) Error() string { return e.msg }

func (h *StripeHandler) checkoutCompleted(r *http.Request, event stripe.Event) error {
	var cs stripe.CheckoutSession
	if err := json.Unmarshal(event.Data.Raw, &cs); err != nil {
		return &badEventError{"invalid checkout.session data"}
	}

	tenantID := cs.ClientReferenceID
	if tenantID == "" {
		tenantID = cs.Metadata["tenantId"]
	}
	if tenantID == "" || cs.Subscription == nil || cs.Subscription.ID == "" {
		return &badEventError{"checkout session is missing tenant or subscription"}
	}

	ss, err := h.fetcher.Get(cs.Subscription.ID, nil)
	if err != nil {
		return err
	}

	sub := &Subscription{
		TenantID:             tenantID,
		StripeSubscriptionID: ss.ID,
	}
	if cs.Customer != nil {
		sub.StripeCustomerID = cs.Customer.ID
	}
	h.apply(sub, ss)
	return h.store.Upsert(r.Context(), sub)
}

func (h *StripeHandler) subscriptionChanged(r *http.Request, event stripe.Event, deleted bool) error {
	var ss stripe.Subscription
	if err := json.Unmarshal(event.Data.Raw, &ss); err != nil {
		return &badEventError{"invalid subscription data"}
	}

	sub, err := h.store.GetByStripeID(r.Context(), ss.ID)
	if errors.Is(err, ErrNotFound) {
		h.log.Warn().Str("subscription_id", ss.ID).Msg("stripe subscription not linked to a tenant, ignoring")
		return nil
	}
	if err != nil {
		return err
	}

	if deleted {
		sub.Status = Canceled
	} else {
		h.apply(sub, &ss)
	}
	return h.store.Upsert(r.Context(), sub)
}

// apply copies price, period end and status from a Stripe subscription.
func (h *StripeHandler) apply(sub *Subscription, ss *stripe.Subscription) {
	if ss.CurrentPeriodEnd > 0 {
		end := time.Unix(ss.CurrentPeriodEnd, 0).UTC()
		sub.CurrentPeriodEnd = &end
	}

	if ss.Status == stripe.SubscriptionStatusActive {
		sub.Status = Active
	} else {
		sub.Status = Inactive
	}

	if ss.Items == nil || len(ss.Items.Data) == 0 || ss.Items.Data[0].Price == nil {
		if sub.Plan == "" {
			sub.Plan = plan.Pro
		}
		return
	}
	price := ss.Items.Data[0].Price
	sub.StripePriceID = price.ID
	if name := strings.ToLower(price.Nickname); h.catalog.Has(name) {
		sub.Plan = name
	} else if sub.Plan == "" || sub.Plan == plan.Free {
		sub.Plan = plan.Pro
	}
}

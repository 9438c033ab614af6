package subscription

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v72"

	"github.com/vnmchuo/promptgrid/internal/plan"
)

const testSecret = "whsec_test"

type fakeFetcher struct {
	sub *stripe.Subscription
	err error
	ids []string
}

func (f *fakeFetcher) Get(id string, _ *stripe.SubscriptionParams) (*stripe.Subscription, error) {
	f.ids = append(f.ids, id)
	return f.sub, f.err
}

func signedRequest(t *testing.T, eventType string, object any) *http.Request {
	t.Helper()
	raw, err := json.Marshal(object)
	require.NoError(t, err)
	payload, err := json.Marshal(map[string]any{
		"id":          "evt_1",
		"object":      "event",
		"type":        eventType,
		"api_version": stripe.APIVersion,
		"data":        map[string]json.RawMessage{"object": raw},
	})
	require.NoError(t, err)

	ts := time.Now().Unix()
	mac := hmac.New(sha256.New, []byte(testSecret))
	fmt.Fprintf(mac, "%d.%s", ts, payload)
	req := httptest.NewRequest(http.MethodPost, "/api/webhooks/stripe", bytes.NewReader(payload))
	req.Header.Set("Stripe-Signature", fmt.Sprintf("t=%d,v1=%s", ts, hex.EncodeToString(mac.Sum(nil))))
	return req
}

func activeStripeSub(id, nickname string, end int64) *stripe.Subscription {
	return &stripe.Subscription{
		ID:               id,
		Status:           stripe.SubscriptionStatusActive,
		CurrentPeriodEnd: end,
		Items: &stripe.SubscriptionItemList{Data: []*stripe.SubscriptionItem{
			{Price: &stripe.Price{ID: "price_1", Nickname: nickname}},
		}},
	}
}

func TestEffectivePlan(t *testing.T) {
	assert.Equal(t, plan.Pro, (&Subscription{Plan: plan.Pro, Status: Active}).EffectivePlan())
	assert.Equal(t, plan.Free, (&Subscription{Plan: plan.Pro, Status: Inactive}).EffectivePlan())
	assert.Equal(t, plan.Free, (&Subscription{Plan: plan.Enterprise, Status: Canceled}).EffectivePlan())
}

func TestResolver(t *testing.T) {
	store := NewMemoryStore()
	r := NewResolver(store)
	ctx := context.Background()

	_, err := r.PlanFor(ctx, "nobody")
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, store.Upsert(ctx, &Subscription{TenantID: "t1", Plan: plan.Enterprise, Status: Active}))
	got, err := r.PlanFor(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, plan.Enterprise, got)
}

func TestStripe_CheckoutCompleted(t *testing.T) {
	store := NewMemoryStore()
	fetcher := &fakeFetcher{sub: activeStripeSub("sub_1", "Enterprise", 1767225600)}
	h := NewStripeHandler(store, fetcher, testSecret, plan.DefaultCatalog(), zerolog.Nop())

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, signedRequest(t, "checkout.session.completed", map[string]any{
		"id":                  "cs_1",
		"object":              "checkout.session",
		"client_reference_id": "t1",
		"customer":            "cus_1",
		"subscription":        "sub_1",
	}))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	assert.Equal(t, []string{"sub_1"}, fetcher.ids)
	sub, err := store.GetByTenant(context.Background(), "t1")
	require.NoError(t, err)
	assert.Equal(t, plan.Enterprise, sub.Plan)
	assert.Equal(t, Active, sub.Status)
	assert.Equal(t, "cus_1", sub.StripeCustomerID)
	assert.Equal(t, "price_1", sub.StripePriceID)
	require.NotNil(t, sub.CurrentPeriodEnd)
	assert.Equal(t, int64(1767225600), sub.CurrentPeriodEnd.Unix())
}

func TestStripe_CheckoutDefaultsToPro(t *testing.T) {
	store := NewMemoryStore()
	fetcher := &fakeFetcher{sub: activeStripeSub("sub_1", "Monthly", 0)}
	h := NewStripeHandler(store, fetcher, testSecret, plan.DefaultCatalog(), zerolog.Nop())

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, signedRequest(t, "checkout.session.completed", map[string]any{
		"id": "cs_1", "object": "checkout.session", "client_reference_id": "t1", "subscription": "sub_1",
	}))
	require.Equal(t, http.StatusOK, rec.Code)

	sub, err := store.GetByTenant(context.Background(), "t1")
	require.NoError(t, err)
	assert.Equal(t, plan.Pro, sub.Plan)
}

func TestStripe_UpdatedAndDeleted(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	require.NoError(t, store.Upsert(ctx, &Subscription{
		TenantID: "t1", Plan: plan.Pro, Status: Active, StripeSubscriptionID: "sub_1",
	}))
	h := NewStripeHandler(store, &fakeFetcher{}, testSecret, plan.DefaultCatalog(), zerolog.Nop())

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, signedRequest(t, "customer.subscription.updated", map[string]any{
		"id": "sub_1", "object": "subscription", "status": "past_due", "current_period_end": 1767225600,
	}))
	require.Equal(t, http.StatusOK, rec.Code)

	sub, err := store.GetByTenant(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, Inactive, sub.Status)
	assert.Equal(t, plan.Pro, sub.Plan)
	assert.Equal(t, plan.Free, sub.EffectivePlan())

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, signedRequest(t, "customer.subscription.deleted", map[string]any{
		"id": "sub_1", "object": "subscription", "status": "canceled",
	}))
	require.Equal(t, http.StatusOK, rec.Code)

	sub, err = store.GetByTenant(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, Canceled, sub.Status)
}

func TestStripe_BadSignature(t *testing.T) {
	h := NewStripeHandler(NewMemoryStore(), &fakeFetcher{}, testSecret, plan.DefaultCatalog(), zerolog.Nop())

	req := signedRequest(t, "checkout.session.completed", map[string]any{"id": "cs_1"})
	req.Header.Set("Stripe-Signature", "t=1,v1=deadbeef")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestStripe_FetchFailure(t *testing.T) {
	h := NewStripeHandler(NewMemoryStore(), &fakeFetcher{err: errors.New("stripe down")}, testSecret, plan.DefaultCatalog(), zerolog.Nop())

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, signedRequest(t, "checkout.session.completed", map[string]any{
		"id": "cs_1", "object": "checkout.session", "client_reference_id": "t1", "subscription": "sub_1",
	}))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestStripe_UnknownEventAcknowledged(t *testing.T) {
	h := NewStripeHandler(NewMemoryStore(), &fakeFetcher{}, testSecret, plan.DefaultCatalog(), zerolog.Nop())

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, signedRequest(t, "invoice.paid", map[string]any{"id": "in_1"}))
	assert.Equal(t, http.StatusOK, rec.Code)
}

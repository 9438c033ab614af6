package proxy

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/vnmchuo/promptgrid/internal/alert"
	"github.com/vnmchuo/promptgrid/internal/auth"
	"github.com/vnmchuo/promptgrid/internal/conversation"
	"github.com/vnmchuo/promptgrid/internal/cost"
	"github.com/vnmchuo/promptgrid/internal/pipeline"
	"github.com/vnmchuo/promptgrid/internal/quota"
	"github.com/vnmchuo/promptgrid/internal/usage"
	"github.com/vnmchuo/promptgrid/internal/webhook"
	"github.com/vnmchuo/promptgrid/pkg/ratelimit"
)

// ChatService is the gated AI surface the handlers drive.
type ChatService interface {
	Chat(ctx context.Context, c pipeline.Caller, req pipeline.ChatRequest) (*pipeline.ChatResult, error)
	Batch(ctx context.Context, c pipeline.Caller, reqs []pipeline.ChatRequest) (*pipeline.BatchResult, error)
	Estimate(req pipeline.EstimateRequest) (cost.RequestEstimate, error)
}

type QuotaStatus interface {
	Status(ctx context.Context, tenantID, planName string) (quota.Status, error)
}

// EventPublisher fans a tenant event out to its webhooks.
type EventPublisher interface {
	Publish(tenantID, event string, data any)
}

type HandlerDeps struct {
	Chat          ChatService
	Usage         usage.Store
	Quota         QuotaStatus
	Alerts        alert.Store
	Webhooks      webhook.Store
	Keys          auth.Store
	Conversations conversation.Store
	Events        EventPublisher
	// KeyCache is the API-key lookup cache, nil when Redis is not configured.
	KeyCache      *redis.Client
	Validate      *validator.Validate
	Log           zerolog.Logger
}

type Handler struct {
	chat          ChatService
	usage         usage.Store
	quota         QuotaStatus
	alerts        alert.Store
	webhooks      webhook.Store
	keys          auth.Store
	conversations conversation.Store
	events        EventPublisher
	keyCache      *redis.Client
	validate      *validator.Validate
	log           zerolog.Logger
	now           func() time.Time
}

func NewHandler(d HandlerDeps) *Handler {
	h := &Handler{
		chat:          d.Chat,
		usage:         d.Usage,
		quota:         d.Quota,
		alerts:        d.Alerts,
		webhooks:      d.Webhooks,
		keys:          d.Keys,
		conversations: d.Conversations,
		events:        d.Events,
		keyCache:      d.KeyCache,
		validate:      d.Validate,
		log:           d.Log,
		now:           time.Now,
	}
	if h.validate == nil {
		h.validate = validator.New()
	}
	return h
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return false
	}
	return true
}

// caller builds the pipeline entry context, or writes 401 when auth did not run.
func caller(w http.ResponseWriter, r *http.Request) (pipeline.Caller, bool) {
	ctx := r.Context()
	tenantID := auth.GetTenantID(ctx)
	if tenantID == "" {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return pipeline.Caller{}, false
	}
	return pipeline.Caller{
		TenantID: tenantID,
		Plan:     auth.GetPlan(ctx),
		APIKey:   auth.GetAPIKey(ctx),
		Origin:   auth.GetOrigin(ctx),
	}, true
}

func ceilSeconds(d time.Duration) int64 {
	return int64(math.Ceil(d.Seconds()))
}

func (h *Handler) setRateLimitHeaders(w http.ResponseWriter, res ratelimit.Result) {
	if res.Limit == 0 && res.ResetAt.IsZero() {
		return
	}
	w.Header().Set("X-RateLimit-Limit", strconv.Itoa(res.Limit))
	w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(res.Remaining))
	reset := int64(math.Ceil(float64(res.ResetAt.UnixMilli()) / 1000))
	w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(reset, 10))
}

// writeFailure maps the gateway error taxonomy to HTTP.
func (h *Handler) writeFailure(w http.ResponseWriter, r *http.Request, err error) {
	var invalid *pipeline.InvalidInputError
	var exceeded *ratelimit.ExceededError
	var provErr *ProviderError

	switch {
	case errors.As(err, &invalid):
		writeJSON(w, http.StatusBadRequest, map[string]any{
			"error":   "invalid input",
			"details": invalid.Details,
		})
	case errors.As(err, &exceeded):
		h.setRateLimitHeaders(w, exceeded.Result)
		retry := ceilSeconds(exceeded.Result.RetryAfter(h.now()))
		w.Header().Set("Retry-After", strconv.FormatInt(retry, 10))
		writeJSON(w, http.StatusTooManyRequests, map[string]any{
			"error":     exceeded.Error(),
			"window":    ratelimit.WindowName(exceeded.Window),
			"limit":     exceeded.Result.Limit,
			"remaining": exceeded.Result.Remaining,
			"resetAt":   exceeded.Result.ResetAt.UTC().Format(time.RFC3339),
		})
	case errors.Is(err, ratelimit.ErrTokenRateExceeded):
		w.Header().Set("Retry-After", "60")
		writeJSON(w, http.StatusTooManyRequests, map[string]any{
			"error":  err.Error(),
			"window": "minute",
		})
	case quota.Kind(err) != "":
		writeJSON(w, http.StatusForbidden, map[string]any{
			"error": err.Error(),
			"kind":  quota.Kind(err),
		})
	case errors.As(err, &provErr):
		writeJSON(w, http.StatusBadGateway, map[string]any{
			"error":    "provider call failed",
			"provider": provErr.Provider,
			"details":  provErr.Cause.Error(),
		})
	case errors.Is(err, usage.ErrStorageUnavailable):
		h.log.Error().Err(err).Str("tenant_id", auth.GetTenantID(r.Context())).Msg("usage storage unavailable")
		writeError(w, http.StatusInternalServerError, "storage unavailable")
	default:
		h.log.Error().Err(err).Str("path", r.URL.Path).Msg("request failed")
		writeError(w, http.StatusInternalServerError, "internal server error")
	}
}

// HandleChat serves both POST /v1/chat and POST /api/ai/chat. The origin set by
// the auth middleware decides defaults and the rate-limit key.
func (h *Handler) HandleChat(w http.ResponseWriter, r *http.Request) {
	c, ok := caller(w, r)
	if !ok {
		return
	}

	var req pipeline.ChatRequest
	if !decode(w, r, &req) {
		return
	}

	result, err := h.chat.Chat(r.Context(), c, req)
	if err != nil {
		h.writeFailure(w, r, err)
		return
	}

	h.setRateLimitHeaders(w, result.RateLimit)
	writeJSON(w, http.StatusOK, result.Response)
}

type batchBody struct {
	Requests []pipeline.ChatRequest `json:"requests"`
}

func (h *Handler) HandleBatch(w http.ResponseWriter, r *http.Request) {
	c, ok := caller(w, r)
	if !ok {
		return
	}

	var body batchBody
	if !decode(w, r, &body) {
		return
	}

	result, err := h.chat.Batch(r.Context(), c, body.Requests)
	if err != nil {
		h.writeFailure(w, r, err)
		return
	}

	h.setRateLimitHeaders(w, result.RateLimit)
	writeJSON(w, http.StatusOK, result)
}

type estimateResponse struct {
	cost.RequestEstimate
	EstimatedCostFormatted string `json:"estimatedCostFormatted"`
}

func (h *Handler) HandleEstimate(w http.ResponseWriter, r *http.Request) {
	if _, ok := caller(w, r); !ok {
		return
	}

	var req pipeline.EstimateRequest
	if !decode(w, r, &req) {
		return
	}

	est, err := h.chat.Estimate(req)
	if err != nil {
		h.writeFailure(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, estimateResponse{RequestEstimate: est, EstimatedCostFormatted: est.Formatted()})
}

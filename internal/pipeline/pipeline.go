// Package pipeline gates and meters every AI call: rate limit, quota, gateway
// call, usage record, then asynchronous alerts and webhooks.
package pipeline

import (
	"context"
	"errors"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/vnmchuo/promptgrid/internal/cost"
	"github.com/vnmchuo/promptgrid/internal/plan"
	"github.com/vnmchuo/promptgrid/internal/provider"
	"github.com/vnmchuo/promptgrid/internal/quota"
	"github.com/vnmchuo/promptgrid/internal/telemetry"
	"github.com/vnmchuo/promptgrid/internal/usage"
	"github.com/vnmchuo/promptgrid/pkg/ratelimit"
)

// Gateway is the opaque completion capability.
type Gateway interface {
	Generate(ctx context.Context, req *provider.Request) (*provider.Response, error)
}

type QuotaChecker interface {
	Check(ctx context.Context, tenantID, planName string) error
}

type Recorder interface {
	Record(ctx context.Context, rec *usage.Record) error
}

type Notifier interface {
	UsageRecorded(rec usage.Record)
}

type Deps struct {
	Limiter  *ratelimit.Limiter
	Tokens   *ratelimit.TokenLimiter // optional
	Catalog  *plan.Catalog
	Quota    QuotaChecker
	Gateway  Gateway
	Recorder Recorder
	Notifier Notifier
	Validate *validator.Validate
	Tracer   trace.Tracer
	Log      zerolog.Logger
	Now      func() time.Time
}

type Pipeline struct {
	limiter  *ratelimit.Limiter
	tokens   *ratelimit.TokenLimiter
	catalog  *plan.Catalog
	quota    QuotaChecker
	gateway  Gateway
	recorder Recorder
	notifier Notifier
	validate *validator.Validate
	tracer   trace.Tracer
	log      zerolog.Logger
	now      func() time.Time
}

func New(d Deps) *Pipeline {
	p := &Pipeline{
		limiter:  d.Limiter,
		tokens:   d.Tokens,
		catalog:  d.Catalog,
		quota:    d.Quota,
		gateway:  d.Gateway,
		recorder: d.Recorder,
		notifier: d.Notifier,
		validate: d.Validate,
		tracer:   d.Tracer,
		log:      d.Log,
		now:      d.Now,
	}
	if p.validate == nil {
		p.validate = validator.New()
	}
	if p.tracer == nil {
		p.tracer = noop.NewTracerProvider().Tracer("pipeline")
	}
	if p.now == nil {
		p.now = time.Now
	}
	if p.catalog == nil {
		p.catalog = plan.DefaultCatalog()
	}
	return p
}

type ChatResponse struct {
	Content    string  `json:"content"`
	TokensUsed int     `json:"tokensUsed"`
	Cost       float64 `json:"cost"`
	Provider   string  `json:"provider"`
	Model      string  `json:"model"`
}

// ChatResult carries the rate-limit state alongside the answer so callers can
// set limit headers.
type ChatResult struct {
	Response  ChatResponse
	RateLimit ratelimit.Result
}

// Chat runs one gated request. A failed usage write is logged and does not
// fail the call.
func (p *Pipeline) Chat(ctx context.Context, c Caller, req ChatRequest) (*ChatResult, error) {
	ctx, span := p.tracer.Start(ctx, "pipeline.chat")
	defer span.End()
	span.SetAttributes(
		attribute.String("tenant_id", c.TenantID),
		attribute.String("plan", c.Plan),
		attribute.String("origin", string(c.Origin)),
	)

	applyDefaults(c, &req)
	if err := validationError(p.validate, &req, ""); err != nil {
		return nil, err
	}
	span.SetAttributes(attribute.String("provider", req.Provider), attribute.String("model", req.Model))

	estimate := cost.EstimateRequestCost(req.Model, req.Messages, req.maxTokens())
	rl, err := p.gate(ctx, c, estimate.InputTokens+estimate.EstimatedOutputTokens)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	resp, err := p.generate(ctx, c, req)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	rec := p.record(ctx, c, c.Origin, req, resp)
	return &ChatResult{
		Response: ChatResponse{
			Content:    resp.Content,
			TokensUsed: resp.TotalTokens(),
			Cost:       rec.Cost,
			Provider:   resp.Provider,
			Model:      req.Model,
		},
		RateLimit: rl,
	}, nil
}

// Estimate prices a request without calling a provider.
func (p *Pipeline) Estimate(req EstimateRequest) (cost.RequestEstimate, error) {
	if err := validationError(p.validate, &req, ""); err != nil {
		return cost.RequestEstimate{}, err
	}
	maxTokens := 0
	if req.MaxTokens != nil {
		maxTokens = *req.MaxTokens
	}
	return cost.EstimateRequestCost(req.Model, req.Messages, maxTokens), nil
}

// gate applies the plan's minute and hour windows, then the monthly quota,
// then the optional token guard. The token budget is only spent on calls the
// quota admits.
func (p *Pipeline) gate(ctx context.Context, c Caller, estimatedTokens int) (ratelimit.Result, error) {
	pl := p.catalog.Get(c.Plan)

	ctx, span := p.tracer.Start(ctx, "pipeline.ratelimit")
	key := ratelimit.KeyFor(c.TenantID, c.APIKey)
	rl, err := p.limiter.CheckPlan(ctx, key, ratelimit.Limits{
		PerMinute: pl.RateLimits.PerMinute,
		PerHour:   pl.RateLimits.PerHour,
	})
	var exceeded *ratelimit.ExceededError
	if errors.As(err, &exceeded) {
		telemetry.RateLimitDecisions.WithLabelValues(ratelimit.WindowName(exceeded.Window), "denied").Inc()
		span.SetStatus(codes.Error, err.Error())
		span.End()
		return rl, err
	}
	telemetry.RateLimitDecisions.WithLabelValues("all", "allowed").Inc()
	span.End()

	qctx, span := p.tracer.Start(ctx, "pipeline.quota")
	if err := p.quota.Check(qctx, c.TenantID, c.Plan); err != nil {
		if kind := quota.Kind(err); kind != "" {
			telemetry.QuotaRejections.WithLabelValues(kind).Inc()
		}
		span.SetStatus(codes.Error, err.Error())
		span.End()
		return rl, err
	}
	span.End()

	if err := p.tokens.Allow(ctx, c.TenantID, estimatedTokens); err != nil {
		if errors.Is(err, ratelimit.ErrTokenRateExceeded) {
			telemetry.RateLimitDecisions.WithLabelValues("tokens", "denied").Inc()
			return rl, err
		}
		p.log.Warn().Err(err).Str("tenant_id", c.TenantID).Msg("token limiter failed, allowing request")
	}
	return rl, nil
}

func (p *Pipeline) generate(ctx context.Context, c Caller, req ChatRequest) (*provider.Response, error) {
	ctx, span := p.tracer.Start(ctx, "pipeline.gateway")
	defer span.End()

	start := time.Now()
	resp, err := p.gateway.Generate(ctx, &provider.Request{
		Provider:    req.Provider,
		Model:       req.Model,
		Messages:    req.Messages,
		MaxTokens:   req.maxTokens(),
		Temperature: req.Temperature,
		TenantID:    c.TenantID,
	})
	telemetry.ProviderLatency.WithLabelValues(req.Provider).Observe(time.Since(start).Seconds())
	if err != nil {
		telemetry.ProviderCalls.WithLabelValues(req.Provider, "error").Inc()
		span.SetStatus(codes.Error, err.Error())
		p.log.Warn().Err(err).Str("tenant_id", c.TenantID).Str("provider", req.Provider).Str("model", req.Model).Msg("provider call failed")
		return nil, err
	}
	telemetry.ProviderCalls.WithLabelValues(req.Provider, "ok").Inc()
	span.SetAttributes(
		attribute.Int("input_tokens", resp.InputTokens),
		attribute.Int("output_tokens", resp.OutputTokens),
	)
	return resp, nil
}

// record prices the call with the provider-reported token counts and appends
// it. Failures are logged only.
func (p *Pipeline) record(ctx context.Context, c Caller, origin usage.Origin, req ChatRequest, resp *provider.Response) usage.Record {
	// The provider has already been paid; a client hanging up must not cancel the write.
	ctx, span := p.tracer.Start(context.WithoutCancel(ctx), "pipeline.record")
	defer span.End()

	rec := usage.Record{
		TenantID:   c.TenantID,
		Provider:   req.Provider,
		Model:      req.Model,
		TokensUsed: int64(resp.TotalTokens()),
		Cost:       cost.EstimateCost(req.Model, resp.InputTokens, resp.OutputTokens),
		Metadata: usage.Metadata{
			Messages:    len(req.Messages),
			MaxTokens:   req.MaxTokens,
			Temperature: req.Temperature,
			Source:      origin,
			RequestID:   resp.ID,
			LatencyMs:   resp.LatencyMs,
		},
		CreatedAt: p.now(),
	}

	if err := p.recorder.Record(ctx, &rec); err != nil {
		telemetry.UsageWriteFailures.Inc()
		span.SetStatus(codes.Error, err.Error())
		p.log.Error().Err(err).Str("tenant_id", c.TenantID).Msg("usage not recorded for completed call")
		return rec
	}
	if p.notifier != nil {
		p.notifier.UsageRecorded(rec)
	}
	return rec
}

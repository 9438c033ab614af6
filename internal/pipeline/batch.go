package pipeline

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/sync/errgroup"

	"github.com/vnmchuo/promptgrid/internal/cost"
	"github.com/vnmchuo/promptgrid/internal/usage"
	"github.com/vnmchuo/promptgrid/pkg/ratelimit"
)

type BatchItem struct {
	Index      int     `json:"index"`
	Success    bool    `json:"success"`
	Content    string  `json:"content,omitempty"`
	TokensUsed int     `json:"tokensUsed,omitempty"`
	Cost       float64 `json:"cost,omitempty"`
	Provider   string  `json:"provider"`
	Model      string  `json:"model"`
	Error      string  `json:"error,omitempty"`
}

type BatchSummary struct {
	Total       int     `json:"total"`
	Successful  int     `json:"successful"`
	Failed      int     `json:"failed"`
	TotalCost   float64 `json:"totalCost"`
	TotalTokens int64   `json:"totalTokens"`
}

type BatchResult struct {
	Results   []BatchItem      `json:"results"`
	Summary   BatchSummary     `json:"summary"`
	RateLimit ratelimit.Result `json:"-"`
}

// Batch gates the whole call once, then runs every sub-request concurrently.
// A failing sub-request does not affect its siblings, and every success is
// recorded on its own.
func (p *Pipeline) Batch(ctx context.Context, c Caller, reqs []ChatRequest) (*BatchResult, error) {
	ctx, span := p.tracer.Start(ctx, "pipeline.batch")
	defer span.End()
	span.SetAttributes(attribute.String("tenant_id", c.TenantID), attribute.Int("size", len(reqs)))

	if len(reqs) == 0 || len(reqs) > MaxBatchSize {
		return nil, invalid("requests: must contain between 1 and %d items", MaxBatchSize)
	}

	estimated := 0
	for i := range reqs {
		applyDefaults(c, &reqs[i])
		if err := validationError(p.validate, &reqs[i], fmt.Sprintf("requests[%d].", i)); err != nil {
			return nil, err
		}
		e := cost.EstimateRequestCost(reqs[i].Model, reqs[i].Messages, reqs[i].maxTokens())
		estimated += e.InputTokens + e.EstimatedOutputTokens
	}

	rl, err := p.gate(ctx, c, estimated)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	results := make([]BatchItem, len(reqs))
	var g errgroup.Group
	g.SetLimit(MaxBatchSize)
	for i, req := range reqs {
		g.Go(func() error {
			results[i] = p.batchLeg(ctx, c, i, req)
			return nil
		})
	}
	_ = g.Wait()

	out := &BatchResult{Results: results, RateLimit: rl}
	out.Summary.Total = len(results)
	for _, r := range results {
		if !r.Success {
			out.Summary.Failed++
			continue
		}
		out.Summary.Successful++
		out.Summary.TotalCost += r.Cost
		out.Summary.TotalTokens += int64(r.TokensUsed)
	}
	return out, nil
}

func (p *Pipeline) batchLeg(ctx context.Context, c Caller, i int, req ChatRequest) BatchItem {
	item := BatchItem{Index: i, Provider: req.Provider, Model: req.Model}

	resp, err := p.generate(ctx, c, req)
	if err != nil {
		item.Error = err.Error()
		return item
	}

	rec := p.record(ctx, c, usage.Batch, req, resp)
	item.Success = true
	item.Content = resp.Content
	item.TokensUsed = resp.TotalTokens()
	item.Cost = rec.Cost
	return item
}

package proxy

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sony/gobreaker"

	"github.com/vnmchuo/promptgrid/internal/provider"
)

var ErrProviderUnavailable = errors.New("provider unavailable")

// ProviderError is a failed call to an upstream provider.
type ProviderError struct {
	Provider string
	Cause    error
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("provider %s: %v", e.Provider, e.Cause)
}

func (e *ProviderError) Unwrap() error { return e.Cause }

// Router is the AI gateway. It picks the adapter named by the request and
// guards every adapter with its own circuit breaker.
type Router struct {
	providers map[string]provider.Provider
	order     []string
	breakers  map[string]*gobreaker.CircuitBreaker
}

func NewRouter(providers []provider.Provider) *Router {
	r := &Router{
		providers: make(map[string]provider.Provider),
		breakers:  make(map[string]*gobreaker.CircuitBreaker),
	}
	for _, p := range providers {
		settings := gobreaker.Settings{
			Name:        p.Name(),
			MaxRequests: 3,
			Interval:    5 * time.Second,
			Timeout:     30 * time.Second,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= 3
			},
		}
		r.providers[p.Name()] = p
		r.order = append(r.order, p.Name())
		r.breakers[p.Name()] = gobreaker.NewCircuitBreaker(settings)
	}
	return r
}

// Has reports whether a provider with that name is registered.
func (r *Router) Has(name string) bool {
	_, ok := r.providers[name]
	return ok
}

// Route resolves the adapter for req. An explicit provider wins; otherwise the
// first registered provider that serves the model is used.
func (r *Router) Route(_ context.Context, req *provider.Request) (provider.Provider, error) {
	if req.Provider != "" {
		p, ok := r.providers[req.Provider]
		if !ok {
			return nil, &ProviderError{Provider: req.Provider, Cause: ErrProviderUnavailable}
		}
		if r.breakers[p.Name()].State() == gobreaker.StateOpen {
			return nil, &ProviderError{Provider: p.Name(), Cause: fmt.Errorf("%w: circuit open", ErrProviderUnavailable)}
		}
		return p, nil
	}

	for _, name := range r.order {
		if r.breakers[name].State() == gobreaker.StateOpen {
			continue
		}
		p := r.providers[name]
		if req.Model == "" {
			return p, nil
		}
		for _, m := range p.SupportedModels() {
			if m == req.Model {
				return p, nil
			}
		}
	}
	return nil, &ProviderError{Provider: "any", Cause: ErrProviderUnavailable}
}

// Execute calls p through its breaker. Every failure is a *ProviderError.
func (r *Router) Execute(ctx context.Context, req *provider.Request, p provider.Provider) (*provider.Response, error) {
	cb := r.breakers[p.Name()]
	if cb == nil {
		return nil, &ProviderError{Provider: p.Name(), Cause: ErrProviderUnavailable}
	}

	start := time.Now()
	result, err := cb.Execute(func() (interface{}, error) {
		return p.Complete(ctx, req)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			err = fmt.Errorf("%w: %w", ErrProviderUnavailable, err)
		}
		return nil, &ProviderError{Provider: p.Name(), Cause: err}
	}

	resp := result.(*provider.Response)
	if resp.Provider == "" {
		resp.Provider = p.Name()
	}
	if resp.Model == "" {
		resp.Model = req.Model
	}
	if resp.LatencyMs == 0 {
		resp.LatencyMs = time.Since(start).Milliseconds()
	}
	return resp, nil
}

// Generate routes and executes in one step.
func (r *Router) Generate(ctx context.Context, req *provider.Request) (*provider.Response, error) {
	p, err := r.Route(ctx, req)
	if err != nil {
		return nil, err
	}
	return r.Execute(ctx, req, p)
}

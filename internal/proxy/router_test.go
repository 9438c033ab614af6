package proxy

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"

	"github.com/vnmchuo/promptgrid/internal/provider"
)

type MockProvider struct {
	name            string
	supportedModels []string
	completeErr     error
	calls           atomic.Int32
	// failOn makes Complete fail when the last message equals it.
	failOn string
}

func (m *MockProvider) Complete(ctx context.Context, req *provider.Request) (*provider.Response, error) {
	m.calls.Add(1)
	if m.completeErr != nil {
		return nil, m.completeErr
	}
	if m.failOn != "" && len(req.Messages) > 0 && req.Messages[len(req.Messages)-1].Content == m.failOn {
		return nil, errors.New("upstream rejected request")
	}
	return &provider.Response{
		Content:      "mock",
		Model:        req.Model,
		InputTokens:  10,
		OutputTokens: 20,
	}, nil
}

func (m *MockProvider) Name() string              { return m.name }
func (m *MockProvider) SupportedModels() []string { return m.supportedModels }

func TestRoute_ExplicitProvider(t *testing.T) {
	p1 := &MockProvider{name: "openai", supportedModels: []string{"gpt-4"}}
	p2 := &MockProvider{name: "anthropic", supportedModels: []string{"claude-3-opus"}}

	router := NewRouter([]provider.Provider{p1, p2})

	p, err := router.Route(context.Background(), &provider.Request{Provider: "anthropic", Model: "claude-3-opus"})
	if err != nil {
		t.Fatalf("Route failed: %v", err)
	}
	if p.Name() != "anthropic" {
		t.Errorf("Expected anthropic, got %s", p.Name())
	}
}

func TestRoute_ModelSpecific(t *testing.T) {
	p1 := &MockProvider{name: "openai", supportedModels: []string{"gpt-4"}}
	p2 := &MockProvider{name: "anthropic", supportedModels: []string{"claude-3"}}

	router := NewRouter([]provider.Provider{p1, p2})

	p, err := router.Route(context.Background(), &provider.Request{Model: "claude-3"})
	if err != nil {
		t.Fatalf("Route failed: %v", err)
	}
	if p.Name() != "anthropic" {
		t.Errorf("Expected anthropic, got %s", p.Name())
	}
}

func TestRoute_UnknownProvider(t *testing.T) {
	router := NewRouter([]provider.Provider{&MockProvider{name: "openai"}})

	_, err := router.Route(context.Background(), &provider.Request{Provider: "mistral"})
	if !errors.Is(err, ErrProviderUnavailable) {
		t.Errorf("Expected ErrProviderUnavailable, got %v", err)
	}
}

func TestExecute_WrapsProviderError(t *testing.T) {
	cause := errors.New("boom")
	p1 := &MockProvider{name: "openai", completeErr: cause}
	router := NewRouter([]provider.Provider{p1})

	_, err := router.Execute(context.Background(), &provider.Request{}, p1)

	var perr *ProviderError
	if !errors.As(err, &perr) {
		t.Fatalf("Expected *ProviderError, got %T", err)
	}
	if perr.Provider != "openai" || !errors.Is(err, cause) {
		t.Errorf("Unexpected error: %v", err)
	}
}

func TestGenerate_FillsResponse(t *testing.T) {
	router := NewRouter([]provider.Provider{&MockProvider{name: "openai"}})

	resp, err := router.Generate(context.Background(), &provider.Request{Provider: "openai", Model: "gpt-4"})
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}
	if resp.Provider != "openai" || resp.Model != "gpt-4" {
		t.Errorf("Unexpected response: %+v", resp)
	}
	if resp.TotalTokens() != 30 {
		t.Errorf("Expected 30 tokens, got %d", resp.TotalTokens())
	}
}

func TestRoute_CircuitBreakerOpen(t *testing.T) {
	bad := &MockProvider{name: "bad-provider", completeErr: errors.New("fail")}
	good := &MockProvider{name: "good-provider"}

	router := NewRouter([]provider.Provider{bad, good})

	// Trip bad
	for i := 0; i < 3; i++ {
		router.Execute(context.Background(), &provider.Request{}, bad)
	}

	p, err := router.Route(context.Background(), &provider.Request{})
	if err != nil {
		t.Fatalf("Route failed: %v", err)
	}
	if p.Name() != "good-provider" {
		t.Errorf("Expected good-provider because bad-provider should be tripped, got %s", p.Name())
	}

	_, err = router.Route(context.Background(), &provider.Request{Provider: "bad-provider"})
	if !errors.Is(err, ErrProviderUnavailable) {
		t.Errorf("Expected ErrProviderUnavailable for tripped provider, got %v", err)
	}

	calls := bad.calls.Load()
	_, err = router.Execute(context.Background(), &provider.Request{}, bad)
	if !errors.Is(err, ErrProviderUnavailable) {
		t.Errorf("Expected open breaker to short-circuit, got %v", err)
	}
	if bad.calls.Load() != calls {
		t.Errorf("Open breaker must not call the provider")
	}
}

func TestRoute_AllProvidersDown(t *testing.T) {
	p1 := &MockProvider{name: "p1", completeErr: errors.New("fail")}

	router := NewRouter([]provider.Provider{p1})

	for i := 0; i < 3; i++ {
		router.Execute(context.Background(), &provider.Request{}, p1)
	}

	_, err := router.Route(context.Background(), &provider.Request{})
	if !errors.Is(err, ErrProviderUnavailable) {
		t.Errorf("Expected ErrProviderUnavailable, got %v", err)
	}
}

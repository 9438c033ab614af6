package provider

import (
	"context"
	"fmt"
	"net/http"
	"time"
)

// Provider names accepted on the wire.
const (
	OpenAI    = "openai"
	Anthropic = "anthropic"
	Gemini    = "gemini"
)

type Request struct {
	Provider    string
	Model       string
	Messages    []Message
	MaxTokens   int // 0 means provider default
	Temperature *float64
	// Metadata for tracing
	TenantID  string
	RequestID string
}

type Message struct {
	Role    string `json:"role" validate:"required,oneof=system user assistant"`
	Content string `json:"content" validate:"required"`
}

type Response struct {
	ID           string
	Content      string
	InputTokens  int
	OutputTokens int
	Model        string
	Provider     string
	LatencyMs    int64
}

// TotalTokens is the billable token count reported by the provider.
func (r *Response) TotalTokens() int {
	return r.InputTokens + r.OutputTokens
}

// Provider is the opaque completion capability behind the gateway.
type Provider interface {
	Complete(ctx context.Context, req *Request) (*Response, error)
	Name() string
	SupportedModels() []string
}

// APIError is a non-2xx answer from an upstream provider.
type APIError struct {
	Provider   string
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s api error (status %d): %s", e.Provider, e.StatusCode, e.Body)
}

// DefaultHTTPClient is shared by adapters that were not given their own client.
var DefaultHTTPClient = &http.Client{Timeout: 60 * time.Second}

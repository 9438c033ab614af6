package pipeline

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/vnmchuo/promptgrid/internal/provider"
	"github.com/vnmchuo/promptgrid/internal/usage"
)

// Defaults applied to API-key calls that leave provider or model out.
const (
	DefaultProvider = provider.OpenAI
	DefaultModel    = "gpt-3.5-turbo"
)

// MaxBatchSize bounds the sub-requests of one batch call.
const MaxBatchSize = 10

// Caller is the entry context established by authentication.
type Caller struct {
	TenantID string
	Plan     string
	// APIKey is the raw bearer token for API-key calls, empty for sessions.
	APIKey string
	Origin usage.Origin
}

type ChatRequest struct {
	Provider    string             `json:"provider" validate:"required,oneof=openai anthropic gemini"`
	Model       string             `json:"model" validate:"required,max=100"`
	Messages    []provider.Message `json:"messages" validate:"required,min=1,dive"`
	MaxTokens   *int               `json:"maxTokens" validate:"omitempty,min=1,max=32000"`
	Temperature *float64           `json:"temperature" validate:"omitempty,min=0,max=2"`
}

func (r *ChatRequest) maxTokens() int {
	if r.MaxTokens == nil {
		return 0
	}
	return *r.MaxTokens
}

type EstimateRequest struct {
	Model     string             `json:"model" validate:"required,max=100"`
	Messages  []provider.Message `json:"messages" validate:"required,min=1,dive"`
	MaxTokens *int               `json:"maxTokens" validate:"omitempty,min=1,max=32000"`
}

// InvalidInputError lists every field that failed validation.
type InvalidInputError struct {
	Details []string
}

func (e *InvalidInputError) Error() string {
	return "invalid input: " + strings.Join(e.Details, "; ")
}

func invalid(format string, args ...any) error {
	return &InvalidInputError{Details: []string{fmt.Sprintf(format, args...)}}
}

func applyDefaults(c Caller, req *ChatRequest) {
	if c.Origin != usage.API {
		return
	}
	if req.Provider == "" {
		req.Provider = DefaultProvider
	}
	if req.Model == "" {
		req.Model = DefaultModel
	}
}

func validationError(v *validator.Validate, s any, prefix string) error {
	err := v.Struct(s)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return &InvalidInputError{Details: []string{prefix + err.Error()}}
	}
	details := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		field := fe.Namespace()
		if i := strings.IndexByte(field, '.'); i >= 0 {
			field = field[i+1:]
		}
		detail := fmt.Sprintf("%s%s: failed %s", prefix, field, fe.Tag())
		if fe.Param() != "" {
			detail += "=" + fe.Param()
		}
		details = append(details, detail)
	}
	return &InvalidInputError{Details: details}
}

// Package cost prices model calls and estimates token counts before a call is made.
package cost

import (
	"fmt"
	"math"
	"strings"
	"unicode/utf16"

	"github.com/vnmchuo/promptgrid/internal/provider"
)

// Price is the USD cost of a single token.
type Price struct {
	Input  float64
	Output float64
}

// MaxEstimatedOutputTokens caps the output estimate for open-ended requests.
const MaxEstimatedOutputTokens = 1000

const charsPerToken = 4

var prices = map[string]Price{
	"gpt-4":         {Input: 0.03 / 1000, Output: 0.06 / 1000},
	"gpt-4-turbo":   {Input: 0.01 / 1000, Output: 0.03 / 1000},
	"gpt-3.5-turbo": {Input: 0.0015 / 1000, Output: 0.002 / 1000},
	"gpt-4o":        {Input: 0.0025 / 1000, Output: 0.01 / 1000},
	"gpt-4o-mini":   {Input: 0.00000015, Output: 0.00000060},

	"claude-3-opus":              {Input: 0.015 / 1000, Output: 0.075 / 1000},
	"claude-3-sonnet":            {Input: 0.003 / 1000, Output: 0.015 / 1000},
	"claude-3-haiku":             {Input: 0.00025 / 1000, Output: 0.00125 / 1000},
	"claude-3-5-sonnet-20241022": {Input: 0.003 / 1000, Output: 0.015 / 1000},
	"claude-3-5-haiku-20241022":  {Input: 0.0000008, Output: 0.000004},

	"gemini-1.5-pro":   {Input: 0.00000125, Output: 0.000005},
	"gemini-1.5-flash": {Input: 0.000000075, Output: 0.0000003},
	"gemini-2.0-flash": {Input: 0.000000125, Output: 0.000000375},
}

// PriceOf returns the per-token price of a model; unknown models are free.
func PriceOf(model string) Price {
	return prices[model]
}

// EstimateCost never fails: unknown models cost 0 so pricing cannot block a request.
func EstimateCost(model string, inputTokens, outputTokens int) float64 {
	p := PriceOf(model)
	return float64(inputTokens)*p.Input + float64(outputTokens)*p.Output
}

// EstimateTokens is a rough upper bound of about four characters per token.
// Characters are counted in UTF-16 code units, so astral runes count twice.
func EstimateTokens(text string) int {
	n := len(utf16.Encode([]rune(text)))
	return int(math.Ceil(float64(n) / charsPerToken))
}

type RequestEstimate struct {
	InputTokens           int     `json:"inputTokens"`
	EstimatedOutputTokens int     `json:"estimatedOutputTokens"`
	EstimatedCost         float64 `json:"estimatedCost"`
}

// Formatted renders the estimate in dollars with six decimals.
func (e RequestEstimate) Formatted() string {
	return fmt.Sprintf("$%.6f", e.EstimatedCost)
}

// EstimateRequestCost estimates a call before it is made. A maxTokens of zero
// or less means the caller did not ask for a limit.
func EstimateRequestCost(model string, messages []provider.Message, maxTokens int) RequestEstimate {
	contents := make([]string, len(messages))
	for i, m := range messages {
		contents[i] = m.Content
	}
	input := EstimateTokens(strings.Join(contents, " "))

	output := maxTokens
	if output <= 0 {
		output = min(input, MaxEstimatedOutputTokens)
	}

	return RequestEstimate{
		InputTokens:           input,
		EstimatedOutputTokens: output,
		EstimatedCost:         EstimateCost(model, input, output),
	}
}

package llm

import (
	"context"
	"errors"
	"fmt"
)

// LLM is the interface for language model backends.
type LLM interface {
	// Generate sends a request and returns the complete response.
	Generate(ctx context.Context, req Request) (*Response, error)
}

// Request is a provider-independent generation request.
type Request struct {
	// Model overrides the backend's default model (optional)
	Model string

	// System is the system prompt (optional)
	System string

	// Messages is the conversation so far
	Messages []Message

	// Temperature for generation (0.0-1.0, optional)
	Temperature *float64

	// TopP nucleus sampling parameter (optional)
	TopP *float64

	// MaxTokens limits response length (0 uses the backend default)
	MaxTokens int

	// Stop sequences terminate generation early (optional)
	Stop []string
}

// Message represents a conversation message.
type Message struct {
	Role    Role
	Content string
}

// Role identifies the message sender.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// Response is the result of an LLM call.
type Response struct {
	// Content is the text response
	Content string

	// Model is the model that produced the response
	Model string

	// Token counts
	InputTokens  int
	OutputTokens int

	// Cost in USD
	CostUSD float64

	// Latency in milliseconds
	LatencyMs int64

	// StopReason indicates why generation stopped
	StopReason StopReason
}

// StopReason indicates why the model stopped generating.
type StopReason string

const (
	StopReasonEnd      StopReason = "end_turn"
	StopReasonLength   StopReason = "max_tokens"
	StopReasonStop     StopReason = "stop_sequence"
	StopReasonFiltered StopReason = "content_filter"
)

// APIError is an error returned by a provider API.
type APIError struct {
	// Provider that produced the error ("anthropic", "openai")
	Provider string

	// Status is the HTTP status code, 0 for transport errors
	Status int

	// Type is the provider's error type string, if any
	Type string

	// Message is the provider's error message
	Message string
}

func (e *APIError) Error() string {
	if e.Status == 0 {
		return fmt.Sprintf("%s: %s", e.Provider, e.Message)
	}
	return fmt.Sprintf("%s: status %d: %s", e.Provider, e.Status, e.Message)
}

// Retryable reports whether the error is transient: rate limits,
// overload, server errors, and transport failures qualify; client
// errors do not.
func (e *APIError) Retryable() bool {
	switch {
	case e.Status == 0:
		return true
	case e.Status == 408 || e.Status == 429:
		return true
	case e.Status >= 500:
		return true
	default:
		return false
	}
}

// IsRetryable reports whether err is a transient failure worth retrying.
// Context cancellation is never retryable.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Retryable()
	}
	return false
}

// Model pricing for cost calculation (USD per 1M tokens)
var modelPricing = map[string]struct {
	InputPer1M  float64
	OutputPer1M float64
}{
	"claude-sonnet-4-20250514":   {3.00, 15.00},
	"claude-opus-4-20250514":     {15.00, 75.00},
	"claude-3-5-sonnet-20241022": {3.00, 15.00},
	"claude-3-haiku-20240307":    {0.25, 1.25},
	"gpt-4o":                     {2.50, 10.00},
	"gpt-4o-mini":                {0.15, 0.60},
}

// CalculateCost calculates the cost of a request in USD.
// Unknown models are priced at the claude-sonnet-4 rate.
func CalculateCost(model string, inputTokens, outputTokens int) float64 {
	pricing, ok := modelPricing[model]
	if !ok {
		pricing = modelPricing["claude-sonnet-4-20250514"]
	}

	inputCost := float64(inputTokens) / 1_000_000 * pricing.InputPer1M
	outputCost := float64(outputTokens) / 1_000_000 * pricing.OutputPer1M
	return inputCost + outputCost
}

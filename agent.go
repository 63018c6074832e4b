package tdev

import (
	"time"

	"github.com/tdevlabs/tdev/llm"
)

// Agent defines a pipeline agent. It's a blueprint, not a running
// process: stages execute agents inside a Run.
type Agent struct {
	// Name is a human-readable identifier for this agent
	Name string

	// Model is the LLM model ID (e.g., "claude-sonnet-4-20250514")
	Model string

	// System is the system prompt (static or dynamic)
	System SystemPrompt

	// Params are the generation parameters; zero value means the
	// run's parameters apply
	Params *GenerationParams

	// Retry configures retry behavior for transient failures (optional)
	Retry *RetryPolicy

	// LLM is the backend to use (optional, uses the orchestrator
	// default if not set)
	LLM llm.LLM
}

// Default configuration values
const (
	// DefaultStageTimeout bounds a single stage execution
	DefaultStageTimeout = 10 * time.Minute

	// DefaultMaxTokens limits response length when unset
	DefaultMaxTokens = 4096

	// DefaultMaxRuns is the orchestrator's default run capacity
	DefaultMaxRuns = 100
)

// SystemPrompt provides the system prompt for an agent.
// It can be static (StaticPrompt) or dynamic (DynamicPrompt).
type SystemPrompt interface {
	Prompt() string
}

// StaticPrompt is a fixed system prompt string.
type StaticPrompt string

// Prompt returns the static prompt string.
func (s StaticPrompt) Prompt() string {
	return string(s)
}

// DynamicPrompt is a function that generates a system prompt.
// It's called each time the agent executes, allowing the prompt to
// include current state.
type DynamicPrompt func() string

// Prompt calls the function to generate the prompt.
func (d DynamicPrompt) Prompt() string {
	return d()
}

// GenerationParams are the tunable parameters the evolution subsystem
// optimizes. They apply to every LLM call a run makes unless an agent
// overrides them.
type GenerationParams struct {
	// Temperature for generation (0.0-1.0)
	Temperature float64 `json:"temperature"`

	// TopP nucleus sampling parameter (0.0-1.0)
	TopP float64 `json:"top_p"`

	// MaxTokens limits response length per call
	MaxTokens int `json:"max_tokens"`

	// PlanDepth bounds how many components the plan stage may emit
	PlanDepth int `json:"plan_depth"`

	// Parallelism bounds concurrent component generation
	Parallelism int `json:"parallelism"`
}

// DefaultGenerationParams returns the baseline parameter set.
func DefaultGenerationParams() GenerationParams {
	return GenerationParams{
		Temperature: 0.7,
		TopP:        0.95,
		MaxTokens:   DefaultMaxTokens,
		PlanDepth:   8,
		Parallelism: 4,
	}
}

// RetryPolicy configures retry behavior for transient failures.
type RetryPolicy struct {
	// MaxAttempts is the total number of attempts (first try included)
	MaxAttempts int

	// Backoff configures delay between retries
	Backoff BackoffConfig

	// RetryOn specifies which error classes to retry; empty means
	// all transient classes
	RetryOn []ErrorClass
}

// DefaultRetryPolicy is applied to stages without an explicit policy.
func DefaultRetryPolicy() *RetryPolicy {
	return &RetryPolicy{
		MaxAttempts: 3,
		Backoff: BackoffConfig{
			Initial:    500 * time.Millisecond,
			Multiplier: 2.0,
			Max:        30 * time.Second,
			Jitter:     0.2,
			Type:       BackoffExponential,
		},
	}
}

// BackoffConfig configures retry delays.
type BackoffConfig struct {
	// Initial delay before first retry
	Initial time.Duration

	// Multiplier for exponential backoff
	Multiplier float64

	// Max delay between retries
	Max time.Duration

	// Jitter adds randomness (0.0-1.0)
	Jitter float64

	// Type of backoff (linear, exponential, constant)
	Type BackoffType
}

// BackoffType specifies the backoff algorithm.
type BackoffType int

const (
	BackoffExponential BackoffType = iota
	BackoffLinear
	BackoffConstant
)

package tdev

import (
	"context"
	"errors"
	"fmt"

	"github.com/tdevlabs/tdev/llm"
)

// Sentinel errors returned by the orchestrator and runs.
var (
	// ErrRunNotFound is returned when a run ID is unknown.
	ErrRunNotFound = errors.New("run not found")

	// ErrMaxRunsReached is returned when the orchestrator is at capacity.
	ErrMaxRunsReached = errors.New("maximum concurrent runs reached")

	// ErrRunNotActive is returned for operations on a finished run.
	ErrRunNotActive = errors.New("run is not active")

	// ErrNotCompleted is returned when a result is requested before completion.
	ErrNotCompleted = errors.New("run has not completed")

	// ErrNoBackend is returned when neither the agent nor the
	// orchestrator has an LLM backend configured.
	ErrNoBackend = errors.New("no LLM backend configured")

	// ErrEmptyPipeline is returned when a pipeline has no stages.
	ErrEmptyPipeline = errors.New("pipeline has no stages")
)

// ErrorClass categorizes errors for retry decisions.
type ErrorClass int

const (
	ErrClassRateLimit ErrorClass = iota
	ErrClassOverloaded
	ErrClassTimeout
	ErrClassTemporary
	ErrClassInvalidRequest
	ErrClassAuthentication
	ErrClassCanceled
)

// String returns the class name for logging.
func (c ErrorClass) String() string {
	switch c {
	case ErrClassRateLimit:
		return "rate_limit"
	case ErrClassOverloaded:
		return "overloaded"
	case ErrClassTimeout:
		return "timeout"
	case ErrClassTemporary:
		return "temporary"
	case ErrClassInvalidRequest:
		return "invalid_request"
	case ErrClassAuthentication:
		return "authentication"
	case ErrClassCanceled:
		return "canceled"
	default:
		return "unknown"
	}
}

// ClassifyError maps an error to its class.
func ClassifyError(err error) ErrorClass {
	if errors.Is(err, context.Canceled) {
		return ErrClassCanceled
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return ErrClassTimeout
	}

	var apiErr *llm.APIError
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.Status == 429:
			return ErrClassRateLimit
		case apiErr.Status == 529 || apiErr.Type == "overloaded_error":
			return ErrClassOverloaded
		case apiErr.Status == 408 || apiErr.Status == 504:
			return ErrClassTimeout
		case apiErr.Status == 401 || apiErr.Status == 403:
			return ErrClassAuthentication
		case apiErr.Status == 0 || apiErr.Status >= 500:
			return ErrClassTemporary
		default:
			return ErrClassInvalidRequest
		}
	}

	return ErrClassTemporary
}

// retryableClasses are retried by default when no RetryOn list is set.
var retryableClasses = map[ErrorClass]bool{
	ErrClassRateLimit:  true,
	ErrClassOverloaded: true,
	ErrClassTimeout:    true,
	ErrClassTemporary:  true,
}

// ShouldRetry reports whether another attempt is allowed for err under
// the given policy after the given zero-based attempt.
func ShouldRetry(err error, policy *RetryPolicy, attempt int) bool {
	if policy == nil {
		return false
	}
	if attempt >= policy.MaxAttempts-1 {
		return false
	}

	class := ClassifyError(err)
	if class == ErrClassCanceled {
		return false
	}

	if len(policy.RetryOn) == 0 {
		return retryableClasses[class]
	}
	for _, c := range policy.RetryOn {
		if c == class {
			return true
		}
	}
	return false
}

// StageError wraps a failure of a pipeline stage.
type StageError struct {
	RunID    string
	Stage    string
	Attempts int
	Err      error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("run %s: stage %s failed after %d attempt(s): %v",
		e.RunID, e.Stage, e.Attempts, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}

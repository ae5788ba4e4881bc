package agentcore

import (
	"errors"
	"fmt"
	"time"
)

// Sentinel errors, grouped by the taxonomy the HTTP layer maps onto status
// codes. Components return these wrapped with context; they never return
// HTTP codes themselves.
var (
	// User errors: the request itself is unacceptable.
	ErrEmptyInput      = errors.New("input is empty")
	ErrInputTooLong    = errors.New("input exceeds maximum length")
	ErrPromptInjection = errors.New("input contains disallowed patterns")
	ErrInvalidInput    = errors.New("invalid input")

	// Quota errors.
	ErrRateLimited = errors.New("rate limit exceeded")

	// Busy errors: the system is temporarily unable to take the request.
	ErrLockHeld    = errors.New("lock already held by another process")
	ErrLockTimeout = errors.New("failed to acquire lock within timeout")
	ErrCircuitOpen = errors.New("circuit breaker is open")

	// Dependency errors.
	ErrEmbeddingFailure   = errors.New("embedding generation failed")
	ErrVectorStoreFailure = errors.New("vector store operation failed")
	ErrLLMFailure         = errors.New("llm invocation failed")
	ErrStoreFailure       = errors.New("state store operation failed")

	// Data errors.
	ErrNotFound = errors.New("object not found")

	// Configuration errors.
	ErrInvalidConfig = errors.New("invalid configuration")
)

// ErrorWithContext adds additional context to errors for better debugging and logging
type ErrorWithContext struct {
	Err     error
	Context map[string]interface{}
}

func (e *ErrorWithContext) Error() string {
	if len(e.Context) == 0 {
		return e.Err.Error()
	}
	return fmt.Sprintf("%v (context: %+v)", e.Err, e.Context)
}

func (e *ErrorWithContext) Unwrap() error {
	return e.Err
}

// WithContext adds context to an error
func WithContext(err error, context map[string]interface{}) error {
	if err == nil {
		return nil
	}
	return &ErrorWithContext{
		Err:     err,
		Context: context,
	}
}

// WithRetryAfter attaches a retry-after hint to an error. The hint survives
// further wrapping and is extracted with RetryAfter.
func WithRetryAfter(err error, retryAfter time.Duration) error {
	if err == nil {
		return nil
	}
	return &retryAfterError{err: err, after: retryAfter}
}

type retryAfterError struct {
	err   error
	after time.Duration
}

func (e *retryAfterError) Error() string {
	return fmt.Sprintf("%v (retry after %s)", e.err, e.after)
}

func (e *retryAfterError) Unwrap() error {
	return e.err
}

// RetryAfter returns the retry-after hint attached to err, if any.
func RetryAfter(err error) (time.Duration, bool) {
	var ra *retryAfterError
	if errors.As(err, &ra) {
		return ra.after, true
	}
	return 0, false
}

// Taxonomy helpers used by the HTTP layer and the turn pipeline.

// IsUserError checks if the error is caused by unacceptable input.
func IsUserError(err error) bool {
	return errors.Is(err, ErrEmptyInput) ||
		errors.Is(err, ErrInputTooLong) ||
		errors.Is(err, ErrPromptInjection) ||
		errors.Is(err, ErrInvalidInput)
}

// IsQuotaError checks if the caller exhausted a request budget.
func IsQuotaError(err error) bool {
	return errors.Is(err, ErrRateLimited)
}

// IsBusyError checks if the system is temporarily busy; callers may retry
// after the attached retry-after hint.
func IsBusyError(err error) bool {
	return errors.Is(err, ErrLockHeld) ||
		errors.Is(err, ErrLockTimeout) ||
		errors.Is(err, ErrCircuitOpen)
}

// IsDependencyError checks if a downstream service failed.
func IsDependencyError(err error) bool {
	return errors.Is(err, ErrEmbeddingFailure) ||
		errors.Is(err, ErrVectorStoreFailure) ||
		errors.Is(err, ErrLLMFailure) ||
		errors.Is(err, ErrStoreFailure)
}

// IsNotFound checks if an error is a "not found" error
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsRetryable checks if an error is safe to retry
func IsRetryable(err error) bool {
	return IsBusyError(err) || IsDependencyError(err)
}

// ErrorCode maps an error onto its stable, user-visible code. The human
// message paired with the code never leaks internals.
func ErrorCode(err error) string {
	switch {
	case errors.Is(err, ErrEmptyInput):
		return "EMPTY_INPUT"
	case errors.Is(err, ErrInputTooLong):
		return "INPUT_TOO_LONG"
	case errors.Is(err, ErrPromptInjection):
		return "PROMPT_INJECTION_DETECTED"
	case errors.Is(err, ErrInvalidInput):
		return "VALIDATION_ERROR"
	case errors.Is(err, ErrRateLimited):
		return "RATE_LIMIT_EXCEEDED"
	case IsBusyError(err), IsDependencyError(err):
		return "SERVICE_UNAVAILABLE"
	default:
		return "INTERNAL_ERROR"
	}
}

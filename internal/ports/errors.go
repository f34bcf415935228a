package ports

import (
	"errors"
	"fmt"
	"time"
)

// Common infrastructure errors that can occur during external collaborator
// interactions.
var (
	// ErrServiceUnavailable indicates that an external collaborator is
	// unreachable.
	ErrServiceUnavailable = errors.New("service unavailable")

	// ErrTimeout indicates that a collaborator call exceeded its budget.
	ErrTimeout = errors.New("operation timed out")

	// ErrRateLimited indicates that the collaborator rate limited the call.
	ErrRateLimited = errors.New("rate limited")

	// ErrInvalidResponse indicates that the collaborator returned a
	// response the adapter could not interpret.
	ErrInvalidResponse = errors.New("invalid response")

	// ErrAuthenticationFailed indicates that authentication with the
	// collaborator failed.
	ErrAuthenticationFailed = errors.New("authentication failed")
)

// CollaboratorError represents an error from an external collaborator call.
// It names the collaborator and operation so evaluator results can report
// exactly which dependency failed, and whether retrying makes sense.
type CollaboratorError struct {
	// Collaborator identifies the external system ("graph-store",
	// "reasoning-provider", "answer-provider").
	Collaborator string

	// Operation is the name of the operation that failed.
	Operation string

	// Err is the underlying error that occurred.
	Err error

	// RetryAfter indicates how long to wait before retrying, if the
	// collaborator supplied one.
	RetryAfter *time.Duration
}

// Error implements the error interface for CollaboratorError.
func (e *CollaboratorError) Error() string {
	msg := fmt.Sprintf("collaborator error: collaborator=%s, operation=%s, err=%v",
		e.Collaborator, e.Operation, e.Err)
	if e.RetryAfter != nil {
		msg += fmt.Sprintf(", retry_after=%v", *e.RetryAfter)
	}
	return msg
}

// Unwrap returns the underlying error.
func (e *CollaboratorError) Unwrap() error { return e.Err }

// IsRetryable returns true if the error is temporary and the operation
// can be retried by the orchestrating caller. The validator itself never
// retries internally.
func (e *CollaboratorError) IsRetryable() bool {
	// Only network/service-level errors are retryable; logic errors are not.
	return errors.Is(e.Err, ErrRateLimited) ||
		errors.Is(e.Err, ErrServiceUnavailable) ||
		errors.Is(e.Err, ErrTimeout)
}

// NewCollaboratorError creates a new CollaboratorError with the given details.
func NewCollaboratorError(collaborator, operation string, err error) *CollaboratorError {
	return &CollaboratorError{
		Collaborator: collaborator,
		Operation:    operation,
		Err:          err,
	}
}

// IsRetryable reports whether err represents a temporary collaborator
// failure. It unwraps CollaboratorError and also recognizes the bare
// sentinel errors.
func IsRetryable(err error) bool {
	var ce *CollaboratorError
	if errors.As(err, &ce) {
		return ce.IsRetryable()
	}
	return errors.Is(err, ErrRateLimited) ||
		errors.Is(err, ErrServiceUnavailable) ||
		errors.Is(err, ErrTimeout)
}

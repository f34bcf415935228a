package domain

import (
	"errors"
	"fmt"
)

// Common domain errors surfaced by the scenario store and evaluators.
var (
	// ErrScenarioNotFound indicates that no scenario matches the requested id.
	ErrScenarioNotFound = errors.New("scenario not found")

	// ErrMalformedScenario indicates a scenario document that failed to
	// parse, including any assertion missing a required field. The whole
	// scenario load fails; malformed fixtures never partially load.
	ErrMalformedScenario = errors.New("malformed scenario")

	// ErrInvalidScenario indicates a well-formed scenario whose declared
	// inputs are insufficient for a requested evaluation, such as a
	// missing expected structure for a validated layer.
	ErrInvalidScenario = errors.New("invalid scenario")

	// ErrInvalidAssertion indicates an assertion with an unknown kind or
	// comparison operator. It is always surfaced as a failed outcome with
	// forced error severity, never silently dropped.
	ErrInvalidAssertion = errors.New("invalid assertion")

	// ErrUnresolvedEvidence indicates an answer cited evidence that does
	// not resolve to a declared source.
	ErrUnresolvedEvidence = errors.New("unresolved evidence reference")

	// ErrImpactSimulationFailed indicates the what-if state machine
	// reached its terminal failed state.
	ErrImpactSimulationFailed = errors.New("impact simulation failed")
)

// ScenarioError wraps a store-level failure with the scenario id and the
// operation that failed. Store-level failures abort that scenario's entire
// evaluation; other scenarios continue.
type ScenarioError struct {
	// ScenarioID is the id the operation was addressed to.
	ScenarioID string

	// Operation describes the failed operation.
	Operation string

	// Err is the underlying error.
	Err error
}

// Error implements the error interface for ScenarioError.
func (e *ScenarioError) Error() string {
	return fmt.Sprintf("scenario error: operation=%s, id=%s, err=%v", e.Operation, e.ScenarioID, e.Err)
}

// Unwrap returns the underlying error.
func (e *ScenarioError) Unwrap() error { return e.Err }

// NewScenarioError creates a new ScenarioError with the given details.
func NewScenarioError(id, operation string, err error) *ScenarioError {
	return &ScenarioError{
		ScenarioID: id,
		Operation:  operation,
		Err:        err,
	}
}

// ValidationError collects field-level problems found while parsing or
// validating a scenario document.
type ValidationError struct {
	// Entity is the name of the entity that failed validation.
	Entity string

	// Errors contains the list of validation error messages.
	Errors []string
}

// Error implements the error interface for ValidationError.
func (e *ValidationError) Error() string {
	if len(e.Errors) == 1 {
		return fmt.Sprintf("validation error for %s: %s", e.Entity, e.Errors[0])
	}
	return fmt.Sprintf("validation errors for %s: %v", e.Entity, e.Errors)
}

// AddError adds a new error message to the validation error.
func (e *ValidationError) AddError(msg string) { e.Errors = append(e.Errors, msg) }

// HasErrors returns true if there are any validation errors.
func (e *ValidationError) HasErrors() bool { return len(e.Errors) > 0 }

// NewValidationError creates a new ValidationError for the given entity.
func NewValidationError(entity string) *ValidationError {
	return &ValidationError{
		Entity: entity,
		Errors: make([]string, 0),
	}
}

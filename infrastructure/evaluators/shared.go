// Package evaluators provides the clinical validation evaluators: graph
// fidelity checking, reasoning evaluation, answer validation, what-if
// impact simulation, and generic assertion evaluation.
package evaluators

import (
	"errors"

	"github.com/go-playground/validator/v10"
)

// Common errors returned by evaluator constructors.
var (
	// ErrEmptyEvaluatorName is returned when creating an evaluator with an
	// empty name.
	ErrEmptyEvaluatorName = errors.New("evaluator name cannot be empty")

	// ErrNilCollaborator is returned when a required collaborator
	// dependency is nil.
	ErrNilCollaborator = errors.New("collaborator dependency cannot be nil")
)

// Package-level validator instance for configuration validation.
// Uses go-playground/validator v10 for struct tag-based validation.
var validate = validator.New()

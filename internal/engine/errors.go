package engine

import (
	"errors"
	"fmt"
)

// FailureKind classifies why a turn did not complete.
type FailureKind string

const (
	// FailureLowConfidence: intent fusion stayed below the floor.
	FailureLowConfidence FailureKind = "low_confidence"
	// FailureInsufficientEntities: the intent needs more resolved
	// identifiers than the turn produced.
	FailureInsufficientEntities FailureKind = "insufficient_entities"
	// FailureLookup: the catalog rejected or could not serve the lookup.
	FailureLookup FailureKind = "lookup"
	// FailureInternal: an unexpected fault, converted at the boundary.
	FailureInternal FailureKind = "internal"
)

// ErrInsufficientProducts is returned when a comparison resolves fewer than
// two product identifiers.
var ErrInsufficientProducts = errors.New("comparison requires at least two resolved products")

// TurnError is a classified turn failure.
type TurnError struct {
	Kind    FailureKind
	Message string
	Err     error
}

// Error implements the error interface.
func (e *TurnError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unwrap returns the wrapped cause.
func (e *TurnError) Unwrap() error {
	return e.Err
}

// TurnFailure is the serializable failure carried in a TurnResult.
type TurnFailure struct {
	Kind    FailureKind `json:"kind"`
	Message string      `json:"message"`
}

func failureFrom(err *TurnError) *TurnFailure {
	return &TurnFailure{Kind: err.Kind, Message: err.Message}
}

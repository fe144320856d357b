package incidents

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

var (
	// ErrValidation marks malformed input rejected before any state is created
	ErrValidation = errors.New("validation failed")

	// ErrNotFound is returned when an operation references an unknown incident id
	ErrNotFound = errors.New("incident not found")

	// ErrCounterLimit is returned by ReserveCounter when the counter already reached its limit
	ErrCounterLimit = errors.New("counter limit reached")

	// ErrStateTransition is returned when a status change breaks the forward-only lifecycle
	ErrStateTransition = errors.New("invalid state transition")
)

// ValidationError carries field-level messages keyed by JSON field name
type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+" "+e.Fields[k])
	}
	return fmt.Sprintf("%s: %s", ErrValidation, strings.Join(parts, "; "))
}

// Is lets errors.Is match ErrValidation
func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

func newValidationError(field, msg string) *ValidationError {
	return &ValidationError{Fields: map[string]string{field: msg}}
}

// StateTransitionError names the rejected from/to pair
type StateTransitionError struct {
	From Status
	To   Status
}

func (e *StateTransitionError) Error() string {
	return fmt.Sprintf("%s: %s -> %s", ErrStateTransition, e.From, e.To)
}

// Is lets errors.Is match ErrStateTransition
func (e *StateTransitionError) Is(target error) bool {
	return target == ErrStateTransition
}

func notFound(id string) error {
	return fmt.Errorf("%w: %s", ErrNotFound, id)
}

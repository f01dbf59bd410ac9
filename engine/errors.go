/*
errors.go - Centralized error taxonomy for the allocation engine

PURPOSE:
  All error types in one place for consistency and discoverability.
  Callers discriminate with errors.Is / errors.As; the API layer maps
  each category to an HTTP status.

ERROR CATEGORIES:
  1. Validation errors - Rejected before any state inspection
  2. Not-found errors  - Unknown unit/demand/link/donor identifiers
  3. Conflict errors   - A guarded status transition lost a race;
     nothing was applied, the caller must re-plan and retry
  4. State errors      - The entity exists but is in the wrong state;
     retrying with the same input will not succeed

NOTE:
  Insufficient inventory is NOT an error. The planner reports it as a
  first-class result (Plan.Enough == false) carrying partial matches.

SEE ALSO:
  - reservation.go: Commit returns ErrConflict on lost races
  - api/handlers.go: HTTP status mapping
*/
package engine

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrValidation is returned for malformed input: non-positive
	// volumes, unknown types or components, empty or duplicate unit
	// selections. No state is inspected before rejection.
	ErrValidation = errors.New("validation failed")

	// ErrNotFound is returned when a referenced unit, demand, link,
	// period or donor does not exist.
	ErrNotFound = errors.New("not found")

	// ErrConflict is returned when a guarded transition finds a status
	// that no longer matches the expectation (concurrent reservation,
	// expiry, or discard). The whole operation aborts; callers must
	// re-plan rather than resubmit the same stale selection.
	ErrConflict = errors.New("conflicting state change")

	// ErrState is returned when an operation is applied to an entity in
	// the wrong lifecycle state (completing a non-approved demand,
	// cancelling a completed one). Not retryable.
	ErrState = errors.New("invalid state for operation")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// InvalidInputError reports a malformed or unknown input value.
type InvalidInputError struct {
	Field string
	Value string
}

func (e *InvalidInputError) Error() string {
	return fmt.Sprintf("invalid %s: %q", e.Field, e.Value)
}

func (e *InvalidInputError) Unwrap() error { return ErrValidation }

// NotFoundError identifies the missing entity.
type NotFoundError struct {
	Kind string // "unit", "demand", "link", "period", "donor"
	ID   string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Kind, e.ID)
}

func (e *NotFoundError) Unwrap() error { return ErrNotFound }

// ConflictError reports a guarded transition that found an unexpected
// current status.
type ConflictError struct {
	Kind     string // "unit", "demand", "link"
	ID       string
	Expected string
	Actual   string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("%s %s: expected status %s, found %s",
		e.Kind, e.ID, e.Expected, e.Actual)
}

func (e *ConflictError) Unwrap() error { return ErrConflict }

// StateError reports an operation applied in the wrong lifecycle state.
type StateError struct {
	Kind    string
	ID      string
	Status  string
	Attempt string // the operation that was attempted
}

func (e *StateError) Error() string {
	return fmt.Sprintf("cannot %s %s %s in status %s",
		e.Attempt, e.Kind, e.ID, e.Status)
}

func (e *StateError) Unwrap() error { return ErrState }

// =============================================================================
// ERROR HELPERS
// =============================================================================

func IsValidation(err error) bool { return errors.Is(err, ErrValidation) }
func IsNotFound(err error) bool   { return errors.Is(err, ErrNotFound) }
func IsConflict(err error) bool   { return errors.Is(err, ErrConflict) }
func IsState(err error) bool      { return errors.Is(err, ErrState) }

// IsRetryable returns true if the error might succeed after re-planning.
func IsRetryable(err error) bool { return errors.Is(err, ErrConflict) }

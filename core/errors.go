/*
errors.go - Centralized error taxonomy for the cost engine

PURPOSE:
  All error types in one place for consistency and discoverability.
  Engine packages wrap these errors with additional context.

ERROR CATEGORIES:
  1. Validation errors    - Missing or invalid input (empty justification,
                            non-positive minutes, non-positive base cost)
  2. State errors         - Illegal lifecycle transition (task not completed,
                            bonus already evaluated, record already cancelled)
  3. Authorization errors - Non-manager attempting a manager-only operation
  4. Conservation errors  - Insufficient credit, budget exceeded
  5. Not-found errors     - Referenced entity does not exist

PROPAGATION:
  Every business-rule violation surfaces synchronously with a specific kind;
  none are transient, so callers correct the input and resubmit rather than
  retry. The api package maps kinds to HTTP status codes:
  validation -> 400, not-found -> 404, state -> 409, authorization -> 403,
  conservation -> 422.

USAGE:
  if core.IsConservation(err) { ... }
  var ice *core.InsufficientCreditError
  if errors.As(err, &ice) { ... }
*/
package core

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// Validation
	ErrInvalidBaseCost       = errors.New("base hourly cost must be positive")
	ErrInvalidMinutes        = errors.New("minutes must be positive")
	ErrJustificationRequired = errors.New("justification is required")
	ErrCommentRequired       = errors.New("comment is required")
	ErrReasonRequired        = errors.New("cancellation reason is required")
	ErrGrantExceedsWithdraw  = errors.New("granted minutes cannot exceed withdrawn minutes")
	ErrInvalidDestination    = errors.New("destination must name an existing task or a project and new task name")
	ErrInvalidRemediation    = errors.New("remediation only applies to negative records")
	ErrRemediationRequired   = errors.New("negative records require a remediation choice")

	// State
	ErrTaskNotCompleted  = errors.New("task is not completed")
	ErrMissingActualTime = errors.New("task has no actual minutes recorded")
	ErrAlreadyEvaluated  = errors.New("bonus already evaluated for task")
	ErrNotPending        = errors.New("record is not pending")
	ErrAlreadyCancelled  = errors.New("redistribution already cancelled")
	ErrTaskAlreadyDone   = errors.New("task already completed")

	// Authorization
	ErrManagerRequired = errors.New("manager role required")

	// Conservation
	ErrInsufficientCredit = errors.New("insufficient credit")
	ErrBudgetExceeded     = errors.New("project budget exceeded")

	// Not found
	ErrResourceNotFound       = errors.New("resource not found")
	ErrClientNotFound         = errors.New("client not found")
	ErrProjectNotFound        = errors.New("project not found")
	ErrTaskNotFound           = errors.New("task not found")
	ErrBonusNotFound          = errors.New("bonus record not found")
	ErrRedistributionNotFound = errors.New("redistribution not found")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// InsufficientCreditError details a failed sufficiency check on a source task.
type InsufficientCreditError struct {
	TaskID    TaskID
	Available Minutes
	Requested Minutes
}

func (e *InsufficientCreditError) Error() string {
	return fmt.Sprintf("insufficient credit on task %s: available %d min, requested %d min",
		e.TaskID, e.Available, e.Requested)
}

func (e *InsufficientCreditError) Unwrap() error { return ErrInsufficientCredit }

// BudgetExceededError details a failed project-budget check at assignment.
type BudgetExceededError struct {
	ProjectID ProjectID
	Remaining Money
	Committed Money
}

func (e *BudgetExceededError) Error() string {
	return fmt.Sprintf("project %s budget exceeded: remaining %s, committed cost %s",
		e.ProjectID, e.Remaining, e.Committed)
}

func (e *BudgetExceededError) Unwrap() error { return ErrBudgetExceeded }

// AuthorizationError identifies the actor and the operation that was refused.
type AuthorizationError struct {
	ActorID   string
	Operation string
}

func (e *AuthorizationError) Error() string {
	return fmt.Sprintf("actor %s is not authorized for %s", e.ActorID, e.Operation)
}

func (e *AuthorizationError) Unwrap() error { return ErrManagerRequired }

// =============================================================================
// ERROR HELPERS - Taxonomy predicates
// =============================================================================

// IsValidation returns true for malformed-input failures.
func IsValidation(err error) bool {
	return errors.Is(err, ErrInvalidBaseCost) ||
		errors.Is(err, ErrInvalidMinutes) ||
		errors.Is(err, ErrJustificationRequired) ||
		errors.Is(err, ErrCommentRequired) ||
		errors.Is(err, ErrReasonRequired) ||
		errors.Is(err, ErrGrantExceedsWithdraw) ||
		errors.Is(err, ErrInvalidDestination) ||
		errors.Is(err, ErrInvalidRemediation) ||
		errors.Is(err, ErrRemediationRequired)
}

// IsState returns true for illegal lifecycle transitions.
func IsState(err error) bool {
	return errors.Is(err, ErrTaskNotCompleted) ||
		errors.Is(err, ErrMissingActualTime) ||
		errors.Is(err, ErrAlreadyEvaluated) ||
		errors.Is(err, ErrNotPending) ||
		errors.Is(err, ErrAlreadyCancelled) ||
		errors.Is(err, ErrTaskAlreadyDone)
}

// IsAuthorization returns true when the caller lacks the manager role.
func IsAuthorization(err error) bool {
	return errors.Is(err, ErrManagerRequired)
}

// IsConservation returns true for credit/budget sufficiency failures.
func IsConservation(err error) bool {
	return errors.Is(err, ErrInsufficientCredit) ||
		errors.Is(err, ErrBudgetExceeded)
}

// IsNotFound returns true when a referenced entity does not exist.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrResourceNotFound) ||
		errors.Is(err, ErrClientNotFound) ||
		errors.Is(err, ErrProjectNotFound) ||
		errors.Is(err, ErrTaskNotFound) ||
		errors.Is(err, ErrBonusNotFound) ||
		errors.Is(err, ErrRedistributionNotFound)
}

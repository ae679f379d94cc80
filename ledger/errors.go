/*
errors.go - Centralized error types for the reconciliation engine

PURPOSE:
  All error types in one place for consistency and discoverability.
  The engine distinguishes four categories:

  1. Validation errors  - reject the whole call before any mutation
  2. Business denials   - NOT errors; reported as skipped/denied outcomes
  3. Partial batch failures - isolated per batch, reported per member
  4. Invariant violations   - clamped, never persisted, logged as anomalies

  Only categories 1 and total persistence failures surface as Go errors.

USAGE:
  if errors.Is(err, ledger.ErrConcurrentModification) { retry }

SEE ALSO:
  - result.go: where category 2 and 3 outcomes are reported
*/
package ledger

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrNotFound is returned when a referenced due, payment, member, or
	// category does not exist.
	ErrNotFound = errors.New("not found")

	// ErrCategoryInactive rejects operations on a deactivated category.
	ErrCategoryInactive = errors.New("category is not active")

	// ErrMemberNotInTenant rejects cross-tenant member references.
	ErrMemberNotInTenant = errors.New("member does not belong to tenant")

	// ErrInvalidAmount rejects zero or negative monetary inputs where a
	// positive amount is required.
	ErrInvalidAmount = errors.New("amount must be positive")

	// ErrDueAlreadyPaid rejects waiving or force-closing a settled due.
	ErrDueAlreadyPaid = errors.New("due is already paid")

	// ErrPaymentNotSettled rejects reversal of a payment that never
	// contributed to a due or balance.
	ErrPaymentNotSettled = errors.New("payment has not been settled")

	// ErrApprovalPending rejects settling a member-initiated offline
	// payment before an admin approves it.
	ErrApprovalPending = errors.New("payment approval is pending")

	// ErrDuplicateReference is returned when a payment reference
	// (idempotency code) already exists. Expected behavior for retries.
	ErrDuplicateReference = errors.New("duplicate payment reference")

	// ErrConcurrentModification is returned when a conditional update
	// detects the row changed underneath. Retryable.
	ErrConcurrentModification = errors.New("concurrent modification detected")

	// ErrReasonTooShort rejects waivers without a meaningful reason.
	ErrReasonTooShort = errors.New("reason too short")
)

// MinWaiverReasonLen is the minimum length of a waiver reason string.
const MinWaiverReasonLen = 10

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// CapExceededError reports a yearly cap denial with the remaining allowance.
// Callers treat this as an expected business outcome, not a failure.
type CapExceededError struct {
	MemberID  MemberID
	Year      int
	Requested decimal.Decimal
	Remaining decimal.Decimal
}

func (e *CapExceededError) Error() string {
	return fmt.Sprintf("yearly cap exceeded for member %s in %d: requested %s, remaining %s",
		e.MemberID, e.Year, e.Requested, e.Remaining)
}

// ConflictError wraps ErrConcurrentModification with the contested key.
type ConflictError struct {
	Kind string // "due" or "balance"
	Key  string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("concurrent modification of %s %s", e.Kind, e.Key)
}

func (e *ConflictError) Unwrap() error {
	return ErrConcurrentModification
}

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsRetryable returns true if the error might succeed on retry.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrConcurrentModification)
}

// IsClientError returns true if the error is due to invalid client input.
func IsClientError(err error) bool {
	return errors.Is(err, ErrCategoryInactive) ||
		errors.Is(err, ErrMemberNotInTenant) ||
		errors.Is(err, ErrInvalidAmount) ||
		errors.Is(err, ErrDueAlreadyPaid) ||
		errors.Is(err, ErrPaymentNotSettled) ||
		errors.Is(err, ErrApprovalPending) ||
		errors.Is(err, ErrDuplicateReference) ||
		errors.Is(err, ErrReasonTooShort)
}

// IsNotFound returns true if the error indicates a missing record.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

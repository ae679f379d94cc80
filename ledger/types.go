/*
Package ledger provides the core dues reconciliation engine types.

PURPOSE:
  This package contains the domain types and pure algorithms that keep
  Dues, Payments, and advance balances mutually consistent. It has no
  knowledge of HTTP, SQL, or schedulers - those live in api/ and store/.

KEY CONCEPTS IN THIS FILE (types.go):
  - Money: decimal amounts (never float64 - this is a financial ledger)
  - Due: one member's obligation for one (category, period) pair
  - Payment: one monetary transaction, pending until settled
  - MemberBalance: a member's reusable advance credit
  - AuditEntry: append-only trail explaining every balance delta

DESIGN PRINCIPLES:
  1. Precision: decimal.Decimal everywhere money appears
  2. Type Safety: distinct ID types prevent mixing member/due/payment IDs
  3. Auditability: every balance change pairs with an AuditEntry
  4. Immutability of history: dues and payments transition, never vanish

SEE ALSO:
  - settlement.go: The Due Settlement Algorithm
  - due.go / payment.go: Record types and their state rules
  - store.go: Persistence interfaces
*/
package ledger

import (
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// MONEY - Decimal helpers
// =============================================================================

// Zero is the additive identity for money amounts.
var Zero = decimal.Zero

// NewMoney builds a decimal from an int64 of whole currency units.
func NewMoney(v int64) decimal.Decimal {
	return decimal.NewFromInt(v)
}

// MustMoney parses a decimal string, returning zero on malformed input.
func MustMoney(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}

// MinMoney returns the smaller of two amounts.
func MinMoney(a, b decimal.Decimal) decimal.Decimal {
	if a.LessThan(b) {
		return a
	}
	return b
}

// =============================================================================
// IDENTIFIERS
// =============================================================================

type TenantID string
type MemberID string
type CategoryID string
type DueID string
type PaymentID string

// =============================================================================
// PAYMENT APPROVAL - Tagged variant for member-initiated offline payments
// =============================================================================

// ApprovalState distinguishes payments that were recorded directly by an
// admin (none), requested by a member (requested), and approved (approved).
type ApprovalState string

const (
	ApprovalNone      ApprovalState = "none"
	ApprovalRequested ApprovalState = "requested"
	ApprovalApproved  ApprovalState = "approved"
)

// Approval carries the approval state of a payment together with the
// timestamps that only exist in certain states. Use the constructors; a
// zero Approval means ApprovalNone.
type Approval struct {
	State       ApprovalState
	RequestedAt *time.Time
	ApprovedAt  *time.Time
	ApprovedBy  string
}

func NoApproval() Approval {
	return Approval{State: ApprovalNone}
}

func RequestedApproval(at time.Time) Approval {
	return Approval{State: ApprovalRequested, RequestedAt: &at}
}

// Approve transitions requested -> approved, preserving the request time.
func (a Approval) Approve(at time.Time, by string) Approval {
	return Approval{
		State:       ApprovalApproved,
		RequestedAt: a.RequestedAt,
		ApprovedAt:  &at,
		ApprovedBy:  by,
	}
}

// Pending reports whether the payment still needs an admin decision.
func (a Approval) Pending() bool {
	return a.State == ApprovalRequested
}

// =============================================================================
// MEMBER BALANCE - Reusable advance credit
// =============================================================================

// MemberBalance holds a member's unspent credit from past overpayment.
// One row per (tenant, member), created lazily on first credit.
//
// INVARIANT: AdvanceBalance never goes negative. Debits are floored at the
// current balance; any clamp is recorded as a BALANCE_CLAMPED anomaly.
type MemberBalance struct {
	TenantID         TenantID
	MemberID         MemberID
	AdvanceBalance   decimal.Decimal
	Version          int64
	LastReconciledAt time.Time
}

// =============================================================================
// AUDIT ENTRY - Append-only reconciliation trail
// =============================================================================

type AuditAction string

const (
	AuditAdvanceApplied          AuditAction = "ADVANCE_APPLIED"
	AuditAdvanceAutoAppliedBulk  AuditAction = "ADVANCE_AUTO_APPLIED_BULK"
	AuditBulkPaymentAppliedToDue AuditAction = "BULK_PAYMENT_APPLIED_TO_DUE"
	AuditBulkPaymentExcess       AuditAction = "BULK_PAYMENT_EXCESS_TO_ADVANCE"
	AuditPaymentReconciled       AuditAction = "PAYMENT_RECONCILED"
	AuditPaymentReversed         AuditAction = "PAYMENT_REVERSED"
	AuditDueWaived               AuditAction = "DUE_WAIVED"
	AuditCapPaymentRejected      AuditAction = "YEARLY_CAP_PAYMENT_REJECTED"
	AuditCapGenerationSkipped    AuditAction = "YEARLY_CAP_GENERATION_SKIPPED"
	AuditBalanceClamped          AuditAction = "BALANCE_CLAMPED"
)

// AuditEntry records one balance-affecting action. Insert-only, never
// mutated or deleted: it is the sole mechanism for reconstructing how any
// balance reached its current value.
type AuditEntry struct {
	ID        string
	TenantID  TenantID
	MemberID  MemberID
	SubjectID string // the due or payment the action concerns
	Action    AuditAction
	Details   map[string]string // before/after snapshot, amounts, reasons
	CreatedAt time.Time
}

// =============================================================================
// PAYMENT ALLOCATION - How a payment's amount landed on specific dues
// =============================================================================

// Allocation links a settled payment to a due with the exact amount applied.
// Reversal recomputes a due's PaidAmount from the allocations of all OTHER
// still-paid payments, which makes reversal safe to run twice.
type Allocation struct {
	PaymentID PaymentID
	DueID     DueID
	Amount    decimal.Decimal
	CreatedAt time.Time
}

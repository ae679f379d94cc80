/*
due.go - The Due record and its status rules

PURPOSE:
  A Due is one member's obligation for one (category, period) pair.
  Its status is never stored authority - it is always a pure function
  of PaidAmount versus Amount, recomputed on every mutation.

CRITICAL INVARIANTS:
  1. 0 <= PaidAmount <= Amount, always
  2. Status == paid      iff PaidAmount >= Amount
     Status == partial   iff 0 < PaidAmount < Amount
     Status == unpaid    iff PaidAmount == 0
  3. At most one Due per (tenant, member, category, period);
     duplicate generation attempts are skips, not errors
  4. Dues are never deleted - history lives in the audit trail

WHO MUTATES A DUE:
  Only the Settlement Algorithm (settlement.go), the Reversal Handler,
  and the Waiver Handler. Everything else reads.

SEE ALSO:
  - settlement.go: applies amounts to dues in order
  - store.go: uniqueness enforced at the persistence layer
*/
package ledger

import (
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// DUE STATUS
// =============================================================================

type DueStatus string

const (
	DueUnpaid  DueStatus = "unpaid"
	DuePartial DueStatus = "partial"
	DuePaid    DueStatus = "paid"
)

// StatusFor derives status from the paid/amount pair. This is THE status
// function; no code path assigns a Due status any other way.
func StatusFor(paid, amount decimal.Decimal) DueStatus {
	switch {
	case paid.GreaterThanOrEqual(amount):
		return DuePaid
	case paid.IsPositive():
		return DuePartial
	default:
		return DueUnpaid
	}
}

// =============================================================================
// DUE
// =============================================================================

type Due struct {
	ID         DueID
	TenantID   TenantID
	MemberID   MemberID
	CategoryID CategoryID
	Period     Period
	Amount     decimal.Decimal
	PaidAmount decimal.Decimal
	Status     DueStatus

	// AdvanceAppliedTotal is the cumulative advance credit ever applied to
	// this due. Reversal recomputes PaidAmount as
	// AdvanceAppliedTotal + WaivedAmount + sum(allocations of still-paid payments),
	// so these two components must be tracked separately from payments.
	AdvanceAppliedTotal decimal.Decimal
	WaivedAmount        decimal.Decimal

	// Version guards the read-modify-write cycle. Conditional updates fail
	// with ErrConcurrentModification when the row changed underneath.
	Version   int64
	CreatedAt time.Time
}

// Outstanding returns how much is still owed on this due.
func (d Due) Outstanding() decimal.Decimal {
	rem := d.Amount.Sub(d.PaidAmount)
	if rem.IsNegative() {
		return decimal.Zero
	}
	return rem
}

// Open reports whether the due can still receive money.
func (d Due) Open() bool {
	return d.Status != DuePaid
}

// Recompute clamps PaidAmount into [0, Amount] and rederives Status.
// Returns true if the clamp fired, which callers must log as an anomaly.
func (d *Due) Recompute() (clamped bool) {
	if d.PaidAmount.IsNegative() {
		d.PaidAmount = decimal.Zero
		clamped = true
	}
	if d.PaidAmount.GreaterThan(d.Amount) {
		d.PaidAmount = d.Amount
		clamped = true
	}
	d.Status = StatusFor(d.PaidAmount, d.Amount)
	return clamped
}

/*
payment.go - The Payment record and its state machine

PURPOSE:
  A Payment is one monetary transaction. Online payments are created
  pending and settle when the gateway confirms; offline payments are
  created paid and settle immediately.

STATE MACHINE:
  pending -> paid | failed | cancelled    (once)
  paid    -> cancelled | failed           (reversal path, after settlement)

CRITICAL INVARIANT:
  Only status=paid payments may have contributed to a Due's PaidAmount or
  to the advance balance. Reversing a payment must fully undo that
  contribution exactly once - the Reversal Handler guarantees this by
  recomputing from allocations rather than subtracting.

SEE ALSO:
  - types.go: Approval tagged variant
  - store.go: Reference uniqueness (idempotency) at the persistence layer
*/
package ledger

import (
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// PAYMENT STATUS / CHANNEL
// =============================================================================

type PaymentStatus string

const (
	PaymentPending   PaymentStatus = "pending"
	PaymentPaid      PaymentStatus = "paid"
	PaymentFailed    PaymentStatus = "failed"
	PaymentCancelled PaymentStatus = "cancelled"
)

// Terminal reports whether the status permits no further transitions
// other than reversal of a settled payment.
func (s PaymentStatus) Terminal() bool {
	return s == PaymentFailed || s == PaymentCancelled
}

// Channel describes how the money moved. Offline is a manual admin entry;
// online channels carry the gateway method name.
type Channel string

const (
	ChannelOffline        Channel = "offline"
	ChannelOnlineTransfer Channel = "online-transfer"
	ChannelOnlineCard     Channel = "online-card"
	ChannelOnlineWallet   Channel = "online-wallet"
)

func (c Channel) Online() bool {
	return c != ChannelOffline && c != ""
}

// =============================================================================
// PAYMENT
// =============================================================================

type Payment struct {
	ID       PaymentID
	TenantID TenantID
	MemberID MemberID
	Amount   decimal.Decimal
	Status   PaymentStatus
	Channel  Channel

	// LinkedDueID is set by the Bulk Payment Recorder, which targets a
	// single due per payment. Gateway-settled payments spread across all
	// open dues instead and leave this nil; their per-due amounts live in
	// allocation rows.
	LinkedDueID *DueID

	// AdvanceAppliedAmount is the portion of this payment that became
	// advance credit, recorded so reversal can undo it precisely.
	AdvanceAppliedAmount decimal.Decimal

	// Reference is the unique idempotency-bearing code (gateway order id
	// or generated for bulk entries).
	Reference string

	Approval  Approval
	CreatedAt time.Time
	SettledAt *time.Time
}

// Settled reports whether reconciliation has already applied this payment.
func (p Payment) Settled() bool {
	return p.SettledAt != nil
}

// Reversible reports whether the payment is in a state reversal accepts:
// settled and currently counted as paid.
func (p Payment) Reversible() bool {
	return p.Settled() && p.Status == PaymentPaid
}

/*
reversal.go - The Reversal Handler

PURPOSE:
  Undoes a settled payment after reconciliation already ran (refund,
  chargeback, admin correction). The critical design choice: touched dues
  are RECOMPUTED from source, never decremented. PaidAmount becomes

    advanceAppliedTotal + waivedAmount + sum(allocations of payments
    that are still status=paid)

  with the reversed payment excluded because its status flips first.
  Subtraction would drift after a double reversal or a concurrent
  settlement; recomputation cannot.

IDEMPOTENCY:
  The second call sees a payment that is no longer status=paid and
  returns a no-op result without touching anything.

SEE ALSO:
  - ledger/types.go: Allocation, the recompute's source of truth
  - balance.go: the floored advance debit
*/
package engine

import (
	"context"
	"fmt"
	"log"

	"github.com/shopspring/decimal"

	"github.com/warp/dues-engine/ledger"
)

// ReverseResult summarizes what a reversal undid.
type ReverseResult struct {
	PaymentID          ledger.PaymentID `json:"payment_id"`
	RestoredToDues     decimal.Decimal  `json:"restored_to_dues"`
	DebitedFromAdvance decimal.Decimal  `json:"debited_from_advance"`
	AlreadyReversed    bool             `json:"already_reversed"`
}

// ReversePayment cancels a settled payment and restores the dues and
// advance balance it affected. Reversing twice is a no-op.
func (e *Engine) ReversePayment(ctx context.Context, tenant ledger.TenantID, id ledger.PaymentID) (*ReverseResult, error) {
	p, err := e.store.GetPayment(ctx, id)
	if err != nil {
		return nil, err
	}
	if p.TenantID != tenant {
		return nil, ledger.ErrNotFound
	}
	if p.Status.Terminal() {
		// Already reversed (or failed before settling): nothing to undo.
		return &ReverseResult{PaymentID: p.ID, AlreadyReversed: true}, nil
	}
	if !p.Reversible() {
		return nil, ledger.ErrPaymentNotSettled
	}

	unlock := e.locks.Lock(tenant, p.MemberID)
	defer unlock()

	result := &ReverseResult{PaymentID: p.ID}
	err = e.store.WithTx(ctx, func(s ledger.Store) error {
		// Re-read under the lock; the pre-flight copy may be stale. A
		// concurrent reversal that committed first must turn this call
		// into a no-op, not a second debit.
		fresh, err := s.GetPayment(ctx, id)
		if err != nil {
			return err
		}
		p = fresh
		if p.Status.Terminal() {
			result.AlreadyReversed = true
			return nil
		}
		if !p.Reversible() {
			return ledger.ErrPaymentNotSettled
		}

		// Flip the status first so the recompute below excludes this
		// payment's allocations.
		p.Status = ledger.PaymentCancelled
		if err := s.UpdatePayment(ctx, *p); err != nil {
			return fmt.Errorf("update payment: %w", err)
		}

		allocs, err := s.AllocationsForPayment(ctx, p.ID)
		if err != nil {
			return fmt.Errorf("allocations: %w", err)
		}
		restored := decimal.Zero
		for _, a := range allocs {
			delta, err := e.recomputeDue(ctx, s, a.DueID)
			if err != nil {
				return err
			}
			restored = restored.Add(delta)
		}
		result.RestoredToDues = restored

		details := map[string]string{
			"amount":            p.Amount.String(),
			"restored_to_dues":  restored.String(),
			"advance_requested": p.AdvanceAppliedAmount.String(),
		}
		if p.AdvanceAppliedAmount.IsPositive() {
			// Floored at zero when the credit was already spent; the debit's
			// paired audit entry doubles as the reversal summary.
			debited, err := e.debit(ctx, s, tenant, p.MemberID, p.AdvanceAppliedAmount, ledger.AuditPaymentReversed, string(p.ID), details)
			if err != nil {
				return err
			}
			result.DebitedFromAdvance = debited
		} else {
			if err := s.AppendAudit(ctx, e.audit(tenant, p.MemberID, string(p.ID), ledger.AuditPaymentReversed, details)); err != nil {
				return fmt.Errorf("append audit: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if result.AlreadyReversed {
		return result, nil
	}

	log.Printf("[Reversal] payment=%s member=%s restored=%s advance_debited=%s",
		p.ID, p.MemberID, result.RestoredToDues, result.DebitedFromAdvance)
	e.dispatch(ctx, Event{TenantID: tenant, MemberID: p.MemberID, Kind: EventPaymentReversed, Subject: string(p.ID)})
	return result, nil
}

// recomputeDue rebuilds a due's PaidAmount from the allocations of all
// still-paid payments plus its advance and waiver components. Returns the
// amount by which PaidAmount dropped.
func (e *Engine) recomputeDue(ctx context.Context, s ledger.Store, id ledger.DueID) (decimal.Decimal, error) {
	due, err := s.GetDue(ctx, id)
	if err != nil {
		return decimal.Zero, err
	}

	allocs, err := s.AllocationsForDue(ctx, id)
	if err != nil {
		return decimal.Zero, fmt.Errorf("allocations for due %s: %w", id, err)
	}
	paid := due.AdvanceAppliedTotal.Add(due.WaivedAmount)
	for _, a := range allocs {
		owner, err := s.GetPayment(ctx, a.PaymentID)
		if err != nil {
			return decimal.Zero, fmt.Errorf("allocation owner %s: %w", a.PaymentID, err)
		}
		if owner.Status == ledger.PaymentPaid {
			paid = paid.Add(a.Amount)
		}
	}

	before := due.PaidAmount
	due.PaidAmount = paid
	if due.Recompute() {
		log.Printf("[Reversal] ANOMALY: clamped due %s during recompute (raw=%s)", due.ID, paid)
	}
	if err := s.UpdateDue(ctx, *due); err != nil {
		return decimal.Zero, fmt.Errorf("update due %s: %w", due.ID, err)
	}

	delta := before.Sub(due.PaidAmount)
	if delta.IsNegative() {
		delta = decimal.Zero
	}
	return delta, nil
}

/*
reconciler.go - The Single Payment Reconciler

PURPOSE:
  Runs when a pending payment is confirmed (gateway webhook, admin
  verification). One payment is spread across ALL of the member's open
  dues oldest-first; whatever is left over becomes advance credit and is
  recorded on the payment so reversal can undo it precisely.

IDEMPOTENCY:
  Webhooks get redelivered. A payment with SettledAt already set is a
  no-op: the reconciler returns the cached effect and mutates nothing.
  This is the invariant that makes the webhook endpoint safe to retry.

SEE ALSO:
  - recorder.go: the single-due admin counterpart
  - reversal.go: consumes the allocations written here
*/
package engine

import (
	"context"
	"fmt"
	"log"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/warp/dues-engine/ledger"
)

// ReconcileResult summarizes the effect of settling one payment.
type ReconcileResult struct {
	PaymentID         ledger.PaymentID `json:"payment_id"`
	AppliedToDues     decimal.Decimal  `json:"applied_to_dues"`
	CreditedToAdvance decimal.Decimal  `json:"credited_to_advance"`
	TouchedDues       []ledger.DueID   `json:"touched_dues,omitempty"`
	AlreadySettled    bool             `json:"already_settled"`
}

// ReconcilePayment settles a confirmed payment across the member's open
// dues. Safe to call repeatedly; only the first call mutates state.
func (e *Engine) ReconcilePayment(ctx context.Context, tenant ledger.TenantID, id ledger.PaymentID) (*ReconcileResult, error) {
	p, err := e.store.GetPayment(ctx, id)
	if err != nil {
		return nil, err
	}
	if p.TenantID != tenant {
		return nil, ledger.ErrNotFound
	}
	if p.Approval.Pending() {
		return nil, ledger.ErrApprovalPending
	}
	if p.Settled() {
		// Redelivered event: report what the first run did.
		return &ReconcileResult{
			PaymentID:         p.ID,
			AppliedToDues:     p.Amount.Sub(p.AdvanceAppliedAmount),
			CreditedToAdvance: p.AdvanceAppliedAmount,
			AlreadySettled:    true,
		}, nil
	}
	if p.Status.Terminal() {
		return nil, fmt.Errorf("payment %s is %s and cannot be reconciled", p.ID, p.Status)
	}

	unlock := e.locks.Lock(tenant, p.MemberID)
	defer unlock()

	result := &ReconcileResult{PaymentID: p.ID, AppliedToDues: decimal.Zero, CreditedToAdvance: decimal.Zero}
	err = e.store.WithTx(ctx, func(s ledger.Store) error {
		// Re-read under the lock; the pre-flight copy may be stale. Two
		// redelivered webhooks can both pass the gate above, so the gate
		// that counts is this one, inside the transaction.
		fresh, err := s.GetPayment(ctx, id)
		if err != nil {
			return err
		}
		p = fresh
		if p.Settled() {
			result.AppliedToDues = p.Amount.Sub(p.AdvanceAppliedAmount)
			result.CreditedToAdvance = p.AdvanceAppliedAmount
			result.AlreadySettled = true
			return nil
		}
		if p.Status.Terminal() {
			return fmt.Errorf("payment %s is %s and cannot be reconciled", p.ID, p.Status)
		}

		dues, err := s.OpenDues(ctx, tenant, p.MemberID)
		if err != nil {
			return fmt.Errorf("open dues: %w", err)
		}

		apps, leftover := ledger.Settle(p.Amount, dues)
		allocs := make([]ledger.Allocation, 0, len(apps))
		summary := make([]string, 0, len(apps))
		for _, app := range apps {
			if !app.Touched() {
				continue
			}
			if err := s.UpdateDue(ctx, app.Due); err != nil {
				return fmt.Errorf("update due %s: %w", app.Due.ID, err)
			}
			allocs = append(allocs, ledger.Allocation{
				PaymentID: p.ID,
				DueID:     app.Due.ID,
				Amount:    app.Applied,
				CreatedAt: e.now(),
			})
			summary = append(summary, fmt.Sprintf("%s=%s", app.Due.ID, app.Applied))
			result.TouchedDues = append(result.TouchedDues, app.Due.ID)
		}
		if len(allocs) > 0 {
			if err := s.InsertAllocations(ctx, allocs); err != nil {
				return fmt.Errorf("insert allocations: %w", err)
			}
		}
		result.AppliedToDues = ledger.TotalApplied(apps)
		result.CreditedToAdvance = leftover

		details := map[string]string{
			"amount":           p.Amount.String(),
			"applied_to_dues":  result.AppliedToDues.String(),
			"advance_credited": leftover.String(),
			"dues":             strings.Join(summary, ","),
		}
		if leftover.IsPositive() {
			// The credit's paired audit entry doubles as the summary.
			if err := e.credit(ctx, s, tenant, p.MemberID, leftover, ledger.AuditPaymentReconciled, string(p.ID), details); err != nil {
				return err
			}
		} else {
			if err := s.AppendAudit(ctx, e.audit(tenant, p.MemberID, string(p.ID), ledger.AuditPaymentReconciled, details)); err != nil {
				return fmt.Errorf("append audit: %w", err)
			}
		}

		settledAt := e.now()
		p.Status = ledger.PaymentPaid
		p.SettledAt = &settledAt
		p.AdvanceAppliedAmount = leftover
		if err := s.UpdatePayment(ctx, *p); err != nil {
			return fmt.Errorf("update payment: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if result.AlreadySettled {
		return result, nil
	}

	log.Printf("[Reconciler] payment=%s member=%s applied=%s advance=%s dues=%d",
		p.ID, p.MemberID, result.AppliedToDues, result.CreditedToAdvance, len(result.TouchedDues))
	e.dispatch(ctx, Event{TenantID: tenant, MemberID: p.MemberID, Kind: EventPaymentReconciled, Subject: string(p.ID)})
	return result, nil
}

// ApplyAdvanceToDue spends a member's advance balance on one specific due.
// Returns the amount actually applied, which is the smaller of the balance
// and the due's outstanding amount.
func (e *Engine) ApplyAdvanceToDue(ctx context.Context, tenant ledger.TenantID, id ledger.DueID) (decimal.Decimal, error) {
	due, err := e.store.GetDue(ctx, id)
	if err != nil {
		return decimal.Zero, err
	}
	if due.TenantID != tenant {
		return decimal.Zero, ledger.ErrNotFound
	}
	if !due.Open() {
		return decimal.Zero, ledger.ErrDueAlreadyPaid
	}

	unlock := e.locks.Lock(tenant, due.MemberID)
	defer unlock()

	applied := decimal.Zero
	err = e.store.WithTx(ctx, func(s ledger.Store) error {
		// Re-read under the lock; the pre-flight copy may be stale.
		due, err := s.GetDue(ctx, id)
		if err != nil {
			return err
		}
		if !due.Open() {
			return ledger.ErrDueAlreadyPaid
		}
		bal, err := s.GetBalance(ctx, tenant, due.MemberID)
		if err != nil {
			return fmt.Errorf("read balance: %w", err)
		}
		if bal == nil || !bal.AdvanceBalance.IsPositive() {
			return nil
		}

		applied = ledger.MinMoney(bal.AdvanceBalance, due.Outstanding())
		debited, err := e.debit(ctx, s, tenant, due.MemberID, applied, ledger.AuditAdvanceApplied, string(due.ID), map[string]string{
			"due_outstanding": due.Outstanding().String(),
			"applied":         applied.String(),
		})
		if err != nil {
			return err
		}
		applied = debited

		due.PaidAmount = due.PaidAmount.Add(applied)
		due.AdvanceAppliedTotal = due.AdvanceAppliedTotal.Add(applied)
		if due.Recompute() {
			log.Printf("[Reconciler] ANOMALY: clamped due %s while applying advance", due.ID)
		}
		if err := s.UpdateDue(ctx, *due); err != nil {
			return fmt.Errorf("update due: %w", err)
		}
		return nil
	})
	if err != nil {
		return decimal.Zero, err
	}
	return applied, nil
}

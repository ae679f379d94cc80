/*
waiver.go - The Waiver Handler

PURPOSE:
  Admin-only: force an unpaid/partial due to paid without any payment.
  The waived delta is tracked on the due itself so a later reversal of
  one of its payments recomputes correctly - a waiver is part of the
  due's paid composition, not a phantom payment.
*/
package engine

import (
	"context"
	"fmt"
	"log"

	"github.com/shopspring/decimal"

	"github.com/warp/dues-engine/ledger"
)

// WaiveDue closes a due without payment. Reason is mandatory and must
// carry at least MinWaiverReasonLen characters; "waived" is not a reason.
// Returns the waived delta.
func (e *Engine) WaiveDue(ctx context.Context, tenant ledger.TenantID, id ledger.DueID, reason, waivedBy string) (decimal.Decimal, error) {
	if len(reason) < ledger.MinWaiverReasonLen {
		return decimal.Zero, ledger.ErrReasonTooShort
	}

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

	waived := decimal.Zero
	err = e.store.WithTx(ctx, func(s ledger.Store) error {
		due, err := s.GetDue(ctx, id)
		if err != nil {
			return err
		}
		if !due.Open() {
			return ledger.ErrDueAlreadyPaid
		}

		waived = due.Outstanding()
		due.WaivedAmount = due.WaivedAmount.Add(waived)
		due.PaidAmount = due.Amount
		due.Status = ledger.DuePaid
		if err := s.UpdateDue(ctx, *due); err != nil {
			return fmt.Errorf("update due: %w", err)
		}

		entry := e.audit(tenant, due.MemberID, string(due.ID), ledger.AuditDueWaived, map[string]string{
			"waived":    waived.String(),
			"reason":    reason,
			"waived_by": waivedBy,
			"period":    due.Period.String(),
		})
		if err := s.AppendAudit(ctx, entry); err != nil {
			return fmt.Errorf("append audit: %w", err)
		}
		return nil
	})
	if err != nil {
		return decimal.Zero, err
	}

	log.Printf("[Waiver] due=%s member=%s waived=%s by=%s", due.ID, due.MemberID, waived, waivedBy)
	e.dispatch(ctx, Event{TenantID: tenant, MemberID: due.MemberID, Kind: EventDueWaived, Subject: string(due.ID)})
	return waived, nil
}

/*
recorder.go - The Bulk Payment Recorder

PURPOSE:
  Admin path for entering completed payments in bulk (cash collected at a
  meeting, a bank statement keyed in by hand). Each entry is created
  status=paid and settled immediately against the member's SINGLE oldest
  open due in the category; any remainder becomes advance credit.

  The single-due targeting is deliberate and differs from the gateway
  reconciler, which spreads one payment across every open due. A manual
  batch entry is "this member paid this month's due"; spreading it would
  surprise the admin who typed it in.

IDEMPOTENCY:
  Every payment carries a unique reference. Entries whose reference
  already exists are reported as skips, so a retried batch never records
  the same money twice.

SEE ALSO:
  - reconciler.go: the multi-due counterpart
  - ledger/settlement.go: the shared application rule
*/
package engine

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/shopspring/decimal"

	"github.com/warp/dues-engine/ledger"
)

// PaymentEntry is one row of a bulk payment request. Reference may be
// empty, in which case one is generated.
type PaymentEntry struct {
	MemberID  ledger.MemberID
	Amount    decimal.Decimal
	Reference string
}

// RecordPaymentsInput describes one bulk payment request.
type RecordPaymentsInput struct {
	TenantID   ledger.TenantID
	CategoryID ledger.CategoryID
	Channel    ledger.Channel
	PaidAt     time.Time
	Entries    []PaymentEntry
}

// RecordBulkPayments records and settles the entries. Invalid entries are
// skips; a batch-level persistence error marks only that batch's members
// failed and the remaining batches proceed.
func (e *Engine) RecordBulkPayments(ctx context.Context, in RecordPaymentsInput) (*ledger.BulkPaymentResult, error) {
	cat, err := e.store.GetCategory(ctx, in.TenantID, in.CategoryID)
	if err != nil {
		return nil, fmt.Errorf("load category %s: %w", in.CategoryID, err)
	}
	if !cat.Active {
		return nil, ledger.ErrCategoryInactive
	}
	if in.Channel == "" {
		in.Channel = ledger.ChannelOffline
	}
	paidAt := in.PaidAt
	if paidAt.IsZero() {
		paidAt = e.now()
	}

	result := &ledger.BulkPaymentResult{TotalAmount: decimal.Zero}

	valid, members, err := e.validEntries(ctx, in, result)
	if err != nil {
		return nil, err
	}
	if len(valid) == 0 {
		return result, nil
	}

	unlock := e.locks.LockAll(in.TenantID, members)
	defer unlock()

	// One oldest open due per member, computed up front. Entries for the
	// same member share this snapshot; settlement keeps it current so a
	// second entry sees the first one's effect.
	open, err := e.store.OpenDuesByCategory(ctx, in.TenantID, in.CategoryID, members)
	if err != nil {
		return nil, fmt.Errorf("open dues: %w", err)
	}
	oldest := make(map[ledger.MemberID]*ledger.Due, len(members))
	for i := range open {
		d := open[i]
		if _, ok := oldest[d.MemberID]; !ok {
			oldest[d.MemberID] = &d
		}
	}

	for start := 0; start < len(valid); start += e.batchSize {
		end := start + e.batchSize
		if end > len(valid) {
			end = len(valid)
		}
		batch := valid[start:end]

		if err := e.recordBatch(ctx, in, paidAt, batch, oldest); err != nil {
			log.Printf("[Recorder] batch %d-%d failed: %v", start, end, err)
			for _, entry := range batch {
				result.AddFailed(entry.MemberID, err.Error())
			}
			continue
		}
		for _, entry := range batch {
			result.AddCreated(entry.MemberID)
			result.TotalAmount = result.TotalAmount.Add(entry.Amount)
			e.dispatch(ctx, Event{TenantID: in.TenantID, MemberID: entry.MemberID, Kind: EventPaymentRecorded})
		}
	}

	log.Printf("[Recorder] tenant=%s category=%s created=%d skipped=%d failed=%d total=%s",
		in.TenantID, in.CategoryID, result.CreatedCount(), result.SkippedCount(), result.FailedCount(), result.TotalAmount)
	return result, nil
}

// recordBatch inserts one batch of payments and settles each against its
// member's oldest open due inside a single transaction.
func (e *Engine) recordBatch(ctx context.Context, in RecordPaymentsInput, paidAt time.Time, batch []PaymentEntry, oldest map[ledger.MemberID]*ledger.Due) error {
	return e.store.WithTx(ctx, func(s ledger.Store) error {
		payments := make([]ledger.Payment, 0, len(batch))
		for _, entry := range batch {
			p := ledger.Payment{
				ID:        ledger.PaymentID(e.newID()),
				TenantID:  in.TenantID,
				MemberID:  entry.MemberID,
				Amount:    entry.Amount,
				Status:    ledger.PaymentPaid,
				Channel:   in.Channel,
				Reference: entry.Reference,
				Approval:  ledger.NoApproval(),
				CreatedAt: e.now(),
				SettledAt: &paidAt,
			}
			if due, ok := oldest[entry.MemberID]; ok {
				id := due.ID
				p.LinkedDueID = &id
			}
			payments = append(payments, p)
		}
		if err := s.InsertPayments(ctx, payments); err != nil {
			return fmt.Errorf("insert payments: %w", err)
		}

		for i := range payments {
			if err := e.settleAgainstOldest(ctx, s, &payments[i], oldest); err != nil {
				return err
			}
		}
		return nil
	})
}

// settleAgainstOldest applies one recorded payment to its member's oldest
// open due and credits any remainder to the advance balance.
func (e *Engine) settleAgainstOldest(ctx context.Context, s ledger.Store, p *ledger.Payment, oldest map[ledger.MemberID]*ledger.Due) error {
	remainder := p.Amount
	due := oldest[p.MemberID]

	if due != nil && due.Open() {
		apps, rem := ledger.Settle(p.Amount, []ledger.Due{*due})
		remainder = rem
		app := apps[0]
		if app.Touched() {
			if err := s.UpdateDue(ctx, app.Due); err != nil {
				return fmt.Errorf("update due %s: %w", due.ID, err)
			}
			if err := s.InsertAllocations(ctx, []ledger.Allocation{{
				PaymentID: p.ID,
				DueID:     due.ID,
				Amount:    app.Applied,
				CreatedAt: e.now(),
			}}); err != nil {
				return fmt.Errorf("insert allocation: %w", err)
			}
			entry := e.audit(p.TenantID, p.MemberID, string(p.ID), ledger.AuditBulkPaymentAppliedToDue, map[string]string{
				"due_id":     string(due.ID),
				"applied":    app.Applied.String(),
				"due_status": string(app.NewStatus),
			})
			if err := s.AppendAudit(ctx, entry); err != nil {
				return fmt.Errorf("append audit: %w", err)
			}
			// Keep the snapshot current for later entries of the same
			// member; UpdateDue bumped the stored version.
			app.Due.Version++
			*due = app.Due
		}
	}

	if remainder.IsPositive() {
		p.AdvanceAppliedAmount = remainder
		if err := e.credit(ctx, s, p.TenantID, p.MemberID, remainder, ledger.AuditBulkPaymentExcess, string(p.ID), map[string]string{
			"payment_amount": p.Amount.String(),
		}); err != nil {
			return err
		}
	}
	if err := s.UpdatePayment(ctx, *p); err != nil {
		return fmt.Errorf("update payment %s: %w", p.ID, err)
	}
	return nil
}

// validEntries filters the request down to entries that can be recorded:
// positive amount, member in tenant, reference not seen before. Returns
// the valid entries (references filled in) and the distinct member IDs.
func (e *Engine) validEntries(ctx context.Context, in RecordPaymentsInput, result *ledger.BulkPaymentResult) ([]PaymentEntry, []ledger.MemberID, error) {
	ids := make([]ledger.MemberID, 0, len(in.Entries))
	for _, entry := range in.Entries {
		ids = append(ids, entry.MemberID)
	}
	known, err := e.store.FilterMembers(ctx, in.TenantID, ids)
	if err != nil {
		return nil, nil, fmt.Errorf("filter members: %w", err)
	}

	valid := make([]PaymentEntry, 0, len(in.Entries))
	seenMember := make(map[ledger.MemberID]bool)
	members := make([]ledger.MemberID, 0, len(in.Entries))
	for _, entry := range in.Entries {
		if !entry.Amount.IsPositive() {
			result.AddSkipped(entry.MemberID, "amount must be positive")
			continue
		}
		if !known[entry.MemberID] {
			result.AddSkipped(entry.MemberID, "member not in tenant")
			continue
		}
		if entry.Reference == "" {
			entry.Reference = e.newID()
		} else {
			_, err := e.store.FindPaymentByReference(ctx, in.TenantID, entry.Reference)
			if err == nil {
				result.AddSkipped(entry.MemberID, "duplicate reference")
				continue
			}
			if !errors.Is(err, ledger.ErrNotFound) {
				return nil, nil, fmt.Errorf("lookup reference %s: %w", entry.Reference, err)
			}
		}
		valid = append(valid, entry)
		if !seenMember[entry.MemberID] {
			seenMember[entry.MemberID] = true
			members = append(members, entry.MemberID)
		}
	}
	return valid, members, nil
}

/*
generator.go - The Bulk Due Generator

PURPOSE:
  Creates one due per target member for a (category, period) pair, in
  bounded batches, auto-applying any advance balance the member already
  holds. The operation is deliberately NOT atomic: partial success is
  expected and reported per member, never silently swallowed.

OUTCOME TAXONOMY (per member):
  created - due row committed, advance auto-applied if available
  skipped - business denial: due already exists, cap exceeded, unknown
            member. Not an error.
  failed  - the member's batch hit a persistence error. Other batches
            proceed; the caller may retry and existing rows become skips.

SEE ALSO:
  - cap.go: generation checks, including the 13th-recurring-due rule
  - balance.go: the only code path that debits the advance
*/
package engine

import (
	"context"
	"fmt"
	"log"

	"github.com/shopspring/decimal"

	"github.com/warp/dues-engine/ledger"
)

// GenerateDuesInput describes one bulk generation request. A nil Members
// slice targets every active member of the tenant. Amount zero falls back
// to the category's configured amount.
type GenerateDuesInput struct {
	TenantID   ledger.TenantID
	CategoryID ledger.CategoryID
	Period     ledger.Period
	Amount     decimal.Decimal
	Members    []ledger.MemberID
}

// GenerateBulkDues creates dues for the target members. See the outcome
// taxonomy above; the error return fires only when the request itself is
// invalid or the pre-flight reads fail.
func (e *Engine) GenerateBulkDues(ctx context.Context, in GenerateDuesInput) (*ledger.BatchResult, error) {
	cat, err := e.store.GetCategory(ctx, in.TenantID, in.CategoryID)
	if err != nil {
		return nil, fmt.Errorf("load category %s: %w", in.CategoryID, err)
	}
	if !cat.Active {
		return nil, ledger.ErrCategoryInactive
	}
	amount := in.Amount
	if amount.IsZero() {
		amount = cat.Amount
	}
	if !amount.IsPositive() {
		return nil, ledger.ErrInvalidAmount
	}

	result := &ledger.BatchResult{}
	targets, err := e.resolveTargets(ctx, in.TenantID, in.Members, result)
	if err != nil {
		return nil, err
	}
	if len(targets) == 0 {
		return result, nil
	}

	unlock := e.locks.LockAll(in.TenantID, targets)
	defer unlock()

	// Members that already have a due for this (category, period) are
	// skips; retries of a partially-failed run land here.
	existing, err := e.store.DuesForPeriod(ctx, in.TenantID, in.CategoryID, in.Period, targets)
	if err != nil {
		return nil, fmt.Errorf("existing dues: %w", err)
	}
	taken := make(map[ledger.MemberID]bool, len(existing))
	for _, d := range existing {
		taken[d.MemberID] = true
	}

	eligible := make([]ledger.MemberID, 0, len(targets))
	for _, m := range targets {
		if taken[m] {
			result.AddSkipped(m, "already exists")
			continue
		}
		check, err := e.capCheck(ctx, e.store, in.TenantID, m, *cat, in.Period.Year, amount, CapCheckGeneration)
		if err != nil {
			return nil, fmt.Errorf("cap check for %s: %w", m, err)
		}
		if !check.Allowed {
			result.AddSkipped(m, check.Message)
			entry := e.audit(in.TenantID, m, string(in.CategoryID), ledger.AuditCapGenerationSkipped, map[string]string{
				"period":    in.Period.String(),
				"requested": amount.String(),
				"remaining": check.RemainingAllowance.String(),
				"reason":    check.Message,
			})
			if err := e.store.AppendAudit(ctx, entry); err != nil {
				return nil, fmt.Errorf("append audit: %w", err)
			}
			continue
		}
		eligible = append(eligible, m)
	}
	if len(eligible) == 0 {
		return result, nil
	}

	balances, err := e.store.GetBalances(ctx, in.TenantID, eligible)
	if err != nil {
		return nil, fmt.Errorf("read balances: %w", err)
	}

	for start := 0; start < len(eligible); start += e.batchSize {
		end := start + e.batchSize
		if end > len(eligible) {
			end = len(eligible)
		}
		batch := eligible[start:end]

		if err := e.generateBatch(ctx, in, *cat, amount, batch, balances); err != nil {
			log.Printf("[Generator] batch %d-%d failed: %v", start, end, err)
			for _, m := range batch {
				result.AddFailed(m, err.Error())
			}
			continue
		}
		for _, m := range batch {
			result.AddCreated(m)
			e.dispatch(ctx, Event{TenantID: in.TenantID, MemberID: m, Kind: EventDueGenerated})
		}
	}

	log.Printf("[Generator] tenant=%s category=%s period=%s created=%d skipped=%d failed=%d",
		in.TenantID, in.CategoryID, in.Period, result.CreatedCount(), result.SkippedCount(), result.FailedCount())
	return result, nil
}

// generateBatch inserts one batch of dues and debits consumed advance in a
// single transaction, so a mid-batch failure leaves no half-applied member.
func (e *Engine) generateBatch(ctx context.Context, in GenerateDuesInput, cat ledger.Category, amount decimal.Decimal, batch []ledger.MemberID, balances map[ledger.MemberID]ledger.MemberBalance) error {
	return e.store.WithTx(ctx, func(s ledger.Store) error {
		dues := make([]ledger.Due, 0, len(batch))
		applied := make(map[ledger.MemberID]decimal.Decimal, len(batch))
		for _, m := range batch {
			advance := decimal.Zero
			if bal, ok := balances[m]; ok {
				advance = ledger.MinMoney(bal.AdvanceBalance, amount)
			}
			due := ledger.Due{
				ID:                  ledger.DueID(e.newID()),
				TenantID:            in.TenantID,
				MemberID:            m,
				CategoryID:          in.CategoryID,
				Period:              in.Period,
				Amount:              amount,
				PaidAmount:          advance,
				AdvanceAppliedTotal: advance,
				CreatedAt:           e.now(),
			}
			due.Status = ledger.StatusFor(due.PaidAmount, due.Amount)
			dues = append(dues, due)
			if advance.IsPositive() {
				applied[m] = advance
			}
		}

		if err := s.InsertDues(ctx, dues); err != nil {
			return fmt.Errorf("insert dues: %w", err)
		}
		for _, due := range dues {
			adv, ok := applied[due.MemberID]
			if !ok {
				continue
			}
			if _, err := e.debit(ctx, s, in.TenantID, due.MemberID, adv, ledger.AuditAdvanceAutoAppliedBulk, string(due.ID), map[string]string{
				"category": string(in.CategoryID),
				"period":   in.Period.String(),
				"applied":  adv.String(),
			}); err != nil {
				return fmt.Errorf("debit advance for %s: %w", due.MemberID, err)
			}
		}
		return nil
	})
}

// resolveTargets turns the request's member selector into a deduplicated
// list of members known to the tenant. Unknown IDs are skips, not errors.
func (e *Engine) resolveTargets(ctx context.Context, tenant ledger.TenantID, members []ledger.MemberID, result *ledger.BatchResult) ([]ledger.MemberID, error) {
	if len(members) == 0 {
		active, err := e.store.ActiveMembers(ctx, tenant)
		if err != nil {
			return nil, fmt.Errorf("active members: %w", err)
		}
		ids := make([]ledger.MemberID, 0, len(active))
		for _, m := range active {
			ids = append(ids, m.ID)
		}
		return ids, nil
	}

	seen := make(map[ledger.MemberID]bool, len(members))
	deduped := make([]ledger.MemberID, 0, len(members))
	for _, m := range members {
		if seen[m] {
			continue
		}
		seen[m] = true
		deduped = append(deduped, m)
	}

	known, err := e.store.FilterMembers(ctx, tenant, deduped)
	if err != nil {
		return nil, fmt.Errorf("filter members: %w", err)
	}
	targets := make([]ledger.MemberID, 0, len(deduped))
	for _, m := range deduped {
		if !known[m] {
			result.AddSkipped(m, "member not in tenant")
			continue
		}
		targets = append(targets, m)
	}
	return targets, nil
}

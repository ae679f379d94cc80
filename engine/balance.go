/*
balance.go - The Balance Tracker

PURPOSE:
  The only code allowed to mutate a member's advance balance. Credit and
  debit are always paired 1:1 with an audit entry written through the
  same store handle, so inside a transaction the balance change and its
  explanation commit together - a balance change without an audit entry
  is a defect.

CONTRACT:
  credit(member, amount): balance += amount (amount clamped at >= 0)
  debit(member, amount):  balance -= min(amount, balance), returns the
                          actually-debited amount; never goes negative

SEE ALSO:
  - ledger/types.go: MemberBalance invariants
  - reversal.go: debit floored at zero when credit was already spent
*/
package engine

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/warp/dues-engine/ledger"
)

// credit increases a member's advance balance and logs the delta.
// Callers must hold the member's lock and pass the transactional store.
func (e *Engine) credit(ctx context.Context, s ledger.Store, tenant ledger.TenantID, member ledger.MemberID, amount decimal.Decimal, action ledger.AuditAction, subject string, details map[string]string) error {
	if !amount.IsPositive() {
		return nil
	}

	bal, err := s.GetBalance(ctx, tenant, member)
	if err != nil {
		return fmt.Errorf("read balance: %w", err)
	}
	if bal == nil {
		bal = &ledger.MemberBalance{TenantID: tenant, MemberID: member, AdvanceBalance: decimal.Zero}
	}

	before := bal.AdvanceBalance
	bal.AdvanceBalance = bal.AdvanceBalance.Add(amount)
	bal.LastReconciledAt = e.now()
	if err := s.SaveBalance(ctx, *bal); err != nil {
		return fmt.Errorf("save balance: %w", err)
	}

	entry := e.audit(tenant, member, subject, action, mergeDetails(details, map[string]string{
		"balance_before": before.String(),
		"balance_after":  bal.AdvanceBalance.String(),
		"credited":       amount.String(),
	}))
	if err := s.AppendAudit(ctx, entry); err != nil {
		return fmt.Errorf("append audit: %w", err)
	}
	return nil
}

// debit decreases a member's advance balance by at most the current
// balance and logs the delta. Returns the actually-debited amount.
func (e *Engine) debit(ctx context.Context, s ledger.Store, tenant ledger.TenantID, member ledger.MemberID, amount decimal.Decimal, action ledger.AuditAction, subject string, details map[string]string) (decimal.Decimal, error) {
	if !amount.IsPositive() {
		return decimal.Zero, nil
	}

	bal, err := s.GetBalance(ctx, tenant, member)
	if err != nil {
		return decimal.Zero, fmt.Errorf("read balance: %w", err)
	}
	if bal == nil {
		// Nothing to debit; still log the attempt so the trail explains
		// why a reversal recovered less than it applied.
		bal = &ledger.MemberBalance{TenantID: tenant, MemberID: member, AdvanceBalance: decimal.Zero}
	}

	debited := ledger.MinMoney(amount, bal.AdvanceBalance)
	before := bal.AdvanceBalance
	bal.AdvanceBalance = bal.AdvanceBalance.Sub(debited)
	bal.LastReconciledAt = e.now()
	if err := s.SaveBalance(ctx, *bal); err != nil {
		return decimal.Zero, fmt.Errorf("save balance: %w", err)
	}

	entry := e.audit(tenant, member, subject, action, mergeDetails(details, map[string]string{
		"balance_before": before.String(),
		"balance_after":  bal.AdvanceBalance.String(),
		"requested":      amount.String(),
		"debited":        debited.String(),
	}))
	if err := s.AppendAudit(ctx, entry); err != nil {
		return decimal.Zero, fmt.Errorf("append audit: %w", err)
	}
	return debited, nil
}

// AdvanceBalance returns the member's current advance balance (zero when
// no row exists yet).
func (e *Engine) AdvanceBalance(ctx context.Context, tenant ledger.TenantID, member ledger.MemberID) (decimal.Decimal, error) {
	bal, err := e.store.GetBalance(ctx, tenant, member)
	if err != nil {
		return decimal.Zero, err
	}
	if bal == nil {
		return decimal.Zero, nil
	}
	return bal.AdvanceBalance, nil
}

func mergeDetails(base, extra map[string]string) map[string]string {
	out := make(map[string]string, len(base)+len(extra))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range extra {
		out[k] = v
	}
	return out
}

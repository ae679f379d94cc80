/*
approval.go - Member-initiated offline payment requests

PURPOSE:
  Members can report "I paid cash to the treasurer" themselves. Such a
  payment enters pending with approval=requested and is invisible to
  settlement until an admin approves it; the reconciler rejects pending
  approvals with ErrApprovalPending. Approval does not settle - the
  caller runs ReconcilePayment afterwards, same as a gateway webhook.
*/
package engine

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/shopspring/decimal"

	"github.com/warp/dues-engine/ledger"
)

// RequestPaymentInput describes a member-reported offline payment.
type RequestPaymentInput struct {
	TenantID  ledger.TenantID
	MemberID  ledger.MemberID
	Amount    decimal.Decimal
	Reference string
}

// RequestPayment records a member-initiated offline payment awaiting
// approval. Duplicate references return the existing payment, so a
// double-submitted form does not create two requests.
func (e *Engine) RequestPayment(ctx context.Context, in RequestPaymentInput) (*ledger.Payment, error) {
	if !in.Amount.IsPositive() {
		return nil, ledger.ErrInvalidAmount
	}
	known, err := e.store.FilterMembers(ctx, in.TenantID, []ledger.MemberID{in.MemberID})
	if err != nil {
		return nil, fmt.Errorf("filter members: %w", err)
	}
	if !known[in.MemberID] {
		return nil, ledger.ErrMemberNotInTenant
	}

	if in.Reference == "" {
		in.Reference = e.newID()
	} else {
		existing, err := e.store.FindPaymentByReference(ctx, in.TenantID, in.Reference)
		if err == nil {
			return existing, nil
		}
		if !errors.Is(err, ledger.ErrNotFound) {
			return nil, fmt.Errorf("lookup reference: %w", err)
		}
	}

	p := ledger.Payment{
		ID:        ledger.PaymentID(e.newID()),
		TenantID:  in.TenantID,
		MemberID:  in.MemberID,
		Amount:    in.Amount,
		Status:    ledger.PaymentPending,
		Channel:   ledger.ChannelOffline,
		Reference: in.Reference,
		Approval:  ledger.RequestedApproval(e.now()),
		CreatedAt: e.now(),
	}
	if err := e.store.InsertPayments(ctx, []ledger.Payment{p}); err != nil {
		return nil, fmt.Errorf("insert payment: %w", err)
	}
	log.Printf("[Approval] requested payment=%s member=%s amount=%s", p.ID, p.MemberID, p.Amount)
	return &p, nil
}

// ApprovePayment marks a requested payment approved. Idempotent: approving
// an already-approved payment returns it unchanged.
func (e *Engine) ApprovePayment(ctx context.Context, tenant ledger.TenantID, id ledger.PaymentID, approvedBy string) (*ledger.Payment, error) {
	p, err := e.store.GetPayment(ctx, id)
	if err != nil {
		return nil, err
	}
	if p.TenantID != tenant {
		return nil, ledger.ErrNotFound
	}
	if p.Approval.State == ledger.ApprovalApproved {
		return p, nil
	}
	if !p.Approval.Pending() {
		return nil, fmt.Errorf("payment %s has no approval request", p.ID)
	}

	p.Approval = p.Approval.Approve(e.now(), approvedBy)
	if err := e.store.UpdatePayment(ctx, *p); err != nil {
		return nil, fmt.Errorf("update payment: %w", err)
	}
	log.Printf("[Approval] approved payment=%s by=%s", p.ID, approvedBy)
	return p, nil
}

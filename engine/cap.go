/*
cap.go - The Yearly Cap Validator

PURPOSE:
  Answers one question: would this amount push the member past the
  category's annual contribution ceiling? Two check kinds exist because
  the ceiling is measured differently for money in vs. obligations out:

  - payment:    deny if amount > cap - paidThisYear
  - generation: deny if generatedThisYear + amount > cap, and deny a
                13th recurring due in the same year at the base amount

  A denial is an expected business outcome, not an error. It is logged
  to the audit trail and reported as allowed=false; the caller decides
  whether that means "skip the member" (bulk generator) or "reject the
  request" (API).

SEE ALSO:
  - ledger/roster.go: Category.YearlyCap, nil means uncapped
  - generator.go: consumes generation checks as per-member skips
*/
package engine

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/warp/dues-engine/ledger"
)

type CapCheckKind string

const (
	CapCheckPayment    CapCheckKind = "payment"
	CapCheckGeneration CapCheckKind = "generation"
)

// CapCheck is the validator's verdict plus the numbers behind it.
type CapCheck struct {
	Allowed bool `json:"allowed"`

	// RemainingAllowance is how much the member could still pay (payment
	// checks) or be assigned (generation checks) this year. Meaningless
	// when Capped is false.
	RemainingAllowance decimal.Decimal `json:"remaining_allowance"`

	Capped            bool            `json:"capped"`
	PaidThisYear      decimal.Decimal `json:"paid_this_year"`
	GeneratedThisYear decimal.Decimal `json:"generated_this_year"`
	Message           string          `json:"message,omitempty"`
}

// ValidateYearlyCap computes the member's yearly summary for a category and
// returns the allow/deny verdict. Denials are written to the audit trail;
// the error return is for persistence failures only.
func (e *Engine) ValidateYearlyCap(ctx context.Context, tenant ledger.TenantID, member ledger.MemberID, categoryID ledger.CategoryID, year int, amount decimal.Decimal, kind CapCheckKind) (CapCheck, error) {
	cat, err := e.store.GetCategory(ctx, tenant, categoryID)
	if err != nil {
		return CapCheck{}, fmt.Errorf("load category %s: %w", categoryID, err)
	}

	check, err := e.capCheck(ctx, e.store, tenant, member, *cat, year, amount, kind)
	if err != nil {
		return CapCheck{}, err
	}
	if !check.Allowed {
		action := ledger.AuditCapPaymentRejected
		if kind == CapCheckGeneration {
			action = ledger.AuditCapGenerationSkipped
		}
		entry := e.audit(tenant, member, string(categoryID), action, map[string]string{
			"year":      fmt.Sprintf("%d", year),
			"requested": amount.String(),
			"remaining": check.RemainingAllowance.String(),
			"reason":    check.Message,
		})
		if err := e.store.AppendAudit(ctx, entry); err != nil {
			return CapCheck{}, fmt.Errorf("append audit: %w", err)
		}
	}
	return check, nil
}

// capCheck is the storage-agnostic core shared with the bulk generator,
// which runs it against pre-fetched state inside its own flow.
func (e *Engine) capCheck(ctx context.Context, s ledger.Store, tenant ledger.TenantID, member ledger.MemberID, cat ledger.Category, year int, amount decimal.Decimal, kind CapCheckKind) (CapCheck, error) {
	check := CapCheck{Allowed: true, Capped: cat.YearlyCap != nil}

	dues, err := s.DuesInYear(ctx, tenant, member, cat.ID, year)
	if err != nil {
		return CapCheck{}, fmt.Errorf("dues in year: %w", err)
	}
	for _, d := range dues {
		check.GeneratedThisYear = check.GeneratedThisYear.Add(d.Amount)
	}

	// A 13th recurring due at the base amount in one calendar year can only
	// be a generation bug upstream; deny it even for uncapped categories.
	if kind == CapCheckGeneration && cat.Recurring && amount.Equal(cat.Amount) && len(dues) >= 12 {
		check.Allowed = false
		check.Message = fmt.Sprintf("member already has %d %s dues in %d", len(dues), cat.Name, year)
		if check.Capped {
			check.RemainingAllowance = remaining(*cat.YearlyCap, check.GeneratedThisYear)
		}
		return check, nil
	}

	if !check.Capped {
		return check, nil
	}
	limit := *cat.YearlyCap

	switch kind {
	case CapCheckPayment:
		payments, err := s.PaymentsInYear(ctx, tenant, member, year)
		if err != nil {
			return CapCheck{}, fmt.Errorf("payments in year: %w", err)
		}
		for _, p := range payments {
			if p.Status == ledger.PaymentPaid {
				check.PaidThisYear = check.PaidThisYear.Add(p.Amount)
			}
		}
		check.RemainingAllowance = remaining(limit, check.PaidThisYear)
		if amount.GreaterThan(check.RemainingAllowance) {
			check.Allowed = false
			check.Message = fmt.Sprintf("payment of %s exceeds remaining yearly allowance %s", amount, check.RemainingAllowance)
		}

	case CapCheckGeneration:
		check.RemainingAllowance = remaining(limit, check.GeneratedThisYear)
		if check.GeneratedThisYear.Add(amount).GreaterThan(limit) {
			check.Allowed = false
			check.Message = fmt.Sprintf("generating %s exceeds yearly cap %s (already generated %s)", amount, limit, check.GeneratedThisYear)
		}

	default:
		return CapCheck{}, fmt.Errorf("unknown cap check kind %q", kind)
	}
	return check, nil
}

func remaining(limit, used decimal.Decimal) decimal.Decimal {
	rem := limit.Sub(used)
	if rem.IsNegative() {
		return decimal.Zero
	}
	return rem
}

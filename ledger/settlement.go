/*
settlement.go - The Due Settlement Algorithm

PURPOSE:
  The one algorithm that moves money onto dues. Given an amount and an
  ordered list of due snapshots, apply as much as possible to each due in
  list order and report what happened plus the unapplied remainder.

RULE (per due):
  applied   = min(remainder, amount - paidAmount)
  paid     += applied
  status    = StatusFor(paid, amount)
  remainder -= applied
  stop early once remainder == 0

EDGE CASES:
  - A due already fully paid is passed through with applied = 0
  - An amount of 0 is a no-op: every due returned with zero application

PURITY:
  This is a pure function over in-memory Due snapshots. Callers persist
  the results and choose the ordering - the Bulk Payment Recorder passes
  a single oldest due, the Single Payment Reconciler passes every open
  due oldest-first. The asymmetry is deliberate (manual batch entry vs.
  automated settlement).

SEE ALSO:
  - engine/recorder.go, engine/reconciler.go: the two orderings
*/
package ledger

import "github.com/shopspring/decimal"

// Application describes the effect of settlement on one due.
type Application struct {
	Due       Due // post-application snapshot
	Applied   decimal.Decimal
	NewStatus DueStatus
}

// Touched reports whether any money actually landed on this due.
func (a Application) Touched() bool {
	return a.Applied.IsPositive()
}

// Settle applies amount to dues in list order. Every input due produces an
// Application (applied may be zero); the second return is the unapplied
// remainder. Negative amounts are treated as zero.
func Settle(amount decimal.Decimal, dues []Due) ([]Application, decimal.Decimal) {
	remainder := amount
	if remainder.IsNegative() {
		remainder = decimal.Zero
	}

	apps := make([]Application, 0, len(dues))
	for _, due := range dues {
		applied := MinMoney(remainder, due.Outstanding())
		if applied.IsPositive() {
			due.PaidAmount = due.PaidAmount.Add(applied)
			due.Status = StatusFor(due.PaidAmount, due.Amount)
			remainder = remainder.Sub(applied)
		}
		apps = append(apps, Application{
			Due:       due,
			Applied:   applied,
			NewStatus: due.Status,
		})
		// Remaining dues still get zero-application entries, so no break
		// here; the loop body is O(1) once the remainder is exhausted.
	}
	return apps, remainder
}

// TotalApplied sums the applied amounts of a settlement run.
func TotalApplied(apps []Application) decimal.Decimal {
	total := decimal.Zero
	for _, a := range apps {
		total = total.Add(a.Applied)
	}
	return total
}

package ledger_test

import (
	"testing"

	"github.com/shopspring/decimal"

	"github.com/warp/dues-engine/ledger"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

func money(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

func due(id string, amount, paid string) ledger.Due {
	d := ledger.Due{
		ID:         ledger.DueID(id),
		TenantID:   "t1",
		MemberID:   "m1",
		CategoryID: "c1",
		Amount:     money(amount),
		PaidAmount: money(paid),
	}
	d.Status = ledger.StatusFor(d.PaidAmount, d.Amount)
	return d
}

func assertMoney(t *testing.T, got decimal.Decimal, want string, label string) {
	t.Helper()
	if !got.Equal(money(want)) {
		t.Errorf("%s = %s, want %s", label, got, want)
	}
}

// =============================================================================
// SETTLEMENT ALGORITHM
// =============================================================================

func TestSettleExactAmount(t *testing.T) {
	// GIVEN: one due of 500, payment of 500
	apps, rem := ledger.Settle(money("500"), []ledger.Due{due("d1", "500", "0")})

	// THEN: due fully paid, nothing left over
	if len(apps) != 1 {
		t.Fatalf("expected 1 application, got %d", len(apps))
	}
	assertMoney(t, apps[0].Applied, "500", "applied")
	if apps[0].NewStatus != ledger.DuePaid {
		t.Errorf("status = %s, want paid", apps[0].NewStatus)
	}
	assertMoney(t, rem, "0", "remainder")
}

func TestSettleOverpaymentLeavesRemainder(t *testing.T) {
	// GIVEN: one due of 500, payment of 700
	apps, rem := ledger.Settle(money("700"), []ledger.Due{due("d1", "500", "0")})

	// THEN: 500 applied, 200 remainder for the caller to credit
	assertMoney(t, apps[0].Applied, "500", "applied")
	assertMoney(t, rem, "200", "remainder")
}

func TestSettleSpreadsAcrossDuesInOrder(t *testing.T) {
	// GIVEN: two dues of 300 each, payment of 400
	dues := []ledger.Due{due("jan", "300", "0"), due("feb", "300", "0")}

	apps, rem := ledger.Settle(money("400"), dues)

	// THEN: first fully paid, second partial at 100
	assertMoney(t, apps[0].Applied, "300", "first applied")
	if apps[0].NewStatus != ledger.DuePaid {
		t.Errorf("first status = %s, want paid", apps[0].NewStatus)
	}
	assertMoney(t, apps[1].Applied, "100", "second applied")
	if apps[1].NewStatus != ledger.DuePartial {
		t.Errorf("second status = %s, want partial", apps[1].NewStatus)
	}
	assertMoney(t, rem, "0", "remainder")
	assertMoney(t, ledger.TotalApplied(apps), "400", "total applied")
}

func TestSettlePartiallyPaidDue(t *testing.T) {
	// GIVEN: a due of 200 with 50 already paid
	apps, rem := ledger.Settle(money("100"), []ledger.Due{due("d1", "200", "50")})

	// THEN: only the outstanding 150 can absorb; 100 applied, still partial
	assertMoney(t, apps[0].Applied, "100", "applied")
	assertMoney(t, apps[0].Due.PaidAmount, "150", "paid amount")
	if apps[0].NewStatus != ledger.DuePartial {
		t.Errorf("status = %s, want partial", apps[0].NewStatus)
	}
	assertMoney(t, rem, "0", "remainder")
}

func TestSettleSkipsFullyPaidDue(t *testing.T) {
	// GIVEN: a paid due ahead of an open one
	dues := []ledger.Due{due("paid", "100", "100"), due("open", "100", "0")}

	apps, rem := ledger.Settle(money("100"), dues)

	// THEN: the paid due passes through with zero application
	assertMoney(t, apps[0].Applied, "0", "paid due applied")
	assertMoney(t, apps[1].Applied, "100", "open due applied")
	assertMoney(t, rem, "0", "remainder")
}

func TestSettleZeroAmountIsNoOp(t *testing.T) {
	dues := []ledger.Due{due("d1", "100", "0"), due("d2", "200", "50")}

	apps, rem := ledger.Settle(decimal.Zero, dues)

	if len(apps) != 2 {
		t.Fatalf("expected every due returned, got %d", len(apps))
	}
	for _, a := range apps {
		if a.Touched() {
			t.Errorf("due %s touched by zero settlement", a.Due.ID)
		}
	}
	assertMoney(t, rem, "0", "remainder")
}

func TestSettleNegativeAmountTreatedAsZero(t *testing.T) {
	apps, rem := ledger.Settle(money("-50"), []ledger.Due{due("d1", "100", "0")})

	assertMoney(t, apps[0].Applied, "0", "applied")
	assertMoney(t, rem, "0", "remainder")
}

func TestSettleEmptyDueList(t *testing.T) {
	apps, rem := ledger.Settle(money("300"), nil)

	if len(apps) != 0 {
		t.Fatalf("expected no applications, got %d", len(apps))
	}
	assertMoney(t, rem, "300", "remainder")
}

// =============================================================================
// DUE STATUS RULES
// =============================================================================

func TestStatusFor(t *testing.T) {
	cases := []struct {
		paid, amount string
		want         ledger.DueStatus
	}{
		{"0", "100", ledger.DueUnpaid},
		{"50", "100", ledger.DuePartial},
		{"100", "100", ledger.DuePaid},
		{"150", "100", ledger.DuePaid},
		{"0", "0", ledger.DuePaid},
	}
	for _, c := range cases {
		if got := ledger.StatusFor(money(c.paid), money(c.amount)); got != c.want {
			t.Errorf("StatusFor(%s, %s) = %s, want %s", c.paid, c.amount, got, c.want)
		}
	}
}

func TestRecomputeClampsOverpayment(t *testing.T) {
	// GIVEN: a due whose recomputed paid exceeds its amount
	d := due("d1", "100", "0")
	d.PaidAmount = money("130")

	clamped := d.Recompute()

	if !clamped {
		t.Error("expected clamp to fire")
	}
	assertMoney(t, d.PaidAmount, "100", "paid amount")
	if d.Status != ledger.DuePaid {
		t.Errorf("status = %s, want paid", d.Status)
	}
}

func TestRecomputeClampsNegative(t *testing.T) {
	d := due("d1", "100", "0")
	d.PaidAmount = money("-5")

	clamped := d.Recompute()

	if !clamped {
		t.Error("expected clamp to fire")
	}
	assertMoney(t, d.PaidAmount, "0", "paid amount")
	if d.Status != ledger.DueUnpaid {
		t.Errorf("status = %s, want unpaid", d.Status)
	}
}

func TestOutstanding(t *testing.T) {
	assertMoney(t, due("d1", "200", "50").Outstanding(), "150", "outstanding")
	assertMoney(t, due("d2", "200", "200").Outstanding(), "0", "outstanding when paid")
}

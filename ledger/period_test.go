package ledger_test

import (
	"testing"
	"time"

	"github.com/warp/dues-engine/ledger"
)

func TestParsePeriod(t *testing.T) {
	p, err := ledger.ParsePeriod("2026-03")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.Year != 2026 || p.Month != time.March {
		t.Errorf("got %v, want 2026-03", p)
	}
}

func TestParsePeriodRejectsGarbage(t *testing.T) {
	for _, s := range []string{"", "2026", "2026-13", "march-2026", "2026-3"} {
		if _, err := ledger.ParsePeriod(s); err == nil {
			t.Errorf("ParsePeriod(%q) accepted invalid input", s)
		}
	}
}

func TestPeriodString(t *testing.T) {
	if got := ledger.NewPeriod(2026, time.January).String(); got != "2026-01" {
		t.Errorf("String() = %q, want 2026-01", got)
	}
	if got := ledger.NewPeriod(812, time.December).String(); got != "0812-12" {
		t.Errorf("String() = %q, want zero-padded year", got)
	}
}

func TestPeriodNextRollsOverYear(t *testing.T) {
	next := ledger.NewPeriod(2026, time.December).Next()
	if next.Year != 2027 || next.Month != time.January {
		t.Errorf("Next() = %v, want 2027-01", next)
	}
}

func TestNewPeriodNormalizesMonth(t *testing.T) {
	// time.Date normalization: month 14 of 2026 is February 2027.
	p := ledger.NewPeriod(2026, time.Month(14))
	if p.Year != 2027 || p.Month != time.February {
		t.Errorf("got %v, want 2027-02", p)
	}
}

func TestPeriodOf(t *testing.T) {
	p := ledger.PeriodOf(time.Date(2026, time.July, 31, 23, 59, 0, 0, time.UTC))
	if !p.Equal(ledger.NewPeriod(2026, time.July)) {
		t.Errorf("got %v, want 2026-07", p)
	}
}

func TestPeriodOrdering(t *testing.T) {
	jan := ledger.NewPeriod(2026, time.January)
	feb := ledger.NewPeriod(2026, time.February)
	prevDec := ledger.NewPeriod(2025, time.December)

	if !prevDec.Before(jan) {
		t.Error("2025-12 should sort before 2026-01")
	}
	if !jan.Before(feb) {
		t.Error("2026-01 should sort before 2026-02")
	}
	if feb.Before(jan) {
		t.Error("2026-02 should not sort before 2026-01")
	}
	if !jan.Equal(jan) || jan.Equal(feb) {
		t.Error("Equal misbehaving")
	}
}

func TestPeriodStart(t *testing.T) {
	start := ledger.NewPeriod(2026, time.June).Start()
	want := time.Date(2026, time.June, 1, 0, 0, 0, 0, time.UTC)
	if !start.Equal(want) {
		t.Errorf("Start() = %v, want %v", start, want)
	}
}

func TestPeriodIsZero(t *testing.T) {
	if !(ledger.Period{}).IsZero() {
		t.Error("zero value should be zero")
	}
	if ledger.NewPeriod(2026, time.January).IsZero() {
		t.Error("real period reported zero")
	}
}

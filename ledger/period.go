package ledger

import (
	"fmt"
	"time"
)

// =============================================================================
// PERIOD - A year-month billing period
// =============================================================================

// Period identifies the month a due belongs to. Dues are unique per
// (tenant, member, category, period).
type Period struct {
	Year  int
	Month time.Month
}

// NewPeriod builds a period, normalizing out-of-range months via time.Date.
func NewPeriod(year int, month time.Month) Period {
	t := time.Date(year, month, 1, 0, 0, 0, 0, time.UTC)
	return Period{Year: t.Year(), Month: t.Month()}
}

// PeriodOf returns the period containing t.
func PeriodOf(t time.Time) Period {
	return Period{Year: t.Year(), Month: t.Month()}
}

// ParsePeriod parses "2006-01" formatted strings.
func ParsePeriod(s string) (Period, error) {
	t, err := time.Parse("2006-01", s)
	if err != nil {
		return Period{}, fmt.Errorf("invalid period %q (want YYYY-MM): %w", s, err)
	}
	return PeriodOf(t), nil
}

func (p Period) String() string {
	return fmt.Sprintf("%04d-%02d", p.Year, int(p.Month))
}

// Start returns midnight UTC on the first day of the period.
func (p Period) Start() time.Time {
	return time.Date(p.Year, p.Month, 1, 0, 0, 0, 0, time.UTC)
}

func (p Period) Next() Period {
	return NewPeriod(p.Year, p.Month+1)
}

func (p Period) Before(other Period) bool {
	if p.Year != other.Year {
		return p.Year < other.Year
	}
	return p.Month < other.Month
}

func (p Period) Equal(other Period) bool {
	return p.Year == other.Year && p.Month == other.Month
}

func (p Period) IsZero() bool {
	return p.Year == 0 && p.Month == 0
}

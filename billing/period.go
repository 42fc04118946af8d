package billing

import (
	"fmt"
	"strings"
	"time"
)

// =============================================================================
// PERIOD - The unit a booking is billed against
// =============================================================================

// Period is a calendar month. At most one Payment per booking exists for a
// given Period.
type Period struct {
	Year  int
	Month time.Month
}

// PeriodOf returns the billing period containing d.
func PeriodOf(d Date) Period {
	return Period{Year: d.Year(), Month: d.Month()}
}

// ParsePeriod parses "YYYY-MM".
func ParsePeriod(s string) (Period, error) {
	t, err := time.Parse("2006-01", s)
	if err != nil {
		return Period{}, fmt.Errorf("%w: %q", ErrInvalidPeriod, s)
	}
	return Period{Year: t.Year(), Month: t.Month()}, nil
}

// String returns the zero-padded "YYYY-MM" form.
func (p Period) String() string {
	return fmt.Sprintf("%04d-%02d", p.Year, int(p.Month))
}

func (p Period) IsZero() bool { return p.Year == 0 && p.Month == 0 }
func (p Period) Days() int    { return DaysInMonth(p.Year, p.Month) }
func (p Period) Start() Date  { return StartOfMonth(p.Year, p.Month) }
func (p Period) End() Date    { return EndOfMonth(p.Year, p.Month) }

func (p Period) Contains(d Date) bool {
	return d.Year() == p.Year && d.Month() == p.Month
}

// Next returns the following month.
func (p Period) Next() Period {
	return PeriodOf(p.Start().AddDays(p.Days()))
}

// Previous returns the preceding month.
func (p Period) Previous() Period {
	return PeriodOf(p.Start().AddDays(-1))
}

// =============================================================================
// REFERENCE - Idempotency key for (booking, period)
// =============================================================================

// ReferencePrefix marks references created by the recurring generator.
const ReferencePrefix = "REC-"

// Reference builds the idempotency key "REC-<bookingID>-<YYYY-MM>".
// The period has a fixed width at the end, so booking ids containing "-"
// still parse back unambiguously.
func Reference(bookingID BookingID, period Period) string {
	return ReferencePrefix + string(bookingID) + "-" + period.String()
}

// ParseReference is the inverse of Reference.
func ParseReference(ref string) (BookingID, Period, error) {
	const suffixLen = len("-2006-01")
	if !strings.HasPrefix(ref, ReferencePrefix) || len(ref) <= len(ReferencePrefix)+suffixLen {
		return "", Period{}, fmt.Errorf("%w: %q", ErrInvalidReference, ref)
	}
	body := ref[len(ReferencePrefix):]
	split := len(body) - suffixLen
	if body[split] != '-' {
		return "", Period{}, fmt.Errorf("%w: %q", ErrInvalidReference, ref)
	}
	period, err := ParsePeriod(body[split+1:])
	if err != nil {
		return "", Period{}, fmt.Errorf("%w: %q", ErrInvalidReference, ref)
	}
	return BookingID(body[:split]), period, nil
}

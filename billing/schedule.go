package billing

import "time"

// =============================================================================
// BILLING DAY RESOLUTION
// =============================================================================

// ResolvedBillingDay returns the day of today's month on which b is billed.
//
// Resolution order: explicit BillingDay (>= 1), day of CreatedAt observed in
// loc, then 1. loc must be the zone today was computed in; nil keeps the
// location CreatedAt carries. The result is clamped to the length of today's
// month, so a booking created on the 31st bills on the 28th/29th in February
// and the 30th in April.
func ResolvedBillingDay(b Booking, today Date, loc *time.Location) int {
	day := 1
	switch {
	case b.BillingDay != nil && *b.BillingDay >= 1:
		day = *b.BillingDay
	case !b.CreatedAt.IsZero():
		day = DateOf(b.CreatedAt, loc).Day()
	}

	if last := DaysInMonth(today.Year(), today.Month()); day > last {
		day = last
	}
	return day
}

// IsDueToday reports whether b's billing period fires on today.
// Stateless: it has no memory of earlier runs.
func IsDueToday(b Booking, today Date, loc *time.Location) bool {
	return today.Day() == ResolvedBillingDay(b, today, loc)
}

// =============================================================================
// CATCH-UP WINDOW
// =============================================================================

// DayResolver evaluates a booking over a trailing window of days so that a
// missed daily run can be made up on the next one. With CatchUpDays == 0 it
// is exactly IsDueToday.
type DayResolver struct {
	CatchUpDays int
	Location    *time.Location
}

// DueDates returns the dates in [today-CatchUpDays, today] on which b was
// due, oldest first. Dates before the booking's creation day are ignored.
func (r DayResolver) DueDates(b Booking, today Date) []Date {
	var created Date
	if !b.CreatedAt.IsZero() {
		created = DateOf(b.CreatedAt, r.Location)
	}

	var dates []Date
	for offset := max(r.CatchUpDays, 0); offset >= 0; offset-- {
		d := today.AddDays(-offset)
		if offset > 0 && !created.IsZero() && d.Before(created) {
			continue
		}
		if IsDueToday(b, d, r.Location) {
			dates = append(dates, d)
		}
	}
	return dates
}

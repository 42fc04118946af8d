package billing_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MiniBodegas/Quarto-sub001/billing"
)

func dayPtr(d int) *int { return &d }

func createdOn(year int, month time.Month, day int) time.Time {
	return time.Date(year, month, day, 9, 30, 0, 0, time.UTC)
}

// =============================================================================
// BILLING DAY RESOLUTION
// =============================================================================

func TestResolvedBillingDay_CreatedOn31st_ClampsToMonthLength(t *testing.T) {
	// GIVEN: a booking created on January 31 with no explicit billing day
	b := billing.Booking{CreatedAt: createdOn(2023, time.January, 31)}

	tests := []struct {
		name  string
		today billing.Date
		want  int
	}{
		{"february non-leap", billing.NewDate(2023, time.February, 10), 28},
		{"february leap", billing.NewDate(2024, time.February, 10), 29},
		{"march", billing.NewDate(2023, time.March, 1), 31},
		{"april", billing.NewDate(2023, time.April, 1), 30},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, billing.ResolvedBillingDay(b, tt.today, time.UTC))
		})
	}
}

func TestIsDueToday_BillingDay31_InLeapFebruary(t *testing.T) {
	// GIVEN: billing day 31
	b := billing.Booking{BillingDay: dayPtr(31), CreatedAt: createdOn(2023, time.May, 2)}

	// THEN: due on the last day of February 2024 only
	assert.True(t, billing.IsDueToday(b, billing.NewDate(2024, time.February, 29), time.UTC))
	assert.False(t, billing.IsDueToday(b, billing.NewDate(2024, time.February, 28), time.UTC))
}

func TestResolvedBillingDay_Fallbacks(t *testing.T) {
	today := billing.NewDate(2024, time.March, 10)

	tests := []struct {
		name    string
		booking billing.Booking
		want    int
	}{
		{"explicit day wins", billing.Booking{BillingDay: dayPtr(12), CreatedAt: createdOn(2024, time.January, 3)}, 12},
		{"created day", billing.Booking{CreatedAt: createdOn(2024, time.January, 3)}, 3},
		{"zero billing day treated as absent", billing.Booking{BillingDay: dayPtr(0), CreatedAt: createdOn(2024, time.January, 7)}, 7},
		{"negative billing day treated as absent", billing.Booking{BillingDay: dayPtr(-4), CreatedAt: createdOn(2024, time.January, 7)}, 7},
		{"nothing known", billing.Booking{}, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, billing.ResolvedBillingDay(tt.booking, today, time.UTC))
		})
	}
}

func TestIsDueToday_OnlyOnResolvedDay(t *testing.T) {
	b := billing.Booking{BillingDay: dayPtr(15)}

	for day := 1; day <= 31; day++ {
		due := billing.IsDueToday(b, billing.NewDate(2024, time.January, day), time.UTC)
		assert.Equal(t, day == 15, due, "day %d", day)
	}
}

func TestResolvedBillingDay_CreationDayInBillingTimezone(t *testing.T) {
	bogota, err := time.LoadLocation("America/Bogota")
	require.NoError(t, err)

	// GIVEN: created Jan 31 21:00 in Bogota, which is Feb 1 02:00 UTC
	created := time.Date(2024, time.January, 31, 21, 0, 0, 0, bogota)
	local := billing.Booking{CreatedAt: created}
	utc := billing.Booking{CreatedAt: created.UTC()}
	feb29 := billing.NewDate(2024, time.February, 29)

	// THEN: both copies resolve to the 31st (clamped to the 29th)
	assert.Equal(t, 29, billing.ResolvedBillingDay(local, feb29, bogota))
	assert.Equal(t, 29, billing.ResolvedBillingDay(utc, feb29, bogota))
	assert.True(t, billing.IsDueToday(utc, feb29, bogota))

	// AND: the catch-up window uses the same zone for the creation date
	r := billing.DayResolver{CatchUpDays: 2, Location: bogota}
	dates := r.DueDates(utc, billing.NewDate(2024, time.February, 1))
	require.Len(t, dates, 1)
	assert.Equal(t, "2024-01-31", dates[0].String())
}

// =============================================================================
// CATCH-UP WINDOW
// =============================================================================

func TestDueDates_NoCatchUp_MatchesIsDueToday(t *testing.T) {
	b := billing.Booking{BillingDay: dayPtr(5)}
	r := billing.DayResolver{}

	assert.Len(t, r.DueDates(b, billing.NewDate(2024, time.March, 5)), 1)
	assert.Empty(t, r.DueDates(b, billing.NewDate(2024, time.March, 6)))
}

func TestDueDates_CatchUp_FindsMissedDay(t *testing.T) {
	// GIVEN: the run of March 5 was missed
	b := billing.Booking{BillingDay: dayPtr(5), CreatedAt: createdOn(2023, time.June, 1)}
	r := billing.DayResolver{CatchUpDays: 3}

	// WHEN: the next run happens on March 7
	dates := r.DueDates(b, billing.NewDate(2024, time.March, 7))

	// THEN: March 5 is reported as due
	require.Len(t, dates, 1)
	assert.Equal(t, "2024-03-05", dates[0].String())
}

func TestDueDates_CatchUp_AcrossMonthBoundary_OldestFirst(t *testing.T) {
	// GIVEN: billing day 1 and a window reaching into the previous month
	b := billing.Booking{BillingDay: dayPtr(1), CreatedAt: createdOn(2023, time.June, 1)}
	r := billing.DayResolver{CatchUpDays: 40}

	dates := r.DueDates(b, billing.NewDate(2024, time.March, 1))

	require.Len(t, dates, 2)
	assert.Equal(t, "2024-02-01", dates[0].String())
	assert.Equal(t, "2024-03-01", dates[1].String())
}

func TestDueDates_CatchUp_IgnoresDaysBeforeCreation(t *testing.T) {
	// GIVEN: booking created on March 6, billing day 5
	b := billing.Booking{BillingDay: dayPtr(5), CreatedAt: createdOn(2024, time.March, 6)}
	r := billing.DayResolver{CatchUpDays: 5}

	// THEN: March 5 predates the booking and is not billed
	assert.Empty(t, r.DueDates(b, billing.NewDate(2024, time.March, 7)))
}

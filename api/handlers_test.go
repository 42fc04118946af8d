/*
handlers_test.go - Unit tests for API handlers

Tests for:
- Pricing quotes and tier listing
- Manual billing runs (idempotency, failures, validation)
- Booking billing day and payment listing
- Run history, reset and health
*/
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/MiniBodegas/Quarto-sub001/billing"
	"github.com/MiniBodegas/Quarto-sub001/pricing"
	"github.com/MiniBodegas/Quarto-sub001/store/memory"
)

// =============================================================================
// TEST SETUP
// =============================================================================

type testServer struct {
	store  *memory.Store
	router http.Handler
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	return newTestServerWithBookings(t, nil)
}

// newTestServerWithBookings overrides the booking source of the generator
// when bookings is non-nil.
func newTestServerWithBookings(t *testing.T, bookings billing.BookingStore) *testServer {
	t.Helper()
	logger := zaptest.NewLogger(t)
	st := memory.New()
	if bookings == nil {
		bookings = st
	}

	gen := billing.NewGenerator(billing.Stores{
		Bookings:  bookings,
		Inventory: st,
		Payments:  st,
	}, billing.Options{
		Pricer:        billing.FlatRate{PerCubicMeter: decimal.NewFromInt(75000)},
		Currency:      "COP",
		PaymentMethod: "PSE",
	}, logger)
	runner := billing.NewRunner(gen, st, logger)
	calc := pricing.NewCalculator(pricing.DefaultTiers())

	h := NewHandler(st, calc, runner, time.UTC, "COP", logger)
	return &testServer{store: st, router: NewRouter(h, RouterOptions{})}
}

func (s *testServer) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func (s *testServer) loadScenario(t *testing.T, id string) {
	t.Helper()
	rec := s.do(t, http.MethodPost, "/api/scenarios/load", LoadScenarioRequest{ScenarioID: id})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
}

func (s *testServer) run(t *testing.T, date string) RunResultDTO {
	t.Helper()
	rec := s.do(t, http.MethodPost, "/api/billing/run", TriggerRunRequest{Date: date})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	return decode[RunResultDTO](t, rec)
}

// =============================================================================
// PRICING
// =============================================================================

func TestQuote(t *testing.T) {
	srv := newTestServer(t)

	tests := []struct {
		name         string
		volume       string
		wantPrice    int64
		extrapolated bool
	}{
		{"inside first tier", "0.5", 80900, false},
		{"between tiers", "1.5", 147000, false},
		{"largest tier", "10", 570000, false},
		{"above the table", "12", 666000, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := srv.do(t, http.MethodGet, "/api/pricing/quote?volume="+tt.volume, nil)

			require.Equal(t, http.StatusOK, rec.Code)
			quote := decode[QuoteDTO](t, rec)
			assert.Equal(t, tt.wantPrice, quote.Price)
			assert.Equal(t, tt.extrapolated, quote.Extrapolated)
			assert.Equal(t, "COP", quote.Currency)
		})
	}
}

func TestQuote_InvalidVolume(t *testing.T) {
	srv := newTestServer(t)

	for _, path := range []string{"/api/pricing/quote", "/api/pricing/quote?volume=lots"} {
		rec := srv.do(t, http.MethodGet, path, nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code, path)
	}
}

func TestListTiers(t *testing.T) {
	srv := newTestServer(t)

	rec := srv.do(t, http.MethodGet, "/api/pricing/tiers", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	tiers := decode[[]TierDTO](t, rec)
	require.Len(t, tiers, len(pricing.DefaultTiers()))
	assert.Equal(t, TierDTO{Volume: "1", Price: 80900}, tiers[0])
	assert.Equal(t, "7.5", tiers[4].Volume)
}

// =============================================================================
// MANUAL BILLING RUNS
// =============================================================================

func TestTriggerBillingRun_FallbackChain(t *testing.T) {
	// GIVEN: one booking per amount source, all billed on the 5th
	srv := newTestServer(t)
	srv.loadScenario(t, "fallback-chain")

	// WHEN: billing runs on March 5
	result := srv.run(t, "2024-03-05")

	// THEN: each booking is charged from its own source
	require.Len(t, result.Payments, 4)
	amounts := map[string]int64{}
	for _, p := range result.Payments {
		amounts[p.BookingID] = p.AmountInCents
		assert.Equal(t, "PENDING", p.Status)
		assert.Equal(t, "2024-03", p.Period)
	}
	assert.Equal(t, int64(32000000), amounts["bk-monthly"])   // agreed monthly amount
	assert.Equal(t, int64(11700000), amounts["bk-inventory"]) // 45000 + 12*3500 + 2*15000
	assert.Equal(t, int64(26250000), amounts["bk-volume"])    // 3.5 m3 * 75000
	assert.Equal(t, int64(0), amounts["bk-unpriced"])
	assert.Equal(t, "completed", result.Run.Status)
	assert.Equal(t, "manual", result.Run.Trigger)
}

func TestTriggerBillingRun_Idempotent(t *testing.T) {
	srv := newTestServer(t)
	srv.loadScenario(t, "fallback-chain")

	first := srv.run(t, "2024-03-05")
	second := srv.run(t, "2024-03-05")

	assert.Len(t, first.Payments, 4)
	assert.Empty(t, second.Payments)
	assert.Equal(t, 4, second.SkipReasons["already_billed"])
	assert.Len(t, srv.store.Payments(), 4)
}

func TestTriggerBillingRun_MonthEndInLeapFebruary(t *testing.T) {
	srv := newTestServer(t)
	srv.loadScenario(t, "month-end")

	result := srv.run(t, "2024-02-29")

	billed := map[string]bool{}
	for _, p := range result.Payments {
		billed[p.BookingID] = true
	}
	assert.True(t, billed["bk-anchor-31"], "created on Jan 31, clamped to Feb 29")
	assert.True(t, billed["bk-day-30"])
	assert.True(t, billed["bk-day-29"])
	assert.False(t, billed["bk-day-28"])
	assert.Equal(t, 1, result.SkipReasons["not_due"])
}

func TestTriggerBillingRun_MixedPortfolio(t *testing.T) {
	srv := newTestServer(t)
	srv.loadScenario(t, "mixed-portfolio")

	result := srv.run(t, "2024-03-15")

	refs := []string{}
	for _, p := range result.Payments {
		refs = append(refs, p.Reference)
	}
	assert.ElementsMatch(t, []string{"REC-bk-active-15-2024-03", "REC-bk-created-15-2024-03"}, refs)
}

func TestTriggerBillingRun_EmptyBodyBillsToday(t *testing.T) {
	srv := newTestServer(t)

	rec := srv.do(t, http.MethodPost, "/api/billing/run", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	result := decode[RunResultDTO](t, rec)
	assert.Equal(t, billing.Today(time.UTC).String(), result.Run.RunDate)
}

func TestTriggerBillingRun_InvalidDate(t *testing.T) {
	srv := newTestServer(t)

	rec := srv.do(t, http.MethodPost, "/api/billing/run", TriggerRunRequest{Date: "29/02/2024"})

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Empty(t, srv.store.Payments())
}

type unreachableBookings struct{}

func (unreachableBookings) ListBookingsWithRecurringCharge(context.Context) ([]billing.Booking, error) {
	return nil, errors.New("connection refused")
}

func TestTriggerBillingRun_ListingFailure(t *testing.T) {
	// GIVEN: the booking source is down
	srv := newTestServerWithBookings(t, unreachableBookings{})

	// WHEN
	rec := srv.do(t, http.MethodPost, "/api/billing/run", TriggerRunRequest{Date: "2024-03-05"})

	// THEN: 500, and the failed run is still in the history
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, decode[ErrorResponse](t, rec).Details, "connection refused")

	runs := decode[[]RunDTO](t, srv.do(t, http.MethodGet, "/api/billing/runs", nil))
	require.Len(t, runs, 1)
	assert.Equal(t, "failed", runs[0].Status)
}

// =============================================================================
// BOOKINGS
// =============================================================================

func TestGetBillingDay(t *testing.T) {
	srv := newTestServer(t)
	srv.loadScenario(t, "month-end")

	rec := srv.do(t, http.MethodGet, "/api/bookings/bk-anchor-31/billing-day?date=2024-02-10", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	dto := decode[BillingDayDTO](t, rec)
	assert.Equal(t, 29, dto.BillingDay)
	assert.False(t, dto.Due)
	assert.Equal(t, "REC-bk-anchor-31-2024-02", dto.Reference)
	assert.False(t, dto.Billed)
}

func TestGetBillingDay_BilledAfterRun(t *testing.T) {
	srv := newTestServer(t)
	srv.loadScenario(t, "month-end")
	srv.run(t, "2024-02-29")

	dto := decode[BillingDayDTO](t, srv.do(t, http.MethodGet, "/api/bookings/bk-anchor-31/billing-day?date=2024-02-29", nil))

	assert.True(t, dto.Due)
	assert.True(t, dto.Billed)
}

func TestGetBillingDay_Errors(t *testing.T) {
	srv := newTestServer(t)
	srv.loadScenario(t, "month-end")

	assert.Equal(t, http.StatusNotFound, srv.do(t, http.MethodGet, "/api/bookings/nope/billing-day", nil).Code)
	assert.Equal(t, http.StatusBadRequest, srv.do(t, http.MethodGet, "/api/bookings/bk-day-30/billing-day?date=yesterday", nil).Code)
}

func TestListBookingPayments(t *testing.T) {
	srv := newTestServer(t)
	srv.loadScenario(t, "fallback-chain")
	srv.run(t, "2024-03-05")
	srv.run(t, "2024-04-05")

	rec := srv.do(t, http.MethodGet, "/api/bookings/bk-monthly/payments", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	payments := decode[[]PaymentDTO](t, rec)
	require.Len(t, payments, 2)
	assert.Equal(t, "REC-bk-monthly-2024-04", payments[0].Reference)
	assert.Equal(t, "REC-bk-monthly-2024-03", payments[1].Reference)
	assert.Equal(t, "PSE", payments[0].PaymentMethod)

	assert.Equal(t, http.StatusNotFound, srv.do(t, http.MethodGet, "/api/bookings/nope/payments", nil).Code)
}

// =============================================================================
// RUN HISTORY AND ADMIN
// =============================================================================

func TestListBillingRuns(t *testing.T) {
	srv := newTestServer(t)
	srv.loadScenario(t, "fallback-chain")
	srv.run(t, "2024-03-05")
	srv.run(t, "2024-03-05")

	runs := decode[[]RunDTO](t, srv.do(t, http.MethodGet, "/api/billing/runs", nil))
	require.Len(t, runs, 2)
	assert.Equal(t, 0, runs[0].Created)
	assert.Equal(t, 4, runs[1].Created)
	assert.NotNil(t, runs[1].CompletedAt)

	limited := decode[[]RunDTO](t, srv.do(t, http.MethodGet, "/api/billing/runs?limit=1", nil))
	assert.Len(t, limited, 1)

	assert.Equal(t, http.StatusBadRequest, srv.do(t, http.MethodGet, "/api/billing/runs?limit=0", nil).Code)
}

func TestResetDatabase(t *testing.T) {
	srv := newTestServer(t)
	srv.loadScenario(t, "fallback-chain")
	srv.run(t, "2024-03-05")

	rec := srv.do(t, http.MethodPost, "/api/reset", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, srv.store.Payments())
	assert.Equal(t, http.StatusNotFound, srv.do(t, http.MethodGet, "/api/bookings/bk-monthly/payments", nil).Code)
}

func TestHealth(t *testing.T) {
	srv := newTestServer(t)

	rec := srv.do(t, http.MethodGet, "/healthz", nil)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
}

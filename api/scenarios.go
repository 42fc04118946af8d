/*
scenarios.go - Demo scenario loaders for testing and demonstrations

PURPOSE:

	Provides pre-built scenarios that populate the database with bookings
	and inventory exercising specific billing behaviors. After loading,
	trigger a run on the scenario's suggested date:

	POST /api/billing/run
	{"date": "2024-02-29"}

AVAILABLE SCENARIOS:

	month-end:       Billing days 29-31 clamped to short months
	fallback-chain:  One booking per amount source (monthly, inventory, volume, none)
	mixed-portfolio: Cancelled, non-recurring and differently dated bookings

HOW SCENARIOS WORK:
 1. Reset database (clear all data)
 2. Create bookings
 3. Create inventory items where the scenario needs them

NOTE:

	Scenarios reset the database. Only use in development/demo environments.

SEE ALSO:
  - handlers.go: ResetDatabase handler
*/
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/shopspring/decimal"

	"github.com/MiniBodegas/Quarto-sub001/billing"
	"github.com/MiniBodegas/Quarto-sub001/store"
)

// =============================================================================
// SCENARIO DEFINITIONS
// =============================================================================

var scenarios = []ScenarioDTO{
	{
		ID:               "month-end",
		Name:             "Month End",
		Description:      "Bookings anchored on the 29th, 30th and 31st billed in a leap-year February",
		SuggestedRunDate: "2024-02-29",
	},
	{
		ID:               "fallback-chain",
		Name:             "Amount Fallback Chain",
		Description:      "Monthly amount, inventory total, volume pricing and a booking with no pricing data",
		SuggestedRunDate: "2024-03-05",
	},
	{
		ID:               "mixed-portfolio",
		Name:             "Mixed Portfolio",
		Description:      "Active, cancelled and one-off bookings with different billing days",
		SuggestedRunDate: "2024-03-15",
	},
}

var scenarioLoaders = map[string]func(ctx context.Context, st store.Store) error{
	"month-end":       loadMonthEndScenario,
	"fallback-chain":  loadFallbackChainScenario,
	"mixed-portfolio": loadMixedPortfolioScenario,
}

// ListScenarios returns available demo scenarios.
func (h *Handler) ListScenarios(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, scenarios)
}

// GetCurrentScenario returns the last loaded scenario id.
func (h *Handler) GetCurrentScenario(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	current := h.currentScenario
	h.mu.Unlock()

	writeJSON(w, http.StatusOK, map[string]string{"scenario_id": current})
}

// LoadScenario resets the database and loads the requested scenario.
func (h *Handler) LoadScenario(w http.ResponseWriter, r *http.Request) {
	var req LoadScenarioRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if err := h.validate.Struct(req); err != nil {
		writeError(w, http.StatusBadRequest, "scenario_id is required", err)
		return
	}

	loader, ok := scenarioLoaders[req.ScenarioID]
	if !ok {
		writeError(w, http.StatusBadRequest, "Unknown scenario", fmt.Errorf("scenario %q", req.ScenarioID))
		return
	}

	ctx := r.Context()
	if err := h.Store.Reset(ctx); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to reset database", err)
		return
	}
	if err := loader(ctx, h.Store); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to load scenario", err)
		return
	}

	h.mu.Lock()
	h.currentScenario = req.ScenarioID
	h.mu.Unlock()

	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "scenario_id": req.ScenarioID})
}

// =============================================================================
// SCENARIO LOADERS
// =============================================================================

func day(d int) *int { return &d }

func created(year int, month time.Month, d int) time.Time {
	return time.Date(year, month, d, 10, 0, 0, 0, time.UTC)
}

func saveBookings(ctx context.Context, st store.Store, bookings ...billing.Booking) error {
	for _, b := range bookings {
		if err := st.SaveBooking(ctx, b); err != nil {
			return fmt.Errorf("save booking %s: %w", b.ID, err)
		}
	}
	return nil
}

func loadMonthEndScenario(ctx context.Context, st store.Store) error {
	return saveBookings(ctx, st,
		billing.Booking{
			ID: "bk-anchor-31", CustomerID: "cust-ana", Status: billing.BookingActive, Recurring: true,
			AmountMonthly: decimal.NewFromInt(147000), CreatedAt: created(2024, time.January, 31),
		},
		billing.Booking{
			ID: "bk-day-30", CustomerID: "cust-luis", Status: billing.BookingActive, Recurring: true,
			BillingDay: day(30), AmountMonthly: decimal.NewFromInt(205000), CreatedAt: created(2023, time.November, 2),
		},
		billing.Booking{
			ID: "bk-day-29", CustomerID: "cust-marta", Status: billing.BookingActive, Recurring: true,
			BillingDay: day(29), AmountMonthly: decimal.NewFromInt(80900), CreatedAt: created(2023, time.December, 1),
		},
		billing.Booking{
			ID: "bk-day-28", CustomerID: "cust-jorge", Status: billing.BookingActive, Recurring: true,
			BillingDay: day(28), AmountMonthly: decimal.NewFromInt(80900), CreatedAt: created(2023, time.December, 1),
		},
	)
}

func loadFallbackChainScenario(ctx context.Context, st store.Store) error {
	err := saveBookings(ctx, st,
		billing.Booking{
			ID: "bk-monthly", CustomerID: "cust-ana", Status: billing.BookingActive, Recurring: true,
			BillingDay: day(5), AmountMonthly: decimal.NewFromInt(320000),
			TotalVolume: decimal.NewFromInt(5), CreatedAt: created(2024, time.January, 5),
		},
		billing.Booking{
			ID: "bk-inventory", CustomerID: "cust-luis", Status: billing.BookingActive, Recurring: true,
			BillingDay: day(5), TotalVolume: decimal.RequireFromString("2.5"), CreatedAt: created(2024, time.January, 5),
		},
		billing.Booking{
			ID: "bk-volume", CustomerID: "cust-marta", Status: billing.BookingActive, Recurring: true,
			BillingDay: day(5), TotalVolume: decimal.RequireFromString("3.5"), CreatedAt: created(2024, time.January, 5),
		},
		billing.Booking{
			ID: "bk-unpriced", CustomerID: "cust-jorge", Status: billing.BookingActive, Recurring: true,
			BillingDay: day(5), CreatedAt: created(2024, time.January, 5),
		},
	)
	if err != nil {
		return err
	}

	items := []billing.InventoryItem{
		{ID: "inv-sofa", BookingID: "bk-inventory", Name: "Sofa", Quantity: 1, MonthlyPrice: decimal.NewFromInt(45000)},
		{ID: "inv-boxes", BookingID: "bk-inventory", Name: "Moving box", Quantity: 12, MonthlyPrice: decimal.NewFromInt(3500)},
		{ID: "inv-bike", BookingID: "bk-inventory", Name: "Bicycle", Quantity: 2, Price: decimal.NewFromInt(15000)},
	}
	for _, item := range items {
		if err := st.SaveInventoryItem(ctx, item); err != nil {
			return fmt.Errorf("save inventory item %s: %w", item.ID, err)
		}
	}
	return nil
}

func loadMixedPortfolioScenario(ctx context.Context, st store.Store) error {
	return saveBookings(ctx, st,
		billing.Booking{
			ID: "bk-active-15", CustomerID: "cust-ana", Status: billing.BookingActive, Recurring: true,
			BillingDay: day(15), AmountMonthly: decimal.NewFromInt(147000), CreatedAt: created(2023, time.August, 15),
		},
		billing.Booking{
			ID: "bk-created-15", CustomerID: "cust-luis", Status: billing.BookingActive, Recurring: true,
			TotalVolume: decimal.NewFromInt(2), CreatedAt: created(2023, time.October, 15),
		},
		billing.Booking{
			ID: "bk-active-20", CustomerID: "cust-marta", Status: billing.BookingActive, Recurring: true,
			BillingDay: day(20), AmountMonthly: decimal.NewFromInt(205000), CreatedAt: created(2023, time.September, 20),
		},
		billing.Booking{
			ID: "bk-cancelled", CustomerID: "cust-jorge", Status: billing.BookingCancelled, Recurring: true,
			BillingDay: day(15), AmountMonthly: decimal.NewFromInt(80900), CreatedAt: created(2023, time.July, 15),
		},
		billing.Booking{
			ID: "bk-one-off", CustomerID: "cust-sofia", Status: billing.BookingActive, Recurring: false,
			BillingDay: day(15), AmountMonthly: decimal.NewFromInt(80900), CreatedAt: created(2024, time.March, 1),
		},
	)
}

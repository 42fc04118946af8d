/*
handlers.go - HTTP API handlers for storage pricing and recurring billing

PURPOSE:
  Exposes the pricing calculator and the billing generator via REST API.
  Handles HTTP request/response, JSON serialization, and delegates to
  domain logic.

ENDPOINTS:
  Pricing:
    GET    /api/pricing/tiers                 Tier table in use
    GET    /api/pricing/quote?volume=2.5      Monthly price for a volume

  Bookings:
    GET    /api/bookings/{id}/billing-day     Resolved billing day (?date=)
    GET    /api/bookings/{id}/payments        Recurring payments, newest first

  Billing:
    POST   /api/billing/run                   Manual run ({"date": "YYYY-MM-DD"})
    GET    /api/billing/runs                  Run history (?limit=)

  Scenarios:
    GET    /api/scenarios                     List demo scenarios
    POST   /api/scenarios/load                Load a demo scenario
    POST   /api/reset                         Clear all data

ERROR HANDLING:
  Errors are returned as JSON with appropriate HTTP status:
  - 400: Validation errors, invalid input
  - 404: Resource not found
  - 500: Internal errors
  A manual run that processed bookings returns 200 even when some bookings
  failed; the failures are listed in the body.

SECURITY NOTE:
  No authentication or authorization. Mount behind the admin gateway.

SEE ALSO:
  - dto.go: Request/response data structures
  - scenarios.go: Demo scenario loaders
  - server.go: Router setup and middleware
*/
package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/MiniBodegas/Quarto-sub001/billing"
	"github.com/MiniBodegas/Quarto-sub001/pricing"
	"github.com/MiniBodegas/Quarto-sub001/store"
)

const defaultRunsLimit = 20

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Store      store.Store
	Calculator *pricing.Calculator
	Runner     *billing.Runner
	Location   *time.Location
	Currency   string

	logger   *zap.Logger
	validate *validator.Validate

	mu              sync.Mutex
	currentScenario string
}

// NewHandler creates a new handler. loc defaults to UTC.
func NewHandler(st store.Store, calc *pricing.Calculator, runner *billing.Runner, loc *time.Location, currency string, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	if loc == nil {
		loc = time.UTC
	}
	return &Handler{
		Store:      st,
		Calculator: calc,
		Runner:     runner,
		Location:   loc,
		Currency:   currency,
		logger:     logger.Named("api"),
		validate:   validator.New(),
	}
}

// =============================================================================
// PRICING ENDPOINTS
// =============================================================================

func (h *Handler) ListTiers(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, toTierDTOs(h.Calculator.Tiers()))
}

// Quote prices ?volume= against the tier table.
func (h *Handler) Quote(w http.ResponseWriter, r *http.Request) {
	raw := r.URL.Query().Get("volume")
	if raw == "" {
		writeError(w, http.StatusBadRequest, "volume is required", nil)
		return
	}
	volume, err := decimal.NewFromString(raw)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid volume", err)
		return
	}

	writeJSON(w, http.StatusOK, QuoteDTO{
		Volume:       volume.String(),
		Price:        h.Calculator.Price(volume),
		Currency:     h.Currency,
		Extrapolated: volume.GreaterThan(h.Calculator.MaxVolume()),
	})
}

// =============================================================================
// BOOKING ENDPOINTS
// =============================================================================

// GetBillingDay resolves the billing day of a booking on ?date= (default today).
func (h *Handler) GetBillingDay(w http.ResponseWriter, r *http.Request) {
	booking, ok := h.loadBooking(w, r)
	if !ok {
		return
	}

	date := billing.Today(h.Location)
	if raw := r.URL.Query().Get("date"); raw != "" {
		d, err := billing.ParseDate(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid date (expected YYYY-MM-DD)", err)
			return
		}
		date = d
	}

	ref := billing.Reference(booking.ID, billing.PeriodOf(date))
	billed, err := h.Store.ExistsByReference(r.Context(), ref)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to check payment", err)
		return
	}

	writeJSON(w, http.StatusOK, BillingDayDTO{
		BookingID:  string(booking.ID),
		Date:       date.String(),
		BillingDay: billing.ResolvedBillingDay(*booking, date, h.Location),
		Due:        booking.BillsRecurring() && billing.IsDueToday(*booking, date, h.Location),
		Reference:  ref,
		Billed:     billed,
	})
}

func (h *Handler) ListBookingPayments(w http.ResponseWriter, r *http.Request) {
	booking, ok := h.loadBooking(w, r)
	if !ok {
		return
	}

	payments, err := h.Store.ListPaymentsByBooking(r.Context(), booking.ID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list payments", err)
		return
	}
	writeJSON(w, http.StatusOK, toPaymentDTOs(payments))
}

func (h *Handler) loadBooking(w http.ResponseWriter, r *http.Request) (*billing.Booking, bool) {
	id := billing.BookingID(chi.URLParam(r, "id"))
	booking, err := h.Store.GetBooking(r.Context(), id)
	if err != nil {
		if billing.IsNotFound(err) {
			writeError(w, http.StatusNotFound, "Booking not found", nil)
			return nil, false
		}
		writeError(w, http.StatusInternalServerError, "Failed to get booking", err)
		return nil, false
	}
	return booking, true
}

// =============================================================================
// BILLING ENDPOINTS
// =============================================================================

// TriggerBillingRun runs the generator now. An empty body bills today.
func (h *Handler) TriggerBillingRun(w http.ResponseWriter, r *http.Request) {
	var req TriggerRunRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if err := h.validate.Struct(req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid date (expected YYYY-MM-DD)", err)
		return
	}

	date := billing.Today(h.Location)
	if req.Date != "" {
		d, err := billing.ParseDate(req.Date)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid date (expected YYYY-MM-DD)", err)
			return
		}
		date = d
	}

	record, result, err := h.Runner.Run(r.Context(), date, billing.TriggerManual)
	if err != nil {
		h.logger.Error("manual billing run failed", zap.Stringer("date", date), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "Billing run failed", err)
		return
	}

	writeJSON(w, http.StatusOK, toRunResultDTO(record, result))
}

func (h *Handler) ListBillingRuns(w http.ResponseWriter, r *http.Request) {
	limit := defaultRunsLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer", err)
			return
		}
		limit = n
	}

	runs, err := h.Store.ListRuns(r.Context(), limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list billing runs", err)
		return
	}

	dtos := make([]RunDTO, len(runs))
	for i, run := range runs {
		dtos[i] = toRunDTO(run)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// =============================================================================
// ADMIN
// =============================================================================

// ResetDatabase clears all data.
func (h *Handler) ResetDatabase(w http.ResponseWriter, r *http.Request) {
	if err := h.Store.Reset(r.Context()); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to reset database", err)
		return
	}

	h.mu.Lock()
	h.currentScenario = ""
	h.mu.Unlock()

	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	if err := h.Store.Ping(r.Context()); err != nil {
		writeError(w, http.StatusServiceUnavailable, "Database unavailable", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// =============================================================================
// HELPERS
// =============================================================================

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}

/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication, decoupled from the
  billing and pricing domain types.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients

VALIDATION:
  Request types carry validator struct tags, checked in handlers before any
  domain call.

SEE ALSO:
  - handlers.go: Uses these types
*/
package api

import (
	"time"

	"github.com/MiniBodegas/Quarto-sub001/billing"
	"github.com/MiniBodegas/Quarto-sub001/pricing"
)

// =============================================================================
// PRICING
// =============================================================================

type TierDTO struct {
	Volume string `json:"volume"`
	Price  int64  `json:"price"`
}

type QuoteDTO struct {
	Volume       string `json:"volume"`
	Price        int64  `json:"price"`
	Currency     string `json:"currency"`
	Extrapolated bool   `json:"extrapolated"`
}

func toTierDTOs(tiers []pricing.Tier) []TierDTO {
	dtos := make([]TierDTO, len(tiers))
	for i, t := range tiers {
		dtos[i] = TierDTO{Volume: t.Volume.String(), Price: t.Price}
	}
	return dtos
}

// =============================================================================
// BOOKINGS
// =============================================================================

type BillingDayDTO struct {
	BookingID  string `json:"booking_id"`
	Date       string `json:"date"`
	BillingDay int    `json:"billing_day"`
	Due        bool   `json:"due"`
	Reference  string `json:"reference"`
	Billed     bool   `json:"billed"`
}

type PaymentDTO struct {
	ID            string    `json:"id"`
	BookingID     string    `json:"booking_id"`
	Reference     string    `json:"reference"`
	Period        string    `json:"period"`
	Status        string    `json:"status"`
	AmountInCents int64     `json:"amount_in_cents"`
	Currency      string    `json:"currency"`
	PaymentMethod string    `json:"payment_method"`
	CreatedAt     time.Time `json:"created_at"`
}

func toPaymentDTO(p billing.Payment) PaymentDTO {
	return PaymentDTO{
		ID:            string(p.ID),
		BookingID:     string(p.BookingID),
		Reference:     p.Reference,
		Period:        p.Period.String(),
		Status:        string(p.Status),
		AmountInCents: p.AmountInCents,
		Currency:      p.Currency,
		PaymentMethod: p.PaymentMethod,
		CreatedAt:     p.CreatedAt,
	}
}

func toPaymentDTOs(payments []billing.Payment) []PaymentDTO {
	dtos := make([]PaymentDTO, len(payments))
	for i, p := range payments {
		dtos[i] = toPaymentDTO(p)
	}
	return dtos
}

// =============================================================================
// BILLING RUNS
// =============================================================================

// TriggerRunRequest optionally overrides the run date (YYYY-MM-DD).
type TriggerRunRequest struct {
	Date string `json:"date" validate:"omitempty,datetime=2006-01-02"`
}

type RunDTO struct {
	ID          string     `json:"id"`
	RunDate     string     `json:"run_date"`
	Trigger     string     `json:"trigger"`
	Status      string     `json:"status"`
	Created     int        `json:"created"`
	Skipped     int        `json:"skipped"`
	Failed      int        `json:"failed"`
	Error       string     `json:"error,omitempty"`
	StartedAt   time.Time  `json:"started_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

type FailureDTO struct {
	BookingID string `json:"booking_id"`
	Reference string `json:"reference,omitempty"`
	Stage     string `json:"stage"`
	Error     string `json:"error"`
}

// RunResultDTO is returned by a manual run.
type RunResultDTO struct {
	Run         RunDTO         `json:"run"`
	Payments    []PaymentDTO   `json:"payments"`
	SkipReasons map[string]int `json:"skip_reasons"`
	Failures    []FailureDTO   `json:"failures"`
}

func toRunDTO(r billing.RunRecord) RunDTO {
	return RunDTO{
		ID:          r.ID,
		RunDate:     r.RunDate.String(),
		Trigger:     r.Trigger,
		Status:      string(r.Status),
		Created:     r.Created,
		Skipped:     r.Skipped,
		Failed:      r.Failed,
		Error:       r.Error,
		StartedAt:   r.StartedAt,
		CompletedAt: r.CompletedAt,
	}
}

func toRunResultDTO(record billing.RunRecord, result billing.RunResult) RunResultDTO {
	dto := RunResultDTO{
		Run:         toRunDTO(record),
		Payments:    toPaymentDTOs(result.Created),
		SkipReasons: make(map[string]int, len(result.SkipReasons)),
		Failures:    make([]FailureDTO, 0, len(result.Failures)),
	}
	for reason, n := range result.SkipReasons {
		dto.SkipReasons[string(reason)] = n
	}
	for _, f := range result.Failures {
		dto.Failures = append(dto.Failures, FailureDTO{
			BookingID: string(f.BookingID),
			Reference: f.Reference,
			Stage:     string(f.Stage),
			Error:     f.Err.Error(),
		})
	}
	return dto
}

// =============================================================================
// SCENARIOS
// =============================================================================

type ScenarioDTO struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	// SuggestedRunDate is a date on which running billing shows the scenario off.
	SuggestedRunDate string `json:"suggested_run_date"`
}

type LoadScenarioRequest struct {
	ScenarioID string `json:"scenario_id" validate:"required"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

/*
Package billing provides the recurring billing engine for storage bookings.

PURPOSE:
  Every active storage booking with a recurring charge is billed once per
  calendar month on its billing day. This package decides when a booking is
  due, how much it owes, and records the PENDING payment exactly once per
  booking per billing period.

KEY CONCEPTS IN THIS FILE (types.go):
  - Booking: A customer's storage reservation (read-only here)
  - InventoryItem: Priced items stored under a booking (pricing fallback)
  - Payment: The record created by the generator, keyed by Reference
  - PaymentStatus: PENDING -> APPROVED | DECLINED | VOIDED

DESIGN PRINCIPLES:
  1. Precision: Money and volumes use decimal.Decimal, payments store integer cents
  2. Create-only: The generator never updates an existing Payment
  3. Storage-enforced idempotency: Reference is UNIQUE in every store

SEE ALSO:
  - schedule.go: Billing day resolution
  - amount.go: Amount fallback chain
  - generator.go: The billing run
*/
package billing

import (
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// IDENTIFIERS
// =============================================================================

type BookingID string
type PaymentID string

// =============================================================================
// BOOKING - Read-only input of the billing run
// =============================================================================

type BookingStatus string

const (
	BookingActive    BookingStatus = "active"
	BookingCancelled BookingStatus = "cancelled"
)

// Booking is a customer's storage-space reservation.
//
// AmountMonthly of zero means "derive from inventory or volume".
// BillingDay is optional; nil means "use the creation day".
type Booking struct {
	ID            BookingID
	CustomerID    string
	Status        BookingStatus
	Recurring     bool
	BillingDay    *int
	AmountMonthly decimal.Decimal
	TotalVolume   decimal.Decimal // cubic meters
	CreatedAt     time.Time
}

// BillsRecurring reports whether the booking takes part in recurring billing.
func (b Booking) BillsRecurring() bool {
	return b.Recurring && b.Status == BookingActive
}

// =============================================================================
// INVENTORY - Pricing fallback source
// =============================================================================

type InventoryItem struct {
	ID           string
	BookingID    BookingID
	Name         string
	Quantity     int
	MonthlyPrice decimal.Decimal
	Price        decimal.Decimal
}

// UnitPrice returns MonthlyPrice when set, otherwise Price.
func (i InventoryItem) UnitPrice() decimal.Decimal {
	if i.MonthlyPrice.IsPositive() {
		return i.MonthlyPrice
	}
	return i.Price
}

func (i InventoryItem) Subtotal() decimal.Decimal {
	return i.UnitPrice().Mul(decimal.NewFromInt(int64(i.Quantity)))
}

// =============================================================================
// PAYMENT - Created PENDING, transitioned by the gateway webhook
// =============================================================================

type PaymentStatus string

const (
	PaymentPending  PaymentStatus = "PENDING"
	PaymentApproved PaymentStatus = "APPROVED"
	PaymentDeclined PaymentStatus = "DECLINED"
	PaymentVoided   PaymentStatus = "VOIDED"
)

// CanTransitionTo encodes PENDING -> {APPROVED, DECLINED, VOIDED}.
// Terminal states never move again.
func (s PaymentStatus) CanTransitionTo(next PaymentStatus) bool {
	if s != PaymentPending {
		return false
	}
	switch next {
	case PaymentApproved, PaymentDeclined, PaymentVoided:
		return true
	}
	return false
}

func (s PaymentStatus) IsTerminal() bool {
	return s == PaymentApproved || s == PaymentDeclined || s == PaymentVoided
}

type Payment struct {
	ID            PaymentID
	BookingID     BookingID
	Reference     string
	Period        Period
	Status        PaymentStatus
	AmountInCents int64
	Currency      string
	PaymentMethod string
	CreatedAt     time.Time
}

var hundred = decimal.NewFromInt(100)

// ToCents converts a currency amount to integer sub-units, rounding half away
// from zero. Negative amounts clamp to 0.
func ToCents(amount decimal.Decimal) int64 {
	if amount.IsNegative() {
		return 0
	}
	return amount.Mul(hundred).Round(0).IntPart()
}
